package app

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/exec"
	"strings"
	"time"

	"golang.org/x/sync/errgroup"
)

// errWorkerTimeout marks a subprocess killed at the duration ceiling. The
// dispatcher maps it to a failed state with a timeout sentinel instead of
// leaving the attachment pending forever.
var errWorkerTimeout = errors.New("pdf worker timed out")

// pdfWorkerResult is the worker's decoded stdout payload.
type pdfWorkerResult struct {
	Text string `json:"text"`
	Meta struct {
		NumPages int    `json:"numPages"`
		Strategy string `json:"strategy"`
	} `json:"meta"`
}

type pdfWorkerError struct {
	Error string `json:"error"`
}

// pdfWorker spawns the isolated extraction subprocess and enforces the
// resource discipline around it: private temp file removed on every exit
// path, size-capped output streams, and a hard duration ceiling.
type pdfWorker struct {
	binaryPath  string
	timeout     time.Duration
	stdoutLimit int64
	stderrLimit int64
	logger      *slog.Logger
}

func newPDFWorker(binaryPath string, timeout time.Duration, logger *slog.Logger) *pdfWorker {
	if timeout <= 0 {
		timeout = 60 * time.Second
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &pdfWorker{
		binaryPath:  binaryPath,
		timeout:     timeout,
		stdoutLimit: 32 << 20,
		stderrLimit: 1 << 20,
		logger:      logger,
	}
}

// Extract writes the PDF bytes to a temp file, runs the worker on it, and
// decodes the single-line JSON result.
func (w *pdfWorker) Extract(ctx context.Context, data []byte) (pdfWorkerResult, error) {
	tmpFile, err := os.CreateTemp("", "tutorchat-pdf-*.pdf")
	if err != nil {
		return pdfWorkerResult{}, fmt.Errorf("create temp file: %w", err)
	}
	tmpPath := tmpFile.Name()
	defer os.Remove(tmpPath)
	if _, err := tmpFile.Write(data); err != nil {
		tmpFile.Close()
		return pdfWorkerResult{}, fmt.Errorf("write temp file: %w", err)
	}
	if err := tmpFile.Close(); err != nil {
		return pdfWorkerResult{}, fmt.Errorf("close temp file: %w", err)
	}

	runCtx, cancel := context.WithTimeout(ctx, w.timeout)
	defer cancel()

	cmd := exec.CommandContext(runCtx, w.binaryPath, tmpPath)
	stdoutPipe, err := cmd.StdoutPipe()
	if err != nil {
		return pdfWorkerResult{}, fmt.Errorf("stdout pipe: %w", err)
	}
	stderrPipe, err := cmd.StderrPipe()
	if err != nil {
		return pdfWorkerResult{}, fmt.Errorf("stderr pipe: %w", err)
	}
	if err := cmd.Start(); err != nil {
		return pdfWorkerResult{}, fmt.Errorf("spawn pdf worker: %w", err)
	}

	var stdout, stderr []byte
	group := new(errgroup.Group)
	group.Go(func() error {
		var readErr error
		stdout, readErr = readCapped(stdoutPipe, w.stdoutLimit)
		return readErr
	})
	group.Go(func() error {
		var readErr error
		stderr, readErr = readCapped(stderrPipe, w.stderrLimit)
		return readErr
	})
	readErr := group.Wait()
	waitErr := cmd.Wait()

	if runCtx.Err() == context.DeadlineExceeded {
		return pdfWorkerResult{}, errWorkerTimeout
	}
	if readErr != nil {
		// Oversized output is a failure of this extraction, not a crash.
		return pdfWorkerResult{}, readErr
	}
	if waitErr != nil {
		reason := workerErrorReason(stderr)
		w.logger.Debug("pdf worker failed", "reason", reason)
		return pdfWorkerResult{}, fmt.Errorf("pdf worker: %s", reason)
	}

	var result pdfWorkerResult
	if err := json.Unmarshal(bytes.TrimSpace(stdout), &result); err != nil {
		return pdfWorkerResult{}, fmt.Errorf("decode worker output: %w", err)
	}
	return result, nil
}

// readCapped reads at most limit bytes; anything beyond is a failure so a
// runaway worker cannot grow the parent's memory unboundedly.
func readCapped(r io.Reader, limit int64) ([]byte, error) {
	data, err := io.ReadAll(io.LimitReader(r, limit+1))
	if err != nil {
		return nil, fmt.Errorf("read worker stream: %w", err)
	}
	if int64(len(data)) > limit {
		// Drain the remainder so the child is not blocked on a full pipe.
		_, _ = io.Copy(io.Discard, r)
		return nil, fmt.Errorf("worker output exceeded %d byte cap", limit)
	}
	return data, nil
}

func workerErrorReason(stderr []byte) string {
	var workerErr pdfWorkerError
	if err := json.Unmarshal(bytes.TrimSpace(stderr), &workerErr); err == nil && workerErr.Error != "" {
		return workerErr.Error
	}
	if reason := strings.TrimSpace(string(stderr)); reason != "" {
		if len(reason) > 500 {
			reason = reason[:500]
		}
		return reason
	}
	return "worker exited abnormally"
}
