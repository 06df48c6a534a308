// Package app implements the attachment ingestion pipeline: upload, format
// classification, text extraction, readiness polling, and message context
// composition.
package app

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/singleflight"
	"tutorchat/pkg/domain"
	"tutorchat/pkg/events"
	"tutorchat/pkg/queue"
	"tutorchat/pkg/storage"
	"tutorchat/pkg/store"
)

// Defaults for the tunables whose original values have no documented
// rationale; they are configurable rather than hard-coded.
const (
	DefaultMinTextChars       = 10
	DefaultPollInterval       = 500 * time.Millisecond
	DefaultServerPollDeadline = 5 * time.Second
	DefaultClientPollDeadline = 2 * time.Second
	DefaultMaxUploadBytes     = 30 << 20
	DefaultExtractTimeout     = 60 * time.Second
	DefaultURLExpiry          = 15 * time.Minute
)

// Config holds runtime dependencies and tunables.
type Config struct {
	Store              store.AttachmentStore
	Blobs              storage.BlobStore
	Queue              *queue.RedisJobQueue // optional; goroutine trigger when nil
	Events             *events.Publisher    // optional
	Logger             *slog.Logger
	PDFWorkerPath      string
	ExtractTimeout     time.Duration
	MinTextChars       int
	PollInterval       time.Duration
	ServerPollDeadline time.Duration
	MaxUploadBytes     int64
	OCRCommand         string
	URLExpiry          time.Duration
}

// App wires the ingestion pipeline together.
type App struct {
	store              store.AttachmentStore
	blobs              storage.BlobStore
	queue              *queue.RedisJobQueue
	events             *events.Publisher
	logger             *slog.Logger
	pdfWorker          *pdfWorker
	dispatchGroup      singleflight.Group
	minTextChars       int
	pollInterval       time.Duration
	serverPollDeadline time.Duration
	maxUploadBytes     int64
	ocrCommand         string
	urlExpiry          time.Duration
}

// New constructs the attach application.
func New(cfg Config) (*App, error) {
	if cfg.Store == nil {
		return nil, fmt.Errorf("attachment store required")
	}
	if cfg.Blobs == nil {
		return nil, fmt.Errorf("blob store required")
	}
	if strings.TrimSpace(cfg.PDFWorkerPath) == "" {
		return nil, fmt.Errorf("pdf worker path required")
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	minTextChars := cfg.MinTextChars
	if minTextChars <= 0 {
		minTextChars = DefaultMinTextChars
	}
	pollInterval := cfg.PollInterval
	if pollInterval <= 0 {
		pollInterval = DefaultPollInterval
	}
	serverPollDeadline := cfg.ServerPollDeadline
	if serverPollDeadline <= 0 {
		serverPollDeadline = DefaultServerPollDeadline
	}
	maxUploadBytes := cfg.MaxUploadBytes
	if maxUploadBytes <= 0 {
		maxUploadBytes = DefaultMaxUploadBytes
	}
	extractTimeout := cfg.ExtractTimeout
	if extractTimeout <= 0 {
		extractTimeout = DefaultExtractTimeout
	}
	urlExpiry := cfg.URLExpiry
	if urlExpiry <= 0 {
		urlExpiry = DefaultURLExpiry
	}
	return &App{
		store:              cfg.Store,
		blobs:              cfg.Blobs,
		queue:              cfg.Queue,
		events:             cfg.Events,
		logger:             logger,
		pdfWorker:          newPDFWorker(cfg.PDFWorkerPath, extractTimeout, logger),
		minTextChars:       minTextChars,
		pollInterval:       pollInterval,
		serverPollDeadline: serverPollDeadline,
		maxUploadBytes:     maxUploadBytes,
		ocrCommand:         cfg.OCRCommand,
		urlExpiry:          urlExpiry,
	}, nil
}

// MaxUploadBytes exposes the upload size ceiling for the HTTP layer.
func (a *App) MaxUploadBytes() int64 { return a.maxUploadBytes }

// UploadInput carries one uploaded file.
type UploadInput struct {
	OwnerID        string
	ConversationID string
	FileName       string
	MIMEType       string
	Size           int64
	Content        io.Reader
}

// Upload persists the blob and the pending attachment record, then triggers
// extraction asynchronously. The uploader never waits for extraction.
func (a *App) Upload(ctx context.Context, in UploadInput) (domain.Attachment, string, error) {
	if strings.TrimSpace(in.OwnerID) == "" {
		return domain.Attachment{}, "", fmt.Errorf("ownerId required")
	}
	if strings.TrimSpace(in.ConversationID) == "" {
		return domain.Attachment{}, "", fmt.Errorf("conversationId required")
	}
	if strings.TrimSpace(in.FileName) == "" {
		return domain.Attachment{}, "", fmt.Errorf("fileName required")
	}
	if in.Size > a.maxUploadBytes {
		return domain.Attachment{}, "", fmt.Errorf("file exceeds %d byte limit", a.maxUploadBytes)
	}

	id := uuid.NewString()
	storagePath := fmt.Sprintf("%s/%s/%s", in.ConversationID, id, in.FileName)
	if err := a.blobs.Put(ctx, storagePath, in.Content, in.Size, in.MIMEType); err != nil {
		return domain.Attachment{}, "", fmt.Errorf("store blob: %w", err)
	}

	now := time.Now().UTC()
	att := domain.Attachment{
		ID:               id,
		OwnerID:          in.OwnerID,
		ConversationID:   in.ConversationID,
		FileName:         in.FileName,
		DeclaredMIMEType: in.MIMEType,
		ByteSize:         in.Size,
		StoragePath:      storagePath,
		ExtractionState:  domain.ExtractionPending,
		CreatedAt:        now,
		UpdatedAt:        now,
	}
	if err := a.store.Create(att); err != nil {
		return domain.Attachment{}, "", fmt.Errorf("create attachment record: %w", err)
	}

	a.triggerExtraction(ctx, id)

	url, err := a.blobs.PublicURL(ctx, storagePath, a.urlExpiry)
	if err != nil {
		// The attachment is ingested either way; the URL is a convenience.
		a.logger.Warn("presign attachment url", "attachment_id", id, "error", err)
		url = ""
	}
	return att, url, nil
}

// triggerExtraction schedules the dispatcher, via the Redis queue when
// configured, otherwise as a fire-and-forget goroutine.
func (a *App) triggerExtraction(ctx context.Context, attachmentID string) {
	if a.queue != nil {
		if _, err := a.queue.Enqueue(ctx, attachmentID); err == nil {
			return
		} else {
			a.logger.Warn("enqueue extraction, falling back to inline trigger", "attachment_id", attachmentID, "error", err)
		}
	}
	go func() {
		if _, err := a.Dispatch(context.Background(), attachmentID); err != nil {
			a.logger.Error("background extraction", "attachment_id", attachmentID, "error", err)
		}
	}()
}

// StartQueueConsumers begins consuming extraction triggers from the queue.
func (a *App) StartQueueConsumers(ctx context.Context, concurrency int) {
	if a.queue == nil {
		return
	}
	a.queue.Start(ctx, concurrency, func(ctx context.Context, job queue.JobStatus) error {
		_, err := a.Dispatch(ctx, job.AttachmentID)
		return err
	})
}

// GetAttachments returns records for the given ids in order.
func (a *App) GetAttachments(ids []string) ([]domain.Attachment, error) {
	return a.store.GetMany(ids)
}

// ComposeMessage is the server-side composition path: it waits (bounded) for
// the referenced attachments to become terminal, links them to the message,
// and returns the message text with the attachment context appended. A poll
// timeout degrades to "processing in progress" blocks; it never fails the
// request.
func (a *App) ComposeMessage(ctx context.Context, messageText string, attachmentIDs []string) (string, domain.Message, error) {
	messageID := uuid.NewString()
	attachments, timedOut, err := WaitReady(ctx, a.store, attachmentIDs, a.serverPollDeadline, a.pollInterval)
	if err != nil {
		return "", domain.Message{}, fmt.Errorf("wait for attachments: %w", err)
	}
	if timedOut {
		a.logger.Info("composition proceeding with pending attachments", "message_id", messageID, "attachments", len(attachmentIDs))
	}
	for _, att := range attachments {
		if err := a.store.LinkToMessage(att.ID, messageID); err != nil {
			return "", domain.Message{}, fmt.Errorf("link attachment %s: %w", att.ID, err)
		}
	}

	content := messageText
	if block := ComposeContext(attachments); block != "" {
		content = messageText + "\n\n" + block
	}
	msg := domain.Message{
		ID:        messageID,
		Role:      "user",
		Content:   content,
		CreatedAt: time.Now().UTC(),
	}
	if len(attachments) > 0 {
		msg.ConversationID = attachments[0].ConversationID
	}
	return content, msg, nil
}

// DeleteConversation cascades deletion: blobs first, then the child
// attachment records.
func (a *App) DeleteConversation(ctx context.Context, conversationID string) error {
	attachments, err := a.store.ListByConversation(conversationID)
	if err != nil {
		return fmt.Errorf("list conversation attachments: %w", err)
	}
	for _, att := range attachments {
		if err := a.blobs.Delete(ctx, att.StoragePath); err != nil {
			a.logger.Warn("delete attachment blob", "attachment_id", att.ID, "error", err)
		}
	}
	if err := a.store.DeleteByConversation(conversationID); err != nil {
		return fmt.Errorf("delete conversation attachments: %w", err)
	}
	return nil
}

// DeleteOwner cascades whole-account deletion: every attachment the owner
// ever uploaded, blobs first, then the records.
func (a *App) DeleteOwner(ctx context.Context, ownerID string) error {
	attachments, err := a.store.ListByOwner(ownerID)
	if err != nil {
		return fmt.Errorf("list owner attachments: %w", err)
	}
	for _, att := range attachments {
		if err := a.blobs.Delete(ctx, att.StoragePath); err != nil {
			a.logger.Warn("delete attachment blob", "attachment_id", att.ID, "error", err)
		}
	}
	if err := a.store.DeleteByOwner(ownerID); err != nil {
		return fmt.Errorf("delete owner attachments: %w", err)
	}
	return nil
}
