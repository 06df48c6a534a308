package app

import (
	"context"
	"time"

	"tutorchat/pkg/domain"
	"tutorchat/pkg/store"
)

// WaitReady blocks until every attachment in ids has left pending, or the
// deadline elapses, whichever comes first. It polls the full set at a fixed
// interval (extraction latency is short and bounded, so no backoff) and
// returns the final snapshot plus whether the deadline was hit. A timeout is
// not an error: callers degrade gracefully with whatever is terminal.
func WaitReady(ctx context.Context, recordStore store.AttachmentStore, ids []string, deadline, interval time.Duration) ([]domain.Attachment, bool, error) {
	if len(ids) == 0 {
		return nil, false, nil
	}
	if interval <= 0 {
		interval = 500 * time.Millisecond
	}

	waitCtx, cancel := context.WithTimeout(ctx, deadline)
	defer cancel()

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		attachments, err := recordStore.GetMany(ids)
		if err != nil {
			return nil, false, err
		}
		if allTerminal(attachments, len(ids)) {
			return attachments, false, nil
		}
		select {
		case <-waitCtx.Done():
			return attachments, true, nil
		case <-ticker.C:
		}
	}
}

func allTerminal(attachments []domain.Attachment, want int) bool {
	if len(attachments) < want {
		// Missing records never become terminal; keep waiting until the
		// deadline in case creation is racing the poll.
		return false
	}
	for _, att := range attachments {
		if !att.ExtractionState.Terminal() {
			return false
		}
	}
	return true
}
