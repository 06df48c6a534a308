package app

import (
	"context"
	"testing"
	"time"

	"tutorchat/pkg/domain"
	"tutorchat/pkg/store"
)

func pendingAttachment(id string) domain.Attachment {
	now := time.Now().UTC()
	return domain.Attachment{
		ID:              id,
		OwnerID:         "user-1",
		ConversationID:  "conv-1",
		FileName:        id + ".txt",
		StoragePath:     "conv-1/" + id,
		ExtractionState: domain.ExtractionPending,
		CreatedAt:       now,
		UpdatedAt:       now,
	}
}

func TestWaitReadyReturnsImmediatelyWhenAllTerminal(t *testing.T) {
	m := store.NewMemoryStore()
	_ = m.Create(pendingAttachment("a1"))
	_, _ = m.SetTerminalState("a1", domain.ExtractionSucceeded, "text", domain.ExtractionMeta{})

	start := time.Now()
	attachments, timedOut, err := WaitReady(context.Background(), m, []string{"a1"}, time.Second, 100*time.Millisecond)
	if err != nil {
		t.Fatalf("WaitReady: %v", err)
	}
	if timedOut {
		t.Fatalf("timedOut = true, want false")
	}
	if len(attachments) != 1 || attachments[0].ID != "a1" {
		t.Fatalf("attachments = %+v, want [a1]", attachments)
	}
	if elapsed := time.Since(start); elapsed > 500*time.Millisecond {
		t.Fatalf("WaitReady took %v, should return without polling", elapsed)
	}
}

func TestWaitReadyBoundedOnDeadline(t *testing.T) {
	m := store.NewMemoryStore()
	_ = m.Create(pendingAttachment("a1"))

	deadline := 200 * time.Millisecond
	interval := 50 * time.Millisecond
	start := time.Now()
	attachments, timedOut, err := WaitReady(context.Background(), m, []string{"a1"}, deadline, interval)
	if err != nil {
		t.Fatalf("WaitReady: %v", err)
	}
	if !timedOut {
		t.Fatalf("timedOut = false, want true")
	}
	if len(attachments) != 1 || attachments[0].ExtractionState != domain.ExtractionPending {
		t.Fatalf("attachments = %+v, want pending snapshot", attachments)
	}
	if elapsed := time.Since(start); elapsed > deadline+interval+100*time.Millisecond {
		t.Fatalf("WaitReady took %v, want <= deadline + one interval", elapsed)
	}
}

func TestWaitReadyPicksUpLateTransition(t *testing.T) {
	m := store.NewMemoryStore()
	_ = m.Create(pendingAttachment("a1"))
	_ = m.Create(pendingAttachment("a2"))
	_, _ = m.SetTerminalState("a1", domain.ExtractionSucceeded, "text", domain.ExtractionMeta{})

	go func() {
		time.Sleep(80 * time.Millisecond)
		_, _ = m.SetTerminalState("a2", domain.ExtractionFailed, timeoutSentinel, domain.ExtractionMeta{})
	}()

	attachments, timedOut, err := WaitReady(context.Background(), m, []string{"a1", "a2"}, 2*time.Second, 20*time.Millisecond)
	if err != nil {
		t.Fatalf("WaitReady: %v", err)
	}
	if timedOut {
		t.Fatalf("timedOut = true, want false after late transition")
	}
	for _, att := range attachments {
		if !att.ExtractionState.Terminal() {
			t.Fatalf("attachment %s still %s", att.ID, att.ExtractionState)
		}
	}
}

func TestWaitReadyEmptySet(t *testing.T) {
	attachments, timedOut, err := WaitReady(context.Background(), store.NewMemoryStore(), nil, time.Second, 10*time.Millisecond)
	if err != nil || timedOut || attachments != nil {
		t.Fatalf("WaitReady(empty) = %v, %v, %v, want nil, false, nil", attachments, timedOut, err)
	}
}

func TestWaitReadyMissingIDTimesOutInsteadOfError(t *testing.T) {
	m := store.NewMemoryStore()
	_, timedOut, err := WaitReady(context.Background(), m, []string{"ghost"}, 100*time.Millisecond, 20*time.Millisecond)
	if err != nil {
		t.Fatalf("WaitReady: %v", err)
	}
	if !timedOut {
		t.Fatalf("timedOut = false, want true for unknown id")
	}
}
