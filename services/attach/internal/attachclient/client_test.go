package attachclient

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"tutorchat/pkg/domain"
)

func TestWaitReadyPollsUntilReady(t *testing.T) {
	var calls int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/attachments/ready" {
			http.NotFound(w, r)
			return
		}
		n := atomic.AddInt32(&calls, 1)
		_ = json.NewEncoder(w).Encode(readinessResponse{
			Ready:       n >= 3,
			Attachments: []domain.Attachment{{ID: "att-1"}},
		})
	}))
	defer srv.Close()

	client := NewClient(srv.URL).WithPolling(10*time.Millisecond, time.Second)
	ready, err := client.WaitReady(context.Background(), []string{"att-1"})
	if err != nil {
		t.Fatalf("WaitReady: %v", err)
	}
	if !ready {
		t.Fatalf("ready = false, want true")
	}
	if got := atomic.LoadInt32(&calls); got < 3 {
		t.Fatalf("calls = %d, want >= 3", got)
	}
}

func TestWaitReadyDeadlineIsNotAnError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		_ = json.NewEncoder(w).Encode(readinessResponse{Ready: false})
	}))
	defer srv.Close()

	client := NewClient(srv.URL).WithPolling(10*time.Millisecond, 100*time.Millisecond)
	start := time.Now()
	ready, err := client.WaitReady(context.Background(), []string{"att-1"})
	if err != nil {
		t.Fatalf("WaitReady: %v", err)
	}
	if ready {
		t.Fatalf("ready = true, want false")
	}
	if elapsed := time.Since(start); elapsed > time.Second {
		t.Fatalf("WaitReady ran %v, want bounded by deadline", elapsed)
	}
}

func TestWaitReadyEmptySet(t *testing.T) {
	client := NewClient("http://localhost:0")
	ready, err := client.WaitReady(context.Background(), nil)
	if err != nil {
		t.Fatalf("WaitReady: %v", err)
	}
	if !ready {
		t.Fatalf("ready = false, want true for empty set")
	}
}

func TestSendMessagePollsBeforePosting(t *testing.T) {
	var readyCalls, messageCalls int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/attachments/ready":
			atomic.AddInt32(&readyCalls, 1)
			_ = json.NewEncoder(w).Encode(readinessResponse{Ready: true})
		case "/messages":
			atomic.AddInt32(&messageCalls, 1)
			var req struct {
				Text          string   `json:"text"`
				AttachmentIDs []string `json:"attachmentIds"`
			}
			_ = json.NewDecoder(r.Body).Decode(&req)
			w.WriteHeader(http.StatusCreated)
			_ = json.NewEncoder(w).Encode(messageResponse{
				Message: domain.Message{ID: "msg-1", Content: req.Text + "\n\n[File: notes.txt]\nbody"},
				Content: req.Text + "\n\n[File: notes.txt]\nbody",
			})
		default:
			http.NotFound(w, r)
		}
	}))
	defer srv.Close()

	client := NewClient(srv.URL).WithPolling(10*time.Millisecond, time.Second)
	msg, content, err := client.SendMessage(context.Background(), "explain", []string{"att-1"})
	if err != nil {
		t.Fatalf("SendMessage: %v", err)
	}
	if atomic.LoadInt32(&readyCalls) == 0 {
		t.Fatalf("readiness was never polled before posting")
	}
	if got := atomic.LoadInt32(&messageCalls); got != 1 {
		t.Fatalf("messageCalls = %d, want 1", got)
	}
	if msg.ID != "msg-1" || content == "" {
		t.Fatalf("unexpected response: %+v %q", msg, content)
	}
}

func TestAPIErrorSurfacesServerMessage(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusBadRequest)
		_ = json.NewEncoder(w).Encode(map[string]string{"error": "ids query parameter required"})
	}))
	defer srv.Close()

	_, err := NewClient(srv.URL).GetAttachments(context.Background(), []string{"x"})
	apiErr, ok := err.(*APIError)
	if !ok {
		t.Fatalf("error = %v, want *APIError", err)
	}
	if apiErr.Status != http.StatusBadRequest || apiErr.Message != "ids query parameter required" {
		t.Fatalf("APIError = %+v", apiErr)
	}
}
