package server

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"runtime"
	"strings"
	"testing"
	"time"

	"tutorchat/internal/servicetoken"
	"tutorchat/pkg/domain"
	"tutorchat/pkg/storage"
	"tutorchat/pkg/store"
	"tutorchat/services/attach/internal/app"
)

const testInternalKey = "server-test-internal-key"

type testEnv struct {
	srv     *httptest.Server
	records *store.MemoryStore
	blobs   storage.BlobStore
}

func newTestEnv(t *testing.T) testEnv {
	t.Helper()
	if runtime.GOOS == "windows" {
		t.Skip("fake worker scripts require a POSIX shell")
	}
	workerPath := filepath.Join(t.TempDir(), "fakeworker")
	script := "#!/bin/sh\necho '{\"error\":\"no worker in this test\"}' >&2; exit 1\n"
	if err := os.WriteFile(workerPath, []byte(script), 0o755); err != nil {
		t.Fatalf("write fake worker: %v", err)
	}

	records := store.NewMemoryStore()
	blobs, err := storage.NewLocalStore(t.TempDir())
	if err != nil {
		t.Fatalf("local store: %v", err)
	}
	a, err := app.New(app.Config{
		Store:         records,
		Blobs:         blobs,
		Logger:        slog.New(slog.NewTextHandler(io.Discard, nil)),
		PDFWorkerPath: workerPath,
	})
	if err != nil {
		t.Fatalf("app.New: %v", err)
	}
	s, err := New(Config{
		App:              a,
		InternalTokenKey: testInternalKey,
		AllowedIssuers:   []string{"chat"},
	})
	if err != nil {
		t.Fatalf("server.New: %v", err)
	}
	srv := httptest.NewServer(s.Router())
	t.Cleanup(srv.Close)
	return testEnv{srv: srv, records: records, blobs: blobs}
}

func internalToken(t *testing.T) string {
	t.Helper()
	signer, err := servicetoken.NewSigner(testInternalKey, "chat", "attach", servicetoken.DefaultTTL)
	if err != nil {
		t.Fatalf("new signer: %v", err)
	}
	token, err := signer.Sign()
	if err != nil {
		t.Fatalf("sign: %v", err)
	}
	return token
}

func multipartUpload(t *testing.T, url, fileName, mimeType string, content []byte) *http.Response {
	t.Helper()
	var body bytes.Buffer
	w := multipart.NewWriter(&body)
	_ = w.WriteField("ownerId", "user-1")
	_ = w.WriteField("conversationId", "conv-1")
	part, err := w.CreateFormFile("file", fileName)
	if err != nil {
		t.Fatalf("create form file: %v", err)
	}
	if _, err := part.Write(content); err != nil {
		t.Fatalf("write form file: %v", err)
	}
	_ = w.Close()

	req, err := http.NewRequest(http.MethodPost, url+"/attachments", &body)
	if err != nil {
		t.Fatalf("new request: %v", err)
	}
	req.Header.Set("Content-Type", w.FormDataContentType())
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("upload request: %v", err)
	}
	return resp
}

func decodeBody[T any](t *testing.T, resp *http.Response) T {
	t.Helper()
	defer resp.Body.Close()
	var out T
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	return out
}

func TestUploadAndReadinessFlow(t *testing.T) {
	env := newTestEnv(t)

	resp := multipartUpload(t, env.srv.URL, "notes.txt", "text/plain", []byte("the mitochondria is the powerhouse"))
	if resp.StatusCode != http.StatusCreated {
		t.Fatalf("upload status = %d, want 201", resp.StatusCode)
	}
	created := decodeBody[uploadResponse](t, resp)
	if created.Attachment.ExtractionState != domain.ExtractionPending {
		t.Fatalf("state at upload = %q, want pending", created.Attachment.ExtractionState)
	}

	// Background extraction finishes on its own schedule.
	deadline := time.Now().Add(2 * time.Second)
	var ready readinessResponse
	for {
		resp, err := http.Get(env.srv.URL + "/attachments/ready?ids=" + created.Attachment.ID)
		if err != nil {
			t.Fatalf("readiness request: %v", err)
		}
		ready = decodeBody[readinessResponse](t, resp)
		if ready.Ready || time.Now().After(deadline) {
			break
		}
		time.Sleep(20 * time.Millisecond)
	}
	if !ready.Ready {
		t.Fatalf("attachment never became ready")
	}
	if got := ready.Attachments[0].ExtractionState; got != domain.ExtractionSucceeded {
		t.Fatalf("state = %q, want succeeded", got)
	}
	if ready.Attachments[0].ExtractedText == nil || *ready.Attachments[0].ExtractedText != "the mitochondria is the powerhouse" {
		t.Fatalf("extracted text = %v", ready.Attachments[0].ExtractedText)
	}
}

func TestUploadRequiresFileField(t *testing.T) {
	env := newTestEnv(t)

	var body bytes.Buffer
	w := multipart.NewWriter(&body)
	_ = w.WriteField("ownerId", "user-1")
	_ = w.WriteField("conversationId", "conv-1")
	_ = w.Close()
	req, _ := http.NewRequest(http.MethodPost, env.srv.URL+"/attachments", &body)
	req.Header.Set("Content-Type", w.FormDataContentType())
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("request: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400", resp.StatusCode)
	}
}

func TestExtractEndpointRequiresInternalToken(t *testing.T) {
	env := newTestEnv(t)

	resp, err := http.Post(env.srv.URL+"/attachments/att-1/extract", "application/json", nil)
	if err != nil {
		t.Fatalf("request: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusUnauthorized {
		t.Fatalf("status without token = %d, want 401", resp.StatusCode)
	}
}

func TestExtractEndpointTriggersExtraction(t *testing.T) {
	env := newTestEnv(t)
	seedServerAttachment(t, env, "att-1", "notes.txt", "text/plain", []byte("photosynthesis converts light"))

	req, _ := http.NewRequest(http.MethodPost, env.srv.URL+"/attachments/att-1/extract", nil)
	req.Header.Set("Authorization", "Bearer "+internalToken(t))
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("request: %v", err)
	}
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d, want 200", resp.StatusCode)
	}
	att := decodeBody[domain.Attachment](t, resp)
	if att.ExtractionState != domain.ExtractionSucceeded {
		t.Fatalf("state = %q, want succeeded", att.ExtractionState)
	}
}

func TestExtractEndpointUnknownAttachment(t *testing.T) {
	env := newTestEnv(t)

	req, _ := http.NewRequest(http.MethodPost, env.srv.URL+"/attachments/nope/extract", nil)
	req.Header.Set("Authorization", "Bearer "+internalToken(t))
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("request: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusNotFound {
		t.Fatalf("status = %d, want 404", resp.StatusCode)
	}
}

func TestMessagesEndpointComposesContext(t *testing.T) {
	env := newTestEnv(t)
	seedServerAttachment(t, env, "att-1", "notes.txt", "text/plain", []byte("water boils at 100C"))

	req, _ := http.NewRequest(http.MethodPost, env.srv.URL+"/attachments/att-1/extract", nil)
	req.Header.Set("Authorization", "Bearer "+internalToken(t))
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("extract request: %v", err)
	}
	resp.Body.Close()

	payload, _ := json.Marshal(messageRequest{Text: "summarize", AttachmentIDs: []string{"att-1"}})
	resp, err = http.Post(env.srv.URL+"/messages", "application/json", bytes.NewReader(payload))
	if err != nil {
		t.Fatalf("messages request: %v", err)
	}
	if resp.StatusCode != http.StatusCreated {
		t.Fatalf("status = %d, want 201", resp.StatusCode)
	}
	msg := decodeBody[messageResponse](t, resp)
	if !strings.Contains(msg.Content, "[File: notes.txt]\nwater boils at 100C") {
		t.Fatalf("composed content missing attachment block: %q", msg.Content)
	}
	if msg.Message.ConversationID != "conv-1" {
		t.Fatalf("conversation = %q, want conv-1", msg.Message.ConversationID)
	}
}

func TestDeleteConversationAttachments(t *testing.T) {
	env := newTestEnv(t)
	seedServerAttachment(t, env, "att-1", "notes.txt", "text/plain", []byte("soon gone"))

	req, _ := http.NewRequest(http.MethodDelete, env.srv.URL+"/conversations/conv-1/attachments", nil)
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("request: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusNoContent {
		t.Fatalf("status = %d, want 204", resp.StatusCode)
	}
	remaining, err := env.records.ListByConversation("conv-1")
	if err != nil {
		t.Fatalf("ListByConversation: %v", err)
	}
	if len(remaining) != 0 {
		t.Fatalf("remaining = %d, want 0", len(remaining))
	}
}

func TestDeleteOwnerAttachmentsRequiresInternalToken(t *testing.T) {
	env := newTestEnv(t)
	seedServerAttachment(t, env, "att-1", "notes.txt", "text/plain", []byte("owned"))

	req, _ := http.NewRequest(http.MethodDelete, env.srv.URL+"/owners/user-1/attachments", nil)
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("request: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusUnauthorized {
		t.Fatalf("status without token = %d, want 401", resp.StatusCode)
	}

	req, _ = http.NewRequest(http.MethodDelete, env.srv.URL+"/owners/user-1/attachments", nil)
	req.Header.Set("Authorization", "Bearer "+internalToken(t))
	resp, err = http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("request: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusNoContent {
		t.Fatalf("status = %d, want 204", resp.StatusCode)
	}
	remaining, err := env.records.ListByOwner("user-1")
	if err != nil {
		t.Fatalf("ListByOwner: %v", err)
	}
	if len(remaining) != 0 {
		t.Fatalf("remaining = %d, want 0", len(remaining))
	}
}

func seedServerAttachment(t *testing.T, env testEnv, id, fileName, mimeType string, content []byte) {
	t.Helper()
	storagePath := "conv-1/" + id + "/" + fileName
	if err := env.blobs.Put(context.Background(), storagePath, bytes.NewReader(content), int64(len(content)), mimeType); err != nil {
		t.Fatalf("put blob: %v", err)
	}
	now := time.Now().UTC()
	err := env.records.Create(domain.Attachment{
		ID:               id,
		OwnerID:          "user-1",
		ConversationID:   "conv-1",
		FileName:         fileName,
		DeclaredMIMEType: mimeType,
		ByteSize:         int64(len(content)),
		StoragePath:      storagePath,
		ExtractionState:  domain.ExtractionPending,
		CreatedAt:        now,
		UpdatedAt:        now,
	})
	if err != nil {
		t.Fatalf("create record: %v", err)
	}
}
