package server

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strings"

	"tutorchat/internal/servicetoken"
	"tutorchat/internal/util"
	"tutorchat/pkg/domain"
	"tutorchat/pkg/store"
	"tutorchat/services/attach/internal/app"
)

// Config wires required dependencies for the HTTP server.
type Config struct {
	App              *app.App
	InternalTokenKey string
	AllowedIssuers   []string
}

// Server exposes HTTP endpoints for the attach service.
type Server struct {
	app          *app.App
	internalAuth *servicetoken.Verifier
	mux          *http.ServeMux
}

// New constructs the server with routes configured.
func New(cfg Config) (*Server, error) {
	s := &Server{
		app: cfg.App,
		mux: http.NewServeMux(),
	}
	verifier, err := servicetoken.NewVerifier(cfg.InternalTokenKey, "attach", cfg.AllowedIssuers, servicetoken.DefaultLeeway)
	if err != nil {
		return nil, err
	}
	s.internalAuth = verifier
	s.routes()
	return s, nil
}

// Router returns the configured handler.
func (s *Server) Router() http.Handler {
	return util.WithSecurityHeaders(util.WithCORS(util.WithRequestID(util.WithRequestLog("attach", s.mux))))
}

func (s *Server) routes() {
	s.mux.HandleFunc("/healthz", s.handleHealth)
	s.mux.HandleFunc("/attachments", s.handleAttachments)
	s.mux.HandleFunc("/attachments/ready", s.handleReadiness)
	s.mux.HandleFunc("/attachments/", s.handleAttachmentSubpath)
	s.mux.HandleFunc("/messages", s.handleMessages)
	s.mux.HandleFunc("/conversations/", s.handleConversationSubpath)
	s.mux.HandleFunc("/owners/", s.handleOwnerSubpath)
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) withInternal(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if s.internalAuth == nil {
			writeError(w, http.StatusInternalServerError, "internal auth not configured")
			return
		}
		token, ok := servicetoken.BearerToken(r)
		if !ok {
			writeError(w, http.StatusUnauthorized, "unauthorized")
			return
		}
		if _, err := s.internalAuth.Verify(token); err != nil {
			writeError(w, http.StatusUnauthorized, "unauthorized")
			return
		}
		next(w, r)
	}
}

// handleAttachments serves POST (multipart upload) and GET (?ids=) on the
// collection.
func (s *Server) handleAttachments(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodPost:
		s.handleUpload(w, r)
	case http.MethodGet:
		s.handleList(w, r)
	default:
		methodNotAllowed(w)
	}
}

type uploadResponse struct {
	Attachment domain.Attachment `json:"attachment"`
	URL        string            `json:"url,omitempty"`
}

func (s *Server) handleUpload(w http.ResponseWriter, r *http.Request) {
	// The ceiling covers the file plus multipart framing and form fields.
	r.Body = http.MaxBytesReader(w, r.Body, s.app.MaxUploadBytes()+1<<20)
	if err := r.ParseMultipartForm(8 << 20); err != nil {
		writeError(w, http.StatusRequestEntityTooLarge, "upload too large or malformed")
		return
	}
	file, header, err := r.FormFile("file")
	if err != nil {
		writeError(w, http.StatusBadRequest, "file field required")
		return
	}
	defer file.Close()

	att, url, err := s.app.Upload(r.Context(), app.UploadInput{
		OwnerID:        r.FormValue("ownerId"),
		ConversationID: r.FormValue("conversationId"),
		FileName:       header.Filename,
		MIMEType:       header.Header.Get("Content-Type"),
		Size:           header.Size,
		Content:        file,
	})
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	writeJSON(w, http.StatusCreated, uploadResponse{Attachment: att, URL: url})
}

func (s *Server) handleList(w http.ResponseWriter, r *http.Request) {
	ids := splitIDs(r.URL.Query().Get("ids"))
	if len(ids) == 0 {
		writeError(w, http.StatusBadRequest, "ids query parameter required")
		return
	}
	attachments, err := s.app.GetAttachments(ids)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "lookup failed")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"attachments": attachments})
}

type readinessResponse struct {
	Ready       bool                `json:"ready"`
	Attachments []domain.Attachment `json:"attachments"`
}

// handleReadiness reports the current extraction states for a set of ids in a
// single shot. Clients poll it on their own schedule.
func (s *Server) handleReadiness(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		methodNotAllowed(w)
		return
	}
	ids := splitIDs(r.URL.Query().Get("ids"))
	if len(ids) == 0 {
		writeError(w, http.StatusBadRequest, "ids query parameter required")
		return
	}
	attachments, err := s.app.GetAttachments(ids)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "lookup failed")
		return
	}
	ready := len(attachments) == len(ids)
	for _, att := range attachments {
		if !att.ExtractionState.Terminal() {
			ready = false
		}
	}
	writeJSON(w, http.StatusOK, readinessResponse{Ready: ready, Attachments: attachments})
}

// handleAttachmentSubpath serves GET /attachments/{id} and the internal
// POST /attachments/{id}/extract trigger.
func (s *Server) handleAttachmentSubpath(w http.ResponseWriter, r *http.Request) {
	rest := strings.TrimPrefix(r.URL.Path, "/attachments/")
	parts := strings.Split(rest, "/")
	switch {
	case len(parts) == 1 && parts[0] != "":
		s.handleAttachmentByID(w, r, parts[0])
	case len(parts) == 2 && parts[0] != "" && parts[1] == "extract":
		s.withInternal(func(w http.ResponseWriter, r *http.Request) {
			s.handleExtract(w, r, parts[0])
		})(w, r)
	default:
		http.NotFound(w, r)
	}
}

func (s *Server) handleAttachmentByID(w http.ResponseWriter, r *http.Request, id string) {
	if r.Method != http.MethodGet {
		methodNotAllowed(w)
		return
	}
	attachments, err := s.app.GetAttachments([]string{id})
	if err != nil {
		writeError(w, http.StatusInternalServerError, "lookup failed")
		return
	}
	if len(attachments) == 0 {
		writeError(w, http.StatusNotFound, "attachment not found")
		return
	}
	writeJSON(w, http.StatusOK, attachments[0])
}

func (s *Server) handleExtract(w http.ResponseWriter, r *http.Request, id string) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w)
		return
	}
	att, err := s.app.Dispatch(r.Context(), id)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			writeError(w, http.StatusNotFound, "attachment not found")
			return
		}
		writeError(w, http.StatusInternalServerError, "extraction trigger failed")
		return
	}
	writeJSON(w, http.StatusOK, att)
}

type messageRequest struct {
	Text          string   `json:"text"`
	AttachmentIDs []string `json:"attachmentIds"`
}

type messageResponse struct {
	Message domain.Message `json:"message"`
	Content string         `json:"content"`
}

func (s *Server) handleMessages(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w)
		return
	}
	var req messageRequest
	if err := json.NewDecoder(io.LimitReader(r.Body, 1<<20)).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	if strings.TrimSpace(req.Text) == "" && len(req.AttachmentIDs) == 0 {
		writeError(w, http.StatusBadRequest, "text or attachmentIds required")
		return
	}
	content, msg, err := s.app.ComposeMessage(r.Context(), req.Text, req.AttachmentIDs)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "message composition failed")
		return
	}
	writeJSON(w, http.StatusCreated, messageResponse{Message: msg, Content: content})
}

// handleConversationSubpath serves DELETE /conversations/{id}/attachments.
func (s *Server) handleConversationSubpath(w http.ResponseWriter, r *http.Request) {
	rest := strings.TrimPrefix(r.URL.Path, "/conversations/")
	parts := strings.Split(rest, "/")
	if len(parts) != 2 || parts[0] == "" || parts[1] != "attachments" {
		http.NotFound(w, r)
		return
	}
	if r.Method != http.MethodDelete {
		methodNotAllowed(w)
		return
	}
	if err := s.app.DeleteConversation(r.Context(), parts[0]); err != nil {
		writeError(w, http.StatusInternalServerError, "delete failed")
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// handleOwnerSubpath serves DELETE /owners/{id}/attachments, the
// account-deletion cascade. It is service-to-service only.
func (s *Server) handleOwnerSubpath(w http.ResponseWriter, r *http.Request) {
	rest := strings.TrimPrefix(r.URL.Path, "/owners/")
	parts := strings.Split(rest, "/")
	if len(parts) != 2 || parts[0] == "" || parts[1] != "attachments" {
		http.NotFound(w, r)
		return
	}
	if r.Method != http.MethodDelete {
		methodNotAllowed(w)
		return
	}
	s.withInternal(func(w http.ResponseWriter, r *http.Request) {
		if err := s.app.DeleteOwner(r.Context(), parts[0]); err != nil {
			writeError(w, http.StatusInternalServerError, "delete failed")
			return
		}
		w.WriteHeader(http.StatusNoContent)
	})(w, r)
}

func splitIDs(raw string) []string {
	var ids []string
	for _, part := range strings.Split(raw, ",") {
		if trimmed := strings.TrimSpace(part); trimmed != "" {
			ids = append(ids, trimmed)
		}
	}
	return ids
}

func methodNotAllowed(w http.ResponseWriter) {
	writeError(w, http.StatusMethodNotAllowed, "method not allowed")
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}
