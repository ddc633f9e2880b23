// Package httpapi exposes the chat service as a JSON HTTP API.
package httpapi

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/google/uuid"

	"santa-workshop/internal/domain"
	"santa-workshop/internal/extract"
	"santa-workshop/internal/media"
	"santa-workshop/internal/observability"
	"santa-workshop/internal/usecase"
)

const (
	correlationHeader    = "X-Correlation-Id"
	defaultMaxMediaBytes = 8 << 20
	// JSON bodies carry base64 media, which is a third larger than the bytes.
	jsonOverhead = 64 << 10
)

// ChatUseCase is the slice of usecase.ChatService the API needs.
type ChatUseCase interface {
	StartSession(ctx context.Context, p domain.Presenter) (usecase.StartOutput, error)
	Send(ctx context.Context, in usecase.SendInput, p domain.Presenter) (usecase.SendOutput, error)
	History(ctx context.Context, sessionID string) ([]domain.Turn, error)
	EndSession(ctx context.Context, sessionID string) error
	Extract(raw string) extract.Result
}

type Options struct {
	AllowedOrigin string
	MaxMediaBytes int64
}

type Server struct {
	router        *chi.Mux
	chat          ChatUseCase
	presenter     domain.Presenter
	maxMediaBytes int64
}

func NewServer(chat ChatUseCase, opts Options) (*Server, error) {
	if chat == nil {
		return nil, errors.New("httpapi: chat use case must not be nil")
	}
	if opts.AllowedOrigin == "" {
		opts.AllowedOrigin = "*"
	}
	if opts.MaxMediaBytes <= 0 {
		opts.MaxMediaBytes = defaultMaxMediaBytes
	}

	r := chi.NewRouter()
	r.Use(middleware.Recoverer)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: []string{opts.AllowedOrigin},
		AllowedMethods: []string{"GET", "POST", "DELETE", "OPTIONS"},
		AllowedHeaders: []string{"Accept", "Content-Type", correlationHeader},
		ExposedHeaders: []string{correlationHeader},
		MaxAge:         300,
	}))
	r.Use(withCorrelationID)
	r.Use(accessLog)

	s := &Server{
		router:        r,
		chat:          chat,
		presenter:     logPresenter{},
		maxMediaBytes: opts.MaxMediaBytes,
	}
	s.routes()
	return s, nil
}

func (s *Server) routes() {
	s.router.Get("/api/health", s.handleHealth)
	s.router.Post("/api/extract", s.handleExtract)
	s.router.Route("/api/sessions", func(r chi.Router) {
		r.Post("/", s.handleStartSession)
		r.Get("/{sessionID}/turns", s.handleHistory)
		r.Post("/{sessionID}/messages", s.handleMessage)
		r.Post("/{sessionID}/voice", s.handleVoice)
		r.Delete("/{sessionID}", s.handleEndSession)
	})
}

func (s *Server) Router() http.Handler { return s.router }

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) handleStartSession(w http.ResponseWriter, r *http.Request) {
	out, err := s.chat.StartSession(r.Context(), s.presenter)
	if err != nil {
		writeUseCaseError(r.Context(), w, err)
		return
	}
	writeJSON(w, http.StatusCreated, sessionResponse{
		SessionID: out.Session.ID,
		Turns:     toTurnsJSON(out.Turns),
	})
}

func (s *Server) handleHistory(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "sessionID")
	turns, err := s.chat.History(r.Context(), id)
	if err != nil {
		writeUseCaseError(r.Context(), w, err)
		return
	}
	writeJSON(w, http.StatusOK, sessionResponse{SessionID: id, Turns: toTurnsJSON(turns)})
}

func (s *Server) handleMessage(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, s.maxMediaBytes*4/3+jsonOverhead)
	var req messageRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, string(usecase.ErrorInvalidInput), "invalid_json_body")
		return
	}
	s.send(w, r, usecase.SendInput{
		SessionID: chi.URLParam(r, "sessionID"),
		Text:      req.Text,
		ImageURL:  req.ImageURL,
		AudioURL:  req.AudioURL,
	})
}

// handleVoice accepts a recorded voice note as multipart field "file" with
// an optional "text" field.
func (s *Server) handleVoice(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, s.maxMediaBytes+jsonOverhead)
	if err := r.ParseMultipartForm(s.maxMediaBytes); err != nil {
		writeError(w, http.StatusBadRequest, string(usecase.ErrorInvalidInput), "invalid_multipart_form")
		return
	}
	file, header, err := r.FormFile("file")
	if err != nil {
		writeError(w, http.StatusBadRequest, string(usecase.ErrorInvalidInput), "missing_audio_file")
		return
	}
	defer file.Close()

	mimeType := header.Header.Get("Content-Type")
	if mimeType == "" || mimeType == "application/octet-stream" {
		mimeType = "audio/webm"
	}
	audio, err := media.FromReader(mimeType, file, s.maxMediaBytes)
	if err != nil {
		writeError(w, http.StatusBadRequest, string(usecase.ErrorInvalidInput), "invalid_audio_upload")
		return
	}
	s.send(w, r, usecase.SendInput{
		SessionID: chi.URLParam(r, "sessionID"),
		Text:      r.FormValue("text"),
		Audio:     &audio,
	})
}

func (s *Server) send(w http.ResponseWriter, r *http.Request, in usecase.SendInput) {
	out, err := s.chat.Send(r.Context(), in, s.presenter)
	if err != nil {
		writeUseCaseError(r.Context(), w, err)
		return
	}
	writeJSON(w, http.StatusOK, sendResponse{
		SessionID: out.SessionID,
		Turns:     toTurnsJSON([]domain.Turn{out.UserTurn, out.ReplyTurn}),
		Notice:    out.Notice,
	})
}

func (s *Server) handleEndSession(w http.ResponseWriter, r *http.Request) {
	if err := s.chat.EndSession(r.Context(), chi.URLParam(r, "sessionID")); err != nil {
		writeUseCaseError(r.Context(), w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleExtract(w http.ResponseWriter, r *http.Request) {
	var req extractRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, string(usecase.ErrorInvalidInput), "invalid_json_body")
		return
	}
	res := s.chat.Extract(req.Reply)
	writeJSON(w, http.StatusOK, extractResponse{
		DisplayText: res.DisplayText,
		Action:      toActionJSON(res.Action),
	})
}

func withCorrelationID(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id := strings.TrimSpace(r.Header.Get(correlationHeader))
		if id == "" {
			id = uuid.NewString()
		}
		w.Header().Set(correlationHeader, id)
		next.ServeHTTP(w, r.WithContext(observability.WithCorrelationID(r.Context(), id)))
	})
}

func accessLog(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		start := time.Now()
		next.ServeHTTP(ww, r)
		observability.LoggerFromContext(r.Context()).Info("request",
			"method", r.Method,
			"path", r.URL.Path,
			"status", ww.Status(),
			"duration_ms", time.Since(start).Milliseconds(),
		)
	})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, code, reason string) {
	writeJSON(w, status, errorResponse{Error: code, Reason: reason})
}

func writeUseCaseError(ctx context.Context, w http.ResponseWriter, err error) {
	var ue *usecase.Error
	if !errors.As(err, &ue) {
		observability.LoggerFromContext(ctx).Error("unexpected error", "err", err)
		writeError(w, http.StatusInternalServerError, string(usecase.ErrorInternal), "unexpected_error")
		return
	}
	status := statusFor(ue.Code)
	if status >= http.StatusInternalServerError {
		observability.LoggerFromContext(ctx).Error("request failed", "code", ue.Code, "reason", ue.Reason, "err", ue.Err)
	}
	writeError(w, status, string(ue.Code), ue.Reason)
}

func statusFor(code usecase.ErrorCode) int {
	switch code {
	case usecase.ErrorInvalidInput, usecase.ErrorInvalidQuestion:
		return http.StatusBadRequest
	case usecase.ErrorSessionNotFound:
		return http.StatusNotFound
	case usecase.ErrorSessionBusy:
		return http.StatusConflict
	default:
		return http.StatusInternalServerError
	}
}
