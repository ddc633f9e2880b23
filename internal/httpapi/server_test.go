package httpapi

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"net/textproto"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"santa-workshop/internal/domain"
	"santa-workshop/internal/extract"
	"santa-workshop/internal/usecase"
)

type stubChat struct {
	startOut usecase.StartOutput
	sendOut  usecase.SendOutput
	history  []domain.Turn
	err      error
	sendIn   usecase.SendInput
	endID    string
	histID   string
}

func (s *stubChat) StartSession(context.Context, domain.Presenter) (usecase.StartOutput, error) {
	return s.startOut, s.err
}

func (s *stubChat) Send(_ context.Context, in usecase.SendInput, p domain.Presenter) (usecase.SendOutput, error) {
	s.sendIn = in
	if p == nil {
		return usecase.SendOutput{}, errors.New("presenter must be set")
	}
	return s.sendOut, s.err
}

func (s *stubChat) History(_ context.Context, id string) ([]domain.Turn, error) {
	s.histID = id
	return s.history, s.err
}

func (s *stubChat) EndSession(_ context.Context, id string) error {
	s.endID = id
	return s.err
}

func (s *stubChat) Extract(raw string) extract.Result {
	return extract.Extract(raw)
}

func newTestServer(t *testing.T, chat ChatUseCase) http.Handler {
	t.Helper()
	srv, err := NewServer(chat, Options{MaxMediaBytes: 1 << 10})
	require.NoError(t, err)
	return srv.Router()
}

func do(t *testing.T, h http.Handler, method, path, contentType string, body []byte) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, path, bytes.NewReader(body))
	if contentType != "" {
		req.Header.Set("Content-Type", contentType)
	}
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func parseBody[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &v))
	return v
}

var when = time.Date(2025, 12, 24, 20, 0, 0, 0, time.UTC)

func TestNewServer_ValidatesDependency(t *testing.T) {
	_, err := NewServer(nil, Options{})
	require.Error(t, err)
}

func TestHealth(t *testing.T) {
	rec := do(t, newTestServer(t, &stubChat{}), http.MethodGet, "/api/health", "", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	require.Equal(t, "ok", parseBody[map[string]string](t, rec)["status"])
	require.NotEmpty(t, rec.Header().Get(correlationHeader))
}

func TestStartSession(t *testing.T) {
	chat := &stubChat{startOut: usecase.StartOutput{
		Session: domain.Session{ID: "sess-1"},
		Turns:   []domain.Turn{{Seq: 1, Speaker: domain.SpeakerAssistant, Text: "Ho ho ho!", Synthetic: true, CreatedAt: when}},
	}}
	rec := do(t, newTestServer(t, chat), http.MethodPost, "/api/sessions", "", nil)
	require.Equal(t, http.StatusCreated, rec.Code)

	out := parseBody[sessionResponse](t, rec)
	require.Equal(t, "sess-1", out.SessionID)
	require.Len(t, out.Turns, 1)
	require.Equal(t, "assistant", out.Turns[0].Speaker)
	require.True(t, out.Turns[0].Synthetic)
}

func TestSendMessage_WithAction(t *testing.T) {
	chat := &stubChat{sendOut: usecase.SendOutput{
		SessionID: "sess-1",
		UserTurn:  domain.Turn{Seq: 2, Speaker: domain.SpeakerUser, Text: "PS5 please", CreatedAt: when},
		ReplyTurn: domain.Turn{
			Seq:     3,
			Speaker: domain.SpeakerAssistant,
			Text:    "Ho ho ho!",
			Action:  &domain.ActionPayload{Kind: domain.ActionAddToCart, ProductName: "PS5", Price: "850000"},
		},
	}}
	body := `{"text":"PS5 please","imageUrl":"data:image/png;base64,AAAA"}`
	rec := do(t, newTestServer(t, chat), http.MethodPost, "/api/sessions/sess-1/messages", "application/json", []byte(body))
	require.Equal(t, http.StatusOK, rec.Code)
	require.Equal(t, usecase.SendInput{SessionID: "sess-1", Text: "PS5 please", ImageURL: "data:image/png;base64,AAAA"}, chat.sendIn)

	out := parseBody[sendResponse](t, rec)
	require.Len(t, out.Turns, 2)
	require.Nil(t, out.Turns[0].Action)
	require.Equal(t, &actionJSON{Kind: "ADD_TO_CART", ProductName: "PS5", Price: "850000"}, out.Turns[1].Action)
	require.Empty(t, out.Notice)
}

func TestSendMessage_NoticeOnTransportFailure(t *testing.T) {
	chat := &stubChat{sendOut: usecase.SendOutput{
		SessionID: "sess-1",
		UserTurn:  domain.Turn{Seq: 2, Speaker: domain.SpeakerUser, Text: "hi"},
		ReplyTurn: domain.Turn{Seq: 3, Speaker: domain.SpeakerAssistant, Text: "snowstorm", Synthetic: true},
		Notice:    "Oops! There was a glitch in the North Pole. Please try again.",
	}}
	rec := do(t, newTestServer(t, chat), http.MethodPost, "/api/sessions/sess-1/messages", "application/json", []byte(`{"text":"hi"}`))
	require.Equal(t, http.StatusOK, rec.Code)
	out := parseBody[sendResponse](t, rec)
	require.Equal(t, chat.sendOut.Notice, out.Notice)
	require.True(t, out.Turns[1].Synthetic)
}

func TestSendMessage_InvalidBody(t *testing.T) {
	rec := do(t, newTestServer(t, &stubChat{}), http.MethodPost, "/api/sessions/sess-1/messages", "application/json", []byte(`not-json`))
	require.Equal(t, http.StatusBadRequest, rec.Code)
	out := parseBody[errorResponse](t, rec)
	require.Equal(t, string(usecase.ErrorInvalidInput), out.Error)
	require.Equal(t, "invalid_json_body", out.Reason)
}

func TestSendMessage_BodyTooLarge(t *testing.T) {
	big := `{"text":"` + strings.Repeat("a", 200<<10) + `"}`
	rec := do(t, newTestServer(t, &stubChat{}), http.MethodPost, "/api/sessions/sess-1/messages", "application/json", []byte(big))
	require.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestVoiceUpload(t *testing.T) {
	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	hdr := make(textproto.MIMEHeader)
	hdr.Set("Content-Disposition", `form-data; name="file"; filename="note.webm"`)
	hdr.Set("Content-Type", "audio/webm")
	part, err := mw.CreatePart(hdr)
	require.NoError(t, err)
	_, err = part.Write([]byte("opus-bytes"))
	require.NoError(t, err)
	require.NoError(t, mw.WriteField("text", "listen!"))
	require.NoError(t, mw.Close())

	chat := &stubChat{sendOut: usecase.SendOutput{SessionID: "sess-1"}}
	rec := do(t, newTestServer(t, chat), http.MethodPost, "/api/sessions/sess-1/voice", mw.FormDataContentType(), buf.Bytes())
	require.Equal(t, http.StatusOK, rec.Code)
	require.Equal(t, "sess-1", chat.sendIn.SessionID)
	require.Equal(t, "listen!", chat.sendIn.Text)
	require.NotNil(t, chat.sendIn.Audio)
	require.Equal(t, "audio/webm", chat.sendIn.Audio.MIMEType)
	require.Equal(t, []byte("opus-bytes"), chat.sendIn.Audio.Data)
}

func TestVoiceUpload_MissingFile(t *testing.T) {
	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	require.NoError(t, mw.WriteField("text", "no audio"))
	require.NoError(t, mw.Close())

	rec := do(t, newTestServer(t, &stubChat{}), http.MethodPost, "/api/sessions/sess-1/voice", mw.FormDataContentType(), buf.Bytes())
	require.Equal(t, http.StatusBadRequest, rec.Code)
	require.Equal(t, "missing_audio_file", parseBody[errorResponse](t, rec).Reason)
}

func TestVoiceUpload_NotMultipart(t *testing.T) {
	rec := do(t, newTestServer(t, &stubChat{}), http.MethodPost, "/api/sessions/sess-1/voice", "application/json", []byte(`{}`))
	require.Equal(t, http.StatusBadRequest, rec.Code)
	require.Equal(t, "invalid_multipart_form", parseBody[errorResponse](t, rec).Reason)
}

func TestHistory(t *testing.T) {
	chat := &stubChat{history: []domain.Turn{
		{Seq: 1, Speaker: domain.SpeakerAssistant, Text: "Ho ho ho!", Synthetic: true},
		{Seq: 2, Speaker: domain.SpeakerUser, Text: "look", Media: &domain.MediaRef{Kind: domain.MediaImage, MIMEType: "image/png", Size: 3}},
	}}
	rec := do(t, newTestServer(t, chat), http.MethodGet, "/api/sessions/sess-9/turns", "", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	require.Equal(t, "sess-9", chat.histID)

	out := parseBody[sessionResponse](t, rec)
	require.Len(t, out.Turns, 2)
	require.Equal(t, &mediaJSON{Kind: "image", MIMEType: "image/png", Size: 3}, out.Turns[1].Media)
}

func TestEndSession(t *testing.T) {
	chat := &stubChat{}
	rec := do(t, newTestServer(t, chat), http.MethodDelete, "/api/sessions/sess-2", "", nil)
	require.Equal(t, http.StatusNoContent, rec.Code)
	require.Equal(t, "sess-2", chat.endID)
}

func TestExtractEndpoint(t *testing.T) {
	h := newTestServer(t, &stubChat{})

	rec := do(t, h, http.MethodPost, "/api/extract", "application/json",
		[]byte(`{"reply":"ACTION:ADD_TO_CART|PRODUCT:iPhone 15|PRICE:N1,500,000"}`))
	require.Equal(t, http.StatusOK, rec.Code)
	out := parseBody[extractResponse](t, rec)
	require.Equal(t, &actionJSON{Kind: "ADD_TO_CART", ProductName: "iPhone 15", Price: "N1,500,000"}, out.Action)
	require.NotContains(t, out.DisplayText, extract.Marker)

	rec = do(t, h, http.MethodPost, "/api/extract", "application/json", []byte(`{"reply":"Merry Christmas!"}`))
	out = parseBody[extractResponse](t, rec)
	require.Equal(t, "Merry Christmas!", out.DisplayText)
	require.Nil(t, out.Action)

	rec = do(t, h, http.MethodPost, "/api/extract", "application/json", []byte(`{`))
	require.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestMapsUseCaseErrors(t *testing.T) {
	cases := []struct {
		name   string
		err    error
		status int
		code   string
	}{
		{name: "invalid input", err: &usecase.Error{Code: usecase.ErrorInvalidInput, Reason: "empty_message"}, status: http.StatusBadRequest, code: string(usecase.ErrorInvalidInput)},
		{name: "invalid question", err: &usecase.Error{Code: usecase.ErrorInvalidQuestion, Reason: "moderation_flagged"}, status: http.StatusBadRequest, code: string(usecase.ErrorInvalidQuestion)},
		{name: "not found", err: &usecase.Error{Code: usecase.ErrorSessionNotFound, Reason: "session_not_found"}, status: http.StatusNotFound, code: string(usecase.ErrorSessionNotFound)},
		{name: "busy", err: &usecase.Error{Code: usecase.ErrorSessionBusy, Reason: "send_in_progress"}, status: http.StatusConflict, code: string(usecase.ErrorSessionBusy)},
		{name: "internal", err: &usecase.Error{Code: usecase.ErrorInternal, Reason: "store_write_error"}, status: http.StatusInternalServerError, code: string(usecase.ErrorInternal)},
		{name: "unexpected", err: errors.New("boom"), status: http.StatusInternalServerError, code: string(usecase.ErrorInternal)},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			h := newTestServer(t, &stubChat{err: tc.err})
			rec := do(t, h, http.MethodPost, "/api/sessions/sess-1/messages", "application/json", []byte(`{"text":"hi"}`))
			require.Equal(t, tc.status, rec.Code)

			out := parseBody[errorResponse](t, rec)
			require.Equal(t, tc.code, out.Error)
			require.NotContains(t, rec.Body.String(), "boom")
		})
	}
}

func TestCorrelationID_Echoed(t *testing.T) {
	req := httptest.NewRequest(http.MethodGet, "/api/health", nil)
	req.Header.Set("x-correlation-id", "corr-123")
	rec := httptest.NewRecorder()
	newTestServer(t, &stubChat{}).ServeHTTP(rec, req)
	require.Equal(t, "corr-123", rec.Header().Get(correlationHeader))
}

func TestCORS_Preflight(t *testing.T) {
	req := httptest.NewRequest(http.MethodOptions, "/api/sessions", nil)
	req.Header.Set("Origin", "https://workshop.example")
	req.Header.Set("Access-Control-Request-Method", http.MethodPost)
	rec := httptest.NewRecorder()
	newTestServer(t, &stubChat{}).ServeHTTP(rec, req)
	require.Equal(t, "*", rec.Header().Get("Access-Control-Allow-Origin"))
}
