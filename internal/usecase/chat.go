package usecase

import (
	"context"
	"errors"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"santa-workshop/internal/domain"
	"santa-workshop/internal/extract"
	"santa-workshop/internal/media"
	"santa-workshop/internal/observability"
	"santa-workshop/internal/persona"
)

const (
	defaultMaxTurns      = 40
	defaultMaxContext    = 20
	defaultMaxTextLength = 2000
	defaultMaxMediaBytes = 8 << 20
)

// ConversationStore persists sessions and their turns. Implementations must
// reject a turn whose sequence number is already taken.
type ConversationStore interface {
	CreateSession(ctx context.Context, s domain.Session) error
	GetSession(ctx context.Context, sessionID string) (domain.Session, error)
	AppendTurn(ctx context.Context, sessionID string, t domain.Turn) error
	ListTurns(ctx context.Context, sessionID string, limit int) ([]domain.Turn, error)
	DeleteSession(ctx context.Context, sessionID string) error
}

// ChatTransport sends the conversation so far plus a new input to the model
// and returns its raw reply.
type ChatTransport interface {
	Send(ctx context.Context, history []domain.Turn, in domain.Input) (string, error)
}

type Transcriber interface {
	Transcribe(ctx context.Context, audio domain.Blob) (string, error)
}

type Moderator interface {
	Moderate(ctx context.Context, input string) (bool, error)
}

type httpStatusCoder interface {
	HTTPStatusCode() int
}

// Limits bounds a conversation. Zero values fall back to defaults.
type Limits struct {
	MaxTurns        int
	MaxContextItems int
	MaxTextLength   int
	MaxMediaBytes   int64
}

func (l Limits) withDefaults() Limits {
	if l.MaxTurns <= 0 {
		l.MaxTurns = defaultMaxTurns
	}
	if l.MaxContextItems <= 0 {
		l.MaxContextItems = defaultMaxContext
	}
	if l.MaxTextLength <= 0 {
		l.MaxTextLength = defaultMaxTextLength
	}
	if l.MaxMediaBytes <= 0 {
		l.MaxMediaBytes = defaultMaxMediaBytes
	}
	return l
}

// ChatService runs conversations: it owns the session lifecycle and the
// single-send-per-session rule.
type ChatService struct {
	store       ConversationStore
	transport   ChatTransport
	persona     *persona.Persona
	extractor   *extract.Extractor
	transcriber Transcriber
	moderator   Moderator
	limits      Limits
	now         func() time.Time

	inflight sync.Map
}

type Option func(*ChatService)

func WithTranscriber(t Transcriber) Option {
	return func(s *ChatService) { s.transcriber = t }
}

func WithModerator(m Moderator) Option {
	return func(s *ChatService) { s.moderator = m }
}

func WithLimits(l Limits) Option {
	return func(s *ChatService) { s.limits = l.withDefaults() }
}

type StartOutput struct {
	Session domain.Session
	Turns   []domain.Turn
}

// SendInput is one user turn. Attachments arrive either as data URLs (JSON
// clients) or as already-read blobs (multipart uploads).
type SendInput struct {
	SessionID string
	Text      string
	ImageURL  string
	AudioURL  string
	Image     *domain.Blob
	Audio     *domain.Blob
}

// SendOutput carries the turns a send appended. Notice is set when the
// transport failed and ReplyTurn is the synthetic apology.
type SendOutput struct {
	SessionID string
	UserTurn  domain.Turn
	ReplyTurn domain.Turn
	Notice    string
}

func NewChatService(store ConversationStore, transport ChatTransport, p *persona.Persona, opts ...Option) (*ChatService, error) {
	if store == nil {
		return nil, errors.New("usecase: conversation store must not be nil")
	}
	if transport == nil {
		return nil, errors.New("usecase: chat transport must not be nil")
	}
	if err := persona.Check(p); err != nil {
		return nil, err
	}
	s := &ChatService{
		store:     store,
		transport: transport,
		persona:   p,
		extractor: extract.New(p.Confirmation),
		limits:    Limits{}.withDefaults(),
		now:       time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s, nil
}

// Extract runs the action extractor with this service's confirmation template.
func (s *ChatService) Extract(raw string) extract.Result {
	return s.extractor.Extract(raw)
}

// StartSession creates a session and appends the greeting.
func (s *ChatService) StartSession(ctx context.Context, p domain.Presenter) (StartOutput, error) {
	if p == nil {
		p = domain.NopPresenter{}
	}
	now := s.now().UTC()
	sess := domain.Session{ID: newUUID(), CreatedAt: now, LastActivity: now}
	if err := s.store.CreateSession(ctx, sess); err != nil {
		return StartOutput{}, newError(ErrorInternal, "store_create_error", err)
	}

	greeting := domain.Turn{
		Seq:       1,
		Speaker:   domain.SpeakerAssistant,
		Text:      s.persona.Greeting,
		Synthetic: true,
		CreatedAt: now,
	}
	if err := s.store.AppendTurn(ctx, sess.ID, greeting); err != nil {
		return StartOutput{}, storeError(err, "store_write_error")
	}
	p.OnTurnAppended(ctx, sess.ID, greeting)
	sess.Turns = 1

	observability.LoggerFromContext(ctx).Info("session started", "session_id", sess.ID)
	return StartOutput{Session: sess, Turns: []domain.Turn{greeting}}, nil
}

// Send records the user turn, asks the model and records its reply. A failed
// model call is not an error: the apology turn is recorded, the presenter is
// told once, and the output carries a notice.
func (s *ChatService) Send(ctx context.Context, in SendInput, p domain.Presenter) (SendOutput, error) {
	if p == nil {
		p = domain.NopPresenter{}
	}
	sessionID := strings.TrimSpace(in.SessionID)
	if sessionID == "" {
		return SendOutput{}, newError(ErrorInvalidInput, "missing_session_id", nil)
	}
	text := strings.TrimSpace(in.Text)
	hasImage := in.Image != nil || strings.TrimSpace(in.ImageURL) != ""
	hasAudio := in.Audio != nil || strings.TrimSpace(in.AudioURL) != ""
	if text == "" && !hasImage && !hasAudio {
		return SendOutput{}, newError(ErrorInvalidInput, "empty_message", nil)
	}
	if hasImage && hasAudio {
		return SendOutput{}, newError(ErrorInvalidInput, "multiple_attachments", nil)
	}
	if len([]rune(text)) > s.limits.MaxTextLength {
		return SendOutput{}, newError(ErrorInvalidInput, "message_too_long", nil)
	}

	if _, busy := s.inflight.LoadOrStore(sessionID, struct{}{}); busy {
		return SendOutput{}, newError(ErrorSessionBusy, "send_in_progress", nil)
	}
	defer s.inflight.Delete(sessionID)

	ctx = observability.WithSessionID(ctx, sessionID)
	log := observability.LoggerFromContext(ctx)

	sess, err := s.store.GetSession(ctx, sessionID)
	if err != nil {
		return SendOutput{}, storeError(err, "store_read_error")
	}
	if sess.Turns >= s.limits.MaxTurns {
		return SendOutput{}, newError(ErrorInvalidInput, "conversation_turn_limit", nil)
	}

	if s.moderator != nil && text != "" {
		flagged, err := s.moderator.Moderate(ctx, text)
		switch {
		case err != nil:
			log.Warn("moderation failed, continuing", "err", err, "status", statusOf(err))
		case flagged:
			return SendOutput{}, newError(ErrorInvalidQuestion, "moderation_flagged", nil)
		}
	}

	history, err := s.store.ListTurns(ctx, sessionID, s.limits.MaxContextItems)
	if err != nil {
		return SendOutput{}, storeError(err, "store_history_error")
	}

	input, ref, mediaErr := s.decodeMedia(in, text)

	out := SendOutput{SessionID: sessionID}
	out.UserTurn = domain.Turn{
		Seq:       sess.Turns + 1,
		Speaker:   domain.SpeakerUser,
		Text:      text,
		Media:     ref,
		CreatedAt: s.now().UTC(),
	}
	if err := s.store.AppendTurn(ctx, sessionID, out.UserTurn); err != nil {
		return SendOutput{}, storeError(err, "store_write_error")
	}
	p.OnTurnAppended(ctx, sessionID, out.UserTurn)

	if mediaErr != nil {
		log.Warn("attachment rejected", "err", mediaErr)
		return s.recordFailure(ctx, out, p)
	}

	if input.Audio != nil && s.transcriber != nil {
		transcript, err := s.transcriber.Transcribe(ctx, *input.Audio)
		if err != nil {
			log.Warn("transcription failed, sending audio only", "err", err, "status", statusOf(err))
		} else {
			input.Transcript = transcript
		}
	}

	// The model call is not cancelled when the caller goes away; a late
	// reply is still recorded.
	raw, err := s.transport.Send(context.WithoutCancel(ctx), history, input)
	if err != nil {
		log.Error("chat transport failed", "err", err, "status", statusOf(err))
		return s.recordFailure(ctx, out, p)
	}

	res := s.extractor.Extract(raw)
	out.ReplyTurn = domain.Turn{
		Seq:       out.UserTurn.Seq + 1,
		Speaker:   domain.SpeakerAssistant,
		Text:      res.DisplayText,
		Action:    res.Action,
		CreatedAt: s.now().UTC(),
	}
	if err := s.store.AppendTurn(context.WithoutCancel(ctx), sessionID, out.ReplyTurn); err != nil {
		return SendOutput{}, storeError(err, "store_write_error")
	}
	p.OnTurnAppended(ctx, sessionID, out.ReplyTurn)

	if res.Action != nil {
		log.Info("add to cart action", "product", res.Action.ProductName, "price", res.Action.Price)
	}
	return out, nil
}

// recordFailure appends the synthetic apology and raises the transport error
// notification exactly once.
func (s *ChatService) recordFailure(ctx context.Context, out SendOutput, p domain.Presenter) (SendOutput, error) {
	out.ReplyTurn = domain.Turn{
		Seq:       out.UserTurn.Seq + 1,
		Speaker:   domain.SpeakerAssistant,
		Text:      s.persona.TransportReply,
		Synthetic: true,
		CreatedAt: s.now().UTC(),
	}
	if err := s.store.AppendTurn(context.WithoutCancel(ctx), out.SessionID, out.ReplyTurn); err != nil {
		return SendOutput{}, storeError(err, "store_write_error")
	}
	p.OnTurnAppended(ctx, out.SessionID, out.ReplyTurn)
	p.OnTransportError(ctx, out.SessionID, s.persona.TransportNotice)
	out.Notice = s.persona.TransportNotice
	return out, nil
}

// decodeMedia builds the transport input. When an attachment cannot be
// decoded the returned error wraps domain.ErrInvalidMedia.
func (s *ChatService) decodeMedia(in SendInput, text string) (domain.Input, *domain.MediaRef, error) {
	input := domain.Input{Text: text}
	image, err := s.attachment(in.Image, in.ImageURL, domain.MediaImage)
	if err != nil {
		return input, nil, err
	}
	if image != nil {
		input.Image = image
		return input, media.Ref(domain.MediaImage, *image), nil
	}
	audio, err := s.attachment(in.Audio, in.AudioURL, domain.MediaAudio)
	if err != nil {
		return input, nil, err
	}
	if audio != nil {
		input.Audio = audio
		return input, media.Ref(domain.MediaAudio, *audio), nil
	}
	return input, nil, nil
}

func (s *ChatService) attachment(blob *domain.Blob, dataURL string, kind domain.MediaKind) (*domain.Blob, error) {
	if blob == nil {
		if strings.TrimSpace(dataURL) == "" {
			return nil, nil
		}
		b, err := media.ParseDataURL(dataURL)
		if err != nil {
			return nil, err
		}
		blob = &b
	}
	if err := media.CheckKind(*blob, kind, s.limits.MaxMediaBytes); err != nil {
		return nil, err
	}
	return blob, nil
}

// History returns every turn of a session in order.
func (s *ChatService) History(ctx context.Context, sessionID string) ([]domain.Turn, error) {
	sessionID = strings.TrimSpace(sessionID)
	if sessionID == "" {
		return nil, newError(ErrorInvalidInput, "missing_session_id", nil)
	}
	if _, err := s.store.GetSession(ctx, sessionID); err != nil {
		return nil, storeError(err, "store_read_error")
	}
	turns, err := s.store.ListTurns(ctx, sessionID, 0)
	if err != nil {
		return nil, storeError(err, "store_history_error")
	}
	return turns, nil
}

// EndSession disposes of a session and its turns.
func (s *ChatService) EndSession(ctx context.Context, sessionID string) error {
	sessionID = strings.TrimSpace(sessionID)
	if sessionID == "" {
		return newError(ErrorInvalidInput, "missing_session_id", nil)
	}
	if _, busy := s.inflight.Load(sessionID); busy {
		return newError(ErrorSessionBusy, "send_in_progress", nil)
	}
	if err := s.store.DeleteSession(ctx, sessionID); err != nil {
		return storeError(err, "store_delete_error")
	}
	observability.LoggerFromContext(ctx).Info("session ended", "session_id", sessionID)
	return nil
}

func statusOf(err error) int {
	var statusErr httpStatusCoder
	if !errors.As(err, &statusErr) {
		return 0
	}
	return statusErr.HTTPStatusCode()
}

var newUUID = func() string {
	return uuid.NewString()
}
