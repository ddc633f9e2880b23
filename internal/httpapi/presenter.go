package httpapi

import (
	"context"

	"santa-workshop/internal/domain"
	"santa-workshop/internal/observability"
)

// logPresenter records presenter callbacks in the request log. HTTP clients
// get the same turns in the response body.
type logPresenter struct{}

func (logPresenter) OnTurnAppended(ctx context.Context, sessionID string, t domain.Turn) {
	observability.LoggerFromContext(ctx).Debug("turn appended",
		"session_id", sessionID,
		"seq", t.Seq,
		"speaker", t.Speaker,
		"synthetic", t.Synthetic,
		"has_action", t.Action != nil,
	)
}

func (logPresenter) OnTransportError(ctx context.Context, sessionID, message string) {
	observability.LoggerFromContext(ctx).Warn("transport error shown to user", "session_id", sessionID, "notice", message)
}
