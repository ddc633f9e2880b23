package domain

import "context"

// Presenter receives finalized turns and transport failures in the order
// they happen. OnTransportError fires at most once per failed send.
type Presenter interface {
	OnTurnAppended(ctx context.Context, sessionID string, turn Turn)
	OnTransportError(ctx context.Context, sessionID, message string)
}

// NopPresenter discards every notification.
type NopPresenter struct{}

func (NopPresenter) OnTurnAppended(context.Context, string, Turn)     {}
func (NopPresenter) OnTransportError(context.Context, string, string) {}
