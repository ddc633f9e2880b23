package httpapi

import (
	"time"

	"santa-workshop/internal/domain"
)

type messageRequest struct {
	Text     string `json:"text"`
	ImageURL string `json:"imageUrl,omitempty"`
	AudioURL string `json:"audioUrl,omitempty"`
}

type extractRequest struct {
	Reply string `json:"reply"`
}

type mediaJSON struct {
	Kind     string `json:"kind"`
	MIMEType string `json:"mimeType"`
	Size     int    `json:"size"`
}

type actionJSON struct {
	Kind        string `json:"kind"`
	ProductName string `json:"productName"`
	Price       string `json:"price"`
}

type turnJSON struct {
	Seq       int         `json:"seq"`
	Speaker   string      `json:"speaker"`
	Text      string      `json:"text"`
	Media     *mediaJSON  `json:"media,omitempty"`
	Action    *actionJSON `json:"action,omitempty"`
	Synthetic bool        `json:"synthetic,omitempty"`
	CreatedAt time.Time   `json:"createdAt"`
}

type sessionResponse struct {
	SessionID string     `json:"sessionId"`
	Turns     []turnJSON `json:"turns"`
}

type sendResponse struct {
	SessionID string     `json:"sessionId"`
	Turns     []turnJSON `json:"turns"`
	Notice    string     `json:"notice,omitempty"`
}

type extractResponse struct {
	DisplayText string      `json:"displayText"`
	Action      *actionJSON `json:"action"`
}

type errorResponse struct {
	Error  string `json:"error"`
	Reason string `json:"reason,omitempty"`
}

func toTurnsJSON(turns []domain.Turn) []turnJSON {
	out := make([]turnJSON, 0, len(turns))
	for _, t := range turns {
		tj := turnJSON{
			Seq:       t.Seq,
			Speaker:   string(t.Speaker),
			Text:      t.Text,
			Action:    toActionJSON(t.Action),
			Synthetic: t.Synthetic,
			CreatedAt: t.CreatedAt,
		}
		if t.Media != nil {
			tj.Media = &mediaJSON{Kind: string(t.Media.Kind), MIMEType: t.Media.MIMEType, Size: t.Media.Size}
		}
		out = append(out, tj)
	}
	return out
}

func toActionJSON(a *domain.ActionPayload) *actionJSON {
	if a == nil {
		return nil
	}
	return &actionJSON{Kind: string(a.Kind), ProductName: a.ProductName, Price: a.Price}
}
