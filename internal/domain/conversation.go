package domain

import "time"

// Speaker identifies who authored a turn.
type Speaker string

const (
	SpeakerUser      Speaker = "user"
	SpeakerAssistant Speaker = "assistant"
)

// MediaKind identifies the kind of payload attached to a turn.
type MediaKind string

const (
	MediaImage MediaKind = "image"
	MediaAudio MediaKind = "audio"
)

// MediaRef describes an attachment without carrying its bytes.
type MediaRef struct {
	Kind     MediaKind
	MIMEType string
	Size     int
}

// Turn is one message exchanged by either party in the conversation.
type Turn struct {
	Seq     int
	Speaker Speaker
	Text    string
	Media   *MediaRef
	Action  *ActionPayload
	// Synthetic turns are authored by the backend (greeting, apologies) and
	// are never replayed to the model.
	Synthetic bool
	CreatedAt time.Time
}

// Session is the explicit handle for one conversation.
type Session struct {
	ID           string
	CreatedAt    time.Time
	LastActivity time.Time
	Turns        int
}

// Blob is an inline media payload ready for transport.
type Blob struct {
	MIMEType string
	Data     []byte
}

// Input is a new user turn as handed to the chat transport.
type Input struct {
	Text       string
	Image      *Blob
	Audio      *Blob
	Transcript string
}
