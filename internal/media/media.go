// Package media turns client-supplied attachments into transport blobs.
package media

import (
	"encoding/base64"
	"fmt"
	"io"
	"mime"
	"strings"

	"santa-workshop/internal/domain"
)

// ParseDataURL decodes a base64 data URL such as
// "data:image/png;base64,iVBORw0...". Every malformed input wraps
// domain.ErrInvalidMedia.
func ParseDataURL(s string) (domain.Blob, error) {
	header, payload, ok := strings.Cut(strings.TrimSpace(s), ",")
	if !ok || payload == "" {
		return domain.Blob{}, fmt.Errorf("media: data url has no payload: %w", domain.ErrInvalidMedia)
	}
	meta, found := strings.CutPrefix(header, "data:")
	if !found {
		return domain.Blob{}, fmt.Errorf("media: missing data: scheme: %w", domain.ErrInvalidMedia)
	}
	meta, isBase64 := strings.CutSuffix(meta, ";base64")
	if !isBase64 {
		return domain.Blob{}, fmt.Errorf("media: data url is not base64: %w", domain.ErrInvalidMedia)
	}
	mimeType, _, err := mime.ParseMediaType(meta)
	if err != nil || mimeType == "" {
		return domain.Blob{}, fmt.Errorf("media: bad mime type %q: %w", meta, domain.ErrInvalidMedia)
	}
	data, err := base64.StdEncoding.DecodeString(payload)
	if err != nil {
		return domain.Blob{}, fmt.Errorf("media: decode payload: %v: %w", err, domain.ErrInvalidMedia)
	}
	return domain.Blob{MIMEType: mimeType, Data: data}, nil
}

// FromReader reads an uploaded attachment, refusing payloads above maxBytes.
func FromReader(mimeType string, r io.Reader, maxBytes int64) (domain.Blob, error) {
	mt, _, err := mime.ParseMediaType(mimeType)
	if err != nil {
		return domain.Blob{}, fmt.Errorf("media: bad mime type %q: %w", mimeType, domain.ErrInvalidMedia)
	}
	data, err := io.ReadAll(io.LimitReader(r, maxBytes+1))
	if err != nil {
		return domain.Blob{}, fmt.Errorf("media: read upload: %w", err)
	}
	if int64(len(data)) > maxBytes {
		return domain.Blob{}, fmt.Errorf("media: upload exceeds %d bytes: %w", maxBytes, domain.ErrInvalidMedia)
	}
	if len(data) == 0 {
		return domain.Blob{}, fmt.Errorf("media: empty upload: %w", domain.ErrInvalidMedia)
	}
	return domain.Blob{MIMEType: mt, Data: data}, nil
}

// CheckKind verifies that b's MIME type belongs to kind and that it fits in
// maxBytes.
func CheckKind(b domain.Blob, kind domain.MediaKind, maxBytes int64) error {
	if !strings.HasPrefix(b.MIMEType, string(kind)+"/") {
		return fmt.Errorf("media: %s is not an %s type: %w", b.MIMEType, kind, domain.ErrInvalidMedia)
	}
	if maxBytes > 0 && int64(len(b.Data)) > maxBytes {
		return fmt.Errorf("media: %s exceeds %d bytes: %w", kind, maxBytes, domain.ErrInvalidMedia)
	}
	return nil
}

// Ref describes b without its bytes.
func Ref(kind domain.MediaKind, b domain.Blob) *domain.MediaRef {
	return &domain.MediaRef{Kind: kind, MIMEType: b.MIMEType, Size: len(b.Data)}
}
