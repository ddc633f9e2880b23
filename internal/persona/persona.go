// Package persona loads the assistant persona: the system instruction sent to
// the model plus every canned line the backend shows on its own.
package persona

import (
	"context"
	_ "embed"
	"errors"
	"fmt"
	"os"
	"slices"
	"strings"

	"google.golang.org/genai"
	"gopkg.in/yaml.v3"

	"santa-workshop/internal/domain"
	"santa-workshop/internal/integrations/paramstore"
)

//go:embed santa.yaml
var defaultYAML []byte

type SafetyRule struct {
	Category  string `yaml:"category"`
	Threshold string `yaml:"threshold"`
}

type Persona struct {
	Name              string       `yaml:"name"`
	Model             string       `yaml:"model"`
	SystemInstruction string       `yaml:"system_instruction"`
	Greeting          string       `yaml:"greeting"`
	Confirmation      string       `yaml:"confirmation"`
	ImagePrompt       string       `yaml:"image_prompt"`
	VoicePrompt       string       `yaml:"voice_prompt"`
	TransportReply    string       `yaml:"transport_reply"`
	TransportNotice   string       `yaml:"transport_notice"`
	Safety            []SafetyRule `yaml:"safety"`
}

var knownCategories = map[genai.HarmCategory]bool{
	genai.HarmCategoryHarassment:       true,
	genai.HarmCategoryHateSpeech:       true,
	genai.HarmCategorySexuallyExplicit: true,
	genai.HarmCategoryDangerousContent: true,
}

var knownThresholds = map[genai.HarmBlockThreshold]bool{
	genai.HarmBlockThresholdBlockLowAndAbove:    true,
	genai.HarmBlockThresholdBlockMediumAndAbove: true,
	genai.HarmBlockThresholdBlockOnlyHigh:       true,
	genai.HarmBlockThresholdBlockNone:           true,
}

// Default returns the embedded Santa persona.
func Default() (*Persona, error) {
	return Parse(defaultYAML)
}

// LoadFile reads a persona from a YAML file.
func LoadFile(path string) (*Persona, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("persona: read %s: %w", path, err)
	}
	return Parse(b)
}

// Load picks the persona source: an SSM parameter when param is set, then a
// file when path is set, else the embedded default.
func Load(ctx context.Context, getter paramstore.Getter, path, param string) (*Persona, error) {
	if param = strings.TrimSpace(param); param != "" {
		if getter == nil {
			return nil, errors.New("persona: parameter source without a getter")
		}
		raw, err := getter.GetParameter(ctx, param)
		if err != nil {
			return nil, fmt.Errorf("persona: load %s: %w", param, err)
		}
		return Parse([]byte(raw))
	}
	if path = strings.TrimSpace(path); path != "" {
		return LoadFile(path)
	}
	return Default()
}

// Parse decodes and validates a persona document.
func Parse(b []byte) (*Persona, error) {
	var p Persona
	if err := yaml.Unmarshal(b, &p); err != nil {
		return nil, fmt.Errorf("persona: decode: %w", err)
	}
	if err := p.Validate(); err != nil {
		return nil, err
	}
	return &p, nil
}

func (p *Persona) Validate() error {
	required := map[string]string{
		"model":              p.Model,
		"system_instruction": p.SystemInstruction,
		"greeting":           p.Greeting,
		"transport_reply":    p.TransportReply,
		"transport_notice":   p.TransportNotice,
	}
	var missing []string
	for k, v := range required {
		if strings.TrimSpace(v) == "" {
			missing = append(missing, k)
		}
	}
	if len(missing) > 0 {
		slices.Sort(missing)
		return fmt.Errorf("persona: missing required fields: %s", strings.Join(missing, ", "))
	}
	for _, r := range p.Safety {
		if !knownCategories[genai.HarmCategory(r.Category)] {
			return fmt.Errorf("persona: unknown safety category %q", r.Category)
		}
		if !knownThresholds[genai.HarmBlockThreshold(r.Threshold)] {
			return fmt.Errorf("persona: unknown safety threshold %q", r.Threshold)
		}
	}
	return nil
}

// SafetySettings converts the persona's rules for the generate call.
func (p *Persona) SafetySettings() []*genai.SafetySetting {
	out := make([]*genai.SafetySetting, 0, len(p.Safety))
	for _, r := range p.Safety {
		out = append(out, &genai.SafetySetting{
			Category:  genai.HarmCategory(r.Category),
			Threshold: genai.HarmBlockThreshold(r.Threshold),
		})
	}
	return out
}

// PromptText is the text sent to the model for a user turn. Media sent
// without words gets a placeholder so the model always has something to
// answer; a voice note's transcript is appended to the voice placeholder.
func (p *Persona) PromptText(text string, media domain.MediaKind, transcript string) string {
	text = strings.TrimSpace(text)
	switch media {
	case domain.MediaAudio:
		out := p.VoicePrompt
		if text != "" {
			out = text + "\n\n" + out
		}
		if t := strings.TrimSpace(transcript); t != "" {
			out += "\nTranscript: " + t
		}
		return out
	case domain.MediaImage:
		if text == "" {
			return p.ImagePrompt
		}
	}
	return text
}

var errNilPersona = errors.New("persona: nil persona")

// Check is a nil-safe Validate for constructors taking a *Persona.
func Check(p *Persona) error {
	if p == nil {
		return errNilPersona
	}
	return p.Validate()
}
