package persona

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
	"google.golang.org/genai"

	"santa-workshop/internal/domain"
	"santa-workshop/internal/extract"
	"santa-workshop/internal/integrations/paramstore"
)

func TestDefault_IsValid(t *testing.T) {
	p, err := Default()
	require.NoError(t, err)
	require.Equal(t, "gemini-2.5-flash", p.Model)
	require.Contains(t, p.SystemInstruction, "ACTION:ADD_TO_CART|PRODUCT:<gadget name>|PRICE:<amount>")
	require.Contains(t, p.Greeting, "What's your name")
	require.Len(t, p.Safety, 4)
}

func TestDefault_ConfirmationMatchesExtractorDefault(t *testing.T) {
	p, err := Default()
	require.NoError(t, err)
	require.Equal(t, extract.DefaultConfirmation, p.Confirmation)
}

func TestSafetySettings(t *testing.T) {
	p, err := Default()
	require.NoError(t, err)
	got := p.SafetySettings()
	require.Len(t, got, 4)
	require.Equal(t, genai.HarmCategoryHarassment, got[0].Category)
	require.Equal(t, genai.HarmBlockThresholdBlockOnlyHigh, got[0].Threshold)
	require.Equal(t, genai.HarmCategoryDangerousContent, got[3].Category)
	require.Equal(t, genai.HarmBlockThresholdBlockMediumAndAbove, got[3].Threshold)
}

func TestParse_MissingFields(t *testing.T) {
	_, err := Parse([]byte("name: Santa\nmodel: gemini-2.5-flash\n"))
	require.Error(t, err)
	require.Contains(t, err.Error(), "greeting, system_instruction, transport_notice, transport_reply")
}

func TestParse_InvalidYAML(t *testing.T) {
	_, err := Parse([]byte("model: [unterminated"))
	require.Error(t, err)
	require.Contains(t, err.Error(), "decode")
}

func TestParse_UnknownSafetyValues(t *testing.T) {
	base := "model: m\nsystem_instruction: s\ngreeting: g\ntransport_reply: r\ntransport_notice: n\n"

	_, err := Parse([]byte(base + "safety:\n  - category: HARM_CATEGORY_GINGERBREAD\n    threshold: BLOCK_ONLY_HIGH\n"))
	require.ErrorContains(t, err, "unknown safety category")

	_, err = Parse([]byte(base + "safety:\n  - category: HARM_CATEGORY_HARASSMENT\n    threshold: SOMETIMES\n"))
	require.ErrorContains(t, err, "unknown safety threshold")
}

func TestLoadFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "elf.yaml")
	doc := "name: Elf\nmodel: gemini-2.5-pro\nsystem_instruction: Be an elf.\ngreeting: Hi!\ntransport_reply: Oops\ntransport_notice: Try again\n"
	require.NoError(t, os.WriteFile(path, []byte(doc), 0o600))

	p, err := LoadFile(path)
	require.NoError(t, err)
	require.Equal(t, "Elf", p.Name)
	require.Empty(t, p.SafetySettings())

	_, err = LoadFile(filepath.Join(dir, "missing.yaml"))
	require.ErrorContains(t, err, "persona: read")
}

func TestPromptText(t *testing.T) {
	p, err := Default()
	require.NoError(t, err)

	require.Equal(t, "I want a PS5", p.PromptText("  I want a PS5 ", "", ""))
	require.Equal(t, p.ImagePrompt, p.PromptText(" ", domain.MediaImage, ""))
	require.Equal(t, "look at my tree", p.PromptText("look at my tree", domain.MediaImage, ""))
	require.Equal(t, p.VoicePrompt, p.PromptText("", domain.MediaAudio, ""))
	require.Equal(t, p.VoicePrompt+"\nTranscript: I want an iPhone", p.PromptText("", domain.MediaAudio, " I want an iPhone "))
	require.Equal(t, "hello\n\n"+p.VoicePrompt, p.PromptText("hello", domain.MediaAudio, ""))
}

func TestCheck(t *testing.T) {
	require.Error(t, Check(nil))
	p, err := Default()
	require.NoError(t, err)
	require.NoError(t, Check(p))
}

func TestLoad_Sources(t *testing.T) {
	ctx := context.Background()
	def, err := Default()
	require.NoError(t, err)

	p, err := Load(ctx, nil, "", "")
	require.NoError(t, err)
	require.Equal(t, def, p)

	doc := "model: gemini-2.5-pro\nsystem_instruction: be jolly\ngreeting: hi\ntransport_reply: sorry\ntransport_notice: oops\n"
	getter := paramstore.Static{"/workshop/persona": doc}
	p, err = Load(ctx, getter, "ignored.yaml", "/workshop/persona")
	require.NoError(t, err)
	require.Equal(t, "gemini-2.5-pro", p.Model)

	path := filepath.Join(t.TempDir(), "persona.yaml")
	require.NoError(t, os.WriteFile(path, []byte(doc), 0o600))
	p, err = Load(ctx, nil, path, "")
	require.NoError(t, err)
	require.Equal(t, "be jolly", p.SystemInstruction)

	_, err = Load(ctx, getter, "", "/workshop/missing")
	require.ErrorContains(t, err, "not found")

	_, err = Load(ctx, nil, "", "/workshop/persona")
	require.ErrorContains(t, err, "getter")
}
