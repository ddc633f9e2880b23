package main

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"

	"santa-workshop/internal/config"
	"santa-workshop/internal/extract"
	"santa-workshop/internal/integrations/paramstore"
)

func runExtract(t *testing.T, stdin string, args ...string) extractOutput {
	t.Helper()
	var out bytes.Buffer
	cmd := NewExtractCmd()
	cmd.SetIn(strings.NewReader(stdin))
	cmd.SetOut(&out)
	cmd.SetArgs(args)
	require.NoError(t, cmd.ExecuteContext(context.Background()))

	var res extractOutput
	require.NoError(t, json.Unmarshal(out.Bytes(), &res))
	return res
}

func TestExtractCmd_FromStdin(t *testing.T) {
	res := runExtract(t, "Lovely!\nACTION:ADD_TO_CART|PRODUCT:iPhone 15|PRICE:1500000\n")
	require.NotNil(t, res.Action)
	require.Equal(t, "ADD_TO_CART", res.Action.Kind)
	require.Equal(t, "iPhone 15", res.Action.ProductName)
	require.Equal(t, "1500000", res.Action.Price)
	require.NotContains(t, res.DisplayText, extract.Marker)
}

func TestExtractCmd_ReplyFlag(t *testing.T) {
	res := runExtract(t, "", "--reply", "Ho ho ho, tell me more!")
	require.Nil(t, res.Action)
	require.Equal(t, "Ho ho ho, tell me more!", res.DisplayText)
}

func TestBuildGetter_StaticKeys(t *testing.T) {
	cfg := config.Config{ParamPrefix: "/workshop/", GeminiAPIKey: "g-key", OpenAIAPIKey: "sk-key"}
	getter, err := buildGetter(context.Background(), cfg, &awsLoader{})
	require.NoError(t, err)

	token, err := paramstore.FetchToken(context.Background(), getter, "/workshop/gemini-token")
	require.NoError(t, err)
	require.Equal(t, "g-key", token)

	token, err = paramstore.FetchToken(context.Background(), getter, "/workshop/open-ai-token")
	require.NoError(t, err)
	require.Equal(t, "sk-key", token)
}

func TestBuildApp_MemoryBackend(t *testing.T) {
	t.Chdir(t.TempDir())
	cfg := config.Config{
		Port:            "0",
		AllowedOrigin:   "*",
		StorageBackend:  config.BackendMemory,
		ParamPrefix:     "/workshop",
		GeminiAPIKey:    "g-key",
		MaxTurns:        40,
		MaxContextItems: 20,
		MaxTextLength:   2000,
		MaxMediaBytes:   1 << 20,
	}
	a, err := buildApp(context.Background(), cfg)
	require.NoError(t, err)

	rec := httptest.NewRecorder()
	a.router.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/api/sessions", nil))
	require.Equal(t, http.StatusCreated, rec.Code)

	var body struct {
		SessionID string `json:"sessionId"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	require.NotEmpty(t, body.SessionID)

	history, err := a.chat.History(context.Background(), body.SessionID)
	require.NoError(t, err)
	require.Len(t, history, 1)
}

func TestBuildApp_InvalidConfig(t *testing.T) {
	_, err := buildApp(context.Background(), config.Config{StorageBackend: "postgres", ParamPrefix: "/workshop"})
	require.ErrorContains(t, err, "STORAGE_BACKEND")
}
