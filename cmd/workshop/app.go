package main

import (
	"context"
	"fmt"
	"net/http"
	"strings"
	"sync"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	awsdynamodb "github.com/aws/aws-sdk-go-v2/service/dynamodb"
	awsssm "github.com/aws/aws-sdk-go-v2/service/ssm"

	"santa-workshop/internal/config"
	"santa-workshop/internal/httpapi"
	"santa-workshop/internal/integrations/gemini"
	"santa-workshop/internal/integrations/openai"
	"santa-workshop/internal/integrations/paramstore"
	"santa-workshop/internal/persona"
	"santa-workshop/internal/repository"
	"santa-workshop/internal/store"
	"santa-workshop/internal/usecase"
)

type app struct {
	chat   *usecase.ChatService
	router http.Handler
}

// awsLoader loads the AWS SDK config at most once, and only for the
// components that need it.
type awsLoader struct {
	once sync.Once
	cfg  aws.Config
	err  error
}

func (l *awsLoader) load(ctx context.Context) (aws.Config, error) {
	l.once.Do(func() {
		l.cfg, l.err = awsconfig.LoadDefaultConfig(ctx)
		if l.err != nil {
			l.err = fmt.Errorf("load AWS config: %w", l.err)
		}
	})
	return l.cfg, l.err
}

func buildApp(ctx context.Context, cfg config.Config) (*app, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	var loader awsLoader

	// ---- Secrets ----
	getter, err := buildGetter(ctx, cfg, &loader)
	if err != nil {
		return nil, err
	}

	// ---- Persona ----
	p, err := persona.Load(ctx, getter, cfg.PersonaFile, cfg.PersonaParam)
	if err != nil {
		return nil, err
	}

	// ---- Conversation store ----
	var conversations usecase.ConversationStore
	switch cfg.StorageBackend {
	case config.BackendDynamoDB:
		awsCfg, err := loader.load(ctx)
		if err != nil {
			return nil, err
		}
		conversations, err = repository.New(awsdynamodb.NewFromConfig(awsCfg), cfg.StateTable)
		if err != nil {
			return nil, fmt.Errorf("create state client: %w", err)
		}
	default:
		conversations = store.NewMemoryStore()
	}

	// ---- Clients ----
	transport, err := gemini.NewClient(getter, cfg.ParamPrefix, p,
		gemini.WithModel(cfg.GeminiModel),
		gemini.WithTimeout(cfg.SendTimeout),
	)
	if err != nil {
		return nil, fmt.Errorf("create Gemini client: %w", err)
	}

	opts := []usecase.Option{usecase.WithLimits(usecase.Limits{
		MaxTurns:        cfg.MaxTurns,
		MaxContextItems: cfg.MaxContextItems,
		MaxTextLength:   cfg.MaxTextLength,
		MaxMediaBytes:   cfg.MaxMediaBytes,
	})}
	if cfg.OpenAIEnabled {
		openaiClient, err := openai.NewClient(getter, cfg.ParamPrefix,
			openai.WithSTTModel(cfg.STTModel),
			openai.WithBaseURL(cfg.OpenAIBaseURL),
		)
		if err != nil {
			return nil, fmt.Errorf("create OpenAI client: %w", err)
		}
		opts = append(opts, usecase.WithTranscriber(openaiClient))
		if cfg.ModerationEnabled {
			opts = append(opts, usecase.WithModerator(openaiClient))
		}
	}

	// ---- Service ----
	chat, err := usecase.NewChatService(conversations, transport, p, opts...)
	if err != nil {
		return nil, fmt.Errorf("create chat service: %w", err)
	}
	srv, err := httpapi.NewServer(chat, httpapi.Options{
		AllowedOrigin: cfg.AllowedOrigin,
		MaxMediaBytes: cfg.MaxMediaBytes,
	})
	if err != nil {
		return nil, fmt.Errorf("create http server: %w", err)
	}
	return &app{chat: chat, router: srv.Router()}, nil
}

// buildGetter serves API keys from SSM, or from the environment when a
// Gemini key is given directly.
func buildGetter(ctx context.Context, cfg config.Config, loader *awsLoader) (paramstore.Getter, error) {
	if !cfg.UseSSM() {
		prefix := strings.TrimRight(cfg.ParamPrefix, "/")
		static := paramstore.Static{prefix + "/gemini-token": paramstore.TokenValue(cfg.GeminiAPIKey)}
		if cfg.OpenAIAPIKey != "" {
			static[prefix+"/open-ai-token"] = paramstore.TokenValue(cfg.OpenAIAPIKey)
		}
		return static, nil
	}
	awsCfg, err := loader.load(ctx)
	if err != nil {
		return nil, err
	}
	ssmClient, err := paramstore.New(awsssm.NewFromConfig(awsCfg))
	if err != nil {
		return nil, fmt.Errorf("create SSM client: %w", err)
	}
	return ssmClient, nil
}
