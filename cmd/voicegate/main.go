package main

import (
	"context"
	"log"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/bedrockagentruntime"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/joho/godotenv"

	"github.com/lexvoice/voicegate/internal/bridge"
	"github.com/lexvoice/voicegate/internal/config"
	"github.com/lexvoice/voicegate/internal/crm"
	"github.com/lexvoice/voicegate/internal/escalation"
	"github.com/lexvoice/voicegate/internal/handover"
	"github.com/lexvoice/voicegate/internal/kb"
	"github.com/lexvoice/voicegate/internal/server"
	"github.com/lexvoice/voicegate/internal/session"
	"github.com/lexvoice/voicegate/internal/telemetry"
	"github.com/lexvoice/voicegate/internal/tools"
	"github.com/lexvoice/voicegate/internal/voice"
	"github.com/lexvoice/voicegate/internal/voice/nova"
	"github.com/lexvoice/voicegate/internal/voice/openai"
	"github.com/lexvoice/voicegate/internal/webhook"
)

func main() {
	// Load .env file if it exists
	_ = godotenv.Load()

	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: slog.LevelInfo,
	}))
	slog.SetDefault(logger)

	cfg, err := config.Load(os.Getenv("VOICEGATE_CONFIG"))
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}

	shutdownTracer, err := telemetry.InitTracer("voicegate", logger)
	if err != nil {
		log.Fatalf("Failed to initialize tracer: %v", err)
	}
	defer func() {
		if err := shutdownTracer(context.Background()); err != nil {
			logger.Error("failed to shutdown tracer", slog.String("error", err.Error()))
		}
	}()

	ctx := context.Background()

	store, closeStore, err := buildStore(ctx, cfg)
	if err != nil {
		log.Fatalf("Failed to build handover store: %v", err)
	}
	defer closeStore()

	hubspot := crm.NewHubSpot(cfg.HubSpot.AccessToken, cfg.HubSpot.BaseURL, nil, logger)
	publisher := handover.NewPublisher(store, hubspot,
		cfg.Handover.TokenLength,
		time.Duration(cfg.Handover.TokenTTLSeconds)*time.Second,
		logger)

	executor := tools.NewExecutor(buildKB(ctx, cfg, logger), logger)

	openai.Register()
	nova.Register()

	newClient := func(_ context.Context, s *session.Session) (voice.Client, error) {
		return voice.New(voice.Config{
			Provider:     cfg.Voice.Provider,
			SystemPrompt: cfg.Voice.SystemPrompt,
			Tools:        executor,
			Logger:       logger.With("conversation_id", s.ConversationID),
			OpenAI: voice.OpenAIConfig{
				APIKey: cfg.OpenAI.APIKey,
				Model:  cfg.OpenAI.Model,
				Voice:  cfg.OpenAI.Voice,
			},
			Nova: voice.NovaConfig{
				Region:  cfg.Nova.Region,
				ModelID: cfg.Nova.ModelID,
				VoiceID: cfg.Nova.VoiceID,
			},
		})
	}

	registry := session.NewRegistry()
	bridgeHandler := bridge.New(registry,
		escalation.ForMode(cfg.Voice.EscalationMode),
		publisher, newClient, logger)

	srv := server.New(cfg.Server.Host, cfg.Server.Port, logger)
	srv.Router.Use(server.TwilioAuthMiddleware(cfg.Twilio.AuthToken, cfg.Server.PublicHost))

	handlers := &webhook.Handlers{
		PublicHost:    cfg.Server.PublicHost,
		ConnectNumber: cfg.Connect.PhoneNumber,
		TokenLength:   cfg.Handover.TokenLength,
		Registry:      registry,
		Bridge:        bridgeHandler,
		Logger:        logger,
	}
	handlers.Mount(srv.Router)

	errCh := make(chan error, 1)
	go func() { errCh <- srv.Start() }()

	logger.Info("voicegate started",
		slog.String("provider", cfg.Voice.Provider),
		slog.String("escalation_mode", cfg.Voice.EscalationMode),
		slog.String("handover_store", cfg.Handover.Store),
	)

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)

	select {
	case err := <-errCh:
		if err != nil {
			log.Fatalf("Server failed: %v", err)
		}
	case <-sigChan:
		logger.Info("shutdown signal received")
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("shutdown error", slog.String("error", err.Error()))
		os.Exit(1)
	}
	logger.Info("voicegate shutdown complete")
}

// buildStore selects the handover token store. The returned closer is a
// no-op for DynamoDB.
func buildStore(ctx context.Context, cfg *config.Config) (handover.Store, func(), error) {
	switch cfg.Handover.Store {
	case "sqlite":
		s, err := handover.NewSQLiteStore(cfg.Handover.SQLitePath)
		if err != nil {
			return nil, nil, err
		}
		return s, func() { s.Close() }, nil
	default:
		awsCfg, err := awsconfig.LoadDefaultConfig(ctx,
			awsconfig.WithRegion(cfg.Handover.Region))
		if err != nil {
			return nil, nil, err
		}
		s := handover.NewDynamoStore(dynamodb.NewFromConfig(awsCfg), cfg.Handover.Table)
		return s, func() {}, nil
	}
}

// buildKB wires the Bedrock knowledge base when one is configured.
// Without it the search tools answer that the knowledge base is
// unavailable, which keeps calls working in minimal deployments.
func buildKB(ctx context.Context, cfg *config.Config, logger *slog.Logger) kb.Searcher {
	if cfg.KB.KnowledgeBaseID == "" {
		logger.Info("knowledge base not configured, search tools disabled")
		return nil
	}
	region := cfg.KB.Region
	if region == "" {
		region = cfg.Handover.Region
	}
	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, awsconfig.WithRegion(region))
	if err != nil {
		logger.Error("knowledge base client init failed", "error", err)
		return nil
	}
	return kb.NewBedrockKB(bedrockagentruntime.NewFromConfig(awsCfg), cfg.KB.KnowledgeBaseID)
}
