package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"go.uber.org/zap"

	"github.com/exbuilderia/studio/server/adapters"
	"github.com/exbuilderia/studio/server/adapters/llm"
	"github.com/exbuilderia/studio/server/adapters/mongo"
	"github.com/exbuilderia/studio/server/adapters/payment"
	"github.com/exbuilderia/studio/server/adapters/stt"
	"github.com/exbuilderia/studio/server/adapters/supabase"
	"github.com/exbuilderia/studio/server/domain/entities"
	"github.com/exbuilderia/studio/server/domain/repositories"
	"github.com/exbuilderia/studio/server/internal/api"
	"github.com/exbuilderia/studio/server/internal/auth"
	"github.com/exbuilderia/studio/server/internal/config"
	"github.com/exbuilderia/studio/server/internal/ledger"
	"github.com/exbuilderia/studio/server/internal/videogen"
	"github.com/exbuilderia/studio/server/internal/websocket"
	"github.com/exbuilderia/studio/server/usecase"
)

func newLogger() *zap.Logger {
	var logger *zap.Logger
	var err error
	if os.Getenv("APP_ENV") == config.EnvDevelopment {
		logger, err = zap.NewDevelopment()
	} else {
		logger, err = zap.NewProduction()
	}
	if err != nil {
		panic(err)
	}
	return logger
}

func main() {
	// Initialize logger
	logger := newLogger()
	defer logger.Sync()

	cfg, err := config.Load(logger)
	if err != nil {
		logger.Fatal("Invalid configuration", zap.Error(err))
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// Inference provider
	var inference repositories.Inference
	if cfg.GeminiEnabled() {
		gemini, err := llm.NewGemini(ctx, cfg.Gemini, logger)
		if err != nil {
			logger.Fatal("Failed to create Gemini client", zap.Error(err))
		}
		inference = gemini
	} else {
		logger.Warn("GEMINI_API_KEY not set, using mock inference")
		inference = llm.NewMockInference()
	}

	// Profile store
	var profiles repositories.ProfileStore
	if cfg.SupabaseEnabled() {
		profiles, err = supabase.NewProfileStore(cfg.Supabase, logger)
		if err != nil {
			logger.Fatal("Failed to create Supabase profile store", zap.Error(err))
		}
	} else {
		logger.Warn("Supabase not configured, profiles are kept in memory")
		profiles = adapters.NewMemoryProfileStore()
	}

	// Orders and conversations
	var orders repositories.TopupRepository
	var conversations repositories.ConversationRepository
	if cfg.MongoEnabled() {
		client, err := mongo.NewClient(ctx, cfg.Mongo, logger)
		if err != nil {
			logger.Fatal("Failed to connect to MongoDB", zap.Error(err))
		}
		defer client.Close(context.Background())

		orders, err = mongo.NewTopupRepository(ctx, client.Database, logger)
		if err != nil {
			logger.Fatal("Failed to create top-up repository", zap.Error(err))
		}
		conversations = mongo.NewConversationRepository(client.Database)
	} else {
		logger.Warn("MongoDB not configured, orders and conversations are kept in memory")
		orders = adapters.NewMemoryTopupRepository()
		conversations = adapters.NewMemoryConversationRepository()
	}

	// Transcription
	var transcriber repositories.Transcriber
	switch cfg.TranscribeBackend {
	case config.TranscribeGoogleSpeech:
		google, err := stt.NewGoogleSpeechTranscriber(ctx, cfg.Speech, logger)
		if err != nil {
			logger.Fatal("Failed to create Google Speech transcriber", zap.Error(err))
		}
		defer google.Close()
		transcriber = google
	default:
		transcriber = stt.NewGeminiTranscriber(inference, cfg.Studio.Models.Transcribe, logger)
	}

	// Ledger
	creditLedger := ledger.New(profiles, entities.DefaultCostTable(), logger)
	reconciler := ledger.NewReconciler(creditLedger, cfg.ReconcileInterval, logger)
	reconciler.Start()

	orchestrator, err := videogen.NewOrchestrator(inference, cfg.Video, logger)
	if err != nil {
		logger.Fatal("Failed to create video orchestrator", zap.Error(err))
	}

	studio, err := usecase.NewStudioService(usecase.StudioDeps{
		Ledger:        creditLedger,
		Orchestrator:  orchestrator,
		Inference:     inference,
		Transcriber:   transcriber,
		Conversations: conversations,
		NewChat: func(history []entities.ChatTurn) (repositories.ChatSession, error) {
			return llm.NewChatSession(inference, cfg.Chat, logger, history)
		},
	}, cfg.Studio, logger)
	if err != nil {
		logger.Fatal("Failed to create studio service", zap.Error(err))
	}

	var topups *usecase.TopupService
	if cfg.PaymentsEnabled() {
		gateway, err := payment.NewStripeGateway(cfg.Stripe, logger)
		if err != nil {
			logger.Fatal("Failed to create Stripe gateway", zap.Error(err))
		}
		topups = usecase.NewTopupService(creditLedger, orders, gateway, cfg.Stripe.Currency, logger)
	} else {
		logger.Warn("Stripe not configured, top-ups are disabled")
	}

	issuer, err := auth.NewIssuer(cfg.JWTSecret, cfg.JWTTTL)
	if err != nil {
		logger.Fatal("Failed to create token issuer", zap.Error(err))
	}

	// WebSocket hub: job progress and voice recordings
	hub := websocket.NewHub(
		func(ctx context.Context, accountID string, audio entities.MediaPayload) (string, error) {
			result, err := studio.RunVoiceTranscribe(ctx, accountID, audio)
			if err != nil {
				return "", err
			}
			return result.Text, nil
		},
		func() repositories.AudioRecorder { return stt.NewBufferRecorder() },
		logger,
	)
	hubCtx, stopHub := context.WithCancel(context.Background())
	go hub.Run(hubCtx)

	server, err := api.NewServer(studio, topups, issuer, hub, logger)
	if err != nil {
		logger.Fatal("Failed to create API server", zap.Error(err))
	}

	// Create Echo instance
	e := echo.New()
	e.HideBanner = true

	// Middleware
	e.Use(middleware.Logger())
	e.Use(middleware.Recover())
	e.Use(middleware.CORS())

	api.InitRoutes(e, server)

	// Graceful shutdown
	go func() {
		if err := e.Start(":" + cfg.Port); err != nil && err != http.ErrServerClosed {
			logger.Fatal("shutting down the server", zap.Error(err))
		}
	}()

	logger.Info("Studio server started",
		zap.String("port", cfg.Port),
		zap.String("env", cfg.Env),
		zap.Bool("gemini", cfg.GeminiEnabled()),
		zap.Bool("payments", cfg.PaymentsEnabled()))

	// Wait for interrupt signal to gracefully shutdown the server
	<-ctx.Done()

	logger.Info("Server is shutting down...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
	defer cancel()

	if err := e.Shutdown(shutdownCtx); err != nil {
		logger.Error("Server forced to shutdown", zap.Error(err))
	}
	stopHub()
	reconciler.Stop()
	creditLedger.Wait()

	logger.Info("Server exited")
}
