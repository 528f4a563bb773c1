package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"go.uber.org/zap"

	"github.com/exbuilderia/studio/server/adapters/llm"
	"github.com/exbuilderia/studio/server/adapters/mongo"
	"github.com/exbuilderia/studio/server/adapters/payment"
	"github.com/exbuilderia/studio/server/adapters/stt"
	"github.com/exbuilderia/studio/server/adapters/supabase"
	"github.com/exbuilderia/studio/server/internal/videogen"
	"github.com/exbuilderia/studio/server/usecase"
)

const (
	EnvDevelopment = "development"
	EnvProduction  = "production"

	TranscribeGemini       = "gemini"
	TranscribeGoogleSpeech = "google-speech"

	defaultPort              = "8080"
	defaultReconcileInterval = 5 * time.Minute
	defaultShutdownTimeout   = 15 * time.Second
	devJWTSecret             = "development-only-secret"
)

// Config is every setting of the server, read from the environment
type Config struct {
	Port            string
	Env             string
	ShutdownTimeout time.Duration

	JWTSecret string
	JWTTTL    time.Duration

	Gemini llm.GeminiConfig
	Chat   llm.ChatConfig
	Studio usecase.StudioConfig
	Video  videogen.Config

	TranscribeBackend string
	Speech            stt.GoogleSpeechConfig

	Supabase supabase.Config
	Mongo    mongo.Config
	Stripe   payment.StripeConfig

	ReconcileInterval time.Duration
}

// Load reads .env when present, then the environment
func Load(logger *zap.Logger) (*Config, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("failed to load .env: %w", err)
	}

	config, err := NewConfigFromEnv()
	if err != nil {
		return nil, err
	}
	if err := config.Validate(logger); err != nil {
		return nil, err
	}
	return config, nil
}

// NewConfigFromEnv collects the settings without applying defaults
func NewConfigFromEnv() (*Config, error) {
	p := &parser{}

	config := &Config{
		Port:            os.Getenv("PORT"),
		Env:             strings.ToLower(os.Getenv("APP_ENV")),
		ShutdownTimeout: p.duration("SHUTDOWN_TIMEOUT"),

		JWTSecret: os.Getenv("JWT_SECRET"),
		JWTTTL:    p.duration("JWT_TTL"),

		Gemini: llm.GeminiConfig{
			APIKey:          os.Getenv("GEMINI_API_KEY"),
			DownloadTimeout: p.duration("GEMINI_DOWNLOAD_TIMEOUT"),
		},
		Chat: llm.ChatConfig{
			Model: os.Getenv("GEMINI_CHAT_MODEL"),
		},
		Studio: usecase.StudioConfig{
			Models: usecase.Models{
				Audit:      os.Getenv("GEMINI_AUDIT_MODEL"),
				Image:      os.Getenv("GEMINI_IMAGE_MODEL"),
				Speech:     os.Getenv("GEMINI_SPEECH_MODEL"),
				Transcribe: os.Getenv("GEMINI_TRANSCRIBE_MODEL"),
				Refine:     os.Getenv("GEMINI_REFINE_MODEL"),
			},
			ChatHistoryLimit: p.integer("CHAT_HISTORY_LIMIT"),
		},
		Video: videogen.Config{
			Model:        os.Getenv("GEMINI_VIDEO_MODEL"),
			Resolution:   os.Getenv("VIDEO_RESOLUTION"),
			PollInterval: p.duration("VIDEO_POLL_INTERVAL"),
			MaxDuration:  p.duration("VIDEO_MAX_DURATION"),
		},

		TranscribeBackend: strings.ToLower(os.Getenv("TRANSCRIBE_BACKEND")),
		Speech: stt.GoogleSpeechConfig{
			LanguageCode: os.Getenv("GOOGLE_SPEECH_LANGUAGE"),
			SampleRate:   p.integer("GOOGLE_SPEECH_SAMPLE_RATE"),
		},

		Supabase: supabase.Config{
			URL:        os.Getenv("SUPABASE_URL"),
			ServiceKey: os.Getenv("SUPABASE_SERVICE_KEY"),
		},
		Mongo: mongo.Config{
			URI:      os.Getenv("MONGODB_URI"),
			Database: os.Getenv("MONGODB_DATABASE"),
		},
		Stripe: payment.StripeConfig{
			SecretKey:     os.Getenv("STRIPE_SECRET_KEY"),
			WebhookSecret: os.Getenv("STRIPE_WEBHOOK_SECRET"),
			Currency:      os.Getenv("STRIPE_CURRENCY"),
			SuccessURL:    os.Getenv("STRIPE_SUCCESS_URL"),
			CancelURL:     os.Getenv("STRIPE_CANCEL_URL"),
		},

		ReconcileInterval: p.duration("LEDGER_RECONCILE_INTERVAL"),
	}

	if len(p.errs) > 0 {
		return nil, errors.Join(p.errs...)
	}
	return config, nil
}

// Validate fills defaults and rejects inconsistent settings
func (c *Config) Validate(logger *zap.Logger) error {
	if c.Port == "" {
		c.Port = defaultPort
		logger.Info("Using default port", zap.String("port", c.Port))
	}
	if c.Env == "" {
		c.Env = EnvProduction
	}
	if c.Env != EnvProduction && c.Env != EnvDevelopment {
		return fmt.Errorf("APP_ENV must be %s or %s, got %q", EnvDevelopment, EnvProduction, c.Env)
	}
	if c.ShutdownTimeout == 0 {
		c.ShutdownTimeout = defaultShutdownTimeout
	}

	if c.JWTSecret == "" {
		if !c.Development() {
			return fmt.Errorf("JWT_SECRET is required in %s", c.Env)
		}
		c.JWTSecret = devJWTSecret
		logger.Warn("Using development JWT secret")
	}

	if c.TranscribeBackend == "" {
		c.TranscribeBackend = TranscribeGemini
		logger.Info("Using default transcription backend", zap.String("backend", c.TranscribeBackend))
	}
	switch c.TranscribeBackend {
	case TranscribeGemini:
	case TranscribeGoogleSpeech:
		if err := stt.ValidateGoogleSpeechConfig(&c.Speech, logger); err != nil {
			return err
		}
	default:
		return fmt.Errorf("TRANSCRIBE_BACKEND must be %s or %s, got %q", TranscribeGemini, TranscribeGoogleSpeech, c.TranscribeBackend)
	}

	if !c.GeminiEnabled() && !c.Development() {
		return errors.New("GEMINI_API_KEY is required outside development")
	}
	if err := llm.ValidateChatConfig(c.Chat); err != nil {
		return err
	}
	if err := usecase.ValidateStudioConfig(&c.Studio, logger); err != nil {
		return err
	}
	if err := videogen.ValidateConfig(&c.Video, logger); err != nil {
		return err
	}

	if (c.Supabase.URL == "") != (c.Supabase.ServiceKey == "") {
		return errors.New("SUPABASE_URL and SUPABASE_SERVICE_KEY must be set together")
	}
	if c.PaymentsEnabled() {
		if err := payment.ValidateStripeConfig(&c.Stripe, logger); err != nil {
			return err
		}
	}

	if c.ReconcileInterval == 0 {
		c.ReconcileInterval = defaultReconcileInterval
		logger.Info("Using default reconcile interval", zap.Duration("interval", c.ReconcileInterval))
	}
	if c.ReconcileInterval < 0 {
		return fmt.Errorf("LEDGER_RECONCILE_INTERVAL must be positive, got %s", c.ReconcileInterval)
	}
	return nil
}

// Development reports whether APP_ENV is development
func (c *Config) Development() bool {
	return c.Env == EnvDevelopment
}

// GeminiEnabled reports whether the real inference provider is configured
func (c *Config) GeminiEnabled() bool {
	return c.Gemini.APIKey != ""
}

// SupabaseEnabled reports whether profiles live in Supabase
func (c *Config) SupabaseEnabled() bool {
	return c.Supabase.URL != ""
}

// MongoEnabled reports whether orders and conversations live in MongoDB
func (c *Config) MongoEnabled() bool {
	return c.Mongo.URI != ""
}

// PaymentsEnabled reports whether Stripe is configured
func (c *Config) PaymentsEnabled() bool {
	return c.Stripe.SecretKey != ""
}

// parser collects malformed values instead of silently ignoring them
type parser struct {
	errs []error
}

func (p *parser) duration(key string) time.Duration {
	raw := os.Getenv(key)
	if raw == "" {
		return 0
	}
	d, err := time.ParseDuration(raw)
	if err != nil {
		p.errs = append(p.errs, fmt.Errorf("%s: %w", key, err))
	}
	return d
}

func (p *parser) integer(key string) int {
	raw := os.Getenv(key)
	if raw == "" {
		return 0
	}
	n, err := strconv.Atoi(raw)
	if err != nil {
		p.errs = append(p.errs, fmt.Errorf("%s: %w", key, err))
	}
	return n
}
