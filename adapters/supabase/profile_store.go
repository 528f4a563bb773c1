package supabase

import (
	"context"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/shopspring/decimal"
	"github.com/supabase-community/postgrest-go"
	"go.uber.org/zap"

	"github.com/exbuilderia/studio/server/domain/entities"
	"github.com/exbuilderia/studio/server/domain/repositories"
)

const (
	profilesTable   = "profiles"
	profileColumns  = "id,email,full_name,avatar_url,credits,updated_at"
	defaultTimeout  = 10 * time.Second
	// defaultRequestTimeout bounds a request that never answers
	defaultRequestTimeout = time.Minute
	uniqueViolation = "23505"
)

var _ repositories.ProfileStore = (*ProfileStore)(nil)

// Config points at a Supabase project
type Config struct {
	URL        string
	ServiceKey string
	// Timeout is how long a caller waits before the call is reported as failed
	Timeout time.Duration
	// RequestTimeout aborts a request whose response headers never arrive
	RequestTimeout time.Duration
}

// ValidateConfig validates the Config
func ValidateConfig(config Config) error {
	if config.URL == "" {
		return fmt.Errorf("Supabase URL is required")
	}
	if config.ServiceKey == "" {
		return fmt.Errorf("Supabase service key is required")
	}
	return nil
}

type profileRow struct {
	ID        string          `json:"id"`
	Email     string          `json:"email,omitempty"`
	FullName  string          `json:"full_name,omitempty"`
	AvatarURL *string         `json:"avatar_url,omitempty"`
	Credits   decimal.Decimal `json:"credits"`
	UpdatedAt *time.Time      `json:"updated_at,omitempty"`
}

// ProfileStore keeps account balances in the Supabase profiles table
type ProfileStore struct {
	client  *postgrest.Client
	timeout time.Duration
	logger  *zap.Logger
}

// NewProfileStore creates a PostgREST backed profile store
func NewProfileStore(config Config, logger *zap.Logger) (*ProfileStore, error) {
	if err := ValidateConfig(config); err != nil {
		return nil, err
	}

	client := postgrest.NewClient(strings.TrimRight(config.URL, "/")+"/rest/v1", "", map[string]string{
		"apikey":        config.ServiceKey,
		"Authorization": fmt.Sprintf("Bearer %s", config.ServiceKey),
	})
	if client.ClientError != nil {
		return nil, fmt.Errorf("failed to initialize Supabase client: %w", client.ClientError)
	}

	timeout := config.Timeout
	if timeout == 0 {
		timeout = defaultTimeout
		logger.Info("Using default Supabase timeout", zap.Duration("timeout", timeout))
	}
	requestTimeout := config.RequestTimeout
	if requestTimeout == 0 {
		requestTimeout = defaultRequestTimeout
	}

	// postgrest-go requests carry no context, so the transport is the only place to abort them
	transport := http.DefaultTransport.(*http.Transport).Clone()
	transport.ResponseHeaderTimeout = requestTimeout
	client.Transport.Parent = transport

	return &ProfileStore{client: client, timeout: timeout, logger: logger}, nil
}

// GetProfile implements repositories.ProfileStore
func (s *ProfileStore) GetProfile(ctx context.Context, userID, emailHint, nameHint string) (*entities.Account, error) {
	rows, err := s.selectProfile(ctx, userID)
	if err != nil {
		return nil, err
	}
	if len(rows) > 0 {
		return rows[0].toAccount(), nil
	}

	account := entities.NewAccount(userID, emailHint, nameHint)
	created, err := s.insertProfile(ctx, account)
	if err != nil {
		// another session may have created it first
		if strings.Contains(err.Error(), uniqueViolation) {
			rows, err = s.selectProfile(ctx, userID)
			if err == nil && len(rows) > 0 {
				return rows[0].toAccount(), nil
			}
		}
		return nil, err
	}

	s.logger.Info("Profile created", zap.String("accountID", userID), zap.String("credits", account.Credits.String()))
	return created.toAccount(), nil
}

// UpdateBalance implements repositories.ProfileStore
func (s *ProfileStore) UpdateBalance(ctx context.Context, userID string, balance decimal.Decimal) error {
	var rows []profileRow
	err := s.run(ctx, func() error {
		_, err := s.client.From(profilesTable).
			Update(map[string]interface{}{
				"credits":    balance,
				"updated_at": time.Now().UTC(),
			}, "representation", "").
			Eq("id", userID).
			ExecuteTo(&rows)
		return err
	})
	if err != nil {
		return fmt.Errorf("failed to update balance for %s: %w", userID, err)
	}
	if len(rows) == 0 {
		return repositories.ErrNotFound
	}
	return nil
}

func (s *ProfileStore) selectProfile(ctx context.Context, userID string) ([]profileRow, error) {
	var rows []profileRow
	err := s.run(ctx, func() error {
		_, err := s.client.From(profilesTable).
			Select(profileColumns, "", false).
			Eq("id", userID).
			ExecuteTo(&rows)
		return err
	})
	if err != nil {
		return nil, fmt.Errorf("failed to get profile %s: %w", userID, err)
	}
	return rows, nil
}

func (s *ProfileStore) insertProfile(ctx context.Context, account *entities.Account) (*profileRow, error) {
	var rows []profileRow
	err := s.run(ctx, func() error {
		_, err := s.client.From(profilesTable).
			Insert(profileRow{
				ID:       account.ID,
				Email:    account.Email,
				FullName: account.DisplayName,
				Credits:  account.Credits,
			}, false, "", "representation", "").
			ExecuteTo(&rows)
		return err
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create profile %s: %w", account.ID, err)
	}
	if len(rows) == 0 {
		return nil, fmt.Errorf("profile %s missing after insert", account.ID)
	}
	return &rows[0], nil
}

// run bounds a PostgREST call, which takes no context of its own. A call
// that outlives ctx is still awaited before returning, so a late write can
// never land after one issued later by the same caller.
func (s *ProfileStore) run(ctx context.Context, call func() error) error {
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	done := make(chan error, 1)
	go func() { done <- call() }()

	select {
	case err := <-done:
		return err
	case <-ctx.Done():
	}

	err := <-done
	s.logger.Warn("Supabase call finished after its deadline",
		zap.Duration("timeout", s.timeout),
		zap.Error(err))
	return ctx.Err()
}

func (r profileRow) toAccount() *entities.Account {
	account := &entities.Account{
		ID:          r.ID,
		DisplayName: r.FullName,
		Email:       r.Email,
		Credits:     r.Credits,
	}
	if r.AvatarURL != nil {
		account.AvatarURL = *r.AvatarURL
	}
	if r.UpdatedAt != nil {
		account.UpdatedAt = *r.UpdatedAt
	}
	return account
}
