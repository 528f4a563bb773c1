package ledger

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/exbuilderia/studio/server/domain"
	"github.com/exbuilderia/studio/server/domain/entities"
	"github.com/exbuilderia/studio/server/domain/repositories"
)

const defaultPersistTimeout = 10 * time.Second

// Receipt describes the outcome of a ledger decision.
// Synced yields exactly one value once the remote write settles (nil for guests)
// and is then closed.
type Receipt struct {
	Granted   bool
	Operation entities.OperationKind
	Amount    decimal.Decimal
	Balance   decimal.Decimal
	Synced    <-chan error
}

type entry struct {
	account *entities.Account
	// seq increases on every local mutation
	seq      uint64
	inflight int

	// persistMu serializes remote writes for the account
	persistMu    sync.Mutex
	persistedSeq uint64
}

// Ledger is the single authority over account balances. Balances are
// decremented locally first and written to the profile store in the background.
type Ledger struct {
	store          repositories.ProfileStore
	costs          entities.CostTable
	logger         *zap.Logger
	persistTimeout time.Duration

	mu       sync.Mutex
	accounts map[string]*entry
	pending  sync.WaitGroup
}

// New creates a ledger backed by store
func New(store repositories.ProfileStore, costs entities.CostTable, logger *zap.Logger) *Ledger {
	return &Ledger{
		store:          store,
		costs:          costs,
		logger:         logger,
		persistTimeout: defaultPersistTimeout,
		accounts:       make(map[string]*entry),
	}
}

// Open loads an account from the profile store into the session. A backend
// failure falls back to a fresh starter account flagged as stale.
func (l *Ledger) Open(ctx context.Context, userID, emailHint, nameHint string) (entities.Account, error) {
	if userID == "" {
		return entities.Account{}, domain.Errorf(domain.KindInvalidInput, "ledger.open", "user id is required")
	}
	if entities.IsGuestID(userID) {
		return entities.Account{}, domain.Errorf(domain.KindInvalidInput, "ledger.open", "guest ids cannot be opened from the profile store")
	}

	l.mu.Lock()
	if e, ok := l.accounts[userID]; ok {
		snapshot := e.account.Snapshot()
		l.mu.Unlock()
		return snapshot, nil
	}
	l.mu.Unlock()

	account, err := l.store.GetProfile(ctx, userID, emailHint, nameHint)
	if err != nil {
		l.logger.Warn("Profile store unavailable, using local default",
			zap.String("accountID", userID),
			zap.Error(err))
		account = entities.NewAccount(userID, emailHint, nameHint)
		account.Stale = true
	}
	if err := account.Validate(); err != nil {
		l.logger.Warn("Profile store returned an invalid account, using local default",
			zap.String("accountID", userID),
			zap.Error(err))
		account = entities.NewAccount(userID, emailHint, nameHint)
		account.Stale = true
	}

	l.mu.Lock()
	defer l.mu.Unlock()
	if e, ok := l.accounts[userID]; ok {
		return e.account.Snapshot(), nil
	}
	l.accounts[userID] = &entry{account: account}

	l.logger.Info("Account opened",
		zap.String("accountID", userID),
		zap.String("balance", account.Credits.String()))
	return account.Snapshot(), nil
}

// OpenGuest creates an in-memory guest account that is never persisted
func (l *Ledger) OpenGuest() entities.Account {
	account := entities.NewGuestAccount()

	l.mu.Lock()
	l.accounts[account.ID] = &entry{account: account}
	l.mu.Unlock()

	l.logger.Info("Guest account opened", zap.String("accountID", account.ID))
	return account.Snapshot()
}

// Close drops an account from the session
func (l *Ledger) Close(accountID string) {
	l.mu.Lock()
	delete(l.accounts, accountID)
	l.mu.Unlock()
}

// Account returns a read-only view of the current balance
func (l *Ledger) Account(accountID string) (entities.Account, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	e, ok := l.accounts[accountID]
	if !ok {
		return entities.Account{}, domain.Errorf(domain.KindAccountNotFound, "ledger.account", "account %s is not open", accountID)
	}
	return e.account.Snapshot(), nil
}

// AccountIDs lists the open accounts
func (l *Ledger) AccountIDs() []string {
	l.mu.Lock()
	defer l.mu.Unlock()
	ids := make([]string, 0, len(l.accounts))
	for id := range l.accounts {
		ids = append(ids, id)
	}
	return ids
}

// Authorize charges the cost of op when the balance covers it. A denied
// authorization does not mutate anything. A granted one decrements the local
// balance immediately and persists it in the background; persistence failure
// never revokes the grant.
func (l *Ledger) Authorize(ctx context.Context, accountID string, op entities.OperationKind) (Receipt, error) {
	cost, ok := l.costs.Cost(op)
	if !ok {
		return Receipt{}, domain.Errorf(domain.KindInvalidInput, "ledger.authorize", "unknown operation %q", op)
	}

	l.mu.Lock()
	e, ok := l.accounts[accountID]
	if !ok {
		l.mu.Unlock()
		return Receipt{}, domain.Errorf(domain.KindAccountNotFound, "ledger.authorize", "account %s is not open", accountID)
	}

	if !e.account.CanAfford(cost) {
		balance := e.account.Credits
		l.mu.Unlock()

		l.logger.Info("Authorization denied",
			zap.String("accountID", accountID),
			zap.String("operation", string(op)),
			zap.String("cost", cost.String()),
			zap.String("balance", balance.String()))

		return Receipt{
			Granted:   false,
			Operation: op,
			Amount:    cost,
			Balance:   balance,
			Synced:    settled(nil),
		}, nil
	}

	e.account.Credits = e.account.Credits.Sub(cost)
	e.account.UpdatedAt = time.Now()
	balance := e.account.Credits
	synced := l.schedulePersist(ctx, accountID, e)
	l.mu.Unlock()

	l.logger.Info("Authorization granted",
		zap.String("accountID", accountID),
		zap.String("operation", string(op)),
		zap.String("cost", cost.String()),
		zap.String("balance", balance.String()))

	return Receipt{
		Granted:   true,
		Operation: op,
		Amount:    cost,
		Balance:   balance,
		Synced:    synced,
	}, nil
}

// Credit adds amount to the balance with the same optimistic persistence as Authorize
func (l *Ledger) Credit(ctx context.Context, accountID string, amount decimal.Decimal) (Receipt, error) {
	if !amount.IsPositive() {
		return Receipt{}, domain.Errorf(domain.KindInvalidInput, "ledger.credit", "credit amount must be positive, got %s", amount)
	}

	l.mu.Lock()
	e, ok := l.accounts[accountID]
	if !ok {
		l.mu.Unlock()
		return Receipt{}, domain.Errorf(domain.KindAccountNotFound, "ledger.credit", "account %s is not open", accountID)
	}

	e.account.Credits = e.account.Credits.Add(amount)
	e.account.UpdatedAt = time.Now()
	balance := e.account.Credits
	synced := l.schedulePersist(ctx, accountID, e)
	l.mu.Unlock()

	l.logger.Info("Account credited",
		zap.String("accountID", accountID),
		zap.String("amount", amount.String()),
		zap.String("balance", balance.String()))

	return Receipt{
		Granted: true,
		Amount:  amount,
		Balance: balance,
		Synced:  synced,
	}, nil
}

// Reconcile overwrites the local balance with the remote one. It is a no-op
// for guests and while a write for the account is still in flight.
func (l *Ledger) Reconcile(ctx context.Context, accountID string) error {
	l.mu.Lock()
	e, ok := l.accounts[accountID]
	if !ok {
		l.mu.Unlock()
		return domain.Errorf(domain.KindAccountNotFound, "ledger.reconcile", "account %s is not open", accountID)
	}
	if e.account.IsGuest() || e.inflight > 0 {
		l.mu.Unlock()
		return nil
	}
	seq := e.seq
	email, name := e.account.Email, e.account.DisplayName
	l.mu.Unlock()

	remote, err := l.store.GetProfile(ctx, accountID, email, name)
	if err != nil {
		return domain.E(domain.KindLedgerSyncFailed, "ledger.reconcile", err)
	}
	if err := remote.Validate(); err != nil {
		return domain.E(domain.KindLedgerSyncFailed, "ledger.reconcile", err)
	}

	l.mu.Lock()
	defer l.mu.Unlock()
	current, ok := l.accounts[accountID]
	if !ok || current != e || e.seq != seq || e.inflight > 0 {
		// the balance moved while we were reading; the next pass will catch up
		return nil
	}
	if !e.account.Credits.Equal(remote.Credits) {
		l.logger.Info("Balance reconciled from profile store",
			zap.String("accountID", accountID),
			zap.String("local", e.account.Credits.String()),
			zap.String("remote", remote.Credits.String()))
	}
	e.account.Credits = remote.Credits
	e.account.Stale = false
	e.account.UpdatedAt = time.Now()
	return nil
}

// Wait blocks until every background write has settled
func (l *Ledger) Wait() {
	l.pending.Wait()
}

// schedulePersist must be called with l.mu held
func (l *Ledger) schedulePersist(ctx context.Context, accountID string, e *entry) <-chan error {
	e.seq++
	if e.account.IsGuest() {
		return settled(nil)
	}

	e.inflight++
	seq := e.seq
	balance := e.account.Credits
	result := make(chan error, 1)

	persistCtx := context.WithoutCancel(ctx)
	l.pending.Add(1)
	go func() {
		defer l.pending.Done()
		defer close(result)
		err := l.persist(persistCtx, accountID, e, seq, balance)
		result <- err
	}()
	return result
}

func (l *Ledger) persist(ctx context.Context, accountID string, e *entry, seq uint64, balance decimal.Decimal) error {
	e.persistMu.Lock()
	defer e.persistMu.Unlock()

	var err error
	if seq > e.persistedSeq {
		ctx, cancel := context.WithTimeout(ctx, l.persistTimeout)
		err = l.store.UpdateBalance(ctx, accountID, balance)
		cancel()
		if err == nil {
			e.persistedSeq = seq
		}
	}

	l.mu.Lock()
	e.inflight--
	if err != nil {
		e.account.Stale = true
	} else if e.persistedSeq == e.seq {
		e.account.Stale = false
	}
	l.mu.Unlock()

	if err != nil {
		l.logger.Warn("Failed to persist balance",
			zap.String("accountID", accountID),
			zap.String("balance", balance.String()),
			zap.Error(err))
		return domain.E(domain.KindLedgerSyncFailed, "ledger.persist", err)
	}
	return nil
}

func settled(err error) <-chan error {
	ch := make(chan error, 1)
	ch <- err
	close(ch)
	return ch
}

// IsSyncFailure reports whether err is a non-fatal persistence failure
func IsSyncFailure(err error) bool {
	var e *domain.Error
	return errors.As(err, &e) && e.Kind == domain.KindLedgerSyncFailed
}
