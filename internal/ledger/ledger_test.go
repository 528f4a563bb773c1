package ledger

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"go.uber.org/zap/zaptest"

	"github.com/exbuilderia/studio/server/domain"
	"github.com/exbuilderia/studio/server/domain/entities"
)

type fakeProfileStore struct {
	mu         sync.Mutex
	profiles   map[string]*entities.Account
	getErr     error
	updateErr  error
	updates    []decimal.Decimal
	getCalls   int
}

func newFakeProfileStore() *fakeProfileStore {
	return &fakeProfileStore{profiles: make(map[string]*entities.Account)}
}

func (f *fakeProfileStore) GetProfile(ctx context.Context, userID, emailHint, nameHint string) (*entities.Account, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.getCalls++
	if f.getErr != nil {
		return nil, f.getErr
	}
	if p, ok := f.profiles[userID]; ok {
		copied := *p
		return &copied, nil
	}
	p := entities.NewAccount(userID, emailHint, nameHint)
	f.profiles[userID] = p
	copied := *p
	return &copied, nil
}

func (f *fakeProfileStore) UpdateBalance(ctx context.Context, userID string, balance decimal.Decimal) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.updateErr != nil {
		return f.updateErr
	}
	f.updates = append(f.updates, balance)
	if p, ok := f.profiles[userID]; ok {
		p.Credits = balance
	}
	return nil
}

func (f *fakeProfileStore) setBalance(userID string, balance decimal.Decimal) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.profiles[userID] = &entities.Account{ID: userID, Credits: balance}
}

func (f *fakeProfileStore) updateCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.updates)
}

func newTestLedger(t *testing.T, store *fakeProfileStore) *Ledger {
	return New(store, entities.DefaultCostTable(), zaptest.NewLogger(t))
}

func openWithBalance(t *testing.T, l *Ledger, store *fakeProfileStore, id, balance string) {
	store.setBalance(id, decimal.RequireFromString(balance))
	if _, err := l.Open(context.Background(), id, "", ""); err != nil {
		t.Fatalf("Failed to open account: %v", err)
	}
}

func TestAuthorize_InsufficientBalanceLeavesBalanceUnchanged(t *testing.T) {
	store := newFakeProfileStore()
	l := newTestLedger(t, store)
	openWithBalance(t, l, store, "user-1", "1.5")

	receipt, err := l.Authorize(context.Background(), "user-1", entities.OperationComplianceAuditVideo)
	if err != nil {
		t.Fatalf("Unexpected error: %v", err)
	}

	if receipt.Granted {
		t.Error("Expected authorization to be denied")
	}

	account, _ := l.Account("user-1")
	if !account.Credits.Equal(decimal.RequireFromString("1.5")) {
		t.Errorf("Expected balance to stay 1.5, got %s", account.Credits)
	}

	l.Wait()
	if store.updateCount() != 0 {
		t.Errorf("Denied authorization should not persist, got %d writes", store.updateCount())
	}
}

func TestAuthorize_GrantIffBalanceCoversCost(t *testing.T) {
	tests := []struct {
		balance string
		op      entities.OperationKind
		granted bool
		after   string
	}{
		{"10", entities.OperationVideoGenerate, true, "5"},
		{"5", entities.OperationVideoGenerate, true, "0"},
		{"4.99", entities.OperationVideoGenerate, false, "4.99"},
		{"0.5", entities.OperationChatTurn, true, "0"},
		{"0.4", entities.OperationChatTurn, false, "0.4"},
		{"1.1", entities.OperationChatTurn, true, "0.6"},
		{"0", entities.OperationImageEdit, false, "0"},
		{"2", entities.OperationComplianceAuditVideo, true, "0"},
	}

	for _, tt := range tests {
		store := newFakeProfileStore()
		l := newTestLedger(t, store)
		openWithBalance(t, l, store, "user-1", tt.balance)

		receipt, err := l.Authorize(context.Background(), "user-1", tt.op)
		if err != nil {
			t.Fatalf("Unexpected error: %v", err)
		}
		if receipt.Granted != tt.granted {
			t.Errorf("balance %s op %s: expected granted=%v, got %v", tt.balance, tt.op, tt.granted, receipt.Granted)
		}

		want := decimal.RequireFromString(tt.after)
		if !receipt.Balance.Equal(want) {
			t.Errorf("balance %s op %s: expected resulting balance %s, got %s", tt.balance, tt.op, want, receipt.Balance)
		}
		if receipt.Balance.IsNegative() {
			t.Errorf("balance went negative: %s", receipt.Balance)
		}
		l.Wait()
	}
}

func TestAuthorize_RepeatedFractionalChargesAreExact(t *testing.T) {
	store := newFakeProfileStore()
	l := newTestLedger(t, store)
	openWithBalance(t, l, store, "user-1", "1")

	for i := 0; i < 2; i++ {
		receipt, err := l.Authorize(context.Background(), "user-1", entities.OperationChatTurn)
		if err != nil || !receipt.Granted {
			t.Fatalf("Expected chat turn %d to be granted, err=%v", i, err)
		}
	}

	receipt, _ := l.Authorize(context.Background(), "user-1", entities.OperationChatTurn)
	if receipt.Granted {
		t.Error("Third chat turn should be denied at zero balance")
	}
	if !receipt.Balance.IsZero() {
		t.Errorf("Expected exactly zero, got %s", receipt.Balance)
	}
}

func TestAuthorize_PersistsBalanceRemotely(t *testing.T) {
	store := newFakeProfileStore()
	l := newTestLedger(t, store)
	openWithBalance(t, l, store, "user-1", "10")

	receipt, err := l.Authorize(context.Background(), "user-1", entities.OperationVideoGenerate)
	if err != nil {
		t.Fatalf("Unexpected error: %v", err)
	}

	if err := <-receipt.Synced; err != nil {
		t.Errorf("Expected persistence to succeed, got %v", err)
	}

	if store.updateCount() != 1 {
		t.Fatalf("Expected one remote write, got %d", store.updateCount())
	}
	if !store.updates[0].Equal(decimal.NewFromInt(5)) {
		t.Errorf("Expected remote balance 5, got %s", store.updates[0])
	}
}

func TestAuthorize_PersistFailureDoesNotRollBack(t *testing.T) {
	store := newFakeProfileStore()
	l := newTestLedger(t, store)
	openWithBalance(t, l, store, "user-1", "3")
	store.updateErr = errors.New("connection refused")

	receipt, err := l.Authorize(context.Background(), "user-1", entities.OperationComplianceAuditVideo)
	if err != nil {
		t.Fatalf("Unexpected error: %v", err)
	}
	if !receipt.Granted {
		t.Fatal("Expected grant despite the failing store")
	}

	syncErr := <-receipt.Synced
	if !domain.IsKind(syncErr, domain.KindLedgerSyncFailed) {
		t.Errorf("Expected ledger sync failure, got %v", syncErr)
	}
	if !IsSyncFailure(syncErr) {
		t.Error("IsSyncFailure should recognise the error")
	}

	account, _ := l.Account("user-1")
	if !account.Credits.Equal(decimal.NewFromInt(1)) {
		t.Errorf("Expected local balance 1 to be kept, got %s", account.Credits)
	}
	if !account.Stale {
		t.Error("Expected balance to be flagged stale")
	}
}

func TestAuthorize_GuestSkipsPersistence(t *testing.T) {
	store := newFakeProfileStore()
	l := newTestLedger(t, store)
	guest := l.OpenGuest()

	receipt, err := l.Authorize(context.Background(), guest.ID, entities.OperationVideoGenerate)
	if err != nil {
		t.Fatalf("Unexpected error: %v", err)
	}
	if !receipt.Granted {
		t.Fatal("Expected guest authorization to be granted")
	}
	if err := <-receipt.Synced; err != nil {
		t.Errorf("Guest sync should settle with nil, got %v", err)
	}

	l.Wait()
	if store.updateCount() != 0 {
		t.Errorf("Guest should never be persisted, got %d writes", store.updateCount())
	}

	account, _ := l.Account(guest.ID)
	if !account.Credits.Equal(decimal.NewFromInt(95)) {
		t.Errorf("Expected guest balance 95, got %s", account.Credits)
	}
}

func TestAuthorize_UnknownAccountAndOperation(t *testing.T) {
	store := newFakeProfileStore()
	l := newTestLedger(t, store)

	_, err := l.Authorize(context.Background(), "nobody", entities.OperationChatTurn)
	if !domain.IsKind(err, domain.KindAccountNotFound) {
		t.Errorf("Expected account not found, got %v", err)
	}

	openWithBalance(t, l, store, "user-1", "10")
	_, err = l.Authorize(context.Background(), "user-1", entities.OperationKind("teleport"))
	if !domain.IsKind(err, domain.KindInvalidInput) {
		t.Errorf("Expected invalid input, got %v", err)
	}
}

func TestOpen_FallsBackOnStoreError(t *testing.T) {
	store := newFakeProfileStore()
	store.getErr = errors.New("timeout")
	l := newTestLedger(t, store)

	account, err := l.Open(context.Background(), "user-1", "a@b.c", "Ana")
	if err != nil {
		t.Fatalf("Open should not fail on backend error, got %v", err)
	}

	if !account.Credits.Equal(entities.StarterBalance) {
		t.Errorf("Expected starter balance, got %s", account.Credits)
	}
	if account.DisplayName != "Ana" {
		t.Errorf("Expected name hint to be kept, got %s", account.DisplayName)
	}
	if !account.Stale {
		t.Error("Fallback account should be flagged stale")
	}
}

func TestOpen_ReturnsExistingSessionAccount(t *testing.T) {
	store := newFakeProfileStore()
	l := newTestLedger(t, store)
	openWithBalance(t, l, store, "user-1", "10")

	if _, err := l.Authorize(context.Background(), "user-1", entities.OperationImageEdit); err != nil {
		t.Fatalf("Unexpected error: %v", err)
	}
	l.Wait()

	account, err := l.Open(context.Background(), "user-1", "", "")
	if err != nil {
		t.Fatalf("Unexpected error: %v", err)
	}
	if !account.Credits.Equal(decimal.NewFromInt(9)) {
		t.Errorf("Expected in-session balance 9, got %s", account.Credits)
	}
	if store.getCalls != 1 {
		t.Errorf("Expected a single profile fetch, got %d", store.getCalls)
	}
}

func TestOpen_RejectsGuestIDs(t *testing.T) {
	l := newTestLedger(t, newFakeProfileStore())
	if _, err := l.Open(context.Background(), entities.GuestIDPrefix, "", ""); !domain.IsKind(err, domain.KindInvalidInput) {
		t.Errorf("Expected invalid input for guest id, got %v", err)
	}
}

func TestCredit(t *testing.T) {
	store := newFakeProfileStore()
	l := newTestLedger(t, store)
	openWithBalance(t, l, store, "user-1", "1.5")

	receipt, err := l.Credit(context.Background(), "user-1", decimal.NewFromInt(120))
	if err != nil {
		t.Fatalf("Unexpected error: %v", err)
	}
	if !receipt.Balance.Equal(decimal.RequireFromString("121.5")) {
		t.Errorf("Expected 121.5, got %s", receipt.Balance)
	}
	if err := <-receipt.Synced; err != nil {
		t.Errorf("Expected persistence to succeed, got %v", err)
	}

	if _, err := l.Credit(context.Background(), "user-1", decimal.Zero); !domain.IsKind(err, domain.KindInvalidInput) {
		t.Errorf("Expected invalid input for zero credit, got %v", err)
	}
}

func TestReconcile_OverwritesLocalBalance(t *testing.T) {
	store := newFakeProfileStore()
	l := newTestLedger(t, store)
	openWithBalance(t, l, store, "user-1", "10")

	store.updateErr = errors.New("down")
	receipt, _ := l.Authorize(context.Background(), "user-1", entities.OperationImageEdit)
	<-receipt.Synced
	l.Wait()

	store.updateErr = nil
	store.setBalance("user-1", decimal.NewFromInt(42))

	if err := l.Reconcile(context.Background(), "user-1"); err != nil {
		t.Fatalf("Unexpected error: %v", err)
	}

	account, _ := l.Account("user-1")
	if !account.Credits.Equal(decimal.NewFromInt(42)) {
		t.Errorf("Expected remote balance 42, got %s", account.Credits)
	}
	if account.Stale {
		t.Error("Expected stale flag to be cleared")
	}
}

func TestReconcile_SkipsGuests(t *testing.T) {
	store := newFakeProfileStore()
	l := newTestLedger(t, store)
	guest := l.OpenGuest()

	if err := l.Reconcile(context.Background(), guest.ID); err != nil {
		t.Fatalf("Unexpected error: %v", err)
	}
	if store.getCalls != 0 {
		t.Errorf("Guests should never be read remotely, got %d reads", store.getCalls)
	}
}

func TestReconciler_RunOnce(t *testing.T) {
	store := newFakeProfileStore()
	l := newTestLedger(t, store)
	openWithBalance(t, l, store, "user-1", "10")
	store.setBalance("user-1", decimal.NewFromInt(7))

	r := NewReconciler(l, time.Minute, zaptest.NewLogger(t))
	r.RunOnce(context.Background())

	account, _ := l.Account("user-1")
	if !account.Credits.Equal(decimal.NewFromInt(7)) {
		t.Errorf("Expected reconciled balance 7, got %s", account.Credits)
	}
}

func TestReconciler_StartStop(t *testing.T) {
	l := newTestLedger(t, newFakeProfileStore())
	r := NewReconciler(l, 10*time.Millisecond, zaptest.NewLogger(t))
	r.Start()
	time.Sleep(25 * time.Millisecond)
	r.Stop()
}

// gatedProfileStore holds reads or writes until their gate is closed
type gatedProfileStore struct {
	*fakeProfileStore
	getGate    chan struct{}
	reading    chan struct{}
	updateGate chan struct{}
}

func (g *gatedProfileStore) GetProfile(ctx context.Context, userID, emailHint, nameHint string) (*entities.Account, error) {
	account, err := g.fakeProfileStore.GetProfile(ctx, userID, emailHint, nameHint)
	if g.getGate != nil {
		g.reading <- struct{}{}
		<-g.getGate
	}
	return account, err
}

func (g *gatedProfileStore) UpdateBalance(ctx context.Context, userID string, balance decimal.Decimal) error {
	if g.updateGate != nil {
		<-g.updateGate
	}
	return g.fakeProfileStore.UpdateBalance(ctx, userID, balance)
}

func TestReconcile_SkipsAccountWithWriteInFlight(t *testing.T) {
	store := &gatedProfileStore{fakeProfileStore: newFakeProfileStore()}
	l := New(store, entities.DefaultCostTable(), zaptest.NewLogger(t))
	openWithBalance(t, l, store.fakeProfileStore, "user-1", "10")

	store.updateGate = make(chan struct{})
	receipt, err := l.Authorize(context.Background(), "user-1", entities.OperationComplianceAuditVideo)
	if err != nil || !receipt.Granted {
		t.Fatalf("Expected grant, got %+v %v", receipt, err)
	}

	if err := l.Reconcile(context.Background(), "user-1"); err != nil {
		t.Fatalf("Unexpected error: %v", err)
	}
	account, _ := l.Account("user-1")
	if !account.Credits.Equal(decimal.NewFromInt(8)) {
		t.Errorf("Expected unpersisted balance 8 to survive reconciliation, got %s", account.Credits)
	}

	close(store.updateGate)
	<-receipt.Synced
	l.Wait()

	if err := l.Reconcile(context.Background(), "user-1"); err != nil {
		t.Fatalf("Unexpected error: %v", err)
	}
	account, _ = l.Account("user-1")
	if !account.Credits.Equal(decimal.NewFromInt(8)) || account.Stale {
		t.Errorf("Expected persisted balance 8, got %s stale=%v", account.Credits, account.Stale)
	}
}

func TestReconcile_KeepsBalanceChangedDuringRead(t *testing.T) {
	store := &gatedProfileStore{fakeProfileStore: newFakeProfileStore()}
	l := New(store, entities.DefaultCostTable(), zaptest.NewLogger(t))
	openWithBalance(t, l, store.fakeProfileStore, "user-1", "10")

	store.getGate = make(chan struct{})
	store.reading = make(chan struct{}, 1)

	done := make(chan error, 1)
	go func() { done <- l.Reconcile(context.Background(), "user-1") }()
	<-store.reading

	receipt, err := l.Authorize(context.Background(), "user-1", entities.OperationComplianceAuditVideo)
	if err != nil || !receipt.Granted {
		t.Fatalf("Expected grant, got %+v %v", receipt, err)
	}
	if err := <-receipt.Synced; err != nil {
		t.Fatalf("Unexpected sync error: %v", err)
	}

	close(store.getGate)
	if err := <-done; err != nil {
		t.Fatalf("Unexpected error: %v", err)
	}

	account, _ := l.Account("user-1")
	if !account.Credits.Equal(decimal.NewFromInt(8)) {
		t.Errorf("Expected the charge made during the read to be kept, got %s", account.Credits)
	}
}

// slowFirstWriteStore applies its first write only after the caller gave up
type slowFirstWriteStore struct {
	*fakeProfileStore
	mu    sync.Mutex
	calls int
}

func (s *slowFirstWriteStore) UpdateBalance(ctx context.Context, userID string, balance decimal.Decimal) error {
	s.mu.Lock()
	s.calls++
	first := s.calls == 1
	s.mu.Unlock()

	if !first {
		return s.fakeProfileStore.UpdateBalance(ctx, userID, balance)
	}
	time.Sleep(100 * time.Millisecond)
	if err := s.fakeProfileStore.UpdateBalance(ctx, userID, balance); err != nil {
		return err
	}
	return ctx.Err()
}

func TestAuthorize_LateWriteDoesNotOverwriteNewerBalance(t *testing.T) {
	store := &slowFirstWriteStore{fakeProfileStore: newFakeProfileStore()}
	l := New(store, entities.DefaultCostTable(), zaptest.NewLogger(t))
	l.persistTimeout = 20 * time.Millisecond
	openWithBalance(t, l, store.fakeProfileStore, "user-1", "10")

	first, _ := l.Authorize(context.Background(), "user-1", entities.OperationComplianceAuditVideo)
	second, _ := l.Authorize(context.Background(), "user-1", entities.OperationComplianceAuditVideo)
	if err := <-first.Synced; !IsSyncFailure(err) {
		t.Errorf("Expected the slow write to report a sync failure, got %v", err)
	}
	if err := <-second.Synced; err != nil {
		t.Errorf("Unexpected error on second write: %v", err)
	}
	l.Wait()

	remote, _ := store.fakeProfileStore.GetProfile(context.Background(), "user-1", "", "")
	if !remote.Credits.Equal(decimal.NewFromInt(6)) {
		t.Errorf("Expected remote balance 6, got %s", remote.Credits)
	}

	if err := l.Reconcile(context.Background(), "user-1"); err != nil {
		t.Fatalf("Unexpected error: %v", err)
	}
	account, _ := l.Account("user-1")
	if !account.Credits.Equal(decimal.NewFromInt(6)) || account.Stale {
		t.Errorf("Expected local balance 6 after reconcile, got %s stale=%v", account.Credits, account.Stale)
	}
}
