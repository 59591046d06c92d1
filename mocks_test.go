package credentials_test

import (
	"context"
	"database/sql"
	"strings"
	"sync"
	"time"

	credentials "github.com/goliatone/go-credentials"
	repository "github.com/goliatone/go-repository-bun"
	"github.com/google/uuid"
	"github.com/stretchr/testify/mock"
	"github.com/uptrace/bun"
)

func init() {
	// keep hashing fast in tests
	credentials.BcryptCost = 6
}

type testConfig struct {
	signingKey         string
	issuer             string
	audience           []string
	accessTTL          time.Duration
	refreshTTL         time.Duration
	confirmationWindow time.Duration
	resetWindow        time.Duration
	graceWindow        time.Duration
}

func newTestConfig() *testConfig {
	return &testConfig{
		signingKey:         "test-signing-key",
		issuer:             "issuer_name",
		audience:           []string{"client"},
		accessTTL:          time.Hour,
		refreshTTL:         336 * time.Hour,
		confirmationWindow: 3 * time.Hour,
		resetWindow:        20 * time.Minute,
		graceWindow:        3 * time.Hour,
	}
}

func (c *testConfig) GetSigningKey() string { return c.signingKey }
func (c *testConfig) GetIssuer() string { return c.issuer }
func (c *testConfig) GetAudience() []string { return c.audience }
func (c *testConfig) GetAccessTokenTTL() time.Duration { return c.accessTTL }
func (c *testConfig) GetRefreshTokenTTL() time.Duration { return c.refreshTTL }
func (c *testConfig) GetConfirmationWindow() time.Duration { return c.confirmationWindow }
func (c *testConfig) GetResetWindow() time.Duration { return c.resetWindow }
func (c *testConfig) GetLoginGraceWindow() time.Duration { return c.graceWindow }

func fixedClock(at time.Time) credentials.Clock {
	return func() time.Time { return at }
}

// sequenceTokens yields the given tokens in order, then fails loudly by
// repeating the last one.
func sequenceTokens(tokens ...string) credentials.SecretTokenGenerator {
	var mu sync.Mutex
	i := 0
	return credentials.SecretTokenFunc(func() (string, error) {
		mu.Lock()
		defer mu.Unlock()
		token := tokens[i]
		if i < len(tokens)-1 {
			i++
		}
		return token, nil
	})
}

// fakeStore is the in-memory backing shared by the fake repositories.
type fakeStore struct {
	mu       sync.Mutex
	accounts map[uuid.UUID]*credentials.Account
	sessions map[uuid.UUID]*credentials.RefreshSession
}

// fakeRepo satisfies RepositoryManager without a database. RunInTx runs
// the closure directly; the fakes ignore the tx handle.
type fakeRepo struct {
	store    *fakeStore
	accounts *fakeAccounts
	sessions *fakeSessions
}

func newFakeRepo() *fakeRepo {
	store := &fakeStore{
		accounts: map[uuid.UUID]*credentials.Account{},
		sessions: map[uuid.UUID]*credentials.RefreshSession{},
	}
	return &fakeRepo{
		store:    store,
		accounts: &fakeAccounts{store: store},
		sessions: &fakeSessions{store: store},
	}
}

func (r *fakeRepo) Validate() error { return nil }
func (r *fakeRepo) MustValidate()   {}

func (r *fakeRepo) RunInTx(ctx context.Context, opts *sql.TxOptions, f func(ctx context.Context, tx bun.Tx) error) error {
	return f(ctx, bun.Tx{})
}

func (r *fakeRepo) Accounts() credentials.Accounts               { return r.accounts }
func (r *fakeRepo) RefreshSessions() credentials.RefreshSessions { return r.sessions }

type fakeAccounts struct {
	repository.Repository[*credentials.Account]
	store *fakeStore
}

func copyAccount(a *credentials.Account) *credentials.Account {
	c := *a
	return &c
}

func (f *fakeAccounts) CreateTx(ctx context.Context, tx bun.IDB, record *credentials.Account, criteria ...repository.InsertCriteria) (*credentials.Account, error) {
	f.store.mu.Lock()
	defer f.store.mu.Unlock()

	if record.ID == uuid.Nil {
		record.ID = uuid.New()
	}
	if record.CreatedAt == nil {
		now := time.Now()
		record.CreatedAt = &now
	}
	record.Email = credentials.NormalizeEmail(record.Email)
	f.store.accounts[record.ID] = copyAccount(record)
	return record, nil
}

func (f *fakeAccounts) Create(ctx context.Context, record *credentials.Account, criteria ...repository.InsertCriteria) (*credentials.Account, error) {
	return f.CreateTx(ctx, nil, record, criteria...)
}

func (f *fakeAccounts) GetByID(ctx context.Context, id string, criteria ...repository.SelectCriteria) (*credentials.Account, error) {
	uid, err := uuid.Parse(id)
	if err != nil {
		return nil, repository.NewRecordNotFound()
	}

	f.store.mu.Lock()
	defer f.store.mu.Unlock()

	account, ok := f.store.accounts[uid]
	if !ok {
		return nil, repository.NewRecordNotFound()
	}
	return copyAccount(account), nil
}

func (f *fakeAccounts) findOne(match func(*credentials.Account) bool) (*credentials.Account, error) {
	f.store.mu.Lock()
	defer f.store.mu.Unlock()

	for _, account := range f.store.accounts {
		if match(account) {
			return copyAccount(account), nil
		}
	}
	return nil, repository.NewRecordNotFound()
}

func (f *fakeAccounts) GetByEmail(ctx context.Context, email string) (*credentials.Account, error) {
	return f.GetByEmailTx(ctx, nil, email)
}

func (f *fakeAccounts) GetByEmailTx(ctx context.Context, tx bun.IDB, email string) (*credentials.Account, error) {
	normalized := credentials.NormalizeEmail(email)
	return f.findOne(func(a *credentials.Account) bool {
		return a.Email == normalized
	})
}

func (f *fakeAccounts) GetByUsername(ctx context.Context, username string) (*credentials.Account, error) {
	return f.GetByUsernameTx(ctx, nil, username)
}

func (f *fakeAccounts) GetByUsernameTx(ctx context.Context, tx bun.IDB, username string) (*credentials.Account, error) {
	return f.findOne(func(a *credentials.Account) bool {
		return strings.EqualFold(a.Username, username)
	})
}

func (f *fakeAccounts) GetByConfirmationToken(ctx context.Context, token string) (*credentials.Account, error) {
	return f.findOne(func(a *credentials.Account) bool {
		return token != "" && a.ConfirmationToken == token
	})
}

func (f *fakeAccounts) GetByResetToken(ctx context.Context, token string) (*credentials.Account, error) {
	return f.findOne(func(a *credentials.Account) bool {
		return token != "" && a.ResetToken == token
	})
}

func (f *fakeAccounts) EmailHolderTx(ctx context.Context, tx bun.IDB, email string, excludeID uuid.UUID) (*credentials.Account, error) {
	normalized := credentials.NormalizeEmail(email)
	return f.findOne(func(a *credentials.Account) bool {
		return a.Email == normalized && a.ID != excludeID
	})
}

func (f *fakeAccounts) PendingEmailHolderTx(ctx context.Context, tx bun.IDB, email string, excludeID uuid.UUID) (*credentials.Account, error) {
	normalized := credentials.NormalizeEmail(email)
	return f.findOne(func(a *credentials.Account) bool {
		return a.UnconfirmedEmail == normalized && a.ID != excludeID
	})
}

func (f *fakeAccounts) update(id uuid.UUID, mutate func(*credentials.Account)) error {
	f.store.mu.Lock()
	defer f.store.mu.Unlock()

	account, ok := f.store.accounts[id]
	if !ok {
		return repository.NewRecordNotFound()
	}
	mutate(account)
	return nil
}

func (f *fakeAccounts) SetConfirmationTokenTx(ctx context.Context, tx bun.IDB, id uuid.UUID, token string, sentAt time.Time) error {
	return f.update(id, func(a *credentials.Account) {
		a.ConfirmationToken = token
		sent := sentAt
		a.ConfirmationSentAt = &sent
	})
}

func (f *fakeAccounts) SetPendingEmailTx(ctx context.Context, tx bun.IDB, id uuid.UUID, email, token string, sentAt time.Time) error {
	return f.update(id, func(a *credentials.Account) {
		a.UnconfirmedEmail = email
		a.ConfirmationToken = token
		sent := sentAt
		a.ConfirmationSentAt = &sent
	})
}

func (f *fakeAccounts) SetResetTokenTx(ctx context.Context, tx bun.IDB, id uuid.UUID, token string, sentAt time.Time) error {
	return f.update(id, func(a *credentials.Account) {
		a.ResetToken = token
		sent := sentAt
		a.ResetSentAt = &sent
	})
}

func (f *fakeAccounts) ConfirmTx(ctx context.Context, tx bun.IDB, id uuid.UUID, confirmedAt time.Time) error {
	return f.update(id, func(a *credentials.Account) {
		a.ConfirmationToken = ""
		at := confirmedAt
		a.ConfirmedAt = &at
	})
}

func (f *fakeAccounts) PromoteEmailTx(ctx context.Context, tx bun.IDB, id uuid.UUID, confirmedAt time.Time) error {
	return f.update(id, func(a *credentials.Account) {
		a.Email = a.UnconfirmedEmail
		a.UnconfirmedEmail = ""
		a.ConfirmationToken = ""
		at := confirmedAt
		a.ConfirmedAt = &at
	})
}

func (f *fakeAccounts) ResetPasswordTx(ctx context.Context, tx bun.IDB, id uuid.UUID, passwordHash string) error {
	return f.update(id, func(a *credentials.Account) {
		a.PasswordHash = passwordHash
		a.ResetToken = ""
		a.ResetSentAt = nil
	})
}

type fakeSessions struct {
	store *fakeStore
}

func copySession(s *credentials.RefreshSession) *credentials.RefreshSession {
	c := *s
	return &c
}

func (f *fakeSessions) GetByTokenValue(ctx context.Context, token string) (*credentials.RefreshSession, error) {
	f.store.mu.Lock()
	defer f.store.mu.Unlock()

	for _, session := range f.store.sessions {
		if session.TokenValue == token {
			return copySession(session), nil
		}
	}
	return nil, repository.NewRecordNotFound()
}

func (f *fakeSessions) GetByAccountID(ctx context.Context, accountID uuid.UUID) (*credentials.RefreshSession, error) {
	f.store.mu.Lock()
	defer f.store.mu.Unlock()

	session, ok := f.store.sessions[accountID]
	if !ok {
		return nil, repository.NewRecordNotFound()
	}
	return copySession(session), nil
}

func (f *fakeSessions) ReplaceTx(ctx context.Context, tx bun.IDB, session *credentials.RefreshSession) (*credentials.RefreshSession, error) {
	f.store.mu.Lock()
	defer f.store.mu.Unlock()

	if session.ID == uuid.Nil {
		session.ID = uuid.New()
	}
	if session.CreatedAt == nil {
		now := time.Now()
		session.CreatedAt = &now
	}
	f.store.sessions[session.AccountID] = copySession(session)
	return session, nil
}

func (f *fakeSessions) DeleteByTokenValue(ctx context.Context, token string) (bool, error) {
	return f.DeleteByTokenValueTx(ctx, nil, token)
}

func (f *fakeSessions) DeleteByTokenValueTx(ctx context.Context, tx bun.IDB, token string) (bool, error) {
	f.store.mu.Lock()
	defer f.store.mu.Unlock()

	for accountID, session := range f.store.sessions {
		if session.TokenValue == token {
			delete(f.store.sessions, accountID)
			return true, nil
		}
	}
	return false, nil
}

func (f *fakeSessions) DeleteByAccountID(ctx context.Context, accountID uuid.UUID) (bool, error) {
	return f.DeleteByAccountIDTx(ctx, nil, accountID)
}

func (f *fakeSessions) DeleteByAccountIDTx(ctx context.Context, tx bun.IDB, accountID uuid.UUID) (bool, error) {
	f.store.mu.Lock()
	defer f.store.mu.Unlock()

	if _, ok := f.store.sessions[accountID]; !ok {
		return false, nil
	}
	delete(f.store.sessions, accountID)
	return true, nil
}

func (f *fakeSessions) sessionCount() int {
	f.store.mu.Lock()
	defer f.store.mu.Unlock()
	return len(f.store.sessions)
}

// MockActivitySink records expectations with testify/mock.
type MockActivitySink struct {
	mock.Mock
}

func (m *MockActivitySink) Record(ctx context.Context, event credentials.ActivityEvent) error {
	args := m.Called(ctx, event)
	return args.Error(0)
}

// recordingSink is the stub alternative: it collects every event.
type recordingSink struct {
	mu     sync.Mutex
	events []credentials.ActivityEvent
}

func (s *recordingSink) Record(ctx context.Context, event credentials.ActivityEvent) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.events = append(s.events, event)
	return nil
}

func (s *recordingSink) eventsOf(eventType credentials.ActivityEventType) []credentials.ActivityEvent {
	s.mu.Lock()
	defer s.mu.Unlock()

	var out []credentials.ActivityEvent
	for _, event := range s.events {
		if event.EventType == eventType {
			out = append(out, event)
		}
	}
	return out
}

// captureNotifier collects deliveries; sends happen on goroutines so
// assertions should poll via require.Eventually.
type captureNotifier struct {
	mu           sync.Mutex
	confirmation []*credentials.Account
	reset        []*credentials.Account
	emailChange  []*credentials.Account
}

func (n *captureNotifier) SendConfirmation(ctx context.Context, account *credentials.Account) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.confirmation = append(n.confirmation, copyAccount(account))
	return nil
}

func (n *captureNotifier) SendPasswordReset(ctx context.Context, account *credentials.Account) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.reset = append(n.reset, copyAccount(account))
	return nil
}

func (n *captureNotifier) SendEmailChangeConfirmation(ctx context.Context, account *credentials.Account) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.emailChange = append(n.emailChange, copyAccount(account))
	return nil
}

func (n *captureNotifier) confirmationCount() int {
	n.mu.Lock()
	defer n.mu.Unlock()
	return len(n.confirmation)
}

func (n *captureNotifier) resetCount() int {
	n.mu.Lock()
	defer n.mu.Unlock()
	return len(n.reset)
}

func (n *captureNotifier) emailChangeCount() int {
	n.mu.Lock()
	defer n.mu.Unlock()
	return len(n.emailChange)
}

type testLogger struct{}

func (testLogger) Debug(string, ...any) {}
func (testLogger) Info(string, ...any)  {}
func (testLogger) Warn(string, ...any)  {}
func (testLogger) Error(string, ...any) {}
