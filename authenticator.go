package credentials

import (
	"context"
	"time"

	goerrors "github.com/goliatone/go-errors"
	repository "github.com/goliatone/go-repository-bun"
	"github.com/goliatone/hashid/pkg/hashid"
	"github.com/google/uuid"
	"github.com/uptrace/bun"
	passwordvalidator "github.com/wagslane/go-password-validator"
)

// Authenticator orchestrates signup, login, and password changes on top
// of the lifecycle engine and the session manager.
type Authenticator struct {
	repo        RepositoryManager
	codec       *TokenCodec
	sessions    *RefreshSessionManager
	lifecycle   *AccountLifecycle
	notifier    Notifier
	logger      Logger
	activity    ActivitySink
	now         Clock
	graceWindow time.Duration
}

// NewAuthenticator wires an Authenticator and its sub-engines from the
// given store and configuration.
func NewAuthenticator(repo RepositoryManager, cfg Config) *Authenticator {
	codec := NewTokenCodec(cfg)

	return &Authenticator{
		repo:        repo,
		codec:       codec,
		sessions:    NewRefreshSessionManager(repo, codec),
		lifecycle:   NewAccountLifecycle(repo, cfg),
		notifier:    noopNotifier{},
		logger:      defLogger{},
		activity:    noopActivitySink{},
		now:         time.Now,
		graceWindow: cfg.GetLoginGraceWindow(),
	}
}

func (s *Authenticator) WithLogger(logger Logger) *Authenticator {
	if logger != nil {
		s.logger = logger
		s.sessions.WithLogger(logger)
		s.lifecycle.WithLogger(logger)
		s.codec.WithLogger(logger)
	}
	return s
}

// WithNotifier sets the sender used for signup and lifecycle email.
func (s *Authenticator) WithNotifier(n Notifier) *Authenticator {
	s.notifier = normalizeNotifier(n)
	s.lifecycle.WithNotifier(n)
	return s
}

// WithActivitySink configures an ActivitySink for emitting auth events.
func (s *Authenticator) WithActivitySink(sink ActivitySink) *Authenticator {
	s.activity = normalizeActivitySink(sink)
	s.sessions.WithActivitySink(sink)
	s.lifecycle.WithActivitySink(sink)
	return s
}

// WithClock injects a custom clock (useful for tests).
func (s *Authenticator) WithClock(clock Clock) *Authenticator {
	if clock != nil {
		s.now = clock
		s.codec.WithClock(clock)
		s.lifecycle.WithClock(clock)
	}
	return s
}

// TokenCodec returns the codec used by this Authenticator, so boundary
// layers can decode presented access tokens.
func (s *Authenticator) TokenCodec() *TokenCodec {
	return s.codec
}

// Sessions returns the RefreshSessionManager instance.
func (s *Authenticator) Sessions() *RefreshSessionManager {
	return s.sessions
}

// Lifecycle returns the AccountLifecycle instance.
func (s *Authenticator) Lifecycle() *AccountLifecycle {
	return s.lifecycle
}

// Signup validates the payload, persists the account with a fresh
// confirmation token and refresh session, and mails the confirmation
// link send-and-forget.
func (s *Authenticator) Signup(ctx context.Context, payload SignupPayload) (*Account, error) {
	if payload.Password != payload.PasswordConfirmation {
		return nil, NewValidationErrors("Passwords do not match")
	}

	if err := payload.Validate(); err != nil {
		return nil, FormatValidationErrors(err)
	}

	if err := passwordvalidator.Validate(payload.Password, PasswordMinEntropyBits); err != nil {
		return nil, NewValidationErrors(err.Error())
	}

	account := &Account{
		Email:    NormalizeEmail(payload.Email),
		Username: payload.Username,
	}

	hash, err := HashPassword(payload.Password)
	if err != nil {
		return nil, goerrors.Wrap(err, goerrors.CategoryInternal, "failed to hash password")
	}
	account.PasswordHash = hash

	if id, err := hashid.NewUUID(account.Email); err == nil {
		account.ID = id
	}

	if err := s.lifecycle.IssueConfirmationToken(account); err != nil {
		return nil, goerrors.Wrap(err, goerrors.CategoryInternal, "failed to issue confirmation token")
	}

	err = s.repo.RunInTx(ctx, nil, func(ctx context.Context, tx bun.Tx) error {
		if existing, err := s.repo.Accounts().GetByEmailTx(ctx, tx, account.Email); err == nil && existing != nil {
			return ErrEmailTaken
		} else if err != nil && !repository.IsRecordNotFound(err) {
			return err
		}

		if existing, err := s.repo.Accounts().GetByUsernameTx(ctx, tx, account.Username); err == nil && existing != nil {
			return ErrUsernameTaken
		} else if err != nil && !repository.IsRecordNotFound(err) {
			return err
		}

		if account, err = s.repo.Accounts().CreateTx(ctx, tx, account); err != nil {
			return goerrors.Wrap(err, goerrors.CategoryConflict, "could not create account")
		}

		return nil
	})
	if err != nil {
		if goerrors.Is(err, ErrEmailTaken) || goerrors.Is(err, ErrUsernameTaken) {
			return nil, err
		}

		var richErr *goerrors.Error
		if goerrors.As(err, &richErr) {
			return nil, richErr
		}
		return nil, goerrors.Wrap(err, goerrors.CategoryInternal, "account registration transaction failed")
	}

	if _, err := s.sessions.Issue(ctx, account.ID); err != nil {
		return nil, err
	}

	s.deliver(account, s.notifier.SendConfirmation)

	s.emitAuthEvent(ctx, ActivityEventSignup, account.ID.String(), map[string]any{
		"email": account.Email,
	})

	return account, nil
}

// Login verifies the credentials and, when the account is confirmed or
// still inside the signup grace window, issues a fresh session plus a
// matching access token. An unknown email and a wrong password are
// indistinguishable to the caller.
func (s *Authenticator) Login(ctx context.Context, email, password string) (*TokenPair, error) {
	account, err := s.repo.Accounts().GetByEmail(ctx, NormalizeEmail(email))
	if err != nil {
		if repository.IsRecordNotFound(err) {
			s.emitAuthEvent(ctx, ActivityEventLoginFailure, "", map[string]any{"identifier": email})
			return nil, ErrInvalidCredentials
		}
		return nil, goerrors.Wrap(err, goerrors.CategoryInternal, "failed to retrieve account during login")
	}

	if err := ComparePasswordAndHash(password, account.PasswordHash); err != nil {
		s.emitAuthEvent(ctx, ActivityEventLoginFailure, account.ID.String(), map[string]any{"identifier": email})
		return nil, ErrInvalidCredentials
	}

	if !s.canLogin(account) {
		s.resendConfirmation(ctx, account)
		s.emitAuthEvent(ctx, ActivityEventLoginFailure, account.ID.String(), map[string]any{
			"identifier": email,
			"reason":     "email not verified",
		})
		return nil, ErrEmailNotVerified
	}

	pair, err := s.issueTokenPair(ctx, account.ID)
	if err != nil {
		return nil, err
	}

	s.emitAuthEvent(ctx, ActivityEventLoginSuccess, account.ID.String(), map[string]any{"identifier": email})

	return pair, nil
}

// ChangePassword re-verifies the current password before allowing a
// change; a credential mismatch takes precedence over policy errors.
// The caller is presumed already authenticated as the account.
func (s *Authenticator) ChangePassword(ctx context.Context, accountID uuid.UUID, currentPassword, newPassword, confirmation string) error {
	account, err := s.repo.Accounts().GetByID(ctx, accountID.String())
	if err != nil {
		if repository.IsRecordNotFound(err) {
			return ErrIdentityNotFound
		}
		return goerrors.Wrap(err, goerrors.CategoryInternal, "failed to retrieve account for password change")
	}

	if err := ComparePasswordAndHash(currentPassword, account.PasswordHash); err != nil {
		return ErrInvalidCredentials
	}

	if err := ValidatePasswordPolicy(newPassword, confirmation); err != nil {
		return err
	}

	hash, err := HashPassword(newPassword)
	if err != nil {
		return goerrors.Wrap(err, goerrors.CategoryInternal, "failed to hash password")
	}

	err = s.repo.RunInTx(ctx, nil, func(ctx context.Context, tx bun.Tx) error {
		return s.repo.Accounts().ResetPasswordTx(ctx, tx, account.ID, hash)
	})
	if err != nil {
		return goerrors.Wrap(err, goerrors.CategoryInternal, "failed to update password")
	}

	s.emitAuthEvent(ctx, ActivityEventPasswordChanged, account.ID.String(), nil)

	return nil
}

// canLogin allows confirmed accounts, plus unconfirmed accounts still
// inside the signup grace window so a user can log in right after
// registering. The window anchors on account creation: resending the
// confirmation mail must never extend it. A zero grace window forces
// confirmation first.
func (s *Authenticator) canLogin(account *Account) bool {
	if account.IsConfirmed() {
		return true
	}

	if s.graceWindow <= 0 || account.CreatedAt == nil {
		return false
	}

	return IsWithinThresholdPeriod(*account.CreatedAt, s.graceWindow, s.now())
}

// resendConfirmation mails a fresh confirmation link to a blocked login.
// The token is reissued when the original window already lapsed.
func (s *Authenticator) resendConfirmation(ctx context.Context, account *Account) {
	if !account.ConfirmationTokenValid(s.now(), s.lifecycle.confirmationWindow) {
		if err := s.lifecycle.IssueConfirmationToken(account); err != nil {
			s.logger.Error("failed to reissue confirmation token for %s: %v", account.ID, err)
			return
		}

		err := s.repo.RunInTx(ctx, nil, func(ctx context.Context, tx bun.Tx) error {
			return s.repo.Accounts().SetConfirmationTokenTx(ctx, tx, account.ID, account.ConfirmationToken, *account.ConfirmationSentAt)
		})
		if err != nil {
			s.logger.Error("failed to persist reissued confirmation token for %s: %v", account.ID, err)
			return
		}
	}

	s.deliver(account, s.notifier.SendConfirmation)
}

func (s *Authenticator) issueTokenPair(ctx context.Context, accountID uuid.UUID) (*TokenPair, error) {
	session, err := s.sessions.Issue(ctx, accountID)
	if err != nil {
		return nil, err
	}

	access, err := s.codec.Encode(s.codec.NewClaims(accountID.String(), TokenClassAccess), TokenClassAccess)
	if err != nil {
		return nil, goerrors.Wrap(err, goerrors.CategoryInternal, "failed to mint access token")
	}

	return &TokenPair{Access: access, Refresh: session.TokenValue}, nil
}

// deliver runs a notification send-and-forget; failures are logged only.
func (s *Authenticator) deliver(account *Account, send func(context.Context, *Account) error) {
	go func() {
		if err := send(context.Background(), account); err != nil {
			s.logger.Warn("notification delivery for %s failed: %v", account.ID, err)
		}
	}()
}

func (s *Authenticator) emitAuthEvent(ctx context.Context, eventType ActivityEventType, accountID string, metadata map[string]any) {
	if metadata == nil {
		metadata = map[string]any{}
	}

	event := ActivityEvent{
		EventType:  eventType,
		Actor:      ActorRef{ID: accountID, Type: "account"},
		AccountID:  accountID,
		Metadata:   metadata,
		OccurredAt: time.Now(),
	}

	if err := normalizeActivitySink(s.activity).Record(ctx, event); err != nil {
		s.logger.Warn("activity sink record error: %v", err)
	}
}
