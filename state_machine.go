package credentials

import (
	"context"
	"strings"
	"time"

	goerrors "github.com/goliatone/go-errors"
	repository "github.com/goliatone/go-repository-bun"
	"github.com/google/uuid"
	"github.com/uptrace/bun"
)

// AccountLifecycle owns the token-gated account state machines:
// confirmation (unconfirmed -> confirmed, terminal), email change
// (stable -> pending -> stable on the new address), and password reset
// (no-pending -> pending -> no-pending). Capability tokens are single
// use and windowed; every write runs the same pipeline: normalize email,
// uniqueness checks, assign derived fields, persist.
type AccountLifecycle struct {
	repo               RepositoryManager
	tokens             SecretTokenGenerator
	notifier           Notifier
	logger             Logger
	activity           ActivitySink
	now                Clock
	confirmationWindow time.Duration
	resetWindow        time.Duration
}

// NewAccountLifecycle returns a lifecycle engine with sane defaults.
func NewAccountLifecycle(repo RepositoryManager, cfg Config) *AccountLifecycle {
	return &AccountLifecycle{
		repo:               repo,
		tokens:             NewSecretTokenGenerator(),
		notifier:           noopNotifier{},
		logger:             defLogger{},
		activity:           noopActivitySink{},
		now:                time.Now,
		confirmationWindow: cfg.GetConfirmationWindow(),
		resetWindow:        cfg.GetResetWindow(),
	}
}

func (l *AccountLifecycle) WithLogger(logger Logger) *AccountLifecycle {
	if logger != nil {
		l.logger = logger
	}
	return l
}

// WithNotifier sets the sender used for lifecycle email.
func (l *AccountLifecycle) WithNotifier(n Notifier) *AccountLifecycle {
	l.notifier = normalizeNotifier(n)
	return l
}

// WithActivitySink configures an ActivitySink for emitting lifecycle events.
func (l *AccountLifecycle) WithActivitySink(sink ActivitySink) *AccountLifecycle {
	l.activity = normalizeActivitySink(sink)
	return l
}

// WithClock injects a custom clock (useful for tests).
func (l *AccountLifecycle) WithClock(clock Clock) *AccountLifecycle {
	if clock != nil {
		l.now = clock
	}
	return l
}

// WithSecretTokenGenerator overrides the capability token source.
func (l *AccountLifecycle) WithSecretTokenGenerator(g SecretTokenGenerator) *AccountLifecycle {
	if g != nil {
		l.tokens = g
	}
	return l
}

// IssueConfirmationToken stamps a fresh confirmation token on the
// account record in memory. Callers persist the record afterwards; signup
// runs this before the insert.
func (l *AccountLifecycle) IssueConfirmationToken(account *Account) error {
	token, err := l.tokens.Generate()
	if err != nil {
		return err
	}

	now := l.now()
	account.ConfirmationToken = token
	account.ConfirmationSentAt = &now

	return nil
}

// Confirm consumes a confirmation token: the account is stamped
// confirmed and the token cleared, so a second presentation always
// fails. Works for both signup confirmation and email-change
// confirmation of accounts with no pending address.
func (l *AccountLifecycle) Confirm(ctx context.Context, token string) (*Account, error) {
	account, err := l.accountForConfirmationToken(ctx, token)
	if err != nil {
		return nil, err
	}

	if account.UnconfirmedEmail != "" {
		return l.confirmEmailChange(ctx, account)
	}

	return l.confirm(ctx, account)
}

// ConfirmEmailChange consumes a confirmation token issued by
// RequestEmailChange, promoting the pending address into the confirmed
// slot atomically.
func (l *AccountLifecycle) ConfirmEmailChange(ctx context.Context, token string) (*Account, error) {
	account, err := l.accountForConfirmationToken(ctx, token)
	if err != nil {
		return nil, err
	}

	if account.UnconfirmedEmail == "" {
		l.logger.Warn("ConfirmEmailChange token has no pending address", "account_id", account.ID)
		return nil, ErrInvalidToken
	}

	return l.confirmEmailChange(ctx, account)
}

func (l *AccountLifecycle) accountForConfirmationToken(ctx context.Context, token string) (*Account, error) {
	if strings.TrimSpace(token) == "" {
		return nil, ErrInvalidToken
	}

	account, err := l.repo.Accounts().GetByConfirmationToken(ctx, token)
	if err != nil {
		if repository.IsRecordNotFound(err) {
			return nil, ErrInvalidToken
		}
		return nil, goerrors.Wrap(err, goerrors.CategoryInternal, "failed to look up confirmation token")
	}

	if !account.ConfirmationTokenValid(l.now(), l.confirmationWindow) {
		l.logger.Info("confirmation token outside validity window", "account_id", account.ID)
		return nil, ErrTokenExpired
	}

	return account, nil
}

func (l *AccountLifecycle) confirm(ctx context.Context, account *Account) (*Account, error) {
	now := l.now()

	err := l.repo.RunInTx(ctx, nil, func(ctx context.Context, tx bun.Tx) error {
		return l.repo.Accounts().ConfirmTx(ctx, tx, account.ID, now)
	})
	if err != nil {
		return nil, goerrors.Wrap(err, goerrors.CategoryInternal, "failed to confirm account")
	}

	account.MarkConfirmed(now)

	l.emit(ctx, ActivityEventAccountConfirmed, account.ID.String(), nil)

	return account, nil
}

func (l *AccountLifecycle) confirmEmailChange(ctx context.Context, account *Account) (*Account, error) {
	now := l.now()

	err := l.repo.RunInTx(ctx, nil, func(ctx context.Context, tx bun.Tx) error {
		// the pending address may have been confirmed elsewhere while
		// this token was in flight
		if holder, err := l.repo.Accounts().EmailHolderTx(ctx, tx, account.UnconfirmedEmail, account.ID); err == nil && holder != nil {
			return ErrEmailTaken
		} else if err != nil && !repository.IsRecordNotFound(err) {
			return err
		}

		return l.repo.Accounts().PromoteEmailTx(ctx, tx, account.ID, now)
	})
	if err != nil {
		if goerrors.Is(err, ErrEmailTaken) {
			return nil, ErrEmailTaken
		}
		return nil, goerrors.Wrap(err, goerrors.CategoryInternal, "failed to confirm email change")
	}

	account.PromoteUnconfirmedEmail()
	account.MarkConfirmed(now)

	l.emit(ctx, ActivityEventEmailChanged, account.ID.String(), map[string]any{"email": account.Email})

	return account, nil
}

// RequestEmailChange parks the new address in the unconfirmed slot and
// issues a fresh confirmation token. The address must be non-blank,
// differ from the current one, and not be held, confirmed or pending
// within an unexpired window, by another account.
func (l *AccountLifecycle) RequestEmailChange(ctx context.Context, accountID uuid.UUID, newEmail string) (*Account, error) {
	normalized := NormalizeEmail(newEmail)
	if normalized == "" {
		return nil, NewValidationErrors("Email cannot be blank")
	}
	if !strings.Contains(normalized, "@") {
		return nil, NewValidationErrors("Email is invalid")
	}

	account, err := l.repo.Accounts().GetByID(ctx, accountID.String())
	if err != nil {
		if repository.IsRecordNotFound(err) {
			return nil, ErrIdentityNotFound
		}
		return nil, goerrors.Wrap(err, goerrors.CategoryInternal, "failed to retrieve account for email change")
	}

	if normalized == account.Email {
		return nil, NewValidationErrors("New email must be different from the current email")
	}

	token, err := l.tokens.Generate()
	if err != nil {
		return nil, err
	}
	now := l.now()

	err = l.repo.RunInTx(ctx, nil, func(ctx context.Context, tx bun.Tx) error {
		if holder, err := l.repo.Accounts().EmailHolderTx(ctx, tx, normalized, account.ID); err == nil && holder != nil {
			return ErrEmailTaken
		} else if err != nil && !repository.IsRecordNotFound(err) {
			return err
		}

		if pending, err := l.repo.Accounts().PendingEmailHolderTx(ctx, tx, normalized, account.ID); err == nil && pending != nil {
			if pending.ConfirmationTokenValid(now, l.confirmationWindow) {
				return ErrEmailTaken
			}
		} else if err != nil && !repository.IsRecordNotFound(err) {
			return err
		}

		return l.repo.Accounts().SetPendingEmailTx(ctx, tx, account.ID, normalized, token, now)
	})
	if err != nil {
		if goerrors.Is(err, ErrEmailTaken) {
			return nil, ErrEmailTaken
		}
		return nil, goerrors.Wrap(err, goerrors.CategoryInternal, "failed to request email change")
	}

	account.UnconfirmedEmail = normalized
	account.ConfirmationToken = token
	account.ConfirmationSentAt = &now

	l.deliver(account, l.notifier.SendEmailChangeConfirmation)

	l.emit(ctx, ActivityEventEmailChangeRequested, account.ID.String(), map[string]any{"unconfirmed_email": normalized})

	return account, nil
}

// RequestReset issues a reset token for a confirmed account and mails the
// reset link. Unconfirmed accounts never receive a token.
func (l *AccountLifecycle) RequestReset(ctx context.Context, email string) (*Account, error) {
	normalized := NormalizeEmail(email)
	if normalized == "" {
		return nil, NewValidationErrors("Email cannot be blank")
	}

	account, err := l.repo.Accounts().GetByEmail(ctx, normalized)
	if err != nil {
		if repository.IsRecordNotFound(err) {
			return nil, ErrIdentityNotFound
		}
		return nil, goerrors.Wrap(err, goerrors.CategoryInternal, "failed to retrieve account for password reset")
	}

	if !account.IsConfirmed() {
		return nil, ErrIdentityNotFound
	}

	token, err := l.tokens.Generate()
	if err != nil {
		return nil, err
	}
	now := l.now()

	err = l.repo.RunInTx(ctx, nil, func(ctx context.Context, tx bun.Tx) error {
		return l.repo.Accounts().SetResetTokenTx(ctx, tx, account.ID, token, now)
	})
	if err != nil {
		return nil, goerrors.Wrap(err, goerrors.CategoryInternal, "failed to persist reset token")
	}

	account.ResetToken = token
	account.ResetSentAt = &now

	l.deliver(account, l.notifier.SendPasswordReset)

	l.emit(ctx, ActivityEventPasswordResetRequest, account.ID.String(), nil)

	return account, nil
}

// CompleteReset consumes a reset token and re-hashes the password. A
// password policy failure leaves the token intact so the same link can be
// retried; only a successful change clears it.
func (l *AccountLifecycle) CompleteReset(ctx context.Context, token, password, confirmation string) error {
	if strings.TrimSpace(token) == "" {
		return ErrInvalidToken
	}

	account, err := l.repo.Accounts().GetByResetToken(ctx, token)
	if err != nil {
		if repository.IsRecordNotFound(err) {
			return ErrInvalidToken
		}
		return goerrors.Wrap(err, goerrors.CategoryInternal, "failed to look up reset token")
	}

	if !account.ResetTokenValid(l.now(), l.resetWindow) {
		l.logger.Info("reset token outside validity window", "account_id", account.ID)
		return ErrTokenExpired
	}

	if err := ValidatePasswordPolicy(password, confirmation); err != nil {
		return err
	}

	hash, err := HashPassword(password)
	if err != nil {
		return goerrors.Wrap(err, goerrors.CategoryInternal, "failed to hash password")
	}

	err = l.repo.RunInTx(ctx, nil, func(ctx context.Context, tx bun.Tx) error {
		return l.repo.Accounts().ResetPasswordTx(ctx, tx, account.ID, hash)
	})
	if err != nil {
		return goerrors.Wrap(err, goerrors.CategoryInternal, "failed to reset password")
	}

	l.emit(ctx, ActivityEventPasswordResetSuccess, account.ID.String(), nil)

	return nil
}

// deliver runs a notification send-and-forget; failures are logged only.
func (l *AccountLifecycle) deliver(account *Account, send func(context.Context, *Account) error) {
	go func() {
		if err := send(context.Background(), account); err != nil {
			l.logger.Warn("notification delivery failed", "account_id", account.ID, "error", err)
		}
	}()
}

func (l *AccountLifecycle) emit(ctx context.Context, eventType ActivityEventType, accountID string, metadata map[string]any) {
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

	if err := normalizeActivitySink(l.activity).Record(ctx, event); err != nil {
		l.logger.Warn("activity sink record error: %v", err)
	}
}
