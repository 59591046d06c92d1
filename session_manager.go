package credentials

import (
	"context"
	"time"

	goerrors "github.com/goliatone/go-errors"
	repository "github.com/goliatone/go-repository-bun"
	"github.com/google/uuid"
	"github.com/uptrace/bun"
)

// RefreshSessionManager owns refresh token issuance, rotation, and
// revocation, keeping at most one live session per account.
type RefreshSessionManager struct {
	repo     RepositoryManager
	codec    *TokenCodec
	logger   Logger
	activity ActivitySink
}

// NewRefreshSessionManager returns a manager with sane defaults.
func NewRefreshSessionManager(repo RepositoryManager, codec *TokenCodec) *RefreshSessionManager {
	return &RefreshSessionManager{
		repo:     repo,
		codec:    codec,
		logger:   defLogger{},
		activity: noopActivitySink{},
	}
}

func (m *RefreshSessionManager) WithLogger(logger Logger) *RefreshSessionManager {
	if logger != nil {
		m.logger = logger
	}
	return m
}

// WithActivitySink configures an ActivitySink for emitting session events.
func (m *RefreshSessionManager) WithActivitySink(sink ActivitySink) *RefreshSessionManager {
	m.activity = normalizeActivitySink(sink)
	return m
}

// Issue creates a fresh session for the account, destroying any prior
// one. Used at login and internally on rotation.
func (m *RefreshSessionManager) Issue(ctx context.Context, accountID uuid.UUID) (*RefreshSession, error) {
	var session *RefreshSession

	err := m.repo.RunInTx(ctx, nil, func(ctx context.Context, tx bun.Tx) error {
		var err error
		session, err = m.issueTx(ctx, tx, accountID)
		return err
	})
	if err != nil {
		return nil, err
	}

	m.emit(ctx, ActivityEventSessionIssued, accountID.String(), nil)

	return session, nil
}

func (m *RefreshSessionManager) issueTx(ctx context.Context, tx bun.IDB, accountID uuid.UUID) (*RefreshSession, error) {
	token, err := m.codec.Encode(m.codec.NewClaims(accountID.String(), TokenClassRefresh), TokenClassRefresh)
	if err != nil {
		return nil, goerrors.Wrap(err, goerrors.CategoryInternal, "failed to mint refresh token")
	}

	session, err := m.repo.RefreshSessions().ReplaceTx(ctx, tx, &RefreshSession{
		AccountID:  accountID,
		TokenValue: token,
	})
	if err != nil {
		return nil, goerrors.Wrap(err, goerrors.CategoryInternal, "failed to persist refresh session")
	}

	return session, nil
}

// Rotate exchanges a presented refresh token for a fresh access/refresh
// pair. Rotation is fail-closed: a presentation that does not match a
// live session destroys whatever session the claimed account still has,
// so a replayed token burns the legitimate client's session too.
func (m *RefreshSessionManager) Rotate(ctx context.Context, oldToken string) (*TokenPair, error) {
	claims, err := m.codec.Decode(oldToken)
	if err != nil {
		// defensive cleanup: the raw value cannot belong to a valid
		// session, but if a row matches it exactly, remove it
		if _, derr := m.repo.RefreshSessions().DeleteByTokenValue(ctx, oldToken); derr != nil {
			m.logger.Error("Rotate cleanup of undecodable token failed: %v", derr)
		}
		m.logger.Warn("Rotate presented undecodable token: %v", err)
		return nil, ErrInvalidToken
	}

	accountID, err := uuid.Parse(m.subjectOf(claims))
	if err != nil {
		m.logger.Warn("Rotate presented token with unusable subject %q", m.subjectOf(claims))
		return nil, ErrInvalidToken
	}

	session, err := m.repo.RefreshSessions().GetByTokenValue(ctx, oldToken)
	if err != nil && !repository.IsRecordNotFound(err) {
		return nil, goerrors.Wrap(err, goerrors.CategoryInternal, "failed to look up refresh session")
	}

	if session == nil || err != nil || !m.codec.IsValid(claims, TokenClassRefresh) {
		return nil, m.burn(ctx, accountID, "no live session matches presented token")
	}

	var pair *TokenPair

	err = m.repo.RunInTx(ctx, nil, func(ctx context.Context, tx bun.Tx) error {
		// re-check under the transaction: if a concurrent rotation
		// already consumed this token, this presentation is a replay
		deleted, err := m.repo.RefreshSessions().DeleteByTokenValueTx(ctx, tx, oldToken)
		if err != nil {
			return goerrors.Wrap(err, goerrors.CategoryInternal, "failed to consume refresh session")
		}
		if !deleted {
			return ErrInvalidToken
		}

		next, err := m.issueTx(ctx, tx, accountID)
		if err != nil {
			return err
		}

		access, err := m.codec.Encode(m.codec.NewClaims(accountID.String(), TokenClassAccess), TokenClassAccess)
		if err != nil {
			return goerrors.Wrap(err, goerrors.CategoryInternal, "failed to mint access token")
		}

		pair = &TokenPair{Access: access, Refresh: next.TokenValue}
		return nil
	})
	if err != nil {
		if goerrors.Is(err, ErrInvalidToken) {
			return nil, m.burn(ctx, accountID, "token consumed by concurrent rotation")
		}
		return nil, err
	}

	m.emit(ctx, ActivityEventSessionRotated, accountID.String(), nil)

	return pair, nil
}

// Revoke deletes the session holding exactly this token value. Returns
// false when no session matched; revoking twice is a no-op.
func (m *RefreshSessionManager) Revoke(ctx context.Context, token string) (bool, error) {
	deleted, err := m.repo.RefreshSessions().DeleteByTokenValue(ctx, token)
	if err != nil {
		return false, goerrors.Wrap(err, goerrors.CategoryInternal, "failed to revoke refresh session")
	}

	if deleted {
		m.emit(ctx, ActivityEventSessionRevoked, "", map[string]any{"token": token})
	}

	return deleted, nil
}

// burn destroys the claimed account's live session and reports the
// presentation as invalid. Security-over-availability: this path logs the
// legitimate client out, so it is audited and logged loudly.
func (m *RefreshSessionManager) burn(ctx context.Context, accountID uuid.UUID, reason string) error {
	destroyed, err := m.repo.RefreshSessions().DeleteByAccountID(ctx, accountID)
	if err != nil {
		m.logger.Error("Rotate failed to destroy session for %s on suspicion: %v", accountID, err)
	}

	m.logger.Warn("Rotate burned session for %s (destroyed_live_session=%t): %s",
		accountID, destroyed, reason)

	m.emit(ctx, ActivityEventSessionBurned, accountID.String(), map[string]any{
		"destroyed_live_session": destroyed,
		"reason":                 reason,
	})

	return ErrInvalidToken
}

func (m *RefreshSessionManager) subjectOf(claims *TokenClaims) string {
	if claims.AccountID != "" {
		return claims.AccountID
	}
	return claims.Subject
}

func (m *RefreshSessionManager) emit(ctx context.Context, eventType ActivityEventType, accountID string, metadata map[string]any) {
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

	if err := normalizeActivitySink(m.activity).Record(ctx, event); err != nil {
		m.logger.Warn("activity sink record error: %v", err)
	}
}
