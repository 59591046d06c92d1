package credentials

import (
	"context"
	"time"

	"github.com/goliatone/go-repository-bun"
	"github.com/google/uuid"
	"github.com/uptrace/bun"
)

// RefreshSessions is the persisted session store. ReplaceTx is the only
// write path that creates sessions: a transactional delete-then-insert
// keyed by account id, so concurrent logins or rotations for the same
// account serialize on the row and exactly one session survives.
type RefreshSessions interface {
	GetByTokenValue(ctx context.Context, token string) (*RefreshSession, error)
	GetByAccountID(ctx context.Context, accountID uuid.UUID) (*RefreshSession, error)
	ReplaceTx(ctx context.Context, tx bun.IDB, session *RefreshSession) (*RefreshSession, error)
	DeleteByTokenValue(ctx context.Context, token string) (bool, error)
	DeleteByTokenValueTx(ctx context.Context, tx bun.IDB, token string) (bool, error)
	DeleteByAccountID(ctx context.Context, accountID uuid.UUID) (bool, error)
	DeleteByAccountIDTx(ctx context.Context, tx bun.IDB, accountID uuid.UUID) (bool, error)
}

type refreshSessions struct {
	db *bun.DB
}

var _ RefreshSessions = (*refreshSessions)(nil)

func NewRefreshSessionsRepository(db *bun.DB) RefreshSessions {
	return &refreshSessions{db: db}
}

func (r *refreshSessions) GetByTokenValue(ctx context.Context, token string) (*RefreshSession, error) {
	session := &RefreshSession{}
	err := r.db.NewSelect().
		Model(session).
		Where("?TableAlias.token_value = ?", token).
		Limit(1).
		Scan(ctx)

	if err != nil {
		if repository.IsRecordNotFound(err) {
			return nil, repository.NewRecordNotFound()
		}
		return nil, err
	}

	return session, nil
}

func (r *refreshSessions) GetByAccountID(ctx context.Context, accountID uuid.UUID) (*RefreshSession, error) {
	session := &RefreshSession{}
	err := r.db.NewSelect().
		Model(session).
		Where("?TableAlias.account_id = ?", accountID).
		Limit(1).
		Scan(ctx)

	if err != nil {
		if repository.IsRecordNotFound(err) {
			return nil, repository.NewRecordNotFound()
		}
		return nil, err
	}

	return session, nil
}

func (r *refreshSessions) ReplaceTx(ctx context.Context, tx bun.IDB, session *RefreshSession) (*RefreshSession, error) {
	if session.ID == uuid.Nil {
		session.ID = uuid.New()
	}
	if session.CreatedAt == nil {
		now := time.Now()
		session.CreatedAt = &now
	}

	_, err := tx.NewDelete().
		Model((*RefreshSession)(nil)).
		Where("account_id = ?", session.AccountID).
		Exec(ctx)
	if err != nil {
		return nil, err
	}

	_, err = tx.NewInsert().
		Model(session).
		Exec(ctx)
	if err != nil {
		return nil, err
	}

	return session, nil
}

func (r *refreshSessions) DeleteByTokenValue(ctx context.Context, token string) (bool, error) {
	return r.DeleteByTokenValueTx(ctx, r.db, token)
}

func (r *refreshSessions) DeleteByTokenValueTx(ctx context.Context, tx bun.IDB, token string) (bool, error) {
	res, err := tx.NewDelete().
		Model((*RefreshSession)(nil)).
		Where("token_value = ?", token).
		Exec(ctx)
	if err != nil {
		return false, err
	}

	deleted, err := res.RowsAffected()
	if err != nil {
		return false, err
	}

	return deleted > 0, nil
}

func (r *refreshSessions) DeleteByAccountID(ctx context.Context, accountID uuid.UUID) (bool, error) {
	return r.DeleteByAccountIDTx(ctx, r.db, accountID)
}

func (r *refreshSessions) DeleteByAccountIDTx(ctx context.Context, tx bun.IDB, accountID uuid.UUID) (bool, error) {
	res, err := tx.NewDelete().
		Model((*RefreshSession)(nil)).
		Where("account_id = ?", accountID).
		Exec(ctx)
	if err != nil {
		return false, err
	}

	deleted, err := res.RowsAffected()
	if err != nil {
		return false, err
	}

	return deleted > 0, nil
}
