package credentials

import (
	"context"
	"time"

	"github.com/goliatone/go-repository-bun"
	"github.com/google/uuid"
	"github.com/uptrace/bun"
)

// ResetAccountPasswordSQL clears the reset token alongside the new hash.
// NOTE: the ORM update path skips NULLing cleared columns, so token
// clearing goes through raw SQL.
var ResetAccountPasswordSQL = `UPDATE "accounts" AS "acct"
SET
	"password_hash" = ?,
	"reset_password_token" = NULL,
	"reset_password_sent_at" = NULL
WHERE
	("acct"."id" = ?) RETURNING *;`

var ConfirmAccountSQL = `UPDATE "accounts" AS "acct"
SET
	"confirmation_token" = NULL,
	"confirmed_at" = ?
WHERE
	("acct"."id" = ?) RETURNING *;`

var PromoteUnconfirmedEmailSQL = `UPDATE "accounts" AS "acct"
SET
	"email" = "unconfirmed_email",
	"unconfirmed_email" = NULL,
	"confirmation_token" = NULL,
	"confirmed_at" = ?
WHERE
	("acct"."id" = ?) RETURNING *;`

// Accounts is the persisted account store: lookups by id, email
// (case-insensitive), confirmation token, and reset token, plus the
// targeted lifecycle mutations the state machine drives.
type Accounts interface {
	repository.Repository[*Account]

	GetByEmail(ctx context.Context, email string) (*Account, error)
	GetByEmailTx(ctx context.Context, tx bun.IDB, email string) (*Account, error)
	GetByUsername(ctx context.Context, username string) (*Account, error)
	GetByUsernameTx(ctx context.Context, tx bun.IDB, username string) (*Account, error)
	GetByConfirmationToken(ctx context.Context, token string) (*Account, error)
	GetByResetToken(ctx context.Context, token string) (*Account, error)

	EmailHolderTx(ctx context.Context, tx bun.IDB, email string, excludeID uuid.UUID) (*Account, error)
	PendingEmailHolderTx(ctx context.Context, tx bun.IDB, email string, excludeID uuid.UUID) (*Account, error)

	SetConfirmationTokenTx(ctx context.Context, tx bun.IDB, id uuid.UUID, token string, sentAt time.Time) error
	SetPendingEmailTx(ctx context.Context, tx bun.IDB, id uuid.UUID, email, token string, sentAt time.Time) error
	SetResetTokenTx(ctx context.Context, tx bun.IDB, id uuid.UUID, token string, sentAt time.Time) error
	ConfirmTx(ctx context.Context, tx bun.IDB, id uuid.UUID, confirmedAt time.Time) error
	PromoteEmailTx(ctx context.Context, tx bun.IDB, id uuid.UUID, confirmedAt time.Time) error
	ResetPasswordTx(ctx context.Context, tx bun.IDB, id uuid.UUID, passwordHash string) error
}

type accounts struct {
	repository.Repository[*Account]
	db *bun.DB
}

var (
	_ Accounts                        = (*accounts)(nil)
	_ repository.Repository[*Account] = (*accounts)(nil)
)

func NewAccountsRepository(db *bun.DB) Accounts {
	repo := repository.NewRepository[*Account](db, repository.ModelHandlers[*Account]{
		NewRecord: func() *Account { return &Account{} },
		GetID: func(a *Account) uuid.UUID {
			if a == nil {
				return uuid.Nil
			}
			return a.ID
		},
		SetID: func(a *Account, id uuid.UUID) {
			if a != nil {
				a.ID = id
			}
		},
		GetIdentifier: func() string {
			return "email"
		},
	})

	return &accounts{
		Repository: repo,
		db:         db,
	}
}

func (a *accounts) Create(ctx context.Context, record *Account, criteria ...repository.InsertCriteria) (*Account, error) {
	return a.CreateTx(ctx, a.db, record, criteria...)
}

func (a *accounts) CreateTx(ctx context.Context, tx bun.IDB, record *Account, criteria ...repository.InsertCriteria) (*Account, error) {
	prepareAccountDefaults(record)
	return a.Repository.CreateTx(ctx, tx, record, criteria...)
}

func (a *accounts) GetByEmail(ctx context.Context, email string) (*Account, error) {
	return a.GetByEmailTx(ctx, a.db, email)
}

func (a *accounts) GetByEmailTx(ctx context.Context, tx bun.IDB, email string) (*Account, error) {
	return a.getOne(ctx, tx, "lower(?TableAlias.email) = ?", NormalizeEmail(email))
}

func (a *accounts) GetByUsername(ctx context.Context, username string) (*Account, error) {
	return a.GetByUsernameTx(ctx, a.db, username)
}

func (a *accounts) GetByUsernameTx(ctx context.Context, tx bun.IDB, username string) (*Account, error) {
	return a.getOne(ctx, tx, "lower(?TableAlias.username) = lower(?)", username)
}

func (a *accounts) GetByConfirmationToken(ctx context.Context, token string) (*Account, error) {
	return a.getOne(ctx, a.db, "?TableAlias.confirmation_token = ?", token)
}

func (a *accounts) GetByResetToken(ctx context.Context, token string) (*Account, error) {
	return a.getOne(ctx, a.db, "?TableAlias.reset_password_token = ?", token)
}

// EmailHolderTx finds another account whose confirmed email equals the
// given address.
func (a *accounts) EmailHolderTx(ctx context.Context, tx bun.IDB, email string, excludeID uuid.UUID) (*Account, error) {
	return a.getOne(ctx, tx,
		"lower(?TableAlias.email) = ? AND ?TableAlias.id <> ?",
		NormalizeEmail(email), excludeID)
}

// PendingEmailHolderTx finds another account holding the given address as
// its unconfirmed email. Window checks belong to the caller.
func (a *accounts) PendingEmailHolderTx(ctx context.Context, tx bun.IDB, email string, excludeID uuid.UUID) (*Account, error) {
	return a.getOne(ctx, tx,
		"lower(?TableAlias.unconfirmed_email) = ? AND ?TableAlias.id <> ?",
		NormalizeEmail(email), excludeID)
}

func (a *accounts) SetConfirmationTokenTx(ctx context.Context, tx bun.IDB, id uuid.UUID, token string, sentAt time.Time) error {
	record := &Account{ID: id, ConfirmationToken: token, ConfirmationSentAt: &sentAt}
	_, err := tx.NewUpdate().
		Model(record).
		Column("confirmation_token", "confirmation_sent_at").
		WherePK().
		Exec(ctx)
	return err
}

func (a *accounts) SetPendingEmailTx(ctx context.Context, tx bun.IDB, id uuid.UUID, email, token string, sentAt time.Time) error {
	record := &Account{ID: id, UnconfirmedEmail: email, ConfirmationToken: token, ConfirmationSentAt: &sentAt}
	_, err := tx.NewUpdate().
		Model(record).
		Column("unconfirmed_email", "confirmation_token", "confirmation_sent_at").
		WherePK().
		Exec(ctx)
	return err
}

func (a *accounts) SetResetTokenTx(ctx context.Context, tx bun.IDB, id uuid.UUID, token string, sentAt time.Time) error {
	record := &Account{ID: id, ResetToken: token, ResetSentAt: &sentAt}
	_, err := tx.NewUpdate().
		Model(record).
		Column("reset_password_token", "reset_password_sent_at").
		WherePK().
		Exec(ctx)
	return err
}

func (a *accounts) ConfirmTx(ctx context.Context, tx bun.IDB, id uuid.UUID, confirmedAt time.Time) error {
	return a.execExpectingRow(ctx, tx, ConfirmAccountSQL, confirmedAt, id.String())
}

func (a *accounts) PromoteEmailTx(ctx context.Context, tx bun.IDB, id uuid.UUID, confirmedAt time.Time) error {
	return a.execExpectingRow(ctx, tx, PromoteUnconfirmedEmailSQL, confirmedAt, id.String())
}

func (a *accounts) ResetPasswordTx(ctx context.Context, tx bun.IDB, id uuid.UUID, passwordHash string) error {
	return a.execExpectingRow(ctx, tx, ResetAccountPasswordSQL, passwordHash, id.String())
}

func (a *accounts) execExpectingRow(ctx context.Context, tx bun.IDB, sql string, args ...any) error {
	res, err := a.Repository.RawTx(ctx, tx, sql, args...)
	if err != nil {
		return err
	}

	if len(res) == 0 {
		return repository.NewRecordNotFound()
	}

	return nil
}

func (a *accounts) getOne(ctx context.Context, tx bun.IDB, where string, args ...any) (*Account, error) {
	record := &Account{}
	err := tx.NewSelect().
		Model(record).
		Where(where, args...).
		Limit(1).
		Scan(ctx)

	if err != nil {
		if repository.IsRecordNotFound(err) {
			return nil, repository.NewRecordNotFound()
		}
		return nil, err
	}

	return record, nil
}

func prepareAccountDefaults(record *Account) {
	if record == nil {
		return
	}

	record.Email = NormalizeEmail(record.Email)
	if record.UnconfirmedEmail != "" {
		record.UnconfirmedEmail = NormalizeEmail(record.UnconfirmedEmail)
	}

	if record.ID == uuid.Nil {
		record.ID = uuid.New()
	}
}
