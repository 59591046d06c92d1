package credentials

import (
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/uptrace/bun"
)

// Account is the persisted identity record. Email and username are unique
// case-insensitively; UnconfirmedEmail holds a pending address until its
// confirmation token is consumed.
type Account struct {
	bun.BaseModel      `bun:"table:accounts,alias:acct"`
	ID                 uuid.UUID  `bun:"id,pk,nullzero,type:uuid" json:"id,omitempty"`
	Email              string     `bun:"email,notnull,unique" json:"email,omitempty"`
	UnconfirmedEmail   string     `bun:"unconfirmed_email,nullzero" json:"unconfirmed_email,omitempty"`
	Username           string     `bun:"username,notnull,unique" json:"username,omitempty"`
	PasswordHash       string     `bun:"password_hash,notnull" json:"-"`
	ConfirmationToken  string     `bun:"confirmation_token,nullzero" json:"-"`
	ConfirmationSentAt *time.Time `bun:"confirmation_sent_at,nullzero" json:"confirmation_sent_at,omitempty"`
	ConfirmedAt        *time.Time `bun:"confirmed_at,nullzero" json:"confirmed_at,omitempty"`
	ResetToken         string     `bun:"reset_password_token,nullzero" json:"-"`
	ResetSentAt        *time.Time `bun:"reset_password_sent_at,nullzero" json:"reset_password_sent_at,omitempty"`
	CreatedAt          *time.Time `bun:"created_at,nullzero,default:current_timestamp" json:"created_at,omitempty"`
	UpdatedAt          *time.Time `bun:"updated_at,nullzero,default:current_timestamp" json:"updated_at,omitempty"`
}

// IsConfirmed reports whether the account has ever been confirmed.
func (a *Account) IsConfirmed() bool {
	return a.ConfirmedAt != nil
}

// ConfirmationTokenValid reports whether the confirmation token is still
// inside its validity window at the given instant.
func (a *Account) ConfirmationTokenValid(now time.Time, window time.Duration) bool {
	if a.ConfirmationToken == "" || a.ConfirmationSentAt == nil {
		return false
	}
	return IsWithinThresholdPeriod(*a.ConfirmationSentAt, window, now)
}

// ResetTokenValid reports whether the reset token is still inside its
// validity window at the given instant.
func (a *Account) ResetTokenValid(now time.Time, window time.Duration) bool {
	if a.ResetToken == "" || a.ResetSentAt == nil {
		return false
	}
	return IsWithinThresholdPeriod(*a.ResetSentAt, window, now)
}

// MarkConfirmed clears the confirmation token and stamps ConfirmedAt.
// Tokens are single use: once cleared a second presentation cannot match.
func (a *Account) MarkConfirmed(now time.Time) {
	a.ConfirmationToken = ""
	a.ConfirmedAt = &now
}

// PromoteUnconfirmedEmail moves the pending address into Email and clears
// the pending slot. Callers confirm the token before promoting.
func (a *Account) PromoteUnconfirmedEmail() {
	a.Email = a.UnconfirmedEmail
	a.UnconfirmedEmail = ""
}

// NormalizeEmail strips spaces and lowercases the given address the same
// way every persisted email is stored.
func NormalizeEmail(email string) string {
	return strings.ToLower(strings.ReplaceAll(email, " ", ""))
}

// RefreshSession is the server side record behind a refresh token. Each
// account holds at most one: issuing a new session destroys the prior one.
type RefreshSession struct {
	bun.BaseModel `bun:"table:refresh_sessions,alias:sess"`
	ID            uuid.UUID  `bun:"id,pk,nullzero,type:uuid" json:"id,omitempty"`
	AccountID     uuid.UUID  `bun:"account_id,notnull,unique,type:uuid" json:"account_id,omitempty"`
	TokenValue    string     `bun:"token_value,notnull,unique" json:"token_value,omitempty"`
	CreatedAt     *time.Time `bun:"created_at,nullzero,default:current_timestamp" json:"created_at,omitempty"`
}
