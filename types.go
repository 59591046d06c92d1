package credentials

import (
	"context"
	"fmt"
	"time"
)

type Logger interface {
	Debug(format string, args ...any)
	Info(format string, args ...any)
	Warn(format string, args ...any)
	Error(format string, args ...any)
}

// Clock supplies the current time so expiry logic stays testable.
type Clock func() time.Time

// TokenPair is the result of a successful login or rotation.
type TokenPair struct {
	Access  string `json:"access"`
	Refresh string `json:"refresh"`
}

// Config holds the signing and lifecycle options shared by the engine.
type Config interface {
	GetSigningKey() string
	GetIssuer() string
	GetAudience() []string
	GetAccessTokenTTL() time.Duration
	GetRefreshTokenTTL() time.Duration
	GetConfirmationWindow() time.Duration
	GetResetWindow() time.Duration
	GetLoginGraceWindow() time.Duration
}

// Notifier delivers account lifecycle email. Implementations are
// fire-and-forget: the engine logs failures and never propagates them.
type Notifier interface {
	SendConfirmation(ctx context.Context, account *Account) error
	SendPasswordReset(ctx context.Context, account *Account) error
	SendEmailChangeConfirmation(ctx context.Context, account *Account) error
}

type noopNotifier struct{}

func (noopNotifier) SendConfirmation(context.Context, *Account) error { return nil }
func (noopNotifier) SendPasswordReset(context.Context, *Account) error { return nil }
func (noopNotifier) SendEmailChangeConfirmation(context.Context, *Account) error { return nil }

func normalizeNotifier(n Notifier) Notifier {
	if n == nil {
		return noopNotifier{}
	}
	return n
}

type defLogger struct{}

func (d defLogger) Error(format string, args ...any) {
	fmt.Printf("[ERR] CREDENTIALS "+newline(format), args...)
}

func (d defLogger) Warn(format string, args ...any) {
	fmt.Printf("[WRN] CREDENTIALS "+newline(format), args...)
}

func (d defLogger) Info(format string, args ...any) {
	fmt.Printf("[INF] CREDENTIALS "+newline(format), args...)
}

func (d defLogger) Debug(format string, args ...any) {
	fmt.Printf("[DBG] CREDENTIALS "+newline(format), args...)
}

func newline(s string) string {
	if len(s) > 0 && s[len(s)-1] != '\n' {
		s += "\n"
	}
	return s
}
