package credentials

import (
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
	goerrors "github.com/goliatone/go-errors"
	"github.com/google/uuid"
)

// TokenClass selects the default TTL applied to a signed bearer token.
// Access and refresh tokens share the system issuer and audience.
type TokenClass string

const (
	// TokenClassAccess is the short lived class presented on API calls.
	TokenClassAccess TokenClass = "access"
	// TokenClassRefresh is the long lived class backed by a RefreshSession.
	TokenClassRefresh TokenClass = "refresh"
)

// TokenClaims is the fixed claim schema carried by every signed token.
type TokenClaims struct {
	jwt.RegisteredClaims
	AccountID string     `json:"uid,omitempty"`
	Class     TokenClass `json:"cls,omitempty"`
}

type tokenDefaults struct {
	issuer   string
	audience jwt.ClaimStrings
	ttl      time.Duration
}

// TokenCodec signs and verifies bearer tokens with a process wide HS256
// secret. The codec is stateless; the key is immutable after construction.
type TokenCodec struct {
	signingKey []byte
	issuer     string
	audience   jwt.ClaimStrings
	accessTTL  time.Duration
	refreshTTL time.Duration
	now        Clock
	logger     Logger
}

// NewTokenCodec creates a codec from the given configuration.
func NewTokenCodec(cfg Config) *TokenCodec {
	var aud jwt.ClaimStrings
	if len(cfg.GetAudience()) > 0 {
		aud = make(jwt.ClaimStrings, len(cfg.GetAudience()))
		copy(aud, cfg.GetAudience())
	}

	return &TokenCodec{
		signingKey: []byte(cfg.GetSigningKey()),
		issuer:     cfg.GetIssuer(),
		audience:   aud,
		accessTTL:  cfg.GetAccessTokenTTL(),
		refreshTTL: cfg.GetRefreshTokenTTL(),
		now:        time.Now,
		logger:     defLogger{},
	}
}

// WithClock injects a custom clock (useful for tests).
func (c *TokenCodec) WithClock(clock Clock) *TokenCodec {
	if clock != nil {
		c.now = clock
	}
	return c
}

func (c *TokenCodec) WithLogger(logger Logger) *TokenCodec {
	if logger != nil {
		c.logger = logger
	}
	return c
}

func (c *TokenCodec) classDefaults(class TokenClass) tokenDefaults {
	ttl := c.accessTTL
	if class == TokenClassRefresh {
		ttl = c.refreshTTL
	}

	var aud jwt.ClaimStrings
	if len(c.audience) > 0 {
		aud = make(jwt.ClaimStrings, len(c.audience))
		copy(aud, c.audience)
	}

	return tokenDefaults{
		issuer:   c.issuer,
		audience: aud,
		ttl:      ttl,
	}
}

// NewClaims builds a claim set for the account with class defaults
// applied: issuer, audience, issued-at, class TTL, and a unique token ID.
func (c *TokenCodec) NewClaims(accountID string, class TokenClass) *TokenClaims {
	defaults := c.classDefaults(class)
	now := c.now()

	claims := &TokenClaims{
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    defaults.issuer,
			Subject:   accountID,
			Audience:  defaults.audience,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(defaults.ttl)),
		},
		AccountID: accountID,
		Class:     class,
	}

	ensureTokenID(&claims.RegisteredClaims)

	return claims
}

// Encode fills any unset claim from the class defaults, keeping caller
// supplied values where present, and returns the signed token.
func (c *TokenCodec) Encode(claims *TokenClaims, class TokenClass) (string, error) {
	if claims == nil {
		return "", goerrors.New("claims must not be nil", goerrors.CategoryInternal)
	}

	defaults := c.classDefaults(class)
	now := c.now()

	if claims.Issuer == "" {
		claims.Issuer = defaults.issuer
	}
	if len(claims.Audience) == 0 {
		claims.Audience = defaults.audience
	}
	if claims.IssuedAt == nil {
		claims.IssuedAt = jwt.NewNumericDate(now)
	}
	if claims.ExpiresAt == nil {
		claims.ExpiresAt = jwt.NewNumericDate(now.Add(defaults.ttl))
	}
	if claims.Class == "" {
		claims.Class = class
	}
	if claims.Subject == "" {
		claims.Subject = claims.AccountID
	}

	ensureTokenID(&claims.RegisteredClaims)

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)

	signed, err := token.SignedString(c.signingKey)
	if err != nil {
		return "", goerrors.Wrap(err, goerrors.CategoryInternal, "failed to sign token")
	}

	return signed, nil
}

// Decode verifies the signature and structure of a signed token and
// returns its claims. Expiry and issuer/audience are not checked here;
// that is IsValid's job, so stale tokens still decode and can be matched
// against their session record.
func (c *TokenCodec) Decode(raw string) (*TokenClaims, error) {
	token, err := jwt.ParseWithClaims(raw, &TokenClaims{}, func(t *jwt.Token) (any, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			c.logger.Error("TokenCodec decode encountered unexpected signing method", "alg", t.Header["alg"])
			return nil, fmt.Errorf("unexpected signing method: %v", t.Header["alg"])
		}
		return c.signingKey, nil
	}, jwt.WithoutClaimsValidation())

	if err != nil {
		return nil, goerrors.Wrap(err, ErrTokenMalformed.Category, ErrTokenMalformed.Message).
			WithTextCode(ErrTokenMalformed.TextCode)
	}

	claims, ok := token.Claims.(*TokenClaims)
	if !ok {
		c.logger.Error("TokenCodec decode could not map claims")
		return nil, ErrTokenMalformed
	}

	return claims, nil
}

// IsValid reports whether the claims are usable as the given class: the
// expiry must be in the future and the issuer and audience must match the
// configured values. Each check runs independently; any mismatch
// invalidates regardless of the others.
func (c *TokenCodec) IsValid(claims *TokenClaims, class TokenClass) bool {
	if claims == nil {
		return false
	}

	expired := claims.ExpiresAt == nil || !claims.ExpiresAt.After(c.now())
	issuerMismatch := claims.Issuer != c.issuer
	audienceMismatch := !audienceMatches(claims.Audience, c.audience)
	classMismatch := claims.Class != class

	return !expired && !issuerMismatch && !audienceMismatch && !classMismatch
}

func audienceMatches(got, want jwt.ClaimStrings) bool {
	if len(want) == 0 {
		return true
	}
	for _, expected := range want {
		found := false
		for _, aud := range got {
			if aud == expected {
				found = true
				break
			}
		}
		if !found {
			return false
		}
	}
	return true
}

// ensureTokenID stamps a unique jti so two tokens minted for the same
// account in the same second still differ on the wire.
func ensureTokenID(claims *jwt.RegisteredClaims) {
	if claims.ID == "" {
		claims.ID = uuid.New().String()
	}
}
