// Package auth implements bearer-token issuance and validation (spec.md
// §4.5): User and Token records, password hashing, and the access-level
// ordering readonly < standard < advanced.
package auth

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/go-chi/jwtauth/v5"
	"github.com/google/uuid"
	"github.com/lestrrat-go/jwx/v2/jwt"
	"golang.org/x/crypto/bcrypt"
)

// AccessLevel is ordered; Go's default int comparison gives the ordering
// spec.md §3 requires directly.
type AccessLevel int

const (
	ReadOnly AccessLevel = iota
	Standard
	Advanced
)

func (l AccessLevel) String() string {
	switch l {
	case ReadOnly:
		return "readonly"
	case Standard:
		return "standard"
	case Advanced:
		return "advanced"
	default:
		return "unknown"
	}
}

// ParseAccessLevel inverts String; used when decoding the access_level
// claim out of a token.
func ParseAccessLevel(s string) (AccessLevel, error) {
	switch s {
	case "readonly":
		return ReadOnly, nil
	case "standard":
		return Standard, nil
	case "advanced":
		return Advanced, nil
	default:
		return 0, fmt.Errorf("auth: unknown access level %q", s)
	}
}

// User is the account record. HashedPassword is never the plaintext.
type User struct {
	ID             uuid.UUID
	Username       string
	HashedPassword []byte
	AccessLevel    AccessLevel
}

// NewUser hashes password with bcrypt and returns a new User.
func NewUser(username, password string, level AccessLevel) (*User, error) {
	hashed, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return nil, fmt.Errorf("auth: hash password: %w", err)
	}
	return &User{
		ID:             uuid.New(),
		Username:       username,
		HashedPassword: hashed,
		AccessLevel:    level,
	}, nil
}

// VerifyPassword reports whether password matches the stored hash.
func (u *User) VerifyPassword(password string) error {
	if err := bcrypt.CompareHashAndPassword(u.HashedPassword, []byte(password)); err != nil {
		return fmt.Errorf("%w: %v", ErrRejected, err)
	}
	return nil
}

var (
	// ErrRejected covers signature failure, expiry, and malformed tokens.
	ErrRejected = errors.New("auth: token rejected")
	// ErrAccessLevelInsufficient is returned by RequireAtLeast.
	ErrAccessLevelInsufficient = errors.New("auth: access level insufficient")
)

// refreshWindow is the "needs refresh" margin spec.md §4.5 defines.
const refreshWindow = 30 * time.Second

// TokenData is the decoded claim set spec.md §3 Token names.
type TokenData struct {
	Subject     string
	AccessLevel AccessLevel
	Expiry      time.Time
}

// NeedsRefresh reports whether the token is within 30 seconds of expiry.
func (t TokenData) NeedsRefresh() bool {
	return time.Until(t.Expiry) < refreshWindow
}

// Authenticator issues and validates bearer tokens using HMAC-signed JWTs
// (github.com/go-chi/jwtauth/v5), replacing the teacher's unused OPA
// authenticator with the mechanism spec.md §4.5 actually describes.
type Authenticator struct {
	tokenAuth *jwtauth.JWTAuth
}

// New builds an Authenticator signing with secret under HS256.
func New(secret []byte) *Authenticator {
	return &Authenticator{tokenAuth: jwtauth.New("HS256", secret, nil)}
}

// TokenAuth exposes the underlying jwtauth.JWTAuth for wiring chi's
// jwtauth.Verifier middleware into an HTTP router.
func (a *Authenticator) TokenAuth() *jwtauth.JWTAuth {
	return a.tokenAuth
}

// Issue signs a token carrying {sub, access_level, exp}.
func (a *Authenticator) Issue(user *User, ttl time.Duration) (string, error) {
	claims := map[string]interface{}{
		"sub":          user.Username,
		"access_level": user.AccessLevel.String(),
		"exp":          time.Now().Add(ttl).Unix(),
	}
	_, tokenString, err := a.tokenAuth.Encode(claims)
	if err != nil {
		return "", fmt.Errorf("auth: issue token: %w", err)
	}
	return tokenString, nil
}

// Validate verifies signature and expiry and extracts the claim set.
func (a *Authenticator) Validate(tokenString string) (TokenData, error) {
	token, err := a.tokenAuth.Decode(tokenString)
	if err != nil || token == nil {
		return TokenData{}, fmt.Errorf("%w: %v", ErrRejected, err)
	}

	claims, err := token.AsMap(context.Background())
	if err != nil {
		return TokenData{}, fmt.Errorf("%w: %v", ErrRejected, err)
	}

	sub, ok := claims["sub"].(string)
	if !ok {
		return TokenData{}, fmt.Errorf("%w: missing sub claim", ErrRejected)
	}
	levelStr, ok := claims["access_level"].(string)
	if !ok {
		return TokenData{}, fmt.Errorf("%w: missing access_level claim", ErrRejected)
	}
	level, err := ParseAccessLevel(levelStr)
	if err != nil {
		return TokenData{}, fmt.Errorf("%w: %v", ErrRejected, err)
	}

	exp, err := expiryOf(token)
	if err != nil {
		return TokenData{}, fmt.Errorf("%w: %v", ErrRejected, err)
	}
	if time.Now().After(exp) {
		return TokenData{}, fmt.Errorf("%w: expired", ErrRejected)
	}

	return TokenData{Subject: sub, AccessLevel: level, Expiry: exp}, nil
}

func expiryOf(token jwt.Token) (time.Time, error) {
	exp := token.Expiration()
	if !exp.IsZero() {
		return exp, nil
	}
	return time.Time{}, errors.New("missing exp claim")
}

// RequireAtLeast enforces the access-level ordering readonly < standard <
// advanced described in spec.md §3.
func RequireAtLeast(level, required AccessLevel) error {
	if level < required {
		return ErrAccessLevelInsufficient
	}
	return nil
}
