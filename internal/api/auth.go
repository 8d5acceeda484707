package api

import (
	"crypto/rand"
	"errors"
	"fmt"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"

	"github.com/alproj/sidecar-host/internal/infrastructure/config"
	"github.com/alproj/sidecar-host/internal/infrastructure/logging"
)

// ErrTokenInvalid is returned when a bearer token fails validation.
var ErrTokenInvalid = errors.New("invalid token")

const (
	// tokenSubject identifies the local frontend in the session token.
	tokenSubject = "frontend"

	// generatedSecretBytes is the size of the per-run signing secret.
	generatedSecretBytes = 32

	tokenFilePermissions = 0600
	tokenDirPermissions  = 0700
)

// TokenIssuer mints the host's single session token and validates
// bearer tokens against it.
type TokenIssuer struct {
	secret  []byte
	enabled bool
	token   string
}

// NewTokenIssuer creates an issuer and mints the session token. An empty
// JWT secret is replaced by a random one, so tokens do not survive a restart.
func NewTokenIssuer(cfg config.SecurityConfig) (*TokenIssuer, error) {
	secret := []byte(cfg.JWTSecret)
	if len(secret) == 0 {
		secret = make([]byte, generatedSecretBytes)
		if _, err := rand.Read(secret); err != nil {
			return nil, fmt.Errorf("generating token secret: %w", err)
		}
	}

	now := time.Now()
	claims := jwt.RegisteredClaims{
		Issuer:   logging.ServiceName,
		Subject:  tokenSubject,
		IssuedAt: jwt.NewNumericDate(now),
		ID:       uuid.NewString(),
	}
	if cfg.TokenTTL > 0 {
		claims.ExpiresAt = jwt.NewNumericDate(now.Add(time.Duration(cfg.TokenTTL) * time.Minute))
	}

	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(secret)
	if err != nil {
		return nil, fmt.Errorf("signing session token: %w", err)
	}

	return &TokenIssuer{secret: secret, enabled: cfg.AuthEnabled, token: signed}, nil
}

// Token returns the session token.
func (t *TokenIssuer) Token() string {
	return t.token
}

// Enabled reports whether requests must present a token.
func (t *TokenIssuer) Enabled() bool {
	return t.enabled
}

// Validate checks signature, algorithm, expiry and subject.
func (t *TokenIssuer) Validate(tokenString string) error {
	claims := &jwt.RegisteredClaims{}
	token, err := jwt.ParseWithClaims(tokenString, claims, func(_ *jwt.Token) (any, error) {
		return t.secret, nil
	}, jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}))
	if err != nil {
		return fmt.Errorf("%w: %w", ErrTokenInvalid, err)
	}
	if !token.Valid {
		return ErrTokenInvalid
	}
	if claims.Subject != tokenSubject {
		return fmt.Errorf("%w: unexpected subject", ErrTokenInvalid)
	}
	return nil
}

// WriteFile stores the token at path, readable only by the current user.
func (t *TokenIssuer) WriteFile(path string) error {
	if err := os.MkdirAll(filepath.Dir(path), tokenDirPermissions); err != nil {
		return fmt.Errorf("creating token directory: %w", err)
	}
	if err := os.WriteFile(path, []byte(t.token+"\n"), tokenFilePermissions); err != nil {
		return fmt.Errorf("writing token file: %w", err)
	}
	// WriteFile keeps the mode of an existing file.
	if err := os.Chmod(path, tokenFilePermissions); err != nil {
		return fmt.Errorf("securing token file: %w", err)
	}
	return nil
}

// bearerToken extracts the token from "Authorization: Bearer <token>".
func bearerToken(r *http.Request) string {
	h := r.Header.Get("Authorization")
	const prefix = "Bearer "
	if len(h) <= len(prefix) || !strings.EqualFold(h[:len(prefix)], prefix) {
		return ""
	}
	return strings.TrimSpace(h[len(prefix):])
}
