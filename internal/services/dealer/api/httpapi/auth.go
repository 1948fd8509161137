package httpapi

import (
	"crypto/ed25519"
	"encoding/base64"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"

	apperrors "github.com/louisbranch/housedealer/internal/platform/errors"
)

// TriggerAuth verifies bearer tokens on move triggers. Tokens are EdDSA
// JWTs scoped to one game through the game_id claim.
type TriggerAuth struct {
	Key ed25519.PublicKey
	// Issuer is checked when set.
	Issuer string
	Now    func() time.Time
}

type triggerClaims struct {
	jwt.RegisteredClaims
	GameID string `json:"game_id"`
}

// ParseTriggerKey decodes a base64 (std or raw url) Ed25519 public key.
func ParseTriggerKey(raw string) (ed25519.PublicKey, error) {
	raw = strings.TrimSpace(raw)
	var (
		keyBytes []byte
		err      error
	)
	for _, enc := range []*base64.Encoding{base64.StdEncoding, base64.RawStdEncoding, base64.RawURLEncoding, base64.URLEncoding} {
		keyBytes, err = enc.DecodeString(raw)
		if err == nil {
			break
		}
	}
	if err != nil {
		return nil, fmt.Errorf("decode trigger public key: %w", err)
	}
	if len(keyBytes) != ed25519.PublicKeySize {
		return nil, fmt.Errorf("trigger public key must be %d bytes", ed25519.PublicKeySize)
	}
	return ed25519.PublicKey(keyBytes), nil
}

// Authorize checks the request's bearer token against gameID.
func (a *TriggerAuth) Authorize(r *http.Request, gameID string) error {
	if a == nil {
		return nil
	}
	header := strings.TrimSpace(r.Header.Get("Authorization"))
	token, ok := strings.CutPrefix(header, "Bearer ")
	if !ok || strings.TrimSpace(token) == "" {
		return apperrors.New(apperrors.CodeTriggerForbidden, "bearer token is required")
	}
	return a.Verify(strings.TrimSpace(token), gameID)
}

// Verify validates token and that it was issued for gameID.
func (a *TriggerAuth) Verify(token, gameID string) error {
	if len(a.Key) != ed25519.PublicKeySize {
		return errors.New("trigger verifier is not configured")
	}
	now := a.Now
	if now == nil {
		now = time.Now
	}
	opts := []jwt.ParserOption{
		jwt.WithValidMethods([]string{"EdDSA"}),
		jwt.WithExpirationRequired(),
		jwt.WithTimeFunc(now),
	}
	if a.Issuer != "" {
		opts = append(opts, jwt.WithIssuer(a.Issuer))
	}

	var claims triggerClaims
	if _, err := jwt.ParseWithClaims(token, &claims, func(*jwt.Token) (any, error) {
		return a.Key, nil
	}, opts...); err != nil {
		return mapJWTError(err)
	}
	if claims.GameID == "" || claims.GameID != gameID {
		return apperrors.WithMetadata(
			apperrors.CodeTriggerForbidden,
			"token is not valid for this game",
			map[string]string{"Field": "game_id"},
		)
	}
	return nil
}

func mapJWTError(err error) error {
	switch {
	case errors.Is(err, jwt.ErrTokenSignatureInvalid), errors.Is(err, jwt.ErrEd25519Verification):
		return apperrors.New(apperrors.CodeTriggerForbidden, "token signature is invalid")
	case errors.Is(err, jwt.ErrTokenExpired):
		return apperrors.New(apperrors.CodeTriggerForbidden, "token is expired")
	case errors.Is(err, jwt.ErrTokenUnverifiable):
		return apperrors.New(apperrors.CodeTriggerForbidden, "token alg is invalid")
	default:
		return apperrors.Wrap(apperrors.CodeTriggerForbidden, "token is invalid", err)
	}
}
