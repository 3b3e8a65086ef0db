package auth

import (
	"encoding/base64"
	"errors"
	"strings"
	"time"

	"github.com/yaananth/chatmock/internal/json"
)

// authClaimKey is the namespaced claim the ChatGPT issuer packs account
// metadata under.
const authClaimKey = "https://api.openai.com/auth"

// ParseJWTClaims decodes the payload segment of a JWT without verifying the
// signature. The tokens come straight from the issuer over TLS and only
// public claims are read, so no verification key is needed here.
func ParseJWTClaims(token string) (map[string]any, error) {
	parts := strings.Split(token, ".")
	if len(parts) != 3 {
		return nil, errors.New("not a JWT")
	}
	payload, err := base64.RawURLEncoding.DecodeString(strings.TrimRight(parts[1], "="))
	if err != nil {
		return nil, err
	}
	var claims map[string]any
	if err := json.Unmarshal(payload, &claims); err != nil {
		return nil, err
	}
	return claims, nil
}

// StringClaim returns a top-level string claim, or "" when absent.
func StringClaim(claims map[string]any, key string) string {
	if claims == nil {
		return ""
	}
	if v, ok := claims[key].(string); ok {
		return v
	}
	return ""
}

// AuthClaim returns the nested ChatGPT auth claim object, or nil.
func AuthClaim(claims map[string]any) map[string]any {
	if claims == nil {
		return nil
	}
	if v, ok := claims[authClaimKey].(map[string]any); ok {
		return v
	}
	return nil
}

// AccountIDFromClaims extracts chatgpt_account_id from an id_token's claims.
func AccountIDFromClaims(claims map[string]any) string {
	return StringClaim(AuthClaim(claims), "chatgpt_account_id")
}

// AccountIDFromToken is AccountIDFromClaims over a raw id_token.
func AccountIDFromToken(idToken string) string {
	claims, err := ParseJWTClaims(idToken)
	if err != nil {
		return ""
	}
	return AccountIDFromClaims(claims)
}

// PlanTypeFromClaims extracts chatgpt_plan_type from an access token's
// claims, falling back to the top-level key some token versions carry.
func PlanTypeFromClaims(claims map[string]any) string {
	if v := StringClaim(AuthClaim(claims), "chatgpt_plan_type"); v != "" {
		return v
	}
	return StringClaim(claims, "chatgpt_plan_type")
}

// EmailFromClaims extracts the login identity from an id_token's claims.
func EmailFromClaims(claims map[string]any) string {
	if v := StringClaim(claims, "email"); v != "" {
		return v
	}
	return StringClaim(claims, "preferred_username")
}

// ExpiryFromClaims returns the exp claim as a time. The second return is
// false when the claim is missing or not numeric.
func ExpiryFromClaims(claims map[string]any) (time.Time, bool) {
	if claims == nil {
		return time.Time{}, false
	}
	switch v := claims["exp"].(type) {
	case float64:
		return time.Unix(int64(v), 0), true
	case int64:
		return time.Unix(v, 0), true
	case json.Number:
		if n, err := v.Int64(); err == nil {
			return time.Unix(n, 0), true
		}
	}
	return time.Time{}, false
}

// TokenExpiry parses a raw token and returns its exp claim.
func TokenExpiry(token string) (time.Time, bool) {
	claims, err := ParseJWTClaims(token)
	if err != nil {
		return time.Time{}, false
	}
	return ExpiryFromClaims(claims)
}
