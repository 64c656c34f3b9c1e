// Package auth verifies Supabase access tokens. Sign-up, sessions and refresh
// are handled by Supabase itself; services only check the bearer token.
package auth

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/base64"
	"encoding/json"
	"errors"
	"strings"
	"time"
)

var (
	ErrInvalidToken = errors.New("invalid token")
	ErrExpiredToken = errors.New("token expired")
)

type AppMetadata struct {
	BusinessID string `json:"business_id"`
	Provider   string `json:"provider,omitempty"`
}

type Claims struct {
	Sub         string      `json:"sub"`
	Email       string      `json:"email,omitempty"`
	Role        string      `json:"role"`
	Aud         string      `json:"aud,omitempty"`
	Exp         int64       `json:"exp"`
	Iat         int64       `json:"iat"`
	AppMetadata AppMetadata `json:"app_metadata"`
}

type header struct {
	Alg string `json:"alg"`
	Typ string `json:"typ"`
}

// SignHS256 mints a token the way Supabase does with the project JWT secret.
// Only used by tests and local tooling.
func SignHS256(claims Claims, secret string) (string, error) {
	headerJSON, err := json.Marshal(header{Alg: "HS256", Typ: "JWT"})
	if err != nil {
		return "", err
	}
	payloadJSON, err := json.Marshal(claims)
	if err != nil {
		return "", err
	}
	unsigned := base64.RawURLEncoding.EncodeToString(headerJSON) + "." + base64.RawURLEncoding.EncodeToString(payloadJSON)
	return unsigned + "." + sign(unsigned, secret), nil
}

// VerifyHS256 checks the signature and expiry of a Supabase access token.
func VerifyHS256(token, secret string, now time.Time) (*Claims, error) {
	parts := strings.Split(token, ".")
	if len(parts) != 3 || secret == "" {
		return nil, ErrInvalidToken
	}

	rawHeader, err := base64.RawURLEncoding.DecodeString(parts[0])
	if err != nil {
		return nil, ErrInvalidToken
	}
	var h header
	if err := json.Unmarshal(rawHeader, &h); err != nil || h.Alg != "HS256" {
		return nil, ErrInvalidToken
	}

	unsigned := parts[0] + "." + parts[1]
	if !hmac.Equal([]byte(parts[2]), []byte(sign(unsigned, secret))) {
		return nil, ErrInvalidToken
	}

	payload, err := base64.RawURLEncoding.DecodeString(parts[1])
	if err != nil {
		return nil, ErrInvalidToken
	}
	var claims Claims
	if err := json.Unmarshal(payload, &claims); err != nil {
		return nil, ErrInvalidToken
	}
	if claims.Exp > 0 && now.Unix() > claims.Exp {
		return nil, ErrExpiredToken
	}
	if claims.Sub == "" {
		return nil, ErrInvalidToken
	}
	return &claims, nil
}

func sign(data, secret string) string {
	mac := hmac.New(sha256.New, []byte(secret))
	_, _ = mac.Write([]byte(data))
	return base64.RawURLEncoding.EncodeToString(mac.Sum(nil))
}
