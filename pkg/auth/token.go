package auth

import (
	"crypto"
	"crypto/hmac"
	"crypto/rsa"
	"crypto/sha256"
	"encoding/base64"
	"encoding/json"
	"errors"
	"strings"
	"time"
)

// TokenClaims is the subset of JWT claims the gateway acts on.
type TokenClaims struct {
	Sub    string   `json:"sub"`
	Roles  []string `json:"roles"`
	Tenant string   `json:"tenant"`
	Iss    string   `json:"iss,omitempty"`
	Aud    any      `json:"aud,omitempty"`
	Exp    int64    `json:"exp"`
	Nbf    int64    `json:"nbf,omitempty"`
	Iat    int64    `json:"iat,omitempty"`
}

// compactToken is a decoded three-segment JWT. signingInput is the raw
// "header.payload" text the signature covers.
type compactToken struct {
	header       []byte
	payload      []byte
	signature    []byte
	signingInput string
}

func splitCompact(token string) (compactToken, error) {
	parts := strings.Split(token, ".")
	if len(parts) != 3 {
		return compactToken{}, errors.New("invalid token format")
	}
	var (
		tok compactToken
		err error
	)
	if tok.header, err = base64.RawURLEncoding.DecodeString(parts[0]); err != nil {
		return compactToken{}, err
	}
	if tok.payload, err = base64.RawURLEncoding.DecodeString(parts[1]); err != nil {
		return compactToken{}, err
	}
	if tok.signature, err = base64.RawURLEncoding.DecodeString(parts[2]); err != nil {
		return compactToken{}, err
	}
	tok.signingInput = parts[0] + "." + parts[1]
	return tok, nil
}

// decodeClaims tolerates the claim-shape quirks seen across identity
// providers: "roles" may be a single string and "aud" a string or array.
func decodeClaims(payload []byte) (TokenClaims, error) {
	var aux struct {
		Sub    string          `json:"sub"`
		Roles  json.RawMessage `json:"roles"`
		Tenant string          `json:"tenant"`
		Iss    string          `json:"iss"`
		Aud    any             `json:"aud"`
		Exp    int64           `json:"exp"`
		Nbf    int64           `json:"nbf"`
		Iat    int64           `json:"iat"`
	}
	if err := json.Unmarshal(payload, &aux); err != nil {
		return TokenClaims{}, err
	}
	claims := TokenClaims{
		Sub:    aux.Sub,
		Tenant: aux.Tenant,
		Iss:    aux.Iss,
		Aud:    aux.Aud,
		Exp:    aux.Exp,
		Nbf:    aux.Nbf,
		Iat:    aux.Iat,
	}
	if len(aux.Roles) > 0 {
		if err := json.Unmarshal(aux.Roles, &claims.Roles); err != nil {
			var single string
			if err2 := json.Unmarshal(aux.Roles, &single); err2 == nil && single != "" {
				claims.Roles = []string{single}
			}
		}
	}
	return claims, nil
}

func (c TokenClaims) validate(now time.Time, issuer, audience string) error {
	switch {
	case c.Exp == 0 || now.Unix() >= c.Exp:
		return errors.New("token expired")
	case c.Nbf != 0 && now.Unix() < c.Nbf:
		return errors.New("token not active")
	case c.Sub == "":
		return errors.New("subject required")
	case issuer != "" && c.Iss != issuer:
		return errors.New("issuer mismatch")
	case audience != "" && !audienceMatches(c.Aud, audience):
		return errors.New("audience mismatch")
	}
	return nil
}

func audienceMatches(aud any, expected string) bool {
	switch v := aud.(type) {
	case string:
		return v == expected
	case []any:
		for _, item := range v {
			if s, ok := item.(string); ok && s == expected {
				return true
			}
		}
	}
	return false
}

// VerifyHS256Token checks an HMAC-SHA256 signed token against the shared
// secret and validates its time window, issuer, and audience.
func VerifyHS256Token(token, secret string, now time.Time, issuer, audience string) (TokenClaims, error) {
	if secret == "" {
		return TokenClaims{}, errors.New("secret is required")
	}
	tok, err := splitCompact(token)
	if err != nil {
		return TokenClaims{}, err
	}
	var header struct {
		Alg string `json:"alg"`
	}
	if err := json.Unmarshal(tok.header, &header); err != nil {
		return TokenClaims{}, err
	}
	if !strings.EqualFold(header.Alg, "HS256") {
		return TokenClaims{}, errors.New("unsupported alg")
	}

	mac := hmac.New(sha256.New, []byte(secret))
	_, _ = mac.Write([]byte(tok.signingInput))
	if !hmac.Equal(tok.signature, mac.Sum(nil)) {
		return TokenClaims{}, errors.New("signature mismatch")
	}

	claims, err := decodeClaims(tok.payload)
	if err != nil {
		return TokenClaims{}, err
	}
	if err := claims.validate(now, issuer, audience); err != nil {
		return TokenClaims{}, err
	}
	return claims, nil
}

// VerifyRS256Token checks an RSA-signed token against the key named by the
// header kid, fetched through the JWKS cache.
func VerifyRS256Token(token string, now time.Time, cache *jwksCache, issuer, audience string) (TokenClaims, error) {
	tok, err := splitCompact(token)
	if err != nil {
		return TokenClaims{}, err
	}
	var header struct {
		Alg string `json:"alg"`
		Kid string `json:"kid"`
	}
	if err := json.Unmarshal(tok.header, &header); err != nil {
		return TokenClaims{}, err
	}
	if !strings.EqualFold(header.Alg, "RS256") {
		return TokenClaims{}, errors.New("unsupported alg")
	}
	if strings.TrimSpace(header.Kid) == "" {
		return TokenClaims{}, errors.New("kid required")
	}

	pub, err := cache.key(header.Kid, now)
	if err != nil {
		return TokenClaims{}, err
	}
	digest := sha256.Sum256([]byte(tok.signingInput))
	if err := rsa.VerifyPKCS1v15(pub, crypto.SHA256, digest[:], tok.signature); err != nil {
		return TokenClaims{}, err
	}

	claims, err := decodeClaims(tok.payload)
	if err != nil {
		return TokenClaims{}, err
	}
	if err := claims.validate(now, issuer, audience); err != nil {
		return TokenClaims{}, err
	}
	return claims, nil
}
