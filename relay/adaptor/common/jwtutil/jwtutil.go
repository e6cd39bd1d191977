// Package jwtutil extracts claims from vendor tokens without verifying them.
// The gateway never trusts these values for security decisions; they only
// feed request parameters the vendor expects to match its own token.
package jwtutil

import (
	"strings"

	"github.com/Laisky/errors/v2"
	"github.com/golang-jwt/jwt/v5"
)

// LooksLikeJWT reports whether the string has the three-segment JWT shape.
func LooksLikeJWT(token string) bool {
	return strings.HasPrefix(token, "eyJ") && strings.Count(token, ".") == 2
}

// UnverifiedClaims decodes the payload segment without signature validation.
func UnverifiedClaims(token string) (jwt.MapClaims, error) {
	claims := jwt.MapClaims{}
	parser := jwt.NewParser()
	if _, _, err := parser.ParseUnverified(token, claims); err != nil {
		return nil, errors.Wrap(err, "parse jwt")
	}
	return claims, nil
}

// StringClaim digs a string value out of the claims by a dotted path, e.g.
// "user.id". Numeric values are not coerced.
func StringClaim(claims jwt.MapClaims, path string) string {
	var node any = map[string]any(claims)
	for _, key := range strings.Split(path, ".") {
		typed, ok := node.(map[string]any)
		if !ok {
			return ""
		}
		node = typed[key]
	}
	value, _ := node.(string)
	return value
}
