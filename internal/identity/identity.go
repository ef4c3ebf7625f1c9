// Package identity resolves the caller identity for mutating calls from
// JWT bearer tokens.
package identity

import (
	"crypto/rsa"
	"crypto/x509"
	"encoding/pem"
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/artista/market-ledger/internal/domain"
)

var (
	// ErrNetworkMismatch indicates the token was issued for a different
	// network than the one this service runs on
	ErrNetworkMismatch = errors.New("token network mismatch")
	// ErrInvalidToken indicates the token failed validation
	ErrInvalidToken = errors.New("invalid token")
)

// Claims are the JWT claims carried by a caller token. Subject is the
// caller's hex address; Network names the deployment the token targets.
type Claims struct {
	jwt.RegisteredClaims
	Network string `json:"network"`
}

// Provider validates bearer tokens and extracts the caller identity
type Provider struct {
	publicKey *rsa.PublicKey
	network   string
}

// NewProvider creates a Provider for the given RSA public key (PEM) and
// deployment network name. Tokens issued for a different network are
// rejected before any ledger call is made.
func NewProvider(publicKeyPEM, network string) (*Provider, error) {
	if publicKeyPEM == "" {
		return nil, errors.New("JWT public key not configured")
	}
	if network == "" {
		return nil, errors.New("network not configured")
	}

	publicKey, err := parseRSAPublicKey(publicKeyPEM)
	if err != nil {
		return nil, fmt.Errorf("failed to parse RSA public key: %w", err)
	}

	return &Provider{publicKey: publicKey, network: network}, nil
}

// Network returns the deployment network this provider accepts tokens for
func (p *Provider) Network() string {
	return p.network
}

// Resolve validates a bearer token and returns the caller identity
func (p *Provider) Resolve(tokenString string) (domain.Identity, error) {
	claims := &Claims{}
	token, err := jwt.ParseWithClaims(tokenString, claims, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodRSA); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", token.Header["alg"])
		}
		return p.publicKey, nil
	})
	if err != nil {
		return domain.ZeroIdentity, fmt.Errorf("%w: %w", ErrInvalidToken, err)
	}
	if !token.Valid {
		return domain.ZeroIdentity, ErrInvalidToken
	}

	now := time.Now()
	if claims.ExpiresAt != nil && claims.ExpiresAt.Before(now) {
		return domain.ZeroIdentity, fmt.Errorf("%w: token has expired", ErrInvalidToken)
	}
	if claims.NotBefore != nil && claims.NotBefore.After(now) {
		return domain.ZeroIdentity, fmt.Errorf("%w: token not yet valid", ErrInvalidToken)
	}

	if claims.Network != p.network {
		return domain.ZeroIdentity, fmt.Errorf("%w: token for %q, service on %q",
			ErrNetworkMismatch, claims.Network, p.network)
	}

	caller, ok := domain.ParseIdentity(claims.Subject)
	if !ok {
		return domain.ZeroIdentity, fmt.Errorf("%w: malformed subject %q", ErrInvalidToken, claims.Subject)
	}
	return caller, nil
}

// parseRSAPublicKey parses an RSA public key from PEM format
func parseRSAPublicKey(publicKeyPEM string) (*rsa.PublicKey, error) {
	block, _ := pem.Decode([]byte(publicKeyPEM))
	if block == nil {
		return nil, errors.New("failed to parse PEM block containing public key")
	}

	pub, err := x509.ParsePKIXPublicKey(block.Bytes)
	if err != nil {
		return x509.ParsePKCS1PublicKey(block.Bytes)
	}

	rsaKey, ok := pub.(*rsa.PublicKey)
	if !ok {
		return nil, errors.New("public key is not an RSA key")
	}
	return rsaKey, nil
}
