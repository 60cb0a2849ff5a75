// Package auth verifies bearer credentials and maps them to consultation
// participants. Tokens are issued elsewhere (the booking site's login flow);
// this package only checks them and never stores them.
package auth

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/tbourn/go-consult-chat/internal/domain"
)

// Principal is a verified identity together with the credential's lifetime.
type Principal struct {
	domain.Participant
	ExpiresAt time.Time
	TokenID   string
}

// Expired reports whether the credential behind p is no longer valid at now.
func (p *Principal) Expired(now time.Time) bool {
	return !p.ExpiresAt.IsZero() && !now.Before(p.ExpiresAt)
}

// Verifier checks an opaque credential. Rejections wrap ErrUnauthenticated;
// ErrVerifierUnavailable means the check itself could not be completed.
type Verifier interface {
	Verify(ctx context.Context, credential string) (*Principal, error)
}

// RevocationChecker reports whether a token id has been revoked.
type RevocationChecker interface {
	IsRevoked(ctx context.Context, tokenID string) (bool, error)
}

// Claims is the JWT payload: the participant role plus registered claims
// where sub carries the numeric participant id and jti the token id.
type Claims struct {
	Role string `json:"role"`
	jwt.RegisteredClaims
}

// JWTOptions configures a JWTVerifier.
type JWTOptions struct {
	Secret      []byte
	Issuer      string        // checked when non-empty
	Leeway      time.Duration // tolerated clock skew on exp/nbf/iat
	Revocations RevocationChecker
	Now         func() time.Time
}

// JWTVerifier validates HMAC-signed JWTs.
type JWTVerifier struct {
	opts JWTOptions
}

var hmacMethods = []string{
	jwt.SigningMethodHS256.Alg(),
	jwt.SigningMethodHS384.Alg(),
	jwt.SigningMethodHS512.Alg(),
}

// NewJWTVerifier returns a verifier for tokens signed with opts.Secret.
func NewJWTVerifier(opts JWTOptions) *JWTVerifier {
	if opts.Now == nil {
		opts.Now = time.Now
	}
	return &JWTVerifier{opts: opts}
}

// Verify parses credential, checks signature, expiry, issuer and revocation,
// and returns the participant it names.
func (v *JWTVerifier) Verify(ctx context.Context, credential string) (*Principal, error) {
	credential = strings.TrimSpace(credential)
	if credential == "" {
		return nil, ErrMissingCredential
	}

	parserOpts := []jwt.ParserOption{
		jwt.WithValidMethods(hmacMethods),
		jwt.WithExpirationRequired(),
		jwt.WithLeeway(v.opts.Leeway),
		jwt.WithTimeFunc(v.opts.Now),
	}
	if v.opts.Issuer != "" {
		parserOpts = append(parserOpts, jwt.WithIssuer(v.opts.Issuer))
	}

	claims := &Claims{}
	_, err := jwt.ParseWithClaims(credential, claims, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", token.Header["alg"])
		}
		return v.opts.Secret, nil
	}, parserOpts...)
	switch {
	case err == nil:
	case errors.Is(err, jwt.ErrTokenMalformed):
		return nil, ErrMalformedCredential
	case errors.Is(err, jwt.ErrTokenExpired):
		return nil, ErrExpiredCredential
	default:
		return nil, fmt.Errorf("%w: %v", ErrInvalidCredential, err)
	}

	role, err := domain.ParseRole(claims.Role)
	if err != nil {
		return nil, fmt.Errorf("%w: unknown role %q", ErrInvalidCredential, claims.Role)
	}
	id, err := strconv.ParseUint(claims.Subject, 10, 64)
	if err != nil || id == 0 {
		return nil, fmt.Errorf("%w: subject is not a participant id", ErrInvalidCredential)
	}

	if v.opts.Revocations != nil && claims.ID != "" {
		revoked, err := v.opts.Revocations.IsRevoked(ctx, claims.ID)
		if err != nil {
			return nil, fmt.Errorf("%w: %v", ErrVerifierUnavailable, err)
		}
		if revoked {
			return nil, ErrRevokedCredential
		}
	}

	p := &Principal{
		Participant: domain.Participant{Role: role, ID: id},
		TokenID:     claims.ID,
	}
	if claims.ExpiresAt != nil {
		p.ExpiresAt = claims.ExpiresAt.Time
	}
	return p, nil
}

// IssueToken signs an HS256 token for p. The login flow lives outside this
// service; this exists for local tooling and tests that share the secret.
func IssueToken(secret []byte, p domain.Participant, ttl time.Duration, issuer, tokenID string) (string, time.Time, error) {
	now := time.Now()
	exp := now.Add(ttl)
	claims := &Claims{
		Role: string(p.Role),
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   strconv.FormatUint(p.ID, 10),
			Issuer:    issuer,
			ID:        tokenID,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(exp),
		},
	}
	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(secret)
	if err != nil {
		return "", time.Time{}, err
	}
	return signed, exp, nil
}
