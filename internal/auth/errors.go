package auth

import (
	"errors"
	"fmt"
)

// ErrUnauthenticated is the root of every credential rejection. Callers
// match it with errors.Is; the wrapped variants below say why.
var ErrUnauthenticated = errors.New("unauthenticated")

var (
	ErrMissingCredential   = fmt.Errorf("%w: missing credential", ErrUnauthenticated)
	ErrMalformedCredential = fmt.Errorf("%w: malformed credential", ErrUnauthenticated)
	ErrInvalidCredential   = fmt.Errorf("%w: invalid credential", ErrUnauthenticated)
	ErrExpiredCredential   = fmt.Errorf("%w: credential expired", ErrUnauthenticated)
	ErrRevokedCredential   = fmt.Errorf("%w: credential revoked", ErrUnauthenticated)
)

// ErrVerifierUnavailable reports that a credential could not be checked,
// not that it was rejected. It is transient and does not wrap
// ErrUnauthenticated.
var ErrVerifierUnavailable = errors.New("credential verifier unavailable")
