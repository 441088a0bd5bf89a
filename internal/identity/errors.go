package identity

import "errors"

// Domain errors for the identity package.
//
// These errors can be checked using errors.Is() for error handling:
//
//	if errors.Is(err, identity.ErrIdentityNotFound) {
//	    // handle not found case
//	}
var (
	// ErrIdentityNotFound is returned when an identity id does not exist.
	ErrIdentityNotFound = errors.New("identity: not found")

	// ErrDuplicateIdentity is returned when an insert collides with an
	// existing id or, for web operators, an existing operator name.
	ErrDuplicateIdentity = errors.New("identity: already exists")

	// ErrInvalidCredentials is returned when an authentication check fails.
	ErrInvalidCredentials = errors.New("identity: invalid credentials")
)
