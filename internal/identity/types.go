// Package identity manages the durable actors of the system: hardware
// devices, web operators, and pending registrations. Every actor is
// addressed by an id whose prefix encodes its kind.
package identity

import (
	"crypto/rand"
	"encoding/hex"
	"strings"
	"time"
)

// Kind classifies an identity by its id prefix.
type Kind string

// Identity kinds and their id prefixes.
const (
	KindDevice  Kind = "device"
	KindWebUser Kind = "web-user"
	KindPending Kind = "pending"
	KindUnknown Kind = "unknown"

	PrefixDevice  = "dev-"
	PrefixWebUser = "web-"
	PrefixPending = "regis-"
)

// KindOf classifies an id by its prefix.
// Ids with no recognised prefix are KindUnknown.
func KindOf(id string) Kind {
	switch {
	case strings.HasPrefix(id, PrefixDevice):
		return KindDevice
	case strings.HasPrefix(id, PrefixWebUser):
		return KindWebUser
	case strings.HasPrefix(id, PrefixPending):
		return KindPending
	default:
		return KindUnknown
	}
}

// Role describes what an identity is allowed to do.
type Role string

// Known roles. Only RoleAdmin may approve registrations.
const (
	RoleAdmin   Role = "admin"
	RoleMember  Role = "member"
	RolePR      Role = "pr"
	RoleWebUser Role = "web-user"
)

// IsAdmin reports whether the role grants registration approval.
func (r Role) IsAdmin() bool {
	return r == RoleAdmin
}

// Identity is a durable actor: a device or a web operator.
//
// The JSON field names are the wire names used by both the websocket
// protocol and the REST API. AuthKey is only serialised when explicitly
// exporting a full record (device provisioning); PasswordHash never
// leaves the server.
type Identity struct {
	ID           string    `json:"id"`
	Kind         Kind      `json:"-"`
	Operator     string    `json:"operator"`
	Place        string    `json:"place"`
	Icon         string    `json:"icon"`
	Role         Role      `json:"type"`
	AuthKey      string    `json:"key,omitempty"`
	PasswordHash string    `json:"-"`
	CreatedAt    time.Time `json:"-"`
	UpdatedAt    time.Time `json:"-"`
}

// SafeExport returns a copy with all credential material stripped.
// This is the only form that should cross the wire to peers.
func (i *Identity) SafeExport() Identity {
	out := *i
	out.AuthKey = ""
	out.PasswordHash = ""
	return out
}

// Patch carries the mutable profile fields of an identity.
// Zero values mean "leave unchanged" for REST patches; registration
// approval applies all four.
type Patch struct {
	Operator string `json:"operator"`
	Place    string `json:"place"`
	Icon     string `json:"icon"`
	Role     Role   `json:"type"`
}

// id entropy sizes, in bytes before hex encoding.
const (
	shortIDBytes = 3  // 6 hex chars
	authKeyBytes = 32 // 64 hex chars
	tokenBytes   = 32 // 64 hex chars, well above the 128-bit floor
)

// NewDeviceID generates a fresh device id: "dev-" plus 6 hex characters.
func NewDeviceID() string {
	return PrefixDevice + randomHex(shortIDBytes)
}

// NewWebUserID generates a fresh web operator id: "web-" plus 6 hex characters.
func NewWebUserID() string {
	return PrefixWebUser + randomHex(shortIDBytes)
}

// NewAuthKey generates a 256-bit hex authentication key for a device.
func NewAuthKey() string {
	return randomHex(authKeyBytes)
}

// NewRegistrationToken generates a single-use pending-registration token.
// The token doubles as the pending identity's id, so it carries the
// "regis-" prefix.
func NewRegistrationToken() string {
	return PrefixPending + randomHex(tokenBytes)
}

// randomHex returns n bytes of cryptographic randomness, hex encoded.
func randomHex(n int) string {
	buf := make([]byte, n)
	if _, err := rand.Read(buf); err != nil {
		// crypto/rand never fails on supported platforms; if it does
		// the process cannot safely mint credentials.
		panic("identity: reading random bytes: " + err.Error())
	}
	return hex.EncodeToString(buf)
}
