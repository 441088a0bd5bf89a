// Package hub is the websocket message router. Every connected client
// speaks the same envelope; the hub dispatches frames addressed to the
// server and relays everything else by target id or target class.
package hub

import (
	"encoding/json"

	"crewlink/internal/identity"
)

// Event is the wire envelope every frame travels in.
type Event struct {
	From string          `json:"from"`
	To   string          `json:"to"`
	Type string          `json:"type"`
	Data json.RawMessage `json:"data,omitempty"`
}

// Message types.
const (
	TypeHandshake    = "HANDSHAKE"
	TypeRegistration = "REGISTRATION"
	TypeAuth         = "AUTH"
	TypeAuthFail     = "AUTH_FAIL"
	TypeLogin        = "LOGIN"
	TypeUpdate       = "UPDATE"
	TypePing         = "PING"
	TypeBackup       = "BACKUP"
)

// Reserved addresses.
const (
	// ToServer addresses the hub itself.
	ToServer = "server"

	// ToAll addresses every connected client, sender included.
	ToAll = "all"

	// Wildcard is an alias for ToAll.
	Wildcard = "*"

	// FromServer is the sender id on frames the hub originates.
	FromServer = "server"
)

// HandshakeData is the profile payload of a registration approval and
// of REST device patches pushed down the socket.
type HandshakeData struct {
	Operator string        `json:"operator"`
	Place    string        `json:"place"`
	Icon     string        `json:"icon"`
	Role     identity.Role `json:"type"`
}

// Patch converts the payload into an identity patch.
func (d HandshakeData) Patch() identity.Patch {
	return identity.Patch{
		Operator: d.Operator,
		Place:    d.Place,
		Icon:     d.Icon,
		Role:     d.Role,
	}
}

// AuthApproval is the payload an admin sends to approve a pending
// registration: the token plus the profile for the new device.
type AuthApproval struct {
	Regis  string        `json:"regis"`
	Device HandshakeData `json:"device"`
}

// AuthAck is the payload the hub sends back on successful admission or
// login. Token is only set for web logins when sessions are enabled.
type AuthAck struct {
	Key    string            `json:"key,omitempty"`
	Device identity.Identity `json:"device"`
	Token  string            `json:"token,omitempty"`
}

// RegistrationData carries the pending token down to an unknown device.
type RegistrationData struct {
	Regis string `json:"regis"`
}

// LoginData is the payload of a web LOGIN frame. Hash is the md5 hex
// digest of the operator's password.
type LoginData struct {
	Operator string `json:"operator"`
	Hash     string `json:"hash"`
}

// UpdateData names the collection whose version counter moved.
type UpdateData struct {
	Collection string `json:"collection"`
	Version    int64  `json:"version"`
}

// PingData carries the server's ping cadence in seconds so clients can
// size their liveness timeouts.
type PingData struct {
	Interval int `json:"interval"`
}

// matches reports whether a registered handler target claims the
// event's "to" address. Exact ids match themselves; the "device" class
// claims any device-prefixed id; "all" claims both broadcast aliases.
func matches(target, to string) bool {
	switch target {
	case ToAll:
		return to == ToAll || to == Wildcard
	case "device":
		return identity.KindOf(to) == identity.KindDevice
	default:
		return target == to
	}
}

// mustMarshal encodes a payload that cannot fail to marshal.
func mustMarshal(v any) json.RawMessage {
	data, err := json.Marshal(v)
	if err != nil {
		panic("hub: marshalling event payload: " + err.Error())
	}
	return data
}
