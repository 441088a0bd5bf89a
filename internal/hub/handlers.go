package hub

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"crewlink/internal/identity"
	"crewlink/internal/registration"
)

// handleHandshake admits a known identity or starts a registration.
//
// The announced id becomes the client's bound id either way: known
// identities go straight into the connected set and get their profile
// back, unknown ones are parked behind a single-use token that an
// admin must approve.
func (h *Hub) handleHandshake(ctx context.Context, c *Client, ev Event) {
	id := ev.From
	if id == "" {
		h.logger.Warn("dropping handshake without sender id")
		return
	}

	c.bind(id)

	ident, err := h.identities.FindByID(ctx, id)
	if err != nil {
		if !errors.Is(err, identity.ErrIdentityNotFound) {
			h.logger.Error("looking up handshake identity", "id", id, "error", err)
			return
		}

		token := h.broker.Begin(c)
		c.sendEvent(Event{
			From: FromServer,
			To:   id,
			Type: TypeRegistration,
			Data: mustMarshal(RegistrationData{Regis: token}),
		})
		h.logger.Info("handshake from unknown id, registration started", "id", id)
		return
	}

	h.presence.Connect(id)

	// The profile echoed back never carries credentials.
	c.sendEvent(Event{
		From: FromServer,
		To:   id,
		Type: TypeHandshake,
		Data: mustMarshal(ident.SafeExport()),
	})
	h.logger.Info("handshake complete", "id", id)
}

// handleAuth processes an admin's approval of a pending registration.
//
// The approver is whoever this connection is bound to, not whatever
// the frame claims. Non-admin approvals are ignored without any reply,
// so probing clients learn nothing and the token stays valid for a
// real admin.
func (h *Hub) handleAuth(ctx context.Context, c *Client, ev Event) {
	var approval AuthApproval
	if err := json.Unmarshal(ev.Data, &approval); err != nil {
		h.logger.Warn("dropping malformed auth frame", "from", ev.From, "error", err)
		return
	}

	ident, session, err := h.broker.Approve(ctx, approval.Regis, approval.Device.Patch(), c.IdentityID())
	if err != nil {
		switch {
		case errors.Is(err, registration.ErrUnauthorized):
			h.logger.Debug("ignoring auth from non-admin", "from", c.IdentityID())
		case errors.Is(err, registration.ErrTokenNotFound):
			h.logger.Debug("auth for unknown or expired token", "from", c.IdentityID())
		default:
			h.logger.Error("approving registration", "error", err)
		}
		return
	}

	pending, ok := session.(*Client)
	if !ok {
		h.logger.Error("pending session is not a hub client", "id", ident.ID)
		return
	}

	h.presence.Connect(ident.ID)

	// The freshly minted key goes to the approved device once, followed
	// by its profile. This is the only time the key crosses the socket.
	pending.sendEvent(Event{
		From: FromServer,
		To:   ident.ID,
		Type: TypeAuth,
		Data: mustMarshal(AuthAck{Key: ident.AuthKey, Device: ident.SafeExport()}),
	})
	pending.sendEvent(Event{
		From: FromServer,
		To:   ident.ID,
		Type: TypeHandshake,
		Data: mustMarshal(ident.SafeExport()),
	})
}

// handleLogin authenticates a web operator by name and password digest.
func (h *Hub) handleLogin(ctx context.Context, c *Client, ev Event) {
	var login LoginData
	if err := json.Unmarshal(ev.Data, &login); err != nil {
		h.logger.Warn("dropping malformed login frame", "error", err)
		return
	}

	fail := func() {
		c.sendEvent(Event{
			From: FromServer,
			To:   ev.From,
			Type: TypeAuthFail,
		})
	}

	ident, err := h.identities.FindByOperator(ctx, login.Operator)
	if err != nil {
		h.logger.Info("login for unknown operator", "operator", login.Operator)
		fail()
		return
	}

	ok, err := identity.VerifySecret(login.Hash, ident.PasswordHash)
	if err != nil || !ok {
		h.logger.Info("login rejected", "operator", login.Operator)
		fail()
		return
	}

	c.bind(ident.ID)
	h.presence.Connect(ident.ID)

	// The ack carries the operator's auth key so the web client can use
	// the same device+key credentials as any other client.
	ack := AuthAck{Key: ident.AuthKey, Device: ident.SafeExport()}
	if h.security.JWT.Secret != "" {
		token, err := h.mintSessionToken(ident.ID)
		if err != nil {
			h.logger.Error("minting session token", "error", err)
		} else {
			ack.Token = token
		}
	}

	c.sendEvent(Event{
		From: FromServer,
		To:   ident.ID,
		Type: TypeAuth,
		Data: mustMarshal(ack),
	})
	h.logger.Info("login complete", "id", ident.ID, "operator", login.Operator)
}

// handlePing echoes the server cadence back to a probing client.
func (h *Hub) handlePing(_ context.Context, c *Client, ev Event) {
	c.sendEvent(Event{
		From: FromServer,
		To:   ev.From,
		Type: TypePing,
		Data: mustMarshal(PingData{Interval: h.cfg.PingInterval}),
	})
}

// handleBackup triggers an asynchronous backup run. Clients learn of
// the finished archive through the backups collection update.
func (h *Hub) handleBackup(ctx context.Context, c *Client, _ Event) {
	if h.backup == nil {
		h.logger.Warn("backup requested but no runner configured")
		return
	}
	if c.IdentityID() == "" {
		h.logger.Warn("dropping backup request from unidentified client")
		return
	}

	go func() {
		if err := h.backup.Run(ctx); err != nil {
			h.logger.Error("backup failed", "error", err)
			return
		}
		h.NotifyUpdate("backups")
	}()
}

// mintSessionToken issues an HS256 session token for a web operator.
func (h *Hub) mintSessionToken(id string) (string, error) {
	now := time.Now()
	ttl := time.Duration(h.security.JWT.AccessTokenTTL) * time.Minute

	claims := jwt.RegisteredClaims{
		Subject:   id,
		IssuedAt:  jwt.NewNumericDate(now),
		ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
		Issuer:    "crewlink",
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	return token.SignedString([]byte(h.security.JWT.Secret))
}
