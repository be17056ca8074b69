package transport

import (
	"context"
	"errors"
	"fmt"
	"time"
)

type AccountID string
type DestinationID string
type MessageID string

// Resolved, stable identifier of a remote participant
type IdentityID string

// Operator-supplied reference to a remote participant (username, numeric id, link). Resolved by the gateway.
type IdentityRef string

type Role string

const (
	RoleMember Role = "member"
	RoleAdmin  Role = "admin"
	RoleOwner  Role = "owner"
)

// Whether the role carries moderation privileges in a destination.
func (r Role) IsPrivileged() bool {
	return r == RoleAdmin || r == RoleOwner
}

type PresenceStatus string

const (
	PresenceOnline   PresenceStatus = "online"
	PresenceRecently PresenceStatus = "recently"
	PresenceOffline  PresenceStatus = "offline"
	PresenceHidden   PresenceStatus = "hidden"
)

type Presence struct {
	Identity IdentityID
	Status   PresenceStatus
	// zero if the remote network does not expose it
	LastSeen time.Time
}

// Opaque outbound content
type Payload struct {
	Text string `json:"text"`
}

func (p Payload) IsEmpty() bool {
	return p.Text == ""
}

var (
	ErrCredentialsInvalid = errors.New("account credentials invalid")
	ErrIdentityNotFound   = errors.New("identity not found")
)

// Returned by a transport when the remote network mandates a pause before the next request.
type RateLimitError struct {
	Wait time.Duration
}

func (e *RateLimitError) Error() string {
	return fmt.Sprintf("rate limited: retry after %s", e.Wait)
}

// Returns the mandated wait if err is (or wraps) a rate-limit error.
func AsRateLimit(err error) (time.Duration, bool) {
	var rle *RateLimitError
	if errors.As(err, &rle) {
		return rle.Wait, true
	}
	return 0, false
}

// Client side of the remote messaging network, scoped per automation account.
type Transport interface {
	// Sends payload to a destination. replyTo may be empty.
	Send(ctx context.Context, acct AccountID, dest DestinationID, payload Payload, replyTo MessageID) (MessageID, error)
	Delete(ctx context.Context, acct AccountID, dest DestinationID, msg MessageID) error
	Presence(ctx context.Context, acct AccountID, ref IdentityRef) (*Presence, error)
	// Privilege of a participant within a destination
	Role(ctx context.Context, acct AccountID, dest DestinationID, ident IdentityID) (Role, error)
	Join(ctx context.Context, acct AccountID, dest DestinationID) error
	Leave(ctx context.Context, acct AccountID, dest DestinationID) error
}

// Optional capability of a transport: showing the account as typing before a reply goes out.
type TypingIndicator interface {
	Typing(ctx context.Context, acct AccountID, dest DestinationID) error
}
