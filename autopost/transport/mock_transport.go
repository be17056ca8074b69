package transport

import (
	"context"
	"fmt"
	"sync"
)

type SentMessage struct {
	Account     AccountID
	Destination DestinationID
	Payload     Payload
	ReplyTo     MessageID
	ID          MessageID
}

type DeletedMessage struct {
	Account     AccountID
	Destination DestinationID
	ID          MessageID
}

// A fake transport, for use in tests
type MockTransport struct {
	mu *sync.Mutex

	presences    map[IdentityRef]Presence
	presenceErrs map[IdentityRef]error
	roles        map[DestinationID]map[IdentityID]Role
	sendErrs     map[DestinationID][]error
	deleteErr    error
	leaveErr     error
	nextID       int

	Sent          []SentMessage
	Deleted       []DeletedMessage
	PresenceCalls []IdentityRef
	Joined        []DestinationID
	Left          []DestinationID
	TypingIn      []DestinationID
}

var _ Transport = (*MockTransport)(nil)
var _ TypingIndicator = (*MockTransport)(nil)

func NewMockTransport() *MockTransport {
	return &MockTransport{
		mu:           &sync.Mutex{},
		presences:    make(map[IdentityRef]Presence),
		presenceErrs: make(map[IdentityRef]error),
		roles:        make(map[DestinationID]map[IdentityID]Role),
		sendErrs:     make(map[DestinationID][]error),
	}
}

func (m *MockTransport) SetPresence(ref IdentityRef, p Presence) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.presences[ref] = p
	delete(m.presenceErrs, ref)
}

func (m *MockTransport) FailPresence(ref IdentityRef, err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.presenceErrs[ref] = err
}

func (m *MockTransport) SetRole(dest DestinationID, ident IdentityID, role Role) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.roles[dest]; !ok {
		m.roles[dest] = make(map[IdentityID]Role)
	}
	m.roles[dest][ident] = role
}

// Queues an error to be returned by the next Send to dest. Errors are consumed in order.
func (m *MockTransport) QueueSendError(dest DestinationID, err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.sendErrs[dest] = append(m.sendErrs[dest], err)
}

func (m *MockTransport) SetDeleteError(err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.deleteErr = err
}

func (m *MockTransport) SetLeaveError(err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.leaveErr = err
}

// Messages sent to dest, in send order
func (m *MockTransport) SentTo(dest DestinationID) []SentMessage {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := []SentMessage{}
	for _, s := range m.Sent {
		if s.Destination == dest {
			out = append(out, s)
		}
	}
	return out
}

func (m *MockTransport) SentCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.Sent)
}

func (m *MockTransport) DeletedIDs() []MessageID {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]MessageID, 0, len(m.Deleted))
	for _, d := range m.Deleted {
		out = append(out, d.ID)
	}
	return out
}

func (m *MockTransport) Send(ctx context.Context, acct AccountID, dest DestinationID, payload Payload, replyTo MessageID) (MessageID, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if errs := m.sendErrs[dest]; len(errs) > 0 {
		m.sendErrs[dest] = errs[1:]
		if errs[0] != nil {
			return "", errs[0]
		}
	}
	m.nextID++
	id := MessageID(fmt.Sprintf("msg-%d", m.nextID))
	m.Sent = append(m.Sent, SentMessage{
		Account:     acct,
		Destination: dest,
		Payload:     payload,
		ReplyTo:     replyTo,
		ID:          id,
	})
	return id, nil
}

func (m *MockTransport) Delete(ctx context.Context, acct AccountID, dest DestinationID, msg MessageID) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.Deleted = append(m.Deleted, DeletedMessage{Account: acct, Destination: dest, ID: msg})
	return m.deleteErr
}

func (m *MockTransport) Presence(ctx context.Context, acct AccountID, ref IdentityRef) (*Presence, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.PresenceCalls = append(m.PresenceCalls, ref)
	if err, ok := m.presenceErrs[ref]; ok {
		return nil, err
	}
	p, ok := m.presences[ref]
	if !ok {
		return nil, ErrIdentityNotFound
	}
	return &p, nil
}

func (m *MockTransport) Role(ctx context.Context, acct AccountID, dest DestinationID, ident IdentityID) (Role, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	members, ok := m.roles[dest]
	if !ok {
		return "", ErrIdentityNotFound
	}
	role, ok := members[ident]
	if !ok {
		return "", ErrIdentityNotFound
	}
	return role, nil
}

func (m *MockTransport) Join(ctx context.Context, acct AccountID, dest DestinationID) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.Joined = append(m.Joined, dest)
	return nil
}

func (m *MockTransport) Leave(ctx context.Context, acct AccountID, dest DestinationID) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.Left = append(m.Left, dest)
	return m.leaveErr
}

func (m *MockTransport) Typing(ctx context.Context, acct AccountID, dest DestinationID) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.TypingIn = append(m.TypingIn, dest)
	return nil
}
