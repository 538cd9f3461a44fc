package nodes

import (
	"context"
	"errors"
	"sync"

	"github.com/atlassian/hasocket"
)

// Source is a hasocket.MembershipSource whose local role can be changed at runtime.
type Source interface {
	hasocket.MembershipSource
	// SetRole changes the role of the local node and announces it.
	SetRole(ctx context.Context, role hasocket.Role) error
}

var errInvalidRole = errors.New("role must be master or slave")

// subscribers is the subscriber list and local identity shared by the sources.
type subscribers struct {
	mu     sync.Mutex
	id     string
	role   hasocket.Role
	subs   []hasocket.MemberSubscriber
	notify sync.Mutex // serializes notifications, so subscribers see events in order
}

func newSubscribers(id string, role hasocket.Role) *subscribers {
	return &subscribers{
		id:   id,
		role: role,
	}
}

func (s *subscribers) Subscribe(sub hasocket.MemberSubscriber) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, existing := range s.subs {
		if existing == sub {
			return
		}
	}
	s.subs = append(s.subs, sub)
}

func (s *subscribers) Unsubscribe(sub hasocket.MemberSubscriber) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for i, existing := range s.subs {
		if existing == sub {
			s.subs = append(s.subs[:i:i], s.subs[i+1:]...)
			return
		}
	}
}

func (s *subscribers) Self() (string, hasocket.Role) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.id, s.role
}

func (s *subscribers) setRole(role hasocket.Role) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.role = role
}

func (s *subscribers) snapshot() []hasocket.MemberSubscriber {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]hasocket.MemberSubscriber(nil), s.subs...)
}

func (s *subscribers) available(id string, role hasocket.Role) {
	s.notify.Lock()
	defer s.notify.Unlock()
	for _, sub := range s.snapshot() {
		sub.OnMemberAvailable(id, role)
	}
}

func (s *subscribers) unavailable(id string) {
	s.notify.Lock()
	defer s.notify.Unlock()
	for _, sub := range s.snapshot() {
		sub.OnMemberUnavailable(id)
	}
}
