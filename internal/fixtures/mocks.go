package fixtures

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/atlassian/hasocket"
)

// MockMemberSubscriber implements a mock hasocket.MemberSubscriber
type MockMemberSubscriber struct {
	TB testing.TB

	FnAvailable   func(id string, role hasocket.Role)
	FnUnavailable func(id string)
}

func (m *MockMemberSubscriber) OnMemberAvailable(id string, role hasocket.Role) {
	if m.FnAvailable != nil {
		m.FnAvailable(id, role)
	} else {
		assert.Fail(m.TB, "MemberSubscriber.OnMemberAvailable must not be called")
	}
}

func (m *MockMemberSubscriber) OnMemberUnavailable(id string) {
	if m.FnUnavailable != nil {
		m.FnUnavailable(id)
	} else {
		assert.Fail(m.TB, "MemberSubscriber.OnMemberUnavailable must not be called")
	}
}

// MemberEvent is a membership change seen by a RecordingSubscriber.
type MemberEvent struct {
	ID        string
	Role      hasocket.Role
	Available bool
}

// NewRecordingSubscriber returns a MockMemberSubscriber which sends every event it sees to the returned channel.
func NewRecordingSubscriber(tb testing.TB, buffer int) (*MockMemberSubscriber, <-chan MemberEvent) {
	ch := make(chan MemberEvent, buffer)
	return &MockMemberSubscriber{
		TB: tb,
		FnAvailable: func(id string, role hasocket.Role) {
			ch <- MemberEvent{ID: id, Role: role, Available: true}
		},
		FnUnavailable: func(id string) {
			ch <- MemberEvent{ID: id}
		},
	}, ch
}
