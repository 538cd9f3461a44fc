package hasocket

import (
	"context"
	"fmt"
)

// Role is the role a node announces for itself.
type Role string

const (
	// RoleMaster is the role of the node accepting writes.
	RoleMaster = Role("master")
	// RoleSlave is the role of a node serving reads.
	RoleSlave = Role("slave")
)

// Valid reports if r is one of the known roles.
func (r Role) Valid() bool {
	return r == RoleMaster || r == RoleSlave
}

// RoleFor returns the Role matching the isMaster flag.
func RoleFor(isMaster bool) Role {
	if isMaster {
		return RoleMaster
	}
	return RoleSlave
}

// RegisterCommand is the literal frame a client sends on the management channel to register.
const RegisterCommand = "register"

// Registration is the reply to RegisterCommand.
type Registration struct {
	ID       string `json:"id"`
	IsMaster bool   `json:"isMaster"`
}

const (
	broadcastAvailable   = "available"
	broadcastUnavailable = "unavailable"
	broadcastRole        = "role"
)

// Broadcast is an availability change pushed by a node to every connected management client.
// Exactly one of Available or Unavailable is set.
type Broadcast struct {
	Available   string `json:"available,omitempty"`
	Role        Role   `json:"role,omitempty"`
	Unavailable string `json:"unavailable,omitempty"`
}

// AvailableBroadcast announces that node id is available with role.
func AvailableBroadcast(id string, role Role) Broadcast {
	return Broadcast{Available: id, Role: role}
}

// UnavailableBroadcast announces that node id is unavailable.
func UnavailableBroadcast(id string) Broadcast {
	return Broadcast{Unavailable: id}
}

// ParseBroadcast inspects a decoded control frame.  ok is false when the frame does not have the
// shape of a broadcast (it is then a reply to a request).  err is set when the frame has the shape
// of a broadcast but can not be interpreted.
func ParseBroadcast(fields map[string]interface{}) (b Broadcast, ok bool, err error) {
	if v, found := fields[broadcastAvailable]; found {
		id, isString := v.(string)
		if !isString || id == "" {
			return Broadcast{}, true, fmt.Errorf("invalid %s value %v", broadcastAvailable, v)
		}
		role, _ := fields[broadcastRole].(string)
		return AvailableBroadcast(id, Role(role)), true, nil
	}
	if v, found := fields[broadcastUnavailable]; found {
		id, isString := v.(string)
		if !isString || id == "" {
			return Broadcast{}, true, fmt.Errorf("invalid %s value %v", broadcastUnavailable, v)
		}
		return UnavailableBroadcast(id), true, nil
	}
	return Broadcast{}, false, nil
}

// MembershipListener is informed about cluster membership changes observed on a management
// channel.  Implementations must not block for long, and must be safe for concurrent use.
type MembershipListener interface {
	// OnNodeAvailable is called when node id announces it is available with role.
	OnNodeAvailable(id string, role Role)
	// OnNodeUnavailable is called when node id is announced to be unavailable.
	OnNodeUnavailable(id string)
	// OnNodeReconnected is called after a management channel to endpoint was re-established.  id is
	// empty if the node never registered.
	OnNodeReconnected(id, endpoint string)
}

// MemberSubscriber is informed by a MembershipSource about members joining and leaving.
type MemberSubscriber interface {
	OnMemberAvailable(id string, role Role)
	OnMemberUnavailable(id string)
}

// MembershipSource reports the members of a cluster as seen by one node.
type MembershipSource interface {
	// Subscribe adds s to the subscribers.  It is a no-op if s is already subscribed.
	Subscribe(s MemberSubscriber)
	// Unsubscribe removes s from the subscribers.
	Unsubscribe(s MemberSubscriber)
	// Self returns the id and current role of the local node.
	Self() (id string, role Role)
	// Run tracks membership until the context is done.
	Run(ctx context.Context)
}
