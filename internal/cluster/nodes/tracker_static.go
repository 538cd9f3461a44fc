package nodes

import (
	"context"

	"github.com/sirupsen/logrus"

	"github.com/atlassian/hasocket"
)

// staticSource is a source which only knows the local node.
type staticSource struct {
	*subscribers
	logger logrus.FieldLogger
}

// NewStaticSource returns a Source reporting only the local node, with a fixed id and a role that
// changes only through SetRole.
func NewStaticSource(logger logrus.FieldLogger, id string, role hasocket.Role) Source {
	return &staticSource{
		subscribers: newSubscribers(id, role),
		logger:      logger,
	}
}

// Run announces the local node when it starts, and withdraws it when the context is done.
func (ss *staticSource) Run(ctx context.Context) {
	id, role := ss.Self()
	ss.available(id, role)
	<-ctx.Done()
	ss.unavailable(id)
}

func (ss *staticSource) SetRole(ctx context.Context, role hasocket.Role) error {
	if !role.Valid() {
		return errInvalidRole
	}
	ss.setRole(role)
	id, _ := ss.Self()
	ss.logger.WithFields(logrus.Fields{"node": id, "role": role}).Info("role changed")
	ss.available(id, role)
	return nil
}
