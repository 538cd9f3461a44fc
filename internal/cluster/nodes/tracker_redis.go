package nodes

import (
	"context"
	"strings"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/sirupsen/logrus"
	"github.com/tilinna/clock"

	"github.com/atlassian/hasocket"
)

type member struct {
	role   hasocket.Role
	expiry time.Time
}

type redisSource struct {
	*subscribers
	logger logrus.FieldLogger

	client    RedisClient
	namespace string
	nodes     map[string]member // only accessed by Run

	updateInterval time.Duration
	expiryInterval time.Duration
}

type RedisClient interface {
	Subscribe(ctx context.Context, channels ...string) *redis.PubSub
	Publish(ctx context.Context, channel string, message interface{}) *redis.IntCmd
}

// NewRedisSource returns a Source which tracks members in a Redis PubSub channel, and informs its
// subscribers about lifecycle and role changes.
//
// Messages on the channel are "+id:role" heartbeats, "?id:role" introduction requests which every
// member answers with a heartbeat, and "-id" when a member leaves.
//
// Note that we're not trying to solve the CAP theorem here, if Redis has a bad time, then so do we.
func NewRedisSource(
	logger logrus.FieldLogger,
	redisClient RedisClient,
	namespace, nodeId string,
	role hasocket.Role,
	updateInterval, expiryInterval time.Duration,
) Source {
	return &redisSource{
		subscribers: newSubscribers(nodeId, role),
		logger:      logger,

		client:    redisClient,
		namespace: namespace,
		nodes:     make(map[string]member),

		updateInterval: updateInterval,
		expiryInterval: expiryInterval,
	}
}

// Run will track members via Redis PubSub until the context is closed.
func (rs *redisSource) Run(ctx context.Context) {
	clck := clock.FromContext(ctx)

	pubsub := rs.client.Subscribe(ctx, rs.namespace)
	defer pubsub.Close()

	// Wait for the subscription to be confirmed, so our introduction request is answered to us.
	if _, err := pubsub.Receive(ctx); err != nil {
		rs.logger.WithError(err).Warning("Failed to subscribe to redis")
	}
	psChan := pubsub.Channel() // Closed when pubsub is Closed

	// Send an immediate heartbeat, this will also solicit other members to respond.
	if err := rs.sendIntroductionRequest(ctx); err != nil {
		rs.logger.WithError(err).Warning("Initial redis check in failed")
	}

	// Starting the ticker is how we signal to tests that everything is ready to go.
	ticker := clck.NewTicker(rs.updateInterval)
	defer ticker.Stop()

	defer func() {
		// On shutdown, remove ourselves from other members and our subscribers.
		ctxExit, cancel := context.WithTimeout(context.Background(), 1*time.Second)
		rs.sendDrop(ctxExit)
		cancel()
		for nodeId := range rs.nodes {
			rs.dropNode(nodeId)
		}
	}()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			rs.expireNodes(clck.Now())
			if err := rs.sendHeartbeat(ctx); err != nil {
				rs.logger.WithError(err).Warning("Failed to check in to redis")
			}
		case msg, ok := <-psChan:
			if !ok {
				return
			}
			rs.handleMessage(ctx, msg.Payload, clck.Now())
		}
	}
}

// SetRole changes the local role, and announces it with an immediate heartbeat.
func (rs *redisSource) SetRole(ctx context.Context, role hasocket.Role) error {
	if !role.Valid() {
		return errInvalidRole
	}
	rs.setRole(role)
	rs.logger.WithField("role", role).Info("role changed")
	return rs.sendHeartbeat(ctx)
}

// parseMember splits "id:role".  A missing or unknown role is reported as a slave.
func parseMember(s string) (string, hasocket.Role) {
	i := strings.LastIndexByte(s, ':')
	if i < 0 {
		return s, hasocket.RoleSlave
	}
	role := hasocket.Role(s[i+1:])
	if !role.Valid() {
		role = hasocket.RoleSlave
	}
	return s[:i], role
}

func (rs *redisSource) handleMessage(ctx context.Context, message string, now time.Time) {
	if len(message) < 2 {
		return
	}
	switch message[0] {
	case '-':
		rs.dropNode(message[1:])
	case '?':
		nodeId, role := parseMember(message[1:])
		rs.refreshNode(nodeId, role, now)
		if self, _ := rs.Self(); nodeId != self {
			// It's not us, and it wants to know about us, send a broadcast out to let it know we exist.
			if err := rs.sendHeartbeat(ctx); err != nil {
				rs.logger.WithError(err).WithField("newNode", nodeId).Warning("Failed to send introduction reply")
			}
		}
	case '+':
		nodeId, role := parseMember(message[1:])
		rs.refreshNode(nodeId, role, now)
	}
}

// refreshNode will update the expiry of a member.  Subscribers are informed if the member is new,
// or announced a different role.  Returns true if this is a new member.
func (rs *redisSource) refreshNode(nodeId string, role hasocket.Role, now time.Time) bool {
	// Does not talk to Redis

	existing, existingNode := rs.nodes[nodeId]
	rs.nodes[nodeId] = member{role: role, expiry: now.Add(rs.expiryInterval)}
	switch {
	case !existingNode:
		rs.logger.WithFields(logrus.Fields{"node": nodeId, "role": role}).Info("Added node")
	case existing.role != role:
		rs.logger.WithFields(logrus.Fields{"node": nodeId, "role": role}).Info("Node changed role")
	default:
		return false
	}
	rs.available(nodeId, role)
	return !existingNode
}

// dropNode will drop the member from the tracked members.
func (rs *redisSource) dropNode(nodeId string) {
	// Does not talk to Redis

	_, ok := rs.nodes[nodeId]
	if ok {
		rs.logger.WithField("node", nodeId).Info("Removing node")
		delete(rs.nodes, nodeId)
		rs.unavailable(nodeId)
	}
}

// expireNodes will expire members which have not updated recently enough.
func (rs *redisSource) expireNodes(now time.Time) {
	// Does not talk to Redis
	for nodeId, m := range rs.nodes {
		if now.After(m.expiry) {
			rs.logger.WithField("node", nodeId).Info("Expired node")
			delete(rs.nodes, nodeId)
			rs.unavailable(nodeId)
		}
	}
}

func (rs *redisSource) selfMember() string {
	id, role := rs.Self()
	if id == "" {
		return ""
	}
	return id + ":" + string(role)
}

// sendIntroductionRequest will announce the presence of this node to the PubSub endpoint, if the nodeId is configured.
//
// It is different to sendHeartbeat in that it is an explicit request for everyone else to respond with a heartbeat.
func (rs *redisSource) sendIntroductionRequest(ctx context.Context) error {
	// Talks to redis
	if self := rs.selfMember(); self != "" {
		return rs.client.Publish(ctx, rs.namespace, "?"+self).Err()
	}
	return nil
}

// sendHeartbeat will announce the presence of this node to the PubSub endpoint, if the nodeId is configured.
func (rs *redisSource) sendHeartbeat(ctx context.Context) error {
	// Talks to redis
	if self := rs.selfMember(); self != "" {
		return rs.client.Publish(ctx, rs.namespace, "+"+self).Err()
	}
	return nil
}

// sendDrop will announce to the PubSub endpoint that this node is going away, if the nodeId is configured.
func (rs *redisSource) sendDrop(ctx context.Context) {
	// Talks to redis
	if id, _ := rs.Self(); id != "" {
		rs.client.Publish(ctx, rs.namespace, "-"+id)
	}
}
