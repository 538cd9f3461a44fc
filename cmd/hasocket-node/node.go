package main

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/ash2k/stager/wait"
	"github.com/go-redis/redis/v8"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/sirupsen/logrus"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"

	"github.com/atlassian/hasocket"
	"github.com/atlassian/hasocket/internal/cluster/nodes"
	"github.com/atlassian/hasocket/pkg/node"
	"github.com/atlassian/hasocket/pkg/web"
)

const (
	// ParamNodeID is the id the node registers with.  Defaults to the hostname.
	ParamNodeID = "node-id"
	// ParamRole is the initial role of the node.
	ParamRole = "role"
	// ParamAddress is the address the node listens on.
	ParamAddress = "address"
	// ParamMembership selects the membership source, static or redis.
	ParamMembership = "membership"
	// ParamRedisAddr is the address of the redis server used for membership.
	ParamRedisAddr = "redis-addr"
	// ParamRedisNamespace is the redis channel used for membership.
	ParamRedisNamespace = "redis-namespace"
	// ParamUpdateInterval is how often membership heartbeats are sent.
	ParamUpdateInterval = "update-interval"
	// ParamExpiryInterval is how long a member may be silent before it is dropped.
	ParamExpiryInterval = "expiry-interval"
	// ParamEnableAdmin enables the role admin endpoint.
	ParamEnableAdmin = "enable-admin"
)

const (
	membershipStatic = "static"
	membershipRedis  = "redis"
)

func addFlags(fs *pflag.FlagSet) {
	fs.String(ParamNodeID, "", "Id of the node, defaults to the hostname")
	fs.String(ParamRole, string(hasocket.RoleSlave), "Initial role of the node, master or slave")
	fs.String(ParamAddress, "127.0.0.1:7474", "Address to listen on")
	fs.String(hasocket.ParamManagementPath, hasocket.DefaultManagementPath, "Path of the management endpoint")
	fs.String(hasocket.ParamDataPath, hasocket.DefaultDataPath, "Path of the data endpoint")
	fs.String(hasocket.ParamLanguage, hasocket.DefaultLanguage, "Language of requests which do not carry one")
	fs.String(ParamMembership, membershipStatic, "Membership source, static or redis")
	fs.String(ParamRedisAddr, "127.0.0.1:6379", "Redis address")
	fs.String(ParamRedisNamespace, "hasocket", "Redis channel for membership")
	fs.Duration(ParamUpdateInterval, time.Second, "Membership heartbeat interval")
	fs.Duration(ParamExpiryInterval, 4*time.Second, "Membership expiry interval")
	fs.Bool(ParamEnableAdmin, true, "Enable PUT /role")
}

// Node is everything for running a single backend node.
type Node struct {
	logger    logrus.FieldLogger
	source    nodes.Source
	server    *node.Server
	runnables []hasocket.Runnable
}

func newSourceFromViper(logger logrus.FieldLogger, v *viper.Viper, id string, role hasocket.Role) (nodes.Source, error) {
	switch membership := v.GetString(ParamMembership); membership {
	case membershipStatic:
		return nodes.NewStaticSource(logger, id, role), nil
	case membershipRedis:
		redisClient := redis.NewClient(&redis.Options{
			Addr: v.GetString(ParamRedisAddr),
			DB:   0,
		})
		return nodes.NewRedisSource(
			logger,
			redisClient,
			v.GetString(ParamRedisNamespace),
			id,
			role,
			v.GetDuration(ParamUpdateInterval),
			v.GetDuration(ParamExpiryInterval),
		), nil
	default:
		return nil, fmt.Errorf("unknown membership source %q", membership)
	}
}

func newNodeFromViper(logger logrus.FieldLogger, v *viper.Viper) (*Node, error) {
	id := v.GetString(ParamNodeID)
	if id == "" {
		hostname, err := os.Hostname()
		if err != nil {
			return nil, fmt.Errorf("no %s and no hostname: %v", ParamNodeID, err)
		}
		id = hostname
	}
	role := hasocket.Role(v.GetString(ParamRole))
	if !role.Valid() {
		return nil, fmt.Errorf("invalid %s %q", ParamRole, role)
	}
	logger = logger.WithField("node", id)

	source, err := newSourceFromViper(logger, v, id, role)
	if err != nil {
		return nil, err
	}

	dispatcher := node.NewDispatcher(logger, v.GetString(hasocket.ParamLanguage))
	dispatcher.Register(node.ServiceSystem, node.NewSystemService(source, dispatcher))
	dispatcher.Register(node.ServiceKV, node.NewKV().Service())
	server := node.NewServer(logger, source, dispatcher)

	reg := prometheus.NewRegistry()
	reg.MustRegister(
		prometheus.NewGoCollector(),
		prometheus.NewProcessCollector(prometheus.ProcessCollectorOpts{}),
	)

	backend := web.Backend{
		Endpoints:       server,
		Roles:           source,
		Gatherer:        reg,
		HealthProviders: []interface{}{server},
	}
	hs, err := web.NewHttpServer(
		logger,
		backend,
		v.GetString(ParamAddress),
		hasocket.SanitizePath(v.GetString(hasocket.ParamManagementPath)),
		hasocket.SanitizePath(v.GetString(hasocket.ParamDataPath)),
		false,
		false,
		true,
		true,
		true,
		v.GetBool(ParamEnableAdmin),
	)
	if err != nil {
		return nil, err
	}
	// Additional listeners, such as an admin-only one, come from the http-servers config list.
	extra, err := web.NewHttpServersFromViper(v, logger, backend)
	if err != nil {
		return nil, err
	}

	n := &Node{
		logger: logger,
		source: source,
		server: server,
	}
	n.runnables = hasocket.MaybeAppendRunnable(n.runnables, server)
	n.runnables = hasocket.MaybeAppendRunnable(n.runnables, source)
	n.runnables = hasocket.MaybeAppendRunnable(n.runnables, hs)
	for _, extraServer := range extra {
		n.runnables = hasocket.MaybeAppendRunnable(n.runnables, extraServer)
	}
	return n, nil
}

// Run runs the node until the context is done.
func (n *Node) Run(ctx context.Context) {
	var wg wait.Group
	defer wg.Wait()
	for _, runnable := range n.runnables {
		wg.StartWithContext(ctx, runnable)
	}
	id, role := n.source.Self()
	n.logger.WithField("role", role).Infof("node %s running", id)
	<-ctx.Done()
}
