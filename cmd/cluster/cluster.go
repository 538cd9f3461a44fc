package main

import (
	"context"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/ash2k/stager/wait"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/sirupsen/logrus"
	"github.com/spf13/viper"

	"github.com/atlassian/hasocket"
	"github.com/atlassian/hasocket/pkg/cluster"
	"github.com/atlassian/hasocket/pkg/transport"
	"github.com/atlassian/hasocket/pkg/web"
)

// Cluster watches the routing table of a cluster.
type Cluster struct {
	logger   logrus.FieldLogger
	manager  *cluster.Manager
	address  string
	interval time.Duration
	reg      *prometheus.Registry
}

func newClusterFromViper(logger logrus.FieldLogger, v *viper.Viper) (*Cluster, error) {
	settings, err := hasocket.NewClientSettingsFromViper(v)
	if err != nil {
		return nil, err
	}
	dialers, err := cluster.NewDialersFromPool(transport.NewDialerPool(logger, v))
	if err != nil {
		return nil, err
	}
	reg := prometheus.NewRegistry()
	metrics, err := cluster.NewMetrics(reg)
	if err != nil {
		return nil, err
	}
	manager, err := cluster.NewManager(logger, settings, dialers, metrics)
	if err != nil {
		return nil, err
	}
	interval := v.GetDuration(ParamInterval)
	if interval <= 0 {
		return nil, fmt.Errorf("%s must be positive", ParamInterval)
	}
	return &Cluster{
		logger:   logger,
		manager:  manager,
		address:  v.GetString(ParamAddress),
		interval: interval,
		reg:      reg,
	}, nil
}

// Run starts the manager, and prints its routing table every interval until the context is done.
func (c *Cluster) Run(ctx context.Context, out io.Writer) error {
	defer func() {
		if err := c.manager.Close(); err != nil {
			c.logger.WithError(err).Warn("failed to close manager")
		}
	}()

	var g wait.Group
	defer g.Wait()
	if c.address != "" {
		hs, err := web.NewHttpServer(
			c.logger,
			web.Backend{
				Gatherer:        c.reg,
				HealthProviders: []interface{}{c.manager},
			},
			c.address,
			hasocket.DefaultManagementPath,
			hasocket.DefaultDataPath,
			false,
			false,
			false,
			true,
			true,
			false,
		)
		if err != nil {
			return err
		}
		g.StartWithContext(ctx, hs.Run)
	}

	c.manager.Start(ctx)
	printSnapshot(out, c.manager.Snapshot())

	t := time.NewTicker(c.interval)
	defer t.Stop()

	for {
		select {
		case <-t.C:
			printSnapshot(out, c.manager.Snapshot())
		case <-ctx.Done():
			return nil
		}
	}
}

func printSnapshot(out io.Writer, s cluster.Snapshot) {
	var sb strings.Builder
	write := s.Write
	if write == "" {
		write = "-"
	}
	fmt.Fprintf(&sb, "%s write=%s reads=[%s]\n", time.Now().Format(time.RFC3339), write, strings.Join(s.Reads, " "))
	for _, n := range s.Nodes {
		state := "down"
		if n.Available {
			state = "up"
		}
		id := n.ID
		if id == "" {
			id = "?"
		}
		fmt.Fprintf(&sb, "  %-4s %-6s %-4s idle=%d busy=%d %s\n", id, n.Role, state, n.Idle, n.Busy, n.ManagementEndpoint)
	}
	_, _ = io.WriteString(out, sb.String())
}
