package cluster

import (
	"fmt"

	"github.com/atlassian/hasocket/pkg/healthcheck"
)

// HealthChecks reports if writes can be routed, implementing healthcheck.HealthCheckProvider.
func (m *Manager) HealthChecks() []healthcheck.HealthcheckFunc {
	return []healthcheck.HealthcheckFunc{
		func() (string, healthcheck.HealthyStatus) {
			r := m.currentRoutes()
			if r.write == nil || !r.write.IsAvailable() {
				return "no write node", healthcheck.Unhealthy
			}
			return "writing to " + r.write.ManagementEndpoint(), healthcheck.Healthy
		},
	}
}

// DeepChecks reports the availability of every node, implementing healthcheck.DeepCheckProvider.
func (m *Manager) DeepChecks() []healthcheck.HealthcheckFunc {
	checks := make([]healthcheck.HealthcheckFunc, 0, len(m.nodes))
	for _, node := range m.nodes {
		node := node
		checks = append(checks, func() (string, healthcheck.HealthyStatus) {
			if !node.IsAvailable() {
				return fmt.Sprintf("%s is unavailable", node.ManagementEndpoint()), healthcheck.Unhealthy
			}
			return fmt.Sprintf("%s is available as %s", node.ManagementEndpoint(), node.Role()), healthcheck.Healthy
		})
	}
	return checks
}
