package cluster

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/atlassian/hasocket/internal/fixtures"
	"github.com/atlassian/hasocket/pkg/healthcheck"
)

func TestManagerHealthChecks(t *testing.T) {
	t.Parallel()

	a := fixtures.NewFakeNode(t, "1", true)
	b := fixtures.NewFakeNode(t, "2", false)
	m := newTestManager(t, testSettings(a, b), nil)

	checks, deep := healthcheck.MaybeAppendHealthChecks(nil, nil, m)
	require.Len(t, checks, 1)
	require.Len(t, deep, 2)

	_, status := checks[0]()
	assert.Equal(t, healthcheck.Unhealthy, status, "no write node before start")

	m.Start(context.Background())
	msg, status := checks[0]()
	assert.Equal(t, healthcheck.Healthy, status)
	assert.Equal(t, "writing to "+a.ManagementURL(), msg)
	for _, check := range deep {
		_, status := check()
		assert.Equal(t, healthcheck.Healthy, status)
	}

	m.OnNodeUnavailable("2")
	msg, status = deep[1]()
	assert.Equal(t, healthcheck.Unhealthy, status)
	assert.Equal(t, b.ManagementURL()+" is unavailable", msg)
}
