package main

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/atlassian/hasocket"
	"github.com/atlassian/hasocket/pkg/cluster"
)

func TestPrintSnapshot(t *testing.T) {
	t.Parallel()

	var sb strings.Builder
	printSnapshot(&sb, cluster.Snapshot{
		Write: "ws://a/ws/management",
		Reads: []string{"ws://b/ws/management"},
		Nodes: []cluster.NodeStatus{
			{ID: "1", Role: hasocket.RoleMaster, Available: true, Idle: 2, ManagementEndpoint: "ws://a/ws/management"},
			{ID: "2", Role: hasocket.RoleSlave, Available: true, Busy: 1, ManagementEndpoint: "ws://b/ws/management"},
			{Role: hasocket.RoleSlave, ManagementEndpoint: "ws://c/ws/management"},
		},
	})
	lines := strings.Split(strings.TrimSuffix(sb.String(), "\n"), "\n")
	if assert.Len(t, lines, 4) {
		assert.Contains(t, lines[0], "write=ws://a/ws/management reads=[ws://b/ws/management]")
		assert.Equal(t, "  1    master up   idle=2 busy=0 ws://a/ws/management", lines[1])
		assert.Equal(t, "  2    slave  up   idle=0 busy=1 ws://b/ws/management", lines[2])
		assert.Equal(t, "  ?    slave  down idle=0 busy=0 ws://c/ws/management", lines[3])
	}

	sb.Reset()
	printSnapshot(&sb, cluster.Snapshot{})
	assert.Contains(t, sb.String(), "write=- reads=[]")
}
