package constraint

import (
	"testing"

	"github.com/covey-run/covey/pkg/types"
	"github.com/stretchr/testify/assert"
)

func TestParse(t *testing.T) {
	// empty string
	_, err := Parse([]string{""})
	assert.Error(t, err)

	_, err = Parse([]string{" "})
	assert.Error(t, err)

	// no operator
	_, err = Parse([]string{"nodeabc"})
	assert.Error(t, err)

	// unsupported operator
	_, err = Parse([]string{"node ~ abc"})
	assert.Error(t, err)

	// key cannot be empty
	_, err = Parse([]string{"==node1"})
	assert.Error(t, err)

	// value cannot be empty
	_, err = Parse([]string{"node=="})
	assert.Error(t, err)

	// value cannot be only whitespace
	_, err = Parse([]string{"node== "})
	assert.Error(t, err)

	// key cannot contain special characters
	_, err = Parse([]string{"no$de==node1"})
	assert.Error(t, err)

	// leading and trailing whitespace is ignored
	exprs, err := Parse([]string{" role == worker "})
	assert.NoError(t, err)
	assert.Equal(t, "role", exprs[0].Key)
	assert.True(t, exprs[0].Match("worker"))

	// single "=" is treated as equality
	exprs, err = Parse([]string{"role=worker"})
	assert.NoError(t, err)
	assert.True(t, exprs[0].Match("worker"))
	assert.False(t, exprs[0].Match("manager"))

	// dots and leading underscore are allowed in keys
	exprs, err = Parse([]string{"node.labels.zone==a"})
	assert.NoError(t, err)
	assert.Equal(t, "node.labels.zone", exprs[0].Key)

	_, err = Parse([]string{"_tier==db"})
	assert.NoError(t, err)

	// inequality
	exprs, err = Parse([]string{"zone!=east"})
	assert.NoError(t, err)
	assert.True(t, exprs[0].Match("west"))
	assert.False(t, exprs[0].Match("east"))
}

func TestMatchNode(t *testing.T) {
	node := &types.Node{
		ID:       "node-1",
		Hostname: "host-a",
		Role:     types.NodeRoleWorker,
		Labels:   map[string]string{"zone": "east", "tier": "db"},
	}

	tests := []struct {
		name       string
		constraint string
		matches    bool
	}{
		{"role equality", "role==worker", true},
		{"role with node prefix", "node.role==worker", true},
		{"role mismatch", "role==manager", false},
		{"node id", "node.id==node-1", true},
		{"hostname", "node.hostname==host-a", true},
		{"label equality", "zone==east", true},
		{"label via node.labels prefix", "node.labels.zone==east", true},
		{"label inequality passes", "zone!=west", true},
		{"label inequality fails", "zone!=east", false},
		{"missing label equality fails", "region==eu", false},
		{"missing label inequality passes", "region!=eu", true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			exprs, err := Parse([]string{tt.constraint})
			assert.NoError(t, err)
			assert.Equal(t, tt.matches, NodeMatches(exprs, node))
		})
	}
}

func TestNodeMatchesAll(t *testing.T) {
	node := &types.Node{
		ID:     "node-2",
		Role:   types.NodeRoleWorker,
		Labels: map[string]string{"zone": "east"},
	}

	exprs, err := Parse([]string{"role==worker", "zone==east"})
	assert.NoError(t, err)
	assert.True(t, NodeMatches(exprs, node))

	exprs, err = Parse([]string{"role==worker", "zone==west"})
	assert.NoError(t, err)
	assert.False(t, NodeMatches(exprs, node))

	// no constraints means every node matches
	assert.True(t, NodeMatches(nil, node))
}
