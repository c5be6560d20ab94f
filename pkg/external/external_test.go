package external

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestStaticResolver(t *testing.T) {
	r := NewStaticResolver(map[string]string{
		"web:1.0": "sha256:abc",
	})

	desc, err := r.Resolve(context.Background(), "web:1.0")
	require.NoError(t, err)
	assert.Equal(t, "web:1.0@sha256:abc", desc.Pinned())

	_, err = r.Resolve(context.Background(), "missing:latest")
	assert.ErrorIs(t, err, ErrImageNotFound)
}

func TestLocalResolverIsDeterministic(t *testing.T) {
	r := LocalResolver{}

	a, err := r.Resolve(context.Background(), "web:1.0")
	require.NoError(t, err)
	b, err := r.Resolve(context.Background(), "web:1.0")
	require.NoError(t, err)
	assert.Equal(t, a, b)

	c, err := r.Resolve(context.Background(), "web:1.1")
	require.NoError(t, err)
	assert.NotEqual(t, a.Digest, c.Digest)

	_, err = r.Resolve(context.Background(), "  ")
	assert.ErrorIs(t, err, ErrImageNotFound)
}

func TestLocalCAIssueAndRotate(t *testing.T) {
	ca := NewLocalCA()

	cred, err := ca.Issue(context.Background(), "node-1")
	require.NoError(t, err)
	assert.Equal(t, "node-1", cred.NodeID)
	assert.NotEmpty(t, cred.Material)
	assert.False(t, cred.Expired(time.Now()))

	rotated, err := ca.Rotate(context.Background(), cred)
	require.NoError(t, err)
	assert.Equal(t, "node-1", rotated.NodeID)
	assert.NotEqual(t, cred.Material, rotated.Material)

	_, err = ca.Issue(context.Background(), "")
	assert.Error(t, err)
}

func TestMemorySink(t *testing.T) {
	sink := NewMemorySink()
	sink.Append("t1", StreamStdout, []byte("hello "))
	sink.Append("t1", StreamStdout, []byte("world"))
	sink.Append("t2", StreamStderr, []byte("oops"))

	assert.Equal(t, []byte("hello world"), sink.Bytes("t1"))
	assert.Equal(t, []byte("oops"), sink.Bytes("t2"))
	assert.Empty(t, sink.Bytes("t3"))
}
