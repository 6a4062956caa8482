package backend

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"rdpgate/internal/link"
)

type failingCapability struct {
	*Mock
	closed bool
}

func (f *failingCapability) Name() string { return "failing" }

func (f *failingCapability) Connect(context.Context, Target, Handlers) error {
	return errors.New("handshake timeout")
}

func (f *failingCapability) Close() error {
	f.closed = true
	return nil
}

func TestResolver_MockHostsSkipPrimary(t *testing.T) {
	called := 0
	r := NewResolverWith(func(Target) (Capability, error) {
		called++
		return nil, errors.New("should not be called")
	}, nil)

	for _, host := range []string{"", "mock", "DEMO", "none"} {
		c, err := r.Open(context.Background(), Target{Host: host, Width: 8, Height: 8}, Handlers{})
		require.NoError(t, err)
		assert.Equal(t, "mock", c.Name())
		c.Close()
	}
	assert.Zero(t, called)
}

func TestResolver_FallsBackOnConnectFailure(t *testing.T) {
	var built *failingCapability
	r := NewResolverWith(func(Target) (Capability, error) {
		built = &failingCapability{}
		return built, nil
	}, nil)

	c, err := r.Open(context.Background(), Target{Host: "10.1.2.3", Width: 8, Height: 8}, Handlers{})
	require.NoError(t, err)
	assert.Equal(t, "mock", c.Name())
	require.NotNil(t, built)
	assert.True(t, built.closed, "failed capability must be released")
}

func TestResolver_SilentAgentFallsBackAtDeadline(t *testing.T) {
	target := silentAgent(t)
	r := NewResolverWith(AgentFactory(link.Options{E2EE: true, DialTimeout: time.Minute}), nil)
	ctx, cancel := context.WithTimeout(context.Background(), 200*time.Millisecond)
	defer cancel()

	start := time.Now()
	c, err := r.Open(ctx, target, Handlers{})
	require.NoError(t, err)
	defer c.Close()
	assert.Equal(t, "mock", c.Name())
	assert.Less(t, time.Since(start), 2*time.Second)
}

func TestResolver_FallsBackOnFactoryFailure(t *testing.T) {
	r := NewResolverWith(func(Target) (Capability, error) {
		return nil, errors.New("no driver")
	}, nil)

	c, err := r.Open(context.Background(), Target{Host: "desk01", Width: 8, Height: 8}, Handlers{})
	require.NoError(t, err)
	assert.Equal(t, "mock", c.Name())
}

func TestResolver_MockUnavailable(t *testing.T) {
	r := NewResolverWith(nil, nil)
	_, err := r.Open(context.Background(), Target{Host: "mock", Width: 9000, Height: 10}, Handlers{})
	assert.ErrorIs(t, err, ErrMockUnavailable)
}

func TestResolver_CancelledContext(t *testing.T) {
	r := NewResolverWith(func(Target) (Capability, error) {
		return &failingCapability{}, nil
	}, nil)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := r.Open(ctx, Target{Host: "desk01", Width: 8, Height: 8}, Handlers{})
	assert.ErrorIs(t, err, context.Canceled)
}

func TestNewResolver_Modes(t *testing.T) {
	r, err := NewResolver("mock", link.Options{})
	require.NoError(t, err)
	assert.Equal(t, "mock", r.Name())

	r, err = NewResolver("auto", link.Options{})
	require.NoError(t, err)
	assert.Equal(t, "agent+mock", r.Name())

	r, err = NewResolver("AGENT", link.Options{})
	require.NoError(t, err)
	assert.Equal(t, "agent+mock", r.Name())

	_, err = NewResolver("vnc", link.Options{})
	assert.Error(t, err)
}
