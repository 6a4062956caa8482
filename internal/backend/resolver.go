package backend

import (
	"context"
	"errors"
	"fmt"
	"log"
	"strings"

	"rdpgate/internal/constants"
	"rdpgate/internal/link"
)

// Factory builds an unconnected capability for target.
type Factory func(target Target) (Capability, error)

// MockFactory is the factory of the synthetic renderer.
func MockFactory(target Target) (Capability, error) {
	return NewMock(target)
}

// AgentFactory returns a factory of agent capabilities sharing opts.
func AgentFactory(opts link.Options) Factory {
	return func(Target) (Capability, error) {
		return NewAgent(opts), nil
	}
}

// Resolver picks the capability for each session. It is built once at
// startup and shared by every bridge.
type Resolver struct {
	primary Factory
	mock    Factory
}

// NewResolver builds the resolver for a backend mode: "mock" serves every
// session synthetically, "agent" requires the agent link to be usable and
// "auto" enables it when the probe passes.
func NewResolver(mode string, opts link.Options) (*Resolver, error) {
	switch strings.ToLower(mode) {
	case constants.BackendModeMock:
		return NewResolverWith(nil, MockFactory), nil
	case constants.BackendModeAgent:
		if err := link.Probe(); err != nil {
			return nil, fmt.Errorf("agent backend unavailable: %w", err)
		}
		return NewResolverWith(AgentFactory(opts), MockFactory), nil
	case constants.BackendModeAuto, "":
		if err := link.Probe(); err != nil {
			log.Printf("⚠️  Agent backend unavailable, serving mock sessions only: %v", err)
			return NewResolverWith(nil, MockFactory), nil
		}
		return NewResolverWith(AgentFactory(opts), MockFactory), nil
	default:
		return nil, fmt.Errorf("unknown backend mode %q", mode)
	}
}

// NewResolverWith injects the factories directly. primary may be nil.
func NewResolverWith(primary, mock Factory) *Resolver {
	if mock == nil {
		mock = MockFactory
	}
	return &Resolver{primary: primary, mock: mock}
}

// Name describes the resolver for health output.
func (r *Resolver) Name() string {
	if r.primary == nil {
		return constants.BackendNameMock
	}
	return constants.BackendNameAgent + "+" + constants.BackendNameMock
}

// Open returns a connected capability. Mock hosts go straight to the mock
// renderer, and so do real backends that fail to connect. The returned
// error is ErrMockUnavailable when even the mock cannot serve target, or
// context.Canceled when ctx was cancelled. An expired deadline on the real
// backend falls back like any other connect failure.
func (r *Resolver) Open(ctx context.Context, target Target, h Handlers) (Capability, error) {
	if r.primary != nil && !IsMockHost(target.Host) {
		capability, err := r.connect(ctx, r.primary, target, h)
		if err == nil {
			return capability, nil
		}
		if errors.Is(ctx.Err(), context.Canceled) {
			return nil, ctx.Err()
		}
		if !errors.Is(err, ErrBackendConnect) {
			err = fmt.Errorf("%w: %w", ErrBackendConnect, err)
		}
		log.Printf("⚠️  %v (%s), falling back to mock", err, target)
	}

	capability, err := r.connect(ctx, r.mock, target, h)
	if err != nil {
		if errors.Is(err, ErrMockUnavailable) {
			return nil, err
		}
		return nil, fmt.Errorf("%w: %w", ErrMockUnavailable, err)
	}
	return capability, nil
}

func (r *Resolver) connect(ctx context.Context, factory Factory, target Target, h Handlers) (Capability, error) {
	capability, err := factory(target)
	if err != nil {
		return nil, err
	}
	if err := capability.Connect(ctx, target, h); err != nil {
		capability.Close()
		return nil, err
	}
	return capability, nil
}
