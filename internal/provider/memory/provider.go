// Package memory provides an in-process push provider for local development
// and tests. It keeps endpoints in a map and records every publish.
package memory

import (
	"context"
	"fmt"
	"sync"

	"github.com/google/uuid"
	"github.com/tinywideclouds/go-push-service/pkg/push"
)

type endpoint struct {
	deviceID string
	userData string
	enabled  bool
}

// Publication is a message accepted by the provider.
type Publication struct {
	EndpointRef string
	MessageID   string
	Message     push.WireMessage
}

// Calls counts provider operations.
type Calls struct {
	Create, Delete, Query, Publish int
}

// Provider is a goroutine-safe, in-memory push.Provider.
type Provider struct {
	mu        sync.Mutex
	name      string
	seq       int
	endpoints map[string]*endpoint
	failures  map[string]error
	published []Publication
	calls     Calls
}

func New(name string) *Provider {
	return &Provider{
		name:      name,
		endpoints: make(map[string]*endpoint),
		failures:  make(map[string]error),
	}
}

func (p *Provider) CreateEndpoint(_ context.Context, deviceID string, userData string) (string, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.calls.Create++
	p.seq++
	ref := fmt.Sprintf("memory:%s:endpoint/%d", p.name, p.seq)
	p.endpoints[ref] = &endpoint{deviceID: deviceID, userData: userData, enabled: true}
	return ref, nil
}

func (p *Provider) DeleteEndpoint(_ context.Context, endpointRef string) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.calls.Delete++
	if _, ok := p.endpoints[endpointRef]; !ok {
		return fmt.Errorf("%w: %s", push.ErrEndpointNotFound, endpointRef)
	}
	delete(p.endpoints, endpointRef)
	return nil
}

func (p *Provider) QueryEndpoint(_ context.Context, endpointRef string) (push.EndpointState, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.calls.Query++
	ep, ok := p.endpoints[endpointRef]
	if !ok {
		return push.EndpointState{}, fmt.Errorf("%w: %s", push.ErrEndpointNotFound, endpointRef)
	}
	return push.EndpointState{Enabled: ep.enabled}, nil
}

func (p *Provider) Publish(_ context.Context, endpointRef string, msg push.WireMessage) (string, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.calls.Publish++
	if err, ok := p.failures[endpointRef]; ok {
		return "", err
	}
	ep, ok := p.endpoints[endpointRef]
	if !ok {
		return "", fmt.Errorf("%w: %s", push.ErrEndpointNotFound, endpointRef)
	}
	if !ep.enabled {
		return "", fmt.Errorf("%w: %s", push.ErrEndpointDisabled, endpointRef)
	}
	id := uuid.NewString()
	p.published = append(p.published, Publication{EndpointRef: endpointRef, MessageID: id, Message: msg})
	return id, nil
}

// SetEnabled flips the remote enabled flag, as a provider does after repeated
// delivery failures.
func (p *Provider) SetEnabled(endpointRef string, enabled bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if ep, ok := p.endpoints[endpointRef]; ok {
		ep.enabled = enabled
	}
}

// FailPublish makes every publish to endpointRef return err.
func (p *Provider) FailPublish(endpointRef string, err error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.failures[endpointRef] = err
}

// Published returns a copy of the accepted publications.
func (p *Provider) Published() []Publication {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]Publication, len(p.published))
	copy(out, p.published)
	return out
}

// Calls returns the operation counters.
func (p *Provider) Calls() Calls {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.calls
}

// Live returns the number of endpoints that currently exist.
func (p *Provider) Live() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.endpoints)
}
