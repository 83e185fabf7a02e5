// Package registry holds the push platforms configured at startup.
package registry

import (
	"fmt"
	"sort"

	"github.com/tinywideclouds/go-push-service/pkg/push"
)

// Kind selects the payload shape used for a platform.
type Kind string

const (
	KindIOS     Kind = "ios"
	KindAndroid Kind = "android"
)

// DefaultIOSPayloadKey is the SNS message key for production APNs.
const DefaultIOSPayloadKey = "APNS"

// AndroidPayloadKey is the SNS message key for FCM/GCM.
const AndroidPayloadKey = "GCM"

// Platform is one configured push channel.
type Platform struct {
	Name       string
	Kind       Kind
	PayloadKey string
	Provider   push.Provider
}

// NewPlatform builds a platform, inferring the payload shape from its name.
func NewPlatform(name string, provider push.Provider, iosPayloadKey string) *Platform {
	kind := KindAndroid
	if name == string(KindIOS) {
		kind = KindIOS
	}
	return NewPlatformOfKind(name, kind, provider, iosPayloadKey)
}

// NewPlatformOfKind builds a platform with an explicit payload shape.
func NewPlatformOfKind(name string, kind Kind, provider push.Provider, iosPayloadKey string) *Platform {
	p := &Platform{Name: name, Kind: KindAndroid, PayloadKey: AndroidPayloadKey, Provider: provider}
	if kind == KindIOS {
		p.Kind = KindIOS
		p.PayloadKey = iosPayloadKey
		if p.PayloadKey == "" {
			p.PayloadKey = DefaultIOSPayloadKey
		}
	}
	return p
}

// Registry is an immutable name -> platform mapping. It is safe for concurrent
// use because it is never mutated after construction.
type Registry struct {
	platforms map[string]*Platform
}

// New builds a registry, rejecting duplicate or unnamed platforms.
func New(platforms ...*Platform) (*Registry, error) {
	r := &Registry{platforms: make(map[string]*Platform, len(platforms))}
	for _, p := range platforms {
		if p == nil || p.Name == "" {
			return nil, fmt.Errorf("platform must have a name")
		}
		if p.Provider == nil {
			return nil, fmt.Errorf("platform %q has no provider", p.Name)
		}
		if _, dup := r.platforms[p.Name]; dup {
			return nil, fmt.Errorf("platform %q configured twice", p.Name)
		}
		r.platforms[p.Name] = p
	}
	return r, nil
}

// Lookup returns the named platform or an error wrapping push.ErrUnknownPlatform.
func (r *Registry) Lookup(name string) (*Platform, error) {
	p, ok := r.platforms[name]
	if !ok {
		return nil, fmt.Errorf("%w: %q", push.ErrUnknownPlatform, name)
	}
	return p, nil
}

// Names returns the configured platform names in sorted order.
func (r *Registry) Names() []string {
	names := make([]string, 0, len(r.platforms))
	for n := range r.platforms {
		names = append(names, n)
	}
	sort.Strings(names)
	return names
}

// With returns a new registry that also contains p, replacing any platform of
// the same name. The receiver is left untouched.
func (r *Registry) With(p *Platform) *Registry {
	next := &Registry{platforms: make(map[string]*Platform, len(r.platforms)+1)}
	for k, v := range r.platforms {
		next.platforms[k] = v
	}
	next.platforms[p.Name] = p
	return next
}
