// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package gateway

import (
	"fmt"

	"github.com/ManuGH/classd/internal/domain/classroom/model"
)

// Target identifies a backend capability. The orchestrator never branches on it.
type Target string

const (
	TargetConference Target = "conference"
	TargetEvent      Target = "event"
	TargetTQ         Target = "tq"
)

// AllTargets lists every known backend target.
var AllTargets = []Target{TargetConference, TargetEvent, TargetTQ}

// ParseTarget validates a configured target name.
func ParseTarget(s string) (Target, error) {
	for _, t := range AllTargets {
		if string(t) == s {
			return t, nil
		}
	}
	return "", fmt.Errorf("unknown backend target %q", s)
}

// Topic is the transport topic requests for t are published on.
func (t Target) Topic() string { return "backend." + string(t) }

// Adapter binds a target to its wire format and method names.
type Adapter struct {
	Target  Target
	Codec   Codec
	Methods map[model.Category]string
}

var defaultMethods = map[model.Category]string{
	model.CategoryProvision: "room.create",
	model.CategoryUpdate:    "room.update",
	model.CategoryClose:     "room.close",
}

// NewAdapter returns an adapter using the default method names.
func NewAdapter(target Target, codec Codec) *Adapter {
	methods := make(map[model.Category]string, len(defaultMethods))
	for k, v := range defaultMethods {
		methods[k] = v
	}
	return &Adapter{Target: target, Codec: codec, Methods: methods}
}

// Method names the backend call for a category.
func (a *Adapter) Method(c model.Category) (string, error) {
	m, ok := a.Methods[c]
	if !ok {
		return "", fmt.Errorf("target %s has no method for %s", a.Target, c)
	}
	return m, nil
}

// Registry holds one adapter per target and routes categories to targets.
type Registry struct {
	adapters map[Target]*Adapter
	routes   map[model.Category]Target
}

// NewRegistry builds a registry. Every routed target must have an adapter.
func NewRegistry(routes map[model.Category]Target, adapters ...*Adapter) (*Registry, error) {
	r := &Registry{
		adapters: make(map[Target]*Adapter, len(adapters)),
		routes:   make(map[model.Category]Target, len(model.AllCategories)),
	}
	for _, a := range adapters {
		if _, dup := r.adapters[a.Target]; dup {
			return nil, fmt.Errorf("duplicate adapter for %s", a.Target)
		}
		r.adapters[a.Target] = a
	}
	for _, c := range model.AllCategories {
		t, ok := routes[c]
		if !ok {
			t = TargetConference
		}
		if _, ok := r.adapters[t]; !ok {
			return nil, fmt.Errorf("category %s routed to %s, which has no adapter", c, t)
		}
		r.routes[c] = t
	}
	return r, nil
}

// Route returns the adapter serving a category.
func (r *Registry) Route(c model.Category) (*Adapter, error) {
	t, ok := r.routes[c]
	if !ok {
		return nil, fmt.Errorf("no route for category %q", c)
	}
	return r.adapters[t], nil
}

// Adapter returns the adapter for target t.
func (r *Registry) Adapter(t Target) (*Adapter, bool) {
	a, ok := r.adapters[t]
	return a, ok
}

// Targets lists the registered targets.
func (r *Registry) Targets() []Target {
	out := make([]Target, 0, len(r.adapters))
	for _, t := range AllTargets {
		if _, ok := r.adapters[t]; ok {
			out = append(out, t)
		}
	}
	return out
}
