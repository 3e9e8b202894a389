// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

// Package provider implements the ProviderDispatcher (C9): URL-pattern
// based provider selection with degraded-mode disablement.
package provider

import (
	"sync"

	"github.com/fvadicamo/yt-dlp-api/internal/apierror"
	"github.com/fvadicamo/yt-dlp-api/internal/validator"
)

// Binding is one configured provider, kept in registration order.
type Binding struct {
	Name            string
	URLPatterns     []validator.URLPattern
	Enabled         bool
	CredentialPath  string
	MaxAttempts     int
	BackoffSchedule []int
}

// Dispatcher holds the ordered, enabled/disabled set of provider bindings.
type Dispatcher struct {
	mu       sync.RWMutex
	bindings []Binding
}

// New creates a Dispatcher from an ordered list of bindings.
func New(bindings []Binding) *Dispatcher {
	d := &Dispatcher{bindings: make([]Binding, len(bindings))}
	copy(d.bindings, bindings)
	return d
}

// Disable marks a provider unavailable, used when its credential fails
// startup validation under degraded mode.
func (d *Dispatcher) Disable(name string) {
	d.mu.Lock()
	defer d.mu.Unlock()
	for i := range d.bindings {
		if d.bindings[i].Name == name {
			d.bindings[i].Enabled = false
		}
	}
}

// Dispatch returns the first enabled binding whose pattern set matches url,
// in registration order. INVALID_URL when nothing matches at all;
// COMPONENT_UNAVAILABLE when a pattern matches but the provider is disabled.
func (d *Dispatcher) Dispatch(url string) (Binding, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()

	var matchedDisabled *Binding
	for i := range d.bindings {
		b := d.bindings[i]
		if _, ok := validator.MatchURL(url, b.URLPatterns); !ok {
			continue
		}
		if !b.Enabled {
			if matchedDisabled == nil {
				matchedDisabled = &d.bindings[i]
			}
			continue
		}
		return b, nil
	}

	if matchedDisabled != nil {
		return Binding{}, apierror.New(apierror.CodeComponentUnavailable, "provider "+matchedDisabled.Name+" is unavailable").
			WithDetails(map[string]any{"provider": matchedDisabled.Name})
	}
	return Binding{}, apierror.New(apierror.CodeInvalidURL, "url does not match any known provider")
}

// Bindings returns a snapshot of the current provider set.
func (d *Dispatcher) Bindings() []Binding {
	d.mu.RLock()
	defer d.mu.RUnlock()
	out := make([]Binding, len(d.bindings))
	copy(out, d.bindings)
	return out
}
