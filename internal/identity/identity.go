package identity

import (
	"strings"
	"sync"
)

// Viewer is the wallet address and optional login email of the current user.
type Viewer struct {
	Address string `json:"address"`
	Email   string `json:"email,omitempty"`
}

// Normalize trims both fields and lowercases them; ledger addresses are hex
// and email matching is case-insensitive.
func (v Viewer) Normalize() Viewer {
	return Viewer{
		Address: strings.ToLower(strings.TrimSpace(v.Address)),
		Email:   strings.ToLower(strings.TrimSpace(v.Email)),
	}
}

// Empty reports whether there is nobody to reconcile for.
func (v Viewer) Empty() bool {
	n := v.Normalize()
	return n.Address == "" && n.Email == ""
}

// Provider is read once per poll tick; the viewer may change between ticks.
type Provider interface {
	Current() Viewer
}

// Static is a Provider whose viewer is set explicitly, from config or from
// the session endpoint.
type Static struct {
	mu sync.RWMutex
	v  Viewer
}

func NewStatic(v Viewer) *Static {
	return &Static{v: v.Normalize()}
}

func (s *Static) Current() Viewer {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.v
}

// Set replaces the viewer and reports whether it changed.
func (s *Static) Set(v Viewer) bool {
	v = v.Normalize()
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.v == v {
		return false
	}
	s.v = v
	return true
}
