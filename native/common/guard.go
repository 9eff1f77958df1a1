package common

import (
	"errors"
	"strings"
	"sync"

	"hedgepool/crypto"
)

var (
	ErrModulePaused = errors.New("module paused")
	// ErrUnauthorized is returned when the caller lacks the role an operation
	// requires.
	ErrUnauthorized = errors.New("caller not authorized")
)

// Module names used for pause switches.
const (
	ModuleHedging   = "hedging"
	ModuleLiquidity = "liquidity"
	ModuleSwap      = "swap"
	ModuleLending   = "lending"
	ModuleKeeper    = "keeper"
)

type PauseView interface {
	IsPaused(module string) bool
}

func Guard(p PauseView, module string) error {
	if p == nil || module == "" {
		return nil
	}
	if p.IsPaused(module) {
		return ErrModulePaused
	}
	return nil
}

// Pauses is an in-memory PauseView toggled by the operator.
type Pauses struct {
	mu     sync.RWMutex
	paused map[string]bool
}

// NewPauses seeds the switches from the supplied module names.
func NewPauses(modules ...string) *Pauses {
	p := &Pauses{paused: make(map[string]bool)}
	for _, m := range modules {
		p.Set(m, true)
	}
	return p
}

func (p *Pauses) IsPaused(module string) bool {
	if p == nil {
		return false
	}
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.paused[strings.ToLower(strings.TrimSpace(module))]
}

// Set flips the pause switch for module.
func (p *Pauses) Set(module string, paused bool) {
	if p == nil {
		return
	}
	key := strings.ToLower(strings.TrimSpace(module))
	if key == "" {
		return
	}
	p.mu.Lock()
	p.paused[key] = paused
	p.mu.Unlock()
}

// Authorizer answers owner and keeper checks. An empty keeper set leaves
// keeper operations permissionless.
type Authorizer struct {
	mu      sync.RWMutex
	owner   crypto.Address
	keepers map[string]struct{}
}

// NewAuthorizer configures the owner and an optional keeper allowlist.
func NewAuthorizer(owner crypto.Address, keepers ...crypto.Address) *Authorizer {
	a := &Authorizer{owner: owner, keepers: make(map[string]struct{})}
	for _, k := range keepers {
		a.AddKeeper(k)
	}
	return a
}

// Owner returns the configured owner account.
func (a *Authorizer) Owner() crypto.Address {
	if a == nil {
		return crypto.Address{}
	}
	a.mu.RLock()
	defer a.mu.RUnlock()
	return a.owner
}

// AddKeeper adds an account to the keeper allowlist.
func (a *Authorizer) AddKeeper(addr crypto.Address) {
	if a == nil || addr.IsZero() {
		return
	}
	a.mu.Lock()
	a.keepers[addr.String()] = struct{}{}
	a.mu.Unlock()
}

// Permissionless reports whether any caller may act as keeper.
func (a *Authorizer) Permissionless() bool {
	if a == nil {
		return true
	}
	a.mu.RLock()
	defer a.mu.RUnlock()
	return len(a.keepers) == 0
}

// RequireOwner guards owner-only configuration operations.
func (a *Authorizer) RequireOwner(caller crypto.Address) error {
	if a == nil {
		return ErrUnauthorized
	}
	owner := a.Owner()
	if owner.IsZero() || caller.IsZero() || !owner.Equal(caller) {
		return ErrUnauthorized
	}
	return nil
}

// RequireKeeper guards keeper operations.
func (a *Authorizer) RequireKeeper(caller crypto.Address) error {
	if a.Permissionless() {
		return nil
	}
	if caller.IsZero() {
		return ErrUnauthorized
	}
	a.mu.RLock()
	_, ok := a.keepers[caller.String()]
	a.mu.RUnlock()
	if !ok {
		return ErrUnauthorized
	}
	return nil
}
