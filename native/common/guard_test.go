package common

import (
	"bytes"
	"testing"

	"hedgepool/crypto"
)

func addr(b byte) crypto.Address {
	return crypto.MustNewAddress(crypto.AccountPrefix, bytes.Repeat([]byte{b}, 20))
}

func TestGuardHonoursPauses(t *testing.T) {
	pauses := NewPauses(ModuleSwap)
	if err := Guard(pauses, ModuleSwap); err != ErrModulePaused {
		t.Fatalf("expected paused error, got %v", err)
	}
	if err := Guard(pauses, ModuleHedging); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	pauses.Set(ModuleSwap, false)
	if err := Guard(pauses, ModuleSwap); err != nil {
		t.Fatalf("unexpected error after unpause: %v", err)
	}
	if err := Guard(nil, ModuleSwap); err != nil {
		t.Fatalf("nil pause view must not block: %v", err)
	}
}

func TestAuthorizerOwner(t *testing.T) {
	auth := NewAuthorizer(addr(1))
	if err := auth.RequireOwner(addr(1)); err != nil {
		t.Fatalf("owner rejected: %v", err)
	}
	if err := auth.RequireOwner(addr(2)); err != ErrUnauthorized {
		t.Fatalf("expected unauthorized, got %v", err)
	}
	if err := NewAuthorizer(crypto.Address{}).RequireOwner(crypto.Address{}); err != ErrUnauthorized {
		t.Fatalf("unset owner must reject, got %v", err)
	}
}

func TestAuthorizerKeepers(t *testing.T) {
	open := NewAuthorizer(addr(1))
	if err := open.RequireKeeper(addr(9)); err != nil {
		t.Fatalf("permissionless keeper rejected: %v", err)
	}
	restricted := NewAuthorizer(addr(1), addr(3))
	if err := restricted.RequireKeeper(addr(3)); err != nil {
		t.Fatalf("allowlisted keeper rejected: %v", err)
	}
	if err := restricted.RequireKeeper(addr(4)); err != ErrUnauthorized {
		t.Fatalf("expected unauthorized, got %v", err)
	}
}
