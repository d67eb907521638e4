package auth

import (
	"context"
	"testing"
)

func TestResolveServiceToken(t *testing.T) {
	resolver := NewResolver("svc-secret", map[string]string{"user-token": "alice"})

	identity := resolver.Resolve("Bearer svc-secret")
	if identity.Kind != IdentityService {
		t.Fatalf("expected service identity, got %s", identity.Kind)
	}
	if identity.Bypass() {
		t.Fatal("service identity must pay per call")
	}
}

func TestResolveUserToken(t *testing.T) {
	resolver := NewResolver("svc-secret", map[string]string{"user-token": "alice"})

	identity := resolver.Resolve("bearer user-token")
	if identity.Kind != IdentityUser {
		t.Fatalf("expected user identity, got %s", identity.Kind)
	}
	if identity.Subject != "alice" {
		t.Fatalf("expected subject alice, got %q", identity.Subject)
	}
	if !identity.Bypass() {
		t.Fatal("user identity must bypass per-call payment")
	}
}

func TestResolveUnknownToken(t *testing.T) {
	resolver := NewResolver("svc-secret", nil)

	for _, header := range []string{"", "Bearer", "Bearer wrong", "Basic abc", "Bearer  "} {
		identity := resolver.Resolve(header)
		if identity.Kind != IdentityAnonymous {
			t.Fatalf("expected anonymous for %q, got %s", header, identity.Kind)
		}
	}
}

func TestIdentityContextRoundTrip(t *testing.T) {
	ctx := WithIdentity(context.Background(), Identity{Kind: IdentityUser, Subject: "alice"})
	identity := IdentityFromContext(ctx)
	if identity.Kind != IdentityUser || identity.Subject != "alice" {
		t.Fatalf("unexpected identity: %+v", identity)
	}

	if IdentityFromContext(context.Background()).Kind != IdentityAnonymous {
		t.Fatal("expected anonymous default")
	}
}
