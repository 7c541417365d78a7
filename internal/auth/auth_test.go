package auth

import (
	"context"
	"os"
	"path/filepath"
	"testing"
)

func TestVerifySkipsUnregisteredSchemes(t *testing.T) {
	v := NewVerifier()
	if !v.Verify("polkit:auth.brld.connect", PeerInfo{}) {
		t.Fatalf("expected unregistered schemes to be skipped, not rejected")
	}
}

func TestVerifyRejectsWhenRegisteredSchemeFails(t *testing.T) {
	v := NewVerifier()
	v.RegisterScheme("user", UserScheme)
	if v.Verify("user:1000", PeerInfo{HasCreds: false}) {
		t.Fatalf("expected rejection without peer credentials")
	}
}

func TestVerifyAcceptsMatchingUser(t *testing.T) {
	v := NewVerifier()
	v.RegisterScheme("user", UserScheme)
	if !v.Verify("user:1000", PeerInfo{HasCreds: true, UID: 1000}) {
		t.Fatalf("expected acceptance for matching uid")
	}
}

func TestVerifyRejectsDuplicateKeyfileScheme(t *testing.T) {
	v := NewVerifier()
	if v.Verify("keyfile:a+keyfile:b", PeerInfo{}) {
		t.Fatalf("expected rejection of duplicate keyfile scheme")
	}
}

func TestKeyfileSchemeAcceptsMatchingChallenge(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "secret")
	if err := os.WriteFile(path, []byte("shared-secret"), 0o600); err != nil {
		t.Fatalf("setup: %v", err)
	}

	v := NewVerifier()
	v.RegisterScheme("keyfile", KeyfileScheme(path))

	challenge := DeriveChallenge([]byte("shared-secret"))
	if !v.Verify("keyfile:"+challenge, PeerInfo{}) {
		t.Fatalf("expected matching challenge to authenticate")
	}
}

func TestPolkitSchemeAcceptsWhenRunnerAuthorizes(t *testing.T) {
	v := NewVerifier()
	v.RegisterScheme("polkit", PolkitScheme(func(_ context.Context, action string, peer PeerInfo) bool {
		return action == "auth.brld.connect" && peer.PID == 42
	}))
	if !v.Verify("polkit:auth.brld.connect", PeerInfo{HasCreds: true, PID: 42}) {
		t.Fatalf("expected the action to be authorized")
	}
}

func TestPolkitSchemeRejectsWithoutAction(t *testing.T) {
	v := NewVerifier()
	v.RegisterScheme("polkit", PolkitScheme(func(context.Context, string, PeerInfo) bool {
		return true
	}))
	if v.Verify("polkit", PeerInfo{HasCreds: true, PID: 42}) {
		t.Fatalf("expected rejection of an empty action id")
	}
}

func TestKeyfileSchemeRejectsWrongChallenge(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "secret")
	if err := os.WriteFile(path, []byte("shared-secret"), 0o600); err != nil {
		t.Fatalf("setup: %v", err)
	}

	v := NewVerifier()
	v.RegisterScheme("keyfile", KeyfileScheme(path))

	if v.Verify("keyfile:not-the-right-value", PeerInfo{}) {
		t.Fatalf("expected mismatched challenge to fail")
	}
}
