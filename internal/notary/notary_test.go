package notary

import (
	"context"
	"encoding/base32"
	"testing"
)

func TestNotarizeAssignsTagAndVersion(t *testing.T) {
	n := New([]byte("test-key"), "docrepo-test")
	ctx := context.Background()

	c, sig, err := n.Notarize(ctx, []byte("hello"), "", "")
	if err != nil {
		t.Fatalf("Notarize: %v", err)
	}
	if c.Tag == "" {
		t.Fatal("expected a generated tag")
	}
	if c.Version != "v1" {
		t.Fatalf("Version = %q, want v1", c.Version)
	}
	if c.Digest == "" {
		t.Fatal("expected a non-empty digest")
	}
	if len(sig) == 0 {
		t.Fatal("expected a non-empty signature")
	}
}

func TestNotarizeDigestIsBijectiveWithContent(t *testing.T) {
	n := New([]byte("test-key"), "docrepo-test")
	ctx := context.Background()

	c1, _, _ := n.Notarize(ctx, []byte("same"), "#TAG", "v1")
	c2, _, _ := n.Notarize(ctx, []byte("same"), "#TAG", "v1")
	if c1.Digest != c2.Digest {
		t.Fatalf("identical content produced different digests: %q vs %q", c1.Digest, c2.Digest)
	}

	c3, _, _ := n.Notarize(ctx, []byte("different"), "#TAG", "v1")
	if c1.Digest == c3.Digest {
		t.Fatal("different content produced the same digest")
	}
}

func TestNextVersion(t *testing.T) {
	n := New([]byte("k"), "docrepo-test")
	tests := map[string]string{
		"v1": "v2",
		"v9": "v10",
	}
	for in, want := range tests {
		if got := n.NextVersion(in); got != want {
			t.Errorf("NextVersion(%q) = %q, want %q", in, got, want)
		}
	}
}

func TestCredentialsRoundTrip(t *testing.T) {
	n := New([]byte("secret"), "docrepo-test")
	ctx := context.Background()

	creds, err := n.Credentials(ctx, "alice")
	if err != nil {
		t.Fatalf("Credentials: %v", err)
	}

	caller, err := n.Authenticate(ctx, creds)
	if err != nil {
		t.Fatalf("Authenticate: %v", err)
	}
	if caller != "alice" {
		t.Fatalf("Authenticate caller = %q, want alice", caller)
	}
}

func TestCredentialsAreBase32Encoded(t *testing.T) {
	n := New([]byte("secret"), "docrepo-test")
	ctx := context.Background()

	creds, err := n.Credentials(ctx, "alice")
	if err != nil {
		t.Fatalf("Credentials: %v", err)
	}
	if _, err := base32.StdEncoding.WithPadding(base32.NoPadding).DecodeString(string(creds)); err != nil {
		t.Fatalf("nebula-credentials value is not base-32: %v", err)
	}
}

func TestAuthenticateRejectsWrongKey(t *testing.T) {
	n1 := New([]byte("secret-1"), "docrepo-test")
	n2 := New([]byte("secret-2"), "docrepo-test")
	ctx := context.Background()

	creds, err := n1.Credentials(ctx, "bob")
	if err != nil {
		t.Fatalf("Credentials: %v", err)
	}

	if _, err := n2.Authenticate(ctx, creds); err == nil {
		t.Fatal("expected Authenticate with the wrong key to fail")
	}
}
