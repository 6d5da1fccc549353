package digest

import "testing"

func TestNameKeyStripsSigil(t *testing.T) {
	tests := []struct {
		name Name
		want string
	}{
		{"/examples/name/v1.2.3", "examples/name/v1.2.3"},
		{"#BXC15FJ7", "BXC15FJ7"},
		{"no-sigil", "no-sigil"},
		{"", ""},
	}
	for _, tt := range tests {
		if got := NameKey(tt.name); got != tt.want {
			t.Errorf("NameKey(%q) = %q, want %q", tt.name, got, tt.want)
		}
	}
}

func TestDocKey(t *testing.T) {
	c := Citation{Tag: "#BXC15FJ7", Version: "v1.2.3"}
	if got, want := DocKey(c), "BXC15FJ7/v1.2.3"; got != want {
		t.Errorf("DocKey = %q, want %q", got, want)
	}
}

func TestBagPrefixAndMessageKey(t *testing.T) {
	bag := Citation{Tag: "#BAG1", Version: "v1"}
	msg := Citation{Tag: "#MSG1", Version: "v1"}

	if got, want := BagPrefix(bag, Available), "BAG1/v1/available"; got != want {
		t.Errorf("BagPrefix = %q, want %q", got, want)
	}
	if got, want := MessageKey(bag, Processing, msg), "BAG1/v1/processing/MSG1/v1"; got != want {
		t.Errorf("MessageKey = %q, want %q", got, want)
	}
}

func TestIsSubpathAndRelativeKey(t *testing.T) {
	prefix := "BAG1/v1/available"
	key := "BAG1/v1/available/MSG1/v1"

	if !IsSubpath(key, prefix) {
		t.Fatalf("expected %q to be a subpath of %q", key, prefix)
	}
	if IsSubpath("BAG1/v1/availableXYZ/MSG1/v1", prefix) {
		t.Fatalf("prefix match must respect segment boundary")
	}
	if got, want := RelativeKey(key, prefix), "MSG1/v1"; got != want {
		t.Errorf("RelativeKey = %q, want %q", got, want)
	}
	if got := RelativeKey(prefix, prefix); got != "" {
		t.Errorf("RelativeKey of exact prefix = %q, want empty", got)
	}
}

func TestFingerprintStable(t *testing.T) {
	c := Citation{Tag: "/X", Version: "v2", Digest: "sha256:aaaa"}
	if got, want := Fingerprint(c), "X:v2"; got != want {
		t.Errorf("Fingerprint = %q, want %q", got, want)
	}
}

func TestEncodeDecodeCitationRoundTrips(t *testing.T) {
	c := Citation{Tag: "#BXC15FJ7", Version: "v1", Digest: "sha256:aaaa"}
	got, ok := DecodeCitation(EncodeCitation(c))
	if !ok {
		t.Fatalf("DecodeCitation failed to parse EncodeCitation output")
	}
	if got != c {
		t.Errorf("round trip = %+v, want %+v", got, c)
	}
}

func TestDecodeCitationRejectsMalformedInput(t *testing.T) {
	if _, ok := DecodeCitation([]byte("only-one-line")); ok {
		t.Fatal("expected DecodeCitation to reject input with too few fields")
	}
}
