package auth

import "testing"

func TestParseKeyToken(t *testing.T) {
	tests := []struct {
		name    string
		token   string
		ok      bool
		hasID   bool
		id      int64
		secret  string
	}{
		{"id and secret", "mcp_42.s3cr3t", true, true, 42, "s3cr3t"},
		{"legacy no dot", "mcp_s3cr3t", true, false, 0, "s3cr3t"},
		{"non-integer id falls back to legacy", "mcp_abc.def", true, false, 0, "abc.def"},
		{"secret containing dots", "mcp_7.a.b.c", true, true, 7, "a.b.c"},
		{"wrong prefix", "jwt_42.s3cr3t", false, false, 0, ""},
		{"bare prefix", "mcp_", false, false, 0, ""},
		{"empty", "", false, false, 0, ""},
		{"jwt-shaped", "eyJhb.eyJz.sig", false, false, 0, ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			parsed, ok := ParseKeyToken(tt.token)
			if ok != tt.ok {
				t.Fatalf("ok = %v, want %v", ok, tt.ok)
			}
			if !ok {
				return
			}
			if parsed.HasID != tt.hasID {
				t.Errorf("HasID = %v, want %v", parsed.HasID, tt.hasID)
			}
			if parsed.HasID && parsed.ID != tt.id {
				t.Errorf("ID = %d, want %d", parsed.ID, tt.id)
			}
			if parsed.Secret != tt.secret {
				t.Errorf("Secret = %q, want %q", parsed.Secret, tt.secret)
			}
		})
	}
}

func TestEncodeKeyTokenRoundTrip(t *testing.T) {
	token := EncodeKeyToken(1234, "wXyZ-abc_123")
	if token != "mcp_1234.wXyZ-abc_123" {
		t.Fatalf("unexpected token: %q", token)
	}
	parsed, ok := ParseKeyToken(token)
	if !ok || !parsed.HasID {
		t.Fatalf("round-trip parse failed: %+v ok=%v", parsed, ok)
	}
	if parsed.ID != 1234 || parsed.Secret != "wXyZ-abc_123" {
		t.Errorf("round-trip mismatch: %+v", parsed)
	}
	if EncodeKeyToken(parsed.ID, parsed.Secret) != token {
		t.Error("encode(parse(token)) != token")
	}
}

func TestKeyDigest(t *testing.T) {
	key := []byte("server-secret")

	a := KeyDigest(key, "some-secret")
	b := KeyDigest(key, "some-secret")
	if a == "" || a != b {
		t.Errorf("digest not deterministic: %q vs %q", a, b)
	}
	if len(a) != 64 {
		t.Errorf("expected hex SHA-256 digest (64 chars), got %d", len(a))
	}

	if KeyDigest(key, "other-secret") == a {
		t.Error("different secrets must not share a digest")
	}
	if KeyDigest([]byte("other-server-key"), "some-secret") == a {
		t.Error("digest must depend on the server secret")
	}

	// No server secret means no digest, not a failure.
	if KeyDigest(nil, "some-secret") != "" {
		t.Error("expected empty digest without a server secret")
	}
}
