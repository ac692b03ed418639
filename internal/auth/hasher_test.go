package auth

import "testing"

func TestHashAndVerifySecret(t *testing.T) {
	hash, err := HashSecret("correct horse battery staple")
	if err != nil {
		t.Fatalf("HashSecret: %v", err)
	}
	if hash == "correct horse battery staple" {
		t.Fatal("hash must not equal the plaintext")
	}

	if !VerifySecret("correct horse battery staple", hash) {
		t.Error("expected matching secret to verify")
	}
	if VerifySecret("wrong secret", hash) {
		t.Error("expected non-matching secret to fail")
	}
}

func TestVerifySecretMalformedHash(t *testing.T) {
	// A corrupt stored hash must verify as false, never panic or error out.
	for _, h := range []string{"", "not-a-bcrypt-hash", "$2a$garbage"} {
		if VerifySecret("anything", h) {
			t.Errorf("malformed hash %q verified as true", h)
		}
	}
}

func TestGenerateSecret(t *testing.T) {
	a, err := GenerateSecret()
	if err != nil {
		t.Fatalf("GenerateSecret: %v", err)
	}
	b, err := GenerateSecret()
	if err != nil {
		t.Fatalf("GenerateSecret: %v", err)
	}
	if a == b {
		t.Error("two generated secrets must not collide")
	}
	if len(a) < 40 {
		t.Errorf("secret too short for 32 bytes of entropy: %d chars", len(a))
	}
	for _, c := range a {
		if c == '.' {
			t.Errorf("secret contains the id/secret separator %q", c)
		}
	}
}
