package password

import "testing"

func TestHashVerify_RoundTrip(t *testing.T) {
	h := NewHasher("pepper")
	digest, err := h.Hash("secret123")
	if err != nil {
		t.Fatal(err)
	}
	if digest == "secret123" {
		t.Fatal("digest must not equal plaintext")
	}
	if !h.Verify("secret123", digest) {
		t.Fatal("correct password must verify")
	}
	if h.Verify("wrongpass", digest) {
		t.Fatal("wrong password must not verify")
	}
}

func TestVerify_DifferentPepper(t *testing.T) {
	digest, _ := NewHasher("a").Hash("secret123")
	if NewHasher("b").Verify("secret123", digest) {
		t.Fatal("digest from other pepper must not verify")
	}
}

func TestVerify_GarbageDigest(t *testing.T) {
	h := NewHasher("pepper")
	if h.Verify("secret123", "not-a-digest") {
		t.Fatal("garbage digest must verify false, not panic")
	}
}

func TestIsStrong(t *testing.T) {
	cases := map[string]bool{
		"Aa1aaaaa":  true,
		"short1A":   false, // 7 runes
		"alllower1": false, // no upper
		"ALLUPPER":  false, // no digit
		"":          false,
	}
	for pwd, want := range cases {
		if got := IsStrong(pwd); got != want {
			t.Fatalf("IsStrong(%q) = %v, want %v", pwd, got, want)
		}
	}
}
