package password

import "testing"

func BenchmarkHash(b *testing.B) {
	cfg := DefaultConfig()
	const pw = "correct-horse-battery-staple-9"

	b.ReportAllocs()
	for i := 0; i < b.N; i++ {
		if _, err := cfg.Hash(pw); err != nil {
			b.Fatalf("Hash: %v", err)
		}
	}
}

func BenchmarkVerify(b *testing.B) {
	cfg := DefaultConfig()
	const pw = "correct-horse-battery-staple-9"
	h, err := cfg.Hash(pw)
	if err != nil {
		b.Fatalf("Hash: %v", err)
	}

	b.ReportAllocs()
	for i := 0; i < b.N; i++ {
		ok, err := cfg.Verify(h, pw)
		if err != nil || !ok {
			b.Fatalf("Verify: ok=%v err=%v", ok, err)
		}
	}
}
