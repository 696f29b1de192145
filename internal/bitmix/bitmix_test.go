package bitmix

import "testing"

func TestSignExtend48(t *testing.T) {
	tests := []struct {
		name string
		in   uint64
		want uint64
	}{
		{"zero", 0, 0},
		{"positive low bit", 0x0000_0000_0001, 0x0000_0000_0001},
		{"negative, bit 47 set", 0x0000_8000_0000_0000, 0xFFFF_8000_0000_0000},
		{"all 48 bits set", 0x0000_FFFF_FFFF_FFFF, 0xFFFF_FFFF_FFFF_FFFF},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := SignExtend48(tt.in); got != tt.want {
				t.Fatalf("SignExtend48(%#x) = %#x, want %#x", tt.in, got, tt.want)
			}
		})
	}
}

func TestFMix64Deterministic(t *testing.T) {
	// The finalizer must be a pure function of its input: same input, same
	// output, every time, and different inputs should (almost always) differ.
	a := FMix64(0)
	b := FMix64(0)
	if a != b {
		t.Fatalf("FMix64 is not deterministic: %#x != %#x", a, b)
	}
	if FMix64(1) == FMix64(2) {
		t.Fatalf("FMix64(1) and FMix64(2) collided unexpectedly")
	}
}

func TestEdgeBucketInRange(t *testing.T) {
	const mapLen = 1024
	edges := [][2]uint64{
		{0x1000, 0x1004},
		{0x2000, 0x3000},
		{0, 0},
		{^uint64(0), 0},
	}
	for _, e := range edges {
		b := EdgeBucket(e[0], e[1], mapLen)
		if b < 0 || b >= mapLen {
			t.Fatalf("EdgeBucket(%#x,%#x) = %d out of range [0,%d)", e[0], e[1], b, mapLen)
		}
	}
}
