// Package bitmix provides the small set of bit-level helpers the PT decoder
// needs for address decompression and coverage hashing.
package bitmix

// SignExtend48 sign-extends the low 48 bits of x to a full 64-bit value,
// treating bit 47 as the sign bit. This is how a TIP-family packet's
// SignExtend48 IPBytes form recovers a canonical-form virtual address from
// its 48-bit payload.
func SignExtend48(x uint64) uint64 {
	return uint64(int64(x<<16) >> 16)
}

// FMix64 is the 64-bit finalizer from MurmurHash3. It is used, XORed across
// the two ends of a control-flow edge, to pick a coverage-map bucket.
func FMix64(k uint64) uint64 {
	k ^= k >> 33
	k *= 0xff51afd7ed558ccd
	k ^= k >> 33
	k *= 0xc4ceb9fe1a85ec53
	k ^= k >> 33
	return k
}

// EdgeBucket hashes a (from, to) control-flow edge into a bucket index for a
// coverage map of the given length. mapLen must be positive.
func EdgeBucket(from, to uint64, mapLen int) int {
	h := FMix64(from) ^ FMix64(to)
	return int(h % uint64(mapLen))
}
