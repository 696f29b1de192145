package ptpacket

import "ptcov/internal/bitmix"

// tipPayloadSize returns the number of payload bytes (header excluded)
// carried by a TIP-family packet given its IPBytes tag, and the packet's
// total encoded size (header included).
func tipPayloadSize(b IPBytes) (payload, total int) {
	switch b {
	case IPBytesNone:
		return 0, 1
	case IPBytes16:
		return 2, 3
	case IPBytes32:
		return 4, 5
	case IPBytesSignExtend48, IPBytes48:
		return 6, 7
	case IPBytes64:
		return 8, 9
	default:
		return 0, 1
	}
}

// decodeIPBytesTag extracts the IPBytes tag packed into the top 3 bits of a
// TIP-family header byte.
func decodeIPBytesTag(b0 byte) (IPBytes, bool) {
	switch b0 & 0xe0 {
	case 0b000 << 5:
		return IPBytesNone, true
	case 0b001 << 5:
		return IPBytes16, true
	case 0b010 << 5:
		return IPBytes32, true
	case 0b011 << 5:
		return IPBytesSignExtend48, true
	case 0b100 << 5:
		return IPBytes48, true
	case 0b110 << 5:
		return IPBytes64, true
	default:
		return IPBytesNone, false
	}
}

// parseTipPayload reads a TIP-family payload (the bytes following the
// header byte) into its raw little-endian target-IP bits, per the IPBytes
// tag. It does not decompress against the running last-IP; call IP for
// that.
func parseTipPayload(b IPBytes, payload []byte) (uint64, int, bool) {
	n, total := tipPayloadSize(b)
	if len(payload) < n {
		return 0, 0, false
	}
	var v uint64
	for i := 0; i < n; i++ {
		v |= uint64(payload[i]) << (8 * uint(i))
	}
	return v, total, true
}

// IP decompresses a TIP-family packet's raw target-IP bits against the
// running last-IP, returning false if the packet carries no target address
// (IPBytesNone).
func (p Packet) IP(lastTipIP uint64) (uint64, bool) {
	switch p.IPBytes {
	case IPBytesNone:
		return 0, false
	case IPBytes16:
		return (lastTipIP & 0xffffffffffff0000) | (p.TargetIP & 0xffff), true
	case IPBytes32:
		return (lastTipIP & 0xffffffff00000000) | (p.TargetIP & 0xffffffff), true
	case IPBytesSignExtend48:
		return bitmix.SignExtend48(p.TargetIP), true
	case IPBytes48:
		return (lastTipIP & 0xffff000000000000) | (p.TargetIP & 0xffffffffffff), true
	case IPBytes64:
		return p.TargetIP, true
	default:
		return 0, false
	}
}
