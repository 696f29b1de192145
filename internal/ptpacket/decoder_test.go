package ptpacket

import (
	"testing"

	"github.com/stretchr/testify/require"

	"ptcov/pterr"
)

// syncRun builds the minimum 8-pair PSB synchronization pattern the decoder
// requires before it will recognize anything else.
func syncRun() []byte {
	run := make([]byte, 0, 16)
	for i := 0; i < 8; i++ {
		run = append(run, 0x02, 0x82)
	}
	return run
}

func TestNewDecoderFailsWithoutSync(t *testing.T) {
	_, err := NewDecoder([]byte{0x01, 0x02, 0x03})
	require.Error(t, err)
	require.True(t, pterr.IsKind(err, pterr.SyncFailed))
}

func TestDecoderConformanceSequence(t *testing.T) {
	buf := syncRun()
	buf = append(buf, 0x02, 0x23) // PsbEnd
	buf = append(buf, 0xd1)       // TipPge, IPBytes64 tag
	buf = append(buf, 0x00, 0x10, 0x40, 0x00, 0x00, 0x00, 0x00, 0x00)
	buf = append(buf, 0x34)             // TntShort
	buf = append(buf, 0x0d)             // Tip, IPBytesNone
	buf = append(buf, 0x02, 0xf3)       // Ovf
	buf = append(buf, 0x02, 0x03, 0, 0) // Cbr, skipped internally

	dec, err := NewDecoder(buf)
	require.NoError(t, err)

	p, err := dec.Next()
	require.NoError(t, err)
	require.Equal(t, KindPsb, p.Kind)
	require.Equal(t, 14, dec.LastSyncPosition())

	p, err = dec.Next()
	require.NoError(t, err)
	require.Equal(t, KindPsbEnd, p.Kind)

	p, err = dec.Next()
	require.NoError(t, err)
	require.Equal(t, KindTipPge, p.Kind)
	ip, ok := p.IP(0)
	require.True(t, ok)
	require.Equal(t, uint64(0x401000), ip)

	p, err = dec.Next()
	require.NoError(t, err)
	require.Equal(t, KindTntShort, p.Kind)
	taken := collectTNT(p.TNT())
	require.Equal(t, []bool{true, false, true, false}, taken)

	p, err = dec.Next()
	require.NoError(t, err)
	require.Equal(t, KindTip, p.Kind)
	_, ok = p.IP(0x401000)
	require.False(t, ok)

	p, err = dec.Next()
	require.NoError(t, err)
	require.Equal(t, KindOvf, p.Kind)

	// The trailing Cbr is consumed internally; Next runs off the end.
	_, err = dec.Next()
	require.Error(t, err)
	require.True(t, pterr.IsKind(err, pterr.Eof))
}

// conformanceTrace is the literal 320-byte capture used by the original
// decoder's own "next" conformance test: a real PSB+ preamble followed by a
// run of TIP/TNT-heavy trace covering a short function, then a closing
// TipPgd. It exercises header dispatch across every packet family the
// sample actually contains, back to back, rather than a hand-assembled
// sequence.
var conformanceTrace = []byte{
	0x02, 0x82, 0x02, 0x82, 0x02, 0x82, 0x02, 0x82, 0x02, 0x82, 0x02, 0x82,
	0x02, 0x82, 0x02, 0x82, 0x02, 0x03, 0x23, 0x00, 0x02, 0x23, 0x00, 0x00,
	0x00, 0x00, 0x00, 0x00, 0x00, 0x99, 0x01, 0xd1, 0xed, 0x4d, 0x32, 0x67,
	0xaf, 0x7d, 0x00, 0x00, 0x08, 0x00, 0x00, 0x00, 0x00, 0x00, 0x00, 0xcd,
	0x9c, 0x76, 0x6b, 0x37, 0x72, 0x5d, 0x00, 0x00, 0x2d, 0xc4, 0x76, 0x4d,
	0xda, 0xe6, 0x4b, 0x37, 0x0a, 0x4d, 0xf4, 0x55, 0x46, 0x37, 0x06, 0x00,
	0x2d, 0x37, 0x5f, 0x2d, 0x4f, 0x5f, 0x00, 0x00, 0x2d, 0x62, 0xce, 0x2d,
	0x30, 0x61, 0x00, 0x00, 0x2d, 0x41, 0x61, 0x4d, 0xa0, 0xab, 0x7b, 0x37,
	0xf2, 0x2d, 0xee, 0xab, 0x00, 0x00, 0x00, 0x00, 0x4d, 0xc4, 0xf9, 0x42,
	0x37, 0x00, 0x00, 0x00, 0x4d, 0x66, 0xe5, 0x46, 0x37, 0x00, 0x00, 0x00,
	0x4d, 0xdb, 0xa0, 0x48, 0x37, 0x0a, 0x00, 0x00, 0x4d, 0x2a, 0xfc, 0x42,
	0x37, 0x00, 0x00, 0x00, 0x4d, 0xe5, 0xa0, 0x48, 0x37, 0x00, 0x00, 0x00,
	0x4d, 0xf0, 0xc3, 0x4c, 0x37, 0x00, 0x00, 0x00, 0x4d, 0xda, 0x12, 0x48,
	0x37, 0x2d, 0x05, 0xa1, 0x4d, 0xc0, 0xda, 0x7b, 0x37, 0x00, 0x00, 0x00,
	0x4d, 0x15, 0xa1, 0x48, 0x37, 0x2a, 0x00, 0x00, 0x4d, 0xda, 0xc9, 0x44,
	0x37, 0x00, 0x00, 0x00, 0x4d, 0x36, 0xa1, 0x48, 0x37, 0x00, 0x00, 0x00,
	0x4d, 0x4e, 0x61, 0x46, 0x37, 0x2d, 0x07, 0xc5, 0x4d, 0x50, 0x73, 0x52,
	0x37, 0x2e, 0x00, 0x00, 0x2d, 0xcb, 0x73, 0x00, 0x00, 0x00, 0x00, 0xcd,
	0x00, 0x94, 0x38, 0x67, 0xaf, 0x7d, 0x00, 0x00, 0x08, 0x00, 0x00, 0x00,
	0x00, 0x00, 0x00, 0xcd, 0xdf, 0x73, 0x52, 0x37, 0x72, 0x5d, 0x00, 0x00,
	0x00, 0x00, 0x00, 0x00, 0x00, 0x00, 0x00, 0xcd, 0xe0, 0x8c, 0x2a, 0x67,
	0xaf, 0x7d, 0x00, 0x00, 0x06, 0x01, 0x31, 0xfc, 0x8c, 0x04, 0x00, 0xcd,
	0xd4, 0x74, 0x52, 0x37, 0x72, 0x5d, 0x00, 0x00, 0x4d, 0x10, 0xc5, 0x46,
	0x37, 0x2d, 0x97, 0xce, 0x06, 0x2d, 0x76, 0x56, 0x04, 0x00, 0x00, 0x00,
	0x4d, 0x80, 0xe8, 0x4b, 0x37, 0x2d, 0xad, 0xe8, 0x4d, 0xd0, 0x76, 0x6b,
	0x37, 0x00, 0x00, 0xcd, 0xb0, 0x4d, 0x32, 0x67, 0xaf, 0x7d, 0x00, 0x00,
	0x01, 0x00, 0x00, 0x00, 0x00, 0x00, 0x00, 0x00,
}

// TestDecoderConformanceTrace replays conformanceTrace packet-by-packet and
// checks each one's Kind, byte offset, and encoded size against the
// original decoder's own expected sequence for this exact capture, then
// confirms the trailing padding is consumed to exactly the buffer's final
// byte before Eof is reported.
func TestDecoderConformanceTrace(t *testing.T) {
	want := []struct {
		kind Kind
		pos  int
		size int
	}{
		{KindPsb, 14, 2},
		{KindPsbEnd, 20, 2},
		{KindModeExec, 29, 2},
		{KindTipPge, 31, 9},
		{KindTntShort, 40, 1},
		{KindTip, 47, 9},
		{KindTip, 56, 3},
		{KindTip, 59, 5},
		{KindTntShort, 64, 1},
		{KindTip, 65, 5},
		{KindTntShort, 70, 1},
		{KindTip, 72, 3},
		{KindTip, 75, 3},
		{KindTip, 80, 3},
		{KindTip, 83, 3},
		{KindTip, 88, 3},
		{KindTip, 91, 5},
		{KindTntShort, 96, 1},
		{KindTip, 97, 3},
		{KindTip, 104, 5},
		{KindTip, 112, 5},
		{KindTip, 120, 5},
		{KindTntShort, 125, 1},
		{KindTip, 128, 5},
		{KindTip, 136, 5},
		{KindTip, 144, 5},
		{KindTip, 152, 5},
		{KindTip, 157, 3},
		{KindTip, 160, 5},
		{KindTip, 168, 5},
		{KindTntShort, 173, 1},
		{KindTip, 176, 5},
		{KindTip, 184, 5},
		{KindTip, 192, 5},
		{KindTip, 197, 3},
		{KindTip, 200, 5},
		{KindTntShort, 205, 1},
		{KindTip, 208, 3},
		{KindTip, 215, 9},
		{KindTntShort, 224, 1},
		{KindTip, 231, 9},
		{KindTip, 247, 9},
		{KindTntShort, 256, 1},
		{KindTipPgd, 257, 1},
		{KindTipPge, 258, 3},
		{KindTntShort, 261, 1},
		{KindTip, 263, 9},
		{KindTip, 272, 5},
		{KindTip, 277, 3},
		{KindTntShort, 280, 1},
		{KindTip, 281, 3},
		{KindTntShort, 284, 1},
		{KindTip, 288, 5},
		{KindTip, 293, 3},
		{KindTip, 296, 5},
		{KindTip, 303, 9},
		{KindTipPgd, 312, 1},
	}

	dec, err := NewDecoder(conformanceTrace)
	require.NoError(t, err)
	require.Equal(t, 14, dec.LastSyncPosition())

	for i, w := range want {
		p, err := dec.Next()
		// Next skips leading padding and Cbr packets, so the packet's own
		// offset is where the cursor stopped minus the packet's size.
		pos := dec.Position() - p.Size()
		require.NoErrorf(t, err, "packet %d (%s)", i, w.kind)
		require.Equalf(t, w.kind, p.Kind, "packet %d: kind", i)
		require.Equalf(t, w.pos, pos, "packet %d: offset", i)
		require.Equalf(t, w.size, p.Size(), "packet %d: size", i)
	}

	_, err = dec.Next()
	require.Error(t, err)
	require.True(t, pterr.IsKind(err, pterr.Eof))
	require.Equal(t, len(conformanceTrace), dec.Position())
}

func TestDecoderRollback(t *testing.T) {
	buf := syncRun()
	buf = append(buf, 0x02, 0xf3) // Ovf
	buf = append(buf, 0x0d)       // Tip, IPBytesNone

	dec, err := NewDecoder(buf)
	require.NoError(t, err)

	_, err = dec.Next() // Psb
	require.NoError(t, err)

	ovf, err := dec.Next()
	require.NoError(t, err)
	require.Equal(t, KindOvf, ovf.Kind)

	posAfterOvf := dec.Position()
	peeked, err := dec.Next()
	require.NoError(t, err)
	require.Equal(t, KindTip, peeked.Kind)

	dec.Rollback(peeked)
	require.Equal(t, posAfterOvf, dec.Position())

	again, err := dec.Next()
	require.NoError(t, err)
	require.Equal(t, KindTip, again.Kind)
}

func TestDecoderMalformedHeaderByte(t *testing.T) {
	buf := syncRun()
	buf = append(buf, 0x05)

	dec, err := NewDecoder(buf)
	require.NoError(t, err)
	_, err = dec.Next() // Psb
	require.NoError(t, err)

	_, err = dec.Next()
	require.Error(t, err)
	require.True(t, pterr.IsKind(err, pterr.MalformedPacket))
}
