package ptpacket

import "ptcov/pterr"

// psbPattern is the 16-byte PSB synchronization pattern: eight repetitions
// of the Psb header.
var psbPattern = [16]byte{
	0x02, 0x82, 0x02, 0x82, 0x02, 0x82, 0x02, 0x82,
	0x02, 0x82, 0x02, 0x82, 0x02, 0x82, 0x02, 0x82,
}

// firstPSBPosition locates the synchronization run (eight or more
// consecutive Psb pairs) and returns the offset of the LAST pair in that
// run: the redundant leading repetitions exist only to make the pattern
// recognizable mid-stream, and decoding collapses them to the single Psb
// packet that actually precedes the rest of the preamble.
func firstPSBPosition(buf []byte) (int, bool) {
	for i := 0; i+len(psbPattern) <= len(buf); i++ {
		if !matchesPSB(buf[i : i+len(psbPattern)]) {
			continue
		}
		j := i
		for j+2 <= len(buf) && buf[j] == 0x02 && buf[j+1] == 0x82 {
			j += 2
		}
		return j - 2, true
	}
	return 0, false
}

func matchesPSB(window []byte) bool {
	for i, b := range psbPattern {
		if window[i] != b {
			return false
		}
	}
	return true
}

// Decoder is a cursor over a byte buffer that recognizes one PT packet at
// a time. It never looks ahead past the packet currently being parsed, and
// never buffers output: each call to Next produces exactly one packet (or
// an error) and advances the cursor past it.
type Decoder struct {
	buf     []byte
	pos     int
	lastPsb int
}

// NewDecoder locates the first PSB synchronization pattern in buf and
// positions the cursor on the last Psb pair of that run (see
// firstPSBPosition). It fails SyncFailed if the pattern never appears.
func NewDecoder(buf []byte) (*Decoder, error) {
	sync, ok := firstPSBPosition(buf)
	if !ok {
		return nil, pterr.New(pterr.SyncFailed, 0, "no PSB synchronization pattern in buffer")
	}
	return &Decoder{buf: buf, pos: sync, lastPsb: sync}, nil
}

// Position is the cursor's current byte offset into the buffer.
func (d *Decoder) Position() int { return d.pos }

// Rollback rewinds the cursor by p's encoded size, so the next call to
// Next re-parses and returns p again. Used by the engine's Ovf handler,
// which must peek one packet ahead and, if it turns out not to be the Fup
// it hoped for, hand that packet back to the normal dispatch loop.
func (d *Decoder) Rollback(p Packet) {
	d.pos -= p.Size()
}

// LastSyncPosition is the byte offset of the most recently decoded Psb
// packet's header.
func (d *Decoder) LastSyncPosition() int { return d.lastPsb }

// Next decodes and returns the next packet, advancing the cursor past it.
// Padding and Cbr packets are consumed internally and never surfaced; Next
// loops past them rather than returning them.
func (d *Decoder) Next() (Packet, error) {
	for {
		if d.pos >= len(d.buf) {
			return Packet{}, pterr.New(pterr.Eof, d.pos, "end of buffer")
		}
		b0 := d.buf[d.pos]
		rest := d.buf[d.pos+1:]

		switch {
		case b0 == 0x00:
			d.pos++
			continue
		case b0&0x01 == 0 && b0 >= 0x04:
			p := Packet{Kind: KindTntShort, tntShortRaw: b0, size: 1}
			d.pos++
			return p, nil
		case b0&0x03 == 0x03:
			return d.parseCyc(b0, rest)
		case b0&0x1f == 0x01:
			return d.parseTip(KindTipPgd, b0, rest)
		case b0&0x1f == 0x0d:
			return d.parseTip(KindTip, b0, rest)
		case b0&0x1f == 0x11:
			return d.parseTip(KindTipPge, b0, rest)
		case b0&0x1f == 0x1d:
			return d.parseTip(KindFup, b0, rest)
		case b0 == 0x99:
			return d.parseMode(rest)
		case b0 == 0x02:
			p, skipped, err := d.parse02(rest)
			if skipped {
				continue
			}
			return p, err
		case b0 == 0x19:
			return d.parseTsc(rest)
		case b0 == 0x59:
			return d.parseMtc(rest)
		case b0 == 0xd9:
			return d.parseTrig(rest)
		default:
			return Packet{}, pterr.New(pterr.MalformedPacket, d.pos, "unrecognized header byte")
		}
	}
}

func (d *Decoder) eof() (Packet, error) {
	return Packet{}, pterr.New(pterr.Eof, d.pos, "truncated packet payload")
}

func (d *Decoder) parseTip(kind Kind, b0 byte, rest []byte) (Packet, error) {
	tag, ok := decodeIPBytesTag(b0)
	if !ok {
		return Packet{}, pterr.New(pterr.MalformedPacket, d.pos, "invalid TIP IPBytes tag")
	}
	v, total, ok := parseTipPayload(tag, rest)
	if !ok {
		return d.eof()
	}
	p := Packet{Kind: kind, IPBytes: tag, TargetIP: v, size: total}
	d.pos += total
	return p, nil
}

func (d *Decoder) parseMode(rest []byte) (Packet, error) {
	if len(rest) < 1 {
		return d.eof()
	}
	b1 := rest[0]
	switch {
	case b1&0xe0 == 0x00:
		if b1&0x03 == 0x03 {
			return Packet{}, pterr.New(pterr.MalformedPacket, d.pos, "invalid ModeExec addressing mode")
		}
		var mode AddressingMode
		switch b1 & 0x03 {
		case 0b00:
			mode = AddressingMode16
		case 0b10:
			mode = AddressingMode32
		case 0b01:
			mode = AddressingMode64
		}
		p := Packet{Kind: KindModeExec, AddrMode: mode, IF: b1&0x04 != 0, size: 2}
		d.pos += 2
		return p, nil
	case b1&0xe0 == 0x20:
		var st TransactionState
		switch b1 & 0x03 {
		case 0b00:
			st = TransactionCommit
		case 0b01:
			st = TransactionBegin
		case 0b10:
			st = TransactionAbort
		default:
			return Packet{}, pterr.New(pterr.MalformedPacket, d.pos, "invalid ModeTsx transaction state")
		}
		p := Packet{Kind: KindModeTsx, TxState: st, size: 2}
		d.pos += 2
		return p, nil
	default:
		return Packet{}, pterr.New(pterr.MalformedPacket, d.pos, "unrecognized Mode packet")
	}
}

// parse02 handles every packet whose header byte is 0x02. skipped is true
// when the packet (Cbr) carries no payload of interest and the caller
// should loop for the next one instead of returning.
func (d *Decoder) parse02(rest []byte) (p Packet, skipped bool, err error) {
	if len(rest) < 1 {
		p, err = d.eof()
		return
	}
	b1 := rest[0]
	switch {
	case b1 == 0x23:
		d.pos += 2
		return Packet{Kind: KindPsbEnd, size: 2}, false, nil
	case b1 == 0xf3:
		d.pos += 2
		return Packet{Kind: KindOvf, size: 2}, false, nil
	case b1 == 0x83:
		d.pos += 2
		return Packet{Kind: KindTraceStop, size: 2}, false, nil
	case b1 == 0x82:
		d.lastPsb = d.pos
		d.pos += 2
		return Packet{Kind: KindPsb, size: 2}, false, nil
	case b1 == 0x03:
		if len(rest) < 3 {
			p, err = d.eof()
			return
		}
		d.pos += 4
		return Packet{}, true, nil
	case b1 == 0xc8:
		if len(rest) < 6 {
			p, err = d.eof()
			return
		}
		var raw [5]byte
		copy(raw[:], rest[1:6])
		d.pos += 7
		return Packet{Kind: KindVmcs, VmcsRaw: raw, size: 7}, false, nil
	case b1 == 0x43:
		if len(rest) < 7 {
			p, err = d.eof()
			return
		}
		var raw [6]byte
		copy(raw[:], rest[1:7])
		d.pos += 8
		return Packet{Kind: KindPip, PipRaw: raw, size: 8}, false, nil
	case b1 == 0xa3:
		if len(rest) < 7 {
			p, err = d.eof()
			return
		}
		var raw [6]byte
		copy(raw[:], rest[1:7])
		if raw == ([6]byte{}) {
			p, err = Packet{}, pterr.New(pterr.MalformedPacket, d.pos, "all-zero TntLong payload")
			return
		}
		d.pos += 8
		return Packet{Kind: KindTntLong, tntLongRaw: raw, size: 8}, false, nil
	case b1 == 0x73:
		if len(rest) < 6 {
			p, err = d.eof()
			return
		}
		payload := rest[1:6]
		if payload[2]&0x01 != 0 {
			p, err = Packet{}, pterr.New(pterr.MalformedPacket, d.pos, "invalid Tma reserved bit")
			return
		}
		ctc := uint16(payload[0]) | uint16(payload[1])<<8
		fastCounter := uint16(payload[3]) | uint16(payload[4]&0x01)<<8
		d.pos += 7
		return Packet{Kind: KindTma, TmaCTC: ctc, TmaFastCounter: fastCounter, size: 7}, false, nil
	case b1 == 0xc2:
		if len(rest) < 5 {
			p, err = d.eof()
			return
		}
		d.pos += 6
		return Packet{Kind: KindMwait, size: 6}, false, nil
	case b1 == 0x22:
		if len(rest) < 3 {
			p, err = d.eof()
			return
		}
		d.pos += 4
		return Packet{Kind: KindPwre, size: 4}, false, nil
	case b1 == 0xa2:
		if len(rest) < 5 {
			p, err = d.eof()
			return
		}
		d.pos += 6
		return Packet{Kind: KindPwrx, size: 6}, false, nil
	case b1 == 0x13:
		if len(rest) < 3 {
			p, err = d.eof()
			return
		}
		d.pos += 4
		return Packet{Kind: KindCfe, size: 4}, false, nil
	case b1 == 0x53:
		if len(rest) < 10 {
			p, err = d.eof()
			return
		}
		d.pos += 11
		return Packet{Kind: KindEvd, size: 11}, false, nil
	case b1&0x1f == 0x12:
		return d.parsePtw(b1, rest[1:])
	case b1 == 0x33 || b1 == 0xb3:
		d.pos += 2
		return Packet{Kind: KindBep, size: 2}, false, nil
	case b1 == 0x63:
		if len(rest) < 2 {
			p, err = d.eof()
			return
		}
		d.pos += 3
		return Packet{Kind: KindBbp, size: 3}, false, nil
	case b1 == 0x62 || b1 == 0xe2:
		d.pos += 2
		return Packet{Kind: KindExstop, size: 2}, false, nil
	case b1 == 0xc3:
		if len(rest) < 10 || rest[1] != 0x88 {
			p, err = Packet{}, pterr.New(pterr.MalformedPacket, d.pos, "malformed Mnt packet")
			return
		}
		var raw [8]byte
		copy(raw[:], rest[2:10])
		d.pos += 11
		return Packet{Kind: KindMnt, MntRaw: raw, size: 11}, false, nil
	default:
		p, err = Packet{}, pterr.New(pterr.MalformedPacket, d.pos, "unrecognized 0x02-family packet")
		return
	}
}

// parsePtw decodes a PTW packet. Its payload width is carried in the PLC
// field (bits 5-6 of the header's second byte): 0 selects a 4-byte
// payload, 1 an 8-byte payload; other encodings are reserved.
func (d *Decoder) parsePtw(b1 byte, payload []byte) (Packet, bool, error) {
	plc := (b1 >> 5) & 0x03
	var n int
	switch plc {
	case 0:
		n = 4
	case 1:
		n = 8
	default:
		return Packet{}, false, pterr.New(pterr.MalformedPacket, d.pos, "reserved PTW payload width")
	}
	if len(payload) < n {
		return d.eof2()
	}
	total := 2 + n
	d.pos += total
	return Packet{Kind: KindPtw, size: total}, false, nil
}

func (d *Decoder) eof2() (Packet, bool, error) {
	p, err := d.eof()
	return p, false, err
}

func (d *Decoder) parseTsc(rest []byte) (Packet, error) {
	if len(rest) < 7 {
		return d.eof()
	}
	var raw [7]byte
	copy(raw[:], rest[:7])
	d.pos += 8
	return Packet{Kind: KindTsc, TscRaw: raw, size: 8}, nil
}

func (d *Decoder) parseMtc(rest []byte) (Packet, error) {
	if len(rest) < 1 {
		return d.eof()
	}
	p := Packet{Kind: KindMtc, MtcRaw: rest[0], size: 2}
	d.pos += 2
	return p, nil
}

func (d *Decoder) parseTrig(rest []byte) (Packet, error) {
	if len(rest) < 2 {
		return d.eof()
	}
	var raw [2]byte
	copy(raw[:], rest[:2])
	d.pos += 3
	return Packet{Kind: KindTrig, TrigRaw: raw, size: 3}, nil
}

// parseCyc decodes a Cyc packet: a variable-length value encoded across up
// to 15 bytes total. Bit 2 of the header byte says whether extension bytes
// follow; each extension byte's bit 0 is its continuation bit, and the
// packet ends at the first extension byte whose bit 0 is clear.
func (d *Decoder) parseCyc(b0 byte, rest []byte) (Packet, error) {
	raw := []byte{b0}
	if b0&0x04 == 0 {
		d.pos += 1
		return Packet{Kind: KindCyc, CycRaw: raw, size: 1}, nil
	}
	for i := 0; i < len(rest) && len(raw) < 15; i++ {
		b := rest[i]
		raw = append(raw, b)
		if b&0x01 == 0 {
			d.pos += len(raw)
			return Packet{Kind: KindCyc, CycRaw: raw, size: len(raw)}, nil
		}
	}
	return d.eof()
}
