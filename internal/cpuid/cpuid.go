// Package cpuid provides the CPU descriptor and errata lookup the engine
// consults for a handful of known Intel Processor Trace quirks.
package cpuid

// Vendor identifies the CPU vendor. Only Intel is a supported PT source;
// the type stays open-ended (not a bool) so a future AMD PT variant has
// somewhere to go.
type Vendor int

const (
	VendorUnknown Vendor = iota
	VendorIntel
)

// CPU identifies a processor by vendor/family/model/stepping, the same
// granularity CPUID reports and the same granularity the Intel erratum
// documents use.
type CPU struct {
	Vendor   Vendor
	Family   uint16
	Model    uint8
	Stepping uint8
}

// Errata holds the boolean workaround flags derived from a CPU's
// vendor/family/model. Only BDM70 is consulted by the reconstruction engine
// today (in PSB+ recovery, as an advisory for out-of-place FUP/MODE.Exec
// packets); the rest are carried for forward compatibility, exactly as the
// source table does.
type Errata struct {
	// BDM70: Intel Processor Trace PSB+ packets may contain unexpected
	// packets. Same as SKD024, SKL021, KBL021. A TIP.PGE packet may be
	// preceded by a PSB+ that incorrectly includes FUP and MODE.Exec
	// packets.
	BDM70 bool

	// BDM64: an incorrect LBR or Processor Trace packet may be recorded
	// following a transactional abort immediately after a branch.
	BDM64 bool

	// SKD007: Processor Trace buffer overflow may result in incorrect
	// packets; an OVF may be issued after the first byte of a multi-byte
	// CYC packet instead of after its remaining bytes.
	SKD007 bool

	// SKD022: a VM entry that clears TraceEn while PacketEn is 1 may
	// generate a FUP preceding the TIP.PGD.
	SKD022 bool

	// SKD010: some OVF packets may not be followed by a FUP or TIP.PGE.
	SKD010 bool

	// SKL014: a TIP.PGD resulting from a direct unconditional branch
	// clearing FilterEn may lack its target-IP payload.
	SKL014 bool

	// APL12: an OVF outside a TIP.PGE/TIP.PGD pair may be unexpectedly
	// followed by a FUP.
	APL12 bool

	// APL11: an OVF from an internal buffer overflow coinciding with
	// TraceEn or ContextEn clearing may be followed by a TIP.PGD.
	APL11 bool

	// SKL168: PSB generation can cause a single CYC (and its associated
	// MTC) to be dropped.
	SKL168 bool

	// SKZ84: VMX TSC scaling/offsetting corrupts TMA packet fields and
	// the byte that follows them.
	SKZ84 bool
}

// Errata returns the precomputed workaround flags for this CPU, per the
// family/model tables published in the Intel Processor Trace errata notes.
func (c CPU) Errata() Errata {
	var e Errata
	if c.Vendor != VendorIntel {
		return e
	}

	switch c.Family {
	case 0x6:
		switch c.Model {
		case 0x3d, 0x47, 0x4f, 0x56:
			e.BDM70 = true
			e.BDM64 = true
		case 0x4e, 0x5e, 0x8e, 0x9e, 0xa5, 0xa6:
			e.BDM70 = true
			e.SKD007 = true
			e.SKD022 = true
			e.SKD010 = true
			e.SKL014 = true
			e.SKL168 = true
		case 0x55, 0x6a, 0x6c:
			e.BDM70 = true
			e.SKL014 = true
			e.SKD022 = true
			e.SKZ84 = true
		case 0x8f, 0xcf, 0xad, 0xae:
			e.BDM70 = true
			e.SKD022 = true
			e.SKZ84 = true
		case 0x66, 0x7d, 0x7e, 0x8c, 0x8d, 0xa7, 0xa8:
			e.BDM70 = true
			e.SKL014 = true
			e.SKD022 = true
		case 0x97, 0x9a, 0xba, 0xb7, 0xbf, 0xc5, 0xc6, 0xb5, 0xaa, 0xac, 0xbd, 0xcc:
			e.BDM70 = true
			e.SKD022 = true
			e.APL11 = true
		case 0x5c, 0x5f:
			e.APL12 = true
			e.APL11 = true
		case 0x7a, 0x86, 0x96, 0x9c, 0xb6, 0xaf, 0xdd:
			e.APL11 = true
		}
	case 0x13:
		if c.Model == 0x01 {
			e.BDM70 = true
			e.SKD022 = true
			e.SKZ84 = true
		}
	}
	return e
}
