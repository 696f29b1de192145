package cpuid

import "testing"

func TestErrataUnknownVendorIsAllFalse(t *testing.T) {
	c := CPU{Vendor: VendorUnknown, Family: 0x6, Model: 0x3d}
	e := c.Errata()
	if e != (Errata{}) {
		t.Fatalf("expected zero-value errata for unknown vendor, got %+v", e)
	}
}

func TestErrataKnownSkylakeClient(t *testing.T) {
	// Family 6 model 0x9e covers Kaby Lake / Coffee Lake desktop parts.
	c := CPU{Vendor: VendorIntel, Family: 0x6, Model: 0x9e}
	e := c.Errata()
	if !e.BDM70 || !e.SKD007 || !e.SKD022 || !e.SKD010 || !e.SKL014 || !e.SKL168 {
		t.Fatalf("unexpected errata for family 6 model 0x9e: %+v", e)
	}
	if e.APL11 || e.APL12 || e.SKZ84 || e.BDM64 {
		t.Fatalf("unexpected erratum set for family 6 model 0x9e: %+v", e)
	}
}

func TestErrataUnlistedModel(t *testing.T) {
	c := CPU{Vendor: VendorIntel, Family: 0x6, Model: 0xFF}
	e := c.Errata()
	if e != (Errata{}) {
		t.Fatalf("expected no errata for unlisted model, got %+v", e)
	}
}

func TestErrataFamily13Model1(t *testing.T) {
	c := CPU{Vendor: VendorIntel, Family: 0x13, Model: 0x01}
	e := c.Errata()
	if !e.BDM70 || !e.SKD022 || !e.SKZ84 {
		t.Fatalf("unexpected errata for family 0x13 model 1: %+v", e)
	}
}
