package snes

import "testing"

func TestLoROMToOffset(t *testing.T) {
	cases := []struct {
		addr uint32
		want int
	}{
		{0x808000, 0x000000},
		{0x80FFFF, 0x007FFF},
		{0x84F000, 0x027000},
		{0x04F000, 0x027000},
		{0xDF8000, 0x2F8000},
	}
	for _, c := range cases {
		if got := LoROMToOffset(c.addr); got != c.want {
			t.Fatalf("LoROMToOffset(%06X)=%X want %X", c.addr, got, c.want)
		}
	}
}

func TestStripCopierHeader(t *testing.T) {
	withHeader := make([]byte, 0x200+0x8000)
	withHeader[0x200] = 0xAA
	got := StripCopierHeader(withHeader)
	if len(got) != 0x8000 || got[0] != 0xAA {
		t.Fatalf("expected header stripped: len=%d first=%02X", len(got), got[0])
	}
	plain := make([]byte, 0x8000)
	if len(StripCopierHeader(plain)) != 0x8000 {
		t.Fatalf("headerless image must be untouched")
	}
}

func TestFixChecksum_ComplementPairs(t *testing.T) {
	img := make([]byte, 0x10000)
	for i := range img {
		img[i] = byte(i * 7)
	}
	FixChecksum(img)
	comp := uint16(img[0x7FDC]) | uint16(img[0x7FDD])<<8
	sum := uint16(img[0x7FDE]) | uint16(img[0x7FDF])<<8
	if comp^sum != 0xFFFF {
		t.Fatalf("checksum %04X and complement %04X do not pair", sum, comp)
	}
	// Re-running must be stable: header bytes always sum to 0x1FE.
	FixChecksum(img)
	if sum2 := uint16(img[0x7FDE]) | uint16(img[0x7FDF])<<8; sum2 != sum {
		t.Fatalf("checksum not stable: %04X then %04X", sum, sum2)
	}
}

func TestChecksum_MirrorsRemainder(t *testing.T) {
	img := make([]byte, 0x30)
	for i := 0x20; i < 0x30; i++ {
		img[i] = 1
	}
	// 0x20 prefix sums to 0, 0x10 remainder mirrored twice.
	if got := Checksum(img); got != 0x20 {
		t.Fatalf("Checksum=%X want 0x20", got)
	}
}

func TestMD5Hex(t *testing.T) {
	if got := MD5Hex(nil); got != "d41d8cd98f00b204e9800998ecf8427e" {
		t.Fatalf("MD5Hex(nil)=%s", got)
	}
}
