// Package snes holds LoROM addressing and image-level helpers shared by the
// symbol table and the patcher.
package snes

import (
	"crypto/md5"
	"encoding/hex"
)

const (
	BankSize         = 0x8000
	copierHeaderSize = 0x200

	// Internal header (LoROM).
	HeaderOffset     = 0x7FC0
	TitleSize        = 0x15
	complementOffset = 0x7FDC
	checksumOffset   = 0x7FDE
)

// LoROMToOffset maps a bus address (bank:offset) to a linear image offset.
// The high bank bit (FastROM mirror) is ignored.
func LoROMToOffset(addr uint32) int {
	bank := (addr >> 16) & 0x7F
	return int(bank)*BankSize + int(addr&0x7FFF)
}

// StripCopierHeader drops a 512-byte copier header if the image carries one.
func StripCopierHeader(b []byte) []byte {
	if len(b)%0x400 == copierHeaderSize {
		return b[copierHeaderSize:]
	}
	return b
}

func MD5Hex(b []byte) string {
	sum := md5.Sum(b)
	return hex.EncodeToString(sum[:])
}

// FixChecksum recomputes the internal header checksum and its complement in place.
// Images too small to hold a header are left untouched.
func FixChecksum(img []byte) {
	if len(img) < checksumOffset+2 {
		return
	}
	img[complementOffset] = 0xFF
	img[complementOffset+1] = 0xFF
	img[checksumOffset] = 0x00
	img[checksumOffset+1] = 0x00

	sum := Checksum(img)
	comp := sum ^ 0xFFFF
	img[complementOffset] = byte(comp)
	img[complementOffset+1] = byte(comp >> 8)
	img[checksumOffset] = byte(sum)
	img[checksumOffset+1] = byte(sum >> 8)
}

// Checksum sums the image the way the console header expects: the largest
// power-of-two prefix once, then the remainder mirrored up to that size.
func Checksum(img []byte) uint16 {
	base := 1
	for base*2 <= len(img) {
		base *= 2
	}
	if len(img) == 0 {
		return 0
	}
	var sum uint32
	for _, b := range img[:base] {
		sum += uint32(b)
	}
	rest := img[base:]
	if len(rest) > 0 {
		var part uint32
		for _, b := range rest {
			part += uint32(b)
		}
		mirror := 1
		if base%len(rest) == 0 {
			mirror = base / len(rest)
		}
		sum += part * uint32(mirror)
	}
	return uint16(sum)
}
