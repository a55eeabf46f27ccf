/*
Package codec implements the fixed-layout byte encodings shared by the table
builder, the patcher and the bridge.

Multi-byte fields are little-endian 16-bit words. Item names are rendered by
the game's message box and are stored as 32 glyph words (64 bytes): up to 26
visible characters centered between two runs of three edge glyphs. Player
names are plain upper-case ASCII, 16 bytes each, centered.
*/
package codec

import (
	"strings"
	"unicode"

	"golang.org/x/text/runes"
	"golang.org/x/text/transform"
)

const (
	ItemNameChars     = 32
	ItemNameBlockSize = ItemNameChars * 2
	itemNameVisible   = 26
	edgeGlyphs        = "___"

	PlayerNameSize = 16
)

// ServerPlayerName is the name block for player 0.
var ServerPlayerName = [PlayerNameSize]byte{' ', ' ', 'A', 'r', 'c', 'h', 'i', 'p', 'e', 'l', 'a', 'g', 'o', ' ', ' ', ' '}

func PutWord(b []byte, w uint16) {
	b[0] = byte(w)
	b[1] = byte(w >> 8)
}

func Word(b []byte) uint16 {
	return uint16(b[0]) | uint16(b[1])<<8
}

func AppendWord(b []byte, w uint16) []byte {
	return append(b, byte(w), byte(w>>8))
}

// ItemNameBlock encodes an item name for the message box table.
func ItemNameBlock(name string) [ItemNameBlockSize]byte {
	r := []rune(strings.ToUpper(name))
	if len(r) > itemNameVisible {
		r = r[:itemNameVisible]
	}
	r = []rune(strings.TrimSpace(string(r)))
	r = centerRunes(r, itemNameVisible)
	r = append(append([]rune(edgeGlyphs), r...), []rune(edgeGlyphs)...)

	var out [ItemNameBlockSize]byte
	for i, c := range r {
		PutWord(out[i*2:], Glyph(c))
	}
	return out
}

// PlayerNameBlock encodes a player name for the player name table.
func PlayerNameBlock(name string) [PlayerNameSize]byte {
	ascii, _, err := transform.String(runes.Remove(runes.Predicate(func(r rune) bool {
		return r > unicode.MaxASCII
	})), strings.ToUpper(name))
	if err != nil {
		ascii = ""
	}
	b := []byte(ascii)
	if len(b) > PlayerNameSize {
		b = b[:PlayerNameSize]
	}
	var out [PlayerNameSize]byte
	copy(out[:], centerBytes(b, PlayerNameSize))
	return out
}

// centerRunes pads like Python's str.center: when the margin is odd the
// extra fill goes left only if both margin and width are odd.
func centerRunes(r []rune, width int) []rune {
	marg := width - len(r)
	if marg <= 0 {
		return r
	}
	left := marg/2 + (marg & width & 1)
	out := make([]rune, 0, width)
	for i := 0; i < left; i++ {
		out = append(out, ' ')
	}
	out = append(out, r...)
	for len(out) < width {
		out = append(out, ' ')
	}
	return out
}

func centerBytes(b []byte, width int) []byte {
	marg := width - len(b)
	if marg <= 0 {
		return b
	}
	left := marg/2 + (marg & width & 1)
	out := make([]byte, 0, width)
	for i := 0; i < left; i++ {
		out = append(out, ' ')
	}
	out = append(out, b...)
	for len(out) < width {
		out = append(out, ' ')
	}
	return out
}
