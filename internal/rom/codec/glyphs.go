package codec

// FallbackGlyph is rendered for any character the message font lacks (a blank).
const FallbackGlyph uint16 = 0x2C0F

// EdgeGlyph frames the text box edges.
const EdgeGlyph uint16 = 0x000E

var boxBlue = map[rune]uint16{
	'A': 0x2CC0, 'B': 0x2CC1, 'C': 0x2CC2, 'D': 0x2CC3, 'E': 0x2CC4, 'F': 0x2CC5,
	'G': 0x2CC6, 'H': 0x2CC7, 'I': 0x2CC8, 'J': 0x2CC9, 'K': 0x2CCA, 'L': 0x2CCB,
	'M': 0x2CCC, 'N': 0x2CCD, 'O': 0x2CCE, 'P': 0x2CCF, 'Q': 0x2CD0, 'R': 0x2CD1,
	'S': 0x2CD2, 'T': 0x2CD3, 'U': 0x2CD4, 'V': 0x2CD5, 'W': 0x2CD6, 'X': 0x2CD7,
	'Y': 0x2CD8, 'Z': 0x2CD9,

	'0': 0x2C00, '1': 0x2C01, '2': 0x2C02, '3': 0x2C03, '4': 0x2C04,
	'5': 0x2C05, '6': 0x2C06, '7': 0x2C07, '8': 0x2C08, '9': 0x2C09,

	' ':  FallbackGlyph,
	'!':  0x2CDF,
	'?':  0x2CDE,
	'\'': 0x2CDC,
	',':  0xACDC,
	'.':  0x2CDA,
	'-':  0x2CDD,
	'%':  0x2C0A,
	'_':  EdgeGlyph,
}

// Glyph returns the message-box tile word for c.
func Glyph(c rune) uint16 {
	if g, ok := boxBlue[c]; ok {
		return g
	}
	return FallbackGlyph
}
