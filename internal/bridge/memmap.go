package bridge

// Bus addresses as seen through the memory transport.
const (
	ROMStart  uint32 = 0x000000
	WRAMStart uint32 = 0xF50000
	SRAMStart uint32 = 0xE00000

	ROMNameAddr uint32 = ROMStart + 0x7FC0
	ROMNameSize        = 0x15

	GameModeAddr uint32 = WRAMStart + 0x0998
	HealthAddr   uint32 = WRAMStart + 0x09C2
	DamageAddr   uint32 = WRAMStart + 0x0A50

	// RECV and SEND are named from the game's side: the bridge writes the
	// receive queue and reads the send queue.
	RecvQueueStart  uint32 = SRAMStart + 0x2000
	RecvQueueWCount uint32 = SRAMStart + 0x2602
	SendQueueStart  uint32 = SRAMStart + 0x2700
	SendQueueRCount uint32 = SRAMStart + 0x2680
	SendQueueWCount uint32 = SRAMStart + 0x2682

	SendRecordSize = 8
	RecvRecordSize = 4

	// MaxPlayerID is the largest player id the receive record can carry.
	MaxPlayerID = 65535
)

var (
	endingModes = map[byte]bool{0x26: true, 0x27: true}
	deathModes  = map[byte]bool{0x13: true, 0x14: true, 0x15: true, 0x16: true, 0x17: true, 0x18: true, 0x19: true, 0x1A: true}
)

func IsEndingMode(m byte) bool { return endingModes[m] }
func IsDeathMode(m byte) bool  { return deathModes[m] }

func word(b []byte) uint16 { return uint16(b[0]) | uint16(b[1])<<8 }

func wordBytes(w uint16) []byte { return []byte{byte(w), byte(w >> 8)} }
