package catalog

import "fmt"

const (
	Game = "Cliffhanger Redux"

	// BaseID is added to native item codes and location indices to form the
	// ids the multiworld server uses.
	BaseID int64 = 6_100_000

	PatchFileEnding = ".apcr"
	// BaseChecksum is the MD5 of the supported base image.
	BaseChecksum = "21f3e98df4780ee1c667b84e57d88675"
)

type Classification uint8

const (
	Filler      Classification = 0
	Progression Classification = 1 << 0
	Useful      Classification = 1 << 1
	Trap        Classification = 1 << 2
)

func (c Classification) IsProgression() bool { return c&Progression != 0 }

// ItemDef is an item the game can draw natively.
type ItemDef struct {
	Code  uint16
	Name  string
	Class Classification
}

// Items are indexed by native code; the order is load-bearing (sprite and
// message tables in the image follow it).
var Items = []ItemDef{
	{0x00, "Missile", Useful},
	{0x01, "Super", Useful},
	{0x02, "PowerBomb", Useful},
	{0x03, "Morph", Progression},
	{0x04, "Springball", Progression},
	{0x05, "Bombs", Progression},
	{0x06, "HiJump", Progression},
	{0x07, "GravitySuit", Progression},
	{0x08, "Varia", Progression},
	{0x09, "Wave", Progression},
	{0x0a, "SpeedBooster", Progression},
	{0x0b, "Spazer", Progression},
	{0x0c, "Ice", Progression},
	{0x0d, "Grapple", Progression},
	{0x0e, "Plasma", Progression},
	{0x0f, "Screw", Progression},
	{0x10, "Charge", Progression},
	{0x11, "SpaceJump", Progression},
	{0x12, "Energy", Useful},
	{0x13, "Reserve", Useful},
	{0x14, "Xray", Progression},
}

// NumItemsWithIcons is the count of items that have native sprites and
// message-box names. Extra item names are stored after them.
var NumItemsWithIcons = len(Items)

var itemByName = func() map[string]ItemDef {
	m := make(map[string]ItemDef, len(Items))
	for _, it := range Items {
		m[it.Name] = it
	}
	return m
}()

func ItemByName(name string) (ItemDef, bool) {
	it, ok := itemByName[name]
	return it, ok
}

// ItemID is the server-side id of a native item.
func ItemID(code uint16) int64 { return BaseID + int64(code) }

// NativeCode strips BaseID from a server-side item id.
func NativeCode(id int64) (uint16, error) {
	c := id - BaseID
	if c < 0 || c >= int64(len(Items)) {
		return 0, fmt.Errorf("item id %d is not a native item", id)
	}
	return uint16(c), nil
}

// LocationID is the server-side id of a location table index.
func LocationID(index int) int64 { return BaseID + int64(index) }

func ItemName(id int64) string {
	if c, err := NativeCode(id); err == nil {
		return Items[c].Name
	}
	return fmt.Sprintf("item %d", id)
}
