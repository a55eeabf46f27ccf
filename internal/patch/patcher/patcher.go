// Package patcher turns a base image plus a seed's gen data into a playable image.
//
// Every step overwrites whole byte ranges at symbol-resolved offsets. Any
// failure aborts the build; there is no partial output.
package patcher

import (
	"errors"
	"fmt"
	"log"
	"os"
	"path/filepath"

	"cliffredux.ai/internal/gen/catalog"
	"cliffredux.ai/internal/gen/gendata"
	"cliffredux.ai/internal/rom/codec"
	"cliffredux.ai/internal/rom/ips"
	"cliffredux.ai/internal/rom/snes"
	"cliffredux.ai/internal/rom/symbols"
)

var (
	ErrChecksumMismatch = errors.New("base image checksum mismatch")
	ErrMissingSprite    = errors.New("missing sprite resource")
)

// Symbols the patcher writes through.
const (
	SymItemTable       = "rando_item_table"
	SymItemNames       = "message_item_names"
	SymPlayerNameTable = "rando_player_name_table"
	SymPlayerIDTable   = "rando_player_id_table"
	SymRemoteItems     = "config_remote_items"
	SymPlayerID        = "config_player_id"
	SymDeathLink       = "config_deathlink"
)

// Item markers drawn for off-world items, by location category.
var (
	markerNormal = [2]byte{0x70, 0xF8}
	markerChozo  = [2]byte{0x74, 0xF8}
	markerHidden = [2]byte{0x78, 0xF8}
)

const (
	markerAmmoOffset = 5

	paletteSize  = 8
	graphicsSize = 256
	SpriteSize   = paletteSize + graphicsSize
)

// SpriteSlot is one off-world item sprite: a resource file whose first 8
// bytes are palette indices and next 256 bytes tile graphics.
type SpriteSlot struct {
	File     string
	Palette  string
	Graphics string
}

var SpriteSlots = []SpriteSlot{
	{File: "off_world_prog_item.bin", Palette: "prog_item_eight_palette_indices", Graphics: "offworld_graphics_data_progression_item"},
	{File: "off_world_item.bin", Palette: "nonprog_item_eight_palette_indices", Graphics: "offworld_graphics_data_item"},
}

// Resources are the static, seed-independent inputs.
type Resources struct {
	Symbols *symbols.Table
	Delta   []byte            // IPS patch applied to every image
	Sprites map[string][]byte // keyed by SpriteSlot.File
}

// LoadResources reads the symbol map, the delta patch and the sprite files.
func LoadResources(symbolsPath, deltaPath, spriteDir string) (Resources, error) {
	tbl, err := symbols.Load(symbolsPath)
	if err != nil {
		return Resources{}, err
	}
	delta, err := os.ReadFile(deltaPath)
	if err != nil {
		return Resources{}, fmt.Errorf("read delta patch: %w", err)
	}
	sprites := make(map[string][]byte, len(SpriteSlots))
	for _, s := range SpriteSlots {
		b, err := os.ReadFile(filepath.Join(spriteDir, s.File))
		if err != nil {
			return Resources{}, fmt.Errorf("%w: %s: %v", ErrMissingSprite, s.File, err)
		}
		sprites[s.File] = b
	}
	return Resources{Symbols: tbl, Delta: delta, Sprites: sprites}, nil
}

type Patcher struct {
	res    Resources
	strict bool
	logger *log.Logger
}

// New returns a patcher. With strict set a base checksum mismatch is fatal;
// otherwise it is logged and patching continues.
func New(res Resources, strict bool, logger *log.Logger) *Patcher {
	if logger == nil {
		logger = log.Default()
	}
	return &Patcher{res: res, strict: strict, logger: logger}
}

func (p *Patcher) Patch(base []byte, gd gendata.GenData) ([]byte, error) {
	if p.res.Symbols == nil {
		return nil, fmt.Errorf("%w: no symbol table", symbols.ErrMissingSymbol)
	}
	base = snes.StripCopierHeader(base)
	if sum := snes.MD5Hex(base); sum != catalog.BaseChecksum {
		if p.strict {
			return nil, fmt.Errorf("%w: got %s want %s", ErrChecksumMismatch, sum, catalog.BaseChecksum)
		}
		p.logger.Printf("warning: base image md5 %s does not match %s; continuing", sum, catalog.BaseChecksum)
	}

	img, err := ips.Apply(base, p.res.Delta)
	if err != nil {
		return nil, fmt.Errorf("apply delta patch: %w", err)
	}
	w := &writer{img: img, sym: p.res.Symbols}

	steps := []struct {
		name string
		fn   func(*writer, gendata.GenData) error
	}{
		{"sprites", p.writeSprites},
		{"tables", writeTables},
		{"markers", writeMarkers},
		{"config", writeConfig},
	}
	for _, s := range steps {
		if err := s.fn(w, gd); err != nil {
			return nil, fmt.Errorf("%s: %w", s.name, err)
		}
	}
	snes.FixChecksum(w.img)
	return w.img, nil
}

// WriteImage stores img at path through a temporary file and a rename, so a
// failed write never leaves a truncated image under the final name.
func WriteImage(path string, img []byte) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, img, 0o644); err != nil {
		_ = os.Remove(tmp)
		return err
	}
	if err := os.Rename(tmp, path); err != nil {
		_ = os.Remove(tmp)
		return err
	}
	return nil
}

func (p *Patcher) writeSprites(w *writer, _ gendata.GenData) error {
	for _, s := range SpriteSlots {
		data := p.res.Sprites[s.File]
		if len(data) < SpriteSize {
			return fmt.Errorf("%w: %s has %d bytes, want %d", ErrMissingSprite, s.File, len(data), SpriteSize)
		}
		if err := w.putSym(s.Palette, 0, data[:paletteSize]); err != nil {
			return err
		}
		if err := w.putSym(s.Graphics, 0, data[paletteSize:SpriteSize]); err != nil {
			return err
		}
	}
	return nil
}

func writeTables(w *writer, gd gendata.GenData) error {
	r := gd.ItemRomData

	names := make([]byte, 0, len(r.ExtraNames)*codec.ItemNameBlockSize)
	for _, n := range r.ExtraNames {
		names = append(names, n[:]...)
	}
	if err := w.putSym(SymItemNames, codec.ItemNameBlockSize*catalog.NumItemsWithIcons, names); err != nil {
		return err
	}

	for _, idx := range r.SortedIndices() {
		b := r.Table[idx].Bytes()
		if err := w.putSym(SymItemTable, idx*len(b), b[:]); err != nil {
			return err
		}
	}

	if err := w.putSym(SymPlayerNameTable, 0, r.PlayerNames); err != nil {
		return err
	}

	ids := make([]byte, 0, 2*len(r.PlayerIDs))
	for _, id := range r.PlayerIDs {
		ids = codec.AppendWord(ids, uint16(id))
	}
	return w.putSym(SymPlayerIDTable, 0, ids)
}

func marker(c gendata.Category) [2]byte {
	switch c {
	case gendata.Hidden:
		return markerHidden
	case gendata.Chozo:
		return markerChozo
	default:
		return markerNormal
	}
}

func writeMarkers(w *writer, gd gendata.GenData) error {
	for _, name := range gd.Game.LocationNames() {
		loc := gd.Game.Locations[name]
		m := marker(loc.Category)
		addrs := append([]int{loc.Address}, loc.Alternates()...)
		for _, a := range addrs {
			if err := w.put(a, m[:]); err != nil {
				return fmt.Errorf("location %q: %w", name, err)
			}
			if err := w.put(a+markerAmmoOffset, []byte{0}); err != nil {
				return fmt.Errorf("location %q: %w", name, err)
			}
		}
	}
	return nil
}

// RemoteItemsByte is the items-handling flag set the image reports: remote
// delivery of other worlds' items and starting inventory always, own items
// only when remote items is on.
func RemoteItemsByte(remote bool) byte {
	v := byte(0b101)
	if remote {
		v |= 0b010
	}
	return v
}

func DeathLinkByte(enabled bool) byte {
	if enabled {
		return 1
	}
	return 0
}

func writeConfig(w *writer, gd gendata.GenData) error {
	if err := w.putSym(SymRemoteItems, 0, []byte{RemoteItemsByte(gd.Options.RemoteItems)}); err != nil {
		return err
	}
	if err := w.putSym(SymDeathLink, 0, []byte{DeathLinkByte(gd.Options.DeathLink)}); err != nil {
		return err
	}
	var pid [2]byte
	codec.PutWord(pid[:], uint16(gd.Player))
	if err := w.putSym(SymPlayerID, 0, pid[:]); err != nil {
		return err
	}
	if len(gd.GameNameInROM) != snes.TitleSize {
		return fmt.Errorf("identity tag: %d bytes, want %d", len(gd.GameNameInROM), snes.TitleSize)
	}
	return w.put(snes.HeaderOffset, gd.GameNameInROM)
}

type writer struct {
	img []byte
	sym *symbols.Table
}

func (w *writer) put(off int, data []byte) error {
	if off < 0 || off+len(data) > len(w.img) {
		return fmt.Errorf("write of %d bytes at 0x%X past image end 0x%X", len(data), off, len(w.img))
	}
	copy(w.img[off:], data)
	return nil
}

func (w *writer) putSym(name string, delta int, data []byte) error {
	off, err := w.sym.Resolve(name)
	if err != nil {
		return err
	}
	return w.put(off+delta, data)
}
