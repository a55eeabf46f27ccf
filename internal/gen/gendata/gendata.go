// Package gendata is the generation-time payload handed to the patcher.
//
// The payload is produced once per seed and player, stored as rom_data.json
// inside the patch container, and must decode back to exactly what was
// encoded.
package gendata

import (
	_ "embed"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"sort"
	"strings"

	"github.com/santhosh-tekuri/jsonschema/v5"

	"cliffredux.ai/internal/gen/tables"
	"cliffredux.ai/internal/rom/codec"
)

//go:embed schema/gendata.schema.json
var schemaJSON string

var schema = jsonschema.MustCompileString("gendata.schema.json", schemaJSON)

const IdentityTagSize = 21

type Category string

const (
	Hidden Category = "hidden"
	Chozo  Category = "chozo"
	Normal Category = "normal"
)

// LocationRecord is a location in the base game. Address is the image offset
// of its item marker; AltAddresses mirror it, terminated by 0.
type LocationRecord struct {
	Index        int      `json:"index"`
	Address      int      `json:"locationid"`
	Category     Category `json:"hiddenness"`
	AltAddresses []int    `json:"altlocationids"`
}

// Alternates returns the mirrored addresses up to the 0 terminator.
func (l LocationRecord) Alternates() []int {
	for i, a := range l.AltAddresses {
		if a == 0 {
			return l.AltAddresses[:i]
		}
	}
	return l.AltAddresses
}

type Game struct {
	Seed      int64                     `json:"seed"`
	Locations map[string]LocationRecord `json:"all_locations"`
}

// LocationNames returns location names in a stable order.
func (g Game) LocationNames() []string {
	out := make([]string, 0, len(g.Locations))
	for k := range g.Locations {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}

type Options struct {
	RemoteItems bool `json:"remote_items"`
	DeathLink   bool `json:"death_link"`
}

type GenData struct {
	ItemRomData   tables.Result  `json:"item_rom_data"`
	Game          Game           `json:"cr_game"`
	Player        int            `json:"player"`
	GameNameInROM codec.ByteList `json:"game_name_in_rom"`
	Options       Options        `json:"options"`
}

func Encode(g GenData) ([]byte, error) {
	if len(g.GameNameInROM) != IdentityTagSize {
		return nil, fmt.Errorf("game name in rom: %d bytes, want %d", len(g.GameNameInROM), IdentityTagSize)
	}
	raw, err := json.Marshal(canonical(g))
	if err != nil {
		return nil, fmt.Errorf("encode gen data: %w", err)
	}
	if err := validate(raw); err != nil {
		return nil, err
	}
	return raw, nil
}

func validate(raw []byte) error {
	var doc any
	if err := json.Unmarshal(raw, &doc); err != nil {
		return fmt.Errorf("parse gen data: %w", err)
	}
	if err := schema.Validate(doc); err != nil {
		return fmt.Errorf("validate gen data: %w", err)
	}
	return nil
}

// canonical replaces nil slices and maps with empty ones, which is the form
// Decode produces and the schema accepts.
func canonical(g GenData) GenData {
	locs := make(map[string]LocationRecord, len(g.Game.Locations))
	for name, l := range g.Game.Locations {
		if l.AltAddresses == nil {
			l.AltAddresses = []int{}
		}
		locs[name] = l
	}
	g.Game.Locations = locs

	r := &g.ItemRomData
	if r.ExtraNames == nil {
		r.ExtraNames = make([][codec.ItemNameBlockSize]byte, 0)
	}
	if r.Table == nil {
		r.Table = map[int]tables.Entry{}
	}
	if r.PlayerNames == nil {
		r.PlayerNames = []byte{}
	}
	if r.PlayerIDs == nil {
		r.PlayerIDs = []int{}
	}
	return g
}

func Decode(b []byte) (GenData, error) {
	if err := validate(b); err != nil {
		return GenData{}, err
	}
	var g GenData
	if err := json.Unmarshal(b, &g); err != nil {
		return GenData{}, fmt.Errorf("decode gen data: %w", err)
	}
	return g, nil
}

// IdentityTag builds the 21-byte name written at the image title: "CR", three
// version digits, then _player_seed, cut or space padded to fit.
func IdentityTag(version string, player int, seed int64) []byte {
	digits := strings.ReplaceAll(version, ".", "")
	if len(digits) > 3 {
		digits = digits[:3]
	}
	s := fmt.Sprintf("CR%s_%d_%11d", digits, player, seed)
	out := []byte(strings.Repeat(" ", IdentityTagSize))
	copy(out, s)
	return out
}

// ConnectName is the alternate slot name a client may connect with.
func ConnectName(tag []byte) string {
	return base64.StdEncoding.EncodeToString(tag)
}

// ValidTag reports whether b looks like an identity tag this game wrote.
func ValidTag(b []byte) bool {
	return len(b) == IdentityTagSize && b[0] == 'C' && b[1] == 'R' && b[2] >= '0' && b[2] <= '9'
}
