// Package session reads a finished multiworld fill from YAML and turns it
// into the per-player payload and container manifest.
//
// Fill itself happens elsewhere; a session file only lists where every item
// ended up.
package session

import (
	"errors"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"

	"cliffredux.ai/internal/gen/catalog"
	"cliffredux.ai/internal/gen/gendata"
	"cliffredux.ai/internal/gen/tables"
	"cliffredux.ai/internal/patch/container"
)

// DefaultVersion goes into the identity tag when the file names none.
const DefaultVersion = "0.1.0"

type Session struct {
	Seed      int64          `yaml:"seed"`
	Version   string         `yaml:"version"`
	Players   map[int]string `yaml:"players"`
	Options   Options        `yaml:"options"`
	Locations []Location     `yaml:"locations"`
}

type Options struct {
	RemoteItems bool `yaml:"remote_items"`
	DeathLink   bool `yaml:"death_link"`
}

// Location is one filled location. Address, Category and Alternates are only
// read for this game's locations.
type Location struct {
	Player     int              `yaml:"player"`
	Index      int              `yaml:"index"`
	Name       string           `yaml:"name"`
	Address    int              `yaml:"address"`
	Category   gendata.Category `yaml:"category"`
	Alternates []int            `yaml:"alternates"`
	Item       *Item            `yaml:"item"`
}

type Item struct {
	Name   string `yaml:"name"`
	Game   string `yaml:"game"`
	Player int    `yaml:"player"`
	// Code defaults to the catalog id for this game's items.
	Code int64 `yaml:"code"`
	// Progression defaults to the catalog classification for this game's items.
	Progression *bool `yaml:"progression"`
}

func Load(path string) (Session, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return Session{}, err
	}
	return Parse(b)
}

func Parse(b []byte) (Session, error) {
	var s Session
	if err := yaml.Unmarshal(b, &s); err != nil {
		return Session{}, fmt.Errorf("session: %w", err)
	}
	s.normalize()
	if err := s.Validate(); err != nil {
		return Session{}, fmt.Errorf("session: %w", err)
	}
	return s, nil
}

func (s *Session) normalize() {
	if s.Version == "" {
		s.Version = DefaultVersion
	}
	for i := range s.Locations {
		l := &s.Locations[i]
		if l.Category == "" {
			l.Category = gendata.Normal
		}
		if l.Name == "" {
			l.Name = fmt.Sprintf("Location %d", l.Index)
		}
		if it := l.Item; it != nil {
			if it.Game == "" {
				it.Game = catalog.Game
			}
			if it.Game == catalog.Game {
				if def, ok := catalog.ItemByName(it.Name); ok {
					if it.Code == 0 {
						it.Code = catalog.ItemID(def.Code)
					}
					if it.Progression == nil {
						p := def.Class.IsProgression()
						it.Progression = &p
					}
				}
			}
		}
	}
}

func (s Session) Validate() error {
	var errs []error
	if len(s.Players) == 0 {
		errs = append(errs, errors.New("no players"))
	}
	for id, name := range s.Players {
		if id <= 0 || id > 65535 {
			errs = append(errs, fmt.Errorf("player id %d out of range", id))
		}
		if strings.TrimSpace(name) == "" {
			errs = append(errs, fmt.Errorf("player %d has no name", id))
		}
	}
	seen := map[[2]int]bool{}
	for _, l := range s.Locations {
		if _, ok := s.Players[l.Player]; !ok {
			errs = append(errs, fmt.Errorf("location %q: unknown player %d", l.Name, l.Player))
		}
		key := [2]int{l.Player, l.Index}
		if seen[key] {
			errs = append(errs, fmt.Errorf("location %q: duplicate index %d for player %d", l.Name, l.Index, l.Player))
		}
		seen[key] = true
		switch l.Category {
		case gendata.Normal, gendata.Chozo, gendata.Hidden:
		default:
			errs = append(errs, fmt.Errorf("location %q: unknown category %q", l.Name, l.Category))
		}
		if l.Item != nil {
			if _, ok := s.Players[l.Item.Player]; !ok {
				errs = append(errs, fmt.Errorf("location %q: item owner %d is not a player", l.Name, l.Item.Player))
			}
		}
	}
	return errors.Join(errs...)
}

// Output is everything written for one player.
type Output struct {
	GenData  gendata.GenData
	Manifest container.Manifest
	// Dropped counts player ids cut from a full player table.
	Dropped int
}

// FileName is the container name for o: AP_<seed>_P<player>_<name>.apcr.
func (o Output) FileName() string {
	return fmt.Sprintf("AP_%d_P%d_%s%s", o.GenData.Game.Seed, o.Manifest.Player, safeName(o.Manifest.PlayerName), catalog.PatchFileEnding)
}

// Build produces the payload for player. Only locations owned by player
// need an address; every location contributes to the player table.
func (s Session) Build(player int, logger *log.Logger) (Output, error) {
	name, ok := s.Players[player]
	if !ok {
		return Output{}, fmt.Errorf("unknown player %d", player)
	}
	b := tables.NewBuilder(player, s.Players, logger)
	records := map[string]gendata.LocationRecord{}
	for _, l := range s.Locations {
		loc := tables.Location{Player: l.Player, Index: l.Index}
		if it := l.Item; it != nil {
			loc.Item = &tables.Item{
				Name:        it.Name,
				Code:        it.Code,
				Player:      it.Player,
				Game:        it.Game,
				Progression: it.Progression != nil && *it.Progression,
			}
		}
		if err := b.Register(loc); err != nil {
			return Output{}, fmt.Errorf("%s: %w", l.Name, err)
		}
		if l.Player == player {
			alts := l.Alternates
			if alts == nil {
				alts = []int{}
			}
			records[l.Name] = gendata.LocationRecord{
				Index:        l.Index,
				Address:      l.Address,
				Category:     l.Category,
				AltAddresses: alts,
			}
		}
	}
	res, err := b.Build()
	if err != nil {
		return Output{}, err
	}
	gd := gendata.GenData{
		ItemRomData:   res,
		Game:          gendata.Game{Seed: s.Seed, Locations: records},
		Player:        player,
		GameNameInROM: gendata.IdentityTag(s.Version, player, s.Seed),
		Options:       gendata.Options{RemoteItems: s.Options.RemoteItems, DeathLink: s.Options.DeathLink},
	}
	m := container.Manifest{
		Game:            catalog.Game,
		Player:          player,
		PlayerName:      name,
		BaseChecksum:    catalog.BaseChecksum,
		PatchFileEnding: catalog.PatchFileEnding,
	}
	return Output{GenData: gd, Manifest: m, Dropped: b.Dropped()}, nil
}

// Write encodes o and stores it as a container under dir.
func (o Output) Write(dir string) (string, error) {
	payload, err := gendata.Encode(o.GenData)
	if err != nil {
		return "", err
	}
	path := filepath.Join(dir, o.FileName())
	if err := container.Write(path, o.Manifest, payload); err != nil {
		return "", err
	}
	return path, nil
}

func safeName(s string) string {
	return strings.Map(func(r rune) rune {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '-', r == '_':
			return r
		}
		return '_'
	}, s)
}
