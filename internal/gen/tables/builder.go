package tables

import (
	"errors"
	"fmt"
	"log"
	"sort"

	"cliffredux.ai/internal/gen/catalog"
	"cliffredux.ai/internal/rom/codec"
)

var ErrIncompleteFill = errors.New("location has no item")

// MaxPlayers is the size of the player id and player name tables in the image.
const MaxPlayers = 202

// Item is what fill placed at a location.
type Item struct {
	Name        string
	Code        int64 // server-side id
	Player      int   // owner
	Game        string
	Progression bool
}

// Location is any location in the session. Index is only meaningful for the
// local player's locations (it keys the item table).
type Location struct {
	Player int
	Index  int
	Item   *Item
}

// Origin tells whose world an item belongs to, relative to the local player.
type Origin uint8

const (
	Local Origin = iota
	Foreign
)

type Builder struct {
	player int
	names  map[int]string
	logger *log.Logger

	mine      []Location
	playerIDs map[int]struct{}
	dropped   int
}

// NewBuilder starts a table set for player. names maps every player id that
// can appear to its display name.
func NewBuilder(player int, names map[int]string, logger *log.Logger) *Builder {
	if logger == nil {
		logger = log.Default()
	}
	return &Builder{
		player:    player,
		names:     names,
		logger:    logger,
		playerIDs: map[int]struct{}{0: {}, player: {}},
	}
}

// Register must be called with every location in the session, after fill.
func (b *Builder) Register(loc Location) error {
	if loc.Player == b.player {
		if loc.Item == nil {
			return fmt.Errorf("%w: location %d", ErrIncompleteFill, loc.Index)
		}
		b.playerIDs[loc.Item.Player] = struct{}{}
		b.mine = append(b.mine, loc)
		return nil
	}
	if loc.Item != nil && loc.Item.Player == b.player {
		// My item in someone else's world.
		b.playerIDs[loc.Player] = struct{}{}
	}
	return nil
}

func (b *Builder) origin(it *Item) Origin {
	if it.Player == b.player {
		return Local
	}
	return Foreign
}

// Dropped reports how many player ids the last Build cut to fit MaxPlayers.
func (b *Builder) Dropped() int { return b.dropped }

func (b *Builder) Build() (Result, error) {
	ids := make([]int, 0, len(b.playerIDs))
	for id := range b.playerIDs {
		ids = append(ids, id)
	}
	sort.Ints(ids)
	b.dropped = 0
	if len(ids) > MaxPlayers {
		b.dropped = len(ids) - MaxPlayers
		ids = ids[:MaxPlayers]
		if b.player > ids[MaxPlayers-1] {
			ids[MaxPlayers-1] = b.player
		}
		b.logger.Printf("player table overflow: %d players, keeping %d", MaxPlayers+b.dropped, MaxPlayers)
	}

	index := make(map[int]uint16, len(ids))
	for i, id := range ids {
		index[id] = uint16(i)
	}

	res := Result{
		ExtraNames: make([][codec.ItemNameBlockSize]byte, 0),
		Table:      make(map[int]Entry, len(b.mine)),
		PlayerIDs:  ids,
	}
	for _, loc := range b.mine {
		it := loc.Item
		playerIndex := index[it.Player] // 0 (the server) when cut from the table

		var e Entry
		switch b.origin(it) {
		case Local:
			code, err := catalog.NativeCode(it.Code)
			if err != nil {
				return Result{}, fmt.Errorf("location %d: %w", loc.Index, err)
			}
			e = Entry{Destination: Me, ItemID: code, PlayerIndex: playerIndex, Advancement: it.Progression}
		case Foreign:
			itemID := uint16(catalog.NumItemsWithIcons + len(res.ExtraNames))
			native := false
			if it.Game == catalog.Game {
				if code, err := catalog.NativeCode(it.Code); err == nil {
					itemID = code
					native = true
				}
			}
			if !native {
				res.ExtraNames = append(res.ExtraNames, codec.ItemNameBlock(it.Name))
			}
			e = Entry{Destination: Other, ItemID: itemID, PlayerIndex: playerIndex, Advancement: !it.Progression}
		}
		res.Table[loc.Index] = e
	}

	names := make([]byte, 0, codec.PlayerNameSize*len(ids))
	names = append(names, codec.ServerPlayerName[:]...)
	for _, id := range ids[1:] {
		name, ok := b.names[id]
		if !ok {
			return Result{}, fmt.Errorf("no name for player %d", id)
		}
		block := codec.PlayerNameBlock(name)
		names = append(names, block[:]...)
	}
	res.PlayerNames = names
	return res, nil
}
