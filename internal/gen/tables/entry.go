package tables

import (
	"fmt"

	"cliffredux.ai/internal/rom/codec"
)

type Destination uint16

const (
	Me Destination = iota
	Other
	// LinkWithMe is reserved for item links that include the local player.
	LinkWithMe
)

const EntrySize = 8

// Entry is one row of the in-image item table, keyed by location index.
//
// Advancement means "progression" for Me rows and "filler" for Other rows;
// the game's renderer reads it that way.
type Entry struct {
	Destination Destination
	ItemID      uint16
	PlayerIndex uint16
	Advancement bool
}

func (e Entry) Bytes() [EntrySize]byte {
	var b [EntrySize]byte
	codec.PutWord(b[0:], uint16(e.Destination))
	codec.PutWord(b[2:], e.ItemID)
	codec.PutWord(b[4:], e.PlayerIndex)
	if e.Advancement {
		codec.PutWord(b[6:], 1)
	}
	return b
}

// ParseEntry is the inverse of Entry.Bytes. It rejects rows Bytes could not
// have produced.
func ParseEntry(b []byte) (Entry, error) {
	if len(b) != EntrySize {
		return Entry{}, fmt.Errorf("item table entry: %d bytes, want %d", len(b), EntrySize)
	}
	dest := Destination(codec.Word(b[0:]))
	if dest > LinkWithMe {
		return Entry{}, fmt.Errorf("item table entry: bad destination %d", dest)
	}
	flag := codec.Word(b[6:])
	if flag > 1 {
		return Entry{}, fmt.Errorf("item table entry: bad flag %d", flag)
	}
	return Entry{
		Destination: dest,
		ItemID:      codec.Word(b[2:]),
		PlayerIndex: codec.Word(b[4:]),
		Advancement: flag == 1,
	}, nil
}
