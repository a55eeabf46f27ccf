package tables

import (
	"encoding/json"
	"fmt"
	"sort"
	"strconv"

	"cliffredux.ai/internal/rom/codec"
)

// Result is everything the patcher writes from the table builder.
//
// On the wire it is a 4-element JSON array:
// [extra item names, {location index: entry bytes}, player name bytes, player ids].
type Result struct {
	ExtraNames  [][codec.ItemNameBlockSize]byte
	Table       map[int]Entry
	PlayerNames []byte
	PlayerIDs   []int
}

// SortedIndices returns the item table keys in ascending order.
func (r Result) SortedIndices() []int {
	out := make([]int, 0, len(r.Table))
	for k := range r.Table {
		out = append(out, k)
	}
	sort.Ints(out)
	return out
}

func (r Result) MarshalJSON() ([]byte, error) {
	names := make([]codec.ByteList, len(r.ExtraNames))
	for i := range r.ExtraNames {
		names[i] = codec.ByteList(r.ExtraNames[i][:])
	}
	table := make(map[string]codec.ByteList, len(r.Table))
	for idx, e := range r.Table {
		b := e.Bytes()
		table[strconv.Itoa(idx)] = codec.ByteList(b[:])
	}
	ids := r.PlayerIDs
	if ids == nil {
		ids = []int{}
	}
	return json.Marshal([]any{names, table, codec.ByteList(r.PlayerNames), ids})
}

func (r *Result) UnmarshalJSON(data []byte) error {
	var parts []json.RawMessage
	if err := json.Unmarshal(data, &parts); err != nil {
		return err
	}
	if len(parts) != 4 {
		return fmt.Errorf("item rom data: %d parts, want 4", len(parts))
	}

	var names []codec.ByteList
	if err := json.Unmarshal(parts[0], &names); err != nil {
		return fmt.Errorf("item names: %w", err)
	}
	out := Result{ExtraNames: make([][codec.ItemNameBlockSize]byte, len(names))}
	for i, n := range names {
		if len(n) != codec.ItemNameBlockSize {
			return fmt.Errorf("item name %d: %d bytes, want %d", i, len(n), codec.ItemNameBlockSize)
		}
		copy(out.ExtraNames[i][:], n)
	}

	var table map[string]codec.ByteList
	if err := json.Unmarshal(parts[1], &table); err != nil {
		return fmt.Errorf("item table: %w", err)
	}
	out.Table = make(map[int]Entry, len(table))
	for k, v := range table {
		idx, err := strconv.Atoi(k)
		if err != nil || idx < 0 {
			return fmt.Errorf("item table: bad location index %q", k)
		}
		e, err := ParseEntry(v)
		if err != nil {
			return fmt.Errorf("location %d: %w", idx, err)
		}
		out.Table[idx] = e
	}

	var pn codec.ByteList
	if err := json.Unmarshal(parts[2], &pn); err != nil {
		return fmt.Errorf("player names: %w", err)
	}
	out.PlayerNames = []byte(pn)

	if err := json.Unmarshal(parts[3], &out.PlayerIDs); err != nil {
		return fmt.Errorf("player ids: %w", err)
	}
	if out.PlayerIDs == nil {
		out.PlayerIDs = []int{}
	}
	*r = out
	return nil
}
