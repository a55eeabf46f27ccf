package gendata

import (
	"encoding/base64"
	"reflect"
	"strings"
	"testing"

	"cliffredux.ai/internal/gen/tables"
	"cliffredux.ai/internal/rom/codec"
)

func sample() GenData {
	return GenData{
		ItemRomData: tables.Result{
			ExtraNames:  [][codec.ItemNameBlockSize]byte{codec.ItemNameBlock("Hookshot")},
			Table:       map[int]tables.Entry{5: {Destination: tables.Me, ItemID: 3, PlayerIndex: 1, Advancement: true}},
			PlayerNames: append(append([]byte{}, codec.ServerPlayerName[:]...), []byte("       ME       ")...),
			PlayerIDs:   []int{0, 1},
		},
		Game: Game{
			Seed: 1234,
			Locations: map[string]LocationRecord{
				"Morph Ball":  {Index: 5, Address: 0x786DE, Category: Normal, AltAddresses: []int{0}},
				"Bomb Torizo": {Index: 6, Address: 0x78BA4, Category: Chozo, AltAddresses: []int{0x78BA8, 0}},
			},
		},
		Player:        1,
		GameNameInROM: codec.ByteList(IdentityTag("0.4.4", 1, 1234)),
		Options:       Options{RemoteItems: true},
	}
}

func TestEncodeDecode(t *testing.T) {
	manyIDs := make([]int, 202)
	for i := range manyIDs {
		manyIDs[i] = i
	}
	cases := map[string]func(g *GenData){
		"sample": func(g *GenData) {},
		"nil alternates": func(g *GenData) {
			g.Game.Locations = map[string]LocationRecord{"Morph Ball": {Index: 5, Address: 0x786DE, Category: Normal}}
		},
		"empty alternates": func(g *GenData) {
			g.Game.Locations = map[string]LocationRecord{"Morph Ball": {Index: 5, Address: 0x786DE, Category: Normal, AltAddresses: []int{}}}
		},
		"nil locations": func(g *GenData) { g.Game.Locations = nil },
		"empty tables": func(g *GenData) {
			g.ItemRomData = tables.Result{PlayerIDs: []int{0}}
		},
		"max player ids": func(g *GenData) { g.ItemRomData.PlayerIDs = manyIDs },
	}
	for name, mutate := range cases {
		g := sample()
		mutate(&g)
		raw, err := Encode(g)
		if err != nil {
			t.Fatalf("%s: Encode: %v", name, err)
		}
		back, err := Decode(raw)
		if err != nil {
			t.Fatalf("%s: Decode: %v", name, err)
		}
		if want := canonical(g); !reflect.DeepEqual(want, back) {
			t.Fatalf("%s: round trip mismatch:\n%+v\n%+v", name, want, back)
		}
		again, err := Encode(back)
		if err != nil || string(again) != string(raw) {
			t.Fatalf("%s: re-encode differs: %v", name, err)
		}
	}
}

func TestEncode_DoesNotMutateInput(t *testing.T) {
	g := sample()
	g.Game.Locations["Morph Ball"] = LocationRecord{Index: 5, Address: 0x786DE, Category: Normal}
	if _, err := Encode(g); err != nil {
		t.Fatalf("Encode: %v", err)
	}
	if g.Game.Locations["Morph Ball"].AltAddresses != nil {
		t.Fatalf("caller's location map was rewritten")
	}
}

func TestEncode_RejectsInvalidPayload(t *testing.T) {
	cases := map[string]func(g *GenData){
		"no player ids":       func(g *GenData) { g.ItemRomData.PlayerIDs = nil },
		"too many player ids": func(g *GenData) { g.ItemRomData.PlayerIDs = make([]int, 203) },
		"negative address": func(g *GenData) {
			g.Game.Locations = map[string]LocationRecord{"Morph Ball": {Index: 5, Address: -1}}
		},
	}
	for name, mutate := range cases {
		g := sample()
		mutate(&g)
		if _, err := Encode(g); err == nil {
			t.Fatalf("%s: expected error", name)
		}
	}
}

func TestDecode_SchemaRejects(t *testing.T) {
	cases := map[string]string{
		"not json":      `{`,
		"missing game":  `{"item_rom_data":[[],{},[],[0]],"player":1,"game_name_in_rom":[]}`,
		"short tag":     `{"item_rom_data":[[],{},[],[0]],"cr_game":{"all_locations":{}},"player":1,"game_name_in_rom":[1,2]}`,
		"byte overflow": `{"item_rom_data":[[],{"1":[0,0,0,0,0,0,0,300]},[],[0]],"cr_game":{"all_locations":{}},"player":1,"game_name_in_rom":[0,0,0,0,0,0,0,0,0,0,0,0,0,0,0,0,0,0,0,0,0]}`,
	}
	for name, doc := range cases {
		if _, err := Decode([]byte(doc)); err == nil {
			t.Fatalf("%s: expected error", name)
		}
	}
}

func TestEncode_RequiresTag(t *testing.T) {
	g := sample()
	g.GameNameInROM = codec.ByteList{1, 2, 3}
	if _, err := Encode(g); err == nil {
		t.Fatalf("expected tag length error")
	}
}

func TestIdentityTag(t *testing.T) {
	tag := IdentityTag("0.4.4", 3, 42)
	if len(tag) != IdentityTagSize {
		t.Fatalf("len=%d", len(tag))
	}
	if !strings.HasPrefix(string(tag), "CR044_3_") {
		t.Fatalf("tag=%q", tag)
	}
	if !ValidTag(tag) {
		t.Fatalf("ValidTag rejected %q", tag)
	}
	if ValidTag([]byte("SUPER METROID        ")) {
		t.Fatalf("ValidTag accepted a vanilla title")
	}
	short := IdentityTag("1", 1, 7)
	if string(short) != "CR1_1_          7    " {
		t.Fatalf("short=%q", short)
	}
	dec, err := base64.StdEncoding.DecodeString(ConnectName(tag))
	if err != nil || string(dec) != string(tag) {
		t.Fatalf("ConnectName does not round trip: %q %v", dec, err)
	}
}

func TestAlternates(t *testing.T) {
	l := LocationRecord{AltAddresses: []int{10, 20, 0, 30}}
	if got := l.Alternates(); !reflect.DeepEqual(got, []int{10, 20}) {
		t.Fatalf("got %v", got)
	}
	if got := (LocationRecord{AltAddresses: []int{0}}).Alternates(); len(got) != 0 {
		t.Fatalf("got %v", got)
	}
}
