package protocol_test

import (
	"encoding/json"
	"path/filepath"
	"testing"

	"github.com/santhosh-tekuri/jsonschema/v5"

	"cliffredux.ai/internal/protocol"
)

func TestSchemas_ValidateMessages(t *testing.T) {
	compile := func(name string) *jsonschema.Schema {
		t.Helper()
		p := filepath.Join("..", "..", "schemas", name)
		s, err := jsonschema.Compile(p)
		if err != nil {
			t.Fatalf("compile %s: %v", name, err)
		}
		return s
	}

	validate := func(s *jsonschema.Schema, msg any) {
		t.Helper()
		b, err := json.Marshal(msg)
		if err != nil {
			t.Fatalf("marshal: %v", err)
		}
		var v any
		if err := json.Unmarshal(b, &v); err != nil {
			t.Fatalf("unmarshal: %v", err)
		}
		if err := s.Validate(v); err != nil {
			t.Fatalf("validate %s: %v", b, err)
		}
	}

	validate(compile("connect.schema.json"), protocol.ConnectMsg{
		Cmd:           protocol.CmdConnect,
		Game:          "Cliffhanger Redux",
		Name:          "Alice",
		UUID:          "u1",
		Version:       protocol.ClientVersion,
		ItemsHandling: 0b101,
		Tags:          []string{"AP", protocol.TagDeathLink},
	})

	var connected protocol.ConnectedMsg
	_ = json.Unmarshal([]byte(`{
	  "cmd":"Connected","team":0,"slot":2,
	  "players":[{"team":0,"slot":1,"alias":"A","name":"A"},{"team":0,"slot":2,"alias":"B","name":"B"}],
	  "missing_locations":[6100001],"checked_locations":[]
	}`), &connected)
	validate(compile("connected.schema.json"), connected)

	validate(compile("received_items.schema.json"), protocol.ReceivedItemsMsg{
		Cmd:   protocol.CmdReceivedItems,
		Index: 0,
		Items: []protocol.NetworkItem{{Item: 6100003, Location: 6100005, Player: 2}},
	})

	data, _ := json.Marshal(protocol.DeathLinkData{Time: 1700000000.5, Source: "Alice"})
	validate(compile("bounce.schema.json"), protocol.BounceMsg{
		Cmd:  protocol.CmdBounce,
		Tags: []string{protocol.TagDeathLink},
		Data: data,
	})
}
