package symbols

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"sort"
	"strconv"
	"strings"

	"github.com/santhosh-tekuri/jsonschema/v5"

	"cliffredux.ai/internal/rom/snes"
)

var ErrMissingSymbol = errors.New("missing symbol")

const schemaJSON = `{
  "$schema": "http://json-schema.org/draft-07/schema#",
  "type": "object",
  "minProperties": 1,
  "additionalProperties": {
    "type": "string",
    "pattern": "^[0-9A-Fa-f]{1,2}:[0-9A-Fa-f]{1,4}$"
  }
}`

var schema = jsonschema.MustCompileString("symbols.schema.json", schemaJSON)

// Table resolves assembler symbols to linear image offsets. It is immutable
// after construction and safe to share.
type Table struct {
	offsets map[string]int
}

func Load(path string) (*Table, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	t, err := Parse(b)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return t, nil
}

// Parse reads a {"name": "bank:addr"} JSON map.
func Parse(b []byte) (*Table, error) {
	var doc any
	if err := json.Unmarshal(b, &doc); err != nil {
		return nil, fmt.Errorf("parse symbols: %w", err)
	}
	if err := schema.Validate(doc); err != nil {
		return nil, fmt.Errorf("validate symbols: %w", err)
	}
	var raw map[string]string
	if err := json.Unmarshal(b, &raw); err != nil {
		return nil, fmt.Errorf("parse symbols: %w", err)
	}
	t := &Table{offsets: make(map[string]int, len(raw))}
	for name, s := range raw {
		addr, err := parseAddr(s)
		if err != nil {
			return nil, fmt.Errorf("symbol %s: %w", name, err)
		}
		t.offsets[name] = snes.LoROMToOffset(addr)
	}
	return t, nil
}

// FromOffsets builds a table directly from linear offsets.
func FromOffsets(m map[string]int) *Table {
	t := &Table{offsets: make(map[string]int, len(m))}
	for k, v := range m {
		t.offsets[k] = v
	}
	return t
}

func (t *Table) Resolve(name string) (int, error) {
	if t != nil {
		if off, ok := t.offsets[name]; ok {
			return off, nil
		}
	}
	return 0, fmt.Errorf("%w: %s", ErrMissingSymbol, name)
}

func (t *Table) Names() []string {
	out := make([]string, 0, len(t.offsets))
	for k := range t.offsets {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}

// parseAddr joins the colon segments ("84:F000" -> 0x84F000).
func parseAddr(s string) (uint32, error) {
	joined := strings.Join(strings.Split(s, ":"), "")
	v, err := strconv.ParseUint(joined, 16, 32)
	if err != nil {
		return 0, err
	}
	return uint32(v), nil
}
