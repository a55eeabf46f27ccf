package ips

import (
	"bytes"
	"errors"
	"testing"
)

func TestApply_RecordsInOrder(t *testing.T) {
	src := make([]byte, 16)
	p := Build([]Record{
		{Offset: 2, Data: []byte{1, 2, 3, 4}},
		{Offset: 4, Data: []byte{9}},
		{Offset: 10, Run: 3, Fill: 0xEE},
	})
	out, err := Apply(src, p)
	if err != nil {
		t.Fatalf("Apply: %v", err)
	}
	want := []byte{0, 0, 1, 2, 9, 4, 0, 0, 0, 0, 0xEE, 0xEE, 0xEE, 0, 0, 0}
	if !bytes.Equal(out, want) {
		t.Fatalf("got % X\nwant % X", out, want)
	}
	if src[2] != 0 {
		t.Fatalf("Apply must not modify src")
	}
}

func TestApply_GrowsAndTruncates(t *testing.T) {
	src := []byte{1, 2, 3}
	p := Build([]Record{{Offset: 5, Data: []byte{7, 7}}})
	out, err := Apply(src, p)
	if err != nil {
		t.Fatalf("Apply: %v", err)
	}
	if !bytes.Equal(out, []byte{1, 2, 3, 0, 0, 7, 7}) {
		t.Fatalf("grow: got % X", out)
	}

	p = append(p, 0x00, 0x00, 0x02)
	out, err = Apply(src, p)
	if err != nil {
		t.Fatalf("Apply truncate: %v", err)
	}
	if !bytes.Equal(out, []byte{1, 2}) {
		t.Fatalf("truncate: got % X", out)
	}
}

func TestApply_RejectsMalformed(t *testing.T) {
	cases := map[string][]byte{
		"no header":  []byte("NOPE"),
		"no footer":  []byte("PATCH"),
		"short data": append([]byte("PATCH"), 0, 0, 1, 0, 4, 1),
		"short rle":  append([]byte("PATCH"), 0, 0, 1, 0, 0, 0),
		"short size": append([]byte("PATCH"), 0, 0, 1, 0),
	}
	for name, p := range cases {
		if _, err := Apply(nil, p); !errors.Is(err, ErrBadPatch) {
			t.Fatalf("%s: expected ErrBadPatch, got %v", name, err)
		}
	}
}
