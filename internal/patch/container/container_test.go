package container

import (
	"bytes"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/klauspost/compress/zip"
)

func TestWriteRead(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "out", "AP_1_P1_Alice.apcr")
	m := Manifest{Game: "Cliffhanger Redux", Player: 1, PlayerName: "Alice", BaseChecksum: "abc", PatchFileEnding: ".apcr"}
	payload := []byte(`{"player":1}`)
	if err := Write(path, m, payload); err != nil {
		t.Fatalf("Write: %v", err)
	}
	if _, err := os.Stat(path + ".tmp"); !os.IsNotExist(err) {
		t.Fatalf("temp file left behind: %v", err)
	}
	gotM, gotP, err := Read(path)
	if err != nil {
		t.Fatalf("Read: %v", err)
	}
	m.Version, m.CompatibleVersion = ContainerVersion, CompatibleVersion
	if gotM != m {
		t.Fatalf("manifest: got %+v want %+v", gotM, m)
	}
	if !bytes.Equal(gotP, payload) {
		t.Fatalf("payload: got %q", gotP)
	}
}

func TestDecode_Rejects(t *testing.T) {
	if _, _, err := Decode([]byte("not a zip")); !errors.Is(err, ErrNotContainer) {
		t.Fatalf("expected ErrNotContainer, got %v", err)
	}

	var buf bytes.Buffer
	zw := zip.NewWriter(&buf)
	if err := writeEntry(zw, ManifestName, zip.Store, []byte(`{"game":"x"}`)); err != nil {
		t.Fatalf("writeEntry: %v", err)
	}
	_ = zw.Close()
	if _, _, err := Decode(buf.Bytes()); !errors.Is(err, ErrNotContainer) {
		t.Fatalf("missing payload: expected ErrNotContainer, got %v", err)
	}

	buf.Reset()
	if err := Encode(&buf, Manifest{CompatibleVersion: ContainerVersion + 1}, []byte("{}")); err != nil {
		t.Fatalf("Encode: %v", err)
	}
	if _, _, err := Decode(buf.Bytes()); err == nil {
		t.Fatalf("expected version error")
	}
}
