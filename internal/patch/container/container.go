// Package container reads and writes the .apcr patch file: a zip holding an
// archipelago.json manifest and the deflated rom_data.json payload.
package container

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/klauspost/compress/zip"
)

var ErrNotContainer = errors.New("not a patch container")

const (
	ManifestName = "archipelago.json"
	PayloadName  = "rom_data.json"

	// ContainerVersion is bumped when the archive layout changes.
	ContainerVersion  = 5
	CompatibleVersion = 5
)

type Manifest struct {
	Game              string `json:"game"`
	Player            int    `json:"player"`
	PlayerName        string `json:"player_name"`
	BaseChecksum      string `json:"base_checksum"`
	PatchFileEnding   string `json:"patch_file_ending"`
	Version           int    `json:"version"`
	CompatibleVersion int    `json:"compatible_version"`
}

// Write stores the manifest and payload at path. The file is written to a
// temp name first and renamed into place.
func Write(path string, m Manifest, payload []byte) error {
	if m.Version == 0 {
		m.Version = ContainerVersion
	}
	if m.CompatibleVersion == 0 {
		m.CompatibleVersion = CompatibleVersion
	}
	var buf bytes.Buffer
	if err := Encode(&buf, m, payload); err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, buf.Bytes(), 0o644); err != nil {
		return err
	}
	return os.Rename(tmp, path)
}

func Encode(w io.Writer, m Manifest, payload []byte) error {
	zw := zip.NewWriter(w)
	mb, err := json.Marshal(m)
	if err != nil {
		return err
	}
	// The manifest is small and read first; keep it stored.
	if err := writeEntry(zw, ManifestName, zip.Store, mb); err != nil {
		return err
	}
	if err := writeEntry(zw, PayloadName, zip.Deflate, payload); err != nil {
		return err
	}
	return zw.Close()
}

func writeEntry(zw *zip.Writer, name string, method uint16, data []byte) error {
	f, err := zw.CreateHeader(&zip.FileHeader{Name: name, Method: method})
	if err != nil {
		return fmt.Errorf("create %s: %w", name, err)
	}
	if _, err := f.Write(data); err != nil {
		return fmt.Errorf("write %s: %w", name, err)
	}
	return nil
}

func Read(path string) (Manifest, []byte, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return Manifest{}, nil, err
	}
	return Decode(b)
}

func Decode(b []byte) (Manifest, []byte, error) {
	zr, err := zip.NewReader(bytes.NewReader(b), int64(len(b)))
	if err != nil {
		return Manifest{}, nil, fmt.Errorf("%w: %v", ErrNotContainer, err)
	}
	var m Manifest
	var payload []byte
	var haveManifest, havePayload bool
	for _, f := range zr.File {
		switch f.Name {
		case ManifestName:
			raw, err := readEntry(f)
			if err != nil {
				return Manifest{}, nil, err
			}
			if err := json.Unmarshal(raw, &m); err != nil {
				return Manifest{}, nil, fmt.Errorf("%w: manifest: %v", ErrNotContainer, err)
			}
			haveManifest = true
		case PayloadName:
			payload, err = readEntry(f)
			if err != nil {
				return Manifest{}, nil, err
			}
			havePayload = true
		}
	}
	if !haveManifest || !havePayload {
		return Manifest{}, nil, fmt.Errorf("%w: missing %s or %s", ErrNotContainer, ManifestName, PayloadName)
	}
	if m.CompatibleVersion > ContainerVersion {
		return Manifest{}, nil, fmt.Errorf("container version %d is newer than supported %d", m.CompatibleVersion, ContainerVersion)
	}
	return m, payload, nil
}

func readEntry(f *zip.File) ([]byte, error) {
	rc, err := f.Open()
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", f.Name, err)
	}
	defer rc.Close()
	return io.ReadAll(rc)
}
