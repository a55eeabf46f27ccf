package ips

import (
	"bytes"
	"errors"
	"fmt"
)

var ErrBadPatch = errors.New("bad ips patch")

var (
	header = []byte("PATCH")
	footer = []byte("EOF")
)

// Apply returns a copy of src with the patch applied. Records are applied in
// file order, so later records win on overlap. A record reaching past the end
// of the image grows it (zero filled). An optional 3-byte length after the
// footer truncates the result.
func Apply(src, patch []byte) ([]byte, error) {
	if !bytes.HasPrefix(patch, header) {
		return nil, fmt.Errorf("%w: missing header", ErrBadPatch)
	}
	out := append([]byte(nil), src...)

	i := len(header)
	for {
		if i+3 > len(patch) {
			return nil, fmt.Errorf("%w: truncated before footer", ErrBadPatch)
		}
		if bytes.Equal(patch[i:i+3], footer) {
			i += 3
			break
		}
		off := int(patch[i])<<16 | int(patch[i+1])<<8 | int(patch[i+2])
		i += 3
		if i+2 > len(patch) {
			return nil, fmt.Errorf("%w: truncated record at %06X", ErrBadPatch, off)
		}
		size := int(patch[i])<<8 | int(patch[i+1])
		i += 2

		if size == 0 {
			// RLE record: run length then fill byte.
			if i+3 > len(patch) {
				return nil, fmt.Errorf("%w: truncated rle record at %06X", ErrBadPatch, off)
			}
			run := int(patch[i])<<8 | int(patch[i+1])
			fill := patch[i+2]
			i += 3
			out = grow(out, off+run)
			for k := 0; k < run; k++ {
				out[off+k] = fill
			}
			continue
		}

		if i+size > len(patch) {
			return nil, fmt.Errorf("%w: record at %06X overruns patch", ErrBadPatch, off)
		}
		out = grow(out, off+size)
		copy(out[off:], patch[i:i+size])
		i += size
	}

	if i+3 <= len(patch) {
		n := int(patch[i])<<16 | int(patch[i+1])<<8 | int(patch[i+2])
		if n < len(out) {
			out = out[:n]
		}
	}
	return out, nil
}

func grow(b []byte, n int) []byte {
	if n <= len(b) {
		return b
	}
	return append(b, make([]byte, n-len(b))...)
}

// Record is one patch record used when building patches (tests, tooling).
type Record struct {
	Offset int
	Data   []byte
	// RLE records repeat Fill Run times; Data is ignored.
	Run  int
	Fill byte
}

// Build encodes records into an IPS patch.
func Build(records []Record) []byte {
	var buf bytes.Buffer
	buf.Write(header)
	for _, r := range records {
		buf.Write([]byte{byte(r.Offset >> 16), byte(r.Offset >> 8), byte(r.Offset)})
		if r.Run > 0 {
			buf.Write([]byte{0, 0, byte(r.Run >> 8), byte(r.Run), r.Fill})
			continue
		}
		buf.Write([]byte{byte(len(r.Data) >> 8), byte(len(r.Data))})
		buf.Write(r.Data)
	}
	buf.Write(footer)
	return buf.Bytes()
}
