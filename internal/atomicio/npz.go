package atomicio

import (
	"archive/zip"
	"bytes"
	"encoding/binary"
	"fmt"
	"math"
	"sort"
)

// AtomicWriteNPZ writes a bundle of named float32 arrays to path as a zip
// archive (one flat little-endian float32 member per array, named
// "<key>.f32"), using the same temp-file-then-rename protocol as
// AtomicWriteFile. This is the only on-disk binary format Memory may
// write or read (spec.md §4.4): no arbitrary object graphs, ever.
func AtomicWriteNPZ(path string, arrays map[string][]float32) error {
	var buf bytes.Buffer
	zw := zip.NewWriter(&buf)

	keys := make([]string, 0, len(arrays))
	for k := range arrays {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	for _, k := range keys {
		w, err := zw.Create(k + ".f32")
		if err != nil {
			return fmt.Errorf("atomicio: npz create member %s: %w", k, err)
		}
		if err := writeFloat32LE(w, arrays[k]); err != nil {
			return fmt.Errorf("atomicio: npz write member %s: %w", k, err)
		}
	}
	if err := zw.Close(); err != nil {
		return fmt.Errorf("atomicio: npz close: %w", err)
	}
	return AtomicWriteFile(path, buf.Bytes())
}

// ReadNPZ reads a bundle written by AtomicWriteNPZ. It only ever decodes
// raw float32 arrays — never arbitrary serialized objects — so legacy
// binary blobs in any other format are rejected rather than deserialized.
func ReadNPZ(path string) (map[string][]float32, error) {
	if IsSymlink(path) {
		return nil, fmt.Errorf("atomicio: refusing to read symlink %s", path)
	}
	zr, err := zip.OpenReader(path)
	if err != nil {
		return nil, fmt.Errorf("atomicio: open npz %s: %w", path, err)
	}
	defer zr.Close()

	out := make(map[string][]float32, len(zr.File))
	for _, f := range zr.File {
		name := f.Name
		if len(name) < 4 || name[len(name)-4:] != ".f32" {
			return nil, fmt.Errorf("atomicio: npz %s: unrecognized member %s (fail-closed)", path, name)
		}
		rc, err := f.Open()
		if err != nil {
			return nil, fmt.Errorf("atomicio: npz %s: open member %s: %w", path, name, err)
		}
		arr, err := readFloat32LE(rc, int64(f.UncompressedSize64))
		rc.Close()
		if err != nil {
			return nil, fmt.Errorf("atomicio: npz %s: decode member %s: %w", path, name, err)
		}
		out[name[:len(name)-4]] = arr
	}
	return out, nil
}

func writeFloat32LE(w interface{ Write([]byte) (int, error) }, vals []float32) error {
	buf := make([]byte, 4*len(vals))
	for i, v := range vals {
		binary.LittleEndian.PutUint32(buf[i*4:], math.Float32bits(v))
	}
	_, err := w.Write(buf)
	return err
}

func readFloat32LE(r interface{ Read([]byte) (int, error) }, size int64) ([]float32, error) {
	if size%4 != 0 {
		return nil, fmt.Errorf("atomicio: npz member size %d not a multiple of 4", size)
	}
	buf := make([]byte, size)
	n := 0
	for n < len(buf) {
		m, err := r.Read(buf[n:])
		n += m
		if err != nil {
			if n == len(buf) {
				break
			}
			return nil, err
		}
	}
	out := make([]float32, size/4)
	for i := range out {
		out[i] = math.Float32frombits(binary.LittleEndian.Uint32(buf[i*4 : i*4+4]))
	}
	return out, nil
}
