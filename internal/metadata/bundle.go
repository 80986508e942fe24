package metadata

import (
	"bytes"
	"encoding/gob"
	"fmt"

	"github.com/funvibe/aspectweave/internal/typesystem"
)

func init() {
	// Register concrete types carried behind interfaces
	gob.Register(typesystem.TCon{})
	gob.Register(typesystem.TApp{})
	gob.Register(typesystem.TVar{})
	gob.Register(typesystem.TArray{})
	gob.Register(typesystem.TByRef{})
	gob.Register([]string{})
}

// bundleMagic opens every encoded module: "AWMB"
var bundleMagic = [4]byte{'A', 'W', 'M', 'B'}

// bundleVersion is bumped whenever the encoded object model changes shape.
const bundleVersion byte = 0x01

// Encode converts a module to binary format.
// Format:
// - Magic number (4 bytes): "AWMB"
// - Version (1 byte)
// - Gob-encoded Module
func Encode(m *Module) ([]byte, error) {
	buf := new(bytes.Buffer)
	buf.Write(bundleMagic[:])
	buf.WriteByte(bundleVersion)

	enc := gob.NewEncoder(buf)
	if err := enc.Encode(m); err != nil {
		return nil, fmt.Errorf("module %s gob encoding failed: %w", m.Name, err)
	}
	return buf.Bytes(), nil
}

// Decode reads a module produced by Encode and rebuilds its back-pointers.
func Decode(data []byte) (*Module, error) {
	if len(data) < 5 {
		return nil, fmt.Errorf("module data too short")
	}
	if !bytes.Equal(data[:4], bundleMagic[:]) {
		return nil, fmt.Errorf("invalid magic number, expected AWMB")
	}
	if version := data[4]; version != bundleVersion {
		return nil, fmt.Errorf("unsupported module format version: %d (this binary supports version %d)", version, bundleVersion)
	}

	dec := gob.NewDecoder(bytes.NewReader(data[5:]))
	var m Module
	if err := dec.Decode(&m); err != nil {
		return nil, fmt.Errorf("module gob decoding failed: %w", err)
	}
	if m.Name == "" {
		return nil, fmt.Errorf("decoded module has no name")
	}
	m.Link()
	return &m, nil
}

// IsModule reports whether data starts with the module magic.
func IsModule(data []byte) bool {
	return len(data) >= 5 && bytes.Equal(data[:4], bundleMagic[:])
}
