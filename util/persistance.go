package util

import (
	"bytes"
	"fmt"
	"os"

	"github.com/natefinch/atomic"
	xdr "github.com/nullstyle/go-xdr/xdr3"
)

// Persist xdr-encodes v and replaces filename with it atomically.
// The file is readable by the owner only, it may hold key material.
func Persist(filename string, v any) error {
	var w bytes.Buffer
	if _, err := xdr.Marshal(&w, v); err != nil {
		return fmt.Errorf("serializing: %w", err)
	}

	if err := atomic.WriteFile(filename, &w); err != nil {
		return fmt.Errorf("writing to disk: %w", err)
	}
	if err := os.Chmod(filename, 0o600); err != nil {
		return fmt.Errorf("restricting permissions: %w", err)
	}
	return nil
}

// Load decodes the xdr value stored in filename into v.
// A missing file is reported with an error wrapping fs.ErrNotExist.
func Load(filename string, v any) error {
	data, err := os.ReadFile(filename) //#nosec G304
	if err != nil {
		return fmt.Errorf("loading file: %w", err)
	}

	if _, err := xdr.Unmarshal(bytes.NewReader(data), v); err != nil {
		return fmt.Errorf("deserializing: %w", err)
	}
	return nil
}
