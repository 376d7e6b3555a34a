package nanomap

import (
	"bufio"
	"encoding/hex"
	"fmt"
	"io"
	"strconv"
	"strings"
)

// LoadDump parses the textual map-persistence stream described in spec §6:
//
//	# optional leading comment lines
//	nanotube_map: <id> <type> <key_sz> <value_sz>
//	key: <hex bytes> value: <hex bytes>
//	...
//	end
//
// lookup resolves the map id named in the header to its live Backend;
// entries are merged into it (hash: insert-or-overwrite via WRITE, array:
// write in place). The dump (write) side is out of scope per spec §1; only
// the load path touches engine semantics.
func LoadDump(r io.Reader, lookup func(id uint32) Backend) error {
	scanner := bufio.NewScanner(r)

	var backend Backend
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		if backend == nil {
			if !strings.HasPrefix(line, "nanotube_map:") {
				continue // skip comment-ish preamble until the header
			}
			fields := strings.Fields(strings.TrimPrefix(line, "nanotube_map:"))
			if len(fields) != 4 {
				return fmt.Errorf("nanomap: malformed nanotube_map header: %q", line)
			}
			id64, err := strconv.ParseUint(fields[0], 10, 32)
			if err != nil {
				return fmt.Errorf("nanomap: bad map id in header %q: %w", line, err)
			}
			backend = lookup(uint32(id64))
			if backend == nil {
				return fmt.Errorf("nanomap: no such map id %d", id64)
			}
			continue
		}

		if line == "end" {
			backend = nil
			continue
		}

		key, value, err := parseEntryLine(line)
		if err != nil {
			return err
		}
		if len(key) != backend.KeyLength() || len(value) != backend.ValueLength() {
			return fmt.Errorf("nanomap: key/value size mismatch for map %d", backend.ID())
		}

		mask := make([]byte, (len(value)+7)/8)
		for i := range mask {
			mask[i] = 0xFF
		}
		// Hash backends insert-or-overwrite; array backends write in
		// place. WRITE implements both: it inserts when supported and
		// absent, else overwrites the existing slot.
		backend.Apply(OpWRITE, key, value, nil, mask, 0, len(value))
	}
	if err := scanner.Err(); err != nil {
		return fmt.Errorf("nanomap: reading dump: %w", err)
	}
	return nil
}

// parseEntryLine parses a "key: <hex> value: <hex>" line.
func parseEntryLine(line string) (key, value []byte, err error) {
	const keyPrefix = "key:"
	const valueMarker = "value:"

	if !strings.HasPrefix(line, keyPrefix) {
		return nil, nil, fmt.Errorf("nanomap: expected key: line, got %q", line)
	}
	rest := strings.TrimPrefix(line, keyPrefix)
	idx := strings.Index(rest, valueMarker)
	if idx < 0 {
		return nil, nil, fmt.Errorf("nanomap: missing value: in %q", line)
	}
	keyHex := strings.TrimSpace(rest[:idx])
	valueHex := strings.TrimSpace(rest[idx+len(valueMarker):])

	key, err = hex.DecodeString(keyHex)
	if err != nil {
		return nil, nil, fmt.Errorf("nanomap: decoding key hex: %w", err)
	}
	value, err = hex.DecodeString(valueHex)
	if err != nil {
		return nil, nil, fmt.Errorf("nanomap: decoding value hex: %w", err)
	}
	return key, value, nil
}
