package store

import (
	"encoding/binary"
	"fmt"
	"slices"
	"unicode/utf8"
)

// EncodeStrings encodes items as a compact ordered list: a uvarint count
// followed by uvarint-length-prefixed UTF-8 strings. The input is sorted and
// deduplicated first, so the stored form is canonical.
func EncodeStrings(items []string) []byte {
	sorted := slices.Clone(items)
	slices.Sort(sorted)
	sorted = slices.Compact(sorted)

	buf := binary.AppendUvarint(nil, uint64(len(sorted)))
	for _, s := range sorted {
		buf = binary.AppendUvarint(buf, uint64(len(s)))
		buf = append(buf, s...)
	}
	return buf
}

// DecodeStrings is the inverse of EncodeStrings.
func DecodeStrings(data []byte) ([]string, error) {
	count, n := binary.Uvarint(data)
	if n <= 0 {
		return nil, fmt.Errorf("decode string list: bad count")
	}
	data = data[n:]

	items := make([]string, 0, count)
	for i := uint64(0); i < count; i++ {
		size, n := binary.Uvarint(data)
		if n <= 0 {
			return nil, fmt.Errorf("decode string list: bad length at item %d", i)
		}
		data = data[n:]
		if uint64(len(data)) < size {
			return nil, fmt.Errorf("decode string list: truncated at item %d", i)
		}
		s := string(data[:size])
		if !utf8.ValidString(s) {
			return nil, fmt.Errorf("decode string list: invalid UTF-8 at item %d", i)
		}
		items = append(items, s)
		data = data[size:]
	}
	if len(data) != 0 {
		return nil, fmt.Errorf("decode string list: %d trailing bytes", len(data))
	}
	return items, nil
}
