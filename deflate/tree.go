package deflate

import (
	"fmt"
	"math/bits"
)

// maxCodeLength is the longest code RFC 1951 permits in any alphabet.
const maxCodeLength = 15

// huffTree is a canonical Huffman decoding table (RFC 1951 §3.2.2). Each
// entry packs a left-justified code, its symbol and its bit length into one
// word as code<<(32-length) | symbol<<4 | length. Entries are ordered
// ascending by that word, which is exactly "ascending by code value when
// left-justified into 32 bits"; decode relies on this for its binary search.
type huffTree struct {
	entries []uint32
}

// buildTree constructs the decoding table from per-symbol code lengths,
// where a length of zero marks an unused symbol.
func buildTree(lengths []byte) (*huffTree, error) {
	var counts [maxCodeLength + 1]int
	total := 0
	for symbol, length := range lengths {
		if length > maxCodeLength {
			return nil, fmt.Errorf("%w: code length %d for symbol %d", ErrCorrupt, length, symbol)
		}
		if length > 0 {
			counts[length]++
			total++
		}
	}
	if total == 0 {
		return nil, fmt.Errorf("%w: no symbols in code table", ErrCorrupt)
	}

	// Plausibility check: the lengths must exactly fill the code space.
	// The one tolerated shortfall is a single-code table, which zlib
	// emits for streams using one distance code.
	space := 0
	for length := 1; length <= maxCodeLength; length++ {
		space += counts[length] << (maxCodeLength - length)
	}
	if space > 1<<maxCodeLength || (space < 1<<maxCodeLength && total > 1) {
		return nil, fmt.Errorf("%w: invalid code lengths", ErrCorrupt)
	}

	// First canonical code and first table slot for each length.
	var nextCode, slot [maxCodeLength + 1]int
	code, at := 0, 0
	for length := 1; length <= maxCodeLength; length++ {
		code = (code + counts[length-1]) << 1
		nextCode[length] = code
		slot[length] = at
		at += counts[length]
	}

	entries := make([]uint32, total)
	for symbol, length := range lengths {
		if length == 0 {
			continue
		}
		c := nextCode[length]
		nextCode[length]++
		entries[slot[length]] = uint32(c)<<(32-uint(length)) | uint32(symbol)<<4 | uint32(length)
		slot[length]++
	}
	return &huffTree{entries: entries}, nil
}

// decodeSymbol reads one symbol from the stream. The next 16 bits are peeked
// and bit-reversed (codes are MSB-first conceptually, the stream is
// LSB-first), then the table is binary-searched for the entry whose
// left-justified code is the longest prefix of that window. Exactly that
// entry's length is consumed.
func (t *huffTree) decodeSymbol(b *bitReader) (int, error) {
	window := bits.Reverse16(uint16(b.peek(16)))
	search := uint32(window)<<16 | 0xFFFF

	lo, hi := 0, len(t.entries)
	for lo < hi {
		mid := (lo + hi) >> 1
		if search < t.entries[mid] {
			hi = mid
		} else {
			lo = mid + 1
		}
	}
	// The first entry always carries code 0, so lo >= 1.
	entry := t.entries[lo-1]
	length := int(entry & 0xF)
	if uint32(window)>>(16-length) != entry>>(32-length) {
		return 0, fmt.Errorf("%w: invalid Huffman code", ErrCorrupt)
	}
	if _, err := b.consume(length); err != nil {
		return 0, err
	}
	return int(entry>>4) & 0xFFF, nil
}
