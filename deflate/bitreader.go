package deflate

import "encoding/binary"

// bitReader serves bits from a byte buffer in DEFLATE order: LSB-first within
// each byte. The accumulator refills from the input as little-endian 32-bit
// words, falling back to single bytes for the tail when fewer than four bytes
// remain.
type bitReader struct {
	input []byte
	pos   int

	// Currently cached bits, LSB-aligned
	cache uint64
	// Number of bits cached in cache
	cacheSize int
	// Total unread bits, cached or not
	bitsLeft int
}

func newBitReader(input []byte) *bitReader {
	return &bitReader{input: input, bitsLeft: len(input) * 8}
}

// peek returns the next c bits (c <= 32) without consuming them. Bits past
// the end of the input read as zero; truncation is detected in consume, so
// callers that must not run off the stream check there.
func (b *bitReader) peek(c int) uint32 {
	for b.cacheSize < c {
		if rem := len(b.input) - b.pos; rem >= 4 && b.cacheSize <= 32 {
			b.cache |= uint64(binary.LittleEndian.Uint32(b.input[b.pos:])) << b.cacheSize
			b.cacheSize += 32
			b.pos += 4
		} else if rem > 0 {
			b.cache |= uint64(b.input[b.pos]) << b.cacheSize
			b.cacheSize += 8
			b.pos++
		} else {
			break
		}
	}
	return uint32(b.cache & (uint64(1)<<c - 1))
}

// consume removes c bits from the accumulator.
func (b *bitReader) consume(c int) (uint32, error) {
	if b.bitsLeft < c {
		return 0, ErrTruncated
	}
	bits := b.peek(c)
	b.cache >>= c
	b.cacheSize -= c
	b.bitsLeft -= c
	return bits, nil
}

func (b *bitReader) read(c int) (uint32, error) {
	return b.consume(c)
}

// align discards bits up to the next byte boundary of the input stream.
func (b *bitReader) align() {
	drop := b.cacheSize & 7
	b.cache >>= drop
	b.cacheSize -= drop
	b.bitsLeft -= drop
}

// copyBytes fills dst with raw input bytes. The reader must be byte-aligned.
func (b *bitReader) copyBytes(dst []byte) error {
	if b.bitsLeft < len(dst)*8 {
		return ErrTruncated
	}
	n := 0
	for b.cacheSize >= 8 && n < len(dst) {
		dst[n] = byte(b.cache)
		b.cache >>= 8
		b.cacheSize -= 8
		n++
	}
	b.pos += copy(dst[n:], b.input[b.pos:])
	b.bitsLeft -= len(dst) * 8
	return nil
}
