// Package deflate decompresses raw DEFLATE streams (RFC 1951) into buffers
// of exactly known size, as PNG IDAT decoding requires.
package deflate

import (
	"errors"
	"fmt"
)

var (
	// ErrTruncated is returned when the stream ends before decoding completes.
	ErrTruncated = errors.New("deflate: truncated input")
	// ErrCorrupt is returned for structural violations: LEN/NLEN mismatch,
	// reserved block types, invalid Huffman codes or code length tables.
	ErrCorrupt = errors.New("deflate: corrupt stream")
	// ErrInvalidBackReference is returned when a length/distance pair points
	// before the start of the output buffer.
	ErrInvalidBackReference = errors.New("deflate: back-reference before output start")
	// ErrOutputOverflow is returned when decompressed data would exceed the
	// caller-declared output size.
	ErrOutputOverflow = errors.New("deflate: output buffer too small")
)

// Base values and extra bit counts for length codes 257-285 and distance
// codes 0-29 (RFC 1951 §3.2.5).
var (
	lengthBase = [29]int{
		3, 4, 5, 6, 7, 8, 9, 10, 11, 13, 15, 17, 19, 23, 27, 31,
		35, 43, 51, 59, 67, 83, 99, 115, 131, 163, 195, 227, 258,
	}
	lengthExtra = [29]int{
		0, 0, 0, 0, 0, 0, 0, 0, 1, 1, 1, 1, 2, 2, 2, 2,
		3, 3, 3, 3, 4, 4, 4, 4, 5, 5, 5, 5, 0,
	}
	distBase = [30]int{
		1, 2, 3, 4, 5, 7, 9, 13, 17, 25, 33, 49, 65, 97, 129, 193,
		257, 385, 513, 769, 1025, 1537, 2049, 3073, 4097, 6145, 8193, 12289, 16385, 24577,
	}
	distExtra = [30]int{
		0, 0, 0, 0, 1, 1, 2, 2, 3, 3, 4, 4, 5, 5, 6, 6,
		7, 7, 8, 8, 9, 9, 10, 10, 11, 11, 12, 12, 13, 13,
	}
)

// Storage order of the code length alphabet's own lengths (RFC 1951 §3.2.7).
var codeLengthOrder = [19]int{16, 17, 18, 0, 8, 7, 9, 6, 10, 5, 11, 4, 12, 3, 13, 2, 14, 1, 15}

// Inflate decompresses the raw DEFLATE stream in into out. The caller must
// know the exact decompressed size up front: out is filled completely and is
// never grown. All structural checks run unconditionally, so feeding
// untrusted data cannot read or write out of bounds.
func Inflate(in, out []byte) error {
	b := newBitReader(in)
	cursor := 0
	for {
		final, err := b.read(1)
		if err != nil {
			return err
		}
		blockType, err := b.read(2)
		if err != nil {
			return err
		}
		switch blockType {
		case 0:
			cursor, err = inflateStored(b, out, cursor)
		case 1:
			cursor, err = inflateFixed(b, out, cursor)
		case 2:
			cursor, err = inflateDynamic(b, out, cursor)
		default:
			return fmt.Errorf("%w: reserved block type", ErrCorrupt)
		}
		if err != nil {
			return err
		}
		if final == 1 {
			break
		}
	}
	if cursor != len(out) {
		return fmt.Errorf("%w: stream ended %d bytes short of declared size", ErrCorrupt, len(out)-cursor)
	}
	return nil
}

func inflateStored(b *bitReader, out []byte, cursor int) (int, error) {
	b.align()
	storedLen, err := b.read(16)
	if err != nil {
		return cursor, err
	}
	storedNlen, err := b.read(16)
	if err != nil {
		return cursor, err
	}
	if storedLen != ^storedNlen&0xFFFF {
		return cursor, fmt.Errorf("%w: LEN/NLEN mismatch", ErrCorrupt)
	}
	n := int(storedLen)
	if cursor+n > len(out) {
		return cursor, ErrOutputOverflow
	}
	if err := b.copyBytes(out[cursor : cursor+n]); err != nil {
		return cursor, err
	}
	return cursor + n, nil
}

func inflateFixed(b *bitReader, out []byte, cursor int) (int, error) {
	// Static tables from RFC 1951 §3.2.6: 288 literal/length codes of
	// lengths 8/9/7/8, 32 distance codes of length 5.
	var litLengths [288]byte
	for i := range litLengths {
		switch {
		case i < 144:
			litLengths[i] = 8
		case i < 256:
			litLengths[i] = 9
		case i < 280:
			litLengths[i] = 7
		default:
			litLengths[i] = 8
		}
	}
	var distLengths [32]byte
	for i := range distLengths {
		distLengths[i] = 5
	}
	litTree, err := buildTree(litLengths[:])
	if err != nil {
		return cursor, err
	}
	distTree, err := buildTree(distLengths[:])
	if err != nil {
		return cursor, err
	}
	return inflateBlock(b, litTree, distTree, out, cursor)
}

func inflateDynamic(b *bitReader, out []byte, cursor int) (int, error) {
	hlit, err := b.read(5)
	if err != nil {
		return cursor, err
	}
	hdist, err := b.read(5)
	if err != nil {
		return cursor, err
	}
	hclen, err := b.read(4)
	if err != nil {
		return cursor, err
	}
	litCount := int(hlit) + 257
	distCount := int(hdist) + 1
	if litCount > 286 || distCount > 30 {
		return cursor, fmt.Errorf("%w: too many codes (%d literal, %d distance)", ErrCorrupt, litCount, distCount)
	}

	var clLengths [19]byte
	for i := 0; i < int(hclen)+4; i++ {
		v, err := b.read(3)
		if err != nil {
			return cursor, err
		}
		clLengths[codeLengthOrder[i]] = byte(v)
	}
	clTree, err := buildTree(clLengths[:])
	if err != nil {
		return cursor, err
	}

	// The literal/length and distance code lengths share one run-length
	// encoded sequence.
	lengths := make([]byte, litCount+distCount)
	for i := 0; i < len(lengths); {
		symbol, err := clTree.decodeSymbol(b)
		if err != nil {
			return cursor, err
		}
		var repeat int
		var value byte
		switch {
		case symbol < 16:
			lengths[i] = byte(symbol)
			i++
			continue
		case symbol == 16:
			if i == 0 {
				return cursor, fmt.Errorf("%w: repeat code with no previous length", ErrCorrupt)
			}
			extra, err := b.read(2)
			if err != nil {
				return cursor, err
			}
			repeat, value = 3+int(extra), lengths[i-1]
		case symbol == 17:
			extra, err := b.read(3)
			if err != nil {
				return cursor, err
			}
			repeat = 3 + int(extra)
		default: // 18
			extra, err := b.read(7)
			if err != nil {
				return cursor, err
			}
			repeat = 11 + int(extra)
		}
		if i+repeat > len(lengths) {
			return cursor, fmt.Errorf("%w: length repeat overruns table", ErrCorrupt)
		}
		for ; repeat > 0; repeat-- {
			lengths[i] = value
			i++
		}
	}

	litTree, err := buildTree(lengths[:litCount])
	if err != nil {
		return cursor, err
	}
	// A block of pure literals may declare no usable distance codes at all.
	var distTree *huffTree
	for _, l := range lengths[litCount:] {
		if l != 0 {
			distTree, err = buildTree(lengths[litCount:])
			if err != nil {
				return cursor, err
			}
			break
		}
	}
	return inflateBlock(b, litTree, distTree, out, cursor)
}

// inflateBlock runs the shared literal/length/distance decode loop until the
// block's end-of-block symbol.
func inflateBlock(b *bitReader, litTree, distTree *huffTree, out []byte, cursor int) (int, error) {
	for {
		symbol, err := litTree.decodeSymbol(b)
		if err != nil {
			return cursor, err
		}
		if symbol < 256 {
			if cursor >= len(out) {
				return cursor, ErrOutputOverflow
			}
			out[cursor] = byte(symbol)
			cursor++
			continue
		}
		if symbol == 256 {
			return cursor, nil
		}

		symbol -= 257
		if symbol >= len(lengthBase) {
			return cursor, fmt.Errorf("%w: length code %d out of range", ErrCorrupt, symbol+257)
		}
		extra, err := b.read(lengthExtra[symbol])
		if err != nil {
			return cursor, err
		}
		length := lengthBase[symbol] + int(extra)

		if distTree == nil {
			return cursor, fmt.Errorf("%w: length code without distance codes", ErrCorrupt)
		}
		distSymbol, err := distTree.decodeSymbol(b)
		if err != nil {
			return cursor, err
		}
		if distSymbol >= len(distBase) {
			return cursor, fmt.Errorf("%w: distance code %d out of range", ErrCorrupt, distSymbol)
		}
		extra, err = b.read(distExtra[distSymbol])
		if err != nil {
			return cursor, err
		}
		distance := distBase[distSymbol] + int(extra)

		if distance > cursor {
			return cursor, ErrInvalidBackReference
		}
		if cursor+length > len(out) {
			return cursor, ErrOutputOverflow
		}
		src := cursor - distance
		if distance == 1 {
			// Run of one repeated byte, the common RLE shape in image rows.
			v := out[src]
			for i := 0; i < length; i++ {
				out[cursor+i] = v
			}
		} else {
			// Byte-by-byte forward copy; source and destination may overlap.
			for i := 0; i < length; i++ {
				out[cursor+i] = out[src+i]
			}
		}
		cursor += length
	}
}
