package deflate

import (
	"bytes"
	"compress/flate"
	"math/rand"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// bitWriter builds DEFLATE bitstreams for tests, LSB-first within each byte.
type bitWriter struct {
	bytes []byte
	bit   int
}

func (w *bitWriter) writeBits(value uint32, count int) {
	for i := 0; i < count; i++ {
		if w.bit == 0 {
			w.bytes = append(w.bytes, 0)
		}
		if value>>i&1 == 1 {
			w.bytes[len(w.bytes)-1] |= 1 << w.bit
		}
		w.bit = (w.bit + 1) % 8
	}
}

// writeCode emits a Huffman code MSB-first, as codes appear on the wire.
func (w *bitWriter) writeCode(code uint32, length int) {
	for i := length - 1; i >= 0; i-- {
		w.writeBits(code>>i&1, 1)
	}
}

func TestInflateStoredBlock(t *testing.T) {
	// BFINAL=1, BTYPE=0, LEN=5, NLEN=^5, then the raw payload.
	in := []byte{0x01, 0x05, 0x00, 0xFA, 0xFF, 'a', 'b', 'c', 'd', 'e'}
	out := make([]byte, 5)
	require.NoError(t, Inflate(in, out))
	assert.Equal(t, []byte("abcde"), out)
}

func TestInflateStoredTruncated(t *testing.T) {
	// LEN declares 10 bytes but only 8 remain in the input.
	in := []byte{0x01, 0x0A, 0x00, 0xF5, 0xFF, 1, 2, 3, 4, 5, 6, 7, 8}
	out := make([]byte, 10)
	err := Inflate(in, out)
	require.ErrorIs(t, err, ErrTruncated)
	assert.Equal(t, make([]byte, 10), out, "nothing may be written on truncation")
}

func TestInflateStoredBadNlen(t *testing.T) {
	in := []byte{0x01, 0x05, 0x00, 0xFB, 0xFF, 'a', 'b', 'c', 'd', 'e'}
	err := Inflate(in, make([]byte, 5))
	assert.ErrorIs(t, err, ErrCorrupt)
}

func TestInflateReservedBlockType(t *testing.T) {
	err := Inflate([]byte{0x07}, make([]byte, 1))
	assert.ErrorIs(t, err, ErrCorrupt)
}

func TestInflateOutputOverflow(t *testing.T) {
	in := []byte{0x01, 0x05, 0x00, 0xFA, 0xFF, 'a', 'b', 'c', 'd', 'e'}
	err := Inflate(in, make([]byte, 3))
	assert.ErrorIs(t, err, ErrOutputOverflow)
}

func TestInflateInvalidBackReference(t *testing.T) {
	// Fixed-Huffman block: one literal, then a match of length 3 at
	// distance 2 with only one byte of output behind the cursor.
	var w bitWriter
	w.writeBits(1, 1) // BFINAL
	w.writeBits(1, 2) // BTYPE=fixed
	w.writeCode(0x30+'a', 8)
	w.writeCode(1, 7) // length code 257 (length 3)
	w.writeCode(1, 5) // distance code 1 (distance 2)
	err := Inflate(w.bytes, make([]byte, 16))
	assert.ErrorIs(t, err, ErrInvalidBackReference)
}

func TestInflateFixedBlock(t *testing.T) {
	// "aaaa" as one literal plus a distance-1 match of length 3.
	var w bitWriter
	w.writeBits(1, 1)
	w.writeBits(1, 2)
	w.writeCode(0x30+'a', 8)
	w.writeCode(1, 7) // length 3
	w.writeCode(0, 5) // distance 1
	w.writeCode(0, 7) // end of block
	out := make([]byte, 4)
	require.NoError(t, Inflate(w.bytes, out))
	assert.Equal(t, []byte("aaaa"), out)
}

func TestInflateEndsShort(t *testing.T) {
	in := []byte{0x01, 0x02, 0x00, 0xFD, 0xFF, 'h', 'i'}
	err := Inflate(in, make([]byte, 5))
	assert.ErrorIs(t, err, ErrCorrupt)
}

func TestInflateRoundTrip(t *testing.T) {
	rng := rand.New(rand.NewSource(1))
	random := make([]byte, 1<<16)
	rng.Read(random)

	payloads := map[string][]byte{
		"empty":      {},
		"byte":       {0x42},
		"text":       []byte(strings.Repeat("the quick brown fox jumps over the lazy dog. ", 200)),
		"runs":       bytes.Repeat([]byte{0, 0, 0, 0xFF}, 5000),
		"random":     random,
		"row-filter": append(make([]byte, 4096), bytes.Repeat([]byte{1, 2, 3, 4}, 1024)...),
	}
	levels := map[string]int{
		"huffman-only": flate.HuffmanOnly,
		"stored":       flate.NoCompression,
		"fast":         flate.BestSpeed,
		"best":         flate.BestCompression,
	}

	for payloadName, payload := range payloads {
		for levelName, level := range levels {
			t.Run(payloadName+"/"+levelName, func(t *testing.T) {
				var compressed bytes.Buffer
				fw, err := flate.NewWriter(&compressed, level)
				require.NoError(t, err)
				_, err = fw.Write(payload)
				require.NoError(t, err)
				require.NoError(t, fw.Close())

				out := make([]byte, len(payload))
				require.NoError(t, Inflate(compressed.Bytes(), out))
				assert.Equal(t, payload, out)
			})
		}
	}
}

func TestInflateMultipleBlocks(t *testing.T) {
	// Flush forces a block boundary plus an empty stored sync block.
	var compressed bytes.Buffer
	fw, err := flate.NewWriter(&compressed, flate.BestSpeed)
	require.NoError(t, err)
	first := bytes.Repeat([]byte("abc"), 1000)
	second := bytes.Repeat([]byte("xyz"), 1000)
	_, err = fw.Write(first)
	require.NoError(t, err)
	require.NoError(t, fw.Flush())
	_, err = fw.Write(second)
	require.NoError(t, err)
	require.NoError(t, fw.Close())

	out := make([]byte, len(first)+len(second))
	require.NoError(t, Inflate(compressed.Bytes(), out))
	assert.Equal(t, append(first, second...), out)
}
