package png

import (
	"bytes"
	"compress/zlib"
	"encoding/binary"
	"hash/crc32"
	"image"
	"image/color"
	stdpng "image/png"
	"math/rand"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// encodePNG builds a PNG file from explicit chunks, for color types and
// corruption cases the stdlib encoder will not produce.
func encodePNG(t *testing.T, chunks ...[2][]byte) []byte {
	t.Helper()
	var buf bytes.Buffer
	buf.Write(pngSignature[:])
	for _, chunk := range chunks {
		name, payload := chunk[0], chunk[1]
		var length [4]byte
		binary.BigEndian.PutUint32(length[:], uint32(len(payload)))
		buf.Write(length[:])
		buf.Write(name)
		buf.Write(payload)
		crc := crc32.NewIEEE()
		crc.Write(name)
		crc.Write(payload)
		var sum [4]byte
		binary.BigEndian.PutUint32(sum[:], crc.Sum32())
		buf.Write(sum[:])
	}
	return buf.Bytes()
}

func chunk(name string, payload []byte) [2][]byte {
	return [2][]byte{[]byte(name), payload}
}

func ihdrChunk(w, h int, colorType byte) [2][]byte {
	payload := make([]byte, 13)
	binary.BigEndian.PutUint32(payload, uint32(w))
	binary.BigEndian.PutUint32(payload[4:], uint32(h))
	payload[8] = 8 // bit depth
	payload[9] = colorType
	return chunk("IHDR", payload)
}

// idatChunk zlib-compresses raw scanlines (filter byte included per row).
func idatChunk(t *testing.T, raw []byte) [2][]byte {
	t.Helper()
	var buf bytes.Buffer
	zw := zlib.NewWriter(&buf)
	_, err := zw.Write(raw)
	require.NoError(t, err)
	require.NoError(t, zw.Close())
	return chunk("IDAT", buf.Bytes())
}

func TestDecodeMatchesStdlib(t *testing.T) {
	rng := rand.New(rand.NewSource(7))

	images := map[string]image.Image{}

	nrgba := image.NewNRGBA(image.Rect(0, 0, 37, 23))
	rng.Read(nrgba.Pix)
	images["nrgba"] = nrgba

	gray := image.NewGray(image.Rect(0, 0, 16, 16))
	rng.Read(gray.Pix)
	images["gray"] = gray

	// More than 16 colors forces the stdlib encoder to 8-bit palette depth.
	paletted := image.NewPaletted(image.Rect(0, 0, 31, 9), nil)
	var pal color.Palette
	for i := 0; i < 200; i++ {
		pal = append(pal, color.NRGBA{R: uint8(rng.Intn(256)), G: uint8(rng.Intn(256)), B: uint8(rng.Intn(256)), A: 0xFF})
	}
	paletted.Palette = pal
	for i := range paletted.Pix {
		paletted.Pix[i] = uint8(rng.Intn(200))
	}
	images["paletted"] = paletted

	// Smooth gradients push the stdlib encoder into sub/up/paeth filters.
	gradient := image.NewNRGBA(image.Rect(0, 0, 64, 64))
	for y := 0; y < 64; y++ {
		for x := 0; x < 64; x++ {
			gradient.SetNRGBA(x, y, color.NRGBA{R: uint8(x * 4), G: uint8(y * 4), B: uint8(x + y), A: 0xFF})
		}
	}
	images["gradient"] = gradient

	for name, src := range images {
		t.Run(name, func(t *testing.T) {
			var buf bytes.Buffer
			require.NoError(t, stdpng.Encode(&buf, src))

			img, err := Decode(buf.Bytes())
			require.NoError(t, err)

			bounds := src.Bounds()
			require.Equal(t, bounds.Dx(), img.Width)
			require.Equal(t, bounds.Dy(), img.Height)
			for y := 0; y < img.Height; y++ {
				for x := 0; x < img.Width; x++ {
					want := color.NRGBAModel.Convert(src.At(bounds.Min.X+x, bounds.Min.Y+y)).(color.NRGBA)
					at := (y*img.Width + x) * 4
					got := color.NRGBA{R: img.Pixels[at], G: img.Pixels[at+1], B: img.Pixels[at+2], A: img.Pixels[at+3]}
					require.Equal(t, want, got, "pixel (%d,%d)", x, y)
				}
			}
		})
	}
}

func TestDecodeGrayAlpha(t *testing.T) {
	// Color type 4 is never emitted by the stdlib encoder; build it by hand.
	const w, h = 3, 2
	raw := []byte{
		filterNone, 10, 0xFF, 20, 0x80, 30, 0x00,
		filterSub, 5, 1, 5, 1, 5, 1,
	}
	data := encodePNG(t,
		ihdrChunk(w, h, colorGrayAlpha),
		idatChunk(t, raw),
		chunk("IEND", nil),
	)
	img, err := Decode(data)
	require.NoError(t, err)
	assert.Equal(t, []byte{
		10, 10, 10, 0xFF, 20, 20, 20, 0x80, 30, 30, 30, 0x00,
		5, 5, 5, 1, 10, 10, 10, 2, 15, 15, 15, 3,
	}, img.Pixels)
}

func TestDecodePaletteTransparency(t *testing.T) {
	raw := []byte{filterNone, 0, 1, 2}
	data := encodePNG(t,
		ihdrChunk(3, 1, colorPalette),
		chunk("PLTE", []byte{10, 11, 12, 20, 21, 22, 30, 31, 32}),
		chunk("tRNS", []byte{0x80, 0x40}),
		idatChunk(t, raw),
		chunk("IEND", nil),
	)
	img, err := Decode(data)
	require.NoError(t, err)
	assert.Equal(t, []byte{
		10, 11, 12, 0x80,
		20, 21, 22, 0x40,
		30, 31, 32, 0xFF,
	}, img.Pixels)
}

func TestDecodeSplitIdat(t *testing.T) {
	// IDAT payloads concatenate before inflating.
	raw := []byte{filterNone, 1, 2, 3}
	var buf bytes.Buffer
	zw := zlib.NewWriter(&buf)
	_, err := zw.Write(raw)
	require.NoError(t, err)
	require.NoError(t, zw.Close())
	stream := buf.Bytes()

	data := encodePNG(t,
		ihdrChunk(3, 1, colorGray),
		chunk("IDAT", stream[:3]),
		chunk("IDAT", stream[3:]),
		chunk("IEND", nil),
	)
	img, err := Decode(data)
	require.NoError(t, err)
	assert.Equal(t, []byte{1, 1, 1, 0xFF, 2, 2, 2, 0xFF, 3, 3, 3, 0xFF}, img.Pixels)
}

func TestDecodeErrors(t *testing.T) {
	valid := encodePNG(t,
		ihdrChunk(3, 1, colorGray),
		idatChunk(t, []byte{filterNone, 1, 2, 3}),
		chunk("IEND", nil),
	)

	t.Run("bad signature", func(t *testing.T) {
		data := bytes.Clone(valid)
		data[0] = 'X'
		_, err := Decode(data)
		assert.ErrorIs(t, err, ErrBadSignature)
	})

	t.Run("truncated", func(t *testing.T) {
		_, err := Decode(valid[:len(valid)-6])
		assert.ErrorIs(t, err, ErrCorrupt)
	})

	t.Run("interlaced", func(t *testing.T) {
		header := ihdrChunk(3, 1, colorGray)
		header[1][12] = 1
		_, err := Decode(encodePNG(t, header, idatChunk(t, []byte{filterNone, 1, 2, 3}), chunk("IEND", nil)))
		assert.ErrorIs(t, err, ErrUnsupported)
	})

	t.Run("16-bit depth", func(t *testing.T) {
		header := ihdrChunk(3, 1, colorGray)
		header[1][8] = 16
		_, err := Decode(encodePNG(t, header, idatChunk(t, []byte{filterNone, 1, 2, 3}), chunk("IEND", nil)))
		assert.ErrorIs(t, err, ErrUnsupported)
	})

	t.Run("missing palette", func(t *testing.T) {
		_, err := Decode(encodePNG(t,
			ihdrChunk(3, 1, colorPalette),
			idatChunk(t, []byte{filterNone, 0, 0, 0}),
			chunk("IEND", nil),
		))
		assert.ErrorIs(t, err, ErrCorrupt)
	})

	t.Run("bad zlib method", func(t *testing.T) {
		var buf bytes.Buffer
		zw := zlib.NewWriter(&buf)
		zw.Write([]byte{filterNone, 1, 2, 3})
		zw.Close()
		stream := buf.Bytes()
		stream[0] = (stream[0] & 0xF0) | 7
		_, err := Decode(encodePNG(t, ihdrChunk(3, 1, colorGray), chunk("IDAT", stream), chunk("IEND", nil)))
		assert.ErrorIs(t, err, ErrCorrupt)
	})

	t.Run("adler mismatch", func(t *testing.T) {
		var buf bytes.Buffer
		zw := zlib.NewWriter(&buf)
		zw.Write([]byte{filterNone, 1, 2, 3})
		zw.Close()
		stream := buf.Bytes()
		stream[len(stream)-1] ^= 0xFF
		_, err := Decode(encodePNG(t, ihdrChunk(3, 1, colorGray), chunk("IDAT", stream), chunk("IEND", nil)))
		assert.ErrorIs(t, err, ErrCorrupt)
	})

	t.Run("wrong inflated size", func(t *testing.T) {
		// Scanlines for a 4px row inside a 3px header.
		_, err := Decode(encodePNG(t,
			ihdrChunk(3, 1, colorGray),
			idatChunk(t, []byte{filterNone, 1, 2, 3, 4}),
			chunk("IEND", nil),
		))
		assert.Error(t, err)
	})
}
