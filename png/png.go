// Package png loads PNG images into raw RGBA pixel buffers using the
// in-tree DEFLATE decoder. It supports 8-bit depth, color types
// 0/2/3/4/6, and non-interlaced streams only, which covers what game
// asset pipelines emit.
package png

import (
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"
	"hash/adler32"

	"github.com/flippedbit/go-spritebatch/deflate"
)

var (
	ErrBadSignature = errors.New("png: signature did not match")
	ErrUnsupported  = errors.New("png: unsupported feature")
	ErrCorrupt      = errors.New("png: corrupt file")
)

var pngSignature = [8]byte{0x89, 'P', 'N', 'G', '\r', '\n', 0x1A, '\n'}

// Image is a fully decoded PNG: 4 bytes per pixel RGBA, rows top to bottom.
type Image struct {
	Width  int
	Height int
	Pixels []byte
}

const (
	colorGray      = 0
	colorRGB       = 2
	colorPalette   = 3
	colorGrayAlpha = 4
	colorRGBA      = 6
)

// bytesPerPixel in the raw (pre-expansion) scanline stream, by color type.
var rawChannels = map[byte]int{
	colorGray:      1,
	colorRGB:       3,
	colorPalette:   1,
	colorGrayAlpha: 2,
	colorRGBA:      4,
}

type ihdr struct {
	Width       uint32
	Height      uint32
	BitDepth    byte
	ColorType   byte
	Compression byte
	Filter      byte
	Interlace   byte
}

// Decode parses the PNG in data and returns its pixels as RGBA. On any
// error no partially decoded image is returned.
func Decode(data []byte) (*Image, error) {
	if len(data) < len(pngSignature) || [8]byte(data[:8]) != pngSignature {
		return nil, ErrBadSignature
	}
	data = data[8:]

	var header ihdr
	var haveHeader bool
	var palette []byte
	var transparency []byte
	var idat []byte

chunks:
	for {
		if len(data) < 8 {
			return nil, fmt.Errorf("%w: unterminated chunk stream", ErrCorrupt)
		}
		length := int(binary.BigEndian.Uint32(data))
		chunkType := string(data[4:8])
		data = data[8:]
		if length < 0 || len(data) < length+4 {
			return nil, fmt.Errorf("%w: chunk %q overruns file", ErrCorrupt, chunkType)
		}
		payload := data[:length]
		// Chunk CRCs are not verified; corrupt streams fail structural
		// checks during inflate instead.
		data = data[length+4:]

		switch chunkType {
		case "IHDR":
			if err := binary.Read(bytes.NewReader(payload), binary.BigEndian, &header); err != nil {
				return nil, fmt.Errorf("%w: short IHDR", ErrCorrupt)
			}
			haveHeader = true
		case "PLTE":
			if length%3 != 0 || length > 3*256 {
				return nil, fmt.Errorf("%w: bad PLTE size %d", ErrCorrupt, length)
			}
			palette = payload
		case "tRNS":
			transparency = payload
		case "IDAT":
			idat = append(idat, payload...)
		case "IEND":
			break chunks
		}
	}

	if !haveHeader {
		return nil, fmt.Errorf("%w: missing IHDR", ErrCorrupt)
	}
	if header.BitDepth != 8 {
		return nil, fmt.Errorf("%w: bit depth %d", ErrUnsupported, header.BitDepth)
	}
	channels, ok := rawChannels[header.ColorType]
	if !ok {
		return nil, fmt.Errorf("%w: color type %d", ErrCorrupt, header.ColorType)
	}
	if header.Compression != 0 || header.Filter != 0 {
		return nil, fmt.Errorf("%w: nonstandard compression/filter method", ErrUnsupported)
	}
	if header.Interlace != 0 {
		return nil, fmt.Errorf("%w: interlaced stream", ErrUnsupported)
	}
	if header.ColorType == colorPalette && palette == nil {
		return nil, fmt.Errorf("%w: palette image without PLTE", ErrCorrupt)
	}

	w, h := int(header.Width), int(header.Height)
	if w <= 0 || h <= 0 || w > 1<<24 || h > 1<<24 || w*h > 1<<28 {
		return nil, fmt.Errorf("%w: implausible dimensions %dx%d", ErrCorrupt, w, h)
	}

	raw, err := inflateIdat(idat, (1+w*channels)*h)
	if err != nil {
		return nil, err
	}
	pixels, err := unfilter(raw, w, h, channels)
	if err != nil {
		return nil, err
	}
	rgba, err := expandToRGBA(pixels, w, h, header.ColorType, palette, transparency)
	if err != nil {
		return nil, err
	}
	return &Image{Width: w, Height: h, Pixels: rgba}, nil
}

// inflateIdat strips the zlib framing from the concatenated IDAT payloads
// and inflates the body into a buffer of exactly rawSize bytes.
func inflateIdat(idat []byte, rawSize int) ([]byte, error) {
	if len(idat) < 6 {
		return nil, fmt.Errorf("%w: zlib stream too short", ErrCorrupt)
	}
	cmf, flg := idat[0], idat[1]
	if cmf&0x0F != 8 {
		return nil, fmt.Errorf("%w: zlib compression method %d", ErrCorrupt, cmf&0x0F)
	}
	if (uint16(cmf)<<8|uint16(flg))%31 != 0 {
		return nil, fmt.Errorf("%w: zlib header check failed", ErrCorrupt)
	}
	if flg&0x20 != 0 {
		return nil, fmt.Errorf("%w: zlib preset dictionary", ErrUnsupported)
	}

	body := idat[2 : len(idat)-4]
	raw := make([]byte, rawSize)
	if err := deflate.Inflate(body, raw); err != nil {
		return nil, err
	}
	declared := binary.BigEndian.Uint32(idat[len(idat)-4:])
	if adler32.Checksum(raw) != declared {
		return nil, fmt.Errorf("%w: Adler-32 mismatch", ErrCorrupt)
	}
	return raw, nil
}

// expandToRGBA converts defiltered scanline bytes to 4-byte RGBA pixels.
func expandToRGBA(pixels []byte, w, h int, colorType byte, palette, transparency []byte) ([]byte, error) {
	out := make([]byte, w*h*4)
	count := w * h
	switch colorType {
	case colorRGBA:
		copy(out, pixels)
	case colorRGB:
		for i := 0; i < count; i++ {
			out[i*4+0] = pixels[i*3+0]
			out[i*4+1] = pixels[i*3+1]
			out[i*4+2] = pixels[i*3+2]
			out[i*4+3] = 0xFF
		}
	case colorGray:
		for i := 0; i < count; i++ {
			g := pixels[i]
			out[i*4+0] = g
			out[i*4+1] = g
			out[i*4+2] = g
			out[i*4+3] = 0xFF
		}
	case colorGrayAlpha:
		for i := 0; i < count; i++ {
			g := pixels[i*2]
			out[i*4+0] = g
			out[i*4+1] = g
			out[i*4+2] = g
			out[i*4+3] = pixels[i*2+1]
		}
	case colorPalette:
		for i := 0; i < count; i++ {
			index := int(pixels[i])
			if index*3+2 >= len(palette) {
				return nil, fmt.Errorf("%w: palette index %d out of range", ErrCorrupt, index)
			}
			out[i*4+0] = palette[index*3+0]
			out[i*4+1] = palette[index*3+1]
			out[i*4+2] = palette[index*3+2]
			if index < len(transparency) {
				out[i*4+3] = transparency[index]
			} else {
				out[i*4+3] = 0xFF
			}
		}
	}
	return out, nil
}
