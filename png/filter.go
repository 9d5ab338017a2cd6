package png

import "fmt"

// Scanline filter types (PNG spec §9).
const (
	filterNone = iota
	filterSub
	filterUp
	filterAverage
	filterPaeth
)

// unfilter reverses per-scanline filtering. raw holds h rows of
// 1+w*channels bytes each, the leading byte of every row naming its filter.
// The returned buffer holds the bare w*channels bytes per row.
func unfilter(raw []byte, w, h, channels int) ([]byte, error) {
	rowBytes := w * channels
	out := make([]byte, rowBytes*h)
	var prior []byte
	for y := 0; y < h; y++ {
		filter := raw[y*(rowBytes+1)]
		src := raw[y*(rowBytes+1)+1 : (y+1)*(rowBytes+1)]
		row := out[y*rowBytes : (y+1)*rowBytes]
		switch filter {
		case filterNone:
			copy(row, src)
		case filterSub:
			for x := 0; x < rowBytes; x++ {
				row[x] = src[x] + left(row, x, channels)
			}
		case filterUp:
			for x := 0; x < rowBytes; x++ {
				row[x] = src[x] + up(prior, x)
			}
		case filterAverage:
			for x := 0; x < rowBytes; x++ {
				row[x] = src[x] + byte((int(left(row, x, channels))+int(up(prior, x)))/2)
			}
		case filterPaeth:
			for x := 0; x < rowBytes; x++ {
				row[x] = src[x] + paeth(left(row, x, channels), up(prior, x), upLeft(prior, x, channels))
			}
		default:
			return nil, fmt.Errorf("%w: scanline filter type %d", ErrCorrupt, filter)
		}
		prior = row
	}
	return out, nil
}

func left(row []byte, x, channels int) byte {
	if x < channels {
		return 0
	}
	return row[x-channels]
}

func up(prior []byte, x int) byte {
	if prior == nil {
		return 0
	}
	return prior[x]
}

func upLeft(prior []byte, x, channels int) byte {
	if prior == nil || x < channels {
		return 0
	}
	return prior[x-channels]
}

// paeth picks whichever of a (left), b (up), c (up-left) is closest to
// a+b-c, preferring a, then b (PNG spec §9.4).
func paeth(a, b, c byte) byte {
	p := int(a) + int(b) - int(c)
	pa, pb, pc := abs(p-int(a)), abs(p-int(b)), abs(p-int(c))
	if pa <= pb && pa <= pc {
		return a
	}
	if pb <= pc {
		return b
	}
	return c
}

func abs(v int) int {
	if v < 0 {
		return -v
	}
	return v
}
