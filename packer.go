package spritebatch

import (
	"fmt"
	"slices"
)

// uvTolerance insets UV rectangles by 1/128th of a texel per edge so
// bilinear filtering cannot sample a neighboring atlas entry.
const uvTolerance = 1.0 / 128.0

// PackImage is one input to Pack: an image with its raw pixel bytes.
type PackImage struct {
	ID     ImageID
	Width  int
	Height int
	Pixels []byte
}

// Placement reports where one PackImage landed in the atlas canvas.
type Placement struct {
	Fit bool
	// Pixel rectangle of the image itself, border excluded.
	X int
	Y int
	// Normalized texture coordinates, inset by the bleed tolerance.
	MinU float32
	MinV float32
	MaxU float32
	MaxV float32
}

type PackOptions struct {
	CanvasWidth  int
	CanvasHeight int
	PixelStride  int
	// BorderPixels reserves a one pixel transparent rim around each image.
	BorderPixels bool
	FlipV        bool
}

// PackResult is one built atlas: the canvas pixels, a placement per input
// image (index-aligned), and the fraction of the canvas covered.
type PackResult struct {
	Canvas     []byte
	Placements []Placement
	FillRatio  float64
}

// freeNode is one free rectangle on the packing stack.
type freeNode struct {
	x, y, w, h int
}

// Pack lays out a batch of images into a single fixed-size atlas canvas
// using a guillotine heuristic: images are placed largest perimeter first
// into the best-fitting free rectangle, which is then split along the axis
// leaving the more balanced remainder. Images that fit nowhere are reported
// with Fit=false rather than failing the build.
func Pack(images []PackImage, opts PackOptions) (PackResult, error) {
	if opts.CanvasWidth <= 0 || opts.CanvasHeight <= 0 || opts.PixelStride <= 0 {
		return PackResult{}, fmt.Errorf("%w: canvas %dx%d stride %d",
			ErrInvalidConfig, opts.CanvasWidth, opts.CanvasHeight, opts.PixelStride)
	}

	border := 0
	if opts.BorderPixels {
		border = 1
	}

	// Largest-first reduces fragmentation; the stable sort with an index
	// tie-break keeps packing deterministic.
	order := make([]int, len(images))
	for i := range order {
		order[i] = i
	}
	slices.SortStableFunc(order, func(a, b int) int {
		pa := 2 * (images[a].Width + images[a].Height)
		pb := 2 * (images[b].Width + images[b].Height)
		if pa != pb {
			return pb - pa
		}
		return a - b
	})

	nodes := []freeNode{{0, 0, opts.CanvasWidth, opts.CanvasHeight}}
	placements := make([]Placement, len(images))
	placedArea := 0

	for _, index := range order {
		img := images[index]
		pw := img.Width + 2*border
		ph := img.Height + 2*border

		best := -1
		bestArea := 0
		for i, node := range nodes {
			if node.w < pw || node.h < ph {
				continue
			}
			area := node.w * node.h
			if best < 0 || area < bestArea {
				best, bestArea = i, area
			}
			if area == pw*ph {
				break
			}
		}
		if best < 0 {
			continue
		}

		node := nodes[best]
		if node.w == pw && node.h == ph {
			nodes[best] = nodes[len(nodes)-1]
			nodes = nodes[:len(nodes)-1]
		} else {
			// Guillotine split: cut off the smaller leftover strip as a
			// new node and keep the larger remainder in place.
			dx := node.w - pw
			dy := node.h - ph
			if dx < dy {
				nodes = append(nodes, freeNode{node.x + pw, node.y, dx, ph})
				nodes[best] = freeNode{node.x, node.y + ph, node.w, dy}
			} else {
				nodes = append(nodes, freeNode{node.x, node.y + ph, pw, dy})
				nodes[best] = freeNode{node.x + pw, node.y, dx, node.h}
			}
		}

		placements[index] = placedRect(node.x+border, node.y+border, img.Width, img.Height, opts)
		placedArea += img.Width * img.Height
	}

	canvas := make([]byte, opts.CanvasWidth*opts.CanvasHeight*opts.PixelStride)
	for index, p := range placements {
		if p.Fit {
			blit(canvas, images[index], p.X, p.Y, opts)
		}
	}

	return PackResult{
		Canvas:     canvas,
		Placements: placements,
		FillRatio:  float64(placedArea) / float64(opts.CanvasWidth*opts.CanvasHeight),
	}, nil
}

func placedRect(x, y, w, h int, opts PackOptions) Placement {
	cw := float32(opts.CanvasWidth)
	ch := float32(opts.CanvasHeight)
	p := Placement{
		Fit:  true,
		X:    x,
		Y:    y,
		MinU: (float32(x) + uvTolerance) / cw,
		MaxU: (float32(x+w) - uvTolerance) / cw,
	}
	if opts.FlipV {
		p.MinV = (ch - float32(y+h) + uvTolerance) / ch
		p.MaxV = (ch - float32(y) - uvTolerance) / ch
	} else {
		p.MinV = (float32(y) + uvTolerance) / ch
		p.MaxV = (float32(y+h) - uvTolerance) / ch
	}
	return p
}

// blit copies an image's rows into the canvas. The canvas starts zeroed
// (transparent), so border rims need no explicit clear.
func blit(canvas []byte, img PackImage, x, y int, opts PackOptions) {
	stride := opts.PixelStride
	canvasRow := opts.CanvasWidth * stride
	imageRow := img.Width * stride
	for row := 0; row < img.Height; row++ {
		dst := (y+row)*canvasRow + x*stride
		copy(canvas[dst:dst+imageRow], img.Pixels[row*imageRow:(row+1)*imageRow])
	}
}
