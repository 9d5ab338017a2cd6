package spritebatch

import (
	"fmt"
	"slices"
)

// Defrag runs the maintenance pass, decoupled from Flush so its cost can be
// amortized over frames:
//
//  1. atlases with too many decayed entries are flushed back to the lonely
//     bucket,
//  2. sparse atlases are greedily paired and flushed for repacking,
//  3. decayed lonely textures are destroyed,
//  4. the pending input queue is reconciled without creating textures,
//  5. the lonely bucket is drained into newly packed atlases.
//
// An atlas build pass that places zero images aborts with ErrImageTooLarge;
// atlas state committed by earlier passes is unaffected.
func (b *Batcher) Defrag() error {
	b.decayAtlases()
	b.mergeAtlases()
	b.decayLonely()
	b.reconcilePending()
	return b.buildAtlases()
}

// decayAtlases flushes every atlas whose decayed-entry fraction exceeds the
// configured ratio. Live images survive in the lonely bucket; decayed ones
// die with the atlas texture.
func (b *Batcher) decayAtlases() {
	for _, a := range slices.Clone(b.atlases) {
		decayed := 0
		for _, sub := range a.subs {
			if sub.timestamp >= b.config.TicksToDecayTexture {
				decayed++
			}
		}
		if len(a.subs) == 0 || float64(decayed)/float64(len(a.subs)) > b.config.RatioToDecayAtlas {
			b.log.Debug().
				Uint64("texture", uint64(a.texture)).
				Int("decayed", decayed).
				Int("total", len(a.subs)).
				Msg("flushing decayed atlas")
			b.flushAtlas(a)
		}
	}
}

// mergeAtlases pairs up atlases whose fill ratio dropped below the merge
// threshold and flushes both, so the next build pass repacks their live
// images into one denser atlas. Greedy and local, never globally optimal,
// but bounded.
func (b *Batcher) mergeAtlases() {
	var pending *atlasTexture
	for _, a := range slices.Clone(b.atlases) {
		if a.fillRatio >= b.config.RatioToMergeAtlases {
			continue
		}
		if pending == nil {
			pending = a
			continue
		}
		b.log.Debug().
			Uint64("texture_a", uint64(pending.texture)).
			Uint64("texture_b", uint64(a.texture)).
			Msg("merging sparse atlases")
		b.flushAtlas(pending)
		b.flushAtlas(a)
		pending = nil
	}
}

// decayLonely destroys every lonely texture whose age reached the decay
// threshold.
func (b *Batcher) decayLonely() {
	evicted := 0
	for id, l := range b.lonely {
		if l.timestamp >= b.config.TicksToDecayTexture {
			if l.created {
				b.config.Provider.DestroyTexture(l.texture)
			}
			delete(b.lonely, id)
			evicted++
		}
	}
	if evicted > 0 {
		b.log.Debug().Int("count", evicted).Msg("decayed lonely textures")
	}
}

// reconcilePending re-resolves the queued draw requests without
// materializing anything, so images still wanted this frame register as
// lonely entries (and reset their timestamps) before the build pass below
// decides what to pack. Unresolved requests stay queued for the next Flush.
func (b *Batcher) reconcilePending() {
	for i := range b.input {
		s := b.input[i]
		b.resolve(&s, true)
	}
}

// buildAtlases drains the lonely bucket into new atlases while it exceeds
// the configured threshold. Each pass is all-or-nothing: the atlas texture
// is created only after packing succeeds.
func (b *Batcher) buildAtlases() error {
	for len(b.lonely) > b.config.LonelyBufferCountTillFlush {
		if err := b.buildAtlas(); err != nil {
			return err
		}
	}
	return nil
}

func (b *Batcher) buildAtlas() error {
	images := make([]PackImage, 0, len(b.lonely))
	for _, l := range b.lonely {
		images = append(images, PackImage{ID: l.id, Width: l.width, Height: l.height})
	}
	// Map order is random; fix it so packing is deterministic.
	slices.SortFunc(images, func(a, c PackImage) int {
		if a.ID < c.ID {
			return -1
		}
		return 1
	})

	stride := b.config.PixelStride
	for i := range images {
		images[i].Pixels = make([]byte, images[i].Width*images[i].Height*stride)
		if err := b.config.Provider.FetchPixels(images[i].ID, images[i].Pixels); err != nil {
			return fmt.Errorf("spritebatch: fetching image %d for atlas: %w", images[i].ID, err)
		}
	}

	result, err := Pack(images, PackOptions{
		CanvasWidth:  b.config.AtlasWidth,
		CanvasHeight: b.config.AtlasHeight,
		PixelStride:  stride,
		BorderPixels: b.config.UseBorderPixels,
		FlipV:        b.config.FlipUVs,
	})
	if err != nil {
		return err
	}

	placed := 0
	for _, p := range result.Placements {
		if p.Fit {
			placed++
		}
	}
	if placed == 0 {
		// With no placements the free list is still the whole canvas, so
		// every image here failed against an empty atlas and can never
		// fit. Looping again would never terminate; name an offender.
		img := images[0]
		return fmt.Errorf("%w: image %d is %dx%d, atlas is %dx%d",
			ErrImageTooLarge, img.ID, img.Width, img.Height, b.config.AtlasWidth, b.config.AtlasHeight)
	}

	a := &atlasTexture{
		texture:   b.config.Provider.CreateTexture(result.Canvas, b.config.AtlasWidth, b.config.AtlasHeight),
		fillRatio: result.FillRatio,
		subs:      make(map[ImageID]*subTexture, placed),
	}
	b.atlases = append(b.atlases, a)
	for i, p := range result.Placements {
		if !p.Fit {
			continue
		}
		b.adoptSub(a, b.lonely[images[i].ID], &subTexture{
			width:  images[i].Width,
			height: images[i].Height,
			minU:   p.MinU,
			minV:   p.MinV,
			maxU:   p.MaxU,
			maxV:   p.MaxV,
		})
	}

	b.log.Debug().
		Uint64("texture", uint64(a.texture)).
		Int("images", placed).
		Float64("fill_ratio", a.fillRatio).
		Msg("built atlas")
	return nil
}
