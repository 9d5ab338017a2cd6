// Package spritebatch is a runtime texture atlas cache for 2D sprite
// rendering. Draw requests are pushed each frame, resolved against shared
// atlas textures built on the fly, and emitted as sorted batches grouped by
// texture. Textures that go unreferenced decay and are destroyed; sparse
// atlases are merged. The cache is single-threaded by design and intended
// to be driven once per frame: Push* -> Tick -> Defrag -> Flush.
package spritebatch

import (
	"slices"

	"github.com/rs/zerolog"
)

// Sprite is one draw request. The caller fills ImageID, the dimensions, the
// geometry and SortBits; Flush fills Texture and the UV rectangle before
// handing sprites back through TextureProvider.SubmitBatch.
type Sprite struct {
	ImageID ImageID
	Width   int
	Height  int

	// Geometry, passed through untouched.
	X, Y           float32
	ScaleX, ScaleY float32
	Cos, Sin       float32

	// SortBits is the caller's primary sort key; sprites sort by
	// (SortBits, Texture) ascending before batches are cut.
	SortBits uint64

	// Resolved by Flush.
	Texture TextureID
	MinU    float32
	MinV    float32
	MaxU    float32
	MaxV    float32
}

// Batcher owns the image -> texture mappings. Not safe for concurrent use;
// run it on the render goroutine, or on one dedicated goroutine fed by
// channels.
type Batcher struct {
	config Config
	log    zerolog.Logger

	input []Sprite

	lonely  map[ImageID]*lonelyTexture
	atlases []*atlasTexture
	owner   map[ImageID]*atlasTexture

	scratch []Sprite
}

// New validates the configuration eagerly and returns a ready cache. No
// frame processing happens before validation passes.
func New(config Config) (*Batcher, error) {
	if err := config.validate(); err != nil {
		return nil, err
	}
	return &Batcher{
		config: config,
		log:    config.Logger,
		lonely: map[ImageID]*lonelyTexture{},
		owner:  map[ImageID]*atlasTexture{},
	}, nil
}

// Push queues one draw request for the next Flush. It does not resolve
// anything. Returns false for degenerate dimensions.
func (b *Batcher) Push(s Sprite) bool {
	if s.Width <= 0 || s.Height <= 0 {
		return false
	}
	b.input = append(b.input, s)
	return true
}

// Prefetch registers an image with the cache without materializing a
// texture, so a later Defrag can pack it into an atlas before it is first
// drawn.
func (b *Batcher) Prefetch(id ImageID, width, height int) {
	if width <= 0 || height <= 0 {
		return
	}
	if b.owner[id] != nil || b.lonely[id] != nil {
		return
	}
	b.lonely[id] = &lonelyTexture{id: id, width: width, height: height}
}

// Fetch resolves one image immediately, materializing its texture if
// needed, and returns the resolved sprite. The zero Sprite is returned if
// resolution fails.
func (b *Batcher) Fetch(id ImageID, width, height int) Sprite {
	s := Sprite{ImageID: id, Width: width, Height: height}
	if width <= 0 || height <= 0 || !b.resolve(&s, false) {
		return Sprite{}
	}
	return s
}

// Tick ages every resident texture by one time unit. Call exactly once per
// logical frame, regardless of how often Flush and Defrag run.
func (b *Batcher) Tick() {
	for _, l := range b.lonely {
		l.timestamp++
	}
	for _, a := range b.atlases {
		for _, sub := range a.subs {
			sub.timestamp++
		}
	}
}

// Flush resolves all queued draw requests, sorts them, and emits maximal
// runs sharing a texture through the provider's SubmitBatch. Images with no
// current mapping are materialized as lonely textures on the spot, since
// the caller expects to draw them this frame. The queue is cleared. Returns
// the number of batches emitted.
func (b *Batcher) Flush() int {
	b.scratch = b.scratch[:0]
	for i := range b.input {
		s := b.input[i]
		if b.resolve(&s, false) {
			b.scratch = append(b.scratch, s)
		}
	}
	b.input = b.input[:0]

	if b.config.SortSprites != nil {
		b.config.SortSprites(b.scratch)
	} else {
		slices.SortStableFunc(b.scratch, func(a, c Sprite) int {
			if a.SortBits != c.SortBits {
				if a.SortBits < c.SortBits {
					return -1
				}
				return 1
			}
			if a.Texture != c.Texture {
				if a.Texture < c.Texture {
					return -1
				}
				return 1
			}
			return 0
		})
	}

	batches := 0
	for start := 0; start < len(b.scratch); {
		end := start + 1
		for end < len(b.scratch) && b.scratch[end].Texture == b.scratch[start].Texture {
			end++
		}
		w, h := b.textureDims(b.scratch[start])
		b.config.Provider.SubmitBatch(b.scratch[start:end], w, h)
		batches++
		start = end
	}
	return batches
}

// textureDims reports the dimensions of the texture a resolved sprite is
// bound to: the atlas canvas size, or the lonely image's own size.
func (b *Batcher) textureDims(s Sprite) (int, int) {
	if b.owner[s.ImageID] != nil {
		return b.config.AtlasWidth, b.config.AtlasHeight
	}
	if l := b.lonely[s.ImageID]; l != nil {
		return l.width, l.height
	}
	return s.Width, s.Height
}

// resolve binds one sprite to its current texture mapping, atlas first,
// lonely bucket second. Unknown images become lonely entries; with
// skipMissing set no texture is created for them (the reconciliation mode
// Defrag uses), and resolution reports false.
func (b *Batcher) resolve(s *Sprite, skipMissing bool) bool {
	if a := b.owner[s.ImageID]; a != nil {
		sub := a.subs[s.ImageID]
		sub.timestamp = 0
		s.Texture = a.texture
		s.MinU, s.MinV, s.MaxU, s.MaxV = sub.minU, sub.minV, sub.maxU, sub.maxV
		return true
	}

	l := b.lonely[s.ImageID]
	if l == nil {
		l = &lonelyTexture{id: s.ImageID, width: s.Width, height: s.Height}
		b.lonely[s.ImageID] = l
	}
	l.timestamp = 0
	if !l.created {
		if skipMissing {
			return false
		}
		if !b.materialize(l) {
			return false
		}
	}
	s.Texture = l.texture
	// A lonely texture has no atlas neighbors to bleed from; the full
	// rectangle is safe.
	s.MinU, s.MaxU = 0, 1
	s.MinV, s.MaxV = 0, 1
	if b.config.FlipUVs {
		s.MinV, s.MaxV = 1, 0
	}
	return true
}

// materialize fetches a lonely image's pixels and creates its standalone
// texture. A fetch failure leaves the entry pending and is logged rather
// than propagated; the sprite simply does not draw this frame.
func (b *Batcher) materialize(l *lonelyTexture) bool {
	pixels := make([]byte, l.width*l.height*b.config.PixelStride)
	if err := b.config.Provider.FetchPixels(l.id, pixels); err != nil {
		b.log.Error().Err(err).Uint64("image", uint64(l.id)).Msg("pixel fetch failed")
		return false
	}
	l.texture = b.config.Provider.CreateTexture(pixels, l.width, l.height)
	l.created = true
	return true
}

// Invalidate evicts one image from the cache regardless of decay state. Its
// standalone texture, if any, is destroyed; an atlased image merely loses
// its mapping, leaving dead space that atlas merging reclaims later.
func (b *Batcher) Invalidate(id ImageID) {
	if a := b.owner[id]; a != nil {
		sub := a.subs[id]
		a.fillRatio -= float64(sub.width*sub.height) / float64(b.config.AtlasWidth*b.config.AtlasHeight)
		delete(a.subs, id)
		delete(b.owner, id)
		return
	}
	if l := b.lonely[id]; l != nil {
		if l.created {
			b.config.Provider.DestroyTexture(l.texture)
		}
		delete(b.lonely, id)
	}
}

// Release destroys every live texture and empties the cache. The Batcher
// remains usable afterwards.
func (b *Batcher) Release() {
	for id, l := range b.lonely {
		if l.created {
			b.config.Provider.DestroyTexture(l.texture)
		}
		delete(b.lonely, id)
	}
	for _, a := range b.atlases {
		b.config.Provider.DestroyTexture(a.texture)
	}
	b.atlases = b.atlases[:0]
	clear(b.owner)
	b.input = b.input[:0]
}
