package spritebatch

import (
	"errors"
	"fmt"

	"github.com/rs/zerolog"
)

var (
	// ErrInvalidConfig is returned by New for malformed configuration.
	ErrInvalidConfig = errors.New("spritebatch: invalid config")
	// ErrImageTooLarge is returned by Defrag when an atlas build pass
	// cannot place a single image because it exceeds the atlas dimensions.
	ErrImageTooLarge = errors.New("spritebatch: image too large for atlas")
)

// ImageID is an opaque application-assigned image key. The cache never
// interprets it beyond map lookups.
type ImageID uint64

// TextureID is a handle in the caller's texture namespace, produced by
// TextureProvider.CreateTexture.
type TextureID uint64

// TextureProvider supplies pixel data and owns the texture namespace. All
// methods are called synchronously from the cache's own goroutine; they must
// not call back into the Batcher. FetchPixels should serve from memory
// already resident, not disk.
type TextureProvider interface {
	// FetchPixels fills dst (width*height*PixelStride bytes) with the
	// pixels of the given image.
	FetchPixels(id ImageID, dst []byte) error
	// CreateTexture uploads pixels and returns a handle for them.
	CreateTexture(pixels []byte, width, height int) TextureID
	// DestroyTexture releases a handle previously returned by CreateTexture.
	DestroyTexture(id TextureID)
	// SubmitBatch receives one run of resolved sprites sharing a texture,
	// along with that texture's dimensions. The slice is reused; it is
	// only valid for the duration of the call.
	SubmitBatch(sprites []Sprite, textureWidth, textureHeight int)
}

type Config struct {
	// PixelStride is the number of bytes per pixel.
	PixelStride int
	// Atlas canvas dimensions in pixels.
	AtlasWidth  int
	AtlasHeight int
	// UseBorderPixels packs each image with a one pixel transparent border
	// so bilinear sampling cannot bleed between atlas neighbors.
	UseBorderPixels bool
	// FlipUVs flips the V axis of emitted UV rectangles.
	FlipUVs bool

	// TicksToDecayTexture is how many ticks an image may go unreferenced
	// before its texture is evicted. Must be at least 1.
	TicksToDecayTexture int
	// LonelyBufferCountTillFlush is the lonely bucket size above which
	// Defrag packs lonely images into a new atlas.
	LonelyBufferCountTillFlush int
	// RatioToDecayAtlas is the decayed-texture fraction above which an
	// entire atlas is flushed back to the lonely bucket. In [0,1].
	RatioToDecayAtlas float64
	// RatioToMergeAtlases is the fill ratio below which atlases are paired
	// up and flushed for repacking. In [0,0.5].
	RatioToMergeAtlases float64

	Provider TextureProvider
	// SortSprites optionally replaces the default (SortBits, Texture)
	// ordering applied before batches are cut.
	SortSprites func([]Sprite)
	Logger      zerolog.Logger
}

// DefaultConfig returns the recommended configuration: RGBA pixels,
// 1024x1024 atlases, three seconds of decay at 60 ticks per second.
func DefaultConfig(provider TextureProvider) Config {
	return Config{
		PixelStride:                4,
		AtlasWidth:                 1024,
		AtlasHeight:                1024,
		TicksToDecayTexture:        3 * 60,
		LonelyBufferCountTillFlush: 64,
		RatioToDecayAtlas:          0.5,
		RatioToMergeAtlases:        0.25,
		Provider:                   provider,
		Logger:                     zerolog.Nop(),
	}
}

func (c Config) validate() error {
	switch {
	case c.Provider == nil:
		return fmt.Errorf("%w: Provider is required", ErrInvalidConfig)
	case c.PixelStride <= 0:
		return fmt.Errorf("%w: PixelStride %d", ErrInvalidConfig, c.PixelStride)
	case c.AtlasWidth <= 0 || c.AtlasHeight <= 0:
		return fmt.Errorf("%w: atlas dimensions %dx%d", ErrInvalidConfig, c.AtlasWidth, c.AtlasHeight)
	case c.TicksToDecayTexture < 1:
		return fmt.Errorf("%w: TicksToDecayTexture %d", ErrInvalidConfig, c.TicksToDecayTexture)
	case c.LonelyBufferCountTillFlush < 0:
		return fmt.Errorf("%w: LonelyBufferCountTillFlush %d", ErrInvalidConfig, c.LonelyBufferCountTillFlush)
	case c.RatioToDecayAtlas < 0 || c.RatioToDecayAtlas > 1:
		return fmt.Errorf("%w: RatioToDecayAtlas %v", ErrInvalidConfig, c.RatioToDecayAtlas)
	case c.RatioToMergeAtlases < 0 || c.RatioToMergeAtlases > 0.5:
		return fmt.Errorf("%w: RatioToMergeAtlases %v", ErrInvalidConfig, c.RatioToMergeAtlases)
	}
	return nil
}
