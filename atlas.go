package spritebatch

// lonelyTexture is an image living on its own texture, or still pending one.
// created distinguishes a materialized handle from a pending entry; there is
// no sentinel handle value.
type lonelyTexture struct {
	id        ImageID
	width     int
	height    int
	texture   TextureID
	created   bool
	timestamp int
}

// subTexture is one image's rectangle inside a shared atlas.
type subTexture struct {
	width     int
	height    int
	minU      float32
	minV      float32
	maxU      float32
	maxV      float32
	timestamp int
}

// atlasTexture is one shared texture holding many images.
type atlasTexture struct {
	texture   TextureID
	fillRatio float64
	subs      map[ImageID]*subTexture
}

// adoptSub transfers one image from the lonely bucket into atlas a. The
// previous standalone texture, if any, is destroyed first: the atlas now
// owns a sub-rectangle of a shared texture instead.
func (b *Batcher) adoptSub(a *atlasTexture, l *lonelyTexture, sub *subTexture) {
	if l.created {
		b.config.Provider.DestroyTexture(l.texture)
	}
	delete(b.lonely, l.id)
	sub.timestamp = l.timestamp
	a.subs[l.id] = sub
	b.owner[l.id] = a
}

// flushAtlas dissolves one atlas: live images return to the lonely bucket
// with their timestamps preserved, decayed images are dropped outright, and
// the atlas texture is destroyed.
func (b *Batcher) flushAtlas(a *atlasTexture) {
	for id, sub := range a.subs {
		delete(b.owner, id)
		if sub.timestamp < b.config.TicksToDecayTexture {
			b.lonely[id] = &lonelyTexture{
				id:        id,
				width:     sub.width,
				height:    sub.height,
				timestamp: sub.timestamp,
			}
		}
	}
	b.config.Provider.DestroyTexture(a.texture)
	for i, candidate := range b.atlases {
		if candidate == a {
			b.atlases[i] = b.atlases[len(b.atlases)-1]
			b.atlases = b.atlases[:len(b.atlases)-1]
			break
		}
	}
}
