package audio

import (
	"context"
	"time"
)

// Loader returns tracks ready for splicing: decoded, faded in and out, and
// cached by absolute path so a track is decoded at most once per run while it
// stays in the cache.
type Loader struct {
	decoder Decoder
	cache   *Cache
	fade    time.Duration
}

// NewLoader creates a Loader. A negative fade disables the effect; zero uses
// DefaultFade.
func NewLoader(decoder Decoder, cache *Cache, fade time.Duration) *Loader {
	if fade == 0 {
		fade = DefaultFade
	}
	if fade < 0 {
		fade = 0
	}
	return &Loader{decoder: decoder, cache: cache, fade: fade}
}

// Load returns the cached buffer for path or decodes it, applies the fades and
// caches the result.
func (l *Loader) Load(ctx context.Context, path string) (*Buffer, bool, error) {
	key := CacheKey(path)
	if buf, ok := l.cache.Get(key); ok {
		return buf, true, nil
	}

	buf, err := l.decoder.Decode(ctx, key)
	if err != nil {
		return nil, false, err
	}
	buf = ApplyFades(buf, l.fade)
	l.cache.Put(key, buf)
	return buf, false, nil
}

// Cache returns the cache backing the loader.
func (l *Loader) Cache() *Cache {
	return l.cache
}
