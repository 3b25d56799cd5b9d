// Package refaudio synthesises reference recordings for script lines that
// ship without one and caches them on disk.
package refaudio

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"net/http"
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/MrWong99/rehearse/internal/blob"
	"github.com/MrWong99/rehearse/internal/observe"
	"github.com/MrWong99/rehearse/internal/session"
	"github.com/MrWong99/rehearse/pkg/provider/tts"
)

var _ session.ReferenceAudio = (*Cache)(nil)

// Cache turns line text into a playable URL. Audio is synthesised once per
// (text, language, gender) and then served from the blob directory.
type Cache struct {
	provider tts.Provider
	name     string
	dir      *blob.Dir
	baseURL  string
	voices   map[string]string
	metrics  *observe.Metrics
	group    singleflight.Group
}

// Option configures a [Cache].
type Option func(*Cache)

// WithVoices sets explicit voice names per BCP-47 language tag.
func WithVoices(v map[string]string) Option {
	return func(c *Cache) { c.voices = v }
}

// WithMetrics sets the metrics recorder. The default is
// [observe.DefaultMetrics].
func WithMetrics(m *observe.Metrics) Option {
	return func(c *Cache) { c.metrics = m }
}

// WithProviderName sets the provider label used on metrics.
func WithProviderName(name string) Option {
	return func(c *Cache) { c.name = name }
}

// New returns a Cache that synthesises with p into dir, served at baseURL.
func New(p tts.Provider, dir *blob.Dir, baseURL string, opts ...Option) *Cache {
	c := &Cache{provider: p, name: "tts", dir: dir, baseURL: baseURL}
	for _, o := range opts {
		o(c)
	}
	if c.metrics == nil {
		c.metrics = observe.DefaultMetrics()
	}
	return c
}

// Ensure implements [session.ReferenceAudio].
func (c *Cache) Ensure(ctx context.Context, text, languageCode, gender string) (string, error) {
	if text == "" {
		return "", tts.ErrEmptyText
	}
	key := Key(text, languageCode, gender)
	if name, ok := c.dir.Find(key); ok {
		return c.baseURL + "/" + name, nil
	}

	v, err, _ := c.group.Do(key, func() (any, error) {
		return c.synthesize(ctx, key, text, languageCode, gender)
	})
	if err != nil {
		return "", err
	}
	return c.baseURL + "/" + v.(string), nil
}

func (c *Cache) synthesize(ctx context.Context, key, text, languageCode, gender string) (_ string, err error) {
	ctx, span := observe.StartSpan(ctx, "refaudio.synthesize")
	defer func() { observe.EndSpan(span, err) }()

	start := time.Now()
	a, err := c.provider.Synthesize(ctx, tts.Request{
		Text:         text,
		LanguageCode: languageCode,
		Gender:       tts.ParseGender(gender),
		Voice:        c.voices[languageCode],
	})
	c.metrics.TTSDuration.Record(ctx, time.Since(start).Seconds())
	if err != nil {
		c.metrics.RecordProviderRequest(ctx, c.name, "tts", "error")
		c.metrics.RecordProviderError(ctx, c.name, "tts")
		return "", fmt.Errorf("refaudio: %w", err)
	}
	c.metrics.RecordProviderRequest(ctx, c.name, "tts", "ok")
	if len(a.Data) == 0 {
		return "", errors.New("refaudio: provider returned no audio")
	}

	ext := a.Ext
	if ext == "" {
		ext = ".mp3"
	}
	name := key + ext
	if err := c.dir.Write(name, a.Data); err != nil {
		return "", fmt.Errorf("refaudio: %w", err)
	}
	observe.Logger(ctx).Debug("reference audio synthesised", "file", name, "language", languageCode, "bytes", len(a.Data))
	return name, nil
}

// Handler serves cached reference audio.
func (c *Cache) Handler() http.Handler {
	return http.StripPrefix(c.baseURL, c.dir.Handler())
}

// Key returns the cache key for a line: the first 32 hex digits of the
// SHA-256 of its text, language and gender.
func Key(text, languageCode, gender string) string {
	h := sha256.New()
	for _, s := range []string{text, languageCode, string(tts.ParseGender(gender))} {
		h.Write([]byte(s))
		h.Write([]byte{0})
	}
	return hex.EncodeToString(h.Sum(nil))[:32]
}
