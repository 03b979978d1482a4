// Package cache keeps investigation runs addressable by query fingerprint and
// guarantees at most one live run per fingerprint.
package cache

import (
	"container/list"
	"errors"
	"sync"
	"time"

	"github.com/jonboulle/clockwork"
	"go.uber.org/zap"

	"github.com/lvonguyen/osintforge/internal/observability"
)

var (
	// ErrNotFound means the fingerprint was never cached (or was forgotten
	// long enough ago that its tombstone is gone too).
	ErrNotFound = errors.New("fingerprint not found")
	// ErrExpired means the entry existed but was evicted or outlived its TTL.
	ErrExpired = errors.New("fingerprint expired")
)

// Handle is what the cache stores. A handle without a completion time is
// still running and is never expired or evicted.
type Handle interface {
	Fingerprint() string
	CompletedAt() (time.Time, bool)
}

// Config holds cache settings.
type Config struct {
	TTL        time.Duration `yaml:"ttl"`
	Capacity   int           `yaml:"capacity"`
	Tombstones int           `yaml:"tombstones"`
}

// DefaultConfig returns sensible defaults.
func DefaultConfig() Config {
	return Config{
		TTL:        15 * time.Minute,
		Capacity:   1024,
		Tombstones: 4096,
	}
}

type options struct {
	clock   clockwork.Clock
	logger  *zap.Logger
	metrics *observability.Metrics
}

// Option configures a Cache.
type Option func(*options)

// WithClock sets the clock used for TTL checks.
func WithClock(c clockwork.Clock) Option { return func(o *options) { o.clock = c } }

// WithLogger sets the logger.
func WithLogger(l *zap.Logger) Option { return func(o *options) { o.logger = l } }

// WithMetrics sets the metrics sink.
func WithMetrics(m *observability.Metrics) Option { return func(o *options) { o.metrics = m } }

type entry[H Handle] struct {
	fingerprint string
	handle      H
}

// Cache is an LRU of handles with TTL expiry measured from completion.
type Cache[H Handle] struct {
	config Config
	options

	mu         sync.Mutex
	entries    map[string]*list.Element
	order      *list.List // front is most recently used
	tombstones map[string]*list.Element
	tombOrder  *list.List
}

// New creates a cache.
func New[H Handle](cfg Config, opts ...Option) *Cache[H] {
	o := options{
		clock:  clockwork.NewRealClock(),
		logger: zap.NewNop(),
	}
	for _, opt := range opts {
		opt(&o)
	}
	return &Cache[H]{
		config:     cfg,
		options:    o,
		entries:    make(map[string]*list.Element),
		order:      list.New(),
		tombstones: make(map[string]*list.Element),
		tombOrder:  list.New(),
	}
}

// GetOrCreate returns the handle cached for fp, or stores and returns the
// result of create. create runs under the cache lock, so concurrent callers
// for the same fingerprint always share one handle; it must not block.
//
// keep decides whether a live cached handle may be reused; when it returns
// false the handle is replaced. A nil keep reuses every live handle.
func (c *Cache[H]) GetOrCreate(fp string, create func() H, keep func(H) bool) (h H, created bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if el, ok := c.entries[fp]; ok {
		e := el.Value.(*entry[H])
		switch {
		case c.expired(e.handle):
			c.removeLocked(el)
			c.metrics.CacheEvicted("ttl")
		case keep == nil || keep(e.handle):
			c.order.MoveToFront(el)
			if _, done := e.handle.CompletedAt(); done {
				c.metrics.CacheLookup("hit")
			} else {
				c.metrics.CacheLookup("attach")
			}
			return e.handle, false
		default:
			c.removeLocked(el)
		}
	}

	c.metrics.CacheLookup("miss")
	h = create()
	c.insertLocked(fp, h)
	return h, true
}

// Lookup returns the handle cached for fp.
func (c *Cache[H]) Lookup(fp string) (H, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	var zero H
	if el, ok := c.entries[fp]; ok {
		e := el.Value.(*entry[H])
		if c.expired(e.handle) {
			c.removeLocked(el)
			c.tombstoneLocked(fp)
			c.metrics.CacheEvicted("ttl")
			c.metrics.CacheLookup("expired")
			return zero, ErrExpired
		}
		c.order.MoveToFront(el)
		c.metrics.CacheLookup("hit")
		return e.handle, nil
	}

	if _, ok := c.tombstones[fp]; ok {
		c.metrics.CacheLookup("expired")
		return zero, ErrExpired
	}
	c.metrics.CacheLookup("miss")
	return zero, ErrNotFound
}

// Put stores h unless a handle for the same fingerprint is already cached.
// It reports whether h was stored.
func (c *Cache[H]) Put(h H) bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	fp := h.Fingerprint()
	if el, ok := c.entries[fp]; ok {
		if !c.expired(el.Value.(*entry[H]).handle) {
			return false
		}
		c.removeLocked(el)
	}
	if c.expired(h) {
		return false
	}
	c.insertLocked(fp, h)
	return true
}

// Sweep drops every expired entry and returns how many were removed.
func (c *Cache[H]) Sweep() int {
	c.mu.Lock()
	defer c.mu.Unlock()

	n := 0
	for el := c.order.Back(); el != nil; {
		prev := el.Prev()
		e := el.Value.(*entry[H])
		if c.expired(e.handle) {
			c.removeLocked(el)
			c.tombstoneLocked(e.fingerprint)
			c.metrics.CacheEvicted("ttl")
			n++
		}
		el = prev
	}
	c.metrics.CacheSize(c.order.Len())
	return n
}

// Len returns the number of cached handles.
func (c *Cache[H]) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.order.Len()
}

func (c *Cache[H]) expired(h H) bool {
	at, done := h.CompletedAt()
	return done && c.config.TTL > 0 && c.clock.Since(at) >= c.config.TTL
}

func (c *Cache[H]) insertLocked(fp string, h H) {
	if tel, ok := c.tombstones[fp]; ok {
		c.tombOrder.Remove(tel)
		delete(c.tombstones, fp)
	}
	c.entries[fp] = c.order.PushFront(&entry[H]{fingerprint: fp, handle: h})
	c.evictLocked()
	c.metrics.CacheSize(c.order.Len())
}

// evictLocked enforces capacity by dropping the least recently used finished
// entries. Running entries are never evicted; if nothing is evictable the
// cache temporarily exceeds capacity.
func (c *Cache[H]) evictLocked() {
	if c.config.Capacity <= 0 {
		return
	}
	for el := c.order.Back(); el != nil && c.order.Len() > c.config.Capacity; {
		prev := el.Prev()
		e := el.Value.(*entry[H])
		if _, done := e.handle.CompletedAt(); done {
			c.removeLocked(el)
			c.tombstoneLocked(e.fingerprint)
			c.metrics.CacheEvicted("capacity")
		}
		el = prev
	}
	if c.order.Len() > c.config.Capacity {
		c.logger.Warn("cache full of running investigations",
			zap.Int("entries", c.order.Len()),
			zap.Int("capacity", c.config.Capacity),
		)
	}
}

func (c *Cache[H]) removeLocked(el *list.Element) {
	e := c.order.Remove(el).(*entry[H])
	delete(c.entries, e.fingerprint)
}

func (c *Cache[H]) tombstoneLocked(fp string) {
	if c.config.Tombstones <= 0 {
		return
	}
	if el, ok := c.tombstones[fp]; ok {
		c.tombOrder.MoveToFront(el)
		return
	}
	c.tombstones[fp] = c.tombOrder.PushFront(fp)
	for c.tombOrder.Len() > c.config.Tombstones {
		oldest := c.tombOrder.Back()
		c.tombOrder.Remove(oldest)
		delete(c.tombstones, oldest.Value.(string))
	}
}
