// Package cache is a bounded in-memory page cache with TTL expiry and
// FIFO size-based eviction.
package cache

import (
	"container/list"
	"sync"
	"time"

	jsoniter "github.com/json-iterator/go"
	"github.com/user/pagejson-service/internal/domain"
)

// sizeJSON matches the standard library encoding except that markup is not
// HTML-escaped, so each byte of RawMarkup counts once in the encoding.
var sizeJSON = jsoniter.Config{
	EscapeHTML:             false,
	SortMapKeys:            true,
	ValidateJsonRawMessage: true,
}.Froze()

// Stats is a point-in-time view of the cache.
type Stats struct {
	EntryCount            int   `json:"entryCount"`
	TotalSizeBytes        int64 `json:"totalSizeBytes"`
	AverageEntrySizeBytes int64 `json:"averageEntrySizeBytes"`
}

type entry struct {
	key        string
	page       *domain.PageData
	insertedAt int64 // unix millis
	size       int64
}

// Cache maps content paths to PageData. All state (entries, insertion queue
// and total size) is guarded by a single mutex; no method performs I/O while
// holding it.
type Cache struct {
	mu    sync.Mutex
	items map[string]*list.Element
	order *list.List // front is the oldest insertion
	total int64

	now func() time.Time
}

type Option func(*Cache)

// WithClock overrides time.Now, for tests.
func WithClock(now func() time.Time) Option {
	return func(c *Cache) { c.now = now }
}

func New(opts ...Option) *Cache {
	c := &Cache{
		items: map[string]*list.Element{},
		order: list.New(),
		now:   time.Now,
	}
	for _, o := range opts {
		o(c)
	}
	return c
}

// SizeOf approximates the memory held by a cached page: the markup length plus
// the length of the full JSON encoding, which itself contains the markup. The
// double count is deliberate and keeps admission conservative.
func SizeOf(page *domain.PageData) (int64, error) {
	b, err := sizeJSON.Marshal(page)
	if err != nil {
		return 0, domain.NewError(domain.KindCache, "failed to size cache entry", 0, err)
	}
	return int64(len(page.RawMarkup) + len(b)), nil
}

// Get returns a copy of the page stored under key if it was inserted less
// than ttl ago. Expired entries are removed as part of the lookup.
func (c *Cache) Get(key string, ttl time.Duration) (*domain.PageData, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	el, ok := c.items[key]
	if !ok {
		return nil, false
	}
	ent := el.Value.(*entry)
	if !c.fresh(ent, ttl) {
		c.removeLocked(el)
		return nil, false
	}
	return ent.page.Clone(), true
}

// Put stores page under key, first evicting the oldest insertions until the
// new entry fits within maxTotalBytes or the cache is empty. Callers are
// expected to skip pages whose own size exceeds maxTotalBytes. It returns the
// number of entries evicted to make room.
func (c *Cache) Put(key string, page *domain.PageData, maxTotalBytes int64) (int, error) {
	size, err := SizeOf(page)
	if err != nil {
		return 0, err
	}
	stored := page.Clone()

	c.mu.Lock()
	defer c.mu.Unlock()

	if el, ok := c.items[key]; ok {
		c.removeLocked(el)
	}

	evicted := 0
	for c.total+size > maxTotalBytes && c.order.Len() > 0 {
		c.removeLocked(c.order.Front())
		evicted++
	}

	ent := &entry{key: key, page: stored, insertedAt: c.now().UnixMilli(), size: size}
	c.items[key] = c.order.PushBack(ent)
	c.total += size
	return evicted, nil
}

// SweepExpired deletes every entry older than ttl and returns how many were removed.
func (c *Cache) SweepExpired(ttl time.Duration) int {
	c.mu.Lock()
	defer c.mu.Unlock()

	removed := 0
	for el := c.order.Front(); el != nil; {
		next := el.Next()
		if !c.fresh(el.Value.(*entry), ttl) {
			c.removeLocked(el)
			removed++
		}
		el = next
	}
	return removed
}

func (c *Cache) Stats() Stats {
	c.mu.Lock()
	defer c.mu.Unlock()

	s := Stats{EntryCount: c.order.Len(), TotalSizeBytes: c.total}
	if s.EntryCount > 0 {
		n := int64(s.EntryCount)
		s.AverageEntrySizeBytes = (c.total + n/2) / n
	}
	return s
}

// Keys returns cached keys from oldest to newest insertion.
func (c *Cache) Keys() []string {
	c.mu.Lock()
	defer c.mu.Unlock()

	out := make([]string, 0, c.order.Len())
	for el := c.order.Front(); el != nil; el = el.Next() {
		out = append(out, el.Value.(*entry).key)
	}
	return out
}

func (c *Cache) fresh(ent *entry, ttl time.Duration) bool {
	return c.now().UnixMilli()-ent.insertedAt < ttl.Milliseconds()
}

func (c *Cache) removeLocked(el *list.Element) {
	ent := c.order.Remove(el).(*entry)
	delete(c.items, ent.key)
	c.total -= ent.size
}
