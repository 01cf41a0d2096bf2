package service

import (
	"time"

	"github.com/avvvet/allocation-rooms/internal/roomsvc/models"
	"github.com/hashicorp/golang-lru/v2/expirable"
)

const (
	DefaultCacheSize = 1024
	DefaultCacheTTL  = 30 * time.Minute
)

// Cache holds the last committed snapshot of recently used rooms. Entries are
// replaced whole, never mutated, so readers can share them. Evicted or
// expired rooms are read back from the store on the next GetRoom.
type Cache struct {
	rooms *expirable.LRU[string, models.RoomDetail]
}

func NewCache(size int, ttl time.Duration) *Cache {
	if size <= 0 {
		size = DefaultCacheSize
	}
	if ttl <= 0 {
		ttl = DefaultCacheTTL
	}
	return &Cache{rooms: expirable.NewLRU[string, models.RoomDetail](size, nil, ttl)}
}

func (c *Cache) Get(code string) (models.RoomDetail, bool) {
	return c.rooms.Get(code)
}

func (c *Cache) Put(d models.RoomDetail) {
	c.rooms.Add(d.Code, d)
}

func (c *Cache) Invalidate(code string) {
	c.rooms.Remove(code)
}

func (c *Cache) Len() int {
	return c.rooms.Len()
}
