// Package directory resolves display names of users owned by the identity service.
package directory

import (
	"context"
	"sync"

	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"
)

// Directory looks up nicknames by user id. Missing ids are absent from the result.
type Directory interface {
	Nicknames(ctx context.Context, ids []int) (map[int]string, error)
}

// SQLDirectory reads the identity service's users table.
type SQLDirectory struct {
	db *sqlx.DB
}

// NewSQLDirectory constructs a SQLDirectory.
func NewSQLDirectory(db *sqlx.DB) *SQLDirectory {
	return &SQLDirectory{db: db}
}

func (d *SQLDirectory) Nicknames(ctx context.Context, ids []int) (map[int]string, error) {
	out := make(map[int]string, len(ids))
	if len(ids) == 0 {
		return out, nil
	}
	keys := make(pq.Int64Array, 0, len(ids))
	for _, id := range ids {
		keys = append(keys, int64(id))
	}

	var rows []struct {
		ID       int    `db:"id"`
		Nickname string `db:"nickname"`
	}
	if err := d.db.SelectContext(ctx, &rows, `SELECT id, nickname FROM users WHERE id = ANY($1)`, keys); err != nil {
		return nil, err
	}
	for _, r := range rows {
		out[r.ID] = r.Nickname
	}
	return out, nil
}

// Cache remembers nicknames seen in verified tokens and asks the backend for the rest.
type Cache struct {
	backend Directory
	mu      sync.RWMutex
	known   map[int]string
}

// NewCache wraps backend; backend may be nil.
func NewCache(backend Directory) *Cache {
	return &Cache{backend: backend, known: make(map[int]string)}
}

// Remember records a nickname for id.
func (c *Cache) Remember(id int, nickname string) {
	if nickname == "" {
		return
	}
	c.mu.Lock()
	c.known[id] = nickname
	c.mu.Unlock()
}

func (c *Cache) Nicknames(ctx context.Context, ids []int) (map[int]string, error) {
	out := make(map[int]string, len(ids))
	var missing []int
	c.mu.RLock()
	for _, id := range ids {
		if nick, ok := c.known[id]; ok {
			out[id] = nick
		} else {
			missing = append(missing, id)
		}
	}
	c.mu.RUnlock()

	if len(missing) == 0 || c.backend == nil {
		return out, nil
	}
	found, err := c.backend.Nicknames(ctx, missing)
	if err != nil {
		return out, err
	}
	c.mu.Lock()
	for id, nick := range found {
		out[id] = nick
		c.known[id] = nick
	}
	c.mu.Unlock()
	return out, nil
}
