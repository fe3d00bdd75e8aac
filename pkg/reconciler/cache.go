package reconciler

import (
	"fmt"

	bolt "go.etcd.io/bbolt"
)

// gateStateBucket holds the last-observed drive-identity -> gate-path
// mapping across cycles. Its only purpose is making reconciliation
// idempotence (spec §8 scenario S6) cheap: a cycle that finds the cached
// state unchanged skips re-emitting the "roaming drive connected"
// notification, instead of re-deriving idempotence from mount syscalls
// alone on every cycle.
var gateStateBucket = []byte("gate_state")

// Cache is a small persistent key-value store of drive identity (uuid) ->
// gate path, backed by go.etcd.io/bbolt. It is explicitly not used for shadow
// entries, which stay filesystem-native per spec (§4.2.2, Open Questions).
type Cache struct {
	db *bolt.DB
}

// OpenCache opens (creating if absent) a bbolt database at path.
func OpenCache(path string) (*Cache, error) {
	db, err := bolt.Open(path, 0o600, nil)
	if err != nil {
		return nil, fmt.Errorf("reconciler: opening cache %s: %w", path, err)
	}
	err = db.Update(func(tx *bolt.Tx) error {
		_, err := tx.CreateBucketIfNotExists(gateStateBucket)
		return err
	})
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("reconciler: initializing cache %s: %w", path, err)
	}
	return &Cache{db: db}, nil
}

// Close releases the underlying bbolt file handle.
func (c *Cache) Close() error {
	return c.db.Close()
}

// Seen reports whether identity was already recorded as gated at gatePath
// in a previous cycle.
func (c *Cache) Seen(identity, gatePath string) (bool, error) {
	var seen bool
	err := c.db.View(func(tx *bolt.Tx) error {
		b := tx.Bucket(gateStateBucket)
		val := b.Get([]byte(identity))
		seen = val != nil && string(val) == gatePath
		return nil
	})
	if err != nil {
		return false, fmt.Errorf("reconciler: reading cache entry for %s: %w", identity, err)
	}
	return seen, nil
}

// Record stores identity as gated at gatePath.
func (c *Cache) Record(identity, gatePath string) error {
	err := c.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket(gateStateBucket)
		return b.Put([]byte(identity), []byte(gatePath))
	})
	if err != nil {
		return fmt.Errorf("reconciler: recording cache entry for %s: %w", identity, err)
	}
	return nil
}

// Forget removes identity's cache entry, used when its Gate is cleaned up.
func (c *Cache) Forget(identity string) error {
	err := c.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket(gateStateBucket)
		return b.Delete([]byte(identity))
	})
	if err != nil {
		return fmt.Errorf("reconciler: forgetting cache entry for %s: %w", identity, err)
	}
	return nil
}

// Identities returns every identity currently recorded. The Reconciler's
// cleanup does not call it; it forgets entries by gate directory name.
func (c *Cache) Identities() ([]string, error) {
	var ids []string
	err := c.db.View(func(tx *bolt.Tx) error {
		b := tx.Bucket(gateStateBucket)
		return b.ForEach(func(k, _ []byte) error {
			ids = append(ids, string(k))
			return nil
		})
	})
	if err != nil {
		return nil, fmt.Errorf("reconciler: listing cache entries: %w", err)
	}
	return ids, nil
}
