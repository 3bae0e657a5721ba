// Package journal persists webhook event outcomes in a local bbolt file.
// The journal is append-mostly observability data, kept out of the main
// sqlite database so a flood of deliveries never contends with request
// traffic.
package journal

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	bolt "go.etcd.io/bbolt"

	"github.com/pathlighthq/pathlight/internal/server/billing"
)

// eventsBucket holds one record per processed delivery
var eventsBucket = []byte("webhook_events")

// Journal is a bbolt-backed EventJournal
type Journal struct {
	db *bolt.DB
}

// Open opens or creates the journal file.
func Open(path string) (*Journal, error) {
	db, err := bolt.Open(path, 0o600, &bolt.Options{Timeout: 5 * time.Second})
	if err != nil {
		return nil, fmt.Errorf("failed to open journal: %w", err)
	}

	err = db.Update(func(tx *bolt.Tx) error {
		_, err := tx.CreateBucketIfNotExists(eventsBucket)
		return err
	})
	if err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to create journal bucket: %w", err)
	}

	return &Journal{db: db}, nil
}

// Record persists one event outcome. Keys are ordered by time so List
// returns deliveries newest-first; redeliveries of the same event each get
// their own record.
func (j *Journal) Record(ctx context.Context, entry *billing.JournalEntry) error {
	data, err := json.Marshal(entry)
	if err != nil {
		return fmt.Errorf("failed to marshal journal entry: %w", err)
	}

	key := fmt.Sprintf("%020d:%s", entry.At.UnixNano(), entry.EventID)

	err = j.db.Update(func(tx *bolt.Tx) error {
		return tx.Bucket(eventsBucket).Put([]byte(key), data)
	})
	if err != nil {
		return fmt.Errorf("failed to write journal entry: %w", err)
	}

	return nil
}

// List returns up to limit entries, newest first.
func (j *Journal) List(ctx context.Context, limit int) ([]*billing.JournalEntry, error) {
	var entries []*billing.JournalEntry

	err := j.db.View(func(tx *bolt.Tx) error {
		c := tx.Bucket(eventsBucket).Cursor()
		for k, v := c.Last(); k != nil && len(entries) < limit; k, v = c.Prev() {
			var entry billing.JournalEntry
			if err := json.Unmarshal(v, &entry); err != nil {
				return fmt.Errorf("corrupt journal entry %q: %w", k, err)
			}
			entries = append(entries, &entry)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	return entries, nil
}

// Close closes the underlying database.
func (j *Journal) Close() error {
	return j.db.Close()
}
