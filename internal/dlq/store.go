package dlq

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/bytedance/sonic"
	bolt "go.etcd.io/bbolt"
)

// Store persists DLQ messages, one durable record per message id.
type Store interface {
	Load() ([]*Message, error)
	Put(msg *Message) error
	Delete(id string) error
	Close() error
}

var bucketMessages = []byte("dlq_messages")

// BoltStore is the bbolt-backed store. The configured `file` storage path
// maps to a single bolt file; a path that is (or looks like) a directory gets
// a dlq.db file inside it.
type BoltStore struct {
	db *bolt.DB
}

// NewBoltStore opens (creating if needed) the bolt file at path.
func NewBoltStore(path string) (*BoltStore, error) {
	if info, err := os.Stat(path); err == nil && info.IsDir() {
		path = filepath.Join(path, "dlq.db")
	} else if filepath.Ext(path) == "" {
		path = filepath.Join(path, "dlq.db")
	}

	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("dlq: creating storage directory: %w", err)
	}

	db, err := bolt.Open(path, 0o600, nil)
	if err != nil {
		return nil, fmt.Errorf("dlq: opening store: %w", err)
	}

	err = db.Update(func(tx *bolt.Tx) error {
		_, err := tx.CreateBucketIfNotExists(bucketMessages)
		return err
	})
	if err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("dlq: creating bucket: %w", err)
	}

	return &BoltStore{db: db}, nil
}

// Load reads every persisted message.
func (s *BoltStore) Load() ([]*Message, error) {
	var messages []*Message
	err := s.db.View(func(tx *bolt.Tx) error {
		return tx.Bucket(bucketMessages).ForEach(func(k, v []byte) error {
			var msg Message
			if err := sonic.ConfigStd.Unmarshal(v, &msg); err != nil {
				return fmt.Errorf("decoding message %q: %w", k, err)
			}
			messages = append(messages, &msg)
			return nil
		})
	})
	if err != nil {
		return nil, err
	}
	return messages, nil
}

// Put writes or overwrites the record keyed by the message id.
func (s *BoltStore) Put(msg *Message) error {
	data, err := sonic.ConfigStd.Marshal(msg)
	if err != nil {
		return fmt.Errorf("encoding message %q: %w", msg.ID, err)
	}
	return s.db.Update(func(tx *bolt.Tx) error {
		return tx.Bucket(bucketMessages).Put([]byte(msg.ID), data)
	})
}

// Delete removes the record keyed by id.
func (s *BoltStore) Delete(id string) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		return tx.Bucket(bucketMessages).Delete([]byte(id))
	})
}

// Close closes the underlying database.
func (s *BoltStore) Close() error {
	return s.db.Close()
}
