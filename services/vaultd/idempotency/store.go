package idempotency

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"go.etcd.io/bbolt"
)

// State describes what a reservation found for a key.
type State int

const (
	// StateNew means the key was reserved by this call.
	StateNew State = iota
	// StatePending means another request holds the key.
	StatePending
	// StateDone means a response was recorded for the key.
	StateDone
)

const (
	// MaxKeyLength bounds client supplied keys.
	MaxKeyLength = 128
	// maxStoredKey bounds the scoped key written to the database.
	maxStoredKey = 1024
)

var (
	// ErrInvalidKey rejects empty or oversized keys.
	ErrInvalidKey = errors.New("idempotency: invalid key")
	errNotOpen    = errors.New("idempotency: store not initialised")

	bucketResponses = []byte("responses")
)

// Response is a recorded HTTP reply.
type Response struct {
	Status      int       `json:"status"`
	Body        []byte    `json:"body,omitempty"`
	Fingerprint string    `json:"fingerprint"`
	CreatedAt   time.Time `json:"created_at"`
}

type record struct {
	Pending bool `json:"pending,omitempty"`
	Response
}

// Store persists responses of mutating requests so retries replay them
// instead of repeating the operation.
type Store struct {
	db    *bbolt.DB
	ttl   time.Duration
	clock func() time.Time
}

// Open opens (or creates) the store at path. Entries older than ttl are
// treated as absent; a non-positive ttl keeps them forever.
func Open(path string, ttl time.Duration) (*Store, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("idempotency: create directory: %w", err)
	}
	db, err := bbolt.Open(path, 0o600, &bbolt.Options{Timeout: time.Second})
	if err != nil {
		return nil, err
	}
	err = db.Update(func(tx *bbolt.Tx) error {
		_, err := tx.CreateBucketIfNotExists(bucketResponses)
		return err
	})
	if err != nil {
		db.Close()
		return nil, err
	}
	return &Store{db: db, ttl: ttl, clock: time.Now}, nil
}

// Close releases the database handle.
func (s *Store) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

// Reserve claims key for a request with the given fingerprint. When the key
// already completed, the recorded response is returned with StateDone.
func (s *Store) Reserve(key, fingerprint string) (State, *Response, error) {
	if s == nil || s.db == nil {
		return StatePending, nil, errNotOpen
	}
	if err := checkKey(key); err != nil {
		return StatePending, nil, err
	}
	state := StateNew
	var found *Response
	err := s.db.Update(func(tx *bbolt.Tx) error {
		bucket := tx.Bucket(bucketResponses)
		if raw := bucket.Get([]byte(key)); raw != nil {
			var rec record
			if err := json.Unmarshal(raw, &rec); err != nil {
				return fmt.Errorf("decode %q: %w", key, err)
			}
			if !s.expired(rec.CreatedAt) {
				if rec.Pending {
					state = StatePending
					return nil
				}
				state = StateDone
				resp := rec.Response
				found = &resp
				return nil
			}
		}
		return s.put(bucket, key, record{Pending: true, Response: Response{Fingerprint: fingerprint, CreatedAt: s.clock()}})
	})
	if err != nil {
		return StatePending, nil, err
	}
	return state, found, nil
}

// Complete records the response for a reserved key.
func (s *Store) Complete(key string, resp Response) error {
	if s == nil || s.db == nil {
		return errNotOpen
	}
	if err := checkKey(key); err != nil {
		return err
	}
	return s.db.Update(func(tx *bbolt.Tx) error {
		bucket := tx.Bucket(bucketResponses)
		if bucket.Get([]byte(key)) == nil {
			return fmt.Errorf("idempotency: key %q not reserved", key)
		}
		if resp.CreatedAt.IsZero() {
			resp.CreatedAt = s.clock()
		}
		return s.put(bucket, key, record{Response: resp})
	})
}

// Release drops a pending reservation so the request can be retried.
func (s *Store) Release(key string) error {
	if s == nil || s.db == nil {
		return errNotOpen
	}
	return s.db.Update(func(tx *bbolt.Tx) error {
		bucket := tx.Bucket(bucketResponses)
		raw := bucket.Get([]byte(key))
		if raw == nil {
			return nil
		}
		var rec record
		if err := json.Unmarshal(raw, &rec); err != nil || rec.Pending {
			return bucket.Delete([]byte(key))
		}
		return nil
	})
}

// Prune deletes expired entries and reports how many were removed.
func (s *Store) Prune() (int, error) {
	if s == nil || s.db == nil {
		return 0, errNotOpen
	}
	if s.ttl <= 0 {
		return 0, nil
	}
	removed := 0
	err := s.db.Update(func(tx *bbolt.Tx) error {
		bucket := tx.Bucket(bucketResponses)
		var stale [][]byte
		err := bucket.ForEach(func(k, v []byte) error {
			var rec record
			if err := json.Unmarshal(v, &rec); err != nil || s.expired(rec.CreatedAt) {
				stale = append(stale, append([]byte(nil), k...))
			}
			return nil
		})
		if err != nil {
			return err
		}
		for _, k := range stale {
			if err := bucket.Delete(k); err != nil {
				return err
			}
		}
		removed = len(stale)
		return nil
	})
	return removed, err
}

func (s *Store) expired(created time.Time) bool {
	return s.ttl > 0 && s.clock().Sub(created) > s.ttl
}

func (s *Store) put(bucket *bbolt.Bucket, key string, rec record) error {
	raw, err := json.Marshal(rec)
	if err != nil {
		return err
	}
	return bucket.Put([]byte(key), raw)
}

func checkKey(key string) error {
	if strings.TrimSpace(key) == "" || len(key) > maxStoredKey {
		return ErrInvalidKey
	}
	return nil
}
