package storage

import (
	"errors"
	"sort"
)

var errJournalClosed = errors.New("storage: journal already committed or discarded")

// Journal buffers writes on top of a Database. Reads observe the buffered
// writes first and fall back to the base store. Nothing reaches the base
// store until Commit, which flushes every buffered write in one atomic batch.
// A discarded journal leaves the base store untouched.
type Journal struct {
	base    Database
	writes  map[string][]byte
	deletes map[string]struct{}
	closed  bool
}

// NewJournal opens a write journal over base.
func NewJournal(base Database) *Journal {
	return &Journal{
		base:    base,
		writes:  make(map[string][]byte),
		deletes: make(map[string]struct{}),
	}
}

func (j *Journal) Get(key []byte) ([]byte, error) {
	k := string(key)
	if value, ok := j.writes[k]; ok {
		return append([]byte(nil), value...), nil
	}
	if _, ok := j.deletes[k]; ok {
		return nil, ErrNotFound
	}
	return j.base.Get(key)
}

func (j *Journal) Has(key []byte) (bool, error) {
	k := string(key)
	if _, ok := j.writes[k]; ok {
		return true, nil
	}
	if _, ok := j.deletes[k]; ok {
		return false, nil
	}
	return j.base.Has(key)
}

func (j *Journal) Put(key []byte, value []byte) error {
	if j.closed {
		return errJournalClosed
	}
	k := string(key)
	delete(j.deletes, k)
	j.writes[k] = append([]byte(nil), value...)
	return nil
}

func (j *Journal) Delete(key []byte) error {
	if j.closed {
		return errJournalClosed
	}
	k := string(key)
	delete(j.writes, k)
	j.deletes[k] = struct{}{}
	return nil
}

// Dirty reports the number of keys touched since the journal was opened.
func (j *Journal) Dirty() int {
	return len(j.writes) + len(j.deletes)
}

// Commit flushes the buffered writes to the base store. Keys are written in
// lexical order so identical operations produce identical batches.
func (j *Journal) Commit() error {
	if j.closed {
		return errJournalClosed
	}
	j.closed = true
	if j.Dirty() == 0 {
		return nil
	}
	keys := make([]string, 0, j.Dirty())
	for k := range j.writes {
		keys = append(keys, k)
	}
	for k := range j.deletes {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	batch := new(Batch)
	for _, k := range keys {
		if value, ok := j.writes[k]; ok {
			batch.Put([]byte(k), value)
			continue
		}
		batch.Delete([]byte(k))
	}
	return j.base.Write(batch)
}

// Discard drops every buffered write.
func (j *Journal) Discard() {
	j.closed = true
	j.writes = make(map[string][]byte)
	j.deletes = make(map[string]struct{})
}
