// Package store persists the ledger audit log and state snapshots in badger.
package store

import (
	"context"
	"encoding/binary"
	"encoding/json"
	"errors"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/dgraph-io/badger/v3"

	"github.com/moltbunker/tierstake/internal/logging"
	"github.com/moltbunker/tierstake/internal/staking"
)

var (
	eventPrefix = []byte("event/")
	snapshotKey = []byte("snapshot/current")
)

// Options configures Open.
type Options struct {
	Dir      string
	InMemory bool // for tests
}

// Store is a badger-backed event log and snapshot store. It implements
// staking.EventSink and staking.Persister.
type Store struct {
	db          *badger.DB
	lastSeq     atomic.Uint64
	appendFails atomic.Uint64
}

var (
	_ staking.EventSink = (*Store)(nil)
	_ staking.Persister = (*Store)(nil)
)

// Open opens or creates the database.
func Open(opts Options) (*Store, error) {
	bopts := badger.DefaultOptions(opts.Dir).WithLogger(badgerLogger{})
	if opts.InMemory {
		bopts = bopts.WithInMemory(true).WithDir("").WithValueDir("")
	} else if opts.Dir == "" {
		return nil, errors.New("store: directory is required")
	}

	db, err := badger.Open(bopts)
	if err != nil {
		return nil, fmt.Errorf("failed to open store: %w", err)
	}
	s := &Store{db: db}

	last, err := s.scanLastSeq()
	if err != nil {
		db.Close()
		return nil, err
	}
	s.lastSeq.Store(last)
	return s, nil
}

// Close closes the database.
func (s *Store) Close() error {
	return s.db.Close()
}

// Publish appends ev to the event log. Failures are logged; the snapshot
// written after the same commit still records the ledger state.
func (s *Store) Publish(ev staking.Event) {
	if err := s.AppendEvent(ev); err != nil {
		s.appendFails.Add(1)
		logging.Error("store: failed to append event",
			logging.Component("store"),
			"seq", ev.Seq,
			"kind", string(ev.Kind),
			logging.Err(err))
	}
}

// AppendEvent writes ev under its sequence number.
func (s *Store) AppendEvent(ev staking.Event) error {
	data, err := json.Marshal(ev)
	if err != nil {
		return fmt.Errorf("failed to encode event %d: %w", ev.Seq, err)
	}
	err = s.db.Update(func(txn *badger.Txn) error {
		return txn.Set(eventKey(ev.Seq), data)
	})
	if err != nil {
		return err
	}
	for {
		cur := s.lastSeq.Load()
		if ev.Seq <= cur || s.lastSeq.CompareAndSwap(cur, ev.Seq) {
			return nil
		}
	}
}

// Events returns up to limit events with Seq >= from in sequence order.
// limit <= 0 means all.
func (s *Store) Events(from uint64, limit int) ([]staking.Event, error) {
	var out []staking.Event
	err := s.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.Prefix = eventPrefix
		it := txn.NewIterator(opts)
		defer it.Close()

		for it.Seek(eventKey(from)); it.ValidForPrefix(eventPrefix); it.Next() {
			if limit > 0 && len(out) >= limit {
				return nil
			}
			var ev staking.Event
			err := it.Item().Value(func(val []byte) error {
				return json.Unmarshal(val, &ev)
			})
			if err != nil {
				return fmt.Errorf("failed to decode event %x: %w", it.Item().Key(), err)
			}
			out = append(out, ev)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

// LastSeq returns the highest stored event sequence number.
func (s *Store) LastSeq() uint64 {
	return s.lastSeq.Load()
}

// AppendFailures counts events that could not be written.
func (s *Store) AppendFailures() uint64 {
	return s.appendFails.Load()
}

// SaveSnapshot replaces the stored ledger state.
func (s *Store) SaveSnapshot(st *staking.State) error {
	data, err := json.Marshal(st)
	if err != nil {
		return fmt.Errorf("failed to encode snapshot: %w", err)
	}
	return s.db.Update(func(txn *badger.Txn) error {
		return txn.Set(snapshotKey, data)
	})
}

// LoadSnapshot returns the stored state, or (nil, nil) when none exists.
func (s *Store) LoadSnapshot() (*staking.State, error) {
	var st *staking.State
	err := s.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get(snapshotKey)
		if errors.Is(err, badger.ErrKeyNotFound) {
			return nil
		}
		if err != nil {
			return err
		}
		return item.Value(func(val []byte) error {
			st = new(staking.State)
			return json.Unmarshal(val, st)
		})
	})
	if err != nil {
		return nil, fmt.Errorf("failed to load snapshot: %w", err)
	}
	return st, nil
}

// RunGC runs value log garbage collection every interval until ctx ends.
func (s *Store) RunGC(ctx context.Context, interval time.Duration) error {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			// rewrite until badger reports nothing left to collect
			for {
				if err := s.db.RunValueLogGC(0.5); err != nil {
					if !errors.Is(err, badger.ErrNoRewrite) && !errors.Is(err, badger.ErrGCInMemoryMode) {
						logging.Warn("store: value log GC failed", logging.Component("store"), logging.Err(err))
					}
					break
				}
			}
		}
	}
}

func (s *Store) scanLastSeq() (uint64, error) {
	var last uint64
	err := s.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.Prefix = eventPrefix
		opts.Reverse = true
		opts.PrefetchValues = false
		it := txn.NewIterator(opts)
		defer it.Close()

		// reverse iteration seeks from the largest possible key
		it.Seek(eventKey(^uint64(0)))
		if it.ValidForPrefix(eventPrefix) {
			last = binary.BigEndian.Uint64(it.Item().Key()[len(eventPrefix):])
		}
		return nil
	})
	if err != nil {
		return 0, fmt.Errorf("failed to scan event log: %w", err)
	}
	return last, nil
}

func eventKey(seq uint64) []byte {
	k := make([]byte, len(eventPrefix)+8)
	copy(k, eventPrefix)
	binary.BigEndian.PutUint64(k[len(eventPrefix):], seq)
	return k
}

// badgerLogger routes badger's internal logging into slog.
type badgerLogger struct{}

func (badgerLogger) Errorf(f string, args ...interface{}) {
	logging.Error(fmt.Sprintf(f, args...), logging.Component("badger"))
}

func (badgerLogger) Warningf(f string, args ...interface{}) {
	logging.Warn(fmt.Sprintf(f, args...), logging.Component("badger"))
}

func (badgerLogger) Infof(f string, args ...interface{}) {
	logging.Debug(fmt.Sprintf(f, args...), logging.Component("badger"))
}

func (badgerLogger) Debugf(f string, args ...interface{}) {
	logging.Debug(fmt.Sprintf(f, args...), logging.Component("badger"))
}
