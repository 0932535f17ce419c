package repository

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"sort"
	"strconv"
	"sync"
	"time"

	"github.com/dgraph-io/badger"
	"github.com/ugorji/go/codec"

	"github.com/okian/halom/internal/domain/model"
	"github.com/okian/halom/pkg/logger"
)

// Key prefixes.
const (
	cachePrefix      = "cache_"
	reputationPrefix = "rep_"
	historyPrefix    = "hist_"
)

// BadgerStore persists state in a local badger database. Values are
// JSON encoded with the ugorji codec.
type BadgerStore struct {
	db          *badger.DB
	path        string
	historySize int

	// history bookkeeping, guarded by mu
	mu      sync.Mutex
	nextSeq uint64
	count   int
}

// NewBadgerStore opens (or creates) a badger database at path.
func NewBadgerStore(path string, opts ...Option) (*BadgerStore, error) {
	if path == "" {
		return nil, fmt.Errorf("%w: badger path is empty", ErrInvalidRecord)
	}
	s := newSettings(opts)

	bopts := badger.DefaultOptions(path)
	bopts.SyncWrites = true
	if s.log != nil {
		bopts.Logger = &badgerLogger{log: s.log}
	}
	db, err := badger.Open(bopts)
	if err != nil {
		return nil, fmt.Errorf("opening badger at %s: %w", path, err)
	}

	store := &BadgerStore{db: db, path: path, historySize: s.historySize}
	if err := store.loadHistoryState(); err != nil {
		_ = db.Close()
		return nil, err
	}
	return store, nil
}

func cacheKey(source string) []byte  { return []byte(cachePrefix + source) }
func reputationKey(id string) []byte { return []byte(reputationPrefix + id) }
func historyKey(seq uint64) []byte   { return []byte(fmt.Sprintf("%s%020d", historyPrefix, seq)) }

func encode(v interface{}) ([]byte, error) {
	b := new(bytes.Buffer)
	jh := new(codec.JsonHandle)
	jh.Canonical = true
	if err := codec.NewEncoder(b, jh).Encode(v); err != nil {
		return nil, err
	}
	return b.Bytes(), nil
}

func decode(data []byte, v interface{}) error {
	jh := new(codec.JsonHandle)
	jh.Canonical = true
	return codec.NewDecoder(bytes.NewBuffer(data), jh).Decode(v)
}

// loadHistoryState finds the newest history sequence and the entry count.
func (b *BadgerStore) loadHistoryState() error {
	prefix := []byte(historyPrefix)
	return b.db.View(func(txn *badger.Txn) error {
		iopts := badger.DefaultIteratorOptions
		iopts.PrefetchValues = false
		it := txn.NewIterator(iopts)
		defer it.Close()
		for it.Seek(prefix); it.ValidForPrefix(prefix); it.Next() {
			key := it.Item().KeyCopy(nil)
			seq, err := strconv.ParseUint(string(key[len(prefix):]), 10, 64)
			if err != nil {
				return fmt.Errorf("%w: history key %q", ErrInvalidRecord, key)
			}
			if seq >= b.nextSeq {
				b.nextSeq = seq + 1
			}
			b.count++
		}
		return nil
	})
}

func (b *BadgerStore) get(key []byte, v interface{}) (bool, error) {
	var data []byte
	err := b.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get(key)
		if err != nil {
			return err
		}
		data, err = item.ValueCopy(nil)
		return err
	})
	if errors.Is(err, badger.ErrKeyNotFound) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return true, decode(data, v)
}

func (b *BadgerStore) set(key []byte, v interface{}) error {
	val, err := encode(v)
	if err != nil {
		return err
	}
	return b.db.Update(func(txn *badger.Txn) error {
		return txn.Set(key, val)
	})
}

type cachedObservation struct {
	Source      string  `codec:"source"`
	Value       float64 `codec:"value"`
	UnixNano    int64   `codec:"ts"`
	Weight      float64 `codec:"weight"`
	Reliability float64 `codec:"reliability"`
}

func unixNano(n int64) time.Time {
	if n == 0 {
		return time.Time{}
	}
	return time.Unix(0, n)
}

// GetObservation implements CacheStore.
func (b *BadgerStore) GetObservation(_ context.Context, source string) (model.Observation, bool, error) {
	var c cachedObservation
	ok, err := b.get(cacheKey(source), &c)
	if err != nil || !ok {
		return model.Observation{}, ok, err
	}
	return model.Observation{
		Source:      c.Source,
		Value:       c.Value,
		Timestamp:   unixNano(c.UnixNano),
		Weight:      c.Weight,
		Reliability: c.Reliability,
	}, true, nil
}

// SetObservation implements CacheStore.
func (b *BadgerStore) SetObservation(_ context.Context, o model.Observation) error {
	if o.Source == "" {
		return fmt.Errorf("%w: observation without source", ErrInvalidRecord)
	}
	var ts int64
	if !o.Timestamp.IsZero() {
		ts = o.Timestamp.UnixNano()
	}
	return b.set(cacheKey(o.Source), cachedObservation{
		Source:      o.Source,
		Value:       o.Value,
		UnixNano:    ts,
		Weight:      o.Weight,
		Reliability: o.Reliability,
	})
}

// EvictObservation implements CacheStore.
func (b *BadgerStore) EvictObservation(_ context.Context, source string) error {
	return b.db.Update(func(txn *badger.Txn) error {
		return txn.Delete(cacheKey(source))
	})
}

// GetReputation implements ReputationStore.
func (b *BadgerStore) GetReputation(_ context.Context, nodeID string) (int, bool, error) {
	var score int
	ok, err := b.get(reputationKey(nodeID), &score)
	return score, ok, err
}

// SetReputation implements ReputationStore.
func (b *BadgerStore) SetReputation(_ context.Context, nodeID string, score int) error {
	return b.set(reputationKey(nodeID), score)
}

// ListReputations implements ReputationStore.
func (b *BadgerStore) ListReputations(_ context.Context) ([]model.NodeReputation, error) {
	prefix := []byte(reputationPrefix)
	var out []model.NodeReputation
	err := b.db.View(func(txn *badger.Txn) error {
		it := txn.NewIterator(badger.DefaultIteratorOptions)
		defer it.Close()
		for it.Seek(prefix); it.ValidForPrefix(prefix); it.Next() {
			item := it.Item()
			data, err := item.ValueCopy(nil)
			if err != nil {
				return err
			}
			var score int
			if err := decode(data, &score); err != nil {
				return err
			}
			out = append(out, model.NodeReputation{
				NodeID: string(item.KeyCopy(nil)[len(prefix):]),
				Score:  score,
			})
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	sort.Slice(out, func(i, j int) bool { return out[i].NodeID < out[j].NodeID })
	return out, nil
}

// AppendAccepted implements HistoryStore. Entries beyond the history size
// are deleted oldest first.
func (b *BadgerStore) AppendAccepted(_ context.Context, a model.Accepted) error {
	val, err := encode(a)
	if err != nil {
		return err
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	seq := b.nextSeq
	over := b.count + 1 - b.historySize
	err = b.db.Update(func(txn *badger.Txn) error {
		if err := txn.Set(historyKey(seq), val); err != nil {
			return err
		}
		if over <= 0 {
			return nil
		}
		prefix := []byte(historyPrefix)
		iopts := badger.DefaultIteratorOptions
		iopts.PrefetchValues = false
		it := txn.NewIterator(iopts)
		var stale [][]byte
		for it.Seek(prefix); it.ValidForPrefix(prefix) && len(stale) < over; it.Next() {
			stale = append(stale, it.Item().KeyCopy(nil))
		}
		it.Close()
		for _, k := range stale {
			if err := txn.Delete(k); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return err
	}
	b.nextSeq++
	b.count = min(b.count+1, b.historySize)
	return nil
}

// LatestAccepted implements HistoryStore.
func (b *BadgerStore) LatestAccepted(ctx context.Context) (model.Accepted, bool, error) {
	list, err := b.RecentAccepted(ctx, 1)
	if err != nil || len(list) == 0 {
		return model.Accepted{}, false, err
	}
	return list[0], true, nil
}

// RecentAccepted implements HistoryStore.
func (b *BadgerStore) RecentAccepted(_ context.Context, n int) ([]model.Accepted, error) {
	if n <= 0 {
		return nil, fmt.Errorf("%w: %d", ErrInvalidLimit, n)
	}
	prefix := []byte(historyPrefix)
	var out []model.Accepted
	err := b.db.View(func(txn *badger.Txn) error {
		iopts := badger.DefaultIteratorOptions
		iopts.Reverse = true
		it := txn.NewIterator(iopts)
		defer it.Close()
		for it.Seek(append(append([]byte(nil), prefix...), 0xFF)); it.ValidForPrefix(prefix) && len(out) < n; it.Next() {
			data, err := it.Item().ValueCopy(nil)
			if err != nil {
				return err
			}
			var a model.Accepted
			if err := decode(data, &a); err != nil {
				return err
			}
			out = append(out, a)
		}
		return nil
	})
	return out, err
}

// Close implements Store.
func (b *BadgerStore) Close() error {
	return b.db.Close()
}

// badgerLogger routes badger's internal logging through the service logger.
type badgerLogger struct {
	log logger.Logger
}

func (l *badgerLogger) Errorf(f string, v ...interface{}) {
	l.log.Error(context.Background(), fmt.Sprintf(f, v...))
}

func (l *badgerLogger) Warningf(f string, v ...interface{}) {
	l.log.Warn(context.Background(), fmt.Sprintf(f, v...))
}

func (l *badgerLogger) Infof(f string, v ...interface{}) {
	l.log.Debug(context.Background(), fmt.Sprintf(f, v...))
}

func (l *badgerLogger) Debugf(f string, v ...interface{}) {
	l.log.Debug(context.Background(), fmt.Sprintf(f, v...))
}
