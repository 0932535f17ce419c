// Package dedupe ensures each oracle node is counted at most once per
// submission round.
package dedupe

import (
	"context"
	"sync"
	"sync/atomic"
)

const defaultMaxSize = 10000

// Deduper records (round, node) pairs.
type Deduper interface {
	// SeenAndRecord reports whether node already submitted in round and
	// records the pair if not. The check and the record are atomic.
	SeenAndRecord(ctx context.Context, round, node string) bool

	// Unrecord removes a pair so the node may submit again, e.g. after its
	// submission could not be stored.
	Unrecord(ctx context.Context, round, node string)

	// Forget drops every pair of a closed round.
	Forget(ctx context.Context, round string)

	Size() int64
}

type pair struct {
	round string
	node  string
}

// memoryDeduper keeps pairs in memory. With maxSize > 0 the oldest pair is
// evicted once the limit is reached; otherwise it grows without bound.
type memoryDeduper struct {
	mu      sync.Mutex
	rounds  map[string]map[string]struct{}
	order   []pair // insertion order, used for eviction
	maxSize int
	size    atomic.Int64
}

// NewInMemoryDeduper creates a deduper with configuration options.
func NewInMemoryDeduper(opts ...Option) Deduper {
	d := &memoryDeduper{
		rounds:  make(map[string]map[string]struct{}),
		maxSize: defaultMaxSize,
	}
	for _, opt := range opts {
		opt(d)
	}
	return d
}

func (d *memoryDeduper) SeenAndRecord(_ context.Context, round, node string) bool {
	d.mu.Lock()
	defer d.mu.Unlock()

	nodes, ok := d.rounds[round]
	if ok {
		if _, seen := nodes[node]; seen {
			return true
		}
	} else {
		nodes = make(map[string]struct{})
		d.rounds[round] = nodes
	}

	if d.maxSize > 0 {
		for int(d.size.Load()) >= d.maxSize && len(d.order) > 0 {
			d.evictOldest()
		}
		d.order = append(d.order, pair{round: round, node: node})
	}
	nodes[node] = struct{}{}
	d.size.Add(1)
	return false
}

func (d *memoryDeduper) Unrecord(_ context.Context, round, node string) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.removeLocked(round, node)
}

func (d *memoryDeduper) Forget(_ context.Context, round string) {
	d.mu.Lock()
	defer d.mu.Unlock()

	nodes, ok := d.rounds[round]
	if !ok {
		return
	}
	d.size.Add(-int64(len(nodes)))
	delete(d.rounds, round)
	if d.maxSize > 0 {
		kept := d.order[:0]
		for _, p := range d.order {
			if p.round != round {
				kept = append(kept, p)
			}
		}
		d.order = kept
	}
}

func (d *memoryDeduper) Size() int64 {
	return d.size.Load()
}

// evictOldest drops the first recorded pair. Callers hold d.mu.
func (d *memoryDeduper) evictOldest() {
	p := d.order[0]
	d.order = d.order[1:]
	if nodes, ok := d.rounds[p.round]; ok {
		if _, ok := nodes[p.node]; ok {
			delete(nodes, p.node)
			d.size.Add(-1)
		}
		if len(nodes) == 0 {
			delete(d.rounds, p.round)
		}
	}
}

func (d *memoryDeduper) removeLocked(round, node string) {
	nodes, ok := d.rounds[round]
	if !ok {
		return
	}
	if _, ok := nodes[node]; !ok {
		return
	}
	delete(nodes, node)
	if len(nodes) == 0 {
		delete(d.rounds, round)
	}
	d.size.Add(-1)
	if d.maxSize > 0 {
		for i, p := range d.order {
			if p.round == round && p.node == node {
				d.order = append(d.order[:i], d.order[i+1:]...)
				break
			}
		}
	}
}
