// SPDX-License-Identifier: Apache-2.0
// Copyright Authors of Cilium

package mactable

import (
	"context"
	"errors"
	"fmt"

	"github.com/cilium/workerpool"
	"golang.org/x/sync/errgroup"

	"github.com/cilium/vbridge/pkg/logging/logfields"
	"github.com/cilium/vbridge/pkg/types"
)

type probeTarget struct {
	mac  types.MACAddr
	vlan VlanID
	port SwitchPort
}

// ProbeSweep consumes a probe credit of every entry without an IP address
// and sends a probe for each credit granted. It returns the number of probes
// sent successfully.
func (t *Table) ProbeSweep(ctx context.Context) (int, error) {
	if t.prober == nil {
		return 0, nil
	}

	var (
		targets   []probeTarget
		exhausted int
	)
	for _, s := range t.shards {
		s.mu.Lock()
		for _, e := range s.entries {
			if !e.NeedIPProbe() {
				continue
			}
			targets = append(targets, probeTarget{mac: e.EtherAddress(), vlan: e.VlanID(), port: e.Port()})
			if e.IPProbeCount() == MaxIPProbe {
				exhausted++
			}
		}
		s.mu.Unlock()
	}
	if exhausted > 0 {
		t.metrics.ProbeBudgetExhausted.Add(float64(exhausted))
	}
	if len(targets) == 0 {
		return 0, nil
	}

	wp := workerpool.New(t.probeWorkers)
	defer wp.Close()

	var errs []error
	for _, tgt := range targets {
		if err := t.probeLimiter.Wait(ctx); err != nil {
			errs = append(errs, err)
			break
		}
		id := Key{MAC: tgt.mac, VLAN: tgt.vlan}.String()
		err := wp.Submit(id, func(ctx context.Context) error {
			return t.prober.SendProbe(ctx, tgt.mac, tgt.vlan, tgt.port)
		})
		if err != nil {
			errs = append(errs, err)
			break
		}
	}

	tasks, err := wp.Drain()
	if err != nil {
		errs = append(errs, err)
	}
	sent := 0
	for _, task := range tasks {
		if err := task.Err(); err != nil {
			errs = append(errs, fmt.Errorf("probing %s: %w", task, err))
			t.metrics.ProbesSent.WithLabelValues(outcomeLabel(err)).Inc()
			continue
		}
		sent++
		t.metrics.ProbesSent.WithLabelValues(outcomeLabel(nil)).Inc()
	}
	return sent, errors.Join(errs...)
}

// FlushStats reports the store operations of a flush.
type FlushStats struct {
	Written int
	Deleted int
	Failed  int
}

type pendingWrite struct {
	key   Key
	entry Entry
	gen   uint64
	rec   *Record
	done  bool
	err   error
}

type pendingDelete struct {
	key  Key
	done bool
	err  error
}

type shardFlush struct {
	shard   *shard
	writes  []pendingWrite
	deletes []pendingDelete
}

// Flush writes every entry which needs a write and deletes the records of
// removed entries. Entries stay dirty and removals stay pending until the
// store confirms the operation. An entry mutated while its write was in
// flight stays dirty.
func (t *Table) Flush(ctx context.Context) (FlushStats, error) {
	t.flushMu.Lock()
	defer t.flushMu.Unlock()

	flushes := make([]*shardFlush, 0, len(t.shards))
	for _, s := range t.shards {
		sf := &shardFlush{shard: s}
		s.mu.Lock()
		for k, e := range s.entries {
			if rec, ok := e.ToRecord(); ok {
				sf.writes = append(sf.writes, pendingWrite{key: k, entry: e, gen: e.base().gen, rec: rec})
			}
		}
		for k := range s.tombstones {
			sf.deletes = append(sf.deletes, pendingDelete{key: k})
		}
		s.mu.Unlock()
		if len(sf.writes) > 0 || len(sf.deletes) > 0 {
			flushes = append(flushes, sf)
		}
	}

	var g errgroup.Group
	for _, sf := range flushes {
		g.Go(func() error {
			for i := range sf.writes {
				if err := ctx.Err(); err != nil {
					return err
				}
				sf.writes[i].err = t.store.WriteBack(ctx, t.scope, sf.writes[i].rec)
				sf.writes[i].done = true
			}
			for i := range sf.deletes {
				if err := ctx.Err(); err != nil {
					return err
				}
				sf.deletes[i].err = t.store.Delete(ctx, t.scope, sf.deletes[i].key)
				sf.deletes[i].done = true
			}
			return nil
		})
	}
	ctxErr := g.Wait()

	var (
		stats FlushStats
		errs  []error
	)
	for _, sf := range flushes {
		s := sf.shard
		s.mu.Lock()
		for _, w := range sf.writes {
			if !w.done {
				continue
			}
			if w.err != nil {
				stats.Failed++
				errs = append(errs, w.err)
				t.metrics.FlushOps.WithLabelValues(opWrite, outcomeLabel(w.err)).Inc()
				continue
			}
			stats.Written++
			t.metrics.FlushOps.WithLabelValues(opWrite, outcomeLabel(nil)).Inc()
			if cur, ok := s.entries[w.key]; ok && cur == w.entry {
				s.written(w)
			}
		}
		for _, d := range sf.deletes {
			if !d.done {
				continue
			}
			if d.err != nil {
				stats.Failed++
				errs = append(errs, d.err)
				t.metrics.FlushOps.WithLabelValues(opDelete, outcomeLabel(d.err)).Inc()
				continue
			}
			stats.Deleted++
			t.metrics.FlushOps.WithLabelValues(opDelete, outcomeLabel(nil)).Inc()
			delete(s.tombstones, d.key)
		}
		s.mu.Unlock()
	}
	if ctxErr != nil {
		errs = append(errs, ctxErr)
	}

	if len(errs) > 0 {
		t.logger.Warn("Failed to flush MAC table entries, will retry",
			logfields.Count, stats.Failed,
			logfields.Error, errors.Join(errs...),
		)
	}
	return stats, errors.Join(errs...)
}

// written records the successful write of w. A NewEntry becomes a clean
// CurrentEntry unless it was mutated after the record was taken.
func (s *shard) written(w pendingWrite) {
	switch e := w.entry.(type) {
	case *NewEntry:
		if e.gen != w.gen {
			return
		}
		cur := NewCurrentEntry(w.rec)
		cur.used = e.used
		cur.gen = e.gen
		s.entries[w.key] = cur
	case *CurrentEntry:
		e.markClean(w.gen)
	}
}

// Age removes the entries not used since the previous call and clears the
// used flag of the others, which makes them dirty. An entry unused for two
// consecutive sweeps is thereby removed after between one and two aging
// intervals.
func (t *Table) Age() []*Record {
	var removed []*Record
	for _, s := range t.shards {
		s.mu.Lock()
		for k, e := range s.entries {
			b := e.base()
			if b.used {
				b.used = false
				e.MarkDirty()
				continue
			}
			removed = append(removed, snapshot(e))
			delete(s.entries, k)
			s.tombstones[k] = struct{}{}
		}
		s.mu.Unlock()
	}
	t.removed(removed, reasonAged)
	return removed
}

// Restore loads the records of the bridge from the store. Entries already
// in the table take precedence over stored records. It returns the number
// of restored entries.
func (t *Table) Restore(ctx context.Context) (int, error) {
	recs, err := t.store.ReadAll(ctx, t.scope)
	if err != nil {
		return 0, fmt.Errorf("restoring MAC table %q: %w", t.scope, err)
	}
	n := 0
	for _, rec := range recs {
		key := rec.Key()
		s := t.shardFor(key)
		s.mu.Lock()
		if _, found := s.entries[key]; !found {
			if _, removed := s.tombstones[key]; !removed {
				s.entries[key] = NewCurrentEntry(rec)
				n++
			}
		}
		s.mu.Unlock()
	}
	t.metrics.Entries.Add(float64(n))
	t.logger.Info("Restored MAC table",
		logfields.Entries, n,
		logfields.Count, len(recs),
	)
	return n, nil
}
