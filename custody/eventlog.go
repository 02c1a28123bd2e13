package custody

import (
	"bytes"
	"context"
	"fmt"
	"sync"

	cborutil "github.com/filecoin-project/go-cbor-util"
	"github.com/ipfs/go-datastore"
	"github.com/ipfs/go-datastore/query"
	"golang.org/x/xerrors"
)

// LogEntry is one persisted custody transition. Consecutive identical
// processing errors coalesce into a single entry with a bumped Count, so a
// flapping collaborator cannot grow the log unboundedly.
type LogEntry struct {
	At    uint64
	Kind  string
	Phase CustodyPhase
	// Detail carries the error message for processing errors.
	Detail string
	Count  uint64
}

// eventLog is the append-only transition log, keyed by a monotonic index.
type eventLog struct {
	ds datastore.Datastore

	lk     sync.Mutex
	loaded bool
	next   uint64
	last   *LogEntry
}

func newEventLog(ds datastore.Datastore) *eventLog {
	return &eventLog{ds: ds}
}

func logKey(idx uint64) datastore.Key {
	return datastore.NewKey(fmt.Sprintf("%020d", idx))
}

// load recovers the next index and the last entry from the store.
func (l *eventLog) load(ctx context.Context) error {
	if l.loaded {
		return nil
	}

	res, err := l.ds.Query(ctx, query.Query{
		Orders: []query.Order{query.OrderByKeyDescending{}},
		Limit:  1,
	})
	if err != nil {
		return xerrors.Errorf("querying transition log: %w", err)
	}
	defer res.Close() //nolint:errcheck

	for r := range res.Next() {
		if r.Error != nil {
			return xerrors.Errorf("reading transition log tail: %w", r.Error)
		}

		var idx uint64
		if _, err := fmt.Sscanf(datastore.RawKey(r.Key).BaseNamespace(), "%d", &idx); err != nil {
			return xerrors.Errorf("parsing transition log key %s: %w", r.Key, err)
		}

		var entry LogEntry
		if err := cborutil.ReadCborRPC(bytes.NewReader(r.Value), &entry); err != nil {
			return xerrors.Errorf("decoding transition log tail: %w", err)
		}

		l.next = idx + 1
		l.last = &entry
	}

	l.loaded = true
	return nil
}

// record appends the transition to the log.
func (l *eventLog) record(now uint64, evt custodyEvent, info *CustodyInfo) error {
	l.lk.Lock()
	defer l.lk.Unlock()

	ctx := context.Background()
	if err := l.load(ctx); err != nil {
		return err
	}

	entry := LogEntry{
		At:    now,
		Kind:  eventName(evt),
		Phase: info.Phase,
		Count: 1,
	}
	if pe, ok := evt.(EventProcessingError); ok {
		entry.Detail = pe.Message
	}

	idx := l.next
	if l.last != nil && l.last.Kind == entry.Kind && entry.Kind == eventName(EventProcessingError{}) &&
		l.last.Detail == entry.Detail {
		// coalesce onto the previous entry
		entry.Count = l.last.Count + 1
		idx = l.next - 1
	}

	raw, err := cborutil.Dump(&entry)
	if err != nil {
		return xerrors.Errorf("encoding transition log entry: %w", err)
	}
	if err := l.ds.Put(ctx, logKey(idx), raw); err != nil {
		return xerrors.Errorf("writing transition log entry: %w", err)
	}

	l.next = idx + 1
	l.last = &entry
	return nil
}

// tail returns up to count most recent entries, oldest first.
func (l *eventLog) tail(ctx context.Context, count int) ([]LogEntry, error) {
	l.lk.Lock()
	defer l.lk.Unlock()

	res, err := l.ds.Query(ctx, query.Query{
		Orders: []query.Order{query.OrderByKeyDescending{}},
		Limit:  count,
	})
	if err != nil {
		return nil, xerrors.Errorf("querying transition log: %w", err)
	}
	defer res.Close() //nolint:errcheck

	var out []LogEntry
	for r := range res.Next() {
		if r.Error != nil {
			return nil, xerrors.Errorf("reading transition log: %w", r.Error)
		}
		var entry LogEntry
		if err := cborutil.ReadCborRPC(bytes.NewReader(r.Value), &entry); err != nil {
			return nil, xerrors.Errorf("decoding transition log entry: %w", err)
		}
		out = append(out, entry)
	}

	// oldest first
	for i, j := 0, len(out)-1; i < j; i, j = i+1, j-1 {
		out[i], out[j] = out[j], out[i]
	}
	return out, nil
}

// Log returns up to count most recent transitions, oldest first.
func (c *Controller) Log(ctx context.Context, count int) ([]LogEntry, error) {
	return c.elog.tail(ctx, count)
}
