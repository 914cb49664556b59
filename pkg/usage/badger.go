package usage

import (
	"bytes"
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"time"

	"github.com/aleksaelezovic/worlds/pkg/store"
)

const dayLayout = "20060102"

// BadgerMeter keeps daily counters per tenant, world and kind in the
// key-value storage. Summaries have day granularity.
type BadgerMeter struct {
	storage store.Storage
	retries int
}

// NewBadgerMeter creates a meter over storage
func NewBadgerMeter(storage store.Storage) *BadgerMeter {
	return &BadgerMeter{storage: storage, retries: 16}
}

func counterKey(tenant, world string, kind Kind, day string) []byte {
	return store.CompositeKey(tenant, world, string(kind), day)
}

func encodeCounter(count, units int64) []byte {
	buf := make([]byte, 16)
	binary.BigEndian.PutUint64(buf[:8], uint64(count))
	binary.BigEndian.PutUint64(buf[8:], uint64(units))
	return buf
}

func decodeCounter(data []byte) (int64, int64, error) {
	if len(data) != 16 {
		return 0, 0, fmt.Errorf("corrupt usage counter of %d bytes", len(data))
	}
	return int64(binary.BigEndian.Uint64(data[:8])), int64(binary.BigEndian.Uint64(data[8:])), nil
}

func (m *BadgerMeter) Record(ctx context.Context, e Event) error {
	key := counterKey(e.TenantID, e.WorldID, e.Kind, e.At.UTC().Format(dayLayout))
	var err error
	for range m.retries {
		if err = ctx.Err(); err != nil {
			return err
		}
		err = store.Update(m.storage, func(txn store.Transaction) error {
			var count, units int64
			data, err := txn.Get(store.TableUsage, key)
			switch {
			case err == nil:
				if count, units, err = decodeCounter(data); err != nil {
					return err
				}
			case !errors.Is(err, store.ErrNotFound):
				return err
			}
			return txn.Set(store.TableUsage, key, encodeCounter(count+1, units+e.Units))
		})
		if !errors.Is(err, store.ErrConflict) {
			return err
		}
	}
	return err
}

func (m *BadgerMeter) Summarize(ctx context.Context, tenantID string, since time.Time) ([]Summary, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	from := since.UTC().Format(dayLayout)
	totals := make(map[[2]string]*Summary)

	err := store.View(m.storage, func(txn store.Transaction) error {
		it, err := txn.Scan(store.TableUsage, store.CompositeKey(tenantID, ""), nil)
		if err != nil {
			return err
		}
		defer func() { _ = it.Close() }()

		for it.Next() {
			parts := bytes.Split(it.Key(), []byte{0})
			if len(parts) != 4 || string(parts[3]) < from {
				continue
			}
			value, err := it.Value()
			if err != nil {
				return err
			}
			count, units, err := decodeCounter(value)
			if err != nil {
				return err
			}
			id := [2]string{string(parts[1]), string(parts[2])}
			s, ok := totals[id]
			if !ok {
				s = &Summary{TenantID: tenantID, WorldID: id[0], Kind: Kind(id[1])}
				totals[id] = s
			}
			s.Count += count
			s.Units += units
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	summaries := make([]Summary, 0, len(totals))
	for _, s := range totals {
		summaries = append(summaries, *s)
	}
	sortSummaries(summaries)
	return summaries, nil
}
