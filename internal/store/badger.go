package store

import (
	"encoding/json"
	"fmt"
	"sort"
	"strings"

	badger "github.com/dgraph-io/badger/v4"

	"github.com/danmuck/tidectl/internal/state"
)

const (
	appliedPrefix = "applied/"
	opsPrefix     = "ops/"
)

// Badger persists bookkeeping in an embedded badger database so restarts
// resume with the same last-applied view the previous process recorded.
type Badger struct {
	db *badger.DB
}

type appliedRecord struct {
	ID   state.ResourceID `json:"id"`
	Hash string           `json:"hash"`
}

// OpenBadger opens or creates the store at one directory path.
func OpenBadger(path string) (*Badger, error) {
	opts := badger.DefaultOptions(strings.TrimSpace(path)).WithLogger(nil)
	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("store: open badger at %s: %w", path, err)
	}
	return &Badger{db: db}, nil
}

func appliedKey(application string, id state.ResourceID) []byte {
	return []byte(appliedPrefix + application + "/" + id.String())
}

func appliedScan(application string) []byte {
	return []byte(appliedPrefix + application + "/")
}

func opKey(op state.SyncOperation) []byte {
	return []byte(fmt.Sprintf("%s%s/%020d-%s", opsPrefix, op.Application, op.StartedAt.UnixNano(), op.ID))
}

func opScan(application string) []byte {
	return []byte(opsPrefix + application + "/")
}

func (b *Badger) PutLastApplied(application string, id state.ResourceID, hash string) error {
	raw, err := json.Marshal(appliedRecord{ID: id, Hash: hash})
	if err != nil {
		return err
	}
	return b.db.Update(func(txn *badger.Txn) error {
		return txn.Set(appliedKey(application, id), raw)
	})
}

func (b *Badger) DeleteLastApplied(application string, id state.ResourceID) error {
	return b.db.Update(func(txn *badger.Txn) error {
		return txn.Delete(appliedKey(application, id))
	})
}

func (b *Badger) LastApplied(application string) (map[state.ResourceID]string, error) {
	out := make(map[state.ResourceID]string)
	err := b.db.View(func(txn *badger.Txn) error {
		it := txn.NewIterator(badger.DefaultIteratorOptions)
		defer it.Close()
		prefix := appliedScan(application)
		for it.Seek(prefix); it.ValidForPrefix(prefix); it.Next() {
			err := it.Item().Value(func(v []byte) error {
				var rec appliedRecord
				if err := json.Unmarshal(v, &rec); err != nil {
					return err
				}
				out[rec.ID] = rec.Hash
				return nil
			})
			if err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

func (b *Badger) ClearLastApplied(application string) error {
	applied, err := b.LastApplied(application)
	if err != nil {
		return err
	}
	return b.db.Update(func(txn *badger.Txn) error {
		for id := range applied {
			if err := txn.Delete(appliedKey(application, id)); err != nil {
				return err
			}
		}
		return nil
	})
}

func (b *Badger) AppendOperation(op state.SyncOperation) error {
	raw, err := json.Marshal(op)
	if err != nil {
		return err
	}
	return b.db.Update(func(txn *badger.Txn) error {
		return txn.Set(opKey(op), raw)
	})
}

func (b *Badger) Operations(application string, limit int) ([]state.SyncOperation, error) {
	var out []state.SyncOperation
	err := b.db.View(func(txn *badger.Txn) error {
		it := txn.NewIterator(badger.DefaultIteratorOptions)
		defer it.Close()
		prefix := opScan(application)
		for it.Seek(prefix); it.ValidForPrefix(prefix); it.Next() {
			err := it.Item().Value(func(v []byte) error {
				var op state.SyncOperation
				if err := json.Unmarshal(v, &op); err != nil {
					return err
				}
				out = append(out, op)
				return nil
			})
			if err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	sort.Slice(out, func(i, j int) bool { return out[i].StartedAt.After(out[j].StartedAt) })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (b *Badger) Close() error {
	return b.db.Close()
}
