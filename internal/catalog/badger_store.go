// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package catalog

import (
	"context"
	"encoding/json"
	"errors"
	"sort"
	"time"

	"github.com/dgraph-io/badger/v4"
)

// BadgerStore keeps the catalog in a badger KV store:
// - segments: key = "seg:<token>" (JSON)
// - path index: key = "path:<path>" (value = token)
// - works: key = "work:<id>" (JSON)
type BadgerStore struct {
	db *badger.DB
}

const (
	segPrefix  = "seg:"
	pathPrefix = "path:"
	workPrefix = "work:"
)

func OpenBadgerStore(path string) (*BadgerStore, error) {
	opts := badger.DefaultOptions(path).WithLogger(nil)
	if path == "" {
		opts = opts.WithInMemory(true)
	}
	db, err := badger.Open(opts)
	if err != nil {
		return nil, err
	}
	return &BadgerStore{db: db}, nil
}

func (s *BadgerStore) Close() error { return s.db.Close() }

func getJSON(txn *badger.Txn, key string, out any) error {
	item, err := txn.Get([]byte(key))
	if errors.Is(err, badger.ErrKeyNotFound) {
		return ErrNotFound
	}
	if err != nil {
		return err
	}
	return item.Value(func(val []byte) error {
		return json.Unmarshal(val, out)
	})
}

func setJSON(txn *badger.Txn, key string, v any) error {
	buf, err := json.Marshal(v)
	if err != nil {
		return err
	}
	return txn.Set([]byte(key), buf)
}

func exists(txn *badger.Txn, key string) (bool, error) {
	_, err := txn.Get([]byte(key))
	if errors.Is(err, badger.ErrKeyNotFound) {
		return false, nil
	}
	return err == nil, err
}

func (s *BadgerStore) Insert(ctx context.Context, seg *Segment) error {
	if err := validateNew(seg); err != nil {
		return err
	}
	return s.db.Update(func(txn *badger.Txn) error {
		for _, k := range []string{segPrefix + seg.Token, pathPrefix + seg.Path} {
			ok, err := exists(txn, k)
			if err != nil {
				return err
			}
			if ok {
				return ErrDuplicate
			}
		}
		if err := setJSON(txn, segPrefix+seg.Token, seg); err != nil {
			return err
		}
		return txn.Set([]byte(pathPrefix+seg.Path), []byte(seg.Token))
	})
}

func (s *BadgerStore) Get(ctx context.Context, token string) (*Segment, error) {
	var out Segment
	err := s.db.View(func(txn *badger.Txn) error {
		return getJSON(txn, segPrefix+token, &out)
	})
	if err != nil {
		return nil, err
	}
	return &out, nil
}

func (s *BadgerStore) GetByPath(ctx context.Context, path string) (*Segment, error) {
	var out Segment
	err := s.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get([]byte(pathPrefix + path))
		if errors.Is(err, badger.ErrKeyNotFound) {
			return ErrNotFound
		}
		if err != nil {
			return err
		}
		tok, err := item.ValueCopy(nil)
		if err != nil {
			return err
		}
		return getJSON(txn, segPrefix+string(tok), &out)
	})
	if err != nil {
		return nil, err
	}
	return &out, nil
}

func (s *BadgerStore) Update(ctx context.Context, token string, fn Mutation) (*Segment, error) {
	var out Segment
	err := s.db.Update(func(txn *badger.Txn) error {
		if err := getJSON(txn, segPrefix+token, &out); err != nil {
			return err
		}
		tok, path := out.Token, out.Path
		if err := fn(&out); err != nil {
			return err
		}
		out.Token, out.Path = tok, path
		return setJSON(txn, segPrefix+token, &out)
	})
	if err != nil {
		return nil, err
	}
	return &out, nil
}

func (s *BadgerStore) Delete(ctx context.Context, token string) error {
	return s.db.Update(func(txn *badger.Txn) error {
		var seg Segment
		if err := getJSON(txn, segPrefix+token, &seg); err != nil {
			return err
		}
		if err := txn.Delete([]byte(pathPrefix + seg.Path)); err != nil {
			return err
		}
		return txn.Delete([]byte(segPrefix + token))
	})
}

// scanSegments visits every segment in one read transaction.
func (s *BadgerStore) scanSegments(fn func(*Segment)) error {
	return s.db.View(func(txn *badger.Txn) error {
		it := txn.NewIterator(badger.DefaultIteratorOptions)
		defer it.Close()
		prefix := []byte(segPrefix)
		for it.Seek(prefix); it.ValidForPrefix(prefix); it.Next() {
			var seg Segment
			if err := it.Item().Value(func(val []byte) error {
				return json.Unmarshal(val, &seg)
			}); err != nil {
				return err
			}
			fn(&seg)
		}
		return nil
	})
}

func (s *BadgerStore) List(ctx context.Context, f ListFilter) ([]*Segment, error) {
	var out []*Segment
	err := s.scanSegments(func(seg *Segment) {
		if f.match(seg) {
			out = append(out, seg)
		}
	})
	if err != nil {
		return nil, err
	}
	sortSegments(out)
	if f.Limit > 0 && len(out) > f.Limit {
		out = out[:f.Limit]
	}
	return out, nil
}

func (s *BadgerStore) MaxIndex(ctx context.Context, workID string) (int, error) {
	maxIdx := 0
	err := s.scanSegments(func(seg *Segment) {
		if seg.WorkID == workID && seg.Index != nil && *seg.Index > maxIdx {
			maxIdx = *seg.Index
		}
	})
	return maxIdx, err
}

func (s *BadgerStore) OlderThan(ctx context.Context, t time.Time) ([]*Segment, error) {
	var out []*Segment
	err := s.scanSegments(func(seg *Segment) {
		if seg.RecordedAt.Before(t) {
			out = append(out, seg)
		}
	})
	if err != nil {
		return nil, err
	}
	sortSegments(out)
	return out, nil
}

func (s *BadgerStore) NextCandidate(ctx context.Context, maxRetry int) (*Segment, error) {
	var best *Segment
	err := s.scanSegments(func(seg *Segment) {
		if seg.Eligible(maxRetry) && (best == nil || older(seg, best)) {
			best = seg
		}
	})
	return best, err
}

func (s *BadgerStore) InsertWork(ctx context.Context, w *Work) error {
	if err := validateWork(w); err != nil {
		return err
	}
	return s.db.Update(func(txn *badger.Txn) error {
		ok, err := exists(txn, workPrefix+w.ID)
		if err != nil {
			return err
		}
		if ok {
			return ErrDuplicate
		}
		return setJSON(txn, workPrefix+w.ID, w)
	})
}

func (s *BadgerStore) GetWork(ctx context.Context, id string) (*Work, error) {
	var out Work
	err := s.db.View(func(txn *badger.Txn) error {
		return getJSON(txn, workPrefix+id, &out)
	})
	if err != nil {
		return nil, err
	}
	return &out, nil
}

func (s *BadgerStore) UpdateWork(ctx context.Context, id string, fn WorkMutation) (*Work, error) {
	var out Work
	err := s.db.Update(func(txn *badger.Txn) error {
		if err := getJSON(txn, workPrefix+id, &out); err != nil {
			return err
		}
		if err := fn(&out); err != nil {
			return err
		}
		out.ID = id
		return setJSON(txn, workPrefix+id, &out)
	})
	if err != nil {
		return nil, err
	}
	return &out, nil
}

func (s *BadgerStore) ListWorks(ctx context.Context) ([]*Work, error) {
	var out []*Work
	err := s.db.View(func(txn *badger.Txn) error {
		it := txn.NewIterator(badger.DefaultIteratorOptions)
		defer it.Close()
		prefix := []byte(workPrefix)
		for it.Seek(prefix); it.ValidForPrefix(prefix); it.Next() {
			var w Work
			if err := it.Item().Value(func(val []byte) error {
				return json.Unmarshal(val, &w)
			}); err != nil {
				return err
			}
			out = append(out, &w)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].StartedAt.Equal(out[j].StartedAt) {
			return out[i].StartedAt.Before(out[j].StartedAt)
		}
		return out[i].ID < out[j].ID
	})
	return out, nil
}
