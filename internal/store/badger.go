package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"slices"
	"time"

	"github.com/dgraph-io/badger/v4"
	"github.com/dgraph-io/badger/v4/options"
)

// Key layout:
//
//	r/<record id>                 -> badgerRecord (JSON, vector as packed float32s)
//	d/<document id>\x00<record id> -> empty, document membership
//	s/<state key>                 -> raw value
//	q/records                     -> insertion sequence
const (
	badgerRecordPrefix = "r/"
	badgerDocPrefix    = "d/"
	badgerStatePrefix  = "s/"
	badgerSequenceKey  = "q/records"

	defaultSequenceBandwidth = 100
)

// badgerLoggerAdapter adapts slog.Logger to badger.Logger interface.
type badgerLoggerAdapter struct {
	logger *slog.Logger
}

var _ badger.Logger = (*badgerLoggerAdapter)(nil)

func (bl *badgerLoggerAdapter) Errorf(msg string, items ...any) {
	bl.logger.Error(fmt.Sprintf(msg, items...))
}

func (bl *badgerLoggerAdapter) Warningf(msg string, items ...any) {
	bl.logger.Warn(fmt.Sprintf(msg, items...))
}

// Badger is chatty at info level; demote to debug.
func (bl *badgerLoggerAdapter) Infof(msg string, items ...any) {
	bl.logger.Debug(fmt.Sprintf(msg, items...))
}

func (bl *badgerLoggerAdapter) Debugf(msg string, items ...any) {
	bl.logger.Debug(fmt.Sprintf(msg, items...))
}

// badgerRecord is the stored form of a VectorRecord.
type badgerRecord struct {
	Seq        uint64   `json:"seq"`
	ID         string   `json:"id"`
	DocumentID string   `json:"doc"`
	Ordinal    int      `json:"ord"`
	Content    string   `json:"content"`
	Vector     []byte   `json:"vec"`
	Breadcrumb []string `json:"crumb,omitempty"`
	Tags       []string `json:"tags,omitempty"`
	ModTime    int64    `json:"mtime"`
}

type badgerPersister struct {
	db  *badger.DB
	seq *badger.Sequence
}

// NewBadgerStore opens a BadgerDB-backed store in dir. An empty dir runs
// Badger in memory.
func NewBadgerStore(ctx context.Context, dir string, opts ...Option) (*Store, error) {
	cfg := &Store{logger: slog.Default()}
	for _, opt := range opts {
		opt(cfg)
	}

	var bopts badger.Options
	if dir == "" {
		bopts = badger.DefaultOptions("").WithInMemory(true)
	} else {
		info, err := os.Stat(dir)
		switch {
		case os.IsNotExist(err):
			if err := os.MkdirAll(dir, 0o755); err != nil {
				return nil, err
			}
		case err != nil:
			return nil, err
		case !info.IsDir():
			return nil, fmt.Errorf("%s is not a directory", dir)
		}
		bopts = badger.DefaultOptions(dir)
	}
	bopts.Logger = &badgerLoggerAdapter{logger: cfg.logger}
	bopts.Compression = options.None

	db, err := badger.Open(bopts)
	if err != nil {
		return nil, fmt.Errorf("failed to open badger at %s: %w", dir, err)
	}
	seq, err := db.GetSequence([]byte(badgerSequenceKey), defaultSequenceBandwidth)
	if err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to open record sequence: %w", err)
	}

	return newStore(ctx, &badgerPersister{db: db, seq: seq}, opts...)
}

func (p *badgerPersister) name() string { return BackendBadger }

// load reads every record and replays them in sequence order.
func (p *badgerPersister) load(_ context.Context, fn func(*VectorRecord)) error {
	var stored []*badgerRecord
	err := p.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.Prefix = []byte(badgerRecordPrefix)
		it := txn.NewIterator(opts)
		defer it.Close()

		for it.Rewind(); it.Valid(); it.Next() {
			item := it.Item()
			err := item.Value(func(val []byte) error {
				var br badgerRecord
				if err := json.Unmarshal(val, &br); err != nil {
					return fmt.Errorf("record %s: %w", item.Key(), err)
				}
				stored = append(stored, &br)
				return nil
			})
			if err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return err
	}

	slices.SortFunc(stored, func(a, b *badgerRecord) int {
		switch {
		case a.Seq < b.Seq:
			return -1
		case a.Seq > b.Seq:
			return 1
		}
		return 0
	})
	for _, br := range stored {
		vec, err := decodeVector(br.Vector)
		if err != nil {
			return fmt.Errorf("record %s: %w", br.ID, err)
		}
		fn(&VectorRecord{
			ID:         br.ID,
			DocumentID: br.DocumentID,
			Ordinal:    br.Ordinal,
			Content:    br.Content,
			Vector:     vec,
			Breadcrumb: br.Breadcrumb,
			Tags:       br.Tags,
			ModTime:    time.Unix(0, br.ModTime),
		})
	}
	return nil
}

func docKey(documentID, id string) []byte {
	return []byte(badgerDocPrefix + documentID + "\x00" + id)
}

func (p *badgerPersister) put(_ context.Context, records []*VectorRecord) error {
	return p.db.Update(func(txn *badger.Txn) error {
		for _, r := range records {
			key := []byte(badgerRecordPrefix + r.ID)

			// Drop a stale membership key if the id moved documents.
			if item, err := txn.Get(key); err == nil {
				var old badgerRecord
				if err := item.Value(func(val []byte) error { return json.Unmarshal(val, &old) }); err == nil &&
					old.DocumentID != r.DocumentID {
					if err := txn.Delete(docKey(old.DocumentID, r.ID)); err != nil {
						return err
					}
				}
			} else if !errors.Is(err, badger.ErrKeyNotFound) {
				return err
			}

			seq, err := p.seq.Next()
			if err != nil {
				return fmt.Errorf("failed to allocate sequence: %w", err)
			}
			val, err := json.Marshal(&badgerRecord{
				Seq:        seq,
				ID:         r.ID,
				DocumentID: r.DocumentID,
				Ordinal:    r.Ordinal,
				Content:    r.Content,
				Vector:     encodeVector(r.Vector),
				Breadcrumb: r.Breadcrumb,
				Tags:       r.Tags,
				ModTime:    r.ModTime.UnixNano(),
			})
			if err != nil {
				return err
			}
			if err := txn.Set(key, val); err != nil {
				return err
			}
			if err := txn.Set(docKey(r.DocumentID, r.ID), []byte{}); err != nil {
				return err
			}
		}
		return nil
	})
}

func (p *badgerPersister) deleteDocument(_ context.Context, documentID string) error {
	return p.db.Update(func(txn *badger.Txn) error {
		prefix := []byte(badgerDocPrefix + documentID + "\x00")
		opts := badger.DefaultIteratorOptions
		opts.Prefix = prefix
		opts.PrefetchValues = false
		it := txn.NewIterator(opts)

		var keys [][]byte
		for it.Rewind(); it.Valid(); it.Next() {
			keys = append(keys, it.Item().KeyCopy(nil))
		}
		it.Close()

		for _, k := range keys {
			id := string(k[len(prefix):])
			if err := txn.Delete([]byte(badgerRecordPrefix + id)); err != nil {
				return err
			}
			if err := txn.Delete(k); err != nil {
				return err
			}
		}
		return nil
	})
}

func (p *badgerPersister) clear(_ context.Context) error {
	if err := p.db.DropPrefix([]byte(badgerRecordPrefix), []byte(badgerDocPrefix)); err != nil {
		return err
	}
	return p.db.Update(func(txn *badger.Txn) error {
		return txn.Delete([]byte(badgerStatePrefix + StateKeyLastUpdated))
	})
}

func (p *badgerPersister) getState(_ context.Context, key string) (string, error) {
	var value string
	err := p.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get([]byte(badgerStatePrefix + key))
		if errors.Is(err, badger.ErrKeyNotFound) {
			return nil
		}
		if err != nil {
			return err
		}
		return item.Value(func(val []byte) error {
			value = string(val)
			return nil
		})
	})
	return value, err
}

func (p *badgerPersister) setState(_ context.Context, key, value string) error {
	return p.db.Update(func(txn *badger.Txn) error {
		return txn.Set([]byte(badgerStatePrefix+key), []byte(value))
	})
}

func (p *badgerPersister) close() error {
	if err := p.seq.Release(); err != nil {
		_ = p.db.Close()
		return err
	}
	return p.db.Close()
}
