// Package storage persists per-device state: trust and block flags, aliases,
// device type, known profiles, cached service records and credential presence.
package storage

import (
	"context"
	"errors"
	"os"
	"strings"

	"github.com/Southclaws/fault"
	"github.com/Southclaws/fault/fctx"
	"github.com/Southclaws/fault/fmsg"
	"github.com/Southclaws/fault/ftag"
	"github.com/allegro/bigcache/v3"
	"github.com/bluetuith-org/bluez-lifecycle/api/bluetooth"
	"github.com/bluetuith-org/bluez-lifecycle/api/config"
	"github.com/dgraph-io/badger/v3"
	"github.com/fxamacker/cbor/v2"
	"go.uber.org/zap"
)

// Field names of persisted device entries.
const (
	fieldTrusted  = "trusted"
	fieldAlias    = "alias"
	fieldBlocked  = "blocked"
	fieldName     = "name"
	fieldClass    = "class"
	fieldType     = "type"
	fieldProfiles = "profiles"
	fieldRecords  = "records"
	fieldLinkKey  = "linkkey"
	fieldLTK      = "ltk"
	fieldDeviceID = "deviceid"
	fieldPaired   = "paired"
)

// Store is a badger-backed implementation of the device state storage.
type Store struct {
	db    *badger.DB
	cache *bigcache.BigCache

	log *zap.Logger
}

// Open opens (or creates) the store described by cfg.
func Open(cfg config.Storage, log *zap.Logger) (*Store, error) {
	if log == nil {
		log = zap.NewNop()
	}

	opts := badger.DefaultOptions(cfg.Path)
	if cfg.InMemory {
		opts = badger.DefaultOptions("").WithInMemory(true)
	} else if err := os.MkdirAll(cfg.Path, 0o700); err != nil {
		return nil, wrap(err, "storage-mkdir", "Cannot create storage directory")
	}

	opts = opts.WithLogger(badgerLogger{log.Named("badger").Sugar()})

	db, err := badger.Open(opts)
	if err != nil {
		return nil, wrap(err, "storage-open", "Cannot open device storage")
	}

	life := cfg.RecordCacheLife
	if life <= 0 {
		life = config.DefaultRecordCacheLife
	}

	cacheCfg := bigcache.DefaultConfig(life)
	cacheCfg.Shards = 16
	cacheCfg.Verbose = false

	cache, err := bigcache.New(context.Background(), cacheCfg)
	if err != nil {
		db.Close()
		return nil, wrap(err, "storage-cache", "Cannot create record cache")
	}

	log.Debug("storage opened", zap.String("path", cfg.Path), zap.Bool("in_memory", cfg.InMemory))

	return &Store{db: db, cache: cache, log: log}, nil
}

// Close closes the store.
func (s *Store) Close() error {
	cerr := s.cache.Close()
	if err := s.db.Close(); err != nil {
		return wrap(err, "storage-close", "Cannot close device storage")
	}

	return cerr
}

func devicePrefix(local, peer bluetooth.MacAddress) string {
	return local.String() + "/" + peer.String() + "/"
}

func key(local, peer bluetooth.MacAddress, field string, sub ...string) []byte {
	k := devicePrefix(local, peer) + field
	if len(sub) > 0 {
		k += "/" + strings.Join(sub, "/")
	}

	return []byte(k)
}

// get decodes the value at k into v. It reports false if k does not exist.
func (s *Store) get(k []byte, v any) (bool, error) {
	var data []byte

	err := s.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get(k)
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
		return false, wrap(err, "storage-get", "Cannot read "+string(k))
	}

	if err := cbor.Unmarshal(data, v); err != nil {
		return false, wrap(err, "storage-decode", "Cannot decode "+string(k))
	}

	return true, nil
}

func (s *Store) put(k []byte, v any) error {
	data, err := cbor.Marshal(v)
	if err != nil {
		return wrap(err, "storage-encode", "Cannot encode "+string(k))
	}

	if err := s.db.Update(func(txn *badger.Txn) error {
		return txn.Set(k, data)
	}); err != nil {
		return wrap(err, "storage-put", "Cannot write "+string(k))
	}

	return nil
}

func (s *Store) delete(k []byte) error {
	if err := s.db.Update(func(txn *badger.Txn) error {
		return txn.Delete(k)
	}); err != nil {
		return wrap(err, "storage-delete", "Cannot delete "+string(k))
	}

	return nil
}

func (s *Store) getBool(local, peer bluetooth.MacAddress, field string) (bool, error) {
	var v bool
	_, err := s.get(key(local, peer, field), &v)

	return v, err
}

func (s *Store) putBool(local, peer bluetooth.MacAddress, field string, v bool) error {
	if !v {
		return s.delete(key(local, peer, field))
	}

	return s.put(key(local, peer, field), v)
}

// DeleteDevice removes every entry stored for the peer, including its
// name and alias.
func (s *Store) DeleteDevice(local, peer bluetooth.MacAddress) error {
	s.invalidate(local, peer)

	if err := s.deletePrefix([]byte(devicePrefix(local, peer))); err != nil {
		return wrap(err, "storage-delete-device", "Cannot delete device "+peer.String())
	}

	return nil
}

func (s *Store) deletePrefix(prefix []byte) error {
	return s.db.Update(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.PrefetchValues = false

		it := txn.NewIterator(opts)

		var keys [][]byte
		for it.Seek(prefix); it.ValidForPrefix(prefix); it.Next() {
			keys = append(keys, it.Item().KeyCopy(nil))
		}
		it.Close()

		for _, k := range keys {
			if err := txn.Delete(k); err != nil {
				return err
			}
		}

		return nil
	})
}

func wrap(err error, at, msg string) error {
	return fault.Wrap(err,
		fctx.With(context.Background(), "error_at", at),
		ftag.With(ftag.Internal),
		fmsg.With(msg),
	)
}

// badgerLogger routes badger's internal logging to zap.
type badgerLogger struct {
	*zap.SugaredLogger
}

func (l badgerLogger) Warningf(format string, args ...any) {
	l.Warnf(format, args...)
}
