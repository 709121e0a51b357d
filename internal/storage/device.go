package storage

import (
	"cmp"
	"errors"
	"slices"
	"strconv"

	"github.com/allegro/bigcache/v3"
	"github.com/bluetuith-org/bluez-lifecycle/api/bluetooth"
	"github.com/bluetuith-org/bluez-lifecycle/internal/sdp"
	"github.com/dgraph-io/badger/v3"
	"github.com/fxamacker/cbor/v2"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

// Trusted returns the stored trust flag.
func (s *Store) Trusted(local, peer bluetooth.MacAddress) (bool, error) {
	return s.getBool(local, peer, fieldTrusted)
}

// SetTrusted stores the trust flag.
func (s *Store) SetTrusted(local, peer bluetooth.MacAddress, trusted bool) error {
	return s.putBool(local, peer, fieldTrusted, trusted)
}

// Blocked returns the stored block flag.
func (s *Store) Blocked(local, peer bluetooth.MacAddress) (bool, error) {
	return s.getBool(local, peer, fieldBlocked)
}

// SetBlocked stores the block flag.
func (s *Store) SetBlocked(local, peer bluetooth.MacAddress, blocked bool) error {
	return s.putBool(local, peer, fieldBlocked, blocked)
}

// Paired returns the stored bonded flag.
func (s *Store) Paired(local, peer bluetooth.MacAddress) (bool, error) {
	return s.getBool(local, peer, fieldPaired)
}

// SetPaired stores the bonded flag.
func (s *Store) SetPaired(local, peer bluetooth.MacAddress, paired bool) error {
	return s.putBool(local, peer, fieldPaired, paired)
}

// Alias returns the stored alias, or an empty string.
func (s *Store) Alias(local, peer bluetooth.MacAddress) (string, error) {
	var v string
	_, err := s.get(key(local, peer, fieldAlias), &v)

	return v, err
}

// SetAlias stores the alias. An empty alias removes it.
func (s *Store) SetAlias(local, peer bluetooth.MacAddress, alias string) error {
	if alias == "" {
		return s.delete(key(local, peer, fieldAlias))
	}

	return s.put(key(local, peer, fieldAlias), alias)
}

// Name returns the stored remote name.
func (s *Store) Name(local, peer bluetooth.MacAddress) (string, error) {
	var v string
	_, err := s.get(key(local, peer, fieldName), &v)

	return v, err
}

// SetName stores the remote name.
func (s *Store) SetName(local, peer bluetooth.MacAddress, name string) error {
	return s.put(key(local, peer, fieldName), name)
}

// Class returns the stored class of device.
func (s *Store) Class(local, peer bluetooth.MacAddress) (uint32, error) {
	var v uint32
	_, err := s.get(key(local, peer, fieldClass), &v)

	return v, err
}

// SetClass stores the class of device.
func (s *Store) SetClass(local, peer bluetooth.MacAddress, class uint32) error {
	return s.put(key(local, peer, fieldClass), class)
}

// DeviceType returns the stored device type.
func (s *Store) DeviceType(local, peer bluetooth.MacAddress) (bluetooth.DeviceType, error) {
	var v bluetooth.DeviceType
	_, err := s.get(key(local, peer, fieldType), &v)

	return v, err
}

// SetDeviceType stores the device type.
func (s *Store) SetDeviceType(local, peer bluetooth.MacAddress, t bluetooth.DeviceType) error {
	return s.put(key(local, peer, fieldType), t)
}

// Profiles returns the stored profile list.
func (s *Store) Profiles(local, peer bluetooth.MacAddress) (uuid.UUIDs, error) {
	var v uuid.UUIDs
	_, err := s.get(key(local, peer, fieldProfiles), &v)

	return v, err
}

// SetProfiles stores the profile list.
func (s *Store) SetProfiles(local, peer bluetooth.MacAddress, profiles uuid.UUIDs) error {
	if len(profiles) == 0 {
		return s.delete(key(local, peer, fieldProfiles))
	}

	return s.put(key(local, peer, fieldProfiles), profiles)
}

// SetDeviceID stores the PnP identification of the device.
func (s *Store) SetDeviceID(local, peer bluetooth.MacAddress, id bluetooth.DeviceID) error {
	return s.put(key(local, peer, fieldDeviceID), id)
}

// DeviceID returns the stored PnP identification of the device.
func (s *Store) DeviceID(local, peer bluetooth.MacAddress) (bluetooth.DeviceID, bool, error) {
	var v bluetooth.DeviceID
	ok, err := s.get(key(local, peer, fieldDeviceID), &v)

	return v, ok, err
}

// HasLinkKey reports whether a BR/EDR link key is stored for the peer.
func (s *Store) HasLinkKey(local, peer bluetooth.MacAddress) bool {
	var v []byte
	ok, _ := s.get(key(local, peer, fieldLinkKey), &v)

	return ok
}

// SetLinkKey stores a BR/EDR link key.
func (s *Store) SetLinkKey(local, peer bluetooth.MacAddress, lk []byte) error {
	return s.put(key(local, peer, fieldLinkKey), lk)
}

// HasLongTermKey reports whether an LE long term key is stored for the peer.
func (s *Store) HasLongTermKey(local, peer bluetooth.MacAddress) bool {
	var v []byte
	ok, _ := s.get(key(local, peer, fieldLTK), &v)

	return ok
}

// SetLongTermKey stores an LE long term key.
func (s *Store) SetLongTermKey(local, peer bluetooth.MacAddress, ltk []byte) error {
	return s.put(key(local, peer, fieldLTK), ltk)
}

// Records returns the cached service records of the peer, ordered by handle.
func (s *Store) Records(local, peer bluetooth.MacAddress) ([]sdp.Record, error) {
	ck := cacheKey(local, peer)

	if data, err := s.cache.Get(ck); err == nil {
		var recs []sdp.Record
		if err := cbor.Unmarshal(data, &recs); err == nil {
			return recs, nil
		}
	}

	prefix := key(local, peer, fieldRecords)
	prefix = append(prefix, '/')

	var recs []sdp.Record

	err := s.db.View(func(txn *badger.Txn) error {
		it := txn.NewIterator(badger.DefaultIteratorOptions)
		defer it.Close()

		for it.Seek(prefix); it.ValidForPrefix(prefix); it.Next() {
			data, err := it.Item().ValueCopy(nil)
			if err != nil {
				return err
			}

			var rec sdp.Record
			if err := cbor.Unmarshal(data, &rec); err != nil {
				s.log.Warn("dropping undecodable record",
					zap.ByteString("key", it.Item().KeyCopy(nil)), zap.Error(err))

				continue
			}

			recs = append(recs, rec)
		}

		return nil
	})
	if err != nil {
		return nil, wrap(err, "storage-records", "Cannot read records of "+peer.String())
	}

	slices.SortFunc(recs, func(a, b sdp.Record) int {
		return cmp.Compare(a.Handle, b.Handle)
	})

	if data, err := cbor.Marshal(recs); err == nil {
		_ = s.cache.Set(ck, data)
	}

	return recs, nil
}

// StoreRecord stores (or replaces) a service record of the peer.
func (s *Store) StoreRecord(local, peer bluetooth.MacAddress, rec sdp.Record) error {
	s.invalidate(local, peer)

	return s.put(recordKey(local, peer, rec.Handle), rec)
}

// DeleteRecord removes a service record of the peer.
func (s *Store) DeleteRecord(local, peer bluetooth.MacAddress, handle uint32) error {
	s.invalidate(local, peer)

	return s.delete(recordKey(local, peer, handle))
}

// DeleteRecords removes every service record of the peer.
func (s *Store) DeleteRecords(local, peer bluetooth.MacAddress) error {
	s.invalidate(local, peer)

	prefix := append(key(local, peer, fieldRecords), '/')
	if err := s.deletePrefix(prefix); err != nil {
		return wrap(err, "storage-delete-records", "Cannot delete records of "+peer.String())
	}

	return nil
}

// DeleteBonding removes the credentials of the peer along with its trust
// flag, device type, profiles and service records. The name, alias, class
// and PnP identification are kept.
func (s *Store) DeleteBonding(local, peer bluetooth.MacAddress) error {
	if err := s.DeleteRecords(local, peer); err != nil {
		return err
	}

	if err := s.db.Update(func(txn *badger.Txn) error {
		for _, field := range []string{fieldLinkKey, fieldLTK, fieldPaired, fieldTrusted, fieldType, fieldProfiles} {
			if err := txn.Delete(key(local, peer, field)); err != nil {
				return err
			}
		}

		return nil
	}); err != nil {
		return wrap(err, "storage-delete-bonding", "Cannot delete bonding of "+peer.String())
	}

	return nil
}

func (s *Store) invalidate(local, peer bluetooth.MacAddress) {
	if err := s.cache.Delete(cacheKey(local, peer)); err != nil && !errors.Is(err, bigcache.ErrEntryNotFound) {
		s.log.Debug("record cache invalidation failed", zap.Error(err))
	}
}

func recordKey(local, peer bluetooth.MacAddress, handle uint32) []byte {
	return key(local, peer, fieldRecords, strconv.FormatUint(uint64(handle), 16))
}

func cacheKey(local, peer bluetooth.MacAddress) string {
	return devicePrefix(local, peer) + fieldRecords
}
