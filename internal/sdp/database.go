package sdp

import (
	"context"
	"errors"
	"sync/atomic"

	"github.com/Southclaws/fault"
	"github.com/Southclaws/fault/fctx"
	"github.com/Southclaws/fault/fmsg"
	"github.com/Southclaws/fault/ftag"
	"github.com/bluetuith-org/bluez-lifecycle/api/bluetooth"
	"github.com/puzpuzpuz/xsync/v3"
)

// firstHandle is the first handle available to registered services.
// Lower handles are reserved for the catalog server itself.
const firstHandle = 0x10000

// ErrUnknownHandle is returned when removing a record that was never added.
var ErrUnknownHandle = errors.New("unknown record handle")

// LocalRecord is a record advertised by a local adapter.
type LocalRecord struct {
	Adapter bluetooth.MacAddress
	Record  Record
}

// Database holds the records advertised by the local adapters.
type Database struct {
	next    atomic.Uint32
	records *xsync.MapOf[uint32, LocalRecord]
}

// NewDatabase returns an empty record database.
func NewDatabase() *Database {
	d := &Database{records: xsync.NewMapOf[uint32, LocalRecord]()}
	d.next.Store(firstHandle)

	return d
}

// Add registers rec for the adapter and returns the assigned handle.
func (d *Database) Add(adapter bluetooth.MacAddress, rec Record) (uint32, error) {
	handle := d.next.Add(1) - 1
	if handle < firstHandle {
		return 0, fault.Wrap(errors.New("record handle space exhausted"),
			fctx.With(context.Background(), "error_at", "sdp-add-record"),
			ftag.With(ftag.Internal),
			fmsg.With("Record registration failed"),
		)
	}

	rec.Handle = handle
	d.records.Store(handle, LocalRecord{Adapter: adapter, Record: rec})

	return handle, nil
}

// Remove unregisters a record.
func (d *Database) Remove(handle uint32) error {
	if _, ok := d.records.LoadAndDelete(handle); !ok {
		return ErrUnknownHandle
	}

	return nil
}

// Get returns a registered record.
func (d *Database) Get(handle uint32) (LocalRecord, bool) {
	return d.records.Load(handle)
}

// Records returns the records registered by an adapter.
func (d *Database) Records(adapter bluetooth.MacAddress) []Record {
	var recs []Record

	d.records.Range(func(_ uint32, r LocalRecord) bool {
		if r.Adapter == adapter {
			recs = append(recs, r.Record)
		}

		return true
	})

	return recs
}
