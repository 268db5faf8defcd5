// Package dbusbus is the production btreg.HostBus, backed by BlueZ's
// org.bluez.Device1 interface over the system D-Bus. Its method shapes
// follow the adapter/session split the pack's bluetuith-org-bluetuith
// tool uses against the same BlueZ API, adapted here to the narrow
// async-only contract btreg.HostBus requires: every call is dispatched
// with godbus's Go/GoWithContext, never CallWithContext, so a slow BlueZ
// reply never stalls internal/timer's single dispatch goroutine.
package dbusbus

import (
	"context"
	"fmt"
	"sync"

	"github.com/godbus/dbus/v5"

	"github.com/shaban/audiosrvd/internal/btreg"
	"github.com/shaban/audiosrvd/internal/mainbus"
)

const (
	bluezService       = "org.bluez"
	device1Interface   = "org.bluez.Device1"
	connectProfileCall = device1Interface + ".ConnectProfile"
	disconnectCall     = device1Interface + ".Disconnect"
)

// Bus connects btreg to BlueZ over the system bus.
type Bus struct {
	conn *dbus.Conn
	mb   *mainbus.Bus

	mu      sync.Mutex
	serial  uint64
	pending map[uint64]*dbus.Call
}

// Connect opens a connection to the system D-Bus. mb is where call
// failures discovered after dispatch are reported (btreg.MsgAsyncCallFailed),
// since the dispatching call itself can no longer tell the caller.
func Connect(mb *mainbus.Bus) (*Bus, error) {
	conn, err := dbus.ConnectSystemBus()
	if err != nil {
		return nil, fmt.Errorf("dbusbus: connect system bus: %w", err)
	}
	return &Bus{conn: conn, mb: mb, pending: make(map[uint64]*dbus.Call)}, nil
}

// Close releases the underlying bus connection.
func (b *Bus) Close() error { return b.conn.Close() }

// ConnectProfile dispatches org.bluez.Device1.ConnectProfile without
// waiting for BlueZ's reply. A non-nil return means the call could not
// even be handed to the bus daemon (e.g. a marshal or transport error);
// a failure reported once BlueZ actually replies arrives later as
// btreg.MsgAsyncCallFailed with Operation "connect_profile".
func (b *Bus) ConnectProfile(ctx context.Context, objectPath, profileUUID string) error {
	return b.dispatch(ctx, objectPath, "connect_profile", connectProfileCall, profileUUID)
}

// Disconnect dispatches org.bluez.Device1.Disconnect the same way.
func (b *Bus) Disconnect(ctx context.Context, objectPath string) error {
	return b.dispatch(ctx, objectPath, "disconnect", disconnectCall)
}

func (b *Bus) dispatch(ctx context.Context, objectPath, operation, method string, args ...interface{}) error {
	obj := b.conn.Object(bluezService, dbus.ObjectPath(objectPath))
	ch := make(chan *dbus.Call, 1)
	call := obj.GoWithContext(ctx, method, 0, ch, args...)
	if call.Err != nil {
		return fmt.Errorf("dbusbus: %s(%s): %w", operation, objectPath, call.Err)
	}

	b.mu.Lock()
	b.serial++
	id := b.serial
	b.pending[id] = call
	b.mu.Unlock()

	go b.awaitReply(id, objectPath, operation, ch)
	return nil
}

// awaitReply blocks (on its own goroutine, never the caller's) until the
// pending call keyed by id completes, then reports a failed reply back
// onto the policy thread.
func (b *Bus) awaitReply(id uint64, objectPath, operation string, ch chan *dbus.Call) {
	completed := <-ch

	b.mu.Lock()
	delete(b.pending, id)
	b.mu.Unlock()

	if completed.Err != nil && b.mb != nil {
		b.mb.Send(mainbus.Message{
			Type: btreg.MsgAsyncCallFailed,
			Payload: btreg.AsyncCallFailedPayload{
				ObjectPath: objectPath,
				Operation:  operation,
				Err:        completed.Err,
			},
		})
	}
}
