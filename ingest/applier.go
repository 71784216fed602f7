package ingest

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/fleetgate/fleetgate/config"
	"github.com/fleetgate/fleetgate/feed"
	"github.com/fleetgate/fleetgate/fix"
	"github.com/fleetgate/fleetgate/store"
)

// AppliedFix is published on the feed for every fix that made it through
// the write path.
type AppliedFix struct {
	VehicleID       uint
	DeviceID        uint
	Fix             fix.LocationFix
	SnapshotUpdated bool
}

/*
Applier is the single write path for location fixes. Per vehicle it
serializes snapshot update and history append, so concurrent arrivals for
one vehicle (TCP plus polling adapter, say) never interleave. Unrelated
vehicles proceed in parallel, there is no global lock.
*/
type Applier struct {
	ctx   context.Context
	store store.Store
	feed  *feed.Feed
	locks sync.Map // vehicle ID -> *sync.Mutex
}

func NewApplier(ctx context.Context, st store.Store, f *feed.Feed) *Applier {
	return &Applier{
		ctx:   ctx,
		store: st,
		feed:  f,
	}
}

func (a *Applier) lockFor(vehicleID uint) *sync.Mutex {
	value, _ := a.locks.LoadOrStore(vehicleID, &sync.Mutex{})
	return value.(*sync.Mutex)
}

/*
Apply writes one resolved fix. Rules:
  - a fix older than the current snapshot still lands in history but never
    rewinds the visible position;
  - the history append is required for success, a failed append is reported
    upward and the fix does not count as applied;
  - a successfully applied fix refreshes the device heartbeat and marks the
    device active.
*/
func (a *Applier) Apply(ctx context.Context, vehicle *store.Vehicle, device *store.GPSDevice, f fix.LocationFix) error {
	log := config.GetLogger(a.ctx)

	// Decoders validated already; revalidate in case a fix arrives from a
	// path that skipped them.
	if err := f.Validate(); err != nil {
		return err
	}

	mu := a.lockFor(vehicle.ID)
	mu.Lock()
	defer mu.Unlock()

	// Re-read under the lock, the snapshot may have moved since resolution.
	current, err := a.store.GetVehicle(ctx, vehicle.ID)
	if err != nil {
		return fmt.Errorf("failed to read vehicle %d. %w", vehicle.ID, err)
	}

	newer := current.LastFixAt == nil || f.Timestamp.After(*current.LastFixAt)
	if newer {
		err = a.store.UpdateVehicleSnapshot(ctx, vehicle.ID, f)
		if err != nil {
			return fmt.Errorf("failed to update snapshot of vehicle %d. %w", vehicle.ID, err)
		}
	} else {
		log.Debugf("Fix for vehicle %d is older than the current snapshot (%v <= %v), recording history only.", vehicle.ID, f.Timestamp, *current.LastFixAt)
	}

	err = a.store.AppendHistory(ctx, vehicle.ID, device.ID, f)
	if err != nil {
		return fmt.Errorf("failed to append history for vehicle %d. %w", vehicle.ID, err)
	}

	err = a.store.UpdateDeviceHeartbeat(ctx, device.ID, time.Now().UTC())
	if err != nil {
		// The fix is applied at this point; a heartbeat miss is an
		// operational signal, not a reason to fail the frame.
		log.Errorf("Failed to update heartbeat of device %d. %v", device.ID, err)
	}

	if a.feed != nil {
		a.feed.Publish(AppliedFix{
			VehicleID:       vehicle.ID,
			DeviceID:        device.ID,
			Fix:             f,
			SnapshotUpdated: newer,
		})
	}

	return nil
}
