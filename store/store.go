package store

import (
	"context"
	"errors"
	"time"

	"github.com/fleetgate/fleetgate/fix"
)

var ErrNotFound = errors.New("record not found")

/*
Store is the persistence collaborator of the ingestion core. The gateway
never assumes a storage technology, only these operations. Snapshot update
and history append for one fix are called under the applier's per-vehicle
lock, implementations only need row level atomicity.
*/
type Store interface {
	// GetDeviceByIdentifier resolves a protocol level token, first as
	// operator assigned device code, then as IMEI.
	GetDeviceByIdentifier(ctx context.Context, identifier string) (*GPSDevice, error)

	GetVehicleByDeviceID(ctx context.Context, deviceID uint) (*Vehicle, error)
	GetVehicle(ctx context.Context, vehicleID uint) (*Vehicle, error)

	UpdateVehicleSnapshot(ctx context.Context, vehicleID uint, f fix.LocationFix) error
	AppendHistory(ctx context.Context, vehicleID, deviceID uint, f fix.LocationFix) error
	UpdateDeviceHeartbeat(ctx context.Context, deviceID uint, ts time.Time) error
}
