package ingest

import (
	"context"
	"errors"
	"fmt"

	"github.com/fleetgate/fleetgate/store"
)

var (
	// ErrUnresolvedDevice: the identifier maps to no registered device,
	// or the device has no vehicle bound to it. No implicit creation,
	// identity must be explicit.
	ErrUnresolvedDevice = errors.New("device identifier not registered")

	// ErrTrackingDisabled: the device resolved but its vehicle opted out
	// of live tracking. Reported distinctly from unresolved so operators
	// can tell configuration-off apart from unknown hardware.
	ErrTrackingDisabled = errors.New("live tracking disabled for vehicle")
)

// Registry resolves protocol level device tokens to registered device and
// vehicle pairs. Read only, safe for concurrent use.
type Registry struct {
	store store.Store
}

func NewRegistry(st store.Store) *Registry {
	return &Registry{
		store: st,
	}
}

func (r *Registry) Resolve(ctx context.Context, identifier string) (*store.GPSDevice, *store.Vehicle, error) {
	if identifier == "" {
		return nil, nil, fmt.Errorf("empty identifier: %w", ErrUnresolvedDevice)
	}

	device, err := r.store.GetDeviceByIdentifier(ctx, identifier)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return nil, nil, fmt.Errorf("identifier %q: %w", identifier, ErrUnresolvedDevice)
		}
		return nil, nil, fmt.Errorf("device lookup for %q failed. %w", identifier, err)
	}

	vehicle, err := r.store.GetVehicleByDeviceID(ctx, device.ID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return nil, nil, fmt.Errorf("device %q has no vehicle bound: %w", device.DeviceID, ErrUnresolvedDevice)
		}
		return nil, nil, fmt.Errorf("vehicle lookup for device %q failed. %w", device.DeviceID, err)
	}

	if !vehicle.LiveTrackingEnabled {
		return device, vehicle, fmt.Errorf("vehicle %d (device %q): %w", vehicle.ID, device.DeviceID, ErrTrackingDisabled)
	}

	return device, vehicle, nil
}
