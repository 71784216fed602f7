package store

import (
	"context"
	"sync"
	"time"

	"github.com/fleetgate/fleetgate/fix"
)

/*
MemoryStore is an in-memory Store used in tests and for running the gateway
without a database. Not a cache: it holds the authoritative state for its
lifetime.
*/
type MemoryStore struct {
	mu       sync.RWMutex
	nextID   uint
	devices  map[uint]*GPSDevice
	vehicles map[uint]*Vehicle
	history  []LocationHistory
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		nextID:   1,
		devices:  make(map[uint]*GPSDevice),
		vehicles: make(map[uint]*Vehicle),
	}
}

// AddDevice registers a device and returns its assigned ID.
func (s *MemoryStore) AddDevice(device GPSDevice) uint {
	s.mu.Lock()
	defer s.mu.Unlock()

	device.ID = s.nextID
	s.nextID++
	if device.Status == "" {
		device.Status = DeviceStatusInactive
	}
	s.devices[device.ID] = &device

	return device.ID
}

// AddVehicle registers a vehicle and returns its assigned ID.
func (s *MemoryStore) AddVehicle(vehicle Vehicle) uint {
	s.mu.Lock()
	defer s.mu.Unlock()

	vehicle.ID = s.nextID
	s.nextID++
	s.vehicles[vehicle.ID] = &vehicle

	return vehicle.ID
}

func (s *MemoryStore) GetDeviceByIdentifier(ctx context.Context, identifier string) (*GPSDevice, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	for _, device := range s.devices {
		if device.DeviceID == identifier {
			copy := *device
			return &copy, nil
		}
	}

	for _, device := range s.devices {
		if device.IMEI != "" && device.IMEI == identifier {
			copy := *device
			return &copy, nil
		}
	}

	return nil, ErrNotFound
}

func (s *MemoryStore) GetVehicleByDeviceID(ctx context.Context, deviceID uint) (*Vehicle, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	for _, vehicle := range s.vehicles {
		if vehicle.GPSDeviceID != nil && *vehicle.GPSDeviceID == deviceID {
			copy := *vehicle
			return &copy, nil
		}
	}

	return nil, ErrNotFound
}

func (s *MemoryStore) GetVehicle(ctx context.Context, vehicleID uint) (*Vehicle, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	vehicle, ok := s.vehicles[vehicleID]
	if !ok {
		return nil, ErrNotFound
	}

	copy := *vehicle
	return &copy, nil
}

func (s *MemoryStore) UpdateVehicleSnapshot(ctx context.Context, vehicleID uint, f fix.LocationFix) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	vehicle, ok := s.vehicles[vehicleID]
	if !ok {
		return ErrNotFound
	}

	now := time.Now().UTC()
	ts := f.Timestamp

	vehicle.LastLatitude = f.Latitude
	vehicle.LastLongitude = f.Longitude
	vehicle.LastSpeed = f.Speed
	vehicle.LastHeading = f.Heading
	vehicle.LastAltitude = f.Altitude
	vehicle.LastProtocol = f.SourceProtocol
	vehicle.LastFixAt = &ts
	vehicle.LastUpdatedAt = &now

	return nil
}

func (s *MemoryStore) AppendHistory(ctx context.Context, vehicleID, deviceID uint, f fix.LocationFix) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.history = append(s.history, LocationHistory{
		VehicleID:   vehicleID,
		GPSDeviceID: deviceID,
		Latitude:    f.Latitude,
		Longitude:   f.Longitude,
		Speed:       f.Speed,
		Heading:     f.Heading,
		Altitude:    f.Altitude,
		Protocol:    f.SourceProtocol,
		ReportedAt:  f.Timestamp,
	})

	return nil
}

func (s *MemoryStore) UpdateDeviceHeartbeat(ctx context.Context, deviceID uint, ts time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	device, ok := s.devices[deviceID]
	if !ok {
		return ErrNotFound
	}

	device.LastHeartbeat = &ts
	device.Status = DeviceStatusActive

	return nil
}

// HistoryForVehicle returns a copy of the history trail for assertions.
func (s *MemoryStore) HistoryForVehicle(vehicleID uint) []LocationHistory {
	s.mu.RLock()
	defer s.mu.RUnlock()

	entries := make([]LocationHistory, 0)
	for _, entry := range s.history {
		if entry.VehicleID == vehicleID {
			entries = append(entries, entry)
		}
	}

	return entries
}

// DeviceByID returns a copy of a registered device for assertions.
func (s *MemoryStore) DeviceByID(deviceID uint) (*GPSDevice, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	device, ok := s.devices[deviceID]
	if !ok {
		return nil, false
	}

	copy := *device
	return &copy, true
}
