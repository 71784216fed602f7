package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/sirupsen/logrus"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"github.com/fleetgate/fleetgate/fix"
)

// GormStore implements Store on a relational database through gorm.
type GormStore struct {
	db *gorm.DB
}

func NewGormStore(db *gorm.DB) (*GormStore, error) {
	err := db.AutoMigrate(&GPSDevice{}, &Vehicle{}, &LocationHistory{})
	if err != nil {
		return nil, fmt.Errorf("auto migration failed. %v", err)
	}

	return &GormStore{db: db}, nil
}

// OpenPostgres opens the production database connection.
func OpenPostgres(dsn string, log *logrus.Logger) (*gorm.DB, error) {
	db, err := gorm.Open(postgres.Open(dsn), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to connect to database. %v", err)
	}

	log.Infof("Connected to database")

	return db, nil
}

func (s *GormStore) GetDeviceByIdentifier(ctx context.Context, identifier string) (*GPSDevice, error) {
	var device GPSDevice

	err := s.db.WithContext(ctx).Where("device_id = ?", identifier).First(&device).Error
	if err == nil {
		return &device, nil
	}
	if !errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, err
	}

	err = s.db.WithContext(ctx).Where("imei = ?", identifier).First(&device).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrNotFound
		}
		return nil, err
	}

	return &device, nil
}

func (s *GormStore) GetVehicleByDeviceID(ctx context.Context, deviceID uint) (*Vehicle, error) {
	var vehicle Vehicle

	err := s.db.WithContext(ctx).Where("gps_device_id = ?", deviceID).First(&vehicle).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrNotFound
		}
		return nil, err
	}

	return &vehicle, nil
}

func (s *GormStore) GetVehicle(ctx context.Context, vehicleID uint) (*Vehicle, error) {
	var vehicle Vehicle

	err := s.db.WithContext(ctx).First(&vehicle, vehicleID).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrNotFound
		}
		return nil, err
	}

	return &vehicle, nil
}

func (s *GormStore) UpdateVehicleSnapshot(ctx context.Context, vehicleID uint, f fix.LocationFix) error {
	now := time.Now().UTC()

	result := s.db.WithContext(ctx).Model(&Vehicle{}).Where("id = ?", vehicleID).Updates(map[string]interface{}{
		"last_latitude":   f.Latitude,
		"last_longitude":  f.Longitude,
		"last_speed":      f.Speed,
		"last_heading":    f.Heading,
		"last_altitude":   f.Altitude,
		"last_protocol":   f.SourceProtocol,
		"last_fix_at":     f.Timestamp,
		"last_updated_at": now,
	})
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return ErrNotFound
	}

	return nil
}

func (s *GormStore) AppendHistory(ctx context.Context, vehicleID, deviceID uint, f fix.LocationFix) error {
	entry := LocationHistory{
		VehicleID:   vehicleID,
		GPSDeviceID: deviceID,
		Latitude:    f.Latitude,
		Longitude:   f.Longitude,
		Speed:       f.Speed,
		Heading:     f.Heading,
		Altitude:    f.Altitude,
		Protocol:    f.SourceProtocol,
		ReportedAt:  f.Timestamp,
	}

	return s.db.WithContext(ctx).Create(&entry).Error
}

func (s *GormStore) UpdateDeviceHeartbeat(ctx context.Context, deviceID uint, ts time.Time) error {
	result := s.db.WithContext(ctx).Model(&GPSDevice{}).Where("id = ?", deviceID).Updates(map[string]interface{}{
		"last_heartbeat": ts,
		"status":         DeviceStatusActive,
	})
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return ErrNotFound
	}

	return nil
}
