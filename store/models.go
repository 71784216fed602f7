package store

import (
	"time"

	"gorm.io/gorm"
)

const (
	DeviceStatusActive   = "active"
	DeviceStatusInactive = "inactive"
	DeviceStatusFaulty   = "faulty"
)

// GPSDevice is one registered in-vehicle tracker. Devices are soft retired
// through gorm's DeletedAt, never hard deleted.
type GPSDevice struct {
	gorm.Model
	DeviceID      string `gorm:"uniqueIndex;size:64"`
	IMEI          string `gorm:"index;size:15"`
	SimNumber     string `gorm:"size:20"`
	DeviceModel   string `gorm:"size:32"`
	Status        string `gorm:"size:16;default:inactive"`
	LastHeartbeat *time.Time
}

// Vehicle owns at most one bound GPSDevice and carries the current position
// snapshot inline. Snapshot columns are overwritten in place, history lives
// in LocationHistory.
type Vehicle struct {
	gorm.Model
	Registration        string `gorm:"size:32"`
	GPSDeviceID         *uint  `gorm:"index"`
	LiveTrackingEnabled bool   `gorm:"default:true"`

	LastLatitude  float64
	LastLongitude float64
	LastSpeed     float64
	LastHeading   float64
	LastAltitude  float64
	LastProtocol  string `gorm:"size:16"`
	LastFixAt     *time.Time
	LastUpdatedAt *time.Time
}

// LocationHistory is the append-only trail of applied fixes. Rows are never
// mutated or deleted by this service; retention is an external concern.
type LocationHistory struct {
	gorm.Model
	VehicleID   uint `gorm:"index"`
	GPSDeviceID uint `gorm:"index"`
	Latitude    float64
	Longitude   float64
	Speed       float64
	Heading     float64
	Altitude    float64
	Protocol    string    `gorm:"size:16"`
	ReportedAt  time.Time `gorm:"index"`
}
