package fix

import (
	"errors"
	"testing"
	"time"
)

func TestValidate(t *testing.T) {
	base := LocationFix{
		DeviceIdentifier: "GPS001",
		Latitude:         11.4452,
		Longitude:        77.7307,
		Speed:            42,
		Heading:          180,
		Timestamp:        time.Now().UTC(),
		SourceProtocol:   "json",
	}

	testCases := []struct {
		Name             string
		Mutate           func(f *LocationFix)
		ExpectErr        bool
		ExpectCoordinate bool
	}{
		{
			Name:   "Valid",
			Mutate: func(f *LocationFix) {},
		},
		{
			Name:   "PolesAndDateLine",
			Mutate: func(f *LocationFix) { f.Latitude = -90; f.Longitude = 180 },
		},
		{
			Name:             "LatitudeTooHigh",
			Mutate:           func(f *LocationFix) { f.Latitude = 90.0001 },
			ExpectErr:        true,
			ExpectCoordinate: true,
		},
		{
			Name:             "LongitudeTooLow",
			Mutate:           func(f *LocationFix) { f.Longitude = -180.5 },
			ExpectErr:        true,
			ExpectCoordinate: true,
		},
		{
			Name:      "NegativeSpeed",
			Mutate:    func(f *LocationFix) { f.Speed = -1 },
			ExpectErr: true,
		},
		{
			Name:      "HeadingFullCircle",
			Mutate:    func(f *LocationFix) { f.Heading = 360 },
			ExpectErr: true,
		},
	}

	for _, testCase := range testCases {
		t.Run(testCase.Name, func(test *testing.T) {
			f := base
			testCase.Mutate(&f)

			err := f.Validate()

			if !testCase.ExpectErr {
				if err != nil {
					test.Errorf("Unexpected error. %v", err)
				}
				return
			}

			if err == nil {
				test.Fatalf("Expected error")
			}
			if testCase.ExpectCoordinate && !errors.Is(err, ErrInvalidCoordinate) {
				test.Errorf("Wrong error! Expected: %v Actual: %v", ErrInvalidCoordinate, err)
			}
		})
	}
}

func TestWithIdentifier(t *testing.T) {
	f := LocationFix{Latitude: 1, Longitude: 2}

	g := f.WithIdentifier("GPS001")

	if g.DeviceIdentifier != "GPS001" {
		t.Errorf("Identifier was not set: %q", g.DeviceIdentifier)
	}
	if f.DeviceIdentifier != "" {
		t.Errorf("Original fix was modified: %q", f.DeviceIdentifier)
	}
}
