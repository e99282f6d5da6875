package model

import "time"

// Coordinate bounds accepted anywhere in the system.
const (
	MinLatitude  = -90.0
	MaxLatitude  = 90.0
	MinLongitude = -180.0
	MaxLongitude = 180.0
)

// LocationRecord is the latest known position of one live connection.
// At most one record exists per connection; timestamps are monotonic.
type LocationRecord struct {
	Identity      Identity  `json:"identity"`
	AppointmentID string    `json:"appointmentId"`
	Latitude      float64   `json:"latitude"`
	Longitude     float64   `json:"longitude"`
	Timestamp     time.Time `json:"timestamp"`
}

// ValidCoordinates reports whether lat/lon fall inside the accepted ranges.
func ValidCoordinates(lat, lon float64) bool {
	return lat >= MinLatitude && lat <= MaxLatitude &&
		lon >= MinLongitude && lon <= MaxLongitude
}
