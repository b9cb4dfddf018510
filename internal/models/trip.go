package models

import (
	"time"

	"github.com/google/uuid"
)

// TripStatus represents the schedule state of a trip
type TripStatus string

const (
	TripStatusScheduled TripStatus = "scheduled"
	TripStatusDeparted  TripStatus = "departed"
	TripStatusCompleted TripStatus = "completed"
	TripStatusCancelled TripStatus = "cancelled"
)

// Trip is the catalog entry a booking is made against. It is owned by the
// trip catalog; this service only reads it (and flips it to completed).
type Trip struct {
	ID            uuid.UUID  `json:"id" db:"id"`
	CompanyID     uuid.UUID  `json:"company_id" db:"company_id"`
	CompanyName   string     `json:"company_name" db:"company_name"`
	RouteName     string     `json:"route_name" db:"route_name"`
	Origin        string     `json:"origin" db:"origin"`
	Destination   string     `json:"destination" db:"destination"`
	DepartureTime time.Time  `json:"departure_time" db:"departure_time"`
	ArrivalTime   *time.Time `json:"arrival_time,omitempty" db:"arrival_time"`
	VehiclePlate  *string    `json:"vehicle_plate,omitempty" db:"vehicle_plate"`
	Status        TripStatus `json:"status" db:"status"`
}

// IsBookable reports whether new holds may be placed on the trip
func (t *Trip) IsBookable(now time.Time) bool {
	return t.Status == TripStatusScheduled && now.Before(t.DepartureTime)
}
