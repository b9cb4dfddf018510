package models

import (
	"time"

	"github.com/google/uuid"
)

// TripSeatStatus represents the ledger status of a trip seat
type TripSeatStatus string

const (
	TripSeatStatusAvailable TripSeatStatus = "available"
	TripSeatStatusHeld      TripSeatStatus = "held"
	TripSeatStatusBooked    TripSeatStatus = "booked"
)

// TripSeat is one row of the seat ledger. BookingID is set iff the status is
// not available.
type TripSeat struct {
	ID         uuid.UUID      `json:"id" db:"id"`
	TripID     uuid.UUID      `json:"trip_id" db:"trip_id"`
	Floor      int            `json:"floor" db:"floor"`
	SeatNumber string         `json:"seat_number" db:"seat_number"`
	SeatType   string         `json:"seat_type" db:"seat_type"` // standard, sleeper, vip
	Price      int64          `json:"price" db:"price"`
	Status     TripSeatStatus `json:"status" db:"status"`
	BookingID  *uuid.UUID     `json:"-" db:"booking_id"`
	Version    int            `json:"-" db:"version"`
	UpdatedAt  time.Time      `json:"updated_at" db:"updated_at"`
}

// IsAvailable reports whether the seat can be claimed
func (s *TripSeat) IsAvailable() bool {
	return s.Status == TripSeatStatusAvailable && s.BookingID == nil
}

// TripSeatSummary provides a quick overview of seat availability for a trip
type TripSeatSummary struct {
	TripID         uuid.UUID `json:"trip_id" db:"trip_id"`
	TotalSeats     int       `json:"total_seats" db:"total_seats"`
	AvailableSeats int       `json:"available_seats" db:"available_seats"`
	HeldSeats      int       `json:"held_seats" db:"held_seats"`
	BookedSeats    int       `json:"booked_seats" db:"booked_seats"`
}

// TripSeatMap is the public availability projection of a trip
type TripSeatMap struct {
	Summary TripSeatSummary `json:"summary"`
	Seats   []TripSeat      `json:"seats"`
}
