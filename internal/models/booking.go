package models

import (
	"database/sql/driver"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// BookingStatus represents the lifecycle state of a booking
type BookingStatus string

const (
	BookingStatusPending   BookingStatus = "pending"
	BookingStatusHeld      BookingStatus = "held"
	BookingStatusConfirmed BookingStatus = "confirmed"
	BookingStatusCancelled BookingStatus = "cancelled"
	BookingStatusExpired   BookingStatus = "expired"
	BookingStatusCompleted BookingStatus = "completed"
)

// PaymentStatus represents the payment state of a booking
type PaymentStatus string

const (
	PaymentStatusPending  PaymentStatus = "pending"
	PaymentStatusPaid     PaymentStatus = "paid"
	PaymentStatusFailed   PaymentStatus = "failed"
	PaymentStatusRefunded PaymentStatus = "refunded"
)

// Passenger is one seat occupant on a booking. Price is copied from the
// trip seat at claim time and never recomputed.
type Passenger struct {
	Name       string `json:"name"`
	Phone      string `json:"phone"`
	SeatNumber string `json:"seat_number"`
	Price      int64  `json:"price"`
}

// Passengers is stored as a JSONB array on the bookings row
type Passengers []Passenger

// Value implements the driver.Valuer interface
func (p Passengers) Value() (driver.Value, error) {
	if p == nil {
		return "[]", nil
	}
	bytes, err := json.Marshal(p)
	if err != nil {
		return nil, err
	}
	return string(bytes), nil
}

// Scan implements the sql.Scanner interface
func (p *Passengers) Scan(value interface{}) error {
	if value == nil {
		*p = nil
		return nil
	}
	switch v := value.(type) {
	case []byte:
		return json.Unmarshal(v, p)
	case string:
		return json.Unmarshal([]byte(v), p)
	default:
		return errors.New("type assertion to []byte failed for Passengers")
	}
}

// Booking is one customer's reservation of 1..N seats on a trip
type Booking struct {
	ID               uuid.UUID     `json:"id" db:"id"`
	TripID           uuid.UUID     `json:"trip_id" db:"trip_id"`
	CompanyID        uuid.UUID     `json:"company_id" db:"company_id"`
	Status           BookingStatus `json:"status" db:"status"`
	PaymentStatus    PaymentStatus `json:"payment_status" db:"payment_status"`
	Passengers       Passengers    `json:"passengers" db:"passengers"`
	ContactName      string        `json:"contact_name" db:"contact_name"`
	ContactPhone     string        `json:"contact_phone" db:"contact_phone"`
	ContactEmail     *string       `json:"contact_email,omitempty" db:"contact_email"`
	TotalAmount      int64         `json:"total_amount" db:"total_amount"`
	TicketCode       *string       `json:"ticket_code,omitempty" db:"ticket_code"`
	HeldUntil        *time.Time    `json:"held_until,omitempty" db:"held_until"`
	PaymentOrderCode *int64        `json:"payment_order_code,omitempty" db:"payment_order_code"`
	PaymentLink      *PaymentLink  `json:"payment_link,omitempty" db:"payment_link"`

	PaidAt       *time.Time `json:"paid_at,omitempty" db:"paid_at"`
	ConfirmedAt  *time.Time `json:"confirmed_at,omitempty" db:"confirmed_at"`
	ExpiredAt    *time.Time `json:"expired_at,omitempty" db:"expired_at"`
	CancelledAt  *time.Time `json:"cancelled_at,omitempty" db:"cancelled_at"`
	CancelReason *string    `json:"cancel_reason,omitempty" db:"cancel_reason"`

	Version   int       `json:"-" db:"version"`
	CreatedAt time.Time `json:"created_at" db:"created_at"`
	UpdatedAt time.Time `json:"updated_at" db:"updated_at"`
}

// IsHoldActive reports whether the booking is held and its window is still open
func (b *Booking) IsHoldActive(now time.Time) bool {
	return b.Status == BookingStatusHeld && b.HeldUntil != nil && now.Before(*b.HeldUntil)
}

// IsHoldExpired reports whether the booking is held past its window
func (b *Booking) IsHoldExpired(now time.Time) bool {
	return b.Status == BookingStatusHeld && b.HeldUntil != nil && !now.Before(*b.HeldUntil)
}

// SeatNumbers returns the seats listed on the booking, in passenger order
func (b *Booking) SeatNumbers() SeatNumbers {
	seats := make(SeatNumbers, 0, len(b.Passengers))
	for _, p := range b.Passengers {
		seats = append(seats, p.SeatNumber)
	}
	return seats
}

// ApplySeatPrices copies the claimed seats' prices onto the passengers and
// recomputes the total. Every passenger seat must be present in seats.
func (b *Booking) ApplySeatPrices(seats []TripSeat) error {
	prices := make(map[string]int64, len(seats))
	for _, s := range seats {
		prices[s.SeatNumber] = s.Price
	}

	var total int64
	for i := range b.Passengers {
		price, ok := prices[b.Passengers[i].SeatNumber]
		if !ok {
			return fmt.Errorf("no claimed seat for passenger seat %s", b.Passengers[i].SeatNumber)
		}
		b.Passengers[i].Price = price
		total += price
	}
	b.TotalAmount = total
	return nil
}

// PassengerTotal sums the passenger prices
func (b *Booking) PassengerTotal() int64 {
	var total int64
	for _, p := range b.Passengers {
		total += p.Price
	}
	return total
}

// HoldPassengerRequest is one passenger entry of a hold request
type HoldPassengerRequest struct {
	Name       string `json:"name"`
	Phone      string `json:"phone"`
	SeatNumber string `json:"seat_number"`
}

// CreateHoldRequest is the body of POST /bookings/hold
type CreateHoldRequest struct {
	TripID       uuid.UUID              `json:"trip_id" binding:"required"`
	Passengers   []HoldPassengerRequest `json:"passengers"`
	ContactName  string                 `json:"contact_name" binding:"required"`
	ContactPhone string                 `json:"contact_phone" binding:"required"`
	ContactEmail *string                `json:"contact_email,omitempty"`
}

// CancelBookingRequest is the body of a customer cancellation
type CancelBookingRequest struct {
	ContactPhone string `json:"contact_phone" binding:"required"`
	Reason       string `json:"reason,omitempty"`
}

// AdminCancelRequest is the body of an administrative cancellation
type AdminCancelRequest struct {
	Reason string `json:"reason" binding:"required"`
}

// LookupRequest is the body of POST /bookings/lookup. Identifier is either a
// ticket code or a booking id.
type LookupRequest struct {
	Identifier   string `json:"identifier" binding:"required"`
	ContactPhone string `json:"contact_phone" binding:"required"`
}

// BookingWithTrip is the read projection returned by lookup
type BookingWithTrip struct {
	Booking *Booking `json:"booking"`
	Trip    *Trip    `json:"trip,omitempty"`
}
