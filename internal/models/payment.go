package models

import (
	"database/sql/driver"
	"encoding/json"
	"errors"
	"time"

	"github.com/google/uuid"
)

// PaymentLink is the gateway's answer to a create-link request, stored on
// the booking so that re-issuing returns the same payable reference.
type PaymentLink struct {
	PaymentLinkID string `json:"payment_link_id"`
	OrderCode     int64  `json:"order_code"`
	Amount        int64  `json:"amount"`
	Description   string `json:"description"`
	AccountNumber string `json:"account_number"`
	AccountName   string `json:"account_name,omitempty"`
	Bin           string `json:"bin,omitempty"`
	Currency      string `json:"currency"`
	QRCode        string `json:"qr_code"`
	CheckoutURL   string `json:"checkout_url"`
	Status        string `json:"status,omitempty"`
	ExpiredAt     *int64 `json:"expired_at,omitempty"`
}

// Value implements the driver.Valuer interface
func (p PaymentLink) Value() (driver.Value, error) {
	bytes, err := json.Marshal(p)
	if err != nil {
		return nil, err
	}
	return string(bytes), nil
}

// Scan implements the sql.Scanner interface
func (p *PaymentLink) Scan(value interface{}) error {
	if value == nil {
		return nil
	}
	switch v := value.(type) {
	case []byte:
		return json.Unmarshal(v, p)
	case string:
		return json.Unmarshal([]byte(v), p)
	default:
		return errors.New("type assertion to []byte failed for PaymentLink")
	}
}

// PaymentLinkResponse is returned to the client after issuing a payment link
type PaymentLinkResponse struct {
	BookingID     uuid.UUID  `json:"booking_id"`
	OrderCode     int64      `json:"order_code"`
	Amount        int64      `json:"amount"`
	Description   string     `json:"description"`
	AccountRef    string     `json:"account_ref"`
	AccountName   string     `json:"account_name,omitempty"`
	QRCode        string     `json:"qr_code"`
	CheckoutURL   string     `json:"checkout_url"`
	PaymentLinkID string     `json:"payment_link_id"`
	HeldUntil     *time.Time `json:"held_until,omitempty"`
}

// NewPaymentLinkResponse projects a stored link plus the booking hold window
func NewPaymentLinkResponse(b *Booking, link *PaymentLink) *PaymentLinkResponse {
	return &PaymentLinkResponse{
		BookingID:     b.ID,
		OrderCode:     link.OrderCode,
		Amount:        link.Amount,
		Description:   link.Description,
		AccountRef:    link.AccountNumber,
		AccountName:   link.AccountName,
		QRCode:        link.QRCode,
		CheckoutURL:   link.CheckoutURL,
		PaymentLinkID: link.PaymentLinkID,
		HeldUntil:     b.HeldUntil,
	}
}

// PaymentNotification is a verified, gateway-neutral payment notification
type PaymentNotification struct {
	OrderCode     int64
	Amount        int64
	Success       bool
	Code          string
	Description   string
	Reference     string
	PaymentLinkID string
	Currency      string
	TransactionAt string
}

// PaymentAction is what the reconciler decided to do with a locked booking
type PaymentAction int

const (
	PaymentActionNone PaymentAction = iota
	PaymentActionConfirm
	PaymentActionMarkFailed
)

// PaymentDecision is the outcome of evaluating a notification against a
// booking under row lock
type PaymentDecision struct {
	Action     PaymentAction
	TicketCode string
	At         time.Time
}
