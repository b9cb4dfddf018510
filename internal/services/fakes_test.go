package services

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"sort"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/require"

	"github.com/smarttransit/seat-booking-backend/internal/config"
	"github.com/smarttransit/seat-booking-backend/internal/events"
	"github.com/smarttransit/seat-booking-backend/internal/models"
)

// memStore is an in-memory BookingStore, TripStore, SeatLedgerReader and
// PaymentAuditStore. One mutex serialises every call, standing in for the
// row locks and transactions of the Postgres repositories.
type memStore struct {
	mu       sync.Mutex
	trips    map[uuid.UUID]*models.Trip
	seats    map[uuid.UUID]map[string]*models.TripSeat
	bookings map[uuid.UUID]*models.Booking
	audits   []*models.PaymentAudit
	// auditErr fails every audit write while set
	auditErr error
}

func newMemStore() *memStore {
	return &memStore{
		trips:    make(map[uuid.UUID]*models.Trip),
		seats:    make(map[uuid.UUID]map[string]*models.TripSeat),
		bookings: make(map[uuid.UUID]*models.Booking),
	}
}

// addTrip creates a scheduled trip departing tomorrow with the given seats
func (m *memStore) addTrip(now time.Time, price int64, seatNumbers ...string) *models.Trip {
	m.mu.Lock()
	defer m.mu.Unlock()

	trip := &models.Trip{
		ID:            uuid.New(),
		CompanyID:     uuid.New(),
		CompanyName:   "Phuong Trang",
		RouteName:     "Sai Gon - Da Lat",
		Origin:        "Sai Gon",
		Destination:   "Da Lat",
		DepartureTime: now.Add(24 * time.Hour),
		Status:        models.TripStatusScheduled,
	}
	m.trips[trip.ID] = trip

	ledger := make(map[string]*models.TripSeat, len(seatNumbers))
	for _, n := range seatNumbers {
		ledger[n] = &models.TripSeat{
			ID:         uuid.New(),
			TripID:     trip.ID,
			Floor:      1,
			SeatNumber: n,
			SeatType:   "standard",
			Price:      price,
			Status:     models.TripSeatStatusAvailable,
			Version:    1,
		}
	}
	m.seats[trip.ID] = ledger
	return trip
}

func (m *memStore) seat(tripID uuid.UUID, number string) models.TripSeat {
	m.mu.Lock()
	defer m.mu.Unlock()
	return *m.seats[tripID][number]
}

func (m *memStore) auditsOf(eventType models.PaymentEventType) []*models.PaymentAudit {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []*models.PaymentAudit
	for _, a := range m.audits {
		if a.EventType == eventType {
			out = append(out, a)
		}
	}
	return out
}

func copyBooking(b *models.Booking) *models.Booking {
	c := *b
	c.Passengers = append(models.Passengers(nil), b.Passengers...)
	return &c
}

// releaseLocked frees seats owned by id in one of the given statuses
func (m *memStore) releaseLocked(tripID, id uuid.UUID, statuses ...models.TripSeatStatus) {
	for _, s := range m.seats[tripID] {
		if s.BookingID == nil || *s.BookingID != id {
			continue
		}
		for _, st := range statuses {
			if s.Status == st {
				s.Status = models.TripSeatStatusAvailable
				s.BookingID = nil
				s.Version++
				break
			}
		}
	}
}

func (m *memStore) CreateHold(_ context.Context, b *models.Booking) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	ledger := m.seats[b.TripID]
	requested := b.SeatNumbers()
	var claimed []models.TripSeat
	var got []string
	for _, n := range requested.Sorted() {
		if s, ok := ledger[n]; ok && s.IsAvailable() {
			claimed = append(claimed, *s)
			got = append(got, n)
		}
	}
	if len(claimed) != len(requested) {
		return &models.SeatConflictError{TripID: b.TripID.String(), Seats: requested.Missing(got)}
	}

	for _, n := range got {
		id := b.ID
		ledger[n].Status = models.TripSeatStatusHeld
		ledger[n].BookingID = &id
		ledger[n].Version++
	}
	if err := b.ApplySeatPrices(claimed); err != nil {
		return err
	}
	b.Version = 1
	b.UpdatedAt = b.CreatedAt
	m.bookings[b.ID] = copyBooking(b)
	return nil
}

func (m *memStore) GetByID(_ context.Context, id uuid.UUID) (*models.Booking, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	b, ok := m.bookings[id]
	if !ok {
		return nil, models.ErrBookingNotFound
	}
	return copyBooking(b), nil
}

func (m *memStore) GetByTicketCode(_ context.Context, code string) (*models.Booking, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, b := range m.bookings {
		if b.TicketCode != nil && *b.TicketCode == code {
			return copyBooking(b), nil
		}
	}
	return nil, models.ErrBookingNotFound
}

func (m *memStore) ListExpiredHolds(_ context.Context, now time.Time, limit int) ([]models.Booking, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var due []models.Booking
	for _, b := range m.bookings {
		if b.IsHoldExpired(now) {
			due = append(due, *copyBooking(b))
		}
	}
	sort.Slice(due, func(i, j int) bool { return due[i].HeldUntil.Before(*due[j].HeldUntil) })
	if len(due) > limit {
		due = due[:limit]
	}
	return due, nil
}

func (m *memStore) CountActiveHolds(context.Context) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	n := 0
	for _, b := range m.bookings {
		if b.Status == models.BookingStatusHeld {
			n++
		}
	}
	return n, nil
}

func (m *memStore) ExpireHold(_ context.Context, id uuid.UUID, now time.Time) (*models.Booking, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	b, ok := m.bookings[id]
	if !ok || !b.IsHoldExpired(now) {
		return nil, nil
	}
	b.Status = models.BookingStatusExpired
	b.HeldUntil = nil
	b.ExpiredAt = &now
	b.UpdatedAt = now
	b.Version++
	m.releaseLocked(b.TripID, id, models.TripSeatStatusHeld)
	return copyBooking(b), nil
}

func (m *memStore) Cancel(_ context.Context, id uuid.UUID, from []models.BookingStatus, reason string, now time.Time) (*models.Booking, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	b, ok := m.bookings[id]
	if !ok {
		return nil, models.ErrBookingNotCancelable
	}
	allowed := false
	for _, s := range from {
		if b.Status == s {
			allowed = true
		}
	}
	if !allowed {
		return nil, models.ErrBookingNotCancelable
	}
	b.Status = models.BookingStatusCancelled
	b.HeldUntil = nil
	b.TicketCode = nil
	b.CancelledAt = &now
	b.CancelReason = &reason
	b.UpdatedAt = now
	b.Version++
	m.releaseLocked(b.TripID, id, models.TripSeatStatusHeld, models.TripSeatStatusBooked)
	return copyBooking(b), nil
}

func (m *memStore) ReserveOrderCode(_ context.Context, id uuid.UUID, orderCode int64, now time.Time) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, other := range m.bookings {
		if other.PaymentOrderCode != nil && *other.PaymentOrderCode == orderCode {
			return false, models.ErrOrderCodeConflict
		}
	}
	b, ok := m.bookings[id]
	if !ok || !b.IsHoldActive(now) || b.PaymentOrderCode != nil {
		return false, nil
	}
	code := orderCode
	b.PaymentOrderCode = &code
	b.Version++
	return true, nil
}

func (m *memStore) SavePaymentLink(_ context.Context, id uuid.UUID, orderCode int64, link *models.PaymentLink) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	b, ok := m.bookings[id]
	if ok && b.PaymentOrderCode != nil && *b.PaymentOrderCode == orderCode {
		l := *link
		b.PaymentLink = &l
	}
	return nil
}

func (m *memStore) ReconcilePayment(_ context.Context, orderCode int64, decide func(*models.Booking) (models.PaymentDecision, error)) (*models.Booking, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	var stored *models.Booking
	for _, b := range m.bookings {
		if b.PaymentOrderCode != nil && *b.PaymentOrderCode == orderCode {
			stored = b
		}
	}
	if stored == nil {
		return nil, models.ErrBookingNotFound
	}

	snapshot := copyBooking(stored)
	decision, err := decide(snapshot)
	if err != nil {
		return snapshot, err
	}

	switch decision.Action {
	case models.PaymentActionConfirm:
		if stored.Status != models.BookingStatusHeld {
			return snapshot, models.ErrBookingNotHoldable
		}
		ledger := m.seats[stored.TripID]
		for _, n := range stored.SeatNumbers() {
			s := ledger[n]
			if s == nil || s.Status != models.TripSeatStatusHeld || s.BookingID == nil || *s.BookingID != stored.ID {
				return snapshot, models.ErrSeatsNotOwned
			}
		}
		for _, other := range m.bookings {
			if other.TicketCode != nil && *other.TicketCode == decision.TicketCode {
				return snapshot, models.ErrTicketCodeCollision
			}
		}
		for _, n := range stored.SeatNumbers() {
			ledger[n].Status = models.TripSeatStatusBooked
			ledger[n].Version++
		}
		code, at := decision.TicketCode, decision.At
		stored.Status = models.BookingStatusConfirmed
		stored.PaymentStatus = models.PaymentStatusPaid
		stored.TicketCode = &code
		stored.HeldUntil = nil
		stored.PaidAt = &at
		stored.ConfirmedAt = &at
		stored.UpdatedAt = at
		stored.Version++
	case models.PaymentActionMarkFailed:
		stored.PaymentStatus = models.PaymentStatusFailed
		stored.UpdatedAt = decision.At
		stored.Version++
	}
	return copyBooking(stored), nil
}

func (m *memStore) CompleteTrip(_ context.Context, tripID uuid.UUID, now time.Time) ([]models.Booking, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var completed []models.Booking
	for _, b := range m.bookings {
		if b.TripID == tripID && b.Status == models.BookingStatusConfirmed {
			b.Status = models.BookingStatusCompleted
			b.UpdatedAt = now
			b.Version++
			completed = append(completed, *copyBooking(b))
		}
	}
	if t, ok := m.trips[tripID]; ok {
		t.Status = models.TripStatusCompleted
	}
	return completed, nil
}

// TripStore

type memTrips struct{ *memStore }

func (t memTrips) GetByID(_ context.Context, id uuid.UUID) (*models.Trip, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	trip, ok := t.trips[id]
	if !ok {
		return nil, models.ErrTripNotFound
	}
	c := *trip
	return &c, nil
}

// SeatLedgerReader

func (m *memStore) GetTripSeats(_ context.Context, tripID uuid.UUID) ([]models.TripSeat, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	seats := make([]models.TripSeat, 0, len(m.seats[tripID]))
	for _, s := range m.seats[tripID] {
		seats = append(seats, *s)
	}
	sort.Slice(seats, func(i, j int) bool { return seats[i].SeatNumber < seats[j].SeatNumber })
	return seats, nil
}

func (m *memStore) GetTripSeatSummary(_ context.Context, tripID uuid.UUID) (*models.TripSeatSummary, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	summary := &models.TripSeatSummary{TripID: tripID}
	for _, s := range m.seats[tripID] {
		summary.TotalSeats++
		switch s.Status {
		case models.TripSeatStatusAvailable:
			summary.AvailableSeats++
		case models.TripSeatStatusHeld:
			summary.HeldSeats++
		case models.TripSeatStatusBooked:
			summary.BookedSeats++
		}
	}
	return summary, nil
}

// PaymentAuditStore

type memAudits struct{ *memStore }

func (a memAudits) Log(_ context.Context, audit *models.PaymentAudit) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.auditErr != nil {
		return a.auditErr
	}
	a.audits = append(a.audits, audit)
	return nil
}

func (a memAudits) GetByBookingID(_ context.Context, bookingID uuid.UUID) ([]*models.PaymentAudit, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	var out []*models.PaymentAudit
	for _, audit := range a.audits {
		if audit.BookingID != nil && *audit.BookingID == bookingID {
			out = append(out, audit)
		}
	}
	return out, nil
}

func (a memAudits) GetReconciliationQueue(_ context.Context, limit int) ([]*models.PaymentAudit, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	var out []*models.PaymentAudit
	for _, audit := range a.audits {
		mismatch := audit.AmountsMatch != nil && !*audit.AmountsMatch
		if mismatch || audit.EventType == models.PaymentEventBookingConfirmFailed {
			out = append(out, audit)
		}
	}
	if len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

// fakeGateway behaves like payOS for order codes: a code can be registered
// once, a second create is rejected, and registered links can be looked up.
type fakeGateway struct {
	mu        sync.Mutex
	links     map[int64]*models.PaymentLink
	created   []*PaymentLinkRequest
	calls     int
	lookups   int
	cancelled []int64
	err       error
	// loseResponse registers the link but reports a transport failure
	loseResponse bool
	delay        time.Duration
}

func (g *fakeGateway) CreatePaymentLink(_ context.Context, req *PaymentLinkRequest) (*models.PaymentLink, error) {
	g.mu.Lock()
	delay := g.delay
	g.mu.Unlock()
	if delay > 0 {
		time.Sleep(delay)
	}

	g.mu.Lock()
	defer g.mu.Unlock()
	g.calls++
	if g.err != nil {
		return nil, g.err
	}
	if _, ok := g.links[req.OrderCode]; ok {
		return nil, fmt.Errorf("%w: code=231 desc=order exists", models.ErrPaymentLinkExists)
	}
	g.created = append(g.created, req)

	link := &models.PaymentLink{
		PaymentLinkID: "link-" + uuid.NewString()[:8],
		OrderCode:     req.OrderCode,
		Amount:        req.Amount,
		Description:   req.Description,
		AccountNumber: "0123456789",
		AccountName:   "CONG TY VE XE",
		Bin:           "970422",
		Currency:      "VND",
		QRCode:        "000201010212",
		CheckoutURL:   "https://pay.payos.vn/web/checkout",
		Status:        "PENDING",
	}
	if g.links == nil {
		g.links = make(map[int64]*models.PaymentLink)
	}
	g.links[req.OrderCode] = link

	if g.loseResponse {
		return nil, fmt.Errorf("%w: context deadline exceeded", models.ErrGatewayUnavailable)
	}
	out := *link
	return &out, nil
}

func (g *fakeGateway) GetPaymentLink(_ context.Context, orderCode int64) (*models.PaymentLink, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.lookups++
	link, ok := g.links[orderCode]
	if !ok {
		return nil, fmt.Errorf("%w: code=101", models.ErrPaymentLinkNotFound)
	}
	// The lookup response carries no QR payload
	return &models.PaymentLink{
		PaymentLinkID: link.PaymentLinkID,
		OrderCode:     link.OrderCode,
		Amount:        link.Amount,
		CheckoutURL:   link.CheckoutURL,
		Status:        link.Status,
	}, nil
}

func (g *fakeGateway) CancelPaymentLink(_ context.Context, orderCode int64, _ string) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.cancelled = append(g.cancelled, orderCode)
	if link, ok := g.links[orderCode]; ok {
		link.Status = "CANCELLED"
	}
	return nil
}

// createdCount returns how many create calls reached the gateway
func (g *fakeGateway) createdCount() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.calls
}

// recordingPublisher keeps published event types in order
type recordingPublisher struct {
	mu     sync.Mutex
	events []events.EventType
}

func (p *recordingPublisher) Publish(_ context.Context, eventType events.EventType, _ *models.Booking) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.events = append(p.events, eventType)
}

func (p *recordingPublisher) count(eventType events.EventType) int {
	p.mu.Lock()
	defer p.mu.Unlock()
	n := 0
	for _, e := range p.events {
		if e == eventType {
			n++
		}
	}
	return n
}

// fakeClock is a settable clock shared by every service under test
type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

const testChecksumKey = "1a54716c8f0efb2744fb28b6e38b25da7f67a925d98bc1c18bd8faaecadd7675"

// harness wires every booking service to one memStore
type harness struct {
	store      *memStore
	clock      *fakeClock
	gateway    *fakeGateway
	payos      *PayOSService
	publisher  *recordingPublisher
	hold       *HoldService
	expiration *ExpirationService
	intents    *PaymentIntentService
	reconciler *WebhookReconciler
	lookup     *LookupService
	cancels    *CancellationService
	audit      *AuditService
}

func quietLogger() *logrus.Logger {
	logger := logrus.New()
	logger.SetOutput(io.Discard)
	return logger
}

func testBookingConfig() config.BookingConfig {
	return config.BookingConfig{
		HoldWindow:         15 * time.Minute,
		MaxSeatsPerBooking: 5,
		SweepSchedule:      "@every 30s",
		SweepBatchSize:     100,
		SweepLockTTL:       5 * time.Second,
		TicketCodePrefix:   "VX",
		TicketCodeLength:   8,
	}
}

func newHarness(t *testing.T) *harness {
	t.Helper()

	logger := quietLogger()
	cfg := testBookingConfig()
	store := newMemStore()
	clock := &fakeClock{now: time.Date(2026, 3, 14, 8, 0, 0, 0, time.UTC)}
	gateway := &fakeGateway{}
	publisher := &recordingPublisher{}
	payos := NewPayOSService(&config.PaymentConfig{
		BaseURL:     "http://payos.invalid",
		ClientID:    "client",
		APIKey:      "key",
		ChecksumKey: testChecksumKey,
		Currency:    "VND",
	}, logger)

	audit := NewAuditService(memAudits{store}, logger)
	trips := memTrips{store}

	h := &harness{
		store:     store,
		clock:     clock,
		gateway:   gateway,
		payos:     payos,
		publisher: publisher,
		audit:     audit,
	}

	h.hold = NewHoldService(store, trips, publisher, cfg, logger)
	h.hold.now = clock.Now

	h.expiration = NewExpirationService(store, gateway, nil, publisher, cfg, logger)
	h.expiration.now = clock.Now

	h.intents = NewPaymentIntentService(store, gateway, h.expiration, audit, "VND", logger)
	h.intents.now = clock.Now

	h.reconciler = NewWebhookReconciler(store, payos, audit, publisher, cfg, "VND", logger)
	h.reconciler.now = clock.Now

	h.lookup = NewLookupService(store, trips, store, h.expiration, logger)

	h.cancels = NewCancellationService(store, trips, gateway, h.expiration, publisher, logger)
	h.cancels.now = clock.Now

	return h
}

func holdRequest(tripID uuid.UUID, seats ...string) *models.CreateHoldRequest {
	names := []string{"Alice", "Bob", "Chi", "Dung", "Em", "Phuc"}
	req := &models.CreateHoldRequest{
		TripID:       tripID,
		ContactName:  "Alice Nguyen",
		ContactPhone: "0912345678",
	}
	for i, s := range seats {
		req.Passengers = append(req.Passengers, models.HoldPassengerRequest{
			Name:       names[i%len(names)],
			SeatNumber: s,
		})
	}
	return req
}

// signedWebhook builds a payOS notification body signed with the test key
func (h *harness) signedWebhook(t *testing.T, orderCode, amount int64, success bool) []byte {
	t.Helper()

	code, desc := "00", "success"
	if !success {
		code, desc = "01", "payment failed"
	}
	data := map[string]interface{}{
		"orderCode":              orderCode,
		"amount":                 amount,
		"description":            "VE TEST",
		"accountNumber":          "0123456789",
		"reference":              "FT" + uuid.NewString()[:8],
		"transactionDateTime":    "2026-03-14 08:05:00",
		"currency":               "VND",
		"paymentLinkId":          "link-test",
		"code":                   code,
		"desc":                   desc,
		"counterAccountBankId":   "",
		"counterAccountBankName": "",
		"counterAccountName":     nil,
		"counterAccountNumber":   nil,
		"virtualAccountName":     "",
		"virtualAccountNumber":   "",
	}

	body, err := json.Marshal(map[string]interface{}{
		"code":      code,
		"desc":      desc,
		"success":   success,
		"data":      data,
		"signature": h.payos.SignData(data),
	})
	require.NoError(t, err)
	return body
}
