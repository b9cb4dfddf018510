package services

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/smarttransit/seat-booking-backend/internal/models"
)

func TestIssuePaymentLink_ReissueReturnsStoredLink(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	trip := h.store.addTrip(h.clock.Now(), 120000, "A1", "A2")

	booking, err := h.hold.CreateHold(ctx, holdRequest(trip.ID, "A1", "A2"))
	require.NoError(t, err)

	first, err := h.intents.IssuePaymentLink(ctx, booking.ID, RequestMeta{})
	require.NoError(t, err)
	second, err := h.intents.IssuePaymentLink(ctx, booking.ID, RequestMeta{})
	require.NoError(t, err)

	assert.Equal(t, first.OrderCode, second.OrderCode)
	assert.Equal(t, first.PaymentLinkID, second.PaymentLinkID)
	assert.Equal(t, 1, h.gateway.createdCount())

	req := h.gateway.created[0]
	assert.Equal(t, int64(240000), req.Amount)
	assert.Len(t, req.Items, 2)
	assert.LessOrEqual(t, len(req.Description), 25)
	assert.Equal(t, *booking.HeldUntil, req.ExpiredAt)

	stored, err := h.store.GetByID(ctx, booking.ID)
	require.NoError(t, err)
	require.NotNil(t, stored.PaymentOrderCode)
	assert.Equal(t, first.OrderCode, *stored.PaymentOrderCode)
	assert.Len(t, h.store.auditsOf(models.PaymentEventLinkIssued), 1)
}

func TestIssuePaymentLink_ConcurrentRequestsShareOneLink(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	trip := h.store.addTrip(h.clock.Now(), 100000, "A1")

	booking, err := h.hold.CreateHold(ctx, holdRequest(trip.ID, "A1"))
	require.NoError(t, err)

	h.gateway.delay = 20 * time.Millisecond

	var (
		wg     sync.WaitGroup
		mu     sync.Mutex
		links  []*models.PaymentLinkResponse
		failed []error
	)
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			link, err := h.intents.IssuePaymentLink(ctx, booking.ID, RequestMeta{})
			mu.Lock()
			defer mu.Unlock()
			if err != nil {
				failed = append(failed, err)
				return
			}
			links = append(links, link)
		}()
	}
	wg.Wait()

	assert.Empty(t, failed)
	assert.Equal(t, 1, h.gateway.createdCount())

	stored, err := h.store.GetByID(ctx, booking.ID)
	require.NoError(t, err)
	require.NotNil(t, stored.PaymentLink)
	require.Len(t, links, 8)
	for _, link := range links {
		assert.Equal(t, *stored.PaymentOrderCode, link.OrderCode)
		assert.Equal(t, stored.PaymentLink.PaymentLinkID, link.PaymentLinkID)
	}
}

func TestIssuePaymentLink_LostGatewayResponseIsRecovered(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	trip := h.store.addTrip(h.clock.Now(), 100000, "A1", "A2")

	booking, err := h.hold.CreateHold(ctx, holdRequest(trip.ID, "A1", "A2"))
	require.NoError(t, err)

	// The gateway registers the order code but the reply never arrives
	h.gateway.loseResponse = true
	_, err = h.intents.IssuePaymentLink(ctx, booking.ID, RequestMeta{})
	require.ErrorIs(t, err, models.ErrGatewayUnavailable)
	h.gateway.loseResponse = false

	for i := 0; i < 3; i++ {
		link, err := h.intents.IssuePaymentLink(ctx, booking.ID, RequestMeta{})
		require.NoError(t, err)
		assert.Equal(t, h.gateway.created[0].OrderCode, link.OrderCode)
		assert.Equal(t, int64(200000), link.Amount)
	}

	assert.Equal(t, 1, h.gateway.createdCount())
	assert.Equal(t, 1, h.gateway.lookups)

	stored, err := h.store.GetByID(ctx, booking.ID)
	require.NoError(t, err)
	require.NotNil(t, stored.PaymentLink)
	assert.Equal(t, h.gateway.links[*stored.PaymentOrderCode].PaymentLinkID, stored.PaymentLink.PaymentLinkID)
	assert.Equal(t, "VND", stored.PaymentLink.Currency)

	issued := h.store.auditsOf(models.PaymentEventLinkIssued)
	require.Len(t, issued, 1)
	assert.Equal(t, true, issued[0].ResponsePayload["recovered"])
}

func TestIssuePaymentLink_StoredOrderCodeAdoptsRegisteredLink(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	trip := h.store.addTrip(h.clock.Now(), 100000, "A1")

	booking, err := h.hold.CreateHold(ctx, holdRequest(trip.ID, "A1"))
	require.NoError(t, err)

	// Another instance registered this order code after our reservation
	code := int64(1773475200123)
	reserved, err := h.store.ReserveOrderCode(ctx, booking.ID, code, h.clock.Now())
	require.NoError(t, err)
	require.True(t, reserved)
	h.gateway.links = map[int64]*models.PaymentLink{
		code: {PaymentLinkID: "link-other", OrderCode: code, Amount: 100000, Status: "PENDING"},
	}

	link, err := h.intents.IssuePaymentLink(ctx, booking.ID, RequestMeta{})
	require.NoError(t, err)
	assert.Equal(t, "link-other", link.PaymentLinkID)
	assert.Equal(t, code, link.OrderCode)
	assert.Zero(t, h.gateway.createdCount())
	assert.Equal(t, 1, h.gateway.lookups)
}

func TestIssuePaymentLink_StoredOrderCodeNotRegisteredIsCreated(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	trip := h.store.addTrip(h.clock.Now(), 100000, "A1")

	booking, err := h.hold.CreateHold(ctx, holdRequest(trip.ID, "A1"))
	require.NoError(t, err)

	// An earlier attempt reserved the code but never reached the gateway
	code := int64(1773475200789)
	_, err = h.store.ReserveOrderCode(ctx, booking.ID, code, h.clock.Now())
	require.NoError(t, err)

	link, err := h.intents.IssuePaymentLink(ctx, booking.ID, RequestMeta{})
	require.NoError(t, err)
	assert.Equal(t, code, link.OrderCode)
	assert.Equal(t, 1, h.gateway.lookups)
	require.Equal(t, 1, h.gateway.createdCount())
	assert.Equal(t, code, h.gateway.created[0].OrderCode)
}

func TestIssuePaymentLink_CancelledRegisteredLinkIsNotReused(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	trip := h.store.addTrip(h.clock.Now(), 100000, "A1")

	booking, err := h.hold.CreateHold(ctx, holdRequest(trip.ID, "A1"))
	require.NoError(t, err)

	code := int64(1773475200456)
	_, err = h.store.ReserveOrderCode(ctx, booking.ID, code, h.clock.Now())
	require.NoError(t, err)
	h.gateway.links = map[int64]*models.PaymentLink{
		code: {PaymentLinkID: "link-cancelled", OrderCode: code, Amount: 100000, Status: "CANCELLED"},
	}

	_, err = h.intents.IssuePaymentLink(ctx, booking.ID, RequestMeta{})
	assert.ErrorIs(t, err, models.ErrBookingNotHoldable)
}

func TestIssuePaymentLink_NotHoldable(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	trip := h.store.addTrip(h.clock.Now(), 100000, "A1")

	booking, err := h.hold.CreateHold(ctx, holdRequest(trip.ID, "A1"))
	require.NoError(t, err)

	h.clock.Advance(15 * time.Minute)
	_, err = h.intents.IssuePaymentLink(ctx, booking.ID, RequestMeta{})
	assert.ErrorIs(t, err, models.ErrBookingNotHoldable)
	assert.Zero(t, h.gateway.createdCount())

	// Reading the overdue hold expired it on the spot
	stored, err := h.store.GetByID(ctx, booking.ID)
	require.NoError(t, err)
	assert.Equal(t, models.BookingStatusExpired, stored.Status)
	assert.Equal(t, models.TripSeatStatusAvailable, h.store.seat(trip.ID, "A1").Status)
}

func TestIssuePaymentLink_GatewayFailureIsAudited(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	trip := h.store.addTrip(h.clock.Now(), 100000, "A1")

	booking, err := h.hold.CreateHold(ctx, holdRequest(trip.ID, "A1"))
	require.NoError(t, err)

	h.gateway.err = models.ErrGatewayUnavailable
	_, err = h.intents.IssuePaymentLink(ctx, booking.ID, RequestMeta{IPAddress: "198.51.100.7"})
	assert.True(t, errors.Is(err, models.ErrGatewayUnavailable))

	failed := h.store.auditsOf(models.PaymentEventLinkFailed)
	require.Len(t, failed, 1)
	assert.Equal(t, "198.51.100.7", *failed[0].IPAddress)

	// The reserved order code is reused on retry
	h.gateway.err = nil
	stored, err := h.store.GetByID(ctx, booking.ID)
	require.NoError(t, err)
	link, err := h.intents.IssuePaymentLink(ctx, booking.ID, RequestMeta{})
	require.NoError(t, err)
	assert.Equal(t, *stored.PaymentOrderCode, link.OrderCode)
}

func TestIssuePaymentLink_UnknownBooking(t *testing.T) {
	h := newHarness(t)
	_, err := h.intents.IssuePaymentLink(context.Background(), uuid.New(), RequestMeta{})
	assert.ErrorIs(t, err, models.ErrBookingNotFound)
}

func TestPaymentDescription(t *testing.T) {
	h := newHarness(t)
	trip := h.store.addTrip(h.clock.Now(), 100000, "A1")
	booking, err := h.hold.CreateHold(context.Background(), holdRequest(trip.ID, "A1"))
	require.NoError(t, err)

	desc := PaymentDescription(booking.ID)
	assert.Len(t, desc, 13)
	assert.Regexp(t, `^VE [0-9A-F]{10}$`, desc)
}
