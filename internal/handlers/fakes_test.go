package handlers

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/require"

	"github.com/smarttransit/seat-booking-backend/internal/models"
	"github.com/smarttransit/seat-booking-backend/internal/services"
)

func quietLogger() *logrus.Logger {
	logger := logrus.New()
	logger.SetOutput(io.Discard)
	return logger
}

func newTestRouter() *gin.Engine {
	gin.SetMode(gin.TestMode)
	return gin.New()
}

func doJSON(t *testing.T, router *gin.Engine, method, path string, body interface{}) *httptest.ResponseRecorder {
	t.Helper()
	var reader io.Reader
	switch b := body.(type) {
	case nil:
	case string:
		reader = bytes.NewBufferString(b)
	default:
		raw, err := json.Marshal(b)
		require.NoError(t, err)
		reader = bytes.NewReader(raw)
	}

	req := httptest.NewRequest(method, path, reader)
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)
	return w
}

func authedRequest(t *testing.T, router *gin.Engine, method, path, token string, body interface{}) *httptest.ResponseRecorder {
	t.Helper()
	var reader io.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		require.NoError(t, err)
		reader = bytes.NewReader(raw)
	}

	req := httptest.NewRequest(method, path, reader)
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+token)
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)
	return w
}

func decode(t *testing.T, w *httptest.ResponseRecorder) map[string]interface{} {
	t.Helper()
	var out map[string]interface{}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &out))
	return out
}

type fakeHolds struct {
	booking *models.Booking
	err     error
	got     *models.CreateHoldRequest
}

func (f *fakeHolds) CreateHold(_ context.Context, req *models.CreateHoldRequest) (*models.Booking, error) {
	f.got = req
	return f.booking, f.err
}

type fakeIntents struct {
	link *models.PaymentLinkResponse
	err  error
	meta services.RequestMeta
}

func (f *fakeIntents) IssuePaymentLink(_ context.Context, _ uuid.UUID, meta services.RequestMeta) (*models.PaymentLinkResponse, error) {
	f.meta = meta
	return f.link, f.err
}

type fakeFinder struct {
	result  *models.BookingWithTrip
	booking *models.Booking
	seatMap *models.TripSeatMap
	err     error
}

func (f *fakeFinder) Lookup(context.Context, string, string) (*models.BookingWithTrip, error) {
	return f.result, f.err
}

func (f *fakeFinder) PaymentReturn(context.Context, uuid.UUID, int64) (*models.Booking, error) {
	return f.booking, f.err
}

func (f *fakeFinder) SeatMap(context.Context, uuid.UUID) (*models.TripSeatMap, error) {
	return f.seatMap, f.err
}

type fakeCancels struct {
	booking  *models.Booking
	err      error
	reason   string
	operator string
}

func (f *fakeCancels) CancelByCustomer(_ context.Context, _ uuid.UUID, _ string, reason string) (*models.Booking, error) {
	f.reason = reason
	return f.booking, f.err
}

func (f *fakeCancels) CancelByAdmin(_ context.Context, _ uuid.UUID, reason, operator string) (*models.Booking, error) {
	f.reason = reason
	f.operator = operator
	return f.booking, f.err
}

func (f *fakeCancels) CompleteTrip(context.Context, uuid.UUID) ([]models.Booking, error) {
	if f.err != nil {
		return nil, f.err
	}
	return []models.Booking{*f.booking}, nil
}

type fakeReconciler struct {
	outcome *services.WebhookOutcome
	err     error
	body    []byte
}

func (f *fakeReconciler) HandleWebhook(_ context.Context, body []byte, _ services.RequestMeta) (*services.WebhookOutcome, error) {
	f.body = body
	return f.outcome, f.err
}

type fakeSweeper struct {
	result *services.SweepResult
	status *services.SweeperStatus
}

func (f *fakeSweeper) RunOnce(context.Context) (*services.SweepResult, error) {
	return f.result, nil
}

func (f *fakeSweeper) Status(context.Context) (*services.SweeperStatus, error) {
	return f.status, nil
}

type fakeAudits struct {
	queue []*models.PaymentAudit
	limit int
}

func (f *fakeAudits) History(context.Context, uuid.UUID) ([]*models.PaymentAudit, error) {
	return f.queue, nil
}

func (f *fakeAudits) ReconciliationQueue(_ context.Context, limit int) ([]*models.PaymentAudit, error) {
	f.limit = limit
	return f.queue, nil
}
