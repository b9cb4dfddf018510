package services

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/smarttransit/seat-booking-backend/internal/config"
	"github.com/smarttransit/seat-booking-backend/internal/models"
)

func newTestPayOS(baseURL string) *PayOSService {
	return NewPayOSService(&config.PaymentConfig{
		BaseURL:     baseURL,
		ClientID:    "client-id",
		APIKey:      "api-key",
		ChecksumKey: testChecksumKey,
		ReturnURL:   "https://booking.example.vn/return",
		CancelURL:   "https://booking.example.vn/cancel",
		Currency:    "VND",
		Timeout:     5 * time.Second,
	}, quietLogger())
}

func hmacHex(key, data string) string {
	mac := hmac.New(sha256.New, []byte(key))
	mac.Write([]byte(data))
	return hex.EncodeToString(mac.Sum(nil))
}

func TestSignPaymentRequest(t *testing.T) {
	s := newTestPayOS("http://unused")
	got := s.SignPaymentRequest(200000, "https://c", "VE 1234", 987654, "https://r")
	want := hmacHex(testChecksumKey, "amount=200000&cancelUrl=https://c&description=VE 1234&orderCode=987654&returnUrl=https://r")
	assert.Equal(t, want, got)
}

func TestSignData_SortsKeysAndBlanksNulls(t *testing.T) {
	s := newTestPayOS("http://unused")
	got := s.SignData(map[string]interface{}{
		"orderCode":   json.Number("123"),
		"amount":      json.Number("3000"),
		"description": "VQRIO123",
		"reference":   nil,
		"desc":        "null",
	})
	want := hmacHex(testChecksumKey, "amount=3000&desc=&description=VQRIO123&orderCode=123&reference=")
	assert.Equal(t, want, got)
}

func TestCreatePaymentLink(t *testing.T) {
	var received payOSCreateRequest
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/v2/payment-requests", r.URL.Path)
		assert.Equal(t, "client-id", r.Header.Get("x-client-id"))
		assert.Equal(t, "api-key", r.Header.Get("x-api-key"))

		body, _ := io.ReadAll(r.Body)
		require.NoError(t, json.Unmarshal(body, &received))

		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"code":"00","desc":"success","data":{
			"bin":"970422","accountNumber":"113366668888","accountName":"QUY VAC XIN",
			"amount":200000,"description":"VE 1234","orderCode":987654,"currency":"VND",
			"paymentLinkId":"124c33293c43417ab7879e14c8d9eb18","status":"PENDING",
			"checkoutUrl":"https://pay.payos.vn/web/124c33293c43417ab7879e14c8d9eb18",
			"qrCode":"00020101021238570010A000000727"},"signature":"x"}`))
	}))
	defer server.Close()

	s := newTestPayOS(server.URL)
	expires := time.Date(2026, 3, 14, 8, 15, 0, 0, time.UTC)
	link, err := s.CreatePaymentLink(context.Background(), &PaymentLinkRequest{
		OrderCode:   987654,
		Amount:      200000,
		Description: "VE 1234",
		BuyerName:   "Alice Nguyen",
		Items:       []PayOSItem{{Name: "Ghe A1", Quantity: 1, Price: 100000}, {Name: "Ghe A2", Quantity: 1, Price: 100000}},
		ExpiredAt:   expires,
	})
	require.NoError(t, err)

	assert.Equal(t, int64(987654), received.OrderCode)
	assert.Equal(t, expires.Unix(), received.ExpiredAt)
	assert.Equal(t, "https://booking.example.vn/return", received.ReturnURL)
	assert.Equal(t, s.SignPaymentRequest(200000, "https://booking.example.vn/cancel", "VE 1234", 987654, "https://booking.example.vn/return"), received.Signature)

	assert.Equal(t, "124c33293c43417ab7879e14c8d9eb18", link.PaymentLinkID)
	assert.Equal(t, "113366668888", link.AccountNumber)
	assert.Equal(t, int64(200000), link.Amount)
	assert.Equal(t, "VND", link.Currency)
	assert.NotEmpty(t, link.QRCode)
}

func TestCreatePaymentLink_Errors(t *testing.T) {
	t.Run("order code already registered", func(t *testing.T) {
		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.Write([]byte(`{"code":"231","desc":"Đơn thanh toán đã tồn tại","data":null}`))
		}))
		defer server.Close()

		_, err := newTestPayOS(server.URL).CreatePaymentLink(context.Background(), &PaymentLinkRequest{OrderCode: 1, Amount: 1000})
		assert.ErrorIs(t, err, models.ErrPaymentLinkExists)
		assert.Contains(t, err.Error(), "231")
	})

	t.Run("other rejection", func(t *testing.T) {
		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.Write([]byte(`{"code":"20","desc":"Thông tin truyền lên không đúng","data":null}`))
		}))
		defer server.Close()

		_, err := newTestPayOS(server.URL).CreatePaymentLink(context.Background(), &PaymentLinkRequest{OrderCode: 1, Amount: 1000})
		require.Error(t, err)
		assert.NotErrorIs(t, err, models.ErrPaymentLinkExists)
		assert.Contains(t, err.Error(), "code=20")
	})

	t.Run("server error is unavailable", func(t *testing.T) {
		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusBadGateway)
		}))
		defer server.Close()

		_, err := newTestPayOS(server.URL).CreatePaymentLink(context.Background(), &PaymentLinkRequest{OrderCode: 1, Amount: 1000})
		assert.ErrorIs(t, err, models.ErrGatewayUnavailable)
	})

	t.Run("not configured", func(t *testing.T) {
		s := NewPayOSService(&config.PaymentConfig{BaseURL: "http://unused"}, quietLogger())
		assert.False(t, s.IsConfigured())
		_, err := s.CreatePaymentLink(context.Background(), &PaymentLinkRequest{OrderCode: 1, Amount: 1000})
		assert.ErrorIs(t, err, models.ErrGatewayUnavailable)
	})
}

func TestGetPaymentLink(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodGet, r.Method)
		assert.Equal(t, "client-id", r.Header.Get("x-client-id"))
		assert.Equal(t, "api-key", r.Header.Get("x-api-key"))
		switch r.URL.Path {
		case "/v2/payment-requests/987654":
			w.Write([]byte(`{"code":"00","desc":"success","data":{"id":"124c33293c934a85be5b7f8761a27a07","orderCode":987654,"amount":200000,"amountPaid":0,"amountRemaining":200000,"status":"PENDING","createdAt":"2026-03-14T08:00:00+07:00","transactions":[]}}`))
		default:
			w.Write([]byte(`{"code":"101","desc":"Mã thanh toán không tồn tại","data":null}`))
		}
	}))
	defer server.Close()
	s := newTestPayOS(server.URL)

	link, err := s.GetPaymentLink(context.Background(), 987654)
	require.NoError(t, err)
	assert.Equal(t, "124c33293c934a85be5b7f8761a27a07", link.PaymentLinkID)
	assert.Equal(t, int64(987654), link.OrderCode)
	assert.Equal(t, int64(200000), link.Amount)
	assert.Equal(t, "PENDING", link.Status)
	assert.Equal(t, "VND", link.Currency)
	assert.Equal(t, "https://pay.payos.vn/web/124c33293c934a85be5b7f8761a27a07", link.CheckoutURL)

	_, err = s.GetPaymentLink(context.Background(), 111)
	assert.ErrorIs(t, err, models.ErrPaymentLinkNotFound)
}

func TestCancelPaymentLink(t *testing.T) {
	var reason string
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "/v2/payment-requests/987654/cancel", r.URL.Path)
		var body map[string]string
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		reason = body["cancellationReason"]
		w.Write([]byte(`{"code":"00","desc":"success","data":{"orderCode":987654,"status":"CANCELLED"}}`))
	}))
	defer server.Close()

	require.NoError(t, newTestPayOS(server.URL).CancelPaymentLink(context.Background(), 987654, "hold expired"))
	assert.Equal(t, "hold expired", reason)
}

func TestVerifyWebhook(t *testing.T) {
	s := newTestPayOS("http://unused")

	data := `{"orderCode":123,"amount":3000,"description":"VQRIO123","accountNumber":"12345678",` +
		`"reference":"TF230204212323","transactionDateTime":"2023-02-04 18:25:00","currency":"VND",` +
		`"paymentLinkId":"124c33293c43417ab7879e14c8d9eb18","code":"00","desc":"Thành công",` +
		`"counterAccountBankId":"","counterAccountBankName":"","counterAccountName":null,` +
		`"counterAccountNumber":null,"virtualAccountName":"","virtualAccountNumber":""}`
	signed := "accountNumber=12345678&amount=3000&code=00&counterAccountBankId=&counterAccountBankName=" +
		"&counterAccountName=&counterAccountNumber=&currency=VND&desc=Thành công&description=VQRIO123" +
		"&orderCode=123&paymentLinkId=124c33293c43417ab7879e14c8d9eb18&reference=TF230204212323" +
		"&transactionDateTime=2023-02-04 18:25:00&virtualAccountName=&virtualAccountNumber="
	signature := hmacHex(testChecksumKey, signed)

	body := []byte(`{"code":"00","desc":"success","success":true,"data":` + data + `,"signature":"` + signature + `"}`)

	n, err := s.VerifyWebhook(body)
	require.NoError(t, err)
	assert.Equal(t, int64(123), n.OrderCode)
	assert.Equal(t, int64(3000), n.Amount)
	assert.True(t, n.Success)
	assert.Equal(t, "TF230204212323", n.Reference)
	assert.Equal(t, "124c33293c43417ab7879e14c8d9eb18", n.PaymentLinkID)

	t.Run("tampered amount", func(t *testing.T) {
		tampered := []byte(`{"code":"00","desc":"success","success":true,"data":` +
			replaceOnce(data, `"amount":3000`, `"amount":300`) + `,"signature":"` + signature + `"}`)
		_, err := s.VerifyWebhook(tampered)
		assert.ErrorIs(t, err, models.ErrSignatureInvalid)
	})

	t.Run("malformed body", func(t *testing.T) {
		_, err := s.VerifyWebhook([]byte(`not json`))
		assert.ErrorIs(t, err, models.ErrSignatureInvalid)
	})

	t.Run("missing signature", func(t *testing.T) {
		_, err := s.VerifyWebhook([]byte(`{"code":"00","data":` + data + `}`))
		assert.ErrorIs(t, err, models.ErrSignatureInvalid)
	})

	t.Run("no checksum key", func(t *testing.T) {
		unkeyed := NewPayOSService(&config.PaymentConfig{}, quietLogger())
		_, err := unkeyed.VerifyWebhook(body)
		assert.ErrorIs(t, err, models.ErrSignatureInvalid)
	})
}

func TestVerifyWebhook_FailureCode(t *testing.T) {
	s := newTestPayOS("http://unused")
	data := map[string]interface{}{
		"orderCode": 55,
		"amount":    1000,
		"code":      "01",
		"desc":      "failed",
	}
	body, err := json.Marshal(map[string]interface{}{
		"code":      "00",
		"desc":      "success",
		"success":   true,
		"data":      data,
		"signature": s.SignData(data),
	})
	require.NoError(t, err)

	n, err := s.VerifyWebhook(body)
	require.NoError(t, err)
	assert.False(t, n.Success)
	assert.Equal(t, "01", n.Code)
}

func replaceOnce(s, old, new string) string {
	for i := 0; i+len(old) <= len(s); i++ {
		if s[i:i+len(old)] == old {
			return s[:i] + new + s[i+len(old):]
		}
	}
	return s
}
