package services

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/smarttransit/seat-booking-backend/internal/config"
	"github.com/smarttransit/seat-booking-backend/internal/models"
)

// PaymentGateway issues, looks up and cancels payable links. CreatePaymentLink
// fails with models.ErrPaymentLinkExists when the order code is already
// registered; GetPaymentLink fails with models.ErrPaymentLinkNotFound when
// it is not.
type PaymentGateway interface {
	CreatePaymentLink(ctx context.Context, req *PaymentLinkRequest) (*models.PaymentLink, error)
	GetPaymentLink(ctx context.Context, orderCode int64) (*models.PaymentLink, error)
	CancelPaymentLink(ctx context.Context, orderCode int64, reason string) error
}

// WebhookVerifier authenticates and parses a gateway notification body
type WebhookVerifier interface {
	VerifyWebhook(body []byte) (*models.PaymentNotification, error)
}

// PaymentLinkRequest is what the issuer asks the gateway for
type PaymentLinkRequest struct {
	OrderCode   int64
	Amount      int64
	Description string
	BuyerName   string
	BuyerPhone  string
	BuyerEmail  string
	Items       []PayOSItem
	ExpiredAt   time.Time
}

// PayOSItem is one line item of a payment request
type PayOSItem struct {
	Name     string `json:"name"`
	Quantity int    `json:"quantity"`
	Price    int64  `json:"price"`
}

// payOSCreateRequest is the body of POST /v2/payment-requests
type payOSCreateRequest struct {
	OrderCode   int64       `json:"orderCode"`
	Amount      int64       `json:"amount"`
	Description string      `json:"description"`
	BuyerName   string      `json:"buyerName,omitempty"`
	BuyerPhone  string      `json:"buyerPhone,omitempty"`
	BuyerEmail  string      `json:"buyerEmail,omitempty"`
	Items       []PayOSItem `json:"items,omitempty"`
	CancelURL   string      `json:"cancelUrl"`
	ReturnURL   string      `json:"returnUrl"`
	ExpiredAt   int64       `json:"expiredAt,omitempty"`
	Signature   string      `json:"signature"`
}

// payOSEnvelope wraps every payOS API response and webhook
type payOSEnvelope struct {
	Code      string          `json:"code"`
	Desc      string          `json:"desc"`
	Success   *bool           `json:"success,omitempty"`
	Data      json.RawMessage `json:"data"`
	Signature string          `json:"signature"`
}

// payOSLinkData is the data object of a create-link response
type payOSLinkData struct {
	Bin           string `json:"bin"`
	AccountNumber string `json:"accountNumber"`
	AccountName   string `json:"accountName"`
	Amount        int64  `json:"amount"`
	Description   string `json:"description"`
	OrderCode     int64  `json:"orderCode"`
	Currency      string `json:"currency"`
	PaymentLinkID string `json:"paymentLinkId"`
	Status        string `json:"status"`
	CheckoutURL   string `json:"checkoutUrl"`
	QRCode        string `json:"qrCode"`
	ExpiredAt     *int64 `json:"expiredAt"`
}

// payOSLinkInfo is the data object of GET /v2/payment-requests/{orderCode}
type payOSLinkInfo struct {
	ID              string `json:"id"`
	OrderCode       int64  `json:"orderCode"`
	Amount          int64  `json:"amount"`
	AmountPaid      int64  `json:"amountPaid"`
	AmountRemaining int64  `json:"amountRemaining"`
	Status          string `json:"status"`
	CreatedAt       string `json:"createdAt"`
}

// payOS response codes with a domain meaning
const (
	payOSCodeOK          = "00"
	payOSCodeNotFound    = "101"
	payOSCodeOrderExists = "231"
)

// payOSCheckoutBaseURL hosts the checkout page of every link, keyed by link id
const payOSCheckoutBaseURL = "https://pay.payos.vn/web/"

// payOSWebhookData is the data object of a payment notification
type payOSWebhookData struct {
	OrderCode           int64  `json:"orderCode"`
	Amount              int64  `json:"amount"`
	Description         string `json:"description"`
	AccountNumber       string `json:"accountNumber"`
	Reference           string `json:"reference"`
	TransactionDateTime string `json:"transactionDateTime"`
	Currency            string `json:"currency"`
	PaymentLinkID       string `json:"paymentLinkId"`
	Code                string `json:"code"`
	Desc                string `json:"desc"`
}

// PayOSService handles payment gateway integration with payOS
type PayOSService struct {
	config *config.PaymentConfig
	logger *logrus.Logger
	client *http.Client
}

// NewPayOSService creates a new payOS payment service
func NewPayOSService(cfg *config.PaymentConfig, logger *logrus.Logger) *PayOSService {
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &PayOSService{
		config: cfg,
		logger: logger,
		client: &http.Client{Timeout: timeout},
	}
}

// IsConfigured returns true if payment gateway credentials are present
func (s *PayOSService) IsConfigured() bool {
	return s.config.ClientID != "" && s.config.APIKey != "" && s.config.ChecksumKey != ""
}

// SignPaymentRequest computes the create-link signature:
// HMAC-SHA256("amount=..&cancelUrl=..&description=..&orderCode=..&returnUrl=..")
func (s *PayOSService) SignPaymentRequest(amount int64, cancelURL, description string, orderCode int64, returnURL string) string {
	data := fmt.Sprintf("amount=%d&cancelUrl=%s&description=%s&orderCode=%d&returnUrl=%s",
		amount, cancelURL, description, orderCode, returnURL)
	return s.hmacHex(data)
}

// SignData computes the signature payOS puts on response and webhook data:
// keys sorted, "key=value" joined by "&", nulls rendered as empty strings.
func (s *PayOSService) SignData(data map[string]interface{}) string {
	keys := make([]string, 0, len(data))
	for k := range data {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	parts := make([]string, 0, len(keys))
	for _, k := range keys {
		parts = append(parts, k+"="+stringifySignedValue(data[k]))
	}
	return s.hmacHex(strings.Join(parts, "&"))
}

func (s *PayOSService) hmacHex(data string) string {
	mac := hmac.New(sha256.New, []byte(s.config.ChecksumKey))
	mac.Write([]byte(data))
	return hex.EncodeToString(mac.Sum(nil))
}

func stringifySignedValue(v interface{}) string {
	switch t := v.(type) {
	case nil:
		return ""
	case string:
		if t == "null" || t == "undefined" {
			return ""
		}
		return t
	case json.Number:
		return t.String()
	case bool:
		return strconv.FormatBool(t)
	default:
		// Nested objects and arrays are signed as their JSON text
		b, err := json.Marshal(t)
		if err != nil {
			return ""
		}
		return string(b)
	}
}

// CreatePaymentLink asks payOS for a payable link for the order code
func (s *PayOSService) CreatePaymentLink(ctx context.Context, req *PaymentLinkRequest) (*models.PaymentLink, error) {
	if !s.IsConfigured() {
		return nil, fmt.Errorf("%w: missing payOS credentials", models.ErrGatewayUnavailable)
	}

	body := payOSCreateRequest{
		OrderCode:   req.OrderCode,
		Amount:      req.Amount,
		Description: req.Description,
		BuyerName:   req.BuyerName,
		BuyerPhone:  req.BuyerPhone,
		BuyerEmail:  req.BuyerEmail,
		Items:       req.Items,
		CancelURL:   s.config.CancelURL,
		ReturnURL:   s.config.ReturnURL,
		Signature:   s.SignPaymentRequest(req.Amount, s.config.CancelURL, req.Description, req.OrderCode, s.config.ReturnURL),
	}
	if !req.ExpiredAt.IsZero() {
		body.ExpiredAt = req.ExpiredAt.Unix()
	}

	s.logger.WithFields(logrus.Fields{
		"order_code": req.OrderCode,
		"amount":     req.Amount,
	}).Info("Creating payOS payment link")

	envelope, err := s.call(ctx, http.MethodPost, "/v2/payment-requests", body)
	if err != nil {
		return nil, err
	}

	var data payOSLinkData
	if err := json.Unmarshal(envelope.Data, &data); err != nil {
		return nil, fmt.Errorf("failed to parse payment link: %w", err)
	}
	if data.CheckoutURL == "" {
		return nil, fmt.Errorf("payment link creation failed: no checkout URL returned")
	}

	s.logger.WithFields(logrus.Fields{
		"order_code":      data.OrderCode,
		"payment_link_id": data.PaymentLinkID,
	}).Info("payOS payment link created")

	currency := data.Currency
	if currency == "" {
		currency = s.config.Currency
	}

	return &models.PaymentLink{
		PaymentLinkID: data.PaymentLinkID,
		OrderCode:     data.OrderCode,
		Amount:        data.Amount,
		Description:   data.Description,
		AccountNumber: data.AccountNumber,
		AccountName:   data.AccountName,
		Bin:           data.Bin,
		Currency:      currency,
		QRCode:        data.QRCode,
		CheckoutURL:   data.CheckoutURL,
		Status:        data.Status,
		ExpiredAt:     data.ExpiredAt,
	}, nil
}

// CancelPaymentLink cancels an unpaid link so it can no longer be paid
func (s *PayOSService) CancelPaymentLink(ctx context.Context, orderCode int64, reason string) error {
	if !s.IsConfigured() {
		return fmt.Errorf("%w: missing payOS credentials", models.ErrGatewayUnavailable)
	}

	path := fmt.Sprintf("/v2/payment-requests/%d/cancel", orderCode)
	_, err := s.call(ctx, http.MethodPost, path, map[string]string{"cancellationReason": reason})
	if err != nil {
		return err
	}

	s.logger.WithField("order_code", orderCode).Info("payOS payment link cancelled")
	return nil
}

// GetPaymentLink looks up the link registered under orderCode. The lookup
// response carries no QR payload, so the returned link has only the id,
// amount, status and checkout URL.
func (s *PayOSService) GetPaymentLink(ctx context.Context, orderCode int64) (*models.PaymentLink, error) {
	if !s.IsConfigured() {
		return nil, fmt.Errorf("%w: missing payOS credentials", models.ErrGatewayUnavailable)
	}

	envelope, err := s.call(ctx, http.MethodGet, fmt.Sprintf("/v2/payment-requests/%d", orderCode), nil)
	if err != nil {
		return nil, err
	}

	var data payOSLinkInfo
	if err := json.Unmarshal(envelope.Data, &data); err != nil {
		return nil, fmt.Errorf("failed to parse payment link info: %w", err)
	}
	if data.ID == "" {
		return nil, fmt.Errorf("%w: %d", models.ErrPaymentLinkNotFound, orderCode)
	}

	s.logger.WithFields(logrus.Fields{
		"order_code":      data.OrderCode,
		"payment_link_id": data.ID,
		"status":          data.Status,
	}).Info("payOS payment link fetched")

	return &models.PaymentLink{
		PaymentLinkID: data.ID,
		OrderCode:     data.OrderCode,
		Amount:        data.Amount,
		Currency:      s.config.Currency,
		CheckoutURL:   payOSCheckoutBaseURL + data.ID,
		Status:        data.Status,
	}, nil
}

func (s *PayOSService) call(ctx context.Context, method, path string, payload interface{}) (*payOSEnvelope, error) {
	var reqBody io.Reader
	if payload != nil {
		jsonBody, err := json.Marshal(payload)
		if err != nil {
			return nil, fmt.Errorf("failed to marshal request: %w", err)
		}
		reqBody = bytes.NewReader(jsonBody)
	}

	endpoint := strings.TrimRight(s.config.BaseURL, "/") + path
	httpReq, err := http.NewRequestWithContext(ctx, method, endpoint, reqBody)
	if err != nil {
		return nil, fmt.Errorf("failed to build request: %w", err)
	}
	if payload != nil {
		httpReq.Header.Set("Content-Type", "application/json")
	}
	httpReq.Header.Set("x-client-id", s.config.ClientID)
	httpReq.Header.Set("x-api-key", s.config.APIKey)

	resp, err := s.client.Do(httpReq)
	if err != nil {
		s.logger.WithError(err).WithField("endpoint", endpoint).Error("Failed to call payOS endpoint")
		return nil, fmt.Errorf("%w: %v", models.ErrGatewayUnavailable, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read response: %w", err)
	}

	s.logger.WithFields(logrus.Fields{
		"endpoint":    endpoint,
		"status_code": resp.StatusCode,
	}).Debug("payOS response received")

	if resp.StatusCode >= http.StatusInternalServerError {
		return nil, fmt.Errorf("%w: status %d", models.ErrGatewayUnavailable, resp.StatusCode)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("payment gateway returned status %d: %s", resp.StatusCode, string(body))
	}

	var envelope payOSEnvelope
	if err := json.Unmarshal(body, &envelope); err != nil {
		return nil, fmt.Errorf("failed to parse response: %w", err)
	}
	switch envelope.Code {
	case payOSCodeOK:
	case payOSCodeOrderExists:
		return nil, fmt.Errorf("%w: code=%s desc=%s", models.ErrPaymentLinkExists, envelope.Code, envelope.Desc)
	case payOSCodeNotFound:
		return nil, fmt.Errorf("%w: code=%s desc=%s", models.ErrPaymentLinkNotFound, envelope.Code, envelope.Desc)
	default:
		return nil, fmt.Errorf("payment gateway rejected request: code=%s desc=%s", envelope.Code, envelope.Desc)
	}
	return &envelope, nil
}

// VerifyWebhook authenticates a payOS notification and returns it in
// gateway-neutral form. Any body that cannot be authenticated, including
// malformed JSON, yields models.ErrSignatureInvalid.
func (s *PayOSService) VerifyWebhook(body []byte) (*models.PaymentNotification, error) {
	if s.config.ChecksumKey == "" {
		return nil, fmt.Errorf("%w: checksum key not configured", models.ErrSignatureInvalid)
	}

	var envelope payOSEnvelope
	if err := json.Unmarshal(body, &envelope); err != nil {
		return nil, fmt.Errorf("%w: malformed payload", models.ErrSignatureInvalid)
	}
	if len(envelope.Data) == 0 || envelope.Signature == "" {
		return nil, fmt.Errorf("%w: missing data or signature", models.ErrSignatureInvalid)
	}

	// Keep numbers as their original text so the signature is recomputed
	// over exactly what was sent
	var raw map[string]interface{}
	decoder := json.NewDecoder(bytes.NewReader(envelope.Data))
	decoder.UseNumber()
	if err := decoder.Decode(&raw); err != nil {
		return nil, fmt.Errorf("%w: malformed data", models.ErrSignatureInvalid)
	}

	expected := s.SignData(raw)
	if !hmac.Equal([]byte(expected), []byte(strings.ToLower(envelope.Signature))) {
		return nil, models.ErrSignatureInvalid
	}

	var data payOSWebhookData
	if err := json.Unmarshal(envelope.Data, &data); err != nil {
		return nil, fmt.Errorf("%w: malformed data", models.ErrSignatureInvalid)
	}

	success := envelope.Code == payOSCodeOK && data.Code == payOSCodeOK
	if envelope.Success != nil {
		success = success && *envelope.Success
	}

	return &models.PaymentNotification{
		OrderCode:     data.OrderCode,
		Amount:        data.Amount,
		Success:       success,
		Code:          data.Code,
		Description:   data.Desc,
		Reference:     data.Reference,
		PaymentLinkID: data.PaymentLinkID,
		Currency:      data.Currency,
		TransactionAt: data.TransactionDateTime,
	}, nil
}
