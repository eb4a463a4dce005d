// Package payments создаёт счета на пополнение у платёжного провайдера
// (NOWPayments-совместимый API: POST {api}/invoice, ключ в заголовке x-api-key).
// Каждый запрос ограничен таймаутом PAYMENTS_TIMEOUT.
package payments

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	log "github.com/sirupsen/logrus"

	"serotonyl.ru/invest-bot/internal/common"
	"serotonyl.ru/invest-bot/internal/models"
)

// Invoice: созданный счёт.
type Invoice struct {
	URL     string // Ссылка на оплату
	OrderID string // Наш идентификатор заказа, сохраняется в Transaction.ExternalID
}

// Invoicer создаёт счёт на пополнение.
type Invoicer interface {
	CreateDepositInvoice(ctx context.Context, u *models.User, amount decimal.Decimal) (Invoice, error)
}

// Config: настройки клиента.
type Config struct {
	APIURL     string
	APIKey     string
	Currency   string
	SuccessURL string
	Timeout    time.Duration
}

// Client: HTTP-клиент провайдера.
type Client struct {
	cfg        Config
	httpClient *http.Client
	newOrderID func() string
}

// NewClient создаёт клиента. Таймаут применяется к каждому запросу целиком.
func NewClient(cfg Config) *Client {
	return &Client{
		cfg:        cfg,
		httpClient: &http.Client{Timeout: cfg.Timeout},
		newOrderID: func() string { return uuid.NewString() },
	}
}

type invoiceRequest struct {
	PriceAmount      string `json:"price_amount"`
	PriceCurrency    string `json:"price_currency"`
	OrderID          string `json:"order_id"`
	OrderDescription string `json:"order_description"`
	SuccessURL       string `json:"success_url,omitempty"`
}

type invoiceResponse struct {
	OrderID    string `json:"order_id"`
	InvoiceURL string `json:"invoice_url"`
}

// CreateDepositInvoice запрашивает счёт на amount.
// Любой сбой (сеть, таймаут, не-2xx, пустая ссылка): common.ErrInvoiceFailed.
func (c *Client) CreateDepositInvoice(ctx context.Context, u *models.User, amount decimal.Decimal) (Invoice, error) {
	ctx, cancel := context.WithTimeout(ctx, c.cfg.Timeout)
	defer cancel()

	orderID := c.newOrderID()
	body, err := json.Marshal(invoiceRequest{
		PriceAmount:      amount.StringFixed(2),
		PriceCurrency:    c.cfg.Currency,
		OrderID:          orderID,
		OrderDescription: "Deposit for user " + strconv.FormatInt(u.TelegramID, 10),
		SuccessURL:       c.cfg.SuccessURL,
	})
	if err != nil {
		return Invoice{}, fmt.Errorf("%w: %v", common.ErrInvoiceFailed, err)
	}

	url := strings.TrimRight(c.cfg.APIURL, "/") + "/invoice"
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return Invoice{}, fmt.Errorf("%w: %v", common.ErrInvoiceFailed, err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("x-api-key", c.cfg.APIKey)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		log.WithError(err).WithField("order_id", orderID).Error("Платёжный провайдер недоступен")
		return Invoice{}, fmt.Errorf("%w: %v", common.ErrInvoiceFailed, err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return Invoice{}, fmt.Errorf("%w: %v", common.ErrInvoiceFailed, err)
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		log.WithFields(log.Fields{
			"order_id": orderID,
			"status":   resp.StatusCode,
			"body":     string(raw),
		}).Error("Провайдер отклонил создание счёта")
		return Invoice{}, fmt.Errorf("%w: HTTP %d", common.ErrInvoiceFailed, resp.StatusCode)
	}

	var out invoiceResponse
	if err := json.Unmarshal(raw, &out); err != nil {
		return Invoice{}, fmt.Errorf("%w: %v", common.ErrInvoiceFailed, err)
	}
	if out.InvoiceURL == "" {
		return Invoice{}, fmt.Errorf("%w: пустой invoice_url", common.ErrInvoiceFailed)
	}
	if out.OrderID == "" {
		out.OrderID = orderID
	}

	log.WithFields(log.Fields{
		"user_id":  u.ID,
		"order_id": out.OrderID,
		"amount":   amount.String(),
	}).Info("Счёт на оплату создан")
	return Invoice{URL: out.InvoiceURL, OrderID: out.OrderID}, nil
}

// Stub выдаёт счета без обращения к провайдеру (PAYMENTS_ENABLED=false).
// Заявка всё равно подтверждается администратором вручную.
type Stub struct {
	BaseURL string
}

// CreateDepositInvoice возвращает ссылку вида {BaseURL}/invoice/{orderID}.
func (s Stub) CreateDepositInvoice(_ context.Context, u *models.User, amount decimal.Decimal) (Invoice, error) {
	orderID := uuid.NewString()
	log.WithFields(log.Fields{
		"user_id":  u.ID,
		"order_id": orderID,
		"amount":   amount.String(),
	}).Warn("Платежи отключены, выдан тестовый счёт")
	return Invoice{
		URL:     strings.TrimRight(s.BaseURL, "/") + "/invoice/" + orderID,
		OrderID: orderID,
	}, nil
}

var (
	_ Invoicer = (*Client)(nil)
	_ Invoicer = Stub{}
)
