// Package vendorapi is the HTTP client for the vendor's order history API.
package vendorapi

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

const (
	defaultPageSize = 50
	maxPages        = 200
	// receipts larger than this are refused rather than buffered
	maxReceiptBytes = 25 << 20
)

var ErrNotConfigured = errors.New("vendor api credentials not configured")

// APIError is a non-2xx answer from the vendor. Body holds the raw response
// so it can be recorded on the sync run.
type APIError struct {
	StatusCode int
	Body       string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("vendor api returned status %d: %s", e.StatusCode, e.Body)
}

type Pricing struct {
	Subtotal decimal.Decimal `json:"subtotal"`
	Taxes    decimal.Decimal `json:"taxes"`
	Total    decimal.Decimal `json:"total"`
}

type LineItem struct {
	Label    string  `json:"label"`
	Quantity int     `json:"quantity"`
	Pricing  Pricing `json:"pricing"`
}

// Order is one vendor order. Money fields are in the vendor's base unit.
type Order struct {
	ID        string          `json:"orderId"`
	CreatedAt time.Time       `json:"createdAt"`
	Currency  string          `json:"currency"`
	Items     []LineItem      `json:"items"`
	Pricing   Pricing         `json:"pricing"`
	Raw       json.RawMessage `json:"-"`

	// DecodeErr is set when the order could not be decoded. Only ID and Raw
	// are filled in then.
	DecodeErr error `json:"-"`
}

// Document is a downloaded receipt file.
type Document struct {
	Data        []byte
	ContentType string
	FileName    string
}

type Config struct {
	BaseURL   string
	APIKey    string
	APISecret string
	ShopperID string
	PageSize  int
	Timeout   time.Duration
}

type Client struct {
	baseURL    string
	apiKey     string
	apiSecret  string
	shopperID  string
	pageSize   int
	httpClient *http.Client
	logger     *slog.Logger
}

func NewClient(config Config, logger *slog.Logger) *Client {
	pageSize := config.PageSize
	if pageSize <= 0 {
		pageSize = defaultPageSize
	}
	timeout := config.Timeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &Client{
		baseURL:    strings.TrimRight(config.BaseURL, "/"),
		apiKey:     config.APIKey,
		apiSecret:  config.APISecret,
		shopperID:  config.ShopperID,
		pageSize:   pageSize,
		httpClient: &http.Client{Timeout: timeout},
		logger:     logger,
	}
}

func (c *Client) Configured() bool {
	return c.apiKey != "" && c.apiSecret != ""
}

type ordersPage struct {
	Orders     []json.RawMessage `json:"orders"`
	Pagination struct {
		Total int `json:"total"`
	} `json:"pagination"`
}

// ListOrders pages through every order created at or after since.
func (c *Client) ListOrders(ctx context.Context, since time.Time) ([]Order, error) {
	if !c.Configured() {
		return nil, ErrNotConfigured
	}

	var orders []Order
	offset := 0
	for page := 0; page < maxPages; page++ {
		q := url.Values{}
		q.Set("periodStart", since.UTC().Format(time.RFC3339))
		q.Set("offset", strconv.Itoa(offset))
		q.Set("limit", strconv.Itoa(c.pageSize))

		var body ordersPage
		if err := c.getJSON(ctx, "/v1/orders?"+q.Encode(), &body); err != nil {
			return nil, err
		}

		for _, raw := range body.Orders {
			orders = append(orders, decodeOrder(raw, c.logger))
		}

		offset += len(body.Orders)
		if len(body.Orders) < c.pageSize || (body.Pagination.Total > 0 && offset >= body.Pagination.Total) {
			break
		}
	}

	c.logger.Info("vendor orders fetched", "count", len(orders), "since", since.Format(time.DateOnly))
	return orders, nil
}

// decodeOrder keeps a malformed order in the batch with DecodeErr set.
func decodeOrder(raw json.RawMessage, logger *slog.Logger) Order {
	var o Order
	if err := json.Unmarshal(raw, &o); err != nil {
		var ident struct {
			ID string `json:"orderId"`
		}
		_ = json.Unmarshal(raw, &ident)
		logger.Warn("failed to decode vendor order", "order_id", ident.ID, "error", err)
		return Order{ID: ident.ID, Raw: raw, DecodeErr: fmt.Errorf("failed to decode vendor order: %w", err)}
	}
	o.Raw = raw
	return o
}

// GetOrderReceipt downloads the receipt document for an order.
func (c *Client) GetOrderReceipt(ctx context.Context, orderID string) (*Document, error) {
	if !c.Configured() {
		return nil, ErrNotConfigured
	}

	req, err := c.newRequest(ctx, "/v1/orders/"+url.PathEscape(orderID)+"/receipt")
	if err != nil {
		return nil, err
	}
	req.Header.Set("Accept", "application/pdf, image/*")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("receipt request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, readAPIError(resp)
	}

	data, err := io.ReadAll(io.LimitReader(resp.Body, maxReceiptBytes+1))
	if err != nil {
		return nil, fmt.Errorf("failed to read receipt: %w", err)
	}
	if len(data) > maxReceiptBytes {
		return nil, fmt.Errorf("receipt for order %s exceeds %d bytes", orderID, maxReceiptBytes)
	}

	contentType := resp.Header.Get("Content-Type")
	if contentType == "" {
		contentType = http.DetectContentType(data)
	}

	return &Document{
		Data:        data,
		ContentType: contentType,
		FileName:    receiptFileName(orderID, contentType),
	}, nil
}

func (c *Client) newRequest(ctx context.Context, path string) (*http.Request, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+path, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Authorization", fmt.Sprintf("sso-key %s:%s", c.apiKey, c.apiSecret))
	if c.shopperID != "" {
		req.Header.Set("X-Shopper-Id", c.shopperID)
	}
	return req, nil
}

func (c *Client) getJSON(ctx context.Context, path string, out interface{}) error {
	req, err := c.newRequest(ctx, path)
	if err != nil {
		return err
	}
	req.Header.Set("Accept", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("vendor request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return readAPIError(resp)
	}

	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("failed to decode vendor response: %w", err)
	}
	return nil
}

func readAPIError(resp *http.Response) error {
	body, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
	return &APIError{StatusCode: resp.StatusCode, Body: strings.TrimSpace(string(body))}
}

func receiptFileName(orderID, contentType string) string {
	ext := ".bin"
	switch {
	case strings.HasPrefix(contentType, "application/pdf"):
		ext = ".pdf"
	case strings.HasPrefix(contentType, "image/png"):
		ext = ".png"
	case strings.HasPrefix(contentType, "image/jpeg"):
		ext = ".jpg"
	case strings.HasPrefix(contentType, "image/webp"):
		ext = ".webp"
	}
	return "order-" + orderID + ext
}
