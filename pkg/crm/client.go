package crm

// LP-CRM CLIENT

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/spf13/cast"
	"go.uber.org/zap"
)

const defaultTimeout = 30 * time.Second

type Client struct {
	baseURL    string
	apiKey     string
	officeID   int
	httpClient *http.Client
	logger     *zap.Logger
}

// Order is the order-creation payload. OrderID must come from OrderID so the
// same user/product pair always maps to the same CRM identifier.
type Order struct {
	OrderID   string
	Country   string
	Site      string
	BuyerName string
	Phone     string
	Comment   string
	ProductID string
	Price     string
}

// OrderID builds the idempotent order identifier for a user/product pair.
func OrderID(productID string, userID int64) string {
	return fmt.Sprintf("%s-%d", productID, userID)
}

func NewClient(baseURL, apiKey string, officeID int, logger *zap.Logger) *Client {
	return &Client{
		baseURL:  strings.TrimRight(baseURL, "/"),
		apiKey:   apiKey,
		officeID: officeID,
		httpClient: &http.Client{
			Timeout: defaultTimeout,
		},
		logger: logger,
	}
}

// SendOrder creates an order in LP-CRM.
func (c *Client) SendOrder(ctx context.Context, order Order) error {
	products, err := serializeProducts(order.ProductID, order.Price)
	if err != nil {
		return fmt.Errorf("serialize products: %w", err)
	}

	form := url.Values{}
	form.Set("key", c.apiKey)
	form.Set("order_id", order.OrderID)
	form.Set("country", order.Country)
	form.Set("site", order.Site)
	// "bayer_name" is the field name LP-CRM actually expects.
	form.Set("bayer_name", order.BuyerName)
	form.Set("phone", order.Phone)
	form.Set("comment", order.Comment)
	form.Set("office", strconv.Itoa(c.officeID))
	form.Set("products", products)

	req, err := http.NewRequestWithContext(
		ctx,
		http.MethodPost,
		fmt.Sprintf("%s/api/addNewOrder.html", c.baseURL),
		strings.NewReader(form.Encode()),
	)
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("do request: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("read response: %w", err)
	}

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("unexpected status %d: %s", resp.StatusCode, body)
	}

	c.logResponse(order.OrderID, body)
	return nil
}

func (c *Client) logResponse(orderID string, body []byte) {
	var parsed map[string]any
	if err := json.Unmarshal(body, &parsed); err != nil {
		c.logger.Info("LP-CRM raw response",
			zap.String("order_id", orderID),
			zap.ByteString("body", body))
		return
	}

	status := strings.ToLower(cast.ToString(parsed["status"]))
	if status == "" {
		status = strings.ToLower(cast.ToString(parsed["success"]))
	}

	switch status {
	case "ok", "true", "1":
		c.logger.Info("LP-CRM order created",
			zap.String("order_id", orderID),
			zap.Any("response", parsed))
	default:
		c.logger.Warn("LP-CRM responded with potential error",
			zap.String("order_id", orderID),
			zap.Any("response", parsed))
	}
}

// serializeProducts renders the single-item PHP-serialized array LP-CRM takes
// in the "products" field.
func serializeProducts(productID, price string) (string, error) {
	id, err := safeInt(productID)
	if err != nil {
		return "", err
	}
	priceInt, err := safeInt(price)
	if err != nil {
		return "", err
	}

	return fmt.Sprintf(
		`a:1:{i:0;a:3:{s:10:"product_id";i:%d;s:5:"price";i:%d;s:5:"count";i:1;}}`,
		id, priceInt,
	), nil
}

func safeInt(value string) (int, error) {
	trimmed := strings.TrimSpace(value)
	if n, err := strconv.Atoi(trimmed); err == nil {
		return n, nil
	}

	digits := strings.Map(func(r rune) rune {
		if r >= '0' && r <= '9' {
			return r
		}
		return -1
	}, trimmed)
	if digits == "" {
		return 0, fmt.Errorf("cannot convert %q to integer", value)
	}
	return strconv.Atoi(digits)
}
