package shiprocket

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/shopspring/decimal"

	"github.com/mehtakaran/shopline-backend/pkg/config"
	pkgerrors "github.com/mehtakaran/shopline-backend/pkg/errors"
	"github.com/mehtakaran/shopline-backend/pkg/logger"
)

const (
	defaultBaseURL              = "https://apiv2.shiprocket.in/v1/external"
	defaultTokenTTL             = 216 * time.Hour
	responseBodyReadLimit int64 = 2048
)

var (
	errEmailRequired    = errors.New("shiprocket email is required")
	errPasswordRequired = errors.New("shiprocket password is required")
)

// Client wraps the Shiprocket REST API. Authentication uses a bearer token
// obtained lazily from the login endpoint and cached until it expires.
type Client struct {
	httpClient     *http.Client
	baseURL        string
	email          string
	password       string
	pickupLocation string
	pickupPincode  string
	tokenTTL       time.Duration
	logger         *logger.Logger

	mu          sync.Mutex
	token       string
	tokenExpiry time.Time
}

// Option configures optional client behavior.
type Option func(*Client)

// WithHTTPClient overrides the default HTTP client.
func WithHTTPClient(client *http.Client) Option {
	return func(c *Client) {
		if client != nil {
			c.httpClient = client
		}
	}
}

// WithBaseURL overrides the configured API base URL.
func WithBaseURL(baseURL string) Option {
	return func(c *Client) {
		trimmed := strings.TrimSpace(baseURL)
		if trimmed != "" {
			c.baseURL = trimmed
		}
	}
}

// NewClient validates credentials and builds the Shiprocket wrapper. No network
// call happens here; the token is fetched on first use.
func NewClient(cfg config.ShiprocketConfig, logg *logger.Logger, opts ...Option) (*Client, error) {
	email := strings.TrimSpace(cfg.Email)
	if email == "" {
		return nil, errEmailRequired
	}
	password := strings.TrimSpace(cfg.Password)
	if password == "" {
		return nil, errPasswordRequired
	}

	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 20 * time.Second
	}
	ttl := cfg.TokenTTL
	if ttl <= 0 {
		ttl = defaultTokenTTL
	}

	client := &Client{
		httpClient:     &http.Client{Timeout: timeout},
		baseURL:        defaultBaseURL,
		email:          email,
		password:       password,
		pickupLocation: strings.TrimSpace(cfg.PickupLocation),
		pickupPincode:  strings.TrimSpace(cfg.PickupPincode),
		tokenTTL:       ttl,
		logger:         logg,
	}
	if trimmed := strings.TrimSpace(cfg.BaseURL); trimmed != "" {
		client.baseURL = trimmed
	}

	for _, opt := range opts {
		if opt != nil {
			opt(client)
		}
	}

	return client, nil
}

// PickupLocation returns the configured warehouse pickup location name.
func (c *Client) PickupLocation() string {
	if c == nil {
		return ""
	}
	return c.pickupLocation
}

// PickupPincode returns the origin pincode used for serviceability checks.
func (c *Client) PickupPincode() string {
	if c == nil {
		return ""
	}
	return c.pickupPincode
}

func (c *Client) bearerToken(ctx context.Context) (string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.token != "" && time.Now().Before(c.tokenExpiry) {
		return c.token, nil
	}

	body := map[string]string{"email": c.email, "password": c.password}
	var resp struct {
		Token string `json:"token"`
	}
	if err := c.doRaw(ctx, http.MethodPost, "/auth/login", "", body, &resp); err != nil {
		return "", err
	}
	if strings.TrimSpace(resp.Token) == "" {
		return "", pkgerrors.New(pkgerrors.CodeDependency, "shiprocket login returned empty token")
	}

	c.token = resp.Token
	c.tokenExpiry = time.Now().Add(c.tokenTTL)
	c.log(ctx, "token refreshed", map[string]any{"expires_at": c.tokenExpiry})
	return c.token, nil
}

// OrderItem is one purchased line forwarded to the carrier.
type OrderItem struct {
	Name         string `json:"name"`
	SKU          string `json:"sku"`
	Units        int    `json:"units"`
	SellingPrice string `json:"selling_price"`
}

// OrderCreateParams describes an adhoc carrier order.
type OrderCreateParams struct {
	OrderNumber    string
	OrderDate      time.Time
	BillingName    string
	BillingPhone   string
	BillingAddress string
	BillingCity    string
	BillingState   string
	BillingPincode string
	BillingCountry string
	Items          []OrderItem
	PaymentMethod  string
	SubTotalRupees decimal.Decimal
	WeightKg       decimal.Decimal
	LengthCm       int
	BreadthCm      int
	HeightCm       int
}

// OrderCreateResult carries the carrier identifiers assigned to a new order.
type OrderCreateResult struct {
	OrderID    int64  `json:"order_id"`
	ShipmentID int64  `json:"shipment_id"`
	Status     string `json:"status"`
}

// CreateOrder registers the order with the carrier. No AWB is assigned yet.
func (c *Client) CreateOrder(ctx context.Context, params OrderCreateParams) (*OrderCreateResult, error) {
	if c == nil {
		return nil, pkgerrors.New(pkgerrors.CodeDependency, "shiprocket client not configured")
	}
	if params.OrderNumber == "" {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "order number is required")
	}
	if len(params.Items) == 0 {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "at least one item is required")
	}

	orderDate := params.OrderDate
	if orderDate.IsZero() {
		orderDate = time.Now()
	}

	body := map[string]any{
		"order_id":              params.OrderNumber,
		"order_date":            orderDate.Format("2006-01-02 15:04"),
		"pickup_location":       c.pickupLocation,
		"billing_customer_name": params.BillingName,
		"billing_last_name":     "",
		"billing_address":       params.BillingAddress,
		"billing_city":          params.BillingCity,
		"billing_pincode":       params.BillingPincode,
		"billing_state":         params.BillingState,
		"billing_country":       params.BillingCountry,
		"billing_phone":         params.BillingPhone,
		"shipping_is_billing":   true,
		"order_items":           params.Items,
		"payment_method":        params.PaymentMethod,
		"sub_total":             params.SubTotalRupees.StringFixed(2),
		"length":                params.LengthCm,
		"breadth":               params.BreadthCm,
		"height":                params.HeightCm,
		"weight":                params.WeightKg.StringFixed(2),
	}

	var result OrderCreateResult
	if err := c.do(ctx, http.MethodPost, "/orders/create/adhoc", body, &result); err != nil {
		return nil, err
	}
	c.log(ctx, "order created", map[string]any{
		"order_number":        params.OrderNumber,
		"carrier_order_id":    result.OrderID,
		"carrier_shipment_id": result.ShipmentID,
	})
	return &result, nil
}

// Courier is one serviceable courier option with its quoted rate.
type Courier struct {
	ID         int             `json:"courier_company_id"`
	Name       string          `json:"courier_name"`
	Rate       decimal.Decimal `json:"rate"`
	ETADays    string          `json:"etd"`
	CODEnabled int             `json:"cod"`
}

// GetAvailableCouriers lists couriers serving the destination pincode for the
// given chargeable weight, cheapest first.
func (c *Client) GetAvailableCouriers(ctx context.Context, deliveryPincode string, weightKg decimal.Decimal, cod bool) ([]Courier, error) {
	if c == nil {
		return nil, pkgerrors.New(pkgerrors.CodeDependency, "shiprocket client not configured")
	}
	pincode := strings.TrimSpace(deliveryPincode)
	if pincode == "" {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "delivery pincode is required")
	}

	codFlag := 0
	if cod {
		codFlag = 1
	}
	path := fmt.Sprintf("/courier/serviceability/?pickup_postcode=%s&delivery_postcode=%s&weight=%s&cod=%d",
		c.pickupPincode, pincode, weightKg.StringFixed(2), codFlag)

	var resp struct {
		Data struct {
			AvailableCouriers []Courier `json:"available_courier_companies"`
		} `json:"data"`
	}
	if err := c.do(ctx, http.MethodGet, path, nil, &resp); err != nil {
		return nil, err
	}

	couriers := resp.Data.AvailableCouriers
	for i := 1; i < len(couriers); i++ {
		for j := i; j > 0 && couriers[j].Rate.LessThan(couriers[j-1].Rate); j-- {
			couriers[j], couriers[j-1] = couriers[j-1], couriers[j]
		}
	}
	return couriers, nil
}

// AWBAssignment is the waybill allocated by the carrier for a shipment.
type AWBAssignment struct {
	Waybill     string
	CourierID   int
	CourierName string
}

// AssignAWB requests a waybill for the shipment, optionally pinning a courier.
func (c *Client) AssignAWB(ctx context.Context, shipmentID int64, courierID int) (*AWBAssignment, error) {
	if c == nil {
		return nil, pkgerrors.New(pkgerrors.CodeDependency, "shiprocket client not configured")
	}
	if shipmentID <= 0 {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "shipment id is required")
	}

	body := map[string]any{"shipment_id": shipmentID}
	if courierID > 0 {
		body["courier_id"] = courierID
	}

	var resp struct {
		AWBAssignStatus int `json:"awb_assign_status"`
		Response        struct {
			Data struct {
				AWBCode     string `json:"awb_code"`
				CourierID   int    `json:"courier_company_id"`
				CourierName string `json:"courier_name"`
			} `json:"data"`
		} `json:"response"`
	}
	if err := c.do(ctx, http.MethodPost, "/courier/assign/awb", body, &resp); err != nil {
		return nil, err
	}
	if resp.AWBAssignStatus != 1 || resp.Response.Data.AWBCode == "" {
		return nil, pkgerrors.New(pkgerrors.CodeDependency, "shiprocket did not assign a waybill")
	}

	assignment := &AWBAssignment{
		Waybill:     resp.Response.Data.AWBCode,
		CourierID:   resp.Response.Data.CourierID,
		CourierName: resp.Response.Data.CourierName,
	}
	c.log(ctx, "awb assigned", map[string]any{
		"shipment_id": shipmentID,
		"waybill":     assignment.Waybill,
		"courier":     assignment.CourierName,
	})
	return assignment, nil
}

// SchedulePickup books a pickup for shipments that already hold a waybill.
func (c *Client) SchedulePickup(ctx context.Context, shipmentID int64) error {
	if c == nil {
		return pkgerrors.New(pkgerrors.CodeDependency, "shiprocket client not configured")
	}
	if shipmentID <= 0 {
		return pkgerrors.New(pkgerrors.CodeValidation, "shipment id is required")
	}
	body := map[string]any{"shipment_id": []int64{shipmentID}}
	if err := c.do(ctx, http.MethodPost, "/courier/generate/pickup", body, nil); err != nil {
		return err
	}
	c.log(ctx, "pickup scheduled", map[string]any{"shipment_id": shipmentID})
	return nil
}

// CancelOrders cancels carrier orders that have not been handed over yet.
func (c *Client) CancelOrders(ctx context.Context, carrierOrderIDs ...int64) error {
	if c == nil {
		return pkgerrors.New(pkgerrors.CodeDependency, "shiprocket client not configured")
	}
	if len(carrierOrderIDs) == 0 {
		return pkgerrors.New(pkgerrors.CodeValidation, "at least one carrier order id is required")
	}
	body := map[string]any{"ids": carrierOrderIDs}
	if err := c.do(ctx, http.MethodPost, "/orders/cancel", body, nil); err != nil {
		return err
	}
	c.log(ctx, "orders cancelled", map[string]any{"carrier_order_ids": carrierOrderIDs})
	return nil
}

// TrackingActivity is one scan event on a waybill.
type TrackingActivity struct {
	Date     string `json:"date"`
	Status   string `json:"status"`
	Activity string `json:"activity"`
	Location string `json:"location"`
}

// TrackingResult summarizes the current carrier status of a waybill.
type TrackingResult struct {
	CurrentStatus string
	Activities    []TrackingActivity
}

// TrackByAWB fetches the scan history for a waybill.
func (c *Client) TrackByAWB(ctx context.Context, waybill string) (*TrackingResult, error) {
	if c == nil {
		return nil, pkgerrors.New(pkgerrors.CodeDependency, "shiprocket client not configured")
	}
	trimmed := strings.TrimSpace(waybill)
	if trimmed == "" {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "waybill is required")
	}

	var resp struct {
		TrackingData struct {
			ShipmentTrack []struct {
				CurrentStatus string `json:"current_status"`
			} `json:"shipment_track"`
			ShipmentTrackActivities []TrackingActivity `json:"shipment_track_activities"`
		} `json:"tracking_data"`
	}
	if err := c.do(ctx, http.MethodGet, "/courier/track/awb/"+trimmed, nil, &resp); err != nil {
		return nil, err
	}

	result := &TrackingResult{Activities: resp.TrackingData.ShipmentTrackActivities}
	if len(resp.TrackingData.ShipmentTrack) > 0 {
		result.CurrentStatus = resp.TrackingData.ShipmentTrack[0].CurrentStatus
	}
	return result, nil
}

func (c *Client) do(ctx context.Context, method, path string, body any, out any) error {
	token, err := c.bearerToken(ctx)
	if err != nil {
		return err
	}
	err = c.doRaw(ctx, method, path, token, body, out)
	if err == nil {
		return nil
	}
	// An expired token comes back as 401; refresh once and retry.
	if domainErr := pkgerrors.As(err); domainErr != nil && domainErr.Code() == pkgerrors.CodeUnauthorized {
		c.mu.Lock()
		c.token = ""
		c.mu.Unlock()
		token, refreshErr := c.bearerToken(ctx)
		if refreshErr != nil {
			return refreshErr
		}
		return c.doRaw(ctx, method, path, token, body, out)
	}
	return err
}

func (c *Client) doRaw(ctx context.Context, method, path, token string, body any, out any) error {
	url := strings.TrimRight(c.baseURL, "/") + path

	var reader io.Reader
	if body != nil {
		payload, err := json.Marshal(body)
		if err != nil {
			return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "marshal shiprocket request")
		}
		reader = bytes.NewReader(payload)
	}

	httpReq, err := http.NewRequestWithContext(ctx, method, url, reader)
	if err != nil {
		return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "build shiprocket request")
	}
	if body != nil {
		httpReq.Header.Set("Content-Type", "application/json")
	}
	if token != "" {
		httpReq.Header.Set("Authorization", "Bearer "+token)
	}

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "execute shiprocket request")
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, responseBodyReadLimit))
		code := pkgerrors.CodeDependency
		switch resp.StatusCode {
		case http.StatusUnauthorized:
			code = pkgerrors.CodeUnauthorized
		case http.StatusBadRequest, http.StatusUnprocessableEntity:
			code = pkgerrors.CodeValidation
		case http.StatusNotFound:
			code = pkgerrors.CodeNotFound
		}
		return pkgerrors.Wrap(code, fmt.Errorf("status %d: %s", resp.StatusCode, strings.TrimSpace(string(msg))), "shiprocket request failed")
	}

	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "decode shiprocket response")
	}
	return nil
}

func (c *Client) log(ctx context.Context, msg string, fields map[string]any) {
	if c == nil || c.logger == nil {
		return
	}
	ctx = c.logger.WithFields(ctx, fields)
	c.logger.Info(ctx, "shiprocket "+msg)
}
