package mercadopago

import (
	"context"
	"errors"
	"strconv"
	"strings"

	mpconfig "github.com/mercadopago/sdk-go/pkg/config"
	"github.com/mercadopago/sdk-go/pkg/payment"
	"github.com/mercadopago/sdk-go/pkg/preference"
	"github.com/shopspring/decimal"

	"github.com/gustavoferreira/dropmart-backend/pkg/config"
	pkgerrors "github.com/gustavoferreira/dropmart-backend/pkg/errors"
	"github.com/gustavoferreira/dropmart-backend/pkg/logger"
)

var (
	errAccessTokenRequired = errors.New("mercado pago access token is required")
	errLoggerRequired      = errors.New("mercado pago logger is required")
)

// PreferenceItem is one snapshot line carried into the hosted checkout.
type PreferenceItem struct {
	Title     string
	Quantity  int
	UnitPrice decimal.Decimal
}

// PreferenceInput describes the charge request built from an order.
type PreferenceInput struct {
	OrderID    string
	PayerEmail string
	Items      []PreferenceItem
}

// Preference is the created provider preference.
type Preference struct {
	ID        string
	InitPoint string
}

// Payment is the authoritative provider view of a payment.
type Payment struct {
	ID                string
	Status            string
	ExternalReference string
	Amount            decimal.Decimal
	Fee               decimal.Decimal
	Net               decimal.Decimal
	Method            string
}

// Client wraps the Mercado Pago SDK with centralized logging and error mapping.
type Client struct {
	prefs         preference.Client
	payments      payment.Client
	webhookSecret string
	successURL    string
	failureURL    string
	webhookURL    string
	logger        *logger.Logger
}

// NewClient initializes the Mercado Pago wrapper and validates the credentials.
func NewClient(ctx context.Context, cfg config.MercadoPagoConfig, logg *logger.Logger) (*Client, error) {
	if logg == nil {
		return nil, errLoggerRequired
	}
	accessToken := strings.TrimSpace(cfg.AccessToken)
	if accessToken == "" {
		return nil, errAccessTokenRequired
	}

	sdkCfg, err := mpconfig.New(accessToken)
	if err != nil {
		return nil, err
	}

	c := &Client{
		prefs:         preference.NewClient(sdkCfg),
		payments:      payment.NewClient(sdkCfg),
		webhookSecret: strings.TrimSpace(cfg.WebhookSecret),
		successURL:    cfg.SuccessURL,
		failureURL:    cfg.FailureURL,
		webhookURL:    cfg.WebhookURL,
		logger:        logg,
	}

	logg.Info(ctx, "mercado pago client initialized")
	return c, nil
}

// SigningSecret returns the webhook signature secret.
func (c *Client) SigningSecret() string {
	if c == nil {
		return ""
	}
	return c.webhookSecret
}

// CreatePreference creates the hosted checkout preference for an order. The
// order id travels in ExternalReference so the webhook can find its way back.
func (c *Client) CreatePreference(ctx context.Context, input PreferenceInput) (*Preference, error) {
	if len(input.Items) == 0 {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "preference requires at least one item")
	}

	items := make([]preference.ItemRequest, 0, len(input.Items))
	for _, item := range input.Items {
		items = append(items, preference.ItemRequest{
			Title:     item.Title,
			Quantity:  item.Quantity,
			UnitPrice: item.UnitPrice.InexactFloat64(),
		})
	}

	req := preference.Request{
		Items:             items,
		ExternalReference: input.OrderID,
		NotificationURL:   c.webhookURL,
		BackURLs: &preference.BackURLsRequest{
			Success: c.successURL,
			Failure: c.failureURL,
		},
	}
	if input.PayerEmail != "" {
		req.Payer = &preference.PayerRequest{Email: input.PayerEmail}
	}

	c.log(ctx, "request", "create_preference", map[string]any{
		"order_id": input.OrderID,
		"items":    len(items),
	})

	resp, err := c.prefs.Create(ctx, req)
	if err != nil {
		c.log(ctx, "error", "create_preference", map[string]any{"error": err.Error()})
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "create payment preference")
	}

	c.log(ctx, "response", "create_preference", map[string]any{"preference_id": resp.ID})
	return &Preference{ID: resp.ID, InitPoint: resp.InitPoint}, nil
}

// GetPayment fetches the authoritative payment by provider id. Webhook
// payloads only carry the pointer; business fields come from here.
func (c *Client) GetPayment(ctx context.Context, providerPaymentID string) (*Payment, error) {
	id, err := strconv.Atoi(strings.TrimSpace(providerPaymentID))
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeValidation, err, "invalid provider payment id")
	}

	c.log(ctx, "request", "get_payment", map[string]any{"payment_id": id})

	resp, err := c.payments.Get(ctx, id)
	if err != nil {
		c.log(ctx, "error", "get_payment", map[string]any{"error": err.Error()})
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "fetch payment")
	}

	return paymentFromResponse(resp), nil
}

func paymentFromResponse(resp *payment.Response) *Payment {
	amount := decimal.NewFromFloat(resp.TransactionAmount)

	var fee decimal.Decimal
	for _, detail := range resp.FeeDetails {
		fee = fee.Add(decimal.NewFromFloat(detail.Amount))
	}

	net := decimal.NewFromFloat(resp.TransactionDetails.NetReceivedAmount)
	if net.IsZero() {
		net = amount.Sub(fee)
	}

	return &Payment{
		ID:                strconv.Itoa(resp.ID),
		Status:            resp.Status,
		ExternalReference: resp.ExternalReference,
		Amount:            amount,
		Fee:               fee,
		Net:               net,
		Method:            resp.PaymentMethodID,
	}
}

func (c *Client) log(ctx context.Context, phase, operation string, fields map[string]any) {
	if c.logger == nil {
		return
	}
	merged := map[string]any{"provider": "mercadopago", "operation": operation, "phase": phase}
	for k, v := range fields {
		merged[k] = v
	}
	c.logger.Info(c.logger.WithFields(ctx, merged), "mercadopago "+operation)
}
