package stripe

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/bwmarrin/snowflake"

	"github.com/luminahealthlabs/lumina/internal/config"
	"github.com/luminahealthlabs/lumina/internal/payment/domain"
)

const defaultBaseURL = "https://api.stripe.com"

// Adapter verifies, decodes, and queries Stripe without the vendor SDK. The
// webhook surface is small enough that hand-rolled signature checks and REST
// calls keep the dependency tree flat.
type Adapter struct {
	webhookSecret string
	apiKey        string
	baseURL       string
	client        *http.Client
}

func New(cfg *config.Config) (*Adapter, error) {
	secret := strings.TrimSpace(cfg.Stripe.WebhookSecret)
	if secret == "" {
		return nil, errors.New("stripe webhook secret not configured")
	}
	base := strings.TrimRight(strings.TrimSpace(cfg.Stripe.BaseURL), "/")
	if base == "" {
		base = defaultBaseURL
	}
	return &Adapter{
		webhookSecret: secret,
		apiKey:        strings.TrimSpace(cfg.Stripe.APIKey),
		baseURL:       base,
		client:        &http.Client{Timeout: 10 * time.Second},
	}, nil
}

func (a *Adapter) Provider() string { return "stripe" }

// VerifyAndParse authenticates the Stripe-Signature header and decodes the
// payload into a canonical event.
func (a *Adapter) VerifyAndParse(payload []byte, signature string) (*domain.WebhookEvent, error) {
	if err := a.verify(payload, signature); err != nil {
		return nil, err
	}
	return a.parse(payload)
}

func (a *Adapter) verify(payload []byte, sigHeader string) error {
	sigHeader = strings.TrimSpace(sigHeader)
	if sigHeader == "" {
		return domain.ErrInvalidSignature
	}

	timestamp, signatures, err := parseSignatureHeader(sigHeader)
	if err != nil {
		return domain.ErrInvalidSignature
	}

	signedPayload := fmt.Sprintf("%s.%s", timestamp, string(payload))
	mac := hmac.New(sha256.New, []byte(a.webhookSecret))
	_, _ = mac.Write([]byte(signedPayload))
	expected := hex.EncodeToString(mac.Sum(nil))

	for _, signature := range signatures {
		if hmac.Equal([]byte(signature), []byte(expected)) {
			return nil
		}
	}
	return domain.ErrInvalidSignature
}

func (a *Adapter) parse(payload []byte) (*domain.WebhookEvent, error) {
	var event stripeEvent
	if err := json.Unmarshal(payload, &event); err != nil {
		return nil, domain.ErrInvalidPayload
	}
	if strings.TrimSpace(event.ID) == "" {
		return nil, domain.ErrInvalidEvent
	}

	switch strings.TrimSpace(event.Type) {
	case "customer.subscription.created":
		return a.parseSubscription(event, payload, true)
	case "customer.subscription.updated":
		return a.parseSubscription(event, payload, false)
	case "customer.subscription.deleted":
		return a.parseSubscriptionDeleted(event, payload)
	case "invoice.payment_failed":
		return a.parseInvoiceFailed(event, payload)
	case "charge.refunded":
		return a.parseCharge(event, payload, domain.KindChargeRefunded)
	case "charge.dispute.created":
		return a.parseDispute(event, payload)
	case "checkout.session.completed":
		return a.parseCheckoutCompleted(event, payload)
	default:
		return nil, domain.ErrEventIgnored
	}
}

func (a *Adapter) parseSubscription(event stripeEvent, payload []byte, initial bool) (*domain.WebhookEvent, error) {
	var sub stripeSubscription
	if err := json.Unmarshal(event.Data.Object, &sub); err != nil {
		return nil, domain.ErrInvalidPayload
	}
	if strings.TrimSpace(sub.ID) == "" || strings.TrimSpace(sub.Customer) == "" {
		return nil, domain.ErrInvalidEvent
	}

	var priceCents int64
	if len(sub.Items.Data) > 0 {
		priceCents = sub.Items.Data[0].Price.UnitAmount
	}

	return &domain.WebhookEvent{
		Provider:        a.Provider(),
		ProviderEventID: event.ID,
		Kind:            domain.KindSubscriptionUpdated,
		OccurredAt:      timestamp(event.Created, 0),
		RawPayload:      payload,
		Subscription: &domain.SubscriptionData{
			ExternalSubscriptionID: sub.ID,
			ProviderCustomerID:     sub.Customer,
			Status:                 strings.TrimSpace(sub.Status),
			PriceCents:             priceCents,
			PeriodStart:            timestamp(sub.CurrentPeriodStart, event.Created),
			PeriodEnd:              timestamp(sub.CurrentPeriodEnd, 0),
			Initial:                initial,
			AffiliateCode:          readMetadataValue(sub.Metadata, "affiliate_code"),
			ClickID:                readMetadataValue(sub.Metadata, "click_id"),
			ChargeID:               strings.TrimSpace(sub.LatestCharge),
		},
	}, nil
}

func (a *Adapter) parseSubscriptionDeleted(event stripeEvent, payload []byte) (*domain.WebhookEvent, error) {
	var sub stripeSubscription
	if err := json.Unmarshal(event.Data.Object, &sub); err != nil {
		return nil, domain.ErrInvalidPayload
	}
	if strings.TrimSpace(sub.ID) == "" {
		return nil, domain.ErrInvalidEvent
	}
	return &domain.WebhookEvent{
		Provider:        a.Provider(),
		ProviderEventID: event.ID,
		Kind:            domain.KindSubscriptionDeleted,
		OccurredAt:      timestamp(event.Created, 0),
		RawPayload:      payload,
		Subscription: &domain.SubscriptionData{
			ExternalSubscriptionID: sub.ID,
			ProviderCustomerID:     sub.Customer,
			Status:                 strings.TrimSpace(sub.Status),
		},
	}, nil
}

func (a *Adapter) parseInvoiceFailed(event stripeEvent, payload []byte) (*domain.WebhookEvent, error) {
	var inv stripeInvoice
	if err := json.Unmarshal(event.Data.Object, &inv); err != nil {
		return nil, domain.ErrInvalidPayload
	}
	if strings.TrimSpace(inv.Customer) == "" {
		return nil, domain.ErrInvalidEvent
	}
	return &domain.WebhookEvent{
		Provider:        a.Provider(),
		ProviderEventID: event.ID,
		Kind:            domain.KindInvoicePaymentFailed,
		OccurredAt:      timestamp(event.Created, 0),
		RawPayload:      payload,
		Invoice: &domain.InvoiceData{
			ProviderCustomerID:     inv.Customer,
			ExternalSubscriptionID: strings.TrimSpace(inv.Subscription),
		},
	}, nil
}

func (a *Adapter) parseCharge(event stripeEvent, payload []byte, kind domain.EventKind) (*domain.WebhookEvent, error) {
	var charge stripeCharge
	if err := json.Unmarshal(event.Data.Object, &charge); err != nil {
		return nil, domain.ErrInvalidPayload
	}
	if strings.TrimSpace(charge.ID) == "" {
		return nil, domain.ErrInvalidEvent
	}
	return &domain.WebhookEvent{
		Provider:        a.Provider(),
		ProviderEventID: event.ID,
		Kind:            kind,
		OccurredAt:      timestamp(charge.Created, event.Created),
		RawPayload:      payload,
		Charge: &domain.ChargeData{
			ChargeID:           charge.ID,
			ProviderCustomerID: strings.TrimSpace(charge.Customer),
			InvoiceID:          strings.TrimSpace(charge.Invoice),
		},
	}, nil
}

func (a *Adapter) parseDispute(event stripeEvent, payload []byte) (*domain.WebhookEvent, error) {
	var dispute stripeDispute
	if err := json.Unmarshal(event.Data.Object, &dispute); err != nil {
		return nil, domain.ErrInvalidPayload
	}
	if strings.TrimSpace(dispute.Charge) == "" {
		return nil, domain.ErrInvalidEvent
	}
	return &domain.WebhookEvent{
		Provider:        a.Provider(),
		ProviderEventID: event.ID,
		Kind:            domain.KindDisputeCreated,
		OccurredAt:      timestamp(dispute.Created, event.Created),
		RawPayload:      payload,
		Charge: &domain.ChargeData{
			ChargeID: dispute.Charge,
		},
	}, nil
}

func (a *Adapter) parseCheckoutCompleted(event stripeEvent, payload []byte) (*domain.WebhookEvent, error) {
	var session stripeCheckoutSession
	if err := json.Unmarshal(event.Data.Object, &session); err != nil {
		return nil, domain.ErrInvalidPayload
	}
	if strings.TrimSpace(session.ID) == "" {
		return nil, domain.ErrInvalidEvent
	}
	// Subscription-mode sessions are settled by the subscription events.
	if strings.TrimSpace(session.Mode) != "payment" {
		return nil, domain.ErrEventIgnored
	}

	accountRef := strings.TrimSpace(session.ClientReferenceID)
	if accountRef == "" {
		accountRef = readMetadataValue(session.Metadata, "account_id")
	}
	accountID, err := snowflake.ParseString(accountRef)
	if err != nil {
		return nil, domain.ErrInvalidEvent
	}

	return &domain.WebhookEvent{
		Provider:        a.Provider(),
		ProviderEventID: event.ID,
		Kind:            domain.KindCheckoutCompleted,
		OccurredAt:      timestamp(event.Created, 0),
		RawPayload:      payload,
		Checkout: &domain.CheckoutData{
			SessionID:          session.ID,
			ProviderCustomerID: strings.TrimSpace(session.Customer),
			AccountID:          accountID,
			AmountCents:        session.AmountTotal,
			Currency:           strings.TrimSpace(session.Currency),
			PaymentIntentID:    strings.TrimSpace(session.PaymentIntent),
			AffiliateCode:      readMetadataValue(session.Metadata, "affiliate_code"),
			ClickID:            readMetadataValue(session.Metadata, "click_id"),
		},
	}, nil
}

// GetCustomerEmail resolves a Stripe customer id to the account email.
func (a *Adapter) GetCustomerEmail(ctx context.Context, providerCustomerID string) (string, error) {
	var customer stripeCustomer
	if err := a.get(ctx, "/v1/customers/"+providerCustomerID, &customer); err != nil {
		return "", err
	}
	email := strings.TrimSpace(customer.Email)
	if email == "" {
		return "", fmt.Errorf("stripe customer %s has no email", providerCustomerID)
	}
	return email, nil
}

// GetCharge resolves a charge id to its invoice and customer linkage.
func (a *Adapter) GetCharge(ctx context.Context, chargeID string) (*domain.ChargeData, error) {
	var charge stripeCharge
	if err := a.get(ctx, "/v1/charges/"+chargeID, &charge); err != nil {
		return nil, err
	}
	return &domain.ChargeData{
		ChargeID:           charge.ID,
		ProviderCustomerID: strings.TrimSpace(charge.Customer),
		InvoiceID:          strings.TrimSpace(charge.Invoice),
	}, nil
}

// GetChargeBalance resolves a charge to its settled gross, fee, and net.
func (a *Adapter) GetChargeBalance(ctx context.Context, chargeID string) (*domain.BalanceTransaction, error) {
	var charge stripeCharge
	if err := a.get(ctx, "/v1/charges/"+chargeID, &charge); err != nil {
		return nil, err
	}
	if strings.TrimSpace(charge.BalanceTransaction) == "" {
		return nil, fmt.Errorf("stripe charge %s not yet settled", chargeID)
	}
	var txn stripeBalanceTransaction
	if err := a.get(ctx, "/v1/balance_transactions/"+charge.BalanceTransaction, &txn); err != nil {
		return nil, err
	}
	return &domain.BalanceTransaction{
		GrossCents: txn.Amount,
		FeeCents:   txn.Fee,
		NetCents:   txn.Net,
	}, nil
}

func (a *Adapter) GetPaymentIntentCharge(ctx context.Context, paymentIntentID string) (string, error) {
	var intent stripePaymentIntent
	if err := a.get(ctx, "/v1/payment_intents/"+paymentIntentID, &intent); err != nil {
		return "", err
	}
	if strings.TrimSpace(intent.LatestCharge) == "" {
		return "", fmt.Errorf("stripe payment intent %s has no charge", paymentIntentID)
	}
	return intent.LatestCharge, nil
}

func (a *Adapter) GetInvoiceSubscription(ctx context.Context, invoiceID string) (string, error) {
	var inv stripeInvoice
	if err := a.get(ctx, "/v1/invoices/"+invoiceID, &inv); err != nil {
		return "", err
	}
	return strings.TrimSpace(inv.Subscription), nil
}

func (a *Adapter) get(ctx context.Context, path string, out any) error {
	if a.apiKey == "" {
		return errors.New("stripe api key not configured")
	}
	req, err := http.NewRequestWithContext(ctx, "GET", a.baseURL+path, nil)
	if err != nil {
		return err
	}
	req.Header.Set("Authorization", "Bearer "+a.apiKey)
	resp, err := a.client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("stripe api error on %s: %d", path, resp.StatusCode)
	}
	return json.NewDecoder(resp.Body).Decode(out)
}

func parseSignatureHeader(header string) (string, []string, error) {
	parts := strings.Split(header, ",")
	var ts string
	signatures := []string{}
	for _, part := range parts {
		piece := strings.TrimSpace(part)
		if piece == "" {
			continue
		}
		keyValue := strings.SplitN(piece, "=", 2)
		if len(keyValue) != 2 {
			continue
		}
		key := strings.TrimSpace(keyValue[0])
		value := strings.TrimSpace(keyValue[1])
		if key == "t" {
			ts = value
		}
		if key == "v1" {
			signatures = append(signatures, value)
		}
	}
	if ts == "" || len(signatures) == 0 {
		return "", nil, errors.New("invalid_signature")
	}
	return ts, signatures, nil
}

func timestamp(primary int64, fallback int64) time.Time {
	value := primary
	if value == 0 {
		value = fallback
	}
	if value == 0 {
		return time.Now().UTC()
	}
	return time.Unix(value, 0).UTC()
}

func readMetadataValue(metadata map[string]string, key string) string {
	if metadata == nil {
		return ""
	}
	return strings.TrimSpace(metadata[key])
}
