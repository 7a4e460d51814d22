package webhook

import (
	"context"
	"errors"
	"fmt"

	"github.com/bwmarrin/snowflake"
	"go.uber.org/zap"
	"gorm.io/datatypes"
	"gorm.io/gorm"

	accountdomain "github.com/luminahealthlabs/lumina/internal/account/domain"
	affiliatedomain "github.com/luminahealthlabs/lumina/internal/affiliate/domain"
	"github.com/luminahealthlabs/lumina/internal/clock"
	"github.com/luminahealthlabs/lumina/internal/config"
	"github.com/luminahealthlabs/lumina/internal/observability"
	"github.com/luminahealthlabs/lumina/internal/payment/domain"
	subscriptiondomain "github.com/luminahealthlabs/lumina/internal/subscription/domain"
	walletdomain "github.com/luminahealthlabs/lumina/internal/wallet/domain"
)

type service struct {
	cfg        *config.Config
	db         *gorm.DB
	verifier   domain.Verifier
	reader     domain.ProviderReader
	events     domain.EventRepository
	accounts   accountdomain.Repository
	subs       subscriptiondomain.Service
	wallet     walletdomain.Service
	affiliates affiliatedomain.Service
	clock      clock.Clock
	node       *snowflake.Node
	metrics    *observability.Metrics
	log        *zap.Logger
}

func NewService(
	cfg *config.Config,
	db *gorm.DB,
	verifier domain.Verifier,
	reader domain.ProviderReader,
	events domain.EventRepository,
	accounts accountdomain.Repository,
	subs subscriptiondomain.Service,
	wallet walletdomain.Service,
	affiliates affiliatedomain.Service,
	clk clock.Clock,
	node *snowflake.Node,
	metrics *observability.Metrics,
	log *zap.Logger,
) domain.IngestService {
	return &service{
		cfg:        cfg,
		db:         db,
		verifier:   verifier,
		reader:     reader,
		events:     events,
		accounts:   accounts,
		subs:       subs,
		wallet:     wallet,
		affiliates: affiliates,
		clock:      clk,
		node:       node,
		metrics:    metrics,
		log:        log.Named("payment.webhook"),
	}
}

// HandleWebhook verifies the delivery, records it once, dispatches the typed
// event, and stamps ProcessedAt only after the effects committed. Redelivered
// events that never reached the stamp are reprocessed.
func (s *service) HandleWebhook(ctx context.Context, payload []byte, signature string) error {
	ev, err := s.verifier.VerifyAndParse(payload, signature)
	if err != nil {
		if errors.Is(err, domain.ErrEventIgnored) {
			s.metrics.CountWebhookEvent("unhandled", "ignored")
			return domain.ErrEventIgnored
		}
		s.metrics.CountWebhookEvent("unknown", "rejected")
		return err
	}

	rec := &domain.EventRecord{
		ID:              s.node.Generate(),
		Provider:        ev.Provider,
		ProviderEventID: ev.ProviderEventID,
		Kind:            string(ev.Kind),
		Payload:         datatypes.JSON(ev.RawPayload),
		ReceivedAt:      s.clock.Now(ctx),
	}
	stored, inserted, err := s.events.InsertOrGet(ctx, rec)
	if err != nil {
		return domain.Retryable(err)
	}
	if !inserted && stored.ProcessedAt != nil {
		s.log.Info("skipping already processed event",
			zap.String("provider_event_id", ev.ProviderEventID),
			zap.String("kind", string(ev.Kind)))
		s.metrics.CountWebhookEvent(string(ev.Kind), "duplicate")
		return nil
	}

	if err := s.dispatch(ctx, ev); err != nil {
		s.metrics.CountWebhookEvent(string(ev.Kind), "error")
		return err
	}

	if err := s.events.MarkProcessed(ctx, ev.ProviderEventID, s.clock.Now(ctx)); err != nil {
		return domain.Retryable(err)
	}
	s.metrics.CountWebhookEvent(string(ev.Kind), "processed")
	return nil
}

func (s *service) dispatch(ctx context.Context, ev *domain.WebhookEvent) error {
	switch ev.Kind {
	case domain.KindSubscriptionUpdated:
		return s.handleSubscriptionUpdated(ctx, ev)
	case domain.KindSubscriptionDeleted:
		return s.handleSubscriptionDeleted(ctx, ev)
	case domain.KindInvoicePaymentFailed:
		return s.handleInvoicePaymentFailed(ctx, ev)
	case domain.KindChargeRefunded:
		return s.handleChargeReversed(ctx, ev)
	case domain.KindDisputeCreated:
		return s.handleChargeReversed(ctx, ev)
	case domain.KindCheckoutCompleted:
		return s.handleCheckoutCompleted(ctx, ev)
	default:
		s.log.Warn("unhandled event kind", zap.String("kind", string(ev.Kind)))
		return nil
	}
}

func (s *service) handleSubscriptionUpdated(ctx context.Context, ev *domain.WebhookEvent) error {
	data := ev.Subscription
	if data == nil {
		return domain.ErrInvalidEvent
	}

	// Remote lookups happen before any row locks are taken.
	account, err := s.resolveAccount(ctx, data.ProviderCustomerID)
	if err != nil {
		return err
	}
	if account == nil {
		s.log.Warn("subscription event for unknown customer",
			zap.String("provider_customer_id", data.ProviderCustomerID),
			zap.String("external_subscription_id", data.ExternalSubscriptionID))
		return nil
	}

	active := data.Status == "active" || data.Status == "trialing"
	err = s.subs.ApplyProviderEvent(ctx, subscriptiondomain.ProviderSubscriptionEvent{
		AccountID:              account.ID,
		ExternalSubscriptionID: data.ExternalSubscriptionID,
		Active:                 active,
		PriceCents:             data.PriceCents,
		PeriodStart:            data.PeriodStart,
		PeriodEnd:              data.PeriodEnd,
	})
	if err != nil {
		return domain.Retryable(err)
	}

	if data.Initial && active && data.AffiliateCode != "" {
		if err := s.recordConversion(ctx, &affiliatedomain.ConversionInput{
			ProviderEventID: ev.ProviderEventID,
			AccountID:       account.ID,
			Type:            affiliatedomain.ConversionSubscriptionInitial,
			AffiliateCode:   data.AffiliateCode,
			ClickID:         data.ClickID,
			ChargeID:        data.ChargeID,
			OccurredAt:      ev.OccurredAt,
		}); err != nil {
			return err
		}
	}
	return nil
}

func (s *service) handleSubscriptionDeleted(ctx context.Context, ev *domain.WebhookEvent) error {
	if ev.Subscription == nil {
		return domain.ErrInvalidEvent
	}
	if err := s.subs.DeleteByExternalID(ctx, ev.Subscription.ExternalSubscriptionID); err != nil {
		return domain.Retryable(err)
	}
	return nil
}

func (s *service) handleInvoicePaymentFailed(ctx context.Context, ev *domain.WebhookEvent) error {
	data := ev.Invoice
	if data == nil {
		return domain.ErrInvalidEvent
	}
	if data.ExternalSubscriptionID != "" {
		if err := s.subs.PauseByExternalID(ctx, data.ExternalSubscriptionID); err != nil {
			return domain.Retryable(err)
		}
		return nil
	}

	account, err := s.resolveAccount(ctx, data.ProviderCustomerID)
	if err != nil {
		return err
	}
	if account == nil {
		return nil
	}
	if err := s.subs.PauseByAccount(ctx, account.ID); err != nil {
		return domain.Retryable(err)
	}
	return nil
}

// handleChargeReversed covers refunds and disputes the same way: remaining
// top-up credit from the charge is revoked and any pending affiliate
// commission is voided. Partial refunds void in full.
func (s *service) handleChargeReversed(ctx context.Context, ev *domain.WebhookEvent) error {
	data := ev.Charge
	if data == nil {
		return domain.ErrInvalidEvent
	}

	// A reversed subscription charge also ends access. All provider lookups
	// happen before any rows are touched. Dispute payloads carry only the
	// charge id, so the invoice and customer are backfilled from the charge.
	invoiceID := data.InvoiceID
	customerID := data.ProviderCustomerID
	if invoiceID == "" && customerID == "" {
		charge, err := s.reader.GetCharge(ctx, data.ChargeID)
		if err != nil {
			return domain.Retryable(fmt.Errorf("resolve charge: %w", err))
		}
		invoiceID = charge.InvoiceID
		customerID = charge.ProviderCustomerID
	}

	var externalSubID string
	if invoiceID != "" {
		subID, err := s.reader.GetInvoiceSubscription(ctx, invoiceID)
		if err != nil {
			return domain.Retryable(fmt.Errorf("resolve invoice subscription: %w", err))
		}
		externalSubID = subID
	}
	var account *accountdomain.Account
	if externalSubID == "" && customerID != "" {
		resolved, err := s.resolveAccount(ctx, customerID)
		if err != nil {
			return err
		}
		account = resolved
	}

	if err := s.wallet.RevokeTopUpBySourceRef(ctx, data.ChargeID); err != nil {
		return domain.Retryable(err)
	}
	if err := s.affiliates.VoidCommissionForCharge(ctx, data.ChargeID); err != nil {
		return domain.Retryable(err)
	}
	switch {
	case externalSubID != "":
		err := s.subs.PauseByExternalID(ctx, externalSubID)
		if err != nil && !errors.Is(err, subscriptiondomain.ErrSubscriptionNotFound) {
			return domain.Retryable(err)
		}
	case account != nil:
		if err := s.subs.PauseByAccount(ctx, account.ID); err != nil {
			return domain.Retryable(err)
		}
	}
	return nil
}

func (s *service) handleCheckoutCompleted(ctx context.Context, ev *domain.WebhookEvent) error {
	data := ev.Checkout
	if data == nil {
		return domain.ErrInvalidEvent
	}
	if data.AmountCents <= 0 {
		return domain.ErrInvalidEvent
	}

	chargeID, err := s.reader.GetPaymentIntentCharge(ctx, data.PaymentIntentID)
	if err != nil {
		return domain.Retryable(fmt.Errorf("resolve checkout charge: %w", err))
	}

	expiresAt := s.clock.Now(ctx).AddDate(0, 0, s.cfg.Wallet.TopUpExpiryDays)
	if _, err := s.wallet.GrantTopUp(ctx, data.AccountID, data.AmountCents, expiresAt, chargeID); err != nil {
		return domain.Retryable(err)
	}

	if data.AffiliateCode != "" {
		if err := s.recordConversion(ctx, &affiliatedomain.ConversionInput{
			ProviderEventID: ev.ProviderEventID,
			AccountID:       data.AccountID,
			Type:            affiliatedomain.ConversionTopUp,
			AffiliateCode:   data.AffiliateCode,
			ClickID:         data.ClickID,
			ChargeID:        chargeID,
			OccurredAt:      ev.OccurredAt,
		}); err != nil {
			return err
		}
	}
	return nil
}

// recordConversion fetches the settled balance before the affiliate service
// takes any locks, then hands off. Ineligible conversions are dropped inside
// the affiliate service; failures here are transient and surface as retryable,
// since redelivery reruns the whole dispatch idempotently.
func (s *service) recordConversion(ctx context.Context, input *affiliatedomain.ConversionInput) error {
	if input.ChargeID == "" {
		s.log.Warn("conversion without charge id",
			zap.String("provider_event_id", input.ProviderEventID))
		return nil
	}
	balance, err := s.reader.GetChargeBalance(ctx, input.ChargeID)
	if err != nil {
		return domain.Retryable(fmt.Errorf("fetch charge balance: %w", err))
	}
	input.GrossCents = balance.GrossCents
	input.FeeCents = balance.FeeCents
	input.NetCents = balance.NetCents

	if err := s.affiliates.RecordConversionIfEligible(ctx, input); err != nil {
		return domain.Retryable(fmt.Errorf("record conversion: %w", err))
	}
	return nil
}

func (s *service) resolveAccount(ctx context.Context, providerCustomerID string) (*accountdomain.Account, error) {
	if providerCustomerID == "" {
		return nil, domain.ErrInvalidEvent
	}
	email, err := s.reader.GetCustomerEmail(ctx, providerCustomerID)
	if err != nil {
		return nil, domain.Retryable(fmt.Errorf("resolve customer email: %w", err))
	}
	account, err := s.accounts.FindByEmail(ctx, s.db, email)
	if err != nil {
		return nil, domain.Retryable(err)
	}
	return account, nil
}
