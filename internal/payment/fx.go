package payment

import (
	"go.uber.org/fx"

	"github.com/luminahealthlabs/lumina/internal/payment/domain"
	"github.com/luminahealthlabs/lumina/internal/payment/repository"
	"github.com/luminahealthlabs/lumina/internal/payment/stripe"
	"github.com/luminahealthlabs/lumina/internal/payment/webhook"
)

var Module = fx.Module("payment",
	fx.Provide(
		repository.Provide,
		stripe.New,
		func(a *stripe.Adapter) domain.Verifier { return a },
		func(a *stripe.Adapter) domain.ProviderReader { return a },
		webhook.NewService,
	),
)
