package subscription

import (
	"github.com/luminahealthlabs/lumina/internal/subscription/repository"
	"github.com/luminahealthlabs/lumina/internal/subscription/service"
	"go.uber.org/fx"
)

var Module = fx.Module("subscription.service",
	fx.Provide(repository.Provide),
	fx.Provide(service.NewService),
)
