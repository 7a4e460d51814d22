package wallet

import (
	"github.com/luminahealthlabs/lumina/internal/wallet/repository"
	"github.com/luminahealthlabs/lumina/internal/wallet/service"
	"go.uber.org/fx"
)

var Module = fx.Module("wallet.service",
	fx.Provide(repository.Provide),
	fx.Provide(service.NewService),
)
