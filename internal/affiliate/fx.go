package affiliate

import (
	"go.uber.org/fx"

	"github.com/luminahealthlabs/lumina/internal/affiliate/repository"
	"github.com/luminahealthlabs/lumina/internal/affiliate/service"
)

var Module = fx.Module("affiliate.service",
	fx.Provide(repository.Provide),
	fx.Provide(service.NewService),
)
