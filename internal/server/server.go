package server

import (
	"github.com/bwmarrin/snowflake"
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"

	accountdomain "github.com/luminahealthlabs/lumina/internal/account/domain"
	affiliatedomain "github.com/luminahealthlabs/lumina/internal/affiliate/domain"
	"github.com/luminahealthlabs/lumina/internal/config"
	paymentdomain "github.com/luminahealthlabs/lumina/internal/payment/domain"
	subscriptiondomain "github.com/luminahealthlabs/lumina/internal/subscription/domain"
	usagedomain "github.com/luminahealthlabs/lumina/internal/usage/domain"
	walletdomain "github.com/luminahealthlabs/lumina/internal/wallet/domain"
)

type Param struct {
	fx.In

	Config   *config.Config
	DB       *gorm.DB
	Log      *zap.Logger
	GenID    *snowflake.Node
	Registry *prometheus.Registry

	AccountRepo  accountdomain.Repository
	WalletSvc    walletdomain.Service
	SubSvc       subscriptiondomain.Service
	UsageSvc     usagedomain.Service
	AffiliateSvc affiliatedomain.Service
	IngestSvc    paymentdomain.IngestService
}

type Server struct {
	cfg      *config.Config
	db       *gorm.DB
	log      *zap.Logger
	genID    *snowflake.Node
	registry *prometheus.Registry

	accounts     accountdomain.Repository
	walletsvc    walletdomain.Service
	subsvc       subscriptiondomain.Service
	usagesvc     usagedomain.Service
	affiliatesvc affiliatedomain.Service
	ingestsvc    paymentdomain.IngestService
}

func NewServer(p Param) *Server {
	return &Server{
		cfg:          p.Config,
		db:           p.DB,
		log:          p.Log.Named("server"),
		genID:        p.GenID,
		registry:     p.Registry,
		accounts:     p.AccountRepo,
		walletsvc:    p.WalletSvc,
		subsvc:       p.SubSvc,
		usagesvc:     p.UsageSvc,
		affiliatesvc: p.AffiliateSvc,
		ingestsvc:    p.IngestSvc,
	}
}

func (s *Server) RegisterRoutes(r *gin.Engine) {
	r.GET("/healthz", s.Healthz)
	r.GET("/metrics", gin.WrapH(promhttp.HandlerFor(s.registry, promhttp.HandlerOpts{})))

	r.POST("/webhooks/stripe", s.StripeWebhook)
	r.GET("/r/:code", s.AffiliateRedirect)

	v1 := r.Group("/v1")
	{
		v1.GET("/wallet", s.GetWallet)
		v1.POST("/wallet/charge", s.ChargeWallet)
		v1.POST("/quota/consume", s.ConsumeQuota)
		v1.GET("/usage", s.GetUsage)
	}

	admin := r.Group("/admin")
	{
		admin.POST("/accounts", s.CreateAccount)
		admin.POST("/accounts/:id/subscription", s.GrantSubscription)
		admin.DELETE("/accounts/:id/subscription", s.RevokeSubscription)
		admin.POST("/accounts/:id/topups", s.GrantTopUp)
		admin.POST("/affiliates", s.CreateAffiliate)
	}
}
