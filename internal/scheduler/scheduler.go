package scheduler

import (
	"context"
	"time"

	"go.uber.org/fx"
	"go.uber.org/zap"

	affiliatedomain "github.com/luminahealthlabs/lumina/internal/affiliate/domain"
	"github.com/luminahealthlabs/lumina/internal/clock"
	"github.com/luminahealthlabs/lumina/internal/config"
	paymentdomain "github.com/luminahealthlabs/lumina/internal/payment/domain"
)

const jobInterval = time.Hour

type Param struct {
	fx.In

	Config     *config.Config
	Log        *zap.Logger
	Clock      clock.Clock
	Affiliates affiliatedomain.Service
	Events     paymentdomain.EventRepository
}

// Scheduler runs the periodic maintenance jobs: commission payouts and
// webhook audit-trail pruning.
type Scheduler struct {
	cfg        *config.Config
	log        *zap.Logger
	clock      clock.Clock
	affiliates affiliatedomain.Service
	events     paymentdomain.EventRepository

	cancel context.CancelFunc
	done   chan struct{}
}

func New(p Param) *Scheduler {
	return &Scheduler{
		cfg:        p.Config,
		log:        p.Log.Named("scheduler"),
		clock:      p.Clock,
		affiliates: p.Affiliates,
		events:     p.Events,
	}
}

func (s *Scheduler) Start() {
	ctx, cancel := context.WithCancel(context.Background())
	s.cancel = cancel
	s.done = make(chan struct{})

	go func() {
		defer close(s.done)
		ticker := time.NewTicker(jobInterval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				s.runOnce(ctx)
			}
		}
	}()
}

func (s *Scheduler) Stop() {
	if s.cancel == nil {
		return
	}
	s.cancel()
	<-s.done
}

func (s *Scheduler) runOnce(ctx context.Context) {
	if err := s.RunCommissionPayouts(ctx); err != nil {
		s.log.Error("commission payout job failed", zap.Error(err))
	}
	if err := s.CleanupWebhookEvents(ctx); err != nil {
		s.log.Error("webhook cleanup job failed", zap.Error(err))
	}
}

// RunCommissionPayouts settles every PENDING commission whose payable date
// has passed.
func (s *Scheduler) RunCommissionPayouts(ctx context.Context) error {
	settled, err := s.affiliates.MarkPayableCommissionsPaid(ctx)
	if err != nil {
		return err
	}
	if settled > 0 {
		s.log.Info("commission payouts settled", zap.Int64("count", settled))
	}
	return nil
}

// CleanupWebhookEvents prunes processed webhook records past the configured
// retention. The retention value is hot-reloadable.
func (s *Scheduler) CleanupWebhookEvents(ctx context.Context) error {
	retentionDays := s.cfg.WebhookRetentionDays()
	if retentionDays <= 0 {
		return nil
	}
	cutoff := s.clock.Now(ctx).AddDate(0, 0, -retentionDays)
	deleted, err := s.events.DeleteProcessedBefore(ctx, cutoff)
	if err != nil {
		return err
	}
	if deleted > 0 {
		s.log.Info("pruned webhook events",
			zap.Time("cutoff", cutoff),
			zap.Int64("deleted", deleted))
	}
	return nil
}
