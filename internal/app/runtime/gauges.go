package runtime

import (
	"context"

	"github.com/robfig/cron/v3"

	app "github.com/deedchain/arbitration_layer/internal/app"
	"github.com/deedchain/arbitration_layer/internal/app/domain/application"
	"github.com/deedchain/arbitration_layer/internal/app/metrics"
	"github.com/deedchain/arbitration_layer/pkg/logger"
)

// gaugeRefresher periodically recomputes the slow-moving engine gauges:
// outstanding protocol fees per currency and unpaid reward accounts.
type gaugeRefresher struct {
	app      *app.Application
	log      *logger.Logger
	schedule string
	cron     *cron.Cron
}

func newGaugeRefresher(application *app.Application, schedule string, log *logger.Logger) *gaugeRefresher {
	if schedule == "" {
		schedule = "@every 30s"
	}
	return &gaugeRefresher{app: application, log: log, schedule: schedule}
}

func (g *gaugeRefresher) Name() string { return "metric-gauges" }

func (g *gaugeRefresher) Start(_ context.Context) error {
	g.cron = cron.New()
	if _, err := g.cron.AddFunc(g.schedule, g.refresh); err != nil {
		return err
	}
	g.cron.Start()
	g.refresh()
	return nil
}

func (g *gaugeRefresher) Stop(ctx context.Context) error {
	if g.cron == nil {
		return nil
	}
	select {
	case <-g.cron.Stop().Done():
	case <-ctx.Done():
	}
	return nil
}

func (g *gaugeRefresher) refresh() {
	ctx := context.Background()

	for _, currency := range []application.Currency{application.CurrencyETH, application.CurrencyToken} {
		bal, err := g.app.Rewards.ProtocolBalance(ctx, currency)
		if err != nil {
			g.log.WithError(err).Warn("refresh protocol fee gauge")
			continue
		}
		metrics.SetProtocolOutstanding(string(currency), bal.Outstanding())
	}

	apps, err := g.app.Applications.List(ctx, "")
	if err != nil {
		g.log.WithError(err).Warn("refresh pending claim gauge")
		return
	}
	pending := 0
	for _, a := range apps {
		if !a.RewardsAccrued {
			continue
		}
		accounts, err := g.app.Rewards.ListAccounts(ctx, a.ID)
		if err != nil {
			g.log.WithError(err).Warn("refresh pending claim gauge")
			return
		}
		for _, acct := range accounts {
			if !acct.PaidOut {
				pending++
			}
		}
	}
	metrics.SetPendingClaims(pending)
}
