package notify

import (
	"context"
	"fmt"
	"time"

	"github.com/moex-sandbox/invest-engine/internal/config"
	"github.com/moex-sandbox/invest-engine/internal/logger"
	"github.com/moex-sandbox/invest-engine/internal/model"
	"github.com/robfig/cron/v3"
	"github.com/shopspring/decimal"
)

type WatcherStore interface {
	Watchers(ctx context.Context) ([]model.Watcher, error)
	AppLog(ctx context.Context, text string)
}

type Quoter interface {
	Quote(ctx context.Context, ticker string) (*model.Quote, error)
}

// Scheduler re-resolves prices for all watched instruments on a fixed
// cadence and drives the dispatcher. One external call serves all
// watchers of an instrument, so API load is bounded by the number of
// distinct watched tickers. Repeat alerts fire every RepeatEvery-th tick;
// the counter is plain configuration-driven state, nothing global.
type Scheduler struct {
	store      WatcherStore
	quotes     Quoter
	dispatcher *Dispatcher
	cfg        config.SchedulerConfig
	loc        *time.Location

	logger logger.Logger

	tick int
}

func NewScheduler(store WatcherStore, quotes Quoter, dispatcher *Dispatcher, cfg config.SchedulerConfig, logger logger.Logger) (*Scheduler, error) {
	loc, err := time.LoadLocation(cfg.Timezone)
	if err != nil {
		return nil, fmt.Errorf("%w: can't load scheduler timezone", err)
	}

	return &Scheduler{
		store:      store,
		quotes:     quotes,
		dispatcher: dispatcher,
		cfg:        cfg,
		loc:        loc,
		logger:     logger,
	}, nil
}

// Run blocks until ctx is cancelled. Ticks never overlap: a tick still
// executing when the next one fires makes cron skip the new one.
func (s *Scheduler) Run(ctx context.Context) error {
	c := cron.New(cron.WithChain(
		cron.SkipIfStillRunning(cron.PrintfLogger(printfAdapter{s.logger})),
	))

	if _, err := c.AddFunc(fmt.Sprintf("@every %s", s.cfg.TickInterval), func() {
		s.Tick(ctx)
	}); err != nil {
		return fmt.Errorf("%w: can't schedule notification tick", err)
	}

	c.Start()
	<-ctx.Done()
	<-c.Stop().Done()

	return nil
}

// Tick is one scheduler pass. Failures for one instrument skip that
// instrument for this tick only.
func (s *Scheduler) Tick(ctx context.Context) {
	s.tick = (s.tick + 1) % s.cfg.RepeatEvery
	repeatTick := s.tick == 0

	watchers, err := s.store.Watchers(ctx)
	if err != nil {
		s.logger.Errorf("%s: can't query watchers", err)
		return
	}
	if len(watchers) == 0 {
		s.logger.Debugf("no notification-enabled holdings")
		return
	}

	byTicker := make(map[string][]model.Watcher)
	for _, w := range watchers {
		byTicker[w.Ticker] = append(byTicker[w.Ticker], w)
	}

	var firsts, repeats []model.Alert
	for ticker, group := range byTicker {
		q, err := s.quotes.Quote(ctx, ticker)
		if err != nil {
			s.logger.Errorf("%s: can't resolve quote for watched ticker %s", err, ticker)
			continue
		}

		price := q.Bid
		if price.IsZero() {
			price = q.PrevAdmittedQuote
		}
		if price.IsZero() {
			s.logger.Errorf("no bid or settlement price for watched ticker %s", ticker)
			continue
		}

		now := time.Now().In(s.loc)
		for _, w := range group {
			for _, a := range evaluate(w, price, now) {
				if w.EmailSent {
					repeats = append(repeats, a)
				} else {
					firsts = append(firsts, a)
				}
			}
		}
	}

	sentFirst := s.dispatcher.DispatchFirst(ctx, firsts)
	sentRepeat := 0
	if repeatTick {
		sentRepeat = s.dispatcher.DispatchRepeat(ctx, repeats)
	}

	if sentFirst > 0 || sentRepeat > 0 {
		s.store.AppLog(ctx, fmt.Sprintf("Success. notify tick: sent %d first and %d repeat alerts", sentFirst, sentRepeat))
	}
	s.logger.Infof("notification tick done: %d first, %d repeat alerts sent", sentFirst, sentRepeat)
}

// evaluate emits one alert per breached border; a watcher can breach both
// borders at once and both alerts go out independently.
func evaluate(w model.Watcher, price decimal.Decimal, now time.Time) []model.Alert {
	var alerts []model.Alert
	if w.MinBorder.Valid && price.LessThanOrEqual(w.MinBorder.Decimal) {
		alerts = append(alerts, model.Alert{
			Watcher: w,
			Kind:    model.BelowMin,
			Border:  w.MinBorder.Decimal,
			Price:   price,
			Time:    now,
		})
	}
	if w.MaxBorder.Valid && price.GreaterThanOrEqual(w.MaxBorder.Decimal) {
		alerts = append(alerts, model.Alert{
			Watcher: w,
			Kind:    model.AboveMax,
			Border:  w.MaxBorder.Decimal,
			Price:   price,
			Time:    now,
		})
	}
	return alerts
}

type printfAdapter struct {
	logger logger.Logger
}

func (p printfAdapter) Printf(template string, args ...interface{}) {
	p.logger.Infof(template, args...)
}
