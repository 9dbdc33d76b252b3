package notify

import (
	"context"
	"fmt"
	"strings"

	"github.com/moex-sandbox/invest-engine/internal/logger"
	"github.com/moex-sandbox/invest-engine/internal/mail"
	"github.com/moex-sandbox/invest-engine/internal/model"
)

type FlagStore interface {
	MarkEmailSent(ctx context.Context, watchers []model.Watcher) error
}

// Dispatcher turns breaches into emails. First alerts flip the
// alert-sent flag of every watcher whose send succeeded; repeat alerts
// never touch flags. A failed send is logged, skipped and stays
// retry-eligible for the next tick.
type Dispatcher struct {
	sender mail.Sender
	store  FlagStore

	logger logger.Logger
}

func NewDispatcher(sender mail.Sender, store FlagStore, logger logger.Logger) *Dispatcher {
	return &Dispatcher{
		sender: sender,
		store:  store,
		logger: logger,
	}
}

func (d *Dispatcher) DispatchFirst(ctx context.Context, alerts []model.Alert) int {
	sent := d.send(alerts)
	if len(sent) == 0 {
		return 0
	}

	watchers := make([]model.Watcher, 0, len(sent))
	for _, a := range sent {
		watchers = append(watchers, a.Watcher)
	}
	if err := d.store.MarkEmailSent(ctx, watchers); err != nil {
		// flags stay clear, the next tick re-sends as first alerts
		d.logger.Errorf("%s: can't mark alerts as sent", err)
	}

	return len(sent)
}

func (d *Dispatcher) DispatchRepeat(ctx context.Context, alerts []model.Alert) int {
	return len(d.send(alerts))
}

func (d *Dispatcher) send(alerts []model.Alert) []model.Alert {
	sent := make([]model.Alert, 0, len(alerts))
	for _, a := range alerts {
		if err := d.sender.Send(a.Email, subject(a), body(a)); err != nil {
			d.logger.Errorf("%s: can't send alert to %s for %s", err, a.Email, a.Ticker)
			continue
		}
		sent = append(sent, a)
	}
	return sent
}

func subject(a model.Alert) string {
	return fmt.Sprintf("Invest Bot %s out of border", strings.ToUpper(a.Ticker))
}

func body(a model.Alert) string {
	var b strings.Builder

	direction := "меньше нижней"
	if a.Kind == model.AboveMax {
		direction = "больше верхней"
	}
	fmt.Fprintf(&b, "Внимание!\n%s в %s %s стоит %s границы %s. Текущая стоимость %s.",
		a.Time.Format("02.01.06"),
		a.Time.Format("15:04:05"),
		strings.ToUpper(a.Ticker),
		direction,
		a.Border,
		a.Price,
	)
	fmt.Fprintf(&b, "\n Это сообщение создано автоматически. Пожалуйста, не отвечайте на него. "+
		"\n С уважением, Invest app Bot. %s", a.Time.Format("02.01.06"))

	return b.String()
}
