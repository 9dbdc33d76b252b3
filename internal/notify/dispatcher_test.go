package notify

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/moex-sandbox/invest-engine/internal/logger"
	"github.com/moex-sandbox/invest-engine/internal/model"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"
)

func belowMinAlert(w model.Watcher, at time.Time) model.Alert {
	return model.Alert{
		Watcher: w,
		Kind:    model.BelowMin,
		Border:  w.MinBorder.Decimal,
		Price:   decimal.NewFromInt(95),
		Time:    at,
	}
}

func TestDispatchFirstMarksOnlySuccessful(t *testing.T) {
	w1 := watcher("sber", "100", "")
	w2 := watcher("gazp", "100", "")
	w2.UserID = 2
	w2.Email = "broken@example.com"

	backend := &fakeBackend{watchers: []model.Watcher{w1, w2}}
	sender := &fakeSender{failTo: map[string]bool{"broken@example.com": true}}
	d := NewDispatcher(sender, backend, logger.NewNopLogger())

	now := time.Now()
	sent := d.DispatchFirst(context.Background(), []model.Alert{
		belowMinAlert(w1, now),
		belowMinAlert(w2, now),
	})

	require.Equal(t, 1, sent)
	require.True(t, backend.watchers[0].EmailSent)
	require.False(t, backend.watchers[1].EmailSent, "a failed send must stay retry-eligible")
}

func TestDispatchFirstFlagWriteFailure(t *testing.T) {
	w := watcher("sber", "100", "")
	backend := &fakeBackend{watchers: []model.Watcher{w}, markErr: errors.New("db down")}
	sender := &fakeSender{}
	d := NewDispatcher(sender, backend, logger.NewNopLogger())

	sent := d.DispatchFirst(context.Background(), []model.Alert{belowMinAlert(w, time.Now())})

	// the mail went out; the flag write failed, so the next tick re-sends
	require.Equal(t, 1, sent)
	require.False(t, backend.watchers[0].EmailSent)
}

func TestDispatchRepeatNeverTouchesFlags(t *testing.T) {
	w := watcher("sber", "100", "")
	backend := &fakeBackend{watchers: []model.Watcher{w}}
	sender := &fakeSender{}
	d := NewDispatcher(sender, backend, logger.NewNopLogger())

	sent := d.DispatchRepeat(context.Background(), []model.Alert{belowMinAlert(w, time.Now())})

	require.Equal(t, 1, sent)
	require.False(t, backend.watchers[0].EmailSent)
}

func TestAlertMessage(t *testing.T) {
	moscow, err := time.LoadLocation("Europe/Moscow")
	require.NoError(t, err)
	at := time.Date(2026, time.March, 5, 14, 30, 45, 0, moscow)

	w := watcher("sber", "100", "")
	backend := &fakeBackend{watchers: []model.Watcher{w}}
	sender := &fakeSender{}
	d := NewDispatcher(sender, backend, logger.NewNopLogger())

	d.DispatchFirst(context.Background(), []model.Alert{belowMinAlert(w, at)})
	require.Len(t, sender.sent, 1)

	m := sender.sent[0]
	require.Equal(t, "user@example.com", m.to)
	require.Equal(t, "Invest Bot SBER out of border", m.subject)
	require.Contains(t, m.body, "05.03.26")
	require.Contains(t, m.body, "14:30:45")
	require.Contains(t, m.body, "SBER")
	require.Contains(t, m.body, "меньше нижней")
	require.Contains(t, m.body, "100")
	require.Contains(t, m.body, "95")
}

func TestAlertMessageAboveMax(t *testing.T) {
	w := watcher("sber", "", "90")
	backend := &fakeBackend{watchers: []model.Watcher{w}}
	sender := &fakeSender{}
	d := NewDispatcher(sender, backend, logger.NewNopLogger())

	d.DispatchFirst(context.Background(), []model.Alert{{
		Watcher: w,
		Kind:    model.AboveMax,
		Border:  w.MaxBorder.Decimal,
		Price:   decimal.NewFromInt(95),
		Time:    time.Now(),
	}})
	require.Len(t, sender.sent, 1)
	require.Contains(t, sender.sent[0].body, "больше верхней")
}
