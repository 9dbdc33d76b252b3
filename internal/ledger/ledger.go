package ledger

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/moex-sandbox/invest-engine/internal/logger"
	"github.com/moex-sandbox/invest-engine/internal/model"
	"github.com/moex-sandbox/invest-engine/internal/pricing"
	"github.com/shopspring/decimal"
)

type Quoter interface {
	Quote(ctx context.Context, ticker string) (*model.Quote, error)
}

// Store is the transactional persistence boundary. ApplyBuy and ApplySell
// are all-or-nothing: every write commits together or none do.
type Store interface {
	Balance(ctx context.Context, userID int64) (decimal.Decimal, error)
	Holding(ctx context.Context, userID int64, ticker string) (*model.Holding, error)
	Holdings(ctx context.Context, userID int64) ([]model.Holding, error)
	UserEmail(ctx context.Context, userID int64) (string, error)
	TickerExists(ctx context.Context, secID string) (bool, error)
	History(ctx context.Context, userID int64) ([]model.LogEntry, error)

	ApplyBuy(ctx context.Context, t model.Trade) error
	ApplySell(ctx context.Context, t model.Trade) error
	UpdateBorders(ctx context.Context, b model.BorderUpdate) error

	AppLog(ctx context.Context, text string)
}

// Ledger owns the cash-plus-holdings state transitions. The quote is
// resolved and the final price computed before any transaction opens, so
// no transaction waits on the network.
type Ledger struct {
	store  Store
	quotes Quoter
	calc   *pricing.Calculator

	logger logger.Logger
}

func NewLedger(store Store, quotes Quoter, calc *pricing.Calculator, logger logger.Logger) *Ledger {
	return &Ledger{
		store:  store,
		quotes: quotes,
		calc:   calc,
		logger: logger,
	}
}

func (l *Ledger) Buy(ctx context.Context, userID int64, ticker string, lots int64) (*model.Receipt, error) {
	if lots <= 0 {
		return nil, fmt.Errorf("lots must be positive, got %d", lots)
	}

	q, err := l.quotes.Quote(ctx, ticker)
	if err != nil {
		return nil, errors.Join(ErrQuoteUnavailable, err)
	}

	total, ok := l.calc.FinalPrice(pricing.Offer, lots, q)
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrNoOffer, q.SecID)
	}

	balance, err := l.store.Balance(ctx, userID)
	if err != nil {
		return nil, errors.Join(ErrPersistence, err)
	}
	if balance.LessThan(total) {
		return nil, fmt.Errorf("%w: need %s, have %s", ErrInsufficientFunds, total, balance)
	}

	trade := model.Trade{
		UserID:    userID,
		Ticker:    q.SecID,
		Units:     lots * q.LotSize,
		UnitPrice: q.Offer,
		Total:     total,
		Quote:     q,
		Time:      time.Now(),
	}
	if err := l.store.ApplyBuy(ctx, trade); err != nil {
		l.store.AppLog(ctx, fmt.Sprintf("Error. ledger buy: user_id=%d ticker=%s: %s", userID, q.SecID, err))
		return nil, errors.Join(ErrPersistence, err)
	}
	l.store.AppLog(ctx, fmt.Sprintf("Success. ledger buy: user_id=%d bought %d units of %s for %s", userID, trade.Units, q.SecID, total))

	return &model.Receipt{
		Ticker:    q.SecID,
		Operation: model.OperationBuy,
		Units:     trade.Units,
		UnitPrice: q.Offer,
		Total:     total,
		Balance:   balance.Sub(total),
	}, nil
}

func (l *Ledger) Sell(ctx context.Context, userID int64, ticker string, lots int64) (*model.Receipt, error) {
	if lots <= 0 {
		return nil, fmt.Errorf("lots must be positive, got %d", lots)
	}

	q, err := l.quotes.Quote(ctx, ticker)
	if err != nil {
		return nil, errors.Join(ErrQuoteUnavailable, err)
	}

	total, ok := l.calc.FinalPrice(pricing.Bid, lots, q)
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrNoBid, q.SecID)
	}

	holding, err := l.store.Holding(ctx, userID, q.SecID)
	if err != nil {
		return nil, errors.Join(ErrPersistence, err)
	}
	if holding == nil {
		return nil, fmt.Errorf("%w: %s", ErrNoHolding, q.SecID)
	}

	units := lots * q.LotSize
	if holding.Number < units {
		return nil, fmt.Errorf("%w: need %d units, have %d", ErrInsufficientHoldings, units, holding.Number)
	}

	trade := model.Trade{
		UserID:    userID,
		Ticker:    q.SecID,
		Units:     units,
		UnitPrice: q.Bid,
		Total:     total,
		Quote:     q,
		Time:      time.Now(),
	}
	if err := l.store.ApplySell(ctx, trade); err != nil {
		l.store.AppLog(ctx, fmt.Sprintf("Error. ledger sell: user_id=%d ticker=%s: %s", userID, q.SecID, err))
		return nil, errors.Join(ErrPersistence, err)
	}
	l.store.AppLog(ctx, fmt.Sprintf("Success. ledger sell: user_id=%d sold %d units of %s for %s", userID, units, q.SecID, total))

	balance, err := l.store.Balance(ctx, userID)
	if err != nil {
		// the trade is committed, the receipt just loses the fresh balance
		l.logger.Errorf("%s: can't read balance after sell user_id=%d", err, userID)
	}

	return &model.Receipt{
		Ticker:    q.SecID,
		Operation: model.OperationSell,
		Units:     units,
		UnitPrice: q.Bid,
		Total:     total,
		Balance:   balance,
	}, nil
}

// SetBorders validates and applies notification borders for one holding.
// Raw values come in as form strings; empty means "no border". A changed
// border always clears the alert-sent flag.
func (l *Ledger) SetBorders(ctx context.Context, userID int64, ticker string, minRaw, maxRaw string, notify bool) error {
	minBorder, err := parseBorder(minRaw)
	if err != nil {
		return err
	}
	maxBorder, err := parseBorder(maxRaw)
	if err != nil {
		return err
	}

	if minBorder.Valid && maxBorder.Valid && minBorder.Decimal.GreaterThan(maxBorder.Decimal) {
		return fmt.Errorf("%w: %s > %s", ErrMinGreaterThanMax, minBorder.Decimal, maxBorder.Decimal)
	}
	if notify && !minBorder.Valid && !maxBorder.Valid {
		return fmt.Errorf("%w: %s", ErrNoBorderGiven, ticker)
	}
	if notify {
		email, err := l.store.UserEmail(ctx, userID)
		if err != nil {
			return errors.Join(ErrPersistence, err)
		}
		if email == "" {
			return fmt.Errorf("%w: user_id=%d", ErrMissingContact, userID)
		}
	}

	holding, err := l.store.Holding(ctx, userID, ticker)
	if err != nil {
		return errors.Join(ErrPersistence, err)
	}
	if holding == nil {
		return fmt.Errorf("%w: %s", ErrNoHolding, ticker)
	}

	if err := l.store.UpdateBorders(ctx, model.BorderUpdate{
		UserID:       userID,
		Ticker:       ticker,
		MinBorder:    minBorder,
		MaxBorder:    maxBorder,
		Notification: notify,
	}); err != nil {
		return errors.Join(ErrPersistence, err)
	}
	l.store.AppLog(ctx, fmt.Sprintf("Success. ledger borders: user_id=%d ticker=%s updated", userID, ticker))

	return nil
}

func (l *Ledger) History(ctx context.Context, userID int64) ([]model.LogEntry, error) {
	entries, err := l.store.History(ctx, userID)
	if err != nil {
		return nil, errors.Join(ErrPersistence, err)
	}
	return entries, nil
}

// Portfolio values every holding at the live bid, falling back to the
// previous settlement price. Instruments whose quote fails are skipped
// and logged, the rest of the view is still produced.
func (l *Ledger) Portfolio(ctx context.Context, userID int64) (*model.PortfolioView, error) {
	cash, err := l.store.Balance(ctx, userID)
	if err != nil {
		return nil, errors.Join(ErrPersistence, err)
	}

	holdings, err := l.store.Holdings(ctx, userID)
	if err != nil {
		return nil, errors.Join(ErrPersistence, err)
	}

	view := &model.PortfolioView{Cash: cash, Total: cash}
	for _, h := range holdings {
		q, err := l.quotes.Quote(ctx, h.Ticker)
		if err != nil {
			l.logger.Errorf("%s: can't value holding %s for user_id=%d", err, h.Ticker, userID)
			continue
		}

		side := pricing.Bid
		if q.Bid.IsZero() {
			side = pricing.LastSettled
		}
		unit, ok := l.calc.UnitPrice(side, q)
		if !ok {
			l.logger.Errorf("no price for holding %s for user_id=%d", h.Ticker, userID)
			continue
		}

		value := unit.Mul(decimal.NewFromInt(h.Number))
		view.Positions = append(view.Positions, model.Position{
			Holding:      h,
			CurrentPrice: unit,
			Value:        value,
		})
		view.Total = view.Total.Add(value)
	}

	return view, nil
}

// TickerExists checks the known-instrument listing; populating that
// listing is the collaborator's refresh job.
func (l *Ledger) TickerExists(ctx context.Context, secID string) (bool, error) {
	return l.store.TickerExists(ctx, secID)
}

func parseBorder(raw string) (decimal.NullDecimal, error) {
	if raw == "" {
		return decimal.NullDecimal{}, nil
	}
	d, err := decimal.NewFromString(raw)
	if err != nil || d.IsNegative() {
		return decimal.NullDecimal{}, fmt.Errorf("%w: %q", ErrBadBorderFormat, raw)
	}
	return decimal.NullDecimal{Decimal: d, Valid: true}, nil
}
