package pricing

import (
	"github.com/moex-sandbox/invest-engine/internal/logger"
	"github.com/moex-sandbox/invest-engine/internal/model"
	"github.com/shopspring/decimal"
)

type Side string

const (
	Bid         Side = "bid"
	Offer       Side = "offer"
	LastSettled Side = "prevadmittedquote"
)

// one percent: bond prices are quoted as a percentage of face value
var _percent = decimal.New(1, -2)

// Calculator turns a quoted price into a final rouble amount. It is the
// single authority for both trade execution and valuation.
type Calculator struct {
	logger logger.Logger
}

func NewCalculator(logger logger.Logger) *Calculator {
	return &Calculator{logger: logger}
}

// FinalPrice computes the rouble total for lots of an instrument at the
// selected price side. ok is false when the side has no price, the
// currency is unknown, or the needed FX fix is missing.
func (c *Calculator) FinalPrice(side Side, lots int64, q *model.Quote) (decimal.Decimal, bool) {
	price := sideValue(side, q)
	if price.IsZero() {
		return decimal.Decimal{}, false
	}

	fx, ok := c.fxRate(q)
	if !ok {
		return decimal.Decimal{}, false
	}

	total := decimal.NewFromInt(lots).
		Mul(decimal.NewFromInt(q.LotSize)).
		Mul(price).
		Mul(fx)

	if q.Market == model.MarketBonds {
		total = total.Mul(_percent).Mul(q.InitialFaceValue)
	}

	return total, true
}

// UnitPrice is the rouble price of one raw unit: one lot divided by the
// lot size. Used for holdings valuation.
func (c *Calculator) UnitPrice(side Side, q *model.Quote) (decimal.Decimal, bool) {
	total, ok := c.FinalPrice(side, 1, q)
	if !ok || q.LotSize <= 0 {
		return decimal.Decimal{}, false
	}
	return total.Div(decimal.NewFromInt(q.LotSize)), true
}

func sideValue(side Side, q *model.Quote) decimal.Decimal {
	switch side {
	case Bid:
		return q.Bid
	case Offer:
		return q.Offer
	case LastSettled:
		return q.PrevAdmittedQuote
	}
	return decimal.Decimal{}
}

func (c *Calculator) fxRate(q *model.Quote) (decimal.Decimal, bool) {
	switch q.CurrencyID {
	case model.RUB, model.SUR:
		return decimal.NewFromInt(1), true
	case model.USD:
		if q.USDFix.IsZero() {
			c.logger.Errorf("no usd fix for instrument %s", q.SecID)
			return decimal.Decimal{}, false
		}
		return q.USDFix, true
	case model.EUR:
		if q.EURFix.IsZero() {
			c.logger.Errorf("no eur fix for instrument %s", q.SecID)
			return decimal.Decimal{}, false
		}
		return q.EURFix, true
	}

	c.logger.Errorf("unknown currency %q for instrument %s", q.CurrencyID, q.SecID)
	return decimal.Decimal{}, false
}
