package model

import (
	"time"

	"github.com/shopspring/decimal"
)

const (
	OperationBuy  = "buy"
	OperationSell = "sell"
)

// Trade carries the already-computed numbers of one buy or sell into the
// store transaction. The quote is resolved before the transaction opens.
type Trade struct {
	UserID    int64
	Ticker    string
	Units     int64 // lots × lot size
	UnitPrice decimal.Decimal
	Total     decimal.Decimal
	Quote     *Quote // source for holding fields on a first buy
	Time      time.Time
}

// Receipt is what the caller gets back after a committed trade.
type Receipt struct {
	Ticker    string
	Operation string
	Units     int64
	UnitPrice decimal.Decimal
	Total     decimal.Decimal
	Balance   decimal.Decimal
}

// BorderUpdate is one setBorders write; it always clears the email_sent
// flag so a changed threshold re-arms notification.
type BorderUpdate struct {
	UserID       int64
	Ticker       string
	MinBorder    decimal.NullDecimal
	MaxBorder    decimal.NullDecimal
	Notification bool
}

// Position is one valued holding in a portfolio view.
type Position struct {
	Holding
	CurrentPrice decimal.Decimal
	Value        decimal.Decimal
}

type PortfolioView struct {
	Cash      decimal.Decimal
	Total     decimal.Decimal
	Positions []Position
}
