package model

import (
	"time"

	"github.com/shopspring/decimal"
)

// Holding is one row of the depo table: user×instrument, quantity in raw
// units (lots × lot size).
type Holding struct {
	UserID               int64               `db:"user_id"`
	Ticker               string              `db:"ticker"`
	LotSize              int64               `db:"lotsize"`
	Name                 string              `db:"name"`
	IsQualifiedInvestors bool                `db:"isqualifiedinvestors"`
	InitialFaceValue     decimal.NullDecimal `db:"initialfacevalue"`
	Number               int64               `db:"number"`
	Currency             Currency            `db:"currency"`
	Market               Market              `db:"market"`
	MinBorder            decimal.NullDecimal `db:"min_border"`
	MaxBorder            decimal.NullDecimal `db:"max_border"`
	Notification         bool                `db:"notification"`
	EmailSent            bool                `db:"email_sent"`
}

type LogEntry struct {
	ID         int64           `db:"id"`
	UserID     int64           `db:"user_id"`
	Ticker     string          `db:"ticker"`
	Operation  string          `db:"operation"` // buy | sell
	Price      decimal.Decimal `db:"price"`
	PriceTotal decimal.Decimal `db:"price_total"`
	Number     int64           `db:"number"`
	DateTime   time.Time       `db:"date_time"`
}

// Watcher is the scheduler's join row: a notification-enabled holding
// with its owner's contact address.
type Watcher struct {
	UserID    int64               `db:"user_id"`
	Email     string              `db:"email"`
	Ticker    string              `db:"ticker"`
	MinBorder decimal.NullDecimal `db:"min_border"`
	MaxBorder decimal.NullDecimal `db:"max_border"`
	EmailSent bool                `db:"email_sent"`
}

type BreachKind string

const (
	BelowMin BreachKind = "below-min"
	AboveMax BreachKind = "above-max"
)

// Alert is one breach to notify about. Not persisted beyond the
// email_sent flag on the holding.
type Alert struct {
	Watcher
	Kind   BreachKind
	Border decimal.Decimal
	Price  decimal.Decimal
	Time   time.Time
}
