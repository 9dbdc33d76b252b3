package model

import "github.com/shopspring/decimal"

type Currency string

const (
	RUB Currency = "rub"
	SUR Currency = "sur" // old ISS code for the rouble, still returned for bonds
	USD Currency = "usd"
	EUR Currency = "eur"
)

// IsRouble reports whether no FX fix is needed for pricing.
func (c Currency) IsRouble() bool {
	return c == RUB || c == SUR
}

type Market string

const (
	MarketShares        Market = "shares"
	MarketForeignShares Market = "foreignshares"
	MarketBonds         Market = "bonds"
)

const StatusTradable = "A"

// Quote is a snapshot of one instrument on its primary board. Price fields
// use the decimal zero value for "not present" (ISS returns null outside
// trading hours).
//
// CurrencyID comes from the primary board, FaceUnit from the instrument
// description. For some bonds the two disagree; both are kept and pricing
// follows CurrencyID.
type Quote struct {
	SecID                string
	Name                 string
	IsQualifiedInvestors bool
	FaceUnit             string
	InitialFaceValue     decimal.Decimal // bonds only
	CurrencyID           Currency
	LotSize              int64
	Status               string
	PrevAdmittedQuote    decimal.Decimal
	Bid                  decimal.Decimal
	Offer                decimal.Decimal
	USDFix               decimal.Decimal
	EURFix               decimal.Decimal

	Market  Market
	Engine  string
	BoardID string
}
