package moex

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/moex-sandbox/invest-engine/internal/config"
	"github.com/moex-sandbox/invest-engine/internal/logger"
	"github.com/moex-sandbox/invest-engine/internal/model"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"
)

const (
	_descriptionShare = `{
		"description": {
			"columns": ["name", "value"],
			"data": [
				["SECID", "SBER"],
				["NAME", "Сбербанк России ПАО ао"],
				["ISQUALIFIEDINVESTORS", "0"]
			]
		},
		"boards": {
			"columns": ["secid", "boardid", "title", "market", "engine", "is_primary", "currencyid"],
			"data": [
				["SBER", "SMAL", "Т+: Неполные лоты", "shares", "stock", 0, "RUB"],
				["SBER", "TQBR", "Т+: Акции и ДР", "shares", "stock", 1, "RUB"]
			]
		}
	}`
	_descriptionForeign = `{
		"description": {
			"columns": ["name", "value"],
			"data": [
				["SECID", "AAPL-RM"],
				["NAME", "Apple Inc."],
				["ISQUALIFIEDINVESTORS", "0"]
			]
		},
		"boards": {
			"columns": ["secid", "boardid", "title", "market", "engine", "is_primary", "currencyid"],
			"data": [
				["AAPL-RM", "TQBD", "Т+: Акции ин. эмитентов", "foreignshares", "stock", 1, "USD"]
			]
		}
	}`
	_marketShare = `{
		"securities": {
			"columns": ["LOTSIZE", "STATUS", "PREVADMITTEDQUOTE"],
			"data": [[10, "A", 250.5]]
		},
		"marketdata": {
			"columns": ["BID", "OFFER"],
			"data": [[251.1, 252.3]]
		}
	}`
	_marketForeign = `{
		"securities": {
			"columns": ["LOTSIZE", "STATUS", "PREVADMITTEDQUOTE"],
			"data": [[1, "A", 150.0]]
		},
		"marketdata": {
			"columns": ["BID", "OFFER"],
			"data": [[149.5, 150.5]]
		}
	}`
	_usdFix = `{"marketdata": {"columns": ["CURRENTVALUE"], "data": [[90.5]]}}`
	_eurFix = `{"marketdata": {"columns": ["CURRENTVALUE"], "data": [[99.25]]}}`
)

func newTestClient(t *testing.T, handler http.HandlerFunc) *Client {
	t.Helper()

	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)

	client := NewClient(config.ISSConfig{
		BaseURL:           srv.URL,
		Timeout:           5 * time.Second,
		RequestsPerMinute: 10000,
	}, logger.NewNopLogger())
	t.Cleanup(func() { _ = client.Close() })

	return client
}

func TestQuoteShare(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/iss/securities/sber.json":
			_, _ = w.Write([]byte(_descriptionShare))
		case "/iss/engines/stock/markets/shares/boards/TQBR/securities/sber.json":
			_, _ = w.Write([]byte(_marketShare))
		case "/iss/engines/currency/markets/index/securities/usdfix.json":
			_, _ = w.Write([]byte(_usdFix))
		case "/iss/engines/currency/markets/index/securities/eurfix.json":
			_, _ = w.Write([]byte(_eurFix))
		default:
			t.Errorf("unexpected request %s", r.URL.Path)
			w.WriteHeader(http.StatusNotFound)
		}
	})

	q, err := client.Quote(context.Background(), "sber")
	require.NoError(t, err)

	require.Equal(t, "sber", q.SecID)
	require.Equal(t, "TQBR", q.BoardID)
	require.Equal(t, "stock", q.Engine)
	require.Equal(t, model.MarketShares, q.Market)
	require.Equal(t, model.RUB, q.CurrencyID)
	require.Equal(t, model.StatusTradable, q.Status)
	require.EqualValues(t, 10, q.LotSize)
	require.False(t, q.IsQualifiedInvestors)
	require.True(t, q.Bid.Equal(decimal.NewFromFloat(251.1)))
	require.True(t, q.Offer.Equal(decimal.NewFromFloat(252.3)))
	require.True(t, q.PrevAdmittedQuote.Equal(decimal.NewFromFloat(250.5)))
	require.True(t, q.USDFix.Equal(decimal.NewFromFloat(90.5)))
	require.True(t, q.EURFix.Equal(decimal.NewFromFloat(99.25)))
}

// Offsets must be resolved by column name, not position.
func TestQuoteColumnOrder(t *testing.T) {
	shuffledMarket := `{
		"securities": {
			"columns": ["STATUS", "PREVADMITTEDQUOTE", "LOTSIZE"],
			"data": [["A", 250.5, 10]]
		},
		"marketdata": {
			"columns": ["OFFER", "BID"],
			"data": [[252.3, 251.1]]
		}
	}`
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/iss/securities/sber.json":
			_, _ = w.Write([]byte(_descriptionShare))
		case "/iss/engines/stock/markets/shares/boards/TQBR/securities/sber.json":
			_, _ = w.Write([]byte(shuffledMarket))
		default:
			_, _ = w.Write([]byte(_usdFix))
		}
	})

	q, err := client.Quote(context.Background(), "sber")
	require.NoError(t, err)
	require.EqualValues(t, 10, q.LotSize)
	require.True(t, q.Bid.Equal(decimal.NewFromFloat(251.1)))
	require.True(t, q.Offer.Equal(decimal.NewFromFloat(252.3)))
}

func TestQuoteNullPrices(t *testing.T) {
	closedMarket := `{
		"securities": {
			"columns": ["LOTSIZE", "STATUS", "PREVADMITTEDQUOTE"],
			"data": [[10, "A", 250.5]]
		},
		"marketdata": {
			"columns": ["BID", "OFFER"],
			"data": [[null, null]]
		}
	}`
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/iss/securities/sber.json":
			_, _ = w.Write([]byte(_descriptionShare))
		case "/iss/engines/stock/markets/shares/boards/TQBR/securities/sber.json":
			_, _ = w.Write([]byte(closedMarket))
		default:
			_, _ = w.Write([]byte(_usdFix))
		}
	})

	q, err := client.Quote(context.Background(), "sber")
	require.NoError(t, err)
	require.True(t, q.Bid.IsZero())
	require.True(t, q.Offer.IsZero())
	require.True(t, q.PrevAdmittedQuote.Equal(decimal.NewFromFloat(250.5)))
}

func TestQuoteNotTradable(t *testing.T) {
	suspended := `{
		"securities": {
			"columns": ["LOTSIZE", "STATUS", "PREVADMITTEDQUOTE"],
			"data": [[10, "N", 250.5]]
		},
		"marketdata": {
			"columns": ["BID", "OFFER"],
			"data": [[251.1, 252.3]]
		}
	}`
	var fixCalls int
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/iss/securities/sber.json":
			_, _ = w.Write([]byte(_descriptionShare))
		case "/iss/engines/stock/markets/shares/boards/TQBR/securities/sber.json":
			_, _ = w.Write([]byte(suspended))
		default:
			fixCalls++
			_, _ = w.Write([]byte(_usdFix))
		}
	})

	_, err := client.Quote(context.Background(), "sber")
	require.ErrorIs(t, err, ErrNotTradable)
	require.Zero(t, fixCalls, "fixes must not be requested for a non-tradable instrument")
}

// A rouble instrument keeps working when the fix endpoint is down; a
// foreign one can't be priced.
func TestQuoteFixesDown(t *testing.T) {
	t.Run("rouble proceeds", func(t *testing.T) {
		client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
			switch r.URL.Path {
			case "/iss/securities/sber.json":
				_, _ = w.Write([]byte(_descriptionShare))
			case "/iss/engines/stock/markets/shares/boards/TQBR/securities/sber.json":
				_, _ = w.Write([]byte(_marketShare))
			default:
				w.WriteHeader(http.StatusInternalServerError)
			}
		})

		q, err := client.Quote(context.Background(), "sber")
		require.NoError(t, err)
		require.True(t, q.USDFix.IsZero())
		require.True(t, q.EURFix.IsZero())
	})

	t.Run("foreign fails", func(t *testing.T) {
		client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
			switch r.URL.Path {
			case "/iss/securities/aapl-rm.json":
				_, _ = w.Write([]byte(_descriptionForeign))
			case "/iss/engines/stock/markets/foreignshares/boards/TQBD/securities/aapl-rm.json":
				_, _ = w.Write([]byte(_marketForeign))
			default:
				w.WriteHeader(http.StatusInternalServerError)
			}
		})

		_, err := client.Quote(context.Background(), "aapl-rm")
		require.ErrorIs(t, err, ErrCurrencyUnavailable)
	})
}

func TestQuoteNoPrimaryBoard(t *testing.T) {
	noPrimary := `{
		"description": {
			"columns": ["name", "value"],
			"data": [["SECID", "SBER"]]
		},
		"boards": {
			"columns": ["secid", "boardid", "title", "market", "engine", "is_primary", "currencyid"],
			"data": [["SBER", "SMAL", "Т+: Неполные лоты", "shares", "stock", 0, "RUB"]]
		}
	}`
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(noPrimary))
	})

	_, err := client.Quote(context.Background(), "sber")
	require.ErrorIs(t, err, ErrMalformed)
}

func TestQuoteMissingColumn(t *testing.T) {
	noStatus := `{
		"securities": {
			"columns": ["LOTSIZE", "PREVADMITTEDQUOTE"],
			"data": [[10, 250.5]]
		},
		"marketdata": {
			"columns": ["BID", "OFFER"],
			"data": [[251.1, 252.3]]
		}
	}`
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/iss/securities/sber.json":
			_, _ = w.Write([]byte(_descriptionShare))
		default:
			_, _ = w.Write([]byte(noStatus))
		}
	})

	_, err := client.Quote(context.Background(), "sber")
	require.ErrorIs(t, err, ErrMalformed)
}

func TestQuoteBondWithoutFaceValue(t *testing.T) {
	bond := `{
		"description": {
			"columns": ["name", "value"],
			"data": [
				["SECID", "SU26238RMFS4"],
				["FACEUNIT", "SUR"]
			]
		},
		"boards": {
			"columns": ["secid", "boardid", "title", "market", "engine", "is_primary", "currencyid"],
			"data": [["SU26238RMFS4", "TQOB", "Т+: Гособлигации", "bonds", "stock", 1, "SUR"]]
		}
	}`
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(bond))
	})

	_, err := client.Quote(context.Background(), "su26238rmfs4")
	require.ErrorIs(t, err, ErrMalformed)
}

func TestQuoteServerError(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	})

	_, err := client.Quote(context.Background(), "sber")
	require.ErrorIs(t, err, ErrUnavailable)
}

func TestQuoteGarbageBody(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte("<html>maintenance</html>"))
	})

	_, err := client.Quote(context.Background(), "sber")
	require.ErrorIs(t, err, ErrMalformed)
}

func TestQuoteBond(t *testing.T) {
	bondDescription := `{
		"description": {
			"columns": ["name", "value"],
			"data": [
				["SECID", "SU26238RMFS4"],
				["NAME", "ОФЗ-ПД 26238"],
				["ISQUALIFIEDINVESTORS", "0"],
				["FACEUNIT", "SUR"],
				["INITIALFACEVALUE", "1000"]
			]
		},
		"boards": {
			"columns": ["secid", "boardid", "title", "market", "engine", "is_primary", "currencyid"],
			"data": [["SU26238RMFS4", "TQOB", "Т+: Гособлигации", "bonds", "stock", 1, "SUR"]]
		}
	}`
	bondMarket := `{
		"securities": {
			"columns": ["LOTSIZE", "STATUS", "PREVADMITTEDQUOTE"],
			"data": [[1, "A", 61.8]]
		},
		"marketdata": {
			"columns": ["BID", "OFFER"],
			"data": [[61.7, 61.9]]
		}
	}`
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/iss/securities/su26238rmfs4.json":
			_, _ = w.Write([]byte(bondDescription))
		case "/iss/engines/stock/markets/bonds/boards/TQOB/securities/su26238rmfs4.json":
			_, _ = w.Write([]byte(bondMarket))
		default:
			_, _ = w.Write([]byte(_usdFix))
		}
	})

	q, err := client.Quote(context.Background(), "su26238rmfs4")
	require.NoError(t, err)
	require.Equal(t, model.MarketBonds, q.Market)
	require.Equal(t, model.SUR, q.CurrencyID)
	require.Equal(t, "sur", q.FaceUnit)
	require.True(t, q.InitialFaceValue.Equal(decimal.NewFromInt(1000)))
	require.EqualValues(t, 1, q.LotSize)
}
