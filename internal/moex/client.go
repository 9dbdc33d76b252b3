package moex

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/moex-sandbox/invest-engine/internal/config"
	"github.com/moex-sandbox/invest-engine/internal/logger"
	"github.com/moex-sandbox/invest-engine/internal/model"
	"github.com/shopspring/decimal"
	"go.uber.org/ratelimit"
	"resty.dev/v3"
)

var (
	ErrUnavailable         = errors.New("iss is unavailable")
	ErrMalformed           = errors.New("malformed iss response")
	ErrNotTradable         = errors.New("instrument is not tradable")
	ErrCurrencyUnavailable = errors.New("currency fixes are unavailable")
)

const (
	_securityURL = "/iss/securities/%s.json" +
		"?iss.meta=off" +
		"&description.columns=name,value" +
		"&boards.columns=secid,boardid,title,market,engine,is_primary,currencyid"
	_marketURL = "/iss/engines/%s/markets/%s/boards/%s/securities/%s.json" +
		"?iss.meta=off" +
		"&iss.only=securities,marketdata" +
		"&securities.columns=LOTSIZE,STATUS,PREVADMITTEDQUOTE" +
		"&marketdata.columns=BID,OFFER"
	_fixURL = "/iss/engines/currency/markets/index/securities/%s.json" +
		"?iss.meta=off" +
		"&iss.only=marketdata" +
		"&marketdata.columns=CURRENTVALUE"
)

// Client resolves tradable quotes from the MOEX ISS API. One instance
// serves both trade handling and the notification scheduler; callers never
// retry here, retry policy belongs to them.
type Client struct {
	c           *resty.Client
	rateLimiter ratelimit.Limiter

	logger logger.Logger
}

func NewClient(cfg config.ISSConfig, logger logger.Logger) *Client {
	client := resty.New().
		SetLogger(logger).
		SetBaseURL(cfg.BaseURL).
		SetTimeout(cfg.Timeout)

	return &Client{
		c:           client,
		rateLimiter: ratelimit.New(cfg.RequestsPerMinute, ratelimit.Per(1*time.Minute)),
		logger:      logger,
	}
}

func (c *Client) Close() error {
	return c.c.Close()
}

// Quote resolves a full quote for a ticker: description + primary board,
// then board market data, then USD/EUR fixes. Every failure is logged with
// the ticker before it is returned.
func (c *Client) Quote(ctx context.Context, ticker string) (*model.Quote, error) {
	q, err := c.description(ctx, ticker)
	if err != nil {
		c.logger.Errorf("%s: iss_description ticker=%s", err, ticker)
		return nil, err
	}

	if err := c.marketData(ctx, q); err != nil {
		c.logger.Errorf("%s: iss_marketdata ticker=%s", err, ticker)
		return nil, err
	}

	if err := c.currencyFixes(ctx, q); err != nil {
		c.logger.Errorf("%s: iss_currency ticker=%s", err, ticker)
		return nil, err
	}

	return q, nil
}

func (c *Client) description(ctx context.Context, ticker string) (*model.Quote, error) {
	var resp securityResponse
	if err := c.get(ctx, fmt.Sprintf(_securityURL, ticker), &resp); err != nil {
		return nil, err
	}

	nameIdx, err := resp.Description.index("name")
	if err != nil {
		return nil, err
	}
	valueIdx, err := resp.Description.index("value")
	if err != nil {
		return nil, err
	}

	q := &model.Quote{}
	for _, row := range resp.Description.Data {
		value := stringAt(row, valueIdx)
		switch stringAt(row, nameIdx) {
		case "SECID":
			q.SecID = strings.ToLower(value)
		case "NAME":
			q.Name = strings.ToLower(value)
		case "ISQUALIFIEDINVESTORS":
			q.IsQualifiedInvestors = value == "1" || strings.EqualFold(value, "true")
		case "FACEUNIT":
			q.FaceUnit = strings.ToLower(value)
		case "INITIALFACEVALUE":
			fv, err := decimal.NewFromString(value)
			if err != nil {
				return nil, fmt.Errorf("%w: bad INITIALFACEVALUE %q", ErrMalformed, value)
			}
			q.InitialFaceValue = fv
		}
	}
	if q.SecID == "" {
		return nil, fmt.Errorf("%w: no SECID in description", ErrMalformed)
	}

	boardIdx, err := resp.Boards.index("boardid")
	if err != nil {
		return nil, err
	}
	marketIdx, err := resp.Boards.index("market")
	if err != nil {
		return nil, err
	}
	engineIdx, err := resp.Boards.index("engine")
	if err != nil {
		return nil, err
	}
	primaryIdx, err := resp.Boards.index("is_primary")
	if err != nil {
		return nil, err
	}
	currencyIdx, err := resp.Boards.index("currencyid")
	if err != nil {
		return nil, err
	}

	for _, row := range resp.Boards.Data {
		if floatAt(row, primaryIdx) == 1 {
			q.BoardID = stringAt(row, boardIdx)
			q.Engine = stringAt(row, engineIdx)
			q.Market = model.Market(stringAt(row, marketIdx))
			q.CurrencyID = model.Currency(strings.ToLower(stringAt(row, currencyIdx)))
		}
	}
	if q.BoardID == "" {
		return nil, fmt.Errorf("%w: no primary board", ErrMalformed)
	}
	if q.Market == model.MarketBonds && q.InitialFaceValue.IsZero() {
		return nil, fmt.Errorf("%w: bond without INITIALFACEVALUE", ErrMalformed)
	}

	return q, nil
}

func (c *Client) marketData(ctx context.Context, q *model.Quote) error {
	var resp marketResponse
	url := fmt.Sprintf(_marketURL, q.Engine, q.Market, q.BoardID, q.SecID)
	if err := c.get(ctx, url, &resp); err != nil {
		return err
	}

	lotIdx, err := resp.Securities.index("LOTSIZE")
	if err != nil {
		return err
	}
	statusIdx, err := resp.Securities.index("STATUS")
	if err != nil {
		return err
	}
	prevIdx, err := resp.Securities.index("PREVADMITTEDQUOTE")
	if err != nil {
		return err
	}

	row, err := resp.Securities.firstRow()
	if err != nil {
		return err
	}

	q.Status = stringAt(row, statusIdx)
	if q.Status != model.StatusTradable {
		return fmt.Errorf("%w: status %q", ErrNotTradable, q.Status)
	}

	q.LotSize = int64(floatAt(row, lotIdx))
	if q.LotSize <= 0 {
		return fmt.Errorf("%w: lot size %d", ErrMalformed, q.LotSize)
	}
	q.PrevAdmittedQuote = decimal.NewFromFloat(floatAt(row, prevIdx))

	bidIdx, err := resp.Marketdata.index("BID")
	if err != nil {
		return err
	}
	offerIdx, err := resp.Marketdata.index("OFFER")
	if err != nil {
		return err
	}

	mdRow, err := resp.Marketdata.firstRow()
	if err != nil {
		return err
	}
	q.Bid = decimal.NewFromFloat(floatAt(mdRow, bidIdx))
	q.Offer = decimal.NewFromFloat(floatAt(mdRow, offerIdx))

	return nil
}

// currencyFixes is best effort for rouble instruments: a rub/sur quote
// stays priceable without FX, anything else can't be priced.
func (c *Client) currencyFixes(ctx context.Context, q *model.Quote) error {
	usd, usdErr := c.fix(ctx, "usdfix")
	eur, eurErr := c.fix(ctx, "eurfix")
	if usdErr != nil || eurErr != nil {
		if q.CurrencyID.IsRouble() {
			c.logger.Warnf("no currency fixes for rouble instrument %s, pricing without fx", q.SecID)
			return nil
		}
		return fmt.Errorf("%w: %s", ErrCurrencyUnavailable, errors.Join(usdErr, eurErr))
	}

	q.USDFix = usd
	q.EURFix = eur
	return nil
}

func (c *Client) fix(ctx context.Context, secID string) (decimal.Decimal, error) {
	var resp fixResponse
	if err := c.get(ctx, fmt.Sprintf(_fixURL, secID), &resp); err != nil {
		return decimal.Decimal{}, err
	}

	idx, err := resp.Marketdata.index("CURRENTVALUE")
	if err != nil {
		return decimal.Decimal{}, err
	}
	row, err := resp.Marketdata.firstRow()
	if err != nil {
		return decimal.Decimal{}, err
	}

	value := floatAt(row, idx)
	if value <= 0 {
		return decimal.Decimal{}, fmt.Errorf("%w: empty %s value", ErrMalformed, secID)
	}

	return decimal.NewFromFloat(value), nil
}

func (c *Client) get(ctx context.Context, url string, out any) error {
	c.rateLimiter.Take()

	resp, err := c.c.R().SetContext(ctx).Get(url)
	if err != nil {
		return fmt.Errorf("%w: %s", ErrUnavailable, err)
	}
	defer resp.Body.Close()

	c.logger.Debugf("got response %s status: %s, %s", resp.Request.URL, resp.Status(), resp.Duration())

	if resp.IsError() {
		return fmt.Errorf("%w: status %s", ErrUnavailable, strconv.Itoa(resp.StatusCode()))
	}

	return decode(resp.Bytes(), out)
}
