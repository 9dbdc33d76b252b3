package ledger

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/moex-sandbox/invest-engine/internal/logger"
	"github.com/moex-sandbox/invest-engine/internal/model"
	"github.com/shopspring/decimal"
)

const (
	_queryBalance      = "SELECT account FROM broker WHERE user_id = $1"
	_queryHolding      = "SELECT * FROM depo WHERE user_id = $1 AND ticker = $2"
	_queryHoldings     = "SELECT * FROM depo WHERE user_id = $1 ORDER BY ticker"
	_queryUserEmail    = "SELECT email FROM users WHERE user_id = $1"
	_queryTickerExists = "SELECT EXISTS(SELECT 1 FROM listing WHERE secid = $1)"
	_queryHistory      = `SELECT id, user_id, ticker, operation, price, price_total, number, date_time
							FROM log
							WHERE user_id = $1 AND operation IN ('buy', 'sell')
							ORDER BY date_time DESC`
	_insertAppLog = "INSERT INTO app_log (log_text, date_time) VALUES ($1, $2)"
)

const (
	_upsertHolding = `INSERT INTO depo (
							user_id,
							ticker,
							lotsize,
							name,
							isqualifiedinvestors,
							initialfacevalue,
							number,
							currency,
							market,
							notification,
							email_sent
						) VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,FALSE,FALSE)
						ON CONFLICT (user_id, ticker)
						DO UPDATE SET number = depo.number + EXCLUDED.number`
	_debitAccount  = "UPDATE broker SET account = account - $1 WHERE user_id = $2"
	_creditAccount = "UPDATE broker SET account = account + $1 WHERE user_id = $2"
	_insertLog     = `INSERT INTO log (user_id, ticker, operation, price, price_total, number, date_time)
						VALUES ($1,$2,$3,$4,$5,$6,$7)`

	_lockHolding      = "SELECT number FROM depo WHERE user_id = $1 AND ticker = $2 FOR UPDATE"
	_decrementHolding = "UPDATE depo SET number = number - $1 WHERE user_id = $2 AND ticker = $3 RETURNING number"
	_deleteHolding    = "DELETE FROM depo WHERE user_id = $1 AND ticker = $2"

	_updateBorders = `UPDATE depo
						SET min_border = $1, max_border = $2, notification = $3, email_sent = FALSE
						WHERE user_id = $4 AND ticker = $5`
)

const (
	_queryWatchers = `SELECT d.user_id, u.email, d.ticker, d.min_border, d.max_border, d.email_sent
						FROM depo d
						JOIN users u ON d.user_id = u.user_id
						WHERE d.notification = TRUE`
	_markEmailSent = "UPDATE depo SET email_sent = TRUE WHERE user_id = $1 AND ticker = $2"
)

// SQLStore is the postgres persistence boundary. Trades commit under row
// locks so concurrent operations on the same (user, ticker) pair serialize
// inside the database, never in process memory.
type SQLStore struct {
	db     *sqlx.DB
	logger logger.Logger
}

func NewSQLStore(db *sqlx.DB, logger logger.Logger) *SQLStore {
	return &SQLStore{db: db, logger: logger}
}

func (s *SQLStore) Balance(ctx context.Context, userID int64) (decimal.Decimal, error) {
	var balance decimal.Decimal
	if err := s.db.GetContext(ctx, &balance, _queryBalance, userID); err != nil {
		return decimal.Decimal{}, fmt.Errorf("%w: can't query account", err)
	}
	return balance, nil
}

func (s *SQLStore) Holding(ctx context.Context, userID int64, ticker string) (*model.Holding, error) {
	var h model.Holding
	if err := s.db.GetContext(ctx, &h, _queryHolding, userID, ticker); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("%w: can't query holding", err)
	}
	return &h, nil
}

func (s *SQLStore) Holdings(ctx context.Context, userID int64) ([]model.Holding, error) {
	var holdings []model.Holding
	if err := s.db.SelectContext(ctx, &holdings, _queryHoldings, userID); err != nil {
		return nil, fmt.Errorf("%w: can't query holdings", err)
	}
	return holdings, nil
}

func (s *SQLStore) UserEmail(ctx context.Context, userID int64) (string, error) {
	var email sql.NullString
	if err := s.db.GetContext(ctx, &email, _queryUserEmail, userID); err != nil {
		return "", fmt.Errorf("%w: can't query user email", err)
	}
	return email.String, nil
}

func (s *SQLStore) TickerExists(ctx context.Context, secID string) (bool, error) {
	var exists bool
	if err := s.db.GetContext(ctx, &exists, _queryTickerExists, secID); err != nil {
		return false, fmt.Errorf("%w: can't query listing", err)
	}
	return exists, nil
}

func (s *SQLStore) History(ctx context.Context, userID int64) ([]model.LogEntry, error) {
	var entries []model.LogEntry
	if err := s.db.SelectContext(ctx, &entries, _queryHistory, userID); err != nil {
		return nil, fmt.Errorf("%w: can't query log", err)
	}
	return entries, nil
}

func (s *SQLStore) ApplyBuy(ctx context.Context, t model.Trade) error {
	return s.withTx(ctx, func(tx *sqlx.Tx) error {
		q := t.Quote
		faceValue := decimal.NullDecimal{Decimal: q.InitialFaceValue, Valid: !q.InitialFaceValue.IsZero()}
		if _, err := tx.ExecContext(ctx, _upsertHolding,
			t.UserID,
			t.Ticker,
			q.LotSize,
			q.Name,
			q.IsQualifiedInvestors,
			faceValue,
			t.Units,
			q.CurrencyID,
			q.Market,
		); err != nil {
			return fmt.Errorf("%w: can't upsert holding", err)
		}

		if _, err := tx.ExecContext(ctx, _debitAccount, t.Total, t.UserID); err != nil {
			return fmt.Errorf("%w: can't debit account", err)
		}

		if _, err := tx.ExecContext(ctx, _insertLog,
			t.UserID, t.Ticker, model.OperationBuy, t.UnitPrice, t.Total, t.Units, t.Time,
		); err != nil {
			return fmt.Errorf("%w: can't append log entry", err)
		}

		return nil
	})
}

func (s *SQLStore) ApplySell(ctx context.Context, t model.Trade) error {
	return s.withTx(ctx, func(tx *sqlx.Tx) error {
		// lock the holding first: a concurrent sell of the same pair must
		// see the decremented quantity, not the pre-trade one
		var number int64
		if err := tx.GetContext(ctx, &number, _lockHolding, t.UserID, t.Ticker); err != nil {
			if errors.Is(err, sql.ErrNoRows) {
				return ErrNoHolding
			}
			return fmt.Errorf("%w: can't lock holding", err)
		}
		if number < t.Units {
			return fmt.Errorf("%w: need %d units, have %d", ErrInsufficientHoldings, t.Units, number)
		}

		var left int64
		if err := tx.GetContext(ctx, &left, _decrementHolding, t.Units, t.UserID, t.Ticker); err != nil {
			return fmt.Errorf("%w: can't decrement holding", err)
		}
		if left == 0 {
			if _, err := tx.ExecContext(ctx, _deleteHolding, t.UserID, t.Ticker); err != nil {
				return fmt.Errorf("%w: can't delete empty holding", err)
			}
		}

		if _, err := tx.ExecContext(ctx, _creditAccount, t.Total, t.UserID); err != nil {
			return fmt.Errorf("%w: can't credit account", err)
		}

		if _, err := tx.ExecContext(ctx, _insertLog,
			t.UserID, t.Ticker, model.OperationSell, t.UnitPrice, t.Total, t.Units, t.Time,
		); err != nil {
			return fmt.Errorf("%w: can't append log entry", err)
		}

		return nil
	})
}

func (s *SQLStore) UpdateBorders(ctx context.Context, b model.BorderUpdate) error {
	res, err := s.db.ExecContext(ctx, _updateBorders,
		b.MinBorder, b.MaxBorder, b.Notification, b.UserID, b.Ticker,
	)
	if err != nil {
		return fmt.Errorf("%w: can't update borders", err)
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return ErrNoHolding
	}
	return nil
}

func (s *SQLStore) Watchers(ctx context.Context) ([]model.Watcher, error) {
	var watchers []model.Watcher
	if err := s.db.SelectContext(ctx, &watchers, _queryWatchers); err != nil {
		return nil, fmt.Errorf("%w: can't query watchers", err)
	}
	return watchers, nil
}

// MarkEmailSent flips the alert flag for every given watcher in one
// batch. Each flag is its own row update inside a single tx.
func (s *SQLStore) MarkEmailSent(ctx context.Context, watchers []model.Watcher) error {
	return s.withTx(ctx, func(tx *sqlx.Tx) error {
		for _, w := range watchers {
			if _, err := tx.ExecContext(ctx, _markEmailSent, w.UserID, w.Ticker); err != nil {
				return fmt.Errorf("%w: can't mark email sent for user_id=%d ticker=%s", err, w.UserID, w.Ticker)
			}
		}
		return nil
	})
}

// AppLog is best effort: a failed operational-log write must never fail
// the operation it describes.
func (s *SQLStore) AppLog(ctx context.Context, text string) {
	if _, err := s.db.ExecContext(ctx, _insertAppLog, text, time.Now()); err != nil {
		s.logger.Errorf("%s: can't append app_log entry", err)
	}
}

func (s *SQLStore) withTx(ctx context.Context, fn func(tx *sqlx.Tx) error) error {
	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("%w: can't begin tx", err)
	}

	if err := fn(tx); err != nil {
		if rbErr := tx.Rollback(); rbErr != nil {
			s.logger.Errorf("%s: can't rollback tx", rbErr)
		}
		return err
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("%w: can't commit tx", err)
	}
	return nil
}
