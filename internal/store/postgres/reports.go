package postgres

import (
	"context"
	"database/sql"
	"fmt"
	"sort"
	"time"

	"github.com/shopspring/decimal"

	"shopledger/backend/internal/domain"
	"shopledger/backend/internal/store"
	"shopledger/backend/internal/window"
)

// queryer is satisfied by both *sql.DB and *sql.Tx, so every report query can
// run standalone or inside a snapshot.
type queryer interface {
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

// effectiveBrandSQL mirrors store.EffectiveBrand.
const effectiveBrandSQL = `COALESCE(NULLIF(i.brand, ''), NULLIF(l.brand, ''), 'Unknown')`

// snapshot runs fn inside a read-only REPEATABLE READ transaction so that all
// of its queries observe the same committed state.
func (s *Store) snapshot(ctx context.Context, fn func(q queryer) error) error {
	tx, err := s.db.BeginTx(ctx, &sql.TxOptions{Isolation: sql.LevelRepeatableRead, ReadOnly: true})
	if err != nil {
		return storageErr("begin snapshot", err)
	}
	defer func() { _ = tx.Rollback() }()

	if err := fn(tx); err != nil {
		return err
	}
	if err := tx.Commit(); err != nil {
		return storageErr("end snapshot", err)
	}
	return nil
}

func (s *Store) RevenueTotal(ctx context.Context, r window.Range) (decimal.Decimal, error) {
	return revenueTotal(ctx, s.db, r)
}

func (s *Store) RevenueByBrand(ctx context.Context, r window.Range, limit int) ([]domain.BrandRevenue, error) {
	return revenueByBrand(ctx, s.db, r, limit)
}

func (s *Store) TransactionHistory(ctx context.Context, r window.Range, limit int) ([]domain.LedgerRow, error) {
	return transactionHistory(ctx, s.db, r, limit)
}

func (s *Store) SalesReport(ctx context.Context, q store.ReportQuery) (domain.SalesReport, error) {
	report := domain.SalesReport{From: q.Range.From, To: q.Range.To}
	err := s.snapshot(ctx, func(tx queryer) error {
		var err error
		if report.RevenueTotal, err = revenueTotal(ctx, tx, q.Range); err != nil {
			return err
		}
		if report.ByBrand, err = revenueByBrand(ctx, tx, q.Range, q.BrandLimit); err != nil {
			return err
		}
		if !q.OmitHistory {
			if report.History, err = transactionHistory(ctx, tx, q.Range, q.HistoryLimit); err != nil {
				return err
			}
		}
		err = tx.QueryRowContext(ctx, `
			SELECT
				(SELECT COUNT(*) FROM sale_transactions WHERE committed_at >= $1 AND committed_at < $2),
				(SELECT COALESCE(SUM(COALESCE(quantity, 0)), 0) FROM sales_ledger WHERE committed_at >= $1 AND committed_at < $2)
		`, q.Range.From, q.Range.To).Scan(&report.Transactions, &report.ItemsSold)
		if err != nil {
			return storageErr("report counts", err)
		}
		report.Version, err = readVersion(ctx, tx)
		return err
	})
	return report, err
}

func revenueTotal(ctx context.Context, q queryer, r window.Range) (decimal.Decimal, error) {
	var total decimal.Decimal
	err := q.QueryRowContext(ctx, `
		SELECT COALESCE(SUM(COALESCE(total, 0)), 0)
		FROM sales_ledger
		WHERE committed_at >= $1 AND committed_at < $2
	`, r.From, r.To).Scan(&total)
	if err != nil {
		return decimal.Zero, storageErr("revenue total", err)
	}
	return total, nil
}

func revenueByBrand(ctx context.Context, q queryer, r window.Range, limit int) ([]domain.BrandRevenue, error) {
	rows, err := q.QueryContext(ctx, `
		SELECT `+effectiveBrandSQL+` AS effective_brand, COALESCE(SUM(COALESCE(l.total, 0)), 0) AS amount
		FROM sales_ledger l
		LEFT JOIN inventory i ON i.barcode = l.barcode
		WHERE l.committed_at >= $1 AND l.committed_at < $2
		GROUP BY 1
		ORDER BY 2 DESC, 1 COLLATE "C" ASC
		LIMIT NULLIF($3::int, 0)
	`, r.From, r.To, limit)
	if err != nil {
		return nil, storageErr("revenue by brand", err)
	}
	defer rows.Close()

	out := make([]domain.BrandRevenue, 0, 16)
	for rows.Next() {
		var row domain.BrandRevenue
		if err := rows.Scan(&row.Brand, &row.Amount); err != nil {
			return nil, storageErr("revenue by brand", err)
		}
		out = append(out, row)
	}
	if err := rows.Err(); err != nil {
		return nil, storageErr("revenue by brand", err)
	}
	return out, nil
}

func transactionHistory(ctx context.Context, q queryer, r window.Range, limit int) ([]domain.LedgerRow, error) {
	rows, err := q.QueryContext(ctx, `
		SELECT l.id, l.barcode, COALESCE(i.category, ''), `+effectiveBrandSQL+`, COALESCE(i.size, ''),
			COALESCE(l.quantity, 0), COALESCE(l.total, 0), l.committed_at
		FROM sales_ledger l
		LEFT JOIN inventory i ON i.barcode = l.barcode
		WHERE l.committed_at >= $1 AND l.committed_at < $2
		ORDER BY l.committed_at DESC, l.id DESC
		LIMIT NULLIF($3::int, 0)
	`, r.From, r.To, limit)
	if err != nil {
		return nil, storageErr("transaction history", err)
	}
	defer rows.Close()

	out := make([]domain.LedgerRow, 0, 64)
	for rows.Next() {
		var row domain.LedgerRow
		if err := rows.Scan(&row.ID, &row.Barcode, &row.Category, &row.Brand, &row.Size,
			&row.Quantity, &row.Total, &row.CommittedAt); err != nil {
			return nil, storageErr("transaction history", err)
		}
		row.UnitPrice = store.UnitPrice(row.Total, row.Quantity)
		out = append(out, row)
	}
	if err := rows.Err(); err != nil {
		return nil, storageErr("transaction history", err)
	}
	return out, nil
}

// DailyRevenue loads the window's ledger totals and summaries once and
// buckets them into the given days.
func (s *Store) DailyRevenue(ctx context.Context, days []window.Range) ([]domain.DayRevenue, error) {
	out := make([]domain.DayRevenue, len(days))
	for i, day := range days {
		out[i] = domain.DayRevenue{Date: day.From.Format("2006-01-02"), Revenue: decimal.Zero}
	}
	if len(days) == 0 {
		return out, nil
	}
	from, to := days[0].From, days[len(days)-1].To

	bucket := func(at time.Time) int {
		i := sort.Search(len(days), func(i int) bool { return at.Before(days[i].To) })
		if i < len(days) && days[i].Contains(at) {
			return i
		}
		return -1
	}

	err := s.snapshot(ctx, func(tx queryer) error {
		rows, err := tx.QueryContext(ctx, `
			SELECT committed_at, COALESCE(total, 0)
			FROM sales_ledger
			WHERE committed_at >= $1 AND committed_at < $2
		`, from, to)
		if err != nil {
			return storageErr("daily revenue", err)
		}
		for rows.Next() {
			var at time.Time
			var total decimal.Decimal
			if err := rows.Scan(&at, &total); err != nil {
				_ = rows.Close()
				return storageErr("daily revenue", err)
			}
			if i := bucket(at); i >= 0 {
				out[i].Revenue = out[i].Revenue.Add(total)
			}
		}
		if err := rows.Err(); err != nil {
			_ = rows.Close()
			return storageErr("daily revenue", err)
		}
		_ = rows.Close()

		txRows, err := tx.QueryContext(ctx, `
			SELECT committed_at
			FROM sale_transactions
			WHERE committed_at >= $1 AND committed_at < $2
		`, from, to)
		if err != nil {
			return storageErr("daily transactions", err)
		}
		defer txRows.Close()
		for txRows.Next() {
			var at time.Time
			if err := txRows.Scan(&at); err != nil {
				return storageErr("daily transactions", err)
			}
			if i := bucket(at); i >= 0 {
				out[i].Transactions++
			}
		}
		if err := txRows.Err(); err != nil {
			return storageErr("daily transactions", err)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

func (s *Store) ListTransactions(ctx context.Context, r window.Range, limit int) ([]domain.TransactionSummary, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, commit_id, description, COALESCE(total, 0), line_count, committed_at
		FROM sale_transactions
		WHERE committed_at >= $1 AND committed_at < $2
		ORDER BY committed_at DESC, id DESC
		LIMIT NULLIF($3::int, 0)
	`, r.From, r.To, limit)
	if err != nil {
		return nil, storageErr("list transactions", err)
	}
	defer rows.Close()

	out := make([]domain.TransactionSummary, 0, 32)
	for rows.Next() {
		var tx domain.TransactionSummary
		if err := rows.Scan(&tx.ID, &tx.CommitID, &tx.Description, &tx.Total, &tx.LineCount, &tx.CommittedAt); err != nil {
			return nil, storageErr("list transactions", err)
		}
		out = append(out, tx)
	}
	if err := rows.Err(); err != nil {
		return nil, storageErr("list transactions", err)
	}
	return out, nil
}

func (s *Store) SupplierRevenue(ctx context.Context, r window.Range) ([]domain.SupplierRevenue, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT COALESCE(NULLIF(supplier, ''), 'Unknown'), COALESCE(SUM(COALESCE(total, 0)), 0)
		FROM sales_ledger
		WHERE committed_at >= $1 AND committed_at < $2
		GROUP BY 1
		ORDER BY 2 DESC, 1 COLLATE "C" ASC
	`, r.From, r.To)
	if err != nil {
		return nil, storageErr("supplier revenue", err)
	}
	defer rows.Close()

	out := make([]domain.SupplierRevenue, 0, 16)
	for rows.Next() {
		var row domain.SupplierRevenue
		if err := rows.Scan(&row.Supplier, &row.Amount); err != nil {
			return nil, storageErr("supplier revenue", err)
		}
		out = append(out, row)
	}
	if err := rows.Err(); err != nil {
		return nil, storageErr("supplier revenue", err)
	}
	return out, nil
}

func (s *Store) SalesChart(ctx context.Context, r window.Range) ([]domain.ChartRow, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT COALESCE(i.category, ''), `+effectiveBrandSQL+`, COALESCE(i.size, ''),
			COALESCE(SUM(COALESCE(l.quantity, 0)), 0), MAX(l.committed_at)
		FROM sales_ledger l
		LEFT JOIN inventory i ON i.barcode = l.barcode
		WHERE l.committed_at >= $1 AND l.committed_at < $2
		GROUP BY 1, 2, 3
		ORDER BY 5 DESC, 4 DESC, 1, 2, 3
	`, r.From, r.To)
	if err != nil {
		return nil, storageErr("sales chart", err)
	}
	defer rows.Close()

	out := make([]domain.ChartRow, 0, 32)
	for rows.Next() {
		var row domain.ChartRow
		if err := rows.Scan(&row.Category, &row.Brand, &row.Size, &row.Quantity, &row.LastSoldAt); err != nil {
			return nil, storageErr("sales chart", err)
		}
		out = append(out, row)
	}
	if err := rows.Err(); err != nil {
		return nil, storageErr("sales chart", err)
	}
	return out, nil
}

// ReportVersion reads the version counter bumped by sale commits and catalog
// writes.
func (s *Store) ReportVersion(ctx context.Context) (string, error) {
	return readVersion(ctx, s.db)
}

func readVersion(ctx context.Context, q queryer) (string, error) {
	var version int64
	if err := q.QueryRowContext(ctx, `SELECT value FROM ledger_version WHERE id = 1`).Scan(&version); err != nil {
		return "", storageErr("report version", err)
	}
	return fmt.Sprintf("pg.%d", version), nil
}
