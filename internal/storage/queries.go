package storage

import (
	"context"
	"database/sql"
)

// DBTX is satisfied by *sql.DB and *sql.Tx.
type DBTX interface {
	ExecContext(context.Context, string, ...any) (sql.Result, error)
	QueryContext(context.Context, string, ...any) (*sql.Rows, error)
	QueryRowContext(context.Context, string, ...any) *sql.Row
}

type Queries struct {
	db DBTX
}

func New(db DBTX) *Queries {
	return &Queries{db: db}
}

func (q *Queries) WithTx(tx *sql.Tx) *Queries {
	return &Queries{db: tx}
}

type recordRow struct {
	ID         string
	Collection string
	Name       string
	Amount     float64
	Category   string
	CreatedAt  int64
	Archived   bool
	Attachment string
}

const insertRecord = `
INSERT INTO records (id, collection, name, amount, category, created_at, archived, attachment)
VALUES (?, ?, ?, ?, ?, ?, 0, '')
`

type insertRecordParams struct {
	ID         string
	Collection string
	Name       string
	Amount     float64
	Category   string
	CreatedAt  int64
}

func (q *Queries) InsertRecord(ctx context.Context, arg insertRecordParams) error {
	_, err := q.db.ExecContext(ctx, insertRecord,
		arg.ID, arg.Collection, arg.Name, arg.Amount, arg.Category, arg.CreatedAt)
	return err
}

const deleteRecord = `DELETE FROM records WHERE collection = ? AND id = ?`

func (q *Queries) DeleteRecord(ctx context.Context, collection, id string) (int64, error) {
	res, err := q.db.ExecContext(ctx, deleteRecord, collection, id)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

const setArchived = `UPDATE records SET archived = ? WHERE collection = ? AND id = ?`

func (q *Queries) SetArchived(ctx context.Context, collection, id string, archived bool) (int64, error) {
	res, err := q.db.ExecContext(ctx, setArchived, archived, collection, id)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

const setAttachment = `UPDATE records SET attachment = ? WHERE collection = ? AND id = ?`

func (q *Queries) SetAttachment(ctx context.Context, collection, id, url string) (int64, error) {
	res, err := q.db.ExecContext(ctx, setAttachment, url, collection, id)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

const selectRecordColumns = `SELECT id, collection, name, amount, category, created_at, archived, attachment FROM records`

const listRecords = selectRecordColumns + `
WHERE collection = ?
ORDER BY created_at DESC, id DESC
`

func (q *Queries) ListRecords(ctx context.Context, collection string) ([]recordRow, error) {
	rows, err := q.db.QueryContext(ctx, listRecords, collection)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var items []recordRow
	for rows.Next() {
		var i recordRow
		if err := rows.Scan(&i.ID, &i.Collection, &i.Name, &i.Amount, &i.Category, &i.CreatedAt, &i.Archived, &i.Attachment); err != nil {
			return nil, err
		}
		items = append(items, i)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return items, nil
}

const getRecord = selectRecordColumns + ` WHERE collection = ? AND id = ?`

func (q *Queries) GetRecord(ctx context.Context, collection, id string) (recordRow, error) {
	var i recordRow
	err := q.db.QueryRowContext(ctx, getRecord, collection, id).Scan(
		&i.ID, &i.Collection, &i.Name, &i.Amount, &i.Category, &i.CreatedAt, &i.Archived, &i.Attachment)
	return i, err
}

const maxCreatedAt = `SELECT COALESCE(MAX(created_at), 0) FROM records`

func (q *Queries) MaxCreatedAt(ctx context.Context) (int64, error) {
	var v int64
	err := q.db.QueryRowContext(ctx, maxCreatedAt).Scan(&v)
	return v, err
}

type monthlyStatRow struct {
	ID       string
	Label    string
	Income   float64
	Expenses float64
}

const upsertMonthlyStat = `
INSERT INTO monthly_stats (id, month_label, income, expenses, updated_at)
VALUES (?, ?, ?, ?, ?)
ON CONFLICT(id) DO UPDATE SET
    month_label = excluded.month_label,
    income = excluded.income,
    expenses = excluded.expenses,
    updated_at = excluded.updated_at
`

func (q *Queries) UpsertMonthlyStat(ctx context.Context, m monthlyStatRow, updatedAt int64) error {
	_, err := q.db.ExecContext(ctx, upsertMonthlyStat, m.ID, m.Label, m.Income, m.Expenses, updatedAt)
	return err
}

const deleteMonthlyStat = `DELETE FROM monthly_stats WHERE id = ?`

func (q *Queries) DeleteMonthlyStat(ctx context.Context, id string) (int64, error) {
	res, err := q.db.ExecContext(ctx, deleteMonthlyStat, id)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

const listMonthlyStats = `SELECT id, month_label, income, expenses FROM monthly_stats ORDER BY id`

func (q *Queries) ListMonthlyStats(ctx context.Context) ([]monthlyStatRow, error) {
	rows, err := q.db.QueryContext(ctx, listMonthlyStats)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var items []monthlyStatRow
	for rows.Next() {
		var i monthlyStatRow
		if err := rows.Scan(&i.ID, &i.Label, &i.Income, &i.Expenses); err != nil {
			return nil, err
		}
		items = append(items, i)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return items, nil
}

const upsertRate = `
INSERT INTO exchange_rates (currency, rate, updated_at)
VALUES (?, ?, ?)
ON CONFLICT(currency) DO UPDATE SET rate = excluded.rate, updated_at = excluded.updated_at
`

func (q *Queries) UpsertRate(ctx context.Context, currency string, rate float64, updatedAt int64) error {
	_, err := q.db.ExecContext(ctx, upsertRate, currency, rate, updatedAt)
	return err
}

const getRate = `SELECT rate FROM exchange_rates WHERE currency = ?`

func (q *Queries) GetRate(ctx context.Context, currency string) (float64, error) {
	var rate float64
	err := q.db.QueryRowContext(ctx, getRate, currency).Scan(&rate)
	return rate, err
}
