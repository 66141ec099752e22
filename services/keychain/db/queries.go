package db

import (
	"context"
	"database/sql"
)

type DBTX interface {
	ExecContext(context.Context, string, ...interface{}) (sql.Result, error)
	QueryContext(context.Context, string, ...interface{}) (*sql.Rows, error)
	QueryRowContext(context.Context, string, ...interface{}) *sql.Row
}

func New(db DBTX) *Queries {
	return &Queries{db: db}
}

type Queries struct {
	db DBTX
}

func (q *Queries) WithTx(tx *sql.Tx) *Queries {
	return &Queries{db: tx}
}

type ErpCredential struct {
	AccountID int64
	Login     string
	Password  string
}

const getErpCredential = `
SELECT account_id, login, password FROM erp_credential WHERE account_id = ?
`

func (q *Queries) GetErpCredential(ctx context.Context, accountID int64) (ErpCredential, error) {
	row := q.db.QueryRowContext(ctx, getErpCredential, accountID)
	var i ErpCredential
	err := row.Scan(&i.AccountID, &i.Login, &i.Password)
	return i, err
}

const setErpCredential = `
INSERT INTO erp_credential (account_id, login, password)
VALUES (?, ?, ?)
ON CONFLICT (account_id) DO UPDATE SET login = excluded.login, password = excluded.password
`

type SetErpCredentialParams struct {
	AccountID int64
	Login     string
	Password  string
}

func (q *Queries) SetErpCredential(ctx context.Context, arg SetErpCredentialParams) error {
	_, err := q.db.ExecContext(ctx, setErpCredential, arg.AccountID, arg.Login, arg.Password)
	return err
}

const listErpCredentials = `
SELECT account_id, login, password FROM erp_credential ORDER BY account_id
`

func (q *Queries) ListErpCredentials(ctx context.Context) ([]ErpCredential, error) {
	rows, err := q.db.QueryContext(ctx, listErpCredentials)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var items []ErpCredential
	for rows.Next() {
		var i ErpCredential
		if err := rows.Scan(&i.AccountID, &i.Login, &i.Password); err != nil {
			return nil, err
		}
		items = append(items, i)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return items, nil
}

const deleteErpCredential = `
DELETE FROM erp_credential WHERE account_id = ?
`

func (q *Queries) DeleteErpCredential(ctx context.Context, accountID int64) error {
	_, err := q.db.ExecContext(ctx, deleteErpCredential, accountID)
	return err
}
