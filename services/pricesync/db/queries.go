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

type Store struct {
	Name      string
	AccountID int64
	ApiKey    string
	Crt       int64
	BotActive bool
}

type PriceReference struct {
	AccountID     int64
	Sku           string
	Active        bool
	Price         string
	MercadoActive bool
	MercadoPrice  string
	ShopeeActive  bool
	ShopeePrice   string
	AliActive     bool
	AliPrice      string
	SheinActive   bool
	SheinPrice    string
	TiktokActive  bool
	TiktokPrice   string
}

const getStore = `
SELECT name, account_id, api_key, crt, bot_active FROM store WHERE name = ?
`

func (q *Queries) GetStore(ctx context.Context, name string) (Store, error) {
	row := q.db.QueryRowContext(ctx, getStore, name)
	var i Store
	err := row.Scan(&i.Name, &i.AccountID, &i.ApiKey, &i.Crt, &i.BotActive)
	return i, err
}

const listStores = `
SELECT name, account_id, api_key, crt, bot_active FROM store ORDER BY name
`

func (q *Queries) ListStores(ctx context.Context) ([]Store, error) {
	rows, err := q.db.QueryContext(ctx, listStores)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var items []Store
	for rows.Next() {
		var i Store
		if err := rows.Scan(&i.Name, &i.AccountID, &i.ApiKey, &i.Crt, &i.BotActive); err != nil {
			return nil, err
		}
		items = append(items, i)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return items, nil
}

const upsertStore = `
INSERT INTO store (name, account_id, api_key, crt, bot_active)
VALUES (?, ?, ?, ?, ?)
ON CONFLICT (name) DO UPDATE SET
    account_id = excluded.account_id,
    api_key = excluded.api_key,
    crt = excluded.crt,
    bot_active = excluded.bot_active
`

func (q *Queries) UpsertStore(ctx context.Context, arg Store) error {
	_, err := q.db.ExecContext(ctx, upsertStore,
		arg.Name, arg.AccountID, arg.ApiKey, arg.Crt, arg.BotActive)
	return err
}

const setStoreBotActive = `
UPDATE store SET bot_active = ? WHERE name = ?
`

type SetStoreBotActiveParams struct {
	BotActive bool
	Name      string
}

func (q *Queries) SetStoreBotActive(ctx context.Context, arg SetStoreBotActiveParams) error {
	_, err := q.db.ExecContext(ctx, setStoreBotActive, arg.BotActive, arg.Name)
	return err
}

const listPriceReferences = `
SELECT account_id, sku, active, price,
    mercado_active, mercado_price,
    shopee_active, shopee_price,
    ali_active, ali_price,
    shein_active, shein_price,
    tiktok_active, tiktok_price
FROM price_reference WHERE account_id = ? ORDER BY sku
`

func (q *Queries) ListPriceReferences(ctx context.Context, accountID int64) ([]PriceReference, error) {
	rows, err := q.db.QueryContext(ctx, listPriceReferences, accountID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var items []PriceReference
	for rows.Next() {
		var i PriceReference
		err := rows.Scan(
			&i.AccountID, &i.Sku, &i.Active, &i.Price,
			&i.MercadoActive, &i.MercadoPrice,
			&i.ShopeeActive, &i.ShopeePrice,
			&i.AliActive, &i.AliPrice,
			&i.SheinActive, &i.SheinPrice,
			&i.TiktokActive, &i.TiktokPrice,
		)
		if err != nil {
			return nil, err
		}
		items = append(items, i)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return items, nil
}

const upsertPriceReference = `
INSERT INTO price_reference (
    account_id, sku, active, price,
    mercado_active, mercado_price,
    shopee_active, shopee_price,
    ali_active, ali_price,
    shein_active, shein_price,
    tiktok_active, tiktok_price
) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
ON CONFLICT (account_id, sku) DO UPDATE SET
    active = excluded.active,
    price = excluded.price,
    mercado_active = excluded.mercado_active,
    mercado_price = excluded.mercado_price,
    shopee_active = excluded.shopee_active,
    shopee_price = excluded.shopee_price,
    ali_active = excluded.ali_active,
    ali_price = excluded.ali_price,
    shein_active = excluded.shein_active,
    shein_price = excluded.shein_price,
    tiktok_active = excluded.tiktok_active,
    tiktok_price = excluded.tiktok_price
`

func (q *Queries) UpsertPriceReference(ctx context.Context, arg PriceReference) error {
	_, err := q.db.ExecContext(ctx, upsertPriceReference,
		arg.AccountID, arg.Sku, arg.Active, arg.Price,
		arg.MercadoActive, arg.MercadoPrice,
		arg.ShopeeActive, arg.ShopeePrice,
		arg.AliActive, arg.AliPrice,
		arg.SheinActive, arg.SheinPrice,
		arg.TiktokActive, arg.TiktokPrice,
	)
	return err
}

const deletePriceReference = `
DELETE FROM price_reference WHERE account_id = ? AND sku = ?
`

type DeletePriceReferenceParams struct {
	AccountID int64
	Sku       string
}

func (q *Queries) DeletePriceReference(ctx context.Context, arg DeletePriceReferenceParams) error {
	_, err := q.db.ExecContext(ctx, deletePriceReference, arg.AccountID, arg.Sku)
	return err
}
