// Package pricesync rewrites marketplace invoices inside the ERP: when an
// order reaches "preparando_envio" its line items are repriced against the
// store's reference table and the fiscal document is emitted.
package pricesync

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"tinysync-backend/lib/scrapers/tiny/api"
	"tinysync-backend/lib/scrapers/tiny/erp"
	"tinysync-backend/lib/scrapers/tiny/session"
	"tinysync-backend/services/keychain"
	"tinysync-backend/services/pricesync/db"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
)

var tracer = otel.Tracer("services/pricesync")

type Options struct {
	DB       *sql.DB
	Erp      *erp.Client
	Sessions *session.Store
	Keychain keychain.Service
	// ApiBaseURL overrides the public API endpoint, tests point it at a
	// stub server.
	ApiBaseURL string
}

type Service struct {
	db         *sql.DB
	qry        *db.Queries
	erp        *erp.Client
	sessions   *session.Store
	keychain   keychain.Service
	apiBaseURL string
}

func NewService(opts Options) Service {
	return Service{
		db:         opts.DB,
		qry:        db.New(opts.DB),
		erp:        opts.Erp,
		sessions:   opts.Sessions,
		keychain:   opts.Keychain,
		apiBaseURL: opts.ApiBaseURL,
	}
}

func str(obj map[string]any, key string) string {
	v, ok := obj[key]
	if !ok || v == nil {
		return ""
	}
	if s, ok := v.(string); ok {
		return s
	}
	return fmt.Sprint(v)
}

// marketplacePrice picks the price a marketplace sells at, honoring the
// per-marketplace activation flags.
func marketplacePrice(ref db.PriceReference, marketplace string) (string, bool) {
	switch marketplace {
	case "mercado":
		return ref.MercadoPrice, ref.MercadoActive
	case "shopee":
		return ref.ShopeePrice, ref.ShopeeActive
	case "aliexpress":
		return ref.AliPrice, ref.AliActive
	case "shein":
		return ref.SheinPrice, ref.SheinActive
	case "tiktok":
		return ref.TiktokPrice, ref.TiktokActive
	}
	return "", false
}

// getInvoice loads the invoice, reauthenticating the account and retrying
// once when the first attempt fails. The first attempt after a restart always
// runs against an empty cookie store, so a failure here is expected.
func (s Service) getInvoice(ctx context.Context, accountID int64, invoiceID string) (erp.Invoice, error) {
	inv, err := s.erp.GetInvoice(ctx, accountID, invoiceID)
	if err == nil {
		return inv, nil
	}
	slog.WarnContext(ctx, "first invoice load failed, reacquiring session",
		"invoice", invoiceID, "account", accountID, "err", err)

	creds, err := s.keychain.GetCredentials(ctx, accountID)
	if err != nil {
		return erp.Invoice{}, fmt.Errorf("no credentials for account %d: %w", accountID, err)
	}
	_, err = s.sessions.Acquire(ctx, accountID, creds)
	if err != nil {
		return erp.Invoice{}, err
	}
	return s.erp.GetInvoice(ctx, accountID, invoiceID)
}

// SyncInvoice runs the full rewrite sequence for one invoice: reprice every
// line item that differs from its reference, reapply the operation nature,
// save around a fresh read so the ERP recomputes its totals, then emit the
// fiscal document through the public API.
func (s Service) SyncInvoice(ctx context.Context, store db.Store, marketplace, invoiceID string) error {
	ctx, span := tracer.Start(ctx, "SyncInvoice")
	defer span.End()
	span.SetAttributes(
		attribute.String("store", store.Name),
		attribute.String("marketplace", marketplace),
		attribute.String("invoice", invoiceID),
	)

	refs, err := s.qry.ListPriceReferences(ctx, store.AccountID)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return err
	}
	bySku := make(map[string]db.PriceReference, len(refs))
	for _, ref := range refs {
		if ref.Active {
			bySku[ref.Sku] = ref
		}
	}

	inv, err := s.getInvoice(ctx, store.AccountID, invoiceID)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return err
	}
	if inv.Items == nil {
		err := fmt.Errorf("invoice %s has no item array", invoiceID)
		span.SetStatus(codes.Error, err.Error())
		return err
	}

	changed := 0
	for _, item := range inv.Items {
		ref, ok := bySku[str(item, "codigo")]
		if !ok || str(item, "valorUnitario") == ref.Price {
			continue
		}
		price, active := marketplacePrice(ref, marketplace)
		if !active {
			continue
		}

		itemID := str(item, "id")
		tempItem, err := s.erp.GetTempItem(ctx, store.AccountID, invoiceID, itemID)
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
			return err
		}
		_, err = s.erp.SetTempItemPrice(ctx, store.AccountID, invoiceID, itemID, inv.TempID(), price, tempItem)
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
			return err
		}
		changed++
	}
	slog.InfoContext(ctx, "repriced invoice items",
		"invoice", invoiceID, "store", store.Name, "changed", changed)

	err = s.erp.UpdateItemsOperation(ctx, store.AccountID, inv)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return err
	}

	// save, re-read, save again: the first save makes the ERP recompute
	// item totals, the second commits the recomputed header values
	_, err = s.erp.SaveInvoice(ctx, store.AccountID, inv, int(store.Crt))
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return err
	}
	inv, err = s.getInvoice(ctx, store.AccountID, invoiceID)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return err
	}
	_, err = s.erp.SaveInvoice(ctx, store.AccountID, inv, int(store.Crt))
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return err
	}

	emitter := api.NewClient(s.apiBaseURL, store.ApiKey)
	err = emitter.EmitInvoice(ctx, invoiceID, false)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return err
	}
	return nil
}
