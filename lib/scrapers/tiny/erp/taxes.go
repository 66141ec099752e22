package erp

import (
	"context"
	"log/slog"
	"regexp"
	"tinysync-backend/lib/scrapers/tiny/rpc"

	"go.opentelemetry.io/otel/codes"
)

// Taxes holds the totals the ERP computes for the editing buffer. All values
// are comma-decimal strings as the ERP renders them.
type Taxes struct {
	ValorProdutos                string
	ValorAproximadoImpostosTotal string
	ObsSistema                   string

	ValorICMS                     string
	BaseICMS                      string
	ValorTotalFCP                 string
	ValorTotalICMSFCPDestino      string
	PercentualICMSFCPDestino      string
	ValorTotalICMSPartilhaDestino string
	ValorTotalICMSPartilhaOrigem  string
	PercentualICMSPartilhaDestino string
}

func (t *Taxes) fields() map[string]*string {
	return map[string]*string{
		"valorProdutos":                 &t.ValorProdutos,
		"valorAproximadoImpostosTotal":  &t.ValorAproximadoImpostosTotal,
		"obsSistema":                    &t.ObsSistema,
		"valorICMS":                     &t.ValorICMS,
		"baseICMS":                      &t.BaseICMS,
		"valorTotalFCP":                 &t.ValorTotalFCP,
		"valorTotalICMSFCPDestino":      &t.ValorTotalICMSFCPDestino,
		"percentualICMSFCPDestino":      &t.PercentualICMSFCPDestino,
		"valorTotalICMSPartilhaDestino": &t.ValorTotalICMSPartilhaDestino,
		"valorTotalICMSPartilhaOrigem":  &t.ValorTotalICMSPartilhaOrigem,
		"percentualICMSPartilhaDestino": &t.PercentualICMSPartilhaDestino,
	}
}

var taxValueRegexes = func() map[string]*regexp.Regexp {
	names := []string{
		"valorProdutos", "valorAproximadoImpostosTotal", "obsSistema",
		"valorICMS", "baseICMS", "valorTotalFCP",
		"valorTotalICMSFCPDestino", "percentualICMSFCPDestino",
		"valorTotalICMSPartilhaDestino", "valorTotalICMSPartilhaOrigem",
		"percentualICMSPartilhaDestino",
	}
	out := make(map[string]*regexp.Regexp, len(names))
	for _, name := range names {
		// tolerate both raw and json-escaped quoting around the value
		out[name] = regexp.MustCompile(name + `[\\"\s]*:[\s\\"]*([^"\s,}\\]+)`)
	}
	return out
}()

// CalcTaxes asks the ERP to recompute the buffer's totals. The computed
// values normally arrive as named assignments; when they do not, they are
// salvaged out of the raw response text.
func (c *Client) CalcTaxes(ctx context.Context, accountID int64, invoiceID, tempInvoiceID string) (Taxes, error) {
	ctx, span := tracer.Start(ctx, "erp:CalcTaxes")
	defer span.End()

	result, err := c.rpc.Call(ctx, accountID, rpc.CalcTaxes(invoiceID, tempInvoiceID))
	if err != nil {
		span.SetStatus(codes.Error, "rpc failed")
		return Taxes{}, err
	}

	var taxes Taxes
	for name, dst := range taxes.fields() {
		*dst = stringField(result.Fields, name)
	}

	if taxes.ValorProdutos == "" || taxes.ValorICMS == "" {
		slog.DebugContext(ctx, "tax values missing from assignments, scanning raw response",
			"invoice", invoiceID)
		raw := string(result.Raw)
		for name, dst := range taxes.fields() {
			if *dst != "" {
				continue
			}
			if groups := taxValueRegexes[name].FindStringSubmatch(raw); len(groups) == 2 {
				*dst = groups[1]
			}
		}
	}

	return taxes, nil
}

// SaveInvoice recomputes taxes, folds them into the invoice's form fields and
// commits the editing buffer. A failed tax calculation logs and falls back to
// zeroed totals rather than aborting the save.
func (c *Client) SaveInvoice(ctx context.Context, accountID int64, inv Invoice, crt int) (map[string]any, error) {
	ctx, span := tracer.Start(ctx, "erp:SaveInvoice")
	defer span.End()

	taxes, err := c.CalcTaxes(ctx, accountID, inv.ID, inv.TempID())
	if err != nil {
		slog.ErrorContext(ctx, "tax calculation failed, saving with zeroed totals",
			"invoice", inv.ID, "err", err)
		taxes = Taxes{ValorProdutos: stringField(inv.Fields, "valorProdutos")}
	}

	payload := savePayload(inv, taxes, crt)
	req, err := rpc.SaveInvoice(inv.ID, payload, inv.TempID())
	if err != nil {
		return nil, err
	}
	result, err := c.rpc.Call(ctx, accountID, req)
	if err != nil {
		span.SetStatus(codes.Error, "rpc failed")
		return nil, err
	}
	return result.Fields, nil
}

func savePayload(inv Invoice, taxes Taxes, crt int) map[string]any {
	payload := make(map[string]any, len(inv.Fields)+8)
	for k, v := range inv.Fields {
		payload[k] = v
	}

	products := taxes.ValorProdutos
	if products == "" {
		products = "0,00"
	}
	impostos := taxes.ValorAproximadoImpostosTotal
	if impostos == "" {
		impostos = "0,00"
	}

	payload["desconto"] = "0,00"
	payload["valorDesconto"] = "0,00"
	payload["valorProdutos"] = products
	payload["totalFaturado"] = products
	payload["valorNota"] = products
	payload["valorAproximadoImpostosTotal"] = impostos
	payload["obsSistema"] = taxes.ObsSistema
	payload["crt"] = crt

	optional := map[string]string{
		"valorICMS":                     taxes.ValorICMS,
		"baseICMS":                      taxes.BaseICMS,
		"valorTotalFCP":                 taxes.ValorTotalFCP,
		"valorTotalICMSFCPDestino":      taxes.ValorTotalICMSFCPDestino,
		"percentualICMSFCPDestino":      taxes.PercentualICMSFCPDestino,
		"valorTotalICMSPartilhaDestino": taxes.ValorTotalICMSPartilhaDestino,
		"valorTotalICMSPartilhaOrigem":  taxes.ValorTotalICMSPartilhaOrigem,
		"percentualICMSPartilhaDestino": taxes.PercentualICMSPartilhaDestino,
	}
	for name, value := range optional {
		if value != "" {
			payload[name] = value
		}
	}
	return payload
}
