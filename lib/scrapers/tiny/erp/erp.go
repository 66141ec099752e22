// Package erp implements invoice-level operations on top of the rpc layer:
// it interprets the business-level content of response streams (auth banners,
// domain-redirect scripts, not-found messages) and carries out the multi-step
// edit sequences the web client performs.
package erp

import (
	"context"
	"fmt"
	"log/slog"
	"regexp"
	"strings"
	"tinysync-backend/lib/scrapers/tiny/rpc"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/codes"
)

var tracer = otel.Tracer("scrapers/tiny/erp")

// ErrSessionExpired reports a response whose content was an authentication
// banner rather than data. The caller should reacquire the session and retry.
var ErrSessionExpired = fmt.Errorf("the erp no longer accepts the session cookie")

// DomainRedirectError reports an invoice served from the other ERP domain.
type DomainRedirectError struct {
	InvoiceID string
	Target    string
}

func (e *DomainRedirectError) Error() string {
	return fmt.Sprintf("invoice %s lives on a different domain (%s)", e.InvoiceID, e.Target)
}

type NotFoundError struct {
	InvoiceID string
	Message   string
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("invoice %s not found: %s", e.InvoiceID, e.Message)
}

type Client struct {
	rpc *rpc.Client
}

func NewClient(rpcClient *rpc.Client) *Client {
	return &Client{rpc: rpcClient}
}

// Invoice is the editable state of an invoice as the web client sees it: the
// line items plus the open set of form fields the ERP assigns by name.
type Invoice struct {
	ID     string
	Items  []map[string]any
	Fields map[string]any
}

// TempID is the identifier of the server-side editing buffer every mutation
// targets.
func (inv Invoice) TempID() string {
	return stringField(inv.Fields, "idNotaTmp")
}

// OperationID and OperationName identify the invoice's "natureza da operação".
func (inv Invoice) OperationID() string {
	return stringField(inv.Fields, "idTipoNota")
}

func (inv Invoice) OperationName() string {
	return stringField(inv.Fields, "natureza")
}

func stringField(fields map[string]any, name string) string {
	v, ok := fields[name]
	if !ok || v == nil {
		return ""
	}
	if s, ok := v.(string); ok {
		return s
	}
	return fmt.Sprint(v)
}

// matches the second argument of the domain handoff script,
// replace(location.href, "https://erp.olist.com/...")
var redirectTargetRegex = regexp.MustCompile(`replace\([^,]+,\s*['"]([^'"]+)['"]`)

func redirectTarget(src string) (string, bool) {
	if !strings.Contains(src, "window.location.href") || !strings.Contains(src, "replace") {
		return "", false
	}
	groups := redirectTargetRegex.FindStringSubmatch(src)
	if len(groups) < 2 {
		return "", false
	}
	return groups[1], true
}

// the banners the ERP injects instead of data when the session is gone
var authErrorPhrases = []string{
	"Sua sessão expirou",
	rpc.AuthErrorMarker,
	"sessão",
	"login",
	"autenticação",
}

func isAuthBanner(src string) bool {
	for _, phrase := range authErrorPhrases {
		if strings.Contains(src, phrase) {
			return true
		}
	}
	return false
}

func isAuthMessage(message string) bool {
	message = strings.ToLower(message)
	return strings.Contains(message, "sessão") ||
		strings.Contains(message, "login") ||
		strings.Contains(message, "autenticação")
}

// GetInvoice loads an invoice into the server-side editing buffer and returns
// its items and fields.
func (c *Client) GetInvoice(ctx context.Context, accountID int64, invoiceID string) (Invoice, error) {
	ctx, span := tracer.Start(ctx, "erp:GetInvoice")
	defer span.End()

	result, err := c.rpc.Call(ctx, accountID, rpc.GetInvoice(invoiceID))
	if err != nil {
		span.SetStatus(codes.Error, "rpc failed")
		return Invoice{}, err
	}
	if len(result.Commands) == 0 {
		return Invoice{}, &NotFoundError{InvoiceID: invoiceID, Message: "empty response"}
	}

	// the first command of a failed load is a script: either a domain
	// handoff or an auth banner
	if src := result.Commands[0].Src; src != "" {
		if target, ok := redirectTarget(src); ok {
			span.SetStatus(codes.Error, "domain redirect")
			return Invoice{}, &DomainRedirectError{InvoiceID: invoiceID, Target: target}
		}
		if isAuthBanner(src) {
			span.SetStatus(codes.Error, "session expired")
			return Invoice{}, ErrSessionExpired
		}
	}

	if result.Items == nil {
		slog.WarnContext(ctx, "invoice response carried no item array, format may have changed",
			"invoice", invoiceID)
	}

	// a response holding nothing but a message is the ERP saying no, the
	// message decides whether that means missing or unauthenticated
	if len(result.Fields) == 1 && result.Items == nil {
		if message := stringField(result.Fields, "message"); message != "" {
			if isAuthMessage(message) {
				span.SetStatus(codes.Error, "session expired")
				return Invoice{}, ErrSessionExpired
			}
			span.SetStatus(codes.Error, "not found")
			return Invoice{}, &NotFoundError{InvoiceID: invoiceID, Message: message}
		}
	}

	return Invoice{ID: invoiceID, Items: result.Items, Fields: result.Fields}, nil
}

// GetTempItem fetches one line item out of the editing buffer.
func (c *Client) GetTempItem(ctx context.Context, accountID int64, invoiceID, itemID string) (map[string]any, error) {
	ctx, span := tracer.Start(ctx, "erp:GetTempItem")
	defer span.End()

	result, err := c.rpc.Call(ctx, accountID, rpc.GetTempItem(invoiceID, itemID))
	if err != nil {
		span.SetStatus(codes.Error, "rpc failed")
		return nil, err
	}
	return result.Fields, nil
}

// SetTempItemPrice rewrites a line item's unit price inside the editing
// buffer and recomputes its total from the item's quantity.
func (c *Client) SetTempItemPrice(ctx context.Context, accountID int64, invoiceID, itemID, tempInvoiceID, newPrice string, tempItem map[string]any) (map[string]any, error) {
	ctx, span := tracer.Start(ctx, "erp:SetTempItemPrice")
	defer span.End()

	total, err := mulComma(newPrice, stringField(tempItem, "quantidade"))
	if err != nil {
		return nil, fmt.Errorf("compute item total: %w", err)
	}
	tempItem["base_comissao"] = newPrice
	tempItem["valorUnitario"] = newPrice
	tempItem["valorTotal"] = total

	req, err := rpc.AddTempItem(invoiceID, itemID, tempInvoiceID, tempItem)
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

// UpdateItemsOperation reapplies the invoice's operation nature to every item
// in the editing buffer.
func (c *Client) UpdateItemsOperation(ctx context.Context, accountID int64, inv Invoice) error {
	ctx, span := tracer.Start(ctx, "erp:UpdateItemsOperation")
	defer span.End()

	_, err := c.rpc.Call(ctx, accountID,
		rpc.UpdateItemsOperation(inv.ID, inv.TempID(), inv.OperationID(), inv.OperationName()))
	if err != nil {
		span.SetStatus(codes.Error, "rpc failed")
	}
	return err
}

// UpdateInvoiceField sets a single form field of the editing buffer.
func (c *Client) UpdateInvoiceField(ctx context.Context, accountID int64, invoiceID, tempInvoiceID, field, value string) error {
	ctx, span := tracer.Start(ctx, "erp:UpdateInvoiceField")
	defer span.End()

	_, err := c.rpc.Call(ctx, accountID,
		rpc.UpdateInvoiceField(invoiceID, tempInvoiceID, field, value))
	if err != nil {
		span.SetStatus(codes.Error, "rpc failed")
	}
	return err
}
