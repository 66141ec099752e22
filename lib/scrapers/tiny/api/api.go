// Package api talks to the ERP's public token-authenticated API, the one
// surface the vendor actually documents. Only invoice emission and product
// search live here; everything else goes through the scraped RPC layer.
package api

import (
	"context"
	"encoding/json"
	"fmt"
	"regexp"
	"time"
	"tinysync-backend/lib/telemetry"

	"github.com/go-resty/resty/v2"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/codes"
)

var tracer = otel.Tracer("scrapers/tiny/api")

const DefaultBaseURL = "https://api.tiny.com.br/api2/"

// RemoteError is a business-level rejection reported inside a 200 response.
type RemoteError struct {
	Code    json.Number
	Message string
}

func (e *RemoteError) Error() string {
	return fmt.Sprintf("api error %s: %s", e.Code.String(), e.Message)
}

type Client struct {
	http   *resty.Client
	apiKey string
}

func NewClient(baseURL, apiKey string) *Client {
	if baseURL == "" {
		baseURL = DefaultBaseURL
	}
	client := resty.New()
	client.SetBaseURL(baseURL)
	client.SetTimeout(time.Minute)
	client.SetRetryCount(4)
	client.SetRetryWaitTime(2 * time.Second)
	client.SetRetryMaxWaitTime(10 * time.Second)

	telemetry.InstrumentResty(client, "scrapers/tiny/api")

	return &Client{http: client, apiKey: apiKey}
}

type retorno struct {
	Retorno struct {
		CodigoErro json.Number `json:"codigo_erro"`
		Erros      []struct {
			Erro string `json:"erro"`
		} `json:"erros"`
		Produtos []struct {
			Produto Product `json:"produto"`
		} `json:"produtos"`
	} `json:"retorno"`
}

type Product struct {
	ID     json.Number `json:"id"`
	Codigo string      `json:"codigo"`
	Nome   string      `json:"nome"`
	Preco  json.Number `json:"preco"`
}

func (c *Client) get(ctx context.Context, endpoint string, params map[string]string) (retorno, error) {
	query := map[string]string{
		"token":   c.apiKey,
		"formato": "json",
	}
	for k, v := range params {
		query[k] = v
	}

	res, err := c.http.R().
		SetContext(ctx).
		SetQueryParams(query).
		Get(endpoint)
	if err != nil {
		return retorno{}, err
	}
	if res.StatusCode() >= 400 {
		return retorno{}, fmt.Errorf("api returned %s", res.Status())
	}

	var body retorno
	err = json.Unmarshal(res.Body(), &body)
	if err != nil {
		return retorno{}, fmt.Errorf("unmarshal api response: %w", err)
	}
	if body.Retorno.CodigoErro != "" && body.Retorno.CodigoErro != "0" {
		message := "unknown error"
		if len(body.Retorno.Erros) > 0 {
			message = body.Retorno.Erros[0].Erro
		}
		return retorno{}, &RemoteError{Code: body.Retorno.CodigoErro, Message: message}
	}
	return body, nil
}

// SearchProduct looks a product up by SKU and returns the first hit whose
// code actually matches; the search endpoint does fuzzy matching on its own.
func (c *Client) SearchProduct(ctx context.Context, search string) (Product, error) {
	ctx, span := tracer.Start(ctx, "api:SearchProduct")
	defer span.End()

	body, err := c.get(ctx, "produtos.pesquisa.php", map[string]string{"pesquisa": search})
	if err != nil {
		span.SetStatus(codes.Error, "search failed")
		return Product{}, err
	}

	re, err := regexp.Compile("(?i)" + regexp.QuoteMeta(search))
	if err != nil {
		return Product{}, err
	}
	for _, p := range body.Retorno.Produtos {
		if re.MatchString(p.Produto.Codigo) {
			return p.Produto, nil
		}
	}
	span.SetStatus(codes.Error, "sku not found")
	return Product{}, fmt.Errorf("no product matches sku %q", search)
}

// EmitInvoice asks the ERP to issue the fiscal document for an invoice.
func (c *Client) EmitInvoice(ctx context.Context, invoiceID string, sendEmail bool) error {
	ctx, span := tracer.Start(ctx, "api:EmitInvoice")
	defer span.End()

	email := "N"
	if sendEmail {
		email = "S"
	}
	_, err := c.get(ctx, "nota.fiscal.emitir.php", map[string]string{
		"id":          invoiceID,
		"enviarEmail": email,
	})
	if err != nil {
		span.SetStatus(codes.Error, "emit failed")
	}
	return err
}
