package erp

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"tinysync-backend/lib/scrapers/tiny/rpc"
	"tinysync-backend/lib/scrapers/tiny/session"

	"github.com/stretchr/testify/require"
)

func newTestErp(t *testing.T, handler http.HandlerFunc) *Client {
	t.Helper()
	server := httptest.NewServer(handler)
	t.Cleanup(server.Close)

	store := session.NewStore(session.Options{
		Domains: []string{server.URL + "/"},
	})
	rpcClient, err := rpc.NewClient(rpc.Options{
		BaseURL:           server.URL + "/",
		Sessions:          store,
		RequestsPerSecond: 1000,
	})
	require.NoError(t, err)
	return NewClient(rpcClient)
}

func TestGetInvoiceParsesItemsAndFields(t *testing.T) {
	client := newTestErp(t, func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `{"response":[
			{"cmd":"as","elm":"idNotaTmp","val":"tmp-9"},
			{"cmd":"as","elm":"idTipoNota","val":"77"},
			{"cmd":"as","elm":"natureza","val":"Venda de mercadorias"},
			{"cmd":"sc","src":"setarArrayItens([{\"id\":\"1\",\"codigo\":\"SKU-1\",\"valorUnitario\":\"10,00\"}]);"}
		]}`)
	})

	inv, err := client.GetInvoice(context.Background(), 1, "555")
	require.NoError(t, err)
	require.Equal(t, "555", inv.ID)
	require.Equal(t, "tmp-9", inv.TempID())
	require.Equal(t, "77", inv.OperationID())
	require.Equal(t, "Venda de mercadorias", inv.OperationName())
	require.Len(t, inv.Items, 1)
	require.Equal(t, "SKU-1", inv.Items[0]["codigo"])
}

func TestGetInvoiceDomainRedirect(t *testing.T) {
	client := newTestErp(t, func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `{"response":[
			{"cmd":"sc","src":"window.location.href = window.location.href.replace(window.location.origin, 'https://erp.olist.com');"}
		]}`)
	})

	_, err := client.GetInvoice(context.Background(), 1, "555")
	var redirect *DomainRedirectError
	require.ErrorAs(t, err, &redirect)
	require.Equal(t, "https://erp.olist.com", redirect.Target)
}

func TestGetInvoiceSessionBanner(t *testing.T) {
	client := newTestErp(t, func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `{"response":[
			{"cmd":"sc","src":"alert('Sua sessão expirou, efetue login novamente.');"}
		]}`)
	})

	_, err := client.GetInvoice(context.Background(), 1, "555")
	require.ErrorIs(t, err, ErrSessionExpired)
}

func TestGetInvoiceNotFoundMessage(t *testing.T) {
	client := newTestErp(t, func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `{"response":[
			{"cmd":"as","elm":"message","val":"Nota fiscal nao encontrada"}
		]}`)
	})

	_, err := client.GetInvoice(context.Background(), 1, "555")
	var notFound *NotFoundError
	require.ErrorAs(t, err, &notFound)
	require.Equal(t, "Nota fiscal nao encontrada", notFound.Message)
}

func TestGetInvoiceAuthMessage(t *testing.T) {
	client := newTestErp(t, func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `{"response":[
			{"cmd":"as","elm":"message","val":"Efetue o login para continuar"}
		]}`)
	})

	_, err := client.GetInvoice(context.Background(), 1, "555")
	require.ErrorIs(t, err, ErrSessionExpired)
}

func TestSetTempItemPrice(t *testing.T) {
	var args string
	client := newTestErp(t, func(w http.ResponseWriter, r *http.Request) {
		require.True(t, strings.HasSuffix(r.URL.Path, rpc.FuncAddTempItem))
		args = r.FormValue("args")
		fmt.Fprint(w, `{"response":[
			{"cmd":"sc","src":"callbackSalvarEdicaoItem({\"id\":\"1\",\"valorTotal\":\"21,00\"});"}
		]}`)
	})

	tempItem := map[string]any{
		"id":         "1",
		"quantidade": "2,00",
	}
	fields, err := client.SetTempItemPrice(context.Background(), 1, "555", "1", "tmp-9", "10,50", tempItem)
	require.NoError(t, err)
	require.Equal(t, "21,00", fields["valorTotal"])

	require.Contains(t, args, `"base_comissao":"10,50"`)
	require.Contains(t, args, `"valorUnitario":"10,50"`)
	require.Contains(t, args, `"valorTotal":"21,00"`)
	require.True(t, strings.HasPrefix(args, `["1","tmp-9",{`))
}

func TestCalcTaxesFromAssignments(t *testing.T) {
	client := newTestErp(t, func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `{"response":[
			{"cmd":"as","elm":"valorProdutos","val":"150,00"},
			{"cmd":"as","elm":"valorICMS","val":"27,00"},
			{"cmd":"as","elm":"baseICMS","val":"150,00"}
		]}`)
	})

	taxes, err := client.CalcTaxes(context.Background(), 1, "555", "tmp-9")
	require.NoError(t, err)
	require.Equal(t, "150,00", taxes.ValorProdutos)
	require.Equal(t, "27,00", taxes.ValorICMS)
	require.Equal(t, "150,00", taxes.BaseICMS)
}

func TestCalcTaxesRawFallback(t *testing.T) {
	client := newTestErp(t, func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `{"response":[
			{"cmd":"sc","src":"atualizarTotais({\"valorProdutos\":\"150.00\",\"valorICMS\":\"27.00\"});"}
		]}`)
	})

	taxes, err := client.CalcTaxes(context.Background(), 1, "555", "tmp-9")
	require.NoError(t, err)
	require.Equal(t, "150.00", taxes.ValorProdutos)
	require.Equal(t, "27.00", taxes.ValorICMS)
}

func TestSaveInvoiceFoldsTaxes(t *testing.T) {
	var saveArgs string
	client := newTestErp(t, func(w http.ResponseWriter, r *http.Request) {
		switch {
		case strings.HasSuffix(r.URL.Path, rpc.FuncCalcTaxes):
			fmt.Fprint(w, `{"response":[
				{"cmd":"as","elm":"valorProdutos","val":"150,00"},
				{"cmd":"as","elm":"valorICMS","val":"27,00"}
			]}`)
		case strings.HasSuffix(r.URL.Path, rpc.FuncSaveInvoice):
			saveArgs = r.FormValue("args")
			fmt.Fprint(w, `{"response":[{"cmd":"as","elm":"saved","val":"S"}]}`)
		default:
			http.NotFound(w, r)
		}
	})

	inv := Invoice{
		ID: "555",
		Fields: map[string]any{
			"idNotaTmp": "tmp-9",
			"cliente":   "Fulano",
		},
	}
	fields, err := client.SaveInvoice(context.Background(), 1, inv, 3)
	require.NoError(t, err)
	require.Equal(t, "S", fields["saved"])

	require.Contains(t, saveArgs, `"desconto":"0,00"`)
	require.Contains(t, saveArgs, `"valorDesconto":"0,00"`)
	require.Contains(t, saveArgs, `"valorProdutos":"150,00"`)
	require.Contains(t, saveArgs, `"totalFaturado":"150,00"`)
	require.Contains(t, saveArgs, `"valorNota":"150,00"`)
	require.Contains(t, saveArgs, `"valorICMS":"27,00"`)
	require.Contains(t, saveArgs, `"crt":3`)
	require.Contains(t, saveArgs, `"cliente":"Fulano"`)
	require.True(t, strings.HasPrefix(saveArgs, `["555",{`))
	require.True(t, strings.HasSuffix(saveArgs, `,"tmp-9",true,[],"S"]`))
}

func TestMoneyHelpers(t *testing.T) {
	for _, tt := range []struct {
		name string
		fn   func(a, b string) (string, error)
		a, b string
		want string
	}{
		{"multiply", mulComma, "10,50", "2,00", "21,00"},
		{"multiply integers", mulComma, "3", "4", "12,00"},
		{"sum", sumComma, "1,25", "2,50", "3,75"},
		{"divide", divComma, "21,00", "2,00", "10,50"},
	} {
		t.Run(tt.name, func(t *testing.T) {
			got, err := tt.fn(tt.a, tt.b)
			require.NoError(t, err)
			require.Equal(t, tt.want, got)
		})
	}

	_, err := mulComma("abc", "2,00")
	require.Error(t, err)
	_, err = divComma("1,00", "0,00")
	require.Error(t, err)
}
