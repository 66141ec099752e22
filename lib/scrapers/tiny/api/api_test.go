package api

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/require"
)

func newTestClient(t *testing.T, handler http.HandlerFunc) *Client {
	t.Helper()
	server := httptest.NewServer(handler)
	t.Cleanup(server.Close)
	client := NewClient(server.URL+"/", "test-token")
	client.http.SetRetryCount(0)
	return client
}

func TestSearchProductMatchesSku(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "test-token", r.URL.Query().Get("token"))
		require.Equal(t, "json", r.URL.Query().Get("formato"))
		require.Equal(t, "sku-77", r.URL.Query().Get("pesquisa"))
		fmt.Fprint(w, `{"retorno":{"produtos":[
			{"produto":{"id":1,"codigo":"OTHER-1","nome":"Outro"}},
			{"produto":{"id":2,"codigo":"SKU-77","nome":"Certo"}}
		]}}`)
	})

	p, err := client.SearchProduct(context.Background(), "sku-77")
	require.NoError(t, err)
	require.Equal(t, "SKU-77", p.Codigo)
	require.Equal(t, "Certo", p.Nome)
}

func TestSearchProductNoMatch(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `{"retorno":{"produtos":[
			{"produto":{"id":1,"codigo":"OTHER-1","nome":"Outro"}}
		]}}`)
	})

	_, err := client.SearchProduct(context.Background(), "sku-77")
	require.Error(t, err)
}

func TestRemoteErrorSurfaced(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `{"retorno":{"codigo_erro":20,"erros":[{"erro":"token invalido"}]}}`)
	})

	_, err := client.SearchProduct(context.Background(), "sku-77")
	var remote *RemoteError
	require.ErrorAs(t, err, &remote)
	require.Equal(t, "token invalido", remote.Message)
}

func TestEmitInvoice(t *testing.T) {
	var got *http.Request
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		got = r
		fmt.Fprint(w, `{"retorno":{}}`)
	})

	err := client.EmitInvoice(context.Background(), "555", false)
	require.NoError(t, err)
	require.Equal(t, "/nota.fiscal.emitir.php", got.URL.Path)
	require.Equal(t, "555", got.URL.Query().Get("id"))
	require.Equal(t, "N", got.URL.Query().Get("enviarEmail"))
}
