package pricesync

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"
	"tinysync-backend/lib/scrapers/tiny/erp"
	"tinysync-backend/lib/scrapers/tiny/rpc"
	"tinysync-backend/lib/scrapers/tiny/session"
	"tinysync-backend/lib/testutil"
	"tinysync-backend/services/keychain"
	keychaindb "tinysync-backend/services/keychain/db"
	"tinysync-backend/services/pricesync/db"

	"github.com/stretchr/testify/require"
)

// fakeErp emulates the scraped RPC surface well enough to run the rewrite
// sequence end to end.
type fakeErp struct {
	mu sync.Mutex

	// calls per rpc function name
	calls map[string]int
	// args per rpc function name, in call order
	args map[string][]string

	// when set, the next invoice load answers with an auth banner
	expireNextLoad bool

	server *httptest.Server
}

func newFakeErp(t *testing.T) *fakeErp {
	f := &fakeErp{
		calls: map[string]int{},
		args:  map[string][]string{},
	}
	f.server = httptest.NewServer(http.HandlerFunc(f.handle))
	t.Cleanup(f.server.Close)
	return f
}

func (f *fakeErp) record(r *http.Request) string {
	segments := strings.Split(r.URL.Path, "/")
	fn := segments[len(segments)-1]
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls[fn]++
	f.args[fn] = append(f.args[fn], r.FormValue("args"))
	return fn
}

func (f *fakeErp) count(fn string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls[fn]
}

func (f *fakeErp) lastArgs(fn string) string {
	f.mu.Lock()
	defer f.mu.Unlock()
	all := f.args[fn]
	if len(all) == 0 {
		return ""
	}
	return all[len(all)-1]
}

func (f *fakeErp) handle(w http.ResponseWriter, r *http.Request) {
	switch f.record(r) {
	case rpc.FuncGetInvoice:
		f.mu.Lock()
		expired := f.expireNextLoad
		f.expireNextLoad = false
		f.mu.Unlock()
		if expired {
			fmt.Fprint(w, `{"response":[{"cmd":"sc","src":"alert('Sua sessão expirou');"}]}`)
			return
		}
		fmt.Fprint(w, `{"response":[
			{"cmd":"as","elm":"idNotaTmp","val":"tmp-1"},
			{"cmd":"as","elm":"idTipoNota","val":"4"},
			{"cmd":"as","elm":"natureza","val":"Venda de mercadorias"},
			{"cmd":"sc","src":"setarArrayItens([{\"id\":\"1\",\"codigo\":\"SKU-1\",\"valorUnitario\":\"10,00\"},{\"id\":\"2\",\"codigo\":\"SKU-2\",\"valorUnitario\":\"5,00\"}]);"}
		]}`)
	case rpc.FuncGetTempItem:
		fmt.Fprint(w, `{"response":[
			{"cmd":"sc","src":"callbackEditarItem({\"id\":\"1\",\"quantidade\":\"2,00\"});"}
		]}`)
	case rpc.FuncAddTempItem:
		fmt.Fprint(w, `{"response":[
			{"cmd":"sc","src":"callbackSalvarEdicaoItem({\"id\":\"1\"});"}
		]}`)
	case rpc.FuncUpdateItemsOperation:
		fmt.Fprint(w, `{"response":[{"cmd":"rt","val":true}]}`)
	case rpc.FuncCalcTaxes:
		fmt.Fprint(w, `{"response":[
			{"cmd":"as","elm":"valorProdutos","val":"29,00"},
			{"cmd":"as","elm":"valorICMS","val":"5,22"}
		]}`)
	case rpc.FuncSaveInvoice:
		fmt.Fprint(w, `{"response":[{"cmd":"as","elm":"saved","val":"S"}]}`)
	default:
		http.NotFound(w, r)
	}
}

type fixture struct {
	service Service
	erp     *fakeErp
	store   db.Store
	qry     *db.Queries

	sessions   *session.Store
	loginCalls int
	emitted    []string
}

func setupFixture(t *testing.T) *fixture {
	fake := newFakeErp(t)

	fix := &fixture{erp: fake}
	apiServer := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/nota.fiscal.emitir.php", r.URL.Path)
		require.Equal(t, "store-api-key", r.URL.Query().Get("token"))
		fix.emitted = append(fix.emitted, r.URL.Query().Get("id"))
		fmt.Fprint(w, `{"retorno":{}}`)
	}))
	t.Cleanup(apiServer.Close)

	setup, cleanup := testutil.SetupService(t, testutil.ServiceParams{
		Name:     "services/pricesync",
		DbSchema: db.Schema + keychaindb.Schema,
	})
	t.Cleanup(cleanup)

	sessions := session.NewStore(session.Options{
		Domains: []string{fake.server.URL + "/"},
	})
	sessions.BindLogin(func(ctx context.Context, acct *session.Account, creds session.Credentials) (string, error) {
		fix.loginCalls++
		acct.SetSessionCookie("fresh")
		return "fresh", nil
	})
	rpcClient, err := rpc.NewClient(rpc.Options{
		BaseURL:           fake.server.URL + "/",
		Sessions:          sessions,
		RequestsPerSecond: 1000,
	})
	require.NoError(t, err)

	keys := keychain.NewService(setup.DB)
	ctx := context.Background()
	require.NoError(t, keys.SetCredentials(ctx, 10, session.Credentials{Login: "a", Password: "b"}))

	fix.sessions = sessions
	fix.qry = db.New(setup.DB)
	fix.store = db.Store{
		Name:      "loja",
		AccountID: 10,
		ApiKey:    "store-api-key",
		Crt:       3,
		BotActive: true,
	}
	require.NoError(t, fix.qry.UpsertStore(ctx, fix.store))
	require.NoError(t, fix.qry.UpsertPriceReference(ctx, db.PriceReference{
		AccountID:    10,
		Sku:          "SKU-1",
		Active:       true,
		Price:        "12,00",
		ShopeeActive: true,
		ShopeePrice:  "12,00",
	}))
	// inactive reference, must never be touched
	require.NoError(t, fix.qry.UpsertPriceReference(ctx, db.PriceReference{
		AccountID: 10,
		Sku:       "SKU-2",
		Active:    false,
		Price:     "99,00",
	}))

	fix.service = NewService(Options{
		DB:         setup.DB,
		Erp:        erp.NewClient(rpcClient),
		Sessions:   sessions,
		Keychain:   keys,
		ApiBaseURL: apiServer.URL + "/",
	})
	return fix
}

func TestSyncInvoiceRewritesAndEmits(t *testing.T) {
	fix := setupFixture(t)
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	err := fix.service.SyncInvoice(ctx, fix.store, "shopee", "777")
	require.NoError(t, err)

	// one reprice for SKU-1 at the shopee price, SKU-2 untouched
	require.Equal(t, 1, fix.erp.count(rpc.FuncGetTempItem))
	require.Equal(t, 1, fix.erp.count(rpc.FuncAddTempItem))
	addArgs := fix.erp.lastArgs(rpc.FuncAddTempItem)
	require.Contains(t, addArgs, `"valorUnitario":"12,00"`)
	require.Contains(t, addArgs, `"valorTotal":"24,00"`)

	require.Equal(t, 1, fix.erp.count(rpc.FuncUpdateItemsOperation))
	require.Contains(t, fix.erp.lastArgs(rpc.FuncUpdateItemsOperation), `"Venda de mercadorias"`)

	// save, re-read, save again
	require.Equal(t, 2, fix.erp.count(rpc.FuncGetInvoice))
	require.Equal(t, 2, fix.erp.count(rpc.FuncSaveInvoice))
	require.Contains(t, fix.erp.lastArgs(rpc.FuncSaveInvoice), `"crt":3`)

	require.Equal(t, []string{"777"}, fix.emitted)
	require.Zero(t, fix.loginCalls)
}

func TestSyncInvoiceReacquiresSession(t *testing.T) {
	fix := setupFixture(t)
	fix.erp.expireNextLoad = true
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	err := fix.service.SyncInvoice(ctx, fix.store, "shopee", "777")
	require.NoError(t, err)

	require.Equal(t, 1, fix.loginCalls)
	// failed load, retried load, then the post-save re-read
	require.Equal(t, 3, fix.erp.count(rpc.FuncGetInvoice))
	require.Equal(t, []string{"777"}, fix.emitted)
}

func TestSyncInvoiceSkipsInactiveMarketplace(t *testing.T) {
	fix := setupFixture(t)
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	// mercado is not active on the SKU-1 reference
	err := fix.service.SyncInvoice(ctx, fix.store, "mercado", "777")
	require.NoError(t, err)

	require.Zero(t, fix.erp.count(rpc.FuncAddTempItem))
	// the save/emit tail still runs
	require.Equal(t, 2, fix.erp.count(rpc.FuncSaveInvoice))
	require.Equal(t, []string{"777"}, fix.emitted)
}

func webhookBody(situacao, invoiceID string) *strings.Reader {
	return strings.NewReader(fmt.Sprintf(
		`{"dados":{"codigoSituacao":%q,"idNotaFiscal":%q}}`, situacao, invoiceID))
}

func TestWebhookGate(t *testing.T) {
	fix := setupFixture(t)
	mux := http.NewServeMux()
	fix.service.RegisterRoutes(mux)

	send := func(path string, body *strings.Reader) *httptest.ResponseRecorder {
		rec := httptest.NewRecorder()
		req := httptest.NewRequest(http.MethodPost, path, body)
		mux.ServeHTTP(rec, req)
		return rec
	}

	rec := send("/webhook/loja/shopee", webhookBody("faturada", "777"))
	require.Equal(t, http.StatusOK, rec.Code)
	require.Contains(t, rec.Body.String(), "event ignored")
	require.Zero(t, fix.erp.count(rpc.FuncGetInvoice))

	rec = send("/webhook/loja/shopee", webhookBody("preparando_envio", "0"))
	require.Equal(t, http.StatusOK, rec.Code)
	require.Contains(t, rec.Body.String(), "event ignored")

	rec = send("/webhook/desconhecida/shopee", webhookBody("preparando_envio", "777"))
	require.Equal(t, http.StatusNotFound, rec.Code)

	require.NoError(t, fix.qry.SetStoreBotActive(context.Background(), db.SetStoreBotActiveParams{
		BotActive: false,
		Name:      "loja",
	}))
	rec = send("/webhook/loja/shopee", webhookBody("preparando_envio", "777"))
	require.Equal(t, http.StatusOK, rec.Code)
	require.Contains(t, rec.Body.String(), "not active")
	require.Zero(t, fix.erp.count(rpc.FuncGetInvoice))
}

func TestWebhookRunsSync(t *testing.T) {
	fix := setupFixture(t)
	mux := http.NewServeMux()
	fix.service.RegisterRoutes(mux)

	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodPost, "/webhook/loja/shopee",
		webhookBody("preparando_envio", "777"))
	mux.ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	require.Contains(t, rec.Body.String(), "invoice 777 sent")
	require.Equal(t, []string{"777"}, fix.emitted)
}
