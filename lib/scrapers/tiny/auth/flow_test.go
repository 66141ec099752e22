package auth

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

type fakeErp struct {
	t *testing.T

	user     string
	password string

	server *httptest.Server

	loginForms   int
	rejectCode   bool
	credsErrCode string
	codeSeen     string
	tinyuserSeen string
}

func newFakeErp(t *testing.T) *fakeErp {
	f := &fakeErp{t: t, user: "loja@example.com", password: "hunter2"}
	mux := http.NewServeMux()
	mux.HandleFunc("/auth", f.handleAuthorize)
	mux.HandleFunc("/login-actions", f.handleCredentials)
	mux.HandleFunc("/login", func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, "carregando...")
	})
	mux.HandleFunc("/", f.handleRpc)
	f.server = httptest.NewServer(mux)
	t.Cleanup(f.server.Close)
	return f
}

func (f *fakeErp) handleAuthorize(w http.ResponseWriter, r *http.Request) {
	http.SetCookie(w, &http.Cookie{Name: "AUTH_SESSION_ID", Value: "kc-session", Path: "/"})
	fmt.Fprintf(w, `<html><body>
		<div id="kc-content-wrapper">
			<form action="%s/login-actions" method="post">
				<input name="username"/><input name="password"/>
			</form>
		</div>
	</body></html>`, f.server.URL)
}

func (f *fakeErp) handleCredentials(w http.ResponseWriter, r *http.Request) {
	f.loginForms++
	if c, err := r.Cookie("tinyuser"); err == nil {
		f.tinyuserSeen = c.Value
	}
	if c, err := r.Cookie("AUTH_SESSION_ID"); err != nil || c.Value != "kc-session" {
		http.Error(w, "no identity-provider session", http.StatusForbidden)
		return
	}
	if f.credsErrCode != "" {
		fmt.Fprintf(w, `{"retorno":{"codigo_erro":%s}}`, f.credsErrCode)
		return
	}
	if r.FormValue("username") != f.user || r.FormValue("password") != f.password {
		// a failed submit re-renders the form instead of redirecting
		f.handleAuthorize(w, r)
		return
	}
	http.Redirect(w, r, f.server.URL+"/login?state=xyz&code=auth-code-1", http.StatusFound)
}

func (f *fakeErp) handleRpc(w http.ResponseWriter, r *http.Request) {
	switch {
	case strings.HasSuffix(r.URL.Path, "efetuarLogin"):
		args := r.FormValue("args")
		if f.rejectCode || !strings.Contains(args, `"code":"auth-code-1"`) {
			fmt.Fprint(w, `{"response":[{"cmd":"rj","exc":"codigo invalido"}]}`)
			return
		}
		f.codeSeen = "auth-code-1"
		fmt.Fprint(w, `{"response":[{"cmd":"rt","val":{"uidLogin":"uid-55","idUsuario":7}}]}`)
	case strings.HasSuffix(r.URL.Path, "finalizarLogin"):
		if !strings.Contains(r.FormValue("args"), `["uid-55",7,null]`) {
			fmt.Fprint(w, `{"response":[{"cmd":"rj","exc":"uid invalido"}]}`)
			return
		}
		http.SetCookie(w, &http.Cookie{Name: session.CookieName, Value: "sess-abc", Path: "/"})
		fmt.Fprint(w, `{"response":[{"cmd":"sc","src":"alert('Bem vindo de volta');"}]}`)
	default:
		http.NotFound(w, r)
	}
}

func (f *fakeErp) wire(t *testing.T) *session.Store {
	t.Helper()
	store := session.NewStore(session.Options{
		Domains: []string{f.server.URL + "/"},
	})
	client, err := rpc.NewClient(rpc.Options{
		BaseURL:           f.server.URL + "/",
		Sessions:          store,
		RequestsPerSecond: 1000,
	})
	require.NoError(t, err)
	flow := NewFlow(Options{
		AuthorizeURL: f.server.URL + "/auth",
		Rpc:          client,
	})
	store.BindLogin(flow.Login)
	return store
}

func TestLoginSequence(t *testing.T) {
	erp := newFakeErp(t)
	store := erp.wire(t)

	cookie, err := store.Acquire(context.Background(), 1, session.Credentials{
		Login:    "loja@example.com",
		Password: "hunter2",
	})
	require.NoError(t, err)
	require.Equal(t, "sess-abc", cookie)
	require.Equal(t, "auth-code-1", erp.codeSeen)
	require.Equal(t, "loja%40example.com", erp.tinyuserSeen)

	found := false
	for _, c := range store.Get(1).Cookies(erp.server.URL + "/") {
		if c.Name == session.CookieName && c.Value == "sess-abc" {
			found = true
		}
	}
	require.True(t, found, "session cookie not written to the account's store")
}

func TestLoginRejectedCredentials(t *testing.T) {
	erp := newFakeErp(t)
	store := erp.wire(t)

	_, err := store.Acquire(context.Background(), 1, session.Credentials{
		Login:    "loja@example.com",
		Password: "wrong",
	})
	require.ErrorIs(t, err, ErrCredentialsRejected)
	require.Equal(t, 1, erp.loginForms)
}

func TestLoginRejectedEnvelope(t *testing.T) {
	erp := newFakeErp(t)
	erp.credsErrCode = "30"
	store := erp.wire(t)

	_, err := store.Acquire(context.Background(), 1, session.Credentials{
		Login:    "loja@example.com",
		Password: "hunter2",
	})
	require.ErrorIs(t, err, ErrCredentialsRejected)
	require.Contains(t, err.Error(), "codigo_erro 30")
}

func TestLoginCodeExchangeRejected(t *testing.T) {
	erp := newFakeErp(t)
	erp.rejectCode = true
	store := erp.wire(t)

	_, err := store.Acquire(context.Background(), 1, session.Credentials{
		Login:    "loja@example.com",
		Password: "hunter2",
	})
	require.ErrorIs(t, err, ErrCredentialsRejected)
	require.Contains(t, err.Error(), "codigo invalido")
}
