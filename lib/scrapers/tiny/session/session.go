// Package session owns the per-account cookie stores used to talk to the ERP
// and deduplicates concurrent login attempts, so one account never has two
// login sequences racing to set conflicting cookies.
package session

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"net/http/cookiejar"
	"net/url"
	"strconv"
	"sync"
	"time"
	"tinysync-backend/lib/telemetry"

	cloudflarebp "github.com/DaRealFreak/cloudflare-bp-go"
	"github.com/go-resty/resty/v2"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/codes"
	"golang.org/x/sync/singleflight"
)

var tracer = otel.Tracer("scrapers/tiny/session")

// CookieName is the ERP's session cookie.
const CookieName = "TINYSESSID"

// The ERP answers on its legacy domain and its current one, and redirects
// between them. The session cookie has to exist on both.
var DefaultDomains = []string{
	"https://erp.tiny.com.br/",
	"https://erp.olist.com/",
}

type Credentials struct {
	Login    string
	Password string
}

// LoginFunc runs a full login sequence against an account's cookie store and
// returns the session cookie value.
type LoginFunc func(ctx context.Context, acct *Account, creds Credentials) (string, error)

type Options struct {
	// Domains the session cookie is written to. Defaults to DefaultDomains.
	Domains []string
	// Timeout applied to every request made through an account's client.
	// Defaults to a minute, the ERP is slow under load.
	Timeout time.Duration
	// MaxRedirects before a request is treated as a redirect loop.
	MaxRedirects int
}

func (o Options) withDefaults() Options {
	if len(o.Domains) == 0 {
		o.Domains = DefaultDomains
	}
	if o.Timeout == 0 {
		o.Timeout = time.Minute
	}
	if o.MaxRedirects == 0 {
		o.MaxRedirects = 5
	}
	return o
}

// Store is the registry of account sessions. It is the only process-wide
// mutable state in the scraper; accounts are created lazily on first use and
// their cookies cleared on invalidation.
type Store struct {
	mu       sync.Mutex
	accounts map[int64]*Account
	opts     Options

	login LoginFunc
	group singleflight.Group
}

func NewStore(opts Options) *Store {
	return &Store{
		accounts: map[int64]*Account{},
		opts:     opts.withDefaults(),
	}
}

// BindLogin installs the login sequence executed by Acquire. The login flow
// itself dispatches RPCs through the client layer, which reads sessions from
// this store, so the two are tied together after construction.
func (s *Store) BindLogin(fn LoginFunc) {
	s.login = fn
}

// Get returns the account's session, creating a fresh empty cookie store on
// first use. It never blocks on I/O.
func (s *Store) Get(id int64) *Account {
	s.mu.Lock()
	defer s.mu.Unlock()

	acct, ok := s.accounts[id]
	if !ok {
		slog.Debug("creating cookie store", "account", id)
		acct = newAccount(id, s.opts)
		s.accounts[id] = acct
	}
	return acct
}

// Acquire runs the login sequence for the account, or joins one already in
// flight: concurrent callers for the same account share a single sequence and
// its outcome. Existing cookies are cleared first, stale cookies are a known
// cause of redirect loops. The pending handle is removed on every exit path
// so a later caller can retry after a failure.
func (s *Store) Acquire(ctx context.Context, id int64, creds Credentials) (string, error) {
	ctx, span := tracer.Start(ctx, "session:Acquire")
	defer span.End()

	if s.login == nil {
		return "", fmt.Errorf("session: no login sequence bound")
	}

	cookie, err, shared := s.group.Do(strconv.FormatInt(id, 10), func() (any, error) {
		s.Clear(ctx, id)
		return s.login(ctx, s.Get(id), creds)
	})
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "login sequence failed")
		return "", fmt.Errorf("acquire session for account %d: %w", id, err)
	}
	if shared {
		slog.DebugContext(ctx, "joined pending login", "account", id)
	}
	return cookie.(string), nil
}

// Clear drops every cookie the account holds. Clearing is a best-effort
// recovery step, failures are logged and swallowed.
func (s *Store) Clear(ctx context.Context, id int64) {
	acct := s.Get(id)
	err := acct.resetJar()
	if err != nil {
		slog.WarnContext(ctx, "failed to clear cookies", "account", id, "err", err)
	}
}

// Account is one account's session state: a dedicated http client bound to a
// cookie store. Cookies are mutated only by the rpc layer (on set-cookie) and
// the login flow (writing the session cookie).
type Account struct {
	ID int64

	http    *resty.Client
	domains []string
}

func newAccount(id int64, opts Options) *Account {
	client := resty.New()
	client.SetTimeout(opts.Timeout)
	client.SetRedirectPolicy(resty.FlexibleRedirectPolicy(opts.MaxRedirects))
	// the identity provider sits behind cloudflare
	client.GetClient().Transport = cloudflarebp.AddCloudFlareByPass(client.GetClient().Transport)

	jar, err := cookiejar.New(nil)
	if err != nil {
		// cookiejar.New never fails with nil options
		panic(err)
	}
	client.SetCookieJar(jar)

	telemetry.InstrumentResty(client, "scrapers/tiny/session")

	return &Account{
		ID:      id,
		http:    client,
		domains: opts.Domains,
	}
}

// HTTP exposes the account's client for the rpc and login layers.
func (a *Account) HTTP() *resty.Client {
	return a.http
}

// SetSessionCookie writes the session cookie for every ERP domain so either
// redirect target is already authenticated.
func (a *Account) SetSessionCookie(value string) {
	jar := a.http.GetClient().Jar
	for _, domain := range a.domains {
		u, err := url.Parse(domain)
		if err != nil {
			continue
		}
		jar.SetCookies(u, []*http.Cookie{{Name: CookieName, Value: value}})
	}
}

// Cookies reports the cookies currently held for a domain.
func (a *Account) Cookies(domain string) []*http.Cookie {
	u, err := url.Parse(domain)
	if err != nil {
		return nil
	}
	return a.http.GetClient().Jar.Cookies(u)
}

// net/http's cookiejar cannot delete, so clearing means swapping in a fresh
// jar.
func (a *Account) resetJar() error {
	jar, err := cookiejar.New(nil)
	if err != nil {
		return err
	}
	a.http.SetCookieJar(jar)
	return nil
}
