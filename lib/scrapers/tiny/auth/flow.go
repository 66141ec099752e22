// Package auth runs the ERP's login sequence: a Keycloak authorization-code
// dance on the identity provider followed by two RPCs that trade the code for
// a session cookie.
package auth

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"tinysync-backend/lib/scrapers/tiny/rpc"
	"tinysync-backend/lib/scrapers/tiny/session"
	"tinysync-backend/lib/scrapers/tiny/xajax"

	"github.com/PuerkitoBio/goquery"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/codes"
)

var tracer = otel.Tracer("scrapers/tiny/auth")

var ErrCredentialsRejected = fmt.Errorf("the identity provider rejected the credentials")

// DefaultAuthorizeURL starts the authorization-code flow the web client uses.
const DefaultAuthorizeURL = "https://accounts.tiny.com.br/realms/tiny/protocol/openid-connect/auth" +
	"?client_id=tiny-webapp" +
	"&redirect_uri=https%3A%2F%2Ferp.tiny.com.br%2Flogin" +
	"&scope=openid" +
	"&response_type=code"

const browserUserAgent = "Mozilla/5.0 (Windows NT 10.0; Win64; x64; rv:121.0) Gecko/20100101 Firefox/121.0"

type Options struct {
	// AuthorizeURL overrides DefaultAuthorizeURL, tests point it at a fake
	// identity provider.
	AuthorizeURL string
	Rpc          *rpc.Client
}

// Flow executes the full login sequence for one account. Bind Flow.Login to a
// session.Store so Acquire runs it.
type Flow struct {
	authorizeURL string
	rpc          *rpc.Client
}

func NewFlow(opts Options) *Flow {
	if opts.AuthorizeURL == "" {
		opts.AuthorizeURL = DefaultAuthorizeURL
	}
	return &Flow{
		authorizeURL: opts.AuthorizeURL,
		rpc:          opts.Rpc,
	}
}

// Login performs the four-step sequence against the account's cookie store:
// fetch the hosted login page, submit credentials, trade the resulting
// authorization code over RPC, then finalize and persist the session cookie.
func (f *Flow) Login(ctx context.Context, acct *session.Account, creds session.Credentials) (string, error) {
	ctx, span := tracer.Start(ctx, "auth:Login")
	defer span.End()

	action, err := f.fetchLoginForm(ctx, acct)
	if err != nil {
		span.SetStatus(codes.Error, "failed to fetch login form")
		return "", err
	}

	code, err := f.submitCredentials(ctx, acct, action, creds)
	if err != nil {
		span.SetStatus(codes.Error, "failed to submit credentials")
		return "", err
	}

	uidLogin, idUsuario, err := f.exchangeCode(ctx, acct, creds, code)
	if err != nil {
		span.SetStatus(codes.Error, "failed to exchange authorization code")
		return "", err
	}

	cookie, err := f.finalize(ctx, acct, uidLogin, idUsuario)
	if err != nil {
		span.SetStatus(codes.Error, "failed to finalize login")
		return "", err
	}

	acct.SetSessionCookie(cookie)
	return cookie, nil
}

// fetchLoginForm loads the hosted login page and returns the form's submit
// target. The GET also seeds the identity provider's own cookies into the
// account's store, the POST is rejected without them.
func (f *Flow) fetchLoginForm(ctx context.Context, acct *session.Account) (string, error) {
	res, err := acct.HTTP().R().
		SetContext(ctx).
		SetHeader("user-agent", browserUserAgent).
		Get(f.authorizeURL)
	if err != nil {
		return "", err
	}
	if res.StatusCode() != http.StatusOK {
		return "", fmt.Errorf("authorize endpoint returned %s", res.Status())
	}

	doc, err := goquery.NewDocumentFromReader(bytes.NewBuffer(res.Body()))
	if err != nil {
		return "", err
	}
	action := doc.Find("#kc-content-wrapper form").AttrOr("action", "")
	if action == "" {
		return "", fmt.Errorf("login page has no credential form")
	}
	return action, nil
}

// submitCredentials posts the login form and rides the redirect chain back to
// the ERP, which hands out an authorization code in the final URL's query.
// Rejection shows up two ways: a retorno envelope with a codigo_erro, or the
// identity provider re-rendering the form so no code appears in the final URL.
func (f *Flow) submitCredentials(ctx context.Context, acct *session.Account, action string, creds session.Credentials) (string, error) {
	res, err := acct.HTTP().R().
		SetContext(ctx).
		SetHeader("user-agent", browserUserAgent).
		SetHeader("accept", "text/html,application/xhtml+xml,application/xml;q=0.9,*/*;q=0.8").
		SetHeader("accept-language", "pt-BR,pt;q=0.9,en;q=0.8").
		SetCookie(&http.Cookie{Name: "tinyuser", Value: url.QueryEscape(creds.Login)}).
		SetFormData(map[string]string{
			"username":     creds.Login,
			"password":     creds.Password,
			"credentialId": "",
		}).
		Post(action)
	if err != nil {
		return "", err
	}

	var rejection struct {
		Retorno struct {
			CodigoErro json.Number `json:"codigo_erro"`
		} `json:"retorno"`
	}
	if json.Unmarshal(res.Body(), &rejection) == nil {
		if c := rejection.Retorno.CodigoErro.String(); c != "" && c != "0" {
			return "", fmt.Errorf("%w: codigo_erro %s", ErrCredentialsRejected, c)
		}
	}

	final := res.RawResponse.Request.URL
	code := final.Query().Get("code")
	if code == "" {
		return "", ErrCredentialsRejected
	}
	return code, nil
}

// exchangeCode trades the authorization code for the identifiers the finalize
// step needs.
func (f *Flow) exchangeCode(ctx context.Context, acct *session.Account, creds session.Credentials, code string) (string, any, error) {
	result, err := f.rpc.Call(ctx, acct.ID, rpc.Login(creds.Login, creds.Password, code))
	if err != nil {
		return "", nil, err
	}
	if result.Error != "" {
		// a fold error here is the ERP refusing the login, not a transport fault
		return "", nil, fmt.Errorf("%w: %s", ErrCredentialsRejected, result.Error)
	}

	obj, ok := result.Response.(map[string]any)
	if !ok {
		return "", nil, fmt.Errorf("login response is not an object: %v", result.Response)
	}
	uidLogin, _ := obj["uidLogin"].(string)
	if uidLogin == "" {
		return "", nil, fmt.Errorf("login response is missing uidLogin")
	}
	return uidLogin, obj["idUsuario"], nil
}

func (f *Flow) finalize(ctx context.Context, acct *session.Account, uidLogin string, idUsuario any) (string, error) {
	result, err := f.rpc.Call(ctx, acct.ID, rpc.FinalizeLogin(uidLogin, idUsuario))
	if err != nil {
		return "", err
	}
	if result.SessionCookie == "" {
		return "", fmt.Errorf("finalize step returned no session cookie: %s", describeResult(result))
	}
	return result.SessionCookie, nil
}

func describeResult(result xajax.Result) string {
	if result.Error != "" {
		return result.Error
	}
	if len(result.Commands) > 0 {
		return result.Commands[0].Src
	}
	return "empty response"
}
