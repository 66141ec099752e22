// Package rpc dispatches calls against the ERP's internal XAJAX framework:
// it knows the endpoint layout and request envelope the web client uses,
// retries transient network failures with linear backoff, and classifies
// everything else into the error taxonomy the session layer acts on.
package rpc

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"
	"tinysync-backend/lib/scrapers/tiny/session"
	"tinysync-backend/lib/scrapers/tiny/xajax"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"golang.org/x/time/rate"
)

var tracer = otel.Tracer("scrapers/tiny/rpc")

// AuthErrorMarker is how the ERP decorates authentication banners inside
// script-call payloads.
const AuthErrorMarker = "alert("

// DefaultFrontVersion is the web client version the backend expects to see in
// the request envelope. It does not validate the value, but rejects requests
// missing it.
const DefaultFrontVersion = "3.82.76"

const browserUserAgent = "Mozilla/5.0 (Windows NT 10.0; Win64; x64; rv:121.0) Gecko/20100101 Firefox/121.0"

type RetryPolicy struct {
	MaxAttempts int
	BaseDelay   time.Duration
}

var DefaultRetryPolicy = RetryPolicy{
	MaxAttempts: 5,
	BaseDelay:   2 * time.Second,
}

type Options struct {
	// BaseURL of the ERP web application, e.g. https://erp.tiny.com.br/
	BaseURL  string
	Sessions *session.Store
	Retry    RetryPolicy
	// FrontVersion overrides DefaultFrontVersion.
	FrontVersion string
	// RequestsPerSecond throttles calls against the remote. Defaults to 2,
	// matching a human-paced web client.
	RequestsPerSecond float64
}

type Client struct {
	base         *url.URL
	sessions     *session.Store
	retry        RetryPolicy
	frontVersion string
	limiter      *rate.Limiter

	// indirections for tests
	sleep func(ctx context.Context, d time.Duration) error
	now   func() time.Time
}

func NewClient(opts Options) (*Client, error) {
	base, err := url.Parse(opts.BaseURL)
	if err != nil {
		return nil, err
	}
	if opts.Retry.MaxAttempts == 0 {
		opts.Retry = DefaultRetryPolicy
	}
	if opts.FrontVersion == "" {
		opts.FrontVersion = DefaultFrontVersion
	}
	if opts.RequestsPerSecond == 0 {
		opts.RequestsPerSecond = 2
	}

	return &Client{
		base:         base,
		sessions:     opts.Sessions,
		retry:        opts.Retry,
		frontVersion: opts.FrontVersion,
		limiter:      rate.NewLimiter(rate.Limit(opts.RequestsPerSecond), 2),
		sleep:        sleepContext,
		now:          time.Now,
	}, nil
}

func sleepContext(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-timer.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Sessions exposes the session store the client dispatches through.
func (c *Client) Sessions() *session.Store {
	return c.sessions
}

func (c *Client) endpoint(req Request) string {
	switch req.Family {
	case FamilyLogin:
		return c.base.String() + loginEndpoint + "/2/" + url.PathEscape(loginClass) + "/" + req.Func
	default:
		return c.base.String() + invoiceEndpoint + "/1/" + req.Func
	}
}

// form builds the fixed request envelope. The timing/versioning fields are
// not validated by the remote service but it rejects requests lacking them.
func (c *Client) form(req Request) map[string]string {
	now := c.now()
	fields := map[string]string{
		"argsLength":   strconv.Itoa(len(req.Args)),
		"timeInicio":   strconv.FormatInt(now.UnixMilli(), 10),
		"versaoFront":  c.frontVersion,
		"pageTime":     strconv.FormatInt(now.Unix(), 10),
		"pageLastPing": "0",
		"curRetry":     "0",
		"args":         req.Args,
	}

	switch req.Family {
	case FamilyLogin:
		fields["location"] = c.base.String()
	default:
		fields["type"] = "1"
		fields["func"] = req.Func
		fields["location"] = c.base.String() + "notas_fiscais#edit/" + req.InvoiceID
		fields["duplicidade"] = "0"
	}
	return fields
}

// Call dispatches one operation for an account and parses the response
// stream. Transient network failures (DNS, timeouts, refused connections)
// are retried with linear backoff; a redirect loop invalidates the account's
// session immediately and is not retried here.
func (c *Client) Call(ctx context.Context, accountID int64, req Request) (xajax.Result, error) {
	ctx, span := tracer.Start(ctx, "rpc:Call")
	defer span.End()
	span.SetAttributes(
		attribute.String("func", req.Func),
		attribute.Int64("account", accountID),
	)

	acct := c.sessions.Get(accountID)
	endpoint := c.endpoint(req)
	form := c.form(req)

	for attempt := 1; ; attempt++ {
		err := c.limiter.Wait(ctx)
		if err != nil {
			return xajax.Result{}, err
		}

		res, err := acct.HTTP().R().
			SetContext(ctx).
			SetHeader("user-agent", browserUserAgent).
			SetHeader("x-custom-request-for", "XAJAX").
			SetHeader("x-requested-with", "XMLHttpRequest").
			SetFormData(form).
			Post(endpoint)

		if err != nil {
			// transient wins over the redirect check: a flaky resolver can
			// surface mid-redirect and retrying is the right move
			if isTransient(err) {
				if attempt < c.retry.MaxAttempts {
					wait := c.retry.BaseDelay * time.Duration(attempt)
					slog.WarnContext(
						ctx, "transient rpc failure, backing off",
						"func", req.Func,
						"attempt", attempt,
						"max_attempts", c.retry.MaxAttempts,
						"wait", wait,
						"err", err,
					)
					if serr := c.sleep(ctx, wait); serr != nil {
						return xajax.Result{}, serr
					}
					continue
				}
				span.SetStatus(codes.Error, "transient failures exhausted")
				return xajax.Result{}, &TransportError{Host: c.base.Hostname(), Attempts: attempt, Err: err}
			}
			if isRedirectLoop(err) {
				slog.WarnContext(ctx, "redirect loop, clearing session", "account", accountID)
				c.sessions.Clear(ctx, accountID)
				span.SetStatus(codes.Error, "session invalid")
				return xajax.Result{}, &SessionInvalidError{Host: c.base.Hostname()}
			}
			span.SetStatus(codes.Error, "request failed")
			return xajax.Result{}, &TransportError{Host: c.base.Hostname(), Attempts: attempt, Err: err}
		}

		if res.StatusCode() >= 400 {
			span.SetStatus(codes.Error, "unexpected status")
			return xajax.Result{}, &TransportError{
				Host:     c.base.Hostname(),
				Attempts: attempt,
				Err:      fmt.Errorf("unexpected status %s", res.Status()),
			}
		}

		result, err := c.parse(req, res.Body(), sessionCookie(res.Cookies()))
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, "unparseable response")
		}
		return result, err
	}
}

func sessionCookie(cookies []*http.Cookie) string {
	for _, c := range cookies {
		if c.Name == session.CookieName {
			return c.Value
		}
	}
	return ""
}

func (c *Client) parse(req Request, body []byte, cookie string) (xajax.Result, error) {
	cmds, err := xajax.Decode(body)
	if err != nil {
		return xajax.Result{}, err
	}

	// The second login-finalize call signals success through what looks like
	// an error banner, and the response carries the session cookie. Observed
	// behavior of the ERP; do not generalize to other operations.
	if req.Func == FuncFinalizeLogin && len(cmds) == 1 &&
		cmds[0].Cmd == xajax.CmdScript && strings.Contains(cmds[0].Src, AuthErrorMarker) {
		if cookie == "" {
			return xajax.Result{}, &RemoteFaultError{Message: cmds[0].Src}
		}
		return xajax.Result{Commands: cmds, Raw: body, SessionCookie: cookie}, nil
	}

	result, err := xajax.Fold(cmds, req.Callback())
	if err != nil {
		return xajax.Result{}, err
	}
	result.Raw = body
	result.SessionCookie = cookie
	return result, nil
}

// Callback maps an operation to the script-call payload its response embeds.
func (r Request) Callback() xajax.Callback {
	switch r.Func {
	case FuncGetInvoice:
		return xajax.CallbackItems
	case FuncGetTempItem:
		return xajax.CallbackEditItem
	case FuncAddTempItem:
		return xajax.CallbackSaveItem
	default:
		return ""
	}
}
