package natives

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/dop251/goja"
	"github.com/go-resty/resty/v2"
	"github.com/hashicorp/go-retryablehttp"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/GriffinCanCode/AgentOS/scriptd/internal/infrastructure/resilience"
)

var (
	ErrNetworkDisabled   = errors.New("network access is disabled")
	ErrResponseTooLarge  = errors.New("response body exceeds the configured limit")
	errUpstreamServerErr = errors.New("upstream server error")
)

// NetworkConfig controls outbound requests made by guest scripts
type NetworkConfig struct {
	Enabled           bool
	Timeout           time.Duration
	RequestsPerSecond float64 // 0 = unlimited
	Burst             int
	Retries           int
	RetryWait         time.Duration
	MaxResponseBytes  int64
	UserAgent         string
	Breaker           resilience.Settings
	MaxHosts          int // hosts with their own breaker
}

// DefaultNetworkConfig returns the defaults; network access starts disabled
func DefaultNetworkConfig() NetworkConfig {
	return NetworkConfig{
		Enabled:          false,
		Timeout:          10 * time.Second,
		Retries:          2,
		RetryWait:        200 * time.Millisecond,
		MaxResponseBytes: 8 << 20,
		UserAgent:        "scriptd/1.0",
		Breaker:          resilience.DefaultSettings(),
		MaxHosts:         resilience.DefaultGroupSize,
	}
}

// Request is an outbound request built from guest arguments
type Request struct {
	Method string
	URL    string
	Header http.Header
	Body   []byte
}

// Response is a fully read response
type Response struct {
	Status     int
	StatusText string
	URL        string
	Header     http.Header
	Body       []byte
}

// Fetcher performs guest HTTP requests with rate limiting, a circuit
// breaker per host and retries
type Fetcher struct {
	config   NetworkConfig
	resty    *resty.Client
	limiter  *rate.Limiter
	breakers *resilience.Group
	logger   *zap.Logger
}

// NewFetcher creates the shared outbound client
func NewFetcher(config NetworkConfig, logger *zap.Logger) *Fetcher {
	defaults := DefaultNetworkConfig()
	if config.Timeout <= 0 {
		config.Timeout = defaults.Timeout
	}
	if config.MaxResponseBytes <= 0 {
		config.MaxResponseBytes = defaults.MaxResponseBytes
	}
	if config.UserAgent == "" {
		config.UserAgent = defaults.UserAgent
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	if config.RetryWait <= 0 {
		config.RetryWait = defaults.RetryWait
	}

	// Retries happen below resty, so the last server error still reaches
	// the breaker as a response once they are exhausted.
	retryClient := retryablehttp.NewClient()
	retryClient.RetryMax = config.Retries
	retryClient.RetryWaitMin = config.RetryWait
	retryClient.RetryWaitMax = config.Timeout
	retryClient.ErrorHandler = retryablehttp.PassthroughErrorHandler
	retryClient.Logger = nil

	restyClient := resty.New()
	restyClient.
		SetTimeout(config.Timeout).
		SetHeader("User-Agent", config.UserAgent)
	restyClient.SetTransport(&retryablehttp.RoundTripper{Client: retryClient})

	limiter := rate.NewLimiter(rate.Inf, 0)
	if config.RequestsPerSecond > 0 {
		limiter = rate.NewLimiter(rate.Limit(config.RequestsPerSecond), max(config.Burst, 1))
	}

	settings := config.Breaker
	settings.OnStateChange = func(name string, from, to resilience.State) {
		logger.Warn("Outbound circuit changed state",
			zap.String("host", name), zap.String("from", from.String()), zap.String("to", to.String()))
	}

	return &Fetcher{
		config:   config,
		resty:    restyClient,
		limiter:  limiter,
		breakers: resilience.NewGroup(settings, config.MaxHosts),
		logger:   logger,
	}
}

// Enabled reports whether guests may make requests
func (f *Fetcher) Enabled() bool { return f.config.Enabled }

// Breakers reports the circuit state per host
func (f *Fetcher) Breakers() map[string]resilience.State { return f.breakers.States() }

// Do executes a request under ctx. Server errors count against the host's
// breaker but are still returned as responses.
func (f *Fetcher) Do(ctx context.Context, req Request) (*Response, error) {
	if !f.config.Enabled {
		return nil, ErrNetworkDisabled
	}
	u, err := url.Parse(req.URL)
	if err != nil {
		return nil, fmt.Errorf("invalid URL %q: %w", req.URL, err)
	}
	if u.Scheme != "http" && u.Scheme != "https" || u.Host == "" {
		return nil, fmt.Errorf("invalid URL %q: only absolute http and https URLs are supported", req.URL)
	}
	method := strings.ToUpper(req.Method)
	if method == "" {
		method = http.MethodGet
	}

	if err := f.limiter.Wait(ctx); err != nil {
		return nil, err
	}

	start := time.Now()
	resp, err := resilience.Do(f.breakers.For(u.Host), func() (*Response, error) {
		return f.execute(ctx, method, u, req)
	})
	if errors.Is(err, errUpstreamServerErr) {
		err = nil
	}
	if err != nil {
		f.logger.Debug("Guest request failed",
			zap.String("method", method), zap.String("host", u.Host), zap.Error(err))
		return nil, err
	}

	f.logger.Debug("Guest request completed",
		zap.String("method", method), zap.String("host", u.Host),
		zap.Int("status", resp.Status), zap.Duration("duration", time.Since(start)))
	return resp, nil
}

func (f *Fetcher) execute(ctx context.Context, method string, u *url.URL, req Request) (*Response, error) {
	r := f.resty.R().SetContext(ctx).SetDoNotParseResponse(true)
	if len(req.Header) > 0 {
		r.SetHeaderMultiValues(req.Header)
	}
	if req.Body != nil {
		r.SetBody(req.Body)
	}

	raw, err := r.Execute(method, u.String())
	if err != nil {
		return nil, err
	}
	body := raw.RawBody()
	defer body.Close()

	data, err := io.ReadAll(io.LimitReader(body, f.config.MaxResponseBytes+1))
	if err != nil {
		return nil, err
	}
	if int64(len(data)) > f.config.MaxResponseBytes {
		return nil, ErrResponseTooLarge
	}

	resp := &Response{
		Status:     raw.StatusCode(),
		StatusText: http.StatusText(raw.StatusCode()),
		URL:        u.String(),
		Header:     raw.Header(),
		Body:       data,
	}
	if resp.Status >= http.StatusInternalServerError {
		return resp, errUpstreamServerErr
	}
	return resp, nil
}

// installFetch binds fetch(url[, init]). The request runs to completion on
// the execution goroutine and the returned promise is already settled.
func (b *Binding) installFetch() error {
	if b.env.Fetcher == nil {
		return nil
	}
	return b.vm.Set("fetch", b.fetch)
}

func (b *Binding) fetch(call goja.FunctionCall) goja.Value {
	req, errObj := b.fetchRequest(call)
	if errObj != nil {
		return b.rejected(errObj)
	}

	resp, err := b.env.Fetcher.Do(b.ctx, req)
	if err != nil {
		code := "ERR_FETCH_FAILED"
		switch {
		case errors.Is(err, ErrNetworkDisabled):
			code = "ERR_ACCESS_DENIED"
		case errors.Is(err, resilience.ErrCircuitOpen), errors.Is(err, resilience.ErrTooManyRequests):
			code = "ERR_CIRCUIT_OPEN"
		}
		return b.rejected(b.newError(b.typeErrorCtor, code, "fetch failed: "+err.Error()))
	}
	return b.resolved(b.responseObject(resp))
}

// fetchRequest builds a request from the guest's url and init object.
// Argument errors reject the promise rather than throw.
func (b *Binding) fetchRequest(call goja.FunctionCall) (req Request, errObj *goja.Object) {
	defer func() {
		if r := recover(); r != nil {
			obj, ok := r.(*goja.Object)
			if !ok {
				panic(r)
			}
			errObj = obj
		}
	}()

	const op = "fetch"
	if !isString(call.Argument(0)) {
		b.throwType(op, `The "url" argument must be of type string. Received %s`, describeArg(call.Argument(0)))
	}
	req = Request{Method: http.MethodGet, URL: call.Argument(0).String(), Header: http.Header{}}

	init, ok := call.Argument(1).(*goja.Object)
	if !ok {
		return req, nil
	}
	if m := init.Get("method"); isSet(m) {
		req.Method = strings.ToUpper(m.String())
	}
	if h, ok := init.Get("headers").(*goja.Object); ok {
		for _, k := range h.Keys() {
			req.Header.Set(k, h.Get(k).String())
		}
	}

	body := init.Get("body")
	if !isSet(body) {
		return req, nil
	}
	if enc, ok := b.formEncoder(body); ok {
		data, err := enc.Encode()
		if err != nil {
			b.throw(err)
		}
		req.Body = data
		req.Header.Set("Content-Type", enc.ContentType())
		return req, nil
	}
	req.Body = b.bytesOf(op, "body", body, "utf8")
	if isString(body) && req.Header.Get("Content-Type") == "" {
		req.Header.Set("Content-Type", "text/plain;charset=UTF-8")
	}
	return req, nil
}

// responseObject exposes a response with the familiar body readers, each
// returning a settled promise
func (b *Binding) responseObject(resp *Response) *goja.Object {
	obj := b.vm.NewObject()
	_ = obj.Set("status", resp.Status)
	_ = obj.Set("statusText", resp.StatusText)
	_ = obj.Set("ok", resp.Status >= 200 && resp.Status < 300)
	_ = obj.Set("url", resp.URL)

	headers := b.vm.NewObject()
	for k, vs := range resp.Header {
		_ = headers.Set(strings.ToLower(k), strings.Join(vs, ", "))
	}
	_ = obj.Set("headers", headers)

	_ = obj.Set("text", func(goja.FunctionCall) goja.Value {
		return b.resolved(string(resp.Body))
	})
	_ = obj.Set("json", func(goja.FunctionCall) goja.Value {
		v, err := b.jsonParse(goja.Undefined(), b.vm.ToValue(string(resp.Body)))
		if err != nil {
			var ex *goja.Exception
			if errors.As(err, &ex) {
				return b.rejected(ex.Value())
			}
			return b.rejected(b.newError(b.errorCtor, "", err.Error()))
		}
		return b.resolved(v)
	})
	_ = obj.Set("buffer", func(goja.FunctionCall) goja.Value {
		return b.resolved(b.newBuffer(resp.Body))
	})
	_ = obj.Set("arrayBuffer", func(goja.FunctionCall) goja.Value {
		return b.resolved(b.vm.NewArrayBuffer(append([]byte(nil), resp.Body...)))
	})
	return obj
}
