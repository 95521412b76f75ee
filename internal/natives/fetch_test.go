package natives

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/dop251/goja"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/GriffinCanCode/AgentOS/scriptd/internal/infrastructure/resilience"
)

func enabledFetcher(mutate ...func(*NetworkConfig)) *Fetcher {
	config := DefaultNetworkConfig()
	config.Enabled = true
	config.Retries = 0
	for _, m := range mutate {
		m(&config)
	}
	return NewFetcher(config, nil)
}

func TestFetchJSON(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(map[string]string{
			"msg":    "hello",
			"header": r.Header.Get("X-Test"),
			"agent":  r.UserAgent(),
		})
	}))
	defer srv.Close()

	h := newHarness(t, enabledFetcher())
	require.NoError(t, h.vm.Set("base", srv.URL))

	v, ok := h.settle(t, `
		fetch(base + '/json', { headers: { 'X-Test': 'yes' } })
			.then(r => r.json().then(body => [r.status, r.ok, r.headers['content-type'], body.msg, body.header, body.agent].join('|')))`)
	require.True(t, ok, "rejected: %v", v)
	assert.Equal(t, "200|true|application/json|hello|yes|scriptd/1.0", v.String())

	v, ok = h.settle(t, "fetch(base).then(r => r.buffer()).then(b => Buffer.isBuffer(b) && b.length > 0)")
	require.True(t, ok)
	assert.Equal(t, true, v.Export())
}

func TestFetchPostsFormData(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if err := r.ParseMultipartForm(1 << 20); err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		file, header, err := r.FormFile("upload")
		if err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		defer file.Close()
		data, _ := io.ReadAll(file)
		_, _ = io.WriteString(w, r.Method+":"+r.FormValue("name")+":"+header.Filename+":"+string(data))
	}))
	defer srv.Close()

	h := newHarness(t, enabledFetcher())
	require.NoError(t, h.vm.Set("base", srv.URL))

	v, ok := h.settle(t, `
		const form = new FormData();
		form.append('name', 'scriptd');
		form.append('upload', Buffer.from('payload'), 'data.bin');
		fetch(base, { method: 'post', body: form }).then(r => r.text())`)
	require.True(t, ok, "rejected: %v", v)
	assert.Equal(t, "POST:scriptd:data.bin:payload", v.String())
}

func TestFetchStringBody(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		data, _ := io.ReadAll(r.Body)
		_, _ = io.WriteString(w, r.Header.Get("Content-Type")+"|"+string(data))
	}))
	defer srv.Close()

	h := newHarness(t, enabledFetcher())
	require.NoError(t, h.vm.Set("base", srv.URL))

	v, ok := h.settle(t, "fetch(base, { method: 'PUT', body: 'hi' }).then(r => r.text())")
	require.True(t, ok)
	assert.Equal(t, "text/plain;charset=UTF-8|hi", v.String())
}

func TestFetchRejections(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		_, _ = io.WriteString(w, strings.Repeat("x", 64))
	}))
	defer srv.Close()

	tests := []struct {
		name    string
		fetcher *Fetcher
		script  string
		want    string
	}{
		{name: "disabled", fetcher: NewFetcher(DefaultNetworkConfig(), nil), script: "fetch(base)", want: "ERR_ACCESS_DENIED"},
		{name: "bad url argument", fetcher: enabledFetcher(), script: "fetch(42)", want: "ERR_INVALID_ARG_TYPE"},
		{name: "unsupported scheme", fetcher: enabledFetcher(), script: "fetch('ftp://example.com/file')", want: "ERR_FETCH_FAILED"},
		{name: "body too large", fetcher: enabledFetcher(func(c *NetworkConfig) { c.MaxResponseBytes = 16 }), script: "fetch(base)", want: "ERR_FETCH_FAILED"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := newHarness(t, tt.fetcher)
			require.NoError(t, h.vm.Set("base", srv.URL))

			v, ok := h.settle(t, tt.script+".catch(e => e.name + ':' + e.code)")
			require.True(t, ok)
			assert.Equal(t, "TypeError:"+tt.want, v.String())
		})
	}
}

func TestFetchServerErrorsOpenCircuit(t *testing.T) {
	var hits atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		hits.Add(1)
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer srv.Close()

	fetcher := enabledFetcher()
	h := newHarness(t, fetcher)
	require.NoError(t, h.vm.Set("base", srv.URL))

	v, ok := h.settle(t, `
		(async () => {
			const out = [];
			for (let i = 0; i < 5; i++) {
				const r = await fetch(base);
				out.push(r.status + ':' + r.ok);
			}
			try {
				await fetch(base);
				out.push('reached');
			} catch (e) {
				out.push(e.code);
			}
			return out.join(',');
		})()`)
	require.True(t, ok)
	assert.Equal(t, strings.Repeat("503:false,", 5)+"ERR_CIRCUIT_OPEN", v.String())
	assert.Equal(t, int32(5), hits.Load())

	u, err := url.Parse(srv.URL)
	require.NoError(t, err)
	assert.Equal(t, resilience.StateOpen, fetcher.Breakers()[u.Host])
}

func TestFetchRetriesServerErrors(t *testing.T) {
	tests := []struct {
		name       string
		failures   int32
		retries    int
		wantStatus int
		wantHits   int32
	}{
		{name: "recovers within retries", failures: 1, retries: 1, wantStatus: http.StatusOK, wantHits: 2},
		{name: "retries exhausted", failures: 10, retries: 2, wantStatus: http.StatusServiceUnavailable, wantHits: 3},
		{name: "retries disabled", failures: 1, retries: 0, wantStatus: http.StatusServiceUnavailable, wantHits: 1},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var hits atomic.Int32
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				body, _ := io.ReadAll(r.Body)
				if hits.Add(1) <= tt.failures {
					w.WriteHeader(http.StatusServiceUnavailable)
					return
				}
				_, _ = w.Write(body)
			}))
			defer srv.Close()

			fetcher := enabledFetcher(func(c *NetworkConfig) {
				c.Retries = tt.retries
				c.RetryWait = time.Millisecond
			})
			resp, err := fetcher.Do(context.Background(), Request{Method: http.MethodPost, URL: srv.URL, Body: []byte("payload")})
			require.NoError(t, err)
			assert.Equal(t, tt.wantStatus, resp.Status)
			assert.Equal(t, tt.wantHits, hits.Load())
			if tt.wantStatus == http.StatusOK {
				assert.Equal(t, "payload", string(resp.Body), "the body is replayed on retry")
			}
		})
	}
}

func TestFetchHonorsExecutionContext(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusNoContent)
	}))
	defer srv.Close()

	fetcher := enabledFetcher()
	_, err := fetcher.Do(context.Background(), Request{URL: srv.URL})
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err = fetcher.Do(ctx, Request{URL: srv.URL})
	assert.True(t, errors.Is(err, context.Canceled), "got %v", err)

	h := newHarness(t, nil)
	vm := goja.New()
	_, err = Bind(ctx, vm, Env{Scope: h.scope, Fetcher: fetcher})
	require.NoError(t, err)
	require.NoError(t, vm.Set("base", srv.URL))
	v, err := vm.RunString("let code; fetch(base).catch(e => { code = e.code }); code")
	require.NoError(t, err)
	assert.True(t, goja.IsUndefined(v), "rejection handlers run as microtasks")
	v, err = vm.RunString("code")
	require.NoError(t, err)
	assert.Equal(t, "ERR_FETCH_FAILED", v.String())

	assert.Equal(t, resilience.StateClosed, fetcher.Breakers()[mustHost(t, srv.URL)])
}

func TestFetcherDisabled(t *testing.T) {
	_, err := NewFetcher(DefaultNetworkConfig(), nil).Do(context.Background(), Request{URL: "http://example.com"})
	assert.ErrorIs(t, err, ErrNetworkDisabled)
}

func mustHost(t *testing.T, raw string) string {
	t.Helper()
	u, err := url.Parse(raw)
	require.NoError(t, err)
	return u.Host
}
