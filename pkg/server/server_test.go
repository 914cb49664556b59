package server

import (
	"bytes"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tidwall/gjson"

	"github.com/aleksaelezovic/worlds/pkg/blob"
	"github.com/aleksaelezovic/worlds/pkg/codec"
	"github.com/aleksaelezovic/worlds/pkg/ratelimit"
	"github.com/aleksaelezovic/worlds/pkg/world"
)

func newTestServer(t *testing.T, policies ratelimit.Policies) *httptest.Server {
	t.Helper()
	reg := prometheus.NewRegistry()
	svc, err := world.NewService(world.Deps{
		Blobs:    blob.NewMemoryStore(),
		Buckets:  ratelimit.NewMemoryBucketStore(),
		Policies: policies,
		Metrics:  world.NewMetrics(reg),
	})
	require.NoError(t, err)

	ts := httptest.NewServer(NewServer(svc, WithGatherer(reg)).Handler())
	t.Cleanup(ts.Close)
	return ts
}

type call struct {
	method  string
	path    string
	body    string
	headers map[string]string
}

func do(t *testing.T, ts *httptest.Server, c call) (*http.Response, []byte) {
	t.Helper()
	req, err := http.NewRequest(c.method, ts.URL+c.path, strings.NewReader(c.body))
	require.NoError(t, err)
	req.Header.Set(headerTenant, "acme")
	for k, v := range c.headers {
		if v == "" {
			req.Header.Del(k)
			continue
		}
		req.Header.Set(k, v)
	}
	resp, err := ts.Client().Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()
	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	return resp, body
}

func update(t *testing.T, ts *httptest.Server, worldID, text string) {
	t.Helper()
	resp, body := do(t, ts, call{method: http.MethodPost, path: "/v1/worlds/" + worldID + "/sparql", body: text,
		headers: map[string]string{"Content-Type": "application/sparql-update"}})
	require.Equal(t, http.StatusNoContent, resp.StatusCode, string(body))
}

func TestSPARQL_UpdateThenSelect(t *testing.T) {
	ts := newTestServer(t, nil)
	update(t, ts, "people", `PREFIX ex: <http://example.org/> INSERT DATA { ex:alice ex:name "Alice" }`)

	resp, body := do(t, ts, call{method: http.MethodGet,
		path: "/v1/worlds/people/sparql?query=" + url.QueryEscape(`SELECT ?name WHERE { ?s ?p ?name }`)})
	require.Equal(t, http.StatusOK, resp.StatusCode, string(body))
	assert.Contains(t, resp.Header.Get("Content-Type"), "application/sparql-results+json")
	assert.Equal(t, "60", resp.Header.Get("X-RateLimit-Limit"))
	assert.Equal(t, "59", resp.Header.Get("X-RateLimit-Remaining"))
	assert.Empty(t, resp.Header.Get("Retry-After"))

	assert.Equal(t, "name", gjson.GetBytes(body, "head.vars.0").String())
	assert.Equal(t, "Alice", gjson.GetBytes(body, "results.bindings.0.name.value").String())
	assert.Equal(t, "literal", gjson.GetBytes(body, "results.bindings.0.name.type").String())
}

func TestSPARQL_FormAndNegotiation(t *testing.T) {
	ts := newTestServer(t, nil)

	form := url.Values{"update": {`INSERT DATA { <http://example.org/a> <http://example.org/p> "x" }`}}
	resp, _ := do(t, ts, call{method: http.MethodPost, path: "/v1/worlds/w/sparql", body: form.Encode(),
		headers: map[string]string{"Content-Type": "application/x-www-form-urlencoded"}})
	require.Equal(t, http.StatusNoContent, resp.StatusCode)

	form = url.Values{"query": {`ASK { ?s ?p "x" }`}}
	resp, body := do(t, ts, call{method: http.MethodPost, path: "/v1/worlds/w/sparql", body: form.Encode(),
		headers: map[string]string{"Content-Type": "application/x-www-form-urlencoded", "Accept": "application/sparql-results+xml"}})
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Contains(t, resp.Header.Get("Content-Type"), "application/sparql-results+xml")
	assert.Contains(t, string(body), "<boolean>true</boolean>")

	resp, body = do(t, ts, call{method: http.MethodPost, path: "/v1/worlds/w/sparql",
		body:    `CONSTRUCT { ?s ?p ?o } WHERE { ?s ?p ?o }`,
		headers: map[string]string{"Content-Type": "application/sparql-query", "Accept": "application/n-quads"}})
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Contains(t, resp.Header.Get("Content-Type"), "application/n-quads")
	assert.Equal(t, "<http://example.org/a> <http://example.org/p> \"x\" .\n", string(body))
}

func TestErrorMapping(t *testing.T) {
	ts := newTestServer(t, nil)
	update(t, ts, "w", `INSERT DATA { <http://example.org/a> <http://example.org/p> 1 }`)

	cases := []struct {
		name   string
		call   call
		status int
		kind   string
	}{
		{"parse", call{method: http.MethodPost, path: "/v1/worlds/w/sparql", body: "SELECT WHERE {"}, http.StatusBadRequest, "parse_error"},
		{"missing world", call{method: http.MethodGet, path: "/v1/worlds/nope/sparql?query=ASK%7B%7D"}, http.StatusNotFound, "not_found"},
		{"other tenant", call{method: http.MethodGet, path: "/v1/worlds/w/search?q=a", headers: map[string]string{headerTenant: "intruder"}}, http.StatusNotFound, "not_found"},
		{"unsupported", call{method: http.MethodPost, path: "/v1/worlds/w/sparql", body: "LOAD <http://example.org/x>"}, http.StatusUnsupportedMediaType, "unsupported"},
		{"execution", call{method: http.MethodPost, path: "/v1/worlds/w/sparql", body: "CLEAR GRAPH <http://example.org/none>"}, http.StatusBadRequest, "execution_error"},
		{"no tenant", call{method: http.MethodGet, path: "/v1/worlds", headers: map[string]string{headerTenant: ""}}, http.StatusUnauthorized, "bad_request"},
		{"no query", call{method: http.MethodPost, path: "/v1/worlds/w/sparql"}, http.StatusBadRequest, "bad_request"},
		{"bad limit", call{method: http.MethodGet, path: "/v1/worlds/w/search?q=a&limit=x"}, http.StatusBadRequest, "bad_request"},
		{"export format", call{method: http.MethodGet, path: "/v1/worlds/w/blob?format=yaml"}, http.StatusUnsupportedMediaType, "unsupported"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			resp, body := do(t, ts, tc.call)
			assert.Equal(t, tc.status, resp.StatusCode, string(body))
			assert.Equal(t, tc.kind, gjson.GetBytes(body, "error.type").String())
			assert.Equal(t, int64(tc.status), gjson.GetBytes(body, "error.code").Int())
		})
	}
}

func TestRateLimitHeadersOnDenial(t *testing.T) {
	policies := ratelimit.DefaultPolicies()
	policies["free"][ratelimit.ResourceSearch] = ratelimit.Policy{Capacity: 1, RefillRate: 1, IntervalMs: 60_000}
	ts := newTestServer(t, policies)
	update(t, ts, "w", `INSERT DATA { <http://example.org/a> <http://example.org/p> "hello" }`)

	free := map[string]string{headerPlan: "free"}
	resp, body := do(t, ts, call{method: http.MethodGet, path: "/v1/worlds/w/search?q=hello", headers: free})
	require.Equal(t, http.StatusOK, resp.StatusCode, string(body))
	assert.Equal(t, int64(1), gjson.GetBytes(body, "hits.#").Int())
	assert.Equal(t, `"hello"`, gjson.GetBytes(body, "hits.0.object").String())

	resp, body = do(t, ts, call{method: http.MethodGet, path: "/v1/worlds/w/search?q=hello", headers: free})
	require.Equal(t, http.StatusTooManyRequests, resp.StatusCode)
	assert.Equal(t, "quota_exceeded", gjson.GetBytes(body, "error.type").String())
	assert.Equal(t, "1", resp.Header.Get("X-RateLimit-Limit"))
	assert.Equal(t, "0", resp.Header.Get("X-RateLimit-Remaining"))
	assert.Equal(t, "60", resp.Header.Get("Retry-After"))
	assert.NotEmpty(t, resp.Header.Get("X-RateLimit-Reset"))
}

func TestBlobRoundTrip(t *testing.T) {
	ts := newTestServer(t, nil)
	data := "<http://example.org/a> <http://example.org/p> \"x\" <http://example.org/g> .\n"

	var compressed bytes.Buffer
	quads, err := codec.Decode([]byte(data), codec.FormatNQuads, codec.CompressionNone)
	require.NoError(t, err)
	require.NoError(t, codec.EncodeTo(&compressed, quads, codec.FormatNQuads, codec.CompressionGzip))

	resp, body := do(t, ts, call{method: http.MethodPut, path: "/v1/worlds/w/blob", body: compressed.String(),
		headers: map[string]string{"Content-Type": "application/n-quads", "Content-Encoding": "gzip"}})
	require.Equal(t, http.StatusOK, resp.StatusCode, string(body))
	assert.True(t, gjson.GetBytes(body, "changed").Bool())
	assert.Equal(t, int64(1), gjson.GetBytes(body, "quads").Int())
	assert.Equal(t, "w", gjson.GetBytes(body, "world.worldId").String())

	resp, body = do(t, ts, call{method: http.MethodGet, path: "/v1/worlds/w/blob",
		headers: map[string]string{"Accept": "application/n-quads"}})
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "application/n-quads", resp.Header.Get("Content-Type"))
	assert.Equal(t, data, string(body))

	resp, body = do(t, ts, call{method: http.MethodGet, path: "/v1/worlds/w/blob?format=trig"})
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Contains(t, string(body), "<http://example.org/g>")

	resp, _ = do(t, ts, call{method: http.MethodPut, path: "/v1/worlds/w/blob", body: data,
		headers: map[string]string{"Content-Type": "text/turtle"}})
	assert.Equal(t, http.StatusUnsupportedMediaType, resp.StatusCode)
}

func TestWorldLifecycle(t *testing.T) {
	ts := newTestServer(t, nil)

	resp, body := do(t, ts, call{method: http.MethodPost, path: "/v1/worlds/mine"})
	require.Equal(t, http.StatusCreated, resp.StatusCode, string(body))
	assert.Equal(t, "acme", gjson.GetBytes(body, "tenantId").String())

	resp, body = do(t, ts, call{method: http.MethodPost, path: "/v1/worlds"})
	require.Equal(t, http.StatusCreated, resp.StatusCode)
	generated := gjson.GetBytes(body, "worldId").String()
	assert.NotEmpty(t, generated)

	resp, body = do(t, ts, call{method: http.MethodGet, path: "/v1/worlds"})
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, int64(2), gjson.GetBytes(body, "worlds.#").Int())

	resp, _ = do(t, ts, call{method: http.MethodDelete, path: "/v1/worlds/mine"})
	assert.Equal(t, http.StatusNoContent, resp.StatusCode)
	resp, _ = do(t, ts, call{method: http.MethodDelete, path: "/v1/worlds/mine"})
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)

	resp, body = do(t, ts, call{method: http.MethodGet, path: "/v1/usage"})
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.True(t, gjson.GetBytes(body, "usage").IsArray())
}

func TestHealthAndMetrics(t *testing.T) {
	ts := newTestServer(t, nil)
	update(t, ts, "w", `INSERT DATA { <http://example.org/a> <http://example.org/p> 1 }`)

	resp, body := do(t, ts, call{method: http.MethodGet, path: "/healthz"})
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "ok\n", string(body))

	resp, body = do(t, ts, call{method: http.MethodGet, path: "/metrics"})
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Contains(t, string(body), "worlds_commits_total")
	assert.Contains(t, string(body), "worlds_request_duration_seconds")
}

func TestStatusFor(t *testing.T) {
	code, kind := statusFor(&world.TimeoutError{})
	assert.Equal(t, http.StatusGatewayTimeout, code)
	assert.Equal(t, "timeout", kind)

	code, _ = statusFor(&world.ConflictError{Err: ratelimit.ErrConflict})
	assert.Equal(t, http.StatusConflict, code)

	code, kind = statusFor(&world.StorageError{Op: "write", Err: errors.New("disk")})
	assert.Equal(t, http.StatusInternalServerError, code)
	assert.Equal(t, "storage_error", kind)

	code, kind = statusFor(errors.New("boom"))
	assert.Equal(t, http.StatusInternalServerError, code)
	assert.Equal(t, "internal", kind)
}
