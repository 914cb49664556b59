package server

import (
	"bytes"
	"io"
	"mime"
	"net/http"
	"strconv"
	"time"

	"github.com/aleksaelezovic/worlds/pkg/blob"
	"github.com/aleksaelezovic/worlds/pkg/codec"
	"github.com/aleksaelezovic/worlds/pkg/sparql"
	"github.com/aleksaelezovic/worlds/pkg/sparql/results"
	"github.com/aleksaelezovic/worlds/pkg/world"
)

// tenant returns the calling tenant. Authentication happens in front of
// this server, which trusts the header.
func (s *Server) tenant(w http.ResponseWriter, r *http.Request) (string, bool) {
	tenant := r.Header.Get(headerTenant)
	if tenant == "" {
		s.badRequest(w, http.StatusUnauthorized, "missing "+headerTenant+" header")
		return "", false
	}
	return tenant, true
}

// readQuery extracts the query or update text following the SPARQL 1.1
// Protocol: a query parameter on GET, and on POST either a direct body or
// an urlencoded form
func readQuery(w http.ResponseWriter, r *http.Request, maxBody int64) (string, error) {
	if r.Method == http.MethodGet {
		return r.URL.Query().Get("query"), nil
	}

	mediaType, _, _ := mime.ParseMediaType(r.Header.Get("Content-Type"))
	if mediaType == "application/x-www-form-urlencoded" {
		r.Body = http.MaxBytesReader(w, r.Body, maxBody)
		if err := r.ParseForm(); err != nil {
			return "", err
		}
		if update := r.PostForm.Get("update"); update != "" {
			return update, nil
		}
		return r.PostForm.Get("query"), nil
	}

	body, err := io.ReadAll(io.LimitReader(r.Body, maxBody))
	if err != nil {
		return "", err
	}
	return string(body), nil
}

// handleSPARQL runs a query or an update. Solutions are written in the
// negotiated result format, quads as RDF, and updates answer 204.
func (s *Server) handleSPARQL(w http.ResponseWriter, r *http.Request) {
	tenant, ok := s.tenant(w, r)
	if !ok {
		return
	}
	query, err := readQuery(w, r, s.maxBody)
	if err != nil {
		s.badRequest(w, http.StatusBadRequest, "failed to read query: "+err.Error())
		return
	}
	if query == "" {
		s.badRequest(w, http.StatusBadRequest, "missing query")
		return
	}

	resp, err := s.worlds.Execute(r.Context(), world.Request{
		TenantID: tenant,
		Plan:     r.Header.Get(headerPlan),
		WorldID:  r.PathValue("world"),
		Query:    query,
	})
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	setRateLimitHeaders(w, resp.RateLimit)

	if resp.Result.Kind == sparql.KindVoid {
		w.WriteHeader(http.StatusNoContent)
		return
	}

	writer := results.Negotiate(r.Header.Get("Accept"), resp.Result.Kind)
	var buf bytes.Buffer
	if err := writer.Write(&buf, resp.Result); err != nil {
		s.writeError(w, r, world.Classify(err))
		return
	}
	w.Header().Set("Content-Type", writer.ContentType()+"; charset=utf-8")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(buf.Bytes()) // #nosec G104 - nothing left to do when the client is gone
}

type searchHit struct {
	Score     float64 `json:"score"`
	Subject   string  `json:"subject"`
	Predicate string  `json:"predicate"`
	Object    string  `json:"object"`
	Graph     string  `json:"graph,omitempty"`
}

func (s *Server) handleSearch(w http.ResponseWriter, r *http.Request) {
	tenant, ok := s.tenant(w, r)
	if !ok {
		return
	}
	params := r.URL.Query()
	if params.Get("q") == "" {
		s.badRequest(w, http.StatusBadRequest, "missing q parameter")
		return
	}
	limit := 0
	if raw := params.Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 0 {
			s.badRequest(w, http.StatusBadRequest, "limit must be a non-negative integer")
			return
		}
		limit = n
	}

	resp, err := s.worlds.Search(r.Context(), world.SearchRequest{
		TenantID: tenant,
		Plan:     r.Header.Get(headerPlan),
		WorldID:  r.PathValue("world"),
		Query:    params.Get("q"),
		Limit:    limit,
	})
	if err != nil {
		s.writeError(w, r, err)
		return
	}

	hits := make([]searchHit, len(resp.Hits))
	for i, h := range resp.Hits {
		hits[i] = searchHit{
			Score:     h.Score,
			Subject:   h.Document.Subject,
			Predicate: h.Document.Predicate,
			Object:    h.Document.Object,
			Graph:     h.Document.Graph,
		}
	}
	setRateLimitHeaders(w, resp.RateLimit)
	s.writeJSON(w, http.StatusOK, map[string]any{"hits": hits})
}

// handleExport serves a world's blob. The format comes from the format
// parameter or the Accept header, the compression from the compression
// parameter.
func (s *Server) handleExport(w http.ResponseWriter, r *http.Request) {
	tenant, ok := s.tenant(w, r)
	if !ok {
		return
	}
	params := r.URL.Query()
	var (
		format codec.Format
		err    error
	)
	if name := params.Get("format"); name != "" {
		format, err = codec.ParseFormat(name)
	} else {
		format, err = codec.Negotiate(r.Header.Get("Accept"))
	}
	if err != nil {
		s.writeError(w, r, world.Classify(err))
		return
	}
	compression, err := codec.ParseCompression(params.Get("compression"))
	if err != nil {
		s.badRequest(w, http.StatusBadRequest, err.Error())
		return
	}

	res, err := s.worlds.Export(r.Context(), world.ExportRequest{
		TenantID:    tenant,
		Plan:        r.Header.Get(headerPlan),
		WorldID:     r.PathValue("world"),
		Format:      format,
		Compression: compression,
	})
	if err != nil {
		s.writeError(w, r, err)
		return
	}

	setRateLimitHeaders(w, res.RateLimit)
	w.Header().Set("Content-Type", res.Format.ContentType())
	if res.Compression != codec.CompressionNone {
		w.Header().Set("Content-Encoding", string(res.Compression))
	}
	w.Header().Set("Content-Length", strconv.Itoa(len(res.Data)))
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(res.Data) // #nosec G104 - nothing left to do when the client is gone
}

// handleImport replaces a world's contents with the body, read in the
// format of its Content-Type and the compression of its Content-Encoding
func (s *Server) handleImport(w http.ResponseWriter, r *http.Request) {
	tenant, ok := s.tenant(w, r)
	if !ok {
		return
	}
	if r.Header.Get("Content-Type") == "" {
		s.badRequest(w, http.StatusBadRequest, "missing Content-Type header")
		return
	}
	format, err := codec.ParseFormat(r.Header.Get("Content-Type"))
	if err != nil {
		s.writeError(w, r, world.Classify(err))
		return
	}
	compression, err := codec.ParseCompression(r.Header.Get("Content-Encoding"))
	if err != nil {
		s.badRequest(w, http.StatusUnsupportedMediaType, err.Error())
		return
	}

	res, err := s.worlds.Import(r.Context(), world.ImportRequest{
		TenantID:    tenant,
		Plan:        r.Header.Get(headerPlan),
		WorldID:     r.PathValue("world"),
		Body:        http.MaxBytesReader(w, r.Body, s.maxBody),
		Format:      format,
		Compression: compression,
	})
	if err != nil {
		s.writeError(w, r, err)
		return
	}

	setRateLimitHeaders(w, res.RateLimit)
	s.writeJSON(w, http.StatusOK, map[string]any{
		"world":   res.Info,
		"changed": res.Changed,
		"quads":   res.Quads,
	})
}

// handleCreate creates a world, with a generated ID on POST /v1/worlds
func (s *Server) handleCreate(w http.ResponseWriter, r *http.Request) {
	tenant, ok := s.tenant(w, r)
	if !ok {
		return
	}
	info, err := s.worlds.CreateWorld(r.Context(), tenant, r.Header.Get(headerPlan), r.PathValue("world"))
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	s.writeJSON(w, http.StatusCreated, info)
}

func (s *Server) handleDelete(w http.ResponseWriter, r *http.Request) {
	tenant, ok := s.tenant(w, r)
	if !ok {
		return
	}
	if err := s.worlds.DeleteWorld(r.Context(), tenant, r.Header.Get(headerPlan), r.PathValue("world")); err != nil {
		s.writeError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleList(w http.ResponseWriter, r *http.Request) {
	tenant, ok := s.tenant(w, r)
	if !ok {
		return
	}
	infos, err := s.worlds.ListWorlds(r.Context(), tenant)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	if infos == nil {
		infos = []blob.Info{}
	}
	s.writeJSON(w, http.StatusOK, map[string]any{"worlds": infos})
}

// handleUsage reports the tenant's usage since the RFC 3339 since
// parameter, the last 24 hours by default
func (s *Server) handleUsage(w http.ResponseWriter, r *http.Request) {
	tenant, ok := s.tenant(w, r)
	if !ok {
		return
	}
	since := time.Now().Add(-24 * time.Hour)
	if raw := r.URL.Query().Get("since"); raw != "" {
		parsed, err := time.Parse(time.RFC3339, raw)
		if err != nil {
			s.badRequest(w, http.StatusBadRequest, "since must be an RFC 3339 timestamp")
			return
		}
		since = parsed
	}

	summaries, err := s.worlds.Usage(r.Context(), tenant, since)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	if summaries == nil {
		s.writeJSON(w, http.StatusOK, map[string]any{"usage": []any{}})
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]any{"usage": summaries})
}
