package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/remiges-tech/prefixsearch"
	"github.com/remiges-tech/prefixsearch/internal/catalog"
	"github.com/remiges-tech/prefixsearch/internal/metrics"
)

const maxBodyBytes = 32 << 20

// SearchRequest is the body of POST /api/v1/search.
type SearchRequest struct {
	Prefix string `json:"prefix"`
	Q      string `json:"q,omitempty"`
	Limit  int    `json:"limit"`
	Offset int    `json:"offset"`
}

// SearchResponse is one page. On store failure Items is empty and Error is set.
type SearchResponse struct {
	prefixsearch.Page
	Error string `json:"error,omitempty"`
}

// ProductRequest is the body of PUT and DELETE /api/v1/index.
type ProductRequest struct {
	Name string `json:"name"`
	ID   string `json:"id"`
}

// RebuildRequest is the body of POST /api/v1/rebuild.
type RebuildRequest struct {
	Products []prefixsearch.Product `json:"products"`
}

// RebuildResponse reports how many products were submitted.
type RebuildResponse struct {
	Products int    `json:"products"`
	Source   string `json:"source"`
}

// ProductsResponse lists every id indexed under one name.
type ProductsResponse struct {
	Name string   `json:"name"`
	IDs  []string `json:"ids"`
}

func (s *Server) searchGet(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	prefix := q.Get("prefix")
	if prefix == "" {
		prefix = q.Get("q")
	}
	s.search(w, r, prefix, queryInt(q.Get("limit")), queryInt(q.Get("offset")))
}

func (s *Server) searchPost(w http.ResponseWriter, r *http.Request) {
	var body SearchRequest
	if err := decode(r, &body); err != nil {
		WriteError(w, r, err, s.logger)
		return
	}
	prefix := body.Prefix
	if prefix == "" {
		prefix = body.Q
	}
	s.search(w, r, prefix, body.Limit, body.Offset)
}

// search never rejects its input; malformed numbers select the defaults.
func (s *Server) search(w http.ResponseWriter, r *http.Request, prefix string, limit, offset int) {
	start := time.Now()
	page, err := s.deps.Engine.Search(r.Context(), prefix, limit, offset)

	if m := s.deps.Metrics; m != nil {
		m.SearchLatency.Observe(time.Since(start).Seconds())
		m.SearchResults.Observe(float64(len(page.Items)))
		m.SearchesTotal.WithLabelValues(searchOutcome(page, err)).Inc()
	}

	if err != nil {
		status, message := statusOf(err)
		s.logger.Warn("search failed", "prefix", prefix, "error", err)
		WriteJSON(w, status, SearchResponse{Page: page, Error: message})
		return
	}
	WriteJSON(w, http.StatusOK, SearchResponse{Page: page})
}

func searchOutcome(page prefixsearch.Page, err error) string {
	switch {
	case err != nil:
		return metrics.OutcomeError
	case len(page.Items) == 0:
		return metrics.OutcomeEmpty
	default:
		return metrics.OutcomeHit
	}
}

func (s *Server) productsByName(w http.ResponseWriter, r *http.Request) {
	name := r.URL.Query().Get("name")
	ids, err := s.deps.Engine.Products(r.Context(), name)
	if err != nil {
		WriteError(w, r, err, s.logger)
		return
	}
	WriteJSON(w, http.StatusOK, ProductsResponse{Name: prefixsearch.Normalize(name), IDs: ids})
}

func (s *Server) productDetail(w http.ResponseWriter, r *http.Request) {
	if s.deps.Catalog == nil {
		WriteError(w, r, NewAPIError(http.StatusNotImplemented, "product catalog not configured", nil), s.logger)
		return
	}
	d, err := s.deps.Catalog.Product(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		WriteError(w, r, err, s.logger)
		return
	}
	WriteJSON(w, http.StatusOK, d)
}

func (s *Server) indexProduct(w http.ResponseWriter, r *http.Request) {
	s.write(w, r, "index", s.deps.Engine.IndexProduct)
}

func (s *Server) removeProduct(w http.ResponseWriter, r *http.Request) {
	s.write(w, r, "remove", s.deps.Engine.RemoveProduct)
}

func (s *Server) write(w http.ResponseWriter, r *http.Request, op string, fn func(ctx context.Context, name, id string) error) {
	var body ProductRequest
	if err := decode(r, &body); err != nil {
		WriteError(w, r, err, s.logger)
		return
	}
	err := fn(r.Context(), body.Name, body.ID)
	if m := s.deps.Metrics; m != nil {
		m.IndexOpsTotal.WithLabelValues(op, metrics.Status(err)).Inc()
	}
	if err != nil {
		WriteError(w, r, err, s.logger)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) rebuild(w http.ResponseWriter, r *http.Request) {
	var (
		products []prefixsearch.Product
		source   = r.URL.Query().Get("source")
		err      error
	)

	// Lift the server read/write deadlines; a rebuild may outlast them.
	rc := http.NewResponseController(w)
	_ = rc.SetReadDeadline(time.Time{})
	_ = rc.SetWriteDeadline(time.Time{})

	switch source {
	case "catalog":
		if s.deps.Catalog == nil {
			WriteError(w, r, NewAPIError(http.StatusNotImplemented, "product catalog not configured", nil), s.logger)
			return
		}
		products, err = catalog.Load(r.Context(), s.deps.Catalog)
		if err != nil {
			WriteError(w, r, NewAPIError(http.StatusBadGateway, "loading catalog failed", err), s.logger)
			return
		}
	case "", "body":
		source = "body"
		var body RebuildRequest
		if err := decode(r, &body); err != nil {
			WriteError(w, r, err, s.logger)
			return
		}
		products = body.Products
	default:
		WriteError(w, r, NewAPIError(http.StatusBadRequest, fmt.Sprintf("unknown source %q", source), nil), s.logger)
		return
	}

	err = s.deps.Engine.Rebuild(r.Context(), products)
	if m := s.deps.Metrics; m != nil {
		m.RebuildsTotal.WithLabelValues(metrics.Status(err)).Inc()
	}
	if err != nil {
		WriteError(w, r, err, s.logger)
		return
	}
	WriteJSON(w, http.StatusOK, RebuildResponse{Products: len(products), Source: source})
}

func decode(r *http.Request, v any) error {
	dec := json.NewDecoder(io.LimitReader(r.Body, maxBodyBytes))
	if err := dec.Decode(v); err != nil {
		if errors.Is(err, io.EOF) {
			return NewAPIError(http.StatusBadRequest, "request body is empty", err)
		}
		return NewAPIError(http.StatusBadRequest, "request body is not valid JSON", err)
	}
	return nil
}

func queryInt(raw string) int {
	n, err := strconv.Atoi(raw)
	if err != nil {
		return 0
	}
	return n
}
