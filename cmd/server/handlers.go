package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"quotebot/internal/aggregate"
	"quotebot/internal/aggregator"
	"quotebot/internal/metrics"
	"quotebot/internal/provider"
)

const (
	maxSymbols      = 50
	maxBatchQueries = 20
)

var errBadRequest = errors.New("bad request")

// Querier is the part of the aggregator the handlers need.
type Querier interface {
	GetCurrentRates(ctx context.Context, kind provider.Kind, symbols []string) (aggregator.Result, error)
	GetChangeAnalysis(ctx context.Context, kind provider.Kind, symbols []string, window provider.Window) (aggregator.Result, error)
	GetConvertedRates(ctx context.Context, symbols []string, unit string) (aggregator.Result, error)
	Digest(ctx context.Context, req aggregator.DigestRequest) aggregator.Digest
	Batch(ctx context.Context, queries []aggregator.Query) []aggregator.Answer
}

type api struct {
	agg         Querier
	log         *zap.Logger
	timeout     time.Duration
	convertUnit string
	ttl         time.Duration
}

type resultResponse struct {
	aggregator.Result
	Rows []aggregator.Row `json:"rows"`
}

type errorResponse struct {
	Error string `json:"error"`
	State string `json:"state,omitempty"`
}

func newRouter(a *api, m *metrics.Metrics, reg prometheus.Gatherer, maxBody int64) http.Handler {
	r := mux.NewRouter()
	r.Use(instrument(m, a.log))
	r.HandleFunc("/healthz", healthz).Methods(http.MethodGet)
	r.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{})).Methods(http.MethodGet)

	s := r.PathPrefix("/api").Subrouter()
	s.HandleFunc("/rates", a.rates).Methods(http.MethodGet)
	s.HandleFunc("/analysis", a.analysis).Methods(http.MethodGet)
	s.HandleFunc("/converted", a.converted).Methods(http.MethodGet)
	s.HandleFunc("/digest", a.digest).Methods(http.MethodGet)
	s.HandleFunc("/batch", a.batch).Methods(http.MethodPost)

	return withJSONHeaders(withGzip(recoverPanic(a.log)(limitBody(maxBody)(r)), "/metrics"))
}

func healthz(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (a *api) requestContext(r *http.Request) (context.Context, context.CancelFunc) {
	if a.timeout <= 0 {
		return context.WithCancel(r.Context())
	}
	return context.WithTimeout(r.Context(), a.timeout)
}

func (a *api) rates(w http.ResponseWriter, r *http.Request) {
	kind, symbols, err := parseKindSymbols(r)
	if err != nil {
		writeError(w, err)
		return
	}
	ctx, cancel := a.requestContext(r)
	defer cancel()
	res, err := a.agg.GetCurrentRates(ctx, kind, symbols)
	a.writeResult(w, res, err)
}

func (a *api) analysis(w http.ResponseWriter, r *http.Request) {
	kind, symbols, err := parseKindSymbols(r)
	if err != nil {
		writeError(w, err)
		return
	}
	window, err := parseAnalysisWindow(r.URL.Query().Get("window"))
	if err != nil {
		writeError(w, err)
		return
	}
	ctx, cancel := a.requestContext(r)
	defer cancel()
	res, err := a.agg.GetChangeAnalysis(ctx, kind, symbols, window)
	a.writeResult(w, res, err)
}

func (a *api) converted(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	symbols := aggregate.ParseSymbols(q.Get("symbols"))
	if len(symbols) > maxSymbols {
		writeError(w, tooManySymbols())
		return
	}
	unit := aggregate.CanonicalSymbol(q.Get("unit"))
	if unit == "" {
		unit = a.convertUnit
	}
	ctx, cancel := a.requestContext(r)
	defer cancel()
	res, err := a.agg.GetConvertedRates(ctx, symbols, unit)
	a.writeResult(w, res, err)
}

func (a *api) digest(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	window := provider.WindowDay
	if raw := q.Get("window"); raw != "" {
		var err error
		if window, err = provider.ParseWindow(raw); err != nil {
			writeError(w, fmt.Errorf("%w: %w", errBadRequest, err))
			return
		}
	}
	ctx, cancel := a.requestContext(r)
	defer cancel()
	d := a.agg.Digest(ctx, aggregator.DigestRequest{
		Window: window,
		Fiat:   aggregate.ParseSymbols(q.Get("fiat")),
		Crypto: aggregate.ParseSymbols(q.Get("crypto")),
	})
	status := http.StatusOK
	if d.Fiat.Err != nil && d.Crypto.Err != nil {
		status = http.StatusBadGateway
	}
	writeJSON(w, status, d)
}

type batchBody struct {
	Queries []aggregator.Query `json:"queries"`
}

func (a *api) batch(w http.ResponseWriter, r *http.Request) {
	var b batchBody
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	if err := dec.Decode(&b); err != nil {
		writeError(w, fmt.Errorf("%w: invalid JSON body", errBadRequest))
		return
	}
	if len(b.Queries) == 0 || len(b.Queries) > maxBatchQueries {
		writeError(w, fmt.Errorf("%w: queries must hold between 1 and %d entries", errBadRequest, maxBatchQueries))
		return
	}
	for i := range b.Queries {
		b.Queries[i].Symbols = provider.NormalizeSymbols(b.Queries[i].Symbols)
	}
	ctx, cancel := a.requestContext(r)
	defer cancel()
	writeJSON(w, http.StatusOK, map[string]any{"answers": a.agg.Batch(ctx, b.Queries)})
}

func parseKindSymbols(r *http.Request) (provider.Kind, []string, error) {
	q := r.URL.Query()
	kind, err := provider.ParseKind(q.Get("kind"))
	if err != nil {
		return "", nil, fmt.Errorf("%w: %w", errBadRequest, err)
	}
	symbols := aggregate.ParseSymbols(q.Get("symbols"))
	if len(symbols) > maxSymbols {
		return "", nil, tooManySymbols()
	}
	return kind, symbols, nil
}

func parseAnalysisWindow(raw string) (provider.Window, error) {
	if raw == "" {
		return provider.WindowDay, nil
	}
	w, err := provider.ParseWindow(raw)
	if err != nil {
		return "", fmt.Errorf("%w: %w", errBadRequest, err)
	}
	if w == provider.WindowCurrent {
		return "", fmt.Errorf("%w: %w", errBadRequest, aggregator.ErrInvalidWindow)
	}
	return w, nil
}

func tooManySymbols() error {
	return fmt.Errorf("%w: too many symbols (max %d)", errBadRequest, maxSymbols)
}

func (a *api) writeResult(w http.ResponseWriter, res aggregator.Result, err error) {
	if err != nil {
		writeError(w, err)
		return
	}
	w.Header().Set("Cache-Control", cacheControl(res, a.ttl, time.Now()))
	if !res.StoredAt.IsZero() {
		w.Header().Set("Last-Modified", res.StoredAt.UTC().Format(http.TimeFormat))
	}
	writeJSON(w, http.StatusOK, resultResponse{Result: res, Rows: res.Rows()})
}

// cacheControl lets clients keep a result for as long as the server would
// serve it from cache. Stale data and results missing their change column
// must be revalidated.
func cacheControl(res aggregator.Result, ttl time.Duration, now time.Time) string {
	if ttl <= 0 || res.Stale || res.ChangeUnavailable || res.StoredAt.IsZero() {
		return "no-cache"
	}
	left := ttl - now.Sub(res.StoredAt)
	if left <= 0 {
		return "no-cache"
	}
	return fmt.Sprintf("public, max-age=%d", int(left/time.Second))
}

func statusFor(err error) int {
	switch {
	case errors.Is(err, errBadRequest),
		errors.Is(err, aggregator.ErrUnknownKind),
		errors.Is(err, aggregator.ErrInvalidWindow),
		errors.Is(err, aggregator.ErrNoSymbols):
		return http.StatusBadRequest
	case errors.Is(err, provider.ErrNoCacheAvailable):
		return http.StatusBadGateway
	case errors.Is(err, context.DeadlineExceeded):
		return http.StatusGatewayTimeout
	}
	return http.StatusInternalServerError
}

func writeError(w http.ResponseWriter, err error) {
	status := statusFor(err)
	body := errorResponse{Error: err.Error()}
	if status == http.StatusBadGateway {
		body.State = aggregator.StateFailed.String()
	}
	writeJSON(w, status, body)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.WriteHeader(status)
	enc := json.NewEncoder(w)
	enc.SetEscapeHTML(false)
	_ = enc.Encode(v)
}
