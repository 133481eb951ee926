package main

import (
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/apache/arrow-go/v18/arrow/memory"
	"github.com/fxamacker/cbor/v2"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog/log"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"

	"github.com/23skdu/longbow-parity/internal/report"
)

var (
	reportRows = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "parity_report_rows_total",
		Help: "Report rows collected, by source",
	}, []string{"source"})

	requestDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "parity_request_duration_seconds",
		Help:    "Time spent serving report requests",
		Buckets: prometheus.DefBuckets,
	})
)

// reportStore holds every report row seen by this process.
type reportStore struct {
	mu   sync.RWMutex
	rows []report.Row
}

func newReportStore() *reportStore {
	return &reportStore{}
}

func (s *reportStore) Add(rows []report.Row) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.rows = append(s.rows, rows...)
}

func (s *reportStore) Snapshot() []report.Row {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return append([]report.Row(nil), s.rows...)
}

// reportResponse is the CBOR body of GET /report.
type reportResponse struct {
	Summary report.Summary `cbor:"summary"`
	Rows    []report.Row   `cbor:"rows"`
}

type Server struct {
	store *reportStore
	alloc memory.Allocator
}

func NewServer(store *reportStore) *Server {
	return &Server{store: store, alloc: memory.NewGoAllocator()}
}

func (s *Server) routes() *http.ServeMux {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	mux.HandleFunc("/health", s.handleHealth)
	mux.HandleFunc("/report", s.handleReport)
	mux.HandleFunc("/report/arrow", s.handleReportArrow)
	return mux
}

func startServer(addr string, store *reportStore) {
	srv := NewServer(store)
	log.Info().Str("addr", addr).Msg("Starting Parity Server")
	if err := http.ListenAndServe(addr, srv.routes()); err != nil {
		log.Fatal().Err(err).Msg("Server failed")
	}
}

var tracer = otel.Tracer("parity-server")

func (s *Server) handleReport(w http.ResponseWriter, r *http.Request) {
	_, span := tracer.Start(r.Context(), "handleReport")
	defer span.End()

	start := time.Now()
	defer func() {
		requestDuration.Observe(time.Since(start).Seconds())
	}()

	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	rows := s.store.Snapshot()
	span.SetAttributes(attribute.Int("row_count", len(rows)))
	body, err := cbor.Marshal(reportResponse{Summary: report.Summarize(rows), Rows: rows})
	if err != nil {
		span.RecordError(err)
		http.Error(w, fmt.Sprintf("CBOR encode: %v", err), http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "application/cbor")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(body)
}

// handleReportArrow ingests a report uploaded as an Arrow IPC stream.
func (s *Server) handleReportArrow(w http.ResponseWriter, r *http.Request) {
	_, span := tracer.Start(r.Context(), "handleReportArrow")
	defer span.End()

	start := time.Now()
	defer func() {
		requestDuration.Observe(time.Since(start).Seconds())
	}()

	if r.Method != http.MethodPost {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	rows, err := report.ReadIPC(r.Body, s.alloc)
	if err != nil {
		span.RecordError(err)
		http.Error(w, fmt.Sprintf("Bad Request (Arrow IPC): %v", err), http.StatusBadRequest)
		return
	}
	s.store.Add(rows)
	reportRows.WithLabelValues("http").Add(float64(len(rows)))
	span.SetAttributes(attribute.Int("row_count", len(rows)))

	w.WriteHeader(http.StatusOK)
	fmt.Fprintf(w, "Collected %d rows", len(rows))
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("OK"))
}
