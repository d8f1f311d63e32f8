// Package receiver implements the HTTP ingest endpoint for profiler records.
package receiver

import (
	"bufio"
	"compress/gzip"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"sync"

	"log/slog"

	"github.com/google/uuid"
	"github.com/skoulos/mal_analytics/internal/parser"
	"github.com/skoulos/mal_analytics/pkg/models"
)

// maxLineSize bounds one profiler object; long MAL statements can run to
// hundreds of kilobytes.
const maxLineSize = 4 * 1024 * 1024

// decompressGzip decompresses gzip-encoded data
func decompressGzip(r io.Reader) (io.ReadCloser, error) {
	return gzip.NewReader(r)
}

// HTTPReceiver accepts newline-delimited profiler JSON over HTTP and feeds
// it to the parser. The parser is single-threaded, so the receiver
// serializes all requests through one mutex: one serialization domain, one
// id space.
type HTTPReceiver struct {
	mu     sync.Mutex
	parser *parser.Parser
	server *http.Server
	log    *slog.Logger
}

// ingestResponse reports what happened to one uploaded batch.
type ingestResponse struct {
	Received  int           `json:"received"`
	Processed int           `json:"processed"`
	Dropped   int           `json:"dropped"`
	Limits    models.Limits `json:"limits"`
}

// NewHTTPReceiver creates a new HTTP receiver.
func NewHTTPReceiver(addr string, p *parser.Parser, logger *slog.Logger) *HTTPReceiver {
	if logger == nil {
		logger = slog.Default()
	}

	r := &HTTPReceiver{
		parser: p,
		log:    logger,
	}

	mux := http.NewServeMux()
	mux.HandleFunc("/v1/profiler", r.handleProfiler)
	mux.HandleFunc("/health", r.handleHealth)

	r.server = &http.Server{
		Addr:    addr,
		Handler: mux,
	}

	return r
}

// Start starts the HTTP server.
func (r *HTTPReceiver) Start() error {
	return r.server.ListenAndServe()
}

// Handler exposes the HTTP handler, used by tests.
func (r *HTTPReceiver) Handler() http.Handler {
	return r.server.Handler
}

// Shutdown gracefully shuts down the HTTP server.
func (r *HTTPReceiver) Shutdown(ctx context.Context) error {
	return r.server.Shutdown(ctx)
}

// handleProfiler ingests a batch of newline-delimited profiler objects.
// Bad records are dropped and counted; they never fail the batch.
func (r *HTTPReceiver) handleProfiler(w http.ResponseWriter, req *http.Request) {
	if req.Method != http.MethodPost {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	ctx := req.Context()
	requestID := uuid.NewString()
	log := r.log.With("request_id", requestID)

	reader := io.Reader(req.Body)
	if req.Header.Get("Content-Encoding") == "gzip" {
		gz, err := decompressGzip(req.Body)
		if err != nil {
			http.Error(w, fmt.Sprintf("Failed to decompress: %v", err), http.StatusBadRequest)
			return
		}
		defer gz.Close()
		reader = gz
	}

	scanner := bufio.NewScanner(reader)
	scanner.Buffer(make([]byte, 64*1024), maxLineSize)

	var resp ingestResponse

	r.mu.Lock()
	for scanner.Scan() {
		line := scanner.Bytes()
		if len(line) == 0 {
			continue
		}
		resp.Received++
		if err := r.parser.Parse(ctx, line); err != nil {
			resp.Dropped++
			continue
		}
		resp.Processed++
	}
	resp.Limits = r.parser.Limits()
	r.mu.Unlock()

	if err := scanner.Err(); err != nil {
		log.Warn("ingest stream truncated", "reason", err)
		http.Error(w, fmt.Sprintf("Failed to read body: %v", err), http.StatusBadRequest)
		return
	}

	log.Info("ingested profiler batch",
		"received", resp.Received,
		"processed", resp.Processed,
		"dropped", resp.Dropped,
	)

	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(resp); err != nil {
		log.Warn("writing ingest response", "reason", err)
	}
}

// handleHealth responds to health checks.
func (r *HTTPReceiver) handleHealth(w http.ResponseWriter, req *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	fmt.Fprintln(w, `{"status":"ok"}`)
}
