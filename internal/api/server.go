package api

import (
	"compress/gzip"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/tailscale/tailsql/server/tailsql"
	"tailscale.com/tsweb"

	"github.com/banshee-data/eventcam/internal/device"
	"github.com/banshee-data/eventcam/internal/events"
	"github.com/banshee-data/eventcam/internal/httputil"
	"github.com/banshee-data/eventcam/internal/monitoring"
	"github.com/banshee-data/eventcam/internal/sparse"
	"github.com/banshee-data/eventcam/internal/store"
	"github.com/banshee-data/eventcam/internal/version"
)

// ANSI escape codes for cyan and reset
const colorCyan = "\033[36m"
const colorReset = "\033[0m"
const colorYellow = "\033[33m"
const colorBoldGreen = "\033[1;32m"
const colorBoldRed = "\033[1;31m"

const defaultListLimit = 100

var logf = monitoring.Component("api")

// DeviceStatus is the view of an open camera the API reports on.
// *device.Connection implements it.
type DeviceStatus interface {
	Info() device.DeviceInfo
	ShutdownRequested() bool
}

// Server serves the JSON API, Prometheus metrics and debug pages.
type Server struct {
	dev   DeviceStatus
	stats *monitoring.StreamStats
	store *store.Store
}

// NewServer returns a Server. dev and st may be nil when no camera is open
// or batch storage is disabled.
func NewServer(dev DeviceStatus, stats *monitoring.StreamStats, st *store.Store) *Server {
	if stats == nil {
		stats = monitoring.NewStreamStats()
	}
	return &Server{dev: dev, stats: stats, store: st}
}

type loggingResponseWriter struct {
	http.ResponseWriter
	statusCode int
}

func (lrw *loggingResponseWriter) WriteHeader(code int) {
	lrw.statusCode = code
	lrw.ResponseWriter.WriteHeader(code)
}

func (lrw *loggingResponseWriter) Flush() {
	if flusher, ok := lrw.ResponseWriter.(http.Flusher); ok {
		flusher.Flush()
	}
}

func statusCodeColor(statusCode int) string {
	switch {
	case statusCode >= 200 && statusCode < 300:
		return colorBoldGreen + strconv.Itoa(statusCode) + colorReset
	case statusCode >= 300 && statusCode < 400:
		return colorYellow + strconv.Itoa(statusCode) + colorReset
	case statusCode >= 400:
		return colorBoldRed + strconv.Itoa(statusCode) + colorReset
	default:
		return strconv.Itoa(statusCode)
	}
}

// LoggingMiddleware logs method, path, query, status, and duration
func LoggingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		lrw := &loggingResponseWriter{w, http.StatusOK}
		next.ServeHTTP(lrw, r)
		logf(
			"[%s] %s %s%s%s %vms",
			statusCodeColor(lrw.statusCode), r.Method,
			colorCyan, r.RequestURI, colorReset,
			float64(time.Since(start).Nanoseconds())/1e6,
		)
	})
}

// ServeMux returns a mux with every route attached.
func (s *Server) ServeMux() *http.ServeMux {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /api/version", s.showVersion)
	mux.HandleFunc("GET /api/device", s.showDevice)
	mux.HandleFunc("GET /api/stats", s.showStats)
	mux.HandleFunc("GET /api/batches", s.listBatches)
	mux.HandleFunc("GET /api/batches/{id}", s.showBatch)
	mux.HandleFunc("DELETE /api/batches/{id}", s.deleteBatch)
	mux.HandleFunc("GET /api/batches/{id}/plot", s.plotBatch)
	mux.Handle("GET /metrics", s.stats.Handler())
	s.attachAdminRoutes(mux)
	return mux
}

func (s *Server) showVersion(w http.ResponseWriter, r *http.Request) {
	httputil.WriteJSONOK(w, map[string]string{
		"version":    version.Version,
		"git_sha":    version.GitSHA,
		"build_time": version.BuildTime,
	})
}

type deviceResponse struct {
	device.DeviceInfo
	ShutdownRequested bool `json:"shutdown_requested"`
}

func (s *Server) showDevice(w http.ResponseWriter, r *http.Request) {
	if s.dev == nil {
		httputil.ServiceUnavailable(w, "no device open")
		return
	}
	httputil.WriteJSONOK(w, deviceResponse{
		DeviceInfo:        s.dev.Info(),
		ShutdownRequested: s.dev.ShutdownRequested(),
	})
}

func (s *Server) showStats(w http.ResponseWriter, r *http.Request) {
	httputil.WriteJSONOK(w, s.stats.Snapshot())
}

func (s *Server) storeOrError(w http.ResponseWriter) *store.Store {
	if s.store == nil {
		httputil.ServiceUnavailable(w, "batch storage is disabled")
	}
	return s.store
}

func (s *Server) listBatches(w http.ResponseWriter, r *http.Request) {
	st := s.storeOrError(w)
	if st == nil {
		return
	}
	limit := defaultListLimit
	if v := r.URL.Query().Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 0 {
			httputil.BadRequest(w, fmt.Sprintf("invalid limit %q", v))
			return
		}
		limit = n
	}
	batches, err := st.List(r.Context(), limit)
	if err != nil {
		httputil.InternalServerError(w, err.Error())
		return
	}
	if batches == nil {
		batches = []store.BatchInfo{}
	}
	httputil.WriteJSONOK(w, batches)
}

// loadBatch resolves the {id} path value. It writes the error response and
// returns nil on failure.
func (s *Server) loadBatch(w http.ResponseWriter, r *http.Request) (*sparse.Batch, store.BatchInfo, bool) {
	st := s.storeOrError(w)
	if st == nil {
		return nil, store.BatchInfo{}, false
	}
	id, err := uuid.Parse(r.PathValue("id"))
	if err != nil {
		httputil.BadRequest(w, fmt.Sprintf("invalid batch id %q", r.PathValue("id")))
		return nil, store.BatchInfo{}, false
	}
	b, info, err := st.Load(r.Context(), id)
	switch {
	case errors.Is(err, store.ErrNotFound):
		httputil.NotFound(w, err.Error())
		return nil, store.BatchInfo{}, false
	case err != nil:
		httputil.InternalServerError(w, err.Error())
		return nil, store.BatchInfo{}, false
	}
	return b, info, true
}

type batchResponse struct {
	store.BatchInfo
	Indices []int64 `json:"indices"`
	Values  []int8  `json:"values"`
}

// showBatch returns the batch as JSON, or in wire form with ?format=wire.
func (s *Server) showBatch(w http.ResponseWriter, r *http.Request) {
	b, info, ok := s.loadBatch(w, r)
	if !ok {
		return
	}
	switch format := r.URL.Query().Get("format"); format {
	case "", "json":
		httputil.WriteJSONOK(w, batchResponse{BatchInfo: info, Indices: b.Indices(), Values: b.Values()})
	case "wire":
		w.Header().Set("Content-Type", "application/octet-stream")
		w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=%s.spev", info.ID))
		w.Header().Set("Content-Length", strconv.Itoa(sparse.WireSize(b.Len())))
		if _, err := b.WriteTo(w); err != nil {
			logf("failed to write batch %s: %v", info.ID, err)
		}
	default:
		httputil.BadRequest(w, fmt.Sprintf("unknown format %q", format))
	}
}

func (s *Server) deleteBatch(w http.ResponseWriter, r *http.Request) {
	st := s.storeOrError(w)
	if st == nil {
		return
	}
	id, err := uuid.Parse(r.PathValue("id"))
	if err != nil {
		httputil.BadRequest(w, fmt.Sprintf("invalid batch id %q", r.PathValue("id")))
		return
	}
	if err := st.Delete(r.Context(), id); err != nil {
		if errors.Is(err, store.ErrNotFound) {
			httputil.NotFound(w, err.Error())
			return
		}
		httputil.InternalServerError(w, err.Error())
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// plotBatch renders the batch as a PNG scatter plot.
func (s *Server) plotBatch(w http.ResponseWriter, r *http.Request) {
	b, info, ok := s.loadBatch(w, r)
	if !ok {
		return
	}
	ep := monitoring.EventPlot{Title: fmt.Sprintf("%s (%d events)", info.Source, info.Events)}
	if s.dev != nil {
		di := s.dev.Info()
		ep.Width, ep.Height = di.Width, di.Height
	}
	w.Header().Set("Content-Type", "image/png")
	if err := ep.WritePNG(w, batchEvents(b)); err != nil {
		logf("failed to plot batch %s: %v", info.ID, err)
	}
}

// batchEvents expands a batch back into polarity events.
func batchEvents(b *sparse.Batch) []events.PolarityEvent {
	out := make([]events.PolarityEvent, b.Len())
	for i := range out {
		t, x, y, v := b.At(i)
		out[i] = events.PolarityEvent{
			Timestamp: uint64(t),
			X:         uint16(x),
			Y:         uint16(y),
			Valid:     true,
			Polarity:  v == sparse.On,
		}
	}
	return out
}

func (s *Server) attachAdminRoutes(mux *http.ServeMux) {
	debug := tsweb.Debugger(mux)

	debug.HandleFunc("device", "Open camera and connection state", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/plain; charset=utf-8")
		if s.dev == nil {
			io.WriteString(w, "no device open\n")
			return
		}
		fmt.Fprintf(w, "%s\nshutdown requested: %t\n", s.dev.Info(), s.dev.ShutdownRequested())
	})

	debug.HandleFunc("stats", "Stream statistics", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/plain; charset=utf-8")
		snap := s.stats.Snapshot()
		fmt.Fprintf(w, "uptime: %s\ncontainers: %d\nevents: %d\ninvalid events: %d\n",
			snap.Uptime.Truncate(time.Second), snap.Containers, snap.Events, snap.InvalidEvents)
		for name, n := range snap.Packets {
			fmt.Fprintf(w, "packets[%s]: %d\n", name, n)
		}
		fmt.Fprintf(w, "packets per container: mean %.2f, std dev %.2f, p95 %.0f\n",
			snap.MeanPackets, snap.StdDevPackets, snap.P95Packets)
	})

	if s.store == nil {
		return
	}

	tsql, err := tailsql.NewServer(tailsql.Options{
		RoutePrefix: "/debug/tailsql/",
	})
	if err != nil {
		logf("failed to create tailsql server: %v", err)
	} else {
		tsql.SetDB("sqlite://eventcam.db", s.store.DB(), &tailsql.DBOptions{
			Label: "Batch DB",
		})
		debug.Handle("tailsql/", "SQL live debugging", tsql.NewMux())
	}

	debug.Handle("backup", "Create and download a backup of the batch database now", http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		dir, err := os.MkdirTemp("", "eventcam-backup-*")
		if err != nil {
			http.Error(w, fmt.Sprintf("Failed to create backup directory: %v", err), http.StatusInternalServerError)
			return
		}
		defer os.RemoveAll(dir)

		name := fmt.Sprintf("backup-%d.db", time.Now().Unix())
		backupPath := filepath.Join(dir, name)
		if err := s.store.Backup(r.Context(), backupPath); err != nil {
			http.Error(w, err.Error(), http.StatusInternalServerError)
			return
		}
		backupFile, err := os.Open(backupPath)
		if err != nil {
			http.Error(w, fmt.Sprintf("Failed to open backup file: %v", err), http.StatusInternalServerError)
			return
		}
		defer backupFile.Close()

		w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=%s.gz", name))
		w.Header().Set("Content-Type", "application/gzip")
		gz := gzip.NewWriter(w)
		defer gz.Close()
		if _, err := io.Copy(gz, backupFile); err != nil {
			logf("failed to send backup: %v", err)
		}
	}))
}
