package httpjson

import (
    "context"
    "crypto/tls"
    "encoding/json"
    "fmt"
    "log"
    "net"
    "net/http"
    "time"

    "github.com/prometheus/client_golang/prometheus/promhttp"

    "github.com/housemecn/rustfs/pkg/observability/tracing"
    "github.com/housemecn/rustfs/pkg/transport"
)

// Server is a minimal HTTP server exposing the management endpoints:
// status/health reads, member administration, partition resolution and
// heartbeat/metric ingestion, plus Prometheus metrics and healthz. It is
// intended for intra-cluster calls and operator tooling.
type Server struct {
    bind   string
    srv    *http.Server
    logger *log.Logger
    tlsCfg *tls.Config
}

// NewServer binds to the given TCP address (e.g., ":17946").
func NewServer(bind string, logger *log.Logger) *Server {
    if logger == nil { logger = log.Default() }
    return &Server{bind: bind, logger: logger}
}

// UseTLS enables TLS for the HTTP server using the provided config.
func (s *Server) UseTLS(cfg *tls.Config) *Server { s.tlsCfg = cfg; return s }

// handleJSON decodes a POST body into Req, invokes fn and encodes the
// response. Handler errors surface as HTTP 500 with the response body still
// encoded so callers see structured Error fields.
func handleJSON[Req any, Resp any](span string, fn func(context.Context, Req) (Resp, error)) http.HandlerFunc {
    return func(w http.ResponseWriter, r *http.Request) {
        if r.Method != http.MethodPost {
            http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
            return
        }
        if fn == nil {
            http.Error(w, "not supported", http.StatusNotImplemented)
            return
        }
        var req Req
        if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
            http.Error(w, fmt.Sprintf("bad request: %v", err), http.StatusBadRequest)
            return
        }
        ctx, end := tracing.StartSpan(r.Context(), span)
        defer end()
        resp, err := fn(ctx, req)
        w.Header().Set("Content-Type", "application/json")
        if err != nil {
            w.WriteHeader(http.StatusInternalServerError)
        }
        _ = json.NewEncoder(w).Encode(resp)
    }
}

func handleReport(span string, fn transport.ReportFunc) http.HandlerFunc {
    return func(w http.ResponseWriter, r *http.Request) {
        if r.Method != http.MethodGet {
            http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
            return
        }
        if fn == nil {
            http.Error(w, "not supported", http.StatusNotImplemented)
            return
        }
        ctx, end := tracing.StartSpan(r.Context(), span)
        defer end()
        data, err := fn(ctx)
        if err != nil {
            http.Error(w, fmt.Sprintf("report error: %v", err), http.StatusInternalServerError)
            return
        }
        w.Header().Set("Content-Type", "application/json")
        _, _ = w.Write(data)
    }
}

// Start launches the HTTP server and registers handlers. The server is shut
// down when the context is canceled.
func (s *Server) Start(ctx context.Context, h transport.Handlers) error {
    mux := http.NewServeMux()
    mux.HandleFunc("/status", handleReport("http.status", transport.ReportFunc(h.Status)))
    mux.HandleFunc("/health", handleReport("http.health", h.Health))
    mux.HandleFunc("/eliminations", handleReport("http.eliminations", h.Eliminations))
    mux.HandleFunc("/members/add", handleJSON("http.members.add", h.AddMember))
    mux.HandleFunc("/members/remove", handleJSON("http.members.remove", h.RemoveMember))
    mux.HandleFunc("/members/rejoin", handleJSON("http.members.rejoin", h.Rejoin))
    mux.HandleFunc("/heartbeat", handleJSON("http.heartbeat", h.Heartbeat))
    mux.HandleFunc("/metric", handleJSON("http.metric", h.Metric))
    mux.HandleFunc("/partition/resolve", handleJSON("http.partition.resolve", h.ResolvePartition))
    mux.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) {
        if r.Method != http.MethodGet { http.Error(w, "method not allowed", http.StatusMethodNotAllowed); return }
        w.WriteHeader(http.StatusOK)
        _, _ = w.Write([]byte("ok"))
    })
    // Prometheus metrics
    mux.Handle("/metrics", promhttp.Handler())

    s.srv = &http.Server{Addr: s.bind, Handler: mux}

    ln, err := net.Listen("tcp", s.bind)
    if err != nil { return err }
    if s.tlsCfg != nil {
        ln = tls.NewListener(ln, s.tlsCfg)
    }
    s.bind = ln.Addr().String()

    go func() {
        <-ctx.Done()
        _ = s.Stop(context.Background())
    }()
    go func() {
        if err := s.srv.Serve(ln); err != nil && err != http.ErrServerClosed {
            s.logger.Printf("httpjson: server error: %v", err)
        }
    }()
    return nil
}

// Addr returns the bound address (resolved after Start when binding ":0").
func (s *Server) Addr() string { return s.bind }

// Stop attempts a graceful shutdown with a short timeout.
func (s *Server) Stop(ctx context.Context) error {
    if s.srv == nil { return nil }
    c, cancel := context.WithTimeout(ctx, 2*time.Second)
    defer cancel()
    err := s.srv.Shutdown(c)
    s.srv = nil
    return err
}

var _ transport.RPCServer = (*Server)(nil)
