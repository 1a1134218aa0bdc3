// Package dashboard is the ground station web view of the latest telemetry.
package dashboard

import (
	"context"
	"encoding/json"
	"math"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/mux"
	"github.com/juju/errors"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/skip2/go-qrcode"
	"github.com/temoto/thermolink/internal/watchdog"
	"github.com/temoto/thermolink/log2"
	"github.com/temoto/thermolink/tele"
	telenet "github.com/temoto/thermolink/tele/net"
)

const DefaultPollInterval = 500 * time.Millisecond

type Options struct {
	State     func() tele.State
	LinkStat  func() telenet.SessionStat // optional
	AlertStat func() watchdog.Stat       // optional
	// PublicURL is encoded in /qr.png, empty = request host
	PublicURL string
	Log       *log2.Log
}

type Server struct {
	mu        sync.Mutex
	ln        net.Listener
	logErrors prometheus.Counter
	opt       Options
	reg       *prometheus.Registry
	router    *mux.Router
	srv       *http.Server
}

func New(opt Options) (*Server, error) {
	if opt.State == nil {
		return nil, errors.NotValidf("code error dashboard State=nil")
	}
	s := &Server{
		opt: opt,
		reg: prometheus.NewRegistry(),
		logErrors: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "thermolink_log_errors_total",
			Help: "Errors written to log.",
		}),
	}
	if err := s.reg.Register(newCollector(opt)); err != nil {
		return nil, errors.Annotate(err, "dashboard metrics register")
	}
	if err := s.reg.Register(s.logErrors); err != nil {
		return nil, errors.Annotate(err, "dashboard metrics register")
	}
	s.router = mux.NewRouter()
	s.initRouter(s.router)
	s.srv = &http.Server{
		ReadTimeout:  5 * time.Second,
		WriteTimeout: 5 * time.Second,
		IdleTimeout:  120 * time.Second,
		Handler:      s.router,
	}
	return s, nil
}

func (s *Server) initRouter(r *mux.Router) {
	r.HandleFunc("/", s.indexHandler).Methods(http.MethodGet)
	r.HandleFunc("/api/telemetry", s.telemetryHandler).Methods(http.MethodGet)
	r.HandleFunc("/qr.png", s.qrHandler).Methods(http.MethodGet)
	r.Handle("/metrics", promhttp.HandlerFor(s.reg, promhttp.HandlerOpts{})).Methods(http.MethodGet)
}

func (s *Server) Handler() http.Handler { return s.router }

// CountError fits log2.ErrorFunc.
func (s *Server) CountError(error) { s.logErrors.Inc() }

// Listen binds synchronously, serves in background.
func (s *Server) Listen(ctx context.Context, addr string) error {
	lc := net.ListenConfig{}
	ln, err := lc.Listen(ctx, "tcp", addr)
	if err != nil {
		return errors.Annotatef(err, "dashboard listen=%s", addr)
	}
	s.mu.Lock()
	s.ln = ln
	s.mu.Unlock()
	s.opt.Log.Infof("dashboard listen=http://%s/", ln.Addr())
	go func() {
		if err := s.srv.Serve(ln); err != nil && err != http.ErrServerClosed {
			s.opt.Log.Errorf("dashboard serve err=%v", err)
		}
	}()
	return nil
}

func (s *Server) Addr() net.Addr {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.ln == nil {
		return nil
	}
	return s.ln.Addr()
}

func (s *Server) Close() error {
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	return s.srv.Shutdown(ctx)
}

// TelemetryJSON is /api/telemetry response. Non finite readings become null.
type TelemetryJSON struct {
	Status  tele.Status    `json:"status"`
	Link    tele.LinkState `json:"link"`
	Addr    string         `json:"addr,omitempty"`
	Max     *float32       `json:"max"`
	Frames  uint64         `json:"frames"`
	Updated *time.Time     `json:"updated"`
	Data    []*float32     `json:"data"`
}

func finite(v float32) *float32 {
	if math.IsNaN(float64(v)) || math.IsInf(float64(v), 0) {
		return nil
	}
	return &v
}

func NewTelemetryJSON(st tele.State) TelemetryJSON {
	j := TelemetryJSON{
		Status: st.Status,
		Link:   st.Link,
		Addr:   st.Addr,
		Frames: st.Frames,
	}
	if st.Frames != 0 {
		j.Max = finite(st.Max)
	}
	if !st.Updated.IsZero() {
		t := st.Updated
		j.Updated = &t
	}
	if st.Frame != nil {
		j.Data = make([]*float32, len(st.Frame))
		for i, v := range st.Frame {
			j.Data[i] = finite(v)
		}
	}
	return j
}

func (s *Server) telemetryHandler(w http.ResponseWriter, r *http.Request) {
	b, err := json.Marshal(NewTelemetryJSON(s.opt.State()))
	if err != nil {
		s.opt.Log.Errorf("dashboard telemetry encode err=%v", err)
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.Header().Set("Cache-Control", "no-store")
	_, _ = w.Write(b)
}

func (s *Server) indexHandler(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	_, _ = w.Write([]byte(indexHTML))
}

func (s *Server) qrHandler(w http.ResponseWriter, r *http.Request) {
	url := s.opt.PublicURL
	if url == "" {
		url = "http://" + r.Host + "/"
	}
	png, err := qrcode.Encode(url, qrcode.Medium, 256)
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "image/png")
	_, _ = w.Write(png)
}
