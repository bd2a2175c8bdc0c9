package metrics

import (
	"context"
	"encoding/json"
	"io/ioutil"
	"net"
	"net/http"
	"time"

	"github.com/gorilla/mux"
	"github.com/hashicorp/go-multierror"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/sirupsen/logrus"
	"golang.org/x/xerrors"
)

// JobStatus is one row of the "/debug/jobs" endpoint's response, describing
// a single (graph, job) pair's last known state from the caller's point of
// view (the Leader's assignment/readiness tracking, or a Worker's own
// jobRecord states).
type JobStatus struct {
	GraphID string    `json:"graph_id"`
	Job     string    `json:"job"`
	State   string    `json:"state"`
	// UpdatedAt is when State was last entered, per the reporting
	// component's injected clock.Clock (juju/clock, zero if untracked).
	UpdatedAt time.Time `json:"updated_at,omitempty"`
}

// JobStatusProvider is implemented by leader.Leader and worker.Supervisor,
// letting the debug server render their current job table. metrics
// imports neither package (it stays a leaf dependency), so both can
// import it and implement this interface without an import cycle.
type JobStatusProvider interface {
	JobStatuses() []JobStatus
}

// Server exposes a process's Prometheus series and a small debug surface
// over HTTP, routed with gorilla/mux the way the teacher's front-end
// service is (Chapter10/linksrus/service/frontend/frontend.go), reused here
// because "/debug/jobs/{id}" needs a path parameter.
type Server struct {
	cfg    Config
	router *mux.Router
}

// Config encapsulates a Server's settings.
type Config struct {
	ListenAddress string
	Gatherer      prometheus.Gatherer
	Status        JobStatusProvider
	Logger        *logrus.Entry
}

func (cfg *Config) validate() error {
	var err error
	if cfg.ListenAddress == "" {
		err = multierror.Append(err, xerrors.Errorf("listen address not specified"))
	}
	if cfg.Gatherer == nil {
		err = multierror.Append(err, xerrors.Errorf("gatherer not specified"))
	}
	if cfg.Logger == nil {
		cfg.Logger = logrus.NewEntry(&logrus.Logger{Out: ioutil.Discard})
	}
	return err
}

// NewServer builds a Server. Status may be nil, in which case
// "/debug/jobs" always reports an empty list.
func NewServer(cfg Config) (*Server, error) {
	if err := cfg.validate(); err != nil {
		return nil, xerrors.Errorf("metrics server: config validation failed: %w", err)
	}

	srv := &Server{cfg: cfg, router: mux.NewRouter()}
	srv.router.Handle("/metrics", promhttp.HandlerFor(cfg.Gatherer, promhttp.HandlerOpts{})).Methods("GET")
	srv.router.HandleFunc("/healthz", srv.handleHealthz).Methods("GET")
	srv.router.HandleFunc("/debug/jobs", srv.handleDebugJobs).Methods("GET")
	srv.router.HandleFunc("/debug/jobs/{id}", srv.handleDebugJob).Methods("GET")
	return srv, nil
}

// Run listens and serves until ctx is cancelled, mirroring the teacher
// front-end's Run (Chapter10/linksrus/service/frontend/frontend.go).
func (s *Server) Run(ctx context.Context) error {
	l, err := net.Listen("tcp", s.cfg.ListenAddress)
	if err != nil {
		return xerrors.Errorf("metrics server: listen: %w", err)
	}
	defer func() { _ = l.Close() }()

	httpSrv := &http.Server{Handler: s.router}
	go func() {
		<-ctx.Done()
		_ = httpSrv.Close()
	}()

	s.cfg.Logger.WithField("addr", l.Addr().String()).Info("metrics: serving /metrics, /healthz, /debug/jobs")
	if err := httpSrv.Serve(l); err != nil && err != http.ErrServerClosed {
		return err
	}
	return nil
}

func (s *Server) handleHealthz(w http.ResponseWriter, _ *http.Request) {
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("ok\n"))
}

func (s *Server) handleDebugJobs(w http.ResponseWriter, _ *http.Request) {
	rows := []JobStatus{}
	if s.cfg.Status != nil {
		rows = s.cfg.Status.JobStatuses()
	}
	s.writeJSON(w, rows)
}

func (s *Server) handleDebugJob(w http.ResponseWriter, r *http.Request) {
	idStr := mux.Vars(r)["id"]
	var rows []JobStatus
	if s.cfg.Status != nil {
		for _, row := range s.cfg.Status.JobStatuses() {
			if row.GraphID == idStr || row.Job == idStr {
				rows = append(rows, row)
			}
		}
	}
	if len(rows) == 0 {
		w.WriteHeader(http.StatusNotFound)
		return
	}
	s.writeJSON(w, rows)
}

func (s *Server) writeJSON(w http.ResponseWriter, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(v); err != nil {
		s.cfg.Logger.WithError(err).Error("metrics: encoding debug response")
	}
}
