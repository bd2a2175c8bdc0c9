package worker

import (
	"io/ioutil"

	"github.com/hashicorp/go-multierror"
	"github.com/juju/clock"
	"github.com/opentracing/opentracing-go"
	"github.com/sirupsen/logrus"
	"golang.org/x/xerrors"

	"github.com/mkungla/flowmesh/codec"
	"github.com/mkungla/flowmesh/id"
	"github.com/mkungla/flowmesh/internal/dialer"
	"github.com/mkungla/flowmesh/metrics"
)

// Config encapsulates a Supervisor's configuration, modeled on the
// teacher's WorkerConfig (Chapter12/dbspgraph/config.go).
type Config struct {
	// ID names this Worker with the Leader. Callers usually leave this
	// zero and let New mint a fresh one (spec.md §3 "WorkerState": id is
	// assigned on attach).
	ID id.WorkerID

	// LeaderAddress is the Leader's control-plane listen address.
	LeaderAddress string

	// DataPlaneAddress is where this Worker's data plane listens. Defaults
	// to "0.0.0.0:0" (spec.md §6), letting the OS assign a port.
	DataPlaneAddress string

	// Resources is this Worker's scheduling weight (spec.md §4.7: "any
	// Worker with non-zero resources"). Zero excludes the Worker from
	// round-robin scheduling.
	Resources int

	// Serializer encodes/decodes data-frame payloads. Defaults to a gob
	// serializer tagged "flowmesh" if unset.
	Serializer codec.Serializer

	// Dialer retries inter-Worker data-plane dials with backoff. Optional;
	// a plain net.Dial is used if unset.
	Dialer *dialer.RetryingDialer

	// Metrics records executor-spawn counters if set. Optional.
	Metrics *metrics.Registry

	// Tracer, if set, roots each Job's span as a child of the Leader's
	// scheduling span (see control.ScheduleJob.TraceContext). Optional.
	Tracer opentracing.Tracer

	// Clock stamps each jobRecord's state transitions for the "/debug/jobs"
	// surface (metrics.JobStatus.UpdatedAt). Defaults to clock.WallClock;
	// tests may inject a fake the way internal/dialer's tests do.
	Clock clock.Clock

	Logger *logrus.Entry
}

// Validate checks required fields and fills in defaults.
func (cfg *Config) Validate() error {
	var err error
	if cfg.LeaderAddress == "" {
		err = multierror.Append(err, xerrors.Errorf("leader address not specified"))
	}
	if cfg.ID.IsZero() {
		cfg.ID = id.NewWorkerID()
	}
	if cfg.DataPlaneAddress == "" {
		cfg.DataPlaneAddress = "0.0.0.0:0"
	}
	if cfg.Serializer == nil {
		cfg.Serializer = codec.NewGobSerializer("flowmesh")
	}
	if cfg.Clock == nil {
		cfg.Clock = clock.WallClock
	}
	if cfg.Logger == nil {
		cfg.Logger = logrus.NewEntry(&logrus.Logger{Out: ioutil.Discard})
	}
	return err
}
