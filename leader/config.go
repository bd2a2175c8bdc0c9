package leader

import (
	"io/ioutil"

	"github.com/hashicorp/go-multierror"
	"github.com/opentracing/opentracing-go"
	"github.com/sirupsen/logrus"
	"golang.org/x/xerrors"

	"github.com/mkungla/flowmesh/metrics"
)

// Config encapsulates a Leader's configuration options, modeled on the
// teacher's MasterConfig (Chapter12/dbspgraph/config.go).
type Config struct {
	// ListenAddress is where the Leader accepts Worker control-plane
	// connections (spec.md §4.7).
	ListenAddress string

	// Metrics records scheduling/readiness counters if set. Optional: a
	// Leader with a nil Metrics simply does not export them.
	Metrics *metrics.Registry

	// Tracer, if set, roots a span over each scheduled Job and injects its
	// context into the Job's ScheduleJob message (spec.md §4.7 extended
	// with tracing.Inject). Optional.
	Tracer opentracing.Tracer

	// Logger is used for all Leader logging. If unset, Validate
	// substitutes a null logger.
	Logger *logrus.Entry
}

// Validate checks required fields and defaults the logger.
func (cfg *Config) Validate() error {
	var err error
	if cfg.ListenAddress == "" {
		err = multierror.Append(err, xerrors.Errorf("listen address not specified"))
	}
	if cfg.Logger == nil {
		cfg.Logger = logrus.NewEntry(&logrus.Logger{Out: ioutil.Discard})
	}
	return err
}
