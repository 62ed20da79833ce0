// File: internal/monitor/monitor.go
// Brief: Polling health/alerting loop over API and frontend endpoints.

// Package monitor runs the health monitoring loop: one probe pair per tick,
// consecutive-failure streak tracking with at most one alert per streak, and
// a final report with per-endpoint success rates. The loop is a small state
// machine: Idle -> Running -> Completed or Stopped.
package monitor

import (
	"context"
	"fmt"
	"time"

	"github.com/userhub/opsctl/internal/config"
	"github.com/userhub/opsctl/internal/controlplane"
	"github.com/userhub/opsctl/internal/probe"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

// State is the monitoring session's lifecycle position.
type State string

const (
	Idle      State = "Idle"
	Running   State = "Running"
	Completed State = "Completed"
	Stopped   State = "Stopped"
)

// Options configures one monitoring session.
type Options struct {
	Duration       time.Duration
	Interval       time.Duration
	AlertThreshold int
	Continuous     bool
	ProbeTimeout   time.Duration
}

func (o *Options) normalize() {
	if o.Duration <= 0 {
		o.Duration = 60 * time.Minute
	}
	if o.Interval <= 0 {
		o.Interval = 30 * time.Second
	}
	if o.AlertThreshold <= 0 {
		o.AlertThreshold = 3
	}
	if o.ProbeTimeout <= 0 {
		o.ProbeTimeout = 10 * time.Second
	}
}

// Notifier receives threshold alerts.
type Notifier interface {
	Alert(ctx context.Context, env string, consecutiveFailures int, lastResults []probe.Result)
}

// LogNotifier raises alerts through the logger.
type LogNotifier struct {
	Log *zap.Logger
}

func (n LogNotifier) Alert(_ context.Context, env string, consecutiveFailures int, lastResults []probe.Result) {
	fields := []zap.Field{
		zap.String("environment", env),
		zap.Int("consecutiveFailures", consecutiveFailures),
	}
	for _, res := range lastResults {
		if !res.Success {
			fields = append(fields, zap.String(string(res.Endpoint), res.Detail))
		}
	}
	n.Log.Error("ALERT: consecutive health check failures", fields...)
}

// Loop runs monitoring sessions.
type Loop struct {
	prober   probe.Prober
	metrics  controlplane.MetricsReader
	notifier Notifier
	clock    Clock
	log      *zap.Logger
}

// New wires a monitoring loop. metrics may be nil when no reader is
// available; the report marks metrics unavailable in that case.
func New(prober probe.Prober, metrics controlplane.MetricsReader, notifier Notifier, clock Clock, log *zap.Logger) *Loop {
	if log == nil {
		log = zap.NewNop()
	}
	if clock == nil {
		clock = RealClock()
	}
	if notifier == nil {
		notifier = LogNotifier{Log: log}
	}
	return &Loop{prober: prober, metrics: metrics, notifier: notifier, clock: clock, log: log}
}

// session is the mutable state of one run, mutated once per tick.
type session struct {
	state               State
	start               time.Time
	results             []probe.Result
	ticks               int
	consecutiveFailures int
	streakAlerted       bool
	alerts              int
}

// Monitor runs the loop until the duration elapses (continuous=false) or the
// context is cancelled. Cancellation is honored at tick boundaries, not
// mid-probe, and still produces a report.
func (l *Loop) Monitor(ctx context.Context, env *config.Environment, opts Options) (*Report, error) {
	opts.normalize()
	if env.APIEndpoint == "" || env.FrontendEndpoint == "" {
		return nil, fmt.Errorf("environment %s must configure api_endpoint and frontend_endpoint", env.Name)
	}

	sess := &session{state: Idle}
	sess.state = Running
	sess.start = l.clock.Now()
	deadline := sess.start.Add(opts.Duration)
	l.log.Info("monitoring started",
		zap.String("environment", env.Name),
		zap.Duration("interval", opts.Interval),
		zap.Duration("duration", opts.Duration),
		zap.Int("alertThreshold", opts.AlertThreshold),
		zap.Bool("continuous", opts.Continuous))

	for {
		tick := l.runTick(ctx, env, opts)
		sess.observe(tick)
		l.scoreStreak(ctx, env, sess, tick, opts.AlertThreshold)

		if !opts.Continuous && !l.clock.Now().Before(deadline) {
			sess.state = Completed
			break
		}
		if err := l.clock.Tick(ctx, opts.Interval); err != nil {
			sess.state = Stopped
			break
		}
		// Stop signals are only acted on at the tick boundary.
		if ctx.Err() != nil {
			sess.state = Stopped
			break
		}
	}

	report := l.buildReport(env, sess, opts)
	l.log.Info("monitoring finished",
		zap.String("state", string(sess.state)),
		zap.Int("ticks", sess.ticks),
		zap.String("overall", string(report.Overall)))
	return report, nil
}

// runTick probes both endpoints concurrently and joins before scoring, so
// tick latency is bounded by the slower probe rather than their sum.
func (l *Loop) runTick(ctx context.Context, env *config.Environment, opts Options) []probe.Result {
	// A stop signal must not abort probes already in flight; it is acted on
	// at the tick boundary. Each probe stays bounded by its own timeout.
	probeCtx := context.WithoutCancel(ctx)
	pair := make([]probe.Result, 2)
	var g errgroup.Group
	g.Go(func() error {
		pair[0] = l.prober.Probe(probeCtx, probe.API, env.Endpoint(string(probe.API)), opts.ProbeTimeout)
		return nil
	})
	g.Go(func() error {
		pair[1] = l.prober.Probe(probeCtx, probe.Frontend, env.Endpoint(string(probe.Frontend)), opts.ProbeTimeout)
		return nil
	})
	_ = g.Wait()
	for _, res := range pair {
		if res.Success {
			l.log.Debug("probe ok",
				zap.String("endpoint", string(res.Endpoint)),
				zap.Duration("latency", res.Latency))
		} else {
			l.log.Warn("probe failed",
				zap.String("endpoint", string(res.Endpoint)),
				zap.String("detail", res.Detail))
		}
	}
	return pair
}

func (s *session) observe(tick []probe.Result) {
	s.results = append(s.results, tick...)
	s.ticks++
}

// scoreStreak updates the consecutive-failure streak and raises at most one
// alert per unbroken streak.
func (l *Loop) scoreStreak(ctx context.Context, env *config.Environment, sess *session, tick []probe.Result, threshold int) {
	failed := false
	for _, res := range tick {
		if !res.Success {
			failed = true
			break
		}
	}
	if !failed {
		sess.consecutiveFailures = 0
		sess.streakAlerted = false
		return
	}
	sess.consecutiveFailures++
	if sess.consecutiveFailures >= threshold && !sess.streakAlerted {
		sess.streakAlerted = true
		sess.alerts++
		l.notifier.Alert(ctx, env.Name, sess.consecutiveFailures, tick)
	}
}

func (l *Loop) buildReport(env *config.Environment, sess *session, opts Options) *Report {
	end := l.clock.Now()
	report := &Report{
		Environment:    env.Name,
		State:          sess.state,
		Started:        sess.start,
		Ended:          end,
		Interval:       opts.Interval,
		AlertThreshold: opts.AlertThreshold,
		Ticks:          sess.ticks,
		Alerts:         sess.alerts,
		Stats:          statsFor(sess.results),
	}
	report.Overall = report.classify()

	if l.metrics == nil {
		report.MetricsErr = "no metrics reader configured"
		return report
	}
	// Metrics are report garnish; failure to fetch them never aborts
	// monitoring. The fetch runs even after a stop signal.
	window, err := l.metrics.Read(context.Background(), sess.start, end)
	if err != nil {
		report.MetricsErr = err.Error()
		l.log.Warn("metrics unavailable", zap.Error(err))
		return report
	}
	report.Metrics = &window
	return report
}
