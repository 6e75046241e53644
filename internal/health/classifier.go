// Package health classifies the service's health from independent probes
// and serves the liveness, readiness and diagnostic endpoints.
package health

import (
	"context"
	"fmt"
	"sort"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/R3E-Network/user_service/internal/database"
	"github.com/R3E-Network/user_service/internal/logging"
	"github.com/R3E-Network/user_service/internal/metrics"
)

// Status is the verdict of a single check or of the whole service.
type Status string

const (
	StatusHealthy   Status = "healthy"
	StatusDegraded  Status = "degraded"
	StatusUnhealthy Status = "unhealthy"
	StatusSkipped   Status = "skipped"
	StatusError     Status = "error"
)

// Check names with a role in aggregation.
const (
	CheckApplication  = "application"
	CheckConnection   = "connection"
	CheckMemory       = "memory"
	CheckCPU          = "cpu"
	CheckDisk         = "disk"
	CheckEnvironment  = "environment"
	CheckDependencies = "dependencies"
)

var (
	criticalChecks = map[string]bool{CheckApplication: true, CheckConnection: true}
	warningChecks  = map[string]bool{CheckMemory: true, CheckCPU: true, CheckEnvironment: true}
)

// CheckResult is the outcome of one probe. It is produced per request and
// never cached.
type CheckResult struct {
	Name    string                 `json:"-"`
	Status  Status                 `json:"status"`
	Details map[string]interface{} `json:"details,omitempty"`
}

// Probe is a named health check. Timeout overrides the classifier's
// default per-check timeout.
type Probe struct {
	Name    string
	Timeout time.Duration
	Check   func(ctx context.Context) (CheckResult, error)
}

// Connection is the view of the connection manager the classifier needs.
type Connection interface {
	Status() database.Status
	IsHealthy(ctx context.Context) bool
}

// Report is the result of a detailed health run.
type Report struct {
	Status    Status                 `json:"status"`
	Timestamp time.Time              `json:"timestamp"`
	Uptime    float64                `json:"uptime"`
	Checks    map[string]CheckResult `json:"checks"`
}

// Basic is the store-independent health summary.
type Basic struct {
	Status      string    `json:"status"`
	Service     string    `json:"service"`
	Environment string    `json:"environment"`
	Uptime      float64   `json:"uptime"`
	Timestamp   time.Time `json:"timestamp"`
}

// Liveness reports that the process can answer.
type Liveness struct {
	Alive     bool      `json:"alive"`
	Uptime    float64   `json:"uptime"`
	Timestamp time.Time `json:"timestamp"`
}

// Readiness reports whether the service should receive traffic.
type Readiness struct {
	Ready     bool      `json:"ready"`
	Database  string    `json:"database"`
	Timestamp time.Time `json:"timestamp"`
}

// Options configures a Classifier.
type Options struct {
	Service          string
	Environment      string
	Connection       Connection
	CheckTimeout     time.Duration
	ReadinessTimeout time.Duration
	Logger           *logging.Logger
}

// Classifier runs probes and folds their results into a verdict. It holds
// no state besides its start time and configuration.
type Classifier struct {
	service          string
	environment      string
	conn             Connection
	checkTimeout     time.Duration
	readinessTimeout time.Duration
	logger           *logging.Logger
	started          time.Time
	now              func() time.Time
	probes           []Probe
}

// NewClassifier creates a Classifier without probes.
func NewClassifier(opts Options) *Classifier {
	if opts.CheckTimeout <= 0 {
		opts.CheckTimeout = 5 * time.Second
	}
	if opts.ReadinessTimeout <= 0 {
		opts.ReadinessTimeout = 3 * time.Second
	}
	if opts.Logger == nil {
		opts.Logger = logging.Default()
	}
	return &Classifier{
		service:          opts.Service,
		environment:      opts.Environment,
		conn:             opts.Connection,
		checkTimeout:     opts.CheckTimeout,
		readinessTimeout: opts.ReadinessTimeout,
		logger:           opts.Logger,
		started:          time.Now(),
		now:              time.Now,
	}
}

// Register adds probes to the detailed run.
func (c *Classifier) Register(probes ...Probe) {
	c.probes = append(c.probes, probes...)
}

// Uptime returns the seconds since the classifier was created.
func (c *Classifier) Uptime() float64 {
	return c.now().Sub(c.started).Seconds()
}

// Basic returns the unconditional "OK" summary.
func (c *Classifier) Basic() Basic {
	return Basic{
		Status:      "OK",
		Service:     c.service,
		Environment: c.environment,
		Uptime:      c.Uptime(),
		Timestamp:   c.now().UTC(),
	}
}

// Liveness always reports alive.
func (c *Classifier) Liveness() Liveness {
	return Liveness{Alive: true, Uptime: c.Uptime(), Timestamp: c.now().UTC()}
}

// Readiness is ready iff the store answers a ping within the readiness
// timeout.
func (c *Classifier) Readiness(ctx context.Context) Readiness {
	ctx, cancel := context.WithTimeout(ctx, c.readinessTimeout)
	defer cancel()

	r := Readiness{Database: database.StateDisconnected.String(), Timestamp: c.now().UTC()}
	if c.conn == nil {
		return r
	}
	r.Ready = c.conn.IsHealthy(ctx)
	r.Database = c.conn.Status().StateName
	return r
}

// Detailed runs every registered probe concurrently and aggregates the
// results. A failing or panicking probe only affects its own result.
func (c *Classifier) Detailed(ctx context.Context) (Report, error) {
	if err := ctx.Err(); err != nil {
		return Report{}, fmt.Errorf("health check aborted: %w", err)
	}
	if len(c.probes) == 0 {
		return Report{}, fmt.Errorf("no health probes registered")
	}

	results := make([]CheckResult, len(c.probes))
	g, gctx := errgroup.WithContext(ctx)
	for i, p := range c.probes {
		i, p := i, p
		g.Go(func() error {
			results[i] = c.run(gctx, p)
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return Report{}, err
	}

	checks := make(map[string]CheckResult, len(results))
	for _, r := range results {
		checks[r.Name] = r
	}
	report := Report{
		Status:    Aggregate(results),
		Timestamp: c.now().UTC(),
		Uptime:    c.Uptime(),
		Checks:    checks,
	}

	if report.Status != StatusHealthy {
		c.logger.WithContext(ctx).WithField("failing", failing(results)).
			Warnf("Health check %s", report.Status)
	}
	return report, nil
}

// Aggregate folds results into an overall status: any critical check not
// healthy makes the service unhealthy, else any warning check not healthy
// makes it degraded. Other checks are informational. The order of results
// does not matter.
func Aggregate(results []CheckResult) Status {
	degraded := false
	for _, r := range results {
		if r.Status == StatusHealthy {
			continue
		}
		if criticalChecks[r.Name] {
			return StatusUnhealthy
		}
		if warningChecks[r.Name] {
			degraded = true
		}
	}
	if degraded {
		return StatusDegraded
	}
	return StatusHealthy
}

func (c *Classifier) run(ctx context.Context, p Probe) CheckResult {
	timeout := p.Timeout
	if timeout <= 0 {
		timeout = c.checkTimeout
	}
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	start := time.Now()
	done := make(chan CheckResult, 1)
	go func() {
		defer func() {
			if rec := recover(); rec != nil {
				done <- errorResult(p.Name, fmt.Errorf("panic: %v", rec))
			}
		}()
		res, err := p.Check(ctx)
		if err != nil {
			done <- errorResult(p.Name, err)
			return
		}
		res.Name = p.Name
		if res.Status == "" {
			res.Status = StatusHealthy
		}
		done <- res
	}()

	var res CheckResult
	select {
	case res = <-done:
	case <-ctx.Done():
		res = errorResult(p.Name, fmt.Errorf("check timed out after %s", timeout))
	}

	metrics.RecordHealthCheck(p.Name, res.Status == StatusHealthy, time.Since(start))
	if res.Status == StatusError {
		c.logger.WithContext(ctx).WithField("check", p.Name).
			WithField("error", res.Details["error"]).Warn("Health check failed")
	}
	return res
}

func errorResult(name string, err error) CheckResult {
	return CheckResult{
		Name:    name,
		Status:  StatusError,
		Details: map[string]interface{}{"error": err.Error()},
	}
}

func failing(results []CheckResult) []string {
	var names []string
	for _, r := range results {
		if r.Status != StatusHealthy && r.Status != StatusSkipped {
			names = append(names, r.Name)
		}
	}
	sort.Strings(names)
	return names
}
