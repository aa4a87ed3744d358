// Package executor composes the risk-gated execution path: it picks the
// right driver or the sandbox for an approved request, runs it, and returns
// a normalized result to the workflow layer.
//
// Requests execute independently and concurrently; the connection pool is
// the only shared state underneath. There are no retries here; a failure
// is a terminal outcome for that approval.
package executor

import (
	"context"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/queryportal/queryportal/internal/config"
	"github.com/queryportal/queryportal/internal/driver"
	"github.com/queryportal/queryportal/internal/errdefs"
	"github.com/queryportal/queryportal/internal/pool"
	"github.com/queryportal/queryportal/internal/sandbox"
)

// Kind is the submission kind.
type Kind string

const (
	KindQuery  Kind = "query"
	KindScript Kind = "script"
)

// Request is one approved execution handed over by the workflow layer.
type Request struct {
	ID             string
	Kind           Kind
	Backend        config.Backend
	InstanceID     string
	Database       string
	Content        string
	ScriptLanguage sandbox.Language
}

// Result is the normalized outcome surfaced to the workflow layer. Exactly
// one of Query and Script is set on success.
type Result struct {
	Success  bool               `json:"success"`
	Query    *driver.Result     `json:"query,omitempty"`
	Script   *sandbox.RunResult `json:"script,omitempty"`
	Duration time.Duration      `json:"duration"`
	Error    *errdefs.Error     `json:"-"`
}

// OutputPublisher receives live script output keyed by request ID. May be a
// no-op; publishing must never fail the execution.
type OutputPublisher interface {
	Publish(requestID string, entry sandbox.OutputEntry)
}

type noopPublisher struct{}

func (noopPublisher) Publish(string, sandbox.OutputEntry) {}

// Orchestrator routes approved requests to drivers or the sandbox runtime.
type Orchestrator struct {
	instances *config.Store
	drivers   map[config.Backend]driver.Driver
	runtime   *sandbox.Runtime
	timeouts  *config.TimeoutConfig
	publisher OutputPublisher
}

// New creates an orchestrator with one driver per backend.
func New(instances *config.Store, pools *pool.Manager, runtime *sandbox.Runtime, timeouts *config.TimeoutConfig) *Orchestrator {
	if timeouts == nil {
		timeouts = config.DefaultTimeoutConfig()
	}
	return &Orchestrator{
		instances: instances,
		drivers: map[config.Backend]driver.Driver{
			config.BackendPostgres: driver.NewPostgresDriver(pools),
			config.BackendMongo:    driver.NewMongoDriver(pools),
		},
		runtime:   runtime,
		timeouts:  timeouts,
		publisher: noopPublisher{},
	}
}

// SetOutputPublisher wires live output streaming. Optional.
func (o *Orchestrator) SetOutputPublisher(p OutputPublisher) {
	if p != nil {
		o.publisher = p
	}
}

// Driver returns the driver for a backend.
func (o *Orchestrator) Driver(backend config.Backend) (driver.Driver, bool) {
	d, ok := o.drivers[backend]
	return d, ok
}

// Execute runs one approved request. Validation always completes before
// execution starts, and resources are fully released before the result is
// returned.
func (o *Orchestrator) Execute(ctx context.Context, req *Request) (*Result, error) {
	start := time.Now()

	inst, ok := o.instances.Instance(req.InstanceID)
	if !ok {
		return failed(start, errdefs.Configuration("unknown instance: %s", req.InstanceID))
	}
	if inst.Backend != req.Backend {
		return failed(start, errdefs.Configuration("instance %s is %s but request declares %s", inst.ID, inst.Backend, req.Backend))
	}

	var result *Result
	var err error
	switch req.Kind {
	case KindQuery:
		result, err = o.executeQuery(ctx, req, inst)
	case KindScript:
		result, err = o.executeScript(ctx, req, inst)
	default:
		return failed(start, errdefs.Validation("unknown submission kind: %s", req.Kind))
	}
	if err != nil {
		res, _ := failed(start, err)
		if result != nil && result.Script != nil {
			res.Script = result.Script
		}
		return res, err
	}

	result.Success = true
	result.Duration = time.Since(start)

	log.Info().
		Str("request", req.ID).
		Str("kind", string(req.Kind)).
		Str("instance", req.InstanceID).
		Dur("duration", result.Duration).
		Msg("Execution completed")

	return result, nil
}

func (o *Orchestrator) executeQuery(ctx context.Context, req *Request, inst *config.Instance) (*Result, error) {
	d, ok := o.drivers[req.Backend]
	if !ok {
		return nil, errdefs.Validation("no driver for backend %s", req.Backend)
	}

	if _, err := d.Validate(req.Content); err != nil {
		return nil, err
	}

	queryCtx, cancel := context.WithTimeout(ctx, o.timeouts.Query)
	defer cancel()

	res, err := d.Execute(queryCtx, &driver.Request{
		Instance: inst,
		Database: req.Database,
		Content:  req.Content,
	})
	if err != nil {
		return nil, err
	}
	return &Result{Query: res}, nil
}

func (o *Orchestrator) executeScript(ctx context.Context, req *Request, inst *config.Instance) (*Result, error) {
	if o.runtime == nil {
		return nil, errdefs.Configuration("script runtime is not available")
	}

	d := o.drivers[inst.Backend]
	handle := &driverHandle{driver: d, instance: inst, database: req.Database}

	requestID := req.ID
	runResult, err := o.runtime.Execute(ctx, &sandbox.Request{
		Content:  req.Content,
		Language: req.ScriptLanguage,
		Instance: inst,
		Database: req.Database,
		Timeout:  o.timeouts.Script,
		Handle:   handle,
		Sink: func(entry sandbox.OutputEntry) {
			o.publisher.Publish(requestID, entry)
		},
	})
	result := &Result{Script: runResult}
	if err != nil {
		return result, err
	}
	return result, nil
}

// TestConnection probes an instance through its backend driver.
func (o *Orchestrator) TestConnection(ctx context.Context, instanceID, database string) (*driver.PingResult, error) {
	inst, ok := o.instances.Instance(instanceID)
	if !ok {
		return nil, errdefs.Configuration("unknown instance: %s", instanceID)
	}
	d := o.drivers[inst.Backend]

	probeCtx, cancel := context.WithTimeout(ctx, o.timeouts.ConnectionTest)
	defer cancel()
	return d.TestConnection(probeCtx, inst, database)
}

// driverHandle is the narrow capability injected into script sandboxes:
// scripts reach the database only through the same validated, capped driver
// path as direct queries.
type driverHandle struct {
	driver   driver.Driver
	instance *config.Instance
	database string
}

func (h *driverHandle) Query(ctx context.Context, content string) (*driver.Result, error) {
	if _, err := h.driver.Validate(content); err != nil {
		return nil, err
	}
	return h.driver.Execute(ctx, &driver.Request{
		Instance: h.instance,
		Database: h.database,
		Content:  content,
	})
}

func failed(start time.Time, err error) (*Result, error) {
	res := &Result{Success: false, Duration: time.Since(start)}
	if e, ok := err.(*errdefs.Error); ok {
		res.Error = e
	} else {
		res.Error = errdefs.QueryExecution(err, "execution failed")
	}
	return res, err
}
