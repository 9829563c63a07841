package triggers

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/rpattn/entityapi/internal/domain"
	"github.com/rpattn/entityapi/internal/schema"
)

// Recorder observes trigger executions. internal/metrics provides the
// prometheus implementation.
type Recorder interface {
	ObserveTrigger(phase domain.Phase, trigger string, elapsed time.Duration, err error)
	ObserveBulk(trigger string, size int, elapsed time.Duration, err error)
}

type nopRecorder struct{}

func (nopRecorder) ObserveTrigger(domain.Phase, string, time.Duration, error) {}
func (nopRecorder) ObserveBulk(string, int, time.Duration, error) {}

// Executor runs the triggers declared in the catalog for one entity and phase.
// It is stateless between calls and safe for concurrent use.
type Executor struct {
	deps     *Deps
	table    *Table
	logger   *zap.Logger
	recorder Recorder
}

// Option configures an Executor.
type Option func(*Executor)

// WithLogger sets the logger used for trigger failures.
func WithLogger(logger *zap.Logger) Option {
	return func(e *Executor) {
		if logger != nil {
			e.logger = logger
		}
	}
}

// WithRecorder sets the execution observer.
func WithRecorder(r Recorder) Option {
	return func(e *Executor) {
		if r != nil {
			e.recorder = r
		}
	}
}

// WithTable replaces the builtin trigger table.
func WithTable(t *Table) Option {
	return func(e *Executor) {
		if t != nil {
			e.table = t
		}
	}
}

// NewExecutor creates a trigger executor.
func NewExecutor(deps *Deps, opts ...Option) *Executor {
	e := &Executor{
		deps:     deps,
		table:    Builtin(),
		logger:   zap.NewNop(),
		recorder: nopRecorder{},
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Table returns the trigger table the executor dispatches to.
func (e *Executor) Table() *Table {
	return e.table
}

// Deps returns the shared trigger collaborators.
func (e *Executor) Deps() *Deps {
	return e.deps
}

type generateSettings struct {
	batcher *Batcher
	skip    schema.StringSet
}

// GenerateOption tunes a single Generate call.
type GenerateOption func(*generateSettings)

// WithBatcher defers bulk-capable on_read properties to b.
func WithBatcher(b *Batcher) GenerateOption {
	return func(s *generateSettings) {
		s.batcher = b
	}
}

// WithPropertiesToSkip prevents on_read triggers for the named properties.
func WithPropertiesToSkip(names ...string) GenerateOption {
	return func(s *generateSettings) {
		s.skip.Add(names...)
	}
}

// Generate runs the phase's triggers over class's effective properties in
// declaration order and returns the generated data.
//
// Before-phase failures abort with a *domain.TriggerError, except the data
// provider group and file upload errors which are returned unwrapped. After-
// phase failures abort with a *domain.TriggerError once the entity already
// exists. On-read failures never abort: the property receives the error text.
func (e *Executor) Generate(ctx context.Context, phase domain.Phase, class string, req *domain.RequestContext, existing, newData domain.Record, opts ...GenerateOption) (domain.Record, error) {
	if !phase.Valid() || phase == domain.PhaseOnBulkRead {
		return nil, fmt.Errorf("cannot generate data for phase %q", phase)
	}
	cls, err := e.deps.Catalog.Class(class)
	if err != nil {
		return nil, err
	}

	settings := generateSettings{skip: schema.NewStringSet()}
	for _, opt := range opts {
		opt(&settings)
	}
	if existing == nil {
		existing = domain.Record{}
	}
	if newData == nil {
		newData = domain.Record{}
	}

	generated := domain.Record{}
	for _, rule := range cls.Properties().Rules() {
		call := &Call{
			Deps:      e.deps,
			Executor:  e,
			Phase:     phase,
			Class:     cls.Name,
			Property:  rule.Name,
			Request:   req,
			Existing:  existing,
			New:       newData,
			Generated: generated,
		}

		if phase == domain.PhaseOnRead {
			if settings.skip.Has(rule.Name) {
				continue
			}
			if bulk, ok := rule.Trigger(domain.PhaseOnBulkRead); ok && settings.batcher != nil {
				settings.batcher.Register(rule.Name, bulk, existing.UUID())
				continue
			}
			name, ok := rule.Trigger(domain.PhaseOnRead)
			if !ok {
				continue
			}
			call.Trigger = name
			e.runRead(ctx, call, generated)
			continue
		}

		name, ok := rule.Trigger(phase)
		if !ok {
			continue
		}
		call.Trigger = name

		switch phase {
		case domain.PhaseAfterCreate, domain.PhaseAfterUpdate:
			if !newData.Has(rule.Name) {
				continue
			}
			if err := e.runEffect(ctx, call); err != nil {
				return generated, err
			}
			continue
		case domain.PhaseBeforeUpdate:
			if !newData.Has(rule.Name) && !rule.AutoUpdate {
				continue
			}
		}

		if rule.UpdatedPeripherally {
			generated, err = e.runReducer(ctx, call, generated)
		} else {
			err = e.runValue(ctx, call, generated)
		}
		if err != nil {
			return nil, err
		}
	}
	return generated, nil
}

func (e *Executor) runValue(ctx context.Context, call *Call, generated domain.Record) error {
	fn, ok := e.table.Values[call.Trigger]
	if !ok {
		return e.fail(call, fmt.Errorf("trigger %s is not registered as a value trigger", call.Trigger))
	}
	start := time.Now()
	key, value, err := fn(ctx, call)
	e.recorder.ObserveTrigger(call.Phase, call.Trigger, time.Since(start), err)
	if err != nil {
		return e.fail(call, err)
	}
	if value == nil {
		return nil
	}
	if key == "" {
		key = call.Property
	}
	generated[key] = value
	if key != call.Property && !generated.Has(call.Property) {
		generated[call.Property] = nil
	}
	return nil
}

func (e *Executor) runReducer(ctx context.Context, call *Call, generated domain.Record) (domain.Record, error) {
	fn, ok := e.table.Reducers[call.Trigger]
	if !ok {
		return nil, e.fail(call, fmt.Errorf("trigger %s is not registered as a reducer", call.Trigger))
	}
	start := time.Now()
	out, err := fn(ctx, call, generated)
	e.recorder.ObserveTrigger(call.Phase, call.Trigger, time.Since(start), err)
	if err != nil {
		return nil, e.fail(call, err)
	}
	if out == nil {
		out = domain.Record{}
	}
	return out, nil
}

func (e *Executor) runEffect(ctx context.Context, call *Call) error {
	fn, ok := e.table.Effects[call.Trigger]
	if !ok {
		return e.fail(call, fmt.Errorf("trigger %s is not registered as an effect", call.Trigger))
	}
	start := time.Now()
	err := fn(ctx, call)
	e.recorder.ObserveTrigger(call.Phase, call.Trigger, time.Since(start), err)
	if err != nil {
		return e.fail(call, err)
	}
	return nil
}

func (e *Executor) runRead(ctx context.Context, call *Call, generated domain.Record) {
	fn, ok := e.table.Values[call.Trigger]
	if !ok {
		generated[call.Property] = fmt.Sprintf("trigger %s is not registered", call.Trigger)
		return
	}
	start := time.Now()
	key, value, err := fn(ctx, call)
	e.recorder.ObserveTrigger(call.Phase, call.Trigger, time.Since(start), err)
	if err != nil {
		e.logger.Warn("on_read trigger failed",
			zap.String("phase", string(call.Phase)),
			zap.String("entity_class", call.Class),
			zap.String("property", call.Property),
			zap.String("trigger", call.Trigger),
			zap.String("uuid", call.EntityUUID()),
			zap.Error(err),
		)
		generated[call.Property] = err.Error()
		return
	}
	if value == nil {
		return
	}
	if key == "" {
		key = call.Property
	}
	generated[key] = value
}

// fail logs a fatal trigger failure once and converts it to the error the
// caller sees.
func (e *Executor) fail(call *Call, err error) error {
	if domain.IsPassthroughError(err) && !call.Phase.IsAfter() {
		return err
	}
	e.logger.Error("trigger failed",
		zap.String("phase", string(call.Phase)),
		zap.String("entity_class", call.Class),
		zap.String("property", call.Property),
		zap.String("trigger", call.Trigger),
		zap.String("uuid", call.EntityUUID()),
		zap.Error(err),
	)
	return &domain.TriggerError{
		Phase:    call.Phase,
		Class:    call.Class,
		Property: call.Property,
		Trigger:  call.Trigger,
		Err:      err,
	}
}
