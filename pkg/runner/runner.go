// Package runner orchestrates an extraction run: authenticate, discover,
// then sync every selected stream in deterministic order, emitting schema,
// record, and state messages to the output writer. Stream failures are
// isolated; authentication and configuration failures abort the run.
package runner

import (
	"context"
	stderrors "errors"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/ajitpratap0/tap-adp/pkg/auth"
	"github.com/ajitpratap0/tap-adp/pkg/catalog"
	"github.com/ajitpratap0/tap-adp/pkg/client"
	"github.com/ajitpratap0/tap-adp/pkg/config"
	"github.com/ajitpratap0/tap-adp/pkg/errors"
	"github.com/ajitpratap0/tap-adp/pkg/logger"
	"github.com/ajitpratap0/tap-adp/pkg/metrics"
	"github.com/ajitpratap0/tap-adp/pkg/singer"
	"github.com/ajitpratap0/tap-adp/pkg/state"
	"github.com/ajitpratap0/tap-adp/pkg/transform"
)

// Phase is the runner's lifecycle state
type Phase string

const (
	PhaseIdle           Phase = "idle"
	PhaseAuthenticating Phase = "authenticating"
	PhaseDiscovering    Phase = "discovering"
	PhaseSyncing        Phase = "syncing"
	PhaseCompleted      Phase = "completed"
	PhaseFailed         Phase = "failed"
)

// Result summarizes a finished run
type Result struct {
	StreamsSynced  int
	StreamsFailed  map[string]error
	RecordsEmitted int64
}

// Runner drives one extraction run end to end
type Runner struct {
	cfg    *config.Config
	writer *singer.Writer
	state  *state.Manager

	catalog   *catalog.Catalog
	selection *catalog.Selection
	client    *client.Client

	// transformers holds the compiled rule pipeline per selected stream
	transformers map[string]*transform.Transformer

	mu    sync.Mutex
	phase Phase
	// childContexts accumulates parent-record contexts keyed by child stream
	childContexts map[string][]map[string]string
	result        Result

	// cancelRun aborts remaining streams on a run-fatal failure
	cancelRun context.CancelFunc
	fatalErr  error
}

// New creates a runner over validated configuration. Rule compilation
// happens here so malformed stream maps fail before any network call.
func New(cfg *config.Config, writer *singer.Writer, stateManager *state.Manager) (*Runner, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	c := catalog.Discover()
	selection, err := c.Select(cfg.Select)
	if err != nil {
		return nil, err
	}

	transformers := make(map[string]*transform.Transformer)
	for _, name := range selection.Streams {
		def, _ := c.Get(name)
		rules := append(append([]transform.Rule{}, def.Rules...), cfg.StreamMaps[name]...)
		t, err := transform.Compile(rules, cfg.FlattenMaxDepth)
		if err != nil {
			return nil, errors.Wrap(err, errors.ErrorTypeConfig, "invalid rules for stream "+name)
		}
		transformers[name] = t
	}

	return &Runner{
		cfg:          cfg,
		writer:       writer,
		state:        stateManager,
		catalog:      c,
		selection:    selection,
		transformers: transformers,
		phase:        PhaseIdle,
		childContexts: make(map[string][]map[string]string),
		result:        Result{StreamsFailed: make(map[string]error)},
	}, nil
}

// Phase returns the runner's current lifecycle state
func (r *Runner) Phase() Phase {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.phase
}

func (r *Runner) setPhase(p Phase) {
	r.mu.Lock()
	r.phase = p
	r.mu.Unlock()
}

// Run executes the extraction. It returns the run summary plus an error
// when the run as a whole failed; individual stream failures are reported
// in the result and do not fail the run.
func (r *Runner) Run(ctx context.Context) (*Result, error) {
	log := logger.Get()

	r.setPhase(PhaseAuthenticating)
	authenticator, err := auth.New(r.cfg)
	if err != nil {
		r.setPhase(PhaseFailed)
		return nil, err
	}
	// fetch eagerly so credential rejection aborts before any stream starts
	if _, err := authenticator.Token(ctx); err != nil {
		r.setPhase(PhaseFailed)
		return nil, err
	}
	r.client = client.New(r.cfg, authenticator)

	r.setPhase(PhaseDiscovering)
	plan := r.plan()
	log.Info("starting sync",
		zap.Int("streams", len(r.selection.Streams)),
		zap.Int("max_parallel", r.cfg.MaxParallelStreams))

	r.setPhase(PhaseSyncing)
	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()
	r.mu.Lock()
	r.cancelRun = cancel
	r.mu.Unlock()

	for _, level := range plan {
		r.runLevel(runCtx, level)
		if runCtx.Err() != nil {
			break
		}
	}

	// final checkpoint covers whatever the last streams emitted
	if err := r.checkpoint(); err != nil {
		log.Warn("failed to write final state checkpoint", zap.Error(err))
	}

	r.mu.Lock()
	result := r.result
	fatal := r.fatalErr
	r.mu.Unlock()

	if fatal != nil {
		r.setPhase(PhaseFailed)
		return &result, fatal
	}

	if ctx.Err() != nil {
		r.setPhase(PhaseFailed)
		return &result, errors.Wrap(ctx.Err(), errors.ErrorTypeInternal, "sync cancelled")
	}

	r.setPhase(PhaseCompleted)
	log.Info("sync finished",
		zap.Int("streams_synced", result.StreamsSynced),
		zap.Int("streams_failed", len(result.StreamsFailed)),
		zap.Int64("records", result.RecordsEmitted))
	return &result, nil
}

// planEntry is one stream scheduled for a level, possibly context-only:
// an unselected parent still runs to collect contexts for a selected child,
// without emitting its own records.
type planEntry struct {
	def  *catalog.StreamDefinition
	emit bool
}

// plan groups streams into dependency levels: parents run before their
// children, and only streams within one level may run in parallel. The
// order within a level follows catalog declaration order, so scheduling
// is deterministic.
func (r *Runner) plan() [][]planEntry {
	needed := make(map[string]bool)
	emit := make(map[string]bool)
	for _, name := range r.selection.Streams {
		emit[name] = true
		// pull in unselected ancestors for context collection
		for cur := name; cur != ""; {
			needed[cur] = true
			def, _ := r.catalog.Get(cur)
			cur = def.Parent
		}
	}

	depth := func(def *catalog.StreamDefinition) int {
		d := 0
		for cur := def; cur.Parent != ""; {
			parent, _ := r.catalog.Get(cur.Parent)
			cur = parent
			d++
		}
		return d
	}

	var levels [][]planEntry
	for i := range r.catalog.Streams {
		def := &r.catalog.Streams[i]
		if !needed[def.Name] {
			continue
		}
		d := depth(def)
		for len(levels) <= d {
			levels = append(levels, nil)
		}
		levels[d] = append(levels[d], planEntry{def: def, emit: emit[def.Name]})
	}
	return levels
}

// runLevel syncs one dependency level with bounded parallelism
func (r *Runner) runLevel(ctx context.Context, level []planEntry) {
	sem := make(chan struct{}, r.cfg.MaxParallelStreams)
	var wg sync.WaitGroup

	for _, entry := range level {
		if ctx.Err() != nil {
			break
		}
		wg.Add(1)
		sem <- struct{}{}
		go func(entry planEntry) {
			defer wg.Done()
			defer func() { <-sem }()
			r.runStream(ctx, entry)
		}(entry)
	}
	wg.Wait()
}

// runStream syncs one stream and records its outcome. Failures are isolated
// to the stream unless they indicate the whole run cannot proceed.
func (r *Runner) runStream(ctx context.Context, entry planEntry) {
	def := entry.def
	log := logger.With(zap.String("stream", def.Name))
	timer := metrics.NewTimer()

	err := r.syncStream(ctx, entry)
	duration := timer.ObserveStream(def.Name)

	r.mu.Lock()
	defer r.mu.Unlock()
	if err != nil {
		var typed *errors.Error
		errType := string(errors.ErrorTypeInternal)
		if stderrors.As(err, &typed) {
			errType = string(typed.Type)
		}
		metrics.StreamFailures.WithLabelValues(def.Name, errType).Inc()
		r.result.StreamsFailed[def.Name] = err
		log.Error("stream failed", zap.Error(err), zap.Duration("duration", duration))

		// a rejected credential cannot recover on another stream
		if errors.IsType(err, errors.ErrorTypeAuthentication) && r.fatalErr == nil {
			r.fatalErr = err
			r.cancelRun()
		}
		return
	}
	if entry.emit {
		r.result.StreamsSynced++
	}
	log.Info("stream completed", zap.Duration("duration", duration))
}

// syncStream extracts every record of one stream. Child streams run one
// paginator per parent context; top-level streams run a single paginator.
func (r *Runner) syncStream(ctx context.Context, entry planEntry) error {
	def := entry.def

	if entry.emit {
		if err := r.writer.WriteSchema(def.Name, def.Schema, def.PrimaryKeys, bookmarkProperties(def)); err != nil {
			return err
		}
	}

	contexts := []map[string]string{nil}
	if def.IsChild() {
		r.mu.Lock()
		contexts = r.childContexts[def.Name]
		r.mu.Unlock()
	}

	sinceDate := r.sinceDate(def)

	emitted := 0
	violations := 0
	for _, streamCtx := range contexts {
		if ctx.Err() != nil {
			return nil
		}
		p := client.NewPaginator(r.client, def, r.cfg.PageSize, streamCtx, sinceDate)
		for {
			// cancellation drains the in-flight page, then stops cleanly
			if ctx.Err() != nil {
				return nil
			}
			page, err := p.Next(ctx)
			if err != nil {
				return err
			}
			if page == nil {
				break
			}
			if page.Skipped {
				break
			}

			for _, raw := range page.Records {
				r.collectChildContexts(def, raw)

				if !entry.emit {
					continue
				}
				ok, err := r.emitRecord(def, raw, &violations)
				if err != nil {
					return err
				}
				if !ok {
					continue
				}
				emitted++
				if emitted%r.cfg.CheckpointEvery == 0 {
					if err := r.checkpoint(); err != nil {
						return err
					}
				}
			}
		}
	}

	if entry.emit && emitted > 0 {
		if err := r.checkpoint(); err != nil {
			return err
		}
	}
	return nil
}

// emitRecord transforms, validates, filters, and writes one record. The
// bookmark advances only after the record is on the wire, preserving
// at-least-once delivery.
func (r *Runner) emitRecord(def *catalog.StreamDefinition, raw map[string]interface{}, violations *int) (bool, error) {
	mapped, ok := r.transformers[def.Name].Apply(raw)
	if !ok {
		metrics.RecordsEmitted.WithLabelValues(def.Name, "dropped").Inc()
		return false, nil
	}

	if missing := missingKeys(mapped, def.PrimaryKeys); missing != "" {
		metrics.RecordsEmitted.WithLabelValues(def.Name, "invalid").Inc()
		*violations++
		logger.Get().Warn("record violates stream schema",
			zap.String("stream", def.Name),
			zap.String("missing_key", missing),
			zap.Int("violations", *violations))
		if *violations >= r.cfg.SchemaViolationLimit {
			return false, errors.Newf(errors.ErrorTypeSchemaMismatch,
				"stream exceeded %d schema violations", r.cfg.SchemaViolationLimit).
				WithDetail("stream", def.Name)
		}
		return false, nil
	}

	record := r.applyFieldSelection(def.Name, mapped)
	if err := r.writer.WriteRecord(def.Name, record); err != nil {
		return false, err
	}
	metrics.RecordsEmitted.WithLabelValues(def.Name, "emitted").Inc()

	r.mu.Lock()
	r.result.RecordsEmitted++
	r.mu.Unlock()

	if def.ReplicationMethod == catalog.ReplicationIncremental {
		if v, ok := mapped[def.ReplicationKey].(string); ok {
			r.state.Advance(def.Name, def.ReplicationKey, v)
		}
	}
	return true, nil
}

// collectChildContexts captures this record's context for each child stream
// scheduled on a later level
func (r *Runner) collectChildContexts(def *catalog.StreamDefinition, raw map[string]interface{}) {
	for i := range r.catalog.Streams {
		child := &r.catalog.Streams[i]
		if child.Parent != def.Name {
			continue
		}
		if !r.selection.IsSelected(child.Name) {
			continue
		}
		streamCtx := make(map[string]string, len(child.ParentContext))
		complete := true
		for placeholder, field := range child.ParentContext {
			v, ok := raw[field]
			if !ok {
				complete = false
				break
			}
			streamCtx[placeholder] = fmt.Sprintf("%v", v)
		}
		if !complete {
			continue
		}
		r.mu.Lock()
		r.childContexts[child.Name] = append(r.childContexts[child.Name], streamCtx)
		r.mu.Unlock()
	}
}

// applyFieldSelection drops unselected fields from a mapped record
func (r *Runner) applyFieldSelection(stream string, record map[string]interface{}) map[string]interface{} {
	if r.selection.Fields[stream] == nil {
		return record
	}
	out := make(map[string]interface{}, len(record))
	for k, v := range record {
		if r.selection.FieldSelected(stream, k) {
			out[k] = v
		}
	}
	return out
}

// sinceDate computes the YYYYMMDD lower bound for an incremental stream:
// the stored bookmark when present, otherwise the configured start date.
func (r *Runner) sinceDate(def *catalog.StreamDefinition) string {
	if def.ReplicationMethod != catalog.ReplicationIncremental {
		return ""
	}
	if v, ok := r.state.Bookmark(def.Name); ok {
		if t, err := time.Parse(time.RFC3339, v); err == nil {
			return t.Format("20060102")
		}
	}
	if r.cfg.StartDate != "" {
		if t, err := config.ParseStartDate(r.cfg.StartDate); err == nil {
			return t.Format("20060102")
		}
	}
	return ""
}

// checkpoint emits a state message reflecting every record already written
func (r *Runner) checkpoint() error {
	if err := r.writer.WriteState(r.state.Snapshot()); err != nil {
		return err
	}
	metrics.Checkpoints.Inc()
	return nil
}

func bookmarkProperties(def *catalog.StreamDefinition) []string {
	if def.ReplicationKey == "" {
		return nil
	}
	return []string{def.ReplicationKey}
}

func missingKeys(record map[string]interface{}, keys []string) string {
	for _, k := range keys {
		if _, ok := record[k]; !ok {
			return k
		}
	}
	return ""
}
