package dispatcher

import (
	"context"
	"errors"
	"fmt"
	"math"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/voiceagent/runtime/config"
	"github.com/voiceagent/runtime/dialer"
	"github.com/voiceagent/runtime/internal/pool"
	"github.com/voiceagent/runtime/metrics"
	"github.com/voiceagent/runtime/ports"
	"github.com/voiceagent/runtime/retry"
	"github.com/voiceagent/runtime/session"
	"github.com/voiceagent/runtime/tools"
	"github.com/voiceagent/runtime/types"
)

const (
	workerName                   = "voiceagent-outbound-caller"
	reconnectInitialDelayDefault = 500 * time.Millisecond
)

var workerCapabilities = []string{"outbound-voice"}

// Deps bundles everything the dispatcher needs beyond its own config: the
// control-plane connection, the outbound dialer, and the session
// dependencies shared across every call it spawns (spec.md §5
// shared-resource policy).
type Deps struct {
	Control ports.ControlPlaneClient
	// Room is the same collaborator as Control (a *controlplane.Client
	// implements both interfaces) exposed separately since
	// ports.ControlPlaneClient doesn't embed ports.RoomClient; runJob uses
	// it to build each job's transferCall tool and to tear the room down
	// once the call ends.
	Room        ports.RoomClient
	Dialer      *dialer.Dialer
	SessionDeps session.Deps
	// ToolsFactory builds a fresh tool registry/executor for one job, with
	// the built-in tools bound to that job's DialInfo and SIP participant
	// (spec.md §4.5: transferCall/endCall/detectedAnsweringMachine need
	// per-job state, not the shared, one-time-constructed SessionDeps).
	ToolsFactory func(dial tools.DialInfo, ctrl tools.SessionController, roomName, participantIdentity string) (tools.Registry, tools.Executor, error)
	Metrics      *metrics.Collector
	Logger       *zap.Logger
}

// Dispatcher is the Worker Dispatcher (spec.md §4.1): it owns the
// control-plane connection, validates and dials each job it receives, and
// runs one Session per call inside a bounded, panic-safe goroutine pool.
// Generalized from internal/server.Manager's connection registry and
// cmd/agentflow/server.go's serve loop, adapted from an inbound HTTP
// server to an outbound job-consuming worker.
type Dispatcher struct {
	cfg   config.DispatcherConfig
	sip   config.SIPConfig
	agent types.AgentConfig
	deps  Deps
	log   *zap.Logger
	pool  *pool.GoroutinePool

	mu       sync.Mutex
	sessions map[string]*session.Session
}

// New constructs a Dispatcher. agent is the AgentConfig every job runs
// with (config.AgentDefaults.ToAgentConfig()), plus that job's tool specs;
// per-job agent_config_id is logged but not looked up, since no
// stored-config component exists in scope (see DESIGN.md).
func New(cfg config.DispatcherConfig, sip config.SIPConfig, agent types.AgentConfig, deps Deps) *Dispatcher {
	logger := deps.Logger
	if logger == nil {
		logger = zap.NewNop()
	}

	maxWorkers := cfg.MaxConcurrentJobs
	if maxWorkers <= 0 {
		maxWorkers = 1
	}

	d := &Dispatcher{
		cfg:      cfg,
		sip:      sip,
		agent:    agent,
		deps:     deps,
		log:      logger.With(zap.String("component", "dispatcher")),
		sessions: make(map[string]*session.Session),
	}

	d.pool = pool.NewGoroutinePool(pool.GoroutinePoolConfig{
		MaxWorkers: maxWorkers,
		// Unbuffered: a session occupies a worker for the whole call, so
		// queueing a job behind a busy worker would just delay the
		// capacity rejection, not avoid it.
		QueueSize:    0,
		IdleTimeout:  5 * time.Minute,
		PanicHandler: d.onWorkerPanic,
	})

	return d
}

// Start registers the worker and consumes job assignments until ctx is
// cancelled. It reconnects with capped exponential backoff on connection
// loss (spec.md §4.1 "re-registers on reconnect") and, once ctx is
// cancelled, waits up to cfg.DrainTimeout for in-flight sessions to finish
// before returning.
func (d *Dispatcher) Start(ctx context.Context) error {
	policy := &retry.RetryPolicy{
		MaxRetries:   math.MaxInt32,
		InitialDelay: reconnectInitialDelayDefault,
		MaxDelay:     30 * time.Second,
		Multiplier:   2,
		Jitter:       true,
		OnRetry: func(attempt int, err error, delay time.Duration) {
			d.log.Warn("control plane connection lost, reconnecting",
				zap.Int("attempt", attempt), zap.Duration("delay", delay), zap.Error(err))
		},
	}
	if d.cfg.ReconnectMinDelay > 0 {
		policy.InitialDelay = d.cfg.ReconnectMinDelay
	}
	if d.cfg.ReconnectMaxDelay > 0 {
		policy.MaxDelay = d.cfg.ReconnectMaxDelay
	}
	retryer := retry.NewBackoffRetryer(policy, d.log)

	// retry.RetryPolicy's empty RetryableErrors list makes every error
	// retryable, including a fatal credential rejection — that would
	// otherwise retry an authentication failure forever instead of
	// surfacing it (spec.md §6's exit code 2). runConnection's fatal
	// errors are captured here and the inner context is cancelled so the
	// retryer's next backoff wait returns immediately instead of looping.
	innerCtx, cancelInner := context.WithCancel(ctx)
	defer cancelInner()

	var fatalErr error
	runErr := retryer.Do(innerCtx, func() error {
		err := d.runConnection(innerCtx)
		if err != nil && types.IsFatal(err) {
			fatalErr = err
			cancelInner()
		}
		return err
	})

	d.waitForDrain()

	if fatalErr != nil {
		return fatalErr
	}
	if ctx.Err() != nil {
		return nil
	}
	return runErr
}

// runConnection registers the worker once and consumes jobs until the
// stream closes (returned as an error, triggering a reconnect) or ctx is
// cancelled (returned as nil, a clean exit).
func (d *Dispatcher) runConnection(ctx context.Context) error {
	if err := d.deps.Control.RegisterWorker(ctx, workerName, workerCapabilities); err != nil {
		return fmt.Errorf("register worker: %w", err)
	}
	d.log.Info("registered with control plane", zap.String("worker", workerName))

	jobs, err := d.deps.Control.Jobs(ctx)
	if err != nil {
		return fmt.Errorf("subscribe to jobs: %w", err)
	}

	for {
		select {
		case <-ctx.Done():
			return nil
		case job, ok := <-jobs:
			if !ok {
				return errors.New("control plane job stream closed")
			}
			d.dispatch(ctx, job)
		}
	}
}

// dispatch validates a job's metadata and hands it to the goroutine pool.
// Malformed metadata and a full pool are both reported as an immediate
// fatalError outcome; no session is ever created for either.
func (d *Dispatcher) dispatch(ctx context.Context, job types.Job) {
	md, err := types.ParseJobMetadata(job.RawMetadataJS)
	if err != nil {
		d.reject(ctx, job, err)
		return
	}

	if md.AgentConfigID != "" {
		d.log.Info("job references agent_config_id; no config store is wired, using bundled defaults",
			zap.String("job_id", job.ID), zap.String("agent_config_id", md.AgentConfigID))
	}

	agentCfg := d.agent

	submitErr := d.pool.Submit(ctx, func(taskCtx context.Context) error {
		d.runJob(taskCtx, job, md, agentCfg)
		return nil
	})
	if submitErr != nil {
		d.reject(ctx, job, submitErr)
		return
	}

	d.deps.Metrics.RecordJobDispatched("outbound")
}

// sessionRef lazily resolves to the *session.Session it controls. It
// exists because BuiltinRegistrations needs a tools.SessionController
// before the session it will drive has been constructed: the tool
// registry is built first, handed to session.New via Deps.Tools, and only
// then does sess exist to assign into the ref.
type sessionRef struct {
	sess *session.Session
}

func (r *sessionRef) ParticipantLeft() { r.sess.ParticipantLeft() }

func (r *sessionRef) EndImmediately(reason types.JobOutcomeReason) { r.sess.EndImmediately(reason) }

func (r *sessionRef) EndAfterCurrentUtterance(reason types.JobOutcomeReason) {
	r.sess.EndAfterCurrentUtterance(reason)
}

// runJob dials the callee and runs the call end to end. It always reports
// a terminal JobOutcome, even on panic, since the control plane has no
// other way to learn the worker considers the job finished.
func (d *Dispatcher) runJob(ctx context.Context, job types.Job, md types.JobMetadata, agentCfg types.AgentConfig) {
	reason := types.OutcomeNormal
	detail := ""

	defer func() {
		if r := recover(); r != nil {
			reason = types.OutcomeFatalError
			detail = fmt.Sprintf("panic: %v", r)
			d.log.Error("session panicked", zap.String("job_id", job.ID), zap.Any("panic", r))
		}
		d.unregister(job.ID)
		if err := d.deps.Room.DeleteRoom(context.Background(), job.RoomName); err != nil {
			d.log.Warn("failed to tear down room", zap.String("job_id", job.ID), zap.Error(err))
		}
		d.deps.Metrics.RecordJobOutcome(reason)
		outcome := types.JobOutcome{JobID: job.ID, CompletedAt: time.Now(), Reason: reason, Detail: detail}
		if err := d.deps.Control.ReportJobOutcome(ctx, outcome); err != nil {
			d.log.Error("failed to report job outcome", zap.String("job_id", job.ID), zap.Error(err))
		}
	}()

	_ = d.deps.Control.ReportJobStatus(ctx, job.ID, "dialing")

	participant, err := d.deps.Dialer.Dial(ctx, d.sip.TrunkID, md.PhoneNumber, job.RoomName)
	if err != nil {
		reason = types.OutcomeFatalError
		detail = err.Error()
		d.log.Warn("dial failed", zap.String("job_id", job.ID), zap.Error(err))
		return
	}

	_ = d.deps.Control.ReportJobStatus(ctx, job.ID, "active")

	dial := tools.DialInfo{
		PhoneNumber:                md.PhoneNumber,
		TransferTo:                 md.TransferTo,
		VoicemailDetection:         md.VoicemailDetection,
		VoicemailHangupImmediately: md.VoicemailHangupImmediately,
	}
	if md.VoicemailMessage != nil {
		dial.VoicemailMessage = *md.VoicemailMessage
	}

	ctrl := &sessionRef{}
	registry, executor, err := d.deps.ToolsFactory(dial, ctrl, job.RoomName, participant.Identity)
	if err != nil {
		reason = types.OutcomeFatalError
		detail = err.Error()
		d.log.Error("failed to build job tool registry", zap.String("job_id", job.ID), zap.Error(err))
		return
	}

	sessDeps := d.deps.SessionDeps
	sessDeps.Tools = registry
	sessDeps.Executor = executor
	agentCfg.Tools = append(append([]types.ToolSpec(nil), agentCfg.Tools...), registry.List()...)

	sess := session.New(job.RoomName, job.ID, agentCfg, sessDeps)
	ctrl.sess = sess
	d.register(job.ID, sess)

	sessCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	if err := sess.Start(sessCtx); err != nil {
		reason = types.OutcomeFatalError
		detail = err.Error()
		d.log.Warn("session failed to start", zap.String("job_id", job.ID), zap.Error(err))
		return
	}

	<-sess.Done()
	reason = sess.Outcome()
}

// reject reports a job as a fatalError outcome without ever creating a
// session (spec.md §6: malformed metadata, or a worker at capacity).
func (d *Dispatcher) reject(ctx context.Context, job types.Job, cause error) {
	d.log.Warn("rejecting job", zap.String("job_id", job.ID), zap.Error(cause))
	d.deps.Metrics.RecordJobOutcome(types.OutcomeFatalError)
	outcome := types.JobOutcome{
		JobID:       job.ID,
		CompletedAt: time.Now(),
		Reason:      types.OutcomeFatalError,
		Detail:      cause.Error(),
	}
	if err := d.deps.Control.ReportJobOutcome(ctx, outcome); err != nil {
		d.log.Error("failed to report job rejection", zap.String("job_id", job.ID), zap.Error(err))
	}
}

// onWorkerPanic is the goroutine pool's last-resort safety net: runJob
// already recovers and reports its own outcome, so this only fires for a
// panic outside that recover (e.g. in the pool's own bookkeeping).
func (d *Dispatcher) onWorkerPanic(r any) {
	d.log.Error("goroutine pool worker panicked", zap.Any("panic", r))
}

// waitForDrain waits up to cfg.DrainTimeout for every in-flight session to
// finish once the control-plane loop has exited (spec.md §4.1 worker
// shutdown: sessions get a grace period to drain before the worker forces
// exit).
func (d *Dispatcher) waitForDrain() {
	drained := make(chan struct{})
	go func() {
		d.pool.Close()
		close(drained)
	}()

	timeout := d.cfg.DrainTimeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}

	select {
	case <-drained:
	case <-time.After(timeout):
		d.log.Warn("drain timeout exceeded; sessions may still be active", zap.Int("active", d.ActiveSessions()))
	}
}

func (d *Dispatcher) register(jobID string, sess *session.Session) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.sessions[jobID] = sess
}

func (d *Dispatcher) unregister(jobID string) {
	d.mu.Lock()
	defer d.mu.Unlock()
	delete(d.sessions, jobID)
}

// ActiveSessions reports how many sessions are currently running.
func (d *Dispatcher) ActiveSessions() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.sessions)
}

// Stats exposes the underlying goroutine pool's counters for the worker's
// health endpoint.
func (d *Dispatcher) Stats() pool.GoroutinePoolStats {
	return d.pool.Stats()
}
