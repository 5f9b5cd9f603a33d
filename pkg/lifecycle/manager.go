package lifecycle

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"go.temporal.io/sdk/activity"
	"go.temporal.io/sdk/client"
	"go.temporal.io/sdk/workflow"

	"github.com/replugio/replug/pkg/log"
	"github.com/replugio/replug/pkg/metrics"
	"github.com/replugio/replug/pkg/registration"
)

const (
	drainPollInterval = 100 * time.Millisecond
	drainCap          = 10 * time.Second
	shutdownCap       = 15 * time.Second
	settleDelay       = 500 * time.Millisecond

	connectAttempts       = 5
	connectBaseBackoff    = 2 * time.Second
	connectAttemptTimeout = 30 * time.Second

	// startProbe is how long startWorker watches for an immediate run
	// failure before reporting the worker as started.
	startProbe = 250 * time.Millisecond
)

// RegistrationSource supplies registration sets: the synchronous initial
// load at startup and the current set thereafter.
type RegistrationSource interface {
	InitialLoad(ctx context.Context) (registration.Set, error)
	Current() registration.Set
}

// Options configures a Manager.
type Options struct {
	TemporalServer string
	TaskQueue      string
	Source         RegistrationSource
	// Baseline is the built-in registration set substituted whenever a
	// (re)start would otherwise run with nothing to do.
	Baseline registration.Set
	// Factory overrides worker construction. When nil, a Temporal client is
	// dialed at Start and real workers are built on it.
	Factory WorkerFactory
}

// Manager owns the current Temporal worker. It reacts to reload events by
// draining the running worker and starting a fresh one with the new
// registration set, atomically with respect to callers.
type Manager struct {
	opts   Options
	logger zerolog.Logger

	mu         sync.Mutex
	current    SDKWorker
	stopCh     chan interface{}
	runDone    chan struct{}
	epoch      int64
	registered registration.Set
	client     client.Client
}

// New creates a Manager.
func New(opts Options) *Manager {
	return &Manager{
		opts:   opts,
		logger: log.WithComponent("lifecycle"),
	}
}

// Start dials the orchestration service, performs the initial load, and
// blocks until the first worker is running or ctx is cancelled. Connection
// failure after all attempts is fatal.
func (m *Manager) Start(ctx context.Context) error {
	if m.opts.Factory == nil {
		c, err := m.dial(ctx)
		if err != nil {
			return err
		}
		m.mu.Lock()
		m.client = c
		m.mu.Unlock()
		m.opts.Factory = NewTemporalFactory(c)
	}

	set := registration.NewSet()
	if m.opts.Source != nil {
		loaded, err := m.opts.Source.InitialLoad(ctx)
		if err != nil {
			return fmt.Errorf("initial load: %w", err)
		}
		set = loaded
	}
	return m.startWorker(set)
}

// OnReloaded replaces the current worker with one serving the new set. It
// is invoked by the coordinator on its reload goroutine, so replacements
// are strictly serialized.
func (m *Manager) OnReloaded(set registration.Set) {
	m.mu.Lock()
	old, oldStop, oldDone, oldEpoch := m.current, m.stopCh, m.runDone, m.epoch
	// Clear immediately so concurrent observers see "no worker" rather than
	// a worker about to drain.
	m.current, m.stopCh, m.runDone = nil, nil, nil
	m.mu.Unlock()

	if old != nil {
		m.drain(old, oldStop, oldDone, drainCap)
		time.Sleep(settleDelay)
	}

	m.mu.Lock()
	stale := m.epoch != oldEpoch
	m.mu.Unlock()
	if stale {
		// A faster reload already started a newer worker; abandon ours.
		m.logger.Debug().Int64("epoch", oldEpoch).Msg("reload superseded, abandoning restart")
		return
	}

	if err := m.startWorker(set); err != nil {
		m.logger.Error().Err(err).Msg("worker restart failed")
	}
}

// Stop drains the current worker and releases resources, bounded by ctx's
// deadline or the internal shutdown cap, whichever is shorter. No restart
// follows.
func (m *Manager) Stop(ctx context.Context) error {
	m.mu.Lock()
	old, oldStop, oldDone := m.current, m.stopCh, m.runDone
	m.current, m.stopCh, m.runDone = nil, nil, nil
	c := m.client
	m.client = nil
	m.mu.Unlock()

	limit := shutdownCap
	if deadline, ok := ctx.Deadline(); ok {
		if remaining := time.Until(deadline); remaining < limit {
			limit = remaining
		}
	}

	if old != nil {
		m.drain(old, oldStop, oldDone, limit)
	}
	if c != nil {
		c.Close()
	}
	metrics.WorkerRunning.Set(0)
	m.logger.Info().Msg("worker stopped")
	return nil
}

// CurrentRegistration returns the set registered with the current worker.
// During a reload this is either the old set or the new one, never a mix.
func (m *Manager) CurrentRegistration() registration.Set {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.registered
}

// Epoch returns the current worker generation.
func (m *Manager) Epoch() int64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.epoch
}

// IsRunning reports whether a worker is currently polling.
func (m *Manager) IsRunning() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.current != nil
}

// startWorker builds, registers, and runs a worker for the given set,
// substituting the baseline set when the supplied one is empty.
func (m *Manager) startWorker(set registration.Set) error {
	if set.Empty() {
		m.logger.Warn().Msg("registration set is empty, falling back to baseline set")
		set = m.opts.Baseline
	}

	w := m.opts.Factory(m.opts.TaskQueue)
	for _, h := range set.Tasks {
		w.RegisterActivityWithOptions(h.Fn, activity.RegisterOptions{Name: h.Name})
	}
	for _, h := range set.Workflows {
		w.RegisterWorkflowWithOptions(h.Fn, workflow.RegisterOptions{Name: h.Name})
	}

	stopCh := make(chan interface{})
	runDone := make(chan struct{})
	runErr := make(chan error, 1)

	go func() {
		err := w.Run(stopCh)
		if err != nil {
			runErr <- err
			m.logger.Error().Err(err).Msg("worker run ended with error")
		}
		close(runDone)

		// Clear our own reference only if the worker we ran is still the
		// current one; a reload may have already replaced it.
		m.mu.Lock()
		if m.current == w {
			m.current, m.stopCh, m.runDone = nil, nil, nil
			metrics.WorkerRunning.Set(0)
		}
		m.mu.Unlock()
	}()

	// Catch immediate startup failures before declaring the worker running.
	select {
	case <-runDone:
		select {
		case err := <-runErr:
			return fmt.Errorf("worker failed to start: %w", err)
		default:
			return fmt.Errorf("worker exited during startup")
		}
	case <-time.After(startProbe):
	}

	m.mu.Lock()
	m.current = w
	m.stopCh = stopCh
	m.runDone = runDone
	m.registered = set
	m.epoch++
	epoch := m.epoch
	m.mu.Unlock()

	metrics.WorkerEpoch.Set(float64(epoch))
	metrics.WorkerRunning.Set(1)
	metrics.RegisteredTasks.Set(float64(len(set.Tasks)))
	metrics.RegisteredWorkflows.Set(float64(len(set.Workflows)))

	m.logger.Info().
		Int64("epoch", epoch).
		Str("task_queue", m.opts.TaskQueue).
		Strs("tasks", set.TaskNames()).
		Strs("workflows", set.WorkflowNames()).
		Msg("worker started")
	return nil
}

// drain signals the worker to stop polling and polls until its run loop
// terminates or the cap elapses, then force-disposes if needed. Errors here
// are logged, never raised.
func (m *Manager) drain(w SDKWorker, stopCh chan interface{}, runDone chan struct{}, limit time.Duration) {
	timer := metrics.NewTimer()
	close(stopCh)

	deadline := time.Now().Add(limit)
	ticker := time.NewTicker(drainPollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-runDone:
			timer.ObserveDuration(metrics.DrainDuration)
			m.logger.Debug().Dur("took", timer.Duration()).Msg("worker drained")
			return
		case <-ticker.C:
			if time.Now().After(deadline) {
				m.logger.Warn().Dur("cap", limit).Msg("drain cap elapsed, disposing worker anyway")
				w.Stop()
				timer.ObserveDuration(metrics.DrainDuration)
				return
			}
		}
	}
}

// dial connects to the orchestration service with bounded retries and
// exponential backoff.
func (m *Manager) dial(ctx context.Context) (client.Client, error) {
	var lastErr error
	backoff := connectBaseBackoff

	for attempt := 1; attempt <= connectAttempts; attempt++ {
		attemptCtx, cancel := context.WithTimeout(ctx, connectAttemptTimeout)
		c, err := client.DialContext(attemptCtx, client.Options{
			HostPort: m.opts.TemporalServer,
			Logger:   log.NewTemporalAdapter(m.logger),
		})
		cancel()
		if err == nil {
			m.logger.Info().Str("server", m.opts.TemporalServer).Msg("connected to temporal")
			return c, nil
		}
		lastErr = err
		m.logger.Warn().Err(err).Int("attempt", attempt).Msg("temporal connection failed")

		if attempt == connectAttempts {
			break
		}
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(backoff):
		}
		backoff *= 2
	}
	return nil, fmt.Errorf("connect to %s after %d attempts: %w", m.opts.TemporalServer, connectAttempts, lastErr)
}
