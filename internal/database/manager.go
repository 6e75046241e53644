package database

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/R3E-Network/user_service/internal/logging"
	"github.com/R3E-Network/user_service/internal/metrics"
)

// ManagerConfig configures a Manager.
type ManagerConfig struct {
	// URI is the connection string; only used for status and masked logging.
	URI string
	// Retry bounds the attempts made by Connect.
	Retry RetryPolicy
	// Failure selects what happens once retries are exhausted.
	Failure FailurePolicy
	// OnFatal is invoked with the terminal error under FailureTerminate.
	OnFatal func(error)
	// PingTimeout bounds the IsHealthy round trip.
	PingTimeout time.Duration
	Logger      *logging.Logger
}

// Manager supervises exactly one logical connection to the store. It is
// constructed once by the composition root and shared by reference.
type Manager struct {
	driver      Driver
	target      Target
	maskedURI   string
	policy      RetryPolicy
	failure     FailurePolicy
	onFatal     func(error)
	pingTimeout time.Duration
	log         *logging.Logger
	sleep       func(context.Context, time.Duration) error

	// connectMu serialises Connect and Disconnect.
	connectMu sync.Mutex

	mu           sync.RWMutex
	state        State
	attempt      int
	session      bool
	subscribed   bool
	indexesReady bool
	indexers     []IndexInitializer
}

// NewManager creates a Manager in the Disconnected state.
func NewManager(driver Driver, cfg ManagerConfig) *Manager {
	if cfg.PingTimeout <= 0 {
		cfg.PingTimeout = 5 * time.Second
	}
	if cfg.Logger == nil {
		cfg.Logger = logging.Default()
	}

	m := &Manager{
		driver:      driver,
		target:      ParseTarget(cfg.URI),
		maskedURI:   logging.MaskURI(cfg.URI),
		policy:      cfg.Retry.withDefaults(),
		failure:     cfg.Failure,
		onFatal:     cfg.OnFatal,
		pingTimeout: cfg.PingTimeout,
		log:         cfg.Logger,
		sleep:       sleepContext,
		state:       StateDisconnected,
	}
	metrics.SetConnectionState(StateDisconnected.String(), StateNames())
	return m
}

// Connect establishes the connection, retrying with exponential backoff.
// It returns immediately when already connected. Concurrent callers are
// serialised; a caller arriving after a successful connect is a no-op.
func (m *Manager) Connect(ctx context.Context) error {
	m.connectMu.Lock()
	defer m.connectMu.Unlock()

	if m.State() == StateConnected {
		return nil
	}

	for {
		m.setState(StateConnecting)
		m.entry().WithField("attempt", m.Attempts()+1).Info("Connecting to database")

		err := m.driver.Connect(ctx)
		metrics.RecordConnectAttempt(err == nil)
		if err == nil {
			break
		}

		m.mu.Lock()
		m.attempt++
		attempt := m.attempt
		m.mu.Unlock()

		if attempt > m.policy.MaxAttempts {
			m.abandon()
			m.setState(StateDisconnected)
			terminal := fmt.Errorf("%w after %d attempts: %w", ErrRetriesExhausted, attempt, err)
			m.entry().WithError(err).WithField("attempts", attempt).Error("Database connection failed permanently")
			return m.fail(terminal)
		}

		delay := m.policy.Delay(attempt)
		m.entry().WithError(err).WithFields(logrus.Fields{
			"retry":        attempt,
			"max_attempts": m.policy.MaxAttempts,
			"delay":        delay.String(),
		}).Warn("Database connection failed, retrying")

		if err := m.sleep(ctx, delay); err != nil {
			m.abandon()
			m.setState(StateDisconnected)
			return fmt.Errorf("database connect aborted: %w", err)
		}
	}

	m.mu.Lock()
	m.attempt = 0
	m.session = true
	subscribe := !m.subscribed
	m.subscribed = true
	indexesReady := m.indexesReady
	m.mu.Unlock()

	m.setState(StateConnected)
	if subscribe {
		m.driver.Subscribe(m.handleEvent)
	}

	if !indexesReady {
		if err := m.SetupIndexes(ctx); err != nil {
			return err
		}
	}
	return nil
}

// Disconnect closes the connection. It is a no-op when nothing is open.
// The state only becomes Disconnected once the driver confirmed the close.
func (m *Manager) Disconnect(ctx context.Context) error {
	m.connectMu.Lock()
	defer m.connectMu.Unlock()

	m.mu.RLock()
	session := m.session
	previous := m.state
	m.mu.RUnlock()

	if !session {
		return nil
	}

	if previous == StateConnected {
		m.setState(StateDisconnecting)
	}
	if err := m.driver.Disconnect(ctx); err != nil {
		m.setState(previous)
		m.entry().WithError(err).Error("Database disconnect failed")
		return fmt.Errorf("%w: %w", ErrDisconnect, err)
	}

	m.mu.Lock()
	m.session = false
	m.mu.Unlock()
	m.setState(StateDisconnected)
	m.entry().Info("Database connection closed")
	return nil
}

// Status returns the last known connection status without any I/O.
func (m *Manager) Status() Status {
	state := m.State()
	return Status{
		State:       state,
		StateName:   state.String(),
		Host:        m.target.Host,
		Port:        m.target.Port,
		Database:    m.target.Database,
		IsConnected: state == StateConnected,
	}
}

// State returns the current connection state.
func (m *Manager) State() State {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.state
}

// IsHealthy reports whether the store answers a ping within the manager's
// ping timeout. It does no I/O unless the state is Connected and never
// returns an error.
func (m *Manager) IsHealthy(ctx context.Context) bool {
	if m.State() != StateConnected {
		return false
	}

	ctx, cancel := context.WithTimeout(ctx, m.pingTimeout)
	defer cancel()

	if err := m.driver.Ping(ctx); err != nil {
		m.entry().WithError(err).Debug("Database ping failed")
		return false
	}
	return true
}

// RegisterIndexes adds schema setup steps run once after the first
// successful connect.
func (m *Manager) RegisterIndexes(fns ...IndexInitializer) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.indexers = append(m.indexers, fns...)
}

// SetupIndexes runs every registered index initializer. The first failure is
// returned and is not retried.
func (m *Manager) SetupIndexes(ctx context.Context) error {
	if m.State() != StateConnected {
		return ErrNotConnected
	}

	m.mu.RLock()
	indexers := append([]IndexInitializer(nil), m.indexers...)
	m.mu.RUnlock()

	for i, fn := range indexers {
		if err := fn(ctx); err != nil {
			m.entry().WithError(err).WithField("initializer", i).Error("Index setup failed")
			return fmt.Errorf("setup indexes: %w", err)
		}
	}

	m.mu.Lock()
	m.indexesReady = true
	m.mu.Unlock()
	m.entry().WithField("initializers", len(indexers)).Info("Database indexes ready")
	return nil
}

// Attempts returns the number of consecutive failed attempts so far.
func (m *Manager) Attempts() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.attempt
}

// Policy returns the effective retry policy.
func (m *Manager) Policy() RetryPolicy {
	return m.policy
}

// handleEvent applies an ambient driver notification. Events are ignored
// while a connect or disconnect is in flight and after an explicit close.
func (m *Manager) handleEvent(ev Event) {
	m.mu.Lock()
	if !m.session {
		m.mu.Unlock()
		return
	}
	from := m.state
	to := from
	switch {
	case from == StateConnected && (ev.Kind == EventDisconnected || ev.Kind == EventError):
		to = StateDisconnected
	case from == StateDisconnected && ev.Kind == EventConnected:
		to = StateConnected
	}
	m.state = to
	m.mu.Unlock()

	if to == from {
		return
	}

	entry := m.entry().WithFields(logrus.Fields{
		"from":  from.String(),
		"to":    to.String(),
		"event": ev.Kind.String(),
	})
	if ev.Err != nil {
		entry = entry.WithError(ev.Err)
	}
	if to == StateDisconnected {
		entry.Warn("Database connection lost")
	} else {
		entry.Info("Database connection restored")
	}
	metrics.SetConnectionState(to.String(), StateNames())
}

func (m *Manager) setState(to State) {
	m.mu.Lock()
	from := m.state
	m.state = to
	m.mu.Unlock()

	if from == to {
		return
	}
	m.entry().WithFields(logrus.Fields{
		"from": from.String(),
		"to":   to.String(),
	}).Info("Database connection state changed")
	metrics.SetConnectionState(to.String(), StateNames())
}

// abandon clears the retry counter and forgets any open session after a
// connect loop gave up.
func (m *Manager) abandon() {
	m.mu.Lock()
	m.attempt = 0
	m.session = false
	m.mu.Unlock()
}

func (m *Manager) fail(err error) error {
	if m.failure == FailureTerminate && m.onFatal != nil {
		m.onFatal(err)
	}
	return err
}

func (m *Manager) entry() *logrus.Entry {
	return m.log.WithContext(context.Background()).WithField("target", m.maskedURI)
}
