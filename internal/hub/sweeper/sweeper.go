// Package sweeper runs the periodic background tasks: idle-session
// cleanup, lock expiry, and the diversity metrics tick. The sweeper
// owns its timers so component teardown stays deterministic.
package sweeper

import (
	"log/slog"
	"sync"
	"time"

	"github.com/collabhub/collabhub/internal/hub/hub"
	"github.com/collabhub/collabhub/internal/hub/tasklock"
	"github.com/collabhub/collabhub/internal/hub/wire"
	"github.com/collabhub/collabhub/internal/util/timefmt"
)

// Defaults per task.
const (
	idleInterval    = 60 * time.Second
	idleTimeout     = 5 * time.Minute
	lockInterval    = time.Second
	metricsInterval = 30 * time.Second
	summaryInterval = time.Hour
)

// Thresholds that trigger warning logs on the metrics tick.
const (
	agreementWarnThreshold = 0.8
	diversityWarnThreshold = 0.5
)

// idleCloser is implemented by connection senders that can be closed
// when their session is swept.
type idleCloser interface {
	CloseIdle()
}

// Sweeper drives the three periodic tasks.
type Sweeper struct {
	hub   *hub.Hub
	locks *tasklock.Manager

	// Intervals are overridable before Start, for tests.
	IdleInterval    time.Duration
	IdleTimeout     time.Duration
	LockInterval    time.Duration
	MetricsInterval time.Duration

	lastSummary time.Time

	done chan struct{}
	wg   sync.WaitGroup
}

// New creates a stopped Sweeper with default intervals.
func New(h *hub.Hub, locks *tasklock.Manager) *Sweeper {
	return &Sweeper{
		hub:             h,
		locks:           locks,
		IdleInterval:    idleInterval,
		IdleTimeout:     idleTimeout,
		LockInterval:    lockInterval,
		MetricsInterval: metricsInterval,
		lastSummary:     time.Now(),
		done:            make(chan struct{}),
	}
}

// Start launches the periodic tasks.
func (s *Sweeper) Start() {
	s.run(s.IdleInterval, s.sweepIdle)
	s.run(s.LockInterval, s.expireLocks)
	s.run(s.MetricsInterval, s.metricsTick)
}

// Stop tears the timers down and waits for in-flight ticks.
func (s *Sweeper) Stop() {
	close(s.done)
	s.wg.Wait()
}

func (s *Sweeper) run(interval time.Duration, tick func()) {
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-s.done:
				return
			case <-ticker.C:
				tick()
			}
		}
	}()
}

// sweepIdle disconnects sessions whose identity has been inactive past
// the timeout and tells the remaining sessions about it.
func (s *Sweeper) sweepIdle() {
	cleaned := s.hub.Identities().CleanupInactive(s.IdleTimeout)
	for _, sessionID := range cleaned {
		sess, ok := s.hub.Sessions().Get(sessionID)
		if !ok {
			continue
		}
		s.hub.Sessions().Remove(sessionID)
		s.hub.Presence().Drop(sess.AgentID)
		if c, ok := sess.Sender.(idleCloser); ok {
			c.CloseIdle()
		}
		slog.Info("swept idle session", "session", sessionID, "agent", sess.DisplayName)
	}

	if len(cleaned) > 0 {
		s.hub.Broadcast(wire.SessionCleanup{
			Type:            "session-cleanup",
			CleanedSessions: len(cleaned),
			Timestamp:       timefmt.Format(time.Now().UTC()),
		}, "")
	}

	if time.Since(s.lastSummary) >= summaryInterval {
		s.lastSummary = time.Now()
		active, inactive := s.hub.Identities().ConnectedCounts()
		slog.Info("identity summary", "active", active, "inactive", inactive, "total", active+inactive)
	}
}

func (s *Sweeper) expireLocks() {
	if n := s.locks.ExpireLocks(); n > 0 {
		slog.Debug("expired task locks", "count", n)
	}
}

// metricsTick broadcasts the diversity snapshot and logs threshold
// warnings while the anti-echo engine is on.
func (s *Sweeper) metricsTick() {
	engine := s.hub.Engine()
	if !engine.Enabled() {
		return
	}

	m := engine.Snapshot(s.hub.Sessions().ActivePerspectives())
	s.hub.Broadcast(wire.DiversityMetrics{
		Type:                    "diversity-metrics",
		OverallDiversity:        m.OverallDiversity,
		AgreementRate:           m.AgreementRate,
		EvidenceRate:            m.EvidenceRate,
		PerspectiveDistribution: m.PerspectiveDistribution,
		RecentInterventions:     m.RecentInterventions,
	}, "")

	if m.AgreementRate > agreementWarnThreshold {
		slog.Warn("agreement rate above threshold", "agreementRate", m.AgreementRate)
	}
	if m.OverallDiversity < diversityWarnThreshold {
		slog.Warn("perspective diversity below threshold", "overallDiversity", m.OverallDiversity)
	}
}
