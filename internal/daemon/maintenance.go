package daemon

import (
	"log/slog"
	"sync"
	"time"

	"github.com/DocQA-Labs/docrag/internal/namespace"
	"github.com/DocQA-Labs/docrag/internal/rag"
)

// Maintainer persists warm answer caches in the background. A namespace
// that has gone quiet for the idle window gets its cache snapshotted to
// disk, with a per-namespace cooldown so busy namespaces do not thrash
// the disk. When cache persistence is disabled the snapshots are no-ops.
type Maintainer struct {
	idle     time.Duration
	cooldown time.Duration
	orch     *rag.Orchestrator

	mu         sync.Mutex
	stopped    bool
	namespaces map[namespace.ID]*maintState

	wg       sync.WaitGroup
	stopOnce sync.Once
}

// maintState tracks snapshot eligibility per namespace.
type maintState struct {
	lastAsk      time.Time
	lastSnapshot time.Time
	idleTimer    *time.Timer
}

// NewMaintainer creates a maintainer around the orchestrator.
func NewMaintainer(orch *rag.Orchestrator, idle, cooldown time.Duration) *Maintainer {
	return &Maintainer{
		idle:       idle,
		cooldown:   cooldown,
		orch:       orch,
		namespaces: make(map[namespace.ID]*maintState),
	}
}

// OnQuestionComplete is called after each answered question to reset
// the namespace's idle timer.
func (m *Maintainer) OnQuestionComplete(id namespace.ID) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.stopped {
		return
	}

	state, ok := m.namespaces[id]
	if !ok {
		state = &maintState{}
		m.namespaces[id] = state
	}

	state.lastAsk = time.Now()

	if state.idleTimer != nil {
		state.idleTimer.Stop()
	}
	state.idleTimer = time.AfterFunc(m.idle, func() {
		m.onIdle(id)
	})
}

// onIdle fires when a namespace has seen no questions for the idle
// window.
func (m *Maintainer) onIdle(id namespace.ID) {
	m.mu.Lock()
	if m.stopped {
		m.mu.Unlock()
		return
	}
	state, ok := m.namespaces[id]
	if !ok {
		m.mu.Unlock()
		return
	}
	if m.cooldown > 0 && time.Since(state.lastSnapshot) < m.cooldown {
		m.mu.Unlock()
		slog.Debug("cache snapshot skipped: cooldown active",
			"namespace", id.String())
		return
	}
	m.wg.Add(1)
	m.mu.Unlock()

	defer m.wg.Done()

	if !m.orch.PersistNamespace(id) {
		return
	}

	m.mu.Lock()
	if state, ok := m.namespaces[id]; ok {
		state.lastSnapshot = time.Now()
	}
	m.mu.Unlock()

	slog.Debug("answer cache snapshotted", "namespace", id.String())
}

// Stop halts the idle timers and waits for in-flight snapshots.
func (m *Maintainer) Stop() {
	m.stopOnce.Do(func() {
		m.mu.Lock()
		m.stopped = true
		for _, state := range m.namespaces {
			if state.idleTimer != nil {
				state.idleTimer.Stop()
			}
		}
		m.mu.Unlock()

		m.wg.Wait()
	})
}
