// Argos - Configuration-Driven Endpoint Monitoring Runtime
// Copyright 2026 Jorge S. (JorgeSuarezV)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/JorgeSuarezV/argos

package monitor

import (
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/thejerf/suture/v4"

	"github.com/JorgeSuarezV/argos/internal/config"
	"github.com/JorgeSuarezV/argos/internal/logging"
	"github.com/JorgeSuarezV/argos/internal/registry"
	"github.com/JorgeSuarezV/argos/internal/supervisor"
	"github.com/JorgeSuarezV/argos/internal/worker"
)

var (
	// ErrMonitorExists is returned when adding a monitor whose name is
	// already managed.
	ErrMonitorExists = errors.New("monitor already exists")

	// ErrMonitorNotFound is returned for operations on unknown monitors.
	ErrMonitorNotFound = errors.New("monitor not found")
)

// managedMonitor pairs a coordinator with its supervision token.
type managedMonitor struct {
	coord *Coordinator
	token suture.ServiceToken
}

// Status is one monitor's row in the runtime snapshot.
type Status struct {
	Name       string    `json:"name"`
	Protocol   string    `json:"protocol"`
	InformTo   []string  `json:"inform_to"`
	Running    bool      `json:"running"`
	RetryCount int       `json:"retry_count"`
	StartedAt  time.Time `json:"started_at,omitzero"`
}

// Manager owns the full monitor set: it validates the monitoring
// document, builds one coordinator per record, and places each under the
// supervisor tree's monitor layer.
//
// Startup is all-or-nothing: a document with any validation reason
// starts zero monitors.
type Manager struct {
	mu         sync.RWMutex
	tree       *supervisor.Tree
	reg        *registry.Registry
	monitors   map[string]*managedMonitor
	workerWait time.Duration
}

// NewManager creates a manager bound to a supervisor tree and the shared
// subscriber registry. workerWait bounds per-monitor worker shutdown;
// zero selects the default.
func NewManager(tree *supervisor.Tree, reg *registry.Registry, workerWait time.Duration) *Manager {
	if workerWait <= 0 {
		workerWait = defaultWorkerWait
	}
	return &Manager{
		tree:       tree,
		reg:        reg,
		monitors:   make(map[string]*managedMonitor),
		workerWait: workerWait,
	}
}

// StartAll validates the monitoring document and starts every declared
// monitor. When validation fails the returned error is a
// *config.ValidationError carrying every accumulated reason, and no
// monitor is started.
func (m *Manager) StartAll(doc map[string]any) error {
	records, reasons := config.Validate(doc, worker.Schemas())
	if len(reasons) > 0 {
		logging.Error().
			Int("reasons", len(reasons)).
			Msg("monitoring document rejected")
		return &config.ValidationError{Reasons: reasons}
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	for _, record := range records {
		if _, ok := m.monitors[record.Name]; ok {
			return fmt.Errorf("%w: %s", ErrMonitorExists, record.Name)
		}
	}

	for _, record := range records {
		coord, err := NewCoordinator(record, m.reg, WithWorkerWait(m.workerWait))
		if err != nil {
			return fmt.Errorf("build coordinator: %w", err)
		}
		token := m.tree.AddMonitorService(coord)
		m.monitors[record.Name] = &managedMonitor{coord: coord, token: token}
	}

	logging.Info().
		Int("monitors", len(records)).
		Msg("monitoring document accepted, monitors supervised")
	return nil
}

// AddMonitor starts one additional validated record under supervision.
func (m *Manager) AddMonitor(record config.Monitor) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.monitors[record.Name]; ok {
		return fmt.Errorf("%w: %s", ErrMonitorExists, record.Name)
	}

	coord, err := NewCoordinator(record, m.reg, WithWorkerWait(m.workerWait))
	if err != nil {
		return fmt.Errorf("build coordinator: %w", err)
	}
	m.monitors[record.Name] = &managedMonitor{
		coord: coord,
		token: m.tree.AddMonitorService(coord),
	}
	return nil
}

// StopMonitor removes one monitor from supervision and waits for it to
// stop, bounded by the manager's worker wait.
func (m *Manager) StopMonitor(name string) error {
	m.mu.Lock()
	managed, ok := m.monitors[name]
	if ok {
		delete(m.monitors, name)
	}
	m.mu.Unlock()

	if !ok {
		return fmt.Errorf("%w: %s", ErrMonitorNotFound, name)
	}
	if err := m.tree.RemoveMonitorServiceAndWait(managed.token, m.workerWait); err != nil {
		return fmt.Errorf("stop monitor %s: %w", name, err)
	}
	return nil
}

// IsRunning reports whether a monitor exists and has not terminally
// stopped.
func (m *Manager) IsRunning(name string) bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	managed, ok := m.monitors[name]
	return ok && !managed.coord.Terminated()
}

// Count returns the number of managed monitors, terminated included.
func (m *Manager) Count() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.monitors)
}

// Statuses returns a stable-ordered snapshot of every managed monitor.
func (m *Manager) Statuses() []Status {
	m.mu.RLock()
	defer m.mu.RUnlock()

	statuses := make([]Status, 0, len(m.monitors))
	for _, managed := range m.monitors {
		record := managed.coord.Record()
		statuses = append(statuses, Status{
			Name:       record.Name,
			Protocol:   record.Type,
			InformTo:   record.InformTo,
			Running:    !managed.coord.Terminated(),
			RetryCount: managed.coord.RetryCount(),
			StartedAt:  managed.coord.StartedAt(),
		})
	}
	sort.Slice(statuses, func(i, j int) bool { return statuses[i].Name < statuses[j].Name })
	return statuses
}
