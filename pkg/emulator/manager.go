package emulator

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/devicelab-dev/agentenv/pkg/core"
	"github.com/devicelab-dev/agentenv/pkg/logger"
)

const startingPort = 5554 // First emulator console port

// Manager owns one Controller per device identity and tears down the
// emulators it spawned.
type Manager struct {
	controllers sync.Map       // serial -> *Controller (thread-safe)
	portMap     map[string]int // AVD name -> console port (session-only)
	mu          sync.Mutex     // Protects portMap and controller registration
}

// NewManager creates a new emulator manager
func NewManager() *Manager {
	return &Manager{
		portMap: make(map[string]int),
	}
}

// Controller returns the controller for cfg's identity, creating it on
// first use. Without a serial or port, a console port is allocated per AVD.
// An identity already supervising a different AVD is an error.
func (m *Manager) Controller(cfg ControllerConfig) (*Controller, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if cfg.Serial == "" && cfg.Options.Port == 0 {
		cfg.Options.Port = m.allocatePort(cfg.AVD)
	}
	serial := cfg.Serial
	if serial == "" {
		serial = fmt.Sprintf("emulator-%d", cfg.Options.Port)
	}

	if existing, ok := m.Get(serial); ok {
		if existing.cfg.AVD != cfg.AVD {
			return nil, core.ErrInvalidConfig.
				WithMessage(fmt.Sprintf("%s already runs AVD %s, cannot also run %s", serial, existing.cfg.AVD, cfg.AVD)).
				WithDetails(map[string]interface{}{"serial": serial})
		}
		return existing, nil
	}

	c := NewController(cfg)
	m.controllers.Store(serial, c)
	return c, nil
}

// Get returns the controller registered for serial.
func (m *Manager) Get(serial string) (*Controller, bool) {
	c, ok := m.controllers.Load(serial)
	if !ok {
		return nil, false
	}
	return c.(*Controller), true
}

// AllocatePort returns the port for an AVD (from mapping or next available)
func (m *Manager) AllocatePort(avdName string) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.allocatePort(avdName)
}

// allocatePort skips ports held by any registered controller, including
// ones configured with an explicit serial or port. Caller holds m.mu.
func (m *Manager) allocatePort(avdName string) int {
	if port, exists := m.portMap[avdName]; exists {
		logger.Debug("Reusing port %d for AVD %s", port, avdName)
		return port
	}

	used := make(map[int]bool)
	for _, port := range m.portMap {
		used[port] = true
	}
	m.controllers.Range(func(key, value interface{}) bool {
		if port, ok := PortFromSerial(key.(string)); ok {
			used[port] = true
		}
		if port := value.(*Controller).cfg.Options.Port; port != 0 {
			used[port] = true
		}
		return true
	})

	nextPort := startingPort
	for used[nextPort] {
		nextPort += 2 // Console ports are even
	}

	m.portMap[avdName] = nextPort
	logger.Debug("Allocated new port %d for AVD %s", nextPort, avdName)
	return nextPort
}

// Shutdown terminates the emulator behind serial if this process spawned it.
func (m *Manager) Shutdown(ctx context.Context, serial string) error {
	c, ok := m.Get(serial)
	if !ok {
		return fmt.Errorf("no controller for %s", serial)
	}

	h := c.Handle()
	if h == nil || h.Attached {
		logger.Debug("Emulator %s not started by us, skipping shutdown", serial)
		return nil
	}

	logger.Info("Shutting down emulator: %s", serial)
	c.Terminate(ctx)
	return nil
}

// ShutdownAll shuts down all emulators started by us, in parallel.
func (m *Manager) ShutdownAll(ctx context.Context) error {
	serials := m.Serials()
	if len(serials) == 0 {
		return nil
	}
	logger.Info("Shutting down all tracked emulators")

	errCh := make(chan error, len(serials))
	for _, serial := range serials {
		go func(s string) {
			errCh <- m.Shutdown(ctx, s)
		}(serial)
	}

	var errs []error
	for range serials {
		if err := <-errCh; err != nil {
			errs = append(errs, err)
		}
	}

	if len(errs) > 0 {
		return fmt.Errorf("errors during shutdown: %v", errs)
	}
	return nil
}

// Serials returns the identities with a registered controller, sorted.
func (m *Manager) Serials() []string {
	var serials []string
	m.controllers.Range(func(key, _ interface{}) bool {
		serials = append(serials, key.(string))
		return true
	})
	sort.Strings(serials)
	return serials
}
