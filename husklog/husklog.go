// Package husklog centralizes structured logging for the stack.
//
// The teacher (husk) pulled a single *logging.Logger out of a tiny service
// locator (husk/services) so that deeply nested CAN/UDS code could log
// without threading a logger through every call. We keep that shape —
// components fetch the active logger from Registry rather than taking a
// constructor argument — but back it with logrus instead of fmt.Println so
// every line carries structured fields (component, tx_id, req_id, service, ...).
package husklog

import (
	"sync"

	"github.com/sirupsen/logrus"
)

// Name identifies a singleton registered in the Registry.
type Name string

const (
	// Logger is the *logrus.Entry shared across the stack.
	Logger Name = "logger"
)

var (
	registryMu sync.RWMutex
	registry   = make(map[Name]any)
)

// Register installs a singleton under name, replacing any prior value.
func Register(name Name, value any) {
	registryMu.Lock()
	defer registryMu.Unlock()
	registry[name] = value
}

// Deregister removes a singleton.
func Deregister(name Name) {
	registryMu.Lock()
	defer registryMu.Unlock()
	delete(registry, name)
}

// Get retrieves a singleton, or nil if it hasn't been registered.
func Get(name Name) any {
	registryMu.RLock()
	defer registryMu.RUnlock()
	return registry[name]
}

// New builds a logrus-backed entry with the given base fields and registers
// it as the active Logger.
func New(component string) *logrus.Entry {
	base := logrus.New()
	base.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})
	entry := base.WithField("component", component)
	Register(Logger, entry)
	return entry
}

// Active returns the registered logger, falling back to a default one if
// none has been installed yet (e.g. in tests that don't call New).
func Active() *logrus.Entry {
	if l, ok := Get(Logger).(*logrus.Entry); ok && l != nil {
		return l
	}
	return New("unregistered")
}
