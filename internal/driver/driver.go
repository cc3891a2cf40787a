// Package driver is the registration point for the concrete messaging
// client. The gateway core depends only on the wa.Session interface; a
// build that should actually talk to WhatsApp blank-imports a driver
// package whose init calls Register, the same way database/sql drivers
// bind themselves.
package driver

import (
	"fmt"
	"sync"

	"github.com/medres/whatsapp-gateway/internal/wa"
)

var (
	mu      sync.Mutex
	factory wa.SessionFactory
)

// Register installs the session factory. Last registration wins; calling
// it more than once is almost certainly a wiring mistake and is logged by
// the caller, not here.
func Register(f wa.SessionFactory) {
	mu.Lock()
	defer mu.Unlock()
	factory = f
}

// Factory returns the registered session factory, or a factory that fails
// per-connection when no driver is linked into the binary.
func Factory() wa.SessionFactory {
	mu.Lock()
	defer mu.Unlock()

	if factory != nil {
		return factory
	}
	return func(identity wa.ClientIdentity) (wa.Session, error) {
		return nil, fmt.Errorf("no messaging driver registered (client %s)", identity.ClientID)
	}
}
