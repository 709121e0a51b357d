package bluetooth

import (
	"github.com/bluetuith-org/bluez-lifecycle/api/config"
)

// AdapterData holds the identity of a served local adapter.
type AdapterData struct {
	Address MacAddress `json:"address" codec:"Address"`
	Path    string     `json:"path" codec:"Path"`
}

// Session describes a running connection lifecycle engine.
type Session interface {
	// Start brings up the engine and serves the configured adapters.
	// authHandler authorizes incoming service connections when no agent
	// is registered. It may be nil.
	Start(authHandler ServiceAuthorizer, cfg config.Configuration) error

	// Stop tears down every adapter and releases the engine's resources.
	Stop() error

	// Adapters returns the adapters being served.
	Adapters() []AdapterData
}
