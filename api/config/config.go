package config

import (
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

const (
	// The default timeout duration for authentication requests.
	DefaultAuthTimeout = 10 * time.Second

	// The delay between a disconnect request and the actual disconnection.
	DefaultDisconnectDelay = 2 * time.Second

	// The delay before starting a service discovery after a remote-initiated bonding.
	DefaultDiscoveryDelay = 2 * time.Second

	// The maximum duration of a complete service discovery.
	DefaultBrowseTimeout = 30 * time.Second

	// The maximum time an accepted tunneling connection may take to send its setup request.
	DefaultSetupTimeout = 10 * time.Second

	// The lifetime of decoded service records in the storage read cache.
	DefaultRecordCacheLife = 10 * time.Minute
)

// Configuration describes a general configuration.
type Configuration struct {
	// AuthTimeout holds the timeout for authentication requests.
	AuthTimeout time.Duration `yaml:"auth_timeout"`

	// Adapters lists the local adapters served by the daemon.
	Adapters []Adapter `yaml:"adapters"`

	Bus     Bus     `yaml:"bus"`
	Device  Device  `yaml:"device"`
	Network Network `yaml:"network"`
	Storage Storage `yaml:"storage"`
	Log     Log     `yaml:"log"`
	Metrics Metrics `yaml:"metrics"`
}

// Adapter describes one local adapter.
type Adapter struct {
	// Address is the adapter address. The any address binds every radio.
	Address string `yaml:"address"`

	// Path is the object path the adapter is exported at.
	Path string `yaml:"path"`
}

// Bus holds the message bus settings.
type Bus struct {
	// System connects to the system bus instead of the session bus.
	System bool `yaml:"system"`
}

// Device holds the device lifecycle settings.
type Device struct {
	// ReverseDiscovery enables a service discovery after remote-initiated bondings.
	ReverseDiscovery bool `yaml:"reverse_discovery"`

	DisconnectDelay time.Duration `yaml:"disconnect_delay"`
	DiscoveryDelay  time.Duration `yaml:"discovery_delay"`
	BrowseTimeout   time.Duration `yaml:"browse_timeout"`

	// AuxChannelPrefixes lists address prefixes of devices which need an open
	// service discovery channel while a PIN code is requested.
	AuxChannelPrefixes []string `yaml:"aux_channel_prefixes"`
}

// Network holds the tunneling server settings.
type Network struct {
	// Security requires an authenticated link for incoming connections.
	Security bool `yaml:"security"`

	// Master requests the central role on incoming connections.
	Master bool `yaml:"master"`

	// Roles lists the server roles ("nap", "gn", "panu") registered per adapter.
	Roles []string `yaml:"roles"`

	SetupTimeout time.Duration `yaml:"setup_timeout"`

	// InterfaceFormat is the kernel name template of tunnel interfaces.
	InterfaceFormat string `yaml:"interface_format"`

	// UnmanageInterfaces asks NetworkManager to leave tunnel interfaces alone.
	UnmanageInterfaces bool `yaml:"unmanage_interfaces"`
}

// Storage holds the persisted state settings.
type Storage struct {
	Path            string        `yaml:"path"`
	InMemory        bool          `yaml:"in_memory"`
	RecordCacheLife time.Duration `yaml:"record_cache_life"`
}

// Log holds the logger settings.
type Log struct {
	Level      string `yaml:"level"`
	Format     string `yaml:"format"`
	File       string `yaml:"file"`
	MaxSizeMB  int    `yaml:"max_size_mb"`
	MaxBackups int    `yaml:"max_backups"`
}

// Metrics holds the metrics endpoint settings.
type Metrics struct {
	// Listen is the address of the metrics HTTP endpoint. Empty disables it.
	Listen string `yaml:"listen"`
}

// New returns a new configuration with the default settings.
func New() Configuration {
	return Configuration{
		AuthTimeout: DefaultAuthTimeout,
		Adapters: []Adapter{
			{Address: "00:00:00:00:00:00", Path: "/org/bluez/hci0"},
		},
		Bus: Bus{System: true},
		Device: Device{
			ReverseDiscovery:   true,
			DisconnectDelay:    DefaultDisconnectDelay,
			DiscoveryDelay:     DefaultDiscoveryDelay,
			BrowseTimeout:      DefaultBrowseTimeout,
			AuxChannelPrefixes: []string{"00:1A:1B"},
		},
		Network: Network{
			Security:        true,
			Roles:           []string{"nap"},
			SetupTimeout:    DefaultSetupTimeout,
			InterfaceFormat: "bnep%d",
		},
		Storage: Storage{
			Path:            "/var/lib/bluez-lifecycle",
			RecordCacheLife: DefaultRecordCacheLife,
		},
		Log: Log{
			Level:  "info",
			Format: "console",
		},
	}
}

// Load returns the default configuration overlaid with the YAML file at path.
// A missing file is not an error.
func Load(path string) (Configuration, error) {
	cfg := New()
	if path == "" {
		return cfg, nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return cfg, nil
		}

		return cfg, err
	}

	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return cfg, err
	}

	return cfg, nil
}

// Marshal renders the configuration as YAML.
func (c Configuration) Marshal() ([]byte, error) {
	return yaml.Marshal(c)
}
