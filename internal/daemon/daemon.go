// Package daemon wires the engine together: the event loop, persisted
// state, the message bus server and the platform backend.
package daemon

import (
	"context"
	"errors"
	"net/http"
	"sync"
	"time"

	"github.com/Southclaws/fault"
	"github.com/Southclaws/fault/fctx"
	"github.com/Southclaws/fault/fmsg"
	"github.com/Southclaws/fault/ftag"
	"github.com/bluetuith-org/bluez-lifecycle/api/bluetooth"
	"github.com/bluetuith-org/bluez-lifecycle/api/config"
	"github.com/bluetuith-org/bluez-lifecycle/api/eventbus"
	"github.com/bluetuith-org/bluez-lifecycle/internal/dbusapi"
	"github.com/bluetuith-org/bluez-lifecycle/internal/device"
	"github.com/bluetuith-org/bluez-lifecycle/internal/metrics"
	"github.com/bluetuith-org/bluez-lifecycle/internal/network"
	"github.com/bluetuith-org/bluez-lifecycle/internal/radio"
	"github.com/bluetuith-org/bluez-lifecycle/internal/reactor"
	"github.com/bluetuith-org/bluez-lifecycle/internal/sdp"
	"github.com/bluetuith-org/bluez-lifecycle/internal/storage"
	"github.com/bluetuith-org/bluez-lifecycle/platform"
	"github.com/godbus/dbus/v5"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"
)

const loopDepth = 256

// Daemon is the running engine.
type Daemon struct {
	log *zap.Logger

	cancel context.CancelFunc
	loop   *reactor.Loop

	store   *storage.Store
	conn    *dbus.Conn
	backend *platform.Backend
	agents  *dbusapi.Agents
	server  *dbusapi.Server
	devices *device.Registry
	network *network.Registry
	events  *eventbus.Emitter
	http    *http.Server

	adapters []bluetooth.AdapterData
	info     platform.PlatformInfo

	wg sync.WaitGroup
	mu sync.Mutex
}

var _ bluetooth.Session = (*Daemon)(nil)

// New returns a stopped daemon.
func New(log *zap.Logger) *Daemon {
	if log == nil {
		log = zap.NewNop()
	}

	return &Daemon{log: log}
}

// Events returns the emitter engine events are published on. It is nil
// until Start succeeds.
func (d *Daemon) Events() *eventbus.Emitter {
	d.mu.Lock()
	defer d.mu.Unlock()

	return d.events
}

// Platform returns the platform the daemon runs on.
func (d *Daemon) Platform() platform.PlatformInfo {
	d.mu.Lock()
	defer d.mu.Unlock()

	return d.info
}

// Start brings up the engine and serves the configured adapters.
func (d *Daemon) Start(authHandler bluetooth.ServiceAuthorizer, cfg config.Configuration) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	var initialized bool
	defer func() {
		if !initialized {
			d.stop()
		}
	}()

	adapters, err := parseAdapters(cfg.Adapters)
	if err != nil {
		return failed(err, "parse-adapters", "Invalid adapter configuration")
	}

	ctx, cancel := context.WithCancel(context.Background())
	d.cancel = cancel

	d.loop = reactor.NewLoop(loopDepth, d.log.Named("loop"))
	d.wg.Add(1)
	go func() {
		defer d.wg.Done()
		d.loop.Run(ctx)
	}()

	d.store, err = storage.Open(cfg.Storage, d.log)
	if err != nil {
		return failed(err, "open-storage", "Cannot open storage")
	}

	reg := prometheus.NewRegistry()
	m := metrics.New(reg)
	if cfg.Metrics.Listen != "" {
		d.serveMetrics(cfg.Metrics.Listen, reg)
	}

	d.events = eventbus.New(eventbus.DefaultHandler())

	d.conn, err = dbusapi.Connect(cfg.Bus.System)
	if err != nil {
		return failed(err, "connect-bus", "Cannot connect to the message bus")
	}

	exits := dbusapi.NewExits(d.loop, d.log)
	if err := exits.Start(d.conn); err != nil {
		return failed(err, "watch-bus", "Cannot watch bus clients")
	}

	d.agents = dbusapi.NewAgents(d.conn, d.loop, exits, cfg.AuthTimeout, d.log)

	d.backend, d.info = platform.NewBackend(d.loop, cfg.Network, d.log)

	d.devices = device.NewRegistry(device.Options{
		Scheduler: d.loop,
		Store:     d.store,
		Events:    d.events,
		Agents:    d.agents,
		Exits:     exits,
		Config:    cfg.Device,
		Metrics:   m,
		Logger:    d.log,
	})

	d.network = network.NewRegistry(network.Options{
		Scheduler: d.loop,
		Transport: d.backend.Transport,
		Authorizer: &authorizer{
			sched:    d.loop,
			devices:  d.devices,
			store:    d.store,
			fallback: authHandler,
			timeout:  cfg.AuthTimeout,
			log:      d.log.Named("authorizer"),
		},
		Interfaces: d.backend.Interfaces,
		Records:    sdp.NewDatabase(),
		Exits:      exits,
		Events:     d.events,
		Config:     cfg.Network,
		Metrics:    m,
		Logger:     d.log,
	})

	d.server = dbusapi.NewServer(dbusapi.Options{
		Conn:      d.conn,
		Scheduler: d.loop,
		Devices:   d.devices,
		Network:   d.network,
		Agents:    d.agents,
		Events:    d.events,
		Logger:    d.log,
	})

	d.wg.Add(1)
	go func() {
		defer d.wg.Done()
		d.server.Run(ctx)
	}()

	for _, a := range adapters {
		if err := d.addAdapter(a); err != nil {
			return err
		}
	}

	d.log.Info("Engine started",
		zap.Stringer("stack", d.info.Stack),
		zap.String("os", d.info.OS),
		zap.Int("adapters", len(d.adapters)),
	)

	initialized = true

	return nil
}

func (d *Daemon) addAdapter(a bluetooth.AdapterData) error {
	unsupported := radio.NewUnsupported(d.log)

	var err error
	if ierr := d.loop.Invoke(func() {
		if _, err = d.devices.AddAdapter(device.AdapterOptions{
			Address: a.Address,
			Path:    a.Path,
			Radio:   unsupported,
			SDP:     unsupported,
			GATT:    unsupported,
		}); err != nil {
			return
		}

		if _, err = d.network.AddAdapter(a.Address, a.Path); err != nil {
			d.devices.RemoveAdapter(a.Address)
		}
	}); ierr != nil {
		err = ierr
	}

	if err != nil {
		return failed(err, "add-adapter", "Cannot add adapter "+a.Path)
	}

	d.adapters = append(d.adapters, a)

	return d.server.AddAdapter(a.Address, a.Path)
}

func (d *Daemon) serveMetrics(listen string, reg *prometheus.Registry) {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{}))

	d.http = &http.Server{
		Addr:              listen,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		if err := d.http.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			d.log.Error("Metrics endpoint stopped", zap.Error(err))
		}
	}()
}

// Stop tears down every adapter and releases the engine's resources.
func (d *Daemon) Stop() error {
	d.mu.Lock()
	defer d.mu.Unlock()

	return d.stop()
}

func (d *Daemon) stop() error {
	if d.loop != nil && d.devices != nil && d.network != nil {
		_ = d.loop.Invoke(func() {
			for _, a := range d.adapters {
				d.network.RemoveAdapter(a.Address)
				d.devices.RemoveAdapter(a.Address)
			}
		})
	}

	for _, a := range d.adapters {
		if d.server != nil {
			d.server.RemoveAdapter(a.Path)
		}
	}
	d.adapters = nil

	if d.agents != nil {
		d.agents.Close()
	}

	if d.cancel != nil {
		d.cancel()
	}
	d.wg.Wait()

	var errs []error

	if d.http != nil {
		ctx, cancel := context.WithTimeout(context.Background(), time.Second)
		errs = append(errs, d.http.Shutdown(ctx))
		cancel()
	}

	if d.backend != nil {
		errs = append(errs, d.backend.Close())
	}

	if d.conn != nil {
		errs = append(errs, d.conn.Close())
	}

	if d.store != nil {
		errs = append(errs, d.store.Close())
	}

	d.cancel, d.loop, d.http = nil, nil, nil
	d.store, d.conn, d.backend = nil, nil, nil
	d.agents, d.server, d.events = nil, nil, nil
	d.devices, d.network = nil, nil

	if err := errors.Join(errs...); err != nil {
		return failed(err, "stop", "Engine did not stop cleanly")
	}

	return nil
}

// Adapters returns the adapters being served.
func (d *Daemon) Adapters() []bluetooth.AdapterData {
	d.mu.Lock()
	defer d.mu.Unlock()

	return append([]bluetooth.AdapterData(nil), d.adapters...)
}

func parseAdapters(cfg []config.Adapter) ([]bluetooth.AdapterData, error) {
	adapters := make([]bluetooth.AdapterData, 0, len(cfg))
	seen := make(map[bluetooth.MacAddress]struct{}, len(cfg))

	for _, a := range cfg {
		address, err := bluetooth.ParseMAC(a.Address)
		if err != nil {
			return nil, err
		}

		if _, ok := seen[address]; ok {
			return nil, errors.New("duplicate adapter " + a.Address)
		}
		seen[address] = struct{}{}

		if a.Path == "" || !dbus.ObjectPath(a.Path).IsValid() {
			return nil, errors.New("invalid object path " + a.Path)
		}

		adapters = append(adapters, bluetooth.AdapterData{Address: address, Path: a.Path})
	}

	return adapters, nil
}

func failed(err error, at, msg string) error {
	return fault.Wrap(err,
		fctx.With(context.Background(), "error_at", at),
		ftag.With(ftag.Internal),
		fmsg.With(msg),
	)
}
