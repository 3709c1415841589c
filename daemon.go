package main

import (
	"context"
	"errors"
	"io"
	"log"
	"net"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"sync/atomic"
	"syscall"
	"time"

	"multicompletion/buffer"
	"multicompletion/commands"
	"multicompletion/config"
	"multicompletion/engine"
	"multicompletion/metrics"
	"multicompletion/provider"

	"github.com/neovim/go-client/nvim"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"golang.org/x/sync/errgroup"
)

type Daemon struct {
	store       *config.Store
	registry    *prometheus.Registry
	provider    *provider.Provider
	buffer      *buffer.NvimBuffer
	engine      *engine.Engine
	commands    *commands.Handler
	listener    net.Listener
	socketPath  string
	pidPath     string
	clientCount int64
	ctx         context.Context
	cancel      context.CancelFunc
}

func NewDaemon(store *config.Store) *Daemon {
	registry := prometheus.NewRegistry()
	registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	tracker := metrics.NewTracker(registry)

	prov := provider.New(store, tracker)
	buf := buffer.New(buffer.Config{NsName: store.Snapshot().NsName})
	eng := engine.NewEngine(buf, prov, engine.EngineConfig{Tracker: tracker})

	ctx, cancel := context.WithCancel(context.Background())

	return &Daemon{
		store:      store,
		registry:   registry,
		provider:   prov,
		buffer:     buf,
		engine:     eng,
		commands:   commands.New(store, buf, eng),
		socketPath: getSocketPath(),
		pidPath:    getPidPath(),
		ctx:        ctx,
		cancel:     cancel,
	}
}

func (d *Daemon) Start() error {
	d.writePidFile()
	defer d.removePidFile()

	if err := d.setupSocket(); err != nil {
		return err
	}
	defer d.cleanup()

	log.Printf("daemon listening on socket: %s", d.socketPath)

	d.engine.Start(d.ctx)
	d.setupShutdownHandling()

	g, ctx := errgroup.WithContext(d.ctx)
	g.Go(func() error {
		d.acceptConnections()
		return nil
	})
	g.Go(func() error {
		d.monitorIdleShutdown()
		return nil
	})
	g.Go(func() error {
		// A broken watch leaves the last good settings in place
		if err := d.store.Watch(ctx); err != nil {
			log.Printf("config watch stopped: %v", err)
		}
		return nil
	})
	if addr := d.store.Snapshot().MetricsAddr; addr != "" {
		g.Go(func() error {
			return d.serveMetrics(ctx, addr)
		})
	}

	err := g.Wait()
	log.Printf("daemon shutting down...")
	return err
}

func (d *Daemon) setupSocket() error {
	os.Remove(d.socketPath)

	listener, err := net.Listen("unix", d.socketPath)
	if err != nil {
		return err
	}
	d.listener = listener
	return nil
}

func (d *Daemon) setupShutdownHandling() {
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
	go func() {
		select {
		case <-sigChan:
			log.Printf("received shutdown signal")
			d.Stop()
		case <-d.ctx.Done():
		}
	}()
}

// serveMetrics exposes the Prometheus registry until ctx is done
func (d *Daemon) serveMetrics(ctx context.Context, addr string) error {
	mux := http.NewServeMux()
	mux.Handle("/metrics", metrics.Handler(d.registry))
	server := &http.Server{Addr: addr, Handler: mux, ReadHeaderTimeout: 5 * time.Second}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		server.Shutdown(shutdownCtx)
	}()

	log.Printf("metrics listening on %s", addr)
	if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		log.Printf("metrics server failed: %v", err)
	}
	return nil
}

func (d *Daemon) acceptConnections() {
	for {
		conn, err := d.listener.Accept()
		if err != nil {
			select {
			case <-d.ctx.Done():
				return // Server is shutting down
			default:
				log.Printf("error accepting connection: %v", err)
				continue
			}
		}

		atomic.AddInt64(&d.clientCount, 1)
		log.Printf("new client connected, total clients: %d", atomic.LoadInt64(&d.clientCount))
		go d.handleConnection(conn)
	}
}

func (d *Daemon) handleConnection(conn net.Conn) {
	defer conn.Close()
	defer func() {
		atomic.AddInt64(&d.clientCount, -1)
		log.Printf("client disconnected, remaining clients: %d", atomic.LoadInt64(&d.clientCount))
	}()

	n, err := nvim.New(conn, conn, conn, log.Printf)
	if err != nil {
		log.Printf("error creating nvim client: %v", err)
		return
	}

	// Serve first: setting up the buffer makes RPC calls that need responses
	served := make(chan error, 1)
	go func() {
		served <- n.Serve()
	}()

	if err := d.attach(n); err != nil {
		log.Printf("error attaching nvim client: %v", err)
		n.Close()
	}

	select {
	case <-d.ctx.Done():
		n.Close()
	case err := <-served:
		if err != nil && err != io.EOF {
			log.Printf("error serving connection: %v", err)
		}
	}
}

// attach points the shared buffer at n and routes its notifications
func (d *Daemon) attach(n *nvim.Nvim) error {
	d.engine.Dismiss()
	if err := d.buffer.SetClient(n); err != nil {
		return err
	}
	if err := d.buffer.RegisterEventHandler(d.engine.HandleEvent); err != nil {
		return err
	}
	return d.buffer.RegisterCommandHandler(func(args []string) {
		if err := d.commands.Handle(args); err != nil {
			log.Printf("command %q: %v", args, err)
		}
	})
}

func (d *Daemon) monitorIdleShutdown() {
	// In debug mode, shut down immediately when no clients are connected
	if d.store.Snapshot().DebugImmediateShutdown {
		ticker := time.NewTicker(1 * time.Second)
		defer ticker.Stop()

		for {
			select {
			case <-d.ctx.Done():
				return
			case <-ticker.C:
				if atomic.LoadInt64(&d.clientCount) == 0 {
					log.Printf("debug mode: no clients connected, shutting down daemon immediately")
					d.Stop()
					return
				}
			}
		}
	}

	idleTimer := time.NewTimer(30 * time.Second)
	defer idleTimer.Stop()

	for {
		select {
		case <-d.ctx.Done():
			return
		case <-idleTimer.C:
			if atomic.LoadInt64(&d.clientCount) == 0 {
				log.Printf("no clients connected for timeout period, shutting down daemon")
				d.Stop()
				return
			}
		}

		if atomic.LoadInt64(&d.clientCount) == 0 {
			idleTimer.Reset(5 * time.Second)
		} else {
			idleTimer.Reset(30 * time.Second)
		}
	}
}

// Stop cancels the daemon context before closing the listener so the accept
// loop sees shutdown instead of an accept error
func (d *Daemon) Stop() {
	d.engine.Stop()
	d.provider.Cancel()
	d.cancel()
	if d.listener != nil {
		d.listener.Close()
	}
}

func (d *Daemon) cleanup() {
	os.Remove(d.socketPath)
}

func (d *Daemon) writePidFile() {
	pid := os.Getpid()
	err := os.WriteFile(d.pidPath, []byte(strconv.Itoa(pid)), 0644)
	if err != nil {
		log.Printf("warning: could not write PID file: %v", err)
	}
	log.Printf("server started with PID %d", pid)
}

func (d *Daemon) removePidFile() {
	if err := os.Remove(d.pidPath); err != nil && !os.IsNotExist(err) {
		log.Printf("warning: could not remove PID file: %v", err)
	}
}
