// Package server assembles one chat server process: the RPC listener, the
// chat router, cluster membership, the store and the admin HTTP endpoints.
package server

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"sync"

	"github.com/google/uuid"

	"github.com/dd0wney/cluso-chat/pkg/chat"
	"github.com/dd0wney/cluso-chat/pkg/cluster"
	"github.com/dd0wney/cluso-chat/pkg/config"
	"github.com/dd0wney/cluso-chat/pkg/health"
	"github.com/dd0wney/cluso-chat/pkg/logging"
	"github.com/dd0wney/cluso-chat/pkg/metrics"
	"github.com/dd0wney/cluso-chat/pkg/pubsub"
	"github.com/dd0wney/cluso-chat/pkg/rpc"
	"github.com/dd0wney/cluso-chat/pkg/store"
)

var (
	ErrBind      = errors.New("failed to bind listen address")
	ErrAdminBind = errors.New("failed to bind admin address")
)

// Options configures a Node
type Options struct {
	Config config.ServerConfig
	// Store overrides the backend named in Config. The caller keeps ownership.
	Store   store.Store
	Logger  logging.Logger
	Metrics *metrics.Registry
}

// Node is one running chat server
type Node struct {
	cfg     config.ServerConfig
	id      string
	logger  logging.Logger
	metrics *metrics.Registry

	store     store.Store
	ownsStore bool

	dir       *cluster.Directory
	registrar *cluster.Registrar
	monitor   *cluster.Monitor
	subs      *pubsub.PubSub[chat.Message]
	router    *chat.Router
	rpc       *rpc.Server
	health    *health.HealthChecker
	admin     *AdminServer

	ln      net.Listener
	adminLn net.Listener
	serveWg sync.WaitGroup

	shutdownOnce sync.Once
	shutdownErr  error
}

// New binds the listen address and wires every component. Nothing is
// served until Start.
func New(ctx context.Context, opts Options) (*Node, error) {
	cfg := opts.Config
	cfg.ApplyDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	n := &Node{
		cfg:     cfg,
		id:      cfg.ID,
		logger:  opts.Logger,
		metrics: opts.Metrics,
		store:   opts.Store,
	}
	if n.id == "" {
		n.id = uuid.NewString()
	}
	if n.logger == nil {
		n.logger = logging.DefaultLogger()
	}
	n.logger = n.logger.With(logging.ServerID(n.id))
	if n.metrics == nil {
		n.metrics = metrics.NewRegistry()
	}

	ln, err := net.Listen("tcp", cfg.Listen)
	if err != nil {
		return nil, fmt.Errorf("%w %s: %v", ErrBind, cfg.Listen, err)
	}
	n.ln = ln
	// An ephemeral port is only known after bind
	n.cfg.Listen = ln.Addr().String()

	if err := n.wire(ctx); err != nil {
		ln.Close()
		if n.ownsStore && n.store != nil {
			n.store.Close()
		}
		return nil, err
	}
	return n, nil
}

func (n *Node) wire(ctx context.Context) error {
	clusterCfg, err := n.cfg.ClusterSettings(n.id)
	if err != nil {
		return err
	}
	clientCfg, err := n.cfg.ClientTransport()
	if err != nil {
		return err
	}
	clientCfg.Metrics = n.metrics
	transport := rpc.NewClient(clientCfg)

	if n.store == nil {
		n.store, err = store.Open(ctx, n.cfg.Store.Kind, n.cfg.Store.DSN, n.cfg.Store.BcryptCost)
		if err != nil {
			return err
		}
		n.ownsStore = true
	}

	n.dir = cluster.NewDirectory(n.id, clusterCfg.AdvertiseAddr, n.metrics)
	n.registrar = cluster.NewRegistrar(n.dir, transport, clusterCfg, n.logger, n.metrics)
	n.monitor = cluster.NewMonitor(n.dir, transport, clusterCfg, n.logger, n.metrics)
	n.subs = pubsub.NewPubSub[chat.Message](n.cfg.SubscriberBacklog, n.metrics)

	n.router, err = chat.NewRouter(chat.Config{
		Directory:          n.dir,
		Registrar:          n.registrar,
		Actions:            n.store,
		Transport:          transport,
		Subscriptions:      n.subs,
		ReplicationTimeout: n.cfg.Replication.Timeout,
		ReplicationBacklog: n.cfg.Replication.Backlog,
		Logger:             n.logger,
		Metrics:            n.metrics,
	})
	if err != nil {
		return err
	}

	srvCfg := n.cfg.ServerTransport()
	srvCfg.Watch = n.router.Watch
	srvCfg.Logger = n.logger.With(logging.Component("rpc-server"))
	srvCfg.Metrics = n.metrics
	n.rpc = rpc.NewServer(n.router, srvCfg)

	n.health = health.NewHealthChecker(n.id)
	n.health.Register("store", health.StoreCheck(n.store.Ping), health.KindOverall, health.KindReadiness)
	n.health.Register("cluster", health.ClusterCheck(n.dir.View), health.KindOverall, health.KindReadiness)
	n.health.Register("alive", health.AliveCheck, health.KindLiveness)

	if n.cfg.Admin != "" {
		n.adminLn, err = net.Listen("tcp", n.cfg.Admin)
		if err != nil {
			return fmt.Errorf("%w %s: %v", ErrAdminBind, n.cfg.Admin, err)
		}
		n.admin = NewAdminServer(n.AdminHandler(), n.logger.With(logging.Component("admin")))
	}
	return nil
}

// Start serves RPC, then bootstraps or joins the cluster and starts failure
// detection. A failed join leaves the node serving as a follower with no
// leader; the caller decides whether that is fatal.
func (n *Node) Start(ctx context.Context) error {
	n.serveWg.Add(1)
	go func() {
		defer n.serveWg.Done()
		if err := n.rpc.Serve(n.ln); err != nil {
			n.logger.Error("rpc server stopped", logging.Error(err))
		}
	}()

	if n.admin != nil {
		n.serveWg.Add(1)
		go func() {
			defer n.serveWg.Done()
			if err := n.admin.Serve(n.adminLn); err != nil {
				n.logger.Error("admin server stopped", logging.Error(err))
			}
		}()
	}

	n.logger.Info("chat server listening",
		logging.Addr(n.Addr()), logging.String("format", n.cfg.Format), logging.String("store", n.cfg.Store.Kind))

	err := n.registrar.Start(ctx)
	n.monitor.Start(context.WithoutCancel(ctx))
	return err
}

// Shutdown stops failure detection, drains connections and closes the store
func (n *Node) Shutdown(ctx context.Context) error {
	n.shutdownOnce.Do(func() {
		var errs []error
		if n.admin != nil {
			errs = append(errs, n.admin.Shutdown(ctx))
		}
		n.monitor.Stop()
		errs = append(errs, n.rpc.Shutdown(ctx))
		n.router.Close()
		n.registrar.Wait()
		n.subs.Shutdown()
		// Listeners that were never served are still open
		n.ln.Close()
		if n.adminLn != nil {
			n.adminLn.Close()
		}
		n.serveWg.Wait()
		if n.ownsStore {
			errs = append(errs, n.store.Close())
		}
		n.shutdownErr = errors.Join(errs...)
		n.logger.Info("chat server stopped")
	})
	return n.shutdownErr
}

// ID returns the server id
func (n *Node) ID() string { return n.id }

// Addr returns the bound RPC address
func (n *Node) Addr() string { return n.ln.Addr().String() }

// AdminAddr returns the bound admin address, empty when disabled
func (n *Node) AdminAddr() string {
	if n.adminLn == nil {
		return ""
	}
	return n.adminLn.Addr().String()
}

// Directory exposes the membership view
func (n *Node) Directory() *cluster.Directory { return n.dir }

// Health exposes the health checker
func (n *Node) Health() *health.HealthChecker { return n.health }

// Logger returns the node logger
func (n *Node) Logger() logging.Logger { return n.logger }

// AdminHandler returns the admin routes of this node
func (n *Node) AdminHandler() http.Handler {
	return AdminHandler(n.health, n.metrics, health.ClusterHandler(n.dir.View))
}
