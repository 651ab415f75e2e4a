// Package config loads and validates chat-server settings.
//
// Values are layered: DefaultServerConfig, then an optional YAML file, then
// the LOG_LEVEL environment variable, then command-line flags applied by the
// caller. Validate runs once every layer has been applied.
package config

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"net"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/dd0wney/cluso-chat/pkg/chat"
	"github.com/dd0wney/cluso-chat/pkg/cluster"
	"github.com/dd0wney/cluso-chat/pkg/logging"
	"github.com/dd0wney/cluso-chat/pkg/pubsub"
	"github.com/dd0wney/cluso-chat/pkg/rpc"
	"github.com/dd0wney/cluso-chat/pkg/store"
	"github.com/dd0wney/cluso-chat/pkg/validation"
	"github.com/dd0wney/cluso-chat/pkg/wire"
)

var ErrReadConfig = errors.New("failed to read config file")

// ServerConfig holds every chat-server setting
type ServerConfig struct {
	// ID identifies the server in the cluster. Empty means generate one.
	ID     string `yaml:"id"`
	Listen string `yaml:"listen"`
	// Advertise is the address peers dial. Empty uses Listen, with an
	// unspecified host replaced by 127.0.0.1.
	Advertise string `yaml:"advertise"`
	// Join is a seed server. Empty bootstraps a new cluster.
	Join     string `yaml:"join"`
	Format   string `yaml:"format"`
	Admin    string `yaml:"admin"`
	LogLevel string `yaml:"log_level"`

	Store       StoreConfig       `yaml:"store"`
	Cluster     ClusterConfig     `yaml:"cluster"`
	RPC         RPCConfig         `yaml:"rpc"`
	Replication ReplicationConfig `yaml:"replication"`

	// SubscriberBacklog is the queue length at which a MonitorMessages
	// subscriber is evicted
	SubscriberBacklog int `yaml:"subscriber_backlog"`
}

// StoreConfig selects the Service Actions backend
type StoreConfig struct {
	Kind       string `yaml:"kind"`
	DSN        string `yaml:"dsn"`
	BcryptCost int    `yaml:"bcrypt_cost"`
}

// ClusterConfig mirrors the membership settings of cluster.Config
type ClusterConfig struct {
	HeartbeatInterval time.Duration `yaml:"heartbeat_interval"`
	ProbeTimeout      time.Duration `yaml:"probe_timeout"`
	MissThreshold     int           `yaml:"miss_threshold"`
	MaxJoinRedirects  int           `yaml:"max_join_redirects"`
	JoinTimeout       time.Duration `yaml:"join_timeout"`
	PurgeAfter        time.Duration `yaml:"purge_after"`
}

// RPCConfig holds transport limits
type RPCConfig struct {
	MaxFrameBytes int           `yaml:"max_frame_bytes"`
	WriteTimeout  time.Duration `yaml:"write_timeout"`
	DialTimeout   time.Duration `yaml:"dial_timeout"`
	CallTimeout   time.Duration `yaml:"call_timeout"`
}

// ReplicationConfig tunes leader to follower write fan-out
type ReplicationConfig struct {
	Timeout time.Duration `yaml:"timeout"`
	Backlog int           `yaml:"backlog"`
}

// DefaultServerConfig returns a single-node server on 127.0.0.1:5000
func DefaultServerConfig() ServerConfig {
	cl := cluster.DefaultConfig()
	srv := rpc.DefaultServerConfig()
	cli := rpc.DefaultClientConfig()
	rep := chat.DefaultReplicatorConfig()

	return ServerConfig{
		Listen:   "127.0.0.1:5000",
		Format:   wire.Delimited.String(),
		LogLevel: logging.InfoLevel.String(),
		Store: StoreConfig{
			Kind:       store.KindMemory,
			BcryptCost: store.BcryptCost,
		},
		Cluster: ClusterConfig{
			HeartbeatInterval: cl.HeartbeatInterval,
			ProbeTimeout:      cl.ProbeTimeout,
			MissThreshold:     cl.MissThreshold,
			MaxJoinRedirects:  cl.MaxJoinRedirects,
			JoinTimeout:       cl.JoinTimeout,
		},
		RPC: RPCConfig{
			MaxFrameBytes: srv.MaxFrameBytes,
			WriteTimeout:  srv.WriteTimeout,
			DialTimeout:   cli.DialTimeout,
			CallTimeout:   cli.CallTimeout,
		},
		Replication: ReplicationConfig{
			Timeout: rep.Timeout,
			Backlog: rep.Backlog,
		},
		SubscriberBacklog: pubsub.DefaultBacklog,
	}
}

// Load reads a YAML file over the defaults. Keys absent from the file keep
// their default value.
func Load(path string) (ServerConfig, error) {
	cfg := DefaultServerConfig()
	data, err := os.ReadFile(path)
	if err != nil {
		return cfg, fmt.Errorf("%w: %v", ErrReadConfig, err)
	}
	if err := Parse(data, &cfg); err != nil {
		return cfg, fmt.Errorf("%s: %w", path, err)
	}
	return cfg, nil
}

// Parse decodes YAML into cfg. Unknown keys are rejected.
func Parse(data []byte, cfg *ServerConfig) error {
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	// An empty document decodes to io.EOF
	if err := dec.Decode(cfg); err != nil && !errors.Is(err, io.EOF) {
		return fmt.Errorf("invalid config: %w", err)
	}
	cfg.ApplyDefaults()
	return nil
}

// ApplyEnv applies environment overrides
func (c *ServerConfig) ApplyEnv() {
	if s := os.Getenv(logging.EnvLevel); s != "" {
		c.LogLevel = s
	}
}

// ApplyDefaults fills zero fields from DefaultServerConfig
func (c *ServerConfig) ApplyDefaults() {
	def := DefaultServerConfig()

	c.Listen = validation.DefaultOr(c.Listen, def.Listen)
	c.Format = validation.DefaultOr(c.Format, def.Format)
	c.LogLevel = validation.DefaultOr(c.LogLevel, def.LogLevel)
	c.Store.Kind = validation.DefaultOr(c.Store.Kind, def.Store.Kind)
	c.Store.BcryptCost = validation.DefaultOr(c.Store.BcryptCost, def.Store.BcryptCost)

	c.Cluster.HeartbeatInterval = validation.DefaultOr(c.Cluster.HeartbeatInterval, def.Cluster.HeartbeatInterval)
	c.Cluster.ProbeTimeout = validation.DefaultOr(c.Cluster.ProbeTimeout, def.Cluster.ProbeTimeout)
	c.Cluster.MissThreshold = validation.DefaultOr(c.Cluster.MissThreshold, def.Cluster.MissThreshold)
	c.Cluster.MaxJoinRedirects = validation.DefaultOr(c.Cluster.MaxJoinRedirects, def.Cluster.MaxJoinRedirects)
	c.Cluster.JoinTimeout = validation.DefaultOr(c.Cluster.JoinTimeout, def.Cluster.JoinTimeout)

	c.RPC.MaxFrameBytes = validation.DefaultOr(c.RPC.MaxFrameBytes, def.RPC.MaxFrameBytes)
	c.RPC.WriteTimeout = validation.DefaultOr(c.RPC.WriteTimeout, def.RPC.WriteTimeout)
	c.RPC.DialTimeout = validation.DefaultOr(c.RPC.DialTimeout, def.RPC.DialTimeout)
	c.RPC.CallTimeout = validation.DefaultOr(c.RPC.CallTimeout, def.RPC.CallTimeout)

	c.Replication.Timeout = validation.DefaultOr(c.Replication.Timeout, def.Replication.Timeout)
	c.Replication.Backlog = validation.DefaultOr(c.Replication.Backlog, def.Replication.Backlog)
	c.SubscriberBacklog = validation.DefaultOr(c.SubscriberBacklog, def.SubscriberBacklog)
}

// Validate checks every field and reports all failures together
func (c *ServerConfig) Validate() error {
	formats := []string{wire.Delimited.String(), wire.Structured.String()}
	stores := []string{store.KindMemory, store.KindPostgres}
	levels := []string{"DEBUG", "INFO", "WARN", "WARNING", "ERROR"}

	return validation.NewConfigValidator("ServerConfig").
		ListenAddr("Listen", c.Listen).
		When(c.Advertise != "", func(cv *validation.ConfigValidator) {
			cv.HostPort("Advertise", c.Advertise)
		}).
		When(c.Join != "", func(cv *validation.ConfigValidator) {
			cv.HostPort("Join", c.Join)
		}).
		When(c.Admin != "", func(cv *validation.ConfigValidator) {
			cv.ListenAddr("Admin", c.Admin)
		}).
		OneOf("Format", c.Format, formats).
		OneOf("LogLevel", strings.ToUpper(strings.TrimSpace(c.LogLevel)), levels).
		OneOf("Store.Kind", c.Store.Kind, stores).
		When(c.Store.Kind == store.KindPostgres, func(cv *validation.ConfigValidator) {
			cv.Required("Store.DSN", c.Store.DSN)
		}).
		RangeInt("Store.BcryptCost", c.Store.BcryptCost, 4, 31).
		MinDuration("Cluster.HeartbeatInterval", c.Cluster.HeartbeatInterval, 10*time.Millisecond).
		Less("Cluster.ProbeTimeout", c.Cluster.ProbeTimeout, "Cluster.HeartbeatInterval", c.Cluster.HeartbeatInterval).
		Positive("Cluster.MissThreshold", c.Cluster.MissThreshold).
		RangeInt("Cluster.MaxJoinRedirects", c.Cluster.MaxJoinRedirects, 0, 16).
		NonNegativeDuration("Cluster.PurgeAfter", c.Cluster.PurgeAfter).
		RangeInt("RPC.MaxFrameBytes", c.RPC.MaxFrameBytes, 64, 64<<20).
		Positive("Replication.Backlog", c.Replication.Backlog).
		Positive("SubscriberBacklog", c.SubscriberBacklog).
		Validate()
}

// WireFormat returns the outgoing wire format
func (c *ServerConfig) WireFormat() (wire.Format, error) {
	return wire.ParseFormat(c.Format)
}

// Level returns the configured log level
func (c *ServerConfig) Level() logging.Level {
	return logging.ParseLevel(c.LogLevel)
}

// AdvertiseAddr resolves the address peers and clients dial
func (c *ServerConfig) AdvertiseAddr() (cluster.Address, error) {
	addr := validation.DefaultOr(c.Advertise, c.Listen)
	host, port, err := net.SplitHostPort(addr)
	if err != nil {
		return cluster.Address{}, fmt.Errorf("advertise address %q: %w", addr, err)
	}
	if ip := net.ParseIP(host); host == "" || (ip != nil && ip.IsUnspecified()) {
		host = "127.0.0.1"
	}
	return cluster.NewAddress(host, port)
}

// ClusterSettings converts to cluster.Config for server id
func (c *ServerConfig) ClusterSettings(id string) (cluster.Config, error) {
	addr, err := c.AdvertiseAddr()
	if err != nil {
		return cluster.Config{}, err
	}
	cfg := cluster.Config{
		ServerID:          id,
		AdvertiseAddr:     addr,
		JoinAddr:          c.Join,
		HeartbeatInterval: c.Cluster.HeartbeatInterval,
		ProbeTimeout:      c.Cluster.ProbeTimeout,
		MissThreshold:     c.Cluster.MissThreshold,
		MaxJoinRedirects:  c.Cluster.MaxJoinRedirects,
		JoinTimeout:       c.Cluster.JoinTimeout,
		PurgeAfter:        c.Cluster.PurgeAfter,
	}
	cfg.ApplyDefaults()
	return cfg, cfg.Validate()
}

// ServerTransport converts to rpc.ServerConfig. Watch, Logger and Metrics are
// left for the caller.
func (c *ServerConfig) ServerTransport() rpc.ServerConfig {
	return rpc.ServerConfig{
		MaxFrameBytes: c.RPC.MaxFrameBytes,
		WriteTimeout:  c.RPC.WriteTimeout,
	}
}

// ClientTransport converts to rpc.ClientConfig
func (c *ServerConfig) ClientTransport() (rpc.ClientConfig, error) {
	format, err := c.WireFormat()
	if err != nil {
		return rpc.ClientConfig{}, err
	}
	return rpc.ClientConfig{
		Format:        format,
		DialTimeout:   c.RPC.DialTimeout,
		CallTimeout:   c.RPC.CallTimeout,
		MaxFrameBytes: c.RPC.MaxFrameBytes,
	}, nil
}
