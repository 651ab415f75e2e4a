package chat_test

import (
	"context"
	"errors"
	"net"
	"sync"
	"testing"
	"time"

	"golang.org/x/crypto/bcrypt"

	"github.com/dd0wney/cluso-chat/pkg/chat"
	"github.com/dd0wney/cluso-chat/pkg/cluster"
	"github.com/dd0wney/cluso-chat/pkg/logging"
	"github.com/dd0wney/cluso-chat/pkg/metrics"
	"github.com/dd0wney/cluso-chat/pkg/pubsub"
	"github.com/dd0wney/cluso-chat/pkg/rpc"
	"github.com/dd0wney/cluso-chat/pkg/store"
	"github.com/dd0wney/cluso-chat/pkg/wire"
)

// peers records calls made to other servers and answers SUCCESS
type peers struct {
	mu    sync.Mutex
	calls []peerCall
	reply wire.Status
}

type peerCall struct {
	addr string
	req  wire.Envelope
}

func (p *peers) Call(ctx context.Context, addr string, req wire.Envelope) (wire.Envelope, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.calls = append(p.calls, peerCall{addr: addr, req: req})
	status := p.reply
	if status == "" {
		status = wire.StatusSuccess
	}
	return wire.Reply(req.Opcode, status), nil
}

func (p *peers) Stream(ctx context.Context, addr string, req wire.Envelope, fn func(wire.Envelope) error) error {
	return errors.New("not supported")
}

func (p *peers) sent(op wire.Opcode) []peerCall {
	p.mu.Lock()
	defer p.mu.Unlock()
	var out []peerCall
	for _, c := range p.calls {
		if c.req.Opcode == op {
			out = append(out, c)
		}
	}
	return out
}

type fixture struct {
	addr    string
	dir     *cluster.Directory
	store   *store.MemoryStore
	subs    *pubsub.PubSub[chat.Message]
	peers   *peers
	router  *chat.Router
	client  *rpc.Client
	metrics *metrics.Registry
}

var (
	leaderAddr   = cluster.Address{IP: "127.0.0.1", Port: 7001}
	followerAddr = cluster.Address{IP: "127.0.0.1", Port: 7002}
)

// newFixture serves a Router for server "a" (leader) or "b" (follower of a).
// Both know each other.
func newFixture(t *testing.T, leader bool) *fixture {
	t.Helper()

	reg := metrics.NewRegistry()
	cfg := cluster.DefaultConfig()

	var dir *cluster.Directory
	if leader {
		cfg.ServerID, cfg.AdvertiseAddr = "a", leaderAddr
		dir = cluster.NewDirectory("a", leaderAddr, reg)
		dir.Bootstrap()
		dir.Upsert(cluster.ServerRecord{ID: "b", Addr: followerAddr})
	} else {
		cfg.ServerID, cfg.AdvertiseAddr = "b", followerAddr
		dir = cluster.NewDirectory("b", followerAddr, reg)
		dir.Upsert(cluster.ServerRecord{ID: "a", Addr: leaderAddr})
		if !dir.TryAdoptLeader("a", 1) {
			t.Fatal("follower could not adopt leader")
		}
	}

	f := &fixture{
		dir:     dir,
		store:   store.NewMemoryStore(bcrypt.MinCost),
		subs:    pubsub.NewPubSub[chat.Message](8, reg),
		peers:   &peers{},
		client:  rpc.NewClient(rpc.ClientConfig{Format: wire.Delimited, CallTimeout: 2 * time.Second}),
		metrics: reg,
	}

	router, err := chat.NewRouter(chat.Config{
		Directory:     dir,
		Registrar:     cluster.NewRegistrar(dir, f.peers, cfg, logging.NewNopLogger(), reg),
		Actions:       f.store,
		Transport:     f.peers,
		Subscriptions: f.subs,
		Logger:        logging.NewNopLogger(),
		Metrics:       reg,
	})
	if err != nil {
		t.Fatalf("NewRouter failed: %v", err)
	}
	f.router = router

	srvCfg := rpc.DefaultServerConfig()
	srvCfg.Watch = router.Watch
	srvCfg.Logger = logging.NewNopLogger()
	srvCfg.Metrics = reg

	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("Listen failed: %v", err)
	}
	srv := rpc.NewServer(router, srvCfg)
	go srv.Serve(ln)
	f.addr = ln.Addr().String()

	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		srv.Shutdown(ctx)
		router.Close()
		f.subs.Shutdown()
	})
	return f
}

func (f *fixture) call(t *testing.T, op wire.Opcode, args ...string) wire.Envelope {
	t.Helper()
	reply, err := f.client.Call(context.Background(), f.addr, wire.NewEnvelope(op, args...))
	if err != nil {
		t.Fatalf("%s call failed: %v", op, err)
	}
	return reply
}

func (f *fixture) stream(t *testing.T, op wire.Opcode, args ...string) []wire.Envelope {
	t.Helper()
	var items []wire.Envelope
	err := f.client.Stream(context.Background(), f.addr, wire.NewEnvelope(op, args...), func(e wire.Envelope) error {
		items = append(items, e)
		return nil
	})
	if err != nil {
		t.Fatalf("%s stream failed: %v", op, err)
	}
	return items
}

func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %s", what)
}
