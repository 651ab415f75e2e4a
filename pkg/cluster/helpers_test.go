package cluster

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/dd0wney/cluso-chat/pkg/logging"
	"github.com/dd0wney/cluso-chat/pkg/metrics"
	"github.com/dd0wney/cluso-chat/pkg/wire"
)

var errUnreachable = errors.New("connection refused")

type testNode struct {
	id      string
	addr    Address
	dir     *Directory
	reg     *Registrar
	mon     *Monitor
	metrics *metrics.Registry
}

// fakeNetwork routes calls straight into each node's Registrar
type fakeNetwork struct {
	mu    sync.Mutex
	nodes map[string]*testNode
	down  map[string]bool
	calls map[wire.Opcode]int
}

func newFakeNetwork() *fakeNetwork {
	return &fakeNetwork{
		nodes: make(map[string]*testNode),
		down:  make(map[string]bool),
		calls: make(map[wire.Opcode]int),
	}
}

func (n *fakeNetwork) lookup(addr string, op wire.Opcode) (*testNode, error) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.calls[op]++

	node, ok := n.nodes[addr]
	if !ok || n.down[addr] {
		return nil, fmt.Errorf("dial %s: %w", addr, errUnreachable)
	}
	return node, nil
}

func (n *fakeNetwork) setDown(node *testNode, down bool) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.down[node.addr.String()] = down
}

func (n *fakeNetwork) callCount(op wire.Opcode) int {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.calls[op]
}

func (n *fakeNetwork) Call(ctx context.Context, addr string, req wire.Envelope) (wire.Envelope, error) {
	node, err := n.lookup(addr, req.Opcode)
	if err != nil {
		return wire.Envelope{}, err
	}
	switch req.Opcode {
	case wire.OpHeartbeat:
		return node.reg.HandleHeartbeat(req.Arguments), nil
	case wire.OpNewReplica:
		return node.reg.HandleNewReplica(req.Arguments), nil
	default:
		return wire.Reply(req.Opcode, wire.StatusFailure, "unsupported"), nil
	}
}

func (n *fakeNetwork) Stream(ctx context.Context, addr string, req wire.Envelope, fn func(wire.Envelope) error) error {
	node, err := n.lookup(addr, req.Opcode)
	if err != nil {
		return err
	}
	if req.Opcode != wire.OpGetServers {
		return fn(wire.Reply(req.Opcode, wire.StatusFailure))
	}
	for _, rec := range node.reg.HandleGetServers(req.Arg(0)) {
		if err := fn(wire.Reply(wire.OpGetServers, wire.StatusSuccess, rec.ID, rec.Addr.IP, rec.Addr.PortString())); err != nil {
			return err
		}
	}
	return nil
}

func (n *fakeNetwork) addNode(t *testing.T, id string, port int) *testNode {
	t.Helper()

	cfg := DefaultConfig()
	cfg.ServerID = id
	cfg.AdvertiseAddr = Address{IP: "127.0.0.1", Port: port}
	cfg.ProbeTimeout = 100 * time.Millisecond

	reg := metrics.NewRegistry()
	dir := NewDirectory(id, cfg.AdvertiseAddr, reg)
	node := &testNode{
		id:      id,
		addr:    cfg.AdvertiseAddr,
		dir:     dir,
		reg:     NewRegistrar(dir, n, cfg, logging.NewNopLogger(), reg),
		mon:     NewMonitor(dir, n, cfg, logging.NewNopLogger(), reg),
		metrics: reg,
	}
	t.Cleanup(func() {
		node.mon.Stop()
		node.reg.Wait()
	})

	n.mu.Lock()
	n.nodes[node.addr.String()] = node
	n.mu.Unlock()
	return node
}

// newCluster bootstraps the first id and joins the rest through it
func newCluster(t *testing.T, ids ...string) (*fakeNetwork, []*testNode) {
	t.Helper()

	fn := newFakeNetwork()
	nodes := make([]*testNode, len(ids))
	for i, id := range ids {
		nodes[i] = fn.addNode(t, id, 5000+i)
	}

	nodes[0].reg.Bootstrap()
	for _, node := range nodes[1:] {
		if err := node.reg.Join(context.Background(), nodes[0].addr.String()); err != nil {
			t.Fatalf("%s: Join failed: %v", node.id, err)
		}
		nodes[0].reg.Wait()
	}
	return fn, nodes
}

// runCycles runs n probe cycles per node, letting any election started by a
// cycle finish before the next one
func runCycles(n int, nodes ...*testNode) {
	for i := 0; i < n; i++ {
		for _, node := range nodes {
			node.mon.RunCycle(context.Background())
			node.mon.wg.Wait()
		}
	}
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

func leaderOf(node *testNode) (string, uint64) {
	leader, epoch, _ := node.dir.Leadership()
	return leader.ID, epoch
}
