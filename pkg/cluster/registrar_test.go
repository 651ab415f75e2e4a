package cluster

import (
	"context"
	"errors"
	"testing"

	"github.com/dd0wney/cluso-chat/pkg/wire"
)

func TestJoinThroughLeader(t *testing.T) {
	_, nodes := newCluster(t, "a", "b")
	a, b := nodes[0], nodes[1]

	if id, epoch := leaderOf(b); id != "a" || epoch != 1 {
		t.Errorf("b leadership = %s@%d, want a@1", id, epoch)
	}
	if b.dir.IsLeader() {
		t.Error("joiner claims leadership")
	}
	if rec, ok := a.dir.Get("b"); !ok || rec.Role != RoleFollower || !rec.Reachable {
		t.Errorf("leader's record of b = %+v, %v", rec, ok)
	}
}

func TestJoinThroughFollowerRedirects(t *testing.T) {
	fn, nodes := newCluster(t, "a", "b")
	b := nodes[1]

	c := fn.addNode(t, "c", 5100)
	if err := c.reg.Join(context.Background(), b.addr.String()); err != nil {
		t.Fatalf("Join via follower failed: %v", err)
	}
	nodes[0].reg.Wait()

	if id, _ := leaderOf(c); id != "a" {
		t.Errorf("c leader = %s, want a", id)
	}
	if _, ok := nodes[0].dir.Get("c"); !ok {
		t.Error("leader did not admit c")
	}
	if _, ok := c.dir.Get("b"); !ok {
		t.Error("c did not discover b through GetServers")
	}
	if _, ok := b.dir.Get("c"); !ok {
		t.Error("b did not learn c from the leader's broadcast")
	}
}

func TestJoinTooManyRedirects(t *testing.T) {
	fn, nodes := newCluster(t, "a", "b")
	b := nodes[1]

	// b now believes in a leader that resolves back to b itself
	b.dir.Upsert(ServerRecord{ID: "ghost", Addr: b.addr})
	b.dir.TryAdoptLeader("ghost", 7)

	joiner := fn.addNode(t, "z", 5200)
	err := joiner.reg.Join(context.Background(), b.addr.String())
	if !errors.Is(err, ErrTooManyRedirects) {
		t.Errorf("Join() = %v, want ErrTooManyRedirects", err)
	}
	if got, want := fn.callCount(wire.OpNewReplica), 2+joiner.reg.cfg.MaxJoinRedirects; got < want {
		t.Errorf("NewReplica calls = %d, want at least %d", got, want)
	}
}

func TestJoinUnreachableSeed(t *testing.T) {
	fn := newFakeNetwork()
	node := fn.addNode(t, "a", 5000)

	err := node.reg.Join(context.Background(), "127.0.0.1:9")
	if !errors.Is(err, ErrJoinFailed) || !errors.Is(err, errUnreachable) {
		t.Errorf("Join() = %v, want ErrJoinFailed wrapping the dial error", err)
	}
}

func TestRegistrationIdempotent(t *testing.T) {
	_, nodes := newCluster(t, "a", "b")
	a, b := nodes[0], nodes[1]

	for i := 0; i < 3; i++ {
		reply := a.reg.HandleNewReplica([]string{"b", b.addr.IP, b.addr.PortString()})
		if reply.Status() != wire.StatusSuccess {
			t.Fatalf("re-registration answered %v", reply.Arguments)
		}
	}
	a.reg.Wait()

	if peers := a.dir.Peers(); len(peers) != 1 || peers[0].ID != "b" {
		t.Errorf("Peers() = %v, want exactly b", peers)
	}
}

func TestHandleNewReplicaReplies(t *testing.T) {
	_, nodes := newCluster(t, "a", "b")
	a, b := nodes[0], nodes[1]

	tests := []struct {
		name   string
		node   *testNode
		args   []string
		status wire.Status
	}{
		{"leader admits", a, []string{"c", "127.0.0.1", "5002"}, wire.StatusSuccess},
		{"follower refuses", b, []string{"d", "127.0.0.1", "5003"}, wire.StatusRegistrationRefused},
		{"gossip from leader", b, []string{"e", "127.0.0.1", "5004", "a"}, wire.StatusSuccess},
		{"gossip from non-leader", b, []string{"f", "127.0.0.1", "5005", "c"}, wire.StatusRegistrationRefused},
		{"missing port", a, []string{"g", "127.0.0.1"}, wire.StatusFailure},
		{"bad port", a, []string{"g", "127.0.0.1", "x"}, wire.StatusFailure},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			reply := tt.node.reg.HandleNewReplica(tt.args)
			if reply.Status() != tt.status {
				t.Fatalf("status = %s, want %s (%v)", reply.Status(), tt.status, reply.Arguments)
			}
			if tt.status == wire.StatusFailure {
				return
			}
			// [status, leaderId, ip, port, epoch]
			if reply.Arg(1) != "a" || reply.Arg(3) != a.addr.PortString() || reply.Arg(4) != "1" {
				t.Errorf("leader identity = %v", reply.Arguments)
			}
		})
	}
	a.reg.Wait()

	if _, ok := b.dir.Get("d"); ok {
		t.Error("follower admitted a replica directly")
	}
	if _, ok := b.dir.Get("e"); !ok {
		t.Error("follower ignored leader gossip")
	}
	if _, ok := b.dir.Get("f"); ok {
		t.Error("follower accepted gossip from a non-leader")
	}
}

func TestHandleGetServersExcludesRequestor(t *testing.T) {
	fn, nodes := newCluster(t, "a", "b", "c")
	a := nodes[0]

	fn.setDown(nodes[2], true)
	runCycles(a.mon.cfg.MissThreshold, a)

	servers := a.reg.HandleGetServers("b")
	if len(servers) != 1 || servers[0].ID != "a" {
		t.Errorf("HandleGetServers(b) = %v, want [a]", servers)
	}
}

func TestClientHeartbeatIsLivenessOnly(t *testing.T) {
	_, nodes := newCluster(t, "a", "b")
	b := nodes[1]
	before := b.dir.View()

	reply := b.reg.HandleHeartbeat([]string{ClientRequestor, "b", "zz", "99", "10.0.0.1", "7000"})

	// [status, responderId, leaderId, leaderIP, leaderPort, epoch]
	want := []string{"SUCCESS", "b", "a", "127.0.0.1", nodes[0].addr.PortString(), "1"}
	for i, w := range want {
		if reply.Arg(i) != w {
			t.Errorf("reply arg %d = %q, want %q", i, reply.Arg(i), w)
		}
	}

	after := b.dir.View()
	if len(after.Members) != len(before.Members) || after.Epoch != before.Epoch || after.LeaderID != before.LeaderID {
		t.Errorf("client heartbeat changed the directory: %+v", after)
	}
}

func TestHeartbeatAdmitsUnknownPeer(t *testing.T) {
	_, nodes := newCluster(t, "a")
	a := nodes[0]

	a.reg.HandleHeartbeat([]string{"q", "a", "a", "1", "127.0.0.1", "5009"})

	rec, ok := a.dir.Get("q")
	if !ok || rec.Role != RoleFollower || rec.Addr.Port != 5009 {
		t.Errorf("record of q = %+v, %v", rec, ok)
	}

	reply := a.reg.HandleHeartbeat([]string{"q"})
	if reply.Status() != wire.StatusFailure {
		t.Errorf("short heartbeat status = %s, want FAILURE", reply.Status())
	}
}

func TestStartBootstrapsWithoutJoinAddr(t *testing.T) {
	fn := newFakeNetwork()
	node := fn.addNode(t, "solo", 5000)

	if err := node.reg.Start(context.Background()); err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	if !node.dir.IsLeader() || node.dir.Epoch() != 1 {
		t.Errorf("solo node leadership = %v@%d", node.dir.IsLeader(), node.dir.Epoch())
	}
}

func TestConfigValidate(t *testing.T) {
	valid := DefaultConfig()
	valid.ServerID = "a"
	valid.AdvertiseAddr = Address{IP: "127.0.0.1", Port: 5000}

	tests := []struct {
		name   string
		mutate func(*Config)
		want   error
	}{
		{"valid", func(*Config) {}, nil},
		{"no id", func(c *Config) { c.ServerID = "" }, ErrInvalidServerID},
		{"no address", func(c *Config) { c.AdvertiseAddr = Address{} }, ErrInvalidAdvertiseAddr},
		{"probe too slow", func(c *Config) { c.ProbeTimeout = c.HeartbeatInterval }, ErrProbeTimeoutTooLarge},
		{"no misses", func(c *Config) { c.MissThreshold = 0 }, ErrInvalidMissThreshold},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := valid
			tt.mutate(&cfg)
			if err := cfg.Validate(); !errors.Is(err, tt.want) {
				t.Errorf("Validate() = %v, want %v", err, tt.want)
			}
		})
	}
}
