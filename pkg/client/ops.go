package client

import (
	"context"
	"fmt"
	"net"
	"strconv"

	"github.com/dd0wney/cluso-chat/pkg/chat"
	"github.com/dd0wney/cluso-chat/pkg/cluster"
	"github.com/dd0wney/cluso-chat/pkg/wire"
)

// Register creates an account
func (c *Client) Register(ctx context.Context, username, password, email string) error {
	_, err := c.call(ctx, wire.OpRegister, username, password, email)
	return err
}

// Login checks credentials
func (c *Client) Login(ctx context.Context, username, password string) error {
	_, err := c.call(ctx, wire.OpLogin, username, password)
	return err
}

// Users lists every registered username
func (c *Client) Users(ctx context.Context, username string) ([]string, error) {
	var users []string
	err := c.stream(ctx, wire.OpGetUsers, func(item wire.Envelope) error {
		users = append(users, item.Arg(1))
		return nil
	}, username)
	return users, err
}

// History returns delivered messages sent or received by username
func (c *Client) History(ctx context.Context, username string) ([]chat.Message, error) {
	return c.messages(ctx, wire.OpGetMessageHistory, username)
}

// Send delivers a message, or leaves it pending when the recipient is offline
func (c *Client) Send(ctx context.Context, msg chat.Message) error {
	_, err := c.call(ctx, wire.OpSendMessage, msg.Sender, msg.Recipient, msg.Body, msg.Timestamp)
	return err
}

// Pending fetches up to limit undelivered messages for username and marks
// them delivered
func (c *Client) Pending(ctx context.Context, username string, limit int) ([]chat.Message, error) {
	return c.messages(ctx, wire.OpGetPendingMessage, username, strconv.Itoa(limit))
}

func (c *Client) messages(ctx context.Context, op wire.Opcode, args ...string) ([]chat.Message, error) {
	var out []chat.Message
	err := c.stream(ctx, op, func(item wire.Envelope) error {
		out = append(out, chat.MessageFromItem(item))
		return nil
	}, args...)
	return out, err
}

// Monitor passes every message delivered to username to fn until ctx ends,
// fn returns an error, or the server ends the subscription. Messages sent
// while no subscription is open stay pending; fetch them with Pending.
func (c *Client) Monitor(ctx context.Context, username string, fn func(chat.Message) error) error {
	return c.stream(ctx, wire.OpMonitorMessages, func(item wire.Envelope) error {
		return fn(chat.MessageFromItem(item))
	}, username)
}

// DeleteAccount removes username and its pending messages
func (c *Client) DeleteAccount(ctx context.Context, username string) error {
	_, err := c.call(ctx, wire.OpDeleteAccount, username)
	return err
}

// SaveSettings stores the user's setting string
func (c *Client) SaveSettings(ctx context.Context, username, setting string) error {
	_, err := c.call(ctx, wire.OpSaveSettings, username, setting)
	return err
}

// Settings returns the user's setting string
func (c *Client) Settings(ctx context.Context, username string) (string, error) {
	reply, err := c.call(ctx, wire.OpGetSettings, username)
	if err != nil {
		return "", err
	}
	return reply.Arg(1), nil
}

// Server is one entry of a GetServers reply
type Server struct {
	ID   string
	Addr string
}

// ListServers asks the cluster for its reachable members
func (c *Client) ListServers(ctx context.Context) ([]Server, error) {
	var out []Server
	err := c.stream(ctx, wire.OpGetServers, func(item wire.Envelope) error {
		if item.Arg(1) == "" || item.Arg(3) == "" {
			return fmt.Errorf("%w: server item %v", ErrMalformedReply, item.Arguments)
		}
		out = append(out, Server{ID: item.Arg(1), Addr: net.JoinHostPort(item.Arg(2), item.Arg(3))})
		return nil
	}, cluster.ClientRequestor)
	return out, err
}

// RefreshServers replaces the address cycle with the cluster's reachable
// members. The current server stays first when it is still listed.
func (c *Client) RefreshServers(ctx context.Context) ([]Server, error) {
	servers, err := c.ListServers(ctx)
	if err != nil {
		return nil, err
	}
	if len(servers) == 0 {
		return nil, fmt.Errorf("%w: empty server list", ErrMalformedReply)
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	current := c.servers[c.current]
	c.servers = c.servers[:0]
	c.current = 0
	for i, s := range servers {
		c.servers = append(c.servers, s.Addr)
		if s.Addr == current {
			c.current = i
		}
	}
	return servers, nil
}

// Status is a server's answer to a client liveness heartbeat
type Status struct {
	ServerID   string
	LeaderID   string
	LeaderAddr string
	Epoch      uint64
}

// Ping sends a client heartbeat to one server, without failover
func (c *Client) Ping(ctx context.Context, addr string) (Status, error) {
	reply, err := c.rpc.Call(ctx, addr, wire.NewEnvelope(wire.OpHeartbeat, cluster.ClientRequestor, ""))
	if err != nil {
		return Status{}, err
	}
	if err := checkReply(wire.OpHeartbeat, reply); err != nil {
		return Status{}, err
	}

	st := Status{ServerID: reply.Arg(1), LeaderID: reply.Arg(2)}
	if reply.Arg(3) != "" && reply.Arg(4) != "" {
		st.LeaderAddr = net.JoinHostPort(reply.Arg(3), reply.Arg(4))
	}
	if st.Epoch, err = strconv.ParseUint(reply.Arg(5), 10, 64); err != nil {
		return Status{}, fmt.Errorf("%w: epoch %q", ErrMalformedReply, reply.Arg(5))
	}
	return st, nil
}
