package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"os/signal"
	"sort"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/dd0wney/cluso-chat/pkg/chat"
	"github.com/dd0wney/cluso-chat/pkg/client"
	"github.com/dd0wney/cluso-chat/pkg/wire"
)

var errUsage = errors.New("usage")

type command struct {
	usage string
	args  int // minimum positional arguments
	run   func(ctx context.Context, c *client.Client, args []string, out io.Writer) error
}

var commands = map[string]command{
	"register": {"register <username> <password> <email>", 3, func(ctx context.Context, c *client.Client, a []string, out io.Writer) error {
		return done(out, "account created", c.Register(ctx, a[0], a[1], a[2]))
	}},
	"login": {"login <username> <password>", 2, func(ctx context.Context, c *client.Client, a []string, out io.Writer) error {
		return done(out, "login successful", c.Login(ctx, a[0], a[1]))
	}},
	"users": {"users <username>", 1, func(ctx context.Context, c *client.Client, a []string, out io.Writer) error {
		users, err := c.Users(ctx, a[0])
		for _, u := range users {
			fmt.Fprintln(out, u)
		}
		return err
	}},
	"history": {"history <username>", 1, func(ctx context.Context, c *client.Client, a []string, out io.Writer) error {
		msgs, err := c.History(ctx, a[0])
		printMessages(out, msgs)
		return err
	}},
	"send": {"send <from> <to> <message...>", 3, func(ctx context.Context, c *client.Client, a []string, out io.Writer) error {
		msg := chat.Message{
			Sender:    a[0],
			Recipient: a[1],
			Body:      strings.Join(a[2:], " "),
			Timestamp: time.Now().UTC().Format(time.RFC3339),
		}
		return done(out, "sent", c.Send(ctx, msg))
	}},
	"pending": {"pending <username> [limit]", 1, func(ctx context.Context, c *client.Client, a []string, out io.Writer) error {
		limit := 50
		if len(a) > 1 {
			n, err := strconv.Atoi(a[1])
			if err != nil {
				return fmt.Errorf("%w: limit must be a number", errUsage)
			}
			limit = n
		}
		msgs, err := c.Pending(ctx, a[0], limit)
		printMessages(out, msgs)
		return err
	}},
	"monitor": {"monitor <username>", 1, func(ctx context.Context, c *client.Client, a []string, out io.Writer) error {
		err := c.Monitor(ctx, a[0], func(m chat.Message) error {
			printMessages(out, []chat.Message{m})
			return nil
		})
		if errors.Is(err, context.Canceled) {
			return nil
		}
		return err
	}},
	"delete": {"delete <username>", 1, func(ctx context.Context, c *client.Client, a []string, out io.Writer) error {
		return done(out, "account deleted", c.DeleteAccount(ctx, a[0]))
	}},
	"save-settings": {"save-settings <username> <setting>", 2, func(ctx context.Context, c *client.Client, a []string, out io.Writer) error {
		return done(out, "settings saved", c.SaveSettings(ctx, a[0], a[1]))
	}},
	"settings": {"settings <username>", 1, func(ctx context.Context, c *client.Client, a []string, out io.Writer) error {
		setting, err := c.Settings(ctx, a[0])
		if err == nil {
			fmt.Fprintln(out, setting)
		}
		return err
	}},
	"servers": {"servers", 0, func(ctx context.Context, c *client.Client, a []string, out io.Writer) error {
		servers, err := c.ListServers(ctx)
		for _, s := range servers {
			fmt.Fprintf(out, "%s\t%s\n", s.ID, s.Addr)
		}
		return err
	}},
	"status": {"status", 0, func(ctx context.Context, c *client.Client, a []string, out io.Writer) error {
		for _, addr := range c.Servers() {
			st, err := c.Ping(ctx, addr)
			if err != nil {
				fmt.Fprintf(out, "%s\tunreachable\t%v\n", addr, err)
				continue
			}
			fmt.Fprintf(out, "%s\t%s\tleader=%s\tepoch=%d\n", addr, st.ServerID, st.LeaderID, st.Epoch)
		}
		return nil
	}},
}

func printMessages(out io.Writer, msgs []chat.Message) {
	for _, m := range msgs {
		fmt.Fprintf(out, "[%s] %s -> %s: %s\n", m.Timestamp, m.Sender, m.Recipient, m.Body)
	}
}

func done(out io.Writer, msg string, err error) error {
	if err == nil {
		fmt.Fprintln(out, msg)
	}
	return err
}

func usage(out io.Writer, fs *flag.FlagSet) {
	fmt.Fprintln(out, "Usage: chat-cli [flags] <command> [args]")
	fmt.Fprintln(out, "\nCommands:")
	names := make([]string, 0, len(commands))
	for name := range commands {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		fmt.Fprintf(out, "  %s\n", commands[name].usage)
	}
	fmt.Fprintln(out, "\nFlags:")
	fs.SetOutput(out)
	fs.PrintDefaults()
}

func run(ctx context.Context, argv []string, out, errOut io.Writer) error {
	fs := flag.NewFlagSet("chat-cli", flag.ContinueOnError)
	fs.SetOutput(errOut)
	var (
		servers = fs.String("servers", "127.0.0.1:5000", "Comma-separated server addresses")
		format  = fs.String("format", "delimited", "Wire format: delimited or structured")
		timeout = fs.Duration("timeout", 5*time.Second, "Per-call timeout")
	)
	if err := fs.Parse(argv); err != nil {
		return err
	}

	args := fs.Args()
	if len(args) == 0 {
		usage(errOut, fs)
		return errUsage
	}
	cmd, ok := commands[args[0]]
	if !ok {
		usage(errOut, fs)
		return fmt.Errorf("%w: unknown command %q", errUsage, args[0])
	}
	if len(args)-1 < cmd.args {
		return fmt.Errorf("%w: %s", errUsage, cmd.usage)
	}

	wf, err := wire.ParseFormat(*format)
	if err != nil {
		return err
	}
	c, err := client.New(client.Config{
		Servers:     strings.Split(*servers, ","),
		Format:      wf,
		CallTimeout: *timeout,
	})
	if err != nil {
		return err
	}
	return cmd.run(ctx, c, args[1:], out)
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, os.Args[1:], os.Stdout, os.Stderr); err != nil {
		if !errors.Is(err, flag.ErrHelp) {
			fmt.Fprintf(os.Stderr, "chat-cli: %v\n", err)
		}
		os.Exit(1)
	}
}
