package main

import (
	"context"
	"crypto/tls"
	"fmt"
	"net"
	"strings"
	"sync"

	"github.com/charmbracelet/log"
	"gopkg.in/irc.v3"
)

// IRCBot relays "!<cmd> args" messages from one channel to the trainer.
type IRCBot struct {
	Config  IRCConfig
	Trainer *Trainer
	Logger  *log.Logger

	online bool
	client *irc.Client
	conn   net.Conn
	mu     *sync.Mutex
}

func NewIRCBot(cfg IRCConfig, trainer *Trainer, logger *log.Logger) *IRCBot {
	b := &IRCBot{
		Config:  cfg,
		Trainer: trainer,
		Logger:  logger,
		mu:      new(sync.Mutex),
	}
	trainer.Admin = cfg.Admin
	trainer.Replier = b.Reply
	return b
}

func (b *IRCBot) channel() string {
	return "#" + strings.TrimPrefix(b.Config.Channel, "#")
}

func (b *IRCBot) handleConn() {
	b.mu.Lock()
	client := b.client
	b.mu.Unlock()

	err := client.Run()
	if err != nil {
		b.Logger.Warnf("IRC error: %s", err)
	}

	b.mu.Lock()
	b.online = false
	b.conn.Close()
	b.conn = nil
	b.mu.Unlock()
}

func (b *IRCBot) Reply(msg string) {
	b.mu.Lock()
	client := b.client
	b.mu.Unlock()

	if client == nil {
		b.Logger.Info(msg, "source", "reply")
		return
	}

	err := client.WriteMessage(&irc.Message{
		Command: "PRIVMSG",
		Params: []string{
			b.channel(),
			msg,
		},
	})
	if err != nil {
		b.Logger.Warnf("cannot reply: %s", err)
	}
}

// ProcessMessage runs the command named by a "!" message. Commands whose
// name starts with admin_ are reserved for the configured admin.
func (b *IRCBot) ProcessMessage(ctx context.Context, from, msg string) error {
	flds := strings.Fields(msg)
	if len(flds) == 0 || !strings.HasPrefix(flds[0], "!") {
		return nil
	}

	cmd := flds[0][1:]
	if strings.HasPrefix(cmd, "admin_") && (b.Config.Admin == "" || from != b.Config.Admin) {
		b.Reply(fmt.Sprintf("Forbidden, %q != %q.", from, b.Config.Admin))
		return fmt.Errorf("%q is not allowed to run %q", from, cmd)
	}

	go func() {
		_, err := b.Trainer.RunCommand(ctx, from, cmd, flds[1:])
		if err != nil {
			b.Logger.Warnf("command %q from %q: %s", cmd, from, err)
		}
	}()

	return nil
}

func (b *IRCBot) Handle(c *irc.Client, m *irc.Message) {
	if m.Command == "001" {
		// 001 is a welcome event, so we join channels there
		c.Write("JOIN " + b.channel())
	} else if m.Command == "PRIVMSG" && c.FromChannel(m) {
		msg := m.Trailing()
		if m.Prefix == nil {
			b.Logger.Debugf("bogus message: %#v", m)
			return
		}

		from := m.Prefix.Name
		err := b.ProcessMessage(context.Background(), from, msg)
		if err != nil {
			b.Logger.Warn(err)
		}
	}
}

func (b *IRCBot) IsOnline() bool {
	b.mu.Lock()
	defer b.mu.Unlock()

	return b.online
}

func (b *IRCBot) Start() error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.online {
		return nil
	}

	if b.Config.Server == "" {
		return fmt.Errorf("IRC server is not set")
	}

	var conn net.Conn
	var err error
	if b.Config.TLS {
		conn, err = tls.Dial("tcp", b.Config.Server, nil)
	} else {
		conn, err = net.Dial("tcp", b.Config.Server)
	}
	if err != nil {
		return err
	}

	b.client = irc.NewClient(conn, irc.ClientConfig{
		Nick:    b.Config.Nick,
		Pass:    b.Config.Password,
		User:    b.Config.Nick,
		Name:    b.Config.Nick,
		Handler: b,
	})

	b.conn = conn
	go b.handleConn()
	b.online = true
	b.Logger.Infof("connected to %s as %s", b.Config.Server, b.Config.Nick)

	return nil
}

func (b *IRCBot) Stop() {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.conn != nil {
		b.conn.Close()
	}
}

// vim: ai:ts=8:sw=8:noet:syntax=go
