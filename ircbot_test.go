package main

import (
	"context"
	"testing"
	"time"
)

func TestIRCBotProcessMessage(t *testing.T) {
	tr, ft := newTestTrainer(t)
	if err := tr.LoadScript(`
cmd_who = func() { write("uint8", 1, "0x10000") }
cmd_admin_kill = func() { write("uint8", 1, "0x10001") }
`); err != nil {
		t.Fatal(err)
	}

	bot := NewIRCBot(IRCConfig{Channel: "game", Admin: "boss"}, tr, quietLogger())
	if tr.Admin != "boss" {
		t.Errorf("trainer admin = %q", tr.Admin)
	}
	if bot.channel() != "#game" {
		t.Errorf("channel() = %q", bot.channel())
	}

	ctx := context.Background()
	for _, msg := range []string{"", "hello", "who !who"} {
		if err := bot.ProcessMessage(ctx, "eve", msg); err != nil {
			t.Errorf("ProcessMessage(%q) = %s", msg, err)
		}
	}
	if err := bot.ProcessMessage(ctx, "eve", "!admin_kill"); err == nil {
		t.Error("non-admin ran an admin command")
	}

	time.Sleep(50 * time.Millisecond)
	if got := ft.peek(testBase, 2); got[0] != 0 || got[1] != 0 {
		t.Fatalf("commands ran without being asked: %x", got)
	}

	if err := bot.ProcessMessage(ctx, "eve", "!who"); err != nil {
		t.Error(err)
	}
	if err := bot.ProcessMessage(ctx, "boss", "!admin_kill"); err != nil {
		t.Errorf("admin command from admin: %s", err)
	}

	deadline := time.Now().Add(2 * time.Second)
	for {
		got := ft.peek(testBase, 2)
		if got[0] == 1 && got[1] == 1 {
			break
		}
		if time.Now().After(deadline) {
			t.Fatalf("commands did not run: %x", got)
		}
		time.Sleep(5 * time.Millisecond)
	}
}

func TestIRCBotStartWithoutServer(t *testing.T) {
	tr := NewTrainer(nil, quietLogger())
	bot := NewIRCBot(IRCConfig{}, tr, quietLogger())

	if err := bot.Start(); err == nil {
		t.Error("Start without a server succeeded")
	}
	if bot.IsOnline() {
		t.Error("bot is online")
	}
}
