package main

import (
	"errors"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/viper"

	"gamemod/memory"
)

type IRCConfig struct {
	Server   string `mapstructure:"server"`
	TLS      bool   `mapstructure:"tls"`
	Nick     string `mapstructure:"nick"`
	Password string `mapstructure:"password"`
	Channel  string `mapstructure:"channel"`
	Admin    string `mapstructure:"admin"`
}

type Config struct {
	ListenAddress string    `mapstructure:"listen_address"`
	OpenBrowser   bool      `mapstructure:"open_browser"`
	LogLevel      string    `mapstructure:"log_level"`
	LogFile       string    `mapstructure:"log_file"`
	LockPeriodMs  int       `mapstructure:"lock_period_ms"`
	MaxReadSize   int       `mapstructure:"max_read_size"`
	PointerSize   int       `mapstructure:"pointer_size"`
	Target        string    `mapstructure:"target"`
	IRC           IRCConfig `mapstructure:"irc"`
	Script        string    `mapstructure:"-"`

	v         *viper.Viper
	configDir string
}

func (c *Config) SetDefaultScript() {
	c.Script = `
# Commands are functions named cmd_<name>. They can be run from the
# web page, from the command line and from chat as !<name>.

cmd_echo = func(flds...) {
  reply("echo for %q: %q", from(), join(flds, " "))
}

cmd_status = func() {
  reply("attached to %d", pid())
}

cmd_health = func(args...) {
  if !rate("health", 10) {
    reply("%s, health is on cooldown", from())
    return
  }
  write("int32", 100, target + "+0x10", 0x8, 0x100)
}

cmd_admin_godmode = func() {
  lock("int32", 999, target + "+0x10", 0x8, 0x100)
}
`
}

func (c *Config) settings() map[string]interface{} {
	return map[string]interface{}{
		"listen_address": c.ListenAddress,
		"open_browser":   c.OpenBrowser,
		"log_level":      c.LogLevel,
		"log_file":       c.LogFile,
		"lock_period_ms": c.LockPeriodMs,
		"max_read_size":  c.MaxReadSize,
		"pointer_size":   c.PointerSize,
		"target":         c.Target,
		"irc.server":     c.IRC.Server,
		"irc.tls":        c.IRC.TLS,
		"irc.nick":       c.IRC.Nick,
		"irc.password":   c.IRC.Password,
		"irc.channel":    c.IRC.Channel,
		"irc.admin":      c.IRC.Admin,
	}
}

func (c *Config) SetDefaults() {
	c.ListenAddress = "localhost:8666"
	c.OpenBrowser = false
	c.LogLevel = "info"
	c.LogFile = ""
	c.LockPeriodMs = 200
	c.MaxReadSize = memory.DefaultMaxReadSize
	c.PointerSize = 8
	c.Target = "game.exe"
	c.IRC = IRCConfig{
		Server:  "irc.libera.chat:6697",
		TLS:     true,
		Nick:    "gamemod",
		Channel: "gamemod",
	}

	if c.v != nil {
		for k, v := range c.settings() {
			c.v.SetDefault(k, v)
		}
	}
}

// Init prepares the config directory. An empty dir selects gamemod under
// the user config directory.
func (c *Config) Init(dir string) error {
	if dir == "" {
		cfgdir, err := os.UserConfigDir()
		if err != nil {
			return err
		}
		dir = filepath.Join(cfgdir, "gamemod")
	}

	c.configDir = dir

	err := os.MkdirAll(c.configDir, 0777)
	if err != nil && !errors.Is(err, fs.ErrExist) {
		return err
	}

	c.v = viper.New()
	c.v.SetConfigFile(filepath.Join(c.configDir, "config.json"))
	c.v.SetConfigType("json")
	c.v.SetEnvPrefix("GAMEMOD")
	c.v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	c.v.AutomaticEnv()
	c.SetDefaults()

	return nil
}

func (c *Config) Viper() *viper.Viper {
	return c.v
}

func (c *Config) Dir() string {
	return c.configDir
}

func (c *Config) Load() error {
	for _, fn := range []func() error{c.LoadConfig, c.LoadScript} {
		err := fn()
		if err != nil {
			return err
		}
	}
	return nil
}

// LoadConfig reads config.json, if any, and applies environment and flag
// overrides on top of it.
func (c *Config) LoadConfig() error {
	err := c.v.ReadInConfig()
	if err != nil && !errors.Is(err, fs.ErrNotExist) {
		var nf viper.ConfigFileNotFoundError
		if !errors.As(err, &nf) {
			return err
		}
	}

	return c.v.Unmarshal(c)
}

func (c *Config) LoadScript() error {
	b, err := os.ReadFile(filepath.Join(c.configDir, "script.anko"))
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			c.SetDefaultScript()
			return nil
		}

		return err
	}

	c.Script = string(b)
	return nil
}

func (c *Config) Save() error {
	for _, fn := range []func() error{c.SaveConfig, c.SaveScript} {
		err := fn()
		if err != nil {
			return err
		}
	}
	return nil
}

func (c *Config) SaveConfig() error {
	for k, v := range c.settings() {
		c.v.Set(k, v)
	}

	return c.v.WriteConfigAs(filepath.Join(c.configDir, "config.json"))
}

func (c *Config) SaveScript() error {
	return os.WriteFile(filepath.Join(c.configDir, "script.anko"), []byte(c.Script), 0666)
}

func (c *Config) LockPeriod() time.Duration {
	return time.Duration(c.LockPeriodMs) * time.Millisecond
}

// vim: ai:ts=8:sw=8:noet:syntax=go
