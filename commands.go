package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"os"
	"os/exec"
	"os/signal"
	"runtime"
	"syscall"
	"text/tabwriter"
	"time"

	"github.com/charmbracelet/log"
	"github.com/gin-gonic/gin"
	"github.com/spf13/cobra"

	"gamemod/memory"
	"gamemod/process"
)

// app is the state shared by all subcommands. It is built by the root
// command's PersistentPreRunE.
type app struct {
	Config  *Config
	Logger  *log.Logger
	Hub     *Hub
	Session *memory.Session
	Trainer *Trainer

	pid    uint32
	closer io.Closer
}

func newApp(cfg *Config, pid uint32) (*app, error) {
	logger, closer, err := newLogger(cfg.LogLevel, cfg.LogFile)
	if err != nil {
		return nil, fmt.Errorf("cannot set up logging: %w", err)
	}

	hub := NewHub()
	session := memory.New(
		memory.WithLogger(logger.WithPrefix("memory")),
		memory.WithObserver(hub.Observe),
		memory.WithPointerSize(cfg.PointerSize),
		memory.WithDefaultPeriod(cfg.LockPeriod()),
		memory.WithMaxReadSize(cfg.MaxReadSize),
	)

	trainer := NewTrainer(session, logger.WithPrefix("script"))
	trainer.Target = cfg.Target
	trainer.Admin = cfg.IRC.Admin
	trainer.Period = cfg.LockPeriod()

	return &app{
		Config:  cfg,
		Logger:  logger,
		Hub:     hub,
		Session: session,
		Trainer: trainer,
		pid:     pid,
		closer:  closer,
	}, nil
}

// attach opens the process selected by --pid, or else by --name or the
// configured target name.
func (a *app) attach() error {
	var pid uint32
	var err error
	if a.pid != 0 {
		pid, err = a.Session.AttachByID(a.pid, memory.AccessAll)
	} else {
		pid, err = a.Session.AttachByName(a.Config.Target, memory.AccessAll)
	}
	if err != nil {
		return err
	}

	a.Logger.Debugf("attached to %d", pid)
	return nil
}

func (a *app) Close() error {
	err := a.Session.Close()
	a.closer.Close()
	return err
}

func newRootCmd() *cobra.Command {
	var (
		a         *app
		configDir string
		pid       uint32
	)

	root := &cobra.Command{
		Use:   "gamemod",
		Short: "Game process memory trainer",
		Long: `gamemod attaches to a running game, follows pointer chains from module
bases and reads, writes, freezes or injects code into its memory. Cheats are
scripted as commands that can be run from the command line, the web page or
a chat channel.`,
		SilenceUsage: true,
	}

	flags := root.PersistentFlags()
	flags.StringVar(&configDir, "config-dir", "", "configuration directory (default is $XDG_CONFIG_HOME/gamemod)")
	flags.String("log-level", "info", "log level: debug, info, warn or error")
	flags.Uint32Var(&pid, "pid", 0, "attach to this process id")
	flags.StringP("name", "n", "", "attach to the process with this executable name")
	flags.Int("pointer-size", 8, "pointer size of the target, 4 or 8")

	root.PersistentPreRunE = func(cmd *cobra.Command, args []string) error {
		cfg := &Config{}
		if err := cfg.Init(configDir); err != nil {
			return fmt.Errorf("cannot init config system: %w", err)
		}

		v := cfg.Viper()
		for key, flag := range map[string]string{
			"log_level":    "log-level",
			"target":       "name",
			"pointer_size": "pointer-size",
		} {
			if err := v.BindPFlag(key, flags.Lookup(flag)); err != nil {
				return err
			}
		}

		if err := cfg.Load(); err != nil {
			return fmt.Errorf("error loading config file: %w", err)
		}

		var err error
		a, err = newApp(cfg, pid)
		return err
	}
	root.PersistentPostRunE = func(cmd *cobra.Command, args []string) error {
		if a == nil {
			return nil
		}
		return a.Close()
	}

	get := func() *app { return a }
	root.AddCommand(
		newServeCmd(get),
		newPsCmd(),
		newRunningCmd(),
		newModulesCmd(get),
		newResolveCmd(get),
		newReadCmd(get),
		newWriteCmd(get),
		newLockCmd(get),
		newInjectCmd(get),
	)

	return root
}

func chainArgs(args []string) []interface{} {
	elems := make([]interface{}, 0, len(args))
	for _, arg := range args {
		elems = append(elems, arg)
	}
	return elems
}

// encodeArg turns a command line value into bytes: a typed value when typ
// is set, hex otherwise.
func encodeArg(typ, value string) ([]byte, error) {
	if typ == "" {
		return decodeHex(value)
	}

	dt, err := memory.ParseDataType(typ)
	if err != nil {
		return nil, err
	}
	return dt.Encode(value)
}

func newServeCmd(get func() *app) *cobra.Command {
	var noAttach bool

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the web control panel and the chat bot",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			a := get()
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			if !noAttach {
				if err := a.attach(); err != nil {
					a.Logger.Warnf("cannot attach: %s", err)
				}
			}

			var bot *IRCBot
			if a.Config.IRC.Server != "" && a.Config.IRC.Channel != "" {
				bot = NewIRCBot(a.Config.IRC, a.Trainer, a.Logger.WithPrefix("irc"))
			}

			if err := a.Trainer.LoadScript(a.Config.Script); err != nil {
				a.Logger.Warnf("cannot load script: %s", err)
			}

			if bot != nil {
				if err := bot.Start(); err != nil {
					a.Logger.Warnf("cannot start chat bot: %s", err)
				}
				defer bot.Stop()
			}

			gin.SetMode(gin.ReleaseMode)
			srv := &Server{
				Config:  a.Config,
				Session: a.Session,
				Trainer: a.Trainer,
				Hub:     a.Hub,
				Bot:     bot,
				Logger:  a.Logger.WithPrefix("http"),
			}
			r, err := srv.Router()
			if err != nil {
				return fmt.Errorf("cannot init templates: %w", err)
			}

			l, err := net.Listen("tcp", a.Config.ListenAddress)
			if err != nil {
				return err
			}

			url := "http://" + l.Addr().String() + "/"
			a.Logger.Infof("Starting up a server on %s", url)
			if a.Config.OpenBrowser {
				go openBrowser(url)
			}

			hs := &http.Server{
				Handler:     r,
				BaseContext: func(net.Listener) context.Context { return ctx },
			}
			go func() {
				<-ctx.Done()
				shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
				defer cancel()
				hs.Shutdown(shutdownCtx)
			}()

			err = hs.Serve(l)
			if errors.Is(err, http.ErrServerClosed) {
				return nil
			}
			return err
		},
	}
	cmd.Flags().BoolVar(&noAttach, "no-attach", false, "start without attaching to the target")

	return cmd
}

func openBrowser(url string) {
	switch runtime.GOOS {
	case "linux":
		exec.Command("xdg-open", url).Start()
	case "windows":
		exec.Command(
			"rundll32",
			"url.dll,FileProtocolHandler",
			url,
		).Start()
	case "darwin":
		exec.Command("open", url).Start()
	}
}

func newPsCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "ps",
		Short: "List running processes",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			list, err := process.List()
			if err != nil {
				return err
			}

			w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 8, 2, ' ', 0)
			fmt.Fprintln(w, "PID\tPPID\tEXECUTABLE")
			for _, e := range list {
				fmt.Fprintf(w, "%d\t%d\t%s\n", e.PID, e.PPID, e.Executable)
			}
			return w.Flush()
		},
	}
}

func newRunningCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "running <name> <path>",
		Short: "Check that a process with this name and image path is running",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			running := process.IsRunning(args[0], args[1])
			fmt.Fprintln(cmd.OutOrStdout(), running)
			if !running {
				return fmt.Errorf("%s is not running", args[0])
			}
			return nil
		},
	}
}

func newModulesCmd(get func() *app) *cobra.Command {
	return &cobra.Command{
		Use:   "modules [name]",
		Short: "List the modules of the target, or print the base of one",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			a := get()
			if err := a.attach(); err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			if len(args) == 1 {
				base, err := a.Session.ModuleBase(args[0])
				if err != nil {
					return err
				}
				fmt.Fprintln(out, hexAddr(base))
				return nil
			}

			mods, err := a.Session.Modules()
			if err != nil {
				return err
			}
			w := tabwriter.NewWriter(out, 0, 8, 2, ' ', 0)
			fmt.Fprintln(w, "BASE\tSIZE\tNAME\tPATH")
			for _, m := range mods {
				fmt.Fprintf(w, "%s\t%#x\t%s\t%s\n", hexAddr(m.Base), m.Size, m.Name, m.Path)
			}
			return w.Flush()
		},
	}
}

func newResolveCmd(get func() *app) *cobra.Command {
	return &cobra.Command{
		Use:     "resolve <base> [offset...]",
		Short:   "Follow a pointer chain and print the final address",
		Example: "  gamemod resolve game.exe+0x1f0 0x18 0x8",
		Args:    cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			a := get()
			if err := a.attach(); err != nil {
				return err
			}

			addr, err := a.Session.Resolve(chainArgs(args)...)
			if err != nil {
				return err
			}

			fmt.Fprintln(cmd.OutOrStdout(), hexAddr(addr))
			return nil
		},
	}
}

func newReadCmd(get func() *app) *cobra.Command {
	var (
		typ  string
		size int
	)

	cmd := &cobra.Command{
		Use:   "read <base> [offset...]",
		Short: "Read memory at the end of a pointer chain",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			a := get()
			if err := a.attach(); err != nil {
				return err
			}

			chain, err := memory.ParseChain(chainArgs(args)...)
			if err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			if typ != "" {
				dt, err := memory.ParseDataType(typ)
				if err != nil {
					return err
				}
				v, err := a.Session.ReadTyped(chain, dt)
				if err != nil {
					return err
				}
				fmt.Fprintln(out, v)
				return nil
			}

			addr, err := a.Session.ResolveChain(chain)
			if err != nil {
				return err
			}
			buf, err := a.Session.Read(addr, size)
			if err != nil {
				return err
			}
			fmt.Fprintf(out, "%x\n", buf)
			return nil
		},
	}
	cmd.Flags().StringVarP(&typ, "type", "t", "", "value type, e.g. int32 or float")
	cmd.Flags().IntVarP(&size, "size", "s", 4, "number of bytes to read when no type is given")

	return cmd
}

func newWriteCmd(get func() *app) *cobra.Command {
	var typ string

	cmd := &cobra.Command{
		Use:     "write <value> <base> [offset...]",
		Short:   "Write a value, or hex bytes, at the end of a pointer chain",
		Example: "  gamemod write -t int32 100 game.exe+0x10 0x8\n  gamemod write 90909090 0x401000",
		Args:    cobra.MinimumNArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			a := get()
			if err := a.attach(); err != nil {
				return err
			}

			data, err := encodeArg(typ, args[0])
			if err != nil {
				return err
			}

			addr, err := a.Session.Resolve(chainArgs(args[1:])...)
			if err != nil {
				return err
			}

			if err := a.Session.Write(addr, data); err != nil {
				return err
			}

			fmt.Fprintf(cmd.OutOrStdout(), "wrote %d bytes at %s\n", len(data), hexAddr(addr))
			return nil
		},
	}
	cmd.Flags().StringVarP(&typ, "type", "t", "", "value type; without it the value is hex bytes")

	return cmd
}

func newLockCmd(get func() *app) *cobra.Command {
	var (
		typ    string
		period time.Duration
	)

	cmd := &cobra.Command{
		Use:   "lock <value> <base> [offset...]",
		Short: "Keep rewriting a value until interrupted",
		Args:  cobra.MinimumNArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			a := get()
			if err := a.attach(); err != nil {
				return err
			}

			data, err := encodeArg(typ, args[0])
			if err != nil {
				return err
			}

			addr, err := a.Session.Resolve(chainArgs(args[1:])...)
			if err != nil {
				return err
			}

			id, err := a.Session.StartLock(addr, data, period)
			if err != nil {
				return err
			}

			fmt.Fprintf(cmd.OutOrStdout(), "lock %d on %s, press Ctrl-C to stop\n", id, hexAddr(addr))

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			<-ctx.Done()

			return a.Session.StopLock(id)
		},
	}
	cmd.Flags().StringVarP(&typ, "type", "t", "", "value type; without it the value is hex bytes")
	cmd.Flags().DurationVarP(&period, "period", "p", 0, "rewrite period (default lock_period_ms)")

	return cmd
}

func newInjectCmd(get func() *app) *cobra.Command {
	var file string

	cmd := &cobra.Command{
		Use:   "inject [hex]",
		Short: "Copy machine code into the target and run it in a new thread",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			var code []byte
			var err error
			switch {
			case file != "":
				code, err = os.ReadFile(file)
			case len(args) == 1:
				code, err = decodeHex(args[0])
			default:
				err = errors.New("either a hex argument or --file is required")
			}
			if err != nil {
				return err
			}

			a := get()
			if err := a.attach(); err != nil {
				return err
			}

			inj, err := a.Session.Inject(code)
			if err != nil {
				return err
			}

			fmt.Fprintf(cmd.OutOrStdout(), "code at %s, thread %d\n", hexAddr(inj.Address), inj.ThreadID)
			return nil
		},
	}
	cmd.Flags().StringVarP(&file, "file", "f", "", "read raw machine code from this file")

	return cmd
}

// vim: ai:ts=8:sw=8:noet:syntax=go
