package main

import (
	"context"
	"encoding/hex"
	"fmt"
	"reflect"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/charmbracelet/log"
	"github.com/mattn/anko/env"
	"github.com/mattn/anko/vm"

	"gamemod/memory"
	"gamemod/process"
)

// Trainer runs cheat scripts against a memory session. A script defines
// commands as functions named cmd_<name>.
type Trainer struct {
	Session *memory.Session
	Logger  *log.Logger
	Target  string
	Admin   string
	Period  time.Duration

	// Replier delivers reply() output. It is called with the trainer
	// unlocked.
	Replier func(msg string)

	mu          sync.Mutex
	e           *env.Env
	script      string
	LastBuckets map[string]time.Time
}

func NewTrainer(session *memory.Session, logger *log.Logger) *Trainer {
	return &Trainer{
		Session:     session,
		Logger:      logger,
		LastBuckets: make(map[string]time.Time),
	}
}

func (t *Trainer) Script() string {
	t.mu.Lock()
	defer t.mu.Unlock()

	return t.script
}

func (t *Trainer) IsLoaded() bool {
	t.mu.Lock()
	defer t.mu.Unlock()

	return t.e != nil
}

// Commands lists the cmd_ functions of the loaded script.
func (t *Trainer) Commands() []string {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.e == nil {
		return nil
	}
	return listCommands(t.e)
}

func listCommands(e *env.Env) (result []string) {
	for _, line := range strings.Split(e.String(), "\n") {
		if strings.HasPrefix(line, "cmd_") {
			kv := strings.SplitN(line, " = ", 2)
			if len(kv) < 2 {
				continue
			}

			result = append(
				result,
				strings.TrimPrefix(kv[0], "cmd_"),
			)
		}
	}

	sort.Strings(result)
	return
}

type fromKey struct{}

// RunCommand calls cmd_<name> with args as string arguments. Inside the
// command from() returns from.
func (t *Trainer) RunCommand(ctx context.Context, from, name string, args []string) (interface{}, error) {
	t.mu.Lock()
	if t.e == nil {
		t.mu.Unlock()
		return nil, fmt.Errorf("script is not loaded, ignoring %q: %q", from, name)
	}

	if _, err := t.e.Get("cmd_" + name); err != nil {
		t.mu.Unlock()
		return nil, fmt.Errorf("unrecognized command: %q: %w", name, err)
	}

	e := t.e.DeepCopy()
	t.mu.Unlock()

	ctx = context.WithValue(ctx, fromKey{}, from)

	quoted := make([]string, 0, len(args))
	for _, arg := range args {
		quoted = append(quoted, strconv.Quote(arg))
	}

	script := fmt.Sprintf("cmd_%s(%s)", name, strings.Join(quoted, ", "))
	result, err := vm.ExecuteContext(ctx, e, nil, script)
	if err != nil {
		return nil, fmt.Errorf("cannot execute %q: %w", script, err)
	}

	return result, nil
}

func (t *Trainer) LoadScript(script string) error {
	e := env.NewEnv()
	_, err := vm.Execute(e, nil, `
func from() {
	return ""
}
	`)
	if err != nil {
		return err
	}

	var errors []error
	define := func(k string, v interface{}) {
		errors = append(errors, e.Define(k, v))
	}

	orig_from, err := e.Get("from")
	errors = append(errors, err)
	vmFrom, ok := orig_from.(func(context.Context) (reflect.Value, reflect.Value))
	if !ok {
		return fmt.Errorf("unexpected script function type %T", orig_from)
	}
	errors = append(errors, e.Set("from", func(ctx context.Context) (reflect.Value, reflect.Value) {
		from, _ := ctx.Value(fromKey{}).(string)
		_, err := vmFrom(ctx)
		return reflect.ValueOf(from), err
	}))

	t.defineMemory(define)
	t.defineHelpers(define)
	define("admin", t.Admin)
	define("target", t.Target)
	define("list_cmds", func() []string {
		return listCommands(e)
	})

	for _, err := range errors {
		if err != nil {
			return err
		}
	}

	_, err = vm.Execute(e, nil, script)
	if err != nil {
		return err
	}

	t.mu.Lock()
	t.e = e
	t.script = script
	t.mu.Unlock()

	t.Logger.Infof("script loaded, %d commands", len(listCommands(e)))
	return nil
}

func (t *Trainer) fail(op string, err error) {
	t.Logger.Warnf("%s: %s", op, err)
}

func chainOf(elems []interface{}) []interface{} {
	if len(elems) == 1 {
		if list, ok := elems[0].([]interface{}); ok {
			return list
		}
	}
	return elems
}

// defineMemory binds the engine operations. Failures are logged and
// reported to the script as nil or false.
func (t *Trainer) defineMemory(define func(string, interface{})) {
	s := t.Session

	define("attach", func(name string) interface{} {
		pid, err := s.AttachByName(name, memory.AccessAll)
		if err != nil {
			t.fail("attach", err)
			return nil
		}
		return int64(pid)
	})
	define("attach_pid", func(pid int64) interface{} {
		got, err := s.AttachByID(uint32(pid), memory.AccessAll)
		if err != nil {
			t.fail("attach_pid", err)
			return nil
		}
		return int64(got)
	})
	define("detach", func() bool {
		if err := s.Close(); err != nil {
			t.fail("detach", err)
			return false
		}
		return true
	})
	define("pid", func() int64 {
		return int64(s.Pid())
	})
	define("running", func(name, path string) bool {
		return process.IsRunning(name, path)
	})
	define("module_base", func(name string) interface{} {
		base, err := s.ModuleBase(name)
		if err != nil {
			t.fail("module_base", err)
			return nil
		}
		return int64(base)
	})
	define("resolve", func(chain ...interface{}) interface{} {
		addr, err := s.Resolve(chainOf(chain)...)
		if err != nil {
			t.fail("resolve", err)
			return nil
		}
		return int64(addr)
	})
	define("read_bytes", func(size int64, chain ...interface{}) interface{} {
		addr, err := s.Resolve(chainOf(chain)...)
		if err != nil {
			t.fail("read_bytes", err)
			return nil
		}
		buf, err := s.Read(addr, int(size))
		if err != nil {
			t.fail("read_bytes", err)
			return nil
		}
		return hex.EncodeToString(buf)
	})
	define("write_bytes", func(data string, chain ...interface{}) bool {
		buf, err := hex.DecodeString(strings.ReplaceAll(data, " ", ""))
		if err != nil {
			t.fail("write_bytes", err)
			return false
		}
		addr, err := s.Resolve(chainOf(chain)...)
		if err != nil {
			t.fail("write_bytes", err)
			return false
		}
		if err := s.Write(addr, buf); err != nil {
			t.fail("write_bytes", err)
			return false
		}
		return true
	})
	define("read", func(typ string, chain ...interface{}) interface{} {
		dt, c, err := typedChain(typ, chainOf(chain))
		if err == nil {
			var v interface{}
			if v, err = s.ReadTyped(c, dt); err == nil {
				return v
			}
		}
		t.fail("read", err)
		return nil
	})
	define("write", func(typ string, value interface{}, chain ...interface{}) bool {
		dt, c, err := typedChain(typ, chainOf(chain))
		if err == nil {
			err = s.WriteTyped(c, dt, value)
		}
		if err != nil {
			t.fail("write", err)
			return false
		}
		return true
	})
	define("lock", func(typ string, value interface{}, chain ...interface{}) interface{} {
		dt, c, err := typedChain(typ, chainOf(chain))
		if err == nil {
			var id memory.LockID
			if id, err = s.LockTyped(c, dt, value, t.Period); err == nil {
				return int64(id)
			}
		}
		t.fail("lock", err)
		return nil
	})
	define("unlock", func(id int64) bool {
		if err := s.StopLock(memory.LockID(id)); err != nil {
			t.fail("unlock", err)
			return false
		}
		return true
	})
	define("inject", func(code string) interface{} {
		buf, err := hex.DecodeString(strings.ReplaceAll(code, " ", ""))
		if err != nil {
			t.fail("inject", err)
			return nil
		}
		inj, err := s.Inject(buf)
		if err != nil {
			t.fail("inject", err)
			return nil
		}
		return int64(inj.Address)
	})
}

func typedChain(typ string, elems []interface{}) (memory.DataType, memory.Chain, error) {
	dt, err := memory.ParseDataType(typ)
	if err != nil {
		return 0, memory.Chain{}, err
	}

	c, err := memory.ParseChain(elems...)
	return dt, c, err
}

func (t *Trainer) defineHelpers(define func(string, interface{})) {
	define("reply", func(format string, args ...interface{}) {
		t.mu.Lock()
		t0 := time.Now()
		t1 := t.LastBuckets["reply"]
		if t0.Before(t1) {
			t.mu.Unlock()
			return
		}
		t.LastBuckets["reply"] = t0.Add(time.Second)
		replier := t.Replier
		t.mu.Unlock()

		msg := fmt.Sprintf(format, args...)
		if replier == nil {
			t.Logger.Info(msg, "source", "reply")
			return
		}
		replier(msg)
	})
	define("rate", func(key string, delta int64) bool {
		t.mu.Lock()
		defer t.mu.Unlock()

		last, ok := t.LastBuckets[key]
		if !ok || time.Now().After(last) {
			t.LastBuckets[key] = time.Now().Add(time.Duration(delta) * time.Second)
			return true
		}
		return false
	})
	define("sleep", func(duration interface{}) {
		switch d := duration.(type) {
		case int64:
			time.Sleep(time.Duration(d) * time.Second)
		case float64:
			time.Sleep(time.Duration(d * float64(time.Second)))
		default:
			t.Logger.Warnf("bad argument for sleep: %v (%T)", duration, duration)
		}
	})
	define("int", func(token string) int64 {
		n, err := strconv.ParseInt(token, 0, 64)
		if err != nil {
			t.Logger.Warnf("cannot convert %q to int: %s", token, err)
			return -1
		}
		return n
	})
	define("log", func(format string, args ...interface{}) {
		t.Logger.Info(fmt.Sprintf(format, args...), "source", "script")
	})
	define("join", strings.Join)
	define("sprintf", fmt.Sprintf)
}
