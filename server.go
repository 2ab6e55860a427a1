package main

import (
	"context"
	"embed"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"html/template"
	"io"
	"io/fs"
	"math"
	"net/http"
	"path"
	"strconv"
	"strings"
	"time"

	"github.com/charmbracelet/log"
	"github.com/gin-gonic/contrib/renders/multitemplate"
	"github.com/gin-gonic/gin"
	"golang.org/x/net/websocket"

	"gamemod/memory"
	"gamemod/process"
)

//go:embed templates
var templatesFS embed.FS

type Server struct {
	Config  *Config
	Session *memory.Session
	Trainer *Trainer
	Hub     *Hub
	Bot     *IRCBot
	Logger  *log.Logger
}

func hexAddr(addr uint64) string {
	return fmt.Sprintf("0x%x", addr)
}

// apiError answers with {"error": kind, "description": message}.
func apiError(c *gin.Context, err error) {
	status, kind := errorStatus(err)
	c.AbortWithStatusJSON(status, gin.H{
		"error":       kind,
		"description": err.Error(),
	})
}

var errBadRequest = errors.New("bad request")

func errorStatus(err error) (int, string) {
	switch {
	case errors.Is(err, errBadRequest):
		return http.StatusBadRequest, "bad_request"
	case errors.Is(err, memory.ErrInvalidAddress):
		return http.StatusBadRequest, "invalid_address"
	case errors.Is(err, memory.ErrInvalidSize):
		return http.StatusBadRequest, "invalid_size"
	case errors.Is(err, memory.ErrEmptyChain):
		return http.StatusBadRequest, "empty_chain"
	case errors.Is(err, memory.ErrNoSession):
		return http.StatusConflict, "no_session"
	case errors.Is(err, memory.ErrProcessNotFound):
		return http.StatusNotFound, "process_not_found"
	case errors.Is(err, memory.ErrModuleNotFound):
		return http.StatusNotFound, "module_not_found"
	case errors.Is(err, memory.ErrUnknownLock):
		return http.StatusNotFound, "unknown_lock"
	case errors.Is(err, memory.ErrAttach):
		return http.StatusForbidden, "attach_failed"
	case errors.Is(err, memory.ErrChainRead):
		return http.StatusUnprocessableEntity, "chain_read"
	case errors.Is(err, memory.ErrReadFault):
		return http.StatusUnprocessableEntity, "read_fault"
	case errors.Is(err, memory.ErrWriteFault):
		return http.StatusUnprocessableEntity, "write_fault"
	case errors.Is(err, memory.ErrAllocation):
		return http.StatusInternalServerError, "allocation_failed"
	case errors.Is(err, memory.ErrInjection):
		return http.StatusInternalServerError, "injection_failed"
	}

	return http.StatusInternalServerError, "internal"
}

// bindJSON decodes the request body keeping numbers as json.Number, so
// 64-bit addresses survive.
func bindJSON(c *gin.Context, v interface{}) error {
	dec := json.NewDecoder(c.Request.Body)
	dec.UseNumber()
	if err := dec.Decode(v); err != nil && !errors.Is(err, io.EOF) {
		return fmt.Errorf("%w: %s", errBadRequest, err)
	}
	return nil
}

// target is the address part of a request: either a plain address or a
// pointer chain.
type target struct {
	Address interface{}   `json:"address"`
	Chain   []interface{} `json:"chain"`
}

func (t target) resolve(s *memory.Session) (uint64, error) {
	if len(t.Chain) > 0 {
		return s.Resolve(t.Chain...)
	}
	if t.Address == nil {
		return 0, fmt.Errorf("%w: address or chain is required", errBadRequest)
	}
	return memory.ParseAddress(t.Address)
}

// payload is the data part of a request: raw hex bytes or a typed value.
type payload struct {
	Bytes string      `json:"bytes"`
	Type  string      `json:"type"`
	Value interface{} `json:"value"`
}

func (p payload) encode() ([]byte, error) {
	if p.Type != "" {
		dt, err := memory.ParseDataType(p.Type)
		if err != nil {
			return nil, fmt.Errorf("%w: %s", errBadRequest, err)
		}
		data, err := dt.Encode(p.Value)
		if err != nil {
			return nil, fmt.Errorf("%w: %s", errBadRequest, err)
		}
		return data, nil
	}

	data, err := decodeHex(p.Bytes)
	if err != nil {
		return nil, err
	}
	return data, nil
}

func decodeHex(s string) ([]byte, error) {
	s = strings.ReplaceAll(strings.TrimPrefix(s, "0x"), " ", "")
	data, err := hex.DecodeString(s)
	if err != nil {
		return nil, fmt.Errorf("%w: bad hex: %s", errBadRequest, err)
	}
	return data, nil
}

func lockJSON(l memory.LockInfo) gin.H {
	return gin.H{
		"id":        l.ID,
		"address":   hexAddr(l.Address),
		"bytes":     hex.EncodeToString(l.Payload),
		"period_ms": l.Period.Milliseconds(),
	}
}

func (s *Server) Router() (*gin.Engine, error) {
	r := gin.New()
	r.Use(gin.Recovery(), s.requestLogger())

	if err := s.initTemplates(r); err != nil {
		return nil, err
	}

	api := r.Group("/api")
	api.GET("/processes", s.processes)
	api.GET("/running", s.running)
	api.GET("/session", s.session)
	api.POST("/session", s.attach)
	api.DELETE("/session", s.detach)
	api.GET("/modules", s.modules)
	api.GET("/modules/:name", s.moduleBase)
	api.POST("/resolve", s.resolve)
	api.POST("/read", s.read)
	api.POST("/write", s.write)
	api.GET("/locks", s.locks)
	api.POST("/locks", s.startLock)
	api.DELETE("/locks/:id", s.stopLock)
	api.POST("/inject", s.inject)

	r.GET("/", s.index)
	r.POST("/script", s.loadScript)
	r.POST("/script/run/:cmd", s.runCommand)
	r.GET("/events/ws", s.events)

	return r, nil
}

func (s *Server) requestLogger() gin.HandlerFunc {
	return func(c *gin.Context) {
		t0 := time.Now()
		c.Next()
		s.Logger.Debug("http",
			"method", c.Request.Method,
			"path", c.Request.URL.Path,
			"status", c.Writer.Status(),
			"duration", time.Since(t0),
		)
	}
}

// initTemplates loads the embedded templates. Files whose name starts with
// "_" are partials available to every page.
func (s *Server) initTemplates(r *gin.Engine) error {
	var names, pnames []string

	entries, err := fs.ReadDir(templatesFS, "templates")
	if err != nil {
		return err
	}
	for _, entry := range entries {
		if !entry.Type().IsRegular() {
			continue
		}
		if strings.HasPrefix(entry.Name(), "_") {
			pnames = append(pnames, entry.Name())
		} else {
			names = append(names, entry.Name())
		}
	}

	funcs := template.FuncMap{
		"join": strings.Join,
		"hex":  hexAddr,
	}

	render := multitemplate.New()
	ptmpls := make(map[string]*template.Template)
	for _, pname := range pnames {
		data, err := templatesFS.ReadFile(path.Join("templates", pname))
		if err != nil {
			return fmt.Errorf("cannot open %q: %w", pname, err)
		}
		name := strings.TrimSuffix(pname, ".html")
		tmpl, err := template.New(name).Funcs(funcs).Parse(string(data))
		if err != nil {
			return fmt.Errorf("cannot parse template %q: %w", name, err)
		}
		ptmpls[name] = tmpl
	}
	for _, name := range names {
		data, err := templatesFS.ReadFile(path.Join("templates", name))
		if err != nil {
			return fmt.Errorf("cannot open %q: %w", name, err)
		}
		tmpl, err := template.New(name).Funcs(funcs).Parse(string(data))
		if err != nil {
			return fmt.Errorf("cannot parse template %q: %w", name, err)
		}
		for pname, ptmpl := range ptmpls {
			if _, err := tmpl.AddParseTree(pname, ptmpl.Tree); err != nil {
				return err
			}
		}
		render.Add(name, tmpl)
	}
	r.HTMLRender = render

	return nil
}

func (s *Server) processes(c *gin.Context) {
	list, err := process.List()
	if err != nil {
		apiError(c, err)
		return
	}

	c.JSON(http.StatusOK, list)
}

func (s *Server) running(c *gin.Context) {
	name, path := c.Query("name"), c.Query("path")
	if name == "" || path == "" {
		apiError(c, fmt.Errorf("%w: name and path are required", errBadRequest))
		return
	}

	c.JSON(http.StatusOK, gin.H{"running": process.IsRunning(name, path)})
}

func (s *Server) session(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"open": s.Session.IsOpen(),
		"pid":  s.Session.Pid(),
	})
}

func (s *Server) attach(c *gin.Context) {
	var p struct {
		PID  interface{} `json:"pid"`
		Name string      `json:"name"`
	}
	if err := bindJSON(c, &p); err != nil {
		apiError(c, err)
		return
	}

	var pid uint32
	var err error
	switch {
	case p.PID != nil:
		var v uint64
		v, err = memory.ParseAddress(p.PID)
		if err == nil && v > math.MaxUint32 {
			err = fmt.Errorf("%w: pid %d out of range", errBadRequest, v)
		}
		if err == nil {
			pid, err = s.Session.AttachByID(uint32(v), memory.AccessAll)
		}
	case p.Name != "":
		pid, err = s.Session.AttachByName(p.Name, memory.AccessAll)
	default:
		err = fmt.Errorf("%w: pid or name is required", errBadRequest)
	}
	if err != nil {
		apiError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"pid": pid})
}

func (s *Server) detach(c *gin.Context) {
	if err := s.Session.Close(); err != nil {
		apiError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"ok": true})
}

func (s *Server) modules(c *gin.Context) {
	mods, err := s.Session.Modules()
	if err != nil {
		apiError(c, err)
		return
	}

	out := make([]gin.H, 0, len(mods))
	for _, m := range mods {
		out = append(out, gin.H{
			"name": m.Name,
			"path": m.Path,
			"base": hexAddr(m.Base),
			"size": m.Size,
		})
	}
	c.JSON(http.StatusOK, out)
}

func (s *Server) moduleBase(c *gin.Context) {
	base, err := s.Session.ModuleBase(c.Param("name"))
	if err != nil {
		apiError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"base": hexAddr(base)})
}

func (s *Server) resolve(c *gin.Context) {
	var p struct {
		Chain []interface{} `json:"chain"`
	}
	if err := bindJSON(c, &p); err != nil {
		apiError(c, err)
		return
	}

	addr, err := s.Session.Resolve(p.Chain...)
	if err != nil {
		apiError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"address": hexAddr(addr)})
}

func (s *Server) read(c *gin.Context) {
	var p struct {
		target
		Size int    `json:"size"`
		Type string `json:"type"`
	}
	if err := bindJSON(c, &p); err != nil {
		apiError(c, err)
		return
	}

	var dt memory.DataType
	size := p.Size
	if p.Type != "" {
		var err error
		if dt, err = memory.ParseDataType(p.Type); err != nil {
			apiError(c, fmt.Errorf("%w: %s", errBadRequest, err))
			return
		}
		size = dt.Size()
	}

	addr, err := p.resolve(s.Session)
	if err != nil {
		apiError(c, err)
		return
	}

	buf, err := s.Session.Read(addr, size)
	if err != nil {
		apiError(c, err)
		return
	}

	resp := gin.H{
		"address": hexAddr(addr),
		"bytes":   hex.EncodeToString(buf),
	}
	if p.Type != "" {
		v, err := dt.Decode(buf)
		if err != nil {
			apiError(c, err)
			return
		}
		// Unsigned 64-bit values do not fit a JSON number.
		if u, ok := v.(uint64); ok {
			v = strconv.FormatUint(u, 10)
		}
		resp["value"] = v
	}

	c.JSON(http.StatusOK, resp)
}

func (s *Server) write(c *gin.Context) {
	var p struct {
		target
		payload
	}
	if err := bindJSON(c, &p); err != nil {
		apiError(c, err)
		return
	}

	data, err := p.encode()
	if err != nil {
		apiError(c, err)
		return
	}

	addr, err := p.resolve(s.Session)
	if err != nil {
		apiError(c, err)
		return
	}

	if err := s.Session.Write(addr, data); err != nil {
		apiError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"address": hexAddr(addr), "written": len(data)})
}

func (s *Server) locks(c *gin.Context) {
	locks := s.Session.Locks()
	out := make([]gin.H, 0, len(locks))
	for _, l := range locks {
		out = append(out, lockJSON(l))
	}

	c.JSON(http.StatusOK, out)
}

func (s *Server) startLock(c *gin.Context) {
	var p struct {
		target
		payload
		PeriodMs int64 `json:"period_ms"`
	}
	if err := bindJSON(c, &p); err != nil {
		apiError(c, err)
		return
	}

	data, err := p.encode()
	if err != nil {
		apiError(c, err)
		return
	}

	addr, err := p.resolve(s.Session)
	if err != nil {
		apiError(c, err)
		return
	}

	id, err := s.Session.StartLock(addr, data, time.Duration(p.PeriodMs)*time.Millisecond)
	if err != nil {
		apiError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"id": id, "address": hexAddr(addr)})
}

func (s *Server) stopLock(c *gin.Context) {
	id, err := strconv.ParseInt(c.Param("id"), 10, 64)
	if err != nil {
		apiError(c, fmt.Errorf("%w: bad lock id %q", errBadRequest, c.Param("id")))
		return
	}

	if err := s.Session.StopLock(memory.LockID(id)); err != nil {
		apiError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"ok": true})
}

func (s *Server) inject(c *gin.Context) {
	var p struct {
		Code string `json:"code"`
	}
	if err := bindJSON(c, &p); err != nil {
		apiError(c, err)
		return
	}

	code, err := decodeHex(p.Code)
	if err != nil {
		apiError(c, err)
		return
	}

	inj, err := s.Session.Inject(code)
	if err != nil {
		apiError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"address":   hexAddr(inj.Address),
		"thread_id": inj.ThreadID,
	})
}

func (s *Server) index(c *gin.Context) {
	c.HTML(http.StatusOK, "index.html", gin.H{
		"Session":  s.Session,
		"Locks":    s.Session.Locks(),
		"Commands": s.Trainer.Commands(),
		"Script":   s.Trainer.Script(),
		"Bot":      s.Bot,
		"Config":   s.Config,
		"Error":    c.Query("error"),
	})
}

func (s *Server) loadScript(c *gin.Context) {
	var p struct {
		Script string `form:"script"`
	}

	if err := c.ShouldBind(&p); err != nil {
		apiError(c, fmt.Errorf("%w: %s", errBadRequest, err))
		return
	}

	script := strings.TrimSpace(p.Script)
	if script == "" {
		script = s.Config.Script
	}

	err := s.Trainer.LoadScript(script)
	if err != nil {
		c.AbortWithStatusJSON(http.StatusOK, gin.H{
			"error":       "script_error",
			"description": err.Error(),
		})
		return
	}

	s.Config.Script = script
	if err := s.Config.SaveScript(); err != nil {
		s.Logger.Warnf("cannot save script: %s", err)
	}

	c.Redirect(http.StatusFound, "/")
}

func (s *Server) runCommand(c *gin.Context) {
	var p struct {
		Args []string `json:"args"`
	}
	if err := bindJSON(c, &p); err != nil {
		apiError(c, err)
		return
	}

	result, err := s.Trainer.RunCommand(c.Request.Context(), "http", c.Param("cmd"), p.Args)
	if err != nil {
		c.AbortWithStatusJSON(http.StatusOK, gin.H{
			"error":       "script_error",
			"description": err.Error(),
		})
		return
	}

	c.JSON(http.StatusOK, gin.H{"result": fmt.Sprint(result)})
}

func (s *Server) events(c *gin.Context) {
	handler := websocket.Handler(func(ws *websocket.Conn) {
		defer ws.Close()

		// The stream is one-way; a failed read means the client is gone.
		ctx, cancel := context.WithCancel(c.Request.Context())
		defer cancel()
		go func() {
			io.Copy(io.Discard, ws)
			cancel()
		}()

		enc := json.NewEncoder(ws)
		for event := range s.Hub.Subscribe(ctx) {
			err := enc.Encode(event)
			if err != nil {
				s.Logger.Debugf("cannot send event: %s", err)
				return
			}
		}
	})
	handler.ServeHTTP(c.Writer, c.Request)
}

// vim: ai:ts=8:sw=8:noet:syntax=go
