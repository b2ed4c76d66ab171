package main

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"net"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/c2h5oh/datasize"
	"github.com/dustin/go-humanize"
	"github.com/go-kit/log"
	"github.com/go-kit/log/level"
	"github.com/google/uuid"
	"github.com/pkg/errors"
	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/atomic"
	"golang.org/x/sync/errgroup"

	"skabillium/memoq/cmd/db"
	"skabillium/memoq/cmd/resp"
)

const MemoVersion = "0.1.0"

const DefaultUser = "default"

var (
	ErrNoAuth    = errors.New("NOAUTH Authentication required.")
	ErrWrongPass = errors.New("WRONGPASS invalid username-password pair or user is disabled.")
	ErrNoProto   = errors.New("NOPROTO unsupported protocol version")
	ErrAuthOff   = errors.New("ERR AUTH <password> called without any password configured for the default user. Are you sure your configuration is correct?")
)

// client is the per connection state.
type client struct {
	id            uuid.UUID
	authenticated bool
}

type Server struct {
	options *ServerOptions
	logger  log.Logger
	reg     *prometheus.Registry
	metrics *serverMetrics

	// mtx guards the keyspace and popBuf. Queues are not safe for
	// concurrent use, one lock for everything is enough.
	mtx    sync.Mutex
	db     *db.Database
	popBuf []byte
	budget *db.Budget

	ready   chan struct{}
	ln      net.Listener
	adminLn net.Listener

	connsMtx sync.Mutex
	conns    map[net.Conn]struct{}

	startedAt         time.Time
	commandsProcessed atomic.Uint64
	connectionsTotal  atomic.Uint64
	clients           atomic.Int64
}

func NewServer(options *ServerOptions, logger log.Logger) *Server {
	budget := db.NewBudget(options.MaxMemory)

	var alloc db.Allocator = budget
	if options.Debug.AllocFailPercent > 0 {
		alloc = db.NewFaultInjector(budget, options.Debug.AllocFailPercent, options.Debug.AllocFailSeed)
	}

	s := &Server{
		options: options,
		logger:  logger,
		reg:     prometheus.NewRegistry(),
		db:      db.NewDatabase(alloc),
		popBuf:  make([]byte, options.PopBufferSize),
		budget:  budget,
		ready:   make(chan struct{}),
		conns:   make(map[net.Conn]struct{}),
	}

	s.metrics = newServerMetrics(s.reg,
		func() float64 { return float64(budget.Used()) },
		func() float64 {
			s.mtx.Lock()
			defer s.mtx.Unlock()
			return float64(s.db.DbSize())
		},
	)
	return s
}

// Ready is closed once the listeners are bound.
func (s *Server) Ready() <-chan struct{} {
	return s.ready
}

// Addr is the address the RESP listener is bound to. Only valid after
// Ready is closed.
func (s *Server) Addr() net.Addr {
	return s.ln.Addr()
}

// AdminAddr is nil when the admin server is disabled.
func (s *Server) AdminAddr() net.Addr {
	if s.adminLn == nil {
		return nil
	}
	return s.adminLn.Addr()
}

// Start serves clients until ctx is cancelled. It returns once every
// connection has been closed.
func (s *Server) Start(ctx context.Context) error {
	addr := net.JoinHostPort(s.options.Host, s.options.Port)
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return errors.Wrapf(err, "listening on %s", addr)
	}
	s.ln = ln

	var admin *http.Server
	if s.options.AdminAddr != "" {
		s.adminLn, err = net.Listen("tcp", s.options.AdminAddr)
		if err != nil {
			ln.Close()
			return errors.Wrapf(err, "listening on %s", s.options.AdminAddr)
		}
		admin = &http.Server{Handler: s.adminRouter(), ReadHeaderTimeout: 10 * time.Second}
	}

	s.startedAt = time.Now()
	close(s.ready)

	level.Info(s.logger).Log("msg", "Memo server started", "addr", ln.Addr(), "version", MemoVersion,
		"maxmemory", s.options.MaxMemory.HumanReadable(), "auth", s.options.AuthEnabled())

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return s.acceptLoop(gctx, g)
	})
	if admin != nil {
		level.Info(s.logger).Log("msg", "admin server started", "addr", s.adminLn.Addr())
		g.Go(func() error {
			if err := admin.Serve(s.adminLn); err != nil && !errors.Is(err, http.ErrServerClosed) {
				return errors.Wrap(err, "admin server")
			}
			return nil
		})
	}
	g.Go(func() error {
		<-gctx.Done()
		level.Info(s.logger).Log("msg", "shutting down")

		ln.Close()
		if admin != nil {
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			admin.Shutdown(shutdownCtx)
		}
		s.closeConns()
		return nil
	})

	err = g.Wait()

	s.mtx.Lock()
	s.db.FlushAll()
	s.mtx.Unlock()
	return err
}

func (s *Server) acceptLoop(ctx context.Context, g *errgroup.Group) error {
	for {
		conn, err := s.ln.Accept()
		if err != nil {
			if ctx.Err() != nil || errors.Is(err, net.ErrClosed) {
				return nil
			}
			level.Warn(s.logger).Log("msg", "accept error", "err", err)
			continue
		}

		if !s.trackConn(conn) {
			conn.Close()
			return nil
		}
		g.Go(func() error {
			defer s.untrackConn(conn)
			s.handleConnection(conn)
			return nil
		})
	}
}

func (s *Server) trackConn(conn net.Conn) bool {
	s.connsMtx.Lock()
	defer s.connsMtx.Unlock()
	if s.conns == nil {
		return false
	}
	s.conns[conn] = struct{}{}
	s.clients.Inc()
	s.connectionsTotal.Inc()
	s.metrics.connectedClients.Inc()
	s.metrics.connections.Inc()
	return true
}

func (s *Server) untrackConn(conn net.Conn) {
	s.connsMtx.Lock()
	defer s.connsMtx.Unlock()
	conn.Close()
	if _, ok := s.conns[conn]; ok {
		delete(s.conns, conn)
		s.clients.Dec()
		s.metrics.connectedClients.Dec()
	}
}

// closeConns closes every open connection and stops tracking new ones.
func (s *Server) closeConns() {
	s.connsMtx.Lock()
	defer s.connsMtx.Unlock()
	for conn := range s.conns {
		conn.Close()
	}
	s.conns = nil
}

func (s *Server) handleConnection(conn net.Conn) {
	c := &client{id: uuid.New(), authenticated: !s.options.AuthEnabled()}
	logger := log.With(s.logger, "conn", c.id, "remote", conn.RemoteAddr())
	level.Debug(logger).Log("msg", "client connected")

	r := bufio.NewReader(conn)
	w := bufio.NewWriter(conn)
	for {
		req, err := resp.Read(r)
		if err != nil {
			if errors.Is(err, resp.ErrProtocol) {
				w.WriteString(resp.SerializeError(errors.Errorf("ERR %v", err)))
				w.Flush()
				level.Warn(logger).Log("msg", "protocol error", "err", err)
			} else if err != io.EOF && !errors.Is(err, net.ErrClosed) {
				level.Warn(logger).Log("msg", "error while reading from client", "err", err)
			}
			level.Debug(logger).Log("msg", "client disconnected")
			return
		}
		if req == "" {
			continue
		}

		reply, quit := s.handle(c, req, logger)
		out, err := resp.Serialize(reply)
		if err != nil {
			level.Error(logger).Log("msg", "could not serialize reply", "err", err)
			out = resp.SerializeError(errors.New("ERR internal error"))
		}

		if _, err := w.WriteString(out); err != nil {
			return
		}
		// Replies to pipelined commands go out together.
		if r.Buffered() == 0 || quit {
			if err := w.Flush(); err != nil {
				return
			}
		}
		if quit {
			return
		}
	}
}

// handle runs one request and returns the reply and whether the
// connection should be closed afterwards.
func (s *Server) handle(c *client, req any, logger log.Logger) (any, bool) {
	s.commandsProcessed.Inc()
	if str, err := StringifyRequest(req); err == nil {
		level.Debug(logger).Log("msg", "command", "cmd", str)
	}

	args, err := requestArgs(req)
	if err != nil {
		s.metrics.commandErrors.WithLabelValues("unknown").Inc()
		return err, false
	}

	cmd, err := parseArgs(args)
	if err != nil {
		s.metrics.commandErrors.WithLabelValues("unknown").Inc()
		return err, false
	}

	name := cmd.Name()
	s.metrics.commands.WithLabelValues(name).Inc()

	reply := s.execute(c, cmd)
	if err, ok := reply.(error); ok {
		s.metrics.commandErrors.WithLabelValues(name).Inc()
		level.Debug(logger).Log("msg", "command failed", "cmd", name, "err", err)
	}
	return reply, cmd.Kind == CmdQuit
}

func (s *Server) checkAuth(user, password string) bool {
	if user == "" {
		user = DefaultUser
	}
	expected := s.options.Auth.User
	if expected == "" {
		expected = DefaultUser
	}
	return user == expected && password == s.options.Auth.Password
}

func (s *Server) execute(c *client, cmd *Command) any {
	switch cmd.Kind {
	case CmdAuth:
		if !s.options.AuthEnabled() {
			return ErrAuthOff
		}
		if !s.checkAuth(cmd.Auth.User, cmd.Auth.Password) {
			return ErrWrongPass
		}
		c.authenticated = true
		return resp.OK
	case CmdHello:
		return s.hello(c, cmd)
	case CmdQuit:
		return resp.OK
	}

	if !c.authenticated {
		return ErrNoAuth
	}

	switch cmd.Kind {
	case CmdVersion:
		return resp.SimpleString("Memo server version " + MemoVersion)
	case CmdPing:
		if cmd.Value != "" {
			return cmd.Value
		}
		return resp.SimpleString("PONG")
	case CmdEcho:
		return cmd.Value
	case CmdInfo:
		return s.info()
	}

	s.mtx.Lock()
	defer s.mtx.Unlock()

	switch cmd.Kind {
	case CmdKeys:
		keys, err := s.db.Keys(cmd.Pattern)
		if err != nil {
			return errors.New("ERR invalid pattern")
		}
		return keys
	case CmdDbSize:
		return s.db.DbSize()
	case CmdFlushAll:
		s.db.FlushAll()
		return resp.OK
	case CmdSet:
		s.db.Set(cmd.Key, cmd.Value)
		return resp.OK
	case CmdGet:
		value, found, err := s.db.Get(cmd.Key)
		if err != nil {
			return err
		}
		if !found {
			return nil
		}
		return value
	case CmdDel:
		return s.db.Del(cmd.Keys...)
	case CmdExists:
		return s.db.Exists(cmd.Keys...)
	case CmdType:
		return resp.SimpleString(s.db.Type(cmd.Key))
	case CmdQueuePushHead:
		n, err := s.db.PushHead(cmd.Key, cmd.Values...)
		if err != nil {
			return err
		}
		return n
	case CmdQueuePushTail:
		n, err := s.db.PushTail(cmd.Key, cmd.Values...)
		if err != nil {
			return err
		}
		return n
	case CmdQueuePop:
		value, found, err := s.db.PopHead(cmd.Key, s.popBuf)
		if err != nil {
			return err
		}
		if !found {
			return nil
		}
		return value
	case CmdQueueLen:
		n, err := s.db.Len(cmd.Key)
		if err != nil {
			return err
		}
		return n
	case CmdQueueRange:
		values, err := s.db.Range(cmd.Key, cmd.Start, cmd.Stop)
		if err != nil {
			return err
		}
		return values
	case CmdQueueReverse:
		if err := s.db.Reverse(cmd.Key); err != nil {
			return err
		}
		return resp.OK
	case CmdQueueSort:
		if err := s.db.Sort(cmd.Key); err != nil {
			return err
		}
		return resp.OK
	}

	return ErrUnknownCmd(cmd.Name())
}

// hello only speaks RESP2. The reply is the flattened map RESP2 servers
// send.
func (s *Server) hello(c *client, cmd *Command) any {
	if cmd.RespVersion != "" && cmd.RespVersion != "2" {
		return ErrNoProto
	}
	if cmd.Auth.Password != "" || cmd.Auth.User != "" {
		if !s.checkAuth(cmd.Auth.User, cmd.Auth.Password) {
			return ErrWrongPass
		}
		c.authenticated = true
	}
	if !c.authenticated {
		return ErrNoAuth
	}

	return []any{
		"server", "memoq",
		"version", MemoVersion,
		"proto", 2,
		"id", c.id.String(),
		"mode", "standalone",
		"role", "master",
		"modules", []any{},
	}
}

func (s *Server) info() string {
	s.mtx.Lock()
	keys := s.db.DbSize()
	s.mtx.Unlock()

	used := uint64(s.budget.Used())
	maxMemory := s.budget.Limit()

	var sb strings.Builder
	section := func(name string) {
		if sb.Len() > 0 {
			sb.WriteString("\r\n")
		}
		sb.WriteString("# " + name + "\r\n")
	}
	field := func(k string, v any) {
		fmt.Fprintf(&sb, "%s:%v\r\n", k, v)
	}

	section("Server")
	field("memoq_version", MemoVersion)
	field("tcp_port", s.options.Port)
	field("uptime_in_seconds", int64(time.Since(s.startedAt).Seconds()))

	section("Clients")
	field("connected_clients", s.clients.Load())

	section("Memory")
	field("used_memory", used)
	field("used_memory_human", humanize.IBytes(used))
	field("maxmemory", maxMemory.Bytes())
	if maxMemory == 0 {
		field("maxmemory_human", "0B")
	} else {
		field("maxmemory_human", humanize.IBytes(maxMemory.Bytes()))
	}
	field("allocation_failures", s.budget.Failures())

	section("Stats")
	field("total_connections_received", s.connectionsTotal.Load())
	field("total_commands_processed", s.commandsProcessed.Load())
	field("pop_buffer_size", datasize.ByteSize(s.options.PopBufferSize).HumanReadable())

	section("Keyspace")
	field("keys", keys)

	return sb.String()
}
