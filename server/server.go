package server

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/raniellyferreira/kvscript/command"
	"github.com/raniellyferreira/kvscript/protocol"
)

const (
	// DefaultScriptTimeout bounds one command, scripts included
	DefaultScriptTimeout = 5 * time.Second

	// DefaultIdleTimeout closes connections that send nothing for this long
	DefaultIdleTimeout = 5 * time.Minute

	// Databases is the number of logical databases SELECT accepts
	Databases = 16
)

// Server provides Redis protocol server functionality
type Server struct {
	table *command.Table

	// Server configuration
	addr          string
	password      string
	scriptTimeout time.Duration
	idleTimeout   time.Duration
	logger        *zap.Logger

	// Connection management
	listener net.Listener
	clients  sync.Map // map[net.Conn]*Client

	// Control
	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	maxClients int
	limiter    *ipRateLimiter

	connCount    atomic.Int64
	clientCount  atomic.Int64
	commandCount atomic.Int64
	errorCount   atomic.Int64
}

// Client represents a connected Redis client
type Client struct {
	conn   net.Conn
	reader *protocol.Reader
	writer *protocol.Writer
	server *Server

	// Client state
	authenticated bool
	session       command.Session
	lastCmd       time.Time

	// Control
	ctx       context.Context
	cancel    context.CancelFunc
	closeOnce sync.Once
}

// Option configures a Server
type Option func(*Server)

// WithPassword requires clients to AUTH with password
func WithPassword(password string) Option {
	return func(s *Server) {
		s.password = password
	}
}

// WithScriptTimeout sets the time limit of one command. Zero disables it.
func WithScriptTimeout(d time.Duration) Option {
	return func(s *Server) {
		s.scriptTimeout = d
	}
}

// WithIdleTimeout sets how long a silent connection is kept open
func WithIdleTimeout(d time.Duration) Option {
	return func(s *Server) {
		s.idleTimeout = d
	}
}

// WithMaxClients limits concurrent connections. Zero means no limit.
func WithMaxClients(n int) Option {
	return func(s *Server) {
		s.maxClients = n
	}
}

// WithRateLimit allows each client address perSecond commands on average
// with bursts of burst. A non-positive perSecond disables the limit.
func WithRateLimit(perSecond float64, burst int) Option {
	return func(s *Server) {
		if perSecond <= 0 {
			s.limiter = nil
			return
		}
		if burst < 1 {
			burst = 1
		}
		s.limiter = newIPRateLimiter(rate.Limit(perSecond), burst)
	}
}

// WithLogger sets the logger
func WithLogger(l *zap.Logger) Option {
	return func(s *Server) {
		if l != nil {
			s.logger = l
		}
	}
}

// NewServer creates a new Redis protocol server executing commands on table
func NewServer(addr string, table *command.Table, opts ...Option) *Server {
	ctx, cancel := context.WithCancel(context.Background())

	s := &Server{
		table:         table,
		addr:          addr,
		scriptTimeout: DefaultScriptTimeout,
		idleTimeout:   DefaultIdleTimeout,
		logger:        zap.NewNop(),
		ctx:           ctx,
		cancel:        cancel,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Start starts the Redis server
func (s *Server) Start() error {
	var err error
	s.listener, err = net.Listen("tcp", s.addr)
	if err != nil {
		return fmt.Errorf("failed to listen on %s: %w", s.addr, err)
	}
	s.logger.Info("server listening", zap.String("addr", s.listener.Addr().String()))

	s.wg.Add(1)
	go s.acceptConnections()

	return nil
}

// Stop stops the Redis server
func (s *Server) Stop() error {
	s.cancel()

	if s.listener != nil {
		s.listener.Close()
	}

	// Close all client connections
	s.clients.Range(func(key, value interface{}) bool {
		if client, ok := value.(*Client); ok {
			client.Close()
		}
		return true
	})

	s.wg.Wait()
	s.logger.Info("server stopped")
	return nil
}

// Addr returns the server's listening address
func (s *Server) Addr() string {
	if s.listener != nil {
		return s.listener.Addr().String()
	}
	return s.addr
}

// Stats returns server statistics
func (s *Server) Stats() map[string]interface{} {
	return map[string]interface{}{
		"connected_clients": int(s.clientCount.Load()),
		"total_commands":    s.commandCount.Load(),
		"total_errors":      s.errorCount.Load(),
		"total_connections": s.connCount.Load(),
	}
}

// acceptConnections accepts new client connections
func (s *Server) acceptConnections() {
	defer s.wg.Done()

	for {
		conn, err := s.listener.Accept()
		if err != nil {
			if s.ctx.Err() != nil {
				return // Server is shutting down
			}
			s.logger.Warn("accept failed", zap.Error(err))
			continue
		}

		s.handleNewClient(conn)
	}
}

// handleNewClient handles a new client connection
func (s *Server) handleNewClient(conn net.Conn) {
	s.connCount.Add(1)
	if s.maxClients > 0 && s.clientCount.Load() >= int64(s.maxClients) {
		s.logger.Warn("rejecting client", zap.String("remote", conn.RemoteAddr().String()), zap.Int("max_clients", s.maxClients))
		w := protocol.NewWriter(conn)
		_ = w.WriteError("ERR max number of clients reached")
		_ = w.Flush()
		conn.Close()
		return
	}
	s.clientCount.Add(1)

	ctx, cancel := context.WithCancel(s.ctx)
	client := &Client{
		conn:          conn,
		reader:        protocol.NewReader(conn),
		writer:        protocol.NewWriter(conn),
		server:        s,
		authenticated: s.password == "", // Auto-authenticated if no password
		lastCmd:       time.Now(),
		ctx:           ctx,
		cancel:        cancel,
	}

	s.clients.Store(conn, client)
	s.logger.Debug("client connected", zap.String("remote", conn.RemoteAddr().String()))

	s.wg.Add(1)
	go client.handle()
}

// Close closes the client connection
func (c *Client) Close() {
	c.closeOnce.Do(func() {
		c.cancel()
		c.conn.Close()
		c.server.clients.Delete(c.conn)
		c.server.clientCount.Add(-1)
	})
}

// handle handles client requests
func (c *Client) handle() {
	defer c.server.wg.Done()
	defer c.Close()

	for {
		if c.server.idleTimeout > 0 {
			c.conn.SetReadDeadline(time.Now().Add(c.server.idleTimeout))
		}

		value, err := c.reader.ReadNext()
		if err != nil {
			if errors.Is(err, io.EOF) || c.ctx.Err() != nil {
				return
			}
			var ne net.Error
			if errors.As(err, &ne) && ne.Timeout() {
				return
			}
			if errors.Is(err, protocol.ErrProtocol) {
				c.writeError("ERR " + err.Error())
			}
			return
		}

		// blank inline line
		if value.Type == protocol.TypeArray && len(value.Array) == 0 {
			continue
		}

		cmd, err := protocol.ParseCommand(value)
		if err != nil {
			c.writeError(fmt.Sprintf("ERR Protocol error: %v", err))
			continue
		}

		c.lastCmd = time.Now()
		if !c.executeCommand(cmd) {
			return
		}
	}
}

// executeCommand executes a Redis command. It returns false when the
// connection must be closed.
func (c *Client) executeCommand(cmd *protocol.Command) bool {
	c.server.commandCount.Add(1)

	name := strings.ToUpper(cmd.Name)

	if c.server.limiter != nil && !c.server.limiter.allow(c.conn.RemoteAddr()) {
		c.writeError("ERR rate limit exceeded")
		return true
	}

	// Check authentication first
	if !c.authenticated && name != "AUTH" && name != "QUIT" {
		c.writeError("NOAUTH Authentication required.")
		return true
	}

	switch name {
	case "AUTH":
		c.handleAuth(cmd)
	case "SELECT":
		c.handleSelect(cmd)
	case "QUIT":
		c.writeValue(protocol.OK())
		return false
	default:
		c.writeValue(c.server.exec(c.ctx, &c.session, cmd.Argv()))
	}
	return true
}

// exec runs argv through the command table under the script time limit
func (s *Server) exec(ctx context.Context, sess *command.Session, argv [][]byte) protocol.Value {
	if s.scriptTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.scriptTimeout)
		defer cancel()
	}
	return s.table.Exec(ctx, sess, argv)
}

// Command handlers

func (c *Client) handleAuth(cmd *protocol.Command) {
	if len(cmd.Args) != 1 {
		c.writeError("ERR wrong number of arguments for 'auth' command")
		return
	}

	if c.server.password == "" {
		c.writeError("ERR AUTH <password> called without any password configured for the default user. Are you sure your configuration is correct?")
		return
	}

	if string(cmd.Args[0]) == c.server.password {
		c.authenticated = true
		c.writeValue(protocol.OK())
	} else {
		c.server.logger.Warn("authentication failed", zap.String("remote", c.conn.RemoteAddr().String()))
		c.writeError("WRONGPASS invalid username-password pair or user is disabled.")
	}
}

func (c *Client) handleSelect(cmd *protocol.Command) {
	if len(cmd.Args) != 1 {
		c.writeError("ERR wrong number of arguments for 'select' command")
		return
	}

	db, err := strconv.Atoi(string(cmd.Args[0]))
	if err != nil {
		c.writeError("ERR value is not an integer or out of range")
		return
	}
	if db < 0 || db >= Databases {
		c.writeError("ERR DB index is out of range")
		return
	}

	c.session.DB = db
	c.writeValue(protocol.OK())
}

// Response writers

func (c *Client) writeValue(v protocol.Value) {
	if v.IsError() {
		c.server.errorCount.Add(1)
	}
	if err := c.writer.WriteValue(v); err != nil {
		c.server.logger.Debug("write failed", zap.Error(err))
		return
	}
	c.writer.Flush()
}

func (c *Client) writeError(s string) {
	c.writeValue(protocol.Error(s))
}
