package uplink

import (
	"bytes"
	"context"
	"crypto/subtle"
	"fmt"
	"io"
	"net"
	"os/exec"
	"strings"
	"sync"
	"sync/atomic"
	"syscall"
	"time"

	"github.com/juju/errors"
	"github.com/temoto/alive/v2"
	"github.com/temoto/thermolink/log2"
	telenet "github.com/temoto/thermolink/tele/net"
	"golang.org/x/sys/unix"
)

const (
	DefaultCommandTimeout = 10 * time.Second
	DefaultNetworkTimeout = 5 * time.Second
	DefaultIdleGap        = 200 * time.Millisecond
	DefaultReadLimit      = 64 << 10
	DefaultShell          = "/bin/sh"

	Separator = "|"

	RespInvalidFormat = "ERROR: invalid format"
	RespAccessDenied  = "ACCESS DENIED"
	RespNoOutput      = "(command executed, no output)"
)

var ErrNoSecret = errors.NotValidf("command secret empty")

type ServerOptions struct {
	Secret         string
	Shell          string
	CommandTimeout time.Duration
	NetworkTimeout time.Duration
	// IdleGap ends request without newline once some bytes arrived.
	IdleGap   time.Duration
	ReadLimit int64
	Log       *log2.Log
}

type ServerStat struct {
	Accepted uint32
	Denied   uint32
	Invalid  uint32
	Executed uint32
	Failed   uint32
	TimedOut uint32
}

// Server executes authenticated shell commands.
type Server struct {
	alive *alive.Alive
	mu    sync.Mutex
	ln    net.Listener
	log   *log2.Log
	opt   ServerOptions
	stat  ServerStat
}

func NewServer(opt ServerOptions) (*Server, error) {
	if opt.Secret == "" {
		return nil, ErrNoSecret
	}
	if strings.Contains(opt.Secret, Separator) {
		return nil, errors.NotValidf("command secret contains %q", Separator)
	}
	if opt.Shell == "" {
		opt.Shell = DefaultShell
	}
	if opt.CommandTimeout == 0 {
		opt.CommandTimeout = DefaultCommandTimeout
	}
	if opt.NetworkTimeout == 0 {
		opt.NetworkTimeout = DefaultNetworkTimeout
	}
	if opt.ReadLimit == 0 {
		opt.ReadLimit = DefaultReadLimit
	}
	if opt.IdleGap == 0 {
		opt.IdleGap = DefaultIdleGap
	}
	return &Server{
		alive: alive.NewAlive(),
		log:   opt.Log,
		opt:   opt,
	}, nil
}

// Listen accepts "tcp://host:port" or plain "host:port".
func (s *Server) Listen(ctx context.Context, addr string) error {
	network, hostport := "tcp", addr
	if strings.Contains(addr, "://") {
		var err error
		if network, hostport, err = telenet.ParseURI(addr); err != nil {
			return errors.Annotatef(err, "command listen parse url=%s", addr)
		}
	}
	lc := net.ListenConfig{}
	ln, err := lc.Listen(ctx, network, hostport)
	if err != nil {
		return errors.Annotatef(err, "command listen network=%s address=%s", network, hostport)
	}
	if !s.alive.Add(1) {
		_ = ln.Close()
		return errors.Errorf("Listen after Close")
	}
	s.mu.Lock()
	s.ln = ln
	s.mu.Unlock()
	s.log.Infof("command channel listen=%s", ln.Addr())
	go s.acceptLoop(ln)
	return nil
}

func (s *Server) Addr() net.Addr {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.ln == nil {
		return nil
	}
	return s.ln.Addr()
}

func (s *Server) Close() error {
	s.alive.Stop()
	s.mu.Lock()
	if s.ln != nil {
		_ = s.ln.Close()
	}
	s.mu.Unlock()
	s.alive.Wait()
	return nil
}

func (s *Server) Stat() ServerStat {
	return ServerStat{
		Accepted: atomic.LoadUint32(&s.stat.Accepted),
		Denied:   atomic.LoadUint32(&s.stat.Denied),
		Invalid:  atomic.LoadUint32(&s.stat.Invalid),
		Executed: atomic.LoadUint32(&s.stat.Executed),
		Failed:   atomic.LoadUint32(&s.stat.Failed),
		TimedOut: atomic.LoadUint32(&s.stat.TimedOut),
	}
}

func (s *Server) acceptLoop(ln net.Listener) {
	defer s.alive.Done()
	for {
		conn, err := ln.Accept()
		if !s.alive.IsRunning() {
			if conn != nil {
				_ = conn.Close()
			}
			return
		}
		if err != nil {
			if ne, ok := err.(net.Error); ok && ne.Temporary() { //nolint:staticcheck
				s.log.Errorf("command accept err=%v", err)
				time.Sleep(100 * time.Millisecond)
				continue
			}
			s.log.Error(errors.Annotatef(err, "command accept listen=%s", ln.Addr()))
			return
		}
		// strictly one at a time
		s.serve(conn)
	}
}

func (s *Server) serve(conn net.Conn) {
	defer conn.Close()
	atomic.AddUint32(&s.stat.Accepted, 1)
	remote := conn.RemoteAddr().String()

	line, err := s.readRequest(conn)
	if err != nil {
		s.log.Errorf("command read remote=%s err=%s", remote, telenet.PrettyError(err))
		return
	}

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		select {
		case <-s.alive.StopChan():
		case <-ctx.Done():
		}
		cancel()
	}()
	resp := s.handle(ctx, remote, line)
	cancel()

	_ = conn.SetWriteDeadline(time.Now().Add(s.opt.NetworkTimeout))
	if _, err := io.WriteString(conn, resp); err != nil {
		s.log.Errorf("command write remote=%s err=%s", remote, telenet.PrettyError(err))
	}
}

// readRequest returns bytes up to first newline, EOF, ReadLimit
// or IdleGap of silence after some data. Error only when nothing usable arrived.
func (s *Server) readRequest(conn net.Conn) (string, error) {
	deadline := time.Now().Add(s.opt.NetworkTimeout)
	buf := make([]byte, 0, 512)
	chunk := make([]byte, 512)
	for {
		d := deadline
		if len(buf) != 0 {
			if gap := time.Now().Add(s.opt.IdleGap); gap.Before(d) {
				d = gap
			}
		}
		if err := conn.SetReadDeadline(d); err != nil {
			return "", errors.Annotate(err, "SetReadDeadline")
		}
		n, err := conn.Read(chunk)
		buf = append(buf, chunk[:n]...)
		if i := bytes.IndexByte(buf, '\n'); i >= 0 {
			buf = buf[:i]
			break
		}
		if int64(len(buf)) >= s.opt.ReadLimit {
			buf = buf[:s.opt.ReadLimit]
			break
		}
		if err == io.EOF {
			// empty request still gets invalid format response
			break
		}
		if err != nil {
			if ne, ok := err.(net.Error); ok && ne.Timeout() && len(buf) != 0 {
				break
			}
			return "", err
		}
	}
	return strings.TrimRight(string(buf), "\r"), nil
}

// ParseRequest splits on first separator, command may contain more.
func ParseRequest(line string) (secret, command string, ok bool) {
	i := strings.Index(line, Separator)
	if i < 0 {
		return "", "", false
	}
	return line[:i], line[i+len(Separator):], true
}

func (s *Server) handle(ctx context.Context, remote, line string) string {
	secret, command, ok := ParseRequest(line)
	if !ok {
		atomic.AddUint32(&s.stat.Invalid, 1)
		s.log.Errorf("command invalid format remote=%s", remote)
		return RespInvalidFormat
	}
	if subtle.ConstantTimeCompare([]byte(secret), []byte(s.opt.Secret)) != 1 {
		atomic.AddUint32(&s.stat.Denied, 1)
		s.log.Errorf("command access denied remote=%s", remote)
		return RespAccessDenied
	}
	s.log.Infof("command remote=%s exec=%q", remote, command)
	return s.exec(ctx, command)
}

func (s *Server) exec(ctx context.Context, command string) string {
	ctx, cancel := context.WithTimeout(ctx, s.opt.CommandTimeout)
	defer cancel()

	cmd := exec.CommandContext(ctx, s.opt.Shell, "-c", command)
	cmd.SysProcAttr = &syscall.SysProcAttr{Setpgid: true}
	// kill whole process group so background children release output pipe
	cmd.Cancel = func() error { return unix.Kill(-cmd.Process.Pid, unix.SIGKILL) }
	cmd.WaitDelay = time.Second
	out, err := cmd.CombinedOutput()

	if ctx.Err() == context.DeadlineExceeded {
		atomic.AddUint32(&s.stat.TimedOut, 1)
		s.log.Errorf("command timed out after %s", s.opt.CommandTimeout)
		return fmt.Sprintf("ERROR: command timed out after %s", s.opt.CommandTimeout)
	}
	if err != nil {
		atomic.AddUint32(&s.stat.Failed, 1)
		s.log.Errorf("command err=%v", err)
		resp := "ERROR: " + err.Error()
		if len(out) != 0 {
			resp += "\n" + string(out)
		}
		return resp
	}
	atomic.AddUint32(&s.stat.Executed, 1)
	if len(bytes.TrimSpace(out)) == 0 {
		return RespNoOutput
	}
	return string(out)
}
