package webtui

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"os"
	"os/exec"
	"strings"
	"sync"
	"time"

	"github.com/creack/pty"
	"github.com/gorilla/websocket"
)

var wsUpgrader = websocket.Upgrader{
	ReadBufferSize:  32 * 1024,
	WriteBufferSize: 32 * 1024,
	CheckOrigin:     sameOrigin,
}

// sameOrigin accepts requests without an Origin header (non-browser
// clients) and browser requests from this host.
func sameOrigin(r *http.Request) bool {
	origin := strings.TrimSpace(r.Header.Get("Origin"))
	if origin == "" {
		return true
	}
	return strings.HasSuffix(origin, "://"+strings.TrimSpace(r.Host))
}

// resizeMsg is the only control frame: JSON text {"type":"resize",...}.
type resizeMsg struct {
	Type string `json:"type"`
	Cols int    `json:"cols"`
	Rows int    `json:"rows"`
}

// parseResize reports whether a text frame is a valid resize request.
// Anything else starting with '{' is a malformed control frame and dropped.
func parseResize(data []byte) (size *pty.Winsize, control bool) {
	if len(data) == 0 || data[0] != '{' {
		return nil, false
	}
	var m resizeMsg
	if err := json.Unmarshal(data, &m); err != nil {
		return nil, true
	}
	if !strings.EqualFold(strings.TrimSpace(m.Type), "resize") || m.Cols <= 0 || m.Rows <= 0 || m.Cols > 0xffff || m.Rows > 0xffff {
		return nil, true
	}
	return &pty.Winsize{Cols: uint16(m.Cols), Rows: uint16(m.Rows)}, true
}

// ptySession is one child process attached to a pseudo-terminal.
type ptySession struct {
	ptmx *os.File
	cmd  *exec.Cmd
}

func startSession(argv []string) (*ptySession, error) {
	cmd := exec.Command(argv[0], argv[1:]...)
	cmd.Env = append(os.Environ(), "TERM=xterm-256color", "COLORTERM=truecolor")
	ptmx, err := pty.StartWithSize(cmd, &pty.Winsize{Cols: 120, Rows: 40})
	if err != nil {
		return nil, err
	}
	return &ptySession{ptmx: ptmx, cmd: cmd}, nil
}

func (p *ptySession) pid() int { return p.cmd.Process.Pid }

// kill stops the child, which also unblocks a pending PTY read.
func (p *ptySession) kill() { _ = p.cmd.Process.Kill() }

func (p *ptySession) close() {
	_ = p.ptmx.Close()
	p.kill()
	_, _ = p.cmd.Process.Wait()
}

// toSocket copies terminal output to conn until the child exits.
func (p *ptySession) toSocket(ctx context.Context, conn *websocket.Conn) error {
	buf := make([]byte, 32*1024)
	for ctx.Err() == nil {
		n, err := p.ptmx.Read(buf)
		if n > 0 {
			_ = conn.SetWriteDeadline(time.Now().Add(10 * time.Second))
			if werr := conn.WriteMessage(websocket.BinaryMessage, buf[:n]); werr != nil {
				return werr
			}
		}
		if errors.Is(err, io.EOF) {
			return nil
		}
		if err != nil {
			return err
		}
	}
	return ctx.Err()
}

// fromSocket feeds keystrokes into the terminal and applies resize frames.
func (p *ptySession) fromSocket(ctx context.Context, conn *websocket.Conn) error {
	for ctx.Err() == nil {
		mt, data, err := conn.ReadMessage()
		if err != nil {
			return err
		}
		if mt == websocket.TextMessage {
			if size, control := parseResize(data); control {
				if size != nil {
					_ = pty.Setsize(p.ptmx, size)
				}
				continue
			}
		}
		if len(data) == 0 {
			continue
		}
		if _, err := p.ptmx.Write(data); err != nil {
			return err
		}
	}
	return ctx.Err()
}

func (s *Server) handleWS(w http.ResponseWriter, r *http.Request) {
	conn, err := wsUpgrader.Upgrade(w, r, nil)
	if err != nil {
		// Upgrade has already answered the request.
		s.log.Debug("websocket upgrade failed", "err", err)
		return
	}
	defer conn.Close()

	argv, err := s.command()
	var sess *ptySession
	if err == nil {
		sess, err = startSession(argv)
	}
	if err != nil {
		s.log.Warn("start session", "err", err)
		_ = conn.WriteMessage(websocket.TextMessage, []byte("failed to start session: "+err.Error()))
		return
	}
	defer sess.close()
	s.log.Info("session started", "pid", sess.pid(), "remote", r.RemoteAddr)

	ctx, cancel := context.WithCancel(r.Context())
	defer cancel()

	var wg sync.WaitGroup
	done := make(chan error, 2)
	for _, pump := range []func(context.Context, *websocket.Conn) error{sess.toSocket, sess.fromSocket} {
		wg.Add(1)
		go func() {
			defer wg.Done()
			done <- pump(ctx, conn)
		}()
	}

	select {
	case <-ctx.Done():
	case err := <-done:
		s.log.Debug("session pump stopped", "pid", sess.pid(), "err", err)
	}
	cancel()
	sess.kill()
	_ = conn.Close()
	wg.Wait()
	s.log.Info("session ended", "pid", sess.pid())
}
