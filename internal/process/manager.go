// Package process manages background shell sessions started by the
// exec tool: output capture, polling, stdin, kill, and reaping.
package process

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os/exec"
	"runtime"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
)

const (
	// DefaultMaxBuffer caps a session's captured output in bytes.
	DefaultMaxBuffer = 200_000

	// DefaultWatchdogTimeout kills background sessions that run too long.
	DefaultWatchdogTimeout = 30 * time.Minute

	// DefaultTTL keeps finished sessions around for inspection before
	// the reaper removes them.
	DefaultTTL = 10 * time.Minute

	reapInterval = time.Minute
)

// Info summarizes a session for listings.
type Info struct {
	ID        string    `json:"id"`
	Name      string    `json:"name"`
	Command   string    `json:"command"`
	PID       int       `json:"pid"`
	Status    string    `json:"status"`
	ExitCode  int       `json:"exit_code"`
	StartedAt time.Time `json:"started_at"`
}

// Session is one managed shell process. Output from stdout and stderr
// is merged into a single ring-bounded buffer addressed by absolute
// offsets, so poll cursors survive overflow trimming.
type Session struct {
	ID      string
	Name    string
	Command string

	cmd   *exec.Cmd
	stdin io.WriteCloser

	mu      sync.Mutex
	buf     []byte
	start   int // absolute offset of buf[0]
	cursor  int // absolute poll cursor
	maxBuf  int
	started time.Time
	exited  time.Time

	done     chan struct{}
	exitCode int
}

// Manager tracks sessions and runs the reaper.
type Manager struct {
	mu       sync.Mutex
	sessions map[string]*Session

	maxBuffer int
	watchdog  time.Duration
	ttl       time.Duration
	logger    *slog.Logger
}

// NewManager creates a session manager. Zero values select defaults.
func NewManager(maxBuffer int, watchdog, ttl time.Duration, logger *slog.Logger) *Manager {
	if maxBuffer <= 0 {
		maxBuffer = DefaultMaxBuffer
	}
	if watchdog <= 0 {
		watchdog = DefaultWatchdogTimeout
	}
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Manager{
		sessions:  make(map[string]*Session),
		maxBuffer: maxBuffer,
		watchdog:  watchdog,
		ttl:       ttl,
		logger:    logger.With("component", "process"),
	}
}

// StartReaper runs the TTL reaper until ctx is cancelled.
func (m *Manager) StartReaper(ctx context.Context) {
	go func() {
		ticker := time.NewTicker(reapInterval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				m.reap()
			}
		}
	}()
}

func (m *Manager) reap() {
	now := time.Now()
	m.mu.Lock()
	defer m.mu.Unlock()
	for id, s := range m.sessions {
		s.mu.Lock()
		expired := !s.exited.IsZero() && now.Sub(s.exited) > m.ttl
		s.mu.Unlock()
		if expired {
			delete(m.sessions, id)
			m.logger.Debug("reaped finished session", "id", id)
		}
	}
}

// ShellCommand builds the platform shell invocation for command. The
// process gets its own process group, and context cancellation kills
// the whole group: `sh -c` forks children, and killing only the shell
// would leave them running.
func ShellCommand(ctx context.Context, command string) *exec.Cmd {
	var cmd *exec.Cmd
	if runtime.GOOS == "windows" {
		cmd = exec.CommandContext(ctx, "cmd", "/c", command)
	} else {
		cmd = exec.CommandContext(ctx, "/bin/sh", "-c", command)
	}
	setProcessGroup(cmd)
	cmd.Cancel = func() error { return killProcessGroup(cmd) }
	// Don't wait on grandchildren holding the output pipe open after
	// the group is killed.
	cmd.WaitDelay = 5 * time.Second
	return cmd
}

// Start spawns command via the platform shell and begins capturing its
// output. The watchdog kills the process after the manager's timeout.
func (m *Manager) Start(ctx context.Context, command, cwd string) (*Session, error) {
	if strings.TrimSpace(command) == "" {
		return nil, fmt.Errorf("command is required")
	}

	cmd := ShellCommand(context.WithoutCancel(ctx), command)
	if cwd != "" {
		cmd.Dir = cwd
	}

	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return nil, fmt.Errorf("stdout pipe: %w", err)
	}
	cmd.Stderr = cmd.Stdout
	stdin, err := cmd.StdinPipe()
	if err != nil {
		return nil, fmt.Errorf("stdin pipe: %w", err)
	}

	s := &Session{
		ID:      uuid.NewString(),
		Name:    DeriveName(command),
		Command: command,
		cmd:     cmd,
		stdin:   stdin,
		maxBuf:  m.maxBuffer,
		started: time.Now(),
		done:    make(chan struct{}),
	}

	if err := cmd.Start(); err != nil {
		stdin.Close()
		return nil, fmt.Errorf("start command: %w", err)
	}

	go s.capture(stdout)

	go func() {
		err := cmd.Wait()
		s.mu.Lock()
		s.exitCode = exitCode(err)
		s.exited = time.Now()
		s.mu.Unlock()
		close(s.done)
		stdin.Close()
	}()

	// Detached watchdog; outlives the starting turn by design.
	go func() {
		select {
		case <-s.done:
		case <-time.After(m.watchdog):
			m.logger.Warn("watchdog killing long-running session", "id", s.ID, "command", command)
			s.Kill()
		}
	}()

	m.mu.Lock()
	m.sessions[s.ID] = s
	m.mu.Unlock()

	return s, nil
}

// Get returns a session by id.
func (m *Manager) Get(id string) (*Session, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.sessions[id]
	return s, ok
}

// List returns session summaries sorted by start time.
func (m *Manager) List() []Info {
	m.mu.Lock()
	sessions := make([]*Session, 0, len(m.sessions))
	for _, s := range m.sessions {
		sessions = append(sessions, s)
	}
	m.mu.Unlock()

	sort.Slice(sessions, func(i, j int) bool {
		return sessions[i].started.Before(sessions[j].started)
	})
	out := make([]Info, len(sessions))
	for i, s := range sessions {
		out[i] = s.Info()
	}
	return out
}

// Remove deletes a session record, killing the process if running.
func (m *Manager) Remove(id string) bool {
	m.mu.Lock()
	s, ok := m.sessions[id]
	if ok {
		delete(m.sessions, id)
	}
	m.mu.Unlock()
	if ok {
		s.Kill()
	}
	return ok
}

// ClearFinished removes all exited sessions and returns the count.
func (m *Manager) ClearFinished() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	n := 0
	for id, s := range m.sessions {
		if s.Exited() {
			delete(m.sessions, id)
			n++
		}
	}
	return n
}

func (s *Session) capture(r io.Reader) {
	chunk := make([]byte, 8192)
	for {
		n, err := r.Read(chunk)
		if n > 0 {
			s.append(chunk[:n])
		}
		if err != nil {
			return
		}
	}
}

// append adds output, trimming the oldest content (plus a margin) when
// the cap is exceeded and clamping the poll cursor into the live range.
func (s *Session) append(p []byte) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.buf = append(s.buf, p...)
	if len(s.buf) > s.maxBuf {
		// Drop the overflow plus a quarter-buffer margin so steady
		// output does not trim one byte at a time.
		drop := len(s.buf) - s.maxBuf + s.maxBuf/4
		if drop > len(s.buf) {
			drop = len(s.buf)
		}
		s.buf = append(s.buf[:0], s.buf[drop:]...)
		s.start += drop
		if s.cursor < s.start {
			s.cursor = s.start
		}
	}
}

// PollNewOutput returns output accumulated since the previous poll and
// advances the cursor.
func (s *Session) PollNewOutput() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.cursor < s.start {
		s.cursor = s.start
	}
	out := string(s.buf[s.cursor-s.start:])
	s.cursor = s.start + len(s.buf)
	return out
}

// Tail returns the last n characters of output.
func (s *Session) Tail(n int) string {
	s.mu.Lock()
	defer s.mu.Unlock()
	if n <= 0 || n >= len(s.buf) {
		return string(s.buf)
	}
	return string(s.buf[len(s.buf)-n:])
}

// Log returns lines from the captured output. offset is the starting
// line; negative counts from the end. limit caps the number of lines
// (0 = all remaining).
func (s *Session) Log(offset, limit int) string {
	s.mu.Lock()
	text := string(s.buf)
	s.mu.Unlock()

	lines := strings.Split(text, "\n")
	if offset < 0 {
		offset = len(lines) + offset
	}
	if offset < 0 {
		offset = 0
	}
	if offset >= len(lines) {
		return ""
	}
	lines = lines[offset:]
	if limit > 0 && len(lines) > limit {
		lines = lines[:limit]
	}
	return strings.Join(lines, "\n")
}

// WriteStdin writes data to the process and optionally closes stdin.
func (s *Session) WriteStdin(data string, eof bool) error {
	if s.Exited() {
		return fmt.Errorf("session has exited")
	}
	if data != "" {
		if _, err := io.WriteString(s.stdin, data); err != nil {
			return fmt.Errorf("write stdin: %w", err)
		}
	}
	if eof {
		return s.stdin.Close()
	}
	return nil
}

// Kill terminates the process group.
func (s *Session) Kill() {
	if s.Exited() {
		return
	}
	_ = killProcessGroup(s.cmd)
}

// WaitForExit blocks until the process exits or the timeout elapses.
func (s *Session) WaitForExit(timeout time.Duration) bool {
	select {
	case <-s.done:
		return true
	case <-time.After(timeout):
		return false
	}
}

// Exited reports whether the process has terminated.
func (s *Session) Exited() bool {
	select {
	case <-s.done:
		return true
	default:
		return false
	}
}

// ExitCode returns the exit code; meaningful only after Exited.
func (s *Session) ExitCode() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.exitCode
}

// PID returns the process id.
func (s *Session) PID() int {
	if s.cmd.Process == nil {
		return 0
	}
	return s.cmd.Process.Pid
}

// Info summarizes the session.
func (s *Session) Info() Info {
	status := "running"
	if s.Exited() {
		status = "exited"
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	return Info{
		ID:        s.ID,
		Name:      s.Name,
		Command:   s.Command,
		PID:       s.PID(),
		Status:    status,
		ExitCode:  s.exitCode,
		StartedAt: s.started,
	}
}

// DeriveName computes a short display name: shell prefix and quotes
// stripped, first three words, capped at 40 characters.
func DeriveName(command string) string {
	name := strings.TrimSpace(command)
	for _, prefix := range []string{"/bin/sh -c ", "sh -c ", "bash -c ", "cmd /c "} {
		if strings.HasPrefix(name, prefix) {
			name = strings.TrimSpace(name[len(prefix):])
			break
		}
	}
	name = strings.Trim(name, `"'`)
	words := strings.Fields(name)
	if len(words) > 3 {
		words = words[:3]
	}
	name = strings.Join(words, " ")
	if len(name) > 40 {
		name = name[:40]
	}
	return name
}

func exitCode(err error) int {
	if err == nil {
		return 0
	}
	if exitErr, ok := err.(*exec.ExitError); ok {
		return exitErr.ExitCode()
	}
	return -1
}
