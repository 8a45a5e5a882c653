// Package approval gates shell commands behind operator decisions and
// a persistent executable allowlist.
package approval

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
)

// Decision is an operator's answer to an approval request.
type Decision int

const (
	Deny Decision = iota
	AllowOnce
	AllowAlways
)

func (d Decision) String() string {
	switch d {
	case AllowOnce:
		return "allow-once"
	case AllowAlways:
		return "allow-always"
	default:
		return "deny"
	}
}

// ErrUnknownRequest is returned when resolving an id with no pending
// request (already decided, timed out, or never existed).
var ErrUnknownRequest = errors.New("approval: unknown request id")

// Request is a pending approval.
type Request struct {
	ID         string    `json:"id"`
	Command    string    `json:"command"`
	Executable string    `json:"executable"`
	CreatedAt  time.Time `json:"created_at"`

	decided chan Decision
}

// Notifier surfaces a new request to the operator (chat message, CLI
// prompt). Nil notifiers leave requests waiting for Resolve.
type Notifier func(ctx context.Context, req *Request)

// Manager holds pending requests and the persistent allowlist.
type Manager struct {
	mu       sync.Mutex
	pending  map[string]*Request
	patterns []string

	path          string
	notify        Notifier
	timeout       time.Duration
	fallbackAllow bool
	logger        *slog.Logger
}

type allowlistFile struct {
	Version   int      `json:"version"`
	Allowlist []string `json:"allowlist"`
}

// NewManager loads (or initializes) the allowlist at path. timeout
// bounds each approval wait; fallbackAllow decides expired requests.
func NewManager(path string, notify Notifier, timeout time.Duration, fallbackAllow bool, logger *slog.Logger) (*Manager, error) {
	if timeout <= 0 {
		timeout = 2 * time.Minute
	}
	if logger == nil {
		logger = slog.Default()
	}
	m := &Manager{
		pending:       make(map[string]*Request),
		path:          path,
		notify:        notify,
		timeout:       timeout,
		fallbackAllow: fallbackAllow,
		logger:        logger.With("component", "approval"),
	}
	if err := m.load(); err != nil {
		return nil, err
	}
	return m, nil
}

func (m *Manager) load() error {
	if m.path == "" {
		return nil
	}
	data, err := os.ReadFile(m.path)
	if errors.Is(err, os.ErrNotExist) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("approval: read allowlist: %w", err)
	}
	var file allowlistFile
	if err := json.Unmarshal(data, &file); err != nil {
		return fmt.Errorf("approval: parse allowlist: %w", err)
	}
	m.patterns = file.Allowlist
	sort.Strings(m.patterns)
	return nil
}

func (m *Manager) save() error {
	if m.path == "" {
		return nil
	}
	sort.Strings(m.patterns)
	data, err := json.MarshalIndent(allowlistFile{Version: 1, Allowlist: m.patterns}, "", "  ")
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(m.path), 0o755); err != nil {
		return err
	}
	return os.WriteFile(m.path, data, 0o600)
}

// Allowlisted reports whether an executable path matches the allowlist
// (exact path or */? glob, case-insensitive).
func (m *Manager) Allowlisted(executable string) bool {
	m.mu.Lock()
	patterns := append([]string(nil), m.patterns...)
	m.mu.Unlock()

	for _, pattern := range patterns {
		if globMatch(pattern, executable) {
			return true
		}
	}
	return false
}

// Add appends a pattern to the allowlist and persists it.
func (m *Manager) Add(pattern string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, existing := range m.patterns {
		if strings.EqualFold(existing, pattern) {
			return nil
		}
	}
	m.patterns = append(m.patterns, pattern)
	return m.save()
}

// Patterns returns the allowlist, sorted.
func (m *Manager) Patterns() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := append([]string(nil), m.patterns...)
	sort.Strings(out)
	return out
}

// Ask files a request and blocks for the operator's decision. On
// timeout or cancellation the fallback policy decides. AllowAlways
// persists the executable to the allowlist before returning.
func (m *Manager) Ask(ctx context.Context, command, executable string) Decision {
	req := &Request{
		ID:         uuid.NewString(),
		Command:    command,
		Executable: executable,
		CreatedAt:  time.Now(),
		decided:    make(chan Decision, 1),
	}

	m.mu.Lock()
	m.pending[req.ID] = req
	m.mu.Unlock()
	defer func() {
		m.mu.Lock()
		delete(m.pending, req.ID)
		m.mu.Unlock()
	}()

	if m.notify != nil {
		m.notify(ctx, req)
	}

	select {
	case d := <-req.decided:
		if d == AllowAlways && executable != "" {
			if err := m.Add(executable); err != nil {
				m.logger.Error("persisting allowlist failed", "error", err)
			}
		}
		return d
	case <-time.After(m.timeout):
	case <-ctx.Done():
	}

	m.logger.Warn("approval not decided in time, applying fallback",
		"command", command, "fallback_allow", m.fallbackAllow)
	if m.fallbackAllow {
		return AllowOnce
	}
	return Deny
}

// Resolve answers a pending request by id.
func (m *Manager) Resolve(id string, d Decision) error {
	m.mu.Lock()
	req, ok := m.pending[id]
	m.mu.Unlock()
	if !ok {
		return ErrUnknownRequest
	}
	select {
	case req.decided <- d:
		return nil
	default:
		return ErrUnknownRequest
	}
}

// Pending lists open requests, oldest first.
func (m *Manager) Pending() []Request {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]Request, 0, len(m.pending))
	for _, req := range m.pending {
		out = append(out, *req)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out
}

// globMatch matches a path against a pattern where * matches any run
// of characters (including separators) and ? matches one character.
func globMatch(pattern, s string) bool {
	pattern = strings.ToLower(pattern)
	s = strings.ToLower(s)
	if !strings.ContainsAny(pattern, "*?") {
		return pattern == s
	}
	var sb strings.Builder
	sb.WriteString("^")
	for _, r := range pattern {
		switch r {
		case '*':
			sb.WriteString(".*")
		case '?':
			sb.WriteString(".")
		default:
			sb.WriteString(regexp.QuoteMeta(string(r)))
		}
	}
	sb.WriteString("$")
	re, err := regexp.Compile(sb.String())
	if err != nil {
		return false
	}
	return re.MatchString(s)
}
