package skills

import (
	"context"
	"errors"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
)

// Dirs holds the skill directories scanned per tier. Empty entries are
// skipped.
type Dirs struct {
	Workspace string
	Managed   string
	Builtin   string
	Extra     []string
}

// Manager discovers and serves skills. The cache is built lazily on
// first use and invalidated explicitly (or by the file watcher); it is
// never mutated mid-turn.
type Manager struct {
	dirs         Dirs
	entries      map[string]*Entry
	configTruthy func(string) bool
	logger       *slog.Logger

	mu     sync.RWMutex
	skills map[string]*Skill // keyed by lowercase name
	loaded bool

	watcher       *fsnotify.Watcher
	watchPaths    map[string]struct{}
	watchMu       sync.Mutex
	watchWg       sync.WaitGroup
	watchCancel   context.CancelFunc
	watchDebounce time.Duration
}

// NewManager creates a skill manager. configTruthy evaluates config
// gating paths; nil fails every config requirement.
func NewManager(dirs Dirs, entries map[string]*Entry, configTruthy func(string) bool, logger *slog.Logger) *Manager {
	if logger == nil {
		logger = slog.Default()
	}
	if entries == nil {
		entries = map[string]*Entry{}
	}
	return &Manager{
		dirs:          dirs,
		entries:       entries,
		configTruthy:  configTruthy,
		logger:        logger.With("component", "skills"),
		skills:        make(map[string]*Skill),
		watchPaths:    make(map[string]struct{}),
		watchDebounce: 250 * time.Millisecond,
	}
}

// Invalidate drops the cache; the next read triggers re-discovery.
func (m *Manager) Invalidate() {
	m.mu.Lock()
	m.loaded = false
	m.mu.Unlock()
}

// ensureLoaded builds the cache if needed.
func (m *Manager) ensureLoaded() {
	m.mu.RLock()
	loaded := m.loaded
	m.mu.RUnlock()
	if loaded {
		return
	}
	discovered := m.discover()
	m.mu.Lock()
	m.skills = discovered
	m.loaded = true
	m.mu.Unlock()
	m.refreshWatches()
}

// discover scans tier directories in priority order. Name lookups are
// case-insensitive and the first tier to claim a name wins.
func (m *Manager) discover() map[string]*Skill {
	found := make(map[string]*Skill)
	scan := func(dir string, tier Tier) {
		if dir == "" {
			return
		}
		entries, err := os.ReadDir(dir)
		if err != nil {
			return
		}
		for _, entry := range entries {
			if !entry.IsDir() {
				continue
			}
			skillFile := filepath.Join(dir, entry.Name(), SkillFilename)
			skill, err := ParseFile(skillFile)
			if err != nil {
				if !errors.Is(err, os.ErrNotExist) {
					m.logger.Warn("skipping invalid skill", "path", skillFile, "error", err)
				}
				continue
			}
			skill.Tier = tier
			key := strings.ToLower(skill.Name)
			if existing, ok := found[key]; ok {
				if tierRank(tier) >= tierRank(existing.Tier) {
					continue
				}
			}
			found[key] = skill
		}
	}

	scan(m.dirs.Workspace, TierWorkspace)
	scan(m.dirs.Managed, TierManaged)
	scan(m.dirs.Builtin, TierBuiltin)
	for _, dir := range m.dirs.Extra {
		scan(dir, TierExtra)
	}

	m.logger.Info("discovered skills", "count", len(found))
	return found
}

// Get returns a skill by name (case-insensitive).
func (m *Manager) Get(name string) (*Skill, bool) {
	m.ensureLoaded()
	m.mu.RLock()
	defer m.mu.RUnlock()
	skill, ok := m.skills[strings.ToLower(name)]
	return skill, ok
}

// List returns all skills with availability freshly evaluated, sorted
// by name. Two consecutive calls with unchanged env/PATH/config yield
// equal results.
func (m *Manager) List() []Status {
	m.ensureLoaded()
	m.mu.RLock()
	all := make([]*Skill, 0, len(m.skills))
	for _, s := range m.skills {
		all = append(all, s)
	}
	m.mu.RUnlock()

	sort.Slice(all, func(i, j int) bool { return all[i].Name < all[j].Name })

	gating := NewGating(m.entries, m.configTruthy)
	out := make([]Status, 0, len(all))
	for _, s := range all {
		out = append(out, gating.Evaluate(s))
	}
	return out
}

// Content returns the rendered content of an available skill:
// frontmatter already stripped, {env:VAR} placeholders substituted.
// Unavailable skills are refused with the stored reason.
func (m *Manager) Content(name string) (string, error) {
	skill, ok := m.Get(name)
	if !ok {
		return "", &NotFoundError{Name: name}
	}
	status := NewGating(m.entries, m.configTruthy).Evaluate(skill)
	if !status.Available {
		return "", &UnavailableError{Name: skill.Name, Reason: status.Reason}
	}
	return SubstituteEnv(skill.Content), nil
}

// envMu serializes skill env injection across concurrent turns. The
// lock is held from injection until the restore action runs, so
// overlapping turns cannot observe each other's variables.
var envMu sync.Mutex

// AcquireEnv injects each available skill's configured environment
// (apiKey via primaryEnv, plus the env map) and returns a restore
// action that must run on every exit path of the turn.
func (m *Manager) AcquireEnv() (restore func()) {
	envMu.Lock()

	injected := make(map[string]struct{})
	setVar := func(key, value string) {
		if _, done := injected[key]; done {
			return
		}
		if _, exists := os.LookupEnv(key); exists {
			// Already set by the user; leave it alone.
			return
		}
		injected[key] = struct{}{}
		os.Setenv(key, value)
	}

	for _, status := range m.List() {
		if !status.Available {
			continue
		}
		skill := status.Skill
		cfg, ok := m.entries[skill.ConfigKey()]
		if !ok {
			continue
		}
		if cfg.APIKey != "" && skill.Metadata != nil && skill.Metadata.PrimaryEnv != "" {
			setVar(skill.Metadata.PrimaryEnv, cfg.APIKey)
		}
		for k, v := range cfg.Env {
			setVar(k, v)
		}
	}

	return func() {
		for key := range injected {
			os.Unsetenv(key)
		}
		envMu.Unlock()
	}
}

// Watch starts an fsnotify watcher over the skill directories. Change
// events invalidate the cache after a debounce interval.
func (m *Manager) Watch(ctx context.Context) error {
	m.watchMu.Lock()
	if m.watcher != nil {
		m.watchMu.Unlock()
		return nil
	}
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		m.watchMu.Unlock()
		return err
	}
	m.watcher = watcher
	watchCtx, cancel := context.WithCancel(ctx)
	m.watchCancel = cancel
	debounce := m.watchDebounce
	m.watchMu.Unlock()

	m.refreshWatches()

	m.watchWg.Add(1)
	go m.watchLoop(watchCtx, debounce)
	return nil
}

// Close stops the watcher if one is running.
func (m *Manager) Close() error {
	m.watchMu.Lock()
	if m.watchCancel != nil {
		m.watchCancel()
		m.watchCancel = nil
	}
	watcher := m.watcher
	m.watcher = nil
	m.watchMu.Unlock()

	if watcher != nil {
		_ = watcher.Close()
	}
	m.watchWg.Wait()
	return nil
}

func (m *Manager) watchLoop(ctx context.Context, debounce time.Duration) {
	defer m.watchWg.Done()
	m.watchMu.Lock()
	watcher := m.watcher
	m.watchMu.Unlock()
	if watcher == nil {
		return
	}

	var timerMu sync.Mutex
	var timer *time.Timer
	schedule := func() {
		timerMu.Lock()
		defer timerMu.Unlock()
		if timer != nil {
			timer.Stop()
		}
		timer = time.AfterFunc(debounce, func() {
			m.Invalidate()
			m.ensureLoaded()
		})
	}

	for {
		select {
		case <-ctx.Done():
			return
		case event, ok := <-watcher.Events:
			if !ok {
				return
			}
			if event.Op&(fsnotify.Create|fsnotify.Write|fsnotify.Remove|fsnotify.Rename) != 0 {
				if event.Op&fsnotify.Create != 0 {
					if info, err := os.Stat(event.Name); err == nil && info.IsDir() {
						m.addWatchPath(event.Name)
					}
				}
				schedule()
			}
		case err, ok := <-watcher.Errors:
			if !ok {
				return
			}
			m.logger.Warn("skill watch error", "error", err)
		}
	}
}

func (m *Manager) refreshWatches() {
	m.watchMu.Lock()
	watcher := m.watcher
	m.watchMu.Unlock()
	if watcher == nil {
		return
	}

	desired := make(map[string]struct{})
	addDir := func(dir string) {
		if dir == "" {
			return
		}
		info, err := os.Stat(dir)
		if err != nil || !info.IsDir() {
			return
		}
		desired[filepath.Clean(dir)] = struct{}{}
	}
	addDir(m.dirs.Workspace)
	addDir(m.dirs.Managed)
	addDir(m.dirs.Builtin)
	for _, dir := range m.dirs.Extra {
		addDir(dir)
	}
	m.mu.RLock()
	for _, skill := range m.skills {
		addDir(skill.Path)
	}
	m.mu.RUnlock()

	m.watchMu.Lock()
	defer m.watchMu.Unlock()
	for path := range desired {
		if _, ok := m.watchPaths[path]; ok {
			continue
		}
		if err := watcher.Add(path); err != nil {
			m.logger.Debug("failed to watch skills path", "path", path, "error", err)
			continue
		}
		m.watchPaths[path] = struct{}{}
	}
	for path := range m.watchPaths {
		if _, ok := desired[path]; ok {
			continue
		}
		_ = watcher.Remove(path)
		delete(m.watchPaths, path)
	}
}

func (m *Manager) addWatchPath(path string) {
	info, err := os.Stat(path)
	if err != nil || !info.IsDir() {
		return
	}
	cleaned := filepath.Clean(path)

	m.watchMu.Lock()
	defer m.watchMu.Unlock()
	if m.watcher == nil {
		return
	}
	if _, exists := m.watchPaths[cleaned]; exists {
		return
	}
	if err := m.watcher.Add(cleaned); err != nil {
		return
	}
	m.watchPaths[cleaned] = struct{}{}
}
