// Package browser drives a headless Chrome instance over the DevTools
// protocol. The manager is single-flight: every operation takes the
// manager lock, so page state stays deterministic even when tools fire
// in quick succession.
package browser

import (
	"context"
	"fmt"
	"log/slog"
	"regexp"
	"strings"
	"sync"
	"time"

	"github.com/chromedp/cdproto/target"
	"github.com/chromedp/chromedp"
)

const defaultOpTimeout = 30 * time.Second

// refAttr marks interactive elements tagged by the snapshot script so
// later click/type calls can address them as e1, e2, …
const refAttr = "data-sb-ref"

var refPattern = regexp.MustCompile(`^e\d+$`)

// Manager owns the browser process and its tabs.
type Manager struct {
	mu sync.Mutex

	headless  bool
	opTimeout time.Duration
	logger    *slog.Logger

	allocCtx    context.Context
	allocCancel context.CancelFunc

	tabs   []*tab
	active int
	nextID int
}

type tab struct {
	id     string
	ctx    context.Context
	cancel context.CancelFunc
}

// NewManager creates a manager. The browser process launches lazily on
// first use.
func NewManager(headless bool, logger *slog.Logger) *Manager {
	if logger == nil {
		logger = slog.Default()
	}
	return &Manager{headless: headless, opTimeout: defaultOpTimeout, logger: logger, active: -1}
}

// ensureStarted launches Chrome and opens the first tab. Caller holds mu.
func (m *Manager) ensureStarted(ctx context.Context) error {
	if m.allocCtx != nil {
		return nil
	}
	opts := chromedp.DefaultExecAllocatorOptions[:]
	if !m.headless {
		opts = append(opts, chromedp.Flag("headless", false))
	}
	allocCtx, allocCancel := chromedp.NewExecAllocator(context.Background(), opts...)
	m.allocCtx = allocCtx
	m.allocCancel = allocCancel

	t, err := m.openTab()
	if err != nil {
		m.shutdownLocked()
		return fmt.Errorf("launch browser: %w", err)
	}
	m.tabs = []*tab{t}
	m.active = 0
	m.logger.Info("browser started", "headless", m.headless)
	return nil
}

// openTab creates a tab context and forces the page to exist. Caller
// holds mu.
func (m *Manager) openTab() (*tab, error) {
	tabCtx, tabCancel := chromedp.NewContext(m.allocCtx)
	if err := chromedp.Run(tabCtx); err != nil {
		tabCancel()
		return nil, err
	}
	m.nextID++
	return &tab{id: fmt.Sprintf("tab-%d", m.nextID), ctx: tabCtx, cancel: tabCancel}, nil
}

// run executes actions against the active tab under the manager lock.
func (m *Manager) run(ctx context.Context, actions ...chromedp.Action) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.ensureStarted(ctx); err != nil {
		return err
	}
	return m.runLocked(ctx, actions...)
}

func (m *Manager) runLocked(ctx context.Context, actions ...chromedp.Action) error {
	t := m.tabs[m.active]
	opCtx, cancel := context.WithTimeout(t.ctx, m.opTimeout)
	defer cancel()
	done := make(chan error, 1)
	go func() { done <- chromedp.Run(opCtx, actions...) }()
	select {
	case err := <-done:
		return err
	case <-ctx.Done():
		cancel()
		<-done
		return ctx.Err()
	}
}

// Navigate loads a URL in the active tab and returns the page title.
func (m *Manager) Navigate(ctx context.Context, url string) (string, error) {
	var title string
	err := m.run(ctx,
		chromedp.Navigate(url),
		chromedp.Title(&title),
	)
	if err != nil {
		return "", fmt.Errorf("navigate %s: %w", url, err)
	}
	return title, nil
}

// Back navigates the active tab one entry back in history.
func (m *Manager) Back(ctx context.Context) (string, error) {
	var title string
	err := m.run(ctx,
		chromedp.NavigateBack(),
		chromedp.Title(&title),
	)
	if err != nil {
		return "", fmt.Errorf("navigate back: %w", err)
	}
	return title, nil
}

// pageSnapshot is what the snapshot script returns.
type pageSnapshot struct {
	Title    string        `json:"title"`
	URL      string        `json:"url"`
	Text     string        `json:"text"`
	Elements []pageElement `json:"elements"`
}

type pageElement struct {
	Ref  string `json:"ref"`
	Tag  string `json:"tag"`
	Type string `json:"type"`
	Text string `json:"text"`
	Href string `json:"href"`
}

const snapshotJS = `(() => {
	const out = [];
	let n = 0;
	const nodes = document.querySelectorAll('a,button,input,select,textarea,[role="button"],[onclick]');
	for (const el of nodes) {
		if (!(el.offsetWidth || el.offsetHeight || el.getClientRects().length)) continue;
		n++;
		const ref = 'e' + n;
		el.setAttribute('` + refAttr + `', ref);
		out.push({
			ref: ref,
			tag: el.tagName.toLowerCase(),
			type: el.type || '',
			text: (el.innerText || el.value || el.placeholder || '').trim().slice(0, 80),
			href: el.href || ''
		});
	}
	return {
		title: document.title,
		url: location.href,
		text: document.body ? document.body.innerText.slice(0, 20000) : '',
		elements: out
	};
})()`

// Snapshot tags interactive elements with refs and returns the page as
// readable text followed by the tagged element list.
func (m *Manager) Snapshot(ctx context.Context) (string, error) {
	var snap pageSnapshot
	if err := m.run(ctx, chromedp.Evaluate(snapshotJS, &snap)); err != nil {
		return "", fmt.Errorf("snapshot: %w", err)
	}
	return formatSnapshot(snap), nil
}

func formatSnapshot(snap pageSnapshot) string {
	var sb strings.Builder
	fmt.Fprintf(&sb, "# %s\n%s\n\n%s\n", snap.Title, snap.URL, strings.TrimSpace(snap.Text))
	if len(snap.Elements) > 0 {
		sb.WriteString("\n## Interactive elements\n")
		for _, el := range snap.Elements {
			label := el.Text
			if label == "" {
				label = el.Href
			}
			kind := el.Tag
			if el.Type != "" {
				kind += ":" + el.Type
			}
			fmt.Fprintf(&sb, "[%s] <%s> %s\n", el.Ref, kind, label)
		}
	}
	return sb.String()
}

// resolveTarget turns a snapshot ref like e3 into its attribute
// selector; anything else is treated as a CSS selector.
func resolveTarget(target string) string {
	if refPattern.MatchString(target) {
		return fmt.Sprintf(`[%s=%q]`, refAttr, target)
	}
	return target
}

// Click clicks a snapshot ref or CSS selector.
func (m *Manager) Click(ctx context.Context, target string) error {
	sel := resolveTarget(target)
	err := m.run(ctx,
		chromedp.WaitVisible(sel, chromedp.ByQuery),
		chromedp.Click(sel, chromedp.ByQuery),
	)
	if err != nil {
		return fmt.Errorf("click %s: %w", target, err)
	}
	return nil
}

// Type fills a field identified by ref or selector. With submit set it
// sends Enter afterwards.
func (m *Manager) Type(ctx context.Context, target, text string, submit bool) error {
	sel := resolveTarget(target)
	actions := []chromedp.Action{
		chromedp.WaitVisible(sel, chromedp.ByQuery),
		chromedp.Clear(sel, chromedp.ByQuery),
		chromedp.SendKeys(sel, text, chromedp.ByQuery),
	}
	if submit {
		actions = append(actions, chromedp.SendKeys(sel, "\r", chromedp.ByQuery))
	}
	if err := m.run(ctx, actions...); err != nil {
		return fmt.Errorf("type into %s: %w", target, err)
	}
	return nil
}

// Select picks an option value in a <select> element.
func (m *Manager) Select(ctx context.Context, target, value string) error {
	sel := resolveTarget(target)
	err := m.run(ctx,
		chromedp.WaitVisible(sel, chromedp.ByQuery),
		chromedp.SetValue(sel, value, chromedp.ByQuery),
	)
	if err != nil {
		return fmt.Errorf("select %q in %s: %w", value, target, err)
	}
	return nil
}

// Press sends a key chord (for example "Enter" or "Escape") to the page.
func (m *Manager) Press(ctx context.Context, key string) error {
	if err := m.run(ctx, chromedp.KeyEvent(keySequence(key))); err != nil {
		return fmt.Errorf("press %s: %w", key, err)
	}
	return nil
}

func keySequence(key string) string {
	switch strings.ToLower(key) {
	case "enter", "return":
		return "\r"
	case "tab":
		return "\t"
	case "escape", "esc":
		return "\x1b"
	case "backspace":
		return "\b"
	default:
		return key
	}
}

// Evaluate runs JavaScript in the active tab and returns the result as
// a string.
func (m *Manager) Evaluate(ctx context.Context, script string) (string, error) {
	var result any
	if err := m.run(ctx, chromedp.Evaluate(script, &result)); err != nil {
		return "", fmt.Errorf("evaluate: %w", err)
	}
	if result == nil {
		return "(no value)", nil
	}
	return fmt.Sprintf("%v", result), nil
}

// Wait blocks until a selector is visible, text appears in the body, or
// a fixed duration elapses, depending on which argument is set.
func (m *Manager) Wait(ctx context.Context, selector, text string, duration time.Duration) error {
	switch {
	case selector != "":
		sel := resolveTarget(selector)
		if err := m.run(ctx, chromedp.WaitVisible(sel, chromedp.ByQuery)); err != nil {
			return fmt.Errorf("wait for %s: %w", selector, err)
		}
	case text != "":
		script := fmt.Sprintf(`document.body && document.body.innerText.includes(%q)`, text)
		err := m.run(ctx, chromedp.Poll(script, nil, chromedp.WithPollingInterval(200*time.Millisecond)))
		if err != nil {
			return fmt.Errorf("wait for text %q: %w", text, err)
		}
	case duration > 0:
		if err := m.run(ctx, chromedp.Sleep(duration)); err != nil {
			return err
		}
	default:
		return fmt.Errorf("wait needs a selector, text, or time")
	}
	return nil
}

// TabInfo describes one open tab.
type TabInfo struct {
	ID     string
	Title  string
	URL    string
	Active bool
}

// Tabs lists the open tabs.
func (m *Manager) Tabs(ctx context.Context) ([]TabInfo, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.ensureStarted(ctx); err != nil {
		return nil, err
	}

	infos := make([]TabInfo, 0, len(m.tabs))
	for i, t := range m.tabs {
		info := TabInfo{ID: t.id, Active: i == m.active}
		if targets, err := chromedp.Targets(t.ctx); err == nil {
			if ti := ownTarget(t.ctx, targets); ti != nil {
				info.Title = ti.Title
				info.URL = ti.URL
			}
		}
		infos = append(infos, info)
	}
	return infos, nil
}

func ownTarget(tabCtx context.Context, targets []*target.Info) *target.Info {
	c := chromedp.FromContext(tabCtx)
	if c == nil || c.Target == nil {
		return nil
	}
	for _, t := range targets {
		if t.TargetID == c.Target.TargetID {
			return t
		}
	}
	return nil
}

// NewTab opens a tab and makes it active.
func (m *Manager) NewTab(ctx context.Context) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.ensureStarted(ctx); err != nil {
		return "", err
	}
	t, err := m.openTab()
	if err != nil {
		return "", fmt.Errorf("new tab: %w", err)
	}
	m.tabs = append(m.tabs, t)
	m.active = len(m.tabs) - 1
	return t.id, nil
}

// CloseTab closes the given tab; the last tab cannot be closed.
func (m *Manager) CloseTab(ctx context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if len(m.tabs) <= 1 {
		return fmt.Errorf("cannot close the last tab")
	}
	for i, t := range m.tabs {
		if t.id != id {
			continue
		}
		t.cancel()
		m.tabs = append(m.tabs[:i], m.tabs[i+1:]...)
		if m.active >= len(m.tabs) {
			m.active = len(m.tabs) - 1
		}
		return nil
	}
	return fmt.Errorf("tab not found: %s", id)
}

// SelectTab makes the given tab active.
func (m *Manager) SelectTab(ctx context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for i, t := range m.tabs {
		if t.id == id {
			m.active = i
			return nil
		}
	}
	return fmt.Errorf("tab not found: %s", id)
}

// Screenshot captures the active tab as PNG bytes.
func (m *Manager) Screenshot(ctx context.Context, fullPage bool) ([]byte, error) {
	var buf []byte
	action := chromedp.CaptureScreenshot(&buf)
	if fullPage {
		action = chromedp.FullScreenshot(&buf, 90)
	}
	if err := m.run(ctx, action); err != nil {
		return nil, fmt.Errorf("screenshot: %w", err)
	}
	return buf, nil
}

// Close shuts the browser down. The manager can be reused; the next
// operation relaunches.
func (m *Manager) Close() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.shutdownLocked()
}

func (m *Manager) shutdownLocked() {
	for _, t := range m.tabs {
		t.cancel()
	}
	m.tabs = nil
	m.active = -1
	if m.allocCancel != nil {
		m.allocCancel()
	}
	m.allocCtx = nil
	m.allocCancel = nil
}
