package process

import (
	"context"
	"runtime"
	"strings"
	"testing"
	"time"
)

func skipOnWindows(t *testing.T) {
	t.Helper()
	if runtime.GOOS == "windows" {
		t.Skip("shell commands differ on windows")
	}
}

func TestStartListAndExit(t *testing.T) {
	skipOnWindows(t)
	m := NewManager(0, 0, 0, nil)

	s, err := m.Start(context.Background(), "echo hello", "")
	if err != nil {
		t.Fatal(err)
	}
	if s.PID() == 0 {
		t.Fatal("no pid")
	}

	found := false
	for _, info := range m.List() {
		if info.ID == s.ID {
			found = true
		}
	}
	if !found {
		t.Fatal("started session missing from list")
	}

	if !s.WaitForExit(5 * time.Second) {
		t.Fatal("echo did not exit")
	}
	if s.ExitCode() != 0 {
		t.Fatalf("exit code: %d", s.ExitCode())
	}
	if !strings.Contains(s.Tail(0), "hello") {
		t.Fatalf("output: %q", s.Tail(0))
	}
}

func TestPollCursorAdvances(t *testing.T) {
	skipOnWindows(t)
	m := NewManager(0, 0, 0, nil)

	s, err := m.Start(context.Background(), "echo one; echo two", "")
	if err != nil {
		t.Fatal(err)
	}
	s.WaitForExit(5 * time.Second)
	// output capture races Wait slightly; give the reader a beat
	time.Sleep(50 * time.Millisecond)

	first := s.PollNewOutput()
	if !strings.Contains(first, "one") || !strings.Contains(first, "two") {
		t.Fatalf("first poll: %q", first)
	}
	if second := s.PollNewOutput(); second != "" {
		t.Fatalf("second poll not empty: %q", second)
	}
}

func TestBufferTrimClampsCursor(t *testing.T) {
	s := &Session{maxBuf: 100, done: make(chan struct{})}
	s.append([]byte(strings.Repeat("a", 90)))
	if got := s.PollNewOutput(); len(got) != 90 {
		t.Fatalf("first poll length: %d", len(got))
	}

	// Overflow: oldest content plus margin is dropped; the cursor must
	// clamp into the live range rather than point at discarded bytes.
	s.append([]byte(strings.Repeat("b", 200)))
	got := s.PollNewOutput()
	if len(got) == 0 || len(got) > 100 {
		t.Fatalf("poll after trim: %d bytes", len(got))
	}
	if strings.Contains(got, "a") {
		t.Fatal("poll returned discarded content")
	}
}

func TestLogOffsets(t *testing.T) {
	s := &Session{maxBuf: DefaultMaxBuffer, done: make(chan struct{})}
	s.append([]byte("l1\nl2\nl3\nl4"))

	if got := s.Log(0, 2); got != "l1\nl2" {
		t.Fatalf("head: %q", got)
	}
	if got := s.Log(-2, 0); got != "l3\nl4" {
		t.Fatalf("negative offset: %q", got)
	}
	if got := s.Log(10, 0); got != "" {
		t.Fatalf("past end: %q", got)
	}
}

func TestWriteStdin(t *testing.T) {
	skipOnWindows(t)
	m := NewManager(0, 0, 0, nil)

	s, err := m.Start(context.Background(), "cat", "")
	if err != nil {
		t.Fatal(err)
	}
	if err := s.WriteStdin("ping\n", true); err != nil {
		t.Fatal(err)
	}
	if !s.WaitForExit(5 * time.Second) {
		s.Kill()
		t.Fatal("cat did not exit after stdin EOF")
	}
	time.Sleep(50 * time.Millisecond)
	if !strings.Contains(s.Tail(0), "ping") {
		t.Fatalf("stdin not echoed: %q", s.Tail(0))
	}
}

func TestKillAndRemove(t *testing.T) {
	skipOnWindows(t)
	m := NewManager(0, 0, 0, nil)

	s, err := m.Start(context.Background(), "sleep 30", "")
	if err != nil {
		t.Fatal(err)
	}
	s.Kill()
	if !s.WaitForExit(5 * time.Second) {
		t.Fatal("killed process did not exit")
	}

	if !m.Remove(s.ID) {
		t.Fatal("remove failed")
	}
	if _, ok := m.Get(s.ID); ok {
		t.Fatal("session resurrected after remove")
	}
	if m.Remove(s.ID) {
		t.Fatal("double remove succeeded")
	}
}

func TestClearFinished(t *testing.T) {
	skipOnWindows(t)
	m := NewManager(0, 0, 0, nil)

	done, err := m.Start(context.Background(), "true", "")
	if err != nil {
		t.Fatal(err)
	}
	running, err := m.Start(context.Background(), "sleep 30", "")
	if err != nil {
		t.Fatal(err)
	}
	defer running.Kill()
	done.WaitForExit(5 * time.Second)

	if n := m.ClearFinished(); n != 1 {
		t.Fatalf("cleared %d", n)
	}
	if _, ok := m.Get(running.ID); !ok {
		t.Fatal("running session cleared")
	}
}

func TestDeriveName(t *testing.T) {
	cases := []struct{ in, want string }{
		{"ls -la /tmp", "ls -la /tmp"},
		{`sh -c "npm run build --watch"`, "npm run build"},
		{"python3 train.py --epochs 100 -v", "python3 train.py --epochs"},
		{strings.Repeat("x", 60), strings.Repeat("x", 40)},
	}
	for _, tc := range cases {
		if got := DeriveName(tc.in); got != tc.want {
			t.Fatalf("DeriveName(%q) = %q, want %q", tc.in, got, tc.want)
		}
	}
}
