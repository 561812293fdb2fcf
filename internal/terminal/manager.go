// Package terminal multiplexes process and stream output to websocket
// clients. A Terminal owns a scrollback buffer and a set of writer
// callbacks; a Manager tracks terminals by name so that handlers and
// the connection lifecycle can find them.
package terminal

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"os/exec"
	"strings"
	"sync"
	"time"

	"github.com/creack/pty"
)

// Type describes what feeds a terminal.
type Type int

const (
	// TypePipe is a one-way stream, such as a followed container log.
	// Lone LF is normalized to CRLF so xterm renders line breaks.
	TypePipe Type = iota
	// TypePTY is an interactive pseudo-terminal around a child process.
	// Bytes pass through untouched.
	TypePTY
)

const (
	maxBufferSize  = 64 * 1024
	keepBufferSize = 32 * 1024
)

// WriteFunc delivers a chunk of terminal output to one client.
type WriteFunc func(data string)

// Terminal buffers output and fans it out to registered writers.
type Terminal struct {
	Name string
	Type Type

	mu      sync.Mutex
	buffer  bytes.Buffer
	writers map[string]WriteFunc
	closed  bool
	cancel  func()
	onExit  func()
	ptmx    *os.File
	cmd     *exec.Cmd
	exited  bool
}

func newTerminal(name string, typ Type) *Terminal {
	return &Terminal{
		Name:    name,
		Type:    typ,
		writers: make(map[string]WriteFunc),
	}
}

// Write appends data to the scrollback buffer and fans it out to all
// registered writers. Pipe terminals normalize lone LF to CRLF.
// Writes after Close are dropped.
func (t *Terminal) Write(p []byte) (int, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.closed {
		return 0, nil
	}

	data := string(p)
	if t.Type == TypePipe {
		data = normalizeLF(data)
	}

	t.buffer.WriteString(data)
	if t.buffer.Len() > maxBufferSize {
		b := t.buffer.Bytes()
		t.buffer.Reset()
		t.buffer.Write(b[len(b)-keepBufferSize:])
	}

	for _, w := range t.writers {
		w(data)
	}
	return len(p), nil
}

// normalizeLF converts lone LF to CRLF without doubling existing CRLF.
func normalizeLF(s string) string {
	s = strings.ReplaceAll(s, "\r\n", "\n")
	return strings.ReplaceAll(s, "\n", "\r\n")
}

// Buffer returns the current scrollback contents.
func (t *Terminal) Buffer() string {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.buffer.String()
}

// AddWriter registers a client callback for live output. No-op after Close.
func (t *Terminal) AddWriter(id string, w WriteFunc) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.writers == nil {
		return
	}
	t.writers[id] = w
}

// JoinAndGetBuffer registers a writer and returns the scrollback under a
// single lock, so no output can slip between the two and be delivered
// twice or not at all.
func (t *Terminal) JoinAndGetBuffer(id string, w WriteFunc) string {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.writers != nil {
		t.writers[id] = w
	}
	return t.buffer.String()
}

// RemoveWriter unregisters a client callback.
func (t *Terminal) RemoveWriter(id string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	delete(t.writers, id)
}

// WriterCount returns the number of registered writers.
func (t *Terminal) WriterCount() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.writers)
}

// SetCancel registers a function that Close calls exactly once,
// typically a context cancel that stops the goroutine feeding this
// terminal.
func (t *Terminal) SetCancel(cancel func()) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.cancel = cancel
}

func (t *Terminal) hasCancel() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.cancel != nil
}

// OnExit registers a function called after the PTY child process exits.
// If the process has already exited, fn runs immediately.
func (t *Terminal) OnExit(fn func()) {
	t.mu.Lock()
	if t.exited {
		t.mu.Unlock()
		fn()
		return
	}
	t.onExit = fn
	t.mu.Unlock()
}

// StartPTY starts cmd under a pseudo-terminal and pumps its output into
// the terminal until the process exits.
func (t *Terminal) StartPTY(cmd *exec.Cmd) error {
	t.mu.Lock()
	if t.closed {
		t.mu.Unlock()
		return errors.New("terminal is closed")
	}
	f, err := pty.Start(cmd)
	if err != nil {
		t.mu.Unlock()
		return fmt.Errorf("start pty: %w", err)
	}
	t.ptmx = f
	t.cmd = cmd
	t.mu.Unlock()

	go t.pump(f, cmd)
	return nil
}

// pump copies PTY output into the terminal, then reaps the child and
// reports its exit code. Read errors end the loop: the PTY master
// returns EIO once the child side is gone.
func (t *Terminal) pump(f *os.File, cmd *exec.Cmd) {
	io.Copy(t, f)

	code := 0
	if err := cmd.Wait(); err != nil {
		code = -1
		if state := cmd.ProcessState; state != nil {
			code = state.ExitCode()
		}
	}
	fmt.Fprintf(t, "\r\n[process exited with code %d]\r\n", code)

	t.mu.Lock()
	t.exited = true
	t.ptmx = nil
	onExit := t.onExit
	t.mu.Unlock()

	f.Close()
	if onExit != nil {
		onExit()
	}
}

// Input writes data to the PTY stdin. No-op for terminals without a PTY.
func (t *Terminal) Input(data string) error {
	t.mu.Lock()
	f := t.ptmx
	t.mu.Unlock()
	if f == nil {
		return nil
	}
	if _, err := f.WriteString(data); err != nil {
		return fmt.Errorf("terminal input: %w", err)
	}
	return nil
}

// Resize changes the PTY window size. No-op for terminals without a PTY.
func (t *Terminal) Resize(rows, cols uint16) error {
	t.mu.Lock()
	f := t.ptmx
	t.mu.Unlock()
	if f == nil {
		return nil
	}
	if err := pty.Setsize(f, &pty.Winsize{Rows: rows, Cols: cols}); err != nil {
		return fmt.Errorf("terminal resize: %w", err)
	}
	return nil
}

// IsRunning reports whether the PTY child process is alive.
func (t *Terminal) IsRunning() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return !t.closed && t.cmd != nil && !t.exited
}

// Close shuts the terminal down: the cancel function runs once, the PTY
// child is killed, and all writers are dropped. Close is idempotent and
// later writes are silently discarded.
func (t *Terminal) Close() {
	t.mu.Lock()
	if t.closed {
		t.mu.Unlock()
		return
	}
	t.closed = true
	cancel := t.cancel
	t.cancel = nil
	ptmx := t.ptmx
	t.ptmx = nil
	cmd := t.cmd
	exited := t.exited
	t.writers = nil
	t.mu.Unlock()

	if cancel != nil {
		cancel()
	}
	if ptmx != nil {
		ptmx.Close()
	}
	if cmd != nil && cmd.Process != nil && !exited {
		cmd.Process.Kill()
	}
}

// Manager tracks terminals by name.
type Manager struct {
	mu    sync.Mutex
	terms map[string]*Terminal
}

func NewManager() *Manager {
	return &Manager{terms: make(map[string]*Terminal)}
}

// Get returns the named terminal, or nil.
func (m *Manager) Get(name string) *Terminal {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.terms[name]
}

// Create makes a new terminal under name, closing any terminal that
// previously held the name.
func (m *Manager) Create(name string, typ Type) *Terminal {
	m.mu.Lock()
	defer m.mu.Unlock()

	if old := m.terms[name]; old != nil {
		go old.Close()
	}
	term := newTerminal(name, typ)
	m.terms[name] = term
	return term
}

// GetOrCreate returns the named terminal, creating an empty pipe
// terminal if none exists. Used on client join, which may run before
// the handler that starts the actual stream.
func (m *Manager) GetOrCreate(name string) *Terminal {
	m.mu.Lock()
	defer m.mu.Unlock()

	if term := m.terms[name]; term != nil {
		return term
	}
	term := newTerminal(name, TypePipe)
	m.terms[name] = term
	return term
}

// Recreate replaces the named terminal with a fresh one, carrying the
// old terminal's writers over so joined clients keep receiving output,
// then closes the old terminal.
func (m *Manager) Recreate(name string, typ Type) *Terminal {
	m.mu.Lock()
	defer m.mu.Unlock()

	term := newTerminal(name, typ)
	if old := m.terms[name]; old != nil {
		old.mu.Lock()
		for id, w := range old.writers {
			term.writers[id] = w
		}
		old.mu.Unlock()
		old.Close()
	}
	m.terms[name] = term
	return term
}

// Remove closes and forgets the named terminal.
func (m *Manager) Remove(name string) {
	m.mu.Lock()
	term := m.terms[name]
	delete(m.terms, name)
	m.mu.Unlock()

	if term != nil {
		term.Close()
	}
}

// RemoveAfter removes the named terminal once the delay elapses, unless
// another terminal has taken the name in the meantime. Gives clients a
// window to read the final output of an exited process.
func (m *Manager) RemoveAfter(name string, d time.Duration) {
	m.mu.Lock()
	term := m.terms[name]
	m.mu.Unlock()
	if term == nil {
		return
	}

	time.AfterFunc(d, func() {
		m.mu.Lock()
		current := m.terms[name] == term
		if current {
			delete(m.terms, name)
		}
		m.mu.Unlock()

		if current {
			term.Close()
		}
	})
}

// RemoveWriterFromAll drops a disconnected client's writer from every
// terminal. A pipe terminal with a cancel function and no writers left
// is torn down: its stream exists only to serve joined clients. PTY
// terminals and pipes without a cancel stay, so a reconnecting client
// can rejoin them.
func (m *Manager) RemoveWriterFromAll(id string) {
	m.mu.Lock()
	defer m.mu.Unlock()

	for name, term := range m.terms {
		term.RemoveWriter(id)
		if term.Type == TypePipe && term.hasCancel() && term.WriterCount() == 0 {
			delete(m.terms, name)
			// Close in a goroutine: the cancelled stream may re-enter
			// the manager during cleanup.
			go term.Close()
		}
	}
}
