package main

import (
	"errors"
	"strings"
	"testing"

	"github.com/arqut/arqut-desk/internal/client"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeDesk struct {
	calls []string
	err   error
	p2p   *bool
}

func (f *fakeDesk) record(call string) error {
	f.calls = append(f.calls, call)
	return f.err
}

func (f *fakeDesk) RequestControl(id, pw string) error { return f.record("connect " + id + " " + pw) }
func (f *fakeDesk) SendChat(text string) error         { return f.record("chat " + text) }
func (f *fakeDesk) SendClipboard(text string) error    { return f.record("clip " + text) }
func (f *fakeDesk) OfferFile(path string) error        { return f.record("send " + path) }
func (f *fakeDesk) AcceptFile(name, dir string) error  { return f.record("accept " + name + " " + dir) }
func (f *fakeDesk) RejectFile(name string) error       { return f.record("reject " + name) }
func (f *fakeDesk) SaveIncoming(dir string) error      { return f.record("save " + dir) }
func (f *fakeDesk) CancelIncoming()                    { f.record("cancel") }
func (f *fakeDesk) SetP2PEnabled(enabled bool)         { f.p2p = &enabled }
func (f *fakeDesk) Status() client.Status {
	return client.Status{UserID: "100001", PartnerID: "200002", SessionID: "s-1", Controller: true, P2PEnabled: true}
}

func newTestShell(withClipboard bool) (*shell, *fakeDesk, *[]string) {
	desk := &fakeDesk{}
	var out []string
	sh := &shell{client: desk, out: func(s string) { out = append(out, s) }}
	if withClipboard {
		sh.clipboard = &memClipboard{}
	}
	return sh, desk, &out
}

func TestShell_Commands(t *testing.T) {
	tests := []struct {
		line string
		call string
	}{
		{"connect 200002 pw", "connect 200002 pw"},
		{"chat hello there", "chat hello there"},
		{"CHAT  spaced  ", "chat spaced"},
		{"clip some text", "clip some text"},
		{"send /tmp/a.txt", "send /tmp/a.txt"},
		{"accept a.txt", "accept a.txt "},
		{"accept a.txt /tmp/in", "accept a.txt /tmp/in"},
		{"reject a.txt", "reject a.txt"},
		{"save", "save "},
		{"save /tmp/in", "save /tmp/in"},
		{"cancel", "cancel"},
	}

	for _, tt := range tests {
		t.Run(tt.line, func(t *testing.T) {
			sh, desk, _ := newTestShell(false)
			assert.False(t, sh.exec(tt.line))
			assert.Equal(t, []string{tt.call}, desk.calls)
		})
	}
}

func TestShell_Usage(t *testing.T) {
	for _, line := range []string{"connect 200002", "chat", "clip", "send", "accept", "accept a b c", "reject", "relay maybe"} {
		t.Run(line, func(t *testing.T) {
			sh, desk, out := newTestShell(false)
			assert.False(t, sh.exec(line))
			assert.Empty(t, desk.calls)
			require.Len(t, *out, 1)
			assert.True(t, strings.HasPrefix((*out)[0], "usage:"))
		})
	}
}

func TestShell_Relay(t *testing.T) {
	sh, desk, _ := newTestShell(false)

	sh.exec("relay on")
	require.NotNil(t, desk.p2p)
	assert.False(t, *desk.p2p)

	sh.exec("relay off")
	assert.True(t, *desk.p2p)
}

func TestShell_ClipWithSync(t *testing.T) {
	sh, desk, _ := newTestShell(true)

	sh.exec("clip copied")
	assert.Empty(t, desk.calls)

	text, err := sh.clipboard.ReadText()
	require.NoError(t, err)
	assert.Equal(t, "copied", text)
}

func TestShell_ErrorsAndQuit(t *testing.T) {
	sh, desk, out := newTestShell(false)
	desk.err = errors.New("no active session")

	assert.False(t, sh.exec("chat hi"))
	require.Len(t, *out, 1)
	assert.Contains(t, (*out)[0], "no active session")

	assert.False(t, sh.exec(""))
	assert.False(t, sh.exec("dance"))
	assert.Contains(t, (*out)[1], "unknown command")

	assert.True(t, sh.exec("quit"))
	assert.True(t, sh.exec("exit"))
}

func TestShell_Status(t *testing.T) {
	sh, _, out := newTestShell(false)
	sh.exec("status")

	require.Len(t, *out, 1)
	assert.Contains(t, (*out)[0], "100001")
	assert.Contains(t, (*out)[0], "s-1 with 200002 (controller)")
	assert.Contains(t, (*out)[0], "transport: p2p")
}

type recordedBar struct {
	name     string
	outgoing bool
	done     int64
	finished bool
	ok       bool
}

type fakeBars struct {
	bars map[string]*recordedBar
}

func (f *fakeBars) Update(name string, outgoing bool, done, total int64) {
	f.bars[name] = &recordedBar{name: name, outgoing: outgoing, done: done}
}

func (f *fakeBars) Finish(name string, outgoing, ok bool) {
	if b := f.bars[name]; b != nil {
		b.finished, b.ok = true, ok
	}
}

type linePrinter struct {
	lines []string
}

func (p *linePrinter) Println(msg string) { p.lines = append(p.lines, msg) }
func (p *linePrinter) Logln(msg string)   { p.lines = append(p.lines, msg) }

func TestPrintEvents(t *testing.T) {
	colorEnabled = false

	events := make(chan client.Event, 10)
	events <- client.Event{Type: client.EventChat, PeerID: "200002", Message: "hi"}
	events <- client.Event{Type: client.EventFileProgress, FileName: "a.txt", Done: 10, FileSize: 20}
	events <- client.Event{Type: client.EventFileReceived, FileName: "a.txt", FileSize: 20, Path: "/tmp/a.txt", Success: true}
	events <- client.Event{Type: client.EventFileProgress, FileName: "b.txt", Outgoing: true, Done: 5, FileSize: 20}
	events <- client.Event{Type: client.EventFileSent, FileName: "b.txt", Outgoing: true, Err: errors.New("boom")}
	events <- client.Event{Type: client.EventDisconnected}
	close(events)

	out := &linePrinter{}
	bars := &fakeBars{bars: make(map[string]*recordedBar)}
	printEvents(out, bars, events)

	assert.Equal(t, []string{
		"200002: hi",
		"received a.txt (20 bytes) at /tmp/a.txt",
		"sending b.txt failed: boom",
		"disconnected from server: closed",
	}, out.lines)

	require.Contains(t, bars.bars, "a.txt")
	assert.True(t, bars.bars["a.txt"].finished)
	assert.True(t, bars.bars["a.txt"].ok)
	assert.True(t, bars.bars["b.txt"].outgoing)
	assert.False(t, bars.bars["b.txt"].ok)
}

func TestGenerateIdentity(t *testing.T) {
	id, pw := generateIdentity()
	assert.Len(t, id, 9)
	assert.Len(t, pw, 6)

	id2, _ := generateIdentity()
	assert.NotEqual(t, id, id2)
}
