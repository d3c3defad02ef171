package main

import (
	"os"
	"strings"
	"sync"
	"time"

	"github.com/chzyer/readline"
)

var colorEnabled = os.Getenv("NO_COLOR") == ""

const (
	cBold = "\x1b[1m"
	cDim  = "\x1b[2m"
	cCyan = "\x1b[36m"
	cYel  = "\x1b[33m"
	cRed  = "\x1b[31m"
)

func color(s, code string) string {
	if !colorEnabled {
		return s
	}
	return code + s + "\x1b[0m"
}

// console wraps readline so that asynchronous output does not clobber the
// line being edited
type console struct {
	rl        *readline.Instance
	mu        sync.Mutex
	closed    bool
	closeOnce sync.Once
}

func newConsole(prompt string) (*console, error) {
	rl, err := readline.New(prompt)
	if err != nil {
		return nil, err
	}
	return &console{rl: rl}, nil
}

func newConsoleWithReadline(rl *readline.Instance) *console {
	return &console{rl: rl}
}

func (c *console) Readline() (string, error) {
	return c.rl.Readline()
}

func (c *console) Close() {
	c.closeOnce.Do(func() {
		c.mu.Lock()
		c.closed = true
		c.mu.Unlock()
		_ = c.rl.Close()
	})
}

// Println prints msg above the prompt
func (c *console) Println(msg string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		_, _ = os.Stdout.WriteString(msg + "\n")
		return
	}
	_, _ = c.rl.Stdout().Write([]byte("\r" + msg + "\n"))
	c.rl.Refresh()
}

// Logln prints msg prefixed with the current time
func (c *console) Logln(msg string) {
	c.Println(color(time.Now().Format("15:04:05"), cDim) + " " + msg)
}

// Write lets the console serve as log output. Each call carries one
// complete log line.
func (c *console) Write(p []byte) (int, error) {
	c.Println(strings.TrimRight(string(p), "\n"))
	return len(p), nil
}
