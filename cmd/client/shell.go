package main

import (
	"fmt"
	"strings"

	"github.com/arqut/arqut-desk/internal/client"
)

// deskClient is the part of client.Client the shell drives
type deskClient interface {
	RequestControl(targetID, password string) error
	SendChat(text string) error
	SendClipboard(text string) error
	OfferFile(path string) error
	AcceptFile(fileName, dir string) error
	RejectFile(fileName string) error
	SaveIncoming(dir string) error
	CancelIncoming()
	SetP2PEnabled(enabled bool)
	Status() client.Status
}

type shell struct {
	client    deskClient
	clipboard *memClipboard // nil when clipboard sync is off
	out       func(string)
}

const helpText = `Commands:
  connect <id> <password>   request control of a partner
  chat <text>               send a chat message
  clip <text>               set the local clipboard and send it
  send <path>               offer a file to the partner
  accept <name> [dir]       accept an offered file
  reject <name>             decline an offered file
  save [dir]                save the incoming file
  cancel                    discard the incoming file
  relay on|off              force relayed video, or allow direct
  status                    show the session state
  quit                      disconnect and exit`

// exec runs one console line and reports whether the shell should exit
func (s *shell) exec(line string) bool {
	cmd, rest := splitCommand(line)
	if cmd == "" {
		return false
	}

	var err error
	switch cmd {
	case "help", "?":
		s.out(helpText)

	case "connect":
		args := strings.Fields(rest)
		if len(args) != 2 {
			s.out("usage: connect <id> <password>")
			return false
		}
		err = s.client.RequestControl(args[0], args[1])

	case "chat":
		if rest == "" {
			s.out("usage: chat <text>")
			return false
		}
		err = s.client.SendChat(rest)

	case "clip":
		if rest == "" {
			s.out("usage: clip <text>")
			return false
		}
		// With sync running the worker picks the change up
		if s.clipboard != nil {
			s.clipboard.Apply(rest)
			return false
		}
		err = s.client.SendClipboard(rest)

	case "send":
		if rest == "" {
			s.out("usage: send <path>")
			return false
		}
		err = s.client.OfferFile(rest)

	case "accept":
		args := strings.Fields(rest)
		if len(args) < 1 || len(args) > 2 {
			s.out("usage: accept <name> [dir]")
			return false
		}
		dir := ""
		if len(args) == 2 {
			dir = args[1]
		}
		err = s.client.AcceptFile(args[0], dir)

	case "reject":
		if rest == "" {
			s.out("usage: reject <name>")
			return false
		}
		err = s.client.RejectFile(rest)

	case "save":
		err = s.client.SaveIncoming(rest)

	case "cancel":
		s.client.CancelIncoming()

	case "relay":
		switch rest {
		case "on":
			s.client.SetP2PEnabled(false)
		case "off":
			s.client.SetP2PEnabled(true)
		default:
			s.out("usage: relay on|off")
			return false
		}

	case "status":
		s.out(formatStatus(s.client.Status()))

	case "quit", "exit":
		return true

	default:
		s.out(fmt.Sprintf("unknown command %q, type 'help'", cmd))
		return false
	}

	if err != nil {
		s.out(color("error: ", cRed) + err.Error())
	}
	return false
}

// splitCommand returns the lower-cased first word and the trimmed rest
func splitCommand(line string) (string, string) {
	line = strings.TrimSpace(line)
	if line == "" {
		return "", ""
	}
	cmd, rest, _ := strings.Cut(line, " ")
	return strings.ToLower(cmd), strings.TrimSpace(rest)
}

func formatStatus(st client.Status) string {
	var b strings.Builder
	fmt.Fprintf(&b, "id:        %s\n", st.UserID)
	if st.PartnerID == "" {
		b.WriteString("session:   none\n")
	} else {
		role := "target"
		if st.Controller {
			role = "controller"
		}
		fmt.Fprintf(&b, "session:   %s with %s (%s)\n", st.SessionID, st.PartnerID, role)
	}

	mode := "p2p"
	if !st.P2PEnabled || st.ForceRelay {
		mode = "relay"
	}
	fmt.Fprintf(&b, "transport: %s, tunnel active: %t\n", mode, st.P2PActive)
	if st.VideoDest != "" {
		fmt.Fprintf(&b, "video to:  %s (streaming: %t)\n", st.VideoDest, st.Streaming)
	}
	if st.IncomingFile != "" {
		fmt.Fprintf(&b, "incoming:  %s (%s)\n", st.IncomingFile, st.Incoming)
	}
	if len(st.PendingOffers) > 0 {
		fmt.Fprintf(&b, "offered:   %s\n", strings.Join(st.PendingOffers, ", "))
	}
	if st.DroppedEvents > 0 {
		fmt.Fprintf(&b, "dropped events: %d\n", st.DroppedEvents)
	}
	return strings.TrimRight(b.String(), "\n")
}
