package main

import (
	"fmt"

	"github.com/arqut/arqut-desk/internal/client"
)

type eventPrinter interface {
	Println(msg string)
	Logln(msg string)
}

type progressView interface {
	Update(name string, outgoing bool, done, total int64)
	Finish(name string, outgoing, ok bool)
}

// printEvents renders client events until the channel is closed
func printEvents(out eventPrinter, bars progressView, events <-chan client.Event) {
	for ev := range events {
		if ev.Type == client.EventFileProgress {
			bars.Update(ev.FileName, ev.Outgoing, ev.Done, ev.FileSize)
			continue
		}
		if msg := describeEvent(ev); msg != "" {
			out.Logln(msg)
		}

		switch ev.Type {
		case client.EventFileSent:
			bars.Finish(ev.FileName, true, ev.Success)
		case client.EventFileReceived:
			bars.Finish(ev.FileName, false, ev.Success)
		}
	}
}

func describeEvent(ev client.Event) string {
	switch ev.Type {
	case client.EventLoggedIn:
		return "logged in"
	case client.EventConnectResult:
		if !ev.Success {
			return color("connect to "+ev.PeerID+" failed: ", cRed) + ev.Message
		}
		return color("controlling "+ev.PeerID, cBold) + " (session " + ev.SessionID + ")"
	case client.EventStreamStarted:
		return color(ev.PeerID+" is now controlling this desk", cBold)
	case client.EventPeerInfo:
		return "partner datagram address " + ev.Addr
	case client.EventP2PConnected:
		return color("direct tunnel up", cCyan) + " to " + ev.Addr
	case client.EventP2PClosed:
		return color("direct tunnel closed, using server", cYel)
	case client.EventPartnerDisconnected:
		return color(ev.PeerID+" disconnected", cYel)
	case client.EventChat:
		return color(ev.PeerID+": ", cCyan) + ev.Message
	case client.EventFileOffer:
		return fmt.Sprintf("file offered: %s (%d bytes), 'accept %s' or 'reject %s'",
			ev.FileName, ev.FileSize, ev.FileName, ev.FileName)
	case client.EventFileAccepted:
		return "partner accepted " + ev.FileName
	case client.EventFileRejected:
		return color("partner rejected "+ev.FileName, cYel)
	case client.EventFileIncoming:
		return fmt.Sprintf("incoming file %s (%d bytes), 'save [dir]' or 'cancel'", ev.FileName, ev.FileSize)
	case client.EventFileSent:
		if !ev.Success {
			return color("sending "+ev.FileName+" failed: ", cRed) + errText(ev.Err)
		}
		return "sent " + ev.FileName
	case client.EventFileReceived:
		if !ev.Success {
			return color("receiving "+ev.FileName+" failed: ", cRed) + errText(ev.Err)
		}
		return fmt.Sprintf("received %s (%d bytes) at %s", ev.FileName, ev.FileSize, ev.Path)
	case client.EventDisconnected:
		return color("disconnected from server", cRed) + ": " + errText(ev.Err)
	}
	return ""
}

func errText(err error) string {
	if err == nil {
		return "closed"
	}
	return err.Error()
}
