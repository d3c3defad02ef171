package client

import "fmt"

// EventType identifies what happened on the client
type EventType int

const (
	EventLoggedIn EventType = iota
	EventConnectResult
	EventStreamStarted
	EventPeerInfo
	EventP2PConnected
	EventP2PClosed
	EventPartnerDisconnected
	EventChat
	EventFileOffer
	EventFileAccepted
	EventFileRejected
	EventFileIncoming
	EventFileProgress
	EventFileSent
	EventFileReceived
	EventDisconnected
)

var eventNames = [...]string{
	"logged_in",
	"connect_result",
	"stream_started",
	"peer_info",
	"p2p_connected",
	"p2p_closed",
	"partner_disconnected",
	"chat",
	"file_offer",
	"file_accepted",
	"file_rejected",
	"file_incoming",
	"file_progress",
	"file_sent",
	"file_received",
	"disconnected",
}

func (t EventType) String() string {
	if t >= 0 && int(t) < len(eventNames) {
		return eventNames[t]
	}
	return fmt.Sprintf("event(%d)", int(t))
}

// Event is delivered on the channel returned by Client.Events. Only the
// fields relevant to the type are set.
type Event struct {
	Type      EventType
	Success   bool
	Message   string
	PeerID    string
	SessionID string
	Addr      string

	FileName string
	FileSize int64
	Done     int64
	Outgoing bool
	Path     string

	Err error
}
