package models

import "time"

// ClientInfo is the admin view of an online client registration
type ClientInfo struct {
	ID          string    `json:"id"`
	RemoteAddr  string    `json:"remote_addr"`
	UDPAddr     string    `json:"udp_addr,omitempty"`
	ControlPort int       `json:"control_port,omitempty"`
	PartnerID   string    `json:"partner_id,omitempty"`
	SessionID   string    `json:"session_id,omitempty"`
	ConnectedAt time.Time `json:"connected_at"`
}

// SessionInfo is the admin view of a live pairing
type SessionInfo struct {
	ID           string    `json:"id"`
	ControllerID string    `json:"controller_id"`
	TargetID     string    `json:"target_id"`
	StartedAt    time.Time `json:"started_at"`
}

// TurnCredentials represents TURN server credentials
type TurnCredentials struct {
	Username string   `json:"username"`
	Password string   `json:"password"`
	TTL      int      `json:"ttl"`
	Expires  string   `json:"expires"`
	URLs     []string `json:"urls"`
}

// Broker event types
const (
	EventLogin        = "login"
	EventLoginReject  = "login_rejected"
	EventPaired       = "paired"
	EventConnectFail  = "connect_failed"
	EventDisconnect   = "disconnect"
	EventSessionEnded = "session_ended"
)

// BrokerEvent is published by the broker for observers such as the admin API
type BrokerEvent struct {
	Type      string    `json:"type"`
	UserID    string    `json:"user_id"`
	PeerID    string    `json:"peer_id,omitempty"`
	SessionID string    `json:"session_id,omitempty"`
	Reason    string    `json:"reason,omitempty"`
	Time      time.Time `json:"time"`
}
