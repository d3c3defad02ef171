package models

import "fmt"

// PacketType identifies the payload carried by a Packet.
// Values are part of the wire format and must never be reordered.
type PacketType uint8

const (
	LoginRequestType PacketType = iota
	LoginResponseType
	ChatMessageType
	ControlSignalType
	ClipboardDataType
	FileReqType
	FileChunkType
	FileOfferType
	FileAcceptType
	ConnectRequestType
	ConnectResponseType
	StartStreamType
	DisconnectNoticeType
	AudioDataType
	PeerInfoType
	PeerRegisterType
	P2PHelloType
	FileRejectType
)

var packetTypeNames = [...]string{
	"LOGIN_REQUEST",
	"LOGIN_RESPONSE",
	"CHAT_MESSAGE",
	"CONTROL_SIGNAL",
	"CLIPBOARD_DATA",
	"FILE_REQ",
	"FILE_CHUNK",
	"FILE_OFFER",
	"FILE_ACCEPT",
	"CONNECT_REQUEST",
	"CONNECT_RESPONSE",
	"START_STREAM",
	"DISCONNECT_NOTICE",
	"AUDIO_DATA",
	"PEER_INFO",
	"PEER_REGISTER",
	"P2P_HELLO",
	"FILE_REJECT",
}

func (t PacketType) String() string {
	if int(t) < len(packetTypeNames) {
		return packetTypeNames[t]
	}
	return fmt.Sprintf("PacketType(%d)", uint8(t))
}

// Valid reports whether t is a known packet type
func (t PacketType) Valid() bool {
	return int(t) < len(packetTypeNames)
}

// Payload is implemented by every packet body
type Payload interface {
	PacketType() PacketType
}

// Packet is one typed message on the control plane
type Packet struct {
	Type    PacketType
	Payload Payload
}

// NewPacket wraps a payload, deriving the type tag from it
func NewPacket(p Payload) *Packet {
	return &Packet{Type: p.PacketType(), Payload: p}
}

// LoginRequest authenticates a client with the broker
type LoginRequest struct {
	UserID   string `msgpack:"userId" json:"userId"`
	Password string `msgpack:"password" json:"-"`
}

// LoginResponse acknowledges or rejects a login
type LoginResponse struct {
	Success bool   `msgpack:"success" json:"success"`
	Message string `msgpack:"message" json:"message"`
	UserID  string `msgpack:"userId" json:"userId"`
}

// ChatMessage is a text message between paired users
type ChatMessage struct {
	SenderID   string `msgpack:"senderId" json:"senderId"`
	ReceiverID string `msgpack:"receiverId" json:"receiverId"`
	Message    string `msgpack:"message" json:"message"`
}

// Control action types
const (
	ActionMouseMove = iota
	ActionMousePress
	ActionMouseRelease
	ActionKeyPress
	ActionKeyRelease
)

// Mouse buttons
const (
	ButtonLeft   = 1
	ButtonMiddle = 2
	ButtonRight  = 3
)

// ControlPayload is one normalized input event. X and Y are fractions of the
// target screen in [0,1].
type ControlPayload struct {
	ActionType int     `msgpack:"actionType" json:"actionType"`
	X          float32 `msgpack:"x" json:"x"`
	Y          float32 `msgpack:"y" json:"y"`
	Button     int     `msgpack:"button" json:"button"`
	KeyCode    int     `msgpack:"keyCode" json:"keyCode"`
}

// ClipboardData carries clipboard text
type ClipboardData struct {
	Content string `msgpack:"content" json:"content"`
}

// FileOffer announces a file the sender wants to transfer
type FileOffer struct {
	FileName string `msgpack:"fileName" json:"fileName"`
	FileSize int64  `msgpack:"fileSize" json:"fileSize"`
}

// FileAccept accepts a pending offer
type FileAccept struct {
	FileName string `msgpack:"fileName" json:"fileName"`
}

// FileReject declines a pending offer
type FileReject struct {
	FileName string `msgpack:"fileName" json:"fileName"`
}

// FileReq is the header sent right before the chunk stream
type FileReq struct {
	FileName string `msgpack:"fileName" json:"fileName"`
	FileSize int64  `msgpack:"fileSize" json:"fileSize"`
}

// FileChunk is one block of file content. Checksum is set on the last chunk
// only and is the xxh3 hash of the whole file.
type FileChunk struct {
	Data     []byte `msgpack:"data" json:"-"`
	Length   int    `msgpack:"length" json:"length"`
	IsLast   bool   `msgpack:"isLast" json:"isLast"`
	Checksum uint64 `msgpack:"checksum,omitempty" json:"checksum,omitempty"`
}

// ConnectRequest asks the broker to pair the caller with a target
type ConnectRequest struct {
	TargetID   string `msgpack:"targetId" json:"targetId"`
	TargetPass string `msgpack:"targetPass" json:"-"`
}

// ConnectResponse is the broker's answer to a ConnectRequest
type ConnectResponse struct {
	Success         bool   `msgpack:"success" json:"success"`
	Message         string `msgpack:"message" json:"message"`
	SessionID       string `msgpack:"sessionId" json:"sessionId"`
	PeerHost        string `msgpack:"peerHost" json:"peerHost"`
	PeerControlPort int    `msgpack:"peerControlPort" json:"peerControlPort"`
}

// StartStream tells a target to start streaming video to TargetID
type StartStream struct {
	TargetID  string `msgpack:"targetId" json:"targetId"`
	SessionID string `msgpack:"sessionId" json:"sessionId"`
}

// DisconnectNotice tells a user that its partner left
type DisconnectNotice struct {
	DisconnectedID string `msgpack:"disconnectedId" json:"disconnectedId"`
}

// AudioData carries raw audio samples
type AudioData struct {
	Data   []byte `msgpack:"data" json:"-"`
	Length int    `msgpack:"length" json:"length"`
}

// PeerInfo carries the partner's datagram address
type PeerInfo struct {
	Host string `msgpack:"host" json:"host"`
	Port int    `msgpack:"port" json:"port"`
}

// PeerRegister advertises the client's P2P control port
type PeerRegister struct {
	ControlPort int `msgpack:"controlPort" json:"controlPort"`
}

// P2PHello is the first packet on a P2P control tunnel
type P2PHello struct {
	FromID    string `msgpack:"fromId" json:"fromId"`
	SessionID string `msgpack:"sessionId" json:"sessionId"`
}

func (*LoginRequest) PacketType() PacketType     { return LoginRequestType }
func (*LoginResponse) PacketType() PacketType    { return LoginResponseType }
func (*ChatMessage) PacketType() PacketType      { return ChatMessageType }
func (*ControlPayload) PacketType() PacketType   { return ControlSignalType }
func (*ClipboardData) PacketType() PacketType    { return ClipboardDataType }
func (*FileReq) PacketType() PacketType          { return FileReqType }
func (*FileChunk) PacketType() PacketType        { return FileChunkType }
func (*FileOffer) PacketType() PacketType        { return FileOfferType }
func (*FileAccept) PacketType() PacketType       { return FileAcceptType }
func (*FileReject) PacketType() PacketType       { return FileRejectType }
func (*ConnectRequest) PacketType() PacketType   { return ConnectRequestType }
func (*ConnectResponse) PacketType() PacketType  { return ConnectResponseType }
func (*StartStream) PacketType() PacketType      { return StartStreamType }
func (*DisconnectNotice) PacketType() PacketType { return DisconnectNoticeType }
func (*AudioData) PacketType() PacketType        { return AudioDataType }
func (*PeerInfo) PacketType() PacketType         { return PeerInfoType }
func (*PeerRegister) PacketType() PacketType     { return PeerRegisterType }
func (*P2PHello) PacketType() PacketType         { return P2PHelloType }

// VideoChunk is one fragment of a compressed frame. It travels alone in a
// datagram, outside the Packet envelope. A chunk with no data and zero
// TotalChunks is a registration datagram.
type VideoChunk struct {
	SenderID    string `msgpack:"senderId"`
	TargetID    string `msgpack:"targetId"`
	FrameID     int64  `msgpack:"frameId"`
	ChunkIndex  int    `msgpack:"chunkIndex"`
	TotalChunks int    `msgpack:"totalChunks"`
	Timestamp   int64  `msgpack:"timestamp"`
	Data        []byte `msgpack:"data"`
}

// IsRegistration reports whether the chunk only announces the sender's address
func (v *VideoChunk) IsRegistration() bool {
	return len(v.Data) == 0 && v.TotalChunks == 0
}
