// Package protocol implements the wire codec shared by the broker, the P2P
// tunnel and the datagram relay.
//
// A control-plane frame is a 4-byte big-endian length followed by a msgpack
// envelope {t: type, p: payload}. Datagrams carry one msgpack VideoChunk each,
// without envelope or length prefix.
package protocol

import (
	"errors"
	"fmt"

	"github.com/arqut/arqut-desk/internal/pkg/models"
	"github.com/vmihailenco/msgpack/v5"
)

var (
	// ErrUnknownType is returned when an envelope names a type this build does not know
	ErrUnknownType = errors.New("unknown packet type")
	// ErrFrameTooLarge is returned when a length prefix exceeds the configured maximum
	ErrFrameTooLarge = errors.New("frame too large")
	// ErrEmptyFrame is returned for a zero length prefix
	ErrEmptyFrame = errors.New("empty frame")
)

type envelope struct {
	Type    models.PacketType  `msgpack:"t"`
	Payload msgpack.RawMessage `msgpack:"p"`
}

// Encode serializes a packet into an envelope, without length prefix
func Encode(p *models.Packet) ([]byte, error) {
	if p == nil || p.Payload == nil {
		return nil, fmt.Errorf("encoding packet: nil payload")
	}
	if p.Type != p.Payload.PacketType() {
		return nil, fmt.Errorf("encoding packet: type %s does not match payload %T", p.Type, p.Payload)
	}

	payload, err := msgpack.Marshal(p.Payload)
	if err != nil {
		return nil, fmt.Errorf("encoding %s payload: %w", p.Type, err)
	}

	data, err := msgpack.Marshal(&envelope{Type: p.Type, Payload: payload})
	if err != nil {
		return nil, fmt.Errorf("encoding envelope: %w", err)
	}
	return data, nil
}

// Decode parses an envelope produced by Encode
func Decode(data []byte) (*models.Packet, error) {
	var env envelope
	if err := msgpack.Unmarshal(data, &env); err != nil {
		return nil, fmt.Errorf("decoding envelope: %w", err)
	}

	payload, err := newPayload(env.Type)
	if err != nil {
		return nil, err
	}
	if err := msgpack.Unmarshal(env.Payload, payload); err != nil {
		return nil, fmt.Errorf("decoding %s payload: %w", env.Type, err)
	}

	return &models.Packet{Type: env.Type, Payload: payload}, nil
}

func newPayload(t models.PacketType) (models.Payload, error) {
	switch t {
	case models.LoginRequestType:
		return &models.LoginRequest{}, nil
	case models.LoginResponseType:
		return &models.LoginResponse{}, nil
	case models.ChatMessageType:
		return &models.ChatMessage{}, nil
	case models.ControlSignalType:
		return &models.ControlPayload{}, nil
	case models.ClipboardDataType:
		return &models.ClipboardData{}, nil
	case models.FileReqType:
		return &models.FileReq{}, nil
	case models.FileChunkType:
		return &models.FileChunk{}, nil
	case models.FileOfferType:
		return &models.FileOffer{}, nil
	case models.FileAcceptType:
		return &models.FileAccept{}, nil
	case models.FileRejectType:
		return &models.FileReject{}, nil
	case models.ConnectRequestType:
		return &models.ConnectRequest{}, nil
	case models.ConnectResponseType:
		return &models.ConnectResponse{}, nil
	case models.StartStreamType:
		return &models.StartStream{}, nil
	case models.DisconnectNoticeType:
		return &models.DisconnectNotice{}, nil
	case models.AudioDataType:
		return &models.AudioData{}, nil
	case models.PeerInfoType:
		return &models.PeerInfo{}, nil
	case models.PeerRegisterType:
		return &models.PeerRegister{}, nil
	case models.P2PHelloType:
		return &models.P2PHello{}, nil
	default:
		return nil, fmt.Errorf("%w: %d", ErrUnknownType, uint8(t))
	}
}
