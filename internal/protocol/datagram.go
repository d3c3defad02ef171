package protocol

import (
	"fmt"

	"github.com/arqut/arqut-desk/internal/pkg/models"
	"github.com/vmihailenco/msgpack/v5"
)

// MaxDatagramSize is the largest serialized chunk a sender emits
const MaxDatagramSize = 60000

type datagramHeader struct {
	SenderID string `msgpack:"senderId"`
}

// EncodeDatagram serializes one video chunk for a datagram
func EncodeDatagram(c *models.VideoChunk) ([]byte, error) {
	data, err := msgpack.Marshal(c)
	if err != nil {
		return nil, fmt.Errorf("encoding video chunk: %w", err)
	}
	return data, nil
}

// DecodeDatagram parses one datagram payload
func DecodeDatagram(data []byte) (*models.VideoChunk, error) {
	var c models.VideoChunk
	if err := msgpack.Unmarshal(data, &c); err != nil {
		return nil, fmt.Errorf("decoding video chunk: %w", err)
	}
	return &c, nil
}

// DatagramSender extracts only the sender id, leaving the chunk body unparsed
func DatagramSender(data []byte) (string, error) {
	var h datagramHeader
	if err := msgpack.Unmarshal(data, &h); err != nil {
		return "", fmt.Errorf("decoding datagram header: %w", err)
	}
	return h.SenderID, nil
}
