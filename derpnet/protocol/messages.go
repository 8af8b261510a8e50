package protocol

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/TheusHen/derpnet/derpnet/crypto"
	"github.com/TheusHen/derpnet/derpnet/key"
)

const (
	// KeyLen is the size of a public key field on the wire.
	KeyLen = crypto.KeySize

	// ServerKeyLen is the minimum ServerKey payload: magic plus relay key.
	ServerKeyLen = len(Magic) + KeyLen

	// PacketOverhead is what SendPacket and RecvPacket add around a
	// ciphertext: peer key, nonce and tag.
	PacketOverhead = KeyLen + crypto.Overhead

	// ProtocolVersion is the version announced in ClientInfo.
	ProtocolVersion = 2
)

// Magic opens every ServerKey payload: "DERP🔑".
var Magic = [8]byte{0x44, 0x45, 0x52, 0x50, 0xf0, 0x9f, 0x94, 0x91}

// DefaultClientInfo is the sealed ClientInfo body sent by clients.
var DefaultClientInfo = []byte(`{"version": 2}`)

var (
	ErrBadMagic       = errors.New("protocol: server key magic mismatch")
	ErrShortPayload   = errors.New("protocol: payload too short")
	ErrShortPacket    = errors.New("protocol: packet frame too short")
	ErrUnexpectedType = errors.New("protocol: unexpected frame type")
)

// ClientInfo is the JSON body a client seals to the relay's key.
type ClientInfo struct {
	Version int `json:"version"`
}

// ServerInfo is the JSON body the relay seals back. Fields are optional.
type ServerInfo struct {
	Version                   int `json:"version,omitempty"`
	TokenBucketBytesPerSecond int `json:"tokenBucketBytesPerSecond,omitempty"`
	TokenBucketBytesBurst     int `json:"tokenBucketBytesBurst,omitempty"`
}

// AppendServerKey appends a ServerKey payload for the relay key.
func AppendServerKey(dst []byte, relay key.Public) []byte {
	dst = append(dst, Magic[:]...)
	return append(dst, relay[:]...)
}

// ParseServerKey validates the magic and extracts the relay key. Bytes after
// the key are reserved and ignored.
func ParseServerKey(payload []byte) (key.Public, error) {
	if len(payload) < ServerKeyLen {
		return key.Public{}, fmt.Errorf("%w: server key %d bytes", ErrShortPayload, len(payload))
	}
	if !bytes.Equal(payload[:len(Magic)], Magic[:]) {
		return key.Public{}, ErrBadMagic
	}
	return key.PublicFromRaw32(payload[len(Magic):ServerKeyLen]), nil
}

// AppendClientInfo appends a ClientInfo payload: the client key in the clear
// followed by a sealed box.
func AppendClientInfo(dst []byte, client key.Public, box []byte) []byte {
	dst = append(dst, client[:]...)
	return append(dst, box...)
}

// ParseClientInfo splits a ClientInfo payload.
func ParseClientInfo(payload []byte) (key.Public, []byte, error) {
	if len(payload) < KeyLen+crypto.Overhead {
		return key.Public{}, nil, fmt.Errorf("%w: client info %d bytes", ErrShortPayload, len(payload))
	}
	return key.PublicFromRaw32(payload[:KeyLen]), payload[KeyLen:], nil
}

// DecodeClientInfo parses an opened ClientInfo body.
func DecodeClientInfo(b []byte) (ClientInfo, error) {
	var ci ClientInfo
	if err := json.Unmarshal(b, &ci); err != nil {
		return ClientInfo{}, err
	}
	return ci, nil
}

// EncodeServerInfo marshals a ServerInfo body.
func EncodeServerInfo(si ServerInfo) ([]byte, error) {
	return json.Marshal(si)
}

// DecodeServerInfo parses an opened ServerInfo body. An empty body is valid.
func DecodeServerInfo(b []byte) (ServerInfo, error) {
	var si ServerInfo
	if len(bytes.TrimSpace(b)) == 0 {
		return si, nil
	}
	if err := json.Unmarshal(b, &si); err != nil {
		return ServerInfo{}, err
	}
	return si, nil
}

// AppendPacketHeader appends the peer key of a SendPacket or RecvPacket.
// The sealed box follows it.
func AppendPacketHeader(dst []byte, peer key.Public) []byte {
	return append(dst, peer[:]...)
}

// SplitPacket splits a SendPacket or RecvPacket payload into the peer key and
// the sealed box.
func SplitPacket(payload []byte) (key.Public, []byte, error) {
	if len(payload) < PacketOverhead {
		return key.Public{}, nil, fmt.Errorf("%w: %d bytes, need %d", ErrShortPacket, len(payload), PacketOverhead)
	}
	return key.PublicFromRaw32(payload[:KeyLen]), payload[KeyLen:], nil
}
