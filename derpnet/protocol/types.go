package protocol

// FrameType is the first byte of every relay frame.
type FrameType uint8

const (
	FrameServerKey     FrameType = 0x01
	FrameClientInfo    FrameType = 0x02
	FrameServerInfo    FrameType = 0x03
	FrameSendPacket    FrameType = 0x04
	FrameRecvPacket    FrameType = 0x05
	FrameKeepAlive     FrameType = 0x06
	FrameNotePreferred FrameType = 0x07
	FramePeerGone      FrameType = 0x08
	FramePeerPresent   FrameType = 0x09
	FrameForwardPacket FrameType = 0x0a
	FrameWatchConns    FrameType = 0x10
	FrameClosePeer     FrameType = 0x11
	FramePing          FrameType = 0x12
	FramePong          FrameType = 0x13
	FrameHealth        FrameType = 0x14
	FrameRestarting    FrameType = 0x15
)

func (t FrameType) String() string {
	switch t {
	case FrameServerKey:
		return "SERVER_KEY"
	case FrameClientInfo:
		return "CLIENT_INFO"
	case FrameServerInfo:
		return "SERVER_INFO"
	case FrameSendPacket:
		return "SEND_PACKET"
	case FrameRecvPacket:
		return "RECV_PACKET"
	case FrameKeepAlive:
		return "KEEP_ALIVE"
	case FrameNotePreferred:
		return "NOTE_PREFERRED"
	case FramePeerGone:
		return "PEER_GONE"
	case FramePeerPresent:
		return "PEER_PRESENT"
	case FrameForwardPacket:
		return "FORWARD_PACKET"
	case FrameWatchConns:
		return "WATCH_CONNS"
	case FrameClosePeer:
		return "CLOSE_PEER"
	case FramePing:
		return "PING"
	case FramePong:
		return "PONG"
	case FrameHealth:
		return "HEALTH"
	case FrameRestarting:
		return "RESTARTING"
	default:
		return "UNKNOWN"
	}
}

// Known reports whether t is a frame type this package can name.
func (t FrameType) Known() bool {
	return t >= FrameServerKey && t <= FrameForwardPacket ||
		t >= FrameWatchConns && t <= FrameRestarting
}
