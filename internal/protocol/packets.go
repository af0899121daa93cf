// Package protocol implements the wire format spoken between crawlspace and
// game clients: VarInt length-prefixed frames with optional zlib compression
// and optional AES/CFB8 stream encryption, plus the big-endian primitive
// encodings that packet schemas are built from.
package protocol

// Version the server speaks. Clients are expected to be pinned to it by a proxy.
const (
	ProtocolVersion int32 = 767
	VersionName           = "1.21.1"
)

// MaxPacketSize is the largest frame body a peer may declare (2^21 bytes).
const MaxPacketSize = 2097152

// MaxStringLength is the largest string the protocol allows, in UTF-16 units.
const MaxStringLength = 32767

// DefaultCompressionThreshold is the payload size at which frames get compressed.
// A negative threshold disables compression.
const DefaultCompressionThreshold = 256

// State is the coarse lifecycle phase of a connection. It scopes packet ids.
type State int

const (
	StateHandshake State = iota
	StateStatus
	StateLogin
	StateConfiguration
	StatePlay
	StateClosed
)

var stateStrings = map[State]string{
	StateHandshake:     "handshake",
	StateStatus:        "status",
	StateLogin:         "login",
	StateConfiguration: "configuration",
	StatePlay:          "play",
	StateClosed:        "closed",
}

// String returns the lowercase name of the state.
func (s State) String() string {
	if str, ok := stateStrings[s]; ok {
		return str
	}
	return "unknown"
}

// Handshake intents carried by the first packet of every connection.
const (
	IntentStatus   int32 = 1
	IntentLogin    int32 = 2
	IntentTransfer int32 = 3
)
