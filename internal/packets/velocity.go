package packets

import (
	"crypto/hmac"
	"crypto/sha256"
	"fmt"

	"github.com/google/uuid"

	"github.com/xoogware/crawlspace/internal/protocol"
)

// Velocity modern forwarding.
const (
	VelocityChannel        = "velocity:player_info"
	VelocityForwardingV1   = 1
	velocitySignatureBytes = sha256.Size
)

// ForwardedPlayer is the identity a Velocity proxy vouches for.
type ForwardedPlayer struct {
	Address    string
	UUID       uuid.UUID
	Name       string
	Properties []Property
}

// VelocityRequest builds the plugin request asking the proxy for forwarded
// player info.
func VelocityRequest(messageID int32) *LoginPluginRequest {
	return &LoginPluginRequest{
		MessageID: messageID,
		Channel:   VelocityChannel,
		Data:      []byte{VelocityForwardingV1},
	}
}

// ParseVelocityForwarding verifies the HMAC-SHA256 signature on a forwarding
// response and decodes it. Any failure wraps protocol.ErrAuth.
func ParseVelocityForwarding(data, secret []byte) (*ForwardedPlayer, error) {
	if len(data) < velocitySignatureBytes {
		return nil, fmt.Errorf("%w: forwarding data too short", protocol.ErrAuth)
	}
	signature, body := data[:velocitySignatureBytes], data[velocitySignatureBytes:]

	mac := hmac.New(sha256.New, secret)
	mac.Write(body)
	if !hmac.Equal(signature, mac.Sum(nil)) {
		return nil, fmt.Errorf("%w: forwarding signature mismatch", protocol.ErrAuth)
	}

	r := protocol.NewPacketReader(body)
	version := r.ReadVarInt()
	if r.Err() == nil && version < VelocityForwardingV1 {
		return nil, fmt.Errorf("%w: unsupported forwarding version %d", protocol.ErrAuth, version)
	}

	p := &ForwardedPlayer{
		Address: r.ReadString(maxAddressLen),
		UUID:    r.ReadUUID(),
		Name:    r.ReadString(maxNameLen),
	}
	n := r.ReadVarInt()
	if n < 0 || n > 64 {
		r.Failf("property count %d out of range", n)
	}
	for i := int32(0); i < n && r.Err() == nil; i++ {
		prop := Property{
			Name:  r.ReadString(protocol.MaxStringLength),
			Value: r.ReadString(protocol.MaxStringLength),
		}
		if r.ReadBool() {
			prop.Signature = r.ReadString(protocol.MaxStringLength)
		}
		p.Properties = append(p.Properties, prop)
	}

	// Newer forwarding versions append fields this server does not use.
	if err := r.Err(); err != nil {
		return nil, fmt.Errorf("%w: malformed forwarding data: %v", protocol.ErrAuth, err)
	}
	return p, nil
}
