package packets

import (
	"github.com/google/uuid"

	"github.com/xoogware/crawlspace/internal/protocol"
)

// Field bounds, in UTF-16 units for strings and bytes for arrays.
const (
	maxAddressLen    = 255
	maxNameLen       = 16
	maxLocaleLen     = 16
	maxIdentifierLen = protocol.MaxStringLength
	maxCipherLen     = 256
	maxPluginDataLen = 1 << 20
)

// ---- Handshake ----

// Handshake opens every connection and selects the next state.
type Handshake struct {
	ProtocolVersion int32
	ServerAddress   string
	ServerPort      uint16
	Intent          int32
}

func (*Handshake) ID() int32 { return HandshakeID }

func decodeHandshake(r *protocol.PacketReader) Packet {
	return &Handshake{
		ProtocolVersion: r.ReadVarInt(),
		ServerAddress:   r.ReadString(maxAddressLen),
		ServerPort:      r.ReadUint16(),
		Intent:          r.ReadVarInt(),
	}
}

// ---- Status ----

type StatusRequest struct{}

func (*StatusRequest) ID() int32 { return StatusRequestID }

func decodeStatusRequest(*protocol.PacketReader) Packet { return &StatusRequest{} }

type PingRequest struct {
	Payload int64
}

func (*PingRequest) ID() int32 { return PingRequestID }

func decodePingRequest(r *protocol.PacketReader) Packet {
	return &PingRequest{Payload: r.ReadInt64()}
}

// ---- Login ----

// LoginStart carries the client's chosen name and (offline) UUID.
type LoginStart struct {
	Name string
	UUID uuid.UUID
}

func (*LoginStart) ID() int32 { return LoginStartID }

func decodeLoginStart(r *protocol.PacketReader) Packet {
	return &LoginStart{
		Name: r.ReadString(maxNameLen),
		UUID: r.ReadUUID(),
	}
}

// EncryptionResponse carries the RSA-encrypted shared secret and verify token.
type EncryptionResponse struct {
	SharedSecret []byte
	VerifyToken  []byte
}

func (*EncryptionResponse) ID() int32 { return EncryptionResponseID }

func decodeEncryptionResponse(r *protocol.PacketReader) Packet {
	return &EncryptionResponse{
		SharedSecret: r.ReadByteArray(maxCipherLen),
		VerifyToken:  r.ReadByteArray(maxCipherLen),
	}
}

// LoginPluginResponse answers a LoginPluginRequest. Data is only present
// when the client understood the channel.
type LoginPluginResponse struct {
	MessageID  int32
	Understood bool
	Data       []byte
}

func (*LoginPluginResponse) ID() int32 { return LoginPluginResponseID }

func decodeLoginPluginResponse(r *protocol.PacketReader) Packet {
	p := &LoginPluginResponse{
		MessageID:  r.ReadVarInt(),
		Understood: r.ReadBool(),
	}
	if p.Understood {
		p.Data = r.ReadRest(maxPluginDataLen)
	}
	return p
}

type LoginAcknowledged struct{}

func (*LoginAcknowledged) ID() int32 { return LoginAcknowledgedID }

func decodeLoginAcknowledged(*protocol.PacketReader) Packet { return &LoginAcknowledged{} }

// ---- Configuration ----

// ClientInformation reports client settings. Sent during configuration and
// whenever the player changes them.
type ClientInformation struct {
	Locale              string
	ViewDistance        int8
	ChatMode            int32
	ChatColors          bool
	DisplayedSkinParts  uint8
	MainHand            int32
	EnableTextFiltering bool
	AllowServerListings bool
}

func (*ClientInformation) ID() int32 { return ClientInformationID }

func decodeClientInformation(r *protocol.PacketReader) Packet {
	return &ClientInformation{
		Locale:              r.ReadString(maxLocaleLen),
		ViewDistance:        r.ReadInt8(),
		ChatMode:            r.ReadVarInt(),
		ChatColors:          r.ReadBool(),
		DisplayedSkinParts:  r.ReadUint8(),
		MainHand:            r.ReadVarInt(),
		EnableTextFiltering: r.ReadBool(),
		AllowServerListings: r.ReadBool(),
	}
}

// ConfigPluginMessage is a custom payload, e.g. minecraft:brand.
type ConfigPluginMessage struct {
	Channel string
	Data    []byte
}

func (*ConfigPluginMessage) ID() int32 { return ConfigPluginMessageID }

func decodeConfigPluginMessage(r *protocol.PacketReader) Packet {
	return &ConfigPluginMessage{
		Channel: r.ReadString(maxIdentifierLen),
		Data:    r.ReadRest(maxPluginDataLen),
	}
}

type FinishConfigurationAck struct{}

func (*FinishConfigurationAck) ID() int32 { return FinishConfigurationAckID }

func decodeFinishConfigurationAck(*protocol.PacketReader) Packet { return &FinishConfigurationAck{} }

type ConfigKeepAliveResponse struct {
	KeepAliveID int64
}

func (*ConfigKeepAliveResponse) ID() int32 { return ConfigKeepAliveResponseID }

func decodeConfigKeepAliveResponse(r *protocol.PacketReader) Packet {
	return &ConfigKeepAliveResponse{KeepAliveID: r.ReadInt64()}
}

// KnownPack identifies a data pack both sides have.
type KnownPack struct {
	Namespace string
	ID        string
	Version   string
}

// ServerboundKnownPacks lists the server-offered packs the client also has.
type ServerboundKnownPacks struct {
	Packs []KnownPack
}

func (*ServerboundKnownPacks) ID() int32 { return ServerboundKnownPacksID }

const maxKnownPacks = 64

func decodeServerboundKnownPacks(r *protocol.PacketReader) Packet {
	p := &ServerboundKnownPacks{}
	n := r.ReadVarInt()
	if n < 0 || n > maxKnownPacks {
		r.Failf("known pack count %d out of range", n)
		return p
	}
	for i := int32(0); i < n && r.Err() == nil; i++ {
		p.Packs = append(p.Packs, KnownPack{
			Namespace: r.ReadString(maxIdentifierLen),
			ID:        r.ReadString(maxIdentifierLen),
			Version:   r.ReadString(maxIdentifierLen),
		})
	}
	return p
}

// ---- Play ----

type ConfirmTeleport struct {
	TeleportID int32
}

func (*ConfirmTeleport) ID() int32 { return ConfirmTeleportID }

func decodeConfirmTeleport(r *protocol.PacketReader) Packet {
	return &ConfirmTeleport{TeleportID: r.ReadVarInt()}
}

type KeepAliveResponse struct {
	KeepAliveID int64
}

func (*KeepAliveResponse) ID() int32 { return KeepAliveResponseID }

func decodeKeepAliveResponse(r *protocol.PacketReader) Packet {
	return &KeepAliveResponse{KeepAliveID: r.ReadInt64()}
}

// Movement is implemented by the four player movement packets.
type Movement interface {
	Packet
	Apply(pos *Position)
}

// Position is a player's location and facing.
type Position struct {
	X, Y, Z    float64
	Yaw, Pitch float32
	OnGround   bool
}

type SetPlayerPosition struct {
	X, Y, Z  float64
	OnGround bool
}

func (*SetPlayerPosition) ID() int32 { return SetPlayerPositionID }

func (p *SetPlayerPosition) Apply(pos *Position) {
	pos.X, pos.Y, pos.Z = p.X, p.Y, p.Z
	pos.OnGround = p.OnGround
}

func decodeSetPlayerPosition(r *protocol.PacketReader) Packet {
	return &SetPlayerPosition{
		X:        r.ReadFloat64(),
		Y:        r.ReadFloat64(),
		Z:        r.ReadFloat64(),
		OnGround: r.ReadBool(),
	}
}

type SetPlayerPositionAndRotation struct {
	X, Y, Z    float64
	Yaw, Pitch float32
	OnGround   bool
}

func (*SetPlayerPositionAndRotation) ID() int32 { return SetPlayerPositionAndRotationID }

func (p *SetPlayerPositionAndRotation) Apply(pos *Position) {
	pos.X, pos.Y, pos.Z = p.X, p.Y, p.Z
	pos.Yaw, pos.Pitch = p.Yaw, p.Pitch
	pos.OnGround = p.OnGround
}

func decodeSetPlayerPositionAndRotation(r *protocol.PacketReader) Packet {
	return &SetPlayerPositionAndRotation{
		X:        r.ReadFloat64(),
		Y:        r.ReadFloat64(),
		Z:        r.ReadFloat64(),
		Yaw:      r.ReadFloat32(),
		Pitch:    r.ReadFloat32(),
		OnGround: r.ReadBool(),
	}
}

type SetPlayerRotation struct {
	Yaw, Pitch float32
	OnGround   bool
}

func (*SetPlayerRotation) ID() int32 { return SetPlayerRotationID }

func (p *SetPlayerRotation) Apply(pos *Position) {
	pos.Yaw, pos.Pitch = p.Yaw, p.Pitch
	pos.OnGround = p.OnGround
}

func decodeSetPlayerRotation(r *protocol.PacketReader) Packet {
	return &SetPlayerRotation{
		Yaw:      r.ReadFloat32(),
		Pitch:    r.ReadFloat32(),
		OnGround: r.ReadBool(),
	}
}

type SetPlayerOnGround struct {
	OnGround bool
}

func (*SetPlayerOnGround) ID() int32 { return SetPlayerOnGroundID }

func (p *SetPlayerOnGround) Apply(pos *Position) {
	pos.OnGround = p.OnGround
}

func decodeSetPlayerOnGround(r *protocol.PacketReader) Packet {
	return &SetPlayerOnGround{OnGround: r.ReadBool()}
}
