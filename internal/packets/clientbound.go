package packets

import (
	"encoding/json"
	"unicode/utf8"

	"github.com/google/uuid"

	"github.com/xoogware/crawlspace/internal/protocol"
)

// TextJSON renders a plain text component as JSON, the form Login Disconnect uses.
func TextJSON(text string) string {
	b, _ := json.Marshal(struct {
		Text string `json:"text"`
	}{text})
	return string(b)
}

// MaxReasonLength caps disconnect reasons, in characters.
const MaxReasonLength = 256

// ClampReason shortens a disconnect reason to MaxReasonLength characters.
func ClampReason(reason string) string {
	if utf8.RuneCountInString(reason) <= MaxReasonLength {
		return reason
	}
	runes := []rune(reason)
	return string(runes[:MaxReasonLength-3]) + "..."
}

// ---- Status ----

type StatusResponse struct {
	JSON string
}

func (*StatusResponse) ID() int32 { return StatusResponseID }

func (p *StatusResponse) Encode(b *protocol.PacketBuilder) {
	b.WriteString(p.JSON)
}

type PongResponse struct {
	Payload int64
}

func (*PongResponse) ID() int32 { return PongResponseID }

func (p *PongResponse) Encode(b *protocol.PacketBuilder) {
	b.WriteInt64(p.Payload)
}

// ---- Login ----

// LoginDisconnect rejects a client during login. Reason is plain text.
type LoginDisconnect struct {
	Reason string
}

func (*LoginDisconnect) ID() int32 { return LoginDisconnectID }

func (p *LoginDisconnect) Encode(b *protocol.PacketBuilder) {
	b.WriteString(TextJSON(p.Reason))
}

// EncryptionRequest starts the key exchange. Crawlspace never asks the
// client to authenticate with the session server.
type EncryptionRequest struct {
	ServerID           string
	PublicKey          []byte
	VerifyToken        []byte
	ShouldAuthenticate bool
}

func (*EncryptionRequest) ID() int32 { return EncryptionRequestID }

func (p *EncryptionRequest) Encode(b *protocol.PacketBuilder) {
	b.WriteString(p.ServerID).
		WriteByteArray(p.PublicKey).
		WriteByteArray(p.VerifyToken).
		WriteBool(p.ShouldAuthenticate)
}

// Property is a signed profile property such as a skin texture.
type Property struct {
	Name      string `json:"name"`
	Value     string `json:"value"`
	Signature string `json:"signature,omitempty"`
}

func writeProperties(b *protocol.PacketBuilder, props []Property) {
	b.WriteVarInt(int32(len(props)))
	for _, prop := range props {
		b.WriteString(prop.Name).WriteString(prop.Value)
		b.WriteBool(prop.Signature != "")
		if prop.Signature != "" {
			b.WriteString(prop.Signature)
		}
	}
}

type LoginSuccess struct {
	UUID                uuid.UUID
	Name                string
	Properties          []Property
	StrictErrorHandling bool
}

func (*LoginSuccess) ID() int32 { return LoginSuccessID }

func (p *LoginSuccess) Encode(b *protocol.PacketBuilder) {
	b.WriteUUID(p.UUID).WriteString(p.Name)
	writeProperties(b, p.Properties)
	b.WriteBool(p.StrictErrorHandling)
}

type SetCompression struct {
	Threshold int32
}

func (*SetCompression) ID() int32 { return SetCompressionID }

func (p *SetCompression) Encode(b *protocol.PacketBuilder) {
	b.WriteVarInt(p.Threshold)
}

type LoginPluginRequest struct {
	MessageID int32
	Channel   string
	Data      []byte
}

func (*LoginPluginRequest) ID() int32 { return LoginPluginRequestID }

func (p *LoginPluginRequest) Encode(b *protocol.PacketBuilder) {
	b.WriteVarInt(p.MessageID).WriteString(p.Channel).WriteBytes(p.Data)
}

// ---- Configuration ----

type ConfigDisconnect struct {
	Reason string
}

func (*ConfigDisconnect) ID() int32 { return ConfigDisconnectID }

func (p *ConfigDisconnect) Encode(b *protocol.PacketBuilder) {
	b.WriteNBTString(p.Reason)
}

type FinishConfiguration struct{}

func (*FinishConfiguration) ID() int32 { return FinishConfigurationID }

func (*FinishConfiguration) Encode(*protocol.PacketBuilder) {}

// RegistryData lists the entries of one synchronized registry. Entries carry
// no inline data; the client resolves them from the shared core pack.
type RegistryData struct {
	Registry string
	Entries  []string
}

func (*RegistryData) ID() int32 { return RegistryDataID }

func (p *RegistryData) Encode(b *protocol.PacketBuilder) {
	b.WriteString(p.Registry).WriteVarInt(int32(len(p.Entries)))
	for _, entry := range p.Entries {
		b.WriteString(entry).WriteBool(false)
	}
}

type ClientboundKnownPacks struct {
	Packs []KnownPack
}

func (*ClientboundKnownPacks) ID() int32 { return ClientboundKnownPacksID }

func (p *ClientboundKnownPacks) Encode(b *protocol.PacketBuilder) {
	b.WriteVarInt(int32(len(p.Packs)))
	for _, pack := range p.Packs {
		b.WriteString(pack.Namespace).WriteString(pack.ID).WriteString(pack.Version)
	}
}

// CorePack is the vanilla data pack both sides ship with.
var CorePack = KnownPack{Namespace: "minecraft", ID: "core", Version: protocol.VersionName}

// ---- Play ----

type PlayDisconnect struct {
	Reason string
}

func (*PlayDisconnect) ID() int32 { return PlayDisconnectID }

func (p *PlayDisconnect) Encode(b *protocol.PacketBuilder) {
	b.WriteNBTString(p.Reason)
}

// GameEventStartWaitingForChunks tells the client to hold the loading
// screen until chunks around the player arrive.
const GameEventStartWaitingForChunks uint8 = 13

type GameEvent struct {
	Event uint8
	Value float32
}

func (*GameEvent) ID() int32 { return GameEventID }

func (p *GameEvent) Encode(b *protocol.PacketBuilder) {
	b.WriteUint8(p.Event).WriteFloat32(p.Value)
}

type KeepAlive struct {
	KeepAliveID int64
}

func (*KeepAlive) ID() int32 { return KeepAliveID }

func (p *KeepAlive) Encode(b *protocol.PacketBuilder) {
	b.WriteInt64(p.KeepAliveID)
}

// ChunkData carries one chunk column. Sections is the already encoded
// section array; light data is always empty.
type ChunkData struct {
	X, Z         int32
	Sections     []byte
	SectionCount int
}

func (*ChunkData) ID() int32 { return ChunkDataID }

func (p *ChunkData) Encode(b *protocol.PacketBuilder) {
	b.WriteInt32(p.X).WriteInt32(p.Z)
	b.WriteEmptyNBTCompound()
	b.WriteByteArray(p.Sections)
	b.WriteVarInt(0) // block entities

	// Light masks cover one section below and above the column.
	lightSections := p.SectionCount + 2
	allEmpty := []uint64{(1 << uint(lightSections)) - 1}
	b.WriteBitSet(nil).WriteBitSet(nil)
	b.WriteBitSet(allEmpty).WriteBitSet(allEmpty)
	b.WriteVarInt(0).WriteVarInt(0)
}

// Gamemodes.
const (
	GamemodeSurvival  uint8 = 0
	GamemodeCreative  uint8 = 1
	GamemodeAdventure uint8 = 2
	GamemodeSpectator uint8 = 3
)

type LoginPlay struct {
	EntityID            int32
	Hardcore            bool
	Dimensions          []string
	MaxPlayers          int32
	ViewDistance        int32
	SimulationDistance  int32
	ReducedDebugInfo    bool
	EnableRespawnScreen bool
	LimitedCrafting     bool
	DimensionType       int32
	DimensionName       string
	HashedSeed          int64
	Gamemode            uint8
	PreviousGamemode    int8
	Debug               bool
	Flat                bool
	PortalCooldown      int32
	EnforcesSecureChat  bool
}

func (*LoginPlay) ID() int32 { return LoginPlayID }

func (p *LoginPlay) Encode(b *protocol.PacketBuilder) {
	b.WriteInt32(p.EntityID).WriteBool(p.Hardcore)
	b.WriteVarInt(int32(len(p.Dimensions)))
	for _, dim := range p.Dimensions {
		b.WriteString(dim)
	}
	b.WriteVarInt(p.MaxPlayers).
		WriteVarInt(p.ViewDistance).
		WriteVarInt(p.SimulationDistance).
		WriteBool(p.ReducedDebugInfo).
		WriteBool(p.EnableRespawnScreen).
		WriteBool(p.LimitedCrafting).
		WriteVarInt(p.DimensionType).
		WriteString(p.DimensionName).
		WriteInt64(p.HashedSeed).
		WriteUint8(p.Gamemode).
		WriteInt8(p.PreviousGamemode).
		WriteBool(p.Debug).
		WriteBool(p.Flat).
		WriteBool(false). // no death location
		WriteVarInt(p.PortalCooldown).
		WriteBool(p.EnforcesSecureChat)
}

// Player info actions.
const (
	PlayerInfoAddPlayer    uint8 = 0x01
	PlayerInfoUpdateListed uint8 = 0x08
)

type PlayerInfoEntry struct {
	UUID       uuid.UUID
	Name       string
	Properties []Property
	Listed     bool
}

// PlayerInfoUpdate adds entries to the tab list. Only the add-player and
// update-listed actions are supported.
type PlayerInfoUpdate struct {
	Actions uint8
	Entries []PlayerInfoEntry
}

func (*PlayerInfoUpdate) ID() int32 { return PlayerInfoUpdateID }

func (p *PlayerInfoUpdate) Encode(b *protocol.PacketBuilder) {
	b.WriteUint8(p.Actions).WriteVarInt(int32(len(p.Entries)))
	for _, e := range p.Entries {
		b.WriteUUID(e.UUID)
		if p.Actions&PlayerInfoAddPlayer != 0 {
			b.WriteString(e.Name)
			writeProperties(b, e.Properties)
		}
		if p.Actions&PlayerInfoUpdateListed != 0 {
			b.WriteBool(e.Listed)
		}
	}
}

// SynchronizePosition teleports the player. Flags mark relative fields; zero
// means absolute.
type SynchronizePosition struct {
	X, Y, Z    float64
	Yaw, Pitch float32
	Flags      int8
	TeleportID int32
}

func (*SynchronizePosition) ID() int32 { return SynchronizePositionID }

func (p *SynchronizePosition) Encode(b *protocol.PacketBuilder) {
	b.WriteFloat64(p.X).WriteFloat64(p.Y).WriteFloat64(p.Z).
		WriteFloat32(p.Yaw).WriteFloat32(p.Pitch).
		WriteInt8(p.Flags).
		WriteVarInt(p.TeleportID)
}

type SetBorderCenter struct {
	X, Z float64
}

func (*SetBorderCenter) ID() int32 { return SetBorderCenterID }

func (p *SetBorderCenter) Encode(b *protocol.PacketBuilder) {
	b.WriteFloat64(p.X).WriteFloat64(p.Z)
}

type SetBorderSize struct {
	Diameter float64
}

func (*SetBorderSize) ID() int32 { return SetBorderSizeID }

func (p *SetBorderSize) Encode(b *protocol.PacketBuilder) {
	b.WriteFloat64(p.Diameter)
}

type SetCenterChunk struct {
	X, Z int32
}

func (*SetCenterChunk) ID() int32 { return SetCenterChunkID }

func (p *SetCenterChunk) Encode(b *protocol.PacketBuilder) {
	b.WriteVarInt(p.X).WriteVarInt(p.Z)
}
