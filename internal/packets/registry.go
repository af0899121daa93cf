// Package packets holds the typed schemas for every packet crawlspace sends
// or accepts, and the static table mapping (state, id) to a schema.
package packets

import (
	"fmt"

	"github.com/xoogware/crawlspace/internal/protocol"
)

// Packet is any typed packet.
type Packet interface {
	ID() int32
}

// Clientbound is a packet the server can serialize.
type Clientbound interface {
	Packet
	Encode(b *protocol.PacketBuilder)
}

type decodeFunc func(r *protocol.PacketReader) Packet

type key struct {
	state protocol.State
	id    int32
}

var serverbound = map[key]decodeFunc{
	{protocol.StateHandshake, HandshakeID}: decodeHandshake,

	{protocol.StateStatus, StatusRequestID}: decodeStatusRequest,
	{protocol.StateStatus, PingRequestID}:   decodePingRequest,

	{protocol.StateLogin, LoginStartID}:          decodeLoginStart,
	{protocol.StateLogin, EncryptionResponseID}:  decodeEncryptionResponse,
	{protocol.StateLogin, LoginPluginResponseID}: decodeLoginPluginResponse,
	{protocol.StateLogin, LoginAcknowledgedID}:   decodeLoginAcknowledged,

	{protocol.StateConfiguration, ClientInformationID}:       decodeClientInformation,
	{protocol.StateConfiguration, ConfigPluginMessageID}:     decodeConfigPluginMessage,
	{protocol.StateConfiguration, FinishConfigurationAckID}:  decodeFinishConfigurationAck,
	{protocol.StateConfiguration, ConfigKeepAliveResponseID}: decodeConfigKeepAliveResponse,
	{protocol.StateConfiguration, ServerboundKnownPacksID}:   decodeServerboundKnownPacks,

	{protocol.StatePlay, ConfirmTeleportID}:              decodeConfirmTeleport,
	{protocol.StatePlay, KeepAliveResponseID}:            decodeKeepAliveResponse,
	{protocol.StatePlay, SetPlayerPositionID}:            decodeSetPlayerPosition,
	{protocol.StatePlay, SetPlayerPositionAndRotationID}: decodeSetPlayerPositionAndRotation,
	{protocol.StatePlay, SetPlayerRotationID}:            decodeSetPlayerRotation,
	{protocol.StatePlay, SetPlayerOnGroundID}:            decodeSetPlayerOnGround,
}

var clientbound = map[key]string{
	{protocol.StateStatus, StatusResponseID}: "status_response",
	{protocol.StateStatus, PongResponseID}:   "pong_response",

	{protocol.StateLogin, LoginDisconnectID}:    "login_disconnect",
	{protocol.StateLogin, EncryptionRequestID}:  "encryption_request",
	{protocol.StateLogin, LoginSuccessID}:       "login_success",
	{protocol.StateLogin, SetCompressionID}:     "set_compression",
	{protocol.StateLogin, LoginPluginRequestID}: "login_plugin_request",

	{protocol.StateConfiguration, ConfigDisconnectID}:      "disconnect",
	{protocol.StateConfiguration, FinishConfigurationID}:   "finish_configuration",
	{protocol.StateConfiguration, RegistryDataID}:          "registry_data",
	{protocol.StateConfiguration, ClientboundKnownPacksID}: "select_known_packs",

	{protocol.StatePlay, PlayDisconnectID}:      "disconnect",
	{protocol.StatePlay, GameEventID}:           "game_event",
	{protocol.StatePlay, KeepAliveID}:           "keep_alive",
	{protocol.StatePlay, ChunkDataID}:           "level_chunk_with_light",
	{protocol.StatePlay, LoginPlayID}:           "login",
	{protocol.StatePlay, PlayerInfoUpdateID}:    "player_info_update",
	{protocol.StatePlay, SynchronizePositionID}: "player_position",
	{protocol.StatePlay, SetBorderCenterID}:     "set_border_center",
	{protocol.StatePlay, SetBorderSizeID}:       "set_border_size",
	{protocol.StatePlay, SetCenterChunkID}:      "set_chunk_cache_center",
}

// Decode parses a payload received in state. Ids with no schema in that
// state yield an error wrapping protocol.ErrUnknownPacket; malformed fields
// or leftover bytes yield protocol.ErrSchema.
func Decode(state protocol.State, payload []byte) (Packet, error) {
	r := protocol.NewPacketReader(payload)
	id := r.ReadVarInt()
	if err := r.Err(); err != nil {
		return nil, fmt.Errorf("failed to read packet id: %w", err)
	}

	decode, ok := serverbound[key{state, id}]
	if !ok {
		return nil, fmt.Errorf("%w: id 0x%02X in %s state", protocol.ErrUnknownPacket, id, state)
	}

	p := decode(r)
	if err := r.Finish(); err != nil {
		return nil, fmt.Errorf("failed to decode packet 0x%02X in %s state: %w", id, state, err)
	}
	return p, nil
}

// Encode serializes p for sending in state. Sending a packet outside the
// state it belongs to is a programming error and is reported, not sent.
func Encode(state protocol.State, p Clientbound) ([]byte, error) {
	if _, ok := clientbound[key{state, p.ID()}]; !ok {
		return nil, fmt.Errorf("%w: cannot send %T (id 0x%02X) in %s state", protocol.ErrUnknownPacket, p, p.ID(), state)
	}
	b := protocol.NewPacketBuilder(p.ID())
	p.Encode(b)
	return b.Build(), nil
}

// Name returns the vanilla resource name of a clientbound packet, for logs.
func Name(state protocol.State, id int32) string {
	if name, ok := clientbound[key{state, id}]; ok {
		return name
	}
	return fmt.Sprintf("0x%02X", id)
}
