package packets

// Serverbound packet ids, per state.
const (
	HandshakeID int32 = 0x00

	StatusRequestID int32 = 0x00
	PingRequestID   int32 = 0x01

	LoginStartID          int32 = 0x00
	EncryptionResponseID  int32 = 0x01
	LoginPluginResponseID int32 = 0x02
	LoginAcknowledgedID   int32 = 0x03

	ClientInformationID       int32 = 0x00
	ConfigPluginMessageID     int32 = 0x02
	FinishConfigurationAckID  int32 = 0x03
	ConfigKeepAliveResponseID int32 = 0x04
	ServerboundKnownPacksID   int32 = 0x07

	ConfirmTeleportID              int32 = 0x00
	KeepAliveResponseID            int32 = 0x18
	SetPlayerPositionID            int32 = 0x1A
	SetPlayerPositionAndRotationID int32 = 0x1B
	SetPlayerRotationID            int32 = 0x1C
	SetPlayerOnGroundID            int32 = 0x1D
)

// Clientbound packet ids, per state.
const (
	StatusResponseID int32 = 0x00
	PongResponseID   int32 = 0x01

	LoginDisconnectID    int32 = 0x00
	EncryptionRequestID  int32 = 0x01
	LoginSuccessID       int32 = 0x02
	SetCompressionID     int32 = 0x03
	LoginPluginRequestID int32 = 0x04

	ConfigDisconnectID      int32 = 0x02
	FinishConfigurationID   int32 = 0x03
	RegistryDataID          int32 = 0x07
	ClientboundKnownPacksID int32 = 0x0E

	PlayDisconnectID      int32 = 0x1D
	GameEventID           int32 = 0x22
	KeepAliveID           int32 = 0x26
	ChunkDataID           int32 = 0x27
	LoginPlayID           int32 = 0x2B
	PlayerInfoUpdateID    int32 = 0x3E
	SynchronizePositionID int32 = 0x40
	SetBorderCenterID     int32 = 0x4D
	SetBorderSizeID       int32 = 0x4F
	SetCenterChunkID      int32 = 0x54
)
