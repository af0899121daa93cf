package network

import (
	"context"

	"github.com/xoogware/crawlspace/internal/packets"
)

// handleConfiguration sends the minimum the client needs to render Play:
// the core pack, the synchronized registries and the finish marker.
func (c *Conn) handleConfiguration(ctx context.Context) error {
	if err := c.send(&packets.ClientboundKnownPacks{
		Packs: []packets.KnownPack{packets.CorePack},
	}); err != nil {
		return err
	}

	known, err := await[*packets.ServerboundKnownPacks](ctx, c)
	if err != nil {
		return err
	}
	c.logger.Debug().Int("packs", len(known.Packs)).Msg("client known packs")

	registries, err := packets.Registries()
	if err != nil {
		return err
	}
	for i := range registries {
		if err := c.send(&registries[i]); err != nil {
			return err
		}
	}

	if err := c.send(&packets.FinishConfiguration{}); err != nil {
		return err
	}
	_, err = await[*packets.FinishConfigurationAck](ctx, c)
	return err
}
