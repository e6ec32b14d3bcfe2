package cmd

import (
	"context"

	gocan "github.com/roffe/kwpflash"
	"github.com/roffe/kwpflash/pkg/flash"
	"github.com/roffe/kwpflash/pkg/tp20"
)

// canBus opens TP 2.0 channels on a shared client
type canBus struct {
	c *gocan.Client
}

func (b *canBus) Clear() {
	b.c.Clear()
}

func (b *canBus) Dial(ctx context.Context, logicalID byte) (flash.Transport, error) {
	return tp20.Dial(ctx, b.c, logicalID)
}
