package flash

import (
	"context"
	"fmt"
)

// MinChunkSize is the smallest block length the transfer runs with
const MinChunkSize = 240

var channelTest = []byte{0xA3}

// Transfer sends data in chunkSize blocks, running one channel test between
// blocks, and returns the 16 bit additive checksum of data.
func Transfer(ctx context.Context, data []byte, chunkSize int, client DataTransferer, link KeepAliver, progress func(int)) (uint16, error) {
	if chunkSize < MinChunkSize {
		return 0, &ChunkSizeError{Size: chunkSize, Min: MinChunkSize}
	}
	var sum uint16
	for pos := 0; pos < len(data); pos += chunkSize {
		if err := ctx.Err(); err != nil {
			return 0, err
		}
		chunk := data[pos:min(pos+chunkSize, len(data))]
		if err := client.TransferData(ctx, chunk); err != nil {
			return 0, fmt.Errorf("block at offset 0x%X: %w", pos, err)
		}
		if err := link.SendFrame(ctx, channelTest); err != nil {
			return 0, fmt.Errorf("keep alive: %w", err)
		}
		if _, err := link.RecvFrame(ctx); err != nil {
			return 0, fmt.Errorf("keep alive: %w", err)
		}
		for _, b := range chunk {
			sum += uint16(b)
		}
		if progress != nil {
			progress(len(chunk))
		}
	}
	return sum, nil
}
