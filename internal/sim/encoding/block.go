package encoding

import (
	"fmt"

	"github.com/klauspost/compress/zstd"

	"voxelnet.ai/internal/sim/world/kernel/model"
)

// Encoders are safe for concurrent EncodeAll/DecodeAll calls.
var (
	blockEncoder, _ = zstd.NewWriter(nil, zstd.WithEncoderLevel(zstd.SpeedFastest), zstd.WithEncoderConcurrency(1))
	blockDecoder, _ = zstd.NewReader(nil, zstd.WithDecoderConcurrency(0), zstd.WithDecoderMaxMemory(1<<20))
)

// EncodeBlock packs a block's node ids as zstd(RLE).
func EncodeBlock(nodes []uint16) ([]byte, error) {
	if len(nodes) != model.NodesPerBlock {
		return nil, fmt.Errorf("encode block: %d nodes, want %d", len(nodes), model.NodesPerBlock)
	}
	rle := AppendRLE(make([]byte, 0, 64), nodes)
	return blockEncoder.EncodeAll(rle, nil), nil
}

// DecodeBlock reverses EncodeBlock and checks the node count.
func DecodeBlock(payload []byte) ([]uint16, error) {
	rle, err := blockDecoder.DecodeAll(payload, nil)
	if err != nil {
		return nil, fmt.Errorf("decode block: %w", err)
	}
	nodes, err := DecodeRLE(rle, model.NodesPerBlock)
	if err != nil {
		return nil, fmt.Errorf("decode block: %w", err)
	}
	if len(nodes) != model.NodesPerBlock {
		return nil, fmt.Errorf("decode block: %d nodes, want %d", len(nodes), model.NodesPerBlock)
	}
	return nodes, nil
}

// Serialization versions understood by EncodeVersion/DecodeVersion. Version 1
// is bare RLE, version 2 adds zstd.
const (
	SerRLE     uint8 = 1
	SerRLEZstd uint8 = 2
)

// EncodeVersion packs nodes for a peer that negotiated ver.
func EncodeVersion(nodes []uint16, ver uint8) ([]byte, error) {
	if ver >= SerRLEZstd {
		return EncodeBlock(nodes)
	}
	if len(nodes) != model.NodesPerBlock {
		return nil, fmt.Errorf("encode block: %d nodes, want %d", len(nodes), model.NodesPerBlock)
	}
	return AppendRLE(make([]byte, 0, 64), nodes), nil
}

func DecodeVersion(payload []byte, ver uint8) ([]uint16, error) {
	if ver >= SerRLEZstd {
		return DecodeBlock(payload)
	}
	nodes, err := DecodeRLE(payload, model.NodesPerBlock)
	if err != nil {
		return nil, fmt.Errorf("decode block: %w", err)
	}
	if len(nodes) != model.NodesPerBlock {
		return nil, fmt.Errorf("decode block: %d nodes, want %d", len(nodes), model.NodesPerBlock)
	}
	return nodes, nil
}
