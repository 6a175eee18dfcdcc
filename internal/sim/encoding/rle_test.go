package encoding

import (
	"testing"

	"voxelnet.ai/internal/sim/world/kernel/model"
)

func TestRLE_RoundTrip(t *testing.T) {
	in := make([]uint16, 0, 200)
	in = append(in, 1, 1, 1, 2, 2, 3)
	for i := 0; i < 50; i++ {
		in = append(in, 7)
	}
	in = append(in, 9, 10, 10, 10)

	out, err := DecodeRLE(AppendRLE(nil, in), len(in))
	if err != nil {
		t.Fatalf("DecodeRLE: %v", err)
	}
	if len(out) != len(in) {
		t.Fatalf("len mismatch: got %d want %d", len(out), len(in))
	}
	for i := range in {
		if out[i] != in[i] {
			t.Fatalf("mismatch at %d: got %d want %d", i, out[i], in[i])
		}
	}
}

func TestRLE_RejectsOverflow(t *testing.T) {
	raw := AppendRLE(nil, make([]uint16, 100))
	if _, err := DecodeRLE(raw, 99); err == nil {
		t.Fatalf("expected overflow error")
	}
	if _, err := DecodeRLE([]byte{0x80}, 10); err == nil {
		t.Fatalf("expected bad varint error")
	}
}

func TestBlock_RoundTrip(t *testing.T) {
	nodes := make([]uint16, model.NodesPerBlock)
	for i := 0; i < model.NodesPerBlock/2; i++ {
		nodes[i] = 1
	}
	nodes[model.LocalIndex(3, 9, 12)] = 5

	payload, err := EncodeBlock(nodes)
	if err != nil {
		t.Fatalf("EncodeBlock: %v", err)
	}
	if len(payload) >= model.NodesPerBlock {
		t.Fatalf("payload not compressed: %d bytes", len(payload))
	}
	got, err := DecodeBlock(payload)
	if err != nil {
		t.Fatalf("DecodeBlock: %v", err)
	}
	for i := range nodes {
		if got[i] != nodes[i] {
			t.Fatalf("mismatch at %d", i)
		}
	}
}

func TestBlock_RejectsWrongSize(t *testing.T) {
	if _, err := EncodeBlock(make([]uint16, 10)); err == nil {
		t.Fatalf("expected size error")
	}
	short := blockEncoder.EncodeAll(AppendRLE(nil, make([]uint16, 10)), nil)
	if _, err := DecodeBlock(short); err == nil {
		t.Fatalf("expected short block error")
	}
	if _, err := DecodeBlock([]byte("not zstd")); err == nil {
		t.Fatalf("expected zstd error")
	}
}

func TestVersionedCodec(t *testing.T) {
	nodes := make([]uint16, model.NodesPerBlock)
	for i := range nodes {
		nodes[i] = uint16(i / 512)
	}
	for _, ver := range []uint8{SerRLE, SerRLEZstd} {
		payload, err := EncodeVersion(nodes, ver)
		if err != nil {
			t.Fatalf("ver %d encode: %v", ver, err)
		}
		got, err := DecodeVersion(payload, ver)
		if err != nil {
			t.Fatalf("ver %d decode: %v", ver, err)
		}
		if len(got) != len(nodes) || got[4095] != nodes[4095] {
			t.Fatalf("ver %d: round trip mismatch", ver)
		}
	}
	if _, err := DecodeVersion(AppendRLE(nil, nodes[:100]), SerRLE); err == nil {
		t.Fatalf("expected short RLE block to fail")
	}
}
