package gen

import "testing"

func TestHeightAt_DeterministicAndBounded(t *testing.T) {
	p := Params{Seed: 42, BaseHeight: 8, Amplitude: 24, GridSize: 32}
	for x := -64; x <= 64; x += 7 {
		for z := -64; z <= 64; z += 5 {
			h := HeightAt(p, x, z)
			if h != HeightAt(p, x, z) {
				t.Fatalf("HeightAt(%d,%d) not deterministic", x, z)
			}
			if h < p.BaseHeight-p.Amplitude/2 || h > p.BaseHeight+p.Amplitude/2 {
				t.Fatalf("HeightAt(%d,%d)=%d out of range", x, z, h)
			}
		}
	}
}

func TestNodeAt_Layers(t *testing.T) {
	p := Params{SandLevel: 2}
	cases := []struct {
		y, height int
		want      uint16
	}{
		{11, 10, Air},
		{10, 10, Grass},
		{2, 2, Sand},
		{9, 10, Dirt},
		{8, 10, Dirt},
		{7, 10, Stone},
	}
	for _, c := range cases {
		if got := NodeAt(p, c.y, c.height); got != c.want {
			t.Fatalf("NodeAt(y=%d,h=%d)=%d want %d", c.y, c.height, got, c.want)
		}
	}
	if !LightPropagates(Air) || !LightPropagates(Glass) || LightPropagates(Stone) {
		t.Fatalf("LightPropagates")
	}
	if len(Palette) != int(Glass)+1 || Palette[Stone] != "STONE" {
		t.Fatalf("palette out of sync: %v", Palette)
	}
}
