package memory

import (
	"strings"
	"testing"
)

const sampleMaps = `55d0c5a00000-55d0c5a02000 r--p 00000000 fd:01 1234    /usr/games/game
55d0c5a02000-55d0c5a10000 r-xp 00002000 fd:01 1234    /usr/games/game
55d0c5a10000-55d0c5a12000 rw-p 00010000 fd:01 1234    /usr/games/game
55d0c6000000-55d0c6021000 rw-p 00000000 00:00 0       [heap]
7f1e00000000-7f1e00028000 r--p 00000000 fd:01 5678    /usr/lib/libc.so.6
7f1e00028000-7f1e001bd000 r-xp 00028000 fd:01 5678    /usr/lib/libc.so.6
7f1e00200000-7f1e00201000 rw-p 00000000 00:00 0
7f1e00300000-7f1e00301000 r-xp 00000000 fd:01 91      /tmp/my plugin.so (deleted)
7ffd2a000000-7ffd2a021000 rw-p 00000000 00:00 0       [stack]
`

func TestParseMaps(t *testing.T) {
	mods, err := parseMaps(strings.NewReader(sampleMaps))
	if err != nil {
		t.Fatal(err)
	}

	want := []Module{
		{Name: "game", Path: "/usr/games/game", Base: 0x55d0c5a00000, Size: 0x12000},
		{Name: "libc.so.6", Path: "/usr/lib/libc.so.6", Base: 0x7f1e00000000, Size: 0x1bd000},
		{Name: "my plugin.so", Path: "/tmp/my plugin.so", Base: 0x7f1e00300000, Size: 0x1000},
	}

	if len(mods) != len(want) {
		t.Fatalf("got %d modules: %+v", len(mods), mods)
	}
	for i := range want {
		if mods[i] != want[i] {
			t.Errorf("module %d = %+v, want %+v", i, mods[i], want[i])
		}
	}
}
