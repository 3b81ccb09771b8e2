package io

import (
	"io"
	"math"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/intsurf/intsurf/geom"
)

// Two frames of a 10 x 10 x 20 box with a z offset, type 1 surface atoms
// and type 2/3 O-H molecules. The molecule of frame 0 straddles the x
// boundary.
const testDump = `ITEM: TIMESTEP
0
ITEM: NUMBER OF ATOMS
4
ITEM: BOX BOUNDS pp pp ff
0 10
0 10
-5 15
ITEM: ATOMS id type x y z
1 1 1.0 1.0 0.0
2 1 2.0 2.0 1.0
3 2 9.8 5.0 2.0
4 3 0.2 5.0 2.0
ITEM: TIMESTEP
100
ITEM: NUMBER OF ATOMS
4
ITEM: BOX BOUNDS pp pp ff
0 10
0 10
-5 15
ITEM: ATOMS id type x y z
1 1 1.5 1.0 0.0
2 1 2.5 2.0 1.0
3 2 4.0 5.0 2.0
4 3 4.0 5.0 3.0
`

func testDumpConfig() *Config {
	return &Config{
		Interface: InterfaceConfig{
			MeshSpacing:    0.5,
			KernelWidth:    2.4,
			Isovalue:       0.016,
			SurfaceSpecies: "type 1",
		},
		Profile: map[string]*ProfileConfig{
			"oh": {
				Species: "type 2", Side: "upper",
				BinMin: -10, BinMax: 10, Bins: 10,
				Orientation: true, MolSize: 2, BondFrom: 0, BondTo: 1,
			},
		},
	}
}

func writeDump(t *testing.T, text string) string {
	t.Helper()
	fname := filepath.Join(t.TempDir(), "traj.lammpstrj")
	if err := os.WriteFile(fname, []byte(text), 0644); err != nil {
		t.Fatal(err)
	}
	return fname
}

func TestDumpReaderFrames(t *testing.T) {
	cfg := testDumpConfig()
	require.NoError(t, cfg.CheckInit())

	d, err := NewDumpReader(writeDump(t, testDump), cfg)
	require.NoError(t, err)
	defer d.Close()

	f0, err := d.Next()
	require.NoError(t, err)
	assert.Equal(t, 0, f0.Index)
	assert.Equal(t, geom.Vec{10, 10, 20}, f0.Box)

	// Positions are shifted so the box origin is zero: z gains 5.
	require.Len(t, f0.Surface, 2)
	assert.Equal(t, geom.Vec{1, 1, 5}, f0.Surface[0])
	assert.Equal(t, geom.Vec{2, 2, 6}, f0.Surface[1])

	group, ok := f0.Groups["type 2"]
	require.True(t, ok)
	require.Len(t, group.Pos, 1)
	assert.Equal(t, geom.Vec{9.8, 5, 7}, group.Pos[0])

	// The O-H bond crosses the x boundary: nearest image points along +x.
	require.Len(t, group.Bonds, 1)
	bond := group.Bonds[0]
	assert.InDelta(t, 1, bond[0], 1e-12)
	assert.InDelta(t, 0, bond[1], 1e-12)
	assert.InDelta(t, 0, bond[2], 1e-12)

	f1, err := d.Next()
	require.NoError(t, err)
	assert.Equal(t, 1, f1.Index)
	// Frame 1's bond points straight up.
	bond = f1.Groups["type 2"].Bonds[0]
	assert.InDelta(t, 1, bond[2], 1e-12)

	_, err = d.Next()
	assert.Equal(t, io.EOF, err)
}

func TestDumpReaderSkipAndCap(t *testing.T) {
	cfg := testDumpConfig()
	cfg.Interface.FrameSkip = 1
	require.NoError(t, cfg.CheckInit())

	d, err := NewDumpReader(writeDump(t, testDump), cfg)
	require.NoError(t, err)
	defer d.Close()

	// The first emitted frame is the file's second, re-indexed from zero.
	f, err := d.Next()
	require.NoError(t, err)
	assert.Equal(t, 0, f.Index)
	assert.Equal(t, geom.Vec{1.5, 1, 5}, f.Surface[0])
	_, err = d.Next()
	assert.Equal(t, io.EOF, err)

	cfg = testDumpConfig()
	cfg.Interface.MaxFrames = 1
	require.NoError(t, cfg.CheckInit())

	d, err = NewDumpReader(writeDump(t, testDump), cfg)
	require.NoError(t, err)
	defer d.Close()

	if _, err := d.Next(); err != nil {
		t.Fatal(err)
	}
	_, err = d.Next()
	assert.Equal(t, io.EOF, err)
}

func TestDumpReaderScaledCoordinates(t *testing.T) {
	dump := `ITEM: TIMESTEP
0
ITEM: NUMBER OF ATOMS
1
ITEM: BOX BOUNDS pp pp ff
0 10
0 10
0 20
ITEM: ATOMS id type xs ys zs
1 1 0.5 0.25 0.1
`
	cfg := testDumpConfig()
	cfg.Profile["oh"].Orientation = false
	require.NoError(t, cfg.CheckInit())

	d, err := NewDumpReader(writeDump(t, dump), cfg)
	require.NoError(t, err)
	defer d.Close()

	f, err := d.Next()
	require.NoError(t, err)
	require.Len(t, f.Surface, 1)
	assert.InDelta(t, 5, f.Surface[0][0], 1e-12)
	assert.InDelta(t, 2.5, f.Surface[0][1], 1e-12)
	assert.InDelta(t, 2, f.Surface[0][2], 1e-12)
}

func TestDumpReaderRejections(t *testing.T) {
	table := []struct {
		name, dump string
	}{
		{"triclinic", `ITEM: TIMESTEP
0
ITEM: NUMBER OF ATOMS
0
ITEM: BOX BOUNDS xy xz yz pp pp ff
0 10 0
0 10 0
0 20 0
ITEM: ATOMS id type x y z
`},
		{"no positions", `ITEM: TIMESTEP
0
ITEM: NUMBER OF ATOMS
1
ITEM: BOX BOUNDS pp pp ff
0 10
0 10
0 20
ITEM: ATOMS id type
1 1
`},
		{"truncated atoms", `ITEM: TIMESTEP
0
ITEM: NUMBER OF ATOMS
3
ITEM: BOX BOUNDS pp pp ff
0 10
0 10
0 20
ITEM: ATOMS id type x y z
1 1 1.0 1.0 1.0
`},
		{"garbage header", `ITEM: SOMETHING ELSE
`},
		{"missing bond partner", `ITEM: TIMESTEP
0
ITEM: NUMBER OF ATOMS
1
ITEM: BOX BOUNDS pp pp ff
0 10
0 10
0 20
ITEM: ATOMS id type x y z
3 2 1.0 1.0 1.0
`},
	}

	for _, test := range table {
		cfg := testDumpConfig()
		require.NoError(t, cfg.CheckInit())

		d, err := NewDumpReader(writeDump(t, test.dump), cfg)
		require.NoError(t, err)
		if _, err := d.Next(); err == nil || err == io.EOF {
			t.Errorf("%s: expected a parse error, got %v", test.name, err)
		}
		d.Close()
	}
}

func TestBondVectorLateralImageOnly(t *testing.T) {
	box := geom.Vec{10, 10, 20}

	// z is bounded: a long vertical bond is taken literally, not wrapped.
	u, err := bondVector(geom.Vec{5, 5, 1}, geom.Vec{5, 5, 19}, box)
	require.NoError(t, err)
	assert.InDelta(t, 1, u[2], 1e-12)

	// A zero-length bond is degenerate.
	_, err = bondVector(geom.Vec{5, 5, 1}, geom.Vec{5, 5, 1}, box)
	assert.Error(t, err)

	// Diagonal bond across the y boundary.
	u, err = bondVector(geom.Vec{5, 9.9, 1}, geom.Vec{5, 0.1, 1.2}, box)
	require.NoError(t, err)
	want := math.Sqrt(0.2*0.2 + 0.2*0.2)
	assert.InDelta(t, 0.2/want, u[1], 1e-12)
	assert.InDelta(t, 0.2/want, u[2], 1e-12)
}
