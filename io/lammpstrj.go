package io

import (
	"bufio"
	"fmt"
	"io"
	"math"
	"os"
	"sort"
	"strconv"
	"strings"

	"github.com/intsurf/intsurf"
	"github.com/intsurf/intsurf/geom"
)

// Selector picks atoms out of a dump frame by one of its columns.
type Selector struct {
	// Field is "type" (the numeric type column) or "name" (the element
	// column).
	Field string
	Value string
}

// ParseSelector parses a selector string such as "type 1" or "name OW".
func ParseSelector(s string) (Selector, error) {
	fields := strings.Fields(s)
	if len(fields) != 2 {
		return Selector{}, fmt.Errorf(
			"species selector must be 'type N' or 'name X', got '%s'", s,
		)
	}
	switch fields[0] {
	case "type", "name":
	default:
		return Selector{}, fmt.Errorf(
			"species selector must start with 'type' or 'name', got '%s'", fields[0],
		)
	}
	return Selector{Field: fields[0], Value: fields[1]}, nil
}

func (sel Selector) matches(a *atom) bool {
	if sel.Field == "type" {
		return a.typ == sel.Value
	}
	return a.name == sel.Value
}

type atom struct {
	id        int
	typ, name string
	pos       geom.Vec
}

// groupDef is one monitored species of the run: its selector plus, for
// orientation profiles, the intra-molecule id offset of the bond partner.
type groupDef struct {
	species   string
	sel       Selector
	bondShift int
	oriented  bool
}

// DumpReader streams frames out of a LAMMPS text dump (.lammpstrj). It
// applies the configured frame skip and frame cap and resolves the species
// selectors against each frame's atoms.
type DumpReader struct {
	f    *os.File
	s    *bufio.Scanner
	line int

	surface Selector
	groups  []groupDef

	skip, max int
	parsed    int
	emitted   int
}

// NewDumpReader opens a dump file under the given, already validated,
// configuration.
func NewDumpReader(fname string, cfg *Config) (*DumpReader, error) {
	sel, err := ParseSelector(cfg.Interface.SurfaceSpecies)
	if err != nil {
		return nil, err
	}

	// One group per distinct species selector, in sorted order. Validation
	// already rejected conflicting bond definitions for a shared species.
	bySpecies := map[string]groupDef{}
	for _, p := range cfg.Profile {
		def, ok := bySpecies[p.Species]
		if !ok {
			psel, err := ParseSelector(p.Species)
			if err != nil {
				return nil, err
			}
			def = groupDef{species: p.Species, sel: psel}
		}
		if p.Orientation {
			def.oriented = true
			def.bondShift = p.BondTo - p.BondFrom
		}
		bySpecies[p.Species] = def
	}
	groups := make([]groupDef, 0, len(bySpecies))
	for _, def := range bySpecies {
		groups = append(groups, def)
	}
	sort.Slice(groups, func(i, j int) bool {
		return groups[i].species < groups[j].species
	})

	f, err := os.Open(fname)
	if err != nil {
		return nil, err
	}
	s := bufio.NewScanner(f)
	s.Buffer(make([]byte, 1<<20), 1<<20)

	return &DumpReader{
		f: f, s: s,
		surface: sel,
		groups:  groups,
		skip:    cfg.Interface.FrameSkip,
		max:     cfg.Interface.MaxFrames,
	}, nil
}

// Close releases the underlying file.
func (d *DumpReader) Close() error { return d.f.Close() }

// Next returns the next frame past the configured skip, or io.EOF once the
// trajectory or the frame cap is exhausted.
func (d *DumpReader) Next() (*intsurf.Frame, error) {
	for {
		if d.max > 0 && d.emitted >= d.max {
			return nil, io.EOF
		}

		box, atoms, err := d.readFrame()
		if err != nil {
			return nil, err
		}
		if atoms == nil {
			return nil, io.EOF
		}
		d.parsed++
		if d.parsed <= d.skip {
			continue
		}

		frame, err := d.buildFrame(box, atoms)
		if err != nil {
			return nil, err
		}
		d.emitted++
		return frame, nil
	}
}

func (d *DumpReader) buildFrame(box geom.Vec, atoms []atom) (*intsurf.Frame, error) {
	frame := &intsurf.Frame{
		Index:  d.emitted,
		Box:    box,
		Groups: map[string]intsurf.Group{},
	}

	for i := range atoms {
		if d.surface.matches(&atoms[i]) {
			frame.Surface = append(frame.Surface, atoms[i].pos)
		}
	}

	var byID map[int]*atom
	for _, def := range d.groups {
		group := intsurf.Group{}
		for i := range atoms {
			if !def.sel.matches(&atoms[i]) {
				continue
			}
			a := &atoms[i]
			group.Pos = append(group.Pos, a.pos)

			if !def.oriented {
				continue
			}
			if byID == nil {
				byID = make(map[int]*atom, len(atoms))
				for j := range atoms {
					byID[atoms[j].id] = &atoms[j]
				}
			}
			partner, ok := byID[a.id+def.bondShift]
			if !ok {
				return nil, fmt.Errorf(
					"frame %d: atom %d has no bond partner %d",
					d.parsed-1, a.id, a.id+def.bondShift,
				)
			}
			bond, err := bondVector(a.pos, partner.pos, box)
			if err != nil {
				return nil, fmt.Errorf("frame %d: atom %d: %w", d.parsed-1, a.id, err)
			}
			group.Bonds = append(group.Bonds, bond)
		}
		frame.Groups[def.species] = group
	}

	return frame, nil
}

// bondVector returns the unit vector from a to its bonded partner through
// the nearest lateral periodic image.
func bondVector(a, b geom.Vec, box geom.Vec) (geom.Vec, error) {
	delta := b.Sub(a)
	for k := 0; k < 2; k++ {
		delta[k] -= box[k] * math.Round(delta[k]/box[k])
	}
	u, ok := delta.Unit()
	if !ok {
		return geom.Vec{}, fmt.Errorf("zero-length bond")
	}
	return u, nil
}

// readFrame parses one dump frame. It returns a nil atom slice at a clean
// end of file.
func (d *DumpReader) readFrame() (geom.Vec, []atom, error) {
	var box geom.Vec

	line, ok := d.nextLine()
	if !ok {
		return box, nil, nil
	}
	if !strings.HasPrefix(line, "ITEM: TIMESTEP") {
		return box, nil, d.syntax("expected 'ITEM: TIMESTEP', got '%s'", line)
	}
	if _, err := d.intLine(); err != nil {
		return box, nil, err
	}

	if err := d.expect("ITEM: NUMBER OF ATOMS"); err != nil {
		return box, nil, err
	}
	n, err := d.intLine()
	if err != nil {
		return box, nil, err
	}

	line, ok = d.nextLine()
	if !ok {
		return box, nil, d.syntax("truncated frame: missing box bounds")
	}
	if !strings.HasPrefix(line, "ITEM: BOX BOUNDS") {
		return box, nil, d.syntax("expected 'ITEM: BOX BOUNDS', got '%s'", line)
	}
	if strings.Contains(line, "xy") {
		return box, nil, d.syntax("triclinic boxes are not supported")
	}
	var lo geom.Vec
	for k := 0; k < 3; k++ {
		bounds, ok := d.nextLine()
		if !ok {
			return box, nil, d.syntax("truncated box bounds")
		}
		fields := strings.Fields(bounds)
		if len(fields) < 2 {
			return box, nil, d.syntax("malformed box bounds '%s'", bounds)
		}
		a, err1 := strconv.ParseFloat(fields[0], 64)
		b, err2 := strconv.ParseFloat(fields[1], 64)
		if err1 != nil || err2 != nil || b <= a {
			return box, nil, d.syntax("malformed box bounds '%s'", bounds)
		}
		lo[k], box[k] = a, b-a
	}

	line, ok = d.nextLine()
	if !ok || !strings.HasPrefix(line, "ITEM: ATOMS") {
		return box, nil, d.syntax("expected 'ITEM: ATOMS', got '%s'", line)
	}
	cols, err := d.atomColumns(strings.Fields(line)[2:])
	if err != nil {
		return box, nil, err
	}

	atoms := make([]atom, n)
	for i := 0; i < n; i++ {
		row, ok := d.nextLine()
		if !ok {
			return box, nil, d.syntax("truncated frame: %d of %d atoms", i, n)
		}
		if err := cols.parse(row, lo, box, &atoms[i]); err != nil {
			return box, nil, d.syntax("%s", err)
		}
	}

	return box, atoms, nil
}

// columnMap maps the dump's per-atom columns to the fields the pipeline
// needs. Unscaled (x), unwrapped (xu) and scaled (xs) coordinates are all
// accepted.
type columnMap struct {
	id, typ, name int
	pos           [3]int
	scaled        bool
	width         int
}

func (d *DumpReader) atomColumns(names []string) (*columnMap, error) {
	cols := &columnMap{id: -1, typ: -1, name: -1, pos: [3]int{-1, -1, -1}, width: len(names)}
	axes := map[byte]int{'x': 0, 'y': 1, 'z': 2}
	for i, name := range names {
		switch name {
		case "id":
			cols.id = i
		case "type":
			cols.typ = i
		case "element", "name":
			cols.name = i
		case "x", "y", "z", "xu", "yu", "zu":
			cols.pos[axes[name[0]]] = i
		case "xs", "ys", "zs":
			cols.pos[axes[name[0]]] = i
			cols.scaled = true
		}
	}
	if cols.id == -1 || cols.typ == -1 {
		return nil, d.syntax("dump must carry 'id' and 'type' columns, got %v", names)
	}
	for k, c := range cols.pos {
		if c == -1 {
			return nil, d.syntax("dump carries no %c coordinate column", "xyz"[k])
		}
	}
	return cols, nil
}

func (cols *columnMap) parse(row string, lo, box geom.Vec, a *atom) error {
	fields := strings.Fields(row)
	if len(fields) != cols.width {
		return fmt.Errorf("atom row has %d columns, want %d", len(fields), cols.width)
	}

	id, err := strconv.Atoi(fields[cols.id])
	if err != nil {
		return fmt.Errorf("malformed atom id '%s'", fields[cols.id])
	}
	a.id = id
	a.typ = fields[cols.typ]
	if cols.name != -1 {
		a.name = fields[cols.name]
	}

	for k := 0; k < 3; k++ {
		x, err := strconv.ParseFloat(fields[cols.pos[k]], 64)
		if err != nil {
			return fmt.Errorf("malformed coordinate '%s'", fields[cols.pos[k]])
		}
		if cols.scaled {
			x = lo[k] + x*box[k]
		}
		// Positions are shifted so the box origin is zero; lateral wrapping
		// happens later, during density splatting.
		a.pos[k] = x - lo[k]
	}
	return nil
}

func (d *DumpReader) nextLine() (string, bool) {
	for d.s.Scan() {
		d.line++
		line := strings.TrimSpace(d.s.Text())
		if line != "" {
			return line, true
		}
	}
	return "", false
}

func (d *DumpReader) expect(prefix string) error {
	line, ok := d.nextLine()
	if !ok || !strings.HasPrefix(line, prefix) {
		return d.syntax("expected '%s', got '%s'", prefix, line)
	}
	return nil
}

func (d *DumpReader) intLine() (int, error) {
	line, ok := d.nextLine()
	if !ok {
		return 0, d.syntax("unexpected end of file")
	}
	n, err := strconv.Atoi(line)
	if err != nil {
		return 0, d.syntax("expected an integer, got '%s'", line)
	}
	return n, nil
}

func (d *DumpReader) syntax(format string, args ...interface{}) error {
	return fmt.Errorf("%s:%d: %s", d.f.Name(), d.line, fmt.Sprintf(format, args...))
}
