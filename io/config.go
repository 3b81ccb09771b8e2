/*package io reads run configuration files and LAMMPS dump trajectories,
turning them into the frame stream and profile specs the driver consumes.
*/
package io

import (
	"fmt"
	"sort"
	"strings"

	"gopkg.in/gcfg.v1"

	"github.com/intsurf/intsurf/profile"
	"github.com/intsurf/intsurf/surface"
)

const ExampleConfigFile = `[Interface]

#######################
# Required Parameters #
#######################

# Grid resolution of the coarse-grained density field, in length units of
# the trajectory. The actual spacing is rounded down so the box is tiled by
# a whole number of cells.
MeshSpacing = 0.4

# Gaussian smoothing length (alpha) of the density kernel.
KernelWidth = 2.4

# Density threshold defining the instantaneous interface.
Isovalue = 0.016

# Selector for the surface-defining species: 'type N' matches the dump type
# column, 'name X' matches the element column.
SurfaceSpecies = type 1

#######################
# Optional Parameters #
#######################

# Kernel truncation radius in units of KernelWidth. Default is 3.
# CutoffMultiple = 3

# Frames to omit from the start of the trajectory.
# FrameSkip = 0

# Stop after this many processed frames. 0 means all.
# MaxFrames = 0

# Number of frames processed concurrently. 0 means one per CPU.
# Workers = 0

# Retain every frame's surfaces for export.
# KeepSurfaces = false

[Profile "oxygen"]
# Selector for the monitored species.
Species = type 2
# Which interface the signed distances refer to: upper or lower.
Side = upper
# Uniform distance bins. Alternatively list explicit ascending edges with
# repeated 'BinEdge = ...' lines.
BinMin = -10
BinMax = 10
Bins   = 100

[Profile "water_orientation"]
Species = type 2
Side = upper
BinMin = -10
BinMax = 10
Bins   = 50
# Keep a bond-orientation histogram alongside the concentration histogram.
Orientation = true
# Atoms per molecule and the 0-based intra-molecule indices of the bond
# endpoints (here O -> H).
MolSize  = 3
BondFrom = 0
BondTo   = 1`

// InterfaceConfig is the [Interface] section of a run configuration.
type InterfaceConfig struct {
	// Required.
	MeshSpacing    float64
	KernelWidth    float64
	Isovalue       float64
	SurfaceSpecies string

	// Optional.
	CutoffMultiple float64
	FrameSkip      int
	MaxFrames      int
	Workers        int
	KeepSurfaces   bool
}

// ProfileConfig is one [Profile "name"] section.
type ProfileConfig struct {
	Species string
	Side    string

	// Either uniform bins...
	BinMin, BinMax float64
	Bins           int
	// ...or explicit ascending edges.
	BinEdge []float64

	Orientation bool
	MolSize     int
	BondFrom    int
	BondTo      int

	name string
}

// Config is a full run configuration.
type Config struct {
	Interface InterfaceConfig
	Profile   map[string]*ProfileConfig
}

// ReadConfig reads and validates a gcfg run configuration file. Any
// validation failure surfaces before a single frame is read.
func ReadConfig(fname string) (*Config, error) {
	cfg := &Config{}
	if err := gcfg.ReadFileInto(cfg, fname); err != nil {
		return nil, err
	}
	if err := cfg.CheckInit(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// CheckInit validates the configuration and fills in defaults.
func (cfg *Config) CheckInit() error {
	con := &cfg.Interface
	if con.MeshSpacing <= 0 {
		return fmt.Errorf("need a positive 'MeshSpacing', got %g", con.MeshSpacing)
	}
	if con.KernelWidth <= 0 {
		return fmt.Errorf("need a positive 'KernelWidth', got %g", con.KernelWidth)
	}
	if con.Isovalue <= 0 {
		return fmt.Errorf("need a positive 'Isovalue', got %g", con.Isovalue)
	}
	if con.CutoffMultiple < 0 {
		return fmt.Errorf("'CutoffMultiple' must not be negative, got %g",
			con.CutoffMultiple)
	}
	if con.FrameSkip < 0 {
		return fmt.Errorf("'FrameSkip' must not be negative, got %d", con.FrameSkip)
	}
	if _, err := ParseSelector(con.SurfaceSpecies); err != nil {
		return fmt.Errorf("'SurfaceSpecies': %w", err)
	}

	if len(cfg.Profile) == 0 {
		return fmt.Errorf("need at least one [Profile \"name\"] section")
	}
	for name, p := range cfg.Profile {
		p.name = name
		if err := p.checkInit(name); err != nil {
			return err
		}
	}

	// Profiles sharing a species selector must agree on the bond geometry,
	// since the trajectory reader builds one atom group per selector.
	bonds := map[string]*ProfileConfig{}
	for name, p := range cfg.Profile {
		if !p.Orientation {
			continue
		}
		prev, ok := bonds[p.Species]
		if ok && (prev.MolSize != p.MolSize ||
			prev.BondFrom != p.BondFrom || prev.BondTo != p.BondTo) {
			return fmt.Errorf(
				"profiles '%s' and '%s' monitor '%s' with different bonds",
				prev.name, name, p.Species,
			)
		}
		bonds[p.Species] = p
	}

	return nil
}

func (p *ProfileConfig) checkInit(name string) error {
	if _, err := ParseSelector(p.Species); err != nil {
		return fmt.Errorf("profile '%s': %w", name, err)
	}
	if _, err := p.side(); err != nil {
		return fmt.Errorf("profile '%s': %w", name, err)
	}

	if len(p.BinEdge) > 0 {
		if p.Bins != 0 {
			return fmt.Errorf(
				"profile '%s' sets both 'Bins' and explicit 'BinEdge' values", name,
			)
		}
	} else {
		if p.Bins <= 0 {
			return fmt.Errorf("profile '%s' needs a positive 'Bins', got %d",
				name, p.Bins)
		}
		if p.BinMax <= p.BinMin {
			return fmt.Errorf(
				"profile '%s' needs 'BinMax' above 'BinMin', got %g and %g",
				name, p.BinMax, p.BinMin,
			)
		}
	}

	if p.Orientation {
		if p.MolSize <= 0 {
			return fmt.Errorf(
				"profile '%s' needs a positive 'MolSize' for orientation, got %d",
				name, p.MolSize,
			)
		}
		if p.BondFrom < 0 || p.BondFrom >= p.MolSize ||
			p.BondTo < 0 || p.BondTo >= p.MolSize || p.BondFrom == p.BondTo {
			return fmt.Errorf(
				"profile '%s': bond %d -> %d does not fit a %d-atom molecule",
				name, p.BondFrom, p.BondTo, p.MolSize,
			)
		}
	}
	return nil
}

func (p *ProfileConfig) side() (surface.Side, error) {
	switch strings.ToLower(p.Side) {
	case "upper":
		return surface.Upper, nil
	case "lower":
		return surface.Lower, nil
	}
	return 0, fmt.Errorf("'Side' must be 'upper' or 'lower', got '%s'", p.Side)
}

func (p *ProfileConfig) edges() []float64 {
	if len(p.BinEdge) > 0 {
		return p.BinEdge
	}
	return profile.UniformEdges(p.BinMin, p.BinMax, p.Bins)
}

// Specs resolves the profile sections into specs, in name order so runs are
// reproducible regardless of map iteration.
func (cfg *Config) Specs() ([]profile.Spec, error) {
	names := make([]string, 0, len(cfg.Profile))
	for name := range cfg.Profile {
		names = append(names, name)
	}
	sort.Strings(names)

	specs := make([]profile.Spec, 0, len(names))
	for _, name := range names {
		p := cfg.Profile[name]
		side, err := p.side()
		if err != nil {
			return nil, err
		}

		variant := profile.ConcentrationOnly
		if p.Orientation {
			variant = profile.ConcentrationAndOrientation
		}
		spec := profile.Spec{
			Name:    name,
			Species: p.Species,
			Side:    side,
			Edges:   p.edges(),
			Variant: variant,
		}
		if err := spec.Check(); err != nil {
			return nil, err
		}
		specs = append(specs, spec)
	}
	return specs, nil
}
