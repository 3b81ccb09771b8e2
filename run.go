/*package intsurf computes instantaneous liquid interfaces from molecular
dynamics trajectories with the Willard-Chandler coarse-grained density
method, and accumulates concentration and bond-orientation profiles of
monitored species relative to those interfaces.
*/
package intsurf

import (
	"context"
	"fmt"
	"io"
	"log"
	"runtime"
	"sync"

	"golang.org/x/sync/errgroup"

	"github.com/intsurf/intsurf/density"
	"github.com/intsurf/intsurf/geom"
	"github.com/intsurf/intsurf/profile"
	"github.com/intsurf/intsurf/surface"
)

// Group holds the atoms of one monitored species in one frame.
type Group struct {
	// Pos holds the atom (or molecular centroid) positions.
	Pos []geom.Vec
	// Bonds holds one unit bond-direction vector per atom for orientation
	// profiles, taken through the nearest periodic image. It is empty for
	// concentration-only species.
	Bonds []geom.Vec
}

// Frame is one trajectory snapshot, rebuilt from the trajectory reader every
// frame and immutable afterwards.
type Frame struct {
	// Index is the 0-based position of the frame in the trajectory after
	// frame skipping.
	Index int
	// Box holds the orthorhombic box side lengths, which may drift slowly
	// from frame to frame.
	Box geom.Vec
	// Surface holds the positions of the surface-defining species.
	Surface []geom.Vec
	// Groups maps each profile's species selector to its atoms.
	Groups map[string]Group
}

// FrameSource produces trajectory frames in order. Next returns io.EOF when
// the trajectory is exhausted.
type FrameSource interface {
	Next() (*Frame, error)
}

// Params controls the per-frame pipeline.
type Params struct {
	// MeshSpacing is the requested density grid resolution.
	MeshSpacing float64
	// KernelWidth is the Gaussian smoothing length alpha.
	KernelWidth float64
	// CutoffMultiple truncates the kernel at CutoffMultiple*KernelWidth;
	// 0 selects the default.
	CutoffMultiple float64
	// Isovalue is the density threshold defining the interface.
	Isovalue float64
	// Workers is the number of frames processed concurrently; 0 means one
	// per CPU.
	Workers int
	// KeepSurfaces retains every frame's surfaces in the Result for
	// downstream export or visualization.
	KeepSurfaces bool
}

func (p *Params) check() error {
	if p.MeshSpacing <= 0 {
		return fmt.Errorf("mesh spacing must be positive, got %g", p.MeshSpacing)
	}
	if p.KernelWidth <= 0 {
		return fmt.Errorf("kernel width must be positive, got %g", p.KernelWidth)
	}
	if p.Isovalue <= 0 {
		return fmt.Errorf("isovalue must be positive, got %g", p.Isovalue)
	}
	return nil
}

// Result holds the merged accumulators and per-run diagnostics.
type Result struct {
	// Profiles holds one merged accumulator per spec, in spec order.
	Profiles []*profile.Accumulator
	// Surfaces holds the per-frame surfaces in frame order, one slice per
	// side, when Params.KeepSurfaces is set. Frames without a crossing hold
	// nil entries.
	Surfaces map[surface.Side][]*surface.Surface

	// Frames counts fully processed frames.
	Frames int
	// NoCrossing counts frame/side pairs whose field never reached the
	// isovalue.
	NoCrossing int
	// Clipped counts surface components discarded by the largest-component
	// policy, summed over frames.
	Clipped int
	// Area is the mean x-y cross-sectional area over processed frames,
	// used for concentration normalization.
	Area float64
}

// frameOutput is one worker's result for one frame. Its accumulators are
// merged into the worker totals only after the whole frame succeeded, so a
// cancelled or failed frame contributes nothing.
type frameOutput struct {
	index  int
	lower  *surface.Surface
	upper  *surface.Surface
	area   float64
	missed int
}

// Run processes every frame of src: it builds the coarse-grained density
// field, extracts the upper and lower instantaneous interfaces once each,
// bins every monitored atom by signed distance to its reference surface,
// and merges the per-worker histograms into normalized profiles.
//
// Cancelling ctx stops the dispatch of further frames; frames already in
// flight either complete and merge, or are discarded whole.
func Run(ctx context.Context, src FrameSource, p Params, specs []profile.Spec) (*Result, error) {
	if err := p.check(); err != nil {
		return nil, err
	}
	for i := range specs {
		if err := specs[i].Check(); err != nil {
			return nil, err
		}
	}

	workers := p.Workers
	if workers <= 0 {
		workers = runtime.NumCPU()
	}

	res := &Result{}
	if p.KeepSurfaces {
		res.Surfaces = map[surface.Side][]*surface.Surface{}
	}

	builder, err := density.NewBuilder(p.KernelWidth, p.CutoffMultiple)
	if err != nil {
		return nil, err
	}

	// One accumulator set per worker, merged after the pool drains.
	partials := make([][]*profile.Accumulator, workers)
	for w := range partials {
		partials[w] = make([]*profile.Accumulator, len(specs))
		for i, spec := range specs {
			if partials[w][i], err = profile.NewAccumulator(spec); err != nil {
				return nil, err
			}
		}
	}

	frames := make(chan *Frame, workers)
	outputs := make(chan frameOutput, workers)

	group, gctx := errgroup.WithContext(ctx)

	// Reader: dispatches frames until EOF or cancellation. Cancellation only
	// stops the dispatch of further frames; frames already dispatched run to
	// completion and merge whole.
	group.Go(func() error {
		defer close(frames)
		for {
			frame, err := src.Next()
			if err == io.EOF {
				return nil
			}
			if err != nil {
				return fmt.Errorf("reading frame: %w", err)
			}
			select {
			case frames <- frame:
			case <-gctx.Done():
				return nil
			}
		}
	})

	// Workers: one frame end to end against frame-local state.
	var wg sync.WaitGroup
	for w := 0; w < workers; w++ {
		accs := partials[w]
		wg.Add(1)
		group.Go(func() error {
			defer wg.Done()
			for frame := range frames {
				out, err := processFrame(frame, builder, p, specs, accs)
				if err != nil {
					return err
				}
				outputs <- out
			}
			return nil
		})
	}
	go func() {
		wg.Wait()
		close(outputs)
	}()

	// Collector: per-frame diagnostics and optional surface retention.
	areaSum := 0.0
	outs := []frameOutput{}
	group.Go(func() error {
		for out := range outputs {
			areaSum += out.area
			res.Frames++
			res.NoCrossing += out.missed
			if out.lower != nil {
				res.Clipped += out.lower.Clipped
			}
			if out.upper != nil {
				res.Clipped += out.upper.Clipped
			}
			if p.KeepSurfaces {
				outs = append(outs, out)
			}
			if res.Frames%100 == 0 {
				log.Printf("processed %d frames", res.Frames)
			}
		}
		return nil
	})

	if err := group.Wait(); err != nil {
		return nil, err
	}

	// Deterministic reduction: merge in worker order.
	res.Profiles = partials[0]
	for w := 1; w < workers; w++ {
		for i := range specs {
			if err := res.Profiles[i].Merge(partials[w][i]); err != nil {
				return nil, err
			}
		}
	}
	if res.Frames > 0 {
		res.Area = areaSum / float64(res.Frames)
	}

	if p.KeepSurfaces {
		for _, side := range []surface.Side{surface.Lower, surface.Upper} {
			res.Surfaces[side] = make([]*surface.Surface, maxIndex(outs)+1)
		}
		for _, out := range outs {
			res.Surfaces[surface.Lower][out.index] = out.lower
			res.Surfaces[surface.Upper][out.index] = out.upper
		}
	}

	return res, nil
}

func maxIndex(outs []frameOutput) int {
	max := -1
	for _, out := range outs {
		if out.index > max {
			max = out.index
		}
	}
	return max
}

// processFrame runs the density/surface/binning pipeline for one frame. The
// field and both surfaces are frame-scoped; only the accumulators survive,
// and they are touched only after every step of the frame succeeded.
func processFrame(
	frame *Frame, builder *density.Builder, p Params,
	specs []profile.Spec, accs []*profile.Accumulator,
) (frameOutput, error) {
	out := frameOutput{index: frame.Index, area: frame.Box[0] * frame.Box[1]}

	grid, err := geom.NewGrid(frame.Box, p.MeshSpacing)
	if err != nil {
		return out, fmt.Errorf("frame %d: %w", frame.Index, err)
	}

	field := density.NewField(grid)
	builder.Splat(field, frame.Surface)

	// Exactly one extraction per side per frame.
	surfs := map[surface.Side]*surface.Surface{}
	for _, side := range []surface.Side{surface.Lower, surface.Upper} {
		s, err := surface.Extract(field, p.Isovalue, side)
		if err == nil {
			surfs[side] = s
			continue
		}
		if err == surface.ErrNoCrossing {
			out.missed++
			continue
		}
		return out, fmt.Errorf("frame %d, %v surface: %w", frame.Index, side, err)
	}
	out.lower, out.upper = surfs[surface.Lower], surfs[surface.Upper]

	// Stage the frame in scratch accumulators, then fold them in whole.
	staged := make([]*profile.Accumulator, len(specs))
	for i, spec := range specs {
		if staged[i], err = profile.NewAccumulator(spec); err != nil {
			return out, err
		}
		staged[i].AddFrame()

		surf := surfs[spec.Side]
		if surf == nil {
			continue // no surface this frame, frame still counts
		}
		group, ok := frame.Groups[spec.Species]
		if !ok {
			continue
		}

		index := surf.NewIndex(2 * grid.Spacing[0])
		for ai, pos := range group.Pos {
			d, normal := index.SignedDistance(pos)
			if spec.Variant == profile.ConcentrationAndOrientation {
				staged[i].AddOrientation(d, group.Bonds[ai].Dot(normal))
			} else {
				staged[i].AddDistance(d)
			}
		}
	}
	for i := range specs {
		if err := accs[i].Merge(staged[i]); err != nil {
			return out, err
		}
	}

	return out, nil
}
