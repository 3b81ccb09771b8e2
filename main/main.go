/*main runs the instantaneous-interface pipeline over a LAMMPS dump file and
writes one profile table per configured profile.
*/
package main

import (
	"bufio"
	"context"
	"flag"
	"fmt"
	"log"
	"math"
	"os"
	"os/signal"
	"path/filepath"

	"github.com/intsurf/intsurf"
	intio "github.com/intsurf/intsurf/io"
	"github.com/intsurf/intsurf/profile"
	"github.com/intsurf/intsurf/surface"
)

var (
	configFname = flag.String("Config", "", "Run configuration file.")
	trajFname   = flag.String("Traj", "", "LAMMPS dump trajectory file.")
	outDir      = flag.String("Out", ".", "Directory the profile tables are written to.")
	exampleConfig = flag.Bool("ExampleConfig", false,
		"Print an example configuration file and exit.")
)

func main() {
	flag.Parse()

	if *exampleConfig {
		fmt.Println(intio.ExampleConfigFile)
		return
	}
	if *configFname == "" || *trajFname == "" {
		log.Fatalf("both -Config and -Traj must be given (try -ExampleConfig)")
	}

	cfg, err := intio.ReadConfig(*configFname)
	if err != nil {
		log.Fatalf("reading %s: %v", *configFname, err)
	}
	specs, err := cfg.Specs()
	if err != nil {
		log.Fatalf("reading %s: %v", *configFname, err)
	}

	src, err := intio.NewDumpReader(*trajFname, cfg)
	if err != nil {
		log.Fatalf("opening %s: %v", *trajFname, err)
	}
	defer src.Close()

	// An interrupt stops the dispatch of further frames; everything already
	// accumulated is still written out.
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	res, err := intsurf.Run(ctx, src, intsurf.Params{
		MeshSpacing:    cfg.Interface.MeshSpacing,
		KernelWidth:    cfg.Interface.KernelWidth,
		CutoffMultiple: cfg.Interface.CutoffMultiple,
		Isovalue:       cfg.Interface.Isovalue,
		Workers:        cfg.Interface.Workers,
		KeepSurfaces:   cfg.Interface.KeepSurfaces,
	}, specs)
	if err != nil {
		log.Fatalf("processing %s: %v", *trajFname, err)
	}
	if res.Frames == 0 {
		log.Fatalf("%s holds no frames past the configured skip", *trajFname)
	}

	log.Printf(
		"%d frames, mean cross section %.1f, %d sides without a crossing, "+
			"%d clipped surface fragments",
		res.Frames, res.Area, res.NoCrossing, res.Clipped,
	)

	for _, acc := range res.Profiles {
		if err := writeProfile(*outDir, acc, res.Area); err != nil {
			log.Fatalf("writing profile '%s': %v", acc.Spec.Name, err)
		}
	}
	if cfg.Interface.KeepSurfaces {
		if err := writeSurfaces(*outDir, res.Surfaces); err != nil {
			log.Fatalf("writing surfaces: %v", err)
		}
	}
}

// writeProfile writes "<name>.conc.dat" and, for orientation profiles,
// "<name>.cos.dat": one "center value" row per bin.
func writeProfile(dir string, acc *profile.Accumulator, area float64) error {
	centers, conc := acc.Concentration(area)
	err := writeTable(
		filepath.Join(dir, acc.Spec.Name+".conc.dat"),
		"# signed distance (A)   concentration (mol/L)",
		centers, conc,
	)
	if err != nil {
		return err
	}

	if acc.Spec.Variant == profile.ConcentrationAndOrientation {
		centers, mean := acc.MeanCosine()
		err := writeTable(
			filepath.Join(dir, acc.Spec.Name+".cos.dat"),
			"# signed distance (A)   mean bond cosine",
			centers, mean,
		)
		if err != nil {
			return err
		}
	}

	if acc.Skipped > 0 {
		log.Printf("profile '%s': %d atoms fell outside the bin range",
			acc.Spec.Name, acc.Skipped)
	}
	return nil
}

func writeTable(fname, header string, xs, ys []float64) error {
	f, err := os.Create(fname)
	if err != nil {
		return err
	}
	defer f.Close()

	w := bufio.NewWriter(f)
	fmt.Fprintln(w, header)
	for i := range xs {
		if math.IsNaN(ys[i]) {
			continue
		}
		fmt.Fprintf(w, "%12.5f %15.8g\n", xs[i], ys[i])
	}
	if err := w.Flush(); err != nil {
		return err
	}
	return f.Close()
}

// writeSurfaces exports every retained surface as a Wavefront OBJ mesh.
func writeSurfaces(dir string, surfs map[surface.Side][]*surface.Surface) error {
	for side, frames := range surfs {
		for fi, s := range frames {
			if s == nil {
				continue
			}
			fname := filepath.Join(dir, fmt.Sprintf("%v_%04d.obj", side, fi))
			if err := writeOBJ(fname, s); err != nil {
				return err
			}
		}
	}
	return nil
}

func writeOBJ(fname string, s *surface.Surface) error {
	f, err := os.Create(fname)
	if err != nil {
		return err
	}
	defer f.Close()

	w := bufio.NewWriter(f)
	for _, v := range s.Verts {
		fmt.Fprintf(w, "v %.6f %.6f %.6f\n", v[0], v[1], v[2])
	}
	for _, n := range s.Normals {
		fmt.Fprintf(w, "vn %.6f %.6f %.6f\n", n[0], n[1], n[2])
	}
	for _, tri := range s.Tris {
		// OBJ indices are 1-based.
		fmt.Fprintf(w, "f %d//%d %d//%d %d//%d\n",
			tri[0]+1, tri[0]+1, tri[1]+1, tri[1]+1, tri[2]+1, tri[2]+1)
	}
	if err := w.Flush(); err != nil {
		return err
	}
	return f.Close()
}
