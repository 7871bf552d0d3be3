// Command genmock writes a synthetic assessment dataset: a zipped building
// inventory, zipped assessment units, and the unit price and loss ratio
// tables. Output is deterministic for a given seed.
//
// Usage:
//
//	go run ./cmd/genmock -out data/mock -buildings 500 -encoding gbk
package main

import (
	"flag"
	"fmt"
	"log"

	"github.com/couchcryptid/quake-loss-estimator/internal/domain"
	"github.com/couchcryptid/quake-loss-estimator/internal/fixture"
)

func main() {
	if err := run(); err != nil {
		log.Fatal(err)
	}
}

func run() error {
	defaults := fixture.DefaultOptions()
	outDir := flag.String("out", "", "output directory")
	cols := flag.Int("cols", defaults.Cols, "assessment unit grid columns")
	rows := flag.Int("rows", defaults.Rows, "assessment unit grid rows")
	buildings := flag.Int("buildings", defaults.Buildings, "number of buildings")
	unpriced := flag.Int("unpriced", defaults.Unpriced, "buildings with a type missing from the price table")
	seed := flag.Uint64("seed", defaults.Seed, "random seed")
	encoding := flag.String("encoding", "utf8", "attribute and table encoding: utf8 or gbk")
	omitCPG := flag.Bool("omit-cpg", false, "do not write .cpg code page files")
	altUnitColumn := flag.Bool("alt-unit-column", false, "name the unit code column with the alternate column name")
	flag.Parse()

	if *outDir == "" {
		flag.Usage()
		return fmt.Errorf("missing required flag: -out")
	}

	opts := defaults
	opts.Cols, opts.Rows = *cols, *rows
	opts.Buildings, opts.Unpriced = *buildings, *unpriced
	opts.Seed = *seed

	schema := domain.DefaultSchema()
	wopts := fixture.WriteOptions{Schema: schema, OmitCPG: *omitCPG}
	switch *encoding {
	case "utf8", "utf-8":
		wopts.Encoding = fixture.UTF8
	case "gbk":
		wopts.Encoding = fixture.GBK
	default:
		return fmt.Errorf("unknown -encoding %q", *encoding)
	}
	if *altUnitColumn {
		wopts.UnitCodeColumn = schema.UnitCodeAlt
	}

	d := fixture.Generate(opts)
	files, err := d.Serialize(wopts)
	if err != nil {
		return fmt.Errorf("serialize dataset: %w", err)
	}
	if err := files.WriteDir(*outDir); err != nil {
		return err
	}

	log.Printf("units: %d (%dx%d grid)", len(d.Units), opts.Cols, opts.Rows)
	log.Printf("buildings: %d (%d unpriced)", len(d.Buildings), opts.Unpriced)
	log.Printf("written to %s", *outDir)
	return nil
}
