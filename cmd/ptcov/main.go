// Command ptcov is the packet-lister/coverage-report utility for Intel
// Processor Trace, in the ambient style of the teacher's own cmd/
// utilities: stdlib flag parsing, a Config struct, trace bytes read from
// a file, a decoder looped to completion, per-element output written to
// stdout or an -o file.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"sort"
	"strconv"
	"strings"

	"ptcov/common"
	"ptcov/internal/image"
	"ptcov/internal/ptpacket"
	"ptcov/pt"
	"ptcov/pterr"
)

// Config holds command-line configuration.
type Config struct {
	TracePath  string
	OutputPath string
	Images     imageFlags
	ListOnly   bool
	MapSize    int
	FilterVMX  bool
	IgnoreToID int
	Verbose    bool
}

// imageFlags collects repeated -image base=path flags into an ordered
// list of image.Image, loading each file eagerly so a bad path fails fast.
type imageFlags []image.Image

func (f *imageFlags) String() string {
	if f == nil {
		return ""
	}
	parts := make([]string, len(*f))
	for i, img := range *f {
		parts[i] = fmt.Sprintf("0x%x", img.BaseVA)
	}
	return strings.Join(parts, ",")
}

func (f *imageFlags) Set(value string) error {
	base, path, ok := strings.Cut(value, "=")
	if !ok {
		return fmt.Errorf("expected base=path, got %q", value)
	}
	addr, err := strconv.ParseUint(strings.TrimPrefix(base, "0x"), 16, 64)
	if err != nil {
		return fmt.Errorf("bad base address %q: %w", base, err)
	}
	bytes, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("reading image %q: %w", path, err)
	}
	*f = append(*f, image.Image{BaseVA: addr, Bytes: bytes})
	return nil
}

func parseFlags(args []string) (*Config, error) {
	fs := flag.NewFlagSet("ptcov", flag.ContinueOnError)
	cfg := &Config{MapSize: 1 << 16}

	fs.StringVar(&cfg.TracePath, "trace", "", "path to a raw Intel PT trace file (required)")
	fs.StringVar(&cfg.OutputPath, "o", "", "output file (default: stdout)")
	fs.Var(&cfg.Images, "image", "base=path; repeatable, one per traced binary image")
	fs.BoolVar(&cfg.ListOnly, "list", false, "list packets instead of decoding coverage")
	fs.IntVar(&cfg.MapSize, "map-size", cfg.MapSize, "coverage bucket count (decode mode only)")
	fs.BoolVar(&cfg.FilterVMX, "filter-vmx-non-root", false, "record coverage only inside a VMX non-root guest")
	fs.IntVar(&cfg.IgnoreToID, "ignore-coverage-until", 0, "suppress coverage before this trace byte offset")
	fs.BoolVar(&cfg.Verbose, "v", false, "log debug/warning output to stderr")

	if err := fs.Parse(args); err != nil {
		return nil, err
	}
	if cfg.TracePath == "" {
		return nil, fmt.Errorf("-trace is required")
	}
	if !cfg.ListOnly && len(cfg.Images) == 0 {
		return nil, fmt.Errorf("at least one -image base=path is required for coverage decoding")
	}
	return cfg, nil
}

func openOutput(path string) (*os.File, func(), error) {
	if path == "" {
		return os.Stdout, func() {}, nil
	}
	f, err := os.Create(path)
	if err != nil {
		return nil, nil, err
	}
	return f, func() { f.Close() }, nil
}

func listPackets(cfg *Config, out *os.File) error {
	buf, err := os.ReadFile(cfg.TracePath)
	if err != nil {
		return err
	}
	dec, err := ptpacket.NewDecoder(buf)
	if err != nil {
		return err
	}
	for {
		pos := dec.Position()
		pkt, err := dec.Next()
		if err != nil {
			if pterr.IsKind(err, pterr.Eof) {
				return nil
			}
			return fmt.Errorf("at offset %d: %w", pos, err)
		}
		fmt.Fprintf(out, "%6d  %-10s size=%d\n", pos, pkt.Kind, pkt.Size())
	}
}

func decodeCoverage(cfg *Config, out *os.File) error {
	buf, err := os.ReadFile(cfg.TracePath)
	if err != nil {
		return err
	}

	logger := common.Logger(common.NewNoOpLogger())
	if cfg.Verbose {
		logger = common.NewStdLoggerWithWriter(os.Stderr, os.Stderr, common.SeverityDebug)
	}

	dec := pt.NewDecoder(pt.Config{
		FilterVMXNonRoot:    cfg.FilterVMX,
		IgnoreCoverageUntil: cfg.IgnoreToID,
		Images:              cfg.Images,
		Logger:              logger,
	})

	cov := make(pt.Uint32Coverage, cfg.MapSize)
	if err := dec.Coverage(context.Background(), buf, cov); err != nil {
		fmt.Fprintf(os.Stderr, "decode stopped (last sync at byte %d): %v\n", dec.LastSyncPosition(), err)
		fmt.Fprintf(os.Stderr, "resume from last sync position %d to recover\n", dec.LastSyncPosition())
		return err
	}

	type bucket struct {
		index int
		count uint32
	}
	var nonzero []bucket
	for i, c := range cov {
		if c != 0 {
			nonzero = append(nonzero, bucket{i, c})
		}
	}
	sort.Slice(nonzero, func(i, j int) bool { return nonzero[i].count > nonzero[j].count })

	fmt.Fprintf(out, "coverage buckets: %d / %d non-zero\n", len(nonzero), len(cov))
	for _, b := range nonzero {
		fmt.Fprintf(out, "bucket %6d  hits=%d\n", b.index, b.count)
	}
	return nil
}

func run(args []string) int {
	cfg, err := parseFlags(args)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		return 2
	}

	out, closeOut, err := openOutput(cfg.OutputPath)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		return 1
	}
	defer closeOut()

	if cfg.ListOnly {
		err = listPackets(cfg, out)
	} else {
		err = decodeCoverage(cfg, out)
	}
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		return 1
	}
	return 0
}

func main() {
	os.Exit(run(os.Args[1:]))
}
