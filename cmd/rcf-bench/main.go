// Command rcf-bench streams vectors from a CSV file or stdin through a
// forest and prints a per-component summary. It is a harness for local
// experimentation, not part of the core's contract, in the same spirit
// as cmd/tempo-cli sitting outside tempodb's own contract.
package main

import (
	"encoding/csv"
	"fmt"
	"io"
	"os"
	"strconv"

	"github.com/alecthomas/kong"
	"github.com/go-kit/log"
	"github.com/olekukonko/tablewriter"

	"github.com/rcf-go/rcfcore/config"
	"github.com/rcf-go/rcfcore/forest"
)

type runCmd struct {
	Input string `arg:"" optional:"" help:"CSV file of vectors to stream through the forest; reads stdin when omitted."`

	Dimensions               int     `help:"length of a shingled point." default:"1"`
	ShingleSize              int     `help:"base tuples per shingled point; must divide dimensions." default:"1"`
	Capacity                 int     `help:"max live handles in the shared PointStore." default:"256"`
	SampleSize               int     `help:"per-tree sampler capacity." default:"256"`
	NumberOfTrees            int     `help:"component count." default:"50"`
	TimeDecay                float64 `help:"exponential bias toward recent samples." default:"0.0001"`
	InitialAcceptFraction    float64 `help:"early-stream accept probability scaling." default:"1"`
	RandomSeed               int64   `help:"master seed; per-component seeds are derived from it." default:"42"`
	InternalShinglingEnabled bool    `help:"maintain a rolling shingle internally; rows supply one base tuple each."`
	DirectLocationMap        bool    `help:"disable overlap sharing and address handles directly."`
	Float64                  bool    `help:"store points at full float64 precision instead of truncating to float32."`
	Verbose                  bool    `help:"log component updates at debug level."`
}

type cli struct {
	Run runCmd `cmd:"" default:"withargs" help:"stream vectors through a forest and print a summary."`
}

func main() {
	var c cli
	kctx := kong.Parse(&c,
		kong.Name("rcf-bench"),
		kong.Description("Local experimentation harness for the rcfcore forest."))
	if err := kctx.Run(); err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}
}

func (r *runCmd) Run() error {
	logger := log.NewNopLogger()
	if r.Verbose {
		logger = log.NewLogfmtLogger(os.Stderr)
	}

	precision := config.Float32
	if r.Float64 {
		precision = config.Float64
	}

	cfg := config.Config{
		Precision:                precision,
		Dimensions:               r.Dimensions,
		ShingleSize:              r.ShingleSize,
		Capacity:                 r.Capacity,
		SampleSize:               r.SampleSize,
		NumberOfTrees:            r.NumberOfTrees,
		TimeDecay:                r.TimeDecay,
		InitialAcceptFraction:    r.InitialAcceptFraction,
		RandomSeed:               r.RandomSeed,
		InternalShinglingEnabled: r.InternalShinglingEnabled,
		DirectLocationMap:        r.DirectLocationMap,
		DynamicResizingEnabled:   true,
	}

	f, err := forest.New(cfg, logger, "rcf-bench")
	if err != nil {
		return fmt.Errorf("building forest: %w", err)
	}
	defer f.Close()

	src, closeSrc, err := r.open()
	if err != nil {
		return err
	}
	defer closeSrc()

	rowWidth := cfg.Dimensions
	if cfg.InternalShinglingEnabled {
		rowWidth = cfg.BaseDimension()
	}

	total, notReady, err := streamRows(src, rowWidth, f)
	if err != nil {
		return err
	}

	fmt.Printf("rows read: %d, not-ready (shingle filling): %d\n", total, notReady)
	printSummary(f)
	return nil
}

func (r *runCmd) open() (io.Reader, func(), error) {
	if r.Input == "" {
		return os.Stdin, func() {}, nil
	}
	file, err := os.Open(r.Input)
	if err != nil {
		return nil, nil, fmt.Errorf("opening %s: %w", r.Input, err)
	}
	return file, func() { _ = file.Close() }, nil
}

func streamRows(src io.Reader, rowWidth int, f *forest.Forest) (total, notReady int, err error) {
	reader := csv.NewReader(src)
	reader.FieldsPerRecord = -1

	for {
		record, readErr := reader.Read()
		if readErr == io.EOF {
			break
		}
		if readErr != nil {
			return total, notReady, fmt.Errorf("reading row %d: %w", total+1, readErr)
		}

		point, parseErr := parseRow(record, rowWidth)
		if parseErr != nil {
			return total, notReady, fmt.Errorf("row %d: %w", total+1, parseErr)
		}
		total++

		_, rowNotReady, updateErr := f.Update(point)
		if updateErr != nil {
			return total, notReady, fmt.Errorf("row %d: %w", total, updateErr)
		}
		if rowNotReady {
			notReady++
		}
	}
	return total, notReady, nil
}

func parseRow(record []string, width int) ([]float64, error) {
	if len(record) != width {
		return nil, fmt.Errorf("expected %d fields, got %d", width, len(record))
	}
	point := make([]float64, width)
	for i, field := range record {
		v, err := strconv.ParseFloat(field, 64)
		if err != nil {
			return nil, fmt.Errorf("field %d (%q): %w", i, field, err)
		}
		point[i] = v
	}
	return point, nil
}

func printSummary(f *forest.Forest) {
	rows := make([][]string, 0, len(f.Components()))
	for i, c := range f.Components() {
		rows = append(rows, []string{
			strconv.Itoa(i),
			strconv.Itoa(c.Sampler().Size()),
			strconv.Itoa(c.Sampler().Capacity()),
			strconv.Itoa(c.Tree().Mass()),
		})
	}

	w := tablewriter.NewWriter(os.Stdout)
	w.SetHeader([]string{"component", "sampler size", "sampler capacity", "tree mass"})
	w.AppendBulk(rows)
	w.Render()
}
