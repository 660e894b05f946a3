// Command countdistinct estimates the number of distinct integers in its
// input.  Input has one row per line: a blank line or "null" is a null row and
// a comma separated list is a row holding several values.  Rows are cut into
// batches which are spread over shards that aggregate concurrently.  The shard
// sketches are merged into the final estimate.
package main

import (
	"bufio"
	"context"
	"encoding/hex"
	"flag"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"

	"github.com/dustin/go-humanize"
	"github.com/pkg/errors"
	"github.com/segmentio/go-hll-agg/aggregator"
	"github.com/segmentio/go-hll-agg/column"
	"github.com/segmentio/go-hll-agg/internal/config"
	"github.com/segmentio/go-hll-agg/internal/logger"
	"github.com/segmentio/go-hll-agg/memory"
	"go.uber.org/multierr"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

func main() {
	os.Exit(run(os.Args[1:], os.Stdin, os.Stdout, os.Stderr))
}

type flags struct {
	config       string
	precision    int
	threshold    int64
	shards       int
	batch        int
	memory       string
	intermediate bool
}

func newFlagSet(output io.Writer) (*flag.FlagSet, *flags) {
	fs := flag.NewFlagSet("countdistinct", flag.ContinueOnError)
	fs.SetOutput(output)
	f := &flags{}
	fs.StringVar(&f.config, "config", "", "path of a TOML config file")
	fs.IntVar(&f.precision, "precision", 0, "log2 of the number of sketch registers (4-18)")
	fs.Int64Var(&f.threshold, "threshold", 0, "derive the precision from a count below which estimates should be close to exact")
	fs.IntVar(&f.shards, "shards", 0, "number of concurrent shards")
	fs.IntVar(&f.batch, "batch", 0, "rows per batch")
	fs.StringVar(&f.memory, "memory", "", "limit on sketch memory, as '64MiB' or '1GiB'")
	fs.BoolVar(&f.intermediate, "intermediate", false, "print the merged sketch hex encoded instead of the estimate")
	return fs, f
}

func run(args []string, stdin io.Reader, stdout, stderr io.Writer) int {
	fs, f := newFlagSet(stderr)
	if err := fs.Parse(args); err != nil {
		return 2
	}

	conf, err := loadConfig(fs, *f)
	if err != nil {
		fmt.Fprintln(stderr, "countdistinct:", err)
		return 2
	}

	log, err := logger.New(conf.Log)
	if err != nil {
		fmt.Fprintln(stderr, "countdistinct:", err)
		return 1
	}
	defer log.Sync() //nolint:errcheck

	in, closeInputs, err := openInputs(fs.Args(), stdin)
	if err != nil {
		log.Error("opening input", zap.Error(err))
		return 1
	}
	defer closeInputs()

	budget := memory.NewBudget("countdistinct", int64(conf.MemoryLimit))
	dc := aggregator.NewDriverContext(log)

	result, err := countDistinct(context.Background(), dc, budget, conf, in)
	log.Info("sketch memory",
		zap.String("high_water", humanize.IBytes(uint64(budget.HighWaterMark()))),
		zap.String("budget", budget.String()))
	if err != nil {
		log.Error("count distinct failed", zap.Error(err))
		return 1
	}

	if f.intermediate {
		fmt.Fprintln(stdout, hex.EncodeToString(result.sketch))
	} else {
		fmt.Fprintln(stdout, result.estimate)
	}
	return 0
}

// loadConfig reads the config file, if any, and applies the flags that were
// set on the command line over it.
func loadConfig(fs *flag.FlagSet, f flags) (config.Config, error) {
	conf := config.NewConfig()
	if f.config != "" {
		var err error
		if conf, err = config.Load(f.config); err != nil {
			return config.Config{}, err
		}
	}
	var err error
	fs.Visit(func(fl *flag.Flag) {
		switch fl.Name {
		case "precision":
			conf.Precision = f.precision
		case "threshold":
			conf.PrecisionThreshold = f.threshold
			if !isSet(fs, "precision") {
				conf.Precision = 0
			}
		case "shards":
			conf.Shards = f.shards
		case "batch":
			conf.BatchSize = f.batch
		case "memory":
			err = multierr.Append(err, conf.MemoryLimit.UnmarshalText([]byte(f.memory)))
		}
	})
	if err != nil {
		return config.Config{}, err
	}
	return conf, conf.Validate()
}

func isSet(fs *flag.FlagSet, name string) bool {
	set := false
	fs.Visit(func(fl *flag.Flag) {
		if fl.Name == name {
			set = true
		}
	})
	return set
}

// openInputs concatenates the named files, or returns stdin when there are
// none.
func openInputs(paths []string, stdin io.Reader) (io.Reader, func(), error) {
	if len(paths) == 0 {
		return stdin, func() {}, nil
	}
	var files []*os.File
	closeAll := func() {
		for _, f := range files {
			f.Close()
		}
	}
	readers := make([]io.Reader, 0, len(paths))
	for _, path := range paths {
		f, err := os.Open(path)
		if err != nil {
			closeAll()
			return nil, nil, err
		}
		files = append(files, f)
		readers = append(readers, f)
	}
	return io.MultiReader(readers...), closeAll, nil
}

type result struct {
	estimate int64
	sketch   []byte
}

// countDistinct reads batches from in, routes batch k to shard k%shards and
// merges the shard sketches.
func countDistinct(ctx context.Context, dc *aggregator.DriverContext, tracker memory.Tracker, conf config.Config, in io.Reader) (result, error) {
	precision := conf.ResolvedPrecision()
	channels := []int{0}

	queues := make([]chan *column.Batch, conf.Shards)
	for i := range queues {
		queues[i] = make(chan *column.Batch, 1)
	}
	partials := make([][]byte, conf.Shards)

	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		defer func() {
			for _, q := range queues {
				close(q)
			}
		}()
		return readBatches(ctx, in, conf.BatchSize, queues)
	})
	for i := range queues {
		i := i
		g.Go(func() error {
			return aggregator.Run(dc, tracker, channels, precision, func(a *aggregator.CountDistinctInt64) error {
				for batch := range queues[i] {
					if err := a.AddRawInput(batch); err != nil {
						return errors.Wrapf(err, "shard %d", i)
					}
				}
				out := make([]column.Column, a.IntermediateColumnCount())
				if err := a.EvaluateIntermediate(out, 0); err != nil {
					return err
				}
				partials[i] = out[0].(column.BytesColumn).Bytes(0)
				dc.Logger().Debug("shard done", zap.Int("shard", i), zap.Int("sketch_bytes", len(partials[i])))
				return nil
			})
		})
	}
	if err := g.Wait(); err != nil {
		return result{}, err
	}

	var res result
	err := aggregator.Run(dc, tracker, channels, precision, func(a *aggregator.CountDistinctInt64) error {
		for _, partial := range partials {
			if err := a.AddIntermediateInput(column.NewBatch(column.NewBytesVector(partial))); err != nil {
				return err
			}
		}
		out := make([]column.Column, 1)
		if err := a.EvaluateIntermediate(out, 0); err != nil {
			return err
		}
		res.sketch = out[0].(column.BytesColumn).Bytes(0)
		if err := a.EvaluateFinal(out, 0, dc); err != nil {
			return err
		}
		res.estimate = out[0].(column.Int64Column).Int64(0)
		return nil
	})
	return res, err
}

// readBatches parses rows from in and sends batches of batchSize rows to the
// queues in turn.
func readBatches(ctx context.Context, in io.Reader, batchSize int, queues []chan *column.Batch) error {
	scanner := bufio.NewScanner(in)
	builder := column.NewInt64BlockBuilder(batchSize)
	line, k := 0, 0

	send := func() error {
		batch := column.NewBatch(builder.Build())
		builder = column.NewInt64BlockBuilder(batchSize)
		select {
		case queues[k%len(queues)] <- batch:
			k++
			return nil
		case <-ctx.Done():
			return ctx.Err()
		}
	}

	for scanner.Scan() {
		line++
		if err := appendRow(builder, scanner.Text()); err != nil {
			return errors.Wrapf(err, "line %d", line)
		}
		if builder.PositionCount() == batchSize {
			if err := send(); err != nil {
				return err
			}
		}
	}
	if err := scanner.Err(); err != nil {
		return err
	}
	if builder.PositionCount() > 0 {
		return send()
	}
	return nil
}

func appendRow(b *column.Int64BlockBuilder, text string) error {
	text = strings.TrimSpace(text)
	if text == "" || text == "null" {
		b.AppendNull()
		return nil
	}
	fields := strings.Split(text, ",")
	if len(fields) == 1 {
		v, err := strconv.ParseInt(text, 10, 64)
		if err != nil {
			return err
		}
		b.AppendInt64(v)
		return nil
	}
	values := make([]int64, 0, len(fields))
	for _, field := range fields {
		v, err := strconv.ParseInt(strings.TrimSpace(field), 10, 64)
		if err != nil {
			return err
		}
		values = append(values, v)
	}
	b.BeginPositionEntry()
	for _, v := range values {
		b.AppendInt64(v)
	}
	b.EndPositionEntry()
	return nil
}
