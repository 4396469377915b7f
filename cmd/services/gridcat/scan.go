package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"sort"
	"text/tabwriter"
	"time"

	"github.com/rs/zerolog"
	"github.com/soltixdb/gridcat/internal/aggregation"
	"github.com/soltixdb/gridcat/internal/config"
	"github.com/soltixdb/gridcat/internal/logging"
	"github.com/soltixdb/gridcat/internal/scanner"
	"github.com/spf13/cobra"
)

var scanCmd = &cobra.Command{
	Use:   "scan <location>",
	Short: "Scan a location and print its merged layers",
	Long: "Scan resolves a location (glob, NcML document or OPeNDAP URL) the same way\n" +
		"the catalog does and prints one line per merged layer.",
	Args: cobra.ExactArgs(1),
	RunE: runScan,
}

func init() {
	scanCmd.Flags().String("scanner", "", "Scanner name (default: chosen from the location)")
	scanCmd.Flags().Int("parallelism", aggregation.DefaultParallelism, "Files scanned concurrently")
	scanCmd.Flags().Bool("times", false, "Print every timestep")
}

func runScan(cmd *cobra.Command, args []string) error {
	configPath, _ := cmd.Flags().GetString("config")
	name, _ := cmd.Flags().GetString("scanner")
	parallelism, _ := cmd.Flags().GetInt("parallelism")
	printTimes, _ := cmd.Flags().GetBool("times")
	location := args[0]

	cfg := config.LoadOrDefault(configPath)
	cfg.Scanner.Cache.Enabled = false
	logger := logging.NewWithWriter(os.Stderr, zerolog.WarnLevel)

	if err := scanner.Validate(location); err != nil {
		return err
	}
	sc, err := newRegistry(cfg, logger).Get(name)
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	files, err := scanner.Resolve(location)
	if err != nil {
		return err
	}
	agg := &aggregation.Aggregator{Scanner: sc, Parallelism: parallelism}
	vars, err := agg.Aggregate(ctx, files)
	if err != nil {
		return err
	}

	ids := make([]string, 0, len(vars))
	for id := range vars {
		ids = append(ids, id)
	}
	sort.Strings(ids)

	out := cmd.OutOrStdout()
	fmt.Fprintf(out, "%s: %d files, %d layers\n", scanner.Redact(location), len(files), len(ids))

	tw := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "LAYER\tTITLE\tUNITS\tSTEPS\tFIRST\tLAST")
	for _, id := range ids {
		v := vars[id]
		first, last := "-", "-"
		if rec, ok := v.Timeline.First(); ok {
			first = rec.Time().UTC().Format(time.RFC3339)
		}
		if rec, ok := v.Timeline.Last(); ok {
			last = rec.Time().UTC().Format(time.RFC3339)
		}
		fmt.Fprintf(tw, "%s\t%s\t%s\t%d\t%s\t%s\n", id, v.Title, v.Units, v.Timeline.Len(), first, last)
	}
	if err := tw.Flush(); err != nil {
		return err
	}

	if printTimes {
		for _, id := range ids {
			fmt.Fprintf(out, "\n%s\n", id)
			for _, rec := range vars[id].Timeline.Records() {
				fmt.Fprintf(out, "  %s  %s[%d]\n", rec.Time().UTC().Format(time.RFC3339), scanner.Redact(rec.File()), rec.Index())
			}
		}
	}
	return nil
}
