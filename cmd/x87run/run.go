// run.go - run subcommand: execute YAML vector files and report mismatches
//
// (c) 2024-2026 Zayn Otley - GPLv3 or later

package main

import (
	"fmt"
	"io"
	"strings"

	"github.com/intuitionamiga/fpux87"
	"github.com/olekukonko/tablewriter"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/cobra"
)

type runOptions struct {
	verbose bool
	filter  string
}

func newRunCommand(root *options) *cobra.Command {
	opts := &runOptions{}
	cmd := &cobra.Command{
		Use:   "run FILE...",
		Short: "Run single-step vector files against the engine",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runVectors(cmd.OutOrStdout(), root, opts, args)
		},
	}
	cmd.Flags().BoolVarP(&opts.verbose, "verbose", "v", false, "list passing cases too")
	cmd.Flags().StringVar(&opts.filter, "filter", "", "only run cases whose name contains this string")
	return cmd
}

func runVectors(w io.Writer, root *options, opts *runOptions, paths []string) error {
	outcomes := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "x87run_vector_cases_total",
		Help: "Vector cases executed, by outcome.",
	}, []string{"file", "outcome"})
	root.registry.MustRegister(outcomes)

	table := tablewriter.NewWriter(w)
	table.SetHeader([]string{"File", "Case", "Result"})
	table.SetAutoWrapText(false)
	table.SetAutoFormatHeaders(false)

	var rows [][]string
	total, failures := 0, 0
	for _, path := range paths {
		vf, err := fpux87.LoadVectorFile(path)
		if err != nil {
			return err
		}
		if opts.filter != "" {
			kept := vf.Cases[:0]
			for _, c := range vf.Cases {
				if strings.Contains(c.Name, opts.filter) {
					kept = append(kept, c)
				}
			}
			vf.Cases = kept
		}

		results := vf.Run(root.log)
		passed, failed := fpux87.Summary(results)
		total += len(results)
		failures += len(failed)
		outcomes.WithLabelValues(path, "pass").Add(float64(passed))
		outcomes.WithLabelValues(path, "fail").Add(float64(len(failed)))

		for _, r := range results {
			switch {
			case r.Err != nil:
				rows = append(rows, []string{path, r.Name, "error: " + r.Err.Error()})
			case r.Diff != "":
				rows = append(rows, []string{path, r.Name, "mismatch (-want +got):\n" + r.Diff})
			case opts.verbose:
				rows = append(rows, []string{path, r.Name, "ok"})
			}
		}
		root.log.Infof("%s: %d/%d passed", path, passed, len(results))
	}
	if len(rows) > 0 {
		table.AppendBulk(rows)
		table.Render()
	}
	if failures > 0 {
		return fmt.Errorf("%d of %d vector cases failed", failures, total)
	}
	fmt.Fprintf(w, "%d vector cases passed\n", total)
	return nil
}
