// main.go - x87run: execute x87/MMX byte sequences on the flat reference machine
//
// (c) 2024-2026 Zayn Otley - GPLv3 or later

package main

import (
	"errors"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"

	"github.com/intuitionamiga/fpux87"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"
)

const (
	envPrefix      = "X87RUN"
	configName     = "x87run"
	defaultMemSize = 1 << 20
)

// options holds the persistent flags after viper has merged the config
// file and the environment into them.
type options struct {
	configFile  string
	model       string
	logLevel    string
	logFormat   string
	metricsFile string
	memSize     int

	cpu      fpux87.Model
	log      *logrus.Logger
	registry *prometheus.Registry
	units    int
}

func main() {
	if err := newRootCommand(os.Stdout, os.Stderr).Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "x87run:", err)
		os.Exit(1)
	}
}

func newRootCommand(stdout, stderr io.Writer) *cobra.Command {
	opts := &options{}
	cmd := &cobra.Command{
		Use:           "x87run",
		Short:         "Execute x87 and MMX instructions on a flat reference machine",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			return opts.load(cmd)
		},
		PersistentPostRunE: func(*cobra.Command, []string) error {
			return opts.writeMetrics()
		},
	}
	cmd.SetOut(stdout)
	cmd.SetErr(stderr)

	pf := cmd.PersistentFlags()
	pf.StringVar(&opts.configFile, "config", "", "config file (default ./x87run.yaml when present)")
	pf.StringVar(&opts.model, "model", "686", "processor model: 8086, 286, 386, 486, 586 or 686")
	pf.StringVar(&opts.logLevel, "log-level", "info", "log level: debug, info, warn or error")
	pf.StringVar(&opts.logFormat, "log-format", fpux87.LogFormatText, "log format: text or json")
	pf.StringVar(&opts.metricsFile, "metrics-textfile", "", "write Prometheus counters to this file on exit")
	pf.IntVar(&opts.memSize, "mem-size", defaultMemSize, "reference machine memory in bytes")

	cmd.AddCommand(
		newExecCommand(opts),
		newRunCommand(opts),
		newDisasmCommand(opts),
		newScriptCommand(opts),
	)
	return cmd
}

// load resolves every flag the user did not set from X87RUN_* variables or
// the config file, then builds the logger and the metrics registry.
func (o *options) load(cmd *cobra.Command) error {
	v := viper.New()
	v.SetEnvPrefix(envPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	v.AutomaticEnv()

	if o.configFile != "" {
		v.SetConfigFile(o.configFile)
	} else {
		v.SetConfigName(configName)
		v.AddConfigPath(".")
	}
	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if o.configFile != "" || !errors.As(err, &notFound) {
			return fmt.Errorf("failed to read config: %w", err)
		}
	}

	var errs []string
	cmd.Flags().VisitAll(func(f *pflag.Flag) {
		if f.Changed || !v.IsSet(f.Name) {
			return
		}
		if err := cmd.Flags().Set(f.Name, fmt.Sprintf("%v", v.Get(f.Name))); err != nil {
			errs = append(errs, err.Error())
		}
	})
	if len(errs) > 0 {
		return fmt.Errorf("error mapping config to flags: %s", strings.Join(errs, "; "))
	}

	model, err := fpux87.ParseModel(o.model)
	if err != nil {
		return err
	}
	o.cpu = model
	if o.memSize <= 0 {
		return fmt.Errorf("mem-size must be positive, got %d", o.memSize)
	}

	o.log, err = fpux87.NewLogger(cmd.ErrOrStderr(), o.logLevel, o.logFormat)
	if err != nil {
		return err
	}
	o.registry = prometheus.NewRegistry()
	return nil
}

// newMachine builds a reference machine and its FPU, registering the
// unit's counters for the metrics textfile.
func (o *options) newMachine(mode16 bool) (*fpux87.FlatMachine, *fpux87.FPU_X87) {
	m := fpux87.NewFlatMachine(o.memSize)
	m.Mode16 = mode16
	name := strconv.Itoa(o.units)
	o.units++
	f := fpux87.NewFPU_X87(fpux87.Config{
		Model:  o.cpu,
		Logger: fpux87.WithUnit(o.log, o.cpu, name),
	}, m)
	o.registry.MustRegister(fpux87.NewCollector(f, prometheus.Labels{"unit": name}))
	return m, f
}

func (o *options) writeMetrics() error {
	if o.metricsFile == "" || o.registry == nil {
		return nil
	}
	if err := prometheus.WriteToTextfile(o.metricsFile, o.registry); err != nil {
		return fmt.Errorf("failed to write metrics: %w", err)
	}
	o.log.Debugf("metrics written to %s", o.metricsFile)
	return nil
}

// parseHex joins its arguments and decodes them as hex bytes.
func parseHex(args []string) ([]byte, error) {
	var code fpux87.HexBytes
	if err := code.UnmarshalText([]byte(strings.Join(args, " "))); err != nil {
		return nil, err
	}
	if len(code) == 0 {
		return nil, errors.New("no code bytes given")
	}
	return code, nil
}
