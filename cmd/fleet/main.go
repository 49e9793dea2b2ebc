// Fleet CLI - sample, enumerate, run and score programs of a grammar
package main

import (
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/prometheus/common/expfmt"
	"github.com/spf13/cobra"
	"github.com/tliron/commonlog"
	_ "github.com/tliron/commonlog/simple"

	"github.com/chazu/fleet/grammar"
	"github.com/chazu/fleet/manifest"
	"github.com/chazu/fleet/pkg/bytecode"
	"github.com/chazu/fleet/stats"
	"github.com/chazu/fleet/worker"
)

var logger = commonlog.GetLogger("fleet.cli")

// app holds what every command needs once the configuration is loaded.
type app struct {
	configDir string
	verbosity int
	seed      uint64
	showStats bool

	m  *manifest.Manifest
	g  *grammar.Grammar
	st *stats.Collector
}

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	a := &app{}
	root := &cobra.Command{
		Use:   "fleet",
		Short: "Sample, enumerate and run programs of a probabilistic grammar",
		Long: `Fleet reads a grammar from fleet.toml (found by walking up from the
working directory, or given with --config) and works with its programs:
sampling them, enumerating them by index, compiling them to bytecode and
running them on a budgeted machine.

Without a fleet.toml the built-in integer arithmetic grammar is used.`,
		SilenceUsage:      true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error { return a.load(cmd) },
		PersistentPostRunE: func(cmd *cobra.Command, args []string) error {
			if a.showStats {
				return a.writeStats(cmd.ErrOrStderr())
			}
			return nil
		},
	}

	pf := root.PersistentFlags()
	pf.StringVarP(&a.configDir, "config", "c", "", "directory containing fleet.toml")
	pf.CountVarP(&a.verbosity, "verbose", "v", "log verbosity (repeat for more)")
	pf.Uint64Var(&a.seed, "seed", 1, "random seed")
	pf.BoolVar(&a.showStats, "stats", false, "print run counters to stderr")

	root.AddCommand(
		a.generateCmd(),
		a.neighborsCmd(),
		a.enumerateCmd(),
		a.runCmd(),
		a.scoreCmd(),
		a.disasmCmd(),
		initCmd(),
	)
	return root
}

// load finds the manifest, configures logging and builds the grammar.
func (a *app) load(cmd *cobra.Command) error {
	var (
		m   *manifest.Manifest
		err error
	)
	if a.configDir != "" {
		m, err = manifest.Load(a.configDir)
	} else {
		m, err = manifest.FindAndLoad(".")
	}
	if err != nil {
		return err
	}
	if m == nil {
		m = manifest.Default()
	}

	verbosity := m.Log.Verbosity
	if cmd.Flags().Changed("verbose") {
		verbosity = a.verbosity
	}
	var path *string
	if m.Log.Path != "" {
		path = &m.Log.Path
	}
	commonlog.Configure(verbosity, path)

	a.m = m
	a.st = stats.New()
	a.g, err = m.BuildGrammar()
	if err != nil {
		return err
	}
	logger.Debugf("run %s: grammar with %d rules, start %q", a.st.RunID(), a.g.TotalRules(), a.g.Name(a.g.Start()))
	return nil
}

// pool returns a worker pool configured from the manifest.
func (a *app) pool() *worker.Pool {
	return worker.New(a.g, worker.Config{
		Workers:     a.m.Pool.Workers,
		StepBudget:  a.m.VM.StepBudget,
		DepthBudget: a.m.VM.DepthBudget,
		Memoize:     a.m.VM.Memoize,
		Seed:        a.seed,
		MaxSteps:    a.m.Pool.MaxSteps,
		MaxOutputs:  a.m.Pool.MaxOutputs,
		MinLP:       a.m.Pool.MinLP,
	}, nil, a.st)
}

// parseTrees parses each argument as a program of the start nonterminal.
// Arguments containing ':' are read in the parseable nt:tag form.
func (a *app) parseTrees(args []string) ([]*grammar.Node, error) {
	trees := make([]*grammar.Node, 0, len(args))
	for _, s := range args {
		var (
			n   *grammar.Node
			err error
		)
		if strings.Contains(s, grammar.NTDelimiter) {
			n, err = a.g.FromParseable(s)
		} else {
			n, err = a.g.ParseSExpr(a.g.Start(), s)
		}
		if err != nil {
			return nil, fmt.Errorf("%q: %w", s, err)
		}
		trees = append(trees, n)
	}
	return trees, nil
}

// parseInput reads a value of the grammar's input kind. An empty string
// means no input.
func (a *app) parseInput(s string) (bytecode.Value, error) {
	if s == "" {
		return nil, nil
	}
	return bytecode.ParseValue(a.g.Kind(a.g.Input()), s)
}

func (a *app) writeStats(w io.Writer) error {
	mfs, err := a.st.Registry().Gather()
	if err != nil {
		return err
	}
	for _, mf := range mfs {
		if _, err := expfmt.MetricFamilyToText(w, mf); err != nil {
			return err
		}
	}
	return nil
}
