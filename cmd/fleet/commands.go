package main

import (
	"context"
	"errors"
	"fmt"
	"math"
	"math/rand/v2"
	"os"
	"path/filepath"
	"slices"
	"strings"

	"github.com/spf13/cobra"

	"github.com/chazu/fleet/enumerate"
	"github.com/chazu/fleet/grammar"
	"github.com/chazu/fleet/hash"
	"github.com/chazu/fleet/manifest"
	"github.com/chazu/fleet/pkg/bytecode"
	"github.com/chazu/fleet/wire"
	"github.com/chazu/fleet/worker"
)

// =============================================================================
// GENERATE
// =============================================================================

func (a *app) generateCmd() *cobra.Command {
	var (
		count     int
		parseable bool
		encode    bool
	)
	cmd := &cobra.Command{
		Use:   "generate",
		Short: "Sample programs from the grammar",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			out := cmd.OutOrStdout()
			s := grammar.NewSampler(a.g, rand.New(rand.NewPCG(a.seed, 0)), a.st)
			for range count {
				n, err := s.GenerateRetry(a.g.Start())
				if err != nil {
					return err
				}
				switch {
				case encode:
					data, err := wire.MarshalTree(n)
					if err != nil {
						return err
					}
					fmt.Fprintf(out, "%x\n", data)
				case parseable:
					fmt.Fprintln(out, n.Parseable())
				default:
					fmt.Fprintf(out, "%9.4f  %s\n", a.g.LogProbability(n), n)
				}
			}
			return nil
		},
	}
	cmd.Flags().IntVarP(&count, "count", "n", 10, "number of programs")
	cmd.Flags().BoolVar(&parseable, "parseable", false, "print in nt:tag form")
	cmd.Flags().BoolVar(&encode, "wire", false, "print the hex CBOR tree encoding")
	return cmd
}

func (a *app) neighborsCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "neighbors EXPR",
		Short: "List every program one rule substitution away",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			trees, err := a.parseTrees(args)
			if err != nil {
				return err
			}
			for n := range a.g.Neighbors(trees[0]) {
				fmt.Fprintf(cmd.OutOrStdout(), "%9.4f  %s\n", a.g.LogProbability(n), n)
			}
			return nil
		},
	}
}

// =============================================================================
// ENUMERATE
// =============================================================================

func (a *app) enumerateCmd() *cobra.Command {
	var (
		from    uint64
		count   uint64
		indexOf bool
	)
	cmd := &cobra.Command{
		Use:   "enumerate [EXPR...]",
		Short: "Decode programs by index, or print the index of programs",
		Long: `Without arguments, prints the programs with indexes from --from on.
With --index-of, prints the index of each program given as an argument.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			out := cmd.OutOrStdout()
			e, err := enumerate.New(a.g, a.st)
			if err != nil {
				return err
			}
			if indexOf {
				trees, err := a.parseTrees(args)
				if err != nil {
					return err
				}
				for _, n := range trees {
					i, err := e.IndexOf(n)
					if err != nil {
						return fmt.Errorf("%s: %w", n, err)
					}
					fmt.Fprintf(out, "%d\t%s\n", i, n)
				}
				return nil
			}
			if len(args) > 0 {
				return fmt.Errorf("programs given without --index-of")
			}

			fmt.Fprintf(out, "# %s: %s programs\n", a.g.Name(a.g.Start()), e.Count(a.g.Start()))
			for i := from; i < from+count; i++ {
				n, err := e.ExpandFromInteger(a.g.Start(), i)
				if errors.Is(err, enumerate.ErrIndexOutOfRange) {
					break
				}
				if err != nil {
					return fmt.Errorf("index %d: %w", i, err)
				}
				fmt.Fprintf(out, "%d\t%s\n", i, n)
			}
			return nil
		},
	}
	cmd.Flags().Uint64Var(&from, "from", 0, "first index")
	cmd.Flags().Uint64VarP(&count, "count", "n", 20, "number of programs")
	cmd.Flags().BoolVar(&indexOf, "index-of", false, "print indexes of the given programs")
	return cmd
}

// =============================================================================
// RUN
// =============================================================================

func (a *app) runCmd() *cobra.Command {
	var (
		input string
		dist  bool
	)
	cmd := &cobra.Command{
		Use:   "run EXPR...",
		Short: "Compile and run programs on one input",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			out := cmd.OutOrStdout()
			trees, err := a.parseTrees(args)
			if err != nil {
				return err
			}
			x, err := a.parseInput(input)
			if err != nil {
				return fmt.Errorf("input: %w", err)
			}

			reqs := make([]worker.Request, len(trees))
			for i, n := range trees {
				reqs[i] = worker.Request{Tree: n, Input: x, Distribution: dist}
			}
			results, err := a.pool().Run(cmd.Context(), reqs)
			if err != nil {
				return err
			}
			failed := 0
			for i, r := range results {
				fmt.Fprintf(out, "%s  %s\n", r.Hash.Short(), trees[i])
				switch {
				case r.Err != nil && !bytecode.IsRecoverable(r.Err):
					failed++
					fmt.Fprintf(out, "  error: %v\n", r.Err)
				case r.Err != nil:
					fmt.Fprintf(out, "  %s: %v\n", r.Status, r.Err)
				case r.Dist != nil:
					for _, o := range r.Dist.Outcomes() {
						fmt.Fprintf(out, "  %9.4f  %s\n", o.LogProb, bytecode.FormatValue(o.Value))
					}
				default:
					fmt.Fprintf(out, "  %s  (%d steps)\n", bytecode.FormatValue(r.Value), r.Steps)
				}
			}
			if failed > 0 {
				return fmt.Errorf("%d of %d programs failed", failed, len(results))
			}
			return nil
		},
	}
	cmd.Flags().StringVarP(&input, "input", "x", "", "program input")
	cmd.Flags().BoolVar(&dist, "dist", false, "print the output distribution of random programs")
	return cmd
}

// =============================================================================
// SCORE
// =============================================================================

// datum is one observed input/output pair.
type datum struct {
	in, out bytecode.Value
}

type scored struct {
	tree       *grammar.Node
	prior      float64
	likelihood float64
}

func (s scored) posterior() float64 { return s.prior + s.likelihood }

func (a *app) scoreCmd() *cobra.Command {
	var (
		data  []string
		count int
		top   int
	)
	cmd := &cobra.Command{
		Use:   "score [EXPR...]",
		Short: "Score programs against observed input/output pairs",
		Long: `Computes each program's prior log probability under the grammar and
its log likelihood of the observations, the sum of log P(output | input)
over the --data pairs. Without arguments, --count programs are sampled.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			obs, err := a.parseData(data)
			if err != nil {
				return err
			}
			trees, err := a.parseTrees(args)
			if err != nil {
				return err
			}
			if len(trees) == 0 {
				s := grammar.NewSampler(a.g, rand.New(rand.NewPCG(a.seed, 0)), a.st)
				for range count {
					n, err := s.GenerateRetry(a.g.Start())
					if err != nil {
						return err
					}
					trees = append(trees, n)
				}
			}

			results, err := a.score(cmd.Context(), trees, obs)
			if err != nil {
				return err
			}
			slices.SortStableFunc(results, func(x, y scored) int {
				switch {
				case x.posterior() > y.posterior():
					return -1
				case x.posterior() < y.posterior():
					return 1
				}
				return 0
			})
			if top > 0 && len(results) > top {
				results = results[:top]
			}
			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "%10s %10s %10s  %s\n", "posterior", "prior", "likelihood", "program")
			for _, s := range results {
				fmt.Fprintf(out, "%10.4f %10.4f %10.4f  %s\n", s.posterior(), s.prior, s.likelihood, s.tree)
			}
			return nil
		},
	}
	cmd.Flags().StringArrayVarP(&data, "data", "d", nil, "observation as input=output (repeatable)")
	cmd.Flags().IntVarP(&count, "count", "n", 100, "programs to sample when none are given")
	cmd.Flags().IntVar(&top, "top", 10, "print only the best programs (0 for all)")
	return cmd
}

func (a *app) parseData(data []string) ([]datum, error) {
	inKind, outKind := a.g.Kind(a.g.Input()), a.g.Kind(a.g.Start())
	obs := make([]datum, 0, len(data))
	for _, d := range data {
		in, out, ok := strings.Cut(d, "=")
		if !ok {
			return nil, fmt.Errorf("data %q: want input=output", d)
		}
		x, err := bytecode.ParseValue(inKind, in)
		if err != nil {
			return nil, fmt.Errorf("data %q: %w", d, err)
		}
		y, err := bytecode.ParseValue(outKind, out)
		if err != nil {
			return nil, fmt.Errorf("data %q: %w", d, err)
		}
		obs = append(obs, datum{in: x, out: y})
	}
	return obs, nil
}

// score runs every tree on every observation through trace pools. Programs
// that violate a contract get a likelihood of -Inf.
func (a *app) score(ctx context.Context, trees []*grammar.Node, obs []datum) ([]scored, error) {
	reqs := make([]worker.Request, 0, len(trees)*len(obs))
	for _, n := range trees {
		for _, d := range obs {
			reqs = append(reqs, worker.Request{Tree: n, Input: d.in, Distribution: true})
		}
	}
	results, err := a.pool().Run(ctx, reqs)
	if err != nil {
		return nil, err
	}

	out := make([]scored, len(trees))
	for i, n := range trees {
		s := scored{tree: n, prior: a.g.LogProbability(n)}
		for j, d := range obs {
			r := results[i*len(obs)+j]
			if r.Err != nil {
				logger.Debugf("%s: %v", n, r.Err)
				s.likelihood = math.Inf(-1)
				break
			}
			s.likelihood += r.Dist.LogProb(d.out)
		}
		out[i] = s
	}
	return out, nil
}

// =============================================================================
// DISASM
// =============================================================================

func (a *app) disasmCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "disasm EXPR...",
		Short: "Print the bytecode of programs",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			trees, err := a.parseTrees(args)
			if err != nil {
				return err
			}
			for i, n := range trees {
				p, err := bytecode.Compile(a.g, n)
				if err != nil {
					return fmt.Errorf("%s: %w", n, err)
				}
				if i > 0 {
					fmt.Fprintln(cmd.OutOrStdout())
				}
				fmt.Fprint(cmd.OutOrStdout(), p.DisassembleWithName(hash.HashTree(n).Short()))
			}
			return nil
		},
	}
}

// =============================================================================
// INIT
// =============================================================================

func initCmd() *cobra.Command {
	var force bool
	cmd := &cobra.Command{
		Use:   "init [DIR]",
		Short: "Write a fleet.toml with the built-in grammar",
		Args:  cobra.MaximumNArgs(1),
		// init must work where no valid configuration exists yet.
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error { return nil },
		PersistentPostRunE: func(cmd *cobra.Command, args []string) error { return nil },
		RunE: func(cmd *cobra.Command, args []string) error {
			dir := "."
			if len(args) == 1 {
				dir = args[0]
			}
			path := filepath.Join(dir, manifest.FileName)
			if _, err := os.Stat(path); err == nil && !force {
				return fmt.Errorf("%s already exists (use --force to overwrite)", path)
			}
			if err := manifest.Write(path, manifest.Default()); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "wrote %s\n", path)
			return nil
		},
	}
	cmd.Flags().BoolVar(&force, "force", false, "overwrite an existing fleet.toml")
	return cmd
}
