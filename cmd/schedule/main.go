// Command schedule runs the homogeneous singleton-schedule pipeline: one LP
// per attacked-target hypothesis, argmax over hypotheses, then a constrained
// Birkhoff-von Neumann decomposition of the winning marginal matrix into a
// sampleable distribution over pure resource assignments. The best marginal
// matrix is written to an artifact file for downstream tooling.
package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"os"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"gorgonia.org/tensor"

	"github.com/mtdlab/stackplan/internal/solver"
	"github.com/mtdlab/stackplan/pkg/bsg"
	"github.com/mtdlab/stackplan/pkg/bvn"
	"github.com/mtdlab/stackplan/pkg/mip"
)

func main() {
	artifact := flag.String("artifact", "best_marg_prob", "path for the best marginal matrix artifact")
	from := flag.String("from", "", "decompose a saved artifact instead of solving an input file")
	epsilon := flag.Float64("epsilon", 1e-6, "decomposition tolerance")
	debug := flag.Bool("debug", false, "enable debug logging")
	flag.Parse()

	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: "15:04:05"})
	if *debug {
		zerolog.SetGlobalLevel(zerolog.DebugLevel)
	} else {
		zerolog.SetGlobalLevel(zerolog.InfoLevel)
	}

	if *from != "" {
		decomposeArtifact(*from, *epsilon)
		return
	}
	if flag.NArg() != 1 {
		fmt.Fprintln(os.Stderr, "usage: schedule [-artifact path] [-epsilon e] <input-file>")
		fmt.Fprintln(os.Stderr, "       schedule -from <artifact> [-epsilon e]")
		os.Exit(2)
	}

	f, err := os.Open(flag.Arg(0))
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to open input file")
	}
	sg, err := bsg.ParseScheduleGame(f)
	f.Close()
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to parse schedule game")
	}

	orch := solver.New(mip.NewBranchBound(mip.Options{}), 0)
	strat, err := orch.MixedSchedule(context.Background(), sg, bvn.Options{Epsilon: *epsilon})
	if err != nil {
		log.Error().Err(err).Msg("Schedule pipeline failed")
		os.Exit(1)
	}

	sched := strat.Schedule
	bsg.WriteReport(os.Stdout, sched.Report, sched.Objective)

	if err := writeArtifact(*artifact, sg, sched.Marginals.Data().([]float64)); err != nil {
		log.Error().Err(err).Msg("Failed to write marginal artifact")
		os.Exit(1)
	}
	log.Info().Str("path", *artifact).Int("target", sched.Target).Msg("Best marginal matrix saved")

	// Collapse resource identity: interchangeable resources make the
	// per-target coverage vector the strategy actually played.
	collapsed, err := strat.Decomposition.HomogeneousStrategies()
	if err != nil {
		log.Error().Err(err).Msg("Failed to collapse strategies")
		os.Exit(1)
	}
	fmt.Println("=====")
	for i, coef := range strat.Decomposition.Coefficients {
		fmt.Printf("%g -> %v\n", coef, collapsed[i].Data().([]float64))
	}
	fmt.Printf("coef sum -> %g\n", strat.Decomposition.CoefSum)
}

// decomposeArtifact replays the decomposition on a previously saved
// marginal matrix.
func decomposeArtifact(path string, epsilon float64) {
	data, err := os.ReadFile(path)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to read artifact")
	}
	var rows [][]float64
	if err := json.Unmarshal(data, &rows); err != nil {
		log.Fatal().Err(err).Msg("Failed to decode artifact")
	}
	if len(rows) == 0 || len(rows[0]) == 0 {
		log.Fatal().Msg("Artifact holds an empty matrix")
	}
	resources, targets := len(rows), len(rows[0])
	backing := make([]float64, 0, resources*targets)
	for r, row := range rows {
		if len(row) != targets {
			log.Fatal().Int("row", r).Msg("Artifact rows have uneven widths")
		}
		backing = append(backing, row...)
	}

	mp := tensor.New(tensor.WithShape(resources, targets), tensor.WithBacking(backing))
	d, err := bvn.Decompose(mp, bvn.SingletonSchedule(resources, targets), bvn.Options{Epsilon: epsilon})
	if err != nil {
		log.Error().Err(err).Msg("Decomposition failed")
		os.Exit(1)
	}
	collapsed, err := d.HomogeneousStrategies()
	if err != nil {
		log.Error().Err(err).Msg("Failed to collapse strategies")
		os.Exit(1)
	}
	fmt.Println("=====")
	for i, coef := range d.Coefficients {
		fmt.Printf("%g -> %v\n", coef, collapsed[i].Data().([]float64))
	}
	fmt.Printf("coef sum -> %g\n", d.CoefSum)
}

// writeArtifact serializes the resources-by-targets marginal matrix as JSON.
func writeArtifact(path string, sg *bsg.ScheduleGame, marginals []float64) error {
	rows := make([][]float64, sg.Resources)
	for r := 0; r < sg.Resources; r++ {
		rows[r] = marginals[r*sg.Targets : (r+1)*sg.Targets]
	}
	data, err := json.MarshalIndent(rows, "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(path, data, 0644)
}
