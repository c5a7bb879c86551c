// Command dobss solves the Bayesian Stackelberg game in the given input
// file for the defender's optimal mixed strategy and prints the decision
// variables and objective. With -ur it also prints the uniform-random
// baseline for comparison.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"os"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/mtdlab/stackplan/internal/solver"
	"github.com/mtdlab/stackplan/pkg/bsg"
	"github.com/mtdlab/stackplan/pkg/mip"
)

func main() {
	uniform := flag.Bool("ur", false, "also print the uniform-random baseline")
	debug := flag.Bool("debug", false, "enable debug logging")
	flag.Parse()

	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: "15:04:05"})
	if *debug {
		zerolog.SetGlobalLevel(zerolog.DebugLevel)
	} else {
		zerolog.SetGlobalLevel(zerolog.InfoLevel)
	}

	if flag.NArg() != 1 {
		fmt.Fprintln(os.Stderr, "usage: dobss [-ur] <input-file>")
		os.Exit(2)
	}

	f, err := os.Open(flag.Arg(0))
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to open input file")
	}
	g, err := bsg.ParseGame(f)
	f.Close()
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to parse game")
	}

	orch := solver.New(mip.NewBranchBound(mip.Options{}), 0)
	ms, err := orch.SolveMixed(context.Background(), g)
	if err != nil {
		exitOnSolveError(err)
	}
	bsg.WriteReport(os.Stdout, ms.Report, ms.Objective)

	if *uniform {
		ur, err := orch.SolveUniform(context.Background(), g)
		if err != nil {
			exitOnSolveError(err)
		}
		bsg.WriteReport(os.Stdout, ur.Report, ur.Objective)
	}
}

func exitOnSolveError(err error) {
	switch {
	case errors.Is(err, mip.ErrInfeasible):
		log.Error().Msg("The game admits no feasible defender strategy")
	case errors.Is(err, mip.ErrLimit):
		log.Error().Msg("Solver limit reached before proving optimality")
	default:
		log.Error().Err(err).Msg("Solve failed")
	}
	os.Exit(1)
}
