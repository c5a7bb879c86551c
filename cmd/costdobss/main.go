// Command costdobss solves the switching-cost variant: the input file
// carries an X-by-X configuration transition cost matrix after the
// configuration count, and the required alpha argument weights that cost
// against the game reward.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"os"
	"strconv"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/mtdlab/stackplan/internal/solver"
	"github.com/mtdlab/stackplan/pkg/bsg"
	"github.com/mtdlab/stackplan/pkg/mip"
)

func main() {
	debug := flag.Bool("debug", false, "enable debug logging")
	flag.Parse()

	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: "15:04:05"})
	if *debug {
		zerolog.SetGlobalLevel(zerolog.DebugLevel)
	} else {
		zerolog.SetGlobalLevel(zerolog.InfoLevel)
	}

	if flag.NArg() != 2 {
		fmt.Fprintln(os.Stderr, "usage: costdobss <input-file> <alpha>")
		os.Exit(2)
	}
	alpha, err := strconv.ParseFloat(flag.Arg(1), 64)
	if err != nil || alpha < 0 {
		fmt.Fprintln(os.Stderr, "alpha must be a nonnegative number")
		os.Exit(2)
	}

	f, err := os.Open(flag.Arg(0))
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to open input file")
	}
	g, err := bsg.ParseCostGame(f)
	f.Close()
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to parse game")
	}

	orch := solver.New(mip.NewBranchBound(mip.Options{}), 0)
	ms, err := orch.SolveWithSwitchCost(context.Background(), g, alpha)
	if err != nil {
		if errors.Is(err, mip.ErrInfeasible) {
			log.Error().Msg("The game admits no feasible defender strategy")
		} else {
			log.Error().Err(err).Msg("Solve failed")
		}
		os.Exit(1)
	}
	bsg.WriteReport(os.Stdout, ms.Report, ms.Objective)
}
