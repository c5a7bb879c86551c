// Command whattofix ranks the k-subsets of attack names by the defender
// objective achieved when those attacks are neutralized. Exclusion matches
// by substring, so removing Attack1 also removes composites such as
// Attack1+Attack4.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"strings"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/mtdlab/stackplan/internal/solver"
	"github.com/mtdlab/stackplan/pkg/bsg"
	"github.com/mtdlab/stackplan/pkg/mip"
)

func main() {
	k := flag.Int("k", 1, "number of attacks to neutralize per combination")
	debug := flag.Bool("debug", false, "enable debug logging")
	flag.Parse()

	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: "15:04:05"})
	if *debug {
		zerolog.SetGlobalLevel(zerolog.DebugLevel)
	} else {
		zerolog.SetGlobalLevel(zerolog.InfoLevel)
	}

	if flag.NArg() != 1 {
		fmt.Fprintln(os.Stderr, "usage: whattofix [-k n] <input-file>")
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
	res, err := orch.WhatToFix(context.Background(), g, *k, nil)
	if err != nil {
		log.Error().Err(err).Msg("Enumeration failed")
		os.Exit(1)
	}

	fmt.Println("=====")
	for _, ex := range res.Rankings {
		if ex.Feasible {
			fmt.Printf("(%s, %g)\n", strings.Join(ex.Attacks, "+"), ex.Objective)
		} else {
			fmt.Printf("(%s, infeasible)\n", strings.Join(ex.Attacks, "+"))
		}
	}
	fmt.Println("=====")
	if len(res.Best) == 0 {
		log.Error().Msg("No feasible exclusion found")
		os.Exit(1)
	}
	fmt.Printf("Best Obj value -> %g\n", res.Best[0].Objective)
	for _, ex := range res.Best {
		fmt.Println(strings.Join(ex.Attacks, "+"))
	}
}
