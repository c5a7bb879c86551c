package bsg

import (
	"bufio"
	"fmt"
	"io"
	"strconv"
	"strings"
)

// lineReader yields successive non-empty, trimmed lines and tracks the line
// number for error reporting.
type lineReader struct {
	sc   *bufio.Scanner
	line int
}

func newLineReader(r io.Reader) *lineReader {
	sc := bufio.NewScanner(r)
	sc.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	return &lineReader{sc: sc}
}

func (lr *lineReader) next() (string, error) {
	for lr.sc.Scan() {
		lr.line++
		s := strings.TrimSpace(lr.sc.Text())
		if s != "" {
			return s, nil
		}
	}
	if err := lr.sc.Err(); err != nil {
		return "", fmt.Errorf("%w: %v", ErrMalformedInput, err)
	}
	return "", fmt.Errorf("%w: unexpected end of input after line %d", ErrMalformedInput, lr.line)
}

func (lr *lineReader) nextInt(what string) (int, error) {
	s, err := lr.next()
	if err != nil {
		return 0, err
	}
	n, err := strconv.Atoi(s)
	if err != nil {
		return 0, fmt.Errorf("%w: line %d: %s: %q is not an integer", ErrMalformedInput, lr.line, what, s)
	}
	return n, nil
}

func (lr *lineReader) nextFloat(what string) (float64, error) {
	s, err := lr.next()
	if err != nil {
		return 0, err
	}
	v, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return 0, fmt.Errorf("%w: line %d: %s: %q is not a number", ErrMalformedInput, lr.line, what, s)
	}
	return v, nil
}

// ParseGame reads the plain BSG input format:
//
//	X                       number of defender configurations
//	L                       number of attacker types
//	for each type:
//	  p                     prior probability
//	  Q                     number of attacks
//	  name|name|...         Q attack labels, pipe-separated
//	  X rows of Q "r,c"     defender,attacker payoff tokens
func ParseGame(r io.Reader) (*Game, error) {
	lr := newLineReader(r)
	numConfigs, err := lr.nextInt("defender configuration count")
	if err != nil {
		return nil, err
	}
	return parseAttackerBlocks(lr, numConfigs, nil)
}

// ParseCostGame reads the switching-cost variant: identical to ParseGame
// except an X-by-X cost matrix follows the configuration count.
func ParseCostGame(r io.Reader) (*Game, error) {
	lr := newLineReader(r)
	numConfigs, err := lr.nextInt("defender configuration count")
	if err != nil {
		return nil, err
	}
	cost := make([][]float64, numConfigs)
	for i := range cost {
		row, err := parseFloatRow(lr, numConfigs, "switch-cost row")
		if err != nil {
			return nil, err
		}
		cost[i] = row
	}
	return parseAttackerBlocks(lr, numConfigs, cost)
}

func parseAttackerBlocks(lr *lineReader, numConfigs int, cost [][]float64) (*Game, error) {
	numTypes, err := lr.nextInt("attacker type count")
	if err != nil {
		return nil, err
	}
	if numTypes < 1 {
		return nil, fmt.Errorf("%w: line %d: attacker type count must be positive", ErrMalformedInput, lr.line)
	}
	attackers := make([]AttackerType, numTypes)
	for l := 0; l < numTypes; l++ {
		prior, err := lr.nextFloat("attacker prior")
		if err != nil {
			return nil, err
		}
		numAttacks, err := lr.nextInt("attack count")
		if err != nil {
			return nil, err
		}
		nameLine, err := lr.next()
		if err != nil {
			return nil, err
		}
		names := strings.Split(nameLine, "|")
		for i, n := range names {
			names[i] = strings.TrimSpace(n)
		}
		if len(names) != numAttacks {
			return nil, fmt.Errorf("%w: line %d: got %d attack names, header says %d",
				ErrMalformedInput, lr.line, len(names), numAttacks)
		}
		reward := make([][]float64, numConfigs)
		payoff := make([][]float64, numConfigs)
		for i := 0; i < numConfigs; i++ {
			line, err := lr.next()
			if err != nil {
				return nil, err
			}
			tokens := strings.Fields(line)
			if len(tokens) != numAttacks {
				return nil, fmt.Errorf("%w: line %d: got %d payoff tokens, want %d",
					ErrMalformedInput, lr.line, len(tokens), numAttacks)
			}
			reward[i] = make([]float64, numAttacks)
			payoff[i] = make([]float64, numAttacks)
			for j, tok := range tokens {
				rc := strings.Split(tok, ",")
				if len(rc) != 2 {
					return nil, fmt.Errorf("%w: line %d: token %q is not of the form r,c",
						ErrMalformedInput, lr.line, tok)
				}
				rv, err1 := strconv.ParseFloat(rc[0], 64)
				cv, err2 := strconv.ParseFloat(rc[1], 64)
				if err1 != nil || err2 != nil {
					return nil, fmt.Errorf("%w: line %d: token %q has non-numeric payoffs",
						ErrMalformedInput, lr.line, tok)
				}
				reward[i][j] = rv
				payoff[i][j] = cv
			}
		}
		attackers[l] = AttackerType{Prior: prior, Attacks: names, Reward: reward, Payoff: payoff}
	}
	g, err := NewGame(numConfigs, attackers, cost)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedInput, err)
	}
	return g, nil
}

// ParseScheduleGame reads the schedule-variant input:
//
//	n                       number of targets
//	rd                      number of defender resources
//	n rows of "Rc Ru"       defender covered/uncovered payoffs
//	n rows of "Cc Cu"       attacker covered/uncovered payoffs
func ParseScheduleGame(r io.Reader) (*ScheduleGame, error) {
	lr := newLineReader(r)
	targets, err := lr.nextInt("target count")
	if err != nil {
		return nil, err
	}
	resources, err := lr.nextInt("resource count")
	if err != nil {
		return nil, err
	}
	defender := make([]TargetPayoff, targets)
	attacker := make([]TargetPayoff, targets)
	for t := 0; t < targets; t++ {
		row, err := parseFloatRow(lr, 2, "defender payoff pair")
		if err != nil {
			return nil, err
		}
		defender[t] = TargetPayoff{Covered: row[0], Uncovered: row[1]}
	}
	for t := 0; t < targets; t++ {
		row, err := parseFloatRow(lr, 2, "attacker payoff pair")
		if err != nil {
			return nil, err
		}
		attacker[t] = TargetPayoff{Covered: row[0], Uncovered: row[1]}
	}
	sg, err := NewScheduleGame(targets, resources, defender, attacker)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedInput, err)
	}
	return sg, nil
}

func parseFloatRow(lr *lineReader, want int, what string) ([]float64, error) {
	line, err := lr.next()
	if err != nil {
		return nil, err
	}
	tokens := strings.Fields(line)
	if len(tokens) != want {
		return nil, fmt.Errorf("%w: line %d: %s has %d values, want %d",
			ErrMalformedInput, lr.line, what, len(tokens), want)
	}
	row := make([]float64, want)
	for i, tok := range tokens {
		v, err := strconv.ParseFloat(tok, 64)
		if err != nil {
			return nil, fmt.Errorf("%w: line %d: %s: %q is not a number",
				ErrMalformedInput, lr.line, what, tok)
		}
		row[i] = v
	}
	return row, nil
}
