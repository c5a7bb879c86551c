package solver

import (
	"testing"

	"github.com/mtdlab/stackplan/pkg/bsg"
	"github.com/mtdlab/stackplan/pkg/mip"
)

func TestBuildDOBSSShape(t *testing.T) {
	g := toyGame(t)
	p, h := BuildDOBSS(g)

	if len(h.X) != g.NumConfigs {
		t.Errorf("got %d x handles, want %d", len(h.X), g.NumConfigs)
	}
	wantVars := g.NumConfigs // x
	wantCons := 1            // simplex
	for _, at := range g.Attackers {
		nq := len(at.Attacks)
		wantVars += nq + 1 + g.NumConfigs*nq // q, a, z
		// pure response + three McCormick rows per z + two dominance rows per attack
		wantCons += 1 + 3*g.NumConfigs*nq + 2*nq
	}
	if p.NumVars() != wantVars {
		t.Errorf("got %d variables, want %d", p.NumVars(), wantVars)
	}
	if p.NumConstraints() != wantCons {
		t.Errorf("got %d constraints, want %d", p.NumConstraints(), wantCons)
	}

	// Handles carry the typed indices; names exist for logging only.
	if p.Name(h.X[1]) != "x-1" {
		t.Errorf("x-1 handle named %q", p.Name(h.X[1]))
	}
	if p.Type(h.Q[0][0]) != mip.Binary {
		t.Errorf("q variables must be binary")
	}
	if p.Type(h.Z[0][0][0]) != mip.Continuous {
		t.Errorf("z variables must be continuous")
	}
}

func TestBuildExclusionDropsColumns(t *testing.T) {
	g := webAppGame(t)
	full, _ := BuildDOBSS(g)
	excluded, h := BuildExclusion(g, []string{"Attack9"})

	if excluded.NumVars() >= full.NumVars() {
		t.Errorf("exclusion did not shrink the program: %d vs %d vars",
			excluded.NumVars(), full.NumVars())
	}
	// No surviving q handle may name the excluded attack.
	for l := range h.Q {
		for _, v := range h.Q[l] {
			if name := excluded.Name(v); bsg.AttackExcluded(name, []string{"Attack9"}) {
				t.Errorf("excluded attack survived as %q", name)
			}
		}
	}
}

func TestBuildCostDOBSSShape(t *testing.T) {
	g := switchGame(t)
	p, h, err := BuildCostDOBSS(g, 0.5)
	if err != nil {
		t.Fatalf("BuildCostDOBSS: %v", err)
	}
	if len(h.W) != g.NumConfigs || len(h.W[0]) != g.NumConfigs {
		t.Fatalf("w handles have wrong shape")
	}
	base, _ := BuildDOBSS(g)
	if p.NumVars() != base.NumVars()+g.NumConfigs*g.NumConfigs {
		t.Errorf("cost variant should add one w per configuration pair")
	}
}

func TestBuildScheduleShape(t *testing.T) {
	sg := scheduleGame(t)
	p, h := BuildSchedule(sg, 2)
	if len(h.P) != sg.Targets || len(h.MP) != sg.Resources {
		t.Fatalf("handle shapes wrong: %d targets, %d resources", len(h.P), len(h.MP))
	}
	if p.NumVars() != sg.Targets+sg.Resources*sg.Targets {
		t.Errorf("got %d variables, want %d", p.NumVars(), sg.Targets+sg.Resources*sg.Targets)
	}
	// rows: one per resource, one tie per target, one pin per target
	want := sg.Resources + sg.Targets + sg.Targets
	if p.NumConstraints() != want {
		t.Errorf("got %d constraints, want %d", p.NumConstraints(), want)
	}
}
