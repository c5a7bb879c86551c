package bsg

import (
	"fmt"
	"io"
)

// VarValue is one named decision-variable value for reporting. Names exist
// for display only; programmatic consumers use typed handles on the solver
// side.
type VarValue struct {
	Name  string
	Value float64
}

const reportSeparator = "---------------"

// WriteReport prints the classic solver output block:
//
//	---------------
//	x-0 -> 0.428571
//	...
//	---------------
//	Obj -> 0.912143
//	---------------
func WriteReport(w io.Writer, vars []VarValue, objective float64) error {
	if _, err := fmt.Fprintln(w, reportSeparator); err != nil {
		return err
	}
	for _, v := range vars {
		if _, err := fmt.Fprintf(w, "%s -> %g\n", v.Name, v.Value); err != nil {
			return err
		}
	}
	if _, err := fmt.Fprintln(w, reportSeparator); err != nil {
		return err
	}
	if _, err := fmt.Fprintf(w, "Obj -> %g\n", objective); err != nil {
		return err
	}
	_, err := fmt.Fprintln(w, reportSeparator)
	return err
}
