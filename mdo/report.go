package mdo

import (
	"fmt"
	"io"
	"sort"

	"github.com/zilonglicfd/fieldinv/utils"
)

// ReportTotals prints total derivatives once per process group: only the
// coordinating rank writes, so a multi-process run does not duplicate
// output.
func ReportTotals(w io.Writer, comm utils.Comm, totals Totals) {
	if comm.Rank != 0 {
		return
	}
	keys := make([]string, 0, len(totals))
	for k := range totals {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		g := totals[k]
		fmt.Fprintf(w, "d(%s): len %d, first %v", k, len(g), trunc(g, 5))
		fmt.Fprintln(w)
	}
}

func trunc(g []float64, n int) []float64 {
	if len(g) <= n {
		return g
	}
	return g[:n]
}
