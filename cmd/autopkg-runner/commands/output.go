package commands

import (
	"encoding/json"
	"fmt"
	"io"
	"strings"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/cloudautopkg/runner/pkg/batch"
)

func writeJSON(w io.Writer, v interface{}) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func newTable(cmd *cobra.Command) *tabwriter.Writer {
	return tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
}

func printResults(cmd *cobra.Command, results []batch.Result, summary batch.BatchSummary) {
	tw := newTable(cmd)
	fmt.Fprintln(tw, "RECIPE\tSTATUS\tDOWNLOADS\tDETAIL")
	for _, r := range results {
		detail := r.Reason
		if r.Gate != "" {
			detail = r.Gate + ": " + detail
		}
		fmt.Fprintf(tw, "%s\t%s\t%d\t%s\n", r.Recipe, r.Status, len(r.Report.DownloadedItems), oneLine(detail))
	}
	_ = tw.Flush()

	out := cmd.OutOrStdout()
	fmt.Fprintf(out, "\n%d recipes: %d succeeded, %d failed, %d skipped, %d errored\n",
		summary.Total, summary.Succeeded, summary.Failed, summary.Skipped, summary.Errored)
	if summary.Downloads > 0 || summary.PackagesBuilt > 0 || summary.MunkiImported > 0 {
		fmt.Fprintf(out, "%d downloads, %d packages built, %d munki imports\n",
			summary.Downloads, summary.PackagesBuilt, summary.MunkiImported)
	}
}

func oneLine(s string) string {
	return strings.Join(strings.Fields(s), " ")
}
