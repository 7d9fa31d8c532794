package loader

import (
	"fmt"
	"io"
	"sort"
	"text/tabwriter"
	"time"

	"github.com/dustin/go-humanize"

	"github.com/devrev/pairdb/bulkloader/internal/model"
)

// WriteReport prints per-endpoint outcomes and failed units of a run
func WriteReport(w io.Writer, runID string, result *model.LoadResult) {
	keys := make([]string, 0, len(result.Endpoints))
	for k := range result.Endpoints {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	completed := len(result.Units) - len(result.FailedUnits())
	fmt.Fprintf(w, "Summary for run %s\n", runID)
	fmt.Fprintf(w, "  units completed: %s/%s\n",
		humanize.Comma(int64(completed)), humanize.Comma(int64(len(result.Units))))
	fmt.Fprintf(w, "  bytes sent:      %s\n", humanize.Bytes(uint64(result.BytesSent())))
	fmt.Fprintf(w, "  duration:        %s\n\n", result.Duration.Round(time.Millisecond))

	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "ENDPOINT\tSTATE\tUNITS\tBYTES\tERROR")
	for _, k := range keys {
		ep := result.Endpoints[k]
		errText := "-"
		if ep.Err != nil {
			errText = ep.Err.Error()
		}
		fmt.Fprintf(tw, "%s\t%s\t%d\t%s\t%s\n",
			k, ep.State, ep.UnitsSent, humanize.Bytes(uint64(ep.BytesSent)), errText)
	}
	tw.Flush()

	failed := result.FailedUnits()
	if len(failed) == 0 {
		return
	}
	fmt.Fprintf(w, "\nFailed units (%d):\n", len(failed))
	for _, u := range failed {
		fmt.Fprintf(w, "  %s %s primary=%s attempts=%d: %v\n", u.UnitID, u.Range, u.Primary, u.Attempts, u.Err)
	}
}
