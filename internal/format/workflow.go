package format

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/jedib0t/go-pretty/v6/text"

	"github.com/animus-labs/diagflow/internal/ledger"
	"github.com/animus-labs/diagflow/internal/workflow"
	"github.com/animus-labs/diagflow/internal/workflow/scheduler"
)

const dataWidth = 60

// Result renders one row per activity, sorted by name, with a status footer.
func Result(res scheduler.Result, m Mode) string {
	w := newWriter(m, "Activity", "State", "Result", "Detail")
	for _, name := range res.Names() {
		if r, ok := res.Results[name]; ok {
			w.AppendRow(table.Row{name, string(workflow.NodeDone), r.Name, Truncate(compactData(r.Data), dataWidth)})
			continue
		}
		err := res.Failures[name]
		w.AppendRow(table.Row{name, string(workflow.NodeFailed), workflow.ErrorCode(err), Truncate(err.Error(), dataWidth)})
	}
	w.AppendFooter(table.Row{res.RunID, string(res.Status), fmt.Sprintf("%d done / %d failed", len(res.Results), len(res.Failures)), Duration(res.FinishedAt.Sub(res.StartedAt))})
	w.SetColumnConfigs([]table.ColumnConfig{{Number: 4, WidthMax: dataWidth}})
	return render(w, m)
}

// Ledger renders recorded transitions in the order given.
func Ledger(records []ledger.Record, m Mode) string {
	w := newWriter(m, "Recorded", "Activity", "Parent", "Depth", "State", "Error")
	for _, r := range records {
		w.AppendRow(table.Row{r.RecordedAt.UTC().Format(time.RFC3339Nano), r.Activity, r.Parent, r.Depth, r.State, r.ErrorCode})
	}
	w.SetColumnConfigs([]table.ColumnConfig{{Number: 4, Align: text.AlignRight}})
	return render(w, m)
}

// Duration formats d as "1m 5s", "3.2s" or "15ms".
func Duration(d time.Duration) string {
	switch {
	case d < 0:
		return "0ms"
	case d < time.Second:
		return fmt.Sprintf("%dms", d.Milliseconds())
	case d < time.Minute:
		return fmt.Sprintf("%.1fs", d.Seconds())
	default:
		s := int(d.Seconds())
		return fmt.Sprintf("%dm %ds", s/60, s%60)
	}
}

func compactData(data map[string]any) string {
	if len(data) == 0 {
		return "{}"
	}
	raw, err := json.Marshal(data)
	if err != nil {
		return fmt.Sprint(data)
	}
	return string(raw)
}
