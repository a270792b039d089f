package harness

import (
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/roach88/sessiongate/internal/ledger"
)

// LedgerEntries converts a run into the rows the ledger stores. Exchanges and
// upstream calls are numbered from 1 in trace order.
func LedgerEntries(scenarioName, target string, started time.Time, elapsed time.Duration, result *Result) (ledger.Run, []ledger.Exchange, []ledger.UpstreamCall) {
	run := ledger.Run{
		Scenario:  scenarioName,
		Target:    target,
		Passed:    result.Pass,
		Errors:    result.Errors,
		StartedAt: started,
		Duration:  elapsed,
	}

	var (
		exchanges []ledger.Exchange
		calls     []ledger.UpstreamCall
	)
	for _, event := range result.Trace {
		switch event.Type {
		case EventRequest:
			ex := ledger.Exchange{
				Seq:     len(exchanges) + 1,
				Action:  event.Action,
				Token:   event.Token,
				KeyMode: event.Key,
				Status:  event.Status,
				Result:  event.Result,
				Message: event.Message,
			}
			if event.Statuses != nil {
				ex.Message = formatStatuses(event.Statuses)
			}
			exchanges = append(exchanges, ex)
		case EventUpstream:
			calls = append(calls, ledger.UpstreamCall{
				Seq:  len(calls) + 1,
				Path: event.Path,
				Body: event.Body,
			})
		}
	}
	return run, exchanges, calls
}

// formatStatuses renders {200:1, 409:3} as "200x1 409x3".
func formatStatuses(statuses map[int]int) string {
	codes := make([]int, 0, len(statuses))
	for code := range statuses {
		codes = append(codes, code)
	}
	sort.Ints(codes)
	parts := make([]string, len(codes))
	for i, code := range codes {
		parts[i] = fmt.Sprintf("%dx%d", code, statuses[code])
	}
	return strings.Join(parts, " ")
}
