// Package output renders benchmark runs for the terminal.
package output

import (
	"bytes"
	"fmt"
	"io"
	"math/big"
	"strconv"

	"github.com/ethereum/go-ethereum/common"
	"github.com/olekukonko/tablewriter"
	"github.com/skylenet/aa-benchmark/benchmark"
	"github.com/skylenet/aa-benchmark/metrics"
)

// Headers are the columns of the results table.
var Headers = []string{"Provider", "Latency (s)", "L1 Gas", "L2 Gas", "Gas Price", "Tx Fee", "Tx Hash", "State"}

// Badge labels.
const (
	BadgeFastest  = "fastest"
	BadgeLowestL1 = "lowest L1"
	BadgeLowestL2 = "lowest L2"
	BadgeCheapest = "cheapest"
)

// Renderer renders a run as a table followed by failures and a summary.
type Renderer struct {
	colors     *ColorHelper
	calculator *metrics.Calculator
}

// NewRenderer creates a new run renderer.
func NewRenderer() *Renderer {
	return &Renderer{
		colors:     NewColorHelper(),
		calculator: metrics.NewCalculator(),
	}
}

// RenderToString renders the run into a string.
func (r *Renderer) RenderToString(run *benchmark.Run) string {
	buf := &bytes.Buffer{}
	r.Render(buf, run)
	return buf.String()
}

// Render writes the table, failure details, measurement caveat and summary.
func (r *Renderer) Render(w io.Writer, run *benchmark.Run) {
	summary := r.calculator.Summarize(run.Samples())

	fmt.Fprintf(w, "%s\n", r.colors.Header(fmt.Sprintf("Benchmark run #%d (%s)", run.ID, run.State)))

	table := tablewriter.NewWriter(w)
	table.SetHeader(Headers)
	table.SetAutoWrapText(false)
	table.SetAutoFormatHeaders(true)
	table.SetHeaderAlignment(tablewriter.ALIGN_LEFT)
	table.SetAlignment(tablewriter.ALIGN_LEFT)
	table.SetCenterSeparator("")
	table.SetColumnSeparator("│")
	table.SetRowSeparator("─")
	table.SetHeaderLine(true)
	table.SetBorder(true)
	table.SetTablePadding(" ")
	table.SetNoWhiteSpace(false)
	table.AppendBulk(r.Rows(run, summary))
	table.Render()

	r.renderFailures(w, run)
	r.renderWindows(w, run)

	if summary.Count > 0 {
		fmt.Fprint(w, summary.ToDetails())
	}
}

// Rows returns one table row per provider in launch order.
func (r *Renderer) Rows(run *benchmark.Run, summary *metrics.Summary) [][]string {
	rows := make([][]string, 0, len(run.Order))

	for _, result := range run.Ordered() {
		row := []string{result.Provider, "-", "-", "-", "-", "-", "-", r.colors.FormatState(result.State)}

		switch {
		case result.State == benchmark.StateFailed:
			row[1] = r.colors.Failure("Failed")
			if result.TxHash != (common.Hash{}) {
				row[6] = result.TxHash.Hex()
			} else {
				row[6] = r.colors.Failure("Failed")
			}
		case result.IsValid():
			gas := result.Gas
			row[1] = r.badge(metrics.FormatSeconds(result.Latency), summary.Fastest == result.Provider, BadgeFastest)
			row[2] = r.badge(bigString(gas.L1GasUsed), summary.LowestL1 == result.Provider, BadgeLowestL1)
			row[3] = r.badge(strconv.FormatUint(gas.L2GasUsed, 10), summary.LowestL2 == result.Provider, BadgeLowestL2)
			row[4] = metrics.FormatGwei(gas.GasPrice) + " Gwei"
			row[5] = r.badge(metrics.FormatEther(gas.TotalFee)+" ETH", summary.CheapestTx == result.Provider, BadgeCheapest)
			row[6] = result.TxHash.Hex()
		}

		if result.IsValid() && result.Window == benchmark.WindowSubmission {
			row[1] += "*"
		}

		rows = append(rows, row)
	}

	return rows
}

func (r *Renderer) badge(value string, won bool, label string) string {
	if !won {
		return value
	}
	return value + " " + r.colors.Badge("["+label+"]")
}

func (r *Renderer) renderFailures(w io.Writer, run *benchmark.Run) {
	first := true
	for _, result := range run.Ordered() {
		if result.State != benchmark.StateFailed {
			continue
		}
		if first {
			fmt.Fprintf(w, "\n%s\n", r.colors.Header("Failures"))
			first = false
		}
		fmt.Fprintf(w, "  %s %s: %s\n", r.colors.Failure("✗"), result.Provider, r.colors.Muted(fmt.Sprintf("[%s] %s", result.Kind, result.Error)))
	}
}

// renderWindows notes latencies that stop at submission instead of block
// inclusion.
func (r *Renderer) renderWindows(w io.Writer, run *benchmark.Run) {
	for _, result := range run.Ordered() {
		if result.Window == benchmark.WindowSubmission {
			fmt.Fprintf(w, "\n%s\n", r.colors.Warning(
				"* latency measured to the HTTP response of the submitting call; the others are measured to block inclusion"))
			return
		}
	}
}

func bigString(v *big.Int) string {
	if v == nil {
		return "0"
	}
	return v.String()
}
