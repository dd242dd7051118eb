package main

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"text/tabwriter"

	"github.com/vladislavdragonenkov/ordersaga/internal/domain"
)

func printReport(w io.Writer, result report, opts Options) {
	_, _ = fmt.Fprintf(w, "load test: mode=%s run=%s\n", opts.Mode, opts.target())
	_, _ = fmt.Fprintf(w, "scenarios: total=%d success=%d failed=%d error_rate=%.4f rps=%.2f duration=%.2fs\n",
		result.TotalScenarios, result.SuccessScenarios, result.FailedScenarios,
		result.ErrorRate, result.RPS, result.DurationSeconds)

	lat := result.ScenarioLatencyMs
	_, _ = fmt.Fprintf(w, "scenario latency ms: min=%.2f avg=%.2f p50=%.2f p95=%.2f p99=%.2f max=%.2f\n",
		lat.Min, lat.Avg, lat.P50, lat.P95, lat.P99, lat.Max)

	if len(result.SagaOutcomes) > 0 {
		_, _ = fmt.Fprintf(w, "saga outcomes: success=%d fail=%d\n",
			result.SagaOutcomes[string(domain.OrderStatusSuccess)],
			result.SagaOutcomes[string(domain.OrderStatusFail)])
	}

	ops := make([]string, 0, len(result.Methods))
	for op := range result.Methods {
		if op != opScenario {
			ops = append(ops, op)
		}
	}
	if len(ops) == 0 {
		return
	}
	sort.Strings(ops)

	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	_, _ = fmt.Fprintln(tw, "op\tcalls\tsuccess\tfailed\terror_rate\tp95_ms")
	for _, op := range ops {
		m := result.Methods[op]
		_, _ = fmt.Fprintf(tw, "%s\t%d\t%d\t%d\t%.4f\t%.2f\n", op, m.Calls, m.Success, m.Failed, m.ErrorRate, m.LatencyMs.P95)
	}
	_ = tw.Flush()
}

// saveReport пишет JSON-отчёт в файл внутри текущего каталога.
func saveReport(path string, result report) error {
	clean := filepath.Clean(path)
	switch {
	case clean == "." || clean == string(filepath.Separator):
		return errors.New("output path must name a file")
	case filepath.IsAbs(clean), clean == "..", strings.HasPrefix(clean, ".."+string(filepath.Separator)):
		return fmt.Errorf("output path must stay inside the working directory: %s", path)
	}

	data, err := json.MarshalIndent(result, "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(clean, append(data, '\n'), 0o600)
}
