// reporter/reporter.go
package reporter

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/jedib0t/go-pretty/v6/table"

	"aster-volume-bot/logs"
	"aster-volume-bot/orchestrator"
)

// Reporter periodically renders a progress table for every registered bot:
// volume against target, hourly run rate, and fee spend against budget.
type Reporter struct {
	orch     *orchestrator.Orchestrator
	interval time.Duration
}

func New(orch *orchestrator.Orchestrator, interval time.Duration) *Reporter {
	if interval <= 0 {
		interval = time.Minute
	}
	return &Reporter{orch: orch, interval: interval}
}

// Run renders the table on each tick until ctx is canceled.
func (r *Reporter) Run(ctx context.Context) {
	ticker := time.NewTicker(r.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			r.Render()
		}
	}
}

// Render writes one progress table to stdout.
func (r *Reporter) Render() {
	views, err := r.orch.ListBots()
	if err != nil {
		logs.Warnf("[Reporter] Failed to list bots: %v", err)
		return
	}
	if len(views) == 0 {
		return
	}

	t := table.NewWriter()
	t.SetOutputMirror(os.Stdout)
	t.SetStyle(table.StyleLight)
	t.AppendHeader(table.Row{"Symbol", "Status", "Volume (USDT)", "Target", "Progress", "Hourly", "Trades", "Fees", "Fee Budget", "Fill Rate"})

	for _, v := range views {
		cfg := v.Instance.Config
		volume, hourly, fees, fillRate := 0.0, 0.0, 0.0, 0.0
		var trades int64
		if v.Stats != nil {
			volume = v.Stats.TotalVolume
			hourly = v.Stats.HourlyVolume
			fees = v.Stats.TotalFees
			fillRate = v.Stats.FillRate
			trades = v.Stats.TotalTrades
		}
		progress := "-"
		if cfg.TargetVolumeUSDT > 0 {
			progress = fmt.Sprintf("%.1f%%", volume/cfg.TargetVolumeUSDT*100)
		}
		budget := "-"
		if cfg.MaxLossUSDT > 0 {
			budget = fmt.Sprintf("%.2f", cfg.MaxLossUSDT)
		}
		t.AppendRow(table.Row{
			v.Instance.Symbol,
			v.Instance.Status,
			fmt.Sprintf("%.2f", volume),
			fmt.Sprintf("%.0f", cfg.TargetVolumeUSDT),
			progress,
			fmt.Sprintf("%.2f", hourly),
			trades,
			fmt.Sprintf("%.4f", fees),
			budget,
			fmt.Sprintf("%.1f%%", fillRate),
		})
	}
	t.Render()
}
