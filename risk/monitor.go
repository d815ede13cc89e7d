// risk/monitor.go
package risk

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"aster-volume-bot/events"
	"aster-volume-bot/exchange"
	"aster-volume-bot/logs"
	"aster-volume-bot/store"
)

// Monitor sweeps running agents on a fixed interval, evaluates their profit
// and loss thresholds, and flattens every position of a breaching agent with
// reduce-only market orders. One misbehaving agent never takes the sweep
// down with it.
type Monitor struct {
	store    store.Store
	client   exchange.Client
	bus      *events.Bus
	interval time.Duration

	mu      sync.Mutex
	running bool
	cancel  context.CancelFunc
	done    chan struct{}
}

func NewMonitor(st store.Store, client exchange.Client, bus *events.Bus, interval time.Duration) *Monitor {
	if interval <= 0 {
		interval = 30 * time.Second
	}
	return &Monitor{
		store:    st,
		client:   client,
		bus:      bus,
		interval: interval,
	}
}

// Start launches the sweep loop. Starting a running monitor is a no-op.
func (m *Monitor) Start(ctx context.Context) {
	m.mu.Lock()
	if m.running {
		m.mu.Unlock()
		return
	}
	m.running = true
	runCtx, cancel := context.WithCancel(ctx)
	m.cancel = cancel
	m.done = make(chan struct{})
	m.mu.Unlock()

	go m.loop(runCtx)
	logs.Infof("[Risk Monitor] Started, sweep interval %s", m.interval)
}

// Stop halts the sweep loop and waits for the current sweep to finish.
func (m *Monitor) Stop() {
	m.mu.Lock()
	if !m.running {
		m.mu.Unlock()
		return
	}
	m.running = false
	cancel := m.cancel
	done := m.done
	m.mu.Unlock()

	cancel()
	<-done
	logs.Infof("[Risk Monitor] Stopped")
}

func (m *Monitor) loop(ctx context.Context) {
	defer close(m.done)
	ticker := time.NewTicker(m.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			m.Sweep(ctx)
		}
	}
}

// Sweep evaluates every running agent once. Errors and panics are contained
// per agent.
func (m *Monitor) Sweep(ctx context.Context) {
	agents, err := m.store.ListAgents()
	if err != nil {
		logs.Errorf("[Risk Monitor] Failed to list agents: %v", err)
		return
	}

	for _, agent := range agents {
		if agent.Status != store.StatusRunning {
			continue
		}
		m.sweepAgent(ctx, agent)
	}
}

func (m *Monitor) sweepAgent(ctx context.Context, agent *store.AgentInstance) {
	defer func() {
		if r := recover(); r != nil {
			logs.Errorf("[Risk Monitor] Panic while sweeping agent %s: %v", agent.ID, r)
		}
	}()

	pnl := agent.CurrentBalance - agent.Config.StartingCapital
	pnlPercent := 0.0
	if agent.Config.StartingCapital > 0 {
		pnlPercent = pnl / agent.Config.StartingCapital * 100
	}

	m.bus.Publish(events.RiskMetricsUpdated{
		AgentID:    agent.ID,
		Balance:    agent.CurrentBalance,
		PnL:        pnl,
		PnLPercent: pnlPercent,
		At:         time.Now(),
	})

	triggered, reason := EvaluateThresholds(&agent.Config, agent.CurrentBalance)
	if !triggered {
		return
	}

	logs.Warnf("[Risk Monitor] Agent %s breached threshold: %s (balance=%.2f, pnl=%.2f)",
		agent.ID, reason, agent.CurrentBalance, pnl)

	flattenErr := m.flattenAll(ctx)

	status := store.StatusStopped
	if flattenErr != nil {
		status = store.StatusError
		logs.Errorf("[Risk Monitor] Agent %s: flatten incomplete: %v", agent.ID, flattenErr)
	}
	agent.Status = status
	agent.LastUpdate = time.Now()
	if err := m.store.SaveAgent(agent); err != nil {
		logs.Errorf("[Risk Monitor] Failed to persist agent %s: %v", agent.ID, err)
	}

	reasoning := &store.AgentReasoning{
		ID:        uuid.NewString(),
		AgentID:   agent.ID,
		Decision:  "stop",
		Reasoning: fmt.Sprintf("%s; balance=%.2f startingCapital=%.2f pnl=%.2f", reason, agent.CurrentBalance, agent.Config.StartingCapital, pnl),
		CreatedAt: time.Now(),
	}
	if err := m.store.AppendAgentReasoning(reasoning); err != nil {
		logs.Errorf("[Risk Monitor] Failed to record reasoning for %s: %v", agent.ID, err)
	}

	errText := ""
	if flattenErr != nil {
		errText = flattenErr.Error()
	}
	m.bus.Publish(events.AgentStopped{
		AgentID: agent.ID,
		Reason:  reason,
		Err:     errText,
		At:      time.Now(),
	})
}

// EvaluateThresholds checks the agent's armed thresholds against its balance
// in strict priority order: absolute profit, percent profit, absolute loss,
// percent loss. The first breach wins; nil thresholds are skipped.
func EvaluateThresholds(cfg *store.AgentConfig, balance float64) (bool, string) {
	pnl := balance - cfg.StartingCapital
	pnlPercent := 0.0
	if cfg.StartingCapital > 0 {
		pnlPercent = pnl / cfg.StartingCapital * 100
	}

	if cfg.TargetProfitUSDT != nil && pnl >= *cfg.TargetProfitUSDT {
		return true, fmt.Sprintf("target profit reached: %.2f >= %.2f USDT", pnl, *cfg.TargetProfitUSDT)
	}
	if cfg.TargetProfitPercent != nil && pnlPercent >= *cfg.TargetProfitPercent {
		return true, fmt.Sprintf("target profit reached: %.2f%% >= %.2f%%", pnlPercent, *cfg.TargetProfitPercent)
	}
	if cfg.MaxLossUSDT != nil && pnl <= -*cfg.MaxLossUSDT {
		return true, fmt.Sprintf("max loss breached: %.2f <= -%.2f USDT", pnl, *cfg.MaxLossUSDT)
	}
	if cfg.MaxLossPercent != nil && pnlPercent <= -*cfg.MaxLossPercent {
		return true, fmt.Sprintf("max loss breached: %.2f%% <= -%.2f%%", pnlPercent, *cfg.MaxLossPercent)
	}
	return false, ""
}

// flattenAll closes every open position with a reduce-only market order.
// Failures are isolated per position; the returned error aggregates them.
func (m *Monitor) flattenAll(ctx context.Context) error {
	positions, err := m.client.GetPositionRisk(ctx, "")
	if err != nil {
		return fmt.Errorf("failed to fetch positions: %w", err)
	}

	var failed []string
	for i := range positions {
		p := &positions[i]
		amt := p.Amount()
		if amt == 0 {
			continue
		}
		if err := m.flattenPosition(ctx, p); err != nil {
			logs.Errorf("[Risk Monitor] Failed to flatten %s: %v", p.Symbol, err)
			failed = append(failed, p.Symbol)
			continue
		}
		logs.Infof("[Risk Monitor] Flattened %s (amt=%.8f)", p.Symbol, amt)
	}
	if len(failed) > 0 {
		return fmt.Errorf("failed to flatten positions: %v", failed)
	}
	return nil
}

// flattenPosition submits the closing order: BUY to close a short, SELL to
// close a long, always reduce-only so it can never open exposure.
func (m *Monitor) flattenPosition(ctx context.Context, p *exchange.PositionRisk) error {
	amt := p.Amount()
	side := exchange.Sell
	qty := amt
	if amt < 0 {
		side = exchange.Buy
		qty = -amt
	}
	req := &exchange.NewOrderRequest{
		Symbol:     p.Symbol,
		Side:       side,
		Type:       exchange.Market,
		Quantity:   fmt.Sprintf("%v", qty),
		ReduceOnly: true,
	}
	_, err := m.client.PlaceOrder(ctx, req)
	return err
}
