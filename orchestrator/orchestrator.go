// orchestrator/orchestrator.go
package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"aster-volume-bot/config"
	"aster-volume-bot/engine"
	"aster-volume-bot/logs"
	"aster-volume-bot/store"
)

// EngineFactory builds a ready-to-initialize engine for one bot. The factory
// owns client and stream construction so each bot gets its own connections.
type EngineFactory func(botID string, cfg config.BotConfig) (*engine.Engine, error)

// BotView is the aggregate read model: identity joined with latest stats.
type BotView struct {
	Instance *store.BotInstance `json:"instance"`
	Stats    *store.BotStats    `json:"stats,omitempty"`
}

// Orchestrator owns the bot registry. It enforces one live engine per market
// and rehydrates engines lazily from the store after a restart.
type Orchestrator struct {
	store   store.Store
	factory EngineFactory

	mu      sync.Mutex
	engines map[string]*engine.Engine // botID -> live engine
}

func New(st store.Store, factory EngineFactory) *Orchestrator {
	return &Orchestrator{
		store:   st,
		factory: factory,
		engines: make(map[string]*engine.Engine),
	}
}

// CreateBot registers a new bot for a market. Creation is rejected while
// another instance on the same symbol is running or paused; stopped ghosts
// do not block.
func (o *Orchestrator) CreateBot(ctx context.Context, cfg config.BotConfig) (string, error) {
	if err := cfg.Validate(); err != nil {
		return "", err
	}

	o.mu.Lock()
	if err := o.checkSymbolFreeLocked(cfg.Symbol, ""); err != nil {
		o.mu.Unlock()
		return "", err
	}

	botID := uuid.NewString()
	inst := &store.BotInstance{
		ID:         botID,
		Symbol:     cfg.Symbol,
		Status:     store.StatusStopped,
		Config:     cfg,
		LastUpdate: time.Now(),
	}
	if err := o.store.SaveBot(inst); err != nil {
		o.mu.Unlock()
		return "", fmt.Errorf("failed to persist bot: %w", err)
	}
	o.mu.Unlock()

	// Build and initialize the engine eagerly so configuration and
	// connectivity problems surface at creation, not first start. A failed
	// init rolls the persisted record back to keep creation atomic.
	eng, err := o.factory(botID, cfg)
	if err == nil {
		err = eng.Initialize(ctx)
	}
	if err != nil {
		if derr := o.store.DeleteBot(botID); derr != nil {
			logs.Warnf("[Orchestrator] Failed to roll back bot %s: %v", botID, derr)
		}
		return "", fmt.Errorf("failed to initialize engine for %s: %w", cfg.Symbol, err)
	}

	o.mu.Lock()
	o.engines[botID] = eng
	o.mu.Unlock()

	logs.Infof("[Orchestrator] Created bot %s for %s", botID, cfg.Symbol)
	return botID, nil
}

// checkSymbolFreeLocked enforces the one-live-bot-per-market rule across
// both the in-memory registry and persisted instances.
func (o *Orchestrator) checkSymbolFreeLocked(symbol, exceptID string) error {
	for id, eng := range o.engines {
		if id == exceptID || eng.Symbol() != symbol {
			continue
		}
		if s := eng.Status(); s == store.StatusRunning || s == store.StatusPaused {
			return fmt.Errorf("market %s already has a live bot (%s, %s)", symbol, id, s)
		}
	}
	bots, err := o.store.ListBots()
	if err != nil {
		return fmt.Errorf("failed to list bots: %w", err)
	}
	for _, b := range bots {
		if b.ID == exceptID || b.Symbol != symbol {
			continue
		}
		if _, live := o.engines[b.ID]; live {
			continue // already checked via the registry
		}
		if b.Status == store.StatusRunning || b.Status == store.StatusPaused {
			return fmt.Errorf("market %s already has a live bot (%s, %s)", symbol, b.ID, b.Status)
		}
	}
	return nil
}

// StartBot starts a bot's engine, building and initializing it first if the
// process restarted since the bot was created (lazy rehydration).
func (o *Orchestrator) StartBot(ctx context.Context, botID string) error {
	o.mu.Lock()
	eng, live := o.engines[botID]
	o.mu.Unlock()

	if !live {
		inst, err := o.store.GetBot(botID)
		if err != nil {
			if errors.Is(err, store.ErrNotFound) {
				return fmt.Errorf("unknown bot %s", botID)
			}
			return fmt.Errorf("failed to load bot %s: %w", botID, err)
		}

		o.mu.Lock()
		if err := o.checkSymbolFreeLocked(inst.Symbol, botID); err != nil {
			o.mu.Unlock()
			return err
		}
		o.mu.Unlock()

		eng, err = o.factory(botID, inst.Config)
		if err != nil {
			return fmt.Errorf("failed to build engine for %s: %w", inst.Symbol, err)
		}
		if err := eng.Initialize(ctx); err != nil {
			return fmt.Errorf("failed to initialize engine for %s: %w", inst.Symbol, err)
		}

		o.mu.Lock()
		// Another caller may have raced us through rehydration.
		if existing, ok := o.engines[botID]; ok {
			eng = existing
		} else {
			o.engines[botID] = eng
		}
		o.mu.Unlock()
		logs.Infof("[Orchestrator] Rehydrated engine for bot %s (%s)", botID, inst.Symbol)
	}

	return eng.Start(ctx)
}

// PauseBot pauses a running bot, leaving its resting orders on the book.
func (o *Orchestrator) PauseBot(botID string) error {
	eng, err := o.liveEngine(botID)
	if err != nil {
		return err
	}
	eng.Pause()
	return nil
}

// StopBot stops a bot and cancels its resting orders. Stopping a bot with no
// live engine just normalizes its persisted status.
func (o *Orchestrator) StopBot(ctx context.Context, botID string) error {
	o.mu.Lock()
	eng, live := o.engines[botID]
	o.mu.Unlock()

	if live {
		eng.Stop(ctx)
		return nil
	}

	inst, err := o.store.GetBot(botID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return fmt.Errorf("unknown bot %s", botID)
		}
		return err
	}
	if inst.Status != store.StatusStopped {
		inst.Status = store.StatusStopped
		inst.LastUpdate = time.Now()
		return o.store.SaveBot(inst)
	}
	return nil
}

// DeleteBot stops the bot if needed and purges every record tied to it.
func (o *Orchestrator) DeleteBot(ctx context.Context, botID string) error {
	if err := o.StopBot(ctx, botID); err != nil {
		return err
	}
	o.mu.Lock()
	delete(o.engines, botID)
	o.mu.Unlock()
	if err := o.store.DeleteBot(botID); err != nil {
		return fmt.Errorf("failed to delete bot %s: %w", botID, err)
	}
	logs.Infof("[Orchestrator] Deleted bot %s", botID)
	return nil
}

// GetBot returns the aggregate view of one bot. Missing stats are not an
// error; a bot that never traded has none.
func (o *Orchestrator) GetBot(botID string) (*BotView, error) {
	inst, err := o.store.GetBot(botID)
	if err != nil {
		return nil, err
	}
	view := &BotView{Instance: inst}
	stats, err := o.store.GetStats(botID)
	if err == nil {
		view.Stats = stats
	} else if !errors.Is(err, store.ErrNotFound) {
		return nil, err
	}
	return view, nil
}

// ListBots returns the aggregate view of every registered bot.
func (o *Orchestrator) ListBots() ([]*BotView, error) {
	bots, err := o.store.ListBots()
	if err != nil {
		return nil, err
	}
	views := make([]*BotView, 0, len(bots))
	for _, b := range bots {
		view := &BotView{Instance: b}
		stats, serr := o.store.GetStats(b.ID)
		if serr == nil {
			view.Stats = stats
		} else if !errors.Is(serr, store.ErrNotFound) {
			return nil, serr
		}
		views = append(views, view)
	}
	return views, nil
}

// StopAll stops every live engine; used during shutdown.
func (o *Orchestrator) StopAll(ctx context.Context) {
	o.mu.Lock()
	engines := make([]*engine.Engine, 0, len(o.engines))
	for _, eng := range o.engines {
		engines = append(engines, eng)
	}
	o.mu.Unlock()

	var wg sync.WaitGroup
	for _, eng := range engines {
		wg.Add(1)
		go func(e *engine.Engine) {
			defer wg.Done()
			e.Stop(ctx)
		}(eng)
	}
	wg.Wait()
	logs.Infof("[Orchestrator] All engines stopped")
}

func (o *Orchestrator) liveEngine(botID string) (*engine.Engine, error) {
	o.mu.Lock()
	defer o.mu.Unlock()
	eng, ok := o.engines[botID]
	if !ok {
		return nil, fmt.Errorf("bot %s has no live engine", botID)
	}
	return eng, nil
}
