// orchestrator/orchestrator_test.go
package orchestrator

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"aster-volume-bot/config"
	"aster-volume-bot/engine"
	"aster-volume-bot/events"
	"aster-volume-bot/exchange"
	"aster-volume-bot/store"
)

func testBotConfig(symbol string) config.BotConfig {
	return config.BotConfig{
		Symbol:            symbol,
		Leverage:          10,
		InvestmentUSDT:    100,
		SpreadBps:         2,
		OrdersPerSide:     2,
		OrderSizePercent:  10,
		RefreshIntervalMs: 60000,
		MaxOrdersToPlace:  4,
	}
}

func testFactory(st store.Store) EngineFactory {
	return func(botID string, cfg config.BotConfig) (*engine.Engine, error) {
		mock := exchange.NewMockClient()
		mock.GetExchangeInfoFunc = func(ctx context.Context) (*exchange.ExchangeInfo, error) {
			return &exchange.ExchangeInfo{Symbols: []exchange.SymbolInfo{
				{Symbol: cfg.Symbol, Status: "TRADING", PricePrecision: 2, QuantityPrecision: 3},
			}}, nil
		}
		mock.GetOrderBookFunc = func(ctx context.Context, symbol string, limit int) (*exchange.OrderBook, error) {
			return &exchange.OrderBook{
				Bids: [][]string{{"100.00", "1"}},
				Asks: [][]string{{"100.10", "1"}},
			}, nil
		}
		meta := exchange.NewMetadataCache(mock)
		return engine.NewEngine(botID, cfg, &config.NetworkConfig{StatusIntervalSeconds: 3600},
			mock, meta, nil, st, events.NewBus()), nil
	}
}

func newTestOrchestrator(t *testing.T) (*Orchestrator, *store.MemoryStore) {
	t.Helper()
	st := store.NewMemoryStore()
	return New(st, testFactory(st)), st
}

func TestCreateBotPersists(t *testing.T) {
	orch, st := newTestOrchestrator(t)

	botID, err := orch.CreateBot(context.Background(), testBotConfig("ETHUSDT"))
	require.NoError(t, err)

	inst, err := st.GetBot(botID)
	require.NoError(t, err)
	assert.Equal(t, "ETHUSDT", inst.Symbol)
	assert.Equal(t, store.StatusStopped, inst.Status)
}

func TestCreateBotRejectsInvalidConfig(t *testing.T) {
	orch, _ := newTestOrchestrator(t)
	cfg := testBotConfig("ETHUSDT")
	cfg.Leverage = 0
	_, err := orch.CreateBot(context.Background(), cfg)
	require.Error(t, err)
}

func TestOneLiveBotPerMarket(t *testing.T) {
	orch, _ := newTestOrchestrator(t)
	ctx := context.Background()

	botID, err := orch.CreateBot(ctx, testBotConfig("ETHUSDT"))
	require.NoError(t, err)
	require.NoError(t, orch.StartBot(ctx, botID))
	defer orch.StopAll(ctx)

	// A second bot on the same market must be rejected while the first is live.
	_, err = orch.CreateBot(ctx, testBotConfig("ETHUSDT"))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "already has a live bot")

	// Another market is fine.
	_, err = orch.CreateBot(ctx, testBotConfig("BTCUSDT"))
	require.NoError(t, err)
}

func TestStoppedGhostDoesNotBlockCreation(t *testing.T) {
	orch, st := newTestOrchestrator(t)
	ctx := context.Background()

	require.NoError(t, st.SaveBot(&store.BotInstance{
		ID: "ghost", Symbol: "ETHUSDT", Status: store.StatusStopped,
		Config: testBotConfig("ETHUSDT"),
	}))

	_, err := orch.CreateBot(ctx, testBotConfig("ETHUSDT"))
	require.NoError(t, err)
}

func TestPausedInstanceBlocksCreation(t *testing.T) {
	orch, st := newTestOrchestrator(t)
	ctx := context.Background()

	require.NoError(t, st.SaveBot(&store.BotInstance{
		ID: "paused", Symbol: "ETHUSDT", Status: store.StatusPaused,
		Config: testBotConfig("ETHUSDT"),
	}))

	_, err := orch.CreateBot(ctx, testBotConfig("ETHUSDT"))
	require.Error(t, err)
}

func TestStartBotRehydratesFromStore(t *testing.T) {
	orch, st := newTestOrchestrator(t)
	ctx := context.Background()

	// Simulate a bot persisted by a previous process: no live engine exists.
	require.NoError(t, st.SaveBot(&store.BotInstance{
		ID: "persisted", Symbol: "ETHUSDT", Status: store.StatusStopped,
		Config: testBotConfig("ETHUSDT"),
	}))

	require.NoError(t, orch.StartBot(ctx, "persisted"))
	defer orch.StopAll(ctx)

	inst, err := st.GetBot("persisted")
	require.NoError(t, err)
	assert.Equal(t, store.StatusRunning, inst.Status)
}

func TestStartUnknownBot(t *testing.T) {
	orch, _ := newTestOrchestrator(t)
	err := orch.StartBot(context.Background(), "missing")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unknown bot")
}

func TestDeleteBotPurgesRecords(t *testing.T) {
	orch, st := newTestOrchestrator(t)
	ctx := context.Background()

	botID, err := orch.CreateBot(ctx, testBotConfig("ETHUSDT"))
	require.NoError(t, err)
	require.NoError(t, st.SaveStats(&store.BotStats{BotID: botID, TotalVolume: 10}))

	require.NoError(t, orch.DeleteBot(ctx, botID))

	_, err = st.GetBot(botID)
	assert.ErrorIs(t, err, store.ErrNotFound)
	_, err = st.GetStats(botID)
	assert.ErrorIs(t, err, store.ErrNotFound)
}

func TestGetBotJoinsStats(t *testing.T) {
	orch, st := newTestOrchestrator(t)
	ctx := context.Background()

	botID, err := orch.CreateBot(ctx, testBotConfig("ETHUSDT"))
	require.NoError(t, err)

	// No stats yet: the view still resolves.
	view, err := orch.GetBot(botID)
	require.NoError(t, err)
	assert.Nil(t, view.Stats)

	require.NoError(t, st.SaveStats(&store.BotStats{BotID: botID, TotalVolume: 123}))
	view, err = orch.GetBot(botID)
	require.NoError(t, err)
	require.NotNil(t, view.Stats)
	assert.Equal(t, 123.0, view.Stats.TotalVolume)
}

func TestStopBotWithoutEngineNormalizesStatus(t *testing.T) {
	orch, st := newTestOrchestrator(t)
	ctx := context.Background()

	require.NoError(t, st.SaveBot(&store.BotInstance{
		ID: "stale", Symbol: "ETHUSDT", Status: store.StatusRunning,
		Config: testBotConfig("ETHUSDT"),
	}))

	require.NoError(t, orch.StopBot(ctx, "stale"))
	inst, err := st.GetBot("stale")
	require.NoError(t, err)
	assert.Equal(t, store.StatusStopped, inst.Status)
}
