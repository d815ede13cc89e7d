// store/store_test.go
package store

import (
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"aster-volume-bot/config"
)

// storeUnderTest runs the shared conformance suite against one implementation.
func storeUnderTest(t *testing.T, name string, open func(t *testing.T) Store) {
	t.Run(name+"/BotLifecycle", func(t *testing.T) { testBotLifecycle(t, open(t)) })
	t.Run(name+"/Stats", func(t *testing.T) { testStats(t, open(t)) })
	t.Run(name+"/Orders", func(t *testing.T) { testOrders(t, open(t)) })
	t.Run(name+"/Activity", func(t *testing.T) { testActivity(t, open(t)) })
	t.Run(name+"/HourlyVolume", func(t *testing.T) { testHourlyVolume(t, open(t)) })
	t.Run(name+"/DeleteCascade", func(t *testing.T) { testDeleteCascade(t, open(t)) })
	t.Run(name+"/Agents", func(t *testing.T) { testAgents(t, open(t)) })
}

func TestMemoryStore(t *testing.T) {
	storeUnderTest(t, "memory", func(t *testing.T) Store { return NewMemoryStore() })
}

func TestBadgerStore(t *testing.T) {
	storeUnderTest(t, "badger", func(t *testing.T) Store {
		st, err := NewBadgerStore(t.TempDir())
		require.NoError(t, err)
		t.Cleanup(func() { st.Close() })
		return st
	})
}

func testBotLifecycle(t *testing.T, st Store) {
	_, err := st.GetBot("missing")
	assert.ErrorIs(t, err, ErrNotFound)

	bot := &BotInstance{
		ID: "b1", Symbol: "ETHUSDT", Status: StatusStopped,
		Config:     config.BotConfig{Symbol: "ETHUSDT", Leverage: 10},
		LastUpdate: time.Now(),
	}
	require.NoError(t, st.SaveBot(bot))

	got, err := st.GetBot("b1")
	require.NoError(t, err)
	assert.Equal(t, "ETHUSDT", got.Symbol)
	assert.Equal(t, 10, got.Config.Leverage)

	bot.Status = StatusRunning
	require.NoError(t, st.SaveBot(bot))
	got, err = st.GetBot("b1")
	require.NoError(t, err)
	assert.Equal(t, StatusRunning, got.Status)

	require.NoError(t, st.SaveBot(&BotInstance{ID: "b2", Symbol: "BTCUSDT"}))
	bots, err := st.ListBots()
	require.NoError(t, err)
	assert.Len(t, bots, 2)
}

func testStats(t *testing.T, st Store) {
	_, err := st.GetStats("b1")
	assert.ErrorIs(t, err, ErrNotFound)

	require.NoError(t, st.SaveStats(&BotStats{BotID: "b1", TotalVolume: 100, TotalTrades: 3}))
	got, err := st.GetStats("b1")
	require.NoError(t, err)
	assert.Equal(t, 100.0, got.TotalVolume)
	assert.Equal(t, int64(3), got.TotalTrades)
}

func testOrders(t *testing.T, st Store) {
	base := time.Now()
	for i := 0; i < 3; i++ {
		require.NoError(t, st.SaveOrder(&OrderRecord{
			ID: fmt.Sprintf("o%d", i), BotID: "b1",
			ClientOrderID: fmt.Sprintf("vb-b1-%d", 50000+i),
			Symbol:        "ETHUSDT", Status: OrderPending,
			CreatedAt: base.Add(time.Duration(i) * time.Second),
		}))
	}

	got, err := st.GetOrder("b1", "vb-b1-50001")
	require.NoError(t, err)
	assert.Equal(t, OrderPending, got.Status)

	got.Status = OrderFilled
	require.NoError(t, st.SaveOrder(got))
	got, err = st.GetOrder("b1", "vb-b1-50001")
	require.NoError(t, err)
	assert.Equal(t, OrderFilled, got.Status)

	orders, err := st.ListOrders("b1")
	require.NoError(t, err)
	require.Len(t, orders, 3)
	assert.Equal(t, "vb-b1-50000", orders[0].ClientOrderID)
	assert.Equal(t, "vb-b1-50002", orders[2].ClientOrderID)

	_, err = st.GetOrder("b1", "vb-b1-99999")
	assert.ErrorIs(t, err, ErrNotFound)
}

func testActivity(t *testing.T, st Store) {
	base := time.Now()
	for i := 0; i < 5; i++ {
		require.NoError(t, st.AppendActivity(&ActivityEntry{
			ID: fmt.Sprintf("a%d", i), BotID: "b1", Type: ActivityInfo,
			Message:   fmt.Sprintf("entry %d", i),
			CreatedAt: base.Add(time.Duration(i) * time.Millisecond),
		}))
	}

	all, err := st.ListActivity("b1", 0)
	require.NoError(t, err)
	assert.Len(t, all, 5)

	// The limit keeps the most recent entries.
	tail, err := st.ListActivity("b1", 2)
	require.NoError(t, err)
	require.Len(t, tail, 2)
	assert.Equal(t, "entry 3", tail[0].Message)
	assert.Equal(t, "entry 4", tail[1].Message)
}

func testHourlyVolume(t *testing.T, st Store) {
	hour := time.Now().Truncate(time.Hour)
	require.NoError(t, st.SaveHourlyVolume(&HourlyVolume{BotID: "b1", HourStart: hour, Volume: 100}))
	// Same bucket is overwritten, not duplicated.
	require.NoError(t, st.SaveHourlyVolume(&HourlyVolume{BotID: "b1", HourStart: hour, Volume: 150}))
	require.NoError(t, st.SaveHourlyVolume(&HourlyVolume{BotID: "b1", HourStart: hour.Add(-time.Hour), Volume: 50}))

	buckets, err := st.ListHourlyVolume("b1")
	require.NoError(t, err)
	require.Len(t, buckets, 2)
	assert.Equal(t, 50.0, buckets[0].Volume)
	assert.Equal(t, 150.0, buckets[1].Volume)
}

func testDeleteCascade(t *testing.T, st Store) {
	require.NoError(t, st.SaveBot(&BotInstance{ID: "b1", Symbol: "ETHUSDT"}))
	require.NoError(t, st.SaveStats(&BotStats{BotID: "b1"}))
	require.NoError(t, st.SaveOrder(&OrderRecord{ID: "o1", BotID: "b1", ClientOrderID: "vb-b1-50000", CreatedAt: time.Now()}))
	require.NoError(t, st.AppendActivity(&ActivityEntry{ID: "a1", BotID: "b1", CreatedAt: time.Now()}))
	require.NoError(t, st.SaveBot(&BotInstance{ID: "b2", Symbol: "BTCUSDT"}))

	require.NoError(t, st.DeleteBot("b1"))

	_, err := st.GetBot("b1")
	assert.ErrorIs(t, err, ErrNotFound)
	_, err = st.GetStats("b1")
	assert.ErrorIs(t, err, ErrNotFound)
	orders, err := st.ListOrders("b1")
	require.NoError(t, err)
	assert.Empty(t, orders)
	activity, err := st.ListActivity("b1", 0)
	require.NoError(t, err)
	assert.Empty(t, activity)

	// The other bot survives.
	_, err = st.GetBot("b2")
	require.NoError(t, err)
}

func testAgents(t *testing.T, st Store) {
	loss := 100.0
	agent := &AgentInstance{
		ID: "a1", Status: StatusRunning,
		Config:         AgentConfig{StartingCapital: 1000, MaxLossUSDT: &loss},
		CurrentBalance: 1000,
	}
	require.NoError(t, st.SaveAgent(agent))

	got, err := st.GetAgent("a1")
	require.NoError(t, err)
	require.NotNil(t, got.Config.MaxLossUSDT)
	assert.Equal(t, 100.0, *got.Config.MaxLossUSDT)
	assert.Nil(t, got.Config.TargetProfitUSDT)

	require.NoError(t, st.AppendAgentTrade(&AgentTrade{ID: "t1", AgentID: "a1", Symbol: "ETHUSDT", CreatedAt: time.Now()}))
	trades, err := st.ListAgentTrades("a1")
	require.NoError(t, err)
	assert.Len(t, trades, 1)

	require.NoError(t, st.AppendAgentReasoning(&AgentReasoning{ID: "r1", AgentID: "a1", Decision: "stop", CreatedAt: time.Now()}))
	recs, err := st.ListAgentReasoning("a1")
	require.NoError(t, err)
	assert.Len(t, recs, 1)

	agents, err := st.ListAgents()
	require.NoError(t, err)
	assert.Len(t, agents, 1)
}
