// engine/engine.go
package engine

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"aster-volume-bot/config"
	"aster-volume-bot/events"
	"aster-volume-bot/exchange"
	"aster-volume-bot/logs"
	"aster-volume-bot/store"
	"aster-volume-bot/stream"
	"aster-volume-bot/utils"
)

const (
	// clientOrderSeqStart is where each bot's order counter begins.
	clientOrderSeqStart = 50000
	batchSize           = 5
	errorBackoff        = 5 * time.Second
)

// Engine runs the volume-generation trading loop for one market: requote the
// ladder, track fills from the private stream, keep stats, and stop itself
// when the fee budget or the volume target is reached.
type Engine struct {
	botID  string
	cfg    config.BotConfig
	net    *config.NetworkConfig
	client exchange.Client
	meta   *exchange.MetadataCache
	stream *stream.Stream
	store  store.Store
	bus    *events.Bus

	pricePrecision int
	qtyPrecision   int
	makerRate      float64
	takerRate      float64

	orderSeq atomic.Int64

	mu           sync.Mutex
	markPrice    float64
	status       store.BotStatus
	sessionStart time.Time
	stats        store.BotStats
	activeOrders map[string]*store.OrderRecord
	cancel       context.CancelFunc
	wg           sync.WaitGroup
	initialized  bool
}

func NewEngine(botID string, cfg config.BotConfig, net *config.NetworkConfig,
	client exchange.Client, meta *exchange.MetadataCache, strm *stream.Stream,
	st store.Store, bus *events.Bus) *Engine {
	e := &Engine{
		botID:        botID,
		cfg:          cfg,
		net:          net,
		client:       client,
		meta:         meta,
		stream:       strm,
		store:        st,
		bus:          bus,
		status:       store.StatusStopped,
		activeOrders: make(map[string]*store.OrderRecord),
		stats:        store.BotStats{BotID: botID},
	}
	e.orderSeq.Store(clientOrderSeqStart)
	return e
}

// Status returns the engine's lifecycle state.
func (e *Engine) Status() store.BotStatus {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.status
}

// Symbol returns the market this engine trades.
func (e *Engine) Symbol() string { return e.cfg.Symbol }

// Initialize verifies connectivity, syncs the clock, loads the symbol's
// trading rules and commission rates, applies leverage, and wires the stream
// subscriptions. It must succeed before Start.
func (e *Engine) Initialize(ctx context.Context) error {
	if err := e.client.Ping(ctx); err != nil {
		return fmt.Errorf("connectivity check failed: %w", err)
	}
	if err := e.client.SyncTime(ctx); err != nil {
		return fmt.Errorf("time sync failed: %w", err)
	}

	info, err := e.meta.Symbol(ctx, e.cfg.Symbol)
	if err != nil {
		return fmt.Errorf("failed to load exchange info: %w", err)
	}
	if info == nil {
		return fmt.Errorf("symbol %s is not listed on the exchange", e.cfg.Symbol)
	}
	if info.Status != "TRADING" {
		return fmt.Errorf("symbol %s is not open for trading (status %s)", e.cfg.Symbol, info.Status)
	}
	e.pricePrecision = info.PricePrecision
	e.qtyPrecision = info.QuantityPrecision

	rate, err := e.client.GetCommissionRate(ctx, e.cfg.Symbol)
	if err != nil {
		return fmt.Errorf("failed to load commission rate: %w", err)
	}
	e.makerRate, _ = strconv.ParseFloat(rate.MakerCommissionRate, 64)
	e.takerRate, _ = strconv.ParseFloat(rate.TakerCommissionRate, 64)

	if err := e.client.SetLeverage(ctx, e.cfg.Symbol, e.cfg.Leverage); err != nil {
		return fmt.Errorf("failed to set leverage: %w", err)
	}

	if e.stream != nil {
		e.stream.Subscribe(stream.EventOrderTradeUpdate, e.onOrderTradeUpdate)
		e.stream.Subscribe(stream.EventAccountUpdate, e.onAccountUpdate)
		e.stream.Subscribe(stream.EventMarginCall, e.onMarginCall)
	}

	e.mu.Lock()
	e.initialized = true
	e.mu.Unlock()

	logs.Infof("[Engine %s] Initialized: pricePrecision=%d qtyPrecision=%d maker=%.5f taker=%.5f leverage=%dx",
		e.cfg.Symbol, e.pricePrecision, e.qtyPrecision, e.makerRate, e.takerRate, e.cfg.Leverage)
	return nil
}

// Start launches the trading and status loops. Starting a running engine is
// a no-op.
func (e *Engine) Start(ctx context.Context) error {
	e.mu.Lock()
	if !e.initialized {
		e.mu.Unlock()
		return fmt.Errorf("engine for %s is not initialized", e.cfg.Symbol)
	}
	if e.status == store.StatusRunning {
		e.mu.Unlock()
		return nil
	}
	resuming := e.status == store.StatusPaused
	e.status = store.StatusRunning
	if !resuming {
		e.sessionStart = time.Now()
	}
	loopCtx, cancel := context.WithCancel(context.Background())
	e.cancel = cancel
	e.mu.Unlock()

	if e.stream != nil {
		if err := e.stream.Start(ctx); err != nil {
			cancel()
			e.mu.Lock()
			e.status = store.StatusError
			e.cancel = nil
			e.mu.Unlock()
			return fmt.Errorf("failed to start user data stream: %w", err)
		}
	}

	if err := e.persistInstance(store.StatusRunning); err != nil {
		logs.Warnf("[Engine %s] Failed to persist instance: %v", e.cfg.Symbol, err)
	}
	e.snapshot(ctx)
	e.logActivity(store.ActivityInfo, "engine started")

	e.wg.Add(2)
	go e.tradingLoop(loopCtx)
	go e.statusLoop(loopCtx)
	return nil
}

// Pause halts the loops without touching resting orders. Pausing a paused or
// stopped engine is a no-op.
func (e *Engine) Pause() {
	e.mu.Lock()
	if e.status != store.StatusRunning {
		e.mu.Unlock()
		return
	}
	e.status = store.StatusPaused
	cancel := e.cancel
	e.cancel = nil
	e.mu.Unlock()

	if cancel != nil {
		cancel()
	}
	e.wg.Wait()

	if err := e.persistInstance(store.StatusPaused); err != nil {
		logs.Warnf("[Engine %s] Failed to persist pause: %v", e.cfg.Symbol, err)
	}
	e.logActivity(store.ActivityInfo, "engine paused, resting orders untouched")
	logs.Infof("[Engine %s] Paused", e.cfg.Symbol)
}

// Stop halts the loops and cancels all resting orders. A second Stop is a
// no-op and issues no second cancel-all.
func (e *Engine) Stop(ctx context.Context) {
	e.mu.Lock()
	if e.status == store.StatusStopped {
		e.mu.Unlock()
		return
	}
	e.status = store.StatusStopped
	cancel := e.cancel
	e.cancel = nil
	e.mu.Unlock()

	if cancel != nil {
		cancel()
	}
	e.wg.Wait()

	if e.stream != nil {
		e.stream.Stop()
	}

	if err := e.client.CancelAllOpenOrders(ctx, e.cfg.Symbol); err != nil {
		logs.Warnf("[Engine %s] Cancel-all on stop failed: %v", e.cfg.Symbol, err)
	}

	e.mu.Lock()
	for _, rec := range e.activeOrders {
		if rec.Status == store.OrderNew || rec.Status == store.OrderPartiallyFilled || rec.Status == store.OrderPending {
			rec.Status = store.OrderCanceled
			rec.UpdatedAt = time.Now()
			e.saveOrderLocked(rec)
		}
	}
	e.activeOrders = make(map[string]*store.OrderRecord)
	e.stats.ActiveOrders = 0
	e.mu.Unlock()

	e.flushStats()
	if err := e.persistInstance(store.StatusStopped); err != nil {
		logs.Warnf("[Engine %s] Failed to persist stop: %v", e.cfg.Symbol, err)
	}
	e.logActivity(store.ActivityInfo, "engine stopped, all open orders canceled")
	logs.Infof("[Engine %s] Stopped", e.cfg.Symbol)
}

// --- trading loop ---

func (e *Engine) tradingLoop(ctx context.Context) {
	defer e.wg.Done()
	interval := time.Duration(e.cfg.RefreshIntervalMs) * time.Millisecond

	for {
		select {
		case <-ctx.Done():
			return
		default:
		}

		if e.budgetExhausted() {
			go e.selfStop("fee budget exhausted")
			return
		}
		if e.targetReached() {
			go e.selfStop("volume target reached")
			return
		}

		cycleStart := time.Now()
		if err := e.runCycle(ctx); err != nil {
			if ctx.Err() != nil {
				return
			}
			logs.Errorf("[Engine %s] Cycle failed: %v", e.cfg.Symbol, err)
			e.logActivity(store.ActivityError, fmt.Sprintf("cycle failed: %v", err))
			select {
			case <-ctx.Done():
				return
			case <-time.After(errorBackoff):
			}
			continue
		}

		select {
		case <-ctx.Done():
			return
		case <-time.After(cycleWait(interval, time.Since(cycleStart))):
		}
	}
}

// cycleWait is the refresh interval minus the time a cycle already spent, so
// the requote cadence tracks the interval instead of interval-plus-cycle. A
// cycle that overran gets no extra sleep.
func cycleWait(interval, elapsed time.Duration) time.Duration {
	if elapsed >= interval {
		return 0
	}
	return interval - elapsed
}

// runCycle is one full requote pass: price, size, ladder, cancel, persist,
// submit.
func (e *Engine) runCycle(ctx context.Context) error {
	refPrice, err := e.referencePrice(ctx)
	if errors.Is(err, errEmptyBook) {
		// No depth: sleep out the interval with no side effects.
		logs.Debugf("[Engine %s] Order book is empty, skipping cycle", e.cfg.Symbol)
		return nil
	}
	if err != nil {
		return fmt.Errorf("failed to get reference price: %w", err)
	}
	e.bus.Publish(events.MarketDataUpdated{BotID: e.botID, Symbol: e.cfg.Symbol, RefPrice: refPrice, At: time.Now()})

	qty := e.orderQuantity(refPrice)
	if qty <= 0 {
		logs.Warnf("[Engine %s] Order quantity rounds to zero at price %.8f, skipping cycle", e.cfg.Symbol, refPrice)
		return nil
	}

	ladder, err := BuildLadder(refPrice, e.cfg.SpreadBps, e.cfg.OrdersPerSide, e.pricePrecision)
	if err != nil {
		return fmt.Errorf("failed to build ladder: %w", err)
	}

	if err := e.cancelResting(ctx); err != nil {
		return err
	}

	reqs := e.buildRequests(ladder, qty)
	if len(reqs) == 0 {
		return nil
	}

	accepted := e.submit(ctx, reqs)

	e.mu.Lock()
	e.stats.ActiveOrders = len(e.activeOrders)
	e.mu.Unlock()
	e.flushStats()

	e.bus.Publish(events.OrdersBatchPlaced{
		BotID: e.botID, Symbol: e.cfg.Symbol,
		Submitted: len(reqs), Accepted: accepted, At: time.Now(),
	})
	return nil
}

var errEmptyBook = errors.New("order book is empty")

// referencePrice reads the book first so an empty market halts the cycle,
// then prefers the cached mark price over the book mid when one is known.
func (e *Engine) referencePrice(ctx context.Context) (float64, error) {
	book, err := e.client.GetOrderBook(ctx, e.cfg.Symbol, 5)
	if err != nil {
		return 0, err
	}
	bid, bidErr := book.BestBid()
	ask, askErr := book.BestAsk()
	if bidErr != nil || askErr != nil || bid <= 0 || ask <= 0 {
		return 0, errEmptyBook
	}

	e.mu.Lock()
	mark := e.markPrice
	e.mu.Unlock()
	if mark > 0 {
		return mark, nil
	}
	return (bid + ask) / 2, nil
}

// snapshot polls the initial market and risk picture at session start. Each
// probe is best-effort; a failed read is logged, not fatal.
func (e *Engine) snapshot(ctx context.Context) {
	if premium, err := e.client.GetMarkPrice(ctx, e.cfg.Symbol); err != nil {
		logs.Warnf("[Engine %s] Snapshot: mark price unavailable: %v", e.cfg.Symbol, err)
	} else {
		if p, perr := strconv.ParseFloat(premium.MarkPrice, 64); perr == nil && p > 0 {
			e.mu.Lock()
			e.markPrice = p
			e.mu.Unlock()
		}
		logs.Infof("[Engine %s] Snapshot: mark=%s funding=%s", e.cfg.Symbol, premium.MarkPrice, premium.LastFundingRate)
	}

	if ticker, err := e.client.GetTicker24h(ctx, e.cfg.Symbol); err == nil {
		logs.Infof("[Engine %s] Snapshot: 24h last=%s quoteVolume=%s change=%s%%",
			e.cfg.Symbol, ticker.LastPrice, ticker.QuoteVolume, ticker.PriceChangePercent)
	}
	if positions, err := e.client.GetPositionRisk(ctx, e.cfg.Symbol); err == nil {
		for _, p := range positions {
			if p.Amount() != 0 {
				logs.Warnf("[Engine %s] Snapshot: carrying position amt=%s entry=%s upnl=%s",
					e.cfg.Symbol, p.PositionAmt, p.EntryPrice, p.UnRealizedProfit)
			}
		}
	}
	if quantiles, err := e.client.GetADLQuantile(ctx, e.cfg.Symbol); err == nil && len(quantiles) > 0 {
		logs.Debugf("[Engine %s] Snapshot: ADL quantile long=%d short=%d",
			e.cfg.Symbol, quantiles[0].AdlQuantile.Long, quantiles[0].AdlQuantile.Short)
	}
	if brackets, err := e.client.GetLeverageBracket(ctx, e.cfg.Symbol); err == nil && len(brackets) > 0 && len(brackets[0].Brackets) > 0 {
		logs.Debugf("[Engine %s] Snapshot: first bracket leverage=%dx notionalCap=%.0f",
			e.cfg.Symbol, brackets[0].Brackets[0].InitialLeverage, brackets[0].Brackets[0].NotionalCap)
	}
}

// orderQuantity sizes one rung: the leveraged notional share divided by the
// reference price, floored to the quantity precision.
func (e *Engine) orderQuantity(refPrice float64) float64 {
	notional := e.cfg.InvestmentUSDT * float64(e.cfg.Leverage) * e.cfg.OrderSizePercent / 100.0
	return utils.FloorToPrecision(notional/refPrice, e.qtyPrecision)
}

// cancelResting clears the previous cycle's quotes and waits for the venue
// to settle the cancels before requoting.
func (e *Engine) cancelResting(ctx context.Context) error {
	e.mu.Lock()
	hadActive := len(e.activeOrders) > 0
	e.mu.Unlock()
	if !hadActive {
		return nil
	}

	if err := e.client.CancelAllOpenOrders(ctx, e.cfg.Symbol); err != nil {
		return fmt.Errorf("cancel-all failed: %w", err)
	}

	e.mu.Lock()
	canceled := 0
	for id, rec := range e.activeOrders {
		if rec.Status == store.OrderNew || rec.Status == store.OrderPartiallyFilled || rec.Status == store.OrderPending {
			rec.Status = store.OrderCanceled
			rec.UpdatedAt = time.Now()
			e.saveOrderLocked(rec)
			canceled++
		}
		delete(e.activeOrders, id)
	}
	e.mu.Unlock()

	if canceled > 0 {
		e.logActivity(store.ActivityCancel, fmt.Sprintf("canceled %d resting orders before requote", canceled))
	}

	if e.cfg.CancelSettleMs > 0 {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(time.Duration(e.cfg.CancelSettleMs) * time.Millisecond):
		}
	}
	return nil
}

// buildRequests turns the ladder into order requests, alternating buy/sell
// from the tightest rung out. MaxOrdersToPlace caps each side independently,
// so the book always gets the same number of buys and sells. Each request
// gets a PENDING record persisted before submission.
func (e *Engine) buildRequests(ladder *Ladder, qty float64) []*exchange.NewOrderRequest {
	tif := "GTC"
	if e.cfg.UsePostOnly {
		tif = "GTX"
	}
	qtyStr := strconv.FormatFloat(qty, 'f', e.qtyPrecision, 64)

	perSide := e.cfg.OrdersPerSide
	if e.cfg.MaxOrdersToPlace > 0 && e.cfg.MaxOrdersToPlace < perSide {
		perSide = e.cfg.MaxOrdersToPlace
	}

	var reqs []*exchange.NewOrderRequest
	add := func(side exchange.OrderSide, price float64) {
		clientID := e.nextClientOrderID()
		req := &exchange.NewOrderRequest{
			Symbol:        e.cfg.Symbol,
			Side:          side,
			Type:          exchange.Limit,
			TimeInForce:   tif,
			Price:         strconv.FormatFloat(price, 'f', e.pricePrecision, 64),
			Quantity:      qtyStr,
			ClientOrderID: clientID,
		}
		rec := &store.OrderRecord{
			ID:            uuid.NewString(),
			BotID:         e.botID,
			ClientOrderID: clientID,
			Symbol:        e.cfg.Symbol,
			Side:          string(side),
			Type:          string(exchange.Limit),
			Price:         price,
			Quantity:      qty,
			Status:        store.OrderPending,
			CreatedAt:     time.Now(),
			UpdatedAt:     time.Now(),
		}
		e.mu.Lock()
		e.activeOrders[clientID] = rec
		e.stats.TotalOrders++
		e.saveOrderLocked(rec)
		e.mu.Unlock()
		reqs = append(reqs, req)
	}

	for i := 0; i < perSide; i++ {
		add(exchange.Buy, ladder.Buys[i])
		add(exchange.Sell, ladder.Sells[i])
	}
	return reqs
}

// submit sends the requests in batches of up to five. A failed batch falls
// back to per-order submission so one bad leg cannot sink its batchmates;
// only legs that individually fail are marked FAILED. Returns the number of
// accepted orders.
func (e *Engine) submit(ctx context.Context, reqs []*exchange.NewOrderRequest) int {
	accepted := 0
	delay := time.Duration(e.cfg.OrderDelayMs) * time.Millisecond

	for start := 0; start < len(reqs); start += batchSize {
		end := start + batchSize
		if end > len(reqs) {
			end = len(reqs)
		}
		batch := reqs[start:end]

		orders, err := e.client.BatchPlaceOrders(ctx, batch)
		if err == nil {
			for _, o := range orders {
				e.markAccepted(o)
				accepted++
			}
		} else {
			logs.Warnf("[Engine %s] Batch submit failed (%v), falling back to per-order", e.cfg.Symbol, err)
			for _, req := range batch {
				order, perr := e.client.PlaceOrder(ctx, req)
				if perr != nil {
					logs.Warnf("[Engine %s] Order %s failed: %v", e.cfg.Symbol, req.ClientOrderID, perr)
					e.markFailed(req.ClientOrderID)
					continue
				}
				e.markAccepted(order)
				accepted++
			}
		}

		if delay > 0 && end < len(reqs) {
			select {
			case <-ctx.Done():
				return accepted
			case <-time.After(delay):
			}
		}
	}
	return accepted
}

func (e *Engine) markAccepted(order *exchange.Order) {
	e.mu.Lock()
	rec, ok := e.activeOrders[order.ClientOrderID]
	if ok {
		rec.ExchangeID = order.OrderID
		if rec.Status == store.OrderPending {
			rec.Status = store.OrderNew
		}
		rec.UpdatedAt = time.Now()
		e.saveOrderLocked(rec)
	}
	e.mu.Unlock()

	price, _ := strconv.ParseFloat(order.Price, 64)
	qty, _ := strconv.ParseFloat(order.OrigQty, 64)
	e.bus.Publish(events.OrderPlaced{
		BotID: e.botID, Symbol: order.Symbol, Side: string(order.Side),
		Price: price, Quantity: qty, ClientOrderID: order.ClientOrderID, At: time.Now(),
	})
}

func (e *Engine) markFailed(clientOrderID string) {
	e.mu.Lock()
	defer e.mu.Unlock()
	rec, ok := e.activeOrders[clientOrderID]
	if !ok {
		return
	}
	rec.Status = store.OrderFailed
	rec.UpdatedAt = time.Now()
	e.saveOrderLocked(rec)
	delete(e.activeOrders, clientOrderID)
}

// nextClientOrderID returns the next id in this bot's monotonic sequence.
func (e *Engine) nextClientOrderID() string {
	seq := e.orderSeq.Add(1) - 1
	return fmt.Sprintf("vb-%s-%d", e.botID, seq)
}

// ownsOrder reports whether a client order id was issued by this engine.
func (e *Engine) ownsOrder(clientOrderID string) bool {
	return strings.HasPrefix(clientOrderID, "vb-"+e.botID+"-")
}

// --- stream handlers ---

func (e *Engine) onOrderTradeUpdate(env stream.Envelope) {
	var upd stream.OrderTradeUpdate
	if err := json.Unmarshal(env.Raw, &upd); err != nil {
		logs.Warnf("[Engine %s] Bad order update frame: %v", e.cfg.Symbol, err)
		return
	}
	o := upd.Order
	if o.Symbol != e.cfg.Symbol || !e.ownsOrder(o.ClientOrderID) {
		return
	}

	e.mu.Lock()
	rec, tracked := e.activeOrders[o.ClientOrderID]
	if tracked {
		rec.Status = store.OrderStatus(o.Status)
		if filled, err := strconv.ParseFloat(o.CumFilledQty, 64); err == nil {
			rec.FilledQuantity = filled
		}
		rec.UpdatedAt = time.Now()
		e.saveOrderLocked(rec)
		if rec.Status == store.OrderFilled || rec.Status == store.OrderCanceled ||
			rec.Status == store.OrderRejected || rec.Status == store.OrderExpired {
			delete(e.activeOrders, o.ClientOrderID)
			e.stats.ActiveOrders = len(e.activeOrders)
		}
	}

	switch o.Status {
	case string(store.OrderFilled), string(store.OrderPartiallyFilled):
		lastQty, _ := strconv.ParseFloat(o.LastFilledQty, 64)
		lastPrice, _ := strconv.ParseFloat(o.LastFilledPrice, 64)
		fee, _ := strconv.ParseFloat(o.Commission, 64)
		notional := lastQty * lastPrice
		if fee == 0 && notional > 0 {
			// Some venues omit the commission field on the push; estimate it
			// from the account's rates instead.
			rate := e.takerRate
			if o.IsMaker || e.cfg.UsePostOnly {
				rate = e.makerRate
			}
			fee = notional * rate
		}

		e.stats.TotalVolume += notional
		e.stats.TotalTrades++
		e.stats.TotalFees += fee
		if p, err := strconv.ParseFloat(o.RealizedProfit, 64); err == nil {
			e.stats.PnL += p
		}
		if o.Status == string(store.OrderFilled) {
			e.stats.FilledOrders++
		}
		if e.stats.TotalOrders > 0 {
			e.stats.FillRate = float64(e.stats.FilledOrders) / float64(e.stats.TotalOrders) * 100
		}
	}
	e.mu.Unlock()

	switch o.Status {
	case string(store.OrderFilled), string(store.OrderPartiallyFilled):
		e.logActivity(store.ActivityFill, fmt.Sprintf("%s %s %s @ %s (%s)",
			o.Side, o.LastFilledQty, o.Symbol, o.LastFilledPrice, o.Status))
		e.flushStats()
		e.bus.Publish(events.StatsUpdated{BotID: e.botID, At: time.Now()})
	case string(store.OrderRejected):
		e.logActivity(store.ActivityError, fmt.Sprintf("order %s rejected", o.ClientOrderID))
	}
}

func (e *Engine) onAccountUpdate(env stream.Envelope) {
	var upd stream.AccountUpdate
	if err := json.Unmarshal(env.Raw, &upd); err != nil {
		return
	}
	for _, p := range upd.Data.Positions {
		if p.Symbol == e.cfg.Symbol {
			logs.Debugf("[Engine %s] Position update: amt=%s entry=%s upnl=%s",
				e.cfg.Symbol, p.PositionAmt, p.EntryPrice, p.UnrealizedPnL)
		}
	}
}

func (e *Engine) onMarginCall(env stream.Envelope) {
	var upd stream.MarginCallUpdate
	if err := json.Unmarshal(env.Raw, &upd); err != nil {
		return
	}
	for _, p := range upd.Positions {
		if p.Symbol != e.cfg.Symbol {
			continue
		}
		logs.Errorf("[Engine %s] MARGIN CALL: amt=%s mark=%s upnl=%s",
			e.cfg.Symbol, p.PositionAmt, p.MarkPrice, p.UnrealizedPnL)
		e.logActivity(store.ActivityWarning, "margin call received from exchange")
		e.bus.Publish(events.MarginCall{BotID: e.botID, Symbol: e.cfg.Symbol, At: time.Now()})
	}
}

// --- status loop ---

func (e *Engine) statusLoop(ctx context.Context) {
	defer e.wg.Done()
	interval := time.Duration(e.net.StatusIntervalSeconds) * time.Second
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			e.refreshStats(ctx)
		}
	}
}

// refreshStats recomputes uptime and the trailing-hour volume from the fill
// history, persists the snapshot, and logs a status block.
func (e *Engine) refreshStats(ctx context.Context) {
	if premium, perr := e.client.GetMarkPrice(ctx, e.cfg.Symbol); perr == nil {
		if p, parseErr := strconv.ParseFloat(premium.MarkPrice, 64); parseErr == nil && p > 0 {
			e.mu.Lock()
			e.markPrice = p
			e.mu.Unlock()
		}
	}

	hourAgo := time.Now().Add(-time.Hour)
	trades, err := e.client.GetUserTrades(ctx, e.cfg.Symbol, hourAgo.UnixMilli())
	hourly := 0.0
	var hourlyTrades int64
	if err != nil {
		logs.Warnf("[Engine %s] Failed to fetch trailing-hour trades: %v", e.cfg.Symbol, err)
	} else {
		for _, t := range trades {
			if q, perr := strconv.ParseFloat(t.QuoteQty, 64); perr == nil {
				hourly += q
				hourlyTrades++
			}
		}
	}

	e.mu.Lock()
	e.stats.UptimeSeconds = time.Since(e.sessionStart).Seconds()
	if err == nil {
		e.stats.HourlyVolume = hourly
	}
	snapshot := e.stats
	e.mu.Unlock()

	e.flushStats()
	if err == nil {
		bucket := &store.HourlyVolume{
			BotID:     e.botID,
			HourStart: time.Now().Truncate(time.Hour),
			Volume:    hourly,
			Trades:    hourlyTrades,
		}
		if serr := e.store.SaveHourlyVolume(bucket); serr != nil {
			logs.Warnf("[Engine %s] Failed to save hourly bucket: %v", e.cfg.Symbol, serr)
		}
	}
	e.bus.Publish(events.StatsUpdated{BotID: e.botID, At: time.Now()})

	logs.Infof("[Engine %s] Status: volume=%.2f/%.2f USDT, hourly=%.2f, trades=%d, fees=%.4f/%.2f, active=%d, fillRate=%.1f%%, uptime=%.0fs",
		e.cfg.Symbol, snapshot.TotalVolume, e.cfg.TargetVolumeUSDT, snapshot.HourlyVolume,
		snapshot.TotalTrades, snapshot.TotalFees, e.cfg.MaxLossUSDT,
		snapshot.ActiveOrders, snapshot.FillRate, snapshot.UptimeSeconds)
}

// --- self-stop conditions ---

func (e *Engine) budgetExhausted() bool {
	if e.cfg.MaxLossUSDT <= 0 {
		return false
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.stats.TotalFees >= e.cfg.MaxLossUSDT
}

func (e *Engine) targetReached() bool {
	if e.cfg.TargetVolumeUSDT <= 0 {
		return false
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.stats.TotalVolume >= e.cfg.TargetVolumeUSDT
}

func (e *Engine) selfStop(reason string) {
	logs.Infof("[Engine %s] Stopping: %s", e.cfg.Symbol, reason)
	e.logActivity(store.ActivitySuccess, "stopping: "+reason)
	ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	e.Stop(ctx)
}

// --- persistence helpers ---

// saveOrderLocked persists an order record; the caller holds e.mu.
func (e *Engine) saveOrderLocked(rec *store.OrderRecord) {
	cp := *rec
	if err := e.store.SaveOrder(&cp); err != nil {
		logs.Warnf("[Engine %s] Failed to save order %s: %v", e.cfg.Symbol, rec.ClientOrderID, err)
	}
}

func (e *Engine) flushStats() {
	e.mu.Lock()
	snapshot := e.stats
	e.mu.Unlock()
	snapshot.UpdatedAt = time.Now()
	if err := e.store.SaveStats(&snapshot); err != nil {
		logs.Warnf("[Engine %s] Failed to save stats: %v", e.cfg.Symbol, err)
	}
}

// Stats returns a copy of the current stats.
func (e *Engine) Stats() store.BotStats {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.stats
}

func (e *Engine) persistInstance(status store.BotStatus) error {
	e.mu.Lock()
	inst := &store.BotInstance{
		ID:           e.botID,
		Symbol:       e.cfg.Symbol,
		Status:       status,
		Config:       e.cfg,
		SessionStart: e.sessionStart,
		LastUpdate:   time.Now(),
	}
	e.mu.Unlock()
	return e.store.SaveBot(inst)
}

func (e *Engine) logActivity(t store.ActivityType, msg string) {
	entry := &store.ActivityEntry{
		ID:        uuid.NewString(),
		BotID:     e.botID,
		Type:      t,
		Message:   msg,
		CreatedAt: time.Now(),
	}
	if err := e.store.AppendActivity(entry); err != nil {
		logs.Warnf("[Engine %s] Failed to append activity: %v", e.cfg.Symbol, err)
	}
	e.bus.Publish(events.Log{
		BotID:   e.botID,
		Level:   string(t),
		Message: msg,
		At:      entry.CreatedAt,
	})
}
