// store/memory.go
package store

import (
	"sort"
	"sync"
)

// MemoryStore is an in-memory Store used by tests and the simulation path.
type MemoryStore struct {
	mu        sync.RWMutex
	bots      map[string]*BotInstance
	stats     map[string]*BotStats
	orders    map[string]map[string]*OrderRecord // botID -> clientOrderID -> record
	orderSeq  map[string][]string                // botID -> clientOrderIDs in insert order
	activity  map[string][]*ActivityEntry
	hourly    map[string][]*HourlyVolume
	agents    map[string]*AgentInstance
	trades    map[string][]*AgentTrade
	reasoning map[string][]*AgentReasoning
}

var _ Store = (*MemoryStore)(nil)

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		bots:      make(map[string]*BotInstance),
		stats:     make(map[string]*BotStats),
		orders:    make(map[string]map[string]*OrderRecord),
		orderSeq:  make(map[string][]string),
		activity:  make(map[string][]*ActivityEntry),
		hourly:    make(map[string][]*HourlyVolume),
		agents:    make(map[string]*AgentInstance),
		trades:    make(map[string][]*AgentTrade),
		reasoning: make(map[string][]*AgentReasoning),
	}
}

func (s *MemoryStore) SaveBot(bot *BotInstance) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := *bot
	s.bots[bot.ID] = &cp
	return nil
}

func (s *MemoryStore) GetBot(id string) (*BotInstance, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	b, ok := s.bots[id]
	if !ok {
		return nil, ErrNotFound
	}
	cp := *b
	return &cp, nil
}

func (s *MemoryStore) ListBots() ([]*BotInstance, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]*BotInstance, 0, len(s.bots))
	for _, b := range s.bots {
		cp := *b
		out = append(out, &cp)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (s *MemoryStore) DeleteBot(id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.bots, id)
	delete(s.stats, id)
	delete(s.orders, id)
	delete(s.orderSeq, id)
	delete(s.activity, id)
	delete(s.hourly, id)
	return nil
}

func (s *MemoryStore) SaveStats(stats *BotStats) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := *stats
	s.stats[stats.BotID] = &cp
	return nil
}

func (s *MemoryStore) GetStats(botID string) (*BotStats, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	st, ok := s.stats[botID]
	if !ok {
		return nil, ErrNotFound
	}
	cp := *st
	return &cp, nil
}

func (s *MemoryStore) SaveOrder(order *OrderRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	byID, ok := s.orders[order.BotID]
	if !ok {
		byID = make(map[string]*OrderRecord)
		s.orders[order.BotID] = byID
	}
	if _, exists := byID[order.ClientOrderID]; !exists {
		s.orderSeq[order.BotID] = append(s.orderSeq[order.BotID], order.ClientOrderID)
	}
	cp := *order
	byID[order.ClientOrderID] = &cp
	return nil
}

func (s *MemoryStore) GetOrder(botID, clientOrderID string) (*OrderRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	o, ok := s.orders[botID][clientOrderID]
	if !ok {
		return nil, ErrNotFound
	}
	cp := *o
	return &cp, nil
}

func (s *MemoryStore) ListOrders(botID string) ([]*OrderRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	ids := s.orderSeq[botID]
	out := make([]*OrderRecord, 0, len(ids))
	for _, id := range ids {
		if o, ok := s.orders[botID][id]; ok {
			cp := *o
			out = append(out, &cp)
		}
	}
	return out, nil
}

func (s *MemoryStore) AppendActivity(entry *ActivityEntry) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := *entry
	s.activity[entry.BotID] = append(s.activity[entry.BotID], &cp)
	return nil
}

func (s *MemoryStore) ListActivity(botID string, limit int) ([]*ActivityEntry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	entries := s.activity[botID]
	if limit > 0 && len(entries) > limit {
		entries = entries[len(entries)-limit:]
	}
	out := make([]*ActivityEntry, 0, len(entries))
	for _, e := range entries {
		cp := *e
		out = append(out, &cp)
	}
	return out, nil
}

func (s *MemoryStore) SaveHourlyVolume(bucket *HourlyVolume) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for i, b := range s.hourly[bucket.BotID] {
		if b.HourStart.Equal(bucket.HourStart) {
			cp := *bucket
			s.hourly[bucket.BotID][i] = &cp
			return nil
		}
	}
	cp := *bucket
	s.hourly[bucket.BotID] = append(s.hourly[bucket.BotID], &cp)
	return nil
}

func (s *MemoryStore) ListHourlyVolume(botID string) ([]*HourlyVolume, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	buckets := s.hourly[botID]
	out := make([]*HourlyVolume, 0, len(buckets))
	for _, b := range buckets {
		cp := *b
		out = append(out, &cp)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].HourStart.Before(out[j].HourStart) })
	return out, nil
}

func (s *MemoryStore) SaveAgent(agent *AgentInstance) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := *agent
	s.agents[agent.ID] = &cp
	return nil
}

func (s *MemoryStore) GetAgent(id string) (*AgentInstance, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	a, ok := s.agents[id]
	if !ok {
		return nil, ErrNotFound
	}
	cp := *a
	return &cp, nil
}

func (s *MemoryStore) ListAgents() ([]*AgentInstance, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]*AgentInstance, 0, len(s.agents))
	for _, a := range s.agents {
		cp := *a
		out = append(out, &cp)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (s *MemoryStore) AppendAgentTrade(trade *AgentTrade) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := *trade
	s.trades[trade.AgentID] = append(s.trades[trade.AgentID], &cp)
	return nil
}

func (s *MemoryStore) ListAgentTrades(agentID string) ([]*AgentTrade, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]*AgentTrade, 0, len(s.trades[agentID]))
	for _, t := range s.trades[agentID] {
		cp := *t
		out = append(out, &cp)
	}
	return out, nil
}

func (s *MemoryStore) AppendAgentReasoning(rec *AgentReasoning) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := *rec
	s.reasoning[rec.AgentID] = append(s.reasoning[rec.AgentID], &cp)
	return nil
}

func (s *MemoryStore) ListAgentReasoning(agentID string) ([]*AgentReasoning, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]*AgentReasoning, 0, len(s.reasoning[agentID]))
	for _, r := range s.reasoning[agentID] {
		cp := *r
		out = append(out, &cp)
	}
	return out, nil
}

func (s *MemoryStore) Close() error { return nil }
