// store/badger.go
package store

import (
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/dgraph-io/badger/v3"
)

// Key layout: every record type gets its own prefix so list operations are
// a single prefix scan.
//
//	bot:<botID>
//	stats:<botID>
//	order:<botID>:<clientOrderID>
//	act:<botID>:<nanos>
//	hour:<botID>:<unixHour>
//	agent:<agentID>
//	atrade:<agentID>:<nanos>
//	areason:<agentID>:<nanos>
type badgerStore struct {
	db *badger.DB
}

// NewBadgerStore opens (or creates) a BadgerDB database at dbPath.
func NewBadgerStore(dbPath string) (Store, error) {
	opts := badger.DefaultOptions(dbPath)
	// Badger's own logger is noisy; DB errors still surface through returns.
	opts.Logger = nil

	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("failed to open badger store: %w", err)
	}
	return &badgerStore{db: db}, nil
}

func (s *badgerStore) put(key string, v interface{}) error {
	data, err := json.Marshal(v)
	if err != nil {
		return err
	}
	return s.db.Update(func(txn *badger.Txn) error {
		return txn.Set([]byte(key), data)
	})
}

func (s *badgerStore) get(key string, v interface{}) error {
	err := s.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get([]byte(key))
		if err != nil {
			return err
		}
		return item.Value(func(val []byte) error {
			return json.Unmarshal(val, v)
		})
	})
	if errors.Is(err, badger.ErrKeyNotFound) {
		return ErrNotFound
	}
	return err
}

// scan walks all values under prefix in key order and hands each raw value
// to decode.
func (s *badgerStore) scan(prefix string, decode func(val []byte) error) error {
	return s.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.Prefix = []byte(prefix)
		it := txn.NewIterator(opts)
		defer it.Close()
		for it.Rewind(); it.Valid(); it.Next() {
			if err := it.Item().Value(func(val []byte) error {
				return decode(val)
			}); err != nil {
				return err
			}
		}
		return nil
	})
}

func (s *badgerStore) deletePrefix(prefix string) error {
	var keys [][]byte
	err := s.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.Prefix = []byte(prefix)
		opts.PrefetchValues = false
		it := txn.NewIterator(opts)
		defer it.Close()
		for it.Rewind(); it.Valid(); it.Next() {
			keys = append(keys, it.Item().KeyCopy(nil))
		}
		return nil
	})
	if err != nil {
		return err
	}
	return s.db.Update(func(txn *badger.Txn) error {
		for _, k := range keys {
			if err := txn.Delete(k); err != nil {
				return err
			}
		}
		return nil
	})
}

func (s *badgerStore) SaveBot(bot *BotInstance) error {
	return s.put("bot:"+bot.ID, bot)
}

func (s *badgerStore) GetBot(id string) (*BotInstance, error) {
	var bot BotInstance
	if err := s.get("bot:"+id, &bot); err != nil {
		return nil, err
	}
	return &bot, nil
}

func (s *badgerStore) ListBots() ([]*BotInstance, error) {
	var bots []*BotInstance
	err := s.scan("bot:", func(val []byte) error {
		var b BotInstance
		if err := json.Unmarshal(val, &b); err != nil {
			return err
		}
		bots = append(bots, &b)
		return nil
	})
	return bots, err
}

// DeleteBot purges the instance together with its stats, orders, activity
// log and hourly buckets.
func (s *badgerStore) DeleteBot(id string) error {
	if err := s.db.Update(func(txn *badger.Txn) error {
		if err := txn.Delete([]byte("bot:" + id)); err != nil && !errors.Is(err, badger.ErrKeyNotFound) {
			return err
		}
		if err := txn.Delete([]byte("stats:" + id)); err != nil && !errors.Is(err, badger.ErrKeyNotFound) {
			return err
		}
		return nil
	}); err != nil {
		return err
	}
	for _, prefix := range []string{"order:" + id + ":", "act:" + id + ":", "hour:" + id + ":"} {
		if err := s.deletePrefix(prefix); err != nil {
			return err
		}
	}
	return nil
}

func (s *badgerStore) SaveStats(stats *BotStats) error {
	return s.put("stats:"+stats.BotID, stats)
}

func (s *badgerStore) GetStats(botID string) (*BotStats, error) {
	var st BotStats
	if err := s.get("stats:"+botID, &st); err != nil {
		return nil, err
	}
	return &st, nil
}

func (s *badgerStore) SaveOrder(order *OrderRecord) error {
	return s.put(fmt.Sprintf("order:%s:%s", order.BotID, order.ClientOrderID), order)
}

func (s *badgerStore) GetOrder(botID, clientOrderID string) (*OrderRecord, error) {
	var o OrderRecord
	if err := s.get(fmt.Sprintf("order:%s:%s", botID, clientOrderID), &o); err != nil {
		return nil, err
	}
	return &o, nil
}

func (s *badgerStore) ListOrders(botID string) ([]*OrderRecord, error) {
	var orders []*OrderRecord
	err := s.scan("order:"+botID+":", func(val []byte) error {
		var o OrderRecord
		if err := json.Unmarshal(val, &o); err != nil {
			return err
		}
		orders = append(orders, &o)
		return nil
	})
	if err != nil {
		return nil, err
	}
	sort.Slice(orders, func(i, j int) bool { return orders[i].CreatedAt.Before(orders[j].CreatedAt) })
	return orders, nil
}

func (s *badgerStore) AppendActivity(entry *ActivityEntry) error {
	key := fmt.Sprintf("act:%s:%020d", entry.BotID, entry.CreatedAt.UnixNano())
	return s.put(key, entry)
}

func (s *badgerStore) ListActivity(botID string, limit int) ([]*ActivityEntry, error) {
	var entries []*ActivityEntry
	err := s.scan("act:"+botID+":", func(val []byte) error {
		var e ActivityEntry
		if err := json.Unmarshal(val, &e); err != nil {
			return err
		}
		entries = append(entries, &e)
		return nil
	})
	if err != nil {
		return nil, err
	}
	if limit > 0 && len(entries) > limit {
		entries = entries[len(entries)-limit:]
	}
	return entries, nil
}

func (s *badgerStore) SaveHourlyVolume(bucket *HourlyVolume) error {
	key := fmt.Sprintf("hour:%s:%d", bucket.BotID, bucket.HourStart.Unix())
	return s.put(key, bucket)
}

func (s *badgerStore) ListHourlyVolume(botID string) ([]*HourlyVolume, error) {
	var buckets []*HourlyVolume
	err := s.scan("hour:"+botID+":", func(val []byte) error {
		var h HourlyVolume
		if err := json.Unmarshal(val, &h); err != nil {
			return err
		}
		buckets = append(buckets, &h)
		return nil
	})
	if err != nil {
		return nil, err
	}
	sort.Slice(buckets, func(i, j int) bool { return buckets[i].HourStart.Before(buckets[j].HourStart) })
	return buckets, nil
}

func (s *badgerStore) SaveAgent(agent *AgentInstance) error {
	agent.LastUpdate = time.Now()
	return s.put("agent:"+agent.ID, agent)
}

func (s *badgerStore) GetAgent(id string) (*AgentInstance, error) {
	var a AgentInstance
	if err := s.get("agent:"+id, &a); err != nil {
		return nil, err
	}
	return &a, nil
}

func (s *badgerStore) ListAgents() ([]*AgentInstance, error) {
	var agents []*AgentInstance
	err := s.scan("agent:", func(val []byte) error {
		var a AgentInstance
		if err := json.Unmarshal(val, &a); err != nil {
			return err
		}
		agents = append(agents, &a)
		return nil
	})
	return agents, err
}

func (s *badgerStore) AppendAgentTrade(trade *AgentTrade) error {
	key := fmt.Sprintf("atrade:%s:%020d", trade.AgentID, trade.CreatedAt.UnixNano())
	return s.put(key, trade)
}

func (s *badgerStore) ListAgentTrades(agentID string) ([]*AgentTrade, error) {
	var trades []*AgentTrade
	err := s.scan("atrade:"+agentID+":", func(val []byte) error {
		var t AgentTrade
		if err := json.Unmarshal(val, &t); err != nil {
			return err
		}
		trades = append(trades, &t)
		return nil
	})
	return trades, err
}

func (s *badgerStore) AppendAgentReasoning(rec *AgentReasoning) error {
	key := fmt.Sprintf("areason:%s:%020d", rec.AgentID, rec.CreatedAt.UnixNano())
	return s.put(key, rec)
}

func (s *badgerStore) ListAgentReasoning(agentID string) ([]*AgentReasoning, error) {
	var recs []*AgentReasoning
	err := s.scan("areason:"+agentID+":", func(val []byte) error {
		var r AgentReasoning
		if err := json.Unmarshal(val, &r); err != nil {
			return err
		}
		recs = append(recs, &r)
		return nil
	})
	return recs, err
}

func (s *badgerStore) Close() error {
	return s.db.Close()
}
