// monitor/probe.go
package monitor

import (
	"context"
	"time"

	"aster-volume-bot/exchange"
	"aster-volume-bot/logs"
)

const (
	heartbeatInterval = 5 * time.Minute
	timeSyncInterval  = 30 * time.Minute
	driftWarnMs       = 1000
)

// Start runs the connectivity probe loop: a periodic REST heartbeat, a clock
// drift check, and a scheduled time resync. It returns when stopChan closes.
func Start(client exchange.Client, stopChan <-chan struct{}) {
	ticker := time.NewTicker(heartbeatInterval)
	defer ticker.Stop()

	lastSync := time.Now()

	for {
		select {
		case <-stopChan:
			logs.Info("Monitor received stop signal, exiting.")
			return
		case <-ticker.C:
			ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)

			if err := client.Ping(ctx); err != nil {
				logs.Errorf("[Monitor] Heartbeat failed: %v", err)
				cancel()
				continue
			}

			serverTime, err := client.GetServerTime(ctx)
			if err != nil {
				logs.Warnf("[Monitor] Failed to read server time: %v", err)
			} else {
				drift := serverTime - time.Now().UnixMilli()
				if drift > driftWarnMs || drift < -driftWarnMs {
					logs.Warnf("[Monitor] Clock drift %d ms exceeds %d ms, resyncing", drift, driftWarnMs)
					if err := client.SyncTime(ctx); err != nil {
						logs.Errorf("[Monitor] Time resync failed: %v", err)
					} else {
						lastSync = time.Now()
					}
				}
			}

			if time.Since(lastSync) >= timeSyncInterval {
				if err := client.SyncTime(ctx); err != nil {
					logs.Errorf("[Monitor] Scheduled time resync failed: %v", err)
				} else {
					lastSync = time.Now()
				}
			}

			weight, orders := client.RateLimits()
			logs.Debugf("[Monitor] Heartbeat OK, budgets: weight %d/%d, orders %d/%d",
				weight.Used, weight.Limit, orders.Used, orders.Limit)

			cancel()
		}
	}
}
