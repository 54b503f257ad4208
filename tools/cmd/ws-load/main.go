// Command ws-load holds many sync sessions open and counts the frames they receive.
package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	log "github.com/sirupsen/logrus"

	"todo-agent/realtime"
)

func getenv(key, def string) string {
	v := os.Getenv(key)
	if v == "" {
		return def
	}
	return v
}

func getenvInt(key string, def int) int {
	v := os.Getenv(key)
	if v == "" {
		return def
	}
	i, err := strconv.Atoi(v)
	if err != nil {
		return def
	}
	return i
}

type counters struct {
	frames   atomic.Uint64
	sync     atomic.Uint64
	failures atomic.Uint64
}

func (c *counters) observe(f realtime.Inbound) {
	c.frames.Add(1)
	if f.Type == realtime.FrameSync {
		c.sync.Add(1)
	}
}

func main() {
	syncURL := getenv("SYNC_URL", "ws://localhost:8080/ws/sync")
	conns := getenvInt("WS_CONNECTIONS", 200)
	duration := time.Duration(getenvInt("DURATION_SEC", 120)) * time.Second
	token := os.Getenv("TEST_BEARER")

	logger := log.New()
	logger.SetLevel(log.ErrorLevel)

	ctx, cancel := context.WithTimeout(context.Background(), duration)
	defer cancel()

	var c counters
	var wg sync.WaitGroup
	wg.Add(conns)
	for range conns {
		go func() {
			defer wg.Done()
			client := realtime.NewClient(syncURL, token, c.observe, logger)
			if err := client.Run(ctx); err != nil && !errors.Is(err, context.DeadlineExceeded) {
				c.failures.Add(1)
			}
		}()
	}

	wg.Wait()
	frames, syncs, failures := c.frames.Load(), c.sync.Load(), c.failures.Load()
	fmt.Printf("connections=%d duration_sec=%d frames_received=%d sync_frames=%d failed_clients=%d\n",
		conns, int(duration.Seconds()), frames, syncs, failures)
	if frames == 0 || float64(failures) > float64(conns)*0.01 {
		os.Exit(1)
	}
}
