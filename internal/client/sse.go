package client

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/caamer20/Telegram-Drive/internal/events"
	"github.com/caamer20/Telegram-Drive/internal/logging"
)

// Watch subscribes to the daemon's change feed and reconnects with backoff
// until ctx is done. The returned channel closes when Watch gives up.
func (c *Client) Watch(ctx context.Context) <-chan events.Event {
	out := make(chan events.Event, 100)
	go c.watchLoop(ctx, out)
	return out
}

func (c *Client) watchLoop(ctx context.Context, out chan<- events.Event) {
	defer close(out)

	const (
		reconnectMin = time.Second
		reconnectMax = 30 * time.Second
	)
	delay := reconnectMin
	for {
		err := c.stream(ctx, out)
		if ctx.Err() != nil {
			return
		}
		logging.Warn("event stream dropped, reconnecting", zap.Error(err), zap.Duration("delay", delay))

		select {
		case <-ctx.Done():
			return
		case <-time.After(delay):
		}
		delay *= 2
		if delay > reconnectMax {
			delay = reconnectMax
		}
	}
}

func (c *Client) stream(ctx context.Context, out chan<- events.Event) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/api/v1/events", nil)
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Accept", "text/event-stream")
	req.Header.Set("Cache-Control", "no-cache")
	c.applyAuth(req)

	// The shared client's timeout would cut the stream.
	sseClient := &http.Client{Transport: c.httpClient.Transport}
	resp, err := sseClient.Do(req)
	if err != nil {
		return fmt.Errorf("connect: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return c.classify(resp)
	}

	logging.Debug("event stream connected")

	scanner := bufio.NewScanner(resp.Body)
	var data string
	for scanner.Scan() {
		line := scanner.Text()
		switch {
		case line == "":
			if data != "" {
				var e events.Event
				if err := json.Unmarshal([]byte(data), &e); err == nil {
					select {
					case out <- e:
					case <-ctx.Done():
						return nil
					}
				}
			}
			data = ""
		case strings.HasPrefix(line, "data:"):
			data = strings.TrimSpace(strings.TrimPrefix(line, "data:"))
		}
	}
	if err := scanner.Err(); err != nil {
		return fmt.Errorf("read: %w", err)
	}
	return fmt.Errorf("connection closed")
}
