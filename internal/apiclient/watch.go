package apiclient

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v5"
	"go.uber.org/zap"

	"kyc-service/internal/models"
)

// Watch subscribes to the user's change stream. Every change event yields
// one tick on the returned channel; ticks coalesce while the reader is busy.
// The stream reconnects with backoff and the channel closes when ctx ends.
func (c *Client) Watch(ctx context.Context, userID string) (<-chan struct{}, error) {
	res, err := c.openStream(ctx, userID)
	if err != nil {
		return nil, err
	}

	ticks := make(chan struct{}, 1)
	go func() {
		defer close(ticks)
		b := c.newBackOff()
		for {
			if readEvents(res, ticks, c.logger) {
				b.Reset()
			}
			res.Body.Close()

			for {
				wait := b.NextBackOff()
				if wait == backoff.Stop {
					wait = 30 * time.Second
				}
				select {
				case <-ctx.Done():
					return
				case <-time.After(wait):
				}
				res, err = c.openStream(ctx, userID)
				if err == nil {
					break
				}
				if ctx.Err() != nil {
					return
				}
				c.logger.Warn("change stream reconnect failed", zap.Error(err))
			}
			// a change may have been missed while disconnected
			notify(ticks)
		}
	}()
	return ticks, nil
}

func (c *Client) openStream(ctx context.Context, userID string) (*http.Response, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.userURL("/api/v1/kyc/", userID, "/events"), nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Accept", "text/event-stream")
	c.authorize(req)
	res, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("open change stream: %w", err)
	}
	if res.StatusCode != http.StatusOK {
		res.Body.Close()
		return nil, &APIError{StatusCode: res.StatusCode, Message: "change stream unavailable"}
	}
	return res, nil
}

// readEvents consumes frames until the stream ends and reports whether any
// change arrived.
func readEvents(res *http.Response, ticks chan<- struct{}, logger *zap.Logger) bool {
	scanner := bufio.NewScanner(res.Body)
	scanner.Buffer(make([]byte, 0, 4096), 1<<20)

	var event, data string
	received := false
	for scanner.Scan() {
		line := scanner.Text()
		switch {
		case line == "":
			if event == "change" && data != "" {
				var ev models.ChangeEvent
				if err := json.Unmarshal([]byte(data), &ev); err != nil {
					logger.Debug("skipping malformed change frame", zap.Error(err))
				} else {
					received = true
					notify(ticks)
				}
			}
			event, data = "", ""
		case strings.HasPrefix(line, ":"):
			// keepalive comment
		case strings.HasPrefix(line, "event:"):
			event = strings.TrimSpace(strings.TrimPrefix(line, "event:"))
		case strings.HasPrefix(line, "data:"):
			data += strings.TrimSpace(strings.TrimPrefix(line, "data:"))
		}
	}
	if err := scanner.Err(); err != nil && !errors.Is(err, context.Canceled) {
		logger.Debug("change stream closed", zap.Error(err))
	}
	return received
}

func notify(ticks chan<- struct{}) {
	select {
	case ticks <- struct{}{}:
	default:
	}
}
