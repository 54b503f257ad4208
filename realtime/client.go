package realtime

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"time"

	"github.com/bytedance/sonic"
	"github.com/gorilla/websocket"
	log "github.com/sirupsen/logrus"
)

// ErrAuthRejected is returned by Client.Run when the server closes with CloseAuthFailed.
var ErrAuthRejected = errors.New("realtime: authentication rejected")

const (
	DefaultBaseDelay   = time.Second
	DefaultMaxDelay    = 30 * time.Second
	DefaultMaxAttempts = 5
)

// Backoff returns the delay before reconnect attempt n (1-based): base doubled per
// attempt and capped at limit.
func Backoff(n int, base, limit time.Duration) time.Duration {
	if n < 1 {
		n = 1
	}
	d := base
	for i := 1; i < n; i++ {
		d *= 2
		if d >= limit {
			return limit
		}
	}
	return min(d, limit)
}

// Client keeps a sync session open, reconnecting with exponential backoff.
type Client struct {
	URL         string
	Token       string
	OnFrame     func(Inbound)
	Dialer      *websocket.Dialer
	BaseDelay   time.Duration
	MaxDelay    time.Duration
	MaxAttempts int
	Log         *log.Logger

	sleep func(context.Context, time.Duration) error
}

// NewClient creates a Client with the default backoff policy.
func NewClient(rawURL, token string, onFrame func(Inbound), logger *log.Logger) *Client {
	if logger == nil {
		logger = log.StandardLogger()
	}
	return &Client{
		URL:         rawURL,
		Token:       token,
		OnFrame:     onFrame,
		Dialer:      websocket.DefaultDialer,
		BaseDelay:   DefaultBaseDelay,
		MaxDelay:    DefaultMaxDelay,
		MaxAttempts: DefaultMaxAttempts,
		Log:         logger,
		sleep:       sleepContext,
	}
}

func sleepContext(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

// Run connects and serves frames until ctx is cancelled, the server rejects the token,
// or MaxAttempts reconnects in a row fail. A session that got as far as the connected
// frame resets the failure count.
func (c *Client) Run(ctx context.Context) error {
	failures := 0
	for {
		established, err := c.session(ctx)
		if ctx.Err() != nil {
			return ctx.Err()
		}
		if errors.Is(err, ErrAuthRejected) {
			return err
		}
		if established {
			failures = 0
		}
		failures++
		if failures > c.MaxAttempts {
			return fmt.Errorf("realtime: giving up after %d attempts: %w", c.MaxAttempts, err)
		}
		delay := Backoff(failures, c.BaseDelay, c.MaxDelay)
		c.Log.WithError(err).WithFields(log.Fields{"attempt": failures, "delay": delay}).Warn("sync connection lost, reconnecting")
		if err := c.sleep(ctx, delay); err != nil {
			return err
		}
	}
}

func (c *Client) endpoint() (string, error) {
	u, err := url.Parse(c.URL)
	if err != nil {
		return "", err
	}
	if c.Token != "" {
		q := u.Query()
		q.Set("token", c.Token)
		u.RawQuery = q.Encode()
	}
	return u.String(), nil
}

func (c *Client) session(ctx context.Context) (bool, error) {
	endpoint, err := c.endpoint()
	if err != nil {
		return false, err
	}
	conn, _, err := c.Dialer.DialContext(ctx, endpoint, nil)
	if err != nil {
		return false, err
	}
	defer conn.Close()

	stop := make(chan struct{})
	defer close(stop)
	go func() {
		select {
		case <-ctx.Done():
			_ = conn.WriteControl(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""), time.Now().Add(time.Second))
			_ = conn.Close()
		case <-stop:
		}
	}()

	established := false
	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			if websocket.IsCloseError(err, CloseAuthFailed) {
				return established, ErrAuthRejected
			}
			return established, err
		}
		var in Inbound
		if err := sonic.Unmarshal(data, &in); err != nil {
			c.Log.WithError(err).Debug("ignoring malformed frame")
			continue
		}
		switch in.Type {
		case FrameConnected:
			established = true
		case FramePing:
			pong, _ := encode(Frame{Type: FramePong})
			if err := conn.WriteMessage(websocket.TextMessage, pong); err != nil {
				return established, err
			}
		}
		if c.OnFrame != nil {
			c.OnFrame(in)
		}
	}
}
