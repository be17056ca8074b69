package main

import (
	"context"
	"encoding/json"
	"fmt"
	"math/rand"
	"net/http"
	"net/url"
	"sync/atomic"
	"time"

	"github.com/heraldhq/herald/autopost/transport"

	"github.com/carlmjohnson/versioninfo"
	"github.com/gorilla/websocket"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
)

// Consumes the gateway's message event feed until ctx is cancelled, reconnecting with backoff and resuming from the last seen seq.
func (s *Server) RunConsumer(ctx context.Context) error {

	cur, err := s.ReadLastCursor(ctx)
	if err != nil {
		return err
	}
	atomic.StoreInt64(&s.lastSeq, cur)

	var backoff int
	for {
		received, err := s.consumeFeed(ctx, atomic.LoadInt64(&s.lastSeq))
		if ctx.Err() != nil {
			return nil
		}
		if received > 0 {
			backoff = 0
		}
		feedReconnects.Inc()
		s.logger.Warn("event feed connection ended", "err", err, "received", received, "backoff", backoff)
		select {
		case <-ctx.Done():
			return nil
		case <-time.After(sleepForBackoff(backoff)):
		}
		backoff++
	}
}

func sleepForBackoff(b int) time.Duration {
	if b == 0 {
		return 0
	}

	if b < 10 {
		return time.Duration(b*2)*time.Second + time.Millisecond*time.Duration(rand.Intn(1000))
	}

	return time.Second * 30
}

// Dials the feed once and handles events until the connection fails. Returns the number of events received.
func (s *Server) consumeFeed(ctx context.Context, cursor int64) (int, error) {
	u, err := url.Parse(s.feedURL)
	if err != nil {
		return 0, fmt.Errorf("invalid feed URL: %w", err)
	}
	if cursor > 0 {
		u.RawQuery = fmt.Sprintf("cursor=%d", cursor)
	}
	header := http.Header{
		"User-Agent": []string{fmt.Sprintf("heraldd/%s", versioninfo.Short())},
	}
	if s.feedToken != "" {
		header.Set("Authorization", "Bearer "+s.feedToken)
	}

	s.logger.Info("subscribing to message event feed", "upstream", u.Host, "cursor", cursor)
	con, _, err := websocket.DefaultDialer.DialContext(ctx, u.String(), header)
	if err != nil {
		return 0, fmt.Errorf("subscribing to event feed failed (dialing): %w", err)
	}
	defer con.Close()

	// unblock ReadMessage on shutdown
	connDone := make(chan struct{})
	defer close(connDone)
	go func() {
		select {
		case <-ctx.Done():
			_ = con.WriteControl(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, "shutdown"), time.Now().Add(time.Second))
			con.Close()
		case <-connDone:
		}
	}()

	received := 0
	for {
		_, msg, err := con.ReadMessage()
		if err != nil {
			return received, err
		}
		received++
		eventsReceived.Inc()

		var evt transport.MessageEvent
		if err := json.Unmarshal(msg, &evt); err != nil {
			s.logger.Error("failed to parse feed frame", "err", err)
			continue
		}
		if evt.Seq > 0 {
			atomic.StoreInt64(&s.lastSeq, evt.Seq)
			currentSeq.Set(float64(evt.Seq))
		}
		// events are handled in order; unfreeze must not overtake the freeze it answers
		s.HandleEvent(ctx, &evt)
	}
}

// NOTE: never returns an error, just logs; one bad event must not stop the feed.
func (s *Server) HandleEvent(ctx context.Context, evt *transport.MessageEvent) {
	ctx, span := tracer.Start(ctx, "HandleEvent")
	defer span.End()
	span.SetAttributes(
		attribute.String("account", string(evt.Account)),
		attribute.String("destination", string(evt.Destination)),
		attribute.Int64("seq", evt.Seq),
		attribute.Bool("outgoing", evt.Outgoing),
	)

	logger := s.logger.With("seq", evt.Seq, "account", evt.Account, "destination", evt.Destination)
	logger.Debug("received message event")
	if err := s.engine.ProcessMessage(ctx, evt); err != nil {
		eventsFailed.Inc()
		span.SetStatus(codes.Error, err.Error())
		logger.Error("processing message event failed", "err", err)
	}
}
