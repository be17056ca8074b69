package main

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/heraldhq/herald/autopost/store"
	"github.com/heraldhq/herald/autopost/transport"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSleepForBackoff(t *testing.T) {
	assert := assert.New(t)

	assert.Equal(time.Duration(0), sleepForBackoff(0))
	d := sleepForBackoff(3)
	assert.GreaterOrEqual(d, 6*time.Second)
	assert.Less(d, 7*time.Second)
	assert.Equal(30*time.Second, sleepForBackoff(50))
}

func TestConsumeFeed(t *testing.T) {
	assert := assert.New(t)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	frames := []transport.MessageEvent{
		{Seq: 7, Account: "acct1", Destination: "grp-a", MessageID: "m1", Sender: "user1", Text: "what's the PRICE?"},
		// bad frame is skipped, not fatal
		{Seq: 8, Account: "", Destination: "grp-a"},
		{Seq: 9, Account: "acct1", Destination: "grp-a", MessageID: "m2", Sender: "user1", Text: "price again"},
	}

	var gotAuth, gotCursor atomic.Value
	upgrader := websocket.Upgrader{}
	gw := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal("/v1/events", r.URL.Path)
		gotAuth.Store(r.Header.Get("Authorization"))
		gotCursor.Store(r.URL.Query().Get("cursor"))
		con, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		defer con.Close()
		for _, f := range frames {
			b, _ := json.Marshal(f)
			if err := con.WriteMessage(websocket.TextMessage, b); err != nil {
				return
			}
		}
		// hold the connection open until the client goes away
		for {
			if _, _, err := con.ReadMessage(); err != nil {
				return
			}
		}
	}))
	defer gw.Close()

	st := store.NewMemStore()
	require.NoError(t, st.PutRule(ctx, store.ReplyRule{Account: "acct1", Keyword: "price", Response: transport.Payload{Text: "dm me"}}))
	tr := transport.NewMockTransport()
	s, err := NewServer(st, tr, Config{
		GatewayHost:  gw.URL,
		GatewayToken: "tok",
	})
	require.NoError(t, err)
	atomic.StoreInt64(&s.lastSeq, 5)

	done := make(chan int)
	go func() {
		n, _ := s.consumeFeed(ctx, 5)
		done <- n
	}()

	assert.Eventually(func() bool { return atomic.LoadInt64(&s.lastSeq) == 9 }, 2*time.Second, 10*time.Millisecond)
	cancel()
	select {
	case n := <-done:
		assert.Equal(3, n)
	case <-time.After(5 * time.Second):
		t.Fatal("consumer did not exit after cancel")
	}

	assert.Equal("Bearer tok", gotAuth.Load())
	assert.Equal("5", gotCursor.Load())

	// second mention is inside the cooldown window
	sent := tr.SentTo("grp-a")
	require.Len(t, sent, 1)
	assert.Equal("dm me", sent[0].Payload.Text)
	assert.Equal(transport.MessageID("m1"), sent[0].ReplyTo)
}
