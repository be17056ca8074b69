package notify

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/heraldhq/herald/autopost/transport"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type failingNotifier struct{}

func (f failingNotifier) Notify(ctx context.Context, n Notice) error {
	return fmt.Errorf("boom")
}

func TestMultiAttemptsAll(t *testing.T) {
	assert := assert.New(t)
	ctx := context.Background()

	mock := &MockNotifier{}
	m := Multi{failingNotifier{}, &LogNotifier{}, mock}
	err := m.Notify(ctx, Notice{Account: "acct1", Kind: KindFrozen, Destination: "grp", Identity: "mod"})
	assert.Error(err)

	got := mock.Notices()
	require.Len(t, got, 1)
	assert.False(got[0].Time.IsZero())
	assert.Len(mock.OfKind(KindFrozen), 1)
	assert.Empty(mock.OfKind(KindUnfrozen))
}

func TestSlackNotifier(t *testing.T) {
	assert := assert.New(t)

	var body SlackWebhookBody
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal("application/json", r.Header.Get("Content-Type"))
		assert.NoError(json.NewDecoder(r.Body).Decode(&body))
		w.Write([]byte("ok"))
	}))
	defer srv.Close()

	n := &SlackNotifier{SlackWebhookURL: srv.URL}
	err := n.Notify(context.Background(), Notice{Account: "acct1", Kind: KindUnfrozen, Destination: "grp", Identity: "mod"})
	assert.NoError(err)
	assert.Contains(body.Text, "grp")
	assert.Contains(body.Text, "acct1")
}

func TestSlackNotifierRejected(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusForbidden)
	}))
	defer srv.Close()

	n := &SlackNotifier{SlackWebhookURL: srv.URL}
	assert.Error(t, n.Notify(context.Background(), Notice{Account: "acct1", Kind: KindFrozen}))
}

func TestSelfNotifier(t *testing.T) {
	assert := assert.New(t)
	ctx := context.Background()

	tr := transport.NewMockTransport()
	n := &SelfNotifier{Transport: tr}
	assert.NoError(n.Notify(ctx, Notice{Account: "acct1", Kind: KindFrozen, Destination: "grp", Identity: "mod"}))
	assert.NoError(n.Notify(ctx, Notice{Account: "acct1", Kind: KindCredentialsInvalid, Err: errors.New("expired")}))

	sent := tr.SentTo(SelfDestination)
	require.Len(t, sent, 1)
	assert.Equal(transport.AccountID("acct1"), sent[0].Account)
	assert.Contains(sent[0].Payload.Text, "grp")
}
