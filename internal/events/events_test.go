package events

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	natsserver "github.com/nats-io/nats-server/v2/server"
	"github.com/nats-io/nats.go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/fyrsmithlabs/screenpilot/internal/config"
)

func startTestNATSServer(t *testing.T) *natsserver.Server {
	t.Helper()
	srv, err := natsserver.NewServer(&natsserver.Options{
		Host:   "127.0.0.1",
		Port:   -1,
		NoLog:  true,
		NoSigs: true,
	})
	require.NoError(t, err)

	go srv.Start()
	if !srv.ReadyForConnections(5 * time.Second) {
		t.Fatal("NATS server not ready")
	}
	t.Cleanup(func() {
		srv.Shutdown()
		srv.WaitForShutdown()
	})
	return srv
}

func TestNATSPublisher_DocumentIngested(t *testing.T) {
	srv := startTestNATSServer(t)

	sub, err := nats.Connect(srv.ClientURL())
	require.NoError(t, err)
	defer sub.Close()

	msgs := make(chan *nats.Msg, 1)
	_, err = sub.ChanSubscribe("screenpilot.documents.ingested", msgs)
	require.NoError(t, err)
	require.NoError(t, sub.Flush())

	pub, err := New(config.EventsConfig{
		NATSURL: srv.ClientURL(),
		Subject: "screenpilot.documents.ingested",
	}, zap.NewNop())
	require.NoError(t, err)
	defer pub.Close()

	at := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)
	require.NoError(t, pub.DocumentIngested(context.Background(), DocumentIngested{
		Collection: "page_context",
		SourceRef:  "doc1",
		Chunks:     3,
		IngestedAt: at,
	}))

	select {
	case msg := <-msgs:
		var ev DocumentIngested
		require.NoError(t, json.Unmarshal(msg.Data, &ev))
		assert.Equal(t, "doc1", ev.SourceRef)
		assert.Equal(t, 3, ev.Chunks)
		assert.Equal(t, "page_context", ev.Collection)
		assert.True(t, at.Equal(ev.IngestedAt))
	case <-time.After(5 * time.Second):
		t.Fatal("no event received")
	}
}

func TestNew_WithoutURLIsNop(t *testing.T) {
	pub, err := New(config.EventsConfig{Subject: "x"}, zap.NewNop())
	require.NoError(t, err)
	assert.IsType(t, Nop{}, pub)
	assert.NoError(t, pub.DocumentIngested(context.Background(), DocumentIngested{}))
	assert.NoError(t, pub.Close())
}

func TestConnect_RequiresSubject(t *testing.T) {
	_, err := Connect("nats://127.0.0.1:1", "", zap.NewNop())
	assert.ErrorContains(t, err, "subject is required")
}

