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

	"github.com/fyrsmithlabs/banditd/internal/bandit"
)

func startTestNATSServer(t *testing.T) *natsserver.Server {
	t.Helper()
	opts := &natsserver.Options{
		Host:   "127.0.0.1",
		Port:   -1, // Random port
		NoLog:  true,
		NoSigs: true,
	}

	server, err := natsserver.NewServer(opts)
	require.NoError(t, err)

	go server.Start()

	if !server.ReadyForConnections(5 * time.Second) {
		t.Fatal("NATS server not ready")
	}

	t.Cleanup(func() {
		server.Shutdown()
		server.WaitForShutdown()
	})

	return server
}

func TestNewPublisher_Validation(t *testing.T) {
	_, err := NewPublisher(nil, "banditd.learn", zap.NewNop())
	assert.ErrorIs(t, err, ErrInvalidConfig)

	server := startTestNATSServer(t)
	nc, err := nats.Connect(server.ClientURL())
	require.NoError(t, err)
	t.Cleanup(nc.Close)

	_, err = NewPublisher(nc, "", zap.NewNop())
	assert.ErrorIs(t, err, ErrInvalidConfig)

	p, err := NewPublisher(nc, "banditd.learn", nil)
	require.NoError(t, err)
	assert.Equal(t, "banditd.learn", p.Subject())
}

func TestPublisher_RecordLearn(t *testing.T) {
	server := startTestNATSServer(t)
	nc, err := nats.Connect(server.ClientURL())
	require.NoError(t, err)
	t.Cleanup(nc.Close)

	sub, err := nc.SubscribeSync("banditd.learn")
	require.NoError(t, err)
	defer sub.Unsubscribe()

	p, err := NewPublisher(nc, "banditd.learn", zap.NewNop())
	require.NoError(t, err)

	learnedAt := time.Date(2026, 8, 1, 12, 0, 0, 0, time.UTC)
	res := bandit.LearnResult{
		PostID:    "post-1",
		Platform:  "linkedin",
		Reward:    0.42,
		Baseline:  0.1,
		Advantage: 0.32,
		LearnedAt: learnedAt,
	}
	require.NoError(t, p.RecordLearn(context.Background(), res))

	msg, err := sub.NextMsg(2 * time.Second)
	require.NoError(t, err)

	var got bandit.LearnResult
	require.NoError(t, json.Unmarshal(msg.Data, &got))
	assert.Equal(t, "post-1", got.PostID)
	assert.Equal(t, "linkedin", got.Platform)
	assert.InDelta(t, 0.42, got.Reward, 1e-12)
	assert.InDelta(t, 0.32, got.Advantage, 1e-12)
	assert.True(t, got.LearnedAt.Equal(learnedAt))
}

func TestPublisher_RecordLearn_CancelledContext(t *testing.T) {
	server := startTestNATSServer(t)
	nc, err := nats.Connect(server.ClientURL())
	require.NoError(t, err)
	t.Cleanup(nc.Close)

	p, err := NewPublisher(nc, "banditd.learn", zap.NewNop())
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	err = p.RecordLearn(ctx, bandit.LearnResult{PostID: "post-1", Platform: "x"})
	assert.ErrorIs(t, err, context.Canceled)
}
