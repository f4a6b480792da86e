package trail

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	natsserver "github.com/nats-io/nats-server/v2/server"
	"github.com/nats-io/nats.go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jaig1/agenticbot/internal/orchestrator"
	"github.com/jaig1/agenticbot/internal/secrets"
)

func startTestNATSServer(t *testing.T) *natsserver.Server {
	t.Helper()
	opts := &natsserver.Options{
		Host:   "127.0.0.1",
		Port:   -1,
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

func entry(i int, action orchestrator.Action) orchestrator.TrailEntry {
	return orchestrator.TrailEntry{
		Iteration:      i,
		TurnID:         "t1",
		Action:         action,
		ResultingState: orchestrator.StatePlanningComplete,
		RecordedAt:     time.Now(),
	}
}

func TestMemorySink(t *testing.T) {
	sink := NewMemorySink()
	ctx := context.Background()

	var wg sync.WaitGroup
	for i := 1; i <= 20; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			session := "a"
			if i%2 == 0 {
				session = "b"
			}
			assert.NoError(t, sink.Record(ctx, session, entry(i, orchestrator.ActionRequestPlan)))
		}(i)
	}
	wg.Wait()

	assert.Equal(t, 20, sink.Len())
	assert.Len(t, sink.Entries("a"), 10)
	assert.Len(t, sink.Entries("b"), 10)
	assert.Empty(t, sink.Entries("c"))
}

type failingSink struct{ err error }

func (f failingSink) Record(context.Context, string, orchestrator.TrailEntry) error { return f.err }

func TestMulti(t *testing.T) {
	first, second := NewMemorySink(), NewMemorySink()
	boom := errors.New("boom")
	sink := Multi(first, failingSink{boom}, second)

	err := sink.Record(context.Background(), "s", entry(1, orchestrator.ActionRequestPlan))
	assert.ErrorIs(t, err, boom)
	assert.Len(t, first.Entries("s"), 1)
	assert.Len(t, second.Entries("s"), 1)

	assert.NoError(t, Multi(first).Record(context.Background(), "s", entry(2, orchestrator.ActionFinish)))
}

func TestNATSSink_PublishesPerSession(t *testing.T) {
	server := startTestNATSServer(t)
	nc, err := nats.Connect(server.ClientURL())
	require.NoError(t, err)
	defer nc.Close()

	sink := NewNATSSink(nc, "")
	assert.Equal(t, "agenticbot.trail.s1", sink.Subject("s1"))

	sub, err := nc.SubscribeSync("agenticbot.trail.*")
	require.NoError(t, err)
	require.NoError(t, nc.Flush())

	require.NoError(t, sink.Record(context.Background(), "s1", entry(1, orchestrator.ActionRequestPlan)))
	require.NoError(t, sink.Record(context.Background(), "s2", entry(1, orchestrator.ActionRequestExecution)))

	msg, err := sub.NextMsg(2 * time.Second)
	require.NoError(t, err)
	assert.Equal(t, "agenticbot.trail.s1", msg.Subject)
	var ev Event
	require.NoError(t, json.Unmarshal(msg.Data, &ev))
	assert.Equal(t, "s1", ev.SessionID)
	assert.Equal(t, orchestrator.ActionRequestPlan, ev.Entry.Action)
	assert.NotEmpty(t, ev.ID)

	msg, err = sub.NextMsg(2 * time.Second)
	require.NoError(t, err)
	assert.Equal(t, "agenticbot.trail.s2", msg.Subject)
}

func TestNATSSink_SubjectKeepsSessionInOneToken(t *testing.T) {
	sink := NewNATSSink(nil, "")
	for id, want := range map[string]string{
		"s1":        "agenticbot.trail.s1",
		"user:42-a": "agenticbot.trail.user:42-a",
		"a.b":       "agenticbot.trail.~YS5i",
		"*":         "agenticbot.trail.~Kg",
		"~x":        "agenticbot.trail.~fng",
		"":          "agenticbot.trail.~",
	} {
		assert.Equal(t, want, sink.Subject(id), id)
	}

	server := startTestNATSServer(t)
	nc, err := nats.Connect(server.ClientURL())
	require.NoError(t, err)
	defer nc.Close()

	sub, err := nc.SubscribeSync("agenticbot.trail.*")
	require.NoError(t, err)
	require.NoError(t, nc.Flush())

	live := NewNATSSink(nc, "")
	require.NoError(t, live.Record(context.Background(), "tenant.a", entry(1, orchestrator.ActionRequestPlan)))
	msg, err := sub.NextMsg(2 * time.Second)
	require.NoError(t, err)
	var ev Event
	require.NoError(t, json.Unmarshal(msg.Data, &ev))
	assert.Equal(t, "tenant.a", ev.SessionID)
}

func TestNATSSink_ClosedConnection(t *testing.T) {
	server := startTestNATSServer(t)
	nc, err := nats.Connect(server.ClientURL())
	require.NoError(t, err)
	nc.Close()

	err = NewNATSSink(nc, "x").Record(context.Background(), "s", entry(1, orchestrator.ActionAbort))
	assert.ErrorContains(t, err, "publish trail event")
}

func TestNATSSink_ScrubsCredentials(t *testing.T) {
	server := startTestNATSServer(t)
	nc, err := nats.Connect(server.ClientURL())
	require.NoError(t, err)
	defer nc.Close()

	sc, err := secrets.New(nil)
	require.NoError(t, err)
	sink := NewNATSSink(nc, "", WithScrubber(sc))

	sub, err := nc.SubscribeSync("agenticbot.trail.s1")
	require.NoError(t, err)
	require.NoError(t, nc.Flush())

	e := entry(3, orchestrator.ActionAbort)
	e.Rationale = "warehouse at postgres://bot:hunter2@db:5432/wh is down"
	e.Parameters = map[string]any{"reason": "password=hunter2"}
	e.Error = &orchestrator.ErrorInfo{Kind: orchestrator.KindCollaborator, Message: "auth failed for key sk-abcdefghijklmnopqrstuvwxyz"}
	require.NoError(t, sink.Record(context.Background(), "s1", e))

	msg, err := sub.NextMsg(2 * time.Second)
	require.NoError(t, err)
	assert.NotContains(t, string(msg.Data), "hunter2")
	assert.NotContains(t, string(msg.Data), "sk-abcdefghijklmnopqrstuvwxyz")

	var ev Event
	require.NoError(t, json.Unmarshal(msg.Data, &ev))
	assert.Equal(t, "warehouse at postgres://bot:[REDACTED]@db:5432/wh is down", ev.Entry.Rationale)
	assert.Equal(t, "password=[REDACTED]", ev.Entry.Parameters["reason"])

	// The caller's entry is left intact.
	assert.Contains(t, e.Rationale, "hunter2")
	assert.Contains(t, e.Error.Message, "sk-")
}

func TestScrub_NilScrubber(t *testing.T) {
	e := entry(1, orchestrator.ActionFinish)
	e.Rationale = "password=hunter2"
	assert.Equal(t, e, Scrub(nil, e))
}
