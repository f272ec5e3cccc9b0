//go:build integration

package broadcast

import (
	"context"
	"database/sql"
	"testing"
	"time"

	_ "github.com/lib/pq"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	tcpostgres "github.com/testcontainers/testcontainers-go/modules/postgres"
	"github.com/testcontainers/testcontainers-go/wait"
)

func TestIntegration_RelayAcrossConnections(t *testing.T) {
	ctx := context.Background()

	provider, err := testcontainers.ProviderDocker.GetProvider()
	if err != nil {
		t.Skip("Docker/Podman not available, skipping integration tests")
	}
	provider.Close()

	container, err := tcpostgres.Run(ctx, "postgres:15-alpine",
		tcpostgres.WithDatabase("opsdesk_test"),
		tcpostgres.WithUsername("opsdesk"),
		tcpostgres.WithPassword("opsdesk_test_password"),
		testcontainers.WithWaitStrategy(
			wait.ForLog("database system is ready to accept connections").
				WithOccurrence(2).
				WithStartupTimeout(60*time.Second)),
	)
	if err != nil {
		t.Skipf("Failed to start PostgreSQL container: %v", err)
	}
	t.Cleanup(func() { _ = container.Terminate(context.Background()) })

	dsn, err := container.ConnectionString(ctx, "sslmode=disable")
	require.NoError(t, err)
	db, err := sql.Open("postgres", dsn)
	require.NoError(t, err)
	defer db.Close()

	hub := NewHub(nil)
	relay := NewPGRelay(db, dsn, hub)

	runCtx, cancel := context.WithCancel(quietContext())
	defer cancel()
	go relay.Run(runCtx)

	events := hub.Subscribe(runCtx)
	evt, err := NewEvent(ChannelInbox, TypeInboxReceived, map[string]string{"subject": "hello"})
	require.NoError(t, err)

	// the listener connects asynchronously; publish until it is heard
	deadline := time.After(15 * time.Second)
	for {
		require.NoError(t, relay.Publish(ctx, evt))
		select {
		case got := <-events:
			assert.Equal(t, evt.ID, got.ID)
			assert.JSONEq(t, string(evt.Data), string(got.Data))
			return
		case <-time.After(250 * time.Millisecond):
		case <-deadline:
			t.Fatal("no notification relayed")
		}
	}
}
