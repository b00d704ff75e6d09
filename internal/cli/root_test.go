package cli

import (
	"bytes"
	"encoding/json"
	"testing"
	"time"

	"github.com/robertarktes/event-bookings/internal/auth"
	"github.com/robertarktes/event-bookings/internal/config"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func run(t *testing.T, cfg *config.Config, args ...string) (string, error) {
	t.Helper()
	cmd := newRootCommand(&RootOptions{loadConfig: func() (*config.Config, error) { return cfg, nil }})
	var out bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetErr(&out)
	cmd.SetArgs(args)
	err := cmd.Execute()
	return out.String(), err
}

func TestRootCommand(t *testing.T) {
	cmd := NewRootCommand()
	require.NotNil(t, cmd)
	assert.Equal(t, "bookingctl", cmd.Use)
}

func TestCommandPresence(t *testing.T) {
	cmd := NewRootCommand()
	for _, name := range []string{"migrate", "event", "user", "loyalty", "promote", "sweep", "token", "inbox", "audit"} {
		t.Run(name, func(t *testing.T) {
			sub, _, err := cmd.Find([]string{name})
			require.NoError(t, err)
			assert.Equal(t, name, sub.Name())
		})
	}
}

func TestLoyaltyCommand(t *testing.T) {
	out, err := run(t, &config.Config{}, "loyalty", "16000")
	require.NoError(t, err)
	assert.Equal(t, "16000 points: Gold tier, 15% discount\n", out)

	out, err = run(t, &config.Config{}, "--format", "json", "loyalty", "0")
	require.NoError(t, err)
	var got map[string]interface{}
	require.NoError(t, json.Unmarshal([]byte(out), &got))
	assert.Equal(t, "Standard", got["tier"])
	assert.Equal(t, "0", got["discount"])

	_, err = run(t, &config.Config{}, "loyalty", "-5")
	assert.Error(t, err)
}

func TestInvalidFormat(t *testing.T) {
	_, err := run(t, &config.Config{}, "--format", "yaml", "loyalty", "1")
	assert.ErrorContains(t, err, "invalid format")
}

func TestTokenCommand(t *testing.T) {
	out, err := run(t, &config.Config{JWTSecret: "cli-secret"}, "token", "42", "--ttl", "5m")
	require.NoError(t, err)

	userID, err := auth.NewHMACVerifier("cli-secret").Verify(string(bytes.TrimSpace([]byte(out))))
	require.NoError(t, err)
	assert.Equal(t, int64(42), userID)

	_, err = run(t, &config.Config{}, "token", "42")
	assert.ErrorContains(t, err, "JWT_SECRET")

	_, err = run(t, &config.Config{JWTSecret: "x"}, "token", "abc")
	assert.Error(t, err)
}

func TestDatabaseCommandsNeedDSN(t *testing.T) {
	for _, args := range [][]string{
		{"migrate"},
		{"user", "add", "7"},
		{"promote", "--event", "1"},
		{"sweep"},
	} {
		_, err := run(t, &config.Config{}, args...)
		assert.ErrorContains(t, err, "CRDB_DSN", args)
	}
}

func TestMongoCommandsNeedURI(t *testing.T) {
	for _, args := range [][]string{
		{"inbox", "7"},
		{"inbox", "7", "--mark-read", "msg-1,msg-2"},
		{"audit", "7", "--limit", "5"},
	} {
		_, err := run(t, &config.Config{}, args...)
		assert.ErrorContains(t, err, "MONGO_URI", args)
	}

	_, err := run(t, &config.Config{MongoURI: "mongodb://localhost"}, "audit", "abc")
	assert.Error(t, err)
}

func TestEventFlags(t *testing.T) {
	f := eventFlags{id: 1, capacity: 10, price: "49.99", startsAt: "2030-01-02T18:00:00Z", duration: 3 * time.Hour, status: "PUBLISHED"}

	event, err := f.event()
	require.NoError(t, err)
	assert.Equal(t, "49.99", event.Price.String())
	assert.Equal(t, event.StartsAt.Add(3*time.Hour), event.EndsAt)

	bad := f
	bad.status = "OPEN"
	_, err = bad.event()
	assert.Error(t, err)

	bad = f
	bad.price = "-1"
	_, err = bad.event()
	assert.Error(t, err)

	bad = f
	bad.startsAt = "tomorrow"
	_, err = bad.event()
	assert.Error(t, err)
}
