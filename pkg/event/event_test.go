package event

import (
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestNewBlock(t *testing.T) {
	now := time.Date(2024, 5, 1, 12, 0, 0, 0, time.FixedZone("x", 3600))
	Clock = func() time.Time { return now }
	t.Cleanup(func() { Clock = time.Now })

	b := NewBlock("https://api.telegram.org/bot1/sendMessage", "POST", "?\npassword=x")
	require.NotEmpty(t, b.ID)
	require.Equal(t, now.UTC(), b.Time)
	require.Equal(t, "POST", b.Method)

	other := NewBlock("", "", "")
	require.NotEqual(t, b.ID, other.ID)
	require.Equal(t, "unknown", other.URL)
	require.Equal(t, "POST", other.Method)
	require.Equal(t, "(no evidence)", other.Evidence)
}

func TestBlock_Notification(t *testing.T) {
	b := &Block{Method: "BEACON", URL: "https://api.telegram.org/" + strings.Repeat("a", 100)}
	title, msg := b.Notification()
	require.Equal(t, NotificationTitle, title)
	require.Equal(t, "BEACON → https://api.telegram.org/"+strings.Repeat("a", 35)+"...", msg)

	b.URL = "https://telegram.org/"
	_, msg = b.Notification()
	require.Equal(t, "BEACON → https://telegram.org/...", msg)
}

func TestEnvelope(t *testing.T) {
	b := NewBlock("https://telegram.org/", "GET", "?token=1\n")
	b.Source = "fetch"

	env, err := Blocked(b)
	require.NoError(t, err)
	require.Equal(t, KindBlocked, env.Kind)
	require.Contains(t, string(env.Payload), `"time":`)

	got, err := env.Block()
	require.NoError(t, err)
	require.Equal(t, b.ID, got.ID)
	require.True(t, b.Time.Equal(got.Time))
	require.Equal(t, "fetch", got.Source)

	_, err = ClearAlerts().Block()
	require.Error(t, err)

	_, err = Envelope{Kind: KindBlocked, Payload: []byte("{")}.Block()
	require.Error(t, err)
}
