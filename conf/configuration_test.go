package conf

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestDefaults(t *testing.T) {
	Load()

	assert.Equal(t, 1801, Server.Client.SubscriptionTimeout)
	assert.Equal(t, uint32(32), Server.Browse.RequestSize)
	assert.Equal(t, 60*time.Second, Server.Scanner.SweepInterval)
	assert.Equal(t, 10*time.Second, Server.Scanner.FetchTimeout)
	assert.Equal(t, 30*time.Second, Server.Client.ActionTimeout)
	assert.Equal(t, "playlists", Server.Webserver.VirtualDir)
}

func TestListenAddr(t *testing.T) {
	Load()
	assert.Contains(t, Server.ListenAddr(), ":")
}
