package bot

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"storebot/internal/promo"
	"storebot/internal/users"
)

// End-to-end fan-out: the broadcaster delivers through the bot's safe sender,
// blocked chats end up marked left and drop out of the next run.
func TestBroadcastSkipsBlockedUsersOnNextRun(t *testing.T) {
	env := newTestEnv(t)

	env.directory = newFakeDirectory(1, 2, 3, 4, 5)
	env.bot.directory = env.directory
	env.bot.sender = NewSafeSender(env.api, env.directory, zap.NewNop())

	env.api.blocked[2] = true
	env.api.blocked[4] = true

	broadcaster := promo.NewBroadcaster(env.products, env.directory, env.bot, 20, zap.NewNop())
	env.bot.AttachBroadcaster(broadcaster)

	result := broadcaster.Broadcast(context.Background())

	assert.Equal(t, promo.StatusSent, result.Status)
	assert.Equal(t, 3, result.Delivered)
	assert.Equal(t, 2, result.Blocked)

	assert.Equal(t, users.StatusLeft, env.directory.status(2))
	assert.Equal(t, users.StatusLeft, env.directory.status(4))
	assert.Equal(t, users.StatusActive, env.directory.status(1))

	reachable, err := env.directory.ReachableChats(context.Background())
	require.NoError(t, err)
	assert.Len(t, reachable, 3)

	second := broadcaster.Broadcast(context.Background())
	assert.Equal(t, promo.StatusSent, second.Status)
	assert.Equal(t, 3, second.Chats)
	assert.Equal(t, 3, second.Delivered)
	assert.Zero(t, second.Blocked)
}
