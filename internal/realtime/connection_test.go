package realtime

import (
	"sync"
	"testing"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/meetsync/realtime-server-go/internal/model"
)

func TestConnectionClose(t *testing.T) {
	guest := model.Identity{SessionID: "guest-1", DisplayName: "Guest", IsGuest: true}

	t.Run("concurrent sends survive close", func(t *testing.T) {
		conn := NewConnection(guest, nil)

		var wg sync.WaitGroup
		for i := 0; i < 4; i++ {
			wg.Add(1)
			go func() {
				defer wg.Done()
				for j := 0; j < 500; j++ {
					_ = conn.Send([]byte(`{"type":"locationUpdated"}`))
				}
			}()
		}

		conn.Close(websocket.CloseNormalClosure, "")
		wg.Wait()

		require.Error(t, conn.Send([]byte("late")))
	})

	t.Run("send after close reports closed", func(t *testing.T) {
		conn := NewConnection(guest, nil)
		conn.Close(websocket.CloseNormalClosure, "")

		err := conn.Send([]byte("payload"))
		require.Error(t, err)
		assert.EqualError(t, err, "connection closed")
	})

	t.Run("close is idempotent", func(t *testing.T) {
		conn := NewConnection(guest, nil)
		conn.Close(websocket.CloseNormalClosure, "")
		conn.Close(websocket.CloseGoingAway, "again")

		require.Error(t, conn.Send([]byte("payload")))
	})

	t.Run("full buffer closes the connection", func(t *testing.T) {
		conn := NewConnection(guest, nil)

		var err error
		for i := 0; err == nil; i++ {
			err = conn.Send([]byte("payload"))
			require.Less(t, i, 10_000, "buffer never filled")
		}
		assert.EqualError(t, err, "connection buffer exceeded")

		err = conn.Send([]byte("payload"))
		assert.EqualError(t, err, "connection closed")
	})
}
