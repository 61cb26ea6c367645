package status

import (
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/go-kit/kit/log/level"
	"github.com/gorilla/websocket"
	"github.com/pborman/uuid"
)

// EventTypes is every type a monitor can subscribe to.
var EventTypes = []string{"stats", "slave", "build"}

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 4096,
}

// ServeHTTP attaches a monitor websocket to the feed. The types query
// parameter filters subscriptions; the default is everything.
func (s *Status) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		level.Debug(s.logger).Log("msg", "failed to upgrade monitor connection", "err", err)
		return
	}

	types := EventTypes
	if raw := r.URL.Query().Get("types"); raw != "" {
		types = strings.Split(raw, ",")
	}

	monitor := &monitorConn{
		id:    uuid.NewRandom().String(),
		types: types,
		conn:  conn,
	}
	s.group.Add(monitor)
	level.Debug(s.logger).Log("msg", "monitor attached", "id", monitor.id)

	// Re-send the current snapshot to every stats subscriber, the new
	// monitor included, so it does not wait a full cycle for its first
	// numbers.
	if stats, ok := s.Snapshot(); ok {
		s.Dispatch("stats", map[string]interface{}{
			"packages":  stats.PackagesCount,
			"builds":    stats.BuildsCount,
			"files":     stats.FilesCount,
			"downloads": stats.DownloadsCount,
			"slaves":    s.registry.Len(),
		})
	}

	// Reads only detect disconnection; monitors never send.
	go func() {
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				monitor.Close()
				return
			}
		}
	}()
}

type monitorConn struct {
	id    string
	types []string
	conn  *websocket.Conn

	mutex sync.Mutex
	done  bool
}

func (m *monitorConn) ID() string {
	return m.id
}

func (m *monitorConn) Types() []string {
	return m.types
}

func (m *monitorConn) Write(body []byte) error {
	m.mutex.Lock()
	defer m.mutex.Unlock()

	m.conn.SetWriteDeadline(time.Now().Add(10 * time.Second))
	return m.conn.WriteMessage(websocket.TextMessage, body)
}

func (m *monitorConn) Close() {
	m.mutex.Lock()
	defer m.mutex.Unlock()

	if m.done {
		return
	}
	m.done = true
	m.conn.Close()
}

func (m *monitorConn) Done() bool {
	m.mutex.Lock()
	defer m.mutex.Unlock()

	return m.done
}
