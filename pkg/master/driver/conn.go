package driver

import (
	"encoding/json"
	"net/http"

	"github.com/go-kit/kit/log/level"
	"github.com/gorilla/websocket"

	"github.com/pdtopdog/piwheels/internal/protocol"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  4096,
	WriteBufferSize: 4096,
}

// ServeHTTP upgrades the connection and relays slave messages through
// the state machine, one reply per message. A protocol violation
// closes the connection; the driver has already requeued the slave's
// work.
func (d *Driver) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		level.Debug(d.logger).Log("msg", "failed to upgrade slave connection", "err", err)
		return
	}
	defer conn.Close()

	// Tracked so a master shutdown can unwind this read loop.
	d.trackConn(conn)
	defer d.untrackConn(conn)

	for {
		_, frame, err := conn.ReadMessage()
		if err != nil {
			return
		}
		envelope, err := protocol.Decode(frame)
		if err != nil {
			level.Warn(d.logger).Log("msg", "malformed slave message", "err", err)
			return
		}

		response, err := d.HandleEnvelope(r.Context(), envelope)
		if err != nil {
			level.Warn(d.logger).Log("msg", "slave disconnected", "err", err)
			return
		}
		if response == nil {
			// BYE: the slave is gone.
			return
		}

		frame, err = json.Marshal(response)
		if err != nil {
			level.Error(d.logger).Log("msg", "failed to encode reply", "err", err)
			return
		}
		if err := conn.WriteMessage(websocket.TextMessage, frame); err != nil {
			return
		}
	}
}
