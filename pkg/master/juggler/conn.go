package juggler

import (
	"bytes"
	"net/http"

	"github.com/go-kit/kit/log/level"
	"github.com/gorilla/websocket"
	"github.com/pkg/errors"

	"github.com/pdtopdog/piwheels/internal/protocol"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  ChunkSize + 64,
	WriteBufferSize: ChunkSize + 64,
}

// ServeHTTP upgrades the connection and runs the transfer protocol
// until the slave disconnects. One transfer runs at a time per slave;
// many slaves upload in parallel on their own connections.
func (j *Juggler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		level.Debug(j.logger).Log("msg", "failed to upgrade transfer connection", "err", err)
		return
	}
	defer conn.Close()

	// Tracked so a master shutdown can unwind this read loop.
	j.trackConn(conn)
	defer j.untrackConn(conn)

	if err := j.serve(conn); err != nil {
		level.Debug(j.logger).Log("msg", "transfer connection closed", "err", err)
	}
}

func (j *Juggler) serve(conn *websocket.Conn) error {
	// The channel opens with the slave identifying itself.
	envelope, err := readEnvelope(conn)
	if err != nil {
		return errors.WithStack(err)
	}
	if envelope.Tag != protocol.MsgXferHello {
		return errors.Errorf("expected %q, got %q", protocol.MsgXferHello, envelope.Tag)
	}
	var hello protocol.XferHello
	if err := envelope.Payload(&hello); err != nil {
		return errors.WithStack(err)
	}

	for {
		envelope, err := readEnvelope(conn)
		if err != nil {
			return errors.WithStack(err)
		}
		if envelope.Tag != protocol.MsgSend {
			return errors.Errorf("expected %q, got %q", protocol.MsgSend, envelope.Tag)
		}
		var send protocol.Send
		if err := envelope.Payload(&send); err != nil {
			return errors.WithStack(err)
		}

		if err := j.receiveFile(conn, hello.SlaveID, send.Filename); err != nil {
			return errors.WithStack(err)
		}
	}
}

// receiveFile drives one upload: request chunks, collect them in any
// order, verify and install, then deliver the verdict.
func (j *Juggler) receiveFile(conn *websocket.Conn, slaveID, filename string) error {
	info, ok := j.expected(slaveID, filename)
	if !ok {
		level.Warn(j.logger).Log("msg", "unexpected upload", "slave", slaveID, "filename", filename)
		return writeVerdict(conn, protocol.Verdict{
			Status: protocol.VerdictError,
			Reason: "no such file expected",
		})
	}

	xfer := newTransfer(info)
	for !xfer.done() {
		index, size := xfer.missing()
		if err := writeEnvelope(conn, protocol.MsgFetch, protocol.Fetch{
			Index: index,
			Size:  size,
		}); err != nil {
			return errors.WithStack(err)
		}

		messageType, frame, err := conn.ReadMessage()
		if err != nil {
			return errors.WithStack(err)
		}
		if messageType != websocket.BinaryMessage {
			return errors.Errorf("expected a chunk frame")
		}
		chunkIndex, payload, err := protocol.DecodeChunk(frame)
		if err != nil {
			return errors.WithStack(err)
		}
		if err := xfer.add(chunkIndex, payload); err != nil {
			level.Debug(j.logger).Log("msg", "rejected chunk", "filename", filename, "index", chunkIndex, "err", err)
		}
	}

	verdict := protocol.VerdictOK
	var reason string
	if err := j.Install(xfer.reader(), info, j.transferPackage(slaveID)); err != nil {
		reason = err.Error()
		if ErrMismatch(err) {
			verdict = protocol.VerdictRetry
		} else {
			verdict = protocol.VerdictError
		}
		level.Warn(j.logger).Log("msg", "upload failed verification", "filename", filename, "err", err)
	}
	verdict = j.complete(slaveID, filename, verdict)

	return writeVerdict(conn, protocol.Verdict{
		Status: verdict,
		Reason: reason,
	})
}

func (j *Juggler) transferPackage(slaveID string) string {
	j.mutex.Lock()
	defer j.mutex.Unlock()

	if set, ok := j.transfers[slaveID]; ok {
		return set.build.Package
	}
	return ""
}

// transfer collects the chunks of one upload. Chunks may arrive out of
// order; missing indexes are re-requested until the file is whole.
type transfer struct {
	info   protocol.FileInfo
	chunks map[int64][]byte
	count  int64
}

func newTransfer(info protocol.FileInfo) *transfer {
	count := info.Filesize / ChunkSize
	if info.Filesize%ChunkSize != 0 {
		count++
	}
	return &transfer{
		info:   info,
		chunks: make(map[int64][]byte),
		count:  count,
	}
}

func (t *transfer) done() bool {
	return int64(len(t.chunks)) == t.count
}

// missing returns the lowest chunk index not yet received and the
// number of bytes expected in it.
func (t *transfer) missing() (int64, int64) {
	for i := int64(0); i < t.count; i++ {
		if _, ok := t.chunks[i]; !ok {
			return i, t.sizeOf(i)
		}
	}
	return -1, 0
}

func (t *transfer) add(index int64, payload []byte) error {
	if index < 0 || index >= t.count {
		return errors.Errorf("chunk index %d out of range", index)
	}
	if int64(len(payload)) != t.sizeOf(index) {
		return errors.Errorf("chunk %d has %d bytes, want %d", index, len(payload), t.sizeOf(index))
	}
	t.chunks[index] = payload
	return nil
}

func (t *transfer) sizeOf(index int64) int64 {
	if index == t.count-1 {
		if rem := t.info.Filesize % ChunkSize; rem != 0 {
			return rem
		}
	}
	return ChunkSize
}

func (t *transfer) reader() *bytes.Reader {
	buf := make([]byte, 0, t.info.Filesize)
	for i := int64(0); i < t.count; i++ {
		buf = append(buf, t.chunks[i]...)
	}
	return bytes.NewReader(buf)
}

func readEnvelope(conn *websocket.Conn) (protocol.Envelope, error) {
	messageType, frame, err := conn.ReadMessage()
	if err != nil {
		return protocol.Envelope{}, errors.WithStack(err)
	}
	if messageType != websocket.TextMessage {
		return protocol.Envelope{}, errors.Errorf("expected a control frame")
	}
	return protocol.Decode(frame)
}

func writeEnvelope(conn *websocket.Conn, tag protocol.Tag, payload interface{}) error {
	frame, err := protocol.Encode(tag, payload)
	if err != nil {
		return errors.WithStack(err)
	}
	return errors.WithStack(conn.WriteMessage(websocket.TextMessage, frame))
}

func writeVerdict(conn *websocket.Conn, verdict protocol.Verdict) error {
	return writeEnvelope(conn, protocol.MsgXferDone, verdict)
}
