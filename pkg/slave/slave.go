package slave

import (
	"context"
	"encoding/json"
	"io/ioutil"
	"os"
	"time"

	"github.com/go-kit/kit/log"
	"github.com/go-kit/kit/log/level"
	"github.com/gorilla/websocket"
	"github.com/pkg/errors"

	"github.com/pdtopdog/piwheels/internal/clock"
	"github.com/pdtopdog/piwheels/internal/protocol"
)

// Info is the identity a slave announces on registration.
type Info struct {
	Label         string
	ABITag        string
	PlatformTag   string
	PyTag         string
	OSName        string
	OSVersion     string
	BoardRevision string
	BoardSerial   string
}

// Slave is the builder daemon: it registers with the master, accepts
// one build at a time, executes it and uploads the artifacts. The
// protocol is strictly request/response; the slave never sends a
// second message before the master's reply.
type Slave struct {
	masterURL string
	info      Info
	builder   Builder
	clock     clock.Clock
	logger    log.Logger

	id     string
	result *Result
}

// New creates a Slave talking to the master at masterURL (a ws:// or
// wss:// base).
func New(masterURL string, info Info, builder Builder, options ...Option) *Slave {
	opts := newOptions()
	for _, option := range options {
		option(opts)
	}

	return &Slave{
		masterURL: masterURL,
		info:      info,
		builder:   builder,
		clock:     opts.clock,
		logger:    opts.logger,
	}
}

// Run registers and serves builds until the context is cancelled or
// the master says DIE. Connection failures back off and retry; a
// running master must be able to restart without the fleet needing a
// kick.
func (s *Slave) Run(ctx context.Context) error {
	backoff := time.Second
	for {
		if err := s.session(ctx); err != nil {
			if ctx.Err() != nil {
				return nil
			}
			if errors.Cause(err) == errDie {
				level.Info(s.logger).Log("msg", "master told us to die")
				return nil
			}
			level.Warn(s.logger).Log("msg", "session ended", "err", err)
		}

		select {
		case <-ctx.Done():
			return nil
		case <-s.clock.After(backoff):
		}
		if backoff < time.Minute {
			backoff *= 2
		}
	}
}

var errDie = errors.New("die")

// session runs one connection: register, then loop idle/build/upload
// until the master tells us to sleep or the connection drops.
func (s *Slave) session(ctx context.Context) error {
	conn, _, err := websocket.DefaultDialer.DialContext(ctx, s.masterURL+"/slaves", nil)
	if err != nil {
		return errors.Wrap(err, "failed to dial master")
	}
	defer conn.Close()

	reply, err := s.exchange(conn, protocol.MsgHello, protocol.Hello{
		Timestamp:     s.clock.UTC(),
		Label:         s.info.Label,
		ABITag:        s.info.ABITag,
		PlatformTag:   s.info.PlatformTag,
		PyTag:         s.info.PyTag,
		OSName:        s.info.OSName,
		OSVersion:     s.info.OSVersion,
		BoardRevision: s.info.BoardRevision,
		BoardSerial:   s.info.BoardSerial,
	})
	if err != nil {
		return errors.WithStack(err)
	}
	if reply.Tag != protocol.MsgHello {
		return errors.Errorf("expected hello ack, got %q", reply.Tag)
	}
	var ack protocol.HelloACK
	if err := reply.Payload(&ack); err != nil {
		return errors.WithStack(err)
	}
	s.id = ack.SlaveID
	level.Info(s.logger).Log("msg", "registered with master", "slave", s.id)

	for {
		if ctx.Err() != nil {
			s.send(conn, protocol.MsgBye, nil)
			return nil
		}

		reply, err := s.exchange(conn, protocol.MsgIdle, nil)
		if err != nil {
			return errors.WithStack(err)
		}

		switch reply.Tag {
		case protocol.MsgSleep:
			var sleep protocol.Sleep
			if err := reply.Payload(&sleep); err != nil {
				return errors.WithStack(err)
			}
			// Reconnect no sooner than the master asked.
			conn.Close()
			select {
			case <-ctx.Done():
				return nil
			case <-s.clock.After(sleep.Duration):
			}
			return nil

		case protocol.MsgBuild:
			var build protocol.Build
			if err := reply.Payload(&build); err != nil {
				return errors.WithStack(err)
			}
			if err := s.runBuild(ctx, conn, build); err != nil {
				return errors.WithStack(err)
			}

		case protocol.MsgDie:
			return errDie

		case protocol.MsgCont:
			continue

		default:
			return errors.Errorf("unexpected reply %q", reply.Tag)
		}
	}
}

func (s *Slave) runBuild(ctx context.Context, conn *websocket.Conn, build protocol.Build) error {
	level.Info(s.logger).Log("msg", "building", "package", build.Package, "version", build.Version)
	result, err := s.builder.Build(ctx, build.Package, build.Version)
	if err != nil {
		// The builder itself broke; report a failed attempt with the
		// error as output so the master records something useful.
		result = Result{
			Status: false,
			Output: err.Error(),
		}
	}
	s.result = &result

	reply, err := s.exchange(conn, protocol.MsgBuilt, protocol.Built{
		Status:   result.Status,
		Duration: result.Duration,
		Output:   result.Output,
		Files:    result.Files,
	})
	if err != nil {
		return errors.WithStack(err)
	}

	for reply.Tag == protocol.MsgSend {
		var send protocol.Send
		if err := reply.Payload(&send); err != nil {
			return errors.WithStack(err)
		}
		if err := s.upload(ctx, send.Filename); err != nil {
			return errors.WithStack(err)
		}
		reply, err = s.exchange(conn, protocol.MsgSent, nil)
		if err != nil {
			return errors.WithStack(err)
		}
	}
	if reply.Tag != protocol.MsgDone {
		return errors.Errorf("unexpected reply %q after build", reply.Tag)
	}

	s.cleanup()
	return nil
}

// upload sends one artifact over the file channel and waits for the
// verdict.
func (s *Slave) upload(ctx context.Context, filename string) error {
	path, ok := s.result.Paths[filename]
	if !ok {
		return errors.Errorf("master asked for %q which we did not build", filename)
	}
	content, err := ioutil.ReadFile(path)
	if err != nil {
		return errors.WithStack(err)
	}

	conn, _, err := websocket.DefaultDialer.DialContext(ctx, s.masterURL+"/files", nil)
	if err != nil {
		return errors.Wrap(err, "failed to dial file channel")
	}
	defer conn.Close()

	if err := s.send(conn, protocol.MsgXferHello, protocol.XferHello{SlaveID: s.id}); err != nil {
		return errors.WithStack(err)
	}
	if err := s.send(conn, protocol.MsgSend, protocol.Send{Filename: filename}); err != nil {
		return errors.WithStack(err)
	}

	for {
		envelope, err := s.read(conn)
		if err != nil {
			return errors.WithStack(err)
		}
		switch envelope.Tag {
		case protocol.MsgFetch:
			var fetch protocol.Fetch
			if err := envelope.Payload(&fetch); err != nil {
				return errors.WithStack(err)
			}
			offset := fetch.Index * int64(protocol.TransferChunkSize)
			if offset < 0 || offset > int64(len(content)) {
				return errors.Errorf("master asked for chunk %d beyond the file", fetch.Index)
			}
			end := offset + fetch.Size
			if end > int64(len(content)) {
				end = int64(len(content))
			}
			frame := protocol.EncodeChunk(fetch.Index, content[offset:end])
			if err := conn.WriteMessage(websocket.BinaryMessage, frame); err != nil {
				return errors.WithStack(err)
			}

		case protocol.MsgXferDone:
			var verdict protocol.Verdict
			if err := envelope.Payload(&verdict); err != nil {
				return errors.WithStack(err)
			}
			switch verdict.Status {
			case protocol.VerdictOK:
				return nil
			case protocol.VerdictRetry:
				// Send the whole file again on the same channel.
				if err := s.send(conn, protocol.MsgSend, protocol.Send{Filename: filename}); err != nil {
					return errors.WithStack(err)
				}
			default:
				return errors.Errorf("transfer abandoned: %s", verdict.Reason)
			}

		default:
			return errors.Errorf("unexpected transfer message %q", envelope.Tag)
		}
	}
}

func (s *Slave) cleanup() {
	if s.result == nil {
		return
	}
	for _, path := range s.result.Paths {
		os.Remove(path)
	}
	s.result = nil
}

func (s *Slave) exchange(conn *websocket.Conn, tag protocol.Tag, payload interface{}) (protocol.Envelope, error) {
	if err := s.send(conn, tag, payload); err != nil {
		return protocol.Envelope{}, errors.WithStack(err)
	}
	return s.read(conn)
}

func (s *Slave) send(conn *websocket.Conn, tag protocol.Tag, payload interface{}) error {
	frame, err := protocol.EncodeFrom(s.id, tag, payload)
	if err != nil {
		return errors.WithStack(err)
	}
	return errors.WithStack(conn.WriteMessage(websocket.TextMessage, frame))
}

func (s *Slave) read(conn *websocket.Conn) (protocol.Envelope, error) {
	_, frame, err := conn.ReadMessage()
	if err != nil {
		return protocol.Envelope{}, errors.WithStack(err)
	}
	var envelope protocol.Envelope
	if err := json.Unmarshal(frame, &envelope); err != nil {
		return protocol.Envelope{}, errors.WithStack(err)
	}
	return envelope, nil
}
