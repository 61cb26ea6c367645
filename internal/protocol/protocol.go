package protocol

import (
	"encoding/json"
	"time"

	"github.com/pkg/errors"
)

// Tag identifies a message on the build protocol. Both sides match
// exhaustively; an unknown tag is a protocol violation and disconnects
// the peer.
type Tag string

const (
	// MsgHello is sent by a slave on connection, and echoed by the
	// master with the assigned slave id.
	MsgHello Tag = "HELLO"
	// MsgIdle is sent by a slave with nothing to do.
	MsgIdle Tag = "IDLE"
	// MsgSleep tells a slave to come back no sooner than the given
	// duration.
	MsgSleep Tag = "SLEEP"
	// MsgBuild assigns a (package, version) to a slave.
	MsgBuild Tag = "BUILD"
	// MsgBuilt reports the outcome of an assigned build.
	MsgBuilt Tag = "BUILT"
	// MsgSend tells a slave to upload the named artifact on the file
	// channel.
	MsgSend Tag = "SEND"
	// MsgSent is the slave's confirmation that an upload finished.
	MsgSent Tag = "SENT"
	// MsgDone tells a slave the current exchange is finished.
	MsgDone Tag = "DONE"
	// MsgDie tells a slave to terminate.
	MsgDie Tag = "DIE"
	// MsgCont tells a slave to continue with its current work.
	MsgCont Tag = "CONT"
	// MsgBye is the slave-initiated termination. It has no reply.
	MsgBye Tag = "BYE"
)

// Envelope frames every message: a tag plus an optional payload. After
// registration every slave message carries the slave id assigned in
// the hello exchange.
type Envelope struct {
	Tag   Tag             `json:"msg"`
	Slave string          `json:"slave,omitempty"`
	Data  json.RawMessage `json:"data,omitempty"`
}

// Encode frames a tag and payload as a JSON envelope.
func Encode(tag Tag, payload interface{}) ([]byte, error) {
	return EncodeFrom("", tag, payload)
}

// EncodeFrom frames a tag and payload as a JSON envelope carrying the
// sender's slave id.
func EncodeFrom(slaveID string, tag Tag, payload interface{}) ([]byte, error) {
	var (
		data []byte
		err  error
	)
	if payload != nil {
		data, err = json.Marshal(payload)
		if err != nil {
			return nil, errors.Wrapf(err, "failed to encode %q payload", tag)
		}
	}
	bytes, err := json.Marshal(Envelope{
		Tag:   tag,
		Slave: slaveID,
		Data:  data,
	})
	return bytes, errors.WithStack(err)
}

// Decode parses a JSON envelope.
func Decode(bytes []byte) (Envelope, error) {
	var envelope Envelope
	if err := json.Unmarshal(bytes, &envelope); err != nil {
		return Envelope{}, errors.Wrap(err, "failed to decode envelope")
	}
	if envelope.Tag == "" {
		return Envelope{}, errors.New("envelope has no tag")
	}
	return envelope, nil
}

// Payload parses the envelope data into the given value.
func (e Envelope) Payload(into interface{}) error {
	if len(e.Data) == 0 {
		return errors.Errorf("%q envelope has no payload", e.Tag)
	}
	err := json.Unmarshal(e.Data, into)
	return errors.Wrapf(err, "failed to decode %q payload", e.Tag)
}

// Hello is the payload of a slave's MsgHello.
type Hello struct {
	Timestamp     time.Time `json:"timestamp"`
	Label         string    `json:"label"`
	ABITag        string    `json:"abi_tag"`
	PlatformTag   string    `json:"platform_tag"`
	PyTag         string    `json:"py_tag"`
	OSName        string    `json:"os_name"`
	OSVersion     string    `json:"os_version"`
	BoardRevision string    `json:"board_revision"`
	BoardSerial   string    `json:"board_serial"`
}

// HelloACK is the payload of the master's MsgHello reply.
type HelloACK struct {
	SlaveID   string    `json:"slave_id"`
	Timestamp time.Time `json:"timestamp"`
}

// Sleep is the payload of MsgSleep.
type Sleep struct {
	Duration time.Duration `json:"duration"`
}

// Build is the payload of MsgBuild.
type Build struct {
	Package string `json:"package"`
	Version string `json:"version"`
}

// Built is the payload of MsgBuilt.
type Built struct {
	Status   bool          `json:"status"`
	Duration time.Duration `json:"duration"`
	Output   string        `json:"output"`
	Files    []FileInfo    `json:"files,omitempty"`
}

// FileInfo describes one artifact a successful build produced.
type FileInfo struct {
	Filename          string       `json:"filename"`
	Filesize          int64        `json:"filesize"`
	Filehash          string       `json:"filehash"`
	PackageTag        string       `json:"package_tag"`
	PackageVersionTag string       `json:"package_version_tag"`
	PyVersionTag      string       `json:"py_version_tag"`
	ABITag            string       `json:"abi_tag"`
	PlatformTag       string       `json:"platform_tag"`
	Dependencies      []Dependency `json:"dependencies,omitempty"`
}

// Dependency is an external requirement of a wheel.
type Dependency struct {
	Tool string `json:"tool"`
	Name string `json:"name"`
}

// Send is the payload of MsgSend.
type Send struct {
	Filename string `json:"filename"`
}
