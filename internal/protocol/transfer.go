package protocol

import (
	"encoding/binary"

	"github.com/pkg/errors"
)

// Tags for the file-transfer subprotocol. Control frames are JSON
// envelopes; chunk frames are binary.
const (
	// MsgXferHello opens a transfer channel for a registered slave.
	MsgXferHello Tag = "XFER-HELLO"
	// MsgFetch asks the slave for one chunk of the file being sent.
	MsgFetch Tag = "FETCH"
	// MsgXferDone reports the verdict on a finished transfer.
	MsgXferDone Tag = "XFER-DONE"
)

// XferHello is the payload of MsgXferHello.
type XferHello struct {
	SlaveID string `json:"slave_id"`
}

// Fetch is the payload of MsgFetch: a request for the chunk at the
// given index.
type Fetch struct {
	Index int64 `json:"index"`
	Size  int64 `json:"size"`
}

// Verdict is the payload of MsgXferDone.
type Verdict struct {
	Status VerdictStatus `json:"status"`
	Reason string        `json:"reason,omitempty"`
}

// VerdictStatus is the outcome of a transfer.
type VerdictStatus string

const (
	// VerdictOK means the file was received, verified and installed.
	VerdictOK VerdictStatus = "ok"
	// VerdictRetry means verification failed and the slave should send
	// the file again.
	VerdictRetry VerdictStatus = "retry"
	// VerdictError means the transfer is abandoned.
	VerdictError VerdictStatus = "error"
)

// TransferChunkSize is the fixed chunk size both sides of the file
// subprotocol agree on; the final chunk of a file may be shorter.
const TransferChunkSize = 64 * 1024

const chunkHeaderLen = 8

// EncodeChunk frames one chunk as a binary message: the big-endian
// chunk index followed by the payload bytes.
func EncodeChunk(index int64, payload []byte) []byte {
	frame := make([]byte, chunkHeaderLen+len(payload))
	binary.BigEndian.PutUint64(frame, uint64(index))
	copy(frame[chunkHeaderLen:], payload)
	return frame
}

// DecodeChunk splits a binary chunk frame into its index and payload.
func DecodeChunk(frame []byte) (int64, []byte, error) {
	if len(frame) < chunkHeaderLen {
		return -1, nil, errors.Errorf("chunk frame too short (%d bytes)", len(frame))
	}
	index := int64(binary.BigEndian.Uint64(frame))
	return index, frame[chunkHeaderLen:], nil
}
