// Package uds carries control requests from the statusd CLI to the daemon
// over a Unix domain socket. Frames are length-prefixed JSON.
package uds

import (
	"bytes"
	"encoding/binary"
	"encoding/json"
	"fmt"
	"io"
	"net"
)

const ProtocolVersion = 1

// DefaultSocketName is the socket filename inside .statusd/.
const DefaultSocketName = "daemon.sock"

const maxFrameSize = 4 * 1024 * 1024

// Control commands understood by the daemon.
const (
	CommandPing      = "ping"
	CommandSubmit    = "submit"
	CommandKick      = "kick"
	CommandStatus    = "status"
	CommandListeners = "listeners"
	CommandShutdown  = "shutdown"
)

type Request struct {
	ProtocolVersion int             `json:"protocol_version"`
	Command         string          `json:"command"`
	Params          json.RawMessage `json:"params,omitempty"`
}

type Response struct {
	Success bool            `json:"success"`
	Data    json.RawMessage `json:"data,omitempty"`
	Error   *ErrorDetail    `json:"error,omitempty"`
}

type ErrorDetail struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

func (e *ErrorDetail) Error() string {
	return e.Code + ": " + e.Message
}

const (
	ErrCodeProtocolMismatch = "PROTOCOL_MISMATCH"
	ErrCodeUnknownCommand   = "UNKNOWN_COMMAND"
	ErrCodeInternal         = "INTERNAL_ERROR"
	ErrCodeValidation       = "VALIDATION_ERROR"
	ErrCodeQueueFull        = "QUEUE_FULL"
	ErrCodeNotRestored      = "NOT_RESTORED"
	ErrCodeClosed           = "CLOSED"
)

// SubmitParams is the payload of a submit request. Params holds the
// command's parameter bag (status, in_reply_to_id, preference_key, ...).
type SubmitParams struct {
	Kind   string         `json:"kind"`
	ItemID int64          `json:"item_id,omitempty"`
	Params map[string]any `json:"params,omitempty"`
}

type SubmitResult struct {
	Accepted bool   `json:"accepted"`
	Command  string `json:"command"`
}

// StatusResult mirrors the engine status plus daemon facts.
type StatusResult struct {
	PID       int    `json:"pid"`
	Restored  bool   `json:"restored"`
	Running   bool   `json:"running"`
	Closed    bool   `json:"closed"`
	Main      int    `json:"main"`
	Retry     int    `json:"retry"`
	Listeners int    `json:"listeners"`
	Alarm     string `json:"alarm,omitempty"`
	Online    bool   `json:"online"`
}

type ListenersResult struct {
	IDs []string `json:"ids"`
}

func NewRequest(command string, params any) (*Request, error) {
	req := &Request{
		ProtocolVersion: ProtocolVersion,
		Command:         command,
	}
	if params != nil {
		data, err := json.Marshal(params)
		if err != nil {
			return nil, fmt.Errorf("marshal params: %w", err)
		}
		req.Params = data
	}
	return req, nil
}

// DecodeParams unmarshals the request params into v. A request without
// params leaves v untouched.
func (r *Request) DecodeParams(v any) error {
	if len(r.Params) == 0 {
		return nil
	}
	if err := json.Unmarshal(r.Params, v); err != nil {
		return fmt.Errorf("decode %s params: %w", r.Command, err)
	}
	return nil
}

func SuccessResponse(data any) *Response {
	resp := &Response{Success: true}
	if data != nil {
		raw, err := json.Marshal(data)
		if err != nil {
			return ErrorResponse(ErrCodeInternal, fmt.Sprintf("marshal response: %v", err))
		}
		resp.Data = raw
	}
	return resp
}

func ErrorResponse(code, message string) *Response {
	return &Response{
		Success: false,
		Error: &ErrorDetail{
			Code:    code,
			Message: message,
		},
	}
}

// WriteFrame writes [4-byte big-endian length][JSON payload].
func WriteFrame(conn net.Conn, v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("marshal frame: %w", err)
	}
	if len(data) > maxFrameSize {
		return fmt.Errorf("frame too large: %d bytes", len(data))
	}

	if err := binary.Write(conn, binary.BigEndian, uint32(len(data))); err != nil {
		return fmt.Errorf("write frame length: %w", err)
	}
	if _, err := io.Copy(conn, bytes.NewReader(data)); err != nil {
		return fmt.Errorf("write frame payload: %w", err)
	}
	return nil
}

func ReadFrame(conn net.Conn, v any) error {
	var length uint32
	if err := binary.Read(conn, binary.BigEndian, &length); err != nil {
		return fmt.Errorf("read frame length: %w", err)
	}
	if length > maxFrameSize {
		return fmt.Errorf("frame too large: %d bytes", length)
	}

	buf := make([]byte, length)
	if _, err := io.ReadFull(conn, buf); err != nil {
		return fmt.Errorf("read frame payload: %w", err)
	}
	if err := json.Unmarshal(buf, v); err != nil {
		return fmt.Errorf("unmarshal frame: %w", err)
	}
	return nil
}
