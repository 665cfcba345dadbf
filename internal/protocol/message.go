package protocol

import (
	"encoding/json"
	"errors"
	"fmt"
)

// MessageType identifies an inbound WebSocket message
type MessageType string

const (
	MessageAuthSuccess    MessageType = "AUTH_SUCCESS"
	MessageStatusUpdate   MessageType = "STATUS_UPDATE"
	MessageError          MessageType = "ERROR"
	MessageCommandResult  MessageType = "COMMAND_RESULT"
	MessagePong           MessageType = "PONG"
	MessageSpoolmanUpdate MessageType = "SPOOLMAN_UPDATE"
)

// CommandType identifies an outbound WebSocket command
type CommandType string

const (
	CommandRequestStatus CommandType = "REQUEST_STATUS"
	CommandExecuteGCode  CommandType = "EXECUTE_GCODE"
	CommandPing          CommandType = "PING"
)

// ErrUnknownMessage is returned by DecodeMessage for tags this client does
// not handle
var ErrUnknownMessage = errors.New("unknown message type")

// Message is an inbound message. The concrete type is one of the *Message
// structs in this file.
type Message interface {
	MessageType() MessageType
	isMessage()
}

// AuthSuccessMessage confirms the socket was accepted
type AuthSuccessMessage struct {
	ClientID  string `json:"clientId,omitempty"`
	Timestamp string `json:"timestamp,omitempty"`
}

// StatusUpdateMessage carries a full telemetry snapshot
type StatusUpdateMessage struct {
	ContextID string        `json:"contextId,omitempty"`
	Status    PrinterStatus `json:"status"`
	Timestamp string        `json:"timestamp,omitempty"`
}

// ErrorMessage is a backend-reported error
type ErrorMessage struct {
	Error     string `json:"error"`
	Timestamp string `json:"timestamp,omitempty"`
}

// CommandResultMessage reports the outcome of an EXECUTE_GCODE command
type CommandResultMessage struct {
	Command string `json:"command,omitempty"`
	Success bool   `json:"success"`
	Result  string `json:"result,omitempty"`
	Error   string `json:"error,omitempty"`
}

// PongMessage acknowledges a PING
type PongMessage struct {
	Timestamp string `json:"timestamp,omitempty"`
}

// SpoolmanUpdateMessage reports a spool assignment change. Spool is nil when
// the spool was cleared.
type SpoolmanUpdateMessage struct {
	ContextID string       `json:"contextId"`
	Spool     *ActiveSpool `json:"spool"`
}

func (AuthSuccessMessage) MessageType() MessageType    { return MessageAuthSuccess }
func (StatusUpdateMessage) MessageType() MessageType   { return MessageStatusUpdate }
func (ErrorMessage) MessageType() MessageType          { return MessageError }
func (CommandResultMessage) MessageType() MessageType  { return MessageCommandResult }
func (PongMessage) MessageType() MessageType           { return MessagePong }
func (SpoolmanUpdateMessage) MessageType() MessageType { return MessageSpoolmanUpdate }

func (AuthSuccessMessage) isMessage()    {}
func (StatusUpdateMessage) isMessage()   {}
func (ErrorMessage) isMessage()          {}
func (CommandResultMessage) isMessage()  {}
func (PongMessage) isMessage()           {}
func (SpoolmanUpdateMessage) isMessage() {}

// DecodeMessage parses one inbound frame. Unknown tags return
// ErrUnknownMessage; malformed JSON returns a parse error.
func DecodeMessage(data []byte) (Message, error) {
	var head struct {
		Type MessageType `json:"type"`
	}
	if err := json.Unmarshal(data, &head); err != nil {
		return nil, fmt.Errorf("failed to parse message: %w", err)
	}

	var msg Message
	var err error
	switch head.Type {
	case MessageAuthSuccess:
		var m AuthSuccessMessage
		err = json.Unmarshal(data, &m)
		msg = m
	case MessageStatusUpdate:
		var m StatusUpdateMessage
		err = json.Unmarshal(data, &m)
		msg = m
	case MessageError:
		var m ErrorMessage
		err = json.Unmarshal(data, &m)
		msg = m
	case MessageCommandResult:
		var m CommandResultMessage
		err = json.Unmarshal(data, &m)
		msg = m
	case MessagePong:
		var m PongMessage
		err = json.Unmarshal(data, &m)
		msg = m
	case MessageSpoolmanUpdate:
		var m SpoolmanUpdateMessage
		err = json.Unmarshal(data, &m)
		msg = m
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownMessage, head.Type)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to parse %s payload: %w", head.Type, err)
	}
	return msg, nil
}

// Command is an outbound command
type Command interface {
	CommandType() CommandType
	isCommand()
}

// RequestStatus asks the backend for an immediate STATUS_UPDATE
type RequestStatus struct{}

// ExecuteGCode runs a raw G-code line on the active printer
type ExecuteGCode struct {
	GCode string
}

// Ping is the keep-alive probe
type Ping struct{}

func (RequestStatus) CommandType() CommandType { return CommandRequestStatus }
func (ExecuteGCode) CommandType() CommandType  { return CommandExecuteGCode }
func (Ping) CommandType() CommandType          { return CommandPing }

func (RequestStatus) isCommand() {}
func (ExecuteGCode) isCommand()  {}
func (Ping) isCommand()          {}

type wireCommand struct {
	Type  CommandType `json:"command"`
	GCode string      `json:"gcode,omitempty"`
}

// EncodeCommand serializes a command for the wire
func EncodeCommand(cmd Command) ([]byte, error) {
	var w wireCommand
	switch c := cmd.(type) {
	case RequestStatus:
		w = wireCommand{Type: CommandRequestStatus}
	case ExecuteGCode:
		if c.GCode == "" {
			return nil, fmt.Errorf("gcode command is empty")
		}
		w = wireCommand{Type: CommandExecuteGCode, GCode: c.GCode}
	case Ping:
		w = wireCommand{Type: CommandPing}
	default:
		return nil, fmt.Errorf("unsupported command %T", cmd)
	}
	return json.Marshal(w)
}
