package schema

import "encoding/json"

// Message type discriminators.
const (
	MsgRegisterUserOnGraph        = "registerUserOnGraph"
	MsgRegisterUserOnNodeConfig   = "registerUserOnNodeConfig"
	MsgApplyInstructionToGraph    = "applyInstructionToGraph"
	MsgApplyInstructionToNodeConfig = "applyInstructionToNodeConfig"
	MsgBatchCreateElements        = "batchCreateElements"
	MsgBatchDeleteElements        = "batchDeleteElements"
	MsgGenerateUniqueID           = "generateUniqueId"
)

// Response is the status envelope attached to every reply. Broadcast
// messages carry no Response and no RequestID.
type Response struct {
	Status  bool   `json:"status"`
	Message string `json:"message,omitempty"`
	Code    string `json:"code,omitempty"`
}

// Envelope is the wire format for every WebSocket message, request and
// broadcast alike. Fields are a union across message types; unused
// fields are omitted. This keeps the protocol a single flat JSON
// object, matching what browser clients send.
type Envelope struct {
	Type      string    `json:"type,omitempty"`
	RequestID string    `json:"requestId,omitempty"`
	UserID    string    `json:"userId,omitempty"`
	Response  *Response `json:"_response,omitempty"`
	// Timestamp is the server apply time in ms since epoch. Clients use
	// it as the fromTimestamp cursor for their next registration.
	Timestamp int64 `json:"timestamp,omitempty"`

	// Registration.
	GraphID       string      `json:"graphId,omitempty"`
	NodeConfigID  string      `json:"nodeConfigId,omitempty"`
	FromTimestamp int64       `json:"fromTimestamp,omitempty"` // ms since epoch
	Snapshot      json.RawMessage `json:"snapshot,omitempty"`
	MissingMessages []*Envelope `json:"missingMessages,omitempty"`
	LogTruncated  bool        `json:"logTruncated,omitempty"`

	// Instruction application.
	Instructions []GraphInstruction `json:"instructions,omitempty"`

	// Batch create / delete.
	SheetID  string    `json:"sheetId,omitempty"`
	Nodes    []Element `json:"nodes,omitempty"`
	Edges    []Element `json:"edges,omitempty"`
	NodeKeys []string  `json:"nodeKeys,omitempty"`
	EdgeKeys []string  `json:"edgeKeys,omitempty"`
	// Conflicts lists elements a batch delete refused to remove.
	Conflicts []string `json:"conflicts,omitempty"`

	// Unique id generation. Requests carry placeholders (count implied
	// by array length); responses carry the issued ids.
	IDs []any `json:"ids,omitempty"`
}

// OKResponse builds a success reply correlated to a request.
func OKResponse(requestID string) *Envelope {
	return &Envelope{RequestID: requestID, Response: &Response{Status: true}}
}

// FailResponse builds a failure reply correlated to a request. If err
// is a SyncError its code is included so clients can branch on it.
func FailResponse(requestID string, err error) *Envelope {
	resp := &Response{Status: false, Message: err.Error()}
	if code := CodeOf(err); code != "" {
		resp.Code = code
	}
	return &Envelope{RequestID: requestID, Response: resp}
}

// StripTransient returns a copy of the envelope with live-editing-only
// instruction flags cleared, for replay to reconnecting clients.
func (e *Envelope) StripTransient() *Envelope {
	out := *e
	if len(e.Instructions) > 0 {
		out.Instructions = make([]GraphInstruction, len(e.Instructions))
		for i, ins := range e.Instructions {
			out.Instructions[i] = ins.StripTransient()
		}
	}
	return &out
}
