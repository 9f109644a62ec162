package permission

import (
	"bytes"
	"encoding/json"

	"github.com/cockroachdb/errors"
)

// ErrUnparseableRequest means the requested operations could not be
// determined. Callers must deny the whole request.
var ErrUnparseableRequest = errors.New("cannot determine requested operations")

// MethodToolsCall is the JSON-RPC method that carries a tool name.
const MethodToolsCall = "tools/call"

type rpcMessage struct {
	Method *string          `json:"method"`
	Params json.RawMessage  `json:"params"`
	Result *json.RawMessage `json:"result"`
	Error  *json.RawMessage `json:"error"`
}

// RequestedOperations returns every JSON-RPC method named in body, plus
// the tool name of each tools/call, for a single message or a batch.
// Anything that does not have the expected shape is an error.
func RequestedOperations(body []byte) ([]string, error) {
	trimmed := bytes.TrimSpace(body)
	if len(trimmed) == 0 {
		return nil, errors.Mark(errors.New("empty request body"), ErrUnparseableRequest)
	}

	var raws []json.RawMessage
	if trimmed[0] == '[' {
		if err := json.Unmarshal(trimmed, &raws); err != nil {
			return nil, errors.Mark(errors.Wrap(err, "decode batch"), ErrUnparseableRequest)
		}
		if len(raws) == 0 {
			return nil, errors.Mark(errors.New("empty batch"), ErrUnparseableRequest)
		}
	} else {
		raws = []json.RawMessage{trimmed}
	}

	var ops []string
	for i, raw := range raws {
		msgOps, err := messageOperations(raw)
		if err != nil {
			return nil, errors.Mark(errors.Wrapf(err, "message %d", i), ErrUnparseableRequest)
		}
		ops = append(ops, msgOps...)
	}
	return ops, nil
}

func messageOperations(raw json.RawMessage) ([]string, error) {
	raw = bytes.TrimSpace(raw)
	if len(raw) == 0 || raw[0] != '{' {
		return nil, errors.New("message is not an object")
	}
	var msg rpcMessage
	if err := json.Unmarshal(raw, &msg); err != nil {
		return nil, errors.Wrap(err, "decode message")
	}

	if msg.Method == nil {
		// Responses to server-initiated requests carry no operation.
		if msg.Result != nil || msg.Error != nil {
			return nil, nil
		}
		return nil, errors.New("message has neither method nor result")
	}

	method := *msg.Method
	if method == "" {
		return nil, errors.New("empty method")
	}
	if method != MethodToolsCall {
		return []string{method}, nil
	}

	var params struct {
		Name *string `json:"name"`
	}
	p := bytes.TrimSpace(msg.Params)
	if len(p) == 0 || p[0] != '{' {
		return nil, errors.New("tools/call params must be an object")
	}
	if err := json.Unmarshal(p, &params); err != nil {
		return nil, errors.Wrap(err, "decode tools/call params")
	}
	if params.Name == nil || *params.Name == "" {
		return nil, errors.New("tools/call without tool name")
	}
	return []string{method, *params.Name}, nil
}
