package protocol

import (
	"encoding/json"
	"fmt"
	"io"
)

// EncodeRequest serializes a Request as one newline-terminated JSON line.
// Returns an error if the method is outside the closed set or writing fails.
func EncodeRequest(w io.Writer, req *Request) error {
	if req.ID == "" {
		return fmt.Errorf("request missing id")
	}
	if !req.Method.Valid() {
		return fmt.Errorf("unsupported method: %q", req.Method)
	}

	encoder := json.NewEncoder(w)
	if err := encoder.Encode(req); err != nil {
		return fmt.Errorf("failed to encode request: %w", err)
	}

	return nil
}

// Line is one decoded incoming bridge line: either the readiness handshake
// or a correlated response.
type Line struct {
	Ready    bool
	Response *Response
}

// DecodeLine parses one line from the bridge's stdout. Malformed lines return
// an error; the reader loop logs and drops them rather than crashing.
func DecodeLine(data []byte) (*Line, error) {
	if len(data) == 0 {
		return nil, fmt.Errorf("empty line")
	}

	// The readiness message is the only type-tagged line.
	var tag struct {
		Type string `json:"type"`
	}
	if err := json.Unmarshal(data, &tag); err != nil {
		return nil, fmt.Errorf("line is not valid JSON: %w", err)
	}
	if tag.Type == ReadyType {
		return &Line{Ready: true}, nil
	}

	var resp Response
	if err := json.Unmarshal(data, &resp); err != nil {
		return nil, fmt.Errorf("failed to decode response: %w", err)
	}
	if resp.ID == "" {
		return nil, fmt.Errorf("response missing required field: id")
	}

	return &Line{Response: &resp}, nil
}
