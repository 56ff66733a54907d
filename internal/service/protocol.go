package service

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
)

// RequestType identifies a message sent to the worker.
type RequestType string

// Request types.
const (
	RequestExecute RequestType = "EXECUTE"
	RequestCancel  RequestType = "CANCEL"
)

// ResponseType identifies a message received from the worker.
type ResponseType string

// Response types.
const (
	ResponseLaunch      ResponseType = "LAUNCH"
	ResponseUpdate      ResponseType = "UPDATE"
	ResponseCompletion  ResponseType = "COMPLETION"
	ResponseCancelation ResponseType = "CANCELATION"
	ResponseFailure     ResponseType = "FAILURE"
	// ResponseCrash is synthesized locally when the worker exits with the
	// task still pending. Workers never send it.
	ResponseCrash ResponseType = "CRASH"
)

// Request is one JSON line written to the worker's stdin.
type Request struct {
	Task        string         `json:"task"`
	RequestType RequestType    `json:"requestType"`
	Script      string         `json:"script,omitempty"`
	Inputs      map[string]any `json:"inputs,omitempty"`
}

// Response is one JSON line read from the worker's stdout.
type Response struct {
	Task         string         `json:"task"`
	ResponseType ResponseType   `json:"responseType"`
	Message      string         `json:"message,omitempty"`
	Current      int64          `json:"current,omitempty"`
	Maximum      int64          `json:"maximum,omitempty"`
	Outputs      map[string]any `json:"outputs,omitempty"`
	Error        string         `json:"error,omitempty"`
}

// WriteRequest encodes req as a single line.
func WriteRequest(w io.Writer, req Request) error {
	data, err := json.Marshal(req)
	if err != nil {
		return fmt.Errorf("failed to encode %s request: %w", req.RequestType, err)
	}
	data = append(data, '\n')
	_, err = w.Write(data)
	return err
}

// ParseResponse decodes one line of worker output. Lines that are not a
// JSON object with a task and a response type are rejected.
func ParseResponse(line []byte) (Response, error) {
	var resp Response
	line = bytes.TrimSpace(line)
	if len(line) == 0 || line[0] != '{' {
		return resp, fmt.Errorf("not a response: %q", line)
	}
	if err := json.Unmarshal(line, &resp); err != nil {
		return resp, fmt.Errorf("invalid response: %w", err)
	}
	if resp.Task == "" || resp.ResponseType == "" {
		return resp, fmt.Errorf("response missing task or type: %q", line)
	}
	return resp, nil
}
