package vstorage

import (
	"bytes"
	"encoding/base64"
	"encoding/json"
	"fmt"
)

const (
	jsonRPCVersion = "2.0"
	queryMethod    = "abci_query"
)

type rpcRequest struct {
	JSONRPC string      `json:"jsonrpc"`
	ID      int         `json:"id"`
	Method  string      `json:"method"`
	Params  queryParams `json:"params"`
}

type queryParams struct {
	Path string `json:"path"`
}

type rpcResult struct {
	Result *struct {
		Response abciResponse `json:"response"`
	} `json:"result"`
	Error *rpcError `json:"error"`
}

type abciResponse struct {
	Code  int64   `json:"code"`
	Log   string  `json:"log"`
	Value *string `json:"value"`
}

type rpcError struct {
	Code    int64  `json:"code"`
	Message string `json:"message"`
	Data    string `json:"data"`
}

// Outcome is the result for one path of a batch round. Exactly one of Value
// and Err is meaningful.
type Outcome struct {
	Path  Path
	Value Value
	Err   error
}

// BuildBatchRequest encodes one abci_query call per path as a single JSON
// array. The order of paths is the order of the calls.
func BuildBatchRequest(namespace string, paths []Path) ([]byte, error) {
	if len(paths) == 0 {
		return nil, fmt.Errorf("batch requires at least one path")
	}
	seen := make(map[Path]struct{}, len(paths))
	calls := make([]rpcRequest, 0, len(paths))
	for _, path := range paths {
		if err := path.Validate(); err != nil {
			return nil, err
		}
		if _, ok := seen[path]; ok {
			return nil, fmt.Errorf("path %s appears twice in batch", path)
		}
		seen[path] = struct{}{}
		calls = append(calls, rpcRequest{
			JSONRPC: jsonRPCVersion,
			ID:      1,
			Method:  queryMethod,
			Params:  queryParams{Path: path.QueryPath(namespace)},
		})
	}
	return json.Marshal(calls)
}

// ParseBatchResponse splits a batched response into per-path outcomes.
// Failures of individual calls become per-path errors. A body that cannot be
// parsed, or whose length does not match paths, fails the whole batch with
// an error wrapping ErrTransport.
func ParseBatchResponse(body []byte, paths []Path, unserialize Unserializer) ([]Outcome, error) {
	trimmed := bytes.TrimSpace(body)
	if len(trimmed) > 0 && trimmed[0] == '{' {
		var single rpcResult
		if err := json.Unmarshal(trimmed, &single); err != nil {
			return nil, transportErrorf("invalid response: %v", err)
		}
		if single.Error != nil {
			return nil, transportErrorf("%s", single.Error.describe())
		}
		return nil, transportErrorf("expected a batch response array")
	}

	var results []rpcResult
	if err := json.Unmarshal(trimmed, &results); err != nil {
		return nil, transportErrorf("invalid response: %v", err)
	}
	if len(results) != len(paths) {
		return nil, transportErrorf("expected %d results, got %d", len(paths), len(results))
	}

	outcomes := make([]Outcome, len(paths))
	for index, result := range results {
		outcomes[index] = parseResult(paths[index], result, unserialize)
	}
	return outcomes, nil
}

func parseResult(path Path, result rpcResult, unserialize Unserializer) Outcome {
	outcome := Outcome{Path: path}
	switch {
	case result.Error != nil:
		outcome.Err = &QueryError{Path: path, Code: result.Error.Code, Log: result.Error.describe()}
		return outcome
	case result.Result == nil:
		outcome.Err = &DecodeError{Path: path, Err: fmt.Errorf("missing result")}
		return outcome
	}

	response := result.Result.Response
	if response.Code != 0 {
		outcome.Err = &QueryError{Path: path, Code: response.Code, Log: response.Log}
		return outcome
	}
	if response.Value == nil || *response.Value == "" {
		outcome.Err = &DecodeError{Path: path, Err: fmt.Errorf("empty response value")}
		return outcome
	}
	payload, err := base64.StdEncoding.DecodeString(*response.Value)
	if err != nil {
		outcome.Err = &DecodeError{Path: path, Err: fmt.Errorf("invalid base64 payload: %w", err)}
		return outcome
	}

	value, err := Decode(path.Kind, payload, unserialize)
	if err != nil {
		outcome.Err = &DecodeError{Path: path, Err: err}
		return outcome
	}
	outcome.Value = value
	return outcome
}

func (e *rpcError) describe() string {
	if e.Data != "" {
		return e.Message + ": " + e.Data
	}
	if e.Message != "" {
		return e.Message
	}
	return fmt.Sprintf("rpc error %d", e.Code)
}
