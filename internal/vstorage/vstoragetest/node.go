// Package vstoragetest provides a fake RPC node that answers batched
// abci_query calls for tests.
package vstoragetest

import (
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"strconv"
	"strings"
	"sync"
	"time"
)

// Response is the canned answer for one query path.
type Response struct {
	// Values is the data history, each entry JSON-encoded before storage.
	Values []any
	// Children is the listing for children paths.
	Children    []string
	BlockHeight int64
	Code        int64
	Log         string
}

// Node records every batch it receives and answers from a table keyed by
// query path such as "/custom/vstorage/data/published.x".
type Node struct {
	server    *httptest.Server
	mu        sync.Mutex
	responses map[string]Response
	batches   [][]string
	status    int
	delay     time.Duration
	inFlight  int
	maxFlight int
	notify    chan []string
}

func NewNode() *Node {
	node := &Node{
		responses: make(map[string]Response),
		status:    http.StatusOK,
		notify:    make(chan []string, 64),
	}
	node.server = httptest.NewServer(http.HandlerFunc(node.serve))
	return node
}

func (n *Node) URL() string {
	return n.server.URL
}

func (n *Node) Close() {
	n.server.Close()
}

// SetData stores a data history for name under the vstorage namespace.
func (n *Node) SetData(name string, height int64, values ...any) {
	n.Set("/custom/vstorage/data/"+name, Response{Values: values, BlockHeight: height})
}

func (n *Node) SetChildren(name string, children ...string) {
	if children == nil {
		children = []string{}
	}
	n.Set("/custom/vstorage/children/"+name, Response{Children: children})
}

func (n *Node) SetError(queryPath string, code int64, log string) {
	n.Set(queryPath, Response{Code: code, Log: log})
}

func (n *Node) Set(queryPath string, response Response) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.responses[queryPath] = response
}

// FailWith makes the node answer every request with an HTTP status.
func (n *Node) FailWith(status int) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.status = status
}

// SetDelay holds every response for d before answering.
func (n *Node) SetDelay(d time.Duration) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.delay = d
}

// Batches returns the query paths of every batch received so far.
func (n *Node) Batches() [][]string {
	n.mu.Lock()
	defer n.mu.Unlock()
	out := make([][]string, len(n.batches))
	copy(out, n.batches)
	return out
}

// MaxInFlight is the largest number of batches the node served at once.
func (n *Node) MaxInFlight() int {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.maxFlight
}

// WaitBatch blocks until the next batch arrives or timeout elapses.
func (n *Node) WaitBatch(timeout time.Duration) ([]string, bool) {
	select {
	case batch := <-n.notify:
		return batch, true
	case <-time.After(timeout):
		return nil, false
	}
}

type call struct {
	JSONRPC string `json:"jsonrpc"`
	Method  string `json:"method"`
	Params  struct {
		Path string `json:"path"`
	} `json:"params"`
}

func (n *Node) serve(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	body, err := io.ReadAll(r.Body)
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	var calls []call
	if err := json.Unmarshal(body, &calls); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	paths := make([]string, 0, len(calls))
	for _, c := range calls {
		paths = append(paths, c.Params.Path)
	}

	n.mu.Lock()
	n.batches = append(n.batches, paths)
	n.inFlight++
	if n.inFlight > n.maxFlight {
		n.maxFlight = n.inFlight
	}
	status := n.status
	delay := n.delay
	results := make([]any, 0, len(calls))
	for _, path := range paths {
		results = append(results, n.resultLocked(path))
	}
	n.mu.Unlock()

	defer func() {
		n.mu.Lock()
		n.inFlight--
		n.mu.Unlock()
	}()

	select {
	case n.notify <- paths:
	default:
	}
	if delay > 0 {
		time.Sleep(delay)
	}
	if status != http.StatusOK {
		http.Error(w, http.StatusText(status), status)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(results)
}

func (n *Node) resultLocked(queryPath string) any {
	response, ok := n.responses[queryPath]
	if !ok {
		return abciResult(6, "could not get vstorage path: not found", nil)
	}
	if response.Code != 0 {
		return abciResult(response.Code, response.Log, nil)
	}
	var payload any
	if strings.Contains(queryPath, "/children/") {
		payload = map[string]any{"children": response.Children}
	} else {
		entries := make([]string, 0, len(response.Values))
		for _, value := range response.Values {
			encoded, err := json.Marshal(value)
			if err != nil {
				return abciResult(1, fmt.Sprintf("encode value: %v", err), nil)
			}
			entries = append(entries, string(encoded))
		}
		cell, _ := json.Marshal(map[string]any{
			"values":      entries,
			"blockHeight": strconv.FormatInt(response.BlockHeight, 10),
		})
		payload = map[string]any{"value": string(cell)}
	}
	data, _ := json.Marshal(payload)
	encoded := base64.StdEncoding.EncodeToString(data)
	return abciResult(0, "", &encoded)
}

func abciResult(code int64, log string, value *string) map[string]any {
	response := map[string]any{"code": code, "log": log, "value": value}
	return map[string]any{"jsonrpc": "2.0", "id": 1, "result": map[string]any{"response": response}}
}
