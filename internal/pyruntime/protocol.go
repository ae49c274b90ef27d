package pyruntime

import (
	"encoding/json"
	"fmt"
)

// request is one line written to the interpreter.
type request struct {
	ID     uint64 `json:"id"`
	Method string `json:"method"`
	Params any    `json:"params,omitempty"`
}

// response is one line read back. Result is absent on error.
type response struct {
	ID     *uint64         `json:"id"`
	Result json.RawMessage `json:"result,omitempty"`
	Error  *ForeignError   `json:"error,omitempty"`
}

type resolveParams struct {
	Module    string `json:"module"`
	Class     string `json:"class"`
	StorePath string `json:"store_path"`
	Pipeline  string `json:"pipeline"`
}

type resolveResult struct {
	Handle int64 `json:"handle"`
}

type callParams struct {
	Handle int64  `json:"handle"`
	Method string `json:"method"`
	Args   []any  `json:"args"`
}

type releaseParams struct {
	Handle int64 `json:"handle"`
}

type readyResult struct {
	Ready  bool   `json:"ready"`
	Python string `json:"python"`
}

// ForeignError is an exception raised inside the interpreter.
type ForeignError struct {
	Type      string `json:"type"`
	Message   string `json:"message"`
	Traceback string `json:"traceback"`
}

func (e *ForeignError) Error() string {
	return fmt.Sprintf("python %s: %s", e.Type, e.Message)
}
