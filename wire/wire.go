// Package wire parses event store append replies. Stores answer either with
// a structured {version, conflict} record or with a serialized tuple string
// of the shape "(<integer>,<t|f|true|false>)". The parser is total: malformed
// input degrades to a safe zero result instead of failing the request, so a
// misbehaving store can never crash command execution.
//
// The parser is deliberately decoupled from the dispatcher so the store's
// reply format can change without touching business logic.
package wire

import (
	"encoding/json"
	"strconv"
	"strings"

	"github.com/studyroomhq/workspace-kit/workspace"
)

// ParseAppendResult interprets a store append reply of any supported
// encoding. Unexpected version values coerce to 0, unexpected conflict
// encodings coerce to false, and total parse failure yields {0, false}.
func ParseAppendResult(reply interface{}) workspace.AppendResult {
	switch r := reply.(type) {
	case nil:
		return workspace.AppendResult{}
	case workspace.AppendResult:
		return r
	case *workspace.AppendResult:
		if r == nil {
			return workspace.AppendResult{}
		}
		return *r
	case map[string]interface{}:
		return parseRecord(r)
	case string:
		return ParseTuple(r)
	case []byte:
		return ParseTuple(string(r))
	case json.RawMessage:
		return parseRaw(r)
	default:
		return workspace.AppendResult{}
	}
}

// ParseTuple parses the tuple-string encoding "(<integer>,<t|f|true|false>)".
// Whitespace around the comma and parentheses is tolerated, the conflict flag
// is case-insensitive.
func ParseTuple(s string) workspace.AppendResult {
	s = strings.TrimSpace(s)
	if len(s) < 2 || s[0] != '(' || s[len(s)-1] != ')' {
		return workspace.AppendResult{}
	}

	inner := s[1 : len(s)-1]
	parts := strings.SplitN(inner, ",", 2)
	if len(parts) != 2 {
		return workspace.AppendResult{}
	}

	return workspace.AppendResult{
		Version:  coerceVersion(strings.TrimSpace(parts[0])),
		Conflict: coerceConflict(strings.TrimSpace(parts[1])),
	}
}

// parseRaw handles replies still in raw JSON form: either an encoded record
// or an encoded tuple string.
func parseRaw(raw json.RawMessage) workspace.AppendResult {
	var record map[string]interface{}
	if err := json.Unmarshal(raw, &record); err == nil {
		return parseRecord(record)
	}

	var tuple string
	if err := json.Unmarshal(raw, &tuple); err == nil {
		return ParseTuple(tuple)
	}

	return workspace.AppendResult{}
}

func parseRecord(record map[string]interface{}) workspace.AppendResult {
	var result workspace.AppendResult

	switch v := record["version"].(type) {
	case float64:
		result.Version = int64(v)
	case int:
		result.Version = int64(v)
	case int64:
		result.Version = v
	case json.Number:
		if n, err := v.Int64(); err == nil {
			result.Version = n
		}
	case string:
		result.Version = coerceVersion(v)
	}
	if result.Version < 0 {
		result.Version = 0
	}

	switch c := record["conflict"].(type) {
	case bool:
		result.Conflict = c
	case string:
		result.Conflict = coerceConflict(c)
	}

	return result
}

func coerceVersion(s string) int64 {
	n, err := strconv.ParseInt(strings.TrimSpace(s), 10, 64)
	if err != nil || n < 0 {
		return 0
	}
	return n
}

func coerceConflict(s string) bool {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "t", "true":
		return true
	default:
		return false
	}
}
