package warren

import (
	"bytes"
	"encoding/json"
)

// MutationResult maps caller-supplied symbolic references from a mutation
// request to the ids the engine assigned for them. Ids are unique within
// the namespace; no ordering is implied.
type MutationResult map[string]uint64

// decodeMutationResult parses the serialized mapping the engine returns for
// a successful mutation: a flat JSON object of string keys to unsigned ids.
// Any other shape is rejected; keys are never dropped or coerced.
func decodeMutationResult(data []byte) (MutationResult, error) {
	trimmed := bytes.TrimSpace(data)
	if len(trimmed) == 0 || trimmed[0] != '{' {
		return nil, decodeErrf(data, nil, "mutation result is not an object")
	}
	var m map[string]uint64
	if err := json.Unmarshal(trimmed, &m); err != nil {
		return nil, decodeErrf(data, err, "decoding mutation result")
	}
	return MutationResult(m), nil
}
