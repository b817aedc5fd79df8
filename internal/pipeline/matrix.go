// Copyright Contributors to the Sykli project

package pipeline

import (
	"bytes"
	"encoding/json"
	"fmt"
)

// MatrixDim is one dimension of a task matrix: a name and its ordered
// list of values.
type MatrixDim struct {
	Name   string
	Values []string
}

// Matrix is an ordered list of dimensions. Declaration order matters:
// expansion names nodes "task-v1-v2-..." in dimension declaration
// order, so Matrix decodes its JSON object form with a token-level
// decoder instead of a map, which would discard key order.
type Matrix []MatrixDim

// UnmarshalJSON preserves the declared key order of a JSON object.
func (m *Matrix) UnmarshalJSON(data []byte) error {
	dec := json.NewDecoder(bytes.NewReader(data))
	tok, err := dec.Token()
	if err != nil {
		return err
	}
	delim, ok := tok.(json.Delim)
	if !ok || delim != '{' {
		return fmt.Errorf("matrix: expected JSON object")
	}

	var dims Matrix
	for dec.More() {
		keyTok, err := dec.Token()
		if err != nil {
			return err
		}
		key, ok := keyTok.(string)
		if !ok {
			return fmt.Errorf("matrix: expected string key")
		}
		var values []string
		if err := dec.Decode(&values); err != nil {
			return err
		}
		dims = append(dims, MatrixDim{Name: key, Values: values})
	}
	if _, err := dec.Token(); err != nil { // closing '}'
		return err
	}
	*m = dims
	return nil
}

// MarshalJSON emits the matrix as a JSON object, preserving order.
func (m Matrix) MarshalJSON() ([]byte, error) {
	var buf bytes.Buffer
	buf.WriteByte('{')
	for i, d := range m {
		if i > 0 {
			buf.WriteByte(',')
		}
		key, err := json.Marshal(d.Name)
		if err != nil {
			return nil, err
		}
		vals, err := json.Marshal(d.Values)
		if err != nil {
			return nil, err
		}
		buf.Write(key)
		buf.WriteByte(':')
		buf.Write(vals)
	}
	buf.WriteByte('}')
	return buf.Bytes(), nil
}
