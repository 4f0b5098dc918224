package storage

import "sync"

// Materializer decodes row-bytes slices against a schema into Row records.
// It holds one reusable scratch Row per instance: Materialize clears the
// scratch, copies the decoded values into it, then returns a fresh copy —
// callers never observe or alias the scratch. Each call still allocates
// two Rows: the one DecodeRow builds and the returned copy.
//
// Safe for concurrent use: each call to Materialize holds mu for the
// full decode, so callers that want parallelism should use one
// Materializer per goroutine to avoid contention.
type Materializer struct {
	mu      sync.Mutex
	schema  *Schema
	scratch Row
}

// NewMaterializer creates a Materializer bound to schema.
func NewMaterializer(schema *Schema) *Materializer {
	return &Materializer{schema: schema, scratch: make(Row, len(schema.Columns))}
}

// Materialize decodes data into a Row fully owned by the caller. A cached
// row record is never mutated while another reader holds a reference;
// mutation happens under an exclusive lock and returns a copy.
func (m *Materializer) Materialize(data []byte) (Row, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	for i := range m.scratch {
		m.scratch[i] = Null
	}
	_, decoded, err := DecodeRow(data, len(m.schema.Columns))
	if err != nil {
		return nil, err
	}
	copy(m.scratch, decoded)

	out := make(Row, len(m.scratch))
	copy(out, m.scratch)
	return out, nil
}

// Rebind swaps the schema a Materializer decodes against (used after a
// compatible DDL change that only appends nullable columns; structural
// changes should construct a fresh Materializer instead).
func (m *Materializer) Rebind(schema *Schema) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.schema = schema
	m.scratch = make(Row, len(schema.Columns))
}
