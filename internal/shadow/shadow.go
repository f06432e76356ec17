package shadow

import (
	"context"
	"sync"
)

// Writer merges a partial reported-state document into the persisted per-device
// shadow. Writes are merge-patch: nested maps merge recursively and a nil value
// deletes the key. A full overwrite never happens.
type Writer interface {
	Merge(ctx context.Context, deviceID string, patch map[string]interface{}) error
}

// mergePatch applies patch onto doc in place and returns doc.
func mergePatch(doc, patch map[string]interface{}) map[string]interface{} {
	if doc == nil {
		doc = make(map[string]interface{}, len(patch))
	}
	for key, value := range patch {
		if value == nil {
			delete(doc, key)
			continue
		}
		patchMap, patchIsMap := value.(map[string]interface{})
		if !patchIsMap {
			doc[key] = value
			continue
		}
		docMap, docIsMap := doc[key].(map[string]interface{})
		if !docIsMap {
			docMap = nil
		}
		doc[key] = mergePatch(docMap, patchMap)
	}
	return doc
}

// Memory is an in-process Writer used by tests and single-node setups.
type Memory struct {
	mu   sync.Mutex
	docs map[string]map[string]interface{}
}

// NewMemory returns an empty in-memory shadow store.
func NewMemory() *Memory {
	return &Memory{docs: make(map[string]map[string]interface{})}
}

// Merge applies the patch to the device document.
func (m *Memory) Merge(_ context.Context, deviceID string, patch map[string]interface{}) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.docs[deviceID] = mergePatch(m.docs[deviceID], patch)
	return nil
}

// Document returns a shallow copy of the device document.
func (m *Memory) Document(deviceID string) map[string]interface{} {
	m.mu.Lock()
	defer m.mu.Unlock()
	doc, ok := m.docs[deviceID]
	if !ok {
		return nil
	}
	out := make(map[string]interface{}, len(doc))
	for k, v := range doc {
		out[k] = v
	}
	return out
}
