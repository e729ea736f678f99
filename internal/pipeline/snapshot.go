package pipeline

import (
	"sync"

	"sitekiln/internal/node"
)

// outputSnapshot is the Pipeline's per-node output table: written once
// per node by the coordinator receiving that node's result, and read by
// every later node. Safe for concurrent reads with single-writer
// semantics per node.
type outputSnapshot struct {
	mu      sync.RWMutex
	outputs map[string][]node.Output
}

func newOutputSnapshot() *outputSnapshot {
	return &outputSnapshot{outputs: make(map[string][]node.Output)}
}

func (s *outputSnapshot) set(name string, outputs []node.Output) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.outputs[name] = outputs
}

func (s *outputSnapshot) outputsOf(name string) []node.Output {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.outputs[name]
}

// NodeOutputs implements both cachestore.UpstreamOutputs and
// input.OutputLookup: the flattened path list a producer emitted under
// one output name.
func (s *outputSnapshot) NodeOutputs(producer, outputName string) ([]string, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	records, ok := s.outputs[producer]
	if !ok {
		return nil, false
	}
	var flat []string
	for _, rec := range records {
		flat = append(flat, rec[outputName]...)
	}
	if len(records) == 0 {
		return nil, false
	}
	return flat, true
}
