// Package exectrace is the canonical, deterministic record of what
// happened during one pipeline run: a node/item-centric generalization
// of the teacher's task-centric execution trace. It is observational
// only and must never influence scheduling or caching decisions — tests
// use it to assert scenario outcomes precisely (spec §8's "exactly one
// miss on a.txt, one hit on b.txt"), and `cmd/sitekiln trace show`
// pretty-prints it for operators.
package exectrace

import (
	"bytes"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
)

// EventKind is the stable, canonical discriminator for Event. These
// values are part of the trace's canonical bytes; do not rename.
type EventKind string

const (
	EventNodeStarted   EventKind = "NodeStarted"
	EventItemCacheHit  EventKind = "ItemCacheHit"
	EventItemMiss      EventKind = "ItemMiss"
	EventItemExecuted  EventKind = "ItemExecuted"
	EventNodeCompleted EventKind = "NodeCompleted"
	EventNodeFailed    EventKind = "NodeFailed"
	EventNodeSkipped   EventKind = "NodeSkipped"
)

// Event is a single logical transition recorded during a run. No
// timestamps or pointer-derived values: the trace must be reproducible
// across otherwise-identical runs regardless of wall-clock timing or
// goroutine scheduling order.
type Event struct {
	Kind EventKind

	// NodeName identifies the node this event concerns; required for
	// every kind.
	NodeName string

	// Item is the item path an ItemCacheHit/ItemMiss/ItemExecuted event
	// concerns; empty for node-level events.
	Item string

	// Reason is a stable, logical reason code (e.g. "InputChanged",
	// "UpstreamFailed"). Open-ended, but producers must keep values
	// stable once chosen.
	Reason string

	// CauseNode records a related node — e.g. the failed upstream node
	// that caused a NodeSkipped event.
	CauseNode string

	// Outputs lists output paths an ItemExecuted/NodeCompleted event
	// produced.
	Outputs []string
}

// ExecutionTrace is the canonical record of one run.
type ExecutionTrace struct {
	PipelineHash string
	Events       []Event
}

// Validate checks the basic shape invariants.
func (t *ExecutionTrace) Validate() error {
	if t == nil {
		return errors.New("exectrace: trace is nil")
	}
	if t.PipelineHash == "" {
		return errors.New("exectrace: pipelineHash is required")
	}
	for i, e := range t.Events {
		if e.Kind == "" {
			return fmt.Errorf("exectrace: events[%d].kind is required", i)
		}
		if e.NodeName == "" {
			return fmt.Errorf("exectrace: events[%d].nodeName is required", i)
		}
	}
	return nil
}

// Canonicalize normalizes and sorts the trace into a total order
// independent of execution timing or goroutine interleaving: events are
// stably sorted by (nodeName, kindOrder, item, reason, causeNode,
// outputsLex), and empty slices are normalized to nil.
func (t *ExecutionTrace) Canonicalize() {
	if t == nil {
		return
	}
	for i := range t.Events {
		if len(t.Events[i].Outputs) == 0 {
			t.Events[i].Outputs = nil
			continue
		}
		out := append([]string(nil), t.Events[i].Outputs...)
		sort.Strings(out)
		t.Events[i].Outputs = out
	}

	sort.SliceStable(t.Events, func(i, j int) bool {
		a, b := t.Events[i], t.Events[j]
		if a.NodeName != b.NodeName {
			return a.NodeName < b.NodeName
		}
		if kindOrder(a.Kind) != kindOrder(b.Kind) {
			return kindOrder(a.Kind) < kindOrder(b.Kind)
		}
		if a.Item != b.Item {
			return a.Item < b.Item
		}
		if a.Reason != b.Reason {
			return a.Reason < b.Reason
		}
		if a.CauseNode != b.CauseNode {
			return a.CauseNode < b.CauseNode
		}
		return compareStringSlices(a.Outputs, b.Outputs)
	})
}

func kindOrder(k EventKind) int {
	switch k {
	case EventNodeStarted:
		return 10
	case EventItemCacheHit:
		return 20
	case EventItemMiss:
		return 30
	case EventItemExecuted:
		return 40
	case EventNodeCompleted:
		return 50
	case EventNodeFailed:
		return 60
	case EventNodeSkipped:
		return 70
	default:
		return 1000
	}
}

func compareStringSlices(a, b []string) bool {
	n := len(a)
	if len(b) < n {
		n = len(b)
	}
	for i := 0; i < n; i++ {
		if a[i] != b[i] {
			return a[i] < b[i]
		}
	}
	return len(a) < len(b)
}

// CanonicalJSON returns the canonical JSON encoding of a canonicalized
// copy of the trace, leaving the receiver untouched.
func (t ExecutionTrace) CanonicalJSON() ([]byte, error) {
	cp := ExecutionTrace{PipelineHash: t.PipelineHash, Events: append([]Event(nil), t.Events...)}
	cp.Canonicalize()
	if err := cp.Validate(); err != nil {
		return nil, err
	}
	return json.Marshal(&cp)
}

// Hash returns the deterministic trace hash (sha256 hex) of the
// canonical JSON encoding.
func (t ExecutionTrace) Hash() (string, error) {
	b, err := t.CanonicalJSON()
	if err != nil {
		return "", err
	}
	sum := sha256.Sum256(b)
	return hex.EncodeToString(sum[:]), nil
}

// MarshalJSON fixes field order and omits absent optional fields.
func (t ExecutionTrace) MarshalJSON() ([]byte, error) {
	if t.PipelineHash == "" {
		return nil, errors.New("exectrace: pipelineHash is required")
	}
	var buf bytes.Buffer
	buf.WriteByte('{')
	buf.WriteString(`"pipelineHash":`)
	ph, _ := json.Marshal(t.PipelineHash)
	buf.Write(ph)
	buf.WriteString(`,"events":[`)
	for i := range t.Events {
		if i > 0 {
			buf.WriteByte(',')
		}
		eb, err := json.Marshal(t.Events[i])
		if err != nil {
			return nil, err
		}
		buf.Write(eb)
	}
	buf.WriteString("]}")
	return buf.Bytes(), nil
}

// MarshalJSON fixes field order and omits empty optional fields.
func (e Event) MarshalJSON() ([]byte, error) {
	if e.Kind == "" {
		return nil, errors.New("exectrace: kind is required")
	}
	var buf bytes.Buffer
	buf.WriteByte('{')
	buf.WriteString(`"kind":`)
	kb, _ := json.Marshal(string(e.Kind))
	buf.Write(kb)

	buf.WriteString(`,"nodeName":`)
	nb, _ := json.Marshal(e.NodeName)
	buf.Write(nb)

	if e.Item != "" {
		buf.WriteString(`,"item":`)
		ib, _ := json.Marshal(e.Item)
		buf.Write(ib)
	}
	if e.Reason != "" {
		buf.WriteString(`,"reason":`)
		rb, _ := json.Marshal(e.Reason)
		buf.Write(rb)
	}
	if e.CauseNode != "" {
		buf.WriteString(`,"causeNode":`)
		cb, _ := json.Marshal(e.CauseNode)
		buf.Write(cb)
	}
	if len(e.Outputs) > 0 {
		sorted := append([]string(nil), e.Outputs...)
		sort.Strings(sorted)
		buf.WriteString(`,"outputs":`)
		ob, _ := json.Marshal(sorted)
		buf.Write(ob)
	}
	buf.WriteByte('}')
	return buf.Bytes(), nil
}
