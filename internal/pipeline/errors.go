package pipeline

// ConfigurationError covers unknown referenced nodes, DAG cycles, and
// references to an output name a producer never emits. Fatal at run
// start; aborts before any node executes.
type ConfigurationError struct {
	Msg string
}

func (e *ConfigurationError) Error() string { return "configuration: " + e.Msg }

// ResolutionError covers a glob matching no files or an upstream-reference
// filter matching nothing. Fatal at the consuming node; aborts that node
// and propagates.
type ResolutionError struct {
	Node string
	Msg  string
}

func (e *ResolutionError) Error() string { return "resolution in node " + e.Node + ": " + e.Msg }

// FilesystemEscapeError covers a reconstructed cached output path lying
// outside its intended base. Fatal; aborts the node.
type FilesystemEscapeError struct {
	Node string
	Msg  string
}

func (e *FilesystemEscapeError) Error() string {
	return "filesystem escape in node " + e.Node + ": " + e.Msg
}

// WorkloadError wraps an exception/panic/non-zero-exit from a worker
// task. Rejects that item's future; the node fails; the scheduler
// captures the first error and stops launching new work.
type WorkloadError struct {
	Node string
	Item string
	Err  error
}

func (e *WorkloadError) Error() string {
	return "workload error in node " + e.Node + " item " + e.Item + ": " + e.Err.Error()
}

func (e *WorkloadError) Unwrap() error { return e.Err }
