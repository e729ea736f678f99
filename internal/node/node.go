// Package node defines the Node Contract: the surface any concrete node
// implementation exposes to the Pipeline.
package node

// Output is a mapping from output name to an ordered list of paths. A
// node may emit several Output records, one per processed item;
// downstream consumers flatten them.
type Output map[string][]string

// Node is the contract every pipeline vertex implements.
type Node interface {
	// Name is unique within a pipeline; used as a cache-directory segment
	// and a build-subdirectory segment.
	Name() string

	// TypeName identifies the node's implementation for content-signature
	// tagging ("<TypeName>-<hash>"); distinct from Name, which is the
	// instance identifier.
	TypeName() string

	// Config contributes to the content signature.
	Config() map[string]any

	// OutputConfig shapes output paths; excluded from the content signature.
	OutputConfig() map[string]any

	// ExplicitDependencies names additional nodes that must run first,
	// beyond what config's node-output references already induce.
	ExplicitDependencies() []string

	// Run executes the node and returns its emitted outputs.
	Run(ctx RunContext) ([]Output, error)
}

// PipelineAware is implemented by composite/fan-out nodes that inject
// child nodes into the pipeline at construction time.
type PipelineAware interface {
	OnAddedToPipeline(p Pipeline) error
}

// Pipeline is the subset of *pipeline.Pipeline that OnAddedToPipeline
// hooks need: the ability to add further nodes. Kept as a narrow
// interface here so that package node does not import package pipeline
// (which in turn depends on node), avoiding an import cycle.
type Pipeline interface {
	AddNode(n Node) error
}

// RunContext is the subset of *pipeline.Context a Run method needs,
// narrowed the same way as Pipeline above.
type RunContext interface {
	ResolveInput(in any) ([]string, error)
	Log() Logger
	Cache() CacheHandle
	WorkerPool() WorkerHandle
	BuildDir() string
	BuildPathFor(nodeName, inputPath, ext string) string
	StripBuildPrefix(path string) string
	NodeOutputsOf(name string) []Output
}

// Logger is the minimal logging surface nodes use.
type Logger interface {
	Info(msg string, args ...any)
	Warn(msg string, args ...any)
	Error(msg string, args ...any)
}

// CacheHandle is the minimal Cache Store surface nodes see through the
// Context; the concrete *cachestore.Store satisfies a superset of this.
type CacheHandle interface {
	FileHash(path string) (string, error)
}

// WorkerHandle is the minimal Worker Pool surface nodes see through the
// Context.
type WorkerHandle interface {
	Execute(workload string, payload any) (<-chan WorkResult, error)
}

// WorkResult is delivered on the channel returned by WorkerHandle.Execute.
type WorkResult struct {
	Value any
	Err   error
}
