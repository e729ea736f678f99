package main

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"runtime"
	"time"

	"github.com/spf13/cobra"

	"sitekiln/internal/ctxlog"
	"sitekiln/internal/exectrace"
	"sitekiln/internal/noderuntime"
	"sitekiln/internal/pipeline"
	"sitekiln/internal/pipelinedef"
	"sitekiln/internal/runstate"
	"sitekiln/internal/tracing"
	"sitekiln/internal/workerpool"
)

var runFlags struct {
	definitionFile string
	buildDir       string
	traceOut       string
}

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Build the pipeline described by a definition file",
	RunE:  runRun,
}

func init() {
	f := runCmd.Flags()
	f.StringVar(&runFlags.definitionFile, "file", "", "pipeline definition file (default: config's pipeline.definition_file)")
	f.StringVar(&runFlags.buildDir, "build-dir", "", "build directory (default: config's pipeline.build_dir)")
	f.StringVar(&runFlags.traceOut, "trace-out", "", "write the execution trace as JSON to this path")
}

func runRun(cmd *cobra.Command, args []string) error {
	defFile := cfg.Pipeline.DefinitionFile
	if runFlags.definitionFile != "" {
		defFile = runFlags.definitionFile
	}
	buildDir := cfg.Pipeline.BuildDir
	if runFlags.buildDir != "" {
		buildDir = runFlags.buildDir
	}

	def, err := pipelinedef.Load(defFile)
	if err != nil {
		return err
	}

	strategy := strategyFromConfig(cfg.Pipeline.Strategy)
	nodes, strategy, err := pipelinedef.Build(def, strategy)
	if err != nil {
		return err
	}

	workerCount := cfg.Workers.Count
	if workerCount <= 0 {
		workerCount = runtime.NumCPU()
	}
	pool := workerpool.New(workerCount, map[string]workerpool.PerformFunc{
		noderuntime.Workload: noderuntime.ItemWorkload,
	})
	defer pool.Terminate()

	p := pipeline.New(buildDir, cfg.Cache.Dir, pool)

	provider, err := tracing.NewProvider(cfg.Tracing)
	if err != nil {
		return fmt.Errorf("run: configuring tracing: %w", err)
	}
	defer provider.Shutdown(context.Background())
	p.Tracer = provider.Tracer()

	recorder := exectrace.NewRecorder()
	p.Trace = recorder

	for _, n := range nodes {
		if err := p.AddNode(n); err != nil {
			return err
		}
	}

	runStore, err := runstate.NewStore(cfg.Cache.Dir)
	if err != nil {
		return err
	}
	runID := runstate.NewRunID()
	run := runstate.Run{RunID: runID, PipelineHash: pipelineHash(def), StartTime: time.Now(), Status: runstate.StatusRunning}
	if err := runStore.SaveRun(run); err != nil {
		return err
	}

	ctx := ctxlog.WithLogger(cmd.Context(), rootLogger())
	runErr := p.Run(ctx, strategy)

	if err := writeTouchedManifest(cfg.Cache.Dir, p.Store().TouchedSignatureDirs()); err != nil {
		ctxlog.FromContext(ctx).Warn("could not record touched cache signatures for gc", "error", err)
	}

	if runErr != nil {
		run.Status = runstate.StatusFailed
		_ = runStore.SaveRun(run)
		_ = runStore.SaveFailure(runID, runstate.Failure{ErrorMessage: runErr.Error(), Resumable: true})
	} else {
		run.Status = runstate.StatusCompleted
		_ = runStore.SaveRun(run)
	}

	if runFlags.traceOut != "" {
		trace := recorder.Trace(run.PipelineHash)
		data, err := trace.CanonicalJSON()
		if err != nil {
			return fmt.Errorf("run: encoding execution trace: %w", err)
		}
		if err := writeFileAtomic(runFlags.traceOut, data); err != nil {
			return fmt.Errorf("run: writing execution trace: %w", err)
		}
	}

	return runErr
}

func strategyFromConfig(name string) pipeline.Strategy {
	switch name {
	case "sequential":
		return pipeline.Sequential
	case "wave":
		return pipeline.WaveParallel
	default:
		return pipeline.DynamicReady
	}
}

// pipelineHash fingerprints a definition's node list so a later run can
// tell whether the pipeline changed since a previous run (runstate's
// resume-eligibility check).
func pipelineHash(def *pipelinedef.Definition) string {
	var buf []byte
	for _, n := range def.Nodes {
		buf = append(buf, n.Type+":"+n.Name+"<-"+fmt.Sprint(n.Deps)+"\n"...)
	}
	sum := sha256.Sum256(buf)
	return hex.EncodeToString(sum[:])
}
