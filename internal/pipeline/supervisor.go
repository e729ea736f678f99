package pipeline

import (
	"context"
	"fmt"
	"time"

	"github.com/jedib0t/go-pretty/v6/table"

	"sitekiln/internal/ctxlog"
)

// supervisorInterval is how often the Supervisor reports status while at
// least one node is active.
const supervisorInterval = 3 * time.Second

// runSupervisor periodically logs the set of currently-running nodes and
// the worker pool's active jobs, for operator visibility. It is pure
// logging and must never affect scheduling outcomes; done, when closed,
// stops the loop.
func (p *Pipeline) runSupervisor(ctx context.Context, g *graph, state execState, done <-chan struct{}) {
	ticker := time.NewTicker(supervisorInterval)
	defer ticker.Stop()

	for {
		select {
		case <-done:
			return
		case <-ctx.Done():
			return
		case <-ticker.C:
			p.reportStatus(ctx, g, state)
		}
	}
}

func (p *Pipeline) reportStatus(ctx context.Context, g *graph, state execState) {
	var running []string
	for _, n := range g.nodes {
		if state[n.Name()] == Running {
			running = append(running, n.Name())
		}
	}
	if len(running) == 0 && p.pool != nil && len(p.pool.ActiveJobs()) == 0 {
		return
	}

	t := table.NewWriter()
	t.AppendHeader(table.Row{"Node", "State"})
	for _, name := range running {
		t.AppendRow(table.Row{name, "running"})
	}
	if p.pool != nil {
		for id, job := range p.pool.ActiveJobs() {
			t.AppendRow(table.Row{"worker-pool", fmt.Sprintf("job #%d: %s", id, job.Workload)})
		}
	}

	ctxlog.FromContext(ctx).Info("pipeline status\n" + t.Render())
}
