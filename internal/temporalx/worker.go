package temporalx

import (
	"context"
	"time"

	"go.temporal.io/sdk/client"
	"go.temporal.io/sdk/worker"
	"go.temporal.io/sdk/workflow"

	"github.com/coreagent/platform/internal/memory/longterm"
	"github.com/coreagent/platform/internal/memory/shortterm"
	"github.com/coreagent/platform/internal/platform/logger"
)

// MaintenanceTaskQueue is the task queue the nightly decay and
// relation-discovery workflow runs on, decoupled from the in-process
// 1-second Unified Scheduler so a slow LLM-backed consolidation pass
// never blocks a scheduled reminder or plugin tick (spec.md §4.5.2,
// §4.5.3).
const MaintenanceTaskQueue = "memory-maintenance"

// MaintenanceActivities bundles the long-running decay and
// relation-discovery operations as Temporal activities. Each wraps a
// method already exposed by its respective memory-tier manager; the
// activity layer adds nothing but the retry/timeout semantics Temporal
// gives for free.
type MaintenanceActivities struct {
	ShortTerm *shortterm.Manager
	LongTerm  *longterm.Manager
}

func (a *MaintenanceActivities) DecayShortTerm(ctx context.Context) error {
	a.ShortTerm.ApplyDecay(time.Now())
	return nil
}

func (a *MaintenanceActivities) DecayLongTerm(ctx context.Context) error {
	return a.LongTerm.ApplyDecay(ctx)
}

// relationDiscoveryLookback bounds how far back RecentNodes looks for
// nodes to run relation discovery over; a nightly run only needs to
// cover the nodes touched since roughly its own last firing.
const relationDiscoveryLookback = 24 * time.Hour

func (a *MaintenanceActivities) DiscoverRelations(ctx context.Context) error {
	recent, err := a.LongTerm.RecentNodes(ctx, time.Now().Add(-relationDiscoveryLookback))
	if err != nil {
		return err
	}
	return a.LongTerm.DiscoverRelations(ctx, recent)
}

// MemoryMaintenanceWorkflow runs the short-term decay pass, the
// long-term decay pass, then relation discovery, each as its own
// activity so a failure in one doesn't block the others from retrying
// independently on the workflow's next scheduled run.
func MemoryMaintenanceWorkflow(ctx workflow.Context) error {
	opts := workflow.ActivityOptions{StartToCloseTimeout: 10 * time.Minute}
	ctx = workflow.WithActivityOptions(ctx, opts)

	var a MaintenanceActivities
	if err := workflow.ExecuteActivity(ctx, a.DecayShortTerm).Get(ctx, nil); err != nil {
		return err
	}
	if err := workflow.ExecuteActivity(ctx, a.DecayLongTerm).Get(ctx, nil); err != nil {
		return err
	}
	return workflow.ExecuteActivity(ctx, a.DiscoverRelations).Get(ctx, nil)
}

// maintenanceTaskQueue resolves the task queue the maintenance worker
// and its nightly schedule run on: Config.TaskQueue (TEMPORAL_TASK_QUEUE)
// when set, else MaintenanceTaskQueue.
func maintenanceTaskQueue() string {
	if tq := LoadConfig().TaskQueue; tq != "" {
		return tq
	}
	return MaintenanceTaskQueue
}

// RunMaintenanceWorker registers the workflow and its activities and
// starts a worker draining maintenanceTaskQueue(). The caller owns
// stopping it (worker.Stop) on shutdown. A nil c means Temporal is not
// configured in this environment; the caller is expected to skip this
// entirely rather than call it.
func RunMaintenanceWorker(log *logger.Logger, c client.Client, activities *MaintenanceActivities) worker.Worker {
	w := worker.New(c, maintenanceTaskQueue(), worker.Options{})
	w.RegisterWorkflow(MemoryMaintenanceWorkflow)
	w.RegisterActivity(activities.DecayShortTerm)
	w.RegisterActivity(activities.DecayLongTerm)
	w.RegisterActivity(activities.DiscoverRelations)

	go func() {
		if err := w.Run(worker.InterruptCh()); err != nil {
			log.Error("memory maintenance worker stopped", "error", err)
		}
	}()
	return w
}

// ScheduleNightlyMaintenance starts (or reuses, via the deterministic
// workflow ID) a cron-scheduled run of MemoryMaintenanceWorkflow at
// 03:00 UTC, matching spec.md §4.5.3's "nightly decay".
func ScheduleNightlyMaintenance(ctx context.Context, c client.Client) error {
	_, err := c.ExecuteWorkflow(ctx, client.StartWorkflowOptions{
		ID:           "memory-maintenance-nightly",
		TaskQueue:    maintenanceTaskQueue(),
		CronSchedule: "0 3 * * *",
	}, MemoryMaintenanceWorkflow)
	return err
}
