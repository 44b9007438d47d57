package workflow

import (
	"context"
	"fmt"

	"workflow-studio/pkg/backend"
	"workflow-studio/pkg/poll"
)

// csvJobFailed is the status the backend uses for failed CSV jobs.
const csvJobFailed = "error"

// RunView pairs a run's status with the workflow graph coloured by it.
type RunView struct {
	Run   backend.RunStatus `json:"run"`
	Graph Graph             `json:"graph"`
}

// WatchRun polls a run until it completes or fails, passing every status to
// onUpdate. Backend failures end the watch with a failed status carrying the
// reason. The error is non-nil only when ctx ends first.
func (s *Service) WatchRun(ctx context.Context, workflowID, jobID string, onUpdate func(backend.RunStatus)) (backend.RunStatus, error) {
	fetch := func(ctx context.Context) (backend.RunStatus, error) {
		st, err := s.backend.GetRun(ctx, workflowID, jobID)
		s.countPoll("run", err)
		if err != nil {
			return backend.RunStatus{}, err
		}
		return *st, nil
	}

	last, err := poll.Until(ctx, s.pollInterval, fetch, backend.RunStatus.Terminal, onUpdate)
	if err == nil {
		return last, nil
	}
	if ctx.Err() != nil {
		return last, ctx.Err()
	}

	failed := last
	failed.Status = backend.RunFailed
	failed.Error = fmt.Sprintf("could not get status of run %s: %v", jobID, err)
	if onUpdate != nil {
		onUpdate(failed)
	}
	return failed, nil
}

// WatchCSVJob polls a CSV ingestion job until it completes or fails, with
// the same failure handling as WatchRun. A job that cannot be polled ends
// with the backend's "error" status.
func (s *Service) WatchCSVJob(ctx context.Context, jobID string, onUpdate func(backend.CSVJobStatus)) (backend.CSVJobStatus, error) {
	fetch := func(ctx context.Context) (backend.CSVJobStatus, error) {
		st, err := s.backend.GetCSVJob(ctx, jobID)
		s.countPoll("csv", err)
		if err != nil {
			return backend.CSVJobStatus{}, err
		}
		return *st, nil
	}

	last, err := poll.Until(ctx, s.pollInterval, fetch, backend.CSVJobStatus.Terminal, onUpdate)
	if err == nil {
		return last, nil
	}
	if ctx.Err() != nil {
		return last, ctx.Err()
	}

	failed := last
	if failed.ID == "" {
		failed.ID = jobID
	}
	failed.Status = csvJobFailed
	failed.Error = fmt.Sprintf("could not get status of job %s: %v", jobID, err)
	if onUpdate != nil {
		onUpdate(failed)
	}
	return failed, nil
}

func (s *Service) countPoll(target string, err error) {
	outcome := "ok"
	if err != nil {
		outcome = "error"
	}
	s.metrics.Polls.WithLabelValues(target, outcome).Inc()
}

// workflowGraph fetches a workflow and builds its graph through the memo cache.
func (s *Service) workflowGraph(ctx context.Context, id string) (*backend.WorkflowDetail, Graph, error) {
	wf, err := s.backend.GetWorkflow(ctx, id)
	if err != nil {
		return nil, Graph{}, err
	}
	g, hit := s.cache.GetOrBuild(CacheKey(wf.ID, wf.Steps), func() Graph {
		g := GraphFromStepsJSON(wf.Steps)
		s.metrics.observeBuild("workflow", g)
		return g
	})
	if hit {
		s.metrics.CacheHits.Inc()
	}
	return wf, g, nil
}
