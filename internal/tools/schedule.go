package tools

import (
	"context"
	"fmt"
	"strings"

	"github.com/penates/penates/internal/store"
)

// JobScheduler is the scheduler surface the schedule tools need.
type JobScheduler interface {
	Add(name, schedule, prompt string) (*store.ScheduledJob, error)
	Remove(idOrName string) error
	List() ([]*store.ScheduledJob, error)
}

// ScheduleAddTool creates a new scheduled prompt.
type ScheduleAddTool struct {
	scheduler JobScheduler
}

func NewScheduleAddTool(s JobScheduler) *ScheduleAddTool { return &ScheduleAddTool{scheduler: s} }

func (t *ScheduleAddTool) Name() string { return "schedule_add" }

func (t *ScheduleAddTool) Description() string {
	return "Schedule a recurring or one-shot prompt. Accepts a cron expression, an RFC3339 timestamp, or 'every N <unit>'."
}

func (t *ScheduleAddTool) Parameters() map[string]any {
	return map[string]any{
		"type": "object",
		"properties": map[string]any{
			"name": map[string]any{
				"type":        "string",
				"description": "Short unique name for the job",
			},
			"schedule": map[string]any{
				"type":        "string",
				"description": "Cron expression, RFC3339 timestamp, or 'every N minutes/hours/days'",
			},
			"prompt": map[string]any{
				"type":        "string",
				"description": "The prompt to run when the job fires",
			},
		},
		"required": []string{"name", "schedule", "prompt"},
	}
}

func (t *ScheduleAddTool) Execute(ctx context.Context, params map[string]any) (string, error) {
	name := GetString(params, "name", "")
	schedule := GetString(params, "schedule", "")
	prompt := GetString(params, "prompt", "")
	if name == "" || schedule == "" || prompt == "" {
		return "Error: name, schedule, and prompt are required", nil
	}
	job, err := t.scheduler.Add(name, schedule, prompt)
	if err != nil {
		return fmt.Sprintf("Error adding job: %v", err), nil
	}
	return fmt.Sprintf("Scheduled %q (%s) as %s", job.Name, job.Schedule, job.JobID), nil
}

// ScheduleRemoveTool removes a scheduled job.
type ScheduleRemoveTool struct {
	scheduler JobScheduler
}

func NewScheduleRemoveTool(s JobScheduler) *ScheduleRemoveTool {
	return &ScheduleRemoveTool{scheduler: s}
}

func (t *ScheduleRemoveTool) Name() string { return "schedule_remove" }

func (t *ScheduleRemoveTool) Description() string {
	return "Remove a scheduled job by id or name."
}

func (t *ScheduleRemoveTool) Parameters() map[string]any {
	return map[string]any{
		"type": "object",
		"properties": map[string]any{
			"job": map[string]any{
				"type":        "string",
				"description": "Job id or name",
			},
		},
		"required": []string{"job"},
	}
}

func (t *ScheduleRemoveTool) Execute(ctx context.Context, params map[string]any) (string, error) {
	job := GetString(params, "job", "")
	if job == "" {
		return "Error: job is required", nil
	}
	if err := t.scheduler.Remove(job); err != nil {
		return fmt.Sprintf("Error removing job: %v", err), nil
	}
	return fmt.Sprintf("Removed job %s", job), nil
}

// ScheduleListTool lists scheduled jobs.
type ScheduleListTool struct {
	scheduler JobScheduler
}

func NewScheduleListTool(s JobScheduler) *ScheduleListTool { return &ScheduleListTool{scheduler: s} }

func (t *ScheduleListTool) Name() string { return "schedule_list" }

func (t *ScheduleListTool) Description() string {
	return "List all scheduled jobs."
}

func (t *ScheduleListTool) Parameters() map[string]any {
	return map[string]any{
		"type":       "object",
		"properties": map[string]any{},
	}
}

func (t *ScheduleListTool) Execute(ctx context.Context, params map[string]any) (string, error) {
	jobs, err := t.scheduler.List()
	if err != nil {
		return fmt.Sprintf("Error listing jobs: %v", err), nil
	}
	if len(jobs) == 0 {
		return "No scheduled jobs.", nil
	}
	var out strings.Builder
	for _, j := range jobs {
		out.WriteString(fmt.Sprintf("%s  %s  (%s)  runs=%d\n", j.JobID, j.Name, j.Schedule, j.RunCount))
	}
	return out.String(), nil
}
