package client

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"itinerary-planner/internal/apperrors"
	"itinerary-planner/internal/models"
)

// Outcome is how following a job ended.
type Outcome string

const (
	OutcomeSucceeded    Outcome = "SUCCEEDED"
	OutcomeFailed       Outcome = "FAILED"
	OutcomeStillRunning Outcome = "STILL_RUNNING"
)

// StatusSource is the read side of the API used by the poller.
type StatusSource interface {
	GetStatus(ctx context.Context, id string, after int) (models.JobView, error)
}

// FollowResult is the last view seen and what it means.
type FollowResult struct {
	Outcome Outcome
	View    models.JobView
	// Progress holds every entry delivered while following.
	Progress []models.ProgressEntry
}

// Poller follows one job until it is terminal or the timeout runs out.
type Poller struct {
	Source        StatusSource
	Interval      time.Duration
	Timeout       time.Duration
	MaxPollErrors int
	// OnProgress is called once per new progress entry, in log order.
	OnProgress func(models.ProgressEntry)
	Log        zerolog.Logger
}

// Follow polls until the job is terminal. Running past Timeout is not an error: the result
// carries OutcomeStillRunning. Unknown jobs fail immediately; other poll failures are retried
// until MaxPollErrors happen in a row.
func (p *Poller) Follow(ctx context.Context, jobID string) (FollowResult, error) {
	interval := p.Interval
	if interval <= 0 {
		interval = 4 * time.Second
	}
	var deadline time.Time
	if p.Timeout > 0 {
		deadline = time.Now().Add(p.Timeout)
	}

	var res FollowResult
	cursor, failures := 0, 0
	for {
		view, err := p.Source.GetStatus(ctx, jobID, cursor)
		switch {
		case err == nil:
			failures = 0
			for _, entry := range view.Progress {
				res.Progress = append(res.Progress, entry)
				if p.OnProgress != nil {
					p.OnProgress(entry)
				}
			}
			cursor += len(view.Progress)
			if view.ProgressCount > cursor {
				cursor = view.ProgressCount
			}
			res.View = view
			switch view.Status {
			case models.StatusSucceeded:
				res.Outcome = OutcomeSucceeded
				return res, nil
			case models.StatusFailed:
				res.Outcome = OutcomeFailed
				return res, nil
			}
		case errors.Is(err, apperrors.ErrNotFound), errors.Is(err, apperrors.ErrValidation):
			return res, err
		case ctx.Err() != nil:
			return res, ctx.Err()
		default:
			failures++
			p.Log.Warn().Err(err).Int("failures", failures).Str("job_id", jobID).Msg("status poll failed")
			if failures >= max(p.MaxPollErrors, 1) {
				return res, fmt.Errorf("status poll failed %d times in a row: %w", failures, err)
			}
		}

		wait := interval
		if !deadline.IsZero() {
			remaining := time.Until(deadline)
			if remaining <= 0 {
				res.Outcome = OutcomeStillRunning
				return res, nil
			}
			wait = min(wait, remaining)
		}
		timer := time.NewTimer(wait)
		select {
		case <-ctx.Done():
			timer.Stop()
			return res, ctx.Err()
		case <-timer.C:
		}
	}
}

var traceLine = regexp.MustCompile(`(?m)^(STATUS|TOOL|TOOL_RESULT|RESULT):.*$`)

// ExtractTrace pulls the STATUS/TOOL/TOOL_RESULT/RESULT lines out of a final agent message.
// Lines indented by the model are picked up when no line starts at column zero.
func ExtractTrace(message string) []string {
	var out []string
	for _, m := range traceLine.FindAllString(message, -1) {
		out = append(out, strings.TrimRight(m, "\r"))
	}
	if len(out) > 0 {
		return out
	}
	for _, line := range strings.Split(message, "\n") {
		line = strings.TrimSpace(line)
		for _, prefix := range []string{"STATUS:", "TOOL:", "TOOL_RESULT:", "RESULT:"} {
			if strings.HasPrefix(line, prefix) {
				out = append(out, line)
				break
			}
		}
	}
	return out
}
