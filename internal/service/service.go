// Package service is the synchronous front door: it validates trip requests, registers jobs,
// hands them to the executor and serves status reads.
package service

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"itinerary-planner/internal/apperrors"
	"itinerary-planner/internal/itinerary"
	"itinerary-planner/internal/lifecycle"
	"itinerary-planner/internal/models"
	"itinerary-planner/internal/telemetry"
	"itinerary-planner/internal/worker"
)

const (
	maxTripDays       = 30
	maxPreferencesLen = 1000
	maxPromptLen      = 4000
)

// Service accepts planning jobs and answers status queries.
type Service struct {
	jobs        *lifecycle.Manager
	launcher    worker.Launcher
	itineraries itinerary.Repository
	log         zerolog.Logger
}

func New(jobs *lifecycle.Manager, launcher worker.Launcher, itineraries itinerary.Repository, log zerolog.Logger) *Service {
	return &Service{
		jobs:        jobs,
		launcher:    launcher,
		itineraries: itineraries,
		log:         log.With().Str("component", "service").Logger(),
	}
}

// StartJob registers a PENDING job and launches it. The record is readable before StartJob
// returns. If the executor refuses the job it is marked FAILED and the launch error returned
// alongside the job.
func (s *Service) StartJob(ctx context.Context, userID string, input models.TripRequest) (models.Job, error) {
	userID = strings.TrimSpace(userID)
	if userID == "" {
		return models.Job{}, apperrors.Validation("user_id", "user id is required")
	}
	input = normalize(input)
	if err := Validate(input); err != nil {
		return models.Job{}, err
	}

	job, err := s.jobs.Create(ctx, userID, input)
	if err != nil {
		return models.Job{}, err
	}
	logger := s.log.With().Str("job_id", job.ID).Logger()

	if err := s.launcher.Launch(ctx, job.ID, job.Input); err != nil {
		telemetry.LaunchRejects.Inc()
		logger.Error().Err(err).Msg("launch failed")
		failed, ferr := s.jobs.Fail(context.WithoutCancel(ctx), job.ID, "could not launch job: "+err.Error())
		if ferr != nil {
			logger.Error().Err(ferr).Msg("job left pending after launch failure")
			return job, apperrors.Internal("launch", err)
		}
		return failed, apperrors.Internal("launch", err)
	}
	logger.Info().Str("destination", input.Destination).Msg("job launched")
	return job, nil
}

// GetStatus returns the poller view of a job. after skips that many progress entries.
func (s *Service) GetStatus(ctx context.Context, id string, after int) (models.JobView, error) {
	if strings.TrimSpace(id) == "" {
		return models.JobView{}, apperrors.Validation("job_id", "job id is required")
	}
	job, err := s.jobs.Get(ctx, id)
	if err != nil {
		return models.JobView{}, err
	}
	return job.View(after), nil
}

// ListItineraries returns the user's saved itineraries, newest first.
func (s *Service) ListItineraries(ctx context.Context, userID string, limit int) ([]models.Itinerary, error) {
	if strings.TrimSpace(userID) == "" {
		return nil, apperrors.Validation("user_id", "user id is required")
	}
	if s.itineraries == nil {
		return []models.Itinerary{}, nil
	}
	items, err := s.itineraries.List(ctx, userID, limit)
	if err != nil {
		return nil, apperrors.Internal("itineraries.list", err)
	}
	if items == nil {
		items = []models.Itinerary{}
	}
	return items, nil
}

func normalize(in models.TripRequest) models.TripRequest {
	in.RequestID = strings.TrimSpace(in.RequestID)
	in.Destination = strings.TrimSpace(in.Destination)
	in.StartDate = strings.TrimSpace(in.StartDate)
	in.EndDate = strings.TrimSpace(in.EndDate)
	in.Preferences = strings.TrimSpace(in.Preferences)
	in.Prompt = strings.TrimSpace(in.Prompt)
	return in
}

// Validate checks a trip request before a job is created for it.
func Validate(in models.TripRequest) error {
	if in.Destination == "" && in.Prompt == "" {
		return apperrors.Validation("destination", "destination or prompt is required")
	}
	if in.Days < 0 || in.Days > maxTripDays {
		return apperrors.Validation("days", fmt.Sprintf("days must be between 0 and %d; 0 takes the length from the dates", maxTripDays))
	}
	var start, end time.Time
	var err error
	if in.StartDate != "" {
		if start, err = time.Parse(time.DateOnly, in.StartDate); err != nil {
			return apperrors.Validation("start_date", "start_date must be YYYY-MM-DD")
		}
	}
	if in.EndDate != "" {
		if end, err = time.Parse(time.DateOnly, in.EndDate); err != nil {
			return apperrors.Validation("end_date", "end_date must be YYYY-MM-DD")
		}
	}
	if !start.IsZero() && !end.IsZero() {
		if end.Before(start) {
			return apperrors.Validation("end_date", "end_date is before start_date")
		}
		if span := int(end.Sub(start).Hours()/24) + 1; span > maxTripDays {
			return apperrors.Validation("end_date", fmt.Sprintf("trips are limited to %d days", maxTripDays))
		}
	}
	if len(in.Preferences) > maxPreferencesLen {
		return apperrors.Validation("preferences", fmt.Sprintf("preferences exceed %d characters", maxPreferencesLen))
	}
	if len(in.Prompt) > maxPromptLen {
		return apperrors.Validation("prompt", fmt.Sprintf("prompt exceeds %d characters", maxPromptLen))
	}
	return nil
}
