package planner

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"itinerary-planner/internal/archive"
	"itinerary-planner/internal/itinerary"
	"itinerary-planner/internal/models"
)

const demoDefaultDays = 3

var demoSlots = []struct {
	time, what, travel string
}{
	{"09:00", "Walking tour of the historic centre", "walk 15 min"},
	{"12:30", "Lunch at a local market", "walk 10 min"},
	{"15:00", "Main museum or landmark", "public transport 20 min"},
	{"19:30", "Dinner in a neighbourhood favoured by locals", "walk 15 min"},
}

// Demo is an offline planner that produces a deterministic itinerary without calling a model.
type Demo struct {
	repo     itinerary.Repository
	archiver archive.Archiver
	delay    time.Duration
	now      func() time.Time
	log      zerolog.Logger
}

// NewDemo builds the demo planner. delay is slept between progress steps.
func NewDemo(repo itinerary.Repository, archiver archive.Archiver, delay time.Duration, log zerolog.Logger) *Demo {
	return &Demo{
		repo:     repo,
		archiver: archiver,
		delay:    delay,
		now:      time.Now,
		log:      log.With().Str("component", "demo_planner").Logger(),
	}
}

func (d *Demo) Plan(ctx context.Context, req Request, progress ProgressFunc) (models.Result, error) {
	trip := req.Trip
	days := trip.DayCount()
	if days <= 0 {
		days = demoDefaultDays
	}
	var trace []string
	step := func(line string) error {
		if err := sleepCtx(ctx, d.delay); err != nil {
			return err
		}
		report(ctx, progress, line)
		trace = append(trace, "STATUS: "+line)
		return nil
	}

	if err := step("searching attractions"); err != nil {
		return models.Result{}, err
	}
	start, _ := time.Parse(time.DateOnly, trip.StartDate)
	items := make([]models.ItineraryDay, 0, days)
	for day := 1; day <= days; day++ {
		if err := step(fmt.Sprintf("drafting day %d", day)); err != nil {
			return models.Result{}, err
		}
		items = append(items, demoDay(trip, start, day))
	}

	it := models.Itinerary{
		UserID:      req.UserID,
		Destination: trip.Destination,
		Items:       items,
		Sources:     []models.Source{},
	}
	if !start.IsZero() {
		it.StartDate = start.Format(time.DateOnly)
		it.EndDate = start.AddDate(0, 0, days-1).Format(time.DateOnly)
	}
	run := NewRun(req)
	it = itinerary.Normalize(it, run.RequestID(), d.now())
	created, err := d.repo.Save(ctx, it)
	if err != nil {
		return models.Result{}, fmt.Errorf("save itinerary: %w", err)
	}
	outcome := "saved"
	if !created {
		outcome = "duplicate"
	}
	report(ctx, progress, fmt.Sprintf("%s itinerary %s", outcome, it.ItineraryID))
	trace = append(trace, fmt.Sprintf("RESULT: %s:%s", outcome, it.ItineraryID))

	var b strings.Builder
	b.WriteString(strings.Join(trace, "\n"))
	fmt.Fprintf(&b, "\n\n%d-day plan for %s.", days, trip.Destination)
	for _, day := range items {
		fmt.Fprintf(&b, "\nDay %d: %s", day.Day, day.Summary)
	}
	return models.Result{
		Message:     b.String(),
		ItineraryID: it.ItineraryID,
		ArchiveURL:  archiveItinerary(ctx, d.archiver, it, progress, d.log),
	}, nil
}

func demoDay(trip models.TripRequest, start time.Time, day int) models.ItineraryDay {
	out := models.ItineraryDay{
		Day:     day,
		Summary: fmt.Sprintf("Exploring %s, day %d", trip.Destination, day),
	}
	if !start.IsZero() {
		out.Date = start.AddDate(0, 0, day-1).Format(time.DateOnly)
	}
	// Two to four activities, rotating through the slots.
	n := 2 + (day-1)%3
	for i := 0; i < n; i++ {
		slot := demoSlots[i]
		a := models.Activity{Name: slot.what, Time: slot.time, Travel: slot.travel}
		if i == 0 && trip.Preferences != "" {
			a.Notes = "Chosen for: " + trip.Preferences
		}
		out.Activities = append(out.Activities, a)
	}
	return out
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

var _ Planner = (*Demo)(nil)
