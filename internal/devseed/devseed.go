// Package devseed loads a small set of sample templates and jobs for local
// development. It is reachable only through the admin CLI and never runs as
// part of the service.
package devseed

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/ticketpress/ticketpress/internal/core"
	"github.com/ticketpress/ticketpress/internal/data"
	"github.com/ticketpress/ticketpress/internal/domain/model"
	"github.com/ticketpress/ticketpress/internal/service"
)

// Services bundles the dependencies needed for development seeding.
type Services struct {
	DB    *sql.DB
	Store core.ObjectStore
	jobs  *service.JobService
}

// NewServices constructs the services required for seeding using the provided
// DB and object store.
func NewServices(db *sql.DB, store core.ObjectStore) (Services, error) {
	jobService, err := service.NewJobService(service.JobServiceOptions{
		Repo:        data.NewJobRepo(db, data.RepoConfig{}),
		Store:       store,
		MaxAttempts: 3,
	})
	if err != nil {
		return Services{}, fmt.Errorf("build job service: %w", err)
	}
	return Services{DB: db, Store: store, jobs: jobService}, nil
}

type seedTemplate struct {
	Key    string
	Markup string
}

// Sample templates sized so the crop regions below line up with the artwork.
var seedTemplates = []seedTemplate{
	{
		Key: "sources/dev-gala.svg",
		Markup: `<svg xmlns="http://www.w3.org/2000/svg" viewBox="0 0 260 100">` +
			`<rect x="2" y="2" width="256" height="96" fill="none" stroke="#1a1a2e" stroke-width="2"/>` +
			`<g fill="#1a1a2e"><rect x="16" y="22" width="120" height="14"/>` +
			`<rect x="16" y="50" width="70" height="8"/></g>` +
			`<line x1="200" y1="10" x2="200" y2="90" stroke="#888" stroke-dasharray="4 3"/>` +
			`</svg>`,
	},
	{
		Key: "sources/dev-raffle.svg",
		Markup: `<svg xmlns="http://www.w3.org/2000/svg" viewBox="0 0 180 70">` +
			`<rect x="1" y="1" width="178" height="68" fill="none" stroke="#333"/>` +
			`<path d="M10 20 L80 20 L80 32 L10 32 Z" fill="#333"/>` +
			`<circle cx="150" cy="35" r="18" fill="none" stroke="#c33"/>` +
			`</svg>`,
	},
}

func seedJobSpecs() []model.VectorJobSpec {
	return []model.VectorJobSpec{
		{
			SourceDocumentKey: "sources/dev-gala.svg",
			TicketCrop:        model.TicketCrop{X: 0, Y: 0, Width: 260, Height: 100},
			Layout:            model.LayoutSpec{PageSize: "A4", RepeatPerPage: 5, TotalPages: 4, Scale: 1},
			Series: []model.SeriesSpec{
				{
					ID: "gate", Prefix: "G", Start: 1, Step: 1,
					Font: "Helvetica", FontSize: 10,
					Slots: []model.CanvasPoint{{X: 210, Y: 30}, {X: 210, Y: 60}},
				},
			},
			Watermarks: []model.WatermarkSpec{
				{
					ID: "draft", Type: model.WatermarkText, Value: "SAMPLE",
					Opacity: 0.15, Rotate: 30, Position: model.CanvasPoint{X: 90, Y: 50},
				},
			},
		},
		{
			SourceDocumentKey: "sources/dev-raffle.svg",
			TicketCrop:        model.TicketCrop{X: 0, Y: 0, Width: 180, Height: 70},
			Layout:            model.LayoutSpec{PageSize: "Letter", RepeatPerPage: 8, TotalPages: 2, Scale: 1},
			Series: []model.SeriesSpec{
				{
					ID: "stub", Prefix: "R-", Start: 1000, Step: 1,
					Font: "Courier", FontSize: 8,
					Slots: []model.CanvasPoint{{X: 140, Y: 60}},
				},
			},
		},
	}
}

// Run executes the full development seeding workflow against the provided
// dependencies. Seeding is idempotent at the template level; jobs are
// appended on every run.
func Run(ctx context.Context, svcs Services, logger *slog.Logger) error {
	if svcs.Store == nil || svcs.jobs == nil {
		return errors.New("devseed services are not initialised")
	}

	failures := 0
	for _, tpl := range seedTemplates {
		if err := svcs.Store.Put(ctx, tpl.Key, strings.NewReader(tpl.Markup), "image/svg+xml"); err != nil {
			if logger != nil {
				logger.ErrorContext(ctx, "failed to store seed template", "key", tpl.Key, "error", err)
			}
			failures++
			continue
		}
		if logger != nil {
			logger.InfoContext(ctx, "seed template stored", "key", tpl.Key)
		}
	}

	for _, spec := range seedJobSpecs() {
		job, err := svcs.jobs.Submit(ctx, spec)
		if err != nil {
			if logger != nil {
				logger.ErrorContext(ctx, "failed to submit seed job", "source", spec.SourceDocumentKey, "error", err)
			}
			failures++
			continue
		}
		if logger != nil {
			logger.InfoContext(ctx, "seed job submitted", "job_id", job.ID, "source", spec.SourceDocumentKey)
		}
	}

	if failures > 0 {
		return fmt.Errorf("%d seed errors; check logs", failures)
	}
	return nil
}
