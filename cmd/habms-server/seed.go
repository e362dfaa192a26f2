package main

import (
	"context"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/habms/habms/internal/config"
	"github.com/habms/habms/internal/domain/scheduling"
	"github.com/habms/habms/pkg/pagination"
)

func seedCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "seed",
		Short: "Create the administrator and sample doctors",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load()
			if err != nil {
				return err
			}
			if err := cfg.Validate(); err != nil {
				return err
			}
			if cfg.Store == config.StoreMemory {
				return fmt.Errorf("seed needs a persistent store; use 'serve --seed' with STORE=%s", config.StoreMemory)
			}

			ctx := context.Background()
			st, err := openStores(ctx, cfg)
			if err != nil {
				return err
			}
			defer st.pool.Close()

			a, err := newApp(cfg, st, newLogger(cfg))
			if err != nil {
				return err
			}
			return seedData(ctx, a, time.Now())
		},
	}
}

type sampleDoctor struct {
	name, dept, info string
}

var sampleDoctors = []sampleDoctor{
	{"Dr. Chen", "Cardiology", "Attending physician"},
	{"Dr. Alvarez", "Pediatrics", "Outpatient clinic"},
	{"Dr. Okafor", "Dermatology", "Walk-in friendly"},
}

// seedData ensures the configured administrator exists and, on an empty
// doctor table, adds sample doctors with a morning and an afternoon session
// on the day after now.
func seedData(ctx context.Context, a *app, now time.Time) error {
	logger := a.logger

	if a.cfg.AdminPassword == "" {
		logger.Warn().Msg("ADMIN_PASSWORD not set; skipping administrator seed")
	} else {
		created, err := a.identity.EnsureAdmin(ctx, a.cfg.AdminUsername, a.cfg.AdminPassword, "Administrator")
		if err != nil {
			return fmt.Errorf("ensure admin: %w", err)
		}
		logger.Info().Str("username", a.cfg.AdminUsername).Bool("created", created).Msg("administrator ready")
	}

	_, total, err := a.scheduling.ListDoctors(ctx, pagination.New(1, 0))
	if err != nil {
		return fmt.Errorf("list doctors: %w", err)
	}
	if total > 0 {
		logger.Info().Int("doctors", total).Msg("doctors present; skipping sample data")
		return nil
	}

	loc, err := a.cfg.Location()
	if err != nil {
		return err
	}
	day := now.In(loc).AddDate(0, 0, 1)
	at := func(hour int) time.Time {
		return time.Date(day.Year(), day.Month(), day.Day(), hour, 0, 0, 0, loc)
	}

	for _, sd := range sampleDoctors {
		doc := &scheduling.Doctor{Name: sd.name, Dept: sd.dept, Info: sd.info}
		if err := a.scheduling.AddDoctor(ctx, doc); err != nil {
			return fmt.Errorf("add doctor %s: %w", sd.name, err)
		}
		sessions := []*scheduling.Schedule{
			{DoctorID: doc.ID, Start: at(9), End: at(12), Capacity: 3, Note: "morning"},
			{DoctorID: doc.ID, Start: at(14), End: at(17), Capacity: 2, Note: "afternoon"},
		}
		for _, s := range sessions {
			if err := a.scheduling.AddSchedule(ctx, s); err != nil {
				return fmt.Errorf("add schedule for %s: %w", sd.name, err)
			}
		}
	}

	logger.Info().Int("doctors", len(sampleDoctors)).Msg("sample data seeded")
	return nil
}
