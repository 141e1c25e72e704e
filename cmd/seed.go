package cmd

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/jmehdipour/label-dispatch/internal/db"
	"github.com/jmehdipour/label-dispatch/internal/logger"
	"github.com/jmehdipour/label-dispatch/internal/model"
	"github.com/jmehdipour/label-dispatch/internal/repository"
)

var seedCmd = &cobra.Command{
	Use:   "seed",
	Short: "Seed the database with demo artists, labels and pitches",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}
		ctx := cmd.Context()
		if ctx == nil {
			ctx = context.Background()
		}

		sqlDB, err := db.NewMySQLConnection(ctx, cfg.MySQL)
		if err != nil {
			return fmt.Errorf("mysql connect: %w", err)
		}
		defer sqlDB.Close()

		logger.Log.Info("seeding demo data")

		if err := seedUsers(ctx, repository.NewUsersRepository(sqlDB)); err != nil {
			return err
		}
		if err := seedLabels(ctx, repository.NewLabelsRepository(sqlDB)); err != nil {
			return err
		}
		if err := seedPitches(ctx, repository.NewPitchesRepository(sqlDB)); err != nil {
			return err
		}

		logger.Log.Info("seed completed",
			zap.Int("users", len(demoUsers)), zap.Int("labels", len(demoLabels)), zap.Int("pitches", len(demoPitches)))
		return nil
	},
}

// Fixed IDs keep the seed idempotent: every row is an upsert.
var demoUsers = []model.User{
	{
		ID:                 "01HZX0SEED0USER00000000001",
		Email:              "nova@example.com",
		ArtistName:         "Nova Hale",
		Tier:               model.Tier1,
		SubscriptionStatus: "active",
		Genres:             model.StringList{"techno", "house"},
		StyleDescription:   "dark driving warehouse techno with hypnotic minimal grooves",
	},
	{
		ID:                 "01HZX0SEED0USER00000000002",
		Email:              "ridge@example.com",
		ArtistName:         "Ridgeway",
		Tier:               model.Tier2,
		SubscriptionStatus: "active",
		Genres:             model.StringList{"indie rock", "shoegaze"},
		StyleDescription:   "fuzzy dreamy guitars and lo-fi vocals",
	},
	{
		ID:                 "01HZX0SEED0USER00000000003",
		Email:              "kilo@example.com",
		ArtistName:         "Kilo Sun",
		Tier:               model.Tier3,
		SubscriptionStatus: "trialing",
		Genres:             model.StringList{"hip hop"},
		StyleDescription:   "boom bap beats with jazzy samples",
	},
}

var demoLabels = []model.Label{
	{
		ID:               "01HZX0SEED0LABEL0000000001",
		Name:             "Subterra Records",
		Genres:           model.StringList{"techno", "minimal"},
		SubmissionMethod: model.MethodEmail,
		SubmissionEmail:  "demos@subterra.example",
		Tier:             "Indie",
		Notes:            "dark hypnotic warehouse techno",
		ConfidenceScore:  0.9,
		AddedBy:          model.AddedByAdmin,
		IsActive:         true,
	},
	{
		ID:               "01HZX0SEED0LABEL0000000002",
		Name:             "Paper Lanterns",
		Genres:           model.StringList{"shoegaze", "dream pop"},
		SubmissionMethod: model.MethodWebform,
		SubmissionURL:    "https://paperlanterns.example/demos",
		Tier:             "Underground",
		Notes:            "dreamy guitars, lo-fi welcome",
		ConfidenceScore:  0.7,
		AddedBy:          model.AddedByAdmin,
		IsActive:         true,
	},
	{
		ID:               "01HZX0SEED0LABEL0000000003",
		Name:             "Crate Diggers",
		Genres:           model.StringList{"hip hop", "jazz"},
		SubmissionMethod: model.MethodEmail,
		SubmissionEmail:  "a&r@cratediggers.example",
		SubmissionURL:    "https://cratediggers.example/submit",
		Tier:             "Mid",
		Notes:            "sample heavy boom bap",
		ConfidenceScore:  0.8,
		AddedBy:          model.AddedByAdmin,
		IsActive:         true,
	},
	{
		ID:               "01HZX0SEED0LABEL0000000004",
		Name:             "Closed Doors",
		Genres:           model.StringList{"house"},
		SubmissionMethod: model.MethodNone,
		Tier:             "Major",
		AddedBy:          model.AddedByAdmin,
		IsActive:         false,
	},
}

var demoPitches = []model.Pitch{
	{
		UserID:      "01HZX0SEED0USER00000000001",
		ShortPitch:  "Nova Hale makes hypnotic warehouse techno. Three finished tracks attached.",
		MediumPitch: "Nova Hale is a techno producer working in dark, driving territory.\n\nThe new EP is mastered and ready for release.",
		SubjectLine: "Demo: Nova Hale, warehouse techno EP",
	},
	{
		UserID:      "01HZX0SEED0USER00000000002",
		ShortPitch:  "Ridgeway: fuzzed-out shoegaze from a bedroom in Leeds.",
		SubjectLine: "Demo: Ridgeway",
	},
}

func seedUsers(ctx context.Context, repo repository.UsersRepository) error {
	for _, u := range demoUsers {
		if err := repo.Upsert(ctx, u); err != nil {
			return fmt.Errorf("upsert user %q: %w", u.Email, err)
		}
	}
	return nil
}

func seedLabels(ctx context.Context, repo repository.LabelsRepository) error {
	for _, l := range demoLabels {
		if err := repo.Upsert(ctx, l); err != nil {
			return fmt.Errorf("upsert label %q: %w", l.Name, err)
		}
	}
	return nil
}

func seedPitches(ctx context.Context, repo repository.PitchesRepository) error {
	for _, p := range demoPitches {
		if err := repo.Upsert(ctx, p); err != nil {
			return fmt.Errorf("upsert pitch for %s: %w", p.UserID, err)
		}
	}
	return nil
}
