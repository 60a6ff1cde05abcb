package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/flowly/internal/cache"
	"github.com/flowly/internal/config"
	"github.com/flowly/internal/db"
	"github.com/flowly/internal/planner"
	"github.com/flowly/internal/service"
	"github.com/flowly/internal/store"
	"github.com/flowly/internal/syncer"
	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"
	"gorm.io/gorm"
)

type app struct {
	db      *gorm.DB
	planner *service.PlannerService
}

func (o *rootOptions) open() (*app, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, err
	}
	if o.database != "" {
		cfg.DatabasePath = o.database
		if o.remote == "" {
			cfg.RemoteDSN = o.database
		}
	}
	if o.remote != "" {
		cfg.RemoteDSN = o.remote
	}

	if err := db.Init(cfg.DatabasePath); err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	remoteDB := db.DB
	if cfg.RemoteDSN != cfg.DatabasePath {
		if remoteDB, err = db.OpenRemote(cfg.RemoteDSN, nil); err != nil {
			return nil, fmt.Errorf("open remote: %w", err)
		}
	} else if err := db.MigrateRemote(remoteDB); err != nil {
		return nil, fmt.Errorf("migrate remote: %w", err)
	}

	engine := planner.NewEngine()
	svc := service.NewPlannerService(engine, cache.NewStore(db.DB, engine), service.PlannerOptions{
		Syncer:      syncer.New(store.NewGormStore(remoteDB)),
		Location:    cfg.Location(),
		PushTimeout: cfg.PushTimeout,
	})
	return &app{db: db.DB, planner: svc}, nil
}

func (a *app) Close() {
	a.planner.Close()
	if sqlDB, err := a.db.DB(); err == nil {
		sqlDB.Close()
	}
}

// print 把 v 输出为缩进 JSON，或字段名相同的块状 YAML
func (o *rootOptions) print(w io.Writer, v interface{}) error {
	raw, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return err
	}
	switch strings.ToLower(o.output) {
	case "json":
		_, err = fmt.Fprintln(w, string(raw))
		return err
	case "yaml", "yml", "":
		var node yaml.Node
		if err := yaml.Unmarshal(raw, &node); err != nil {
			return err
		}
		blockStyle(&node)
		enc := yaml.NewEncoder(w)
		enc.SetIndent(2)
		if err := enc.Encode(&node); err != nil {
			return err
		}
		return enc.Close()
	default:
		return fmt.Errorf("unknown output format %q", o.output)
	}
}

func blockStyle(n *yaml.Node) {
	n.Style &^= yaml.FlowStyle | yaml.DoubleQuotedStyle
	for _, child := range n.Content {
		blockStyle(child)
	}
}

func parseDateFlag(svc *service.PlannerService, raw string) (planner.Date, error) {
	if strings.TrimSpace(raw) == "" {
		return svc.Today(), nil
	}
	return planner.ParseDate(raw)
}

func materializeCmd(opts *rootOptions) *cobra.Command {
	var date, view string
	cmd := &cobra.Command{
		Use:   "materialize",
		Short: "Print the tasks shown for a day, week or month",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := opts.open()
			if err != nil {
				return err
			}
			defer a.Close()

			anchor, err := parseDateFlag(a.planner, date)
			if err != nil {
				return err
			}
			days, err := a.planner.View(opts.user, view, anchor)
			if err != nil {
				return err
			}
			type dayOutput struct {
				planner.DayView
				Progress planner.Progress `json:"progress"`
			}
			out := make([]dayOutput, 0, len(days))
			for _, d := range days {
				out = append(out, dayOutput{DayView: d, Progress: planner.ProgressOf(d.Items)})
			}
			return opts.print(cmd.OutOrStdout(), out)
		},
	}
	cmd.Flags().StringVarP(&date, "date", "d", "", "Anchor date (YYYY-MM-DD), defaults to today")
	cmd.Flags().StringVar(&view, "view", service.ViewToday, "View: today, week or month")
	return cmd
}

func normalizeCmd(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "normalize",
		Short: "Repair the cached planner and report what changed",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := opts.open()
			if err != nil {
				return err
			}
			defer a.Close()

			// LoadState 会执行修复并在有变化时写回缓存
			_, report, err := cache.NewStore(a.db, planner.NewEngine()).LoadState(cache.Namespace(opts.user))
			if err != nil {
				return err
			}
			parseErrors := make([]string, 0, len(report.ParseErrors))
			for _, perr := range report.ParseErrors {
				parseErrors = append(parseErrors, perr.Error())
			}
			return opts.print(cmd.OutOrStdout(), map[string]interface{}{
				"namespace":   cache.Namespace(opts.user),
				"parseErrors": parseErrors,
				"imported":    report.Imported,
				"normalized":  report.Normalized,
				"rewritten":   report.Rewritten,
			})
		},
	}
}

func importLegacyCmd(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "import-legacy [file]",
		Short: "Import dailyRoutine/weeklyRecurringTasks data exported from an old client",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			raw, err := os.ReadFile(args[0])
			if err != nil {
				return err
			}
			var data planner.LegacyData
			if err := json.Unmarshal(raw, &data); err != nil {
				return fmt.Errorf("parse legacy data: %w", err)
			}

			a, err := opts.open()
			if err != nil {
				return err
			}
			defer a.Close()

			report, err := a.planner.ImportLegacy(opts.user, data)
			if err != nil {
				return err
			}
			return opts.print(cmd.OutOrStdout(), report)
		},
	}
}

func syncCmd(opts *rootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "sync",
		Short: "Load from or push to the remote store",
	}
	cmd.AddCommand(&cobra.Command{
		Use:   "load",
		Short: "Replace the cached tasks with the remote copy",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := opts.open()
			if err != nil {
				return err
			}
			defer a.Close()

			report, err := a.planner.Load(context.Background(), opts.user)
			if err != nil {
				return err
			}
			return opts.print(cmd.OutOrStdout(), report)
		},
	})
	cmd.AddCommand(&cobra.Command{
		Use:   "push",
		Short: "Mirror the cached planner to the remote store",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := opts.open()
			if err != nil {
				return err
			}
			defer a.Close()

			if err := a.planner.Push(context.Background(), opts.user); err != nil {
				return err
			}
			return opts.print(cmd.OutOrStdout(), map[string]string{"status": "ok"})
		},
	})
	return cmd
}

func createUserCmd(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "create-user [username] [password]",
		Short: "Create an account and print its user id",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := opts.open()
			if err != nil {
				return err
			}
			defer a.Close()

			user, err := service.NewUserService(a.db).Register(args[0], args[1])
			if err != nil {
				return err
			}
			return opts.print(cmd.OutOrStdout(), map[string]string{"id": user.UUID, "username": user.Username})
		},
	}
}
