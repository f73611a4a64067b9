package main

import (
	"context"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/fatih/color"
	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"creatorpulse/internal/app"
	"creatorpulse/internal/domain"
	"creatorpulse/internal/usecase/schedule"
	"creatorpulse/internal/usecase/spike"
)

type cli struct {
	newApp func(ctx context.Context) (*app.App, error)
	now    func() time.Time
}

var (
	okColor   = color.New(color.FgGreen)
	warnColor = color.New(color.FgYellow)
	dimColor  = color.New(color.Faint)
)

func newRootCmd(c *cli) *cobra.Command {
	root := &cobra.Command{
		Use:          "pulsectl",
		Short:        "Управление задачами автоматических рассылок",
		SilenceUsage: true,
	}
	root.AddCommand(
		c.applyCmd(),
		c.previewCmd(),
		c.jobsCmd(),
		c.crawlCmd(),
		c.spikesCmd(),
		c.trendsCmd(),
		c.generateCmd(),
		c.migrateCmd(),
	)
	return root
}

// withApp собирает зависимости на время выполнения команды.
func (c *cli) withApp(cmd *cobra.Command, fn func(ctx context.Context, a *app.App) error) error {
	ctx := cmd.Context()
	a, err := c.newApp(ctx)
	if err != nil {
		return err
	}
	defer a.Close()
	return fn(ctx, a)
}

func (c *cli) applyCmd() *cobra.Command {
	var file string
	cmd := &cobra.Command{
		Use:   "apply",
		Short: "Применить YAML-манифест бандлов и задач",
		RunE: func(cmd *cobra.Command, _ []string) error {
			m, err := readManifest(file)
			if err != nil {
				return err
			}
			return c.withApp(cmd, func(ctx context.Context, a *app.App) error {
				jobs, err := applyManifest(ctx, a, m)
				if err != nil {
					return err
				}
				out := cmd.OutOrStdout()
				okColor.Fprintf(out, "применено: бандлов %d, задач %d\n", len(m.Bundles), len(jobs))
				for _, job := range jobs {
					printJob(out, job, c.now())
				}
				return nil
			})
		},
	}
	cmd.Flags().StringVarP(&file, "file", "f", "", "путь к манифесту")
	_ = cmd.MarkFlagRequired("file")
	return cmd
}

func (c *cli) previewCmd() *cobra.Command {
	var (
		file  string
		count int
		from  string
	)
	cmd := &cobra.Command{
		Use:   "preview",
		Short: "Показать ближайшие запуски задач из манифеста без сохранения",
		RunE: func(cmd *cobra.Command, _ []string) error {
			m, err := readManifest(file)
			if err != nil {
				return err
			}
			start := c.now()
			if from != "" {
				if start, err = time.Parse(time.RFC3339, from); err != nil {
					return fmt.Errorf("--from: %w", err)
				}
			}
			return previewManifest(cmd.OutOrStdout(), m, start, count)
		},
	}
	cmd.Flags().StringVarP(&file, "file", "f", "", "путь к манифесту")
	cmd.Flags().IntVarP(&count, "count", "n", 5, "число запусков")
	cmd.Flags().StringVar(&from, "from", "", "момент отсчёта в RFC3339")
	_ = cmd.MarkFlagRequired("file")
	return cmd
}

func previewManifest(out io.Writer, m manifest, from time.Time, n int) error {
	for i, j := range m.Jobs {
		label := j.Topic
		if label == "" {
			label = fmt.Sprintf("задача #%d", i+1)
		}
		cfg, err := schedule.NormalizeConfig(j.Schedule)
		if err != nil {
			warnColor.Fprintf(out, "%s: %v\n", label, err)
			continue
		}
		times, err := schedule.Preview(cfg, from, n)
		if err != nil {
			warnColor.Fprintf(out, "%s: %v\n", label, err)
			continue
		}
		fmt.Fprintf(out, "%s (%s, %s)\n", label, cfg.Schedule.Kind(), cfg.Timezone)
		if len(times) == 0 {
			dimColor.Fprintln(out, "  запуск по сигналу")
			continue
		}
		for _, t := range times {
			fmt.Fprintf(out, "  %s\n", t.Format(time.RFC3339))
		}
	}
	return nil
}

func printJob(out io.Writer, job domain.AutoNewsletterJob, now time.Time) {
	state := okColor.Sprint("active")
	if !job.IsActive {
		state = warnColor.Sprint("disabled")
	}
	next := "по сигналу"
	anchor := job.CreatedAt
	if job.LastGeneratedAt != nil {
		anchor = *job.LastGeneratedAt
	}
	if anchor.IsZero() {
		anchor = now
	}
	if t, ok, err := schedule.NextFireTime(job.Schedule, anchor); err != nil {
		next = err.Error()
	} else if ok {
		next = t.Format(time.RFC3339)
	}
	fmt.Fprintf(out, "%s  %-8s  %-14s  %-20s  next: %s\n", job.ID, state, job.Schedule.Schedule.Kind(), job.Topic, next)
}

func parseJobID(raw string) (uuid.UUID, error) {
	id, err := uuid.Parse(strings.TrimSpace(raw))
	if err != nil {
		return uuid.Nil, fmt.Errorf("некорректный id задачи %q: %w", raw, err)
	}
	return id, nil
}

func (c *cli) jobsCmd() *cobra.Command {
	jobs := &cobra.Command{Use: "jobs", Short: "Задачи рассылок"}

	list := &cobra.Command{
		Use:   "list",
		Short: "Активные задачи",
		RunE: func(cmd *cobra.Command, _ []string) error {
			return c.withApp(cmd, func(ctx context.Context, a *app.App) error {
				items, err := a.Store.ListActiveJobs(ctx)
				if err != nil {
					return err
				}
				for _, job := range items {
					printJob(cmd.OutOrStdout(), job, c.now())
				}
				return nil
			})
		},
	}

	setActive := func(use, short string, active bool) *cobra.Command {
		return &cobra.Command{
			Use:   use + " JOB_ID",
			Short: short,
			Args:  cobra.ExactArgs(1),
			RunE: func(cmd *cobra.Command, args []string) error {
				id, err := parseJobID(args[0])
				if err != nil {
					return err
				}
				return c.withApp(cmd, func(ctx context.Context, a *app.App) error {
					if err := a.Schedules.SetActive(ctx, id, active); err != nil {
						return err
					}
					okColor.Fprintf(cmd.OutOrStdout(), "%s: %s\n", id, use+"d")
					return nil
				})
			},
		}
	}

	var days int
	analytics := &cobra.Command{
		Use:   "analytics JOB_ID",
		Short: "Статистика генераций и всплесков задачи",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := parseJobID(args[0])
			if err != nil {
				return err
			}
			return c.withApp(cmd, func(ctx context.Context, a *app.App) error {
				gen, err := a.Schedules.Analytics(ctx, id, days, c.now())
				if err != nil {
					return err
				}
				sp, err := a.Spikes.Analytics(ctx, id, days)
				if err != nil {
					return err
				}
				out := cmd.OutOrStdout()
				fmt.Fprintf(out, "генераций: %d, средний интервал: %.2f ч\n", gen.TotalGenerations, gen.AvgIntervalHours)
				if gen.LastGeneratedAt != nil {
					fmt.Fprintf(out, "последняя: %s\n", gen.LastGeneratedAt.Format(time.RFC3339))
				}
				fmt.Fprintf(out, "всплесков: %d, средняя оценка: %.2f, динамика: %s\n", sp.Total, sp.AvgScore, sp.Trend)
				for _, s := range sp.TopSources {
					dimColor.Fprintf(out, "  %s: %d\n", s.SourceID, s.Count)
				}
				return nil
			})
		},
	}
	analytics.Flags().IntVar(&days, "days", 30, "период в днях")

	jobs.AddCommand(list, setActive("enable", "Включить задачу", true), setActive("disable", "Отключить задачу", false), analytics)
	return jobs
}

func (c *cli) crawlCmd() *cobra.Command {
	var bundleKey string
	cmd := &cobra.Command{
		Use:   "crawl",
		Short: "Однократно обойти источники",
		RunE: func(cmd *cobra.Command, _ []string) error {
			return c.withApp(cmd, func(ctx context.Context, a *app.App) error {
				if bundleKey == "" {
					report, err := a.Ingest.CrawlAll(ctx)
					if err != nil {
						return err
					}
					okColor.Fprintf(cmd.OutOrStdout(), "источников: %d, выгружено: %d, новых: %d, удалено старых: %d\n", report.Sources, report.Fetched, report.Inserted, report.Swept)
					return nil
				}
				bundle, err := a.Store.GetBundleByKey(ctx, bundleKey)
				if err != nil {
					return fmt.Errorf("бандл %q: %w", bundleKey, err)
				}
				report, err := a.Ingest.CrawlBundle(ctx, bundle.ID)
				if err != nil {
					return err
				}
				okColor.Fprintf(cmd.OutOrStdout(), "источников: %d, выгружено: %d, новых: %d\n", report.Sources, report.Fetched, report.Inserted)
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&bundleKey, "bundle", "", "ключ бандла")
	return cmd
}

func (c *cli) spikesCmd() *cobra.Command {
	spikes := &cobra.Command{Use: "spikes", Short: "Всплески вовлечённости"}
	var (
		threshold float64
		window    time.Duration
	)
	detect := &cobra.Command{
		Use:   "detect JOB_ID",
		Short: "Найти всплески по источникам задачи",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := parseJobID(args[0])
			if err != nil {
				return err
			}
			return c.withApp(cmd, func(ctx context.Context, a *app.App) error {
				events, err := a.Spikes.Detect(ctx, id, spike.Options{Threshold: threshold, Window: window})
				if err != nil {
					return err
				}
				out := cmd.OutOrStdout()
				if len(events) == 0 {
					dimColor.Fprintln(out, "новых всплесков нет")
					return nil
				}
				for _, e := range events {
					warnColor.Fprintf(out, "%.3f  %s  %s\n", e.SpikeScore, e.ContentTitle, e.ContentURL)
				}
				return nil
			})
		},
	}
	detect.Flags().Float64Var(&threshold, "threshold", spike.DefaultThreshold, "порог в стандартных отклонениях")
	detect.Flags().DurationVar(&window, "window", spike.DefaultWindow, "окно записей")
	spikes.AddCommand(detect)
	return spikes
}

func (c *cli) trendsCmd() *cobra.Command {
	trends := &cobra.Command{Use: "trends", Short: "Оценки трендов"}
	var region string
	detect := &cobra.Command{
		Use:   "detect KEYWORD...",
		Short: "Запросить оценки ключевых слов",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return c.withApp(cmd, func(ctx context.Context, a *app.App) error {
				for _, r := range a.Trends.DetectForKeywords(ctx, args, region) {
					fmt.Fprintf(cmd.OutOrStdout(), "%-24s %6.2f  %s\n", r.Keyword, r.Score, r.Region)
				}
				return nil
			})
		},
	}
	detect.Flags().StringVar(&region, "region", "", "регион (по умолчанию US)")
	trends.AddCommand(detect)
	return trends
}

func (c *cli) generateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "generate JOB_ID",
		Short: "Сгенерировать черновик задачи вне расписания",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := parseJobID(args[0])
			if err != nil {
				return err
			}
			return c.withApp(cmd, func(ctx context.Context, a *app.App) error {
				job, err := a.Store.GetJob(ctx, id)
				if err != nil {
					return fmt.Errorf("задача %s: %w", id, err)
				}
				draft, err := a.Pipeline.Run(ctx, job)
				if err != nil {
					return err
				}
				out := cmd.OutOrStdout()
				okColor.Fprintf(out, "черновик %s: %s\n", draft.ID, draft.Title)
				fmt.Fprintln(out, draft.Body)
				return nil
			})
		},
	}
}

func (c *cli) migrateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Применить миграции Postgres",
		RunE: func(cmd *cobra.Command, _ []string) error {
			return c.withApp(cmd, func(_ context.Context, a *app.App) error {
				if a.Config.StoreDriver != "postgres" {
					warnColor.Fprintln(cmd.OutOrStdout(), "STORE_DRIVER не postgres, миграции не нужны")
					return nil
				}
				okColor.Fprintln(cmd.OutOrStdout(), "миграции применены")
				return nil
			})
		},
	}
}
