package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"devin-backend/internal/analyses"
	"devin-backend/internal/bootstrap"
	"devin-backend/internal/devin"
	"devin-backend/internal/issues"
	"devin-backend/internal/shared/config"
	"devin-backend/internal/shared/storage/db"
	"devin-backend/internal/tasks"
)

const drainTimeout = 30 * time.Second

// workspace is an opened store plus a service with no pollers attached.
type workspace struct {
	Service *analyses.Service
	close   func() error
}

func (w *workspace) Close() error {
	if w == nil || w.close == nil {
		return nil
	}
	return w.close()
}

type openFunc func(ctx context.Context) (*workspace, error)

type issuesFunc func() (issues.Lister, error)

func storeOpener(cfg config.Config) openFunc {
	return func(ctx context.Context) (*workspace, error) {
		sqlDB, repo, err := bootstrap.BuildRepo(ctx, cfg, db.DefaultMigrateOptions())
		if err != nil {
			return nil, err
		}
		registry := tasks.NewRegistry()
		svc := analyses.NewService(repo, bootstrap.BuildGateway(cfg), &analyses.Poller{}, registry)
		return &workspace{
			Service: svc,
			close: func() error {
				drainCtx, cancel := context.WithTimeout(context.Background(), drainTimeout)
				defer cancel()
				if err := registry.Drain(drainCtx); err != nil {
					return fmt.Errorf("wait for pending terminations: %w", err)
				}
				if sqlDB != nil {
					return sqlDB.Close()
				}
				return nil
			},
		}, nil
	}
}

func issuesOpener(cfg config.Config) issuesFunc {
	return func() (issues.Lister, error) {
		client, err := issues.NewClient(cfg.GitHubAPIBase, cfg.GitHubToken)
		if err != nil {
			return nil, err
		}
		return client, nil
	}
}

type keyFlags struct {
	githubURL string
	issueID   int64
}

func (k *keyFlags) bind(cmd *cobra.Command) {
	cmd.Flags().StringVar(&k.githubURL, "github-url", "", "repository URL, e.g. https://github.com/owner/repo")
	cmd.Flags().Int64Var(&k.issueID, "issue-id", 0, "issue number")
	_ = cmd.MarkFlagRequired("github-url")
	_ = cmd.MarkFlagRequired("issue-id")
}

func (k *keyFlags) key() (analyses.Key, error) {
	key := analyses.Key{Repository: strings.TrimSpace(k.githubURL), IssueID: k.issueID}
	return key, key.Validate()
}

func newRootCmd(open openFunc, openIssues issuesFunc) *cobra.Command {
	root := &cobra.Command{
		Use:           "devinctl",
		Short:         "Inspect and manage issue analysis and fix sessions",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.AddCommand(
		newStatusCmd(open),
		newFixStatusCmd(open),
		newDeleteCmd(open),
		newInFlightCmd(open),
		newPromptCmd(),
		newIssuesCmd(openIssues),
	)
	return root
}

func newStatusCmd(open openFunc) *cobra.Command {
	var kf keyFlags
	cmd := &cobra.Command{
		Use:   "status",
		Short: "Show the analysis status for an issue",
		RunE: func(cmd *cobra.Command, args []string) error {
			key, err := kf.key()
			if err != nil {
				return err
			}
			return withWorkspace(cmd.Context(), open, func(ws *workspace) error {
				view, err := ws.Service.GetStatus(cmd.Context(), key)
				if err != nil {
					return err
				}
				return writeJSON(cmd.OutOrStdout(), view)
			})
		},
	}
	kf.bind(cmd)
	return cmd
}

func newFixStatusCmd(open openFunc) *cobra.Command {
	var kf keyFlags
	cmd := &cobra.Command{
		Use:   "fix-status",
		Short: "Show the fix status for an issue",
		RunE: func(cmd *cobra.Command, args []string) error {
			key, err := kf.key()
			if err != nil {
				return err
			}
			return withWorkspace(cmd.Context(), open, func(ws *workspace) error {
				view, err := ws.Service.GetFixStatus(cmd.Context(), key)
				if err != nil {
					return err
				}
				return writeJSON(cmd.OutOrStdout(), view)
			})
		},
	}
	kf.bind(cmd)
	return cmd
}

func newDeleteCmd(open openFunc) *cobra.Command {
	var kf keyFlags
	cmd := &cobra.Command{
		Use:   "delete",
		Short: "Delete the stored record for an issue and terminate its live sessions",
		RunE: func(cmd *cobra.Command, args []string) error {
			key, err := kf.key()
			if err != nil {
				return err
			}
			return withWorkspace(cmd.Context(), open, func(ws *workspace) error {
				if err := ws.Service.Delete(cmd.Context(), key); err != nil {
					return fmt.Errorf("delete %s: %w", key, err)
				}
				fmt.Fprintf(cmd.OutOrStdout(), "deleted %s\n", key)
				return nil
			})
		},
	}
	kf.bind(cmd)
	return cmd
}

type inFlightRow struct {
	GithubURL string          `json:"github_url"`
	IssueID   int64           `json:"issue_id"`
	Lifecycle string          `json:"lifecycle"`
	SessionID string          `json:"session_id"`
	Status    analyses.Status `json:"status"`
	UpdatedAt time.Time       `json:"updated_at"`
}

func newInFlightCmd(open openFunc) *cobra.Command {
	return &cobra.Command{
		Use:   "in-flight",
		Short: "List lifecycles that are still pending or analyzing",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withWorkspace(cmd.Context(), open, func(ws *workspace) error {
				records, err := ws.Service.InFlight(cmd.Context())
				if err != nil {
					return err
				}
				rows := make([]inFlightRow, 0, len(records))
				for _, rec := range records {
					for _, lc := range []analyses.Lifecycle{analyses.LifecycleAnalysis, analyses.LifecycleFix} {
						sessionID, status := rec.Session(lc)
						if sessionID == "" || !status.InFlight() {
							continue
						}
						rows = append(rows, inFlightRow{
							GithubURL: rec.Repository,
							IssueID:   rec.IssueID,
							Lifecycle: string(lc),
							SessionID: sessionID,
							Status:    status,
							UpdatedAt: rec.UpdatedAt,
						})
					}
				}
				return writeJSON(cmd.OutOrStdout(), rows)
			})
		},
	}
}

func newPromptCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "prompt",
		Short: "Render the prompt a session would be started with",
	}

	var (
		analyzeKey   keyFlags
		analyzeTitle string
	)
	analyze := &cobra.Command{
		Use:   "analyze",
		Short: "Render the analysis prompt",
		RunE: func(cmd *cobra.Command, args []string) error {
			key, err := analyzeKey.key()
			if err != nil {
				return err
			}
			_, err = io.WriteString(cmd.OutOrStdout(), devin.BuildAnalyzePrompt(key.Repository, key.IssueID, analyzeTitle))
			return err
		},
	}
	analyzeKey.bind(analyze)
	analyze.Flags().StringVar(&analyzeTitle, "title", "", "issue title")

	var (
		fixKey   keyFlags
		fixTitle string
		plan     string
		planFile string
	)
	fix := &cobra.Command{
		Use:   "fix",
		Short: "Render the fix prompt",
		RunE: func(cmd *cobra.Command, args []string) error {
			key, err := fixKey.key()
			if err != nil {
				return err
			}
			if planFile != "" {
				raw, err := os.ReadFile(planFile)
				if err != nil {
					return fmt.Errorf("read plan: %w", err)
				}
				plan = string(raw)
			}
			if strings.TrimSpace(plan) == "" {
				return analyses.ErrPlanRequired
			}
			_, err = io.WriteString(cmd.OutOrStdout(), devin.BuildFixPrompt(key.Repository, key.IssueID, fixTitle, plan))
			return err
		},
	}
	fixKey.bind(fix)
	fix.Flags().StringVar(&fixTitle, "title", "", "issue title")
	fix.Flags().StringVar(&plan, "plan", "", "plan text")
	fix.Flags().StringVar(&planFile, "plan-file", "", "read the plan from a file")

	cmd.AddCommand(analyze, fix)
	return cmd
}

func newIssuesCmd(open issuesFunc) *cobra.Command {
	var githubURL string
	cmd := &cobra.Command{
		Use:   "issues",
		Short: "List open issues for a repository",
		RunE: func(cmd *cobra.Command, args []string) error {
			lister, err := open()
			if err != nil {
				return err
			}
			found, err := lister.ListOpen(cmd.Context(), githubURL)
			if err != nil {
				return err
			}
			return writeJSON(cmd.OutOrStdout(), found)
		},
	}
	cmd.Flags().StringVar(&githubURL, "github-url", "", "repository URL")
	_ = cmd.MarkFlagRequired("github-url")
	return cmd
}

func withWorkspace(ctx context.Context, open openFunc, fn func(ws *workspace) error) error {
	ws, err := open(ctx)
	if err != nil {
		return fmt.Errorf("open store: %w", err)
	}
	runErr := fn(ws)
	if err := ws.Close(); err != nil && runErr == nil {
		runErr = err
	}
	return runErr
}

func writeJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
