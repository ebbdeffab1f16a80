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

	"github.com/dotsetgreg/dotmemory/pkg/config"
	"github.com/dotsetgreg/dotmemory/pkg/memory"
)

func executeCLI() error {
	root := buildRootCommand(true)
	return root.Execute()
}

func buildRootCommand(includeDocsCommand bool) *cobra.Command {
	var showVersion bool
	opts := &globalOptions{}

	root := &cobra.Command{
		Use:   "dotmemory",
		Short: "Conversational memory store with extraction, dedup, and hybrid retrieval",
		Long: strings.TrimSpace(`dotmemory keeps long-lived user memories and short-lived session memories
extracted from conversation turns.

Use CLI commands to initialize storage, add or extract memories, search them,
move them between machines with export/import, and run scheduled backups.`),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			if showVersion {
				printVersion(cmd.OutOrStdout())
				return nil
			}
			_ = cmd.Help()
			return fmt.Errorf("a subcommand is required")
		},
	}
	root.CompletionOptions.DisableDefaultCmd = true
	root.Flags().BoolVarP(&showVersion, "version", "v", false, "Show build/version metadata")

	pf := root.PersistentFlags()
	pf.StringVar(&opts.configPath, "config", "", "Config file path (default ~/.dotmemory/config.json)")
	pf.StringVarP(&opts.userID, "user", "u", defaultUserID(), "User id owning long-lived memories")
	pf.StringVarP(&opts.sessionID, "session", "s", "cli:default", "Session id owning short-lived memories")
	pf.BoolVarP(&opts.debug, "debug", "d", false, "Enable debug logging")

	root.AddCommand(newInitCommand(opts))
	root.AddCommand(newAddCommand(opts))
	root.AddCommand(newSubmitCommand(opts))
	root.AddCommand(newSearchCommand(opts))
	root.AddCommand(newListCommand(opts))
	root.AddCommand(newStatsCommand(opts))
	root.AddCommand(newClearCommand(opts))
	root.AddCommand(newExportCommand(opts))
	root.AddCommand(newImportCommand(opts))
	root.AddCommand(newBackupCommand(opts))
	root.AddCommand(newShellCommand(opts))
	root.AddCommand(newVersionCommand())

	if includeDocsCommand {
		docsCmd := newDocsCommand(func() *cobra.Command { return buildRootCommand(false) })
		root.AddCommand(docsCmd)
	}

	return root
}

// withService opens the runtime, runs fn and closes the service, which also
// waits for any extraction fn scheduled.
func withService(cmd *cobra.Command, opts *globalOptions, fn func(ctx context.Context, svc *memory.Service) error) error {
	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}
	rt, err := opts.openRuntime(ctx)
	if err != nil {
		return err
	}
	runErr := fn(ctx, rt.Service)
	if closeErr := rt.Service.Close(); closeErr != nil && runErr == nil {
		runErr = closeErr
	}
	return runErr
}

func newInitCommand(opts *globalOptions) *cobra.Command {
	var force bool

	cmd := &cobra.Command{
		Use:     "init",
		Short:   "Write a default config and create the storage directory",
		Long:    "Create ~/.dotmemory/config.json (or --config) with defaults and create the storage root it names.",
		Example: "  dotmemory init\n  dotmemory init --config ./dotmemory.json --force",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runInit(cmd.OutOrStdout(), opts.resolvedConfigPath(), force)
		},
	}
	cmd.Flags().BoolVarP(&force, "force", "f", false, "Overwrite an existing config file")
	return cmd
}

func runInit(out io.Writer, path string, force bool) error {
	if _, err := os.Stat(path); err == nil && !force {
		return fmt.Errorf("config already exists at %s (use --force to overwrite)", path)
	}
	cfg := config.DefaultConfig()
	if err := config.SaveConfig(path, cfg); err != nil {
		return fmt.Errorf("save config: %w", err)
	}
	if err := os.MkdirAll(cfg.StoragePath(), 0o755); err != nil {
		return fmt.Errorf("create storage dir: %w", err)
	}
	fmt.Fprintf(out, "Config written to %s\n", path)
	fmt.Fprintf(out, "Storage: %s\n", cfg.StoragePath())
	return nil
}

func newAddCommand(opts *globalOptions) *cobra.Command {
	var category, importance, bucket string

	cmd := &cobra.Command{
		Use:   "add <content>",
		Short: "Store a memory directly, bypassing extraction",
		Args:  cobra.MinimumNArgs(1),
		Example: strings.Join([]string{
			"  dotmemory add \"User prefers tea over coffee\" --category preferences",
			"  dotmemory add \"Working on the Q3 report\" --category projects --type session",
		}, "\n"),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withService(cmd, opts, func(ctx context.Context, svc *memory.Service) error {
				stored := svc.StoreMemories(ctx, []memory.Candidate{{
					Content:    strings.Join(args, " "),
					Category:   category,
					Importance: importance,
					Type:       bucket,
				}})
				if stored == 0 {
					return fmt.Errorf("memory rejected: check content length, category, and importance")
				}
				fmt.Fprintln(cmd.OutOrStdout(), "Stored 1 memory")
				return nil
			})
		},
	}
	cmd.Flags().StringVarP(&category, "category", "c", string(memory.CategoryPersonalFacts), "One of personal_facts, preferences, goals, events, skills, projects")
	cmd.Flags().StringVarP(&importance, "importance", "i", string(memory.ImportanceMedium), "One of high, medium, low")
	cmd.Flags().StringVarP(&bucket, "type", "t", string(memory.BucketUser), "Bucket hint: user or session")
	return cmd
}

func newSubmitCommand(opts *globalOptions) *cobra.Command {
	var (
		messages []string
		response string
	)

	cmd := &cobra.Command{
		Use:   "submit",
		Short: "Extract memories from one conversation turn",
		Long:  "Submit a conversation turn for extraction and wait for it to finish.",
		Example: strings.Join([]string{
			"  dotmemory submit --message \"user:My name is Ada and I live in London\" --response \"Nice to meet you, Ada!\"",
		}, "\n"),
		RunE: func(cmd *cobra.Command, args []string) error {
			turn, err := parseMessages(messages)
			if err != nil {
				return err
			}
			return withService(cmd, opts, func(ctx context.Context, svc *memory.Service) error {
				before := svc.GetMemoryStats(ctx).TotalMemories
				if !svc.SubmitTurn(turn, response) {
					fmt.Fprintln(cmd.OutOrStdout(), "Turn already submitted")
					return nil
				}
				svc.Wait()
				after := svc.GetMemoryStats(ctx).TotalMemories
				fmt.Fprintf(cmd.OutOrStdout(), "Extraction finished: %d memories total (%+d)\n", after, after-before)
				return nil
			})
		},
	}
	cmd.Flags().StringArrayVarP(&messages, "message", "m", nil, "Turn message as role:content (repeatable)")
	cmd.Flags().StringVarP(&response, "response", "r", "", "Assistant response for the turn")
	_ = cmd.MarkFlagRequired("message")
	return cmd
}

func parseMessages(raw []string) ([]memory.Message, error) {
	out := make([]memory.Message, 0, len(raw))
	for _, m := range raw {
		role, content, ok := strings.Cut(m, ":")
		role = strings.TrimSpace(role)
		if !ok || role == "" {
			return nil, fmt.Errorf("invalid --message %q: expected role:content", m)
		}
		out = append(out, memory.Message{Role: role, Content: strings.TrimSpace(content)})
	}
	return out, nil
}

func newSearchCommand(opts *globalOptions) *cobra.Command {
	var (
		limit     int
		useVector bool
	)

	cmd := &cobra.Command{
		Use:   "search [query]",
		Short: "Retrieve relevant memories formatted for a prompt",
		Example: strings.Join([]string{
			"  dotmemory search coffee",
			"  dotmemory search \"travel plans\" --limit 5 --vector",
		}, "\n"),
		RunE: func(cmd *cobra.Command, args []string) error {
			query := strings.Join(args, " ")
			return withService(cmd, opts, func(ctx context.Context, svc *memory.Service) error {
				records := svc.GetRelevantMemories(ctx, query, limit, useVector)
				if len(records) == 0 {
					fmt.Fprintln(cmd.OutOrStdout(), "No memories found")
					return nil
				}
				fmt.Fprintln(cmd.OutOrStdout(), svc.FormatForPrompt(records))
				return nil
			})
		},
	}
	cmd.Flags().IntVarP(&limit, "limit", "l", 10, "Maximum memories to return")
	cmd.Flags().BoolVar(&useVector, "vector", true, "Query the vector index when one is configured")
	return cmd
}

func newListCommand(opts *globalOptions) *cobra.Command {
	var bucket, query string

	cmd := &cobra.Command{
		Use:     "list",
		Short:   "List stored memories for one bucket",
		Example: "  dotmemory list --bucket session --query report",
		RunE: func(cmd *cobra.Command, args []string) error {
			b, err := memory.ParseBucket(bucket)
			if err != nil {
				return err
			}
			return withService(cmd, opts, func(ctx context.Context, svc *memory.Service) error {
				var records []memory.Record
				if b == memory.BucketUser {
					records = svc.GetUserMemories(query)
				} else {
					records = svc.GetSessionMemories(query)
				}
				printRecords(cmd.OutOrStdout(), records)
				return nil
			})
		},
	}
	cmd.Flags().StringVarP(&bucket, "bucket", "b", string(memory.BucketUser), "Bucket to list: user or session")
	cmd.Flags().StringVarP(&query, "query", "q", "", "Case-insensitive substring filter")
	return cmd
}

func printRecords(out io.Writer, records []memory.Record) {
	if len(records) == 0 {
		fmt.Fprintln(out, "No memories")
		return
	}
	for _, r := range records {
		fmt.Fprintf(out, "%s  [%s/%s]  %s\n", r.Timestamp.Local().Format(time.DateTime), r.Category, r.Importance, r.Content)
	}
}

func newStatsCommand(opts *globalOptions) *cobra.Command {
	return &cobra.Command{
		Use:     "stats",
		Short:   "Show memory counts and vector backend status as JSON",
		Example: "  dotmemory stats",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withService(cmd, opts, func(ctx context.Context, svc *memory.Service) error {
				return writeJSON(cmd.OutOrStdout(), svc.GetMemoryStats(ctx))
			})
		},
	}
}

func newClearCommand(opts *globalOptions) *cobra.Command {
	return &cobra.Command{
		Use:       "clear <user|session>",
		Short:     "Delete every memory in one bucket",
		Args:      cobra.ExactArgs(1),
		ValidArgs: []string{string(memory.BucketUser), string(memory.BucketSession)},
		Example:   "  dotmemory clear session",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withService(cmd, opts, func(ctx context.Context, svc *memory.Service) error {
				if err := svc.ClearMemories(ctx, args[0]); err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "Cleared %s memories\n", strings.ToLower(args[0]))
				return nil
			})
		},
	}
}

func newExportCommand(opts *globalOptions) *cobra.Command {
	var outPath string

	cmd := &cobra.Command{
		Use:     "export",
		Short:   "Write both buckets as a portable JSON document",
		Example: "  dotmemory export --out memories.json",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withService(cmd, opts, func(ctx context.Context, svc *memory.Service) error {
				exp := svc.ExportMemories()
				if strings.TrimSpace(outPath) == "" {
					return writeJSON(cmd.OutOrStdout(), exp)
				}
				if err := writeExportFile(outPath, exp); err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "Exported %d user and %d session memories to %s\n",
					len(exp.UserMemories), len(exp.SessionMemories), outPath)
				return nil
			})
		},
	}
	cmd.Flags().StringVarP(&outPath, "out", "o", "", "Output file (default stdout)")
	return cmd
}

func newImportCommand(opts *globalOptions) *cobra.Command {
	return &cobra.Command{
		Use:     "import <file>",
		Short:   "Merge an exported JSON document into the stores",
		Args:    cobra.ExactArgs(1),
		Example: "  dotmemory import memories.json",
		RunE: func(cmd *cobra.Command, args []string) error {
			raw, err := os.ReadFile(args[0])
			if err != nil {
				return fmt.Errorf("read import file: %w", err)
			}
			return withService(cmd, opts, func(ctx context.Context, svc *memory.Service) error {
				if err := svc.ImportMemories(ctx, raw); err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "Imported %s\n", args[0])
				return nil
			})
		},
	}
}

func newVersionCommand() *cobra.Command {
	return &cobra.Command{
		Use:     "version",
		Short:   "Show build/version metadata",
		Example: "  dotmemory version",
		RunE: func(cmd *cobra.Command, args []string) error {
			printVersion(cmd.OutOrStdout())
			return nil
		},
	}
}

func writeJSON(out io.Writer, v interface{}) error {
	enc := json.NewEncoder(out)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func writeExportFile(path string, exp memory.Export) error {
	data, err := json.MarshalIndent(exp, "", "  ")
	if err != nil {
		return err
	}
	if err := os.WriteFile(path, data, 0o600); err != nil {
		return fmt.Errorf("write export: %w", err)
	}
	return nil
}
