package main

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/chzyer/readline"
	"github.com/spf13/cobra"

	"github.com/dotsetgreg/dotmemory/pkg/memory"
)

const shellHelp = `Commands:
  add <category> <importance> <content>   Store a memory
  search <query>                           Relevant memories for a prompt
  list [user|session] [query]              List a bucket
  stats                                    Show counts as JSON
  clear <user|session>                     Delete a bucket
  export [file]                            Export both buckets
  help                                     Show this help
  exit                                     Leave the shell`

func newShellCommand(opts *globalOptions) *cobra.Command {
	return &cobra.Command{
		Use:     "shell",
		Short:   "Interactive memory console",
		Long:    "Open a readline console bound to the selected user and session.",
		Example: "  dotmemory shell --user alice --session planning",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withService(cmd, opts, func(ctx context.Context, svc *memory.Service) error {
				fmt.Fprintf(cmd.OutOrStdout(), "%s shell for user %q session %q (Ctrl+C to exit)\n\n", appName, opts.userID, opts.sessionID)
				interactiveMode(ctx, &console{svc: svc, out: cmd.OutOrStdout()})
				return nil
			})
		},
	}
}

func interactiveMode(ctx context.Context, c *console) {
	rl, err := readline.NewEx(&readline.Config{
		Prompt:          fmt.Sprintf("%s> ", appName),
		HistoryFile:     filepath.Join(os.TempDir(), ".dotmemory_history"),
		HistoryLimit:    100,
		InterruptPrompt: "^C",
		EOFPrompt:       "exit",
	})
	if err != nil {
		fmt.Fprintf(c.out, "Error initializing readline: %v\n", err)
		fmt.Fprintln(c.out, "Falling back to simple input mode...")
		simpleInteractiveMode(ctx, c, os.Stdin)
		return
	}
	defer rl.Close()

	for {
		line, err := rl.Readline()
		if err != nil {
			if err == readline.ErrInterrupt || err == io.EOF {
				fmt.Fprintln(c.out, "\nGoodbye!")
				return
			}
			fmt.Fprintf(c.out, "Error reading input: %v\n", err)
			continue
		}
		if !c.exec(ctx, line) {
			fmt.Fprintln(c.out, "Goodbye!")
			return
		}
	}
}

func simpleInteractiveMode(ctx context.Context, c *console, in io.Reader) {
	reader := bufio.NewReader(in)
	for {
		fmt.Fprintf(c.out, "%s> ", appName)
		line, err := reader.ReadString('\n')
		if err != nil {
			if err == io.EOF {
				fmt.Fprintln(c.out, "\nGoodbye!")
				return
			}
			fmt.Fprintf(c.out, "Error reading input: %v\n", err)
			continue
		}
		if !c.exec(ctx, line) {
			fmt.Fprintln(c.out, "Goodbye!")
			return
		}
	}
}

type console struct {
	svc *memory.Service
	out io.Writer
}

// exec runs one console line and reports whether the session continues.
func (c *console) exec(ctx context.Context, line string) bool {
	fields := strings.Fields(line)
	if len(fields) == 0 {
		return true
	}
	verb, args := strings.ToLower(fields[0]), fields[1:]

	switch verb {
	case "exit", "quit":
		return false
	case "help", "?":
		fmt.Fprintln(c.out, shellHelp)
	case "add":
		if len(args) < 3 {
			fmt.Fprintln(c.out, "Usage: add <category> <importance> <content>")
			return true
		}
		stored := c.svc.StoreMemories(ctx, []memory.Candidate{{
			Category:   args[0],
			Importance: args[1],
			Content:    strings.Join(args[2:], " "),
			Type:       string(memory.BucketUser),
		}})
		if stored == 0 {
			fmt.Fprintln(c.out, "Memory rejected")
		} else {
			fmt.Fprintln(c.out, "Stored 1 memory")
		}
	case "search":
		limit := 10
		if len(args) > 1 {
			if n, err := strconv.Atoi(args[len(args)-1]); err == nil && n > 0 {
				limit = n
				args = args[:len(args)-1]
			}
		}
		records := c.svc.GetRelevantMemories(ctx, strings.Join(args, " "), limit, true)
		if len(records) == 0 {
			fmt.Fprintln(c.out, "No memories found")
		} else {
			fmt.Fprintln(c.out, c.svc.FormatForPrompt(records))
		}
	case "list":
		bucket := memory.BucketUser
		if len(args) > 0 {
			b, err := memory.ParseBucket(args[0])
			if err != nil {
				fmt.Fprintf(c.out, "Error: %v\n", err)
				return true
			}
			bucket, args = b, args[1:]
		}
		query := strings.Join(args, " ")
		if bucket == memory.BucketUser {
			printRecords(c.out, c.svc.GetUserMemories(query))
		} else {
			printRecords(c.out, c.svc.GetSessionMemories(query))
		}
	case "stats":
		if err := writeJSON(c.out, c.svc.GetMemoryStats(ctx)); err != nil {
			fmt.Fprintf(c.out, "Error: %v\n", err)
		}
	case "clear":
		if len(args) != 1 {
			fmt.Fprintln(c.out, "Usage: clear <user|session>")
			return true
		}
		if err := c.svc.ClearMemories(ctx, args[0]); err != nil {
			fmt.Fprintf(c.out, "Error: %v\n", err)
			return true
		}
		fmt.Fprintf(c.out, "Cleared %s memories\n", strings.ToLower(args[0]))
	case "export":
		exp := c.svc.ExportMemories()
		if len(args) == 0 {
			_ = writeJSON(c.out, exp)
			return true
		}
		if err := writeExportFile(args[0], exp); err != nil {
			fmt.Fprintf(c.out, "Error: %v\n", err)
			return true
		}
		fmt.Fprintf(c.out, "Exported to %s\n", args[0])
	default:
		fmt.Fprintf(c.out, "Unknown command %q; type help\n", verb)
	}
	return true
}
