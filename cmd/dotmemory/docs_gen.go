package main

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path"
	"path/filepath"
	"reflect"
	"sort"
	"strings"

	"github.com/spf13/cobra"
	cobraDoc "github.com/spf13/cobra/doc"

	"github.com/dotsetgreg/dotmemory/pkg/config"
	"github.com/dotsetgreg/dotmemory/pkg/providers"
)

// Directories whose whole content is owned by the generator. Files found
// there that the generator did not produce are stale.
var generatedDirs = []string{"reference/cli", "reference/man"}

func newDocsCommand(rootFactory func() *cobra.Command) *cobra.Command {
	var (
		outputDir string
		checkOnly bool
	)

	gen := &cobra.Command{
		Use:   "generate",
		Short: "Render CLI, config and provider reference docs",
		RunE: func(cmd *cobra.Command, args []string) error {
			if strings.TrimSpace(outputDir) == "" {
				return fmt.Errorf("--output must not be empty")
			}
			docs, err := renderReferenceDocs(rootFactory())
			if err != nil {
				return err
			}
			if checkOnly {
				return docs.check(outputDir)
			}
			if err := docs.write(outputDir); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Wrote %d reference files under %s\n", len(docs), outputDir)
			return nil
		},
	}
	gen.Flags().StringVar(&outputDir, "output", "docs", "Docs directory root")
	gen.Flags().BoolVar(&checkOnly, "check", false, "Fail if the docs under --output are out of date")

	docsRoot := &cobra.Command{
		Use:    "docs",
		Short:  "Internal docs maintenance commands",
		Hidden: true,
	}
	docsRoot.AddCommand(gen)
	return docsRoot
}

// docSet holds rendered documents keyed by slash-separated path relative to
// the docs root.
type docSet map[string][]byte

func renderReferenceDocs(root *cobra.Command) (docSet, error) {
	docs := docSet{}
	if err := docs.addCommandTree(root); err != nil {
		return nil, err
	}
	docs["reference/config.md"] = []byte(buildConfigReferenceMarkdown())
	docs["reference/providers.md"] = []byte(buildProvidersReferenceMarkdown())
	return docs, nil
}

// addCommandTree renders one markdown page and one man page per available
// command, using the file names cobra's tree generators would pick.
func (d docSet) addCommandTree(cmd *cobra.Command) error {
	cmd.DisableAutoGenTag = true
	base := strings.ReplaceAll(cmd.CommandPath(), " ", "_")

	var md bytes.Buffer
	md.WriteString("# " + strings.ReplaceAll(base, "_", " ") + "\n\n")
	if err := cobraDoc.GenMarkdownCustom(cmd, &md, func(name string) string { return name }); err != nil {
		return fmt.Errorf("render markdown for %s: %w", cmd.CommandPath(), err)
	}
	d["reference/cli/"+base+".md"] = md.Bytes()

	header := cobraDoc.GenManHeader{Title: "DOTMEMORY", Section: "1", Source: appName}
	var man bytes.Buffer
	if err := cobraDoc.GenMan(cmd, &header, &man); err != nil {
		return fmt.Errorf("render man page for %s: %w", cmd.CommandPath(), err)
	}
	d["reference/man/"+strings.ReplaceAll(cmd.CommandPath(), " ", "-")+".1"] = man.Bytes()

	for _, child := range cmd.Commands() {
		if !child.IsAvailableCommand() || child.IsAdditionalHelpTopicCommand() {
			continue
		}
		if err := d.addCommandTree(child); err != nil {
			return err
		}
	}
	return nil
}

func (d docSet) sortedPaths() []string {
	paths := make([]string, 0, len(d))
	for p := range d {
		paths = append(paths, p)
	}
	sort.Strings(paths)
	return paths
}

// write replaces the generated directories under dir and writes every
// document.
func (d docSet) write(dir string) error {
	for _, gd := range generatedDirs {
		if err := os.RemoveAll(filepath.Join(dir, filepath.FromSlash(gd))); err != nil {
			return fmt.Errorf("clear %s: %w", gd, err)
		}
	}
	for _, p := range d.sortedPaths() {
		target := filepath.Join(dir, filepath.FromSlash(p))
		if err := os.MkdirAll(filepath.Dir(target), 0o755); err != nil {
			return fmt.Errorf("create parent dir for %s: %w", p, err)
		}
		if err := os.WriteFile(target, d[p], 0o644); err != nil {
			return fmt.Errorf("write %s: %w", p, err)
		}
	}
	return nil
}

// check reports the first document under dir that is missing, differs, or
// sits in a generated directory without being generated.
func (d docSet) check(dir string) error {
	for _, p := range d.sortedPaths() {
		onDisk, err := os.ReadFile(filepath.Join(dir, filepath.FromSlash(p)))
		if errors.Is(err, fs.ErrNotExist) {
			return fmt.Errorf("docs out of date: missing %s; run `%s docs generate`", p, appName)
		}
		if err != nil {
			return err
		}
		if !bytes.Equal(onDisk, d[p]) {
			return fmt.Errorf("docs out of date: %s differs; run `%s docs generate`", p, appName)
		}
	}
	for _, gd := range generatedDirs {
		entries, err := os.ReadDir(filepath.Join(dir, filepath.FromSlash(gd)))
		if err != nil {
			return fmt.Errorf("docs out of date: missing %s", gd)
		}
		for _, e := range entries {
			if _, ok := d[path.Join(gd, e.Name())]; !ok {
				return fmt.Errorf("docs out of date: stale %s", path.Join(gd, e.Name()))
			}
		}
	}
	return nil
}

// configRow is one leaf setting of config.Config.
type configRow struct {
	key, kind, env, def string
}

func buildConfigReferenceMarkdown() string {
	var rows []configRow
	walkConfig(reflect.ValueOf(config.DefaultConfig()).Elem(), "", &rows)
	sort.Slice(rows, func(i, j int) bool { return rows[i].key < rows[j].key })

	var b strings.Builder
	b.WriteString("# Config Reference\n\n")
	b.WriteString("Keys are read from the JSON config file; the env var on each row overrides it. Defaults come from `config.DefaultConfig()`.\n\n")
	b.WriteString("Unprefixed `OPENAI_API_KEY`, `ANTHROPIC_API_KEY`, `OPENROUTER_API_KEY`, `REDIS_URL` and `DATABASE_URL` fill the matching keys when they are unset.\n\n")
	b.WriteString("| Key | Type | Env Var | Default |\n")
	b.WriteString("| --- | --- | --- | --- |\n")
	for _, r := range rows {
		fmt.Fprintf(&b, "| `%s` | `%s` | `%s` | `%s` |\n", r.key, r.kind, valueOr(r.env, "-"), escapePipes(valueOr(r.def, "-")))
	}
	return b.String()
}

// walkConfig records every leaf field of v, keyed by its dotted JSON path.
func walkConfig(v reflect.Value, prefix string, rows *[]configRow) {
	t := v.Type()
	for i := 0; i < t.NumField(); i++ {
		f := t.Field(i)
		name, _, _ := strings.Cut(f.Tag.Get("json"), ",")
		if !f.IsExported() || name == "" || name == "-" {
			continue
		}
		key := name
		if prefix != "" {
			key = prefix + "." + name
		}
		fv := v.Field(i)
		if fv.Kind() == reflect.Struct {
			walkConfig(fv, key, rows)
			continue
		}
		row := configRow{key: key, kind: fv.Kind().String(), env: f.Tag.Get("env")}
		if !fv.IsZero() {
			encoded, _ := json.Marshal(fv.Interface())
			row.def = string(encoded)
		}
		*rows = append(*rows, row)
	}
}

var providerSummaries = map[string]string{
	providers.ProviderOpenAI:     "OpenAI chat completions through the official Go SDK with JSON mode.",
	providers.ProviderAnthropic:  "Anthropic Messages API through the official Go SDK.",
	providers.ProviderOpenRouter: "OpenAI-compatible HTTP endpoint at openrouter.ai.",
	providers.ProviderHeuristic:  "Offline regex extractor; needs no credentials.",
}

func buildProvidersReferenceMarkdown() string {
	var b strings.Builder
	b.WriteString("# Extraction Providers\n\n")
	b.WriteString("Select with `extraction.provider`. An empty `extraction.model`, or the shipped OpenAI default, is replaced by the provider default below.\n\n")
	b.WriteString("| Provider | Default Model | Credentials | Summary |\n")
	b.WriteString("| --- | --- | --- | --- |\n")
	for _, name := range providers.SupportedProviders() {
		creds := "`providers." + name + ".api_key`"
		if name == providers.ProviderHeuristic {
			creds = "-"
		}
		fmt.Fprintf(&b, "| `%s` | `%s` | %s | %s |\n", name, valueOr(providers.DefaultModel(name), "-"), creds, escapePipes(providerSummaries[name]))
	}
	b.WriteString("\nEmbedding providers (`embedding.provider`): `openai`, `chargram`, `hash`.\n")
	return b.String()
}

func escapePipes(v string) string {
	return strings.ReplaceAll(v, "|", "\\|")
}

func valueOr(v, fallback string) string {
	if strings.TrimSpace(v) == "" {
		return fallback
	}
	return v
}
