// Command fractalctl is a demo CLI embedder: it wires the core runtime
// (bus, memory, tools, orchestrator, agent node) into a single runnable
// agent and executes one task end to end, in the spirit of the teacher's
// own cobra-driven entrypoint.
package main

import (
	"context"
	"fmt"
	"os"
	"strings"

	"github.com/fatih/color"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"fractal/internal/embedderkit"
	"fractal/internal/skill"
	"fractal/internal/task"
)

var (
	green = color.New(color.FgGreen).SprintFunc()
	red   = color.New(color.FgRed).SprintFunc()
	gray  = color.New(color.FgHiBlack).SprintFunc()
)

func main() {
	if err := newRootCommand().Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "%s %v\n", red("error:"), err)
		os.Exit(1)
	}
}

// cliOptions collects every flag value the run subcommand needs; cobra
// binds directly into these fields.
type cliOptions struct {
	configPath   string
	apiKey       string
	baseURL      string
	model        string
	skillsDir    string
	sandboxRoot  string
	fakeLLM      bool
	tavilyKey    string
	exporter     string
	otlpEndpoint string
	verbose      bool
}

func newRootCommand() *cobra.Command {
	opts := &cliOptions{}

	root := &cobra.Command{
		Use:   "fractalctl",
		Short: "Run a fractal, event-driven agent against a single task",
		Long: `fractalctl drives the fractal agent runtime through one task: it
assembles the memory, tool, and delegation stack described by the
runtime's config and limits, runs the ReAct loop to completion, and
prints the result.`,
	}
	root.PersistentFlags().StringVar(&opts.configPath, "config", "", "path to a YAML runtime-limits file")
	root.PersistentFlags().StringVar(&opts.apiKey, "api-key", os.Getenv("FRACTAL_LLM_API_KEY"), "LLM provider API key")
	root.PersistentFlags().StringVar(&opts.baseURL, "base-url", "", "LLM provider base URL (defaults to OpenAI)")
	root.PersistentFlags().StringVar(&opts.model, "model", "gpt-4o-mini", "model name")
	root.PersistentFlags().StringVar(&opts.skillsDir, "skills-dir", "", "directory of skill markdown files to load")
	root.PersistentFlags().StringVar(&opts.sandboxRoot, "workspace", ".", "root directory read_file/write_file/patch_file are sandboxed to")
	root.PersistentFlags().BoolVar(&opts.fakeLLM, "fake-llm", false, "use a canned in-memory LLM instead of a real provider")
	root.PersistentFlags().StringVar(&opts.tavilyKey, "tavily-key", os.Getenv("TAVILY_API_KEY"), "Tavily search API key (falls back to DuckDuckGo scraping if unset)")
	root.PersistentFlags().StringVar(&opts.exporter, "trace-exporter", "", "tracing exporter: otlphttp, jaeger, zipkin, or empty to disable")
	root.PersistentFlags().StringVar(&opts.otlpEndpoint, "trace-endpoint", "", "tracing collector endpoint")
	root.PersistentFlags().BoolVarP(&opts.verbose, "verbose", "v", false, "verbose (debug-level) logging")

	_ = viper.BindPFlag("api_key", root.PersistentFlags().Lookup("api-key"))

	root.AddCommand(newRunCommand(opts))
	root.AddCommand(newSkillsCommand(opts))
	root.AddCommand(newVersionCommand())
	return root
}

func newVersionCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Show version information",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Println("fractalctl (fractal agent runtime demo CLI)")
		},
	}
}

func newSkillsCommand(opts *cliOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "skills",
		Short: "List the skills discoverable under --skills-dir",
		RunE: func(cmd *cobra.Command, args []string) error {
			if opts.skillsDir == "" {
				return fmt.Errorf("--skills-dir is required")
			}
			reg, err := skill.Load(opts.skillsDir)
			if err != nil {
				return fmt.Errorf("loading skills: %w", err)
			}
			fmt.Println(skill.IndexMarkdown(reg))
			return nil
		},
	}
}

func newRunCommand(opts *cliOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "run [instruction]",
		Short: "Execute a single task through the agent loop",
		Args:  cobra.ArbitraryArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			instruction := strings.Join(args, " ")
			if instruction == "" {
				instruction = "Summarize what you can do and wait for further instructions."
			}

			ctx := context.Background()
			rt, err := embedderkit.New(ctx, embedderkit.Options{
				ConfigPath: opts.configPath, APIKey: opts.apiKey, BaseURL: opts.baseURL, Model: opts.model,
				SkillsDir: opts.skillsDir, SandboxRoot: opts.sandboxRoot, FakeLLM: opts.fakeLLM,
				TavilyKey: opts.tavilyKey, Exporter: opts.exporter, OTLPEndpoint: opts.otlpEndpoint,
				ServiceName: "fractalctl", Verbose: opts.verbose,
			})
			if err != nil {
				return err
			}
			defer rt.Shutdown(ctx)

			final := rt.RunTask(ctx, "root", instruction)
			snap := final.Snapshot()
			if snap.Status == task.StatusCompleted {
				fmt.Printf("%s\n%v\n", green("result:"), snap.Result)
			} else {
				fmt.Printf("%s %s: %s\n", red("failed:"), snap.ErrorKind, snap.Error)
			}
			fmt.Println(gray(fmt.Sprintf("max_iterations=%d max_depth=%d max_children=%d", rt.Limits.MaxIterations, rt.Limits.MaxDepth, rt.Limits.MaxChildren)))
			return nil
		},
	}
}
