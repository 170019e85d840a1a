// Command taskloom is the CLI for the task-ordering core: it maintains the
// relationship graph, detects and bridges gaps, adjusts orderings
// incrementally, and validates generative planner output.
package main

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"taskloom/internal/config"
	"taskloom/internal/gaps"
	"taskloom/internal/graph"
	"taskloom/internal/logging"
	"taskloom/internal/plan"
	"taskloom/internal/planner"
	"taskloom/internal/ranker"
	"taskloom/internal/store"
	"taskloom/internal/validator"
)

var (
	// Global flags
	verbose   bool
	workspace string

	cfg    *config.Config
	logger *zap.Logger
)

var rootCmd = &cobra.Command{
	Use:   "taskloom",
	Short: "taskloom - dependency-aware task ordering",
	Long: `taskloom maintains a typed task relationship graph and produces
priority orderings from it.

Edges go through cycle resolution on insertion, suspected missing steps
between adjacent tasks are flagged and bridged, reflection changes
re-rank incrementally without a planner call, and every generative
planner output passes a schema and semantics gate before it becomes an
ordering.`,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		zcfg := zap.NewProductionConfig()
		if verbose {
			zcfg.Level = zap.NewAtomicLevelAt(zapcore.DebugLevel)
		}
		var err error
		logger, err = zcfg.Build()
		if err != nil {
			return fmt.Errorf("failed to initialize logger: %w", err)
		}

		if workspace == "" {
			workspace, err = os.Getwd()
			if err != nil {
				return fmt.Errorf("failed to resolve workspace: %w", err)
			}
		}
		if err := logging.Initialize(workspace); err != nil {
			return fmt.Errorf("failed to initialize logging: %w", err)
		}
		if err := logging.InitAudit(); err != nil {
			return fmt.Errorf("failed to initialize audit log: %w", err)
		}

		cfg, err = config.Load(workspace)
		if err != nil {
			return fmt.Errorf("failed to load config: %w", err)
		}
		return nil
	},
	PersistentPostRun: func(cmd *cobra.Command, args []string) {
		if logger != nil {
			_ = logger.Sync()
		}
		logging.CloseAudit()
		logging.CloseAll()
	},
}

// importCmd seeds or updates task nodes from a JSON file.
var importCmd = &cobra.Command{
	Use:   "import [tasks.json]",
	Short: "Import task nodes into the relationship graph",
	Long: `Reads a JSON array of tasks and adds them to the graph. Existing
ids are replaced. Edges are not touched; use resolve for those.`,
	Args: cobra.ExactArgs(1),
	RunE: runImport,
}

// resolveCmd proposes edges through cycle resolution.
var resolveCmd = &cobra.Command{
	Use:   "resolve [edges.json]",
	Short: "Propose relationship edges with automatic cycle resolution",
	Long: `Reads a JSON array of edges and inserts them into the graph.
Any cycle a candidate would close is broken by removing the
lowest-confidence edge in it; every removal is reported and recorded
in the resolution audit trail.`,
	Args: cobra.ExactArgs(1),
	RunE: runResolve,
}

// gapsCmd scans a stored plan for suspected missing steps.
var gapsCmd = &cobra.Command{
	Use:   "gaps [plan-id]",
	Short: "Detect suspected missing steps in an ordering",
	Args:  cobra.ExactArgs(1),
	RunE:  runGaps,
}

// bridgeCmd applies accepted bridging tasks.
var bridgeCmd = &cobra.Command{
	Use:   "bridge [plan-id] [insertions.json]",
	Short: "Insert accepted bridging tasks into an ordering",
	Long: `Reads a JSON array of accepted bridging insertions and applies
them one at a time: the task node is created, its anchor edges go
through cycle resolution, and only the window between the anchors is
re-ordered.`,
	Args: cobra.ExactArgs(2),
	RunE: runBridge,
}

// adjustCmd re-ranks a stored plan from reflection effects.
var adjustCmd = &cobra.Command{
	Use:   "adjust [plan-id] [effects.json]",
	Short: "Re-rank an ordering incrementally from reflection effects",
	RunE:  runAdjust,
	Args:  cobra.ExactArgs(2),
}

// validateCmd drives the planner and gates its output.
var validateCmd = &cobra.Command{
	Use:   "validate [plan-id] [prompt-file]",
	Short: "Generate an ordering via the planner and validate it",
	Long: `Sends the prompt to the configured planner and runs the output
through the schema and semantics gate, requesting capped repairs on
failure. The accepted (or needs-review) plan is stored under the
given id.`,
	Args: cobra.ExactArgs(2),
	RunE: runValidate,
}

// showCmd prints stored state.
var showCmd = &cobra.Command{
	Use:   "show [plan|graph|resolutions] [id]",
	Short: "Print a stored plan, the graph, or the resolution audit trail",
	Args:  cobra.RangeArgs(1, 2),
	RunE:  runShow,
}

func init() {
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "enable debug logging")
	rootCmd.PersistentFlags().StringVarP(&workspace, "workspace", "w", "", "workspace directory (default: cwd)")

	gapsCmd.Flags().String("signals", "", "JSON file with per-task category/term signals")
	adjustCmd.Flags().StringSlice("lock", nil, "task ids whose positions must not move")

	rootCmd.AddCommand(importCmd)
	rootCmd.AddCommand(resolveCmd)
	rootCmd.AddCommand(gapsCmd)
	rootCmd.AddCommand(bridgeCmd)
	rootCmd.AddCommand(adjustCmd)
	rootCmd.AddCommand(validateCmd)
	rootCmd.AddCommand(showCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

// openStore opens the snapshot store at the configured path.
func openStore() (*store.Store, error) {
	path := cfg.Store.Path
	if !filepath.IsAbs(path) {
		path = filepath.Join(workspace, path)
	}
	return store.Open(path, cfg.Store.AuditRetention)
}

// readJSONFile decodes a JSON file into out.
func readJSONFile(path string, out any) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("failed to read %s: %w", path, err)
	}
	if err := json.Unmarshal(data, out); err != nil {
		return fmt.Errorf("failed to parse %s: %w", path, err)
	}
	return nil
}

// printJSON pretty-prints a value to stdout.
func printJSON(v any) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal output: %w", err)
	}
	fmt.Println(string(data))
	return nil
}

func runImport(cmd *cobra.Command, args []string) error {
	var tasks []plan.Task
	if err := readJSONFile(args[0], &tasks); err != nil {
		return err
	}

	st, err := openStore()
	if err != nil {
		return err
	}
	defer st.Close()

	g, err := st.LoadGraph()
	if err != nil {
		return err
	}
	for _, t := range tasks {
		if t.Status == "" {
			t.Status = plan.TaskActive
		}
		if err := g.AddTask(t); err != nil {
			return err
		}
	}
	if err := st.SaveGraph(g); err != nil {
		return err
	}

	logger.Info("tasks imported", zap.Int("count", len(tasks)))
	fmt.Printf("Imported %d task(s); graph now holds %d.\n", len(tasks), len(g.Tasks()))
	return nil
}

func runResolve(cmd *cobra.Command, args []string) error {
	var edges []plan.Edge
	if err := readJSONFile(args[0], &edges); err != nil {
		return err
	}

	st, err := openStore()
	if err != nil {
		return err
	}
	defer st.Close()

	g, err := st.LoadGraph()
	if err != nil {
		return err
	}

	result, err := graph.ProposeEdges(g, edges)
	if err != nil {
		return fmt.Errorf("edge proposal rejected: %w", err)
	}
	if err := st.SaveGraph(result.Graph); err != nil {
		return err
	}
	if err := st.AppendResolutions(result.Conflicts); err != nil {
		return err
	}

	logger.Info("edges resolved",
		zap.Int("accepted", len(result.Accepted)),
		zap.Int("conflicts", len(result.Conflicts)))
	fmt.Printf("Accepted %d of %d edge(s), %d conflict(s) resolved.\n",
		len(result.Accepted), len(edges), len(result.Conflicts))
	for _, c := range result.Conflicts {
		fmt.Printf("  removed %s -[%s]-> %s (conf=%.2f): %s\n",
			c.Removed.Source, c.Removed.Type, c.Removed.Target, c.Removed.Confidence, c.Reason)
	}
	return nil
}

func runGaps(cmd *cobra.Command, args []string) error {
	st, err := openStore()
	if err != nil {
		return err
	}
	defer st.Close()

	p, err := st.LoadBaseline(args[0])
	if err != nil {
		return err
	}
	g, err := st.LoadGraph()
	if err != nil {
		return err
	}

	signals := gaps.Signals{}
	if path, _ := cmd.Flags().GetString("signals"); path != "" {
		if err := readJSONFile(path, &signals); err != nil {
			return err
		}
	}

	detector := gaps.NewDetector(cfg.Detector)
	detected := detector.DetectGaps(p, g, signals)
	if len(detected) == 0 {
		fmt.Println("No gaps detected.")
		return nil
	}
	return printJSON(detected)
}

func runBridge(cmd *cobra.Command, args []string) error {
	var insertions []gaps.Insertion
	if err := readJSONFile(args[1], &insertions); err != nil {
		return err
	}

	st, err := openStore()
	if err != nil {
		return err
	}
	defer st.Close()

	p, err := st.LoadBaseline(args[0])
	if err != nil {
		return err
	}
	g, err := st.LoadGraph()
	if err != nil {
		return err
	}

	result, err := gaps.InsertBridgingTasks(p, g, insertions)
	if err != nil {
		return fmt.Errorf("bridging aborted: %w", err)
	}
	if err := st.SaveGraph(result.Graph); err != nil {
		return err
	}
	if err := st.SaveBaseline(result.Plan); err != nil {
		return err
	}
	if err := st.AppendResolutions(result.Conflicts); err != nil {
		return err
	}

	applied := len(insertions) - len(result.Skipped)
	logger.Info("bridging applied",
		zap.Int("applied", applied),
		zap.Int("skipped", len(result.Skipped)))
	fmt.Printf("Applied %d bridging task(s), skipped %d.\n", applied, len(result.Skipped))
	for _, s := range result.Skipped {
		fmt.Printf("  skipped %q: %s\n", s.Bridge.Text, s.Reason)
	}
	return nil
}

func runAdjust(cmd *cobra.Command, args []string) error {
	var effects []plan.ReflectionEffect
	if err := readJSONFile(args[1], &effects); err != nil {
		return err
	}
	lockIDs, _ := cmd.Flags().GetStringSlice("lock")

	st, err := openStore()
	if err != nil {
		return err
	}
	defer st.Close()

	baseline, err := st.LoadBaseline(args[0])
	if err != nil {
		return err
	}

	adjustment, err := ranker.Adjust(baseline, effects, plan.NewLockSet(lockIDs...))
	if err != nil {
		return fmt.Errorf("adjustment failed: %w", err)
	}
	if err := st.SaveBaseline(adjustment.Plan); err != nil {
		return err
	}

	logger.Info("plan adjusted",
		zap.String("plan", args[0]),
		zap.Int("moved", adjustment.Moved))
	fmt.Printf("Adjusted plan %s: %d task(s) moved.\n", args[0], adjustment.Moved)
	for _, stale := range adjustment.StaleLocks {
		fmt.Printf("  stale lock ignored: %s\n", stale.TaskID)
	}
	return printJSON(adjustment.Plan.Sequence)
}

func runValidate(cmd *cobra.Command, args []string) error {
	prompt, err := os.ReadFile(args[1])
	if err != nil {
		return fmt.Errorf("failed to read prompt: %w", err)
	}

	st, err := openStore()
	if err != nil {
		return err
	}
	defer st.Close()

	g, err := st.LoadGraph()
	if err != nil {
		return err
	}
	tasks := make(map[string]plan.Task)
	for _, t := range g.Tasks() {
		tasks[t.ID] = t
	}

	client, err := planner.NewGenAIClient(cmd.Context(), cfg.Planner)
	if err != nil {
		return err
	}

	v := validator.New(client, cfg.Validator)
	result, err := v.ValidatePlan(cmd.Context(), validator.Request{
		PlanID: args[0],
		Prompt: string(prompt),
		Tasks:  tasks,
	})
	if err != nil && result == nil {
		return err
	}
	if result.Plan != nil {
		if saveErr := st.SaveBaseline(result.Plan); saveErr != nil {
			return saveErr
		}
	}

	logger.Info("plan validated",
		zap.String("plan", args[0]),
		zap.String("verdict", string(result.Verdict)),
		zap.Int("iterations", len(result.Iterations)))
	fmt.Printf("Plan %s: %s after %d iteration(s).\n", args[0], result.Verdict, len(result.Iterations))
	for _, p := range result.Problems {
		fmt.Printf("  unresolved [%s] %s\n", p.Code, p.Detail)
	}
	return nil
}

func runShow(cmd *cobra.Command, args []string) error {
	st, err := openStore()
	if err != nil {
		return err
	}
	defer st.Close()

	switch args[0] {
	case "plan":
		if len(args) < 2 {
			return fmt.Errorf("show plan requires a plan id")
		}
		p, err := st.LoadBaseline(args[1])
		if err != nil {
			return err
		}
		return printJSON(p)

	case "graph":
		g, err := st.LoadGraph()
		if err != nil {
			return err
		}
		return printJSON(struct {
			Tasks []plan.Task `json:"tasks"`
			Edges []plan.Edge `json:"edges"`
		}{Tasks: g.Tasks(), Edges: g.Edges()})

	case "resolutions":
		rows, err := st.ListResolutions(50)
		if err != nil {
			return err
		}
		if len(rows) == 0 {
			fmt.Println("No resolutions recorded.")
			return nil
		}
		return printJSON(rows)

	default:
		return fmt.Errorf("unknown target %q: want plan, graph, or resolutions", args[0])
	}
}
