package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"os"
	"text/tabwriter"

	"github.com/kochj23/mailsummary/config"
	"github.com/kochj23/mailsummary/db"
	"github.com/kochj23/mailsummary/logger"
	"github.com/kochj23/mailsummary/rules"
	"github.com/kochj23/mailsummary/rules/sieveout"
)

// openEngine loads the configuration, connects to the database and returns
// an engine with the persisted rule collection loaded. The returned cleanup
// closes the database.
func openEngine(ctx context.Context, configPath string) (*rules.Engine, *config.Config, func(), error) {
	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, nil, nil, fmt.Errorf("failed to load configuration: %w", err)
	}

	database, err := db.NewDatabase(ctx, &cfg.Database)
	if err != nil {
		return nil, nil, nil, err
	}

	queryTimeout, err := cfg.Database.GetQueryTimeout()
	if err != nil {
		database.Close()
		return nil, nil, nil, fmt.Errorf("database.query_timeout: %w", err)
	}

	engine := rules.NewEngine(rules.WithStore(db.NewRulesStore(database, queryTimeout)))
	engine.LoadFromStore(ctx)
	return engine, cfg, database.Close, nil
}

func handleRulesCommand(ctx context.Context) {
	if len(os.Args) < 3 {
		printRulesUsage()
		os.Exit(1)
	}

	switch os.Args[2] {
	case "list":
		handleRulesList(ctx)
	case "show":
		handleRulesShow(ctx)
	case "export":
		handleRulesExport(ctx)
	case "import":
		handleRulesImport(ctx)
	case "test":
		handleRulesTest(ctx)
	case "help", "--help", "-h":
		printRulesUsage()
	default:
		fmt.Printf("Unknown rules subcommand: %s\n\n", os.Args[2])
		printRulesUsage()
		os.Exit(1)
	}
}

func printRulesUsage() {
	fmt.Printf(`Rule Collection Management

Usage:
  mailsummary-admin rules <subcommand> [options]

Subcommands:
  list     List all rules in evaluation order
  show     Show one rule as JSON
  export   Write the rule collection to a JSON file (or stdout)
  import   Replace the rule collection from a JSON file
  test     Dry-run a rule file against a message file

Examples:
  mailsummary-admin rules list
  mailsummary-admin rules show --id 4f7c...
  mailsummary-admin rules export --output rules.json
  mailsummary-admin rules import --input rules.json
  mailsummary-admin rules test --rules rules.json --messages messages.json
`)
}

func handleRulesList(ctx context.Context) {
	fs := flag.NewFlagSet("rules list", flag.ExitOnError)
	configPath := fs.String("config", "config.toml", "Path to TOML configuration file")
	fs.Parse(os.Args[3:])

	engine, _, cleanup, err := openEngine(ctx, *configPath)
	if err != nil {
		logger.Fatalf("Failed to open rule store: %v", err)
	}
	defer cleanup()

	ruleList := engine.Rules()
	if len(ruleList) == 0 {
		fmt.Println("No rules defined.")
		return
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "PRIORITY\tENABLED\tMODE\tEXECS\tID\tNAME")
	for _, r := range ruleList {
		fmt.Fprintf(w, "%d\t%t\t%s\t%d\t%s\t%s\n",
			r.Priority, r.Enabled, r.Mode, r.ExecCount, r.ID, r.Name)
	}
	w.Flush()
}

func handleRulesShow(ctx context.Context) {
	fs := flag.NewFlagSet("rules show", flag.ExitOnError)
	configPath := fs.String("config", "config.toml", "Path to TOML configuration file")
	id := fs.String("id", "", "Rule id (required)")
	fs.Parse(os.Args[3:])

	if *id == "" {
		fmt.Println("Error: --id is required")
		fs.Usage()
		os.Exit(1)
	}

	engine, _, cleanup, err := openEngine(ctx, *configPath)
	if err != nil {
		logger.Fatalf("Failed to open rule store: %v", err)
	}
	defer cleanup()

	rule, err := engine.GetRule(*id)
	if err != nil {
		logger.Fatalf("Failed to get rule: %v", err)
	}

	data, err := json.MarshalIndent(rule, "", "  ")
	if err != nil {
		logger.Fatalf("Failed to encode rule: %v", err)
	}
	fmt.Println(string(data))
}

func handleRulesExport(ctx context.Context) {
	fs := flag.NewFlagSet("rules export", flag.ExitOnError)
	configPath := fs.String("config", "config.toml", "Path to TOML configuration file")
	output := fs.String("output", "", "Output file (default: stdout)")
	fs.Parse(os.Args[3:])

	engine, _, cleanup, err := openEngine(ctx, *configPath)
	if err != nil {
		logger.Fatalf("Failed to open rule store: %v", err)
	}
	defer cleanup()

	data, err := engine.ExportJSON()
	if err != nil {
		logger.Fatalf("Failed to export rules: %v", err)
	}

	if *output == "" {
		fmt.Println(string(data))
		return
	}
	if err := os.WriteFile(*output, data, 0644); err != nil {
		logger.Fatalf("Failed to write %s: %v", *output, err)
	}
	fmt.Printf("Exported %d rules to %s\n", len(engine.Rules()), *output)
}

func handleRulesImport(ctx context.Context) {
	fs := flag.NewFlagSet("rules import", flag.ExitOnError)
	configPath := fs.String("config", "config.toml", "Path to TOML configuration file")
	input := fs.String("input", "", "Input file (required)")
	fs.Parse(os.Args[3:])

	if *input == "" {
		fmt.Println("Error: --input is required")
		fs.Usage()
		os.Exit(1)
	}

	data, err := os.ReadFile(*input)
	if err != nil {
		logger.Fatalf("Failed to read %s: %v", *input, err)
	}

	engine, _, cleanup, err := openEngine(ctx, *configPath)
	if err != nil {
		logger.Fatalf("Failed to open rule store: %v", err)
	}
	defer cleanup()

	if err := engine.ImportJSON(ctx, data); err != nil {
		logger.Fatalf("Import failed, rule collection unchanged: %v", err)
	}
	fmt.Printf("Imported %d rules from %s\n", len(engine.Rules()), *input)
}

// handleRulesTest dry-runs rules against messages from files, without
// touching the database or the mail store.
func handleRulesTest(ctx context.Context) {
	fs := flag.NewFlagSet("rules test", flag.ExitOnError)
	rulesPath := fs.String("rules", "", "Rule export file (required)")
	messagesPath := fs.String("messages", "", "JSON file with an array of messages (required)")
	fs.Parse(os.Args[3:])

	if *rulesPath == "" || *messagesPath == "" {
		fmt.Println("Error: --rules and --messages are required")
		fs.Usage()
		os.Exit(1)
	}

	ruleData, err := os.ReadFile(*rulesPath)
	if err != nil {
		logger.Fatalf("Failed to read %s: %v", *rulesPath, err)
	}
	messageData, err := os.ReadFile(*messagesPath)
	if err != nil {
		logger.Fatalf("Failed to read %s: %v", *messagesPath, err)
	}

	var batch []*rules.Message
	if err := json.Unmarshal(messageData, &batch); err != nil {
		logger.Fatalf("Failed to parse messages: %v", err)
	}

	engine := rules.NewEngine()
	if err := engine.ImportJSON(ctx, ruleData); err != nil {
		logger.Fatalf("Failed to load rules: %v", err)
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "MATCHED\tTOTAL\tRULE")
	for _, r := range engine.Rules() {
		matched, total := engine.TestRule(r, batch)
		fmt.Fprintf(w, "%d\t%d\t%s\n", matched, total, r.Name)
	}
	w.Flush()
}

func handleStats(ctx context.Context) {
	fs := flag.NewFlagSet("stats", flag.ExitOnError)
	configPath := fs.String("config", "config.toml", "Path to TOML configuration file")
	asJSON := fs.Bool("json", false, "Output as JSON")
	fs.Parse(os.Args[2:])

	engine, _, cleanup, err := openEngine(ctx, *configPath)
	if err != nil {
		logger.Fatalf("Failed to open rule store: %v", err)
	}
	defer cleanup()

	stats := engine.Stats()
	if *asJSON {
		data, err := json.MarshalIndent(&stats, "", "  ")
		if err != nil {
			logger.Fatalf("Failed to encode stats: %v", err)
		}
		fmt.Println(string(data))
		return
	}

	fmt.Printf("Rules:                 %d (%d enabled)\n", stats.TotalRules, stats.EnabledRules)
	fmt.Printf("Total executions:      %d\n", stats.TotalExecutions)
	fmt.Printf("Successful executions: %d\n", stats.SuccessfulExecutions)
	fmt.Printf("Failed executions:     %d\n", stats.FailedExecutions)
	fmt.Printf("Average duration:      %s\n", stats.AverageDuration)
	if stats.LastRunAt != nil {
		fmt.Printf("Last run:              %s\n", stats.LastRunAt)
	} else {
		fmt.Printf("Last run:              never\n")
	}
}

func handleSieveExport(ctx context.Context) {
	fs := flag.NewFlagSet("sieve-export", flag.ExitOnError)
	configPath := fs.String("config", "config.toml", "Path to TOML configuration file")
	output := fs.String("output", "", "Output file (default: stdout)")
	fs.Parse(os.Args[2:])

	engine, cfg, cleanup, err := openEngine(ctx, *configPath)
	if err != nil {
		logger.Fatalf("Failed to open rule store: %v", err)
	}
	defer cleanup()

	script, err := sieveout.Export(engine.Rules(), cfg.IMAP.GetArchiveBox())
	if err != nil {
		logger.Fatalf("Sieve export failed: %v", err)
	}

	if *output == "" {
		fmt.Print(script)
		return
	}
	if err := os.WriteFile(*output, []byte(script), 0644); err != nil {
		logger.Fatalf("Failed to write %s: %v", *output, err)
	}
	fmt.Printf("Wrote Sieve script to %s\n", *output)
}
