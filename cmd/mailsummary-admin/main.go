// Command mailsummary-admin manages the rule database from the command
// line: rule inspection, import/export, offline rule testing, statistics
// and schema migrations.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
)

func main() {
	if len(os.Args) < 2 {
		printUsage()
		os.Exit(1)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	signalChan := make(chan os.Signal, 1)
	signal.Notify(signalChan, os.Interrupt, syscall.SIGTERM)
	go func() {
		<-signalChan
		cancel()
	}()

	command := os.Args[1]

	switch command {
	case "rules":
		handleRulesCommand(ctx)
	case "stats":
		handleStats(ctx)
	case "sieve-export":
		handleSieveExport(ctx)
	case "migrate":
		handleMigrateCommand(ctx)
	case "help", "--help", "-h":
		printUsage()
	default:
		fmt.Printf("Unknown command: %s\n\n", command)
		printUsage()
		os.Exit(1)
	}
}

func printUsage() {
	fmt.Printf(`mailsummary Admin Tool

Usage:
  mailsummary-admin <command> [options]

Commands:
  rules         Manage the rule collection (list, show, import, export, test)
  stats         Show cumulative rule engine statistics
  sieve-export  Render the rule collection as a Sieve script
  migrate       Manage the database schema
  help          Show this help message

Examples:
  mailsummary-admin rules list
  mailsummary-admin rules export --output rules.json
  mailsummary-admin rules import --input rules.json
  mailsummary-admin rules test --rules rules.json --messages messages.json
  mailsummary-admin stats
  mailsummary-admin sieve-export --output rules.sieve
  mailsummary-admin migrate up

Use 'mailsummary-admin <command> --help' for more information about a command.
`)
}
