package main

import (
	"flag"
	"fmt"
	"log"
	"os"
	"strconv"

	"sentinal-relay/config"
	"sentinal-relay/pkg/database"
)

const usage = `
Sentinal Relay - Database migration tool

Usage:
  migrate [command] [args]

Commands:
  up          Apply all pending migrations
  down        Roll back all migrations
  steps N     Apply N migrations (negative N rolls back)
  version     Show the current schema version
  force N     Set the version without running migrations (clears dirty)

Examples:
  go run ./cmd/migrate up
  go run ./cmd/migrate steps -1
  go run ./cmd/migrate force 2
`

func main() {
	flag.Usage = func() {
		fmt.Print(usage)
	}
	flag.Parse()

	if flag.NArg() < 1 {
		flag.Usage()
		os.Exit(1)
	}

	cfg := config.LoadConfig()
	mg, err := database.NewMigrator(cfg.PostgresURL())
	if err != nil {
		log.Fatalf("failed to open migrator: %v", err)
	}
	defer mg.Close()

	switch command := flag.Arg(0); command {
	case "up":
		exitOn(mg.Up(), "migrate up")
		log.Println("migrations applied")
	case "down":
		exitOn(mg.Down(), "migrate down")
		log.Println("migrations rolled back")
	case "steps":
		exitOn(mg.Steps(intArg()), "migrate steps")
		log.Println("steps applied")
	case "force":
		exitOn(mg.Force(intArg()), "migrate force")
		log.Println("version forced")
	case "version":
		version, dirty, ok, err := mg.Version()
		exitOn(err, "migrate version")
		if !ok {
			log.Println("no migrations applied")
			return
		}
		log.Printf("version %d (dirty=%t)", version, dirty)
	default:
		fmt.Printf("Unknown command: %s\n", command)
		flag.Usage()
		os.Exit(1)
	}
}

func intArg() int {
	if flag.NArg() < 2 {
		log.Fatalf("%s requires a number", flag.Arg(0))
	}
	n, err := strconv.Atoi(flag.Arg(1))
	if err != nil {
		log.Fatalf("invalid number %q: %v", flag.Arg(1), err)
	}
	return n
}

func exitOn(err error, what string) {
	if err != nil {
		log.Fatalf("%s failed: %v", what, err)
	}
}
