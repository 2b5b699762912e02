// seed-documents loads logical records into ai_documents.
//
// Input is a stream of JSON objects, one LogicalRecord after another:
//
//	{"source_table":"Expenses","file_name":"francis gays","project_name":"Tower A","document_type":"row","metadata":{"Category":"fuel","Expenses":1500.5,"Name":"diesel"}}
//
// Usage: go run ./scripts/seed-documents [-migrate] [-batch 500] <file|->
//
// Database connection: Uses standard PG* environment variables
//
// Flags:
//
//	-migrate   Apply migrations before loading (default: false)
//	-batch     Records per INSERT statement (default: 500)
//	-dry-run   Decode and count records without writing (default: false)
package main

import (
	"context"
	"flag"
	"fmt"
	"io"
	"os"

	"github.com/ilyakaznacheev/cleanenv"
	"go.uber.org/zap"

	"github.com/ekaya-inc/ekaya-ledger/pkg/config"
	"github.com/ekaya-inc/ekaya-ledger/pkg/database"
	"github.com/ekaya-inc/ekaya-ledger/pkg/models"
)

func main() {
	migrate := flag.Bool("migrate", false, "Apply migrations before loading")
	batch := flag.Int("batch", 500, "Records per INSERT statement")
	dryRun := flag.Bool("dry-run", false, "Decode and count records without writing")
	flag.Parse()

	args := flag.Args()
	if len(args) != 1 || *batch <= 0 {
		fmt.Fprintf(os.Stderr, "Usage: %s [-migrate] [-batch N] [-dry-run] <file|->\n", os.Args[0])
		os.Exit(1)
	}

	records, err := readRecords(args[0])
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to read records: %v\n", err)
		os.Exit(1)
	}

	counts := make(map[models.SourceTable]int)
	for _, r := range records {
		counts[r.SourceTable]++
	}
	fmt.Printf("Read %d records\n", len(records))
	for _, t := range models.AllSourceTables {
		if counts[t] > 0 {
			fmt.Printf("  %-14s %d\n", t, counts[t])
		}
	}

	if *dryRun {
		fmt.Println("DRY RUN - nothing written")
		return
	}

	var dbCfg config.DatabaseConfig
	if err := cleanenv.ReadEnv(&dbCfg); err != nil {
		fmt.Fprintf(os.Stderr, "Failed to read database settings: %v\n", err)
		os.Exit(1)
	}

	ctx := context.Background()
	logger := zap.NewNop()

	if *migrate {
		sqlDB, err := database.OpenSQL(dbCfg.URL())
		if err != nil {
			fmt.Fprintf(os.Stderr, "Failed to open database: %v\n", err)
			os.Exit(1)
		}
		err = database.RunMigrations(sqlDB, logger)
		_ = sqlDB.Close()
		if err != nil {
			fmt.Fprintf(os.Stderr, "Failed to run migrations: %v\n", err)
			os.Exit(1)
		}
	}

	db, err := database.NewConnection(ctx, &database.Config{URL: dbCfg.URL(), MaxConnections: 2}, logger)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to connect to database: %v\n", err)
		os.Exit(1)
	}
	defer db.Close()

	store := database.NewDocumentStore(db.Pool)
	inserted := 0
	for start := 0; start < len(records); start += *batch {
		end := min(start+*batch, len(records))
		if err := store.Insert(ctx, records[start:end]...); err != nil {
			fmt.Fprintf(os.Stderr, "Failed after %d records: %v\n", inserted, err)
			os.Exit(1)
		}
		inserted = end
	}

	fmt.Printf("Inserted %d records\n", inserted)
}

func readRecords(path string) ([]*models.LogicalRecord, error) {
	var in io.Reader = os.Stdin
	if path != "-" {
		f, err := os.Open(path)
		if err != nil {
			return nil, err
		}
		defer f.Close()
		in = f
	}
	return database.DecodeRecords(in)
}
