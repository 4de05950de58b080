// Command deltakit is a thin CLI wrapper around the deltakit table
// engine: create a table, write JSON rows into it, query it with a
// filter expression, inspect its transaction log, or vacuum it. It
// exists to exercise the library from a shell, not as a product
// surface in its own right.
package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"log"
	"os"
	"strings"
	"time"

	"github.com/deltakit/deltakit"
	"github.com/deltakit/deltakit/internal/txlog"
)

func main() {
	if len(os.Args) < 2 {
		usage()
		os.Exit(1)
	}

	ctx := context.Background()
	var err error
	switch os.Args[1] {
	case "create":
		err = runCreate(ctx, os.Args[2:])
	case "write":
		err = runWrite(ctx, os.Args[2:])
	case "query":
		err = runQuery(ctx, os.Args[2:])
	case "log":
		err = runLog(ctx, os.Args[2:])
	case "vacuum":
		err = runVacuum(ctx, os.Args[2:])
	default:
		usage()
		os.Exit(1)
	}
	if err != nil {
		log.Fatalf("deltakit %s: %v", os.Args[1], err)
	}
}

func usage() {
	fmt.Fprintf(os.Stderr, "Usage: %s <create|write|query|log|vacuum> [options]\n", os.Args[0])
}

func runCreate(ctx context.Context, args []string) error {
	fs := flag.NewFlagSet("create", flag.ExitOnError)
	store := fs.String("store", "memory://", "storage URL (memory://, file:///abs, s3://bucket)")
	path := fs.String("table", "", "table path")
	schema := fs.String("schema", "{}", "schema string (opaque to the engine)")
	partitions := fs.String("partitions", "", "comma-separated partition column names")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if *path == "" {
		return fmt.Errorf("-table is required")
	}

	db, err := deltakit.Open(ctx, *store)
	if err != nil {
		return err
	}
	var cols []string
	if *partitions != "" {
		cols = strings.Split(*partitions, ",")
	}
	if _, err := db.CreateTable(ctx, *path, deltakit.CreateOptions{
		ID:               *path,
		SchemaString:     *schema,
		PartitionColumns: cols,
	}); err != nil {
		return err
	}
	fmt.Printf("created table %q at %q\n", *path, *store)
	return nil
}

func runWrite(ctx context.Context, args []string) error {
	fs := flag.NewFlagSet("write", flag.ExitOnError)
	store := fs.String("store", "memory://", "storage URL")
	path := fs.String("table", "", "table path")
	rowsJSON := fs.String("rows", "", "JSON array of row objects; reads stdin if empty")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if *path == "" {
		return fmt.Errorf("-table is required")
	}

	raw := []byte(*rowsJSON)
	if len(raw) == 0 {
		var err error
		raw, err = readAllStdin()
		if err != nil {
			return err
		}
	}
	var rows []deltakit.Row
	if err := json.Unmarshal(raw, &rows); err != nil {
		return fmt.Errorf("parsing rows: %w", err)
	}

	db, err := deltakit.Open(ctx, *store)
	if err != nil {
		return err
	}
	tbl, err := db.OpenTable(ctx, *path)
	if err != nil {
		return err
	}
	summary, err := tbl.Write(ctx, rows)
	if err != nil {
		return err
	}
	fmt.Printf("committed version %d (+%d files)\n", summary.Version, summary.FilesAdded)
	return nil
}

func runQuery(ctx context.Context, args []string) error {
	fs := flag.NewFlagSet("query", flag.ExitOnError)
	store := fs.String("store", "memory://", "storage URL")
	path := fs.String("table", "", "table path")
	eqField := fs.String("eq-field", "", "equality filter: field name")
	eqValue := fs.String("eq-value", "", "equality filter: field value (string)")
	project := fs.String("select", "", "comma-separated projection columns")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if *path == "" {
		return fmt.Errorf("-table is required")
	}

	var f deltakit.Filter
	if *eqField != "" {
		f = deltakit.Eq(*eqField, *eqValue)
	}
	var projection []string
	if *project != "" {
		projection = strings.Split(*project, ",")
	}

	db, err := deltakit.Open(ctx, *store)
	if err != nil {
		return err
	}
	tbl, err := db.OpenTable(ctx, *path)
	if err != nil {
		return err
	}
	rows, err := tbl.Query(ctx, f, projection)
	if err != nil {
		return err
	}
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(rows)
}

func runLog(ctx context.Context, args []string) error {
	fs := flag.NewFlagSet("log", flag.ExitOnError)
	store := fs.String("store", "memory://", "storage URL")
	path := fs.String("table", "", "table path")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if *path == "" {
		return fmt.Errorf("-table is required")
	}

	db, err := deltakit.Open(ctx, *store)
	if err != nil {
		return err
	}
	l := txlog.NewLog(db.Storage(), *path)
	current, err := l.CurrentVersion(ctx)
	if err != nil {
		return err
	}
	for v := int64(0); v <= current; v++ {
		actions, err := l.ReadVersion(ctx, v)
		if err != nil {
			return err
		}
		fmt.Printf("version %d:\n", v)
		for _, a := range actions {
			switch {
			case a.Add != nil:
				fmt.Printf("  add    %s (%d bytes)\n", a.Add.Path, a.Add.Size)
			case a.Remove != nil:
				fmt.Printf("  remove %s\n", a.Remove.Path)
			case a.MetaData != nil:
				fmt.Printf("  metadata id=%s\n", a.MetaData.ID)
			case a.Protocol != nil:
				fmt.Printf("  protocol minReader=%d minWriter=%d\n", a.Protocol.MinReaderVersion, a.Protocol.MinWriterVersion)
			case a.CommitInfo != nil:
				fmt.Printf("  commitInfo op=%s\n", a.CommitInfo.Operation)
			}
		}
	}
	return nil
}

func runVacuum(ctx context.Context, args []string) error {
	fs := flag.NewFlagSet("vacuum", flag.ExitOnError)
	store := fs.String("store", "memory://", "storage URL")
	path := fs.String("table", "", "table path")
	retention := fs.Duration("retention", deltakit.DefaultRetention, "tombstone retention window")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if *path == "" {
		return fmt.Errorf("-table is required")
	}

	db, err := deltakit.Open(ctx, *store)
	if err != nil {
		return err
	}
	res, err := db.Vacuum(ctx, *path, deltakit.VacuumOptions{Retention: *retention}, time.Now())
	if err != nil {
		return err
	}
	fmt.Printf("vacuumed %d files\n", res.FilesRemoved)
	return nil
}

func readAllStdin() ([]byte, error) {
	var buf []byte
	chunk := make([]byte, 4096)
	for {
		n, err := os.Stdin.Read(chunk)
		if n > 0 {
			buf = append(buf, chunk[:n]...)
		}
		if err != nil {
			break
		}
	}
	return buf, nil
}

