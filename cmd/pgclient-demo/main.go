// Command pgclient-demo dials a PostgreSQL server with pgclient, runs a
// single query, and prints the result, then waits for a shutdown signal.
package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/pgcore/pgclient"
	"github.com/pgcore/pgclient/internal/clientopts"
	"github.com/pgcore/pgclient/internal/diag"
	"github.com/pgcore/pgclient/internal/metrics"
)

func main() {
	dsnFlag := flag.String("dsn", "postgresql://localhost:5432/postgres", "connection string")
	queryFlag := flag.String("query", "SELECT 1", "query to run once on startup")
	optionsPath := flag.String("options", "", "path to a client options YAML file (optional)")
	diagAddr := flag.String("diag-addr", "", "address to serve the debug/introspection server on (optional)")
	connectTimeout := flag.Duration("connect-timeout", 10*time.Second, "timeout for the initial connection")
	flag.Parse()

	log.SetFlags(log.LstdFlags | log.Lshortfile)
	log.Printf("pgclient-demo starting...")

	opts := []pgclient.Option{pgclient.WithDialTimeout(*connectTimeout)}

	m := metrics.New()
	opts = append(opts, pgclient.WithMetrics(m))

	var watcher *clientopts.Watcher
	if *optionsPath != "" {
		loaded, err := clientopts.Load(*optionsPath)
		if err != nil {
			log.Fatalf("Failed to load client options: %v", err)
		}
		opts = append(opts, pgclient.WithClientOptions(loaded))
		log.Printf("Client options loaded from %s", *optionsPath)
	}

	ctx, cancel := context.WithTimeout(context.Background(), *connectTimeout)
	conn, err := pgclient.Connect(ctx, *dsnFlag, opts...)
	cancel()
	if err != nil {
		log.Fatalf("Failed to connect: %v", err)
	}
	log.Printf("Connected (backend PID %d)", conn.BackendPID())

	if *optionsPath != "" {
		watcher, err = clientopts.Watch(*optionsPath, func(o clientopts.ClientOptions) {
			log.Printf("Reloading client options from %s", *optionsPath)
			conn.ApplyOptions(o)
		})
		if err != nil {
			log.Printf("Warning: client options hot-reload not available: %v", err)
		}
	}

	rows, err := conn.Query(*queryFlag)
	if err != nil {
		log.Fatalf("Query failed: %v", err)
	}
	printRows(rows)

	var diagServer *diag.Server
	if *diagAddr != "" {
		diagServer = diag.New(map[string]diag.Session{"demo": conn}, m)
		if err := diagServer.Start(*diagAddr); err != nil {
			log.Printf("Warning: debug server not available: %v", err)
			diagServer = nil
		} else {
			log.Printf("Debug server listening on %s", *diagAddr)
		}
	}

	log.Printf("pgclient-demo ready")

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	sig := <-sigCh
	log.Printf("Received signal %s, shutting down...", sig)

	if watcher != nil {
		watcher.Stop()
	}
	if diagServer != nil {
		diagServer.Stop()
	}
	if err := conn.Close(); err != nil {
		slog.Error("closing connection", "error", err)
	}

	log.Printf("pgclient-demo stopped")
}

func printRows(rows *pgclient.Rows) {
	defer rows.Close()

	cols := rows.Columns()
	names := make([]string, len(cols))
	for i, c := range cols {
		names[i] = c.Name
	}
	fmt.Println(strings.Join(names, "\t"))

	for rows.Next() {
		values, err := rows.Values()
		if err != nil {
			log.Fatalf("Scan failed: %v", err)
		}
		cells := make([]string, len(values))
		for i, v := range values {
			cells[i] = fmt.Sprintf("%v", v)
		}
		fmt.Println(strings.Join(cells, "\t"))
	}
	if err := rows.Err(); err != nil {
		log.Fatalf("Row iteration failed: %v", err)
	}
}
