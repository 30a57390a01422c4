package main

import (
	"context"
	"flag"
	"log"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/mini-rodalies-3d/dispatch/internal/db"
	"github.com/mini-rodalies-3d/dispatch/internal/network"
)

func main() {
	// Command line flags
	dbPath := flag.String("db", "data/dispatch.db", "Path to SQLite database")
	bundleDir := flag.String("bundle-dir", "data/network", "Directory containing network bundle zip files")
	world := flag.String("world", "", "If set, import rows without a world column into this world")
	flag.Parse()

	database, err := db.Connect(*dbPath)
	if err != nil {
		log.Fatalf("Failed to open database: %v", err)
	}
	defer database.Close()

	ctx := context.Background()
	if err := database.EnsureSchema(ctx); err != nil {
		log.Fatalf("Failed to ensure schema: %v", err)
	}

	entries, err := os.ReadDir(*bundleDir)
	if err != nil {
		log.Fatalf("Failed to read bundle directory: %v", err)
	}

	imported := 0
	for _, entry := range entries {
		if entry.IsDir() || !strings.HasSuffix(entry.Name(), ".zip") {
			continue
		}

		zipPath := filepath.Join(*bundleDir, entry.Name())
		log.Printf("Processing %s...", entry.Name())

		if err := importBundle(ctx, database, zipPath, *world); err != nil {
			log.Printf("ERROR importing %s: %v", entry.Name(), err)
			continue
		}
		imported++
		log.Printf("SUCCESS: %s imported", entry.Name())
	}

	if imported == 0 {
		log.Fatalf("No bundles imported from %s", *bundleDir)
	}
	log.Println("Import complete!")
}

func importBundle(ctx context.Context, database *db.DB, zipPath, world string) error {
	bundle, err := network.Parse(zipPath)
	if err != nil {
		return err
	}

	if world != "" {
		if data, ok := bundle.Worlds[network.DefaultWorld]; ok {
			delete(bundle.Worlds, network.DefaultWorld)
			data.World = world
			bundle.Worlds[world] = data
		}
	}

	if err := bundle.Validate(); err != nil {
		return err
	}

	names := bundle.WorldNames()
	sort.Strings(names)
	for i, name := range names {
		data := bundle.Worlds[name]
		// Routes are not per world; write them once.
		routes := bundle.Routes
		if i > 0 {
			routes = nil
		}
		if err := database.SaveNetwork(ctx, *data, routes); err != nil {
			return err
		}
		log.Printf("  World %s: %d nodes, %d edges", name, len(data.Nodes), len(data.Edges))
	}
	log.Printf("  Routes: %d", len(bundle.Routes))
	return nil
}
