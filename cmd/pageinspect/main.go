// Command pageinspect prints the on-disk state of a storage directory:
// store metadata, per-page headers, and the index catalog. It opens the
// page file directly and never goes through a buffer pool, so it is safe
// to point at a directory while deciding what went wrong with it.
package main

import (
	"encoding/json"
	"flag"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"reldb/pkg/config"
	"reldb/pkg/index"
	"reldb/pkg/logging"
	"reldb/pkg/pagestore"
	"reldb/pkg/primitives"
)

func main() {
	var (
		dataDir    = flag.String("data", "", "storage directory to inspect")
		configPath = flag.String("config", "", "optional YAML config; its data_dir wins unless -data is set")
		pageID     = flag.Uint("page", 0, "dump a single page header instead of all pages")
		verbose    = flag.Bool("v", false, "log at debug level")
	)
	flag.Parse()

	if err := run(*dataDir, *configPath, primitives.PageID(*pageID), *verbose); err != nil {
		fmt.Fprintln(os.Stderr, "pageinspect:", err)
		os.Exit(1)
	}
}

func run(dataDir, configPath string, pageID primitives.PageID, verbose bool) error {
	cfg := config.Default(dataDir)
	if configPath != "" {
		loaded, err := config.Load(configPath)
		if err != nil {
			return err
		}
		cfg = loaded
		if dataDir != "" {
			cfg.DataDir = dataDir
		}
	}
	if cfg.DataDir == "" {
		return fmt.Errorf("no storage directory given, use -data or -config")
	}

	logCfg := cfg.Logging
	if verbose {
		logCfg.Level = "debug"
	}
	logger, err := logging.New(logCfg)
	if err != nil {
		return err
	}
	defer logger.Sync()

	store, err := pagestore.Open(cfg.DataDir, pagestore.WithLogger(logger))
	if err != nil {
		return err
	}
	defer store.Close()

	if err := printStats(store); err != nil {
		return err
	}

	if pageID.IsValid() {
		return printPage(store, pageID)
	}
	if err := printAllPages(store); err != nil {
		return err
	}
	return printCatalog(cfg.DataDir)
}

func printStats(store *pagestore.Store) error {
	stats, err := store.Stats()
	if err != nil {
		return err
	}

	fmt.Printf("pages:      %d total, %d free, next id %d\n",
		stats.TotalPages, stats.FreePages, stats.NextPageID)

	types := make([]string, 0, len(stats.PagesByType))
	for t := range stats.PagesByType {
		types = append(types, t)
	}
	sort.Strings(types)
	for _, t := range types {
		fmt.Printf("  %-8s %d\n", t, stats.PagesByType[t])
	}
	return nil
}

func printAllPages(store *pagestore.Store) error {
	fmt.Println("\npage headers:")
	for id := primitives.PageID(1); int(id) <= store.NumPages(); id++ {
		if !store.Contains(id) {
			fmt.Printf("  %4d  free\n", id)
			continue
		}
		if err := printPage(store, id); err != nil {
			// Keep going: a corrupt page is exactly what an inspection run
			// is looking for.
			fmt.Printf("  %4d  unreadable: %v\n", id, err)
		}
	}
	return nil
}

func printPage(store *pagestore.Store, id primitives.PageID) error {
	page, err := store.Read(id)
	if err != nil {
		return err
	}
	fmt.Printf("  %4d  %-8s records=%-4d free_offset=%-5d prev=%-4s next=%-4s checksum=%016x written=%s\n",
		page.ID(), page.Type(), page.RecordCount(), page.FreeOffset(),
		page.Prev(), page.Next(), page.Checksum(),
		page.LastWrite().Format("2006-01-02T15:04:05Z07:00"))
	return nil
}

func printCatalog(dir string) error {
	data, err := os.ReadFile(filepath.Join(dir, "indexes.json"))
	if os.IsNotExist(err) {
		fmt.Println("\nno index catalog")
		return nil
	}
	if err != nil {
		return err
	}

	var metas []index.Meta
	if err := json.Unmarshal(data, &metas); err != nil {
		return fmt.Errorf("failed to decode index catalog: %w", err)
	}

	fmt.Println("\nindex catalog:")
	for _, meta := range metas {
		unique := ""
		if meta.Unique {
			unique = " unique"
		}
		fmt.Printf("  %-20s %s(%s)%s order=%d root=%s created=%s\n",
			meta.Name, meta.Table, strings.Join(meta.Columns, ","), unique,
			meta.Order, meta.Root, meta.CreatedAt.Format("2006-01-02"))
	}
	return nil
}
