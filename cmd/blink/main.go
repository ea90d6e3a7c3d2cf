package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"github.com/maxkrueger/blink/internal/config"
	"github.com/maxkrueger/blink/internal/debug"
	"github.com/maxkrueger/blink/internal/fsys"
	"github.com/maxkrueger/blink/internal/manager"
	"github.com/maxkrueger/blink/internal/store"
)

func main() {
	var (
		configPath = flag.String("config", config.DefaultPath(), "path to the config file")
		watchMode  = flag.Bool("watch", false, "keep running and refresh the tree on filesystem changes")
		runDetect  = flag.Bool("detect", false, "run eye detection over the scanned tree")
		favorite   = flag.Bool("favorite", false, "remember this root as a favorite directory")
	)
	flag.Parse()

	root := flag.Arg(0)
	if root == "" {
		wd, err := os.Getwd()
		if err != nil {
			log.Fatalf("cannot determine working directory: %v", err)
		}
		root = wd
	}

	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Fatalf("config: %v", err)
	}

	db := store.NewDB()
	dbPath := cfg.Store.Path
	if dbPath == "" {
		dbPath = filepath.Join(filepath.Dir(*configPath), "blink.db")
	}
	if err := db.Open(dbPath); err != nil {
		log.Printf("Failed to open DB: %v", err)
	} else {
		go db.Start()
		go drainStore(db)
		defer db.Close()

		db.RequestChan <- store.Request{Op: store.AddRecentRoot, Path: root}
		if *favorite {
			db.RequestChan <- store.Request{Op: store.AddFavorite, Path: root}
		}
	}

	mgr := manager.New(cfg, fsys.OS{}, nil)
	defer mgr.Dispose()

	ctx := context.Background()
	if err := mgr.ScanDirectoryStructure(ctx, root); err != nil {
		log.Fatalf("scan: %v", err)
	}
	printStats(mgr, root)

	if *runDetect {
		res, err := mgr.DetectEyesForDirectory(ctx, root)
		if err != nil {
			log.Printf("detect: %v", err)
		} else {
			fmt.Printf("detection: %d detected, %d failed\n", res.Detected, res.Failed)
			printStats(mgr, root)
		}
	}

	if !*watchMode {
		return
	}

	if err := mgr.WatchDirectory(root, cfg.Watcher.Recursive); err != nil {
		log.Fatalf("watch: %v", err)
	}
	fmt.Printf("watching %s, ctrl-c to stop\n", root)

	sig := make(chan os.Signal, 1)
	signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM)
	<-sig

	if err := mgr.Close(); err != nil {
		log.Printf("close: %v", err)
	}
	printStats(mgr, root)
}

func printStats(mgr *manager.Manager, root string) {
	stats := mgr.Tree().GetDirectoryStats("/")
	fmt.Printf("%s: %d images, %d bytes", root, stats.TotalImages, stats.TotalSize)
	if stats.OpenEyeImages+stats.ClosedEyeImages > 0 {
		fmt.Printf(", %d open-eye, %d closed-eye, avg confidence %.2f",
			stats.OpenEyeImages, stats.ClosedEyeImages, stats.AverageConfidence)
	}
	fmt.Println()
}

// drainStore consumes store responses so the worker never blocks.
func drainStore(db *store.DB) {
	for resp := range db.ResponseChan {
		if resp.Err != nil {
			debug.Log(debug.STORE, "store response error: %v", resp.Err)
		}
	}
}
