// Package main is the entry point for the emberwatchd daemon.
package main

import (
	"errors"
	"flag"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"

	"github.com/emberwatch-io/emberwatch/internal/config"
	"github.com/emberwatch-io/emberwatch/internal/daemon"
)

func main() {
	rootFlag := flag.String("root", "", "Data root directory (default ~/.emberwatch)")
	flag.Parse()

	log.SetPrefix("[emberwatchd] ")
	log.SetFlags(log.Ldate | log.Ltime)

	root := *rootFlag
	if root == "" {
		var err error
		root, err = config.DefaultRoot()
		if err != nil {
			log.Fatalf("Failed to resolve data root: %v", err)
		}
	}

	logger := log.New(os.Stderr, "", log.Ldate|log.Ltime)
	d, err := daemon.New(root, logger)
	if err != nil {
		log.Fatalf("Failed to create daemon: %v", err)
	}

	if err := d.Start(); err != nil {
		if errors.Is(err, daemon.ErrAlreadyRunning) {
			log.Fatalf("%v", err)
		}
		log.Fatalf("Failed to start daemon: %v", err)
	}

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	sig := <-sigCh
	log.Printf("Received signal %v, shutting down...", sig)

	d.Stop()
	fmt.Println("Daemon stopped")
}
