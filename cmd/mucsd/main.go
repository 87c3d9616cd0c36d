// Command mucsd is the compilation-host dispatcher daemon: it accepts
// worker heartbeats and client CPU requests over TCP and serves a
// monitor snapshot on demand.
package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"

	"mucs/Common/console"
	"mucs/internal/dispatcher"
	"mucs/internal/hostsinfo"
	"mucs/internal/inventory"
	"mucs/internal/metrics"
)

const defaultPort = 9714

func main() {
	if err := run(os.Args[1:]); err != nil {
		log.Fatalf("%s mucsd: %v", console.TagError(), err)
	}
}

func run(args []string) error {
	fs := flag.NewFlagSet("mucsd", flag.ContinueOnError)
	port := fs.Int("p", defaultPort, "listening port")
	fs.IntVar(port, "port", defaultPort, "listening port")
	debug := fs.Bool("D", false, "enable debug logging")
	fs.BoolVar(debug, "debug", false, "enable debug logging")
	hostsInfoPath := fs.String("H", "", "path to the hosts-info YAML file")
	fs.StringVar(hostsInfoPath, "hosts-info-file", "", "path to the hosts-info YAML file")
	metricsAddr := fs.String("metrics-addr", "", "address to serve /metrics on (empty disables)")
	if err := fs.Parse(args); err != nil {
		return err
	}

	var capacity inventory.CapacitySource
	if *hostsInfoPath != "" {
		cache := hostsinfo.NewCache()
		if _, err := cache.Get(*hostsInfoPath); err != nil {
			return fmt.Errorf("loading hosts-info file: %w", err)
		}
		capacity = hostsinfo.NewSource(cache, *hostsInfoPath)

		stop := make(chan struct{})
		if err := cache.Watch(*hostsInfoPath, stop); err != nil {
			log.Printf("%s watching hosts-info file: %v", console.TagWarn(), err)
		}
	}

	store := inventory.NewStore(capacity)

	var exporter *metrics.Exporter
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	if *metricsAddr != "" {
		exporter = metrics.New()
		go func() {
			if err := exporter.Serve(ctx, *metricsAddr); err != nil {
				log.Printf("%s metrics server: %v", console.TagError(), err)
			}
		}()
	}

	sweeper := dispatcher.NewSilentSweeper(store)
	sweeper.Start()
	defer sweeper.Stop()

	reporter := dispatcher.NewStatsReporter(store, exporter)
	reporter.Start()
	defer reporter.Stop()

	srv := dispatcher.New(store, exporter, *debug)

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)
	go func() {
		<-sigCh
		log.Printf("%s shutting down", console.TagInfo())
		os.Exit(0)
	}()

	return srv.ListenAndServe(fmt.Sprintf(":%d", *port))
}
