// Command kernelsim boots a simulated kernelcore machine and runs it until
// asked to stop: flag-driven construction, SIGINT/SIGTERM-triggered
// shutdown, a SIGUSR1 goroutine-stack dump, and a timeout-bounded cleanup
// window.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"runtime"
	"runtime/pprof"
	"syscall"
	"time"

	"github.com/behrlich/kernelcore"
	"github.com/behrlich/kernelcore/internal/klog"
)

func main() {
	var (
		numCPUs = flag.Int("cpus", 1, "number of simulated CPUs to bring up")
		seed    = flag.Int64("seed", 1, "seed for the kernel's random source")
		verbose = flag.Bool("v", false, "verbose logging")
		macStr  = flag.String("mac", "52:54:00:12:34:56", "MAC address reported by the simulated NIC")
	)
	flag.Parse()

	logConfig := klog.DefaultConfig()
	if *verbose {
		logConfig.Level = klog.LevelDebug
	}
	logger := klog.New(logConfig)
	klog.SetDefault(logger)

	mac, err := parseMAC(*macStr)
	if err != nil {
		logger.Error("invalid mac address", "mac", *macStr, "error", err)
		os.Exit(1)
	}

	cfg := kernelcore.DefaultBootConfig()
	cfg.NumCPUs = *numCPUs
	cfg.RandSeed = *seed
	cfg.MACAddress = mac
	cfg.Logger = logger

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	logger.Info("booting kernel", "cpus", cfg.NumCPUs, "mac", *macStr)
	kernel, err := kernelcore.Boot(ctx, cfg)
	if err != nil {
		logger.Error("boot failed", "error", err)
		os.Exit(1)
	}

	runDone := make(chan error, 1)
	go func() {
		runDone <- kernel.Run(ctx)
	}()

	fmt.Printf("kernelcore running with %d CPU(s)\n", cfg.NumCPUs)
	fmt.Printf("Press Ctrl+C to stop...\n")
	fmt.Printf("Send SIGUSR1 (kill -USR1 %d) to dump goroutine stacks\n", os.Getpid())

	stackDumpCh := make(chan os.Signal, 1)
	signal.Notify(stackDumpCh, syscall.SIGUSR1)
	go func() {
		for range stackDumpCh {
			buf := make([]byte, 1<<20)
			n := runtime.Stack(buf, true)
			fmt.Fprintf(os.Stderr, "\n=== GOROUTINE STACK DUMP ===\n%s\n", buf[:n])
			pprof.Lookup("goroutine").WriteTo(os.Stderr, 2)
		}
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	select {
	case <-sigCh:
		logger.Info("received shutdown signal")
	case err := <-runDone:
		logger.Error("kernel run loop exited unexpectedly", "error", err)
	}

	kernel.Shutdown()
	cancel()

	select {
	case <-runDone:
		logger.Info("kernel stopped")
	case <-time.After(1 * time.Second):
		logger.Info("shutdown timeout, forcing exit")
	}

	metrics := kernel.Metrics().Snapshot()
	logger.Info("final metrics", "polls", metrics.Polls, "irqs", metrics.IRQs, "drops", metrics.Drops)
}

// parseMAC parses a colon-separated MAC address string like
// "52:54:00:12:34:56".
func parseMAC(s string) ([6]byte, error) {
	var mac [6]byte
	n, err := fmt.Sscanf(s, "%02x:%02x:%02x:%02x:%02x:%02x",
		&mac[0], &mac[1], &mac[2], &mac[3], &mac[4], &mac[5])
	if err != nil {
		return mac, err
	}
	if n != 6 {
		return mac, fmt.Errorf("expected 6 octets, parsed %d", n)
	}
	return mac, nil
}
