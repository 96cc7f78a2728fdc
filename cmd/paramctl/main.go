// main.go: command line client for inspecting and editing engine parameters
//
// Copyright (c) 2025 AGILira - A. Giordano
// Series: an AGILira library
// SPDX-License-Identifier: MPL-2.0

package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"sort"
	"strconv"
	"strings"
	"syscall"
	"text/tabwriter"
	"time"

	"github.com/docopt/docopt-go"
	"github.com/golang/glog"
	"golang.org/x/sync/errgroup"

	wavecraft "github.com/RonHouben/wavecraft-sub012"
)

const ParamCtlVersion = "0.1.0"

const usage = `Parameter control for a running audio engine.

The dev server is reached at ws://127.0.0.1:9000 unless --url, --config or
WAVECRAFT_WS_URL say otherwise.

Usage:
    paramctl list [options]
    paramctl get <id> [options]
    paramctl set <id> <value> [options]
    paramctl watch [options]
    paramctl ping [options]
    paramctl -h | --help
    paramctl --version

Options:
    -h --help             Show this screen.
    --version             Show version.
    --url=<url>           Dev server websocket URL.
    --config=<file>       JSON, YAML or TOML client configuration; watched by "watch".
    --timeout=<duration>  Request timeout, e.g. 2s.
    --stats               Print request and fetch metrics on exit.
    -v --verbose          Log protocol traffic.`

func main() {
	opts, err := docopt.ParseArgs(usage, os.Args[1:], ParamCtlVersion)
	if err != nil {
		glog.Exitf("invalid arguments: %v", err)
	}

	setupLogging(opts)
	defer glog.Flush()

	if err := run(opts); err != nil {
		glog.Flush()
		fmt.Fprintf(os.Stderr, "paramctl: %v\n", err)
		os.Exit(1)
	}
}

func setupLogging(opts docopt.Opts) {
	// glog reads its settings from the standard flag set
	_ = flag.Set("logtostderr", "true")
	if verbose, _ := opts.Bool("--verbose"); verbose {
		_ = flag.Set("v", "2")
	}
	_ = flag.CommandLine.Parse(nil)
}

func run(opts docopt.Opts) error {
	config, err := loadConfig(opts)
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	metrics := wavecraft.NewDefaultMetricsCollector()
	session, err := wavecraft.NewSession(config, wavecraft.SessionOptions{
		Logger:  wavecraft.NewGlogLogger(),
		Metrics: metrics,
	})
	if err != nil {
		return err
	}
	defer session.Close()
	if flagSet(opts, "--stats") {
		defer printStats(metrics)
	}
	session.Start()

	if err := waitConnected(ctx, session.Status(), config.ConnectTimeout.Std()); err != nil {
		return err
	}

	switch {
	case flagSet(opts, "list"):
		return list(ctx, session)
	case flagSet(opts, "get"):
		id, _ := opts.String("<id>")
		return get(ctx, session, wavecraft.ParameterID(id))
	case flagSet(opts, "set"):
		id, _ := opts.String("<id>")
		raw, _ := opts.String("<value>")
		return set(ctx, session, wavecraft.ParameterID(id), raw)
	case flagSet(opts, "watch"):
		configPath, _ := opts.String("--config")
		return watch(ctx, session, configPath)
	case flagSet(opts, "ping"):
		return ping(ctx, session)
	}
	return nil
}

func printStats(metrics *wavecraft.DefaultMetricsCollector) {
	all := metrics.GetMetrics()
	keys := make([]string, 0, len(all))
	for k := range all {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	w := tabwriter.NewWriter(os.Stderr, 0, 4, 2, ' ', 0)
	for _, k := range keys {
		switch v := all[k].(type) {
		case wavecraft.HistogramSummary:
			mean := 0.0
			if v.Count > 0 {
				mean = v.Sum / float64(v.Count)
			}
			fmt.Fprintf(w, "%s\tcount=%d mean=%.4fs max=%.4fs\n", k, v.Count, mean, v.Max)
		default:
			fmt.Fprintf(w, "%s\t%v\n", k, v)
		}
	}
	w.Flush()
}

func flagSet(opts docopt.Opts, name string) bool {
	set, _ := opts.Bool(name)
	return set
}

func loadConfig(opts docopt.Opts) (wavecraft.ClientConfig, error) {
	var config wavecraft.ClientConfig
	if path, _ := opts.String("--config"); path != "" {
		loaded, err := wavecraft.LoadConfigFromFile(path)
		if err != nil {
			return config, err
		}
		config = loaded
	} else {
		config = wavecraft.DefaultClientConfig()
		if err := wavecraft.ApplyEnvironmentOverrides(&config, wavecraft.DefaultEnvConfigOptions()); err != nil {
			return config, err
		}
	}

	if url, _ := opts.String("--url"); url != "" {
		config.Endpoint = url
	}
	if raw, _ := opts.String("--timeout"); raw != "" {
		timeout, err := time.ParseDuration(raw)
		if err != nil {
			return config, fmt.Errorf("invalid --timeout: %w", err)
		}
		config.RequestTimeout = wavecraft.Duration(timeout)
	}
	// the CLI always talks to the dev server
	config.Transport = wavecraft.TransportSocket

	config.ApplyDefaults()
	return config, config.Validate()
}

func waitConnected(ctx context.Context, status *wavecraft.ConnectionStatus, timeout time.Duration) error {
	connected := make(chan struct{}, 1)
	unsubscribe := status.Subscribe(func(state wavecraft.ConnectionState) {
		if state == wavecraft.StateConnected {
			select {
			case connected <- struct{}{}:
			default:
			}
		}
	})
	defer unsubscribe()

	if status.IsConnected() {
		return nil
	}

	timer := time.NewTimer(timeout)
	defer timer.Stop()
	select {
	case <-connected:
		return nil
	case <-timer.C:
		return wavecraft.NewConnectTimeoutError(timeout.String())
	case <-ctx.Done():
		return ctx.Err()
	}
}

// waitLoaded blocks until the store holds parameters or reports an error.
func waitLoaded(ctx context.Context, store *wavecraft.ParameterStore) (wavecraft.StoreSnapshot, error) {
	updates := make(chan wavecraft.StoreSnapshot, 1)
	unsubscribe := store.Subscribe(func(s wavecraft.StoreSnapshot) {
		select {
		case updates <- s:
		default:
			// keep the newest snapshot
			select {
			case <-updates:
			default:
			}
			updates <- s
		}
	})
	defer unsubscribe()

	snapshot := store.Snapshot()
	for {
		switch snapshot.Phase {
		case wavecraft.PhaseReady:
			return snapshot, nil
		case wavecraft.PhaseError:
			return snapshot, snapshot.Err
		}
		select {
		case snapshot = <-updates:
		case <-ctx.Done():
			return snapshot, ctx.Err()
		}
	}
}

func list(ctx context.Context, session *wavecraft.Session) error {
	snapshot, err := waitLoaded(ctx, session.Store())
	if err != nil {
		return err
	}
	printParameters(snapshot.Parameters)
	return nil
}

func printParameters(params wavecraft.ParameterList) {
	w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "ID\tNAME\tTYPE\tVALUE\tRANGE\tGROUP")
	for _, p := range params {
		fmt.Fprintf(w, "%s\t%s\t%s\t%v%s\t%g..%g\t%s\n",
			p.ID, p.Name, p.Type, p.Value, unitSuffix(p.Unit), p.Min, p.Max, p.Group)
	}
	w.Flush()
}

func unitSuffix(unit string) string {
	if unit == "" {
		return ""
	}
	return " " + unit
}

func get(ctx context.Context, session *wavecraft.Session, id wavecraft.ParameterID) error {
	info, err := session.Client().GetParameter(ctx, id)
	if err != nil {
		return err
	}
	fmt.Printf("%s = %v%s\n", info.ID, info.Value, unitSuffix(info.Unit))
	return nil
}

func set(ctx context.Context, session *wavecraft.Session, id wavecraft.ParameterID, raw string) error {
	value, err := parseValue(raw)
	if err != nil {
		return err
	}
	if _, err := waitLoaded(ctx, session.Store()); err != nil {
		return err
	}
	if err := session.Store().SetParameter(ctx, id, value); err != nil {
		return err
	}
	if info, ok := session.Store().Parameter(id); ok {
		fmt.Printf("%s = %v%s\n", info.ID, info.Value, unitSuffix(info.Unit))
	}
	return nil
}

func parseValue(raw string) (any, error) {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case "true", "on":
		return true, nil
	case "false", "off":
		return false, nil
	}
	value, err := strconv.ParseFloat(raw, 64)
	if err != nil {
		return nil, fmt.Errorf("value %q is neither a number nor a boolean", raw)
	}
	return value, nil
}

func ping(ctx context.Context, session *wavecraft.Session) error {
	start := time.Now()
	if err := session.Client().Ping(ctx); err != nil {
		return err
	}
	fmt.Printf("pong from %s in %s\n", session.Config().Endpoint, time.Since(start).Round(time.Microsecond))
	return nil
}

// watch prints every store change until interrupted, reloading the config file
// alongside when one was given.
func watch(ctx context.Context, session *wavecraft.Session, configPath string) error {
	group, ctx := errgroup.WithContext(ctx)

	group.Go(func() error {
		updates := make(chan wavecraft.StoreSnapshot, 16)
		unsubscribe := session.Store().Subscribe(func(s wavecraft.StoreSnapshot) {
			select {
			case updates <- s:
			default:
				glog.Warning("watch output is lagging, dropping a snapshot")
			}
		})
		defer unsubscribe()

		var last wavecraft.ParameterList
		for {
			select {
			case <-ctx.Done():
				return nil
			case s := <-updates:
				printChanges(s, last)
				last = s.Parameters
			}
		}
	})

	if configPath != "" {
		group.Go(func() error {
			watcher, err := wavecraft.NewConfigWatcher(configPath, session, wavecraft.ConfigWatcherOptions{
				Logger: session.Logger(),
			})
			if err != nil {
				return err
			}
			if err := watcher.Start(); err != nil {
				return err
			}
			<-ctx.Done()
			return watcher.Stop()
		})
	}

	return group.Wait()
}

func printChanges(s wavecraft.StoreSnapshot, previous wavecraft.ParameterList) {
	stamp := time.Now().Format("15:04:05.000")
	if s.Err != nil {
		fmt.Printf("%s %s %s: %v\n", stamp, s.Connection, s.Phase, s.Err)
		return
	}
	if len(previous) != len(s.Parameters) {
		fmt.Printf("%s %s %s: %d parameters\n", stamp, s.Connection, s.Phase, len(s.Parameters))
		return
	}
	for _, p := range s.Parameters {
		before, ok := previous.Find(p.ID)
		if !ok || !wavecraft.ValuesEqual(before.Value, p.Value) {
			fmt.Printf("%s %s = %v%s\n", stamp, p.ID, p.Value, unitSuffix(p.Unit))
		}
	}
}
