// Copyright 2019 Grail Inc.
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//    http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.
package main

/*
read-until runs adaptive sampling against a live nanopore sequencing run:
while the instrument streams raw signal chunks, each nascent read is
basecalled, aligned against a reference, and ejected, completed, or left
alone according to the experiment's per-region (or per-barcode) policy.

Subcommands:

  targets      Run the full decision pipeline against a live run.
  unblock-all  Dispatch an unblock for every read seen (latency drill).
  validate     Load, validate and describe a configuration, then exit.
  stats        Not implemented here; post-run reports come from the
               external reporting tool.

Example:

  read-until -config experiment.toml -device localhost:9501 targets
*/

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/grailbio/base/grail"
	"github.com/grailbio/base/log"
	"github.com/grailbio/base/vcontext"
	"github.com/grailbio/readuntil/basecall"
	"github.com/grailbio/readuntil/config"
	"github.com/grailbio/readuntil/device"
	"github.com/grailbio/readuntil/flowcell"
	"github.com/grailbio/readuntil/mapper"
	"github.com/grailbio/readuntil/pipeline"
)

var (
	configPath = flag.String("config", "", "Experiment description TOML; required for targets and validate")
	deviceAddr = flag.String("device", "", "Instrument RPC address (host:port); required for targets and unblock-all")
	experiment = flag.String("experiment", "", "Experiment label recorded in logs")
	channels   = flag.Int("channels", 512, "Flow-cell channel count; the configuration's channels key overrides this")

	throttle        = flag.Duration("throttle", 100*time.Millisecond, "Sleep between empty cache drains")
	chunkDuration   = flag.Duration("chunk-duration", time.Second, "Instrument chunk cadence; batches slower than this are counted as slow")
	unblockDuration = flag.Float64("unblock-duration", 0.1, "Unblock voltage-flip duration in seconds; the configuration's unblock_duration overrides this")
	pluginTimeout   = flag.Duration("plugin-timeout", 30*time.Second, "Per-plugin validation timeout")
	maxReconnects   = flag.Int("max-reconnects", 5, "Bounded instrument stream reconnect attempts")
	reconnectDelay  = flag.Duration("reconnect-delay", time.Second, "Pause between reconnect attempts")
	skipPlugins     = flag.Bool("skip-plugins", false, "validate: skip plugin initialization")
)

func usage() {
	fmt.Fprintf(os.Stderr, `Usage: %s [flags] {targets|unblock-all|validate|stats}

Subcommands:
  targets      Run the decision pipeline against a live run (-config, -device).
  unblock-all  Unblock every read seen, for latency testing (-device).
  validate     Validate and describe a configuration (-config).
  stats        Post-run reports; produced by the external reporting tool.

Flags:
`, os.Args[0])
	flag.PrintDefaults()
	os.Exit(2)
}

func main() {
	flag.Usage = usage
	shutdown := grail.Init()
	defer shutdown()

	if flag.NArg() != 1 {
		usage()
	}
	ctx, cancel := signalContext(vcontext.Background())
	defer cancel()
	if *experiment != "" {
		log.Printf("experiment: %s", *experiment)
	}

	var err error
	switch cmd := flag.Arg(0); cmd {
	case "targets":
		err = runTargets(ctx)
	case "unblock-all":
		err = runUnblockAll(ctx)
	case "validate":
		err = runValidate(ctx)
	case "stats":
		err = fmt.Errorf("stats: post-run reports are produced by the external reporting tool")
	default:
		err = fmt.Errorf("unknown subcommand %q", cmd)
	}
	if err != nil {
		log.Fatalf("%v", err)
	}
}

// signalContext cancels the returned context on SIGINT/SIGTERM so the
// pipeline drains and disconnects cleanly.
func signalContext(ctx context.Context) (context.Context, context.CancelFunc) {
	ctx, cancel := context.WithCancel(ctx)
	ch := make(chan os.Signal, 1)
	signal.Notify(ch, os.Interrupt, syscall.SIGTERM)
	go func() {
		select {
		case sig := <-ch:
			log.Printf("received %v, shutting down", sig)
			cancel()
		case <-ctx.Done():
		}
		signal.Stop(ch)
	}()
	return ctx, cancel
}

func loadExperiment() (*config.Experiment, error) {
	if *configPath == "" {
		return nil, fmt.Errorf("-config is required")
	}
	c, err := config.Load(*configPath)
	if err != nil {
		return nil, err
	}
	exp, err := c.Compile()
	if err != nil {
		return nil, err
	}
	if exp.Channels == 0 {
		exp.Channels = *channels
	}
	if exp.UnblockDuration == 0 {
		exp.UnblockDuration = *unblockDuration
	}
	return exp, nil
}

// buildPlugins constructs and validates the caller and aligner, and checks
// the configured target contigs against the aligner's reference when it has
// one.
func buildPlugins(ctx context.Context, exp *config.Experiment) (basecall.Caller, mapper.Aligner, error) {
	caller, err := basecall.New(exp.Caller)
	if err != nil {
		return nil, nil, err
	}
	aligner, err := mapper.New(exp.Mapper)
	if err != nil {
		return nil, nil, err
	}
	vctx, vcancel := context.WithTimeout(ctx, *pluginTimeout)
	defer vcancel()
	if err := caller.Validate(vctx); err != nil {
		return nil, nil, fmt.Errorf("caller plugin init failed: %v", err)
	}
	if err := aligner.Validate(vctx); err != nil {
		return nil, nil, fmt.Errorf("aligner plugin init failed: %v", err)
	}
	log.Printf("caller: %s", caller.Describe())
	log.Printf("aligner: %s", aligner.Describe())

	if hp, ok := aligner.(mapper.HeaderProvider); ok && hp.Header() != nil {
		header := hp.Header()
		for _, cond := range exp.Regions {
			if cond.Targets != nil {
				if err := cond.Targets.ValidateContigs(header); err != nil {
					return nil, nil, fmt.Errorf("region %s: %v", cond.Name, err)
				}
			}
		}
		for name, cond := range exp.Barcodes {
			if cond.Targets != nil {
				if err := cond.Targets.ValidateContigs(header); err != nil {
					return nil, nil, fmt.Errorf("barcode %s: %v", name, err)
				}
			}
		}
	}
	return caller, aligner, nil
}

func runTargets(ctx context.Context) error {
	if *deviceAddr == "" {
		return fmt.Errorf("-device is required")
	}
	exp, err := loadExperiment()
	if err != nil {
		return err
	}
	caller, aligner, err := buildPlugins(ctx, exp)
	if err != nil {
		return err
	}
	layout, err := flowcell.NewLayout(exp.Channels)
	if err != nil {
		return err
	}
	cmap, err := flowcell.New(layout, exp)
	if err != nil {
		return err
	}
	conn, err := device.Dial(ctx, *deviceAddr, device.DialOpts{
		MaxReconnects:  *maxReconnects,
		ReconnectDelay: *reconnectDelay,
	})
	if err != nil {
		return fmt.Errorf("instrument dial %s: %v", *deviceAddr, err)
	}
	defer conn.Close(ctx) // nolint: errcheck

	driver := pipeline.New(conn, caller, aligner, cmap, pipeline.Opts{
		Throttle:        *throttle,
		ChunkDuration:   *chunkDuration,
		UnblockDuration: exp.UnblockDuration,
	})
	log.Printf("running targets on %s (%d channels, %d region(s), %d barcode condition(s))",
		*deviceAddr, exp.Channels, len(exp.Regions), len(exp.Barcodes))
	return driver.Run(ctx)
}

func runUnblockAll(ctx context.Context) error {
	if *deviceAddr == "" {
		return fmt.Errorf("-device is required")
	}
	conn, err := device.Dial(ctx, *deviceAddr, device.DialOpts{
		MaxReconnects:  *maxReconnects,
		ReconnectDelay: *reconnectDelay,
	})
	if err != nil {
		return fmt.Errorf("instrument dial %s: %v", *deviceAddr, err)
	}
	defer conn.Close(ctx) // nolint: errcheck
	log.Printf("running unblock-all on %s", *deviceAddr)
	_, err = pipeline.UnblockAll(ctx, conn, *unblockDuration)
	return err
}

func runValidate(ctx context.Context) error {
	exp, err := loadExperiment()
	if err != nil {
		return err
	}
	var conditions []string
	for _, cond := range exp.Regions {
		conditions = append(conditions, describeCondition("region", cond))
	}
	for name, cond := range exp.Barcodes {
		conditions = append(conditions, describeCondition("barcode "+name, cond))
	}
	log.Printf("configuration valid: %s", strings.Join(conditions, "; "))
	if *skipPlugins {
		// Still resolve the plugin names and options; only initialization is
		// skipped.
		if _, err := basecall.New(exp.Caller); err != nil {
			return err
		}
		if _, err := mapper.New(exp.Mapper); err != nil {
			return err
		}
		log.Printf("plugin initialization skipped")
		return nil
	}
	caller, aligner, err := buildPlugins(ctx, exp)
	if err != nil {
		return err
	}
	defer caller.Close(ctx)  // nolint: errcheck
	defer aligner.Close(ctx) // nolint: errcheck
	return nil
}

func describeCondition(kind string, cond *config.Condition) string {
	targets := 0
	if cond.Targets != nil {
		targets = cond.Targets.NumIntervals()
	}
	flavor := ""
	if cond.Control {
		flavor = ", control"
	}
	return fmt.Sprintf("%s %s (%d target interval(s), chunks [%d, %d]%s)",
		kind, cond.Name, targets, cond.MinChunks, cond.MaxChunks, flavor)
}
