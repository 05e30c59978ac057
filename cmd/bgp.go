package main

import (
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/dcoles-net/bgpd/bgp"
	"github.com/dcoles-net/bgpd/internal/config"
	"github.com/dcoles-net/bgpd/internal/control"
	"github.com/dcoles-net/bgpd/internal/log"
	"github.com/dcoles-net/bgpd/internal/metrics"
)

func main() {
	configPath := flag.String("config", "", "path to the YAML configuration file")
	flag.Parse()

	lg, err := log.NewProduction()
	if err != nil {
		fmt.Fprintln(os.Stderr, "bgpd: building logger:", err)
		os.Exit(1)
	}

	cfg, err := config.Load(*configPath)
	if err != nil {
		lg.ERR("main", log.KV{"event": "config-load-failed", "error": err.Error()})
		os.Exit(1)
	}

	peers, err := cfg.PeerConfigs()
	if err != nil {
		lg.ERR("main", log.KV{"event": "config-invalid", "error": err.Error()})
		os.Exit(1)
	}

	metrics.Register()

	pipe, err := control.Open(cfg.Control.Prefix)
	if err != nil {
		lg.ERR("main", log.KV{"event": "control-pipe-failed", "error": err.Error()})
		os.Exit(1)
	}
	defer pipe.Close()

	sink := control.NewSink(pipe, lg)
	notify := metrics.Wrap(sink)

	reactor, err := bgp.NewReactor(peers, cfg.Service.ListenAddr, notify, lg)
	if err != nil {
		lg.ERR("main", log.KV{"event": "reactor-start-failed", "error": err.Error()})
		os.Exit(1)
	}

	if cfg.Service.MetricsAddr != "" {
		go serveMetrics(cfg.Service.MetricsAddr, lg)
	}

	stop := make(chan struct{}, 1)

	go consumeCommands(pipe, reactor, *configPath, stop, lg)
	go pollStatus(reactor)

	waitForSignalOrStop(stop, lg)

	reactor.Close()
	time.Sleep(2 * time.Second)
}

func serveMetrics(addr string, lg log.Logger) {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	if err := http.ListenAndServe(addr, mux); err != nil {
		lg.WARNING("main", log.KV{"event": "metrics-server-exited", "error": err.Error()})
	}
}

// consumeCommands drains the control pipe's .in FIFO, translating each
// parsed Command into the corresponding Reactor call. A Command that
// failed to parse (cmd.Err != nil) is counted and otherwise ignored -
// the operator sees the rejection in the process's own logs, matching
// exabgp's behaviour of logging malformed lines rather than crashing.
// `shutdown`/`restart` both request the same graceful process exit (the
// supervisor, not the speaker, is what actually restarts a configuration
// per §9's fork-per-configuration design); `reload` re-reads the YAML
// file and hands the reactor the new peer set without dropping sessions
// that are unaffected; `teardown <neighbor>` tears down one peer only.
func consumeCommands(pipe *control.Pipe, reactor *bgp.Reactor, configPath string, stop chan<- struct{}, lg log.Logger) {
	const F = "control"

	for cmd := range pipe.Commands() {
		if cmd.Err != nil {
			metrics.ControlCommandsTotal.WithLabelValues(cmd.Verb, "rejected").Inc()
			lg.WARNING(F, log.KV{"event": "bad-command", "raw": cmd.Raw, "error": cmd.Err.Error()})
			continue
		}

		switch cmd.Verb {
		case "announce", "withdraw":
			if cmd.Change != nil {
				reactor.Push(*cmd.Change)
			}
		case "teardown":
			reactor.Teardown(cmd.Target)
		case "reload":
			reloadConfig(reactor, configPath, lg)
		case "shutdown", "restart":
			lg.NOTICE(F, log.KV{"event": "lifecycle-command", "verb": cmd.Verb})
			select {
			case stop <- struct{}{}:
			default:
			}
		case "version":
			lg.NOTICE(F, log.KV{"event": "lifecycle-command", "verb": cmd.Verb})
		default:
			lg.WARNING(F, log.KV{"event": "unhandled-verb", "verb": cmd.Verb})
			metrics.ControlCommandsTotal.WithLabelValues(cmd.Verb, "rejected").Inc()
			continue
		}

		metrics.ControlCommandsTotal.WithLabelValues(cmd.Verb, "applied").Inc()
	}
}

// reloadConfig re-parses the configuration file and pushes the new
// peer set to the reactor; a parse failure is logged and the running
// configuration is left untouched rather than torn down.
func reloadConfig(reactor *bgp.Reactor, configPath string, lg log.Logger) {
	const F = "control"

	cfg, err := config.Load(configPath)
	if err != nil {
		lg.ERR(F, log.KV{"event": "reload-failed", "error": err.Error()})
		return
	}
	peers, err := cfg.PeerConfigs()
	if err != nil {
		lg.ERR(F, log.KV{"event": "reload-invalid", "error": err.Error()})
		return
	}
	reactor.Configure(peers)
	lg.NOTICE(F, log.KV{"event": "reloaded", "peers": len(peers)})
}

// pollStatus keeps the AdjRIBOutSize gauge current; SessionState and
// the other per-event collectors are updated through the metrics.Wrap
// decorator, so this loop only catches up RIB size, which changes
// outside of any single Notify callback.
func pollStatus(reactor *bgp.Reactor) {
	ticker := time.NewTicker(5 * time.Second)
	defer ticker.Stop()

	for range ticker.C {
		for peer, st := range reactor.Status() {
			for family, size := range st.RIBSizes {
				metrics.AdjRIBOutSize.WithLabelValues(peer, family).Set(float64(size))
			}
		}
	}
}

// waitForSignalOrStop blocks until either a SIGINT/SIGTERM arrives or
// the control pipe delivers a shutdown/restart command on stop.
func waitForSignalOrStop(stop <-chan struct{}, lg log.Logger) {
	sigs := make(chan os.Signal, 1)
	signal.Notify(sigs, syscall.SIGINT, syscall.SIGTERM)
	select {
	case s := <-sigs:
		lg.NOTICE("main", log.KV{"event": "signal-received", "signal": s.String()})
	case <-stop:
		lg.NOTICE("main", log.KV{"event": "control-shutdown-received"})
	}
}
