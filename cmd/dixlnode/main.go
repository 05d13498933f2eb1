// Command dixlnode runs one dIXL node: it listens for NODECONFIG from the
// host, then drives the Init/Ctrl/Diagnostic FSMs and the Point/Sensor
// simulators until the host resets it or the process receives a signal.
// Grounded on the teacher's cmd/iecat/main.go: flags validated up front,
// signal.Notify armed before anything else starts, a deferred os.Exit
// carrying whatever exit code the run settled on.
package main

import (
	"context"
	"errors"
	"flag"
	"log"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/sirupsen/logrus"

	dixl "github.com/dixl/node"
	"github.com/dixl/node/dixlerr"
	"github.com/dixl/node/msg"
	"github.com/dixl/node/node"
)

var CmdLog = log.New(os.Stderr, filepath.Base(os.Args[0])+": ", 0)

var (
	selfFlag        = flag.String("self", "", "This node's `address`, a dotted-quad IPv4 identifier.")
	listenFlag      = flag.String("listen", ":256", "TCP `address` CommRx binds for peer and host connections.")
	metricsFlag     = flag.String("metrics", "", "Optional `address` to serve Prometheus metrics on, e.g. :9256.")
	logLevelFlag    = flag.String("log-level", "info", "Logging `level`: trace, debug, info, warn, error.")
	pingPeriodFlag  = flag.Duration("diag-ping-period", 0, "Diagnostic ping round period, 0 for the §6 default.")
	commTimeoutFlag = flag.Duration("comm-timeout", 0, "WaitAck/WaitCommit/WaitAgree deadline, 0 for the §6 default.")
)

func main() {
	log.SetFlags(0)
	flag.Parse()

	signals := make(chan os.Signal, 1)
	signal.Notify(signals, syscall.SIGINT, syscall.SIGTERM)

	self := mustSelf()
	logger := mustLogger()
	cfg := mustConfig()

	n := node.New(self, cfg, logger)

	if *metricsFlag != "" {
		go serveMetrics(n, *metricsFlag, logger)
	}

	ctx, cancel := context.WithCancel(context.Background())
	runErr := make(chan error, 1)
	go func() { runErr <- n.Run(ctx) }()

	var exitCode int
	defer func() { os.Exit(exitCode) }()

	for {
		select {
		case sig := <-signals:
			logger.WithField("signal", sig).Info("shutting down")
			cancel()

		case err := <-runErr:
			if err == nil {
				return
			}
			exitCode = exitCodeOf(err)
			CmdLog.Print(err)
			return
		}
	}
}

func mustSelf() msg.NodeID {
	if *selfFlag == "" {
		CmdLog.Fatal("-self is required: this node's dotted-quad address")
	}
	id, err := msg.ParseNodeID(*selfFlag)
	if err != nil {
		CmdLog.Fatal(err)
	}
	return id
}

func mustLogger() *logrus.Entry {
	l := logrus.New()
	level, err := logrus.ParseLevel(*logLevelFlag)
	if err != nil {
		CmdLog.Fatal(err)
	}
	l.SetLevel(level)
	return logrus.NewEntry(l)
}

func mustConfig() *dixl.Config {
	cfg := &dixl.Config{
		ListenAddr:     *listenFlag,
		DiagPingPeriod: *pingPeriodFlag,
		CommMsgTimeout: *commTimeoutFlag,
	}
	cfg.Check()
	return cfg
}

func serveMetrics(n *node.Node, addr string, logger *logrus.Entry) {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(n.Registry, promhttp.HandlerOpts{}))
	logger.WithField("addr", addr).Info("serving metrics")
	if err := http.ListenAndServe(addr, mux); err != nil {
		logger.WithError(err).Warn("metrics server exited")
	}
}

// exitCodeOf maps a returned error to the process exit code of spec §6 via
// dixlerr.Kind.ExitCode, falling back to 1 for an error outside the
// taxonomy.
func exitCodeOf(err error) int {
	var derr *dixlerr.Error
	if errors.As(err, &derr) {
		if code := derr.Kind.ExitCode(); code != 0 {
			return code
		}
	}
	return 1
}
