// Command procmeshdemo wires procmesh's mailbox/thread/registry/protocol
// packages together and runs through the spec's end-to-end scenarios
// (pow worker, double registration, closed-mailbox, owner death, link
// death, FIFO) against a YAML-configured runtime. Grounded on the
// teacher's cmd/example/main.go: a small reactor-style main that deploys
// a couple of workers, logs through ctx.Log(), and waits on an OS
// signal before shutting down.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/fluxorio/procmesh/pkg/config"
	"github.com/fluxorio/procmesh/pkg/core"
	"github.com/fluxorio/procmesh/pkg/message"
	"github.com/fluxorio/procmesh/pkg/observability/prometheus"
	"github.com/fluxorio/procmesh/pkg/protocol"
	"github.com/fluxorio/procmesh/pkg/registry"
	"github.com/fluxorio/procmesh/pkg/thread"
	"github.com/fluxorio/procmesh/pkg/tracing"
)

// RuntimeConfig is the YAML-loadable configuration for this demo,
// following pkg/config's struct-tag-free, reflection-driven env
// override convention.
type RuntimeConfig struct {
	ServiceName   string        `yaml:"service_name"`
	QueryTimeout  time.Duration `yaml:"query_timeout"`
	MetricsAddr   string        `yaml:"metrics_addr"`
	EnableTracing bool          `yaml:"enable_tracing"`
}

func defaultConfig() RuntimeConfig {
	return RuntimeConfig{
		ServiceName:   "procmeshdemo",
		QueryTimeout:  2 * time.Second,
		MetricsAddr:   ":9090",
		EnableTracing: true,
	}
}

func loadConfig(logger core.Logger) RuntimeConfig {
	cfg := defaultConfig()

	path := os.Getenv("PROCMESH_CONFIG")
	if path == "" {
		return cfg
	}
	if err := config.LoadWithEnv(path, "PROCMESH", &cfg); err != nil {
		logger.Warnf("falling back to defaults: %v", err)
		return defaultConfig()
	}
	return cfg
}

func main() {
	logger := core.NewDefaultLogger()
	cfg := loadConfig(logger)

	if cfg.EnableTracing {
		if err := tracing.Initialize(cfg.ServiceName); err != nil {
			logger.Warnf("tracing disabled: %v", err)
		}
	}
	prometheus.GetMetrics() // registers the metric families eagerly

	root := thread.NewRoot()
	logger.Infof("root thread %s starting scenarios", root.ID())

	runPowScenario(root, cfg, logger)
	runDoubleRegisterScenario(logger)
	runClosedMailboxScenario(root, cfg, logger)
	runOwnerDeathScenario(logger)
	runLinkDeadScenario(logger)
	runFIFOScenario(root, cfg, logger)

	logger.Info("all scenarios completed; waiting for interrupt")

	sig := make(chan os.Signal, 1)
	signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM)
	<-sig

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	_ = tracing.Shutdown(shutdownCtx)
}

// runPowScenario implements spec.md's S1: a worker that answers
// Request{method:"pow"} with 2^n, then a shutdown round-trip.
func runPowScenario(root *thread.Context, cfg RuntimeConfig, logger core.Logger) {
	done := make(chan struct{})
	worker := thread.Spawn(root, func(self *thread.Context) {
		defer close(done)
		defer self.Cleanup()
		for {
			processed, shutdown, err := protocol.Process(self, func(ctx context.Context, req message.Request) message.Response {
				if req.Method != "pow" {
					return message.Response{Status: message.Failed, Data: "unknown method"}
				}
				n := 0
				fmt.Sscanf(req.Args, "%d", &n)
				return message.Response{Status: message.Success, Data: fmt.Sprintf("%d", 1<<uint(n))}
			})
			if shutdown || err != nil {
				return
			}
			if !processed {
				time.Sleep(time.Millisecond)
				continue
			}
		}
	})

	resp := protocol.Query(context.Background(), root.ID(), worker.Mailbox(), "pow", "2", cfg.QueryTimeout)
	logger.Infof("S1 pow(2) -> status=%s data=%s", resp.Status, resp.Data)

	if err := protocol.Shutdown(worker.Mailbox(), root.ID()); err != nil {
		logger.Errorf("S1 shutdown error: %v", err)
	}
	<-done
	logger.Info("S1 worker terminated")
}

// runDoubleRegisterScenario implements spec.md's S2.
func runDoubleRegisterScenario(logger core.Logger) {
	t1 := thread.NewRoot()
	t2 := thread.NewRoot()

	ok1 := registry.Register("svc", t1.ID()) == nil
	ok2 := registry.Register("svc", t2.ID()) == nil
	loc, _ := registry.Locate("svc")
	unregErr := registry.Unregister("svc")
	ok3 := registry.Register("svc", t2.ID()) == nil
	loc2, _ := registry.Locate("svc")

	logger.Infof("S2 register(t1)=%v register(t2)=%v locate=%v unregister_err=%v register(t2)again=%v locate2=%v",
		ok1, ok2, loc == t1.ID(), unregErr, ok3, loc2 == t2.ID())
}

// runClosedMailboxScenario implements spec.md's S3.
func runClosedMailboxScenario(root *thread.Context, cfg RuntimeConfig, logger core.Logger) {
	done := make(chan struct{})
	worker := thread.Spawn(root, func(self *thread.Context) {
		defer close(done)
		defer self.Cleanup()
		for {
			_, shutdown, err := protocol.Process(self, func(ctx context.Context, req message.Request) message.Response {
				return message.Response{Status: message.Success}
			})
			if shutdown || err != nil {
				return
			}
			time.Sleep(time.Millisecond)
		}
	})

	if err := protocol.Shutdown(worker.Mailbox(), root.ID()); err != nil {
		logger.Errorf("S3 shutdown error: %v", err)
	}
	<-done

	resp := protocol.Query(context.Background(), root.ID(), worker.Mailbox(), "anything", "", cfg.QueryTimeout)
	logger.Infof("S3 query after shutdown -> status=%s (want Failed)", resp.Status)
}

// runOwnerDeathScenario implements spec.md's S4.
func runOwnerDeathScenario(logger core.Logger) {
	parent := thread.NewRoot()
	observed := make(chan message.SignalKind, 1)
	thread.Spawn(parent, func(self *thread.Context) {
		for {
			_, err := self.Process(func(req message.Message) message.Message {
				if req.Signal != nil {
					observed <- req.Signal.Kind
				}
				return message.Message{}
			})
			if err != nil {
				return
			}
			time.Sleep(time.Millisecond)
		}
	})

	parent.Cleanup()
	kind := <-observed
	logger.Infof("S4 child observed signal=%s (want OwnerTerminated)", kind)
}

// runLinkDeadScenario implements spec.md's S5.
func runLinkDeadScenario(logger core.Logger) {
	parent := thread.NewRoot()
	child1Done := make(chan struct{})
	child1 := thread.Spawn(parent, func(self *thread.Context) {
		self.Cleanup()
		close(child1Done)
	})
	thread.Spawn(parent, func(self *thread.Context) {
		<-child1Done
	})
	<-child1Done

	end := time.Now().Add(200 * time.Millisecond)
	var gotLinkDead bool
	for time.Now().Before(end) {
		_, err := parent.Process(func(req message.Message) message.Message {
			if req.Signal != nil && req.Signal.Kind == message.SignalLinkTerminated {
				gotLinkDead = true
			}
			return message.Message{}
		})
		_ = err
		if gotLinkDead {
			break
		}
		time.Sleep(time.Millisecond)
	}

	stillLinked := false
	for _, l := range parent.Links() {
		if l == child1.ID() {
			stillLinked = true
		}
	}
	logger.Infof("S5 observed LinkDead=%v child1 still in links=%v (want true, false)", gotLinkDead, stillLinked)
}

// runFIFOScenario implements spec.md's S6.
func runFIFOScenario(root *thread.Context, cfg RuntimeConfig, logger core.Logger) {
	worker := thread.Spawn(root, func(self *thread.Context) {
		for i := 0; i < 2; {
			processed, shutdown, err := protocol.Process(self, func(ctx context.Context, req message.Request) message.Response {
				return message.Response{Status: message.Success, Data: req.Args}
			})
			if shutdown || err != nil {
				return
			}
			if processed {
				i++
			} else {
				time.Sleep(time.Millisecond)
			}
		}
	})

	order := make(chan string, 2)
	go func() {
		order <- protocol.Query(context.Background(), root.ID(), worker.Mailbox(), "echo", "A", cfg.QueryTimeout).Data
	}()
	time.Sleep(5 * time.Millisecond)
	go func() {
		order <- protocol.Query(context.Background(), root.ID(), worker.Mailbox(), "echo", "B", cfg.QueryTimeout).Data
	}()

	first, second := <-order, <-order
	logger.Infof("S6 dequeue order: %s then %s (want A then B)", first, second)
}
