package main

import (
	"context"
	"flag"
	"log"

	"main/internal/audit"
	"main/internal/core"
	"main/internal/obs"
	"main/internal/ops"

	pyroscope "github.com/grafana/pyroscope-go"
	"github.com/yanun0323/logs"
	"github.com/yanun0323/pkg/sys"
)

func main() {
	configPath := flag.String("config", "config.json", "Path to JSON config")
	flag.Parse()

	loaded, err := ops.Load(*configPath)
	if err != nil {
		log.Fatalf("config load failed: %v", err)
	}

	if loaded.Profiling.Enable {
		profiler, err := startProfiler(loaded.Profiling)
		if err != nil {
			log.Fatalf("pyroscope start failed: %v", err)
		}
		defer func() { _ = profiler.Stop() }()
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() {
		<-sys.Shutdown()
		logs.Info("shutdown signal received")
		cancel()
	}()

	sup, err := core.New(ctx, loaded)
	if err != nil {
		log.Fatalf("pipeline build failed: %v", err)
	}

	if loaded.AuditDSN != "" {
		sink, err := audit.NewSink(loaded.AuditDSN, sup.Transitions().Subscribe(256))
		if err != nil {
			log.Fatalf("audit sink failed: %v", err)
		}
		defer sink.Close()
		go func() {
			if err := sink.Run(ctx); err != nil && ctx.Err() == nil {
				logs.Errorf("audit sink stopped, err: %+v", err)
			}
		}()
	}

	go logTerminalTransitions(ctx, sup.Transitions())

	if err := sup.Run(ctx); err != nil && ctx.Err() == nil {
		log.Fatalf("run failed: %v", err)
	}
	logs.Info("quoter stopped")
}

func logTerminalTransitions(ctx context.Context, stream *obs.TransitionStream) {
	ch := stream.Subscribe(256)
	for {
		select {
		case <-ctx.Done():
			return
		case t, ok := <-ch:
			if !ok {
				return
			}
			if !t.To.IsTerminal() {
				continue
			}
			logs.Infof("order %d settled %s -> %s, code: %d, message: %s, tx: %s",
				t.ClientOrderID, t.From.String(), t.To.String(), t.Code, t.Message, t.TxHash)
		}
	}
}

func startProfiler(cfg ops.ProfilingConfig) (*pyroscope.Profiler, error) {
	app := cfg.AppName
	if app == "" {
		app = "quoter"
	}
	return pyroscope.Start(pyroscope.Config{
		ApplicationName: app,
		ServerAddress:   cfg.ServerAddress,
		ProfileTypes: []pyroscope.ProfileType{
			pyroscope.ProfileCPU,
			pyroscope.ProfileAllocObjects,
			pyroscope.ProfileAllocSpace,
			pyroscope.ProfileInuseObjects,
			pyroscope.ProfileInuseSpace,
		},
	})
}
