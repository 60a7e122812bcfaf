package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"golang.org/x/sync/errgroup"

	"codeberg.org/sverin/daqctl/internal/config"
	"codeberg.org/sverin/daqctl/internal/dispatch"
	"codeberg.org/sverin/daqctl/internal/logger"
	"codeberg.org/sverin/daqctl/internal/pid"
	"codeberg.org/sverin/daqctl/internal/ring"
	"codeberg.org/sverin/daqctl/internal/sched"
	"codeberg.org/sverin/daqctl/internal/telemetry"
	"codeberg.org/sverin/daqctl/internal/trigger"
)

const statusInterval = 10 * time.Second

var (
	cfg      *config.Config
	rateReqs = make(chan sched.RateRequest, 1)
)

func init() {
	var err error
	cfg, err = config.Load()
	if err != nil {
		fmt.Printf("failed to load config: %v\n", err)
		os.Exit(1)
	}

	logger.Init(cfg.IsDebug(), cfg.IsVerbose(), logger.IsService())
	logger.Debug().Msg("Config loaded")
}

func main() {
	if err := pid.Write(); err != nil {
		logger.Fatal().Err(err).Msg("failed to write pid file")
	}
	defer func() {
		if err := pid.Remove(); err != nil {
			logger.Error().Err(err).Msg("failed to remove pid file")
		}
	}()

	telemetryCfg := telemetry.DefaultConfig()
	telemetryCfg.Enabled = cfg.Telemetry
	telemetryCfg.DBPath = cfg.TelemetryDB
	collector, err := telemetry.NewService(telemetryCfg)
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to initialize telemetry")
	}
	defer func() {
		if err := collector.Close(); err != nil {
			logger.Error().Err(err).Msg("failed to close telemetry")
		}
	}()

	buf, err := ring.New(cfg.Capacity, ring.Geometry{Rows: cfg.Rows, Channels: cfg.Channels})
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to create frame buffer")
	}

	timing, err := sched.NewTiming(cfg.Period(), cfg.MinPeriod())
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to create timing config")
	}
	rateCtrl := sched.NewRateController(timing)

	// Simulated trigger source; a hardware front-end plugs in here.
	src := trigger.NewSim(cfg.MinPeriod() / 2)
	defer src.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	var scheduler *sched.Scheduler
	var dispatcher *dispatch.Dispatcher

	checkpoint := func(counter uint64) {
		applyRateRequests(rateCtrl)
		recordTelemetry(ctx, collector, scheduler, dispatcher, timing)
	}

	dispatcher, err = dispatch.New(buf, &peakSink{}, dispatch.Config{
		ProcessingCadence: uint64(cfg.ProcessCadence),
		ControlCadence:    uint64(cfg.ControlCadence),
		Policy:            dispatch.Policy(cfg.DispatchPolicy),
	}, checkpoint)
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to create dispatcher")
	}

	scheduler = sched.New(buf, src, timing, dispatcher)

	go handleSignals(cancel)

	logger.Info().
		Dur("period", cfg.Period()).
		Int("capacity", cfg.Capacity).
		Int("process_cadence", cfg.ProcessCadence).
		Int("control_cadence", cfg.ControlCadence).
		Str("dispatch_policy", cfg.DispatchPolicy).
		Msg("Starting acquisition pipeline")

	dispatcher.Start()
	defer dispatcher.Stop()

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return scheduler.Run(gctx)
	})
	g.Go(func() error {
		statusLoop(gctx, scheduler, dispatcher)
		return nil
	})

	if err := g.Wait(); err != nil {
		logger.Error().Err(err).Msg("acquisition pipeline terminated")
	}

	logger.Info().Msg("Exiting...")
}

func handleSignals(cancel context.CancelFunc) {
	sigs := make(chan os.Signal, 1)
	signal.Notify(sigs, syscall.SIGINT, syscall.SIGTERM, syscall.SIGHUP)

	for sig := range sigs {
		if sig == syscall.SIGHUP {
			reloadRate()
			continue
		}

		logger.Info().Msg("Received termination signal.")
		cancel()
		return
	}
}

// reloadRate re-reads the config file and queues the new period for the
// next control checkpoint. The acquisition loop is never preempted; the
// change lands at the following cycle boundary.
func reloadRate() {
	newCfg, err := config.Load()
	if err != nil {
		logger.Warn().Err(err).Msg("Config reload failed, keeping current rate")
		return
	}

	req := sched.RateRequest{Period: newCfg.Period()}

	// Only the newest pending request matters.
	select {
	case <-rateReqs:
	default:
	}
	rateReqs <- req

	logger.Info().Dur("period", req.Period).Msg("Rate change requested")
}

func applyRateRequests(rateCtrl *sched.RateController) {
	select {
	case req := <-rateReqs:
		if err := rateCtrl.SetPeriod(req.Period); err != nil {
			logger.Warn().Err(err).Dur("requested", req.Period).Msg("Rate change rejected")
			return
		}
		logger.Info().Dur("period", req.Period).Msg("Acquisition period updated")
	default:
	}
}

func recordTelemetry(
	ctx context.Context,
	collector telemetry.Collector,
	scheduler *sched.Scheduler,
	dispatcher *dispatch.Dispatcher,
	timing *sched.Timing,
) {
	acq := scheduler.Stats()
	dsp := dispatcher.Stats()

	snapshot := &telemetry.Snapshot{
		Timestamp: time.Now(),
		Acquisition: telemetry.AcquisitionMetrics{
			Count:    acq.Acquisitions,
			Timeouts: acq.Timeouts,
		},
		Dispatch: telemetry.DispatchMetrics{
			Dispatches: dsp.Dispatches,
			Skips:      dsp.Skips,
			Drops:      dsp.Drops,
			Yields:     dsp.Yields,
		},
		PeriodUS: timing.Period().Microseconds(),
	}

	if err := collector.Record(ctx, snapshot); err != nil {
		logger.Error().Err(err).Msg("failed to record telemetry")
	}
}

func statusLoop(ctx context.Context, scheduler *sched.Scheduler, dispatcher *dispatch.Dispatcher) {
	ticker := time.NewTicker(statusInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			acq := scheduler.Stats()
			dsp := dispatcher.Stats()
			logger.Info().
				Uint64("acquisitions", acq.Acquisitions).
				Uint64("timeouts", acq.Timeouts).
				Uint64("dispatches", dsp.Dispatches).
				Uint64("skips", dsp.Skips).
				Uint64("drops", dsp.Drops).
				Uint64("yields", dsp.Yields).
				Msg("Pipeline status")
		}
	}
}

// peakSink is the stand-in processing stage: it reduces each dispatched
// frame to its peak amplitude and logs it.
type peakSink struct{}

func (*peakSink) Accept(frame ring.Frame) {
	var peak int16
	for _, s := range frame.Samples {
		if s > peak {
			peak = s
		} else if -s > peak {
			peak = -s
		}
	}

	logger.Debug().
		Uint64("acquisition_index", frame.Index).
		Int("samples", len(frame.Samples)).
		Int16("peak", peak).
		Msg("Frame processed")
}
