package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"golang.org/x/sync/errgroup"

	"polybot/pkg/adapters/botapi"
	"polybot/pkg/adapters/discord"
	"polybot/pkg/adapters/telegram"
	"polybot/pkg/bus"
	"polybot/pkg/config"
	"polybot/pkg/dispatch"
	"polybot/pkg/entity"
	"polybot/pkg/logger"
	"polybot/pkg/session"
)

const version = "0.1.0"

const maxConcurrentHandlers = 32

// runner is one platform adapter: a long-running connection plus the
// normalizer the pump calls back into.
type runner interface {
	Platform() string
	Run(ctx context.Context) error
}

func main() {
	configPath := flag.String("config", "config.json", "path to the config file")
	debug := flag.Bool("debug", false, "enable debug logging")
	showVersion := flag.Bool("version", false, "print version and exit")
	flag.Parse()

	if *showVersion {
		fmt.Printf("polybot v%s\n", version)
		return
	}
	if *debug {
		logger.SetLevel(logger.DEBUG)
	}

	// Local .env files are a convenience for development; absence is fine.
	_ = godotenv.Load()

	cfg, err := config.LoadConfig(*configPath)
	if err != nil {
		fmt.Printf("Error loading config: %v\n", err)
		os.Exit(1)
	}

	if cfg.Logging.Enabled {
		if err := logger.EnableFileLogging(cfg.LogFilePath(), cfg.Logging.MaxSizeMB, cfg.Logging.RetentionDays); err != nil {
			fmt.Printf("Warning: file logging disabled: %v\n", err)
		}
		defer logger.DisableFileLogging()
	}

	if err := run(cfg); err != nil && !errors.Is(err, context.Canceled) {
		logger.ErrorCF("main", "Fatal error", map[string]interface{}{
			logger.FieldError: err.Error(),
		})
		os.Exit(1)
	}
}

func run(cfg *config.Config) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	events := bus.NewEventBus()
	defer events.Close()

	awaiting := session.NewStore(time.Duration(cfg.Awaiting.TTLSeconds)*time.Second, cfg.Awaiting.MaxEntries)
	if err := awaiting.StartSweeper(); err != nil {
		return err
	}
	defer awaiting.Stop()

	runners, err := buildAdapters(cfg, events)
	if err != nil {
		return err
	}
	if len(runners) == 0 {
		return fmt.Errorf("no adapters enabled in config")
	}

	dispatcher := dispatch.New(awaiting, dispatch.Options{
		DownloadDir: cfg.Download.Dir,
		SelfTest:    selfTest(runners, awaiting),
	})

	group, groupCtx := errgroup.WithContext(ctx)
	for _, r := range runners {
		r := r
		group.Go(func() error {
			logger.InfoC("main", "Starting adapter: "+r.Platform())
			if err := r.Run(groupCtx); err != nil && !errors.Is(err, context.Canceled) {
				return fmt.Errorf("%s adapter: %w", r.Platform(), err)
			}
			return nil
		})
	}
	group.Go(func() error {
		pump(groupCtx, events, dispatcher)
		return nil
	})

	logger.InfoCF("main", "polybot running", map[string]interface{}{
		"adapters": len(runners),
	})
	return group.Wait()
}

func buildAdapters(cfg *config.Config, events *bus.EventBus) ([]runner, error) {
	var runners []runner
	if cfg.Telegram.Enabled {
		runners = append(runners, telegram.NewAdapter(cfg.Telegram, events))
	}
	if cfg.BotAPI.Enabled {
		a, err := botapi.NewAdapter(cfg.BotAPI, events)
		if err != nil {
			return nil, err
		}
		runners = append(runners, a)
	}
	if cfg.Discord.Enabled {
		a, err := discord.NewAdapter(cfg.Discord, events)
		if err != nil {
			return nil, err
		}
		runners = append(runners, a)
	}
	return runners, nil
}

// pump consumes inbound natives, normalizes them and hands messages to
// the dispatcher. Handlers run on a bounded pool so one slow download
// cannot stall the queue.
func pump(ctx context.Context, events *bus.EventBus, dispatcher *dispatch.Dispatcher) {
	sem := make(chan struct{}, maxConcurrentHandlers)
	for {
		ev, ok := events.Consume(ctx)
		if !ok {
			return
		}
		select {
		case <-ctx.Done():
			return
		case sem <- struct{}{}:
		}
		go func(ev bus.Event) {
			defer func() { <-sem }()
			defer func() {
				if r := recover(); r != nil {
					logger.ErrorCF("main", "Recovered panic in message handler", map[string]interface{}{
						logger.FieldPlatform: ev.Platform,
						"panic":              fmt.Sprintf("%v", r),
					})
				}
			}()
			handleEvent(ctx, ev, dispatcher)
		}(ev)
	}
}

func handleEvent(ctx context.Context, ev bus.Event, dispatcher *dispatch.Dispatcher) {
	ent, err := ev.Source.Transform(ctx, ev.Native)
	if err != nil {
		var nerr *entity.NormalizationError
		if errors.As(err, &nerr) {
			logger.WarnCF(ev.Platform, "Dropping unnormalizable native", map[string]interface{}{
				logger.FieldNative: nerr.NativeKind,
				logger.FieldError:  nerr.Reason,
			})
		} else {
			logger.ErrorCF(ev.Platform, "Normalization failed", map[string]interface{}{
				logger.FieldError: err.Error(),
			})
		}
		return
	}
	msg, ok := ent.(*entity.Message)
	if !ok {
		logger.DebugCF(ev.Platform, "Ignoring non-message entity", map[string]interface{}{
			logger.FieldNative: fmt.Sprintf("%T", ent),
		})
		return
	}
	dispatcher.Handle(ctx, msg)
}

// selfTest backs the /test command with a snapshot of the runtime.
func selfTest(runners []runner, awaiting *session.Store) dispatch.SelfTest {
	return func(ctx context.Context) (map[string]string, error) {
		report := map[string]string{
			"version":          version,
			"awaiting_entries": fmt.Sprintf("%d", awaiting.Len()),
		}
		for _, r := range runners {
			report["adapter."+r.Platform()] = "running"
		}
		return report, nil
	}
}
