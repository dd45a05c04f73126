package gateway

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"time"

	"github.com/lunalabs/luna/cmd/luna/internal"
	"github.com/lunalabs/luna/pkg/astro"
	"github.com/lunalabs/luna/pkg/bus"
	"github.com/lunalabs/luna/pkg/channels"
	"github.com/lunalabs/luna/pkg/config"
	"github.com/lunalabs/luna/pkg/intent"
	"github.com/lunalabs/luna/pkg/logger"
	"github.com/lunalabs/luna/pkg/notify"
	"github.com/lunalabs/luna/pkg/router"
	"github.com/lunalabs/luna/pkg/session"
	"github.com/lunalabs/luna/pkg/store"
	"github.com/lunalabs/luna/pkg/workflow"
	"github.com/lunalabs/luna/pkg/workflow/steps"
)

func gatewayCmd(debug bool) error {
	cfg, err := internal.LoadConfig()
	if err != nil {
		return fmt.Errorf("error loading config: %w", err)
	}

	if debug || strings.EqualFold(cfg.Logging.Level, "debug") {
		logger.SetLevel(logger.DEBUG)
		fmt.Println("🔍 Debug mode enabled")
	}

	db, err := store.NewSQLiteStore(cfg.StorePath())
	if err != nil {
		return fmt.Errorf("error opening store: %w", err)
	}
	defer db.Close()

	sessions := session.NewManager(session.Config{
		MaxTurnsInCache: cfg.Session.MaxTurnsInCache,
		MaxCacheSize:    cfg.Session.MaxCacheSize,
	}, db, db)

	classifier, err := buildClassifier(cfg)
	if err != nil {
		return err
	}

	llm := astro.NewClient(cfg.LLM.Anthropic.APIKey, cfg.LLM.Anthropic.Model)
	registry := workflow.NewRegistry()
	steps.Register(registry, steps.Config{
		Profiles:  db,
		Locations: db,
		Extractor: astro.NewExtractor(llm),
		Generator: astro.NewGenerator(llm),
		Responder: astro.NewResponder(llm),
	})
	engine, err := workflow.NewEngine(registry)
	if err != nil {
		return fmt.Errorf("error building workflow engine: %w", err)
	}

	dispatcher := router.New(sessions, classifier, engine, db, db)

	msgBus := bus.NewMessageBus()
	manager := channels.NewManager(msgBus)
	registerChannels(cfg, msgBus, manager)

	var scheduler *notify.Scheduler
	if cfg.Notifications.Enabled {
		retention := time.Duration(cfg.Notifications.RetentionDays) * 24 * time.Hour
		scheduler = notify.NewScheduler(
			notify.NewCleanupJob(db, cfg.Notifications.CleanupSchedule, retention),
		)
		if err := scheduler.Validate(); err != nil {
			return fmt.Errorf("error in notification schedule: %w", err)
		}
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	manager.StartAll(ctx)
	if names := manager.Names(); len(names) > 0 {
		fmt.Printf("✓ Channels enabled: %s\n", strings.Join(names, ", "))
	} else {
		fmt.Println("⚠ Warning: No channels enabled")
	}

	go manager.DispatchOutbound(ctx)
	go runInboundLoop(ctx, msgBus, dispatcher)
	go runEventLoop(ctx, msgBus, dispatcher)

	if scheduler != nil {
		scheduler.Start(ctx)
		fmt.Println("✓ Notification scheduler started")
	}

	fmt.Println("✓ Gateway started")
	fmt.Println("Press Ctrl+C to stop")

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt)
	<-sigChan

	fmt.Println("\nShutting down...")
	if scheduler != nil {
		scheduler.Stop()
	}
	cancel()
	stopCtx, stopCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer stopCancel()
	manager.StopAll(stopCtx)
	msgBus.Close()
	fmt.Println("✓ Gateway stopped")

	return nil
}

func buildClassifier(cfg *config.Config) (intent.Classifier, error) {
	apiKey, model := cfg.ClassifierCredentials()
	if apiKey == "" {
		return nil, fmt.Errorf("no API key configured for llm provider %q", cfg.LLM.Provider)
	}
	switch cfg.LLM.Provider {
	case "openai":
		return intent.NewOpenAIClassifier(apiKey, model), nil
	case "", "anthropic":
		return intent.NewAnthropicClassifier(apiKey, model), nil
	default:
		return nil, fmt.Errorf("unknown llm provider %q", cfg.LLM.Provider)
	}
}

func registerChannels(cfg *config.Config, msgBus *bus.MessageBus, manager *channels.Manager) {
	if cfg.Channels.Telegram.Enabled {
		manager.Register(channels.NewTelegramChannel(
			cfg.Channels.Telegram.Token, msgBus, cfg.Channels.Telegram.AllowFrom))
	}
	if cfg.Channels.WhatsApp.Enabled {
		manager.Register(channels.NewWhatsAppChannel(channels.WhatsAppConfig{
			AccessToken:   cfg.Channels.WhatsApp.AccessToken,
			PhoneNumberID: cfg.Channels.WhatsApp.PhoneNumberID,
			VerifyToken:   cfg.Channels.WhatsApp.VerifyToken,
			ListenAddr:    cfg.Channels.WhatsApp.ListenAddr,
			WebhookPath:   cfg.Channels.WhatsApp.WebhookPath,
		}, msgBus, cfg.Channels.WhatsApp.AllowFrom))
	}
	if cfg.Channels.Discord.Enabled {
		manager.Register(channels.NewDiscordChannel(
			cfg.Channels.Discord.Token, msgBus, cfg.Channels.Discord.AllowFrom))
	}
	if cfg.Channels.Web.Enabled {
		manager.Register(channels.NewWebChannel(cfg.Channels.Web.ListenAddr, msgBus, nil))
	}
	if cfg.Channels.CLI.Enabled {
		manager.Register(channels.NewCLIChannel(msgBus))
	}
}

// runInboundLoop consumes canonical requests and routes each through the
// dispatcher. Sequential by design: per-user ordering is what keeps
// multi-turn workflows coherent.
func runInboundLoop(ctx context.Context, msgBus *bus.MessageBus, dispatcher *router.Router) {
	for {
		msg, ok := msgBus.ConsumeInbound(ctx)
		if !ok {
			return
		}
		response := dispatcher.Route(ctx, msg)
		if err := msgBus.PublishOutbound(ctx, response); err != nil {
			logger.ErrorCF("gateway", "Outbound publish failed", map[string]any{
				"error": err.Error(),
			})
		}
	}
}

// runEventLoop forwards external events (payment callbacks) to waiting
// workflows.
func runEventLoop(ctx context.Context, msgBus *bus.MessageBus, dispatcher *router.Router) {
	for {
		ev, ok := msgBus.ConsumeEvent(ctx)
		if !ok {
			return
		}
		if ev.Message == nil {
			logger.WarnCF("gateway", "Event without addressing dropped", map[string]any{
				"event": ev.Type,
			})
			continue
		}
		response := dispatcher.HandleEvent(ctx, ev.Type, ev.Data, ev.Message)
		if response == nil {
			continue
		}
		if err := msgBus.PublishOutbound(ctx, response); err != nil {
			logger.ErrorCF("gateway", "Outbound publish failed", map[string]any{
				"error": err.Error(),
			})
		}
	}
}
