package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/rs/zerolog/log"

	contractx "github.com/napatsw/deskmate/agent/contract"
	handlersx "github.com/napatsw/deskmate/agent/handlers"
	memoryx "github.com/napatsw/deskmate/agent/memory"
	orchestratorx "github.com/napatsw/deskmate/agent/orchestrator"
	registryx "github.com/napatsw/deskmate/agent/registry"
	routingx "github.com/napatsw/deskmate/agent/routing"
	toolx "github.com/napatsw/deskmate/agent/tool"
	configx "github.com/napatsw/deskmate/pkg/config"
	llmx "github.com/napatsw/deskmate/pkg/llm"
	_ "github.com/napatsw/deskmate/pkg/logger/autoload"
	webhookx "github.com/napatsw/deskmate/pkg/webhook"
)

type AppConfig struct {
	PostgresDSN string `envconfig:"POSTGRES_DSN"`
	WebhookURL  string `envconfig:"WEBHOOK_URL"`
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	appCfg := configx.MustNew[AppConfig]("")

	llmCfg := configx.MustNew[llmx.Config]("LLM")
	inference, err := llmx.NewClient(*llmCfg)
	if err != nil {
		log.Fatal().Err(err).Msg("initialize inference client")
	}

	var (
		memStore contractx.MemoryStore
		traceLog contractx.TraceLog
		tickets  toolx.TicketStore
	)
	memCfg := configx.MustNew[memoryx.Config]("MEMORY")
	if appCfg.PostgresDSN != "" {
		pgCfg := configx.MustNew[memoryx.PostgresConfig]("POSTGRES")
		db, err := memoryx.OpenDB(*pgCfg)
		if err != nil {
			log.Fatal().Err(err).Msg("open postgres")
		}
		defer db.Close()
		pg, err := memoryx.NewPostgresStore(db, *memCfg)
		if err != nil {
			log.Fatal().Err(err).Msg("initialize postgres store")
		}
		if err := pg.Migrate(ctx); err != nil {
			log.Fatal().Err(err).Msg("migrate postgres store")
		}
		memStore, traceLog, tickets = pg, pg, pg.Tickets()
	} else {
		memStore = memoryx.NewStore(*memCfg)
		traceLog = memoryx.NewTraceLog()
		tickets = toolx.NewMemTicketStore()
	}

	var notifier contractx.Notifier = webhookx.LogNotifier{}
	if appCfg.WebhookURL != "" {
		webhookCfg := configx.MustNew[webhookx.Config]("WEBHOOK")
		notifier = webhookx.MustNew(*webhookCfg)
	}

	catalog := toolx.NewCatalog(tickets)

	reg := registryx.New()
	for _, h := range []contractx.Handler{
		handlersx.NewClassifier(inference),
		handlersx.NewRefund(catalog, memStore),
		handlersx.NewShipping(catalog),
		handlersx.NewTech(catalog),
		handlersx.NewOversight(catalog),
		handlersx.NewNotify(notifier),
	} {
		if err := reg.Register(h); err != nil {
			log.Fatal().Err(err).Str("handler", h.Name()).Msg("register handler")
		}
	}

	policyCfg := configx.MustNew[routingx.Config]("ROUTING")
	policy := routingx.NewPolicy(*policyCfg)

	orchCfg := configx.MustNew[orchestratorx.Config]("ORCHESTRATOR")
	orch, err := orchestratorx.New(reg, policy, memStore, traceLog, *orchCfg)
	if err != nil {
		log.Fatal().Err(err).Msg("initialize orchestrator")
	}

	log.Info().Strs("handlers", reg.Names()).Msg("message core ready")

	if len(os.Args) > 1 {
		runOnce(ctx, orch, os.Args[1])
		return
	}

	<-ctx.Done()
	log.Info().Msg("shutting down")
}

// runOnce submits a single message from the command line and prints the
// outcome. Handy for smoke-testing a deployment.
func runOnce(ctx context.Context, orch *orchestratorx.Orchestrator, text string) {
	result, err := orch.Submit(ctx, text, "cli-user", "")
	if err != nil {
		log.Error().Err(err).Msg("submit")
	}
	if result == nil {
		return
	}
	fmt.Printf("trace=%s handler=%s intent=%s priority=%.1f escalated=%v tickets=%v\n",
		result.TraceID, result.Handler, result.Intent, result.Priority, result.Escalated, result.TicketIDs)
	for _, resp := range result.Responses {
		fmt.Printf("  [%s] %s\n", resp.Type, resp.Text())
	}
	for _, e := range result.Errors {
		fmt.Printf("  error: %s\n", e)
	}
}
