package main

import (
	"context"
	"os"

	"github.com/k-capehart/go-salesforce/v3"
	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/sales-agent/internal/icp"
	"github.com/sells-group/sales-agent/internal/learning"
	"github.com/sells-group/sales-agent/internal/orchestrator"
	"github.com/sells-group/sales-agent/internal/qualify"
	"github.com/sells-group/sales-agent/internal/resilience"
	"github.com/sells-group/sales-agent/internal/store"
	"github.com/sells-group/sales-agent/internal/territory"
	anthropicpkg "github.com/sells-group/sales-agent/pkg/anthropic"
	"github.com/sells-group/sales-agent/pkg/notion"
	sfpkg "github.com/sells-group/sales-agent/pkg/salesforce"
)

// agentEnv holds the initialized store, profile store, and orchestrator
// shared by the run/qualify/learn/outcomes/serve commands.
type agentEnv struct {
	Store        store.Store
	Profiles     *icp.Store
	Framework    *qualify.FrameworkConfig
	Learning     *learning.Engine
	Orchestrator *orchestrator.Orchestrator
}

// Close releases resources held by the environment.
func (e *agentEnv) Close() {
	if e.Store != nil {
		_ = e.Store.Close()
	}
}

func initStore(ctx context.Context) (store.Store, error) {
	switch cfg.Store.Driver {
	case "sqlite":
		dsn := cfg.Store.DatabaseURL
		if dsn == "" {
			dsn = "sales-agent.db"
		}
		return store.NewSQLite(dsn)
	case "postgres":
		return store.NewPostgres(ctx, cfg.Store.DatabaseURL, nil)
	default:
		return nil, eris.Errorf("unsupported store driver: %s", cfg.Store.Driver)
	}
}

func initSalesforce() (sfpkg.Client, error) {
	if cfg.Salesforce.ClientID == "" {
		return nil, eris.New("salesforce client ID is required (SALESAGENT_SALESFORCE_CLIENT_ID)")
	}

	pemData, err := os.ReadFile(cfg.Salesforce.KeyPath)
	if err != nil {
		return nil, eris.Wrap(err, "read salesforce JWT private key")
	}

	sf, err := salesforce.Init(salesforce.Creds{
		Domain:         cfg.Salesforce.LoginURL,
		Username:       cfg.Salesforce.Username,
		ConsumerKey:    cfg.Salesforce.ClientID,
		ConsumerRSAPem: string(pemData),
	})
	if err != nil {
		return nil, eris.Wrap(err, "init salesforce")
	}

	return sfpkg.NewClient(sf), nil
}

// loadProfiles rebuilds the in-memory profile store from the persisted
// version history. The pipeline cannot score without at least one committed
// profile, so an empty history is an operator error.
func loadProfiles(ctx context.Context, st store.Store) (*icp.Store, error) {
	history, err := st.ListProfileVersions(ctx)
	if err != nil {
		return nil, eris.Wrap(err, "list profile versions")
	}
	if len(history) == 0 {
		return nil, eris.New("no ICP profile found; run `sales-agent icp init` first")
	}

	return icp.NewStore(history[len(history)-1], history,
		icp.WithPersister(st),
		icp.WithAutoApplyThreshold(cfg.Learning.AutoApplyThreshold),
	)
}

func loadFramework() (*qualify.FrameworkConfig, error) {
	if cfg.Qualify.ConfigPath != "" {
		return qualify.LoadFrameworkFile(cfg.Qualify.ConfigPath)
	}
	return qualify.Preset(cfg.Qualify.Framework)
}

// initAgent sets up the store, profile store, framework, external
// collaborators, and the orchestrator. Callers should defer env.Close().
// Unconfigured collaborators are left nil; the orchestrator defers leads
// instead of failing when it reaches a phase that needs one.
func initAgent(ctx context.Context) (*agentEnv, error) {
	st, err := initStore(ctx)
	if err != nil {
		return nil, err
	}

	if err := st.Migrate(ctx); err != nil {
		_ = st.Close()
		return nil, eris.Wrap(err, "migrate store")
	}

	profiles, err := loadProfiles(ctx, st)
	if err != nil {
		_ = st.Close()
		return nil, err
	}

	framework, err := loadFramework()
	if err != nil {
		_ = st.Close()
		return nil, err
	}

	deps := orchestrator.Deps{}

	if cfg.Territory.ShapefilePath != "" {
		assigner, err := territory.LoadShapefile(cfg.Territory.ShapefilePath, cfg.Territory.NameField)
		if err != nil {
			_ = st.Close()
			return nil, eris.Wrap(err, "load territory shapefile")
		}
		deps.Enricher = territory.NewEnricher(assigner)
	}

	if cfg.Salesforce.ClientID != "" {
		sfClient, err := initSalesforce()
		if err != nil {
			_ = st.Close()
			return nil, err
		}
		deps.CRM = sfpkg.NewHandoff(sfClient)
	} else {
		zap.L().Debug("salesforce not configured, CRM handoff disabled")
	}

	if cfg.Anthropic.Key != "" {
		deps.Reporter = anthropicpkg.NewReporter(anthropicpkg.NewClient(cfg.Anthropic.Key), cfg.Anthropic.Model)
	}

	if cfg.Notion.Token != "" && cfg.Notion.ReviewDB != "" {
		deps.Reviewer = notion.NewReviewQueue(notion.NewClient(cfg.Notion.Token), cfg.Notion.ReviewDB)
	} else {
		zap.L().Debug("notion not configured, manual review queue disabled")
	}

	engine := learning.NewEngine(profiles, st, st, cfg.Learning, learning.WithOutcomeMarker(st))
	deps.Learning = engine

	retry := resilience.FromRetryConfig(
		cfg.Retry.MaxAttempts,
		cfg.Retry.InitialBackoffMs,
		cfg.Retry.MaxBackoffMs,
		cfg.Retry.Multiplier,
		cfg.Retry.JitterFraction,
	)

	breakers := resilience.NewServiceBreakers(resilience.FromCircuitConfig(
		cfg.Retry.CircuitFailureThreshold,
		cfg.Retry.CircuitResetTimeoutSecs,
	))

	orch := orchestrator.New(st, profiles, framework, deps, cfg.Orchestrator, retry).
		WithBreakers(breakers)

	return &agentEnv{
		Store:        st,
		Profiles:     profiles,
		Framework:    framework,
		Learning:     engine,
		Orchestrator: orch,
	}, nil
}
