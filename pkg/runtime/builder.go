package runtime

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"ripple/pkg/assemble"
	"ripple/pkg/breadcrumb"
	"ripple/pkg/config"
	"ripple/pkg/executor"
	"ripple/pkg/llm"
	"ripple/pkg/monitor"
	"ripple/pkg/store"
	"ripple/pkg/stream"
	"ripple/pkg/tool"
)

// RuntimeBuilder assembles a Runtime with a fluent interface. The
// store client, stream client, and executors are derived from the
// configuration unless explicitly injected.
type RuntimeBuilder struct {
	cfg       *config.Config
	sys       *config.SystemConfig
	mon       monitor.Monitor
	llmClient llm.Client
	storeCli  *store.Client
	tools     []*tool.Tool
}

func NewRuntimeBuilder() *RuntimeBuilder {
	return &RuntimeBuilder{}
}

func (b *RuntimeBuilder) WithConfig(cfg *config.Config) *RuntimeBuilder {
	b.cfg = cfg
	return b
}

func (b *RuntimeBuilder) WithSystemConfig(sys *config.SystemConfig) *RuntimeBuilder {
	b.sys = sys
	return b
}

// WithMonitor injects a monitoring implementation, started during
// Runtime.Start.
func (b *RuntimeBuilder) WithMonitor(m monitor.Monitor) *RuntimeBuilder {
	b.mon = m
	return b
}

// WithLLM injects a pre-built model client instead of expanding the
// config's provider groups.
func (b *RuntimeBuilder) WithLLM(client llm.Client) *RuntimeBuilder {
	b.llmClient = client
	return b
}

// WithStore injects a pre-built store client.
func (b *RuntimeBuilder) WithStore(client *store.Client) *RuntimeBuilder {
	b.storeCli = client
	return b
}

// WithTools registers tool components alongside the configured agents.
func (b *RuntimeBuilder) WithTools(tools ...*tool.Tool) *RuntimeBuilder {
	b.tools = append(b.tools, tools...)
	return b
}

// Build wires everything together without side effects beyond client
// construction; nothing connects until Runtime.Start.
func (b *RuntimeBuilder) Build() (*Runtime, error) {
	if b.cfg == nil {
		return nil, fmt.Errorf("missing configuration")
	}
	if b.sys == nil {
		b.sys = config.DefaultSystemConfig()
	}

	creds := CredentialsFrom(b.cfg.Store)
	if b.storeCli == nil {
		b.storeCli = store.NewClient(b.cfg.Store.BaseURL, creds, nil)
	}

	if b.llmClient == nil {
		client, err := llm.NewFromConfig(b.cfg.LLM, b.sys.MaxRetries,
			time.Duration(b.sys.RetryDelayMs)*time.Millisecond)
		if err != nil {
			return nil, fmt.Errorf("failed to init LLM client: %w", err)
		}
		b.llmClient = client
	}

	ctx, cancel := context.WithCancel(context.Background())

	assembler := assemble.NewAssembler(b.storeCli)
	if b.sys.ContextFetchLimit > 0 {
		assembler.DefaultLimit = b.sys.ContextFetchLimit
	}

	settings := executor.Settings{
		ExecuteTimeout: time.Duration(b.sys.ExecuteTimeoutMs) * time.Millisecond,
		RespondTimeout: time.Duration(b.sys.RespondTimeoutMs) * time.Millisecond,
	}

	r := &Runtime{
		cfg:        b.cfg,
		sys:        b.sys,
		store:      b.storeCli,
		llmClient:  b.llmClient,
		mon:        b.mon,
		assembler:  assembler,
		dispatcher: executor.NewDispatcher(),
		settings:   settings,
		ctx:        ctx,
		cancel:     cancel,
		agents:     make(map[string]*executor.Executor),
		defIDs:     make(map[string]string),
	}

	var allSubs []breadcrumb.Subscription
	for _, t := range b.tools {
		e := executor.NewExecutor(r.wrap(t), assembler, b.storeCli, settings)
		r.static = append(r.static, e)
		r.dispatcher.Register(e)
		allSubs = append(allSubs, t.Subscriptions()...)
	}
	for _, def := range b.cfg.Agents {
		allSubs = append(allSubs, def.Subscriptions...)
	}

	r.stream = stream.NewClient(ctx, streamURL(b.cfg.Store.BaseURL), creds,
		coarseFilter(b.cfg.Store.Workspace, allSubs), streamSettings(b.sys))

	// Configured agents share the definition lifecycle with store-synced
	// ones so a config reload can replace them.
	for _, def := range b.cfg.Agents {
		if def.Name == "" {
			continue
		}
		r.upsertAgent(configDefID(def.Name), def)
	}

	return r, nil
}

// coarseFilter unions component subscriptions for the server-side
// pre-filter and always includes agent.def.v1 so definition changes
// reach the runtime. A configured workspace narrows by its tag.
func coarseFilter(workspace string, subs []breadcrumb.Subscription) breadcrumb.CoarseFilter {
	filter := breadcrumb.BuildCoarseFilter(subs)
	filter.SchemaNames = append(filter.SchemaNames, breadcrumb.SchemaAgentDef)
	if workspace != "" {
		filter.Tags = append(filter.Tags, workspace)
	}
	return filter
}

func streamSettings(sys *config.SystemConfig) *stream.Settings {
	settings := stream.DefaultSettings()
	if sys.BackoffBaseMs > 0 {
		settings.BackoffBase = time.Duration(sys.BackoffBaseMs) * time.Millisecond
	}
	if sys.BackoffMaxMs > 0 {
		settings.BackoffMax = time.Duration(sys.BackoffMaxMs) * time.Millisecond
	}
	if sys.RefreshIntervalMs > 0 {
		settings.RefreshInterval = time.Duration(sys.RefreshIntervalMs) * time.Millisecond
	}
	if sys.StreamBufferSize > 0 {
		settings.EventBuffer = sys.StreamBufferSize
	}
	settings.MaxAttempts = sys.MaxReconnectAttempts
	settings.TokenInQuery = sys.TokenInQuery
	return settings
}

// streamURL derives the websocket feed endpoint from the store's base
// URL.
func streamURL(baseURL string) string {
	url := strings.TrimSuffix(baseURL, "/")
	if strings.HasPrefix(url, "https://") {
		url = "wss://" + strings.TrimPrefix(url, "https://")
	} else if strings.HasPrefix(url, "http://") {
		url = "ws://" + strings.TrimPrefix(url, "http://")
	}
	return url + "/events"
}

// CredentialsFrom selects static or refreshing credentials based on
// whether a token endpoint is configured.
func CredentialsFrom(cfg config.StoreConfig) store.CredentialSource {
	if cfg.TokenURL == "" {
		return store.StaticCredential(cfg.Token)
	}
	return store.NewRefreshingCredential(func(ctx context.Context) (string, error) {
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, cfg.TokenURL, nil)
		if err != nil {
			return "", err
		}
		resp, err := http.DefaultClient.Do(req)
		if err != nil {
			return "", err
		}
		defer resp.Body.Close()
		if resp.StatusCode != http.StatusOK {
			return "", fmt.Errorf("token endpoint returned status %d", resp.StatusCode)
		}
		body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<16))
		if err != nil {
			return "", err
		}
		return strings.TrimSpace(string(body)), nil
	})
}
