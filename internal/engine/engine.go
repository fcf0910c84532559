package engine

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"path"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/crownking/assistant/internal/config"
	"github.com/crownking/assistant/internal/fetcher"
	"github.com/crownking/assistant/internal/provider"
	"github.com/crownking/assistant/internal/storage"
)

// ErrNotInitialized is returned while no model client has been built successfully.
var ErrNotInitialized = errors.New("LLM is not initialized")

// ConfigSource resolves the configuration used by a reload.
type ConfigSource func() (*config.Config, error)

// Pipeline is the immutable context/client pair serving requests.
type Pipeline struct {
	Context   string
	Client    provider.LLMProvider
	Documents int
	Defaulted bool
	LoadedAt  time.Time
}

// resources are rebuilt from the configuration on every reload, even when the client fails.
type resources struct {
	cfg     *config.Config
	store   *storage.DocumentStore
	fetcher *fetcher.Fetcher
}

// Engine owns the active pipeline. Requests read it through an atomic pointer;
// reloads are serialized and swap it only once the replacement is complete.
type Engine struct {
	Logger     *logrus.Entry
	LoadConfig ConfigSource
	Factory    provider.Factory
	// OnReload, when set, receives the documents directory after every rebuild of the resources.
	OnReload func(documentsDir string)

	pipeline atomic.Pointer[Pipeline]
	res      atomic.Pointer[resources]
	reloadMu sync.Mutex

	requests  atomic.Int64
	failures  atomic.Int64
	startTime time.Time
}

// Status is a point-in-time view of the engine.
type Status struct {
	Ready          bool
	Provider       string
	Documents      int
	ContextBytes   int
	DefaultContext bool
	DocumentsDir   string
	LoadedAt       time.Time
	Requests       int64
	Failures       int64
	StartTime      time.Time
}

// NewEngine prepares the documents directory for cfg. The engine stays
// uninitialized until Initialize or Reload succeeds.
func NewEngine(cfg *config.Config, logger *logrus.Entry) (*Engine, error) {
	if logger == nil {
		logger = logrus.WithField("component", "engine")
	}
	e := &Engine{
		Logger:     logger,
		LoadConfig: config.Resolve,
		Factory:    provider.New,
		startTime:  time.Now(),
	}
	res, err := e.newResources(cfg)
	if err != nil {
		return nil, err
	}
	e.res.Store(res)
	return e, nil
}

func (e *Engine) newResources(cfg *config.Config) (*resources, error) {
	store, err := storage.NewDocumentStore(cfg.Documents.Dir, storage.Options{
		IncludeHTML: cfg.Documents.IncludeHTML,
		Logger:      e.Logger.WithField("component", "document_store"),
	})
	if err != nil {
		return nil, err
	}
	return &resources{
		cfg:     cfg,
		store:   store,
		fetcher: fetcher.NewFetcher(cfg.Fetcher, e.Logger.WithField("component", "fetcher")),
	}, nil
}

// Initialize builds the first pipeline from the configuration given to NewEngine.
func (e *Engine) Initialize() error {
	return e.build(e.res.Load().cfg)
}

// Reload re-resolves the configuration, re-scans the documents directory and
// replaces the model client. On failure the previous pipeline keeps serving.
func (e *Engine) Reload() error {
	cfg, err := e.LoadConfig()
	if err != nil {
		return fmt.Errorf("failed to resolve configuration: %w", err)
	}
	return e.build(cfg)
}

func (e *Engine) build(cfg *config.Config) error {
	e.reloadMu.Lock()
	defer e.reloadMu.Unlock()

	res, err := e.newResources(cfg)
	if err != nil {
		return err
	}
	e.res.Store(res)
	if e.OnReload != nil {
		e.OnReload(res.store.Dir())
	}

	snap, err := res.store.LoadContext()
	if err != nil {
		return err
	}

	client, err := e.Factory(cfg.LLM, snap.Context)
	if err != nil {
		e.Logger.WithError(err).Error("Failed to initialize LLM")
		return err
	}

	p := &Pipeline{
		Context:   snap.Context,
		Client:    client,
		Documents: snap.Documents,
		Defaulted: snap.Defaulted,
		LoadedAt:  time.Now(),
	}
	e.pipeline.Store(p)

	e.Logger.WithFields(logrus.Fields{
		"provider":      client.Name(),
		"documents":     p.Documents,
		"context_bytes": len(p.Context),
		"default":       p.Defaulted,
	}).Info("LLM initialized")
	return nil
}

// Pipeline returns the active pipeline, or nil while uninitialized.
func (e *Engine) Pipeline() *Pipeline {
	return e.pipeline.Load()
}

// IsReady reports whether requests can be served.
func (e *Engine) IsReady() bool {
	return e.pipeline.Load() != nil
}

// DocumentsDir returns the directory of the most recent configuration.
func (e *Engine) DocumentsDir() string {
	return e.res.Load().store.Dir()
}

// AddSampleDocument writes the fixture catalog into the documents directory.
// The context is not rebuilt until the next reload.
func (e *Engine) AddSampleDocument() (string, error) {
	return e.res.Load().store.WriteSample()
}

// ImportDocument fetches a catalog page and stores its visible text as a new document.
// An empty name is derived from the page title or URL. Existing documents are never replaced.
func (e *Engine) ImportDocument(ctx context.Context, rawURL, name string) (string, error) {
	res := e.res.Load()

	page, err := res.fetcher.Fetch(ctx, rawURL)
	if err != nil {
		return "", err
	}
	if strings.TrimSpace(page.Text) == "" {
		return "", fmt.Errorf("page %s has no text content", rawURL)
	}

	content := page.Text
	if page.Title != "" {
		content = "# " + page.Title + "\n\n" + page.Text
	}

	for _, candidate := range []string{name, page.Title, pageName(rawURL)} {
		if strings.TrimSpace(candidate) == "" {
			continue
		}
		if saved, err := res.store.Create(candidate, content); err == nil {
			return saved, nil
		}
	}
	return res.store.Create("imported-"+uuid.NewString()[:8], content)
}

func pageName(rawURL string) string {
	u, err := url.Parse(rawURL)
	if err != nil {
		return ""
	}
	if base := path.Base(u.Path); base != "/" && base != "." {
		return base
	}
	return u.Host
}

// Status reports readiness and counters.
func (e *Engine) Status() Status {
	s := Status{
		DocumentsDir: e.DocumentsDir(),
		Requests:     e.requests.Load(),
		Failures:     e.failures.Load(),
		StartTime:    e.startTime,
	}
	if p := e.pipeline.Load(); p != nil {
		s.Ready = true
		s.Provider = p.Client.Name()
		s.Documents = p.Documents
		s.ContextBytes = len(p.Context)
		s.DefaultContext = p.Defaulted
		s.LoadedAt = p.LoadedAt
	}
	return s
}
