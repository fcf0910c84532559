package storage

import (
	"bytes"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/sirupsen/logrus"

	"github.com/crownking/assistant/internal/fetcher"
)

// DefaultContext is used when the documents directory holds no readable documents.
const DefaultContext = `CrownKing is a premium e-commerce platform specializing in men's jewelry and fashion accessories.
Our product range includes rings, bracelets, necklaces, watches, and exclusive luxury items.
We offer worldwide shipping and a 30-day return policy.`

// SampleDocumentName is the file written by WriteSample.
const SampleDocumentName = "product_catalog.txt"

// SampleCatalog is the fixture catalog served by the sample document endpoint.
const SampleCatalog = `# CrownKing Product Catalog

## Men's Rings
- Gold Crown Ring: $249.99
- Silver Royal Signet: $149.99
- Diamond Encrusted Band: $499.99

## Bracelets
- Gold Chain Bracelet: $199.99
- Silver Cuff: $129.99
- Leather and Gold Detail: $99.99

## Necklaces
- Gold Crown Pendant: $299.99
- Silver Chain with Pendant: $179.99

## Shipping Information
- Free shipping on orders over $100
- International shipping available
- 30-day return policy

## FAQs
Q: What sizes are available for rings?
A: We offer sizes 7-13 for all our rings.

Q: Do you offer gift wrapping?
A: Yes, premium gift wrapping is available for $5.99.

Q: How do I care for gold jewelry?
A: Clean with a soft cloth and mild soap. Avoid harsh chemicals and store in a jewelry box.
`

// separator follows every document in the loaded context.
const (
	separator     = "\n\n"
	maxNameSuffix = 100
)

// Options tune which files the store reads.
type Options struct {
	IncludeHTML bool
	Logger      *logrus.Entry
}

// DocumentStore reads and writes the plain-text catalog documents in one directory.
type DocumentStore struct {
	baseDir     string
	includeHTML bool
	logger      *logrus.Entry
	mu          sync.RWMutex
}

// Snapshot is the result of one directory scan.
type Snapshot struct {
	Context   string
	Documents int
	Defaulted bool
}

// NewDocumentStore creates the directory if it is missing.
func NewDocumentStore(baseDir string, opts Options) (*DocumentStore, error) {
	if err := os.MkdirAll(baseDir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create documents directory: %w", err)
	}
	logger := opts.Logger
	if logger == nil {
		logger = logrus.WithField("component", "document_store")
	}
	return &DocumentStore{
		baseDir:     baseDir,
		includeHTML: opts.IncludeHTML,
		logger:      logger,
	}, nil
}

// Dir returns the directory backing the store.
func (ds *DocumentStore) Dir() string {
	return ds.baseDir
}

// LoadContext concatenates every document in directory order, each followed by a blank line.
// Unreadable files are logged and skipped; an empty result falls back to DefaultContext.
func (ds *DocumentStore) LoadContext() (Snapshot, error) {
	ds.mu.RLock()
	defer ds.mu.RUnlock()

	entries, err := os.ReadDir(ds.baseDir)
	if err != nil {
		return Snapshot{}, fmt.Errorf("failed to read documents directory: %w", err)
	}

	var sb strings.Builder
	count := 0
	for _, entry := range entries {
		if entry.IsDir() || !ds.accepts(entry.Name()) {
			continue
		}

		path := filepath.Join(ds.baseDir, entry.Name())
		text, err := ds.readDocument(path)
		if err != nil {
			ds.logger.WithError(err).WithField("file", path).Warn("Failed to load document, skipping")
			continue
		}
		sb.WriteString(text)
		sb.WriteString(separator)
		count++
	}

	context := strings.TrimSpace(sb.String())
	if context == "" {
		return Snapshot{Context: DefaultContext, Documents: count, Defaulted: true}, nil
	}
	return Snapshot{Context: context, Documents: count}, nil
}

// Save writes a plain-text document and returns its path.
func (ds *DocumentStore) Save(name, content string) (string, error) {
	name, err := documentName(name)
	if err != nil {
		return "", err
	}

	ds.mu.Lock()
	defer ds.mu.Unlock()

	path := filepath.Join(ds.baseDir, name)
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		return "", fmt.Errorf("failed to write file: %w", err)
	}
	return path, nil
}

// Create writes a new document without replacing an existing one. A name that is
// taken gets a numeric suffix ("catalog-2.txt").
func (ds *DocumentStore) Create(name, content string) (string, error) {
	name, err := documentName(name)
	if err != nil {
		return "", err
	}
	stem := strings.TrimSuffix(name, ".txt")

	ds.mu.Lock()
	defer ds.mu.Unlock()

	for i := 1; i <= maxNameSuffix; i++ {
		candidate := name
		if i > 1 {
			candidate = fmt.Sprintf("%s-%d.txt", stem, i)
		}
		path := filepath.Join(ds.baseDir, candidate)
		f, err := os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0644)
		if errors.Is(err, fs.ErrExist) {
			continue
		}
		if err != nil {
			return "", fmt.Errorf("failed to create file: %w", err)
		}
		_, werr := f.WriteString(content)
		if cerr := f.Close(); werr == nil {
			werr = cerr
		}
		if werr != nil {
			os.Remove(path)
			return "", fmt.Errorf("failed to write file: %w", werr)
		}
		return path, nil
	}
	return "", fmt.Errorf("document name %q is taken", name)
}

// WriteSample writes the fixture catalog document.
func (ds *DocumentStore) WriteSample() (string, error) {
	return ds.Save(SampleDocumentName, SampleCatalog)
}

func (ds *DocumentStore) accepts(name string) bool {
	switch strings.ToLower(filepath.Ext(name)) {
	case ".txt":
		return true
	case ".html", ".htm":
		return ds.includeHTML
	}
	return false
}

func (ds *DocumentStore) readDocument(path string) (string, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return "", err
	}
	if strings.EqualFold(filepath.Ext(path), ".txt") {
		return string(data), nil
	}
	_, text, err := fetcher.ExtractText(bytes.NewReader(data))
	return text, err
}

// documentName keeps only safe characters and forces a .txt extension.
func documentName(name string) (string, error) {
	base := filepath.Base(strings.TrimSpace(name))
	base = strings.TrimSuffix(base, filepath.Ext(base))
	var b strings.Builder
	for _, r := range base {
		if (r >= 'a' && r <= 'z') || (r >= 'A' && r <= 'Z') || (r >= '0' && r <= '9') || r == '-' || r == '_' {
			b.WriteRune(r)
		} else {
			b.WriteRune('_')
		}
	}
	safe := strings.Trim(b.String(), "_")
	if safe == "" {
		return "", fmt.Errorf("invalid document name %q", name)
	}
	if len(safe) > 100 {
		safe = safe[:100]
	}
	return safe + ".txt", nil
}
