package storage_test

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/sirupsen/logrus"
	"github.com/sirupsen/logrus/hooks/test"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/crownking/assistant/internal/storage"
)

func newStore(t *testing.T, dir string, includeHTML bool) (*storage.DocumentStore, *test.Hook) {
	t.Helper()
	logger, hook := test.NewNullLogger()
	store, err := storage.NewDocumentStore(dir, storage.Options{
		IncludeHTML: includeHTML,
		Logger:      logger.WithField("test", "storage"),
	})
	require.NoError(t, err)
	return store, hook
}

func writeFile(t *testing.T, dir, name, content string) {
	t.Helper()
	require.NoError(t, os.WriteFile(filepath.Join(dir, name), []byte(content), 0644))
}

func TestNewDocumentStoreCreatesDirectory(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "nested", "documents")
	store, _ := newStore(t, dir, false)

	info, err := os.Stat(dir)
	require.NoError(t, err)
	assert.True(t, info.IsDir())
	assert.Equal(t, dir, store.Dir())

	snap, err := store.LoadContext()
	require.NoError(t, err)
	assert.True(t, snap.Defaulted)
	assert.Equal(t, storage.DefaultContext, snap.Context)
}

func TestLoadContextOnlyNonTextFiles(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, dir, "logo.png", "\x89PNG")
	writeFile(t, dir, "notes.md", "# not loaded")
	writeFile(t, dir, "page.html", "<p>ignored unless enabled</p>")
	require.NoError(t, os.Mkdir(filepath.Join(dir, "archive.txt"), 0755))

	store, _ := newStore(t, dir, false)
	snap, err := store.LoadContext()
	require.NoError(t, err)

	assert.True(t, snap.Defaulted)
	assert.Equal(t, 0, snap.Documents)
	assert.Equal(t, storage.DefaultContext, snap.Context)
	assert.NotEmpty(t, snap.Context)
}

func TestLoadContextConcatenatesEveryFile(t *testing.T) {
	dir := t.TempDir()
	docs := map[string]string{
		"rings.txt":    "Gold Crown Ring: $249.99",
		"shipping.txt": "Free shipping on orders over $100",
		"faq.TXT":      "Q: Gift wrapping?\nA: $5.99",
		"ignored.jpeg": "binary",
	}
	for name, content := range docs {
		writeFile(t, dir, name, content)
	}

	store, _ := newStore(t, dir, false)
	snap, err := store.LoadContext()
	require.NoError(t, err)

	assert.False(t, snap.Defaulted)
	assert.Equal(t, 3, snap.Documents)
	for name, content := range docs {
		if strings.HasSuffix(name, ".jpeg") {
			assert.NotContains(t, snap.Context, content)
			continue
		}
		assert.Contains(t, snap.Context, content)
	}
	// every document but the last is followed by a blank line
	assert.Equal(t, 2, strings.Count(snap.Context, "\n\n"))
}

func TestLoadContextSkipsUnreadableFiles(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, dir, "rings.txt", "Silver Royal Signet: $149.99")
	require.NoError(t, os.Symlink(filepath.Join(dir, "missing"), filepath.Join(dir, "broken.txt")))

	store, hook := newStore(t, dir, false)
	snap, err := store.LoadContext()
	require.NoError(t, err)

	assert.Equal(t, "Silver Royal Signet: $149.99", snap.Context)
	assert.Equal(t, 1, snap.Documents)
	require.NotNil(t, hook.LastEntry())
	assert.Equal(t, logrus.WarnLevel, hook.LastEntry().Level)
	assert.Contains(t, hook.LastEntry().Data["file"], "broken.txt")
}

func TestLoadContextHTMLDocuments(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, dir, "bracelets.html", "<html><head><title>Bracelets</title><style>p{}</style></head><body><p>Silver Cuff: $129.99</p><script>track()</script></body></html>")

	store, _ := newStore(t, dir, true)
	snap, err := store.LoadContext()
	require.NoError(t, err)

	assert.False(t, snap.Defaulted)
	assert.Equal(t, "Silver Cuff: $129.99", snap.Context)
}

func TestWriteSample(t *testing.T) {
	dir := t.TempDir()
	store, _ := newStore(t, dir, false)

	path, err := store.WriteSample()
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(dir, storage.SampleDocumentName), path)

	snap, err := store.LoadContext()
	require.NoError(t, err)
	assert.Contains(t, snap.Context, "Gold Crown Ring: $249.99")
	assert.Equal(t, 1, snap.Documents)
}

func TestSaveSanitizesName(t *testing.T) {
	dir := t.TempDir()
	store, _ := newStore(t, dir, false)

	path, err := store.Save("../../etc/Summer Sale!.html", "Sale text")
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(dir, "Summer_Sale.txt"), path)

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, "Sale text", string(data))

	_, err = store.Save("  ", "x")
	assert.Error(t, err)
}

func TestCreateNeverOverwrites(t *testing.T) {
	dir := t.TempDir()
	store, _ := newStore(t, dir, false)

	sample, err := store.WriteSample()
	require.NoError(t, err)

	path, err := store.Create("product_catalog", "Imported page")
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(dir, "product_catalog-2.txt"), path)

	path, err = store.Create("product_catalog.txt", "Another page")
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(dir, "product_catalog-3.txt"), path)

	data, err := os.ReadFile(sample)
	require.NoError(t, err)
	assert.Equal(t, storage.SampleCatalog, string(data))

	path, err = store.Create("belts", "Crown Buckle Belt: $79.99")
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(dir, "belts.txt"), path)

	_, err = store.Create("!!!", "x")
	assert.Error(t, err)
}
