package commands

import (
	"context"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/dgallion1/irdigest/internal/config"
	"github.com/dgallion1/irdigest/internal/deck"
	"github.com/dgallion1/irdigest/internal/report"
	"github.com/dgallion1/irdigest/internal/sink"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func localConfig(t *testing.T) config.Config {
	t.Helper()
	cfg := config.Default()
	cfg.Inference.Provider = "openrouter"
	cfg.Inference.APIKey = "test-key"
	cfg.Database.DSN = filepath.Join(t.TempDir(), "irdigest.db")
	cfg.Sink.Driver = "local"
	cfg.Sink.FolderID = t.TempDir()
	return cfg
}

func TestWatchDriverAlwaysDelivers(t *testing.T) {
	cfg := localConfig(t)
	require.False(t, cfg.Sink.DeliverResults)

	a, err := buildApp(context.Background(), cfg, slog.New(slog.NewTextHandler(io.Discard, nil)), appOptions{inference: true})
	require.NoError(t, err)
	defer a.Close()

	require.IsType(t, &sink.Local{}, a.sink)
	assert.False(t, a.driver.HasDelivery(), "API uploads follow sink.deliver_results")

	wd := a.watchDriver()
	require.True(t, wd.HasDelivery())

	rec := deck.Record{ID: 7, Filename: "deck.pdf", AnalyzedAt: time.Now(), StrategicSummary: "### 1. Problem Definition"}
	require.NoError(t, wd.Deliver(context.Background(), rec))

	data, err := os.ReadFile(filepath.Join(cfg.Sink.FolderID, sink.ResultFolderName, report.FileName("deck.pdf")))
	require.NoError(t, err)
	assert.Contains(t, string(data), report.Title(rec))
}

func TestWatchDriverReusesConfiguredDelivery(t *testing.T) {
	cfg := localConfig(t)
	cfg.Sink.DeliverResults = true

	a, err := buildApp(context.Background(), cfg, slog.New(slog.NewTextHandler(io.Discard, nil)), appOptions{inference: true})
	require.NoError(t, err)
	defer a.Close()

	assert.Same(t, a.driver, a.watchDriver())
}

func TestDeliverFlagNeedsSink(t *testing.T) {
	cfg := localConfig(t)
	cfg.Sink.Driver = "none"
	cfg.Sink.FolderID = ""

	_, err := buildApp(context.Background(), cfg, slog.New(slog.NewTextHandler(io.Discard, nil)), appOptions{deliver: true})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "--deliver needs a sink")
}
