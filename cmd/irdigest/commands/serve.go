package commands

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/dgallion1/irdigest/internal/api"
	"github.com/dgallion1/irdigest/internal/pipeline"
	"github.com/dgallion1/irdigest/internal/watch"
	"github.com/spf13/cobra"
)

var serveWatch bool

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the HTTP API",
	Long:  "Run the HTTP API with its background analysis queue. With --watch the folder watcher runs in the same process.",
	Args:  cobra.NoArgs,
	RunE:  runServe,
}

func init() {
	serveCmd.Flags().BoolVar(&serveWatch, "watch", false, "also poll the configured sink folder")
	rootCmd.AddCommand(serveCmd)
}

func runServe(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	log := newLogger(cfg.Log)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	a, err := buildApp(ctx, cfg, log, appOptions{inference: true})
	if err != nil {
		return err
	}
	defer a.Close()
	if serveWatch && a.sink == nil {
		return errors.New("--watch needs sink.driver and sink.folder_id")
	}

	queue := pipeline.NewQueue(a.driver, a.guard, pipeline.QueueConfig{
		Workers: cfg.Pipeline.WorkerCount,
		Size:    cfg.Pipeline.MaxQueueSize,
		JobTTL:  cfg.Pipeline.JobTTL,
	}, log.With("component", "queue"))
	queue.Start(ctx)

	var bg sync.WaitGroup
	if serveWatch {
		loop := watch.NewLoop(a.sink, a.watchDriver(), a.guard, watch.Config{
			FolderID: cfg.Sink.FolderID,
			Interval: cfg.Watch.Interval,
			TagFiles: cfg.Watch.TagFiles,
		}, log)
		bg.Add(1)
		go func() {
			defer bg.Done()
			_ = loop.Run(ctx)
		}()
	}

	srv := api.NewServer(api.Deps{
		Records:  a.store,
		Jobs:     queue,
		Delivery: a.driver,
		LLM:      a.llm,
	}, log, cfg)

	httpServer := &http.Server{
		Addr:         ":" + cfg.Server.Port,
		Handler:      srv,
		ReadTimeout:  60 * time.Second,
		WriteTimeout: 120 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	// Graceful shutdown.
	shutdownDone := make(chan struct{})
	go func() {
		defer close(shutdownDone)
		sigCh := make(chan os.Signal, 1)
		signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
		<-sigCh
		log.Info("shutting down...")

		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer shutdownCancel()
		httpServer.Shutdown(shutdownCtx)
	}()

	log.Info("starting irdigest",
		"port", cfg.Server.Port,
		"provider", cfg.Inference.Provider,
		"model", cfg.Inference.Model,
		"watch", serveWatch,
	)
	err = httpServer.ListenAndServe()
	if errors.Is(err, http.ErrServerClosed) {
		// Shutdown returns once in-flight uploads have reached the queue.
		<-shutdownDone
	}

	cancel()
	queue.Stop()
	bg.Wait()
	if err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}
