package cli

import (
	"context"
	"errors"
	"fmt"
	"net"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/pterm/pterm"
	"github.com/spf13/cobra"

	"votechain.mini/vcm/internal/api"
	"votechain.mini/vcm/internal/docs"
	"votechain.mini/vcm/internal/store"
	"votechain.mini/vcm/internal/voting"
	"votechain.mini/vcm/internal/web"
)

var (
	ephemeral     bool
	flushInterval time.Duration
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "run the voting API and dashboard",
	RunE: func(cmd *cobra.Command, args []string) error {
		if ephemeral {
			storeBackend = store.BackendMemory
		}
		return serve(cmd.Context())
	},
}

func init() {
	rootCmd.AddCommand(serveCmd)
	serveCmd.Flags().BoolVar(&ephemeral, "ephemeral", false, "keep the chain in memory only")
	serveCmd.Flags().DurationVar(&flushInterval, "flush-interval", 5*time.Second, "seal buffered votes this often when batch_size > 1")
}

func serve(parent context.Context) error {
	if parent == nil {
		parent = context.Background()
	}
	ctx, stop := signal.NotifyContext(parent, os.Interrupt, syscall.SIGTERM)
	defer stop()

	hub := web.NewHub()
	e, err := openEnv(ctx, hub.Publish)
	if err != nil {
		return err
	}
	defer e.Close()

	port := e.cfg.ResolvePort()
	if err := ensurePortAvailable(port); err != nil {
		return fmt.Errorf("port %d unavailable: %w", port, err)
	}

	v := voting.New(e.polls, e.ledger, voting.Options{
		HashVoterIDs: e.cfg.HashVoterIDs,
		VoterSalt:    e.cfg.VoterSalt,
		ResultsTTL:   e.cfg.ResultsCacheDuration(),
	}, e.log)

	// Only hand over a Backupper when the store really is one.
	var backups api.Backupper
	if b, ok := e.store.(api.Backupper); ok {
		backups = b
	}

	server, err := web.NewServer(port, v, api.NewService(v, backups, e.cfg.MaxBackups, e.log), docs.NewService(e.cfg.DocsDir), hub, e.log)
	if err != nil {
		return err
	}
	server.SetRateLimit(e.cfg.WriteRateLimit, e.cfg.WriteRateBurst)

	st := e.ledger.Status()
	pterm.Info.Printfln("Chain loaded: %d block(s), difficulty %d, %s store", st.ChainLength, st.Difficulty, e.cfg.StoreBackend)
	serverErrors := server.Start()
	pterm.Success.Printfln("Web dashboard available at http://localhost:%d", port)

	if e.cfg.BatchSize > 1 && flushInterval > 0 {
		go flushLoop(ctx, e, flushInterval)
	}

	select {
	case err := <-serverErrors:
		if err != nil {
			return fmt.Errorf("web server exited: %w", err)
		}
		return nil
	case <-ctx.Done():
	}

	pterm.Info.Println("Shutting down...")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		e.log.Errorf("Web server shutdown: %v", err)
	}
	// Seal whatever is still buffered before the store closes.
	if _, err := e.ledger.Flush(shutdownCtx); err != nil {
		e.log.Errorf("Final flush: %v", err)
	}
	return nil
}

// flushLoop seals buffered votes on a timer so a partial batch never waits
// indefinitely.
func flushLoop(ctx context.Context, e *env, every time.Duration) {
	ticker := time.NewTicker(every)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if _, err := e.ledger.Flush(ctx); err != nil && !errors.Is(err, context.Canceled) {
				e.log.Errorf("Periodic flush: %v", err)
			}
		}
	}
}

func ensurePortAvailable(port int) error {
	listener, err := net.Listen("tcp", fmt.Sprintf(":%d", port))
	if err != nil {
		return err
	}
	return listener.Close()
}
