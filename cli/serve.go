package cli

import (
	"context"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/pkg/errors"
	"github.com/urfave/cli/v2"
	"go.uber.org/multierr"
	"golang.org/x/sync/errgroup"

	"go.viam.com/octreeview/octree/remote"
	"go.viam.com/octreeview/octree/sqlitestore"
)

const shutdownTimeout = 5 * time.Second

// ServeAction is the corresponding action for 'serve'.
func ServeAction(c *cli.Context) (err error) {
	logger := newLogger(c, "serve")
	ctx, stop := signal.NotifyContext(c.Context, os.Interrupt, syscall.SIGTERM)
	defer stop()

	store, err := sqlitestore.Open(ctx, c.Path(flagDB), logger.Sublogger("store"))
	if err != nil {
		return err
	}
	defer func() {
		err = multierr.Combine(err, store.Close())
	}()

	mux := http.NewServeMux()
	mux.Handle(remote.Path, remote.NewServer(store, logger.Sublogger("remote")))
	listener, err := net.Listen("tcp", c.String(flagAddr))
	if err != nil {
		return err
	}
	srv := &http.Server{
		Handler:           mux,
		ReadHeaderTimeout: 10 * time.Second,
	}
	printf(c.App.Writer, "serving %s on ws://%s%s", c.Path(flagDB), listener.Addr(), remote.Path)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		if err := srv.Serve(listener); !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		logger.Info("shutting down")
		// Websocket connections are hijacked and not tracked by Shutdown.
		return srv.Shutdown(shutdownCtx)
	})
	return g.Wait()
}
