package cli

import (
	"context"
	"fmt"
	"io"

	"github.com/fatih/color"
	"github.com/pkg/errors"
	"github.com/urfave/cli/v2"

	"go.viam.com/octreeview/config"
	"go.viam.com/octreeview/logging"
	"go.viam.com/octreeview/octree"
	"go.viam.com/octreeview/octree/remote"
	"go.viam.com/octreeview/octree/sqlitestore"
)

// printf prints a message with a trailing newline to the given writer.
func printf(w io.Writer, format string, a ...interface{}) {
	fmt.Fprintf(w, format+"\n", a...) //nolint:errcheck
}

// warningf prints a highlighted warning with a trailing newline to the given writer.
func warningf(w io.Writer, format string, a ...interface{}) {
	warning := color.New(color.Bold, color.FgYellow).Sprint("Warning: ")
	fmt.Fprintf(w, warning+format+"\n", a...) //nolint:errcheck
}

// newLogger returns a logger writing to the app's error stream.
func newLogger(c *cli.Context, name string) logging.Logger {
	logger := logging.NewBlankLogger(name)
	logger.AddAppender(logging.NewWriterAppender(c.App.ErrWriter))
	logger.SetLevel(logging.INFO)
	if c.Bool(flagDebug) {
		logger.SetLevel(logging.DEBUG)
	}
	return logger
}

// nodeSource is a DataSource that can also list its nodes and must be closed.
type nodeSource interface {
	octree.DataSource
	octree.Lister
	Close() error
}

var (
	_ nodeSource = (*sqlitestore.Store)(nil)
	_ nodeSource = (*remote.Client)(nil)
)

func openSource(ctx context.Context, cfg config.SourceConfig, logger logging.Logger) (nodeSource, error) {
	if err := cfg.Validate("source"); err != nil {
		return nil, err
	}
	switch cfg.Type {
	case config.SourceTypeSQLite:
		store, err := sqlitestore.Open(ctx, cfg.Path, logger.Sublogger("store"))
		if err != nil {
			return nil, err
		}
		return store, nil
	case config.SourceTypeRemote:
		client, err := remote.Dial(ctx, cfg.URL, logger.Sublogger("remote"))
		if err != nil {
			return nil, err
		}
		return client, nil
	default:
		return nil, errors.Errorf("unknown source type %q", cfg.Type)
	}
}
