package cli

import (
	"os"
	"time"

	"github.com/docker/go-units"
	"github.com/pkg/errors"
	"github.com/urfave/cli/v2"
	"go.uber.org/multierr"

	"go.viam.com/octreeview/octree"
	"go.viam.com/octreeview/octree/sqlitestore"
	"go.viam.com/octreeview/pointcloud"
)

// importBatchSize is how many nodes are written per transaction.
const importBatchSize = 64

// ImportAction is the corresponding action for 'import'.
func ImportAction(c *cli.Context) (err error) {
	logger := newLogger(c, "import")
	opts := octree.BuildOptions{
		MaxPointsPerNode: c.Int(flagMaxPoints),
		Resolution:       c.Float64(flagResolution),
	}
	if name := c.String(flagEncoding); name != "" {
		encoding, err := octree.ParsePositionEncoding(name)
		if err != nil {
			return err
		}
		opts.Encoding = &encoding
	}

	start := time.Now()
	f, err := os.Open(c.Path(flagPCD))
	if err != nil {
		return err
	}
	cloud, err := pointcloud.ReadPCD(f)
	err = multierr.Combine(err, f.Close())
	if err != nil {
		return errors.Wrapf(err, "reading %s", c.Path(flagPCD))
	}
	logger.Infow("read point cloud", "points", cloud.Size(), "colored", cloud.MetaData().HasColor)

	store, err := sqlitestore.Open(c.Context, c.Path(flagOut), logger.Sublogger("store"))
	if err != nil {
		return err
	}
	defer func() {
		err = multierr.Combine(err, store.Close())
	}()

	batch := make([]octree.NodeData, 0, importBatchSize)
	flush := func() error {
		if len(batch) == 0 {
			return nil
		}
		err := store.PutAll(c.Context, batch)
		batch = batch[:0]
		return err
	}
	root, err := octree.Build(c.Context, cloud, opts, func(d octree.NodeData) error {
		batch = append(batch, d)
		if len(batch) < importBatchSize {
			return nil
		}
		return flush()
	})
	if err != nil {
		return err
	}
	if err := flush(); err != nil {
		return err
	}

	summary, err := store.Summarize(c.Context)
	if err != nil {
		return err
	}
	printf(c.App.Writer, "imported %d points into %d nodes (%s) in %s",
		summary.Points, summary.Nodes, units.HumanSize(float64(summary.Bytes)), time.Since(start).Round(time.Millisecond))
	printf(c.App.Writer, "root cube: min (%g, %g, %g), edge %g", root.Min.X, root.Min.Y, root.Min.Z, root.EdgeLength)
	return nil
}
