package admin

import (
	"context"
	"fmt"
	"io"
	"text/tabwriter"
	"time"

	"github.com/ethereum/go-ethereum/common"

	"github.com/malbeclabs/poolparty/ledger/pkg/postgres"
)

// SnapshotLister is implemented by postgres.Store.
type SnapshotLister interface {
	List(ctx context.Context, poolAddr common.Address) ([]postgres.SnapshotInfo, error)
}

// ListSnapshots prints the stored snapshots of a pool, newest first.
func ListSnapshots(ctx context.Context, w io.Writer, store SnapshotLister, poolAddr common.Address) error {
	infos, err := store.List(ctx, poolAddr)
	if err != nil {
		return err
	}
	if len(infos) == 0 {
		fmt.Fprintf(w, "No snapshots for pool %s\n", poolAddr.Hex())
		return nil
	}

	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "SEQ\tSTATE\tTAKEN AT")
	for _, info := range infos {
		fmt.Fprintf(tw, "%d\t%s\t%s\n", info.Seq, info.State, info.TakenAt.UTC().Format(time.RFC3339))
	}
	return tw.Flush()
}
