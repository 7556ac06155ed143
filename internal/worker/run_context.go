package worker

import (
	"context"

	"github.com/dreamware/tablerun/internal/iterator"
	"github.com/dreamware/tablerun/internal/table"
)

// runContext binds a single RunKernel invocation to its (table, shard),
// satisfying kernel.Context. It is constructed fresh per run and discarded
// when Run returns.
type runContext struct {
	worker  *Worker
	table   *table.Table
	tableID int
	shardID int
	runID   string
}

func (rc *runContext) WorkerID() int { return rc.worker.ID }
func (rc *runContext) TableID() int  { return rc.tableID }
func (rc *runContext) ShardID() int  { return rc.shardID }

func (rc *runContext) Get(key []byte) ([]byte, bool, error) {
	sh, err := rc.table.Shard(rc.shardID)
	if err != nil {
		return nil, false, err
	}
	return sh.Get(key)
}

func (rc *runContext) Update(key, value []byte) error {
	return rc.table.Update(key, value)
}

func (rc *runContext) Iterate(ctx context.Context) (iterator.Iterator, error) {
	it, err := rc.table.Iterate(ctx, rc.shardID)
	if err != nil {
		return nil, err
	}
	return it, nil
}
