// Package logdb keeps a queryable sqlite history of chain events and
// transaction receipts. The chain state only holds the latest view of each
// auction; the log db answers "what happened and why".
package logdb

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"

	sqlite3 "github.com/mattn/go-sqlite3"
	"github.com/tolelom/bidchain/core"
	"github.com/tolelom/bidchain/events"
)

const eventTableSchema = `CREATE TABLE IF NOT EXISTS event (
	blockNumber INTEGER NOT NULL,
	eventIndex  INTEGER NOT NULL,
	blockHash   TEXT NOT NULL,
	txID        TEXT NOT NULL,
	type        TEXT NOT NULL,
	auctionID   TEXT NOT NULL DEFAULT '',
	actor       TEXT NOT NULL DEFAULT '',
	data        TEXT NOT NULL,
	PRIMARY KEY (blockNumber, eventIndex)
);
CREATE INDEX IF NOT EXISTS event_auction ON event(auctionID);
CREATE INDEX IF NOT EXISTS event_actor ON event(actor);
`

const receiptTableSchema = `CREATE TABLE IF NOT EXISTS receipt (
	txID        TEXT PRIMARY KEY,
	blockNumber INTEGER NOT NULL,
	blockHash   TEXT NOT NULL,
	type        TEXT NOT NULL,
	sender      TEXT NOT NULL,
	status      TEXT NOT NULL,
	code        TEXT NOT NULL DEFAULT '',
	error       TEXT NOT NULL DEFAULT ''
);
`

// LogDB stores events and receipts in sqlite.
type LogDB struct {
	path          string
	db            *sql.DB
	driverVersion string
	logger        *slog.Logger

	mu      sync.Mutex
	pending []events.Event // emitted for the block being built
}

// New creates or opens the log db at path.
func New(path string) (logDB *LogDB, err error) {
	db, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, err
	}
	defer func() {
		if logDB == nil {
			_ = db.Close()
		}
	}()
	if path == ":memory:" {
		// Every connection to :memory: is a separate database.
		db.SetMaxOpenConns(1)
	}
	if _, err := db.Exec(eventTableSchema + receiptTableSchema); err != nil {
		return nil, fmt.Errorf("create schema: %w", err)
	}
	driverVer, _, _ := sqlite3.Version()
	return &LogDB{
		path:          path,
		db:            db,
		driverVersion: driverVer,
		logger:        slog.Default().With("pkg", "logdb"),
	}, nil
}

// NewMem creates a log db in RAM.
func NewMem() (*LogDB, error) {
	return New(":memory:")
}

// Close closes the log db.
func (db *LogDB) Close() error {
	return db.db.Close()
}

func (db *LogDB) Path() string {
	return db.path
}

// recorded lists the event types kept in the history.
var recorded = append([]events.EventType{
	events.EventTxExecuted,
	events.EventTxFailed,
	events.EventTransfer,
	events.EventTokenCreated,
	events.EventTokenTransfer,
	events.EventTokenApproval,
}, events.AuctionEvents...)

// Attach buffers events emitted while a block executes and writes them when
// the block commits. Events of a reverted block are dropped.
func (db *LogDB) Attach(emitter *events.Emitter) {
	emitter.SubscribeAll(recorded, func(ev events.Event) {
		db.mu.Lock()
		db.pending = append(db.pending, ev)
		db.mu.Unlock()
	})
	emitter.Subscribe(events.EventBlockCommit, db.onBlockCommit)
	emitter.Subscribe(events.EventBlockReverted, func(events.Event) {
		db.mu.Lock()
		db.pending = nil
		db.mu.Unlock()
	})
}

func (db *LogDB) onBlockCommit(ev events.Event) {
	hash, _ := ev.Data["hash"].(string)

	db.mu.Lock()
	var batch []events.Event
	for _, p := range db.pending {
		if p.BlockHeight == ev.BlockHeight {
			batch = append(batch, p)
		}
	}
	db.pending = nil
	db.mu.Unlock()

	if err := db.Prepare(ev.BlockHeight, hash).Add(batch...).Commit(); err != nil {
		db.logger.Error("record block", "height", ev.BlockHeight, "err", err)
	}
}

// Prepare starts a batch of writes for one block.
func (db *LogDB) Prepare(height int64, hash string) *BlockBatch {
	return &BlockBatch{db: db.db, height: height, hash: hash}
}

// Receipt returns the receipt of txID, or core.ErrNotFound.
func (db *LogDB) Receipt(ctx context.Context, txID string) (*core.Receipt, error) {
	row := db.db.QueryRowContext(ctx,
		"SELECT txID, blockNumber, type, sender, status, code, error FROM receipt WHERE txID = ?", txID)
	var (
		r   core.Receipt
		typ string
	)
	err := row.Scan(&r.TxID, &r.BlockHeight, &typ, &r.From, &r.Status, &r.Code, &r.Error)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, core.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	r.Type = core.TxType(typ)
	return &r, nil
}

// FilterEvents returns the events matching filter, by block then index.
func (db *LogDB) FilterEvents(ctx context.Context, filter *EventFilter) ([]*Event, error) {
	const cols = "SELECT blockNumber, eventIndex, blockHash, txID, type, auctionID, actor, data FROM event"
	if filter == nil {
		return db.queryEvents(ctx, cols+" ORDER BY blockNumber ASC, eventIndex ASC")
	}
	var args []any
	stmt := cols + " WHERE 1"
	if filter.AuctionID != "" {
		args = append(args, filter.AuctionID)
		stmt += " AND auctionID = ?"
	}
	if filter.Actor != "" {
		args = append(args, filter.Actor)
		stmt += " AND actor = ?"
	}
	if len(filter.Types) > 0 {
		marks := make([]string, len(filter.Types))
		for i, t := range filter.Types {
			marks[i] = "?"
			args = append(args, string(t))
		}
		stmt += " AND type IN (" + strings.Join(marks, ",") + ")"
	}
	if filter.FromBlock > 0 {
		args = append(args, filter.FromBlock)
		stmt += " AND blockNumber >= ?"
	}
	if filter.ToBlock > 0 {
		args = append(args, filter.ToBlock)
		stmt += " AND blockNumber <= ?"
	}
	if filter.Order == DESC {
		stmt += " ORDER BY blockNumber DESC, eventIndex DESC"
	} else {
		stmt += " ORDER BY blockNumber ASC, eventIndex ASC"
	}
	if filter.Options != nil {
		stmt += " LIMIT ?, ?"
		args = append(args, filter.Options.Offset, filter.Options.Limit)
	}
	return db.queryEvents(ctx, stmt, args...)
}

func (db *LogDB) queryEvents(ctx context.Context, stmt string, args ...any) ([]*Event, error) {
	rows, err := db.db.QueryContext(ctx, stmt, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []*Event
	for rows.Next() {
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		default:
		}
		var (
			ev   Event
			typ  string
			data string
		)
		if err := rows.Scan(&ev.BlockNumber, &ev.Index, &ev.BlockHash, &ev.TxID, &typ, &ev.AuctionID, &ev.Actor, &data); err != nil {
			return nil, err
		}
		ev.Type = events.EventType(typ)
		ev.Data = json.RawMessage(data)
		out = append(out, &ev)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return out, nil
}

// BlockBatch collects one block's events and writes them in a single
// sqlite transaction. Receipts are derived from tx_executed and tx_failed.
type BlockBatch struct {
	db     *sql.DB
	height int64
	hash   string
	events []events.Event
}

// Add appends events to the batch.
func (bb *BlockBatch) Add(evs ...events.Event) *BlockBatch {
	bb.events = append(bb.events, evs...)
	return bb
}

func (bb *BlockBatch) execInTx(proc func(*sql.Tx) error) error {
	tx, err := bb.db.Begin()
	if err != nil {
		return err
	}
	if err := proc(tx); err != nil {
		if rbErr := tx.Rollback(); rbErr != nil {
			return fmt.Errorf("%w (rollback: %v)", err, rbErr)
		}
		return err
	}
	return tx.Commit()
}

// Commit writes the batch.
func (bb *BlockBatch) Commit() error {
	if len(bb.events) == 0 {
		return nil
	}
	return bb.execInTx(func(tx *sql.Tx) error {
		for i, ev := range bb.events {
			data, err := json.Marshal(ev.Data)
			if err != nil {
				return fmt.Errorf("encode %s data: %w", ev.Type, err)
			}
			auctionID, _ := ev.Data["auction_id"].(string)
			if _, err := tx.Exec("INSERT OR REPLACE INTO event(blockNumber, eventIndex, blockHash, txID, type, auctionID, actor, data) VALUES (?, ?, ?, ?, ?, ?, ?, ?);",
				bb.height, i, bb.hash, ev.TxID, string(ev.Type), auctionID, actorOf(ev.Data), string(data),
			); err != nil {
				return err
			}

			if ev.Type != events.EventTxExecuted && ev.Type != events.EventTxFailed {
				continue
			}
			status := core.ReceiptOK
			if ev.Type == events.EventTxFailed {
				status = core.ReceiptFailed
			}
			typ, _ := ev.Data["type"].(string)
			from, _ := ev.Data["from"].(string)
			code, _ := ev.Data["code"].(string)
			msg, _ := ev.Data["error"].(string)
			if _, err := tx.Exec("INSERT OR REPLACE INTO receipt(txID, blockNumber, blockHash, type, sender, status, code, error) VALUES (?, ?, ?, ?, ?, ?, ?, ?);",
				ev.TxID, bb.height, bb.hash, typ, from, status, code, msg,
			); err != nil {
				return err
			}
		}
		return nil
	})
}
