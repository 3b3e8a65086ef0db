package respstore

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"sync"
	"time"

	log "github.com/sirupsen/logrus"
	_ "modernc.org/sqlite"
)

const (
	mirrorChanSize      = 1000
	mirrorBatchSize     = 100
	mirrorFlushInterval = 5 * time.Second
	// mirrorMaxRows bounds the table; the oldest rows are trimmed after
	// each flush so the file does not grow without limit.
	mirrorMaxRows = 1000
)

type mirrorRow struct {
	id   string
	body []byte
}

// Mirror persists response objects to sqlite through a batching writer so
// the request path never blocks on disk. Reads fall back here when the
// in-memory FIFO has already evicted an id.
type Mirror struct {
	db          *sql.DB
	rowChan     chan mirrorRow
	flushTicker *time.Ticker
	stopChan    chan struct{}
	stopOnce    sync.Once
	wg          sync.WaitGroup
}

// OpenMirror opens (or creates) the sqlite file at path and prepares the
// schema. Call Start before enqueuing writes.
func OpenMirror(path string) (*Mirror, error) {
	db, err := sql.Open("sqlite", path+"?_pragma=journal_mode(WAL)&_pragma=synchronous(NORMAL)&_pragma=cache_size(-64000)")
	if err != nil {
		return nil, fmt.Errorf("open response mirror: %w", err)
	}

	// Single writer; sqlite serializes anyway and this avoids lock churn.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	db.SetConnMaxLifetime(0)

	if err := initMirrorSchema(db); err != nil {
		db.Close()
		return nil, fmt.Errorf("init response mirror schema: %w", err)
	}

	return &Mirror{
		db:          db,
		rowChan:     make(chan mirrorRow, mirrorChanSize),
		flushTicker: time.NewTicker(mirrorFlushInterval),
		stopChan:    make(chan struct{}),
	}, nil
}

func initMirrorSchema(db *sql.DB) error {
	_, err := db.Exec(`
		CREATE TABLE IF NOT EXISTS responses (
			id TEXT PRIMARY KEY,
			body TEXT NOT NULL,
			created_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP
		);
		CREATE INDEX IF NOT EXISTS idx_responses_created_at ON responses(created_at);
	`)
	return err
}

// Start launches the background writer.
func (m *Mirror) Start() {
	m.wg.Add(1)
	go m.writeLoop()
}

// Stop flushes pending rows and closes the database.
func (m *Mirror) Stop() error {
	var err error
	m.stopOnce.Do(func() {
		close(m.stopChan)
		m.flushTicker.Stop()
		m.wg.Wait()
		err = m.db.Close()
	})
	return err
}

// Put enqueues a row without blocking. Rows are dropped when the writer
// falls behind; the authoritative copy stays in memory until eviction.
func (m *Mirror) Put(id string, body []byte) {
	row := mirrorRow{id: id, body: append([]byte(nil), body...)}
	select {
	case m.rowChan <- row:
	default:
		log.Warnf("Response mirror queue full, dropping %s", id)
	}
}

// Get loads a response body by id.
func (m *Mirror) Get(ctx context.Context, id string) ([]byte, error) {
	var body []byte
	err := m.db.QueryRowContext(ctx, "SELECT body FROM responses WHERE id = ?", id).Scan(&body)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("query response mirror: %w", err)
	}
	return body, nil
}

func (m *Mirror) writeLoop() {
	defer m.wg.Done()

	batch := make([]mirrorRow, 0, mirrorBatchSize)

	flush := func() {
		if len(batch) == 0 {
			return
		}
		if err := m.writeBatch(batch); err != nil {
			log.Errorf("Failed to write response mirror batch: %v", err)
		}
		batch = batch[:0]
	}

	for {
		select {
		case row := <-m.rowChan:
			batch = append(batch, row)
			if len(batch) >= mirrorBatchSize {
				flush()
			}
		case <-m.flushTicker.C:
			flush()
		case <-m.stopChan:
			// Drain whatever is still queued before closing.
			for {
				select {
				case row := <-m.rowChan:
					batch = append(batch, row)
					if len(batch) >= mirrorBatchSize {
						flush()
					}
				default:
					flush()
					return
				}
			}
		}
	}
}

// Flush forces pending rows to disk. Intended for shutdown paths and tests.
func (m *Mirror) Flush(ctx context.Context) error {
	batch := make([]mirrorRow, 0, mirrorBatchSize)
	for {
		select {
		case row := <-m.rowChan:
			batch = append(batch, row)
		case <-ctx.Done():
			return ctx.Err()
		default:
			if len(batch) == 0 {
				return nil
			}
			return m.writeBatch(batch)
		}
	}
}

func (m *Mirror) writeBatch(batch []mirrorRow) error {
	tx, err := m.db.Begin()
	if err != nil {
		return fmt.Errorf("begin mirror batch: %w", err)
	}
	defer tx.Rollback()

	stmt, err := tx.Prepare(`
		INSERT INTO responses (id, body, created_at) VALUES (?, ?, CURRENT_TIMESTAMP)
		ON CONFLICT(id) DO UPDATE SET body = excluded.body, created_at = excluded.created_at
	`)
	if err != nil {
		return fmt.Errorf("prepare mirror insert: %w", err)
	}
	defer stmt.Close()

	for _, row := range batch {
		if _, err := stmt.Exec(row.id, string(row.body)); err != nil {
			return fmt.Errorf("insert response %s: %w", row.id, err)
		}
	}

	_, err = tx.Exec(`
		DELETE FROM responses WHERE id NOT IN (
			SELECT id FROM responses ORDER BY created_at DESC, id DESC LIMIT ?
		)
	`, mirrorMaxRows)
	if err != nil {
		return fmt.Errorf("trim response mirror: %w", err)
	}

	return tx.Commit()
}
