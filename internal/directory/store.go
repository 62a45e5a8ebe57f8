// Package directory mirrors the application's social graph (friendships and
// group memberships) in SQLite so the relay can resolve fan-out audiences
// and authorize group joins without calling back into the CRUD service.
package directory

import (
	"context"
	"database/sql"
	"fmt"
	"sync"
	"time"

	_ "github.com/mattn/go-sqlite3"
	"go.uber.org/zap"

	"campuslink/pkg/interfaces"
	"campuslink/pkg/types"
)

var _ interfaces.Directory = (*Store)(nil)

// Store is the SQLite-backed interfaces.Directory.
type Store struct {
	db           *sql.DB
	writes       chan writeOperation // TECHNICAL: single-writer pattern for SQLite
	shutdown     chan struct{}
	wg           sync.WaitGroup
	mu           sync.RWMutex
	closed       bool
	retryDelay   time.Duration
	writeTimeout time.Duration
	logger       *zap.Logger
}

type writeOperation struct {
	ctx       context.Context
	operation func(ctx context.Context, db *sql.DB) error
	result    chan error
}

// Open connects to the database file named by cfg. Call Migrate before
// serving from a fresh file.
func Open(ctx context.Context, cfg *Config, logger *zap.Logger) (*Store, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid directory config: %w", err)
	}

	db, err := sql.Open("sqlite3", cfg.dsn())
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	// FUNCTIONAL DISCOVERY: Connection pool configuration critical for concurrent reads
	db.SetMaxOpenConns(cfg.MaxConnections)
	db.SetConnMaxLifetime(cfg.ConnMaxLifetime)
	db.SetConnMaxIdleTime(cfg.ConnMaxIdleTime)

	if err := applySQLiteOptimizations(ctx, db); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to apply SQLite optimizations: %w", err)
	}

	return newStore(db, cfg.RetryDelay, cfg.WriteTimeout, logger), nil
}

func newStore(db *sql.DB, retryDelay, writeTimeout time.Duration, logger *zap.Logger) *Store {
	s := &Store{
		db:           db,
		writes:       make(chan writeOperation, 100),
		shutdown:     make(chan struct{}),
		retryDelay:   retryDelay,
		writeTimeout: writeTimeout,
		logger:       logger.Named("directory"),
	}

	// ARCHITECTURAL DISCOVERY: Single-writer goroutine prevents SQLite write contention
	s.wg.Add(1)
	go s.writeLoop()
	return s
}

// Migrate applies pending schema migrations and validates the result.
func (s *Store) Migrate(ctx context.Context) ([]string, error) {
	migrator := NewMigrator(s.db)
	applied, err := migrator.Apply(ctx)
	if err != nil {
		return applied, err
	}
	if len(applied) > 0 {
		s.logger.Info("applied migrations", zap.Strings("versions", applied))
	}
	return applied, migrator.ValidateSchema(ctx)
}

func (s *Store) writeLoop() {
	defer s.wg.Done()

	for {
		select {
		case op := <-s.writes:
			op.result <- s.runWrite(op)
		case <-s.shutdown:
			return
		}
	}
}

// runWrite executes op, retrying exactly once after retryDelay.
func (s *Store) runWrite(op writeOperation) error {
	err := op.operation(op.ctx, s.db)
	if err == nil {
		return nil
	}

	s.logger.Warn("directory write failed, retrying", zap.Duration("delay", s.retryDelay), zap.Error(err))
	select {
	case <-time.After(s.retryDelay):
	case <-s.shutdown:
		return err
	case <-op.ctx.Done():
		return err
	}

	if err = op.operation(op.ctx, s.db); err != nil {
		s.logger.Error("directory write failed after retry", zap.Error(err))
	}
	return err
}

// executeWrite queues a write and waits for the writer to finish it.
func (s *Store) executeWrite(ctx context.Context, operation func(ctx context.Context, db *sql.DB) error) error {
	s.mu.RLock()
	closed := s.closed
	s.mu.RUnlock()
	if closed {
		return ErrClosed
	}

	result := make(chan error, 1)
	timeout := time.NewTimer(s.writeTimeout)
	defer timeout.Stop()

	select {
	case s.writes <- writeOperation{ctx: ctx, operation: operation, result: result}:
	case <-timeout.C:
		return ErrWriteTimeout
	case <-s.shutdown:
		return ErrShuttingDown
	case <-ctx.Done():
		return ctx.Err()
	}

	select {
	case err := <-result:
		return err
	case <-timeout.C:
		return ErrWriteTimeout
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Friends returns userID's friends, sorted.
func (s *Store) Friends(ctx context.Context, userID string) ([]string, error) {
	ids, err := s.queryIDs(ctx, "SELECT friend_id FROM friendships WHERE user_id = ? ORDER BY friend_id", userID)
	if err != nil {
		return nil, fmt.Errorf("failed to query friends of %s: %w", userID, err)
	}
	return ids, nil
}

// AddFriendship stores both directions in one transaction.
func (s *Store) AddFriendship(ctx context.Context, userID, friendID string) error {
	if userID == friendID {
		return types.ErrSelfFriendship
	}
	return s.executeWrite(ctx, func(ctx context.Context, db *sql.DB) error {
		tx, err := db.BeginTx(ctx, nil)
		if err != nil {
			return fmt.Errorf("failed to begin transaction: %w", err)
		}
		defer func() { _ = tx.Rollback() }()

		const insert = "INSERT OR IGNORE INTO friendships (user_id, friend_id) VALUES (?, ?)"
		if _, err := tx.ExecContext(ctx, insert, userID, friendID); err != nil {
			return fmt.Errorf("failed to insert friendship: %w", err)
		}
		if _, err := tx.ExecContext(ctx, insert, friendID, userID); err != nil {
			return fmt.Errorf("failed to insert friendship: %w", err)
		}
		if err := tx.Commit(); err != nil {
			return fmt.Errorf("failed to commit friendship: %w", err)
		}
		return nil
	})
}

// RemoveFriendship deletes both directions.
func (s *Store) RemoveFriendship(ctx context.Context, userID, friendID string) error {
	return s.executeWrite(ctx, func(ctx context.Context, db *sql.DB) error {
		_, err := db.ExecContext(ctx,
			"DELETE FROM friendships WHERE (user_id = ? AND friend_id = ?) OR (user_id = ? AND friend_id = ?)",
			userID, friendID, friendID, userID,
		)
		if err != nil {
			return fmt.Errorf("failed to delete friendship: %w", err)
		}
		return nil
	})
}

// GroupMembers returns the members of groupID, sorted.
func (s *Store) GroupMembers(ctx context.Context, groupID string) ([]string, error) {
	ids, err := s.queryIDs(ctx, "SELECT user_id FROM group_members WHERE group_id = ? ORDER BY user_id", groupID)
	if err != nil {
		return nil, fmt.Errorf("failed to query members of %s: %w", groupID, err)
	}
	return ids, nil
}

// IsGroupMember reports whether userID belongs to groupID.
func (s *Store) IsGroupMember(ctx context.Context, groupID, userID string) (bool, error) {
	var member bool
	err := s.db.QueryRowContext(ctx,
		"SELECT EXISTS(SELECT 1 FROM group_members WHERE group_id = ? AND user_id = ?)",
		groupID, userID,
	).Scan(&member)
	if err != nil {
		return false, fmt.Errorf("failed to check membership: %w", err)
	}
	return member, nil
}

// AddGroupMember records a membership; repeating it is a no-op.
func (s *Store) AddGroupMember(ctx context.Context, groupID, userID string) error {
	return s.executeWrite(ctx, func(ctx context.Context, db *sql.DB) error {
		_, err := db.ExecContext(ctx,
			"INSERT OR IGNORE INTO group_members (group_id, user_id) VALUES (?, ?)",
			groupID, userID,
		)
		if err != nil {
			return fmt.Errorf("failed to insert group member: %w", err)
		}
		return nil
	})
}

// RemoveGroupMember deletes a membership.
func (s *Store) RemoveGroupMember(ctx context.Context, groupID, userID string) error {
	return s.executeWrite(ctx, func(ctx context.Context, db *sql.DB) error {
		_, err := db.ExecContext(ctx,
			"DELETE FROM group_members WHERE group_id = ? AND user_id = ?",
			groupID, userID,
		)
		if err != nil {
			return fmt.Errorf("failed to delete group member: %w", err)
		}
		return nil
	})
}

// ARCHITECTURAL DISCOVERY: Read operations can be concurrent, no writer hop
func (s *Store) queryIDs(ctx context.Context, query string, arg string) ([]string, error) {
	rows, err := s.db.QueryContext(ctx, query, arg)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	ids := []string{}
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

// HealthCheck pings the database.
func (s *Store) HealthCheck(ctx context.Context) error {
	s.mu.RLock()
	closed := s.closed
	s.mu.RUnlock()
	if closed {
		return ErrClosed
	}
	if err := s.db.PingContext(ctx); err != nil {
		return fmt.Errorf("database ping failed: %w", err)
	}
	return nil
}

// Close stops the writer and closes the database. Repeated calls are no-ops.
func (s *Store) Close() error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	s.mu.Unlock()

	close(s.shutdown)
	s.wg.Wait()
	return s.db.Close()
}
