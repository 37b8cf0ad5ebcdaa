package cascade

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/lib/pq"
	"go.uber.org/zap"

	"github.com/stillwaterhq/stillwater/internal/relay"
	"github.com/stillwaterhq/stillwater/internal/store"
)

// CleanupFunc performs an entity's remote cleanup. It runs after the
// local cascade, so it can assume child rows are already gone.
type CleanupFunc func(ctx context.Context) error

// RemoteCleanup prepares a cleanup for an entity that is about to be
// deleted. It runs before the cascade so it can still read the entity's
// rows (credentials, remote ids); the CleanupFunc it returns runs after.
// Returning a nil CleanupFunc skips cleanup for this delete.
type RemoteCleanup func(ctx context.Context, sc relay.SaveContext, id string) (CleanupFunc, error)

// Resolver deletes entities together with their declared children and
// junction rows. Local cascade always finishes before the entity's
// remote cleanup runs.
type Resolver struct {
	db       *sql.DB
	registry *Registry
	cleanups map[string]RemoteCleanup
	logger   *zap.Logger
}

// NewResolver creates a Resolver over a validated registry.
func NewResolver(db *sql.DB, registry *Registry, logger *zap.Logger) *Resolver {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Resolver{
		db:       db,
		registry: registry,
		cleanups: make(map[string]RemoteCleanup),
		logger:   logger,
	}
}

// OnDelete registers a remote cleanup hook for an entity type. The hook
// is skipped on recursive child deletes, where the top-level caller owns
// remote cleanup.
func (r *Resolver) OnDelete(entity string, cleanup RemoteCleanup) {
	r.cleanups[entity] = cleanup
}

// Delete removes the entity row, its linked children (recursively), its
// junction rows, and its team associations, then runs the entity's
// remote cleanup hook unless sc.SkipRemoteCleanup is set.
func (r *Resolver) Delete(ctx context.Context, sc relay.SaveContext, entity, id string) error {
	desc, err := r.registry.descriptor(entity)
	if err != nil {
		return err
	}

	conn, err := store.WithTeam(ctx, r.db)
	if err != nil {
		return err
	}
	defer conn.Close()

	// Prepare before the cascade while the entity's rows still exist.
	var cleanup CleanupFunc
	if prep, ok := r.cleanups[entity]; ok && !sc.SkipRemoteCleanup {
		cleanup, err = prep(ctx, sc, id)
		if err != nil {
			return fmt.Errorf("failed to prepare remote cleanup for %s %s: %w", entity, id, err)
		}
	}

	if err := r.cascade(ctx, conn, sc, desc, id); err != nil {
		return err
	}

	if cleanup == nil {
		return nil
	}
	if err := cleanup(ctx); err != nil {
		return fmt.Errorf("failed remote cleanup for %s %s: %w", entity, id, err)
	}
	return nil
}

func (r *Resolver) cascade(ctx context.Context, conn *sql.Conn, sc relay.SaveContext, desc *resolvedDescriptor, id string) error {
	childSC := sc
	childSC.SkipRemoteCleanup = true

	for _, link := range desc.links {
		if link.childEntity == "" {
			result, err := conn.ExecContext(ctx,
				fmt.Sprintf(`DELETE FROM %s WHERE %s = $1`, link.table, link.foreignKey), id)
			if err != nil {
				return fmt.Errorf("failed to cascade %s.%s: %w", desc.entity, link.name, err)
			}
			if n, _ := result.RowsAffected(); n > 0 {
				r.logger.Debug("cascade removed rows",
					zap.String("entity", desc.entity),
					zap.String("link", link.name),
					zap.Int64("rows", n))
			}
			continue
		}

		childIDs, err := r.childIDs(ctx, conn, link, id)
		if err != nil {
			return fmt.Errorf("failed to cascade %s.%s: %w", desc.entity, link.name, err)
		}
		childDesc, err := r.registry.descriptor(link.childEntity)
		if err != nil {
			return err
		}
		for _, childID := range childIDs {
			if err := r.cascade(ctx, conn, childSC, childDesc, childID); err != nil {
				return err
			}
		}
	}

	for _, junction := range desc.junctions {
		_, err := conn.ExecContext(ctx,
			fmt.Sprintf(`DELETE FROM %s WHERE %s = $1`, junction.Table, junction.Column), id)
		if err != nil {
			if isMissingRelation(err) {
				r.logger.Warn("skipping junction cleanup for missing relation",
					zap.String("entity", desc.entity),
					zap.String("table", junction.Table),
					zap.String("column", junction.Column),
					zap.Error(err))
				continue
			}
			return fmt.Errorf("failed to purge junction %s: %w", junction.Table, err)
		}
	}

	_, err := conn.ExecContext(ctx, `
		DELETE FROM entity_teams WHERE entity_type = $1 AND entity_id = $2`,
		desc.entity, id)
	if err != nil {
		return fmt.Errorf("failed to purge team associations for %s: %w", desc.entity, err)
	}

	result, err := conn.ExecContext(ctx,
		fmt.Sprintf(`DELETE FROM %s WHERE id = $1`, desc.table), id)
	if err != nil {
		return fmt.Errorf("failed to delete %s %s: %w", desc.entity, id, err)
	}
	if n, _ := result.RowsAffected(); n == 0 {
		return store.ErrNotFound
	}
	return nil
}

func (r *Resolver) childIDs(ctx context.Context, conn *sql.Conn, link resolvedLink, parentID string) ([]string, error) {
	rows, err := conn.QueryContext(ctx,
		fmt.Sprintf(`SELECT id FROM %s WHERE %s = $1`, link.table, link.foreignKey), parentID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

// isMissingRelation reports whether err is Postgres undefined_table or
// undefined_column.
func isMissingRelation(err error) bool {
	var pqErr *pq.Error
	if !errors.As(err, &pqErr) {
		return false
	}
	return pqErr.Code == "42P01" || pqErr.Code == "42703"
}
