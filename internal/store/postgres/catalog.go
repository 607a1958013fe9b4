package postgres

import (
	"context"
	"database/sql"
	"fmt"

	"kettleplane/internal/store"

	"golang.org/x/sync/errgroup"
)

const (
	selectDirectories     = `SELECT ID_DIRECTORY, ID_DIRECTORY_PARENT, DIRECTORY_NAME FROM R_DIRECTORY`
	selectJobs            = `SELECT ID_JOB, ID_DIRECTORY, "NAME" FROM R_JOB`
	selectTransformations = `SELECT ID_TRANSFORMATION, ID_DIRECTORY, "NAME" FROM R_TRANSFORMATION`
)

// LoadCatalog reads directories, jobs and transformations concurrently.
// Any failed read fails the whole load.
func (s *Store) LoadCatalog(ctx context.Context) (*store.CatalogRows, error) {
	var rows store.CatalogRows

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		dirs, err := s.loadDirectories(gctx)
		rows.Directories = dirs
		return err
	})
	g.Go(func() error {
		jobs, err := s.loadArtifacts(gctx, selectJobs)
		if err != nil {
			return fmt.Errorf("failed to load jobs: %w", err)
		}
		rows.Jobs = jobs
		return nil
	})
	g.Go(func() error {
		trans, err := s.loadArtifacts(gctx, selectTransformations)
		if err != nil {
			return fmt.Errorf("failed to load transformations: %w", err)
		}
		rows.Transformations = trans
		return nil
	})

	if err := g.Wait(); err != nil {
		return nil, err
	}
	return &rows, nil
}

func (s *Store) loadDirectories(ctx context.Context) ([]store.DirectoryRow, error) {
	rs, err := s.db.QueryContext(ctx, selectDirectories)
	if err != nil {
		return nil, fmt.Errorf("failed to load directories: %w", err)
	}
	defer rs.Close()

	var dirs []store.DirectoryRow
	for rs.Next() {
		var (
			d      store.DirectoryRow
			parent sql.NullInt64
			name   sql.NullString
		)
		if err := rs.Scan(&d.ID, &parent, &name); err != nil {
			return nil, fmt.Errorf("failed to scan directory: %w", err)
		}
		d.ParentID = parent.Int64
		d.Name = name.String
		dirs = append(dirs, d)
	}
	if err := rs.Err(); err != nil {
		return nil, fmt.Errorf("directory rows error: %w", err)
	}
	return dirs, nil
}

func (s *Store) loadArtifacts(ctx context.Context, query string) ([]store.ArtifactRow, error) {
	rs, err := s.db.QueryContext(ctx, query)
	if err != nil {
		return nil, err
	}
	defer rs.Close()

	var out []store.ArtifactRow
	for rs.Next() {
		var (
			a   store.ArtifactRow
			dir sql.NullInt64
		)
		if err := rs.Scan(&a.ID, &dir, &a.Name); err != nil {
			return nil, err
		}
		a.DirectoryID = dir.Int64
		out = append(out, a)
	}
	return out, rs.Err()
}
