package storage

import (
	"context"

	"github.com/pacfleet/pacfleet/pkg/errdefs"
	"github.com/pacfleet/pacfleet/pkg/types"
)

const repositoryColumns = `id, endpoint_id, repo_name, primary_url, mirrors, packages, last_updated`

// ReplaceEndpointRepositories bulk-replaces all repository rows for one
// endpoint: delete-then-insert inside a single transaction so no stale
// package ever survives a push. Idempotent under equal input.
func (s *Store) ReplaceEndpointRepositories(ctx context.Context, endpointID string, repos []*types.Repository) error {
	type encoded struct {
		repo     *types.Repository
		mirrors  []byte
		packages []byte
	}
	rows := make([]encoded, 0, len(repos))
	for _, r := range repos {
		if r.ID == "" {
			r.ID = types.NewID()
		}
		r.EndpointID = endpointID
		if r.LastUpdated.IsZero() {
			r.LastUpdated = now()
		}
		mirrors, err := marshalJSON(r.Mirrors)
		if err != nil {
			return err
		}
		packages, err := marshalJSON(r.Packages)
		if err != nil {
			return err
		}
		rows = append(rows, encoded{repo: r, mirrors: mirrors, packages: packages})
	}

	return s.withRetry(ctx, func() error {
		return s.driver.Tx(ctx, func(tx Querier) error {
			if _, err := tx.ExecContext(ctx,
				`DELETE FROM repositories WHERE endpoint_id = ?`, endpointID); err != nil {
				return errdefs.Storage.Wrap(err)
			}
			for _, row := range rows {
				_, err := tx.ExecContext(ctx,
					`INSERT INTO repositories (`+repositoryColumns+`) VALUES (?, ?, ?, ?, ?, ?, ?)`,
					row.repo.ID, endpointID, row.repo.RepoName, row.repo.PrimaryURL,
					row.mirrors, row.packages, row.repo.LastUpdated.UTC())
				if err != nil {
					return errdefs.Storage.Wrap(err)
				}
			}
			return nil
		})
	})
}

// ListEndpointRepositories returns all repositories reported by one
// endpoint, ordered by repo name for stable output.
func (s *Store) ListEndpointRepositories(ctx context.Context, endpointID string) ([]*types.Repository, error) {
	var repos []*types.Repository
	err := s.withRetry(ctx, func() error {
		repos = nil
		return s.driver.FetchAll(ctx,
			`SELECT `+repositoryColumns+` FROM repositories WHERE endpoint_id = ? ORDER BY repo_name`,
			[]interface{}{endpointID},
			func(sc Scanner) error {
				var (
					r        types.Repository
					mirrors  []byte
					packages []byte
				)
				if err := sc.Scan(&r.ID, &r.EndpointID, &r.RepoName, &r.PrimaryURL,
					&mirrors, &packages, &r.LastUpdated); err != nil {
					return err
				}
				if err := unmarshalJSON(mirrors, &r.Mirrors); err != nil {
					return err
				}
				if err := unmarshalJSON(packages, &r.Packages); err != nil {
					return err
				}
				r.LastUpdated = r.LastUpdated.UTC()
				repos = append(repos, &r)
				return nil
			})
	})
	if err != nil {
		return nil, err
	}
	return repos, nil
}
