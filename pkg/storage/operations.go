package storage

import (
	"context"
	"database/sql"
	"time"

	"github.com/pacfleet/pacfleet/pkg/errdefs"
	"github.com/pacfleet/pacfleet/pkg/types"
)

const operationColumns = `id, pool_id, endpoint_id, kind, status, details, error_message, created_at, completed_at`

// CreateOperation inserts a new operation row, normally in pending status.
func (s *Store) CreateOperation(ctx context.Context, op *types.Operation) error {
	details, err := marshalJSON(op.Details)
	if err != nil {
		return err
	}
	if op.CreatedAt.IsZero() {
		op.CreatedAt = now()
	}
	return s.withRetry(ctx, func() error {
		return s.driver.Exec(ctx,
			`INSERT INTO operations (`+operationColumns+`) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
			op.ID, op.PoolID, op.EndpointID, string(op.Kind), string(op.Status),
			details, nullString(op.ErrorMessage), op.CreatedAt, nullTime(op.CompletedAt))
	})
}

// GetOperation returns one operation by id.
func (s *Store) GetOperation(ctx context.Context, id string) (*types.Operation, error) {
	var op *types.Operation
	err := s.withRetry(ctx, func() error {
		var (
			row       types.Operation
			kind      string
			status    string
			details   []byte
			errMsg    sql.NullString
			completed sql.NullTime
		)
		err := s.driver.FetchOne(ctx,
			`SELECT `+operationColumns+` FROM operations WHERE id = ?`,
			[]interface{}{id},
			&row.ID, &row.PoolID, &row.EndpointID, &kind, &status,
			&details, &errMsg, &row.CreatedAt, &completed)
		if err != nil {
			return err
		}
		if err := finishOperation(&row, kind, status, details, errMsg, completed); err != nil {
			return err
		}
		op = &row
		return nil
	})
	if err != nil {
		if IsNoRows(err) {
			return nil, errdefs.NotFound.New("operation not found: %s", id)
		}
		return nil, err
	}
	return op, nil
}

func finishOperation(op *types.Operation, kind, status string, details []byte, errMsg sql.NullString, completed sql.NullTime) error {
	op.Kind = types.OperationKind(kind)
	op.Status = types.OperationStatus(status)
	if err := unmarshalJSON(details, &op.Details); err != nil {
		return err
	}
	op.ErrorMessage = errMsg.String
	if completed.Valid {
		t := completed.Time.UTC()
		op.CompletedAt = &t
	}
	op.CreatedAt = op.CreatedAt.UTC()
	return nil
}

// UpdateOperation persists the operation's status, details, error message
// and completion time. Status monotonicity is the coordinator's contract;
// the store records what it is told.
func (s *Store) UpdateOperation(ctx context.Context, op *types.Operation) error {
	details, err := marshalJSON(op.Details)
	if err != nil {
		return err
	}
	return s.withRetry(ctx, func() error {
		return s.driver.Exec(ctx,
			`UPDATE operations SET status = ?, details = ?, error_message = ?, completed_at = ?
				WHERE id = ?`,
			string(op.Status), details, nullString(op.ErrorMessage),
			nullTime(op.CompletedAt), op.ID)
	})
}

// ListEndpointOperations returns an endpoint's operations, most recent
// first. limit <= 0 means no limit.
func (s *Store) ListEndpointOperations(ctx context.Context, endpointID string, limit int) ([]*types.Operation, error) {
	return s.listOperationsWhere(ctx, `WHERE endpoint_id = ?`, []interface{}{endpointID}, limit)
}

// ListPoolOperations returns a pool's operations, most recent first.
func (s *Store) ListPoolOperations(ctx context.Context, poolID string, limit int) ([]*types.Operation, error) {
	return s.listOperationsWhere(ctx, `WHERE pool_id = ?`, []interface{}{poolID}, limit)
}

// ListActiveOperations returns every operation still in a non-terminal
// status, oldest first.
func (s *Store) ListActiveOperations(ctx context.Context) ([]*types.Operation, error) {
	ops, err := s.listOperationsWhere(ctx,
		`WHERE status IN (?, ?)`,
		[]interface{}{string(types.OpStatusPending), string(types.OpStatusInProgress)}, 0)
	if err != nil {
		return nil, err
	}
	// listOperationsWhere orders newest first; recovery wants oldest first.
	for i, j := 0, len(ops)-1; i < j; i, j = i+1, j-1 {
		ops[i], ops[j] = ops[j], ops[i]
	}
	return ops, nil
}

func (s *Store) listOperationsWhere(ctx context.Context, where string, args []interface{}, limit int) ([]*types.Operation, error) {
	query := `SELECT ` + operationColumns + ` FROM operations ` + where +
		` ORDER BY created_at DESC, id DESC`
	if limit > 0 {
		query += ` LIMIT ?`
		args = append(args, limit)
	}

	var ops []*types.Operation
	err := s.withRetry(ctx, func() error {
		ops = nil
		return s.driver.FetchAll(ctx, query, args, func(sc Scanner) error {
			var (
				row       types.Operation
				kind      string
				status    string
				details   []byte
				errMsg    sql.NullString
				completed sql.NullTime
			)
			if err := sc.Scan(&row.ID, &row.PoolID, &row.EndpointID, &kind, &status,
				&details, &errMsg, &row.CreatedAt, &completed); err != nil {
				return err
			}
			if err := finishOperation(&row, kind, status, details, errMsg, completed); err != nil {
				return err
			}
			ops = append(ops, &row)
			return nil
		})
	})
	if err != nil {
		return nil, err
	}
	return ops, nil
}

// FailInterruptedOperations finalises every operation left non-terminal by
// a previous process as failed:"interrupted". Runs at startup, before any
// new operation is admitted, and returns the number of rows finalised.
func (s *Store) FailInterruptedOperations(ctx context.Context) (int, error) {
	completed := time.Now().UTC().Truncate(time.Millisecond)
	var n int64
	err := s.withRetry(ctx, func() error {
		return s.driver.Tx(ctx, func(tx Querier) error {
			res, err := tx.ExecContext(ctx,
				`UPDATE operations SET status = ?, error_message = ?, completed_at = ?
					WHERE status IN (?, ?)`,
				string(types.OpStatusFailed), "interrupted", completed,
				string(types.OpStatusPending), string(types.OpStatusInProgress))
			if err != nil {
				return errdefs.Storage.Wrap(err)
			}
			n, _ = res.RowsAffected()
			return nil
		})
	})
	return int(n), err
}
