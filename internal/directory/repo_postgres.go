package directory

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"voicelink/internal/identity"
)

// PostgresDirectory reads the CRM's participants table. The table is owned by
// the external tenant/user service; this process only ever SELECTs from it.
//
// Expected shape:
//
//	CREATE TABLE participants (
//	    workspace_id TEXT NOT NULL,
//	    user_id      TEXT NOT NULL,
//	    kind         TEXT NOT NULL,  -- member | portal_customer
//	    display_name TEXT NOT NULL DEFAULT '',
//	    PRIMARY KEY (workspace_id, user_id)
//	);
type PostgresDirectory struct {
	db *sql.DB
}

func NewPostgresDirectory(db *sql.DB) *PostgresDirectory {
	return &PostgresDirectory{db: db}
}

func (d *PostgresDirectory) Resolve(ctx context.Context, workspaceID, userID string) (Member, error) {
	const q = `SELECT kind, display_name FROM participants WHERE workspace_id = $1 AND user_id = $2`

	var kind, name string
	err := d.db.QueryRowContext(ctx, q, workspaceID, userID).Scan(&kind, &name)
	if errors.Is(err, sql.ErrNoRows) {
		return Member{}, ErrNotFound
	}
	if err != nil {
		return Member{}, fmt.Errorf("directory resolve: %w", err)
	}

	return Member{
		Participant: identity.Participant{
			WorkspaceID: workspaceID,
			UserID:      userID,
			Kind:        identity.Kind(kind),
		},
		DisplayName: name,
	}, nil
}
