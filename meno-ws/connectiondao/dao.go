package connectiondao

import (
	"context"
	"fmt"

	"github.com/aws/aws-sdk-go/service/dynamodb/dynamodbiface"
	"github.com/savaki/ddb"
)

const sessionIndex = "SessionIndex"

// DAO provides access to the connections table.
type DAO struct {
	table     *ddb.Table
	tableName string
}

// New creates a new connections DAO.
func New(api dynamodbiface.DynamoDBAPI, tableName string) *DAO {
	return &DAO{
		table:     ddb.New(api).MustTable(tableName, Connection{}),
		tableName: tableName,
	}
}

// Put stores a connection record, replacing any previous binding for the id.
func (d *DAO) Put(ctx context.Context, conn Connection) error {
	if err := d.table.Put(conn).RunWithContext(ctx); err != nil {
		return fmt.Errorf("failed to put connection %v: %w", conn.ConnectionID, err)
	}
	return nil
}

// Get retrieves a connection record by ID. Returns nil if not found.
func (d *DAO) Get(ctx context.Context, connectionID string) (*Connection, error) {
	var conn Connection
	if err := d.table.Get(connectionID).ConsistentRead(true).ScanWithContext(ctx, &conn); err != nil {
		if ddb.IsItemNotFoundError(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to get connection %v: %w", connectionID, err)
	}
	return &conn, nil
}

// Delete removes a connection record by ID. Deleting an absent record is not
// an error.
func (d *DAO) Delete(ctx context.Context, connectionID string) error {
	if err := d.table.Delete(connectionID).RunWithContext(ctx); err != nil {
		return fmt.Errorf("failed to delete connection %v: %w", connectionID, err)
	}
	return nil
}

// ListBySession returns every connection bound to the session using the
// SessionIndex GSI. An empty session id returns no connections without
// touching the table.
func (d *DAO) ListBySession(ctx context.Context, sessionID string) ([]Connection, error) {
	if sessionID == "" {
		return nil, nil
	}

	var conns []Connection
	err := d.table.Query("#SessionID = ?", sessionID).
		IndexName(sessionIndex).
		FindAllWithContext(ctx, &conns)
	if err != nil {
		return nil, fmt.Errorf("failed to query connections by session %v: %w", sessionID, err)
	}
	return conns, nil
}
