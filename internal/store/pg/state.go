package pg

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"time"

	"github.com/nextlevelbuilder/famledger/internal/convstate"
)

// PGStateStore is the durable conversation-state tier for registered senders.
type PGStateStore struct {
	db *sql.DB
}

func NewPGStateStore(db *sql.DB) *PGStateStore {
	return &PGStateStore{db: db}
}

func (s *PGStateStore) Get(ctx context.Context, key string) (*convstate.ConversationState, error) {
	st := &convstate.ConversationState{Key: key}
	err := inTenant(ctx, s.db, func(tx *sql.Tx, tenantID string) error {
		var state string
		var pending []byte
		err := tx.QueryRowContext(ctx,
			`SELECT state, last_entity_id, pending, message_count, updated_at
			 FROM conversation_states WHERE tenant_id = $1 AND key = $2`, tenantID, key,
		).Scan(&state, &st.LastEntityID, &pending, &st.MessageCount, &st.UpdatedAt)
		if err != nil {
			return err
		}
		st.State = convstate.State(state)
		if len(pending) > 0 && string(pending) != "null" {
			st.Pending = &convstate.PendingConfirmation{}
			return json.Unmarshal(pending, st.Pending)
		}
		return nil
	})
	if errors.Is(err, sql.ErrNoRows) {
		return nil, convstate.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return st, nil
}

func (s *PGStateStore) Put(ctx context.Context, st *convstate.ConversationState) error {
	var pending []byte
	if st.Pending != nil {
		var err error
		if pending, err = json.Marshal(st.Pending); err != nil {
			return err
		}
	}
	st.UpdatedAt = time.Now().UTC()
	return inTenant(ctx, s.db, func(tx *sql.Tx, tenantID string) error {
		_, err := tx.ExecContext(ctx,
			`INSERT INTO conversation_states (tenant_id, key, state, last_entity_id, pending, message_count, updated_at)
			 VALUES ($1, $2, $3, $4, $5, $6, $7)
			 ON CONFLICT (tenant_id, key) DO UPDATE
			 SET state = EXCLUDED.state, last_entity_id = EXCLUDED.last_entity_id, pending = EXCLUDED.pending,
			     message_count = EXCLUDED.message_count, updated_at = EXCLUDED.updated_at`,
			tenantID, st.Key, string(st.State), st.LastEntityID, pending, st.MessageCount, st.UpdatedAt,
		)
		return err
	})
}

func (s *PGStateStore) Delete(ctx context.Context, key string) error {
	return inTenant(ctx, s.db, func(tx *sql.Tx, tenantID string) error {
		_, err := tx.ExecContext(ctx, `DELETE FROM conversation_states WHERE tenant_id = $1 AND key = $2`, tenantID, key)
		return err
	})
}
