package pg

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"time"

	"github.com/nextlevelbuilder/famledger/internal/clarify"
)

// PGClarifyStore keeps pending clarifications. Records are keyed by sender
// and consumed with DELETE ... RETURNING so a token redeems at most once.
type PGClarifyStore struct {
	db *sql.DB
}

func NewPGClarifyStore(db *sql.DB) *PGClarifyStore {
	return &PGClarifyStore{db: db}
}

func (s *PGClarifyStore) Save(ctx context.Context, p *clarify.Pending, expiresAt time.Time) error {
	cands, err := json.Marshal(p.Candidates)
	if err != nil {
		return err
	}
	data, err := json.Marshal(p.Data)
	if err != nil {
		return err
	}
	_, err = s.db.ExecContext(ctx,
		`INSERT INTO clarify_pending (token, sender_key, original_text, candidates, data, created_at, expires_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7)
		 ON CONFLICT (sender_key) DO UPDATE
		 SET token = EXCLUDED.token, original_text = EXCLUDED.original_text, candidates = EXCLUDED.candidates,
		     data = EXCLUDED.data, created_at = EXCLUDED.created_at, expires_at = EXCLUDED.expires_at`,
		p.Token, p.SenderKey, p.OriginalText, cands, data, p.CreatedAt, expiresAt,
	)
	return err
}

func (s *PGClarifyStore) Take(ctx context.Context, senderKey, token string) (*clarify.Pending, error) {
	p := &clarify.Pending{SenderKey: senderKey}
	var cands, data []byte
	var expiresAt time.Time
	err := s.db.QueryRowContext(ctx,
		`DELETE FROM clarify_pending
		 WHERE sender_key = $1 AND ($2::text = '' OR token = $2)
		 RETURNING token, original_text, candidates, data, created_at, expires_at`, senderKey, token,
	).Scan(&p.Token, &p.OriginalText, &cands, &data, &p.CreatedAt, &expiresAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, clarify.ErrExpired
	}
	if err != nil {
		return nil, err
	}
	if !time.Now().Before(expiresAt) {
		return nil, clarify.ErrExpired
	}
	if err := json.Unmarshal(cands, &p.Candidates); err != nil {
		return nil, err
	}
	if len(data) > 0 {
		if err := json.Unmarshal(data, &p.Data); err != nil {
			return nil, err
		}
	}
	return p, nil
}
