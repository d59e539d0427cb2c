package sqlstore

import (
	"context"
	"database/sql"

	_ "modernc.org/sqlite"

	"github.com/outlay-dev/outlay/internal/ledger"
)

type Store struct {
	db *sql.DB
}

func OpenSQLite(dsn string) (*Store, error) {
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, err
	}
	if err := db.Ping(); err != nil {
		_ = db.Close()
		return nil, err
	}
	if _, err := db.Exec("PRAGMA foreign_keys = ON;"); err != nil {
		_ = db.Close()
		return nil, err
	}
	return New(db), nil
}

func New(db *sql.DB) *Store {
	return &Store{db: db}
}

func (s *Store) Close() error {
	return s.db.Close()
}

func (s *Store) DB() *sql.DB {
	return s.db
}

func (s *Store) withTx(fn func(tx *sql.Tx) error) error {
	tx, err := s.db.BeginTx(context.Background(), &sql.TxOptions{})
	if err != nil {
		return err
	}
	if _, err := tx.Exec("PRAGMA foreign_keys = ON;"); err != nil {
		_ = tx.Rollback()
		return err
	}
	if err := fn(tx); err != nil {
		_ = tx.Rollback()
		return err
	}
	return tx.Commit()
}

func (s *Store) PutPolicyVersion(rec ledger.PolicyVersionRecord) error {
	_, err := s.db.Exec(
		`INSERT INTO policy_versions(policy_hash, policy_id, version, statement, body_json, created_at)
VALUES(?,?,?,?,?,?)
ON CONFLICT(policy_hash) DO NOTHING`,
		rec.PolicyHash, rec.PolicyID, rec.Version, rec.Statement, string(rec.BodyJSON), rec.CreatedAt,
	)
	return err
}

func (s *Store) GetPolicyVersion(policyHash string) (ledger.PolicyVersionRecord, bool) {
	var rec ledger.PolicyVersionRecord
	var body string
	row := s.db.QueryRow(`SELECT policy_hash, policy_id, version, statement, body_json, created_at FROM policy_versions WHERE policy_hash = ?`, policyHash)
	if err := row.Scan(&rec.PolicyHash, &rec.PolicyID, &rec.Version, &rec.Statement, &body, &rec.CreatedAt); err != nil {
		return ledger.PolicyVersionRecord{}, false
	}
	rec.BodyJSON = []byte(body)
	return rec, true
}

func (s *Store) SetActivePolicy(policyHash string) error {
	_, err := s.db.Exec(
		`INSERT INTO active_policy(id, policy_hash, updated_at)
VALUES(1, ?, strftime('%Y-%m-%dT%H:%M:%SZ','now'))
ON CONFLICT(id) DO UPDATE SET
  policy_hash=excluded.policy_hash,
  updated_at=excluded.updated_at`,
		policyHash,
	)
	return err
}

func (s *Store) GetActivePolicy() (ledger.PolicyVersionRecord, bool) {
	var policyHash string
	row := s.db.QueryRow(`SELECT policy_hash FROM active_policy WHERE id = 1`)
	if err := row.Scan(&policyHash); err != nil {
		return ledger.PolicyVersionRecord{}, false
	}
	return s.GetPolicyVersion(policyHash)
}

func (s *Store) PutIntent(rec ledger.IntentRecord) error {
	_, err := s.db.Exec(
		`INSERT INTO intents(intent_id, agent_id, client_key, status, body_json, created_at)
VALUES(?,?,?,?,?,?)
ON CONFLICT(intent_id) DO UPDATE SET status=excluded.status`,
		rec.IntentID, rec.AgentID, rec.ClientKey, rec.Status, string(rec.BodyJSON), rec.CreatedAt,
	)
	return err
}

func (s *Store) GetIntent(intentID string) (ledger.IntentRecord, bool) {
	var rec ledger.IntentRecord
	var body string
	row := s.db.QueryRow(`SELECT intent_id, agent_id, client_key, status, body_json, created_at FROM intents WHERE intent_id = ?`, intentID)
	if err := row.Scan(&rec.IntentID, &rec.AgentID, &rec.ClientKey, &rec.Status, &body, &rec.CreatedAt); err != nil {
		return ledger.IntentRecord{}, false
	}
	rec.BodyJSON = []byte(body)
	return rec, true
}

func (s *Store) PutDecision(rec ledger.DecisionRecord) error {
	_, err := s.db.Exec(
		`INSERT INTO decisions(decision_id, intent_id, policy_hash, outcome, body_json, created_at)
VALUES(?,?,?,?,?,?)
ON CONFLICT(decision_id) DO NOTHING`,
		rec.DecisionID, rec.IntentID, rec.PolicyHash, rec.Outcome, string(rec.BodyJSON), rec.CreatedAt,
	)
	return err
}

func (s *Store) GetDecision(decisionID string) (ledger.DecisionRecord, bool) {
	return s.scanDecision(s.db.QueryRow(`SELECT decision_id, intent_id, policy_hash, outcome, body_json, created_at FROM decisions WHERE decision_id = ?`, decisionID))
}

func (s *Store) GetDecisionByIntent(intentID string) (ledger.DecisionRecord, bool) {
	return s.scanDecision(s.db.QueryRow(`SELECT decision_id, intent_id, policy_hash, outcome, body_json, created_at FROM decisions WHERE intent_id = ? ORDER BY created_at DESC LIMIT 1`, intentID))
}

func (s *Store) scanDecision(row *sql.Row) (ledger.DecisionRecord, bool) {
	var rec ledger.DecisionRecord
	var body string
	if err := row.Scan(&rec.DecisionID, &rec.IntentID, &rec.PolicyHash, &rec.Outcome, &body, &rec.CreatedAt); err != nil {
		return ledger.DecisionRecord{}, false
	}
	rec.BodyJSON = []byte(body)
	return rec, true
}

func (s *Store) PutApproval(rec ledger.ApprovalRecord) error {
	_, err := s.db.Exec(
		`INSERT INTO approvals(approval_id, intent_id, decision_id, quorum, status, verdicts_json, created_at, updated_at, expires_at)
VALUES(?,?,?,?,?,?,?,?,?)
ON CONFLICT(approval_id) DO UPDATE SET
  status=excluded.status,
  verdicts_json=excluded.verdicts_json,
  updated_at=excluded.updated_at`,
		rec.ApprovalID, rec.IntentID, rec.DecisionID, rec.Quorum, rec.Status, string(rec.VerdictsJSON), rec.CreatedAt, rec.UpdatedAt, rec.ExpiresAt,
	)
	return err
}

const approvalCols = `approval_id, intent_id, decision_id, quorum, status, verdicts_json, created_at, updated_at, expires_at`

func (s *Store) GetApproval(approvalID string) (ledger.ApprovalRecord, bool) {
	var rec ledger.ApprovalRecord
	var verdicts string
	row := s.db.QueryRow(`SELECT `+approvalCols+` FROM approvals WHERE approval_id = ?`, approvalID)
	if err := row.Scan(&rec.ApprovalID, &rec.IntentID, &rec.DecisionID, &rec.Quorum, &rec.Status, &verdicts, &rec.CreatedAt, &rec.UpdatedAt, &rec.ExpiresAt); err != nil {
		return ledger.ApprovalRecord{}, false
	}
	rec.VerdictsJSON = []byte(verdicts)
	return rec, true
}

func (s *Store) ListApprovalsByIntent(intentID string) ([]ledger.ApprovalRecord, error) {
	rows, err := s.db.Query(`SELECT `+approvalCols+` FROM approvals WHERE intent_id = ? ORDER BY created_at ASC`, intentID)
	if err != nil {
		return nil, err
	}
	return scanApprovals(rows)
}

func (s *Store) ListPendingApprovals() ([]ledger.ApprovalRecord, error) {
	rows, err := s.db.Query(`SELECT ` + approvalCols + ` FROM approvals WHERE status = 'pending' ORDER BY created_at ASC`)
	if err != nil {
		return nil, err
	}
	return scanApprovals(rows)
}

func scanApprovals(rows *sql.Rows) ([]ledger.ApprovalRecord, error) {
	defer rows.Close()
	out := []ledger.ApprovalRecord{}
	for rows.Next() {
		var rec ledger.ApprovalRecord
		var verdicts string
		if err := rows.Scan(&rec.ApprovalID, &rec.IntentID, &rec.DecisionID, &rec.Quorum, &rec.Status, &verdicts, &rec.CreatedAt, &rec.UpdatedAt, &rec.ExpiresAt); err != nil {
			return nil, err
		}
		rec.VerdictsJSON = []byte(verdicts)
		out = append(out, rec)
	}
	return out, rows.Err()
}

func (s *Store) PutOutbox(rec ledger.OutboxRecord) error {
	_, err := s.db.Exec(
		`INSERT INTO outbox(notification_id, approval_id, routing_key, message_json, status, attempt_count, next_attempt_at, last_error, sent_at, created_at, updated_at)
VALUES(?,?,?,?,?,?,?,?,?,?,?)
ON CONFLICT(notification_id) DO UPDATE SET
  status=excluded.status,
  attempt_count=excluded.attempt_count,
  next_attempt_at=excluded.next_attempt_at,
  last_error=excluded.last_error,
  sent_at=excluded.sent_at,
  updated_at=excluded.updated_at`,
		rec.NotificationID, rec.ApprovalID, rec.RoutingKey, string(rec.MessageJSON), rec.Status, rec.AttemptCount, rec.NextAttemptAt, rec.LastError, rec.SentAt, rec.CreatedAt, rec.UpdatedAt,
	)
	return err
}

const outboxCols = `notification_id, approval_id, routing_key, message_json, status, attempt_count, next_attempt_at, last_error, sent_at, created_at, updated_at`

func (s *Store) GetOutbox(notificationID string) (ledger.OutboxRecord, bool) {
	var rec ledger.OutboxRecord
	var msg string
	row := s.db.QueryRow(`SELECT `+outboxCols+` FROM outbox WHERE notification_id = ?`, notificationID)
	if err := row.Scan(&rec.NotificationID, &rec.ApprovalID, &rec.RoutingKey, &msg, &rec.Status, &rec.AttemptCount, &rec.NextAttemptAt, &rec.LastError, &rec.SentAt, &rec.CreatedAt, &rec.UpdatedAt); err != nil {
		return ledger.OutboxRecord{}, false
	}
	rec.MessageJSON = []byte(msg)
	return rec, true
}

func (s *Store) ListOutboxDue(now string, limit int) ([]ledger.OutboxRecord, error) {
	if limit <= 0 {
		limit = 100
	}
	rows, err := s.db.Query(`SELECT `+outboxCols+`
FROM outbox
WHERE status = 'pending' AND next_attempt_at <= ?
ORDER BY next_attempt_at ASC
LIMIT ?`, now, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := []ledger.OutboxRecord{}
	for rows.Next() {
		var rec ledger.OutboxRecord
		var msg string
		if err := rows.Scan(&rec.NotificationID, &rec.ApprovalID, &rec.RoutingKey, &msg, &rec.Status, &rec.AttemptCount, &rec.NextAttemptAt, &rec.LastError, &rec.SentAt, &rec.CreatedAt, &rec.UpdatedAt); err != nil {
			return nil, err
		}
		rec.MessageJSON = []byte(msg)
		out = append(out, rec)
	}
	return out, rows.Err()
}

func (s *Store) PutAttempt(rec ledger.AttemptRecord) error {
	_, err := s.db.Exec(
		`INSERT INTO attempts(attempt_id, idem_key, rail, attempt, status, ref, last_error, created_at)
VALUES(?,?,?,?,?,?,?,?)
ON CONFLICT(attempt_id) DO NOTHING`,
		rec.AttemptID, rec.IdemKey, rec.Rail, rec.Attempt, rec.Status, rec.Ref, rec.LastError, rec.CreatedAt,
	)
	return err
}

func (s *Store) ListAttempts(idemKey string) ([]ledger.AttemptRecord, error) {
	rows, err := s.db.Query(`SELECT attempt_id, idem_key, rail, attempt, status, ref, last_error, created_at FROM attempts WHERE idem_key = ? ORDER BY attempt ASC`, idemKey)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := []ledger.AttemptRecord{}
	for rows.Next() {
		var rec ledger.AttemptRecord
		if err := rows.Scan(&rec.AttemptID, &rec.IdemKey, &rec.Rail, &rec.Attempt, &rec.Status, &rec.Ref, &rec.LastError, &rec.CreatedAt); err != nil {
			return nil, err
		}
		out = append(out, rec)
	}
	return out, rows.Err()
}

func (s *Store) ReserveIdempotencyKey(rec ledger.IdempotencyRecord) (ledger.IdempotencyRecord, bool, error) {
	var existing ledger.IdempotencyRecord
	var reserved bool
	err := s.withTx(func(tx *sql.Tx) error {
		res, err := tx.Exec(
			`INSERT INTO idempotency_keys(idem_key, intent_id, decision_id, status, outcome_json, created_at, updated_at)
VALUES(?,?,?,?,?,?,?)
ON CONFLICT(idem_key) DO NOTHING`,
			rec.IdemKey, rec.IntentID, rec.DecisionID, rec.Status, nullableJSON(rec.OutcomeJSON), rec.CreatedAt, rec.UpdatedAt,
		)
		if err != nil {
			return err
		}
		affected, err := res.RowsAffected()
		if err != nil {
			return err
		}
		if affected > 0 {
			reserved = true
			return nil
		}
		row := tx.QueryRow(`SELECT idem_key, intent_id, decision_id, status, outcome_json, created_at, updated_at FROM idempotency_keys WHERE idem_key = ?`, rec.IdemKey)
		got, ok := scanIdem(row)
		if !ok {
			return sql.ErrNoRows
		}
		existing = got
		return nil
	})
	return existing, reserved, err
}

func (s *Store) UpdateIdempotencyKey(rec ledger.IdempotencyRecord) error {
	_, err := s.db.Exec(
		`UPDATE idempotency_keys SET status = ?, outcome_json = ?, updated_at = ? WHERE idem_key = ?`,
		rec.Status, nullableJSON(rec.OutcomeJSON), rec.UpdatedAt, rec.IdemKey,
	)
	return err
}

func (s *Store) GetIdempotencyKey(idemKey string) (ledger.IdempotencyRecord, bool) {
	return scanIdem(s.db.QueryRow(`SELECT idem_key, intent_id, decision_id, status, outcome_json, created_at, updated_at FROM idempotency_keys WHERE idem_key = ?`, idemKey))
}

func (s *Store) GetIdempotencyByIntent(intentID string) (ledger.IdempotencyRecord, bool) {
	return scanIdem(s.db.QueryRow(`SELECT idem_key, intent_id, decision_id, status, outcome_json, created_at, updated_at FROM idempotency_keys WHERE intent_id = ? ORDER BY created_at DESC LIMIT 1`, intentID))
}

func scanIdem(row *sql.Row) (ledger.IdempotencyRecord, bool) {
	var rec ledger.IdempotencyRecord
	var outcome sql.NullString
	if err := row.Scan(&rec.IdemKey, &rec.IntentID, &rec.DecisionID, &rec.Status, &outcome, &rec.CreatedAt, &rec.UpdatedAt); err != nil {
		return ledger.IdempotencyRecord{}, false
	}
	if outcome.Valid {
		rec.OutcomeJSON = []byte(outcome.String)
	}
	return rec, true
}

func nullableJSON(b []byte) any {
	if len(b) == 0 {
		return nil
	}
	return string(b)
}

func (s *Store) PutTrust(rec ledger.TrustRecord) error {
	_, err := s.db.Exec(
		`INSERT INTO trust_edges(from_agent, to_agent, status, approval_id, created_at, updated_at)
VALUES(?,?,?,?,?,?)
ON CONFLICT(from_agent, to_agent) DO UPDATE SET
  status=excluded.status,
  approval_id=excluded.approval_id,
  updated_at=excluded.updated_at`,
		rec.FromAgent, rec.ToAgent, rec.Status, rec.ApprovalID, rec.CreatedAt, rec.UpdatedAt,
	)
	return err
}

func (s *Store) GetTrust(fromAgent, toAgent string) (ledger.TrustRecord, bool) {
	var rec ledger.TrustRecord
	row := s.db.QueryRow(`SELECT from_agent, to_agent, status, approval_id, created_at, updated_at FROM trust_edges WHERE from_agent = ? AND to_agent = ?`, fromAgent, toAgent)
	if err := row.Scan(&rec.FromAgent, &rec.ToAgent, &rec.Status, &rec.ApprovalID, &rec.CreatedAt, &rec.UpdatedAt); err != nil {
		return ledger.TrustRecord{}, false
	}
	return rec, true
}

func (s *Store) AppendEntry(e ledger.Entry) error {
	return s.withTx(func(tx *sql.Tx) error {
		var tailSeq int64
		var tailHash string
		row := tx.QueryRow(`SELECT seq, hash FROM chain_entries WHERE shard = ? ORDER BY seq DESC LIMIT 1`, e.Shard)
		switch err := row.Scan(&tailSeq, &tailHash); err {
		case nil:
			if e.Seq != tailSeq+1 || e.PrevHash != tailHash {
				return ledger.ErrChainConflict
			}
		case sql.ErrNoRows:
			if e.Seq != 1 || e.PrevHash != "" {
				return ledger.ErrChainConflict
			}
		default:
			return err
		}
		_, err := tx.Exec(
			`INSERT INTO chain_entries(shard, seq, prev_hash, hash, kind, payload, created_at)
VALUES(?,?,?,?,?,?,?)`,
			e.Shard, e.Seq, e.PrevHash, e.Hash, e.Kind, string(e.Payload), e.CreatedAt,
		)
		return err
	})
}

const entryCols = `shard, seq, prev_hash, hash, kind, payload, created_at`

func (s *Store) LastEntry(shard string) (ledger.Entry, bool, error) {
	row := s.db.QueryRow(`SELECT `+entryCols+` FROM chain_entries WHERE shard = ? ORDER BY seq DESC LIMIT 1`, shard)
	var e ledger.Entry
	var payload string
	if err := row.Scan(&e.Shard, &e.Seq, &e.PrevHash, &e.Hash, &e.Kind, &payload, &e.CreatedAt); err != nil {
		if err == sql.ErrNoRows {
			return ledger.Entry{}, false, nil
		}
		return ledger.Entry{}, false, err
	}
	e.Payload = []byte(payload)
	return e, true, nil
}

func (s *Store) ListEntries(shard string, fromSeq int64, limit int) ([]ledger.Entry, error) {
	if limit <= 0 {
		limit = 100
	}
	rows, err := s.db.Query(`SELECT `+entryCols+` FROM chain_entries WHERE shard = ? AND seq >= ? ORDER BY seq ASC LIMIT ?`, shard, fromSeq, limit)
	if err != nil {
		return nil, err
	}
	return scanEntries(rows)
}

func (s *Store) ListEntriesByKind(shard, kind string, fromSeq int64, limit int) ([]ledger.Entry, error) {
	if limit <= 0 {
		limit = 100
	}
	rows, err := s.db.Query(`SELECT `+entryCols+` FROM chain_entries WHERE shard = ? AND kind = ? AND seq >= ? ORDER BY seq ASC LIMIT ?`, shard, kind, fromSeq, limit)
	if err != nil {
		return nil, err
	}
	return scanEntries(rows)
}

func scanEntries(rows *sql.Rows) ([]ledger.Entry, error) {
	defer rows.Close()
	out := []ledger.Entry{}
	for rows.Next() {
		var e ledger.Entry
		var payload string
		if err := rows.Scan(&e.Shard, &e.Seq, &e.PrevHash, &e.Hash, &e.Kind, &payload, &e.CreatedAt); err != nil {
			return nil, err
		}
		e.Payload = []byte(payload)
		out = append(out, e)
	}
	return out, rows.Err()
}
