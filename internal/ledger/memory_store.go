package ledger

import "sync"

// MemoryStore is the in-memory Store used by tests and single-process dev
// runs. All methods are safe for concurrent use.
type MemoryStore struct {
	mu sync.Mutex

	policies     map[string]PolicyVersionRecord
	activePolicy string

	intents   map[string]IntentRecord
	decisions map[string]DecisionRecord
	approvals map[string]ApprovalRecord
	outbox    map[string]OutboxRecord
	attempts  map[string][]AttemptRecord
	idem      map[string]IdempotencyRecord
	trust     map[string]TrustRecord

	entries map[string][]Entry
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		policies:  map[string]PolicyVersionRecord{},
		intents:   map[string]IntentRecord{},
		decisions: map[string]DecisionRecord{},
		approvals: map[string]ApprovalRecord{},
		outbox:    map[string]OutboxRecord{},
		attempts:  map[string][]AttemptRecord{},
		idem:      map[string]IdempotencyRecord{},
		trust:     map[string]TrustRecord{},
		entries:   map[string][]Entry{},
	}
}

func (s *MemoryStore) PutPolicyVersion(rec PolicyVersionRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.policies[rec.PolicyHash] = rec
	return nil
}

func (s *MemoryStore) GetPolicyVersion(policyHash string) (PolicyVersionRecord, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	rec, ok := s.policies[policyHash]
	return rec, ok
}

func (s *MemoryStore) SetActivePolicy(policyHash string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.activePolicy = policyHash
	return nil
}

func (s *MemoryStore) GetActivePolicy() (PolicyVersionRecord, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.activePolicy == "" {
		return PolicyVersionRecord{}, false
	}
	rec, ok := s.policies[s.activePolicy]
	return rec, ok
}

func (s *MemoryStore) PutIntent(rec IntentRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.intents[rec.IntentID] = rec
	return nil
}

func (s *MemoryStore) GetIntent(intentID string) (IntentRecord, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	rec, ok := s.intents[intentID]
	return rec, ok
}

func (s *MemoryStore) PutDecision(rec DecisionRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.decisions[rec.DecisionID] = rec
	return nil
}

func (s *MemoryStore) GetDecision(decisionID string) (DecisionRecord, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	rec, ok := s.decisions[decisionID]
	return rec, ok
}

func (s *MemoryStore) GetDecisionByIntent(intentID string) (DecisionRecord, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, rec := range s.decisions {
		if rec.IntentID == intentID {
			return rec, true
		}
	}
	return DecisionRecord{}, false
}

func (s *MemoryStore) PutApproval(rec ApprovalRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.approvals[rec.ApprovalID] = rec
	return nil
}

func (s *MemoryStore) GetApproval(approvalID string) (ApprovalRecord, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	rec, ok := s.approvals[approvalID]
	return rec, ok
}

func (s *MemoryStore) ListApprovalsByIntent(intentID string) ([]ApprovalRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := []ApprovalRecord{}
	for _, rec := range s.approvals {
		if rec.IntentID == intentID {
			out = append(out, rec)
		}
	}
	sortApprovals(out)
	return out, nil
}

func (s *MemoryStore) ListPendingApprovals() ([]ApprovalRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := []ApprovalRecord{}
	for _, rec := range s.approvals {
		if rec.Status == "pending" {
			out = append(out, rec)
		}
	}
	sortApprovals(out)
	return out, nil
}

func sortApprovals(recs []ApprovalRecord) {
	for i := 1; i < len(recs); i++ {
		for j := i; j > 0 && recs[j].CreatedAt < recs[j-1].CreatedAt; j-- {
			recs[j], recs[j-1] = recs[j-1], recs[j]
		}
	}
}

func (s *MemoryStore) PutOutbox(rec OutboxRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.outbox[rec.NotificationID] = rec
	return nil
}

func (s *MemoryStore) GetOutbox(notificationID string) (OutboxRecord, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	rec, ok := s.outbox[notificationID]
	return rec, ok
}

func (s *MemoryStore) ListOutboxDue(now string, limit int) ([]OutboxRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := []OutboxRecord{}
	for _, rec := range s.outbox {
		if rec.Status == "pending" && rec.NextAttemptAt <= now {
			out = append(out, rec)
		}
	}
	for i := 1; i < len(out); i++ {
		for j := i; j > 0 && out[j].NextAttemptAt < out[j-1].NextAttemptAt; j-- {
			out[j], out[j-1] = out[j-1], out[j]
		}
	}
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (s *MemoryStore) PutAttempt(rec AttemptRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.attempts[rec.IdemKey] = append(s.attempts[rec.IdemKey], rec)
	return nil
}

func (s *MemoryStore) ListAttempts(idemKey string) ([]AttemptRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]AttemptRecord, len(s.attempts[idemKey]))
	copy(out, s.attempts[idemKey])
	return out, nil
}

func (s *MemoryStore) ReserveIdempotencyKey(rec IdempotencyRecord) (IdempotencyRecord, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if existing, ok := s.idem[rec.IdemKey]; ok {
		return existing, false, nil
	}
	s.idem[rec.IdemKey] = rec
	return IdempotencyRecord{}, true, nil
}

func (s *MemoryStore) UpdateIdempotencyKey(rec IdempotencyRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.idem[rec.IdemKey] = rec
	return nil
}

func (s *MemoryStore) GetIdempotencyKey(idemKey string) (IdempotencyRecord, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	rec, ok := s.idem[idemKey]
	return rec, ok
}

func (s *MemoryStore) GetIdempotencyByIntent(intentID string) (IdempotencyRecord, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, rec := range s.idem {
		if rec.IntentID == intentID {
			return rec, true
		}
	}
	return IdempotencyRecord{}, false
}

func (s *MemoryStore) PutTrust(rec TrustRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.trust[rec.FromAgent+"\x00"+rec.ToAgent] = rec
	return nil
}

func (s *MemoryStore) GetTrust(fromAgent, toAgent string) (TrustRecord, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	rec, ok := s.trust[fromAgent+"\x00"+toAgent]
	return rec, ok
}

func (s *MemoryStore) AppendEntry(e Entry) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	chain := s.entries[e.Shard]
	if len(chain) == 0 {
		if e.Seq != 1 || e.PrevHash != "" {
			return ErrChainConflict
		}
	} else {
		tail := chain[len(chain)-1]
		if e.Seq != tail.Seq+1 || e.PrevHash != tail.Hash {
			return ErrChainConflict
		}
	}
	s.entries[e.Shard] = append(chain, e)
	return nil
}

func (s *MemoryStore) LastEntry(shard string) (Entry, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	chain := s.entries[shard]
	if len(chain) == 0 {
		return Entry{}, false, nil
	}
	return chain[len(chain)-1], true, nil
}

func (s *MemoryStore) ListEntries(shard string, fromSeq int64, limit int) ([]Entry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := []Entry{}
	for _, e := range s.entries[shard] {
		if e.Seq >= fromSeq {
			out = append(out, e)
			if limit > 0 && len(out) == limit {
				break
			}
		}
	}
	return out, nil
}

func (s *MemoryStore) ListEntriesByKind(shard, kind string, fromSeq int64, limit int) ([]Entry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := []Entry{}
	for _, e := range s.entries[shard] {
		if e.Seq >= fromSeq && e.Kind == kind {
			out = append(out, e)
			if limit > 0 && len(out) == limit {
				break
			}
		}
	}
	return out, nil
}

// TamperEntry rewrites a stored entry's payload in place. Test hook for
// exercising corruption detection; not part of Store.
func (s *MemoryStore) TamperEntry(shard string, seq int64, payload []byte) {
	s.mu.Lock()
	defer s.mu.Unlock()
	chain := s.entries[shard]
	for i := range chain {
		if chain[i].Seq == seq {
			chain[i].Payload = payload
			return
		}
	}
}
