package ledger

import (
	"encoding/base64"
	"encoding/json"
	"fmt"
	"strconv"

	"github.com/outlay-dev/outlay/internal/crypto"
)

// CursorCodec issues opaque, replay-safe pagination cursors. A cursor is
// scoped to the caller that received it: presenting it with a different
// caller identity fails verification.
type CursorCodec struct {
	Secret []byte
}

func (c CursorCodec) Encode(caller string, afterSeq int64) string {
	payload := caller + "|" + strconv.FormatInt(afterSeq, 10)
	tag := crypto.MACHex(c.Secret, []byte(payload))
	return base64.RawURLEncoding.EncodeToString([]byte(strconv.FormatInt(afterSeq, 10) + "|" + tag))
}

func (c CursorCodec) Decode(caller, cursor string) (int64, error) {
	raw, err := base64.RawURLEncoding.DecodeString(cursor)
	if err != nil {
		return 0, fmt.Errorf("malformed cursor")
	}
	var afterSeq int64
	var tag string
	if _, err := fmt.Sscanf(string(raw), "%d|%s", &afterSeq, &tag); err != nil {
		return 0, fmt.Errorf("malformed cursor")
	}
	payload := caller + "|" + strconv.FormatInt(afterSeq, 10)
	if !crypto.VerifyMACHex(c.Secret, []byte(payload), tag) {
		return 0, fmt.Errorf("cursor not valid for caller")
	}
	return afterSeq, nil
}

// EvidencePage lists decision IDs recorded on the chain after a cursor
// position, with an opaque cursor for the next page.
type EvidencePage struct {
	DecisionIDs []string
	NextCursor  string
}

// ListEvidencePage pages over decision entries in chain order.
func ListEvidencePage(store Store, shard string, codec CursorCodec, caller, cursor string, limit int) (EvidencePage, error) {
	if limit <= 0 || limit > 100 {
		limit = 100
	}

	var fromSeq int64 = 1
	if cursor != "" {
		afterSeq, err := codec.Decode(caller, cursor)
		if err != nil {
			return EvidencePage{}, err
		}
		fromSeq = afterSeq + 1
	}

	entries, err := store.ListEntriesByKind(shard, "decision", fromSeq, limit)
	if err != nil {
		return EvidencePage{}, err
	}

	page := EvidencePage{DecisionIDs: []string{}}
	for _, e := range entries {
		var payload struct {
			DecisionID string `json:"decision_id"`
		}
		if err := json.Unmarshal(e.Payload, &payload); err != nil {
			return EvidencePage{}, fmt.Errorf("decode entry %d: %w", e.Seq, err)
		}
		page.DecisionIDs = append(page.DecisionIDs, payload.DecisionID)
	}

	if len(entries) == limit {
		page.NextCursor = codec.Encode(caller, entries[len(entries)-1].Seq)
	}
	return page, nil
}
