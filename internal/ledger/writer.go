package ledger

import (
	"errors"
	"sync"
	"time"

	"github.com/outlay-dev/outlay/internal/crypto"
	"github.com/outlay-dev/outlay/internal/fault"
)

// ErrChainConflict is returned by stores when an append does not extend the
// shard tail.
var ErrChainConflict = errors.New("ledger chain conflict")

// Writer is the single appender for one shard. Appends are serialized and
// carry a monotonic sequence number; readers never need the lock because
// persisted entries are immutable. Once corruption is detected the writer
// halts and refuses every further append until the shard is manually
// reconciled.
type Writer struct {
	store Store
	shard string

	mu       sync.Mutex
	last     Entry
	haveTail bool
	halted   bool

	now func() time.Time
}

func NewWriter(store Store, shard string) (*Writer, error) {
	w := &Writer{store: store, shard: shard, now: time.Now}
	last, ok, err := store.LastEntry(shard)
	if err != nil {
		return nil, err
	}
	w.last = last
	w.haveTail = ok
	return w, nil
}

// Append canonicalizes payload and links it to the shard tail.
func (w *Writer) Append(kind string, payload any) (Entry, error) {
	canonical, err := crypto.Canonicalize(payload)
	if err != nil {
		return Entry{}, err
	}

	w.mu.Lock()
	defer w.mu.Unlock()

	if w.halted {
		return Entry{}, fault.New(fault.CodeLedgerCorruption, "ledger shard halted pending reconciliation")
	}

	prevHash := ""
	var seq int64 = 1
	if w.haveTail {
		prevHash = w.last.Hash
		seq = w.last.Seq + 1
	}

	entry := Entry{
		Shard:     w.shard,
		Seq:       seq,
		PrevHash:  prevHash,
		Hash:      crypto.ChainDigest(prevHash, canonical),
		Kind:      kind,
		Payload:   canonical,
		CreatedAt: w.now().UTC().Format(time.RFC3339Nano),
	}

	if err := w.store.AppendEntry(entry); err != nil {
		if errors.Is(err, ErrChainConflict) {
			// Someone or something else moved the tail under us. That is
			// corruption from this writer's point of view: halt the shard.
			w.halted = true
			return Entry{}, fault.Wrap(fault.CodeLedgerCorruption, "ledger shard halted pending reconciliation", err)
		}
		return Entry{}, err
	}

	w.last = entry
	w.haveTail = true
	return entry, nil
}

// Halted reports whether the shard has stopped accepting writes.
func (w *Writer) Halted() bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.halted
}
