package ledger

import (
	"fmt"

	"github.com/outlay-dev/outlay/internal/crypto"
	"github.com/outlay-dev/outlay/internal/fault"
)

// VerifyEntries recomputes the hash chain over a contiguous entry slice.
// prevHash is the hash of the entry immediately before the slice, or the
// empty string from genesis.
func VerifyEntries(entries []Entry, prevHash string) error {
	for i, e := range entries {
		if i > 0 && e.Seq != entries[i-1].Seq+1 {
			return fault.Wrap(fault.CodeLedgerCorruption, "sequence gap",
				fmt.Errorf("entry %d follows %d", e.Seq, entries[i-1].Seq))
		}
		if e.PrevHash != prevHash {
			return fault.Wrap(fault.CodeLedgerCorruption, "chain broken",
				fmt.Errorf("entry %d prev hash mismatch", e.Seq))
		}
		if recomputed := crypto.ChainDigest(prevHash, e.Payload); recomputed != e.Hash {
			return fault.Wrap(fault.CodeLedgerCorruption, "entry hash mismatch",
				fmt.Errorf("entry %d stored %s recomputed %s", e.Seq, e.Hash, recomputed))
		}
		prevHash = e.Hash
	}
	return nil
}

// VerifyShard walks a whole shard in pages and returns the entry count and
// tail hash. Reads are lock-free; entries are immutable once written.
func VerifyShard(store Store, shard string) (count int64, tailHash string, err error) {
	const pageSize = 256
	var fromSeq int64 = 1
	prevHash := ""

	for {
		page, err := store.ListEntries(shard, fromSeq, pageSize)
		if err != nil {
			return count, prevHash, err
		}
		if len(page) == 0 {
			return count, prevHash, nil
		}
		if page[0].Seq != fromSeq {
			return count, prevHash, fault.Wrap(fault.CodeLedgerCorruption, "sequence gap",
				fmt.Errorf("expected seq %d, got %d", fromSeq, page[0].Seq))
		}
		if err := VerifyEntries(page, prevHash); err != nil {
			return count, prevHash, err
		}
		count += int64(len(page))
		prevHash = page[len(page)-1].Hash
		fromSeq = page[len(page)-1].Seq + 1
		if len(page) < pageSize {
			return count, prevHash, nil
		}
	}
}
