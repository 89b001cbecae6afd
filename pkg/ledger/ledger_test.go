package ledger

import (
	"sync"
	"testing"
)

func TestAccountLazyCreation(t *testing.T) {
	l := New("platform-a")
	a := l.Account("lct:alice")
	if a.Total() != 0 || a.Locked() != 0 {
		t.Fatalf("expected empty account, got total=%d locked=%d", a.Total(), a.Locked())
	}
	if l.Account("lct:alice") != a {
		t.Fatal("expected same account instance on second reference")
	}
}

func TestAccountLockUnlockDeductCredit(t *testing.T) {
	a := NewAccount("lct:alice", 100)

	if a.Lock(150) {
		t.Fatal("lock beyond available should fail")
	}
	if !a.Lock(60) {
		t.Fatal("lock within available should succeed")
	}
	if a.Available() != 40 {
		t.Fatalf("expected available 40, got %d", a.Available())
	}
	if a.Unlock(100) {
		t.Fatal("unlock beyond locked should fail")
	}
	if !a.Deduct(60) {
		t.Fatal("deduct of locked amount should succeed")
	}
	if a.Total() != 40 || a.Locked() != 0 {
		t.Fatalf("expected total 40 locked 0, got total=%d locked=%d", a.Total(), a.Locked())
	}
	if a.Credit(0) {
		t.Fatal("zero credit should fail")
	}
	if !a.Credit(10) || a.Total() != 50 {
		t.Fatalf("expected total 50 after credit, got %d", a.Total())
	}
}

func TestLocalTransferConservation(t *testing.T) {
	l := New("platform-a")
	l.Fund("lct:alice", 100)
	l.Fund("lct:bob", 30)
	before := l.TotalBalance()

	if !l.LocalTransfer("lct:alice", "lct:bob", 70) {
		t.Fatal("transfer within balance should succeed")
	}
	if l.LocalTransfer("lct:alice", "lct:bob", 70) {
		t.Fatal("transfer beyond balance should fail")
	}
	if l.TotalBalance() != before {
		t.Fatalf("conservation violated: before=%d after=%d", before, l.TotalBalance())
	}
	if got := l.Account("lct:bob").Total(); got != 100 {
		t.Fatalf("expected bob at 100, got %d", got)
	}
}

func TestLocalTransferRejectsSelfAndNonPositive(t *testing.T) {
	l := New("platform-a")
	l.Fund("lct:alice", 100)
	if l.LocalTransfer("lct:alice", "lct:alice", 10) {
		t.Fatal("self transfer should fail")
	}
	if l.LocalTransfer("lct:alice", "lct:bob", 0) {
		t.Fatal("zero transfer should fail")
	}
	if l.LocalTransfer("lct:alice", "lct:bob", -5) {
		t.Fatal("negative transfer should fail")
	}
}

func TestCrossBoundaryTransferHappyPath(t *testing.T) {
	src := New("platform-a")
	dst := New("platform-b")
	src.Fund("lct:alice", 100)

	id, ok := src.Initiate("lct:alice", "platform-b", "lct:bob", 100)
	if !ok {
		t.Fatal("initiate should succeed")
	}
	if avail := src.Account("lct:alice").Available(); avail != 0 {
		t.Fatalf("expected available 0 after lock, got %d", avail)
	}

	if !dst.Commit(id, "platform-a", "lct:alice", "lct:bob", 100) {
		t.Fatal("destination commit should succeed")
	}
	if got := dst.Account("lct:bob").Total(); got != 100 {
		t.Fatalf("expected destination credited 100, got %d", got)
	}

	if !src.Finalize(id) {
		t.Fatal("finalize should succeed")
	}
	a := src.Account("lct:alice")
	if a.Total() != 0 || a.Locked() != 0 {
		t.Fatalf("expected source drained, got total=%d locked=%d", a.Total(), a.Locked())
	}

	// Terminated: rollback on the same id must fail with no mutation.
	if src.Rollback(id, "late timeout") {
		t.Fatal("rollback after finalize must fail")
	}
}

func TestCommitRejectsRedelivery(t *testing.T) {
	dst := New("platform-b")

	if !dst.Commit("xfer-1", "platform-a", "lct:alice", "lct:bob", 100) {
		t.Fatal("first commit should succeed")
	}
	// A redelivered commit for the same transfer id must not credit again.
	if dst.Commit("xfer-1", "platform-a", "lct:alice", "lct:bob", 100) {
		t.Fatal("duplicate commit must fail")
	}
	if got := dst.Account("lct:bob").Total(); got != 100 {
		t.Fatalf("expected a single credit of 100, got %d", got)
	}
	if n := len(dst.History()); n != 1 {
		t.Fatalf("expected one history entry, got %d", n)
	}

	if dst.Commit("", "platform-a", "lct:alice", "lct:bob", 100) {
		t.Fatal("commit without a transfer id must fail")
	}
}

func TestRollbackReleasesLock(t *testing.T) {
	src := New("platform-a")
	src.Fund("lct:alice", 100)

	id, _ := src.Initiate("lct:alice", "platform-b", "lct:bob", 80)
	if !src.Rollback(id, "destination unreachable") {
		t.Fatal("rollback of pending transfer should succeed")
	}
	if avail := src.Account("lct:alice").Available(); avail != 100 {
		t.Fatalf("expected available restored to 100, got %d", avail)
	}
	if src.Rollback(id, "again") {
		t.Fatal("second rollback must fail")
	}
	if src.Finalize(id) {
		t.Fatal("finalize after rollback must fail")
	}
}

func TestFinalizeIdempotentTermination(t *testing.T) {
	src := New("platform-a")
	src.Fund("lct:alice", 100)

	id, _ := src.Initiate("lct:alice", "platform-b", "lct:bob", 40)
	if !src.Finalize(id) {
		t.Fatal("first finalize should succeed")
	}
	if src.Finalize(id) {
		t.Fatal("second finalize must fail")
	}
	if src.Finalize("no-such-id") {
		t.Fatal("finalize of unknown id must fail")
	}
	if got := src.Account("lct:alice").Total(); got != 60 {
		t.Fatalf("expected total 60 after single settlement, got %d", got)
	}
}

func TestInitiateRejectsBadAmounts(t *testing.T) {
	src := New("platform-a")
	src.Fund("lct:alice", 10)
	if _, ok := src.Initiate("lct:alice", "b", "lct:bob", 0); ok {
		t.Fatal("zero amount should fail")
	}
	if _, ok := src.Initiate("lct:alice", "b", "lct:bob", 11); ok {
		t.Fatal("amount beyond available should fail")
	}
}

func TestConcurrentFinalizeSettlesOnce(t *testing.T) {
	src := New("platform-a")
	src.Fund("lct:alice", 100)
	id, _ := src.Initiate("lct:alice", "platform-b", "lct:bob", 100)

	var wg sync.WaitGroup
	results := make(chan bool, 16)
	for i := 0; i < 16; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			results <- src.Finalize(id)
		}()
	}
	wg.Wait()
	close(results)

	successes := 0
	for ok := range results {
		if ok {
			successes++
		}
	}
	if successes != 1 {
		t.Fatalf("expected exactly one successful finalize, got %d", successes)
	}
	if got := src.Account("lct:alice").Total(); got != 0 {
		t.Fatalf("expected total 0, got %d", got)
	}
}

func TestHistoryRecordsTerminatedTransfers(t *testing.T) {
	src := New("platform-a")
	src.Fund("lct:alice", 100)

	id1, _ := src.Initiate("lct:alice", "b", "lct:bob", 30)
	id2, _ := src.Initiate("lct:alice", "b", "lct:bob", 30)
	src.Finalize(id1)
	src.Rollback(id2, "timeout")

	hist := src.History()
	if len(hist) != 2 {
		t.Fatalf("expected 2 history entries, got %d", len(hist))
	}
	if hist[0].Phase != PhaseComplete || hist[1].Phase != PhaseRollback {
		t.Fatalf("unexpected phases: %s, %s", hist[0].Phase, hist[1].Phase)
	}
	if _, ok := src.Pending(id1); ok {
		t.Fatal("terminated transfer must leave the pending map")
	}
}
