package infra

import (
	"context"
	"sort"
	"sync"
	"testing"
	"time"

	"keyslot-gateway/middleware/keyslot/domain"
)

func waitForWaiting(t *testing.T, pool *Pool, want int) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if pool.Snapshot(domain.StatusQuery{}).WaitingJobs == want {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("timeout waiting for %d queued waiters", want)
}

func TestNewPool_RejectsInvalidConfig(t *testing.T) {
	if _, err := NewPool(0, time.Second); err == nil {
		t.Fatalf("expected error for totalKeys=0")
	}
	if _, err := NewPool(3, -time.Second); err == nil {
		t.Fatalf("expected error for negative cooldown")
	}
	if _, err := NewPool(1, 0); err != nil {
		t.Fatalf("expected valid config, got %v", err)
	}
}

func TestAcquire_ConcurrentCallersGetDistinctSlots(t *testing.T) {
	const total = 4
	pool, err := NewPool(total, 0)
	if err != nil {
		t.Fatalf("NewPool: %v", err)
	}

	var mu sync.Mutex
	var got []int
	var wg sync.WaitGroup

	for i := 0; i < total; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			slot, err := pool.Acquire(context.Background(), domain.AcquireRequest{TaskType: "test"})
			if err != nil {
				t.Errorf("Acquire: %v", err)
				return
			}
			mu.Lock()
			got = append(got, slot)
			mu.Unlock()
		}()
	}
	wg.Wait()

	sort.Ints(got)
	if len(got) != total {
		t.Fatalf("expected %d slots, got %d", total, len(got))
	}
	for i, slot := range got {
		if slot != i+1 {
			t.Fatalf("expected slots 1..%d exactly once, got %v", total, got)
		}
	}
}

func TestAcquire_FIFOAndRotation(t *testing.T) {
	pool, err := NewPool(2, 0)
	if err != nil {
		t.Fatalf("NewPool: %v", err)
	}

	first, err := pool.Acquire(context.Background(), domain.AcquireRequest{TaskType: "test", TaskID: "job-1"})
	if err != nil || first != 1 {
		t.Fatalf("expected slot 1, got %d (%v)", first, err)
	}
	second, err := pool.Acquire(context.Background(), domain.AcquireRequest{TaskType: "test", TaskID: "job-2"})
	if err != nil || second != 2 {
		t.Fatalf("expected slot 2, got %d (%v)", second, err)
	}

	var mu sync.Mutex
	var served []struct {
		job  string
		slot int
	}
	var wg sync.WaitGroup

	enqueue := func(jobID string) {
		wg.Add(1)
		go func() {
			defer wg.Done()
			slot, err := pool.Acquire(context.Background(), domain.AcquireRequest{TaskType: "test", TaskID: jobID})
			if err != nil {
				t.Errorf("Acquire %s: %v", jobID, err)
				return
			}
			mu.Lock()
			served = append(served, struct {
				job  string
				slot int
			}{jobID, slot})
			mu.Unlock()
		}()
	}

	// ordem de chegada: job-3 antes de job-4
	enqueue("job-3")
	waitForWaiting(t, pool, 1)
	enqueue("job-4")
	waitForWaiting(t, pool, 2)

	if !pool.Release(first) {
		t.Fatalf("expected Release(%d) to return true", first)
	}
	// espera job-3 ser servido antes de liberar o segundo slot
	waitForWaiting(t, pool, 1)
	if !pool.Release(second) {
		t.Fatalf("expected Release(%d) to return true", second)
	}
	wg.Wait()

	if len(served) != 2 {
		t.Fatalf("expected 2 served waiters, got %d", len(served))
	}
	// FIFO: job-3 primeiro; rodízio: continua do último atribuído, com wrap
	if served[0].job != "job-3" || served[0].slot != 1 {
		t.Fatalf("expected job-3 on slot 1, got %+v", served[0])
	}
	if served[1].job != "job-4" || served[1].slot != 2 {
		t.Fatalf("expected job-4 on slot 2, got %+v", served[1])
	}
}

func TestAcquire_RotatesThroughAllSlots(t *testing.T) {
	pool, err := NewPool(3, 0)
	if err != nil {
		t.Fatalf("NewPool: %v", err)
	}

	want := []int{1, 2, 3, 1, 2, 3}
	for i, expected := range want {
		slot, err := pool.Acquire(context.Background(), domain.AcquireRequest{TaskType: "test"})
		if err != nil {
			t.Fatalf("Acquire #%d: %v", i, err)
		}
		if slot != expected {
			t.Fatalf("acquire #%d: expected slot %d, got %d", i, expected, slot)
		}
		if !pool.Release(slot) {
			t.Fatalf("Release(%d) returned false", slot)
		}
	}
}

func TestAcquire_CooldownBlocksReassignment(t *testing.T) {
	cooldown := 300 * time.Millisecond
	pool, err := NewPool(1, cooldown)
	if err != nil {
		t.Fatalf("NewPool: %v", err)
	}

	slot, err := pool.Acquire(context.Background(), domain.AcquireRequest{TaskType: "test", TaskID: "job-1"})
	if err != nil {
		t.Fatalf("Acquire: %v", err)
	}
	pool.Release(slot)

	startedAt := time.Now()
	reassigned, err := pool.Acquire(context.Background(), domain.AcquireRequest{TaskType: "test", TaskID: "job-2"})
	elapsed := time.Since(startedAt)
	if err != nil {
		t.Fatalf("Acquire after release: %v", err)
	}
	if reassigned != 1 {
		t.Fatalf("expected slot 1 again, got %d", reassigned)
	}
	if elapsed < cooldown-50*time.Millisecond {
		t.Fatalf("expected to wait ~%s for cooldown, waited %s", cooldown, elapsed)
	}
}

func TestReleaseByLease_EquivalentToRelease(t *testing.T) {
	pool, err := NewPool(1, 0)
	if err != nil {
		t.Fatalf("NewPool: %v", err)
	}

	slot, err := pool.Acquire(context.Background(), domain.AcquireRequest{
		TaskType: "curriculum_generation",
		TaskID:   "curr-1",
		LeaseKey: "curr-1",
	})
	if err != nil || slot != 1 {
		t.Fatalf("expected slot 1, got %d (%v)", slot, err)
	}

	if !pool.ReleaseByLease("curr-1") {
		t.Fatalf("expected ReleaseByLease to return true")
	}
	// lease consumida: segunda chamada não acha nada
	if pool.ReleaseByLease("curr-1") {
		t.Fatalf("expected second ReleaseByLease to return false")
	}

	next, err := pool.Acquire(context.Background(), domain.AcquireRequest{TaskType: "test", TaskID: "job-2"})
	if err != nil || next != 1 {
		t.Fatalf("expected slot 1 after lease release, got %d (%v)", next, err)
	}
}

func TestRelease_IsIdempotent(t *testing.T) {
	pool, err := NewPool(2, 0)
	if err != nil {
		t.Fatalf("NewPool: %v", err)
	}

	if pool.Release(0) {
		t.Fatalf("expected false for out-of-range slot 0")
	}
	if pool.Release(3) {
		t.Fatalf("expected false for out-of-range slot 3")
	}
	// slot pronto, não ocupado
	if pool.Release(1) {
		t.Fatalf("expected false for ready slot")
	}

	slot, err := pool.Acquire(context.Background(), domain.AcquireRequest{TaskType: "test"})
	if err != nil {
		t.Fatalf("Acquire: %v", err)
	}
	if !pool.Release(slot) {
		t.Fatalf("expected first Release to return true")
	}
	if pool.Release(slot) {
		t.Fatalf("expected double Release to return false")
	}
}

func TestAcquire_CancelledWaiterLeavesQueueClean(t *testing.T) {
	pool, err := NewPool(1, 0)
	if err != nil {
		t.Fatalf("NewPool: %v", err)
	}

	holder, err := pool.Acquire(context.Background(), domain.AcquireRequest{TaskType: "test", TaskID: "job-1"})
	if err != nil {
		t.Fatalf("Acquire: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	waitErr := make(chan error, 1)
	go func() {
		_, err := pool.Acquire(ctx, domain.AcquireRequest{TaskType: "test", TaskID: "job-2"})
		waitErr <- err
	}()

	waitForWaiting(t, pool, 1)
	cancel()

	select {
	case err := <-waitErr:
		if err != context.Canceled {
			t.Fatalf("expected context.Canceled, got %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatalf("timeout waiting cancelled Acquire to return")
	}

	snap := pool.Snapshot(domain.StatusQuery{})
	if snap.WaitingJobs != 0 {
		t.Fatalf("expected empty queue after cancellation, got %d", snap.WaitingJobs)
	}
	if !pool.Release(holder) {
		t.Fatalf("expected Release to succeed after cancellation")
	}
}

func TestAcquire_CancelledHeadDoesNotBlockLaterWaiter(t *testing.T) {
	pool, err := NewPool(1, 0)
	if err != nil {
		t.Fatalf("NewPool: %v", err)
	}

	holder, err := pool.Acquire(context.Background(), domain.AcquireRequest{TaskType: "test", TaskID: "job-1"})
	if err != nil {
		t.Fatalf("Acquire: %v", err)
	}

	headCtx, cancelHead := context.WithCancel(context.Background())
	headErr := make(chan error, 1)
	go func() {
		_, err := pool.Acquire(headCtx, domain.AcquireRequest{TaskType: "test", TaskID: "job-2"})
		headErr <- err
	}()
	waitForWaiting(t, pool, 1)

	laterSlot := make(chan int, 1)
	go func() {
		slot, err := pool.Acquire(context.Background(), domain.AcquireRequest{TaskType: "test", TaskID: "job-3"})
		if err != nil {
			t.Errorf("later Acquire: %v", err)
			return
		}
		laterSlot <- slot
	}()
	waitForWaiting(t, pool, 2)

	// cancela a cabeça da fila: job-3 vira cabeça e não pode ficar preso
	cancelHead()
	if err := <-headErr; err != context.Canceled {
		t.Fatalf("expected context.Canceled for head, got %v", err)
	}

	pool.Release(holder)

	select {
	case slot := <-laterSlot:
		if slot != 1 {
			t.Fatalf("expected slot 1 for later waiter, got %d", slot)
		}
	case <-time.After(2 * time.Second):
		t.Fatalf("later waiter starved after head cancellation")
	}
}

func TestSnapshot_CountsSumToTotal(t *testing.T) {
	pool, err := NewPool(3, time.Minute)
	if err != nil {
		t.Fatalf("NewPool: %v", err)
	}

	check := func(stage string) domain.Snapshot {
		snap := pool.Snapshot(domain.StatusQuery{})
		sum := snap.AvailableKeys + snap.BusyKeys + snap.CooldownKeys
		if sum != snap.TotalKeys {
			t.Fatalf("%s: counts sum %d != total %d", stage, sum, snap.TotalKeys)
		}
		return snap
	}

	check("all ready")

	first, _ := pool.Acquire(context.Background(), domain.AcquireRequest{TaskType: "test", TaskID: "job-1"})
	second, _ := pool.Acquire(context.Background(), domain.AcquireRequest{TaskType: "test", TaskID: "job-2"})
	snap := check("two busy")
	if snap.BusyKeys != 2 || snap.AvailableKeys != 1 {
		t.Fatalf("expected 2 busy / 1 ready, got %+v", snap)
	}

	pool.Release(first)
	snap = check("one cooling")
	if snap.CooldownKeys != 1 {
		t.Fatalf("expected 1 cooldown slot, got %+v", snap)
	}

	var cooling *domain.SlotInfo
	for i := range snap.Slots {
		if snap.Slots[i].Status == domain.StatusCooldown {
			cooling = &snap.Slots[i]
		}
	}
	if cooling == nil {
		t.Fatalf("expected a cooldown slot in detail list")
	}
	if cooling.SlotNumber != first {
		t.Fatalf("expected slot %d cooling, got %d", first, cooling.SlotNumber)
	}
	if cooling.CooldownRemainingSeconds <= 0 || cooling.CooldownRemainingSeconds > 60 {
		t.Fatalf("unexpected cooldown remaining: %d", cooling.CooldownRemainingSeconds)
	}
	if cooling.CurrentTaskID != "" {
		t.Fatalf("expected occupant cleared on release, got %q", cooling.CurrentTaskID)
	}

	_ = second
}

func TestSnapshot_QueuePositionAndOccupant(t *testing.T) {
	pool, err := NewPool(1, time.Minute)
	if err != nil {
		t.Fatalf("NewPool: %v", err)
	}

	_, err = pool.Acquire(context.Background(), domain.AcquireRequest{TaskType: "curriculum_generation", TaskID: "curr-1"})
	if err != nil {
		t.Fatalf("Acquire: %v", err)
	}

	go func() {
		_, _ = pool.Acquire(context.Background(), domain.AcquireRequest{TaskType: "test", TaskID: "job-2"})
	}()
	waitForWaiting(t, pool, 1)

	// quem espera aparece com posição 1-based
	snap := pool.Snapshot(domain.StatusQuery{TaskID: "job-2"})
	if snap.MyStatus != domain.MyStatusWaiting {
		t.Fatalf("expected waiting, got %q", snap.MyStatus)
	}
	if snap.MyPosition == nil || *snap.MyPosition != 1 {
		t.Fatalf("expected position 1, got %v", snap.MyPosition)
	}

	// ocupante de slot busy aparece como processing
	snap = pool.Snapshot(domain.StatusQuery{TaskID: "curr-1", TaskType: "curriculum_generation"})
	if snap.MyStatus != domain.MyStatusProcessing {
		t.Fatalf("expected processing, got %q", snap.MyStatus)
	}
	if snap.MyPosition != nil {
		t.Fatalf("expected nil position for occupant, got %d", *snap.MyPosition)
	}

	// task_type divergente não casa
	snap = pool.Snapshot(domain.StatusQuery{TaskID: "curr-1", TaskType: "other"})
	if snap.MyStatus != domain.MyStatusUnknown {
		t.Fatalf("expected unknown for mismatched task_type, got %q", snap.MyStatus)
	}

	// sem task_id, nada a casar
	snap = pool.Snapshot(domain.StatusQuery{})
	if snap.MyStatus != domain.MyStatusUnknown {
		t.Fatalf("expected unknown without task_id, got %q", snap.MyStatus)
	}
}

func TestSnapshot_EstimatedWait(t *testing.T) {
	pool, err := NewPool(1, 2*time.Second)
	if err != nil {
		t.Fatalf("NewPool: %v", err)
	}

	// fila vazia, slot pronto: espera zero
	snap := pool.Snapshot(domain.StatusQuery{})
	if snap.EstimatedWaitSeconds != 0 || snap.NextAvailableInSeconds != 0 {
		t.Fatalf("expected zero estimates with ready slot, got %+v", snap)
	}

	holder, _ := pool.Acquire(context.Background(), domain.AcquireRequest{TaskType: "test", TaskID: "job-1"})

	// todos ocupados, sem cooldown: fallback é o próprio cooldown configurado
	snap = pool.Snapshot(domain.StatusQuery{})
	if snap.NextAvailableInSeconds != 2 {
		t.Fatalf("expected fallback of 2s, got %d", snap.NextAvailableInSeconds)
	}
	if snap.EstimatedWaitSeconds != 0 {
		t.Fatalf("expected zero estimate with empty queue, got %d", snap.EstimatedWaitSeconds)
	}

	// três esperando num pool de 1: três "ondas" de cooldown
	for _, jobID := range []string{"job-2", "job-3", "job-4"} {
		id := jobID
		go func() {
			_, _ = pool.Acquire(context.Background(), domain.AcquireRequest{TaskType: "test", TaskID: id})
		}()
	}
	waitForWaiting(t, pool, 3)

	snap = pool.Snapshot(domain.StatusQuery{})
	if snap.EstimatedWaitSeconds != 2+2*2 {
		t.Fatalf("expected estimate 6s (fallback + 2 extra waves), got %d", snap.EstimatedWaitSeconds)
	}

	pool.Release(holder)
}
