package application

import (
	"context"
	"errors"
	"testing"
	"time"

	"keyslot-gateway/middleware/keyslot/domain"
)

type blockingScheduler struct{}

func (s *blockingScheduler) Acquire(ctx context.Context, req domain.AcquireRequest) (int, error) {
	select {
	case <-ctx.Done():
		return 0, ctx.Err()
	case <-time.After(5 * time.Second):
		// não deve chegar aqui nos testes
		return 0, errors.New("unexpected")
	}
}

func (s *blockingScheduler) Release(int) bool           { return false }
func (s *blockingScheduler) ReleaseByLease(string) bool { return false }
func (s *blockingScheduler) Snapshot(domain.StatusQuery) domain.Snapshot {
	return domain.Snapshot{}
}

type immediateScheduler struct {
	slot     int
	acquired int
	released []int
}

func (s *immediateScheduler) Acquire(ctx context.Context, req domain.AcquireRequest) (int, error) {
	s.acquired++
	return s.slot, nil
}

func (s *immediateScheduler) Release(slotNumber int) bool {
	s.released = append(s.released, slotNumber)
	return true
}

func (s *immediateScheduler) ReleaseByLease(string) bool { return false }
func (s *immediateScheduler) Snapshot(domain.StatusQuery) domain.Snapshot {
	return domain.Snapshot{}
}

func TestSlotService_Acquire_UsesTimeout(t *testing.T) {
	svc := SlotService{Scheduler: &blockingScheduler{}, AcquireTimeout: 10 * time.Millisecond}

	_, _, err := svc.Acquire(context.Background(), domain.AcquireRequest{TaskType: "test"})
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("expected deadline exceeded, got %v", err)
	}
}

func TestSlotService_Acquire_NoTimeoutDelegatesToScheduler(t *testing.T) {
	sched := &immediateScheduler{slot: 7}
	svc := SlotService{Scheduler: sched, AcquireTimeout: 0}

	slot, release, err := svc.Acquire(context.Background(), domain.AcquireRequest{TaskType: "test"})
	if err != nil {
		t.Fatalf("expected ok, got %v", err)
	}
	if slot != 7 {
		t.Fatalf("expected slot 7, got %d", slot)
	}
	if sched.acquired != 1 {
		t.Fatalf("expected scheduler Acquire to be called once, got %d", sched.acquired)
	}
	release()
}

func TestSlotService_ReleaseIsIdempotent(t *testing.T) {
	sched := &immediateScheduler{slot: 2}
	svc := SlotService{Scheduler: sched}

	_, release, err := svc.Acquire(context.Background(), domain.AcquireRequest{TaskType: "test"})
	if err != nil {
		t.Fatalf("Acquire: %v", err)
	}

	release()
	release()
	if len(sched.released) != 1 {
		t.Fatalf("expected exactly one Release, got %d", len(sched.released))
	}
	if sched.released[0] != 2 {
		t.Fatalf("expected release of slot 2, got %d", sched.released[0])
	}
}

func TestSlotService_WithSlot_ReleasesOnError(t *testing.T) {
	sched := &immediateScheduler{slot: 1}
	svc := SlotService{Scheduler: sched}

	wantErr := errors.New("upstream exploded")
	err := svc.WithSlot(context.Background(), domain.AcquireRequest{TaskType: "test"}, func(ctx context.Context, slotNumber int) error {
		if slotNumber != 1 {
			t.Fatalf("expected slot 1 inside fn, got %d", slotNumber)
		}
		return wantErr
	})
	if !errors.Is(err, wantErr) {
		t.Fatalf("expected fn error to propagate, got %v", err)
	}
	if len(sched.released) != 1 {
		t.Fatalf("expected slot released on error path, got %d releases", len(sched.released))
	}
}
