package app

import (
	"context"
	"errors"
	"testing"
)

func TestRunSaga_UnwindsCompensationsInReverseOrder(t *testing.T) {
	var order []string

	steps := []sagaStep{
		{
			name: "first",
			run:  func(ctx context.Context) error { return nil },
			compensate: func(ctx context.Context) error {
				order = append(order, "undo-first")
				return nil
			},
		},
		{
			name: "second",
			run:  func(ctx context.Context) error { return nil },
			compensate: func(ctx context.Context) error {
				order = append(order, "undo-second")
				return nil
			},
		},
		{
			name: "third",
			run:  func(ctx context.Context) error { return errors.New("boom") },
		},
	}

	err := runSaga(context.Background(), steps, nil)
	if err == nil {
		t.Fatal("expected the failing step's error")
	}
	if len(order) != 2 || order[0] != "undo-second" || order[1] != "undo-first" {
		t.Fatalf("expected reverse-order compensation, got %v", order)
	}
}

func TestRunSaga_BestEffortFailureReportsGapAndContinues(t *testing.T) {
	var gaps []string
	ranLast := false

	steps := []sagaStep{
		{name: "write", run: func(ctx context.Context) error { return nil }},
		{name: "audit", bestEffort: true, run: func(ctx context.Context) error { return errors.New("audit down") }},
		{name: "notify", bestEffort: true, run: func(ctx context.Context) error { ranLast = true; return nil }},
	}

	err := runSaga(context.Background(), steps, func(step string, err error) {
		gaps = append(gaps, step)
	})
	if err != nil {
		t.Fatalf("best-effort failure must not fail the saga, got %v", err)
	}
	if len(gaps) != 1 || gaps[0] != "audit" {
		t.Fatalf("expected a gap report for the audit step, got %v", gaps)
	}
	if !ranLast {
		t.Fatal("steps after a best-effort failure must still run")
	}
}

func TestRunSaga_StopsAtFirstOrdinaryFailure(t *testing.T) {
	ranAfter := false

	steps := []sagaStep{
		{name: "guard", run: func(ctx context.Context) error { return errors.New("rejected") }},
		{name: "write", run: func(ctx context.Context) error { ranAfter = true; return nil }},
	}

	if err := runSaga(context.Background(), steps, nil); err == nil {
		t.Fatal("expected the guard error")
	}
	if ranAfter {
		t.Fatal("no step may run after an ordinary failure")
	}
}
