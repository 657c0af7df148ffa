/**
 * @description
 * This file implements a small explicit saga runner. Earning processing is a
 * sequence of dependent writes against a shared store with no real database
 * transaction spanning them, so each step declares up front whether it is
 * compensable and whether its failure is fatal to the operation.
 *
 * @notes
 * - Ordinary steps fail the whole saga; compensations of already-completed
 *   steps are unwound in reverse order before the error is returned.
 * - Best-effort steps never fail the saga. Their errors are handed to the
 *   gap callback so they can be logged and published for offline
 *   reconciliation.
 * - A failed compensation leaves the store inconsistent; it is logged at
 *   maximum severity for manual reconciliation rather than hidden.
 */

package app

import (
	"context"
	"log"
)

// sagaStep is one discrete operation in an earning saga.
type sagaStep struct {
	name       string
	bestEffort bool
	run        func(ctx context.Context) error
	compensate func(ctx context.Context) error
}

// runSaga executes steps in order. The first ordinary step to fail aborts the
// remaining steps, unwinds declared compensations, and returns the step error.
func runSaga(ctx context.Context, steps []sagaStep, onGap func(step string, err error)) error {
	var completed []sagaStep

	for _, step := range steps {
		err := step.run(ctx)
		if err == nil {
			if step.compensate != nil {
				completed = append(completed, step)
			}
			continue
		}

		if step.bestEffort {
			if onGap != nil {
				onGap(step.name, err)
			}
			continue
		}

		for i := len(completed) - 1; i >= 0; i-- {
			if compErr := completed[i].compensate(ctx); compErr != nil {
				log.Printf("level=error component=saga msg=\"compensation failed; manual reconciliation required\" step=%s failed_step=%s err=%v",
					completed[i].name, step.name, compErr)
			}
		}
		return err
	}
	return nil
}
