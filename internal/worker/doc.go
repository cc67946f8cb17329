// Package worker dispatches conversion jobs to the queue and runs the pool
// that executes them.
//
// Each job moves through fixed checkpoints (prepare 15%, start 20%,
// convert 50%, save 90%, done 100%), publishing progress after entering each
// one and checking for cancellation in between. Conversion failures become
// failed results recorded through Consumer.Complete; storage failures and
// shutdown fail the task itself through Consumer.Fail.
package worker
