package consensus

import (
	"context"

	"go.uber.org/zap"
)

// baJob asks the BA synchronizer to invoke BA for epoch with this node's
// input bit, resolving state once a decision arrives.
type baJob struct {
	epoch EpochNumber
	input bool
	state *BAState
}

// baFeedback is the BA synchronizer's report back to Core: either an error,
// a fallback signal (decision==false, re-roll the coin), or an optimistic
// commit carrying the coin-elected leader's proved block.
type baFeedback struct {
	epoch      EpochNumber
	optimistic bool
	block      *Block
	coin       *RandomCoin
	err        error
}

// haltJob asks the halt synchronizer to reconfirm state (if non-nil) before
// forwarding halt onward for commit. Only the Core's own optimistic-path
// Halts are submitted as jobs; a foreign Halt already carries a valid
// threshold-signed proof and handleHalt sends it straight to advanceCh
// (Validity holds on the proof alone).
type haltJob struct {
	halt  *Halt
	state *ElectionState
}

// runBASynchronizer bridges Core's single-threaded event loop and the
// external BAAdapter. It keeps its own map from in-flight epoch to BAState,
// touched by no other goroutine, so no locking is needed despite epochs
// pipelining concurrently: one
// goroutine drains both job submissions and BA decisions, and hands each
// decision off to its own short-lived goroutine so that epoch N's leader
// block wait never blocks epoch N+1 starting.
func runBASynchronizer(ctx context.Context, self AuthorityId, ba BAAdapter, transport Transport, jobs <-chan baJob, feedback chan<- baFeedback, logger *zap.SugaredLogger) {
	pending := make(map[EpochNumber]*BAState)
	results := ba.Results()
	for {
		select {
		case <-ctx.Done():
			return

		case job := <-jobs:
			pending[job.epoch] = job.state
			if err := ba.Invoke(job.epoch, job.input); err != nil {
				delete(pending, job.epoch)
				select {
				case feedback <- baFeedback{epoch: job.epoch, err: err}:
				case <-ctx.Done():
				}
			}

		case result := <-results:
			state, ok := pending[result.Epoch]
			if !ok {
				logger.Warnw("BA result for epoch with no pending job", "epoch", result.Epoch)
				continue
			}
			delete(pending, result.Epoch)
			state.Resolve(result.Decision)
			go finishBAJob(ctx, self, result.Epoch, state, transport, feedback, logger)
		}
	}
}

// finishBAJob waits out the rest of one epoch's BA outcome off the
// synchronizer's main loop: the fallback path resolves immediately, the
// optimistic path additionally requests the leader's proved block from
// peers and waits for it to become locally available, whether the reply
// arrives as a direct Help or a late Finish carrying that leader's value.
func finishBAJob(ctx context.Context, self AuthorityId, epoch EpochNumber, state *BAState, transport Transport, feedback chan<- baFeedback, logger *zap.SugaredLogger) {
	decision, err := state.Wait(ctx)
	if err != nil {
		send(ctx, feedback, baFeedback{epoch: epoch, err: err})
		return
	}
	if !decision {
		send(ctx, feedback, baFeedback{epoch: epoch, optimistic: false, coin: state.Coin()})
		return
	}

	if _, ok := state.LeaderBlock(); !ok {
		req := &RequestHelp{Epoch: epoch, Requester: self, Leader: state.Coin().Leader}
		if err := transport.Transmit(Envelope{Kind: KindRequestHelp, From: self, RequestHelp: req}, nil); err != nil {
			logger.Warnw("failed to broadcast request-help", "epoch", epoch, "err", err)
		}
	}

	block, err := state.WaitLeaderBlock(ctx)
	if err != nil {
		send(ctx, feedback, baFeedback{epoch: epoch, err: err})
		return
	}
	if block == nil {
		return // epoch cleaned up under us; a forwarded Halt already committed it.
	}
	send(ctx, feedback, baFeedback{epoch: epoch, optimistic: true, block: block, coin: state.Coin()})
}

func send(ctx context.Context, feedback chan<- baFeedback, fb baFeedback) {
	select {
	case feedback <- fb:
	case <-ctx.Done():
	}
}

// runHaltSynchronizer reconfirms Core's own locally-ready halt candidates
// against their ElectionState before letting the commit path act on them;
// a job with a nil state skips straight to advanceCh. Foreign Halts do not
// pass through here (see handleHalt), so a lagging authority may commit
// several epochs in a row on received proofs alone, without ever running
// BA for the skipped epochs itself.
func runHaltSynchronizer(ctx context.Context, jobs <-chan haltJob, advanceCh chan<- *Halt, logger *zap.SugaredLogger) {
	for {
		select {
		case <-ctx.Done():
			return
		case job := <-jobs:
			go func(job haltJob) {
				if job.state != nil {
					if _, err := job.state.Wait(ctx); err != nil {
						logger.Warnw("halt synchronizer: election confirmation failed", "err", err)
						return
					}
				}
				select {
				case advanceCh <- job.halt:
				case <-ctx.Done():
				}
			}(job)
		}
	}
}
