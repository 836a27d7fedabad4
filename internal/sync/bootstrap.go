// Copyright 2026 The Calimero Authors
// This file is part of Calimero.
//
// Calimero is free software: you can redistribute it and/or modify
// it under the terms of the GNU Lesser General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
//
// Calimero is distributed in the hope that it will be useful,
// but WITHOUT ANY WARRANTY; without even the implied warranty of
// MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE. See the
// GNU Lesser General Public License for more details.
//
// You should have received a copy of the GNU Lesser General Public License
// along with Calimero. If not, see <http://www.gnu.org/licenses/>.

package sync

import (
	"context"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/libp2p/go-libp2p/core/peer"
	"go.uber.org/zap"

	"github.com/calimero-network/core-sub010/internal/calerr"
	"github.com/calimero-network/core-sub010/internal/types"
)

// Bootstrap performs spec.md §4.H.3's full DAG catchup against a single
// candidate peer: fetch its heads and reported root hash, reverse-transitively
// fetch and apply every delta it names that this node lacks, and confirm the
// final local root hash matches what the peer reported. Callers needing
// retry-with-a-different-peer (the §4.H.3 step 3 "abort and retry" case)
// should call Bootstrap again with a different peer on error.
func (e *Engine) Bootstrap(ctx context.Context, contextId types.ContextId, from peer.ID) error {
	heads, reportedRoot, err := e.requestDagHeads(ctx, contextId, from)
	if err != nil {
		return err
	}

	for _, head := range heads {
		if err := e.fetchAndApply(ctx, contextId, from, head); err != nil {
			return err
		}
	}
	if err := e.cascadeAndVerify(contextId); err != nil {
		return err
	}

	localRoot, err := e.currentRoot(contextId)
	if err != nil {
		return err
	}
	if localRoot != reportedRoot {
		return calerr.New(calerr.IntegrityViolation, "bootstrap root hash mismatch against peer-reported heads")
	}
	return nil
}

// BootstrapWithRetry tries Bootstrap against each candidate in order,
// backing off between attempts, until one succeeds or the candidate list is
// exhausted (spec.md §4.H.3 step 3's "retry with a different peer").
func (e *Engine) BootstrapWithRetry(ctx context.Context, contextId types.ContextId, candidates []peer.ID) error {
	if len(candidates) == 0 {
		return calerr.New(calerr.InvalidArgument, "no bootstrap candidates supplied")
	}
	b := backoff.NewExponentialBackOff()
	b.MaxElapsedTime = 0
	var lastErr error
	for _, candidate := range candidates {
		if err := e.Bootstrap(ctx, contextId, candidate); err != nil {
			lastErr = err
			e.log.Warn("bootstrap attempt failed, trying next candidate",
				zap.Error(err), zap.String("peer", candidate.String()))
			timer := time.NewTimer(b.NextBackOff())
			select {
			case <-ctx.Done():
				timer.Stop()
				return ctx.Err()
			case <-timer.C:
			}
			continue
		}
		return nil
	}
	return calerr.Wrap(calerr.IntegrityViolation, "bootstrap exhausted every candidate peer", lastErr)
}
