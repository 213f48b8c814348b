package rpc

import (
	"sync"
	"time"

	"agora/config"
	nativecommon "agora/native/common"
)

// callQuotas tracks per-sender call submissions within fixed epochs.
type callQuotas struct {
	quota nativecommon.Quota

	mu    sync.Mutex
	usage map[[20]byte]nativecommon.QuotaNow
}

func newCallQuotas(cfg config.Quota) *callQuotas {
	return &callQuotas{
		quota: nativecommon.Quota{
			MaxRequestsPerEpoch: cfg.MaxRequestsPerEpoch,
			EpochSeconds:        cfg.EpochSeconds,
		},
		usage: make(map[[20]byte]nativecommon.QuotaNow),
	}
}

// consume charges one call to sender, failing once the epoch allowance is
// spent.
func (q *callQuotas) consume(sender [20]byte, now time.Time) error {
	if q.quota.MaxRequestsPerEpoch == 0 {
		return nil
	}
	epoch := q.quota.Epoch(now.Unix())
	q.mu.Lock()
	defer q.mu.Unlock()
	next, err := nativecommon.CheckQuota(q.quota, epoch, q.usage[sender], 1)
	if err != nil {
		return err
	}
	q.usage[sender] = next
	for addr, used := range q.usage {
		if used.EpochID != epoch {
			delete(q.usage, addr)
		}
	}
	return nil
}
