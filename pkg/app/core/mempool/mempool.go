package mempool

import (
	"encoding/json"
	"errors"
	"sync"
)

// Bucket is the proposal priority class of a transaction
type Bucket int

const (
	BucketAdmin Bucket = iota
	BucketCancel
	BucketFill
	BucketCreate
)

var ErrFull = errors.New("mempool full")

// ClassifyRaw buckets a raw transaction by its JSON "type" field:
//
//	set_admin, pause, unpause, withdraw_fees -> BucketAdmin
//	cancel_order                             -> BucketCancel
//	fill_order                               -> BucketFill
//	create_order                             -> BucketCreate
//
// Anything unreadable lands in BucketCreate and is rejected at execution.
func ClassifyRaw(b []byte) Bucket {
	if len(b) == 0 || b[0] != '{' {
		return BucketCreate
	}

	var txEnvelope struct {
		Type string `json:"type"`
	}
	if err := json.Unmarshal(b, &txEnvelope); err != nil {
		return BucketCreate
	}

	switch txEnvelope.Type {
	case "set_admin", "pause", "unpause", "withdraw_fees":
		return BucketAdmin
	case "cancel_order":
		return BucketCancel
	case "fill_order":
		return BucketFill
	default:
		return BucketCreate
	}
}

// Mempool keeps one FIFO queue per bucket. Proposals drain admin actions
// first, then cancels, fills and finally new orders, so a pause or a cancel
// submitted alongside fills takes effect before them.
type Mempool struct {
	mu       sync.Mutex
	capacity int // 0 = unbounded
	queues   [4][][]byte
}

func NewMempool(capacity int) *Mempool {
	return &Mempool{capacity: capacity}
}

// PushRaw classifies and enqueues a tx
func (m *Mempool) PushRaw(b []byte) error {
	cp := append([]byte(nil), b...)
	bucket := ClassifyRaw(b)

	m.mu.Lock()
	defer m.mu.Unlock()
	if m.capacity > 0 && m.lenLocked() >= m.capacity {
		return ErrFull
	}
	m.queues[bucket] = append(m.queues[bucket], cp)
	return nil
}

// SelectForProposal returns up to maxBytes worth of txs in bucket order,
// removing them from the mempool. maxBytes <= 0 takes everything.
func (m *Mempool) SelectForProposal(maxBytes int64) [][]byte {
	m.mu.Lock()
	defer m.mu.Unlock()

	var out [][]byte
	var used int64

	for i := range m.queues {
		q := &m.queues[i]
		for len(*q) > 0 {
			tx := (*q)[0]
			n := int64(len(tx))
			if maxBytes > 0 && used+n > maxBytes {
				return out
			}
			out = append(out, tx)
			used += n
			*q = (*q)[1:]
		}
	}
	return out
}

// Len returns total pending txs
func (m *Mempool) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.lenLocked()
}

func (m *Mempool) lenLocked() int {
	n := 0
	for _, q := range m.queues {
		n += len(q)
	}
	return n
}
