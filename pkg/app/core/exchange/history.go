package exchange

import "sort"

type fillKey struct {
	orderID uint64
	seq     uint64
}

// HistoryLog is the append-only fill record store. Each order has its own
// counter: the n-th fill of an order gets sequence number n.
type HistoryLog struct {
	records map[fillKey]FillRecord
	seq     map[uint64]uint64 // order id -> last assigned sequence
}

func newHistoryLog() *HistoryLog {
	return &HistoryLog{
		records: make(map[fillKey]FillRecord),
		seq:     make(map[uint64]uint64),
	}
}

// nextSeq is the sequence number the next fill of orderID will receive
func (h *HistoryLog) nextSeq(orderID uint64) uint64 {
	return h.seq[orderID] + 1
}

// append stores rec and advances the order's counter. Records are never
// overwritten.
func (h *HistoryLog) append(rec FillRecord) {
	k := fillKey{rec.OrderID, rec.Seq}
	if _, exists := h.records[k]; exists {
		return
	}
	h.records[k] = rec
	if rec.Seq > h.seq[rec.OrderID] {
		h.seq[rec.OrderID] = rec.Seq
	}
}

func (h *HistoryLog) lookup(orderID, seq uint64) (FillRecord, bool) {
	rec, ok := h.records[fillKey{orderID, seq}]
	return rec, ok
}

func (h *HistoryLog) count(orderID uint64) uint64 {
	return h.seq[orderID]
}

// forOrder returns the fills of orderID in sequence order
func (h *HistoryLog) forOrder(orderID uint64) []FillRecord {
	n := h.seq[orderID]
	out := make([]FillRecord, 0, n)
	for seq := uint64(1); seq <= n; seq++ {
		if rec, ok := h.records[fillKey{orderID, seq}]; ok {
			out = append(out, rec)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Seq < out[j].Seq })
	return out
}
