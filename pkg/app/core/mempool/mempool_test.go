package mempool

import (
	"errors"
	"testing"
)

func TestClassifyRaw(t *testing.T) {
	tests := []struct {
		name     string
		tx       string
		expected Bucket
	}{
		{"pause", `{"type":"pause","nonce":1}`, BucketAdmin},
		{"withdraw", `{"type":"withdraw_fees","amount":5}`, BucketAdmin},
		{"cancel", `{"type":"cancel_order","orderId":1}`, BucketCancel},
		{"fill", `{"type":"fill_order","orderId":1,"amount":5}`, BucketFill},
		{"create", `{"type":"create_order","amount":5,"price":2}`, BucketCreate},
		{"invalid JSON", `{"invalid": "json"`, BucketCreate},
		{"non-JSON", "UNKNOWN:foo", BucketCreate},
		{"empty", "", BucketCreate},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := ClassifyRaw([]byte(tt.tx)); got != tt.expected {
				t.Errorf("ClassifyRaw() = %v, want %v", got, tt.expected)
			}
		})
	}
}

func TestMempool_Ordering(t *testing.T) {
	m := NewMempool(0)

	create1 := `{"type":"create_order","nonce":1}`
	fill1 := `{"type":"fill_order","nonce":1}`
	cancel1 := `{"type":"cancel_order","nonce":2}`
	create2 := `{"type":"create_order","nonce":3}`
	pause := `{"type":"pause","nonce":1}`
	fill2 := `{"type":"fill_order","nonce":2}`

	for _, tx := range []string{create1, fill1, cancel1, create2, pause, fill2} {
		if err := m.PushRaw([]byte(tx)); err != nil {
			t.Fatal(err)
		}
	}
	if m.Len() != 6 {
		t.Fatalf("Len() = %d, want 6", m.Len())
	}

	got := m.SelectForProposal(0)
	want := []string{pause, cancel1, fill1, fill2, create1, create2}
	if len(got) != len(want) {
		t.Fatalf("selected %d txs, want %d", len(got), len(want))
	}
	for i := range want {
		if string(got[i]) != want[i] {
			t.Errorf("position %d = %s, want %s", i, got[i], want[i])
		}
	}
	if m.Len() != 0 {
		t.Errorf("mempool should be drained, has %d", m.Len())
	}
}

func TestMempool_MaxBytes(t *testing.T) {
	m := NewMempool(0)
	tx := `{"type":"fill_order"}` // 21 bytes
	for i := 0; i < 3; i++ {
		_ = m.PushRaw([]byte(tx))
	}
	got := m.SelectForProposal(int64(2 * len(tx)))
	if len(got) != 2 {
		t.Fatalf("selected %d, want 2", len(got))
	}
	if m.Len() != 1 {
		t.Errorf("remaining %d, want 1", m.Len())
	}
}

func TestMempool_Capacity(t *testing.T) {
	m := NewMempool(2)
	_ = m.PushRaw([]byte(`{"type":"pause"}`))
	_ = m.PushRaw([]byte(`{"type":"pause"}`))
	if err := m.PushRaw([]byte(`{"type":"pause"}`)); !errors.Is(err, ErrFull) {
		t.Fatalf("expected ErrFull, got %v", err)
	}
}

func TestMempool_CopiesInput(t *testing.T) {
	m := NewMempool(0)
	buf := []byte(`{"type":"pause"}`)
	_ = m.PushRaw(buf)
	buf[2] = 'X'
	got := m.SelectForProposal(0)
	if string(got[0]) != `{"type":"pause"}` {
		t.Errorf("mempool kept a reference to caller's buffer: %s", got[0])
	}
}
