package storage

import "testing"

func TestAsyncWriterPutAndDrain(t *testing.T) {
	s := openTestStore(t, 4)
	w := NewAsyncWriter(s, testLog())
	defer w.Close()

	if err := w.Put([]Record{rec(1, 0, 5), rec(2, 0, 4)}, false); err != nil {
		t.Fatal(err)
	}
	if err := w.WaitUntilEmpty(); err != nil {
		t.Fatal(err)
	}

	if w.Inserted() != 2 {
		t.Errorf("Inserted = %d, want 2", w.Inserted())
	}

	if _, err := s.Get(1); err != nil {
		t.Errorf("Get(1) after drain: %v", err)
	}
}

func TestAsyncWriterCloseIsIdempotent(t *testing.T) {
	s := openTestStore(t, 4)
	w := NewAsyncWriter(s, testLog())

	if err := w.Close(); err != nil {
		t.Fatal(err)
	}
	if err := w.Close(); err != nil {
		t.Errorf("second Close = %v, want nil", err)
	}
}

func TestAsyncWriterWaitUntilEmptyOnIdleQueue(t *testing.T) {
	s := openTestStore(t, 4)
	w := NewAsyncWriter(s, testLog())
	defer w.Close()

	if err := w.WaitUntilEmpty(); err != nil {
		t.Fatalf("WaitUntilEmpty on an idle writer: %v", err)
	}
}

func TestAsyncWriterPreservesOrderAcrossBatches(t *testing.T) {
	s := openTestStore(t, 4)
	w := NewAsyncWriter(s, testLog())
	defer w.Close()

	for fp := uint64(1); fp <= 20; fp++ {
		if err := w.Put([]Record{rec(fp, 0, 1)}, false); err != nil {
			t.Fatal(err)
		}
	}
	// A later batch for an already-queued fingerprint must be applied after
	// the earlier one, so it is the no-op and depth 0 survives.
	if err := w.Put([]Record{rec(1, 9, 1)}, false); err != nil {
		t.Fatal(err)
	}
	if err := w.WaitUntilEmpty(); err != nil {
		t.Fatal(err)
	}

	total, err := s.Count(nil)
	if err != nil {
		t.Fatal(err)
	}
	if total != 20 {
		t.Errorf("total after 20 puts = %d, want 20", total)
	}
	got, err := s.Get(1)
	if err != nil {
		t.Fatal(err)
	}
	if got.Depth != 0 {
		t.Errorf("fp 1 depth = %d, want 0 (earlier batch applied first)", got.Depth)
	}
}
