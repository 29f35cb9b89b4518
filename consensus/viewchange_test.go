package consensus

import "testing"

func TestViewChangeHistorySeed(t *testing.T) {
	h := newViewChangeHistory()
	view, ok := h.viewAt(0)
	if !ok {
		t.Fatal("expected seed entry to match seqno 0")
	}
	if view != ExternalViewOffset {
		t.Fatalf("got view %d, want %d", view, ExternalViewOffset)
	}
}

func TestViewChangeHistoryAppendAndLookup(t *testing.T) {
	h := newViewChangeHistory()
	h.append(2, 7)
	h.append(3, 9)

	if got := h.lastView(); got != 3 {
		t.Fatalf("lastView() = %d, want 3", got)
	}

	cases := []struct {
		seqno SeqNo
		want  View
	}{
		{0, 0 + ExternalViewOffset},
		{6, 0 + ExternalViewOffset},
		{7, 2 + ExternalViewOffset},
		{8, 2 + ExternalViewOffset},
		{9, 3 + ExternalViewOffset},
		{1000, 3 + ExternalViewOffset},
	}
	for _, c := range cases {
		got, ok := h.viewAt(c.seqno)
		if !ok {
			t.Fatalf("viewAt(%d): no match", c.seqno)
		}
		if got != c.want {
			t.Fatalf("viewAt(%d) = %d, want %d", c.seqno, got, c.want)
		}
	}
}
