package consensus

// viewChangeEntry is one (view, min_global_commit) pair in the view-change
// history.
type viewChangeEntry struct {
	view           View
	minGlobalCommit SeqNo
}

// viewChangeHistory is the ordered, monotone (view, min_global_commit)
// sequence described in spec §3. It is seeded with (0, 0) so a lookup always
// finds a match.
type viewChangeHistory struct {
	entries []viewChangeEntry
}

func newViewChangeHistory() *viewChangeHistory {
	return &viewChangeHistory{
		entries: []viewChangeEntry{{view: 0, minGlobalCommit: 0}},
	}
}

// lastView returns the view of the most recently appended entry.
func (h *viewChangeHistory) lastView() View {
	return h.entries[len(h.entries)-1].view
}

// append adds a new (view, minGlobalCommit) entry. Callers must only call
// this when view exceeds every prior committed view, per the invariant in
// spec §3.
func (h *viewChangeHistory) append(view View, minGlobalCommit SeqNo) {
	h.entries = append(h.entries, viewChangeEntry{
		view:            view,
		minGlobalCommit: minGlobalCommit,
	})
}

// viewAt scans newest-first and returns the view (with ExternalViewOffset
// applied) of the first entry whose minGlobalCommit <= seqno. Because the
// history is always seeded with (0, 0), a match always exists; failure to
// find one indicates corruption and is reported via ok=false so the caller
// can treat it as fatal.
func (h *viewChangeHistory) viewAt(seqno SeqNo) (View, bool) {
	for i := len(h.entries) - 1; i >= 0; i-- {
		e := h.entries[i]
		if e.minGlobalCommit <= seqno {
			return e.view + ExternalViewOffset, true
		}
	}
	return 0, false
}
