package object

// CommitSigningPayload returns the canonical bytes that get signed for a
// commit: the commit object's own marshaled form. Signatures are detached
// (stored in the sibling CommitMeta, not inline), so unlike a tool that
// carries a signature field inline on the object, there is nothing to
// exclude here — the full marshaled commit is the payload.
func CommitSigningPayload(c *Commit) []byte {
	if c == nil {
		return nil
	}
	return MarshalCommit(c)
}

// SummarySigningPayload returns the canonical bytes that get signed for a
// summary: the summary's own serialized form (see pkg/repo.Summary).
func SummarySigningPayload(serializedSummary []byte) []byte {
	return serializedSummary
}
