package tracker

// MergeAnnounce folds the seeder/leecher counts of a successful announce into
// the tracker's previous record. It reports false when the response carried
// neither count and the record is unchanged.
//
// A previous Scrape keeps every field the announce did not send, including
// Downloaded and Name. A missing or Failure record is replaced by a fresh
// Scrape with zero defaults.
func MergeAnnounce(prior Record, complete, incomplete *int64) (Record, bool) {
	if complete == nil && incomplete == nil {
		return prior, false
	}

	merged, ok := prior.(Scrape)
	if !ok {
		merged = Scrape{}
	}
	if complete != nil {
		merged.Complete = *complete
	}
	if incomplete != nil {
		merged.Incomplete = *incomplete
	}
	return merged, true
}
