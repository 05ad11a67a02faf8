// Package insight turns alerts into relevancy judgments and reply drafts
// through a Generator. The Scorer and Composer absorb every generation
// failure and return it as data, so callers never handle an error from
// them.
package insight
