package claim

// Verdict is the outcome of validating one record: hard rule violations in
// Errors, soft anomalies in Warnings. Validity is derived, never stored, so
// it cannot drift from the error list.
type Verdict struct {
	Errors   []string
	Warnings []string
}

// IsValid reports whether the record passed every hard rule. Warnings never
// affect validity.
func (v Verdict) IsValid() bool { return len(v.Errors) == 0 }

// Status returns the staging status tag for this verdict.
func (v Verdict) Status() StagingStatus {
	if v.IsValid() {
		return StagingValid
	}
	return StagingInvalid
}

// Messages returns errors followed by warnings, the combined text staged
// alongside the record. Nil when the verdict is clean.
func (v Verdict) Messages() []string {
	if len(v.Errors) == 0 && len(v.Warnings) == 0 {
		return nil
	}
	out := make([]string, 0, len(v.Errors)+len(v.Warnings))
	out = append(out, v.Errors...)
	out = append(out, v.Warnings...)
	return out
}
