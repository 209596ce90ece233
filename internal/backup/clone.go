package backup

import "time"

// Deep copies for every record the store hands out. The in-memory store
// returns clones so callers mutating a result cannot reach the stored record,
// matching the isolation the MySQL store gets from its JSON round-trip.

func cloneTime(t *time.Time) *time.Time {
	if t == nil {
		return nil
	}
	cp := *t
	return &cp
}

func cloneInt(v *int) *int {
	if v == nil {
		return nil
	}
	cp := *v
	return &cp
}

func cloneStrings(s []string) []string {
	if s == nil {
		return nil
	}
	return append([]string(nil), s...)
}

func cloneFields(fields map[string]interface{}) map[string]interface{} {
	if fields == nil {
		return nil
	}
	cp := make(map[string]interface{}, len(fields))
	for k, v := range fields {
		cp[k] = v
	}
	return cp
}

// Clone returns a deep copy sharing no mutable state with the receiver.
func (b *Backup) Clone() *Backup {
	cp := *b
	cp.Categories = cloneStrings(b.Categories)
	if b.SchemaSnapshot != nil {
		cp.SchemaSnapshot = make(map[string]int, len(b.SchemaSnapshot))
		for k, v := range b.SchemaSnapshot {
			cp.SchemaSnapshot[k] = v
		}
	}
	if b.Summary != nil {
		cp.Summary = make(map[string]string, len(b.Summary))
		for k, v := range b.Summary {
			cp.Summary[k] = v
		}
	}
	cp.StartedAt = cloneTime(b.StartedAt)
	cp.CompletedAt = cloneTime(b.CompletedAt)
	cp.DeletedAt = cloneTime(b.DeletedAt)
	return &cp
}

// Clone returns a deep copy sharing no mutable state with the receiver.
func (s *Schedule) Clone() *Schedule {
	cp := *s
	cp.DayOfWeek = cloneInt(s.DayOfWeek)
	cp.DayOfMonth = cloneInt(s.DayOfMonth)
	cp.Categories = cloneStrings(s.Categories)
	return &cp
}

// Clone returns a deep copy sharing no mutable state with the receiver,
// including the nested reconciliation, resolution, execution and undo
// structures.
func (r *Restore) Clone() *Restore {
	cp := *r
	cp.SelectedCategories = cloneStrings(r.SelectedCategories)
	cp.Reconciliation = r.Reconciliation.Clone()
	cp.Resolution = r.Resolution.Clone()
	cp.ExecutionReport = r.ExecutionReport.Clone()
	cp.UndoLog = r.UndoLog.Clone()
	cp.StartedAt = cloneTime(r.StartedAt)
	cp.CompletedAt = cloneTime(r.CompletedAt)
	return &cp
}

// Clone returns a deep copy. A nil receiver clones to nil.
func (r *ReconciliationReport) Clone() *ReconciliationReport {
	if r == nil {
		return nil
	}
	cp := *r
	cp.Categories = make(map[string]*CategoryReconciliation, len(r.Categories))
	for name, c := range r.Categories {
		cp.Categories[name] = c.Clone()
	}
	if r.Preview.ByCategory != nil {
		cp.Preview.ByCategory = make(map[string]int, len(r.Preview.ByCategory))
		for k, v := range r.Preview.ByCategory {
			cp.Preview.ByCategory[k] = v
		}
	}
	return &cp
}

// Clone returns a deep copy. A nil receiver clones to nil.
func (c *CategoryReconciliation) Clone() *CategoryReconciliation {
	if c == nil {
		return nil
	}
	cp := &CategoryReconciliation{Identical: cloneStrings(c.Identical)}
	if c.Additions != nil {
		cp.Additions = make([]Entity, len(c.Additions))
		for i, e := range c.Additions {
			cp.Additions[i] = e.Clone()
		}
	}
	if c.Conflicts != nil {
		cp.Conflicts = make([]ConflictRecord, len(c.Conflicts))
		for i, rec := range c.Conflicts {
			cp.Conflicts[i] = ConflictRecord{
				EntityID:        rec.EntityID,
				Source:          rec.Source.Clone(),
				Destination:     rec.Destination.Clone(),
				DifferingFields: cloneStrings(rec.DifferingFields),
			}
		}
	}
	return cp
}

// Clone returns a deep copy. A nil receiver clones to nil.
func (r *ConflictResolution) Clone() *ConflictResolution {
	if r == nil {
		return nil
	}
	cp := &ConflictResolution{Strategy: r.Strategy}
	if r.Decisions != nil {
		cp.Decisions = make(map[string]ConflictDecision, len(r.Decisions))
		for id, d := range r.Decisions {
			cp.Decisions[id] = ConflictDecision{Action: d.Action, Fields: cloneFields(d.Fields)}
		}
	}
	return cp
}

// Clone returns a deep copy. A nil receiver clones to nil.
func (r *ExecutionReport) Clone() *ExecutionReport {
	if r == nil {
		return nil
	}
	cp := *r
	cp.Categories = make(map[string]*CategoryResult, len(r.Categories))
	for name, res := range r.Categories {
		c := *res
		cp.Categories[name] = &c
	}
	return &cp
}

// Clone returns a deep copy. A nil receiver clones to nil.
func (u *UndoLog) Clone() *UndoLog {
	if u == nil {
		return nil
	}
	cp := &UndoLog{Categories: make(map[string]*CategoryUndo, len(u.Categories))}
	for name, c := range u.Categories {
		cp.Categories[name] = c.Clone()
	}
	return cp
}

// Clone returns a deep copy. A nil receiver clones to nil.
func (c *CategoryUndo) Clone() *CategoryUndo {
	if c == nil {
		return nil
	}
	cp := &CategoryUndo{InsertedIDs: cloneStrings(c.InsertedIDs)}
	if c.Replaced != nil {
		cp.Replaced = make([]ReplacedEntity, len(c.Replaced))
		for i, rep := range c.Replaced {
			cp.Replaced[i] = ReplacedEntity{Prior: rep.Prior.Clone(), Written: rep.Written.Clone()}
		}
	}
	return cp
}

// Clone returns a deep copy sharing no mutable state with the receiver.
func (e *AuditLogEntry) Clone() *AuditLogEntry {
	cp := *e
	cp.Details = cloneFields(e.Details)
	return &cp
}

// Clone returns a deep copy sharing no mutable state with the receiver.
func (s *BackupSettings) Clone() *BackupSettings {
	cp := *s
	cp.NotificationEmails = cloneStrings(s.NotificationEmails)
	if s.Credentials != nil {
		cp.Credentials = make(map[string]StorageCredential, len(s.Credentials))
		for provider, cred := range s.Credentials {
			cred.EncryptedPayload = append([]byte(nil), cred.EncryptedPayload...)
			cp.Credentials[provider] = cred
		}
	}
	return &cp
}
