package invoice

// Status is the lifecycle state of an invoice inside the issuance core.
type Status string

const (
	StatusDraft     Status = "draft"
	StatusNumbered  Status = "numbered"
	StatusSigned    Status = "signed"
	StatusSent      Status = "sent"
	StatusCompleted Status = "completed"
)

var transitions = map[Status][]Status{
	StatusDraft:    {StatusNumbered},
	StatusNumbered: {StatusSigned, StatusCompleted},
	StatusSigned:   {StatusSent},
}

// CanTransitionTo reports whether next is a legal successor of s.
func (s Status) CanTransitionTo(next Status) bool {
	for _, candidate := range transitions[s] {
		if candidate == next {
			return true
		}
	}
	return false
}

// Terminal reports whether the core has nothing left to do for s.
func (s Status) Terminal() bool {
	return s == StatusSent || s == StatusCompleted
}

// Numbered reports whether a fiscal number has been assigned.
func (s Status) Numbered() bool {
	return s != StatusDraft && s != ""
}

func (s Status) Valid() bool {
	switch s {
	case StatusDraft, StatusNumbered, StatusSigned, StatusSent, StatusCompleted:
		return true
	}
	return false
}
