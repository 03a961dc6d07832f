package annotate

// Operation is the persistence call a mutation maps to.
type Operation string

const (
	OperationCreate Operation = "create"
	OperationUpdate Operation = "update"
	OperationDelete Operation = "delete"
)

const (
	ReasonCommitted   = "committed"
	ReasonSignificant = "significant_change"
	ReasonSeeded      = "seeded"
	ReasonInProgress  = "in_progress"
	ReasonPreview     = "preview"
	ReasonUnknownType = "unknown_type"
)

// Lookup resolves surface ids to durable ids.
type Lookup interface {
	Resolve(surfaceID string) (string, bool)
}

// Decision is the outcome of classifying one event.
type Decision struct {
	Persist   bool
	Operation Operation
	Reason    string
}

// Classify decides whether an event is persist-worthy. It has no side effects; update
// and delete targets are resolved later, when the persistence call runs.
func Classify(event Event, lookup Lookup) Decision {
	switch event.Type {
	case EventCreate:
		if lookup != nil {
			if _, seeded := lookup.Resolve(event.surfaceID()); seeded {
				return Decision{Operation: OperationCreate, Reason: ReasonSeeded}
			}
		}
		if !event.Committed {
			return Decision{Operation: OperationCreate, Reason: ReasonInProgress}
		}
		return Decision{Persist: true, Operation: OperationCreate, Reason: ReasonCommitted}
	case EventUpdate:
		if event.Committed {
			return Decision{Persist: true, Operation: OperationUpdate, Reason: ReasonCommitted}
		}
		if touchesSignificantProperty(event.Patch) {
			return Decision{Persist: true, Operation: OperationUpdate, Reason: ReasonSignificant}
		}
		return Decision{Operation: OperationUpdate, Reason: ReasonPreview}
	case EventDelete:
		if !event.Committed {
			return Decision{Operation: OperationDelete, Reason: ReasonInProgress}
		}
		return Decision{Persist: true, Operation: OperationDelete, Reason: ReasonCommitted}
	default:
		return Decision{Reason: ReasonUnknownType}
	}
}
