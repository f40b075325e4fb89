package queue

// Kind tags the variant of an Action. Durable serialization uses this as a
// versioned tag byte followed by the variant's payload.
type Kind uint8

const (
	// KindStart initializes a multipart upload for the file containing
	// Position.PartIndex.
	KindStart Kind = iota

	// KindConj appends bytes (EntryCount entries, Bytes payload) to the
	// part at Position.PartIndex.
	KindConj

	// KindUpload uploads the accumulated (non-final) part.
	KindUpload

	// KindEnd finalizes or aborts the multipart upload for the file
	// containing Position.
	KindEnd

	// KindFlush enqueues an End for every currently known upload. Carries
	// no position.
	KindFlush

	// KindSkip is a sentinel for corrupt deserialized tasks; never put
	// deliberately, only ever observed via a failed deref.
	KindSkip
)

func (k Kind) String() string {
	switch k {
	case KindStart:
		return "start"
	case KindConj:
		return "conj"
	case KindUpload:
		return "upload"
	case KindEnd:
		return "end"
	case KindFlush:
		return "flush"
	case KindSkip:
		return "skip"
	default:
		return "unknown"
	}
}

// Position mirrors the journal's position triple. It is duplicated here
// (rather than imported) to keep the queue package free of a dependency on
// the journal's position package; the two are kept in lockstep by the
// callers that translate between them.
type Position struct {
	RunningBytes uint64
	PartIndex    uint64
	Directory    string
}

// Action is the tagged record placed on the durable queue. Only the fields
// relevant to Kind are meaningful; callers should use the constructors
// below rather than building Actions by hand.
type Action struct {
	Kind       Kind
	Position   Position
	EntryCount uint64
	Bytes      []byte
}

// Start builds a Start action for the given position.
func Start(pos Position) Action {
	return Action{Kind: KindStart, Position: pos}
}

// Conj builds a Conj action appending entryCount entries (data) at pos.
func Conj(pos Position, entryCount uint64, data []byte) Action {
	return Action{Kind: KindConj, Position: pos, EntryCount: entryCount, Bytes: data}
}

// Upload builds an Upload action for pos.
func Upload(pos Position) Action {
	return Action{Kind: KindUpload, Position: pos}
}

// End builds an End action for pos.
func End(pos Position) Action {
	return Action{Kind: KindEnd, Position: pos}
}

// Flush builds the sentinel Flush action.
func Flush() Action {
	return Action{Kind: KindFlush}
}
