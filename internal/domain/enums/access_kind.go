package enums

// AccessKind tells how a buyer gets into their account after paying.
type AccessKind string

const (
	AccessKindSession   AccessKind = "session"
	AccessKindMagicLink AccessKind = "magic_link"
)
