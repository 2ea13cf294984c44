package bus

// Well-known names of the bus management interface and its ownership
// notification. Kept bus-daemon compatible so match rules read the same
// as the wire-level filters they stand in for.
const (
	ManagementInterface    = "org.freedesktop.DBus"
	MemberNameOwnerChanged = "NameOwnerChanged"
)

// Signal is one bus signal as delivered to message filters.
//
// A NameOwnerChanged signal carries exactly three string arguments in
// fixed order: the service name, the previous owner (empty when the name
// was just claimed), and the new owner (empty when the name was lost).
type Signal struct {
	Interface string
	Member    string
	Args      []any
}

// Is reports whether the signal carries the given interface and member.
func (s *Signal) Is(iface, member string) bool {
	return s != nil && s.Interface == iface && s.Member == member
}

// OwnerChange is the decoded payload of a NameOwnerChanged signal.
type OwnerChange struct {
	Name     string
	Previous string
	Current  string
}

// DecodeOwnerChange validates the shape of a NameOwnerChanged signal and
// extracts its arguments. It reports false when the signal is not an
// ownership notification or its arguments are malformed.
func DecodeOwnerChange(sig *Signal) (OwnerChange, bool) {
	if sig == nil || sig.Interface != ManagementInterface || sig.Member != MemberNameOwnerChanged {
		return OwnerChange{}, false
	}

	if len(sig.Args) != 3 {
		return OwnerChange{}, false
	}

	name, ok0 := sig.Args[0].(string)
	prev, ok1 := sig.Args[1].(string)
	cur, ok2 := sig.Args[2].(string)

	if !ok0 || !ok1 || !ok2 {
		return OwnerChange{}, false
	}

	return OwnerChange{Name: name, Previous: prev, Current: cur}, true
}

// NameOwnerChanged builds the signal announcing that ownership of name
// moved from previous to current. Emitting adapters use it so producers
// and consumers agree on the argument order.
func NameOwnerChanged(name, previous, current string) *Signal {
	return &Signal{
		Interface: ManagementInterface,
		Member:    MemberNameOwnerChanged,
		Args:      []any{name, previous, current},
	}
}
