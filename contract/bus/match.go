package bus

import "fmt"

// MatchRule is a bus-side filter expression. Installing a rule causes
// signals whose interface, member, and first argument equal the rule's
// fields to be delivered to the connection.
type MatchRule struct {
	Interface string
	Member    string
	Arg0      string
}

// OwnerChangeRule builds the rule selecting ownership notifications for
// exactly one service name.
func OwnerChangeRule(name string) MatchRule {
	return MatchRule{
		Interface: ManagementInterface,
		Member:    MemberNameOwnerChanged,
		Arg0:      name,
	}
}

// String renders the rule in the bus daemon's textual match grammar.
// Adapters may key internal state on this form; it is stable.
func (r MatchRule) String() string {
	return fmt.Sprintf("interface=%s,member=%s,arg0=%s", r.Interface, r.Member, r.Arg0)
}
