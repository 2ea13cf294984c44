package ownerwatch

import (
	cbus "github.com/next-trace/scg-owner-watch/contract/bus"
)

// dispatch is the standing message filter, attached to the connection once
// per Registry. It sees every signal on the connection and always returns
// NotHandled so delivery continues to other filters, whatever it did.
func (r *Registry) dispatch(sig *cbus.Signal) cbus.FilterResult {
	if !sig.Is(cbus.ManagementInterface, cbus.MemberNameOwnerChanged) {
		return cbus.NotHandled
	}

	change, ok := cbus.DecodeOwnerChange(sig)
	if !ok {
		// Malformed payloads are logged and dropped; the message stream
		// must keep flowing for unrelated filters.
		r.logger.Error("invalid arguments for NameOwnerChanged signal")
		return cbus.NotHandled
	}

	// Only a name losing its owner matters here; acquisitions and
	// transfers carry a new owner.
	if change.Current != "" {
		return cbus.NotHandled
	}

	sub := r.names[change.Name]
	if sub == nil {
		r.logger.Error("owner change for name with no listeners", "name", change.Name)
		return cbus.NotHandled
	}

	// Ownership loss is one-shot: detach the subscription before invoking
	// callbacks, so a callback that re-registers the same name starts a
	// fresh subscription that survives this dispatch.
	delete(r.names, change.Name)

	for _, reg := range sub.registrations {
		reg.fn(sub.name, reg.data)
	}

	return cbus.NotHandled
}
