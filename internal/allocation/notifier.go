package allocation

import "context"

// Notifier receives allocation outcomes after commit. Implementations may be slow
// or fail; the engine never waits on them inside a transaction.
type Notifier interface {
	NotifyAllocated(ctx context.Context, receiver Receiver, caseType CaseType, requestingParty string) error
	NotifyUpcoming(ctx context.Context, receiver Receiver, currentReceiverName string, caseType CaseType, requestingParty string) error
}

// NopNotifier drops every notification.
type NopNotifier struct{}

func (NopNotifier) NotifyAllocated(context.Context, Receiver, CaseType, string) error { return nil }

func (NopNotifier) NotifyUpcoming(context.Context, Receiver, string, CaseType, string) error {
	return nil
}
