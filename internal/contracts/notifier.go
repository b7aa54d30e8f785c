package contracts

// Notifier pushes state-record changes to subscribed clients. The
// pipeline store calls RequestUpdated after every committed transition;
// the signal repository calls SignalCreated after every insert.
type Notifier interface {
	RequestUpdated(req *AnalysisRequest)
	SignalCreated(sig *TradingSignal)
}

// NopNotifier discards all notifications. Used by jobs and tests that
// have no realtime subscribers.
type NopNotifier struct{}

// RequestUpdated implements Notifier
func (NopNotifier) RequestUpdated(*AnalysisRequest) {}

// SignalCreated implements Notifier
func (NopNotifier) SignalCreated(*TradingSignal) {}
