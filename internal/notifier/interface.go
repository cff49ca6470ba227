package notifier

// TextNotifier is the minimal outbound text channel used for operator alerts.
type TextNotifier interface {
	SendText(text string) error
}

// Nop drops every message. Used when notify.telegram is disabled.
type Nop struct{}

func (Nop) SendText(string) error { return nil }
