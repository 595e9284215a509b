package session

// Handler receives the events of a Session. Calls are made from the goroutine
// driving the session (Start, Tick and Stop), so they should return quickly.
type Handler interface {
	OnMessage(nick, text string)
	OnDisconnect()
	OnSubscription(subscriber, raw string)
	OnFirstConnect()
}

// HandlerFuncs is a Handler made of optional callbacks. Nil callbacks are
// skipped.
type HandlerFuncs struct {
	Message      func(nick, text string)
	Disconnect   func()
	Subscription func(subscriber, raw string)
	FirstConnect func()
}

func (f HandlerFuncs) OnMessage(nick, text string) {
	if f.Message != nil {
		f.Message(nick, text)
	}
}

func (f HandlerFuncs) OnDisconnect() {
	if f.Disconnect != nil {
		f.Disconnect()
	}
}

func (f HandlerFuncs) OnSubscription(subscriber, raw string) {
	if f.Subscription != nil {
		f.Subscription(subscriber, raw)
	}
}

func (f HandlerFuncs) OnFirstConnect() {
	if f.FirstConnect != nil {
		f.FirstConnect()
	}
}
