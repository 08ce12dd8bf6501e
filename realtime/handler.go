package realtime

// Handler receives channel events. Methods are called from the transport's
// read goroutine, one at a time, and must not block for long.
type Handler interface {
	OnConnect()
	// OnDisconnect is called with the read error, or nil after Close.
	OnDisconnect(err error)
	OnMessage(msg ChatMessage)
	OnAssigned(a Assignment)
	OnTyping(t Typing)
	OnSessionEnded(s SessionState)
	OnTransferred(a Assignment)
}

// NopHandler ignores every event. Embed it to implement part of Handler.
type NopHandler struct{}

func (NopHandler) OnConnect()                  {}
func (NopHandler) OnDisconnect(error)          {}
func (NopHandler) OnMessage(ChatMessage)       {}
func (NopHandler) OnAssigned(Assignment)       {}
func (NopHandler) OnTyping(Typing)             {}
func (NopHandler) OnSessionEnded(SessionState) {}
func (NopHandler) OnTransferred(Assignment)    {}
