package session

// Event is an inbound transport notification handed to Client.HandleEvent.
type Event interface {
	isEvent()
}

// Opened reports a completed handshake.
type Opened struct {
	Conn Conn
}

// Received carries one server frame.
type Received struct {
	Data []byte
}

// Failed reports a transport error. A Closed event follows.
type Failed struct {
	Err error
}

// Closed reports that the connection is gone, cleanly or not.
type Closed struct {
	Err error
}

func (Opened) isEvent()   {}
func (Received) isEvent() {}
func (Failed) isEvent()   {}
func (Closed) isEvent()   {}
