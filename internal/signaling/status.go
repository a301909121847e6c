package signaling

// Status is the connectivity of the signaling channel.
type Status string

const (
	StatusIdle    Status = "idle"
	StatusOnline  Status = "online"
	StatusOffline Status = "offline"
)

func (s Status) String() string { return string(s) }
