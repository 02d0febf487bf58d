//go:build linux

package reactor

import "fmt"

// Channel interest/ready bits, translated from the raw epoll/poll event
// numbers by the active Demultiplexer implementation (component D).
const (
	EventNone  uint32 = 0
	EventRead  uint32 = 1 << 0
	EventWrite uint32 = 1 << 1
	EventError uint32 = 1 << 2
	EventClose   uint32 = 1 << 3 // hangup without readability
	EventPri     uint32 = 1 << 4
	EventInvalid uint32 = 1 << 5 // POLLNVAL-equivalent
)

// Channel tri-state index used by the Demultiplexer to track kernel
// registration, mirrors Channel::index_ / Poller's kNew/kAdded/kDeleted.
const (
	chanStateNew = iota - 1
	chanStateAdded
	chanStateDeleted
)

// ReadEventCallback is invoked when a channel becomes readable.
type ReadEventCallback func(receiveTime Timestamp)

// EventCallback is invoked for write-ready, close and error notifications.
type EventCallback func()

// tieOwner lets a Channel check whether its shared owner is still alive
// before running a callback. Go's tracing GC makes the original
// weak_ptr "promote or skip" dance unnecessary for memory safety, but
// the liveness check itself is still required: a channel can outlive
// the logical lifetime of its owning connection by one event-loop tick
// (queued task, in-flight callback), and must not re-enter a connection
// that has already run handleClose. See DESIGN.md OQ-2.
type tieOwner interface {
	alive() bool
}

// Channel binds one file descriptor to its event loop and callback set
// (component C). All public operations other than construction must run
// on the owning loop's thread.
type Channel struct {
	loop *EventLoop
	fd   int

	events  uint32
	revents uint32
	index   int // managed by the Demultiplexer: chanStateNew/Added/Deleted

	readCallback  ReadEventCallback
	writeCallback EventCallback
	closeCallback EventCallback
	errorCallback EventCallback

	tie  tieOwner
	tied bool

	eventHandling bool
	addedToLoop   bool
}

// NewChannel creates a channel bound to loop for fd. It is not
// registered with the demultiplexer until the interest mask becomes
// nonempty via Enable{Reading,Writing}.
func NewChannel(loop *EventLoop, fd int) *Channel {
	return &Channel{loop: loop, fd: fd, events: EventNone, index: chanStateNew}
}

// Fd returns the underlying file descriptor.
func (c *Channel) Fd() int { return c.fd }

// Events returns the current interest mask.
func (c *Channel) Events() uint32 { return c.events }

// SetRevents is called by the Demultiplexer to record which of the
// interest events were actually ready.
func (c *Channel) SetRevents(revents uint32) { c.revents = revents }

// Index/SetIndex expose the tri-state slot the Demultiplexer uses to
// reconcile kernel registration with the channel's interest mask.
func (c *Channel) Index() int        { return c.index }
func (c *Channel) SetIndex(idx int)  { c.index = idx }
func (c *Channel) IsNone() bool      { return c.events == EventNone }
func (c *Channel) IsWriting() bool   { return c.events&EventWrite != 0 }
func (c *Channel) IsReading() bool   { return c.events&EventRead != 0 }

// SetReadCallback, SetWriteCallback, SetCloseCallback and SetErrorCallback
// install the four lifecycle callbacks described in spec §3 (Channel state).
func (c *Channel) SetReadCallback(cb ReadEventCallback)   { c.readCallback = cb }
func (c *Channel) SetWriteCallback(cb EventCallback)       { c.writeCallback = cb }
func (c *Channel) SetCloseCallback(cb EventCallback)       { c.closeCallback = cb }
func (c *Channel) SetErrorCallback(cb EventCallback)       { c.errorCallback = cb }

// Tie binds a shared-owner liveness check to the channel (§9 "tie").
func (c *Channel) Tie(owner tieOwner) {
	c.tie = owner
	c.tied = true
}

// EnableReading/EnableWriting/DisableReading/DisableWriting/DisableAll
// mutate the interest mask then ask the loop to reconcile with the
// Demultiplexer.
func (c *Channel) EnableReading() {
	c.events |= EventRead
	c.update()
}

func (c *Channel) EnableWriting() {
	c.events |= EventWrite
	c.update()
}

func (c *Channel) DisableWriting() {
	c.events &^= EventWrite
	c.update()
}

func (c *Channel) DisableAll() {
	c.events = EventNone
	c.update()
}

func (c *Channel) update() {
	c.addedToLoop = true
	c.loop.updateChannel(c)
}

// Remove asks the loop to remove this channel from the demultiplexer.
// Precondition: not currently handling an event (§4.2 destruction
// precondition).
func (c *Channel) Remove() {
	c.addedToLoop = false
	c.loop.removeChannel(c)
}

// IsNoneEvent reports whether the channel currently has no registered interest.
func (c *Channel) IsNoneEvent() bool { return c.events == EventNone }

// HandleEvent runs on the loop thread. Delivery order within one
// readiness wake-up, per spec §4.2: NVAL warning, HUP-without-IN close,
// ERR|NVAL error, IN|PRI read, OUT write.
func (c *Channel) HandleEvent(receiveTime Timestamp) {
	if c.tied {
		if c.tie == nil || !c.tie.alive() {
			return
		}
	}
	c.handleEventWithGuard(receiveTime)
}

func (c *Channel) handleEventWithGuard(receiveTime Timestamp) {
	c.eventHandling = true
	defer func() { c.eventHandling = false }()

	if c.revents&EventInvalid != 0 {
		loopLogger().Warn().Int("fd", c.fd).Msg("channel: ignoring POLLNVAL")
	}

	if c.revents&EventClose != 0 && c.revents&EventRead == 0 {
		if c.closeCallback != nil {
			c.closeCallback()
		}
		return
	}

	if c.revents&(EventError|EventInvalid) != 0 {
		if c.errorCallback != nil {
			c.errorCallback()
		}
	}

	if c.revents&(EventRead|EventPri|EventClose) != 0 {
		if c.readCallback != nil {
			c.readCallback(receiveTime)
		}
	}

	if c.revents&EventWrite != 0 {
		if c.writeCallback != nil {
			c.writeCallback()
		}
	}
}

func (c *Channel) String() string {
	return fmt.Sprintf("Channel{fd=%d events=%#x revents=%#x}", c.fd, c.events, c.revents)
}
