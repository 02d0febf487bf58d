//go:build linux

package reactor

import "os"

// Poller is the Demultiplexer contract (component D): translate kernel
// readiness into a list of channels with their ready events filled in,
// and reconcile interest-mask changes with the kernel side.
type Poller interface {
	// Poll blocks up to timeoutMs waiting for readiness, appends every
	// ready channel into activeChannels (reusing its backing array when
	// possible) and returns it along with the time of the wake-up.
	Poll(timeoutMs int, activeChannels []*Channel) ([]*Channel, Timestamp, error)

	// UpdateChannel reconciles the kernel's registration for c with its
	// current interest mask (adds, modifies or removes as needed).
	UpdateChannel(c *Channel) error

	// RemoveChannel deregisters c entirely. c's interest mask must
	// already be empty.
	RemoveChannel(c *Channel) error

	// Close releases the poller's own kernel resources (epoll fd, etc).
	Close() error
}

// channelMap is the fd -> *Channel table shared by both Poller
// implementations (spec §3, "Demultiplexer state").
type channelMap struct {
	channels map[int]*Channel
}

func newChannelMap() channelMap {
	return channelMap{channels: make(map[int]*Channel)}
}

// newPoller selects the active implementation per spec §4.3: presence
// of USE_POLL picks the poll(2) fallback; the default is the
// edge-capable epoll implementation used here in level-triggered mode.
func newPoller() (Poller, error) {
	if _, ok := os.LookupEnv("USE_POLL"); ok {
		return newPollPoller()
	}
	return newEpollPoller()
}
