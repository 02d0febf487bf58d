//go:build linux

package reactor

import (
	"fmt"

	"golang.org/x/sys/unix"
)

// initEventListSize is the starting capacity of the kernel event list,
// matching EPollPoller::kInitEventListSize. It doubles whenever it
// fills, preventing pathological re-entry under load (spec §4.3).
const initEventListSize = 16

// epollPoller wraps epoll_create1/epoll_ctl/epoll_wait behind the
// Poller contract. This is the default, edge-capable demultiplexer run
// in level-triggered mode, grounded on the epoll wrapper in
// go-eventloop's poller_linux.go and on golang.org/x/sys/unix as used
// throughout the retrieval pack for raw socket/fd work.
type epollPoller struct {
	channelMap
	epollFd  int
	eventBuf []unix.EpollEvent
}

func newEpollPoller() (Poller, error) {
	fd, err := unix.EpollCreate1(unix.EPOLL_CLOEXEC)
	if err != nil {
		return nil, fmt.Errorf("reactor: epoll_create1: %w", err)
	}
	return &epollPoller{
		channelMap: newChannelMap(),
		epollFd:    fd,
		eventBuf:   make([]unix.EpollEvent, initEventListSize),
	}, nil
}

func (p *epollPoller) Poll(timeoutMs int, activeChannels []*Channel) ([]*Channel, Timestamp, error) {
	n, err := unix.EpollWait(p.epollFd, p.eventBuf, timeoutMs)
	now := Now()
	if err != nil {
		if err == unix.EINTR {
			return activeChannels, now, nil
		}
		loopLogger().Error().Err(err).Msg("poller: epoll_wait failed")
		return activeChannels, now, err
	}

	for i := 0; i < n; i++ {
		ev := p.eventBuf[i]
		ch, ok := p.channels[int(ev.Fd)]
		if !ok {
			continue
		}
		ch.SetRevents(epollToChannelEvents(ev.Events))
		activeChannels = append(activeChannels, ch)
	}

	if n == len(p.eventBuf) {
		p.eventBuf = make([]unix.EpollEvent, len(p.eventBuf)*2)
	}
	return activeChannels, now, nil
}

func (p *epollPoller) UpdateChannel(c *Channel) error {
	fd := c.Fd()
	switch c.Index() {
	case chanStateNew, chanStateDeleted:
		p.channels[fd] = c
		if c.Index() == chanStateDeleted {
			c.SetIndex(chanStateAdded)
			return p.ctl(unix.EPOLL_CTL_ADD, c)
		}
		c.SetIndex(chanStateAdded)
		return p.ctl(unix.EPOLL_CTL_ADD, c)
	default: // chanStateAdded
		if c.IsNoneEvent() {
			c.SetIndex(chanStateDeleted)
			return p.ctl(unix.EPOLL_CTL_DEL, c)
		}
		return p.ctl(unix.EPOLL_CTL_MOD, c)
	}
}

func (p *epollPoller) RemoveChannel(c *Channel) error {
	fd := c.Fd()
	delete(p.channels, fd)
	if c.Index() == chanStateAdded {
		if err := p.ctl(unix.EPOLL_CTL_DEL, c); err != nil {
			return err
		}
	}
	c.SetIndex(chanStateNew)
	return nil
}

func (p *epollPoller) Close() error {
	return unix.Close(p.epollFd)
}

func (p *epollPoller) ctl(op int, c *Channel) error {
	ev := unix.EpollEvent{
		Events: channelEventsToEpoll(c.Events()),
		Fd:     int32(c.Fd()),
	}
	err := unix.EpollCtl(p.epollFd, op, c.Fd(), &ev)
	if err != nil {
		loopLogger().Error().Err(err).Int("fd", c.Fd()).Int("op", op).Msg("poller: epoll_ctl failed")
	}
	return err
}

func channelEventsToEpoll(events uint32) uint32 {
	var e uint32
	if events&EventRead != 0 {
		e |= unix.EPOLLIN | unix.EPOLLPRI
	}
	if events&EventWrite != 0 {
		e |= unix.EPOLLOUT
	}
	return e
}

func epollToChannelEvents(events uint32) uint32 {
	var e uint32
	if events&unix.EPOLLIN != 0 {
		e |= EventRead
	}
	if events&unix.EPOLLPRI != 0 {
		e |= EventPri
	}
	if events&unix.EPOLLOUT != 0 {
		e |= EventWrite
	}
	if events&unix.EPOLLERR != 0 {
		e |= EventError
	}
	if events&unix.EPOLLHUP != 0 && events&unix.EPOLLIN == 0 {
		e |= EventClose
	}
	if events&unix.EPOLLRDHUP != 0 {
		e |= EventRead
	}
	return e
}
