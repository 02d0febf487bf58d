//go:build linux

package reactor

import (
	"golang.org/x/sys/unix"
)

// pollPoller implements the Demultiplexer with poll(2), selected when
// the USE_POLL environment variable is set (spec §6).
type pollPoller struct {
	channelMap
	pollfds []unix.PollFd
}

func newPollPoller() (Poller, error) {
	return &pollPoller{channelMap: newChannelMap()}, nil
}

func (p *pollPoller) Poll(timeoutMs int, activeChannels []*Channel) ([]*Channel, Timestamp, error) {
	n, err := unix.Poll(p.pollfds, timeoutMs)
	now := Now()
	if err != nil {
		if err == unix.EINTR {
			return activeChannels, now, nil
		}
		loopLogger().Error().Err(err).Msg("poller: poll failed")
		return activeChannels, now, err
	}
	if n == 0 {
		return activeChannels, now, nil
	}

	for _, pfd := range p.pollfds {
		if pfd.Revents == 0 {
			continue
		}
		ch, ok := p.channels[int(pfd.Fd)]
		if !ok {
			continue
		}
		ch.SetRevents(pollToChannelEvents(pfd.Revents))
		activeChannels = append(activeChannels, ch)
	}
	return activeChannels, now, nil
}

func (p *pollPoller) UpdateChannel(c *Channel) error {
	fd := c.Fd()
	if c.Index() < 0 {
		p.channels[fd] = c
		p.pollfds = append(p.pollfds, unix.PollFd{Fd: int32(fd), Events: channelEventsToPoll(c.Events())})
		c.SetIndex(len(p.pollfds) - 1)
		return nil
	}

	idx := c.Index()
	p.pollfds[idx].Fd = int32(fd)
	p.pollfds[idx].Events = channelEventsToPoll(c.Events())
	p.pollfds[idx].Revents = 0
	if c.IsNoneEvent() {
		// mark ignored rather than compacting, so other channels' indices stay valid
		p.pollfds[idx].Fd = -1
	}
	return nil
}

func (p *pollPoller) RemoveChannel(c *Channel) error {
	idx := c.Index()
	fd := c.Fd()
	delete(p.channels, fd)
	if idx >= 0 && idx < len(p.pollfds) {
		n := len(p.pollfds) - 1
		if idx != n {
			p.pollfds[idx] = p.pollfds[n]
			// repoint the channel now occupying idx
			for _, other := range p.channels {
				if other.Index() == n {
					other.SetIndex(idx)
				}
			}
		}
		p.pollfds = p.pollfds[:n]
	}
	c.SetIndex(chanStateNew)
	return nil
}

func (p *pollPoller) Close() error { return nil }

func channelEventsToPoll(events uint32) int16 {
	var e int16
	if events&EventRead != 0 {
		e |= unix.POLLIN | unix.POLLPRI
	}
	if events&EventWrite != 0 {
		e |= unix.POLLOUT
	}
	return e
}

func pollToChannelEvents(revents int16) uint32 {
	var e uint32
	if revents&unix.POLLIN != 0 {
		e |= EventRead
	}
	if revents&unix.POLLPRI != 0 {
		e |= EventPri
	}
	if revents&unix.POLLOUT != 0 {
		e |= EventWrite
	}
	if revents&unix.POLLERR != 0 {
		e |= EventError
	}
	if revents&unix.POLLHUP != 0 {
		e |= EventClose
	}
	if revents&unix.POLLNVAL != 0 {
		e |= EventInvalid
	}
	return e
}
