package server

import (
	"github.com/bcoin-org/bsock/socket"
)

// Join adds sock to the named channel. It returns false if sock was already
// a member, is not owned by this server or is destroyed.
func (s *Server[P]) Join(sock *socket.Socket[P], name string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.sockets[sock]; !ok {
		return false
	}
	select {
	case <-sock.Done():
		return false
	default:
	}

	members, ok := s.channels[name]
	if !ok {
		members = make(map[*socket.Socket[P]]struct{})
		s.channels[name] = members
	}
	if _, ok := members[sock]; ok {
		return false
	}
	members[sock] = struct{}{}
	return true
}

// Leave removes sock from the named channel. It returns false if sock was
// not a member.
func (s *Server[P]) Leave(sock *socket.Socket[P], name string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	members, ok := s.channels[name]
	if !ok {
		return false
	}
	if _, ok := members[sock]; !ok {
		return false
	}
	delete(members, sock)
	if len(members) == 0 {
		delete(s.channels, name)
	}
	return true
}

// Channel lists the members of the named channel.
func (s *Server[P]) Channel(name string) []*socket.Socket[P] {
	s.mu.RLock()
	defer s.mu.RUnlock()

	members := s.channels[name]
	out := make([]*socket.Socket[P], 0, len(members))
	for sock := range members {
		out = append(out, sock)
	}
	return out
}

// To fires event to every member of the named channel and returns how many
// sessions accepted it. A failing member does not stop the others.
func (s *Server[P]) To(name, event string, payload P) int {
	return s.fire(s.Channel(name), event, payload)
}

// All fires event to every live session.
func (s *Server[P]) All(event string, payload P) int {
	return s.fire(s.Sockets(), event, payload)
}

func (s *Server[P]) fire(targets []*socket.Socket[P], event string, payload P) int {
	sent := 0
	for _, sock := range targets {
		if err := sock.Fire(event, payload); err != nil {
			s.logger.Debug("fire failed", "event", event, "remote", sock.RemoteAddr(), "err", err.Error())
			continue
		}
		sent++
	}
	return sent
}
