package server

import (
	"fmt"
	"sync"

	log "github.com/sirupsen/logrus"
)

// Broadcast sends text to every registered connection except exclude, which may
// be nil. Sends run concurrently. A peer whose send fails is removed and closed
// without retry, and the remaining peers are told it left; the other recipients
// are unaffected. It returns the number of successful deliveries of text.
func (r *Registry) Broadcast(text string, exclude *Conn) int {
	clients := r.Snapshot()
	targets := targetsExcluding(clients, exclude)

	log.Debugf("Broadcasting message to %d clients", len(targets))

	failed := sendToClients(targets, text)
	for _, username := range r.removeFailedClients(failed) {
		r.Broadcast(fmt.Sprintf(leaveFormat, username), nil)
	}
	return len(targets) - len(failed)
}

func targetsExcluding(clients []Entry, exclude *Conn) []Entry {
	targets := clients[:0:0]
	for _, e := range clients {
		if exclude != nil && e.Conn == exclude {
			continue
		}
		targets = append(targets, e)
	}
	return targets
}

// sendToClients delivers text to each target and returns those that failed.
func sendToClients(targets []Entry, text string) []Entry {
	var (
		wg     sync.WaitGroup
		mu     sync.Mutex
		failed []Entry
	)
	for _, e := range targets {
		wg.Add(1)
		go func(e Entry) {
			defer wg.Done()
			if err := e.Conn.Send(text); err != nil {
				if isExpectedCloseError(err) {
					e.Conn.logger().Debugf("Skipping closed client %s: %v", e.Username, err)
				} else {
					e.Conn.logger().Warnf("Error sending message to %s: %v", e.Username, err)
				}
				mu.Lock()
				failed = append(failed, e)
				mu.Unlock()
			}
		}(e)
	}
	wg.Wait()
	return failed
}

// removeFailedClients drops peers that failed a send and closes their streams,
// which ends their handler loops. It returns the usernames it actually removed;
// peers already removed by kick, exit or cleanup are not reported again.
func (r *Registry) removeFailedClients(failed []Entry) []string {
	var removedNames []string
	for _, e := range failed {
		if username, removed := r.Remove(e.Conn); removed {
			e.Conn.logger().Infof("Client %s removed after failed send", username)
			removedNames = append(removedNames, username)
		}
		if err := e.Conn.Close(); err != nil && !isExpectedCloseError(err) {
			e.Conn.logger().Warnf("Error closing connection: %v", err)
		}
	}
	return removedNames
}
