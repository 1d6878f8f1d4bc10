package discussion

import (
	"log"
)

// Notifier is told once per poll that brought new messages.
type Notifier interface {
	Notify(courseID string, count int)
}

// NotifierFunc adapts a function to Notifier.
type NotifierFunc func(courseID string, count int)

func (f NotifierFunc) Notify(courseID string, count int) { f(courseID, count) }

// LogChime is the server-side stand-in for the dashboard's notification sound.
type LogChime struct {
	Enabled bool
}

func (c LogChime) Notify(courseID string, count int) {
	if !c.Enabled {
		return
	}
	log.Printf("[poller] chime course=%s new=%d", courseID, count)
}

// safeNotify never lets a notifier failure reach the poller.
func safeNotify(n Notifier, courseID string, count int) {
	if n == nil {
		return
	}
	defer func() {
		if r := recover(); r != nil {
			log.Printf("[poller] notifier panicked course=%s: %v", courseID, r)
		}
	}()
	n.Notify(courseID, count)
}
