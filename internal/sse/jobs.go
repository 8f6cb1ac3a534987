package sse

import "github.com/starford/ankiport/internal/jobs"

// JobNotifier streams job lifecycle changes and progress to SSE clients.
type JobNotifier struct {
	Broker *Broker
}

type progressData struct {
	ID string `json:"id"`
	jobs.Progress
}

// JobUpdated implements jobs.Notifier.
func (n JobNotifier) JobUpdated(job jobs.Job) {
	n.Broker.Publish(Event{Type: EventJobPrefix + string(job.State), Data: job})
}

// JobProgress implements jobs.Notifier.
func (n JobNotifier) JobProgress(id string, p jobs.Progress) {
	n.Broker.PublishProgress(id, progressData{ID: id, Progress: p}, p.Post >= 100)
}
