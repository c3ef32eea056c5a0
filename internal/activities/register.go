package activities

import "go.temporal.io/sdk/worker"

func Register(w worker.Worker, a *Activities) {
	w.RegisterActivity(a.MarkProcessingActivity)
	w.RegisterActivity(a.ProcessDocumentActivity)
	w.RegisterActivity(a.MarkCompletedActivity)
	w.RegisterActivity(a.MarkFailedActivity)
}
