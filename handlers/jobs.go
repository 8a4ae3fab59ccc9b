package handlers

import (
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"fknsrs.biz/p/sorm"

	"fknsrs.biz/p/bilifm/internal/ctxdb"
	"fknsrs.biz/p/bilifm/internal/httputil"
	"fknsrs.biz/p/bilifm/internal/jobqueue"
)

func Jobs(rw http.ResponseWriter, r *http.Request) {
	var jobs []jobqueue.Job
	if err := sorm.FindWhere(r.Context(), ctxdb.GetDB(r.Context()), &jobs, "where finished_at is null order by id desc limit 1500"); err != nil {
		panic(err)
	}

	httputil.WriteJSON(rw, http.StatusOK, map[string]interface{}{
		"jobs": jobs,
	})
}

// JobUpdate is a single job progress update sent over SSE.
type JobUpdate struct {
	ID       int    `json:"id"`
	Queue    string `json:"queue"`
	Progress *int   `json:"progress"`
	Status   string `json:"status"`
}

// JobsSSE streams job progress changes. It polls rather than listening for
// writes, which keeps the job workers oblivious to who is watching.
func JobsSSE(rw http.ResponseWriter, r *http.Request) {
	rw.Header().Set("Content-Type", "text/event-stream")
	rw.Header().Set("Cache-Control", "no-cache")
	rw.Header().Set("Connection", "keep-alive")

	ctx := r.Context()

	lastProgress := make(map[int]*int)

	ticker := time.NewTicker(2 * time.Second)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			var jobs []jobqueue.Job
			if err := sorm.FindWhere(ctx, ctxdb.GetDB(ctx), &jobs, "where finished_at is null order by id desc limit 100"); err != nil {
				continue
			}

			for _, job := range jobs {
				var status string
				switch {
				case job.FinishedAt != nil:
					status = "finished"
				case job.ReservedAt != nil:
					status = "running"
				default:
					status = "pending"
				}

				last, seen := lastProgress[job.ID]

				changed := !seen
				if !changed {
					switch {
					case job.Progress == nil && last != nil:
						changed = true
					case job.Progress != nil && last == nil:
						changed = true
					case job.Progress != nil && last != nil && *job.Progress != *last:
						changed = true
					}
				}

				if !changed {
					continue
				}

				data, err := json.Marshal(JobUpdate{
					ID:       job.ID,
					Queue:    job.QueueName,
					Progress: job.Progress,
					Status:   status,
				})
				if err != nil {
					continue
				}

				fmt.Fprintf(rw, "data: %s\n\n", data)
				if f, ok := rw.(http.Flusher); ok {
					f.Flush()
				}

				lastProgress[job.ID] = job.Progress
			}
		}
	}
}
