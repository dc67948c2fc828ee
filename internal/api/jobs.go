package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"
)

// CountResponse reports how many jobs an operation touched.
type CountResponse struct {
	Count int64 `json:"count"`
}

func (s *Server) queueStats(w http.ResponseWriter, r *http.Request) {
	OK(w, s.queue.Statistics(r.Context()))
}

func (s *Server) listPending(w http.ResponseWriter, r *http.Request) {
	jobs, err := s.queue.ListPending(r.Context(), limitParam(r))
	if err != nil {
		internalError(w, "list pending jobs", err)
		return
	}
	OK(w, ListResponse{Items: jobs, Count: len(jobs)})
}

func (s *Server) getPending(w http.ResponseWriter, r *http.Request) {
	job, err := s.queue.PendingDetails(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		internalError(w, "get pending job", err)
		return
	}
	if job == nil {
		JSONError(w, NewNotFound("job not found"))
		return
	}
	OK(w, job)
}

func (s *Server) deletePending(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	ok, err := s.queue.DeletePending(r.Context(), id)
	if err != nil {
		internalError(w, "delete pending job", err)
		return
	}
	if !ok {
		JSONError(w, NewNotFound("job not found or backend cannot remove single jobs"))
		return
	}
	logAdmin(r, "pending job %s deleted", id)
	NoContent(w)
}

func (s *Server) listFailed(w http.ResponseWriter, r *http.Request) {
	jobs, err := s.queue.ListFailed(r.Context(), limitParam(r))
	if err != nil {
		internalError(w, "list failed jobs", err)
		return
	}
	OK(w, ListResponse{Items: jobs, Count: len(jobs)})
}

func (s *Server) getFailed(w http.ResponseWriter, r *http.Request) {
	job, err := s.queue.FailedDetails(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		internalError(w, "get failed job", err)
		return
	}
	if job == nil {
		JSONError(w, NewNotFound("failed job not found"))
		return
	}
	OK(w, job)
}

func (s *Server) deleteFailed(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	ok, err := s.queue.DeleteFailed(r.Context(), id)
	if err != nil {
		internalError(w, "delete failed job", err)
		return
	}
	if !ok {
		JSONError(w, NewNotFound("failed job not found"))
		return
	}
	logAdmin(r, "failed job %s deleted", id)
	NoContent(w)
}

func (s *Server) retryFailed(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	ok, err := s.queue.Retry(r.Context(), id)
	if err != nil {
		internalError(w, "retry failed job", err)
		return
	}
	if !ok {
		JSONError(w, NewNotFound("failed job not found"))
		return
	}
	logAdmin(r, "failed job %s pushed back", id)
	OK(w, CountResponse{Count: 1})
}

func (s *Server) retryAllFailed(w http.ResponseWriter, r *http.Request) {
	n, err := s.queue.RetryAll(r.Context())
	if err != nil {
		internalError(w, "retry failed jobs", err)
		return
	}
	logAdmin(r, "%d failed jobs pushed back", n)
	OK(w, CountResponse{Count: int64(n)})
}

func (s *Server) clearFailed(w http.ResponseWriter, r *http.Request) {
	n, err := s.queue.ClearFailed(r.Context())
	if err != nil {
		internalError(w, "clear failed jobs", err)
		return
	}
	logAdmin(r, "%d failed jobs cleared", n)
	OK(w, CountResponse{Count: n})
}
