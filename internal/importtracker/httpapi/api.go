// Package httpapi exposes the import tracker over HTTP with JSON responses.
package httpapi

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"time"

	"github.com/gorilla/mux"
	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"

	"github.com/armadaproject/importtracker/internal/common/health"
	"github.com/armadaproject/importtracker/internal/common/logging"
	"github.com/armadaproject/importtracker/internal/common/requestid"
	"github.com/armadaproject/importtracker/internal/common/trackererrors"
	"github.com/armadaproject/importtracker/internal/importtracker/model"
	"github.com/armadaproject/importtracker/internal/importtracker/server"
)

const (
	maxPayloadBytes       = 16 << 20
	defaultStrandedCutoff = 5 * time.Minute
	pathSubmit            = "/api/v1/{subsystem}/imports"
	pathImport            = "/api/v1/imports/{token}"
	pathImportStatus      = "/api/v1/imports/{token}/status"
	pathTargets           = "/api/v1/targets"
	pathTargetsRunning    = "/api/v1/targets/running"
	pathAdminStranded     = "/api/v1/admin/stranded"
	pathHealth            = "/health"
)

type Service interface {
	Submit(ctx context.Context, req *server.SubmitRequest) (model.ResultCode, string, error)
	GetStatus(token string) model.ResultCode
	GetStatusWithPayload(token string) (model.ResultCode, []byte)
	IsRunning(target string) bool
	InvalidateToken(token string) bool
	InvalidateTarget(target string) bool
	Stranded(olderThan time.Duration) []*model.Job
}

type ResultResponse struct {
	Code    int    `json:"code"`
	Result  string `json:"result"`
	Token   string `json:"token,omitempty"`
	Payload []byte `json:"payload,omitempty"`
}

type RunningResponse struct {
	Target  string `json:"target"`
	Running bool   `json:"running"`
}

type InvalidateResponse struct {
	Removed bool `json:"removed"`
}

type JobResponse struct {
	Token       string    `json:"token"`
	Target      string    `json:"target"`
	Subsystem   string    `json:"subsystem"`
	SubmitterId string    `json:"submitterId"`
	State       string    `json:"state"`
	Timestamp   time.Time `json:"timestamp"`
}

type ErrorResponse struct {
	Error     string `json:"error"`
	RequestId string `json:"requestId"`
}

type Api struct {
	svc Service
}

// NewRouter builds the HTTP handler. middlewares run in order around every route.
func NewRouter(svc Service, checker health.Checker, middlewares ...mux.MiddlewareFunc) *mux.Router {
	api := &Api{svc: svc}

	router := mux.NewRouter()
	router.Use(mux.MiddlewareFunc(requestid.Middleware(false)))
	router.Use(middlewares...)

	router.Handle(pathHealth, health.NewHealthCheckHttpHandler(checker)).Methods(http.MethodGet)
	router.HandleFunc(pathSubmit, api.Submit).Methods(http.MethodPost)
	router.HandleFunc(pathImportStatus, api.Status).Methods(http.MethodGet)
	router.HandleFunc(pathImport, api.StatusWithPayload).Methods(http.MethodGet)
	router.HandleFunc(pathImport, api.InvalidateToken).Methods(http.MethodDelete)
	router.HandleFunc(pathTargetsRunning, api.Running).Methods(http.MethodGet)
	router.HandleFunc(pathTargets, api.InvalidateTarget).Methods(http.MethodDelete)
	router.HandleFunc(pathAdminStranded, api.Stranded).Methods(http.MethodGet)
	return router
}

func (a *Api) Submit(w http.ResponseWriter, r *http.Request) {
	payload, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxPayloadBytes))
	if err != nil {
		writeError(w, r, errors.WithStack(&trackererrors.ErrInvalidArgument{
			Name:    "payload",
			Value:   "",
			Message: err.Error(),
		}))
		return
	}
	req := &server.SubmitRequest{
		Subsystem: mux.Vars(r)["subsystem"],
		Target:    r.URL.Query().Get("target"),
		Token:     r.URL.Query().Get("token"),
		Payload:   payload,
	}
	result, token, err := a.svc.Submit(r.Context(), req)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJson(w, r, httpStatus(result), &ResultResponse{
		Code:   result.HttpLikeCode(),
		Result: result.String(),
		Token:  token,
	})
}

func (a *Api) Status(w http.ResponseWriter, r *http.Request) {
	result := a.svc.GetStatus(mux.Vars(r)["token"])
	writeJson(w, r, httpStatus(result), &ResultResponse{
		Code:   result.HttpLikeCode(),
		Result: result.String(),
	})
}

func (a *Api) StatusWithPayload(w http.ResponseWriter, r *http.Request) {
	result, payload := a.svc.GetStatusWithPayload(mux.Vars(r)["token"])
	writeJson(w, r, httpStatus(result), &ResultResponse{
		Code:    result.HttpLikeCode(),
		Result:  result.String(),
		Payload: payload,
	})
}

func (a *Api) Running(w http.ResponseWriter, r *http.Request) {
	target := r.URL.Query().Get("target")
	if target == "" {
		writeError(w, r, errors.WithStack(&trackererrors.ErrInvalidArgument{Name: "target", Value: target}))
		return
	}
	writeJson(w, r, http.StatusOK, &RunningResponse{Target: target, Running: a.svc.IsRunning(target)})
}

func (a *Api) InvalidateToken(w http.ResponseWriter, r *http.Request) {
	writeJson(w, r, http.StatusOK, &InvalidateResponse{Removed: a.svc.InvalidateToken(mux.Vars(r)["token"])})
}

func (a *Api) InvalidateTarget(w http.ResponseWriter, r *http.Request) {
	target := r.URL.Query().Get("target")
	if target == "" {
		writeError(w, r, errors.WithStack(&trackererrors.ErrInvalidArgument{Name: "target", Value: target}))
		return
	}
	writeJson(w, r, http.StatusOK, &InvalidateResponse{Removed: a.svc.InvalidateTarget(target)})
}

func (a *Api) Stranded(w http.ResponseWriter, r *http.Request) {
	olderThan := defaultStrandedCutoff
	if value := r.URL.Query().Get("olderThan"); value != "" {
		parsed, err := time.ParseDuration(value)
		if err != nil || parsed < 0 {
			writeError(w, r, errors.WithStack(&trackererrors.ErrInvalidArgument{
				Name:    "olderThan",
				Value:   value,
				Message: "expected a non-negative duration such as 5m",
			}))
			return
		}
		olderThan = parsed
	}
	jobs := a.svc.Stranded(olderThan)
	response := make([]*JobResponse, 0, len(jobs))
	for _, job := range jobs {
		response = append(response, &JobResponse{
			Token:       job.Token,
			Target:      job.Target,
			Subsystem:   job.Subsystem,
			SubmitterId: job.SubmitterId,
			State:       job.State.String(),
			Timestamp:   job.Timestamp,
		})
	}
	writeJson(w, r, http.StatusOK, response)
}

// httpStatus is the status line for a result. InProgress and NotFound carry 102 and 204 in the
// body, but neither can be sent as a final status with a body.
func httpStatus(result model.ResultCode) int {
	switch result {
	case model.InProgress:
		return http.StatusAccepted
	case model.NotFound:
		return http.StatusNotFound
	default:
		return result.HttpLikeCode()
	}
}

func writeError(w http.ResponseWriter, r *http.Request, err error) {
	status := trackererrors.HttpStatusFromError(err)
	logger := requestLogger(r)
	if status >= http.StatusInternalServerError {
		logging.WithStacktrace(logger, err).Error("request failed")
	} else {
		logger.WithError(err).Info("request rejected")
	}
	writeJson(w, r, status, &ErrorResponse{
		Error:     errors.Cause(err).Error(),
		RequestId: requestid.FromContextOrMissing(r.Context()),
	})
}

func writeJson(w http.ResponseWriter, r *http.Request, status int, body interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(body); err != nil {
		requestLogger(r).WithError(err).Warn("failed to write response")
	}
}

func requestLogger(r *http.Request) *log.Entry {
	return log.WithFields(log.Fields{
		"requestId": requestid.FromContextOrMissing(r.Context()),
		"method":    r.Method,
		"path":      r.URL.Path,
	})
}
