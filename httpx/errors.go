package httpx

import (
	"fmt"
	"net/http"

	"github.com/go-chi/render"

	"github.com/mbolis/sensing-survey/log"
	"github.com/mbolis/sensing-survey/service"
)

// Will log an error, and send an HTTP response with status 500 and default text
func LogInternalError(w http.ResponseWriter, code string, err error) {
	log.Errorf("%s: %s", code, err)
	http.Error(w, http.StatusText(http.StatusInternalServerError), http.StatusInternalServerError)
}

// Will log a debug message, and send an HTTP response with status 404 and default text
func LogNotFound(w http.ResponseWriter, code string, id any) {
	log.Debugf("%s: not found (%v)", code, id)
	w.WriteHeader(http.StatusNotFound)
}

// Will log an error code at the given level, and send
// an HTTP response with status and default text
func LogStatus(w http.ResponseWriter, status int, level log.Level, code string) {
	log.Log(level, code)
	http.Error(w, http.StatusText(status), status)
}

// Will log an error code and message at the given level,
// and send an HTTP response with the given status and formatted message
func LogStatusMsg(w http.ResponseWriter, status int, level log.Level, code string, msg string, args ...any) {
	errMsg := fmt.Sprintf(msg, args...)
	log.Log(level, code+":", errMsg)
	http.Error(w, errMsg, status)
}

type failureItem struct {
	Code service.Code `json:"code"`
	Text string       `json:"text"`
}

type failure struct {
	Result string        `json:"result"`
	Errors []failureItem `json:"errors"`
}

func statusOf(code service.Code) int {
	switch code {
	case service.CodeInsufficientPermissions:
		return http.StatusForbidden
	case service.CodeInternal, service.CodeTransaction:
		return http.StatusInternalServerError
	case service.CodeCampaignOutOfDate:
		return http.StatusConflict
	}
	return http.StatusBadRequest
}

// Will send a failure response for err: its code and message when err is a
// service error, an opaque internal error otherwise. Server side failures are
// logged with their cause.
func ServiceError(w http.ResponseWriter, r *http.Request, err error) {
	e, ok := service.AsError(err)
	if !ok {
		e = &service.Error{Code: service.CodeInternal, Message: "An internal error occurred.", Err: err}
	}

	status := statusOf(e.Code)
	if status == http.StatusInternalServerError {
		log.Errorf("%s %s: %s", r.Method, r.URL.Path, e)
	} else {
		log.Debugf("%s %s: %s", r.Method, r.URL.Path, e)
	}

	render.Status(r, status)
	render.JSON(w, r, failure{"failure", []failureItem{{e.Code, e.Message}}})
}

// Will send a failure response with a single code and message.
func Fail(w http.ResponseWriter, r *http.Request, code service.Code, msg string, args ...any) {
	ServiceError(w, r, &service.Error{Code: code, Message: fmt.Sprintf(msg, args...)})
}

// Will send the ohmage style success envelope, adding fields when given.
func Success(w http.ResponseWriter, r *http.Request, fields map[string]any) {
	body := map[string]any{"result": "success"}
	for k, v := range fields {
		body[k] = v
	}
	render.JSON(w, r, body)
}
