package api

import (
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/adamjs83/creston-xsig-hassio/internal/xsig"
)

// joinResponse is one join's value in API responses.
type joinResponse struct {
	Kind  string `json:"kind"`
	Join  uint16 `json:"join"`
	Value any    `json:"value"`
}

// setJoinRequest is the PUT body for writing a join.
type setJoinRequest struct {
	Value any `json:"value"`
}

// handleListJoins returns every join that has a value.
func (s *Server) handleListJoins(w http.ResponseWriter, _ *http.Request) {
	snap := s.store.Snapshot()
	writeJSON(w, http.StatusOK, map[string]any{
		"digital": snap.Digital,
		"analog":  snap.Analog,
		"serial":  snap.Serial,
	})
}

// handleGetJoin returns one join's current value.
func (s *Server) handleGetJoin(w http.ResponseWriter, r *http.Request) {
	kind, join, err := parseJoinParams(r)
	if err != nil {
		writeBadRequest(w, err.Error())
		return
	}

	var (
		value any
		ok    bool
	)
	switch kind {
	case xsig.JoinDigital:
		value, ok = s.store.GetDigital(join)
	case xsig.JoinAnalog:
		value, ok = s.store.GetAnalog(join)
	case xsig.JoinSerial:
		value, ok = s.store.GetSerial(join)
	}
	if !ok {
		writeNotFound(w, fmt.Sprintf("%s join %d has no value", kind, join))
		return
	}

	writeJSON(w, http.StatusOK, joinResponse{Kind: kind.String(), Join: join, Value: value})
}

// handleSetJoin pushes a value to a join. The value is stored and, when
// a control processor is connected, transmitted.
func (s *Server) handleSetJoin(w http.ResponseWriter, r *http.Request) {
	kind, join, err := parseJoinParams(r)
	if err != nil {
		writeBadRequest(w, err.Error())
		return
	}

	var req setJoinRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeBadRequest(w, "invalid JSON body")
		return
	}

	var value any
	switch kind {
	case xsig.JoinDigital:
		v, ok := req.Value.(bool)
		if !ok {
			writeBadRequest(w, "digital join value must be a boolean")
			return
		}
		err = s.pusher.SetDigital(join, v)
		value = v
	case xsig.JoinAnalog:
		f, ok := req.Value.(float64)
		if !ok {
			writeBadRequest(w, "analog join value must be a number")
			return
		}
		err = s.pusher.SetAnalog(join, int(f))
		v, _ := s.store.GetAnalog(join) // clamped value
		value = v
	case xsig.JoinSerial:
		v, ok := req.Value.(string)
		if !ok {
			writeBadRequest(w, "serial join value must be a string")
			return
		}
		err = s.pusher.SetSerial(join, v)
		value = v
	}
	if err != nil {
		writeBadRequest(w, err.Error())
		return
	}

	writeJSON(w, http.StatusOK, joinResponse{Kind: kind.String(), Join: join, Value: value})
}

// parseJoinParams extracts and validates the {kind}/{number} route parameters.
func parseJoinParams(r *http.Request) (xsig.JoinKind, uint16, error) {
	var (
		kind    xsig.JoinKind
		maxJoin int
	)
	switch chi.URLParam(r, "kind") {
	case "digital":
		kind, maxJoin = xsig.JoinDigital, xsig.MaxDigitalJoin
	case "analog":
		kind, maxJoin = xsig.JoinAnalog, xsig.MaxAnalogJoin
	case "serial":
		kind, maxJoin = xsig.JoinSerial, xsig.MaxSerialJoin
	default:
		return 0, 0, fmt.Errorf("unknown join kind %q", chi.URLParam(r, "kind"))
	}

	number, err := strconv.Atoi(chi.URLParam(r, "number"))
	if err != nil || number < 1 || number > maxJoin {
		return 0, 0, fmt.Errorf("%s join number must be 1-%d", kind, maxJoin)
	}

	return kind, uint16(number), nil
}
