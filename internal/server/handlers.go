package server

import (
	"encoding/json"
	"net/http"
	"strings"

	"github.com/cloudacm/acm/internal/acmerr"
	"github.com/cloudacm/acm/internal/metrics"
	"github.com/cloudacm/acm/internal/object"
	"github.com/gorilla/mux"
	"github.com/sirupsen/logrus"
)

const (
	apiName    = "Access Control Manager"
	apiVersion = "1.0.0"
)

// Wire-level error codes reported alongside the HTTP status.
const (
	codeObjectNotFound = 1000
	codeInvalidRequest = 1001
	codeInternalError  = 5001
)

type errorResponse struct {
	Code        int    `json:"code"`
	Description string `json:"description"`
}

type objectRequest struct {
	Name           string                 `json:"name"`
	AdditionalInfo string                 `json:"additional_info"`
	PermissionSets []string               `json:"permission_sets"`
	ACL            map[string]interface{} `json:"acl"`
}

type subjectRequest struct {
	ID             string `json:"id"`
	AdditionalInfo string `json:"additional_info"`
}

type permissionSetRequest struct {
	Name           string   `json:"name"`
	AdditionalInfo string   `json:"additional_info"`
	Permissions    []string `json:"permissions"`
}

type infoResponse struct {
	Name    string               `json:"name"`
	Version string               `json:"api_version"`
	System  *metrics.SystemStats `json:"system"`
}

func (s *Server) handleInfo(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, infoResponse{
		Name:    apiName,
		Version: apiVersion,
		System:  s.system.Snapshot(),
	})
}

func (s *Server) handleCreateObject(w http.ResponseWriter, r *http.Request) {
	var req objectRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, acmerr.Invalidf("invalid request body: %v", err))
		return
	}

	acl, err := object.ParseACL(req.ACL)
	if err != nil {
		writeError(w, err)
		return
	}

	view, err := s.objects.Create(r.Context(), object.CreateRequest{
		Name:           req.Name,
		AdditionalInfo: req.AdditionalInfo,
		PermissionSets: req.PermissionSets,
		ACL:            acl,
	})
	if err != nil {
		writeError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, view)
}

func (s *Server) handleReadObject(w http.ResponseWriter, r *http.Request) {
	view, err := s.objects.Read(r.Context(), mux.Vars(r)["id"])
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, view)
}

func (s *Server) handleUpdateObject(w http.ResponseWriter, r *http.Request) {
	var req objectRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, acmerr.Invalidf("invalid request body: %v", err))
		return
	}

	acl, err := object.ParseACL(req.ACL)
	if err != nil {
		writeError(w, err)
		return
	}

	view, err := s.objects.Update(r.Context(), mux.Vars(r)["id"], object.UpdateRequest{
		Name:           req.Name,
		AdditionalInfo: req.AdditionalInfo,
		PermissionSets: req.PermissionSets,
		ACL:            acl,
	})
	if err != nil {
		writeError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, view)
}

func (s *Server) handleDeleteObject(w http.ResponseWriter, r *http.Request) {
	if err := s.objects.Delete(r.Context(), mux.Vars(r)["id"]); err != nil {
		writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusOK)
}

func (s *Server) handleAddSubjects(w http.ResponseWriter, r *http.Request) {
	view, err := s.objects.AddSubjects(
		r.Context(),
		mux.Vars(r)["id"],
		parsePermissions(r),
		r.URL.Query().Get("id"),
	)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, view)
}

func (s *Server) handleRemoveSubjects(w http.ResponseWriter, r *http.Request) {
	view, err := s.objects.RemoveSubjects(
		r.Context(),
		mux.Vars(r)["id"],
		parsePermissions(r),
		r.URL.Query().Get("id"),
	)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, view)
}

func (s *Server) handleUsersForObject(w http.ResponseWriter, r *http.Request) {
	report, err := s.objects.UsersForObject(r.Context(), mux.Vars(r)["id"])
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, report)
}

func (s *Server) handleCreateUser(w http.ResponseWriter, r *http.Request) {
	var req subjectRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, acmerr.Invalidf("invalid request body: %v", err))
		return
	}

	sub, err := s.subjects.CreateUser(r.Context(), req.ID, req.AdditionalInfo)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, sub)
}

func (s *Server) handleGetUser(w http.ResponseWriter, r *http.Request) {
	sub, err := s.subjects.FindUser(r.Context(), mux.Vars(r)["id"])
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, sub)
}

func (s *Server) handleDeleteUser(w http.ResponseWriter, r *http.Request) {
	if err := s.subjects.DeleteUser(r.Context(), mux.Vars(r)["id"]); err != nil {
		writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusOK)
}

func (s *Server) handleCreateGroup(w http.ResponseWriter, r *http.Request) {
	var req subjectRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, acmerr.Invalidf("invalid request body: %v", err))
		return
	}

	sub, err := s.subjects.CreateGroup(r.Context(), req.ID, req.AdditionalInfo)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, sub)
}

func (s *Server) handleGetGroup(w http.ResponseWriter, r *http.Request) {
	sub, err := s.subjects.FindGroup(r.Context(), mux.Vars(r)["id"])
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, sub)
}

func (s *Server) handleDeleteGroup(w http.ResponseWriter, r *http.Request) {
	if err := s.subjects.DeleteGroup(r.Context(), mux.Vars(r)["id"]); err != nil {
		writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusOK)
}

func (s *Server) handleListMembers(w http.ResponseWriter, r *http.Request) {
	members, err := s.subjects.Members(r.Context(), mux.Vars(r)["id"])
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string][]string{"members": members})
}

func (s *Server) handleAddMember(w http.ResponseWriter, r *http.Request) {
	vars := mux.Vars(r)
	if err := s.subjects.AddMember(r.Context(), vars["id"], vars["uid"]); err != nil {
		writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusOK)
}

func (s *Server) handleRemoveMember(w http.ResponseWriter, r *http.Request) {
	vars := mux.Vars(r)
	if err := s.subjects.RemoveMember(r.Context(), vars["id"], vars["uid"]); err != nil {
		writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusOK)
}

func (s *Server) handleCreatePermissionSet(w http.ResponseWriter, r *http.Request) {
	var req permissionSetRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, acmerr.Invalidf("invalid request body: %v", err))
		return
	}

	ps, err := s.sets.Create(r.Context(), req.Name, req.AdditionalInfo, req.Permissions)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, ps)
}

func (s *Server) handleListPermissionSets(w http.ResponseWriter, r *http.Request) {
	sets, err := s.sets.List(r.Context())
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, sets)
}

func (s *Server) handleGetPermissionSet(w http.ResponseWriter, r *http.Request) {
	ps, err := s.sets.Get(r.Context(), mux.Vars(r)["name"])
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, ps)
}

func (s *Server) handleDeletePermissionSet(w http.ResponseWriter, r *http.Request) {
	if err := s.sets.Delete(r.Context(), mux.Vars(r)["name"]); err != nil {
		writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusOK)
}

// parsePermissions collects the permission names from the repeatable "p"
// query parameter. Each value may itself be a comma separated list.
func parsePermissions(r *http.Request) []string {
	var permissions []string
	for _, value := range r.URL.Query()["p"] {
		for _, name := range strings.Split(value, ",") {
			if name = strings.TrimSpace(name); name != "" {
				permissions = append(permissions, name)
			}
		}
	}
	return permissions
}

func writeJSON(w http.ResponseWriter, status int, payload interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		logrus.WithError(err).Error("Failed to encode response")
	}
}

// writeError maps a service error onto the wire format. Internal failures
// are logged in full but reported opaquely.
func writeError(w http.ResponseWriter, err error) {
	var status, code int
	description := err.Error()

	switch acmerr.KindOf(err) {
	case acmerr.KindInvalidRequest:
		status, code = http.StatusBadRequest, codeInvalidRequest
	case acmerr.KindObjectNotFound:
		status, code = http.StatusNotFound, codeObjectNotFound
	default:
		logrus.WithError(err).Error("Request failed")
		status, code = http.StatusInternalServerError, codeInternalError
		description = "internal error"
	}

	writeJSON(w, status, errorResponse{Code: code, Description: description})
}
