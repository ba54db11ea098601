/**
 * @description
 * Request and response models for the HikCentral Artemis OpenAPI endpoints used by the
 * sync client.
 *
 * @notes
 * - "customFiledName" is misspelled on purpose; it is the field name Artemis expects.
 */
package domain

import (
	"bytes"
	"encoding/json"
	"strconv"
	"strings"
)

// AddPersonRequest is the body of /person/single/add.
type AddPersonRequest struct {
	PersonCode        string `json:"personCode"`
	PersonFamilyName  string `json:"personFamilyName"`
	PersonGivenName   string `json:"personGivenName"`
	Gender            int    `json:"gender"`
	OrgIndexCode      string `json:"orgIndexCode"`
	Remark            string `json:"remark"`
	PhoneNo           string `json:"phoneNo"`
	Email             string `json:"email"`
	Faces             []Face `json:"faces"`
	BeginTime         string `json:"beginTime"`
	EndTime           string `json:"endTime"`
	PrivilegeGroupIDs string `json:"privilegeGroupIds,omitempty"`
}

type Face struct {
	FaceData string `json:"faceData"`
}

// PrivilegeGroupAddPersonsRequest is the body of /privilege/group/single/addPersons.
type PrivilegeGroupAddPersonsRequest struct {
	PrivilegeGroupID string      `json:"privilegeGroupId"`
	Type             int         `json:"type"`
	List             []PersonRef `json:"list"`
}

type PersonRef struct {
	ID string `json:"id"`
}

// CustomFieldsUpdateRequest is the body of /person/personId/customFieldsUpdate.
type CustomFieldsUpdateRequest struct {
	PersonID string        `json:"personId"`
	List     []CustomField `json:"list"`
}

type CustomField struct {
	ID               string `json:"id"`
	CustomFiledName  string `json:"customFiledName"`
	CustomFieldType  int    `json:"customFieldType"`
	CustomFieldValue string `json:"customFieldValue"`
}

// ArtemisResponse is the common Artemis envelope: {"code":"0","msg":"Success","data":...}.
type ArtemisResponse struct {
	Code json.RawMessage `json:"code"`
	Msg  string          `json:"msg"`
	Data json.RawMessage `json:"data"`
}

// ResultCode returns the code as text whether Artemis sent it as a string or a number.
func (r ArtemisResponse) ResultCode() string {
	return rawScalar(r.Code)
}

// OK reports whether the business result code signals success. An absent code is
// treated as success since only the HTTP status is then available.
func (r ArtemisResponse) OK() bool {
	code := r.ResultCode()
	return code == "" || code == "0"
}

// SyncResult is what create-person yields; PersonID anchors every later step.
type SyncResult struct {
	PersonID *string
	Raw      json.RawMessage
}

// NewSyncResult extracts the person id from the response data field.
func NewSyncResult(resp ArtemisResponse, raw []byte) *SyncResult {
	result := &SyncResult{Raw: json.RawMessage(raw)}
	if id := rawScalar(resp.Data); id != "" {
		result.PersonID = &id
	}
	return result
}

func rawScalar(raw json.RawMessage) string {
	trimmed := bytes.TrimSpace(raw)
	if len(trimmed) == 0 || bytes.Equal(trimmed, []byte("null")) {
		return ""
	}
	if trimmed[0] == '"' {
		var s string
		if err := json.Unmarshal(trimmed, &s); err != nil {
			return ""
		}
		return strings.TrimSpace(s)
	}
	if _, err := strconv.ParseFloat(string(trimmed), 64); err == nil {
		return string(trimmed)
	}
	return ""
}
