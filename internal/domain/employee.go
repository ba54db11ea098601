/**
 * @description
 * Domain models for the induction records flowing through RabbitMQ. The producer (ingest)
 * and the consumer (worker) must agree on these shapes.
 */
package domain

import (
	"encoding/json"
	"strings"
)

// EventHikvisionSync is the event name carried by every batch envelope.
const EventHikvisionSync = "HIKVISION_SYNC"

// Employee is one induction record as published by Eposh. Decoding is lenient, see
// UnmarshalJSON.
type Employee struct {
	IdentityNumber string     `json:"identity_number"`
	Name           string     `json:"name"`
	KIBNumber      string     `json:"kib_number,omitempty"`
	Photo          *Photo     `json:"photo,omitempty"`
	Regionals      []Regional `json:"regionals"`
	PhoneNumber    string     `json:"phone_number,omitempty"`
	Email          string     `json:"email,omitempty"`
	BirthDate      *BirthDate `json:"birth_date,omitempty"`

	raw       json.RawMessage
	decodeErr error
}

type Photo struct {
	Link string `json:"link"`
}

// Regional is a work zone assignment; Slug drives privilege-group mapping.
type Regional struct {
	Name string `json:"name"`
	Slug string `json:"slug"`
}

type BirthDate struct {
	YMD string `json:"ymd"`
}

// PhotoLink returns the trimmed photo URL, or "" when the record has none.
func (e Employee) PhotoLink() string {
	if e.Photo == nil {
		return ""
	}
	return strings.TrimSpace(e.Photo.Link)
}

// DecodeError is non-nil when the record could not be read as an employee at all.
func (e Employee) DecodeError() error {
	return e.decodeErr
}

// Pagination mirrors the Eposh list response metadata.
type Pagination struct {
	CurrentPage int `json:"current_page"`
	LastPage    int `json:"last_page"`
	Total       int `json:"total"`
}

// EmployeePage is one page of the Eposh induction list.
type EmployeePage struct {
	Data       []Employee `json:"data"`
	Pagination Pagination `json:"pagination"`
}

// BatchEnvelope is the queue message wrapping one EmployeePage.
// One envelope is one unit of acknowledgment.
type BatchEnvelope struct {
	Event string        `json:"event"`
	Data  *EmployeePage `json:"data"`
}

// EmployeeMessage is the per-employee message produced in fan-out mode.
type EmployeeMessage struct {
	Employee *Employee `json:"employee"`
}
