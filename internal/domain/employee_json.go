package domain

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
)

// UnmarshalJSON reads an employee record without failing on loosely typed fields:
// numbers and booleans are accepted where strings are expected, and a photo, birth
// date or regional that is not an object is treated as absent. A record that is not
// a JSON object at all decodes without error; DecodeError reports it and the raw
// bytes are kept so the record can be forwarded unchanged.
func (e *Employee) UnmarshalJSON(data []byte) error {
	*e = Employee{}

	var fields map[string]json.RawMessage
	if err := json.Unmarshal(data, &fields); err != nil || fields == nil {
		e.raw = append(json.RawMessage(nil), data...)
		e.decodeErr = fmt.Errorf("employee record must be a JSON object, got %s", jsonKind(data))
		return nil
	}

	e.IdentityNumber = scalarString(fields["identity_number"])
	e.Name = scalarString(fields["name"])
	e.KIBNumber = scalarString(fields["kib_number"])
	e.PhoneNumber = scalarString(fields["phone_number"])
	e.Email = scalarString(fields["email"])

	if photo := objectFields(fields["photo"]); photo != nil {
		e.Photo = &Photo{Link: scalarString(photo["link"])}
	}
	if birth := objectFields(fields["birth_date"]); birth != nil {
		e.BirthDate = &BirthDate{YMD: scalarString(birth["ymd"])}
	}

	var regionals []json.RawMessage
	if err := json.Unmarshal(fields["regionals"], &regionals); err == nil {
		for _, item := range regionals {
			if regional := objectFields(item); regional != nil {
				e.Regionals = append(e.Regionals, Regional{
					Name: scalarString(regional["name"]),
					Slug: scalarString(regional["slug"]),
				})
			}
		}
	}
	return nil
}

// MarshalJSON writes undecodable records back exactly as they were received.
func (e Employee) MarshalJSON() ([]byte, error) {
	if e.decodeErr != nil && len(e.raw) > 0 {
		return e.raw, nil
	}
	type employeeJSON Employee
	return json.Marshal(employeeJSON(e))
}

// UnmarshalJSON accepts page numbers sent as numbers or numeric strings.
func (p *Pagination) UnmarshalJSON(data []byte) error {
	*p = Pagination{}
	fields := objectFields(data)
	p.CurrentPage = scalarInt(fields["current_page"])
	p.LastPage = scalarInt(fields["last_page"])
	p.Total = scalarInt(fields["total"])
	return nil
}

func objectFields(raw json.RawMessage) map[string]json.RawMessage {
	var fields map[string]json.RawMessage
	if err := json.Unmarshal(raw, &fields); err != nil {
		return nil
	}
	return fields
}

// scalarString returns strings as-is and numbers or booleans as their literal text.
// Objects, arrays and null yield "".
func scalarString(raw json.RawMessage) string {
	raw = bytes.TrimSpace(raw)
	if len(raw) == 0 {
		return ""
	}
	switch raw[0] {
	case '"':
		var s string
		if err := json.Unmarshal(raw, &s); err != nil {
			return ""
		}
		return s
	case '{', '[', 'n':
		return ""
	default:
		return string(raw)
	}
}

func scalarInt(raw json.RawMessage) int {
	value := strings.TrimSpace(scalarString(raw))
	if n, err := strconv.Atoi(value); err == nil {
		return n
	}
	if f, err := strconv.ParseFloat(value, 64); err == nil {
		return int(f)
	}
	return 0
}

func jsonKind(raw []byte) string {
	raw = bytes.TrimSpace(raw)
	if len(raw) == 0 {
		return "nothing"
	}
	switch raw[0] {
	case '"':
		return "string"
	case '[':
		return "array"
	case 'n':
		return "null"
	case 't', 'f':
		return "boolean"
	default:
		return "number"
	}
}
