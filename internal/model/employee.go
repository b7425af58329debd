package model

import (
	"image"
	"strconv"
	"strings"
)

// Stored schema of the directory.
const (
	// EmployeesPath is the collection root holding one node per employee.
	EmployeesPath = "EMPLOYEES"
	// CounterPath holds the next identifier to allocate.
	CounterPath = "PEOPLE_NUMBER/ID"

	FieldID         = "ID"
	FieldName       = "Name"
	FieldImage      = "Image"
	FieldLastSeenAt = "LastSeenAt"
)

// MaxNameLength limits the stored display name in bytes.
const MaxNameLength = 255

// Employee is a directory record as seen by observers.
type Employee struct {
	ID         *int64
	Key        string
	FirstName  string
	LastName   string
	Photo      image.Image
	// PhotoJPEG holds the stored JPEG bytes of Photo when available.
	PhotoJPEG  []byte
	LastSeenAt int64
}

// FullName joins first and last name.
func (e Employee) FullName() string {
	return strings.TrimSpace(e.FirstName + " " + e.LastName)
}

// Snapshot is the full directory ordered newest-first. A published
// snapshot is shared between observers and must not be modified.
type Snapshot []Employee

// IDs returns the identifiers of the snapshot records in order, skipping
// records without one.
func (s Snapshot) IDs() []int64 {
	ids := make([]int64, 0, len(s))
	for _, e := range s {
		if e.ID != nil {
			ids = append(ids, *e.ID)
		}
	}
	return ids
}

// SplitName splits a stored display name into first and last name.
func SplitName(name string) (first, last string) {
	parts := strings.Fields(name)
	if len(parts) == 0 {
		return "", ""
	}
	return parts[0], strings.Join(parts[1:], " ")
}

// ValidateName checks that name is a full name: at least two non-empty
// whitespace-separated parts.
func ValidateName(name string) error {
	name = strings.TrimSpace(name)
	if name == "" {
		return ErrInvalidName
	}
	if len(name) > MaxNameLength {
		return ErrInvalidName
	}
	if len(strings.Fields(name)) < 2 {
		return ErrInvalidName
	}
	return nil
}

// EmployeePath returns the store path of the employee with the given id.
func EmployeePath(id int64) string {
	return EmployeesPath + "/" + strconv.FormatInt(id, 10)
}
