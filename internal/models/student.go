package models

import "time"

// Student lifecycle states. Inactive students keep a mangled roll number so
// the (class_id, roll_no) uniqueness constraint stays satisfiable; only
// active students participate in the contiguous 1..N sequence.
const (
	StudentStatusActive   = "active"
	StudentStatusInactive = "inactive"
)

// Student represents a learner registered in the institution.
type Student struct {
	ID        string    `db:"id" json:"id"`
	NIS       string    `db:"nis" json:"nis"`
	FullName  string    `db:"full_name" json:"full_name"`
	ClassID   string    `db:"class_id" json:"class_id"`
	RollNo    string    `db:"roll_no" json:"roll_no"`
	Status    string    `db:"status" json:"status"`
	Gender    string    `db:"gender" json:"gender"`
	Address   string    `db:"address" json:"address"`
	Phone     string    `db:"phone" json:"phone"`
	CreatedAt time.Time `db:"created_at" json:"created_at"`
	UpdatedAt time.Time `db:"updated_at" json:"updated_at"`
}

// StudentFilter encapsulates allowed search parameters for listing students.
type StudentFilter struct {
	Search    string
	ClassID   string
	Status    string
	Page      int
	PageSize  int
	SortBy    string
	SortOrder string
}

// RollAssignment pins one student to one roll number value.
type RollAssignment struct {
	StudentID string
	RollNo    string
}
