package models

import "time"

// Class groups students for one academic year.
type Class struct {
	ID           string    `db:"id" json:"id"`
	Name         string    `db:"name" json:"name"`
	Level        int       `db:"level" json:"level"`
	AcademicYear string    `db:"academic_year" json:"academic_year"`
	HomeroomName string    `db:"homeroom_name" json:"homeroom_name"`
	CreatedAt    time.Time `db:"created_at" json:"created_at"`
	UpdatedAt    time.Time `db:"updated_at" json:"updated_at"`
}

// ClassFilter narrows class listings.
type ClassFilter struct {
	AcademicYear string
	Level        int
	Search       string
}
