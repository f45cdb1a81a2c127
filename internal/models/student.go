package models

import "time"

// Student is a roster entry owned by the lookup service.
type Student struct {
	ID        string    `db:"id" json:"id"`
	FullName  string    `db:"full_name" json:"full_name"`
	Phone     *string   `db:"phone" json:"phone,omitempty"`
	Active    bool      `db:"active" json:"active"`
	CreatedAt time.Time `db:"created_at" json:"created_at"`
}

// Modality is a class type (pilates, functional...) with an optional seat limit.
type Modality struct {
	ID       string `db:"id" json:"id"`
	Name     string `db:"name" json:"name"`
	Capacity *int   `db:"capacity" json:"capacity,omitempty"`
}

// Holiday suppresses every occurrence on its date.
type Holiday struct {
	Date time.Time `db:"date" json:"date"`
	Name string    `db:"name" json:"name"`
}
