package model

import "time"

type CourseType string

const (
	CourseElectronics CourseType = "Tecnico Eletronica"
	CourseInformatics CourseType = "Tecnico Informatica"
)

var CourseTypes = []CourseType{CourseElectronics, CourseInformatics}

func (c CourseType) Valid() bool {
	for _, known := range CourseTypes {
		if c == known {
			return true
		}
	}
	return false
}

// Enrollment is one row of the inscricoes table. It is written once at
// registration and never updated.
type Enrollment struct {
	ID           string
	FullName     string
	Email        string
	NationalID   string
	PasswordHash string
	CourseType   CourseType
	Street       string
	Neighborhood string
	City         string
	State        string
	PostalCode   string
	CreatedAt    time.Time
}

// EnrollmentSummary is the listing projection. It carries no credential data.
type EnrollmentSummary struct {
	FullName   string     `json:"nome"`
	Email      string     `json:"email"`
	NationalID string     `json:"cpf"`
	CourseType CourseType `json:"tipo_curso"`
	City       string     `json:"cidade"`
	State      string     `json:"estado"`
}

func (e Enrollment) Summary() EnrollmentSummary {
	return EnrollmentSummary{
		FullName:   e.FullName,
		Email:      e.Email,
		NationalID: e.NationalID,
		CourseType: e.CourseType,
		City:       e.City,
		State:      e.State,
	}
}
