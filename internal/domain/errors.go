package domain

import "errors"

var (
	ErrNotFound          = errors.New("not found")
	ErrInvalidRequest    = errors.New("invalid request")
	ErrConflict          = errors.New("conflict")
	ErrIllegalTransition = errors.New("illegal status transition")
	ErrPersistence       = errors.New("persistence failure")
	ErrPlanGeneration    = errors.New("plan generation failure")
)
