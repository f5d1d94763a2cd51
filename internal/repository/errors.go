package repository

import "github.com/zakisheriff/One-Deploy/internal/domain"

// Persistence errors alias the domain taxonomy so callers can branch with errors.Is.
var (
	ErrNotFound        = domain.ErrNotFound
	ErrConflict        = domain.ErrConflict
	ErrInvalidArgument = domain.ErrInvalidArgument
)
