// Package service implements the ingestion, categorization and balance
// engines on top of the repository layer.
package service

import "github.com/google/uuid"

func newID() string { return uuid.NewString() }
