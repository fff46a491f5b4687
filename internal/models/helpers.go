package models

import (
	"fmt"
	"strings"

	surrealmodels "github.com/surrealdb/surrealdb.go/pkg/models"
)

// RecordIDInt64 safely extracts the numeric ID from a SurrealDB RecordID.
// Game records use their external store ID as the record ID.
func RecordIDInt64(id surrealmodels.RecordID) (int64, error) {
	switch v := id.ID.(type) {
	case int64:
		return v, nil
	case int:
		return int64(v), nil
	case uint64:
		return int64(v), nil
	default:
		return 0, fmt.Errorf("unexpected ID type: %T (expected integer)", id.ID)
	}
}

// RecordIDString safely extracts the string ID from a SurrealDB RecordID.
// Lock and rate-limit records use string keys as record IDs.
func RecordIDString(id surrealmodels.RecordID) (string, error) {
	s, ok := id.ID.(string)
	if !ok {
		return "", fmt.Errorf("unexpected ID type: %T (expected string)", id.ID)
	}
	return s, nil
}

// NormalizeTitle produces the dedup key used to merge candidates across
/// strategies: lowercased, whitespace-trimmed, inner runs of whitespace
// collapsed to single spaces.
func NormalizeTitle(title string) string {
	return strings.Join(strings.Fields(strings.ToLower(title)), " ")
}

// LockKey derives the shared lock table key for a resource.
func LockKey(resourceType, resourceID string) string {
	return resourceType + ":" + resourceID
}
