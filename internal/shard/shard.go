// Package shard computes partition keys for the DynamoDB backend.
package shard

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"hash/fnv"
)

// MaxShards is the largest supported shard count; suffixes are two hex digits.
const MaxShards = 256

// ParentKey computes the partition key of a dependent row.
// With numShards=1, all rows of a parent share partition "<parentID>#00".
// With numShards>1, rows are distributed across partitions by rowID hash.
func ParentKey(parentID, rowID string, numShards int) string {
	if numShards <= 1 {
		return fmt.Sprintf("%s#00", parentID)
	}
	if numShards > MaxShards {
		numShards = MaxShards
	}
	h := fnv.New32a()
	h.Write([]byte(rowID))
	return fmt.Sprintf("%s#%02x", parentID, h.Sum32()%uint32(numShards))
}

// ParentKeys returns every partition key a parent's rows may live under.
func ParentKeys(parentID string, numShards int) []string {
	if numShards <= 1 {
		return []string{fmt.Sprintf("%s#00", parentID)}
	}
	if numShards > MaxShards {
		numShards = MaxShards
	}
	keys := make([]string, numShards)
	for i := range keys {
		keys[i] = fmt.Sprintf("%s#%02x", parentID, i)
	}
	return keys
}

// ConstraintKey computes a hash-distributed partition key for a unique
// constraint, so each constraint lands on its own partition.
func ConstraintKey(table, column, value string) string {
	data := fmt.Sprintf("%s#%s#%s", table, column, value)
	h := sha256.Sum256([]byte(data))
	return hex.EncodeToString(h[:16])
}
