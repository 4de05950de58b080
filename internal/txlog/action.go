// Package txlog implements the transaction log protocol: action
// encoding, the optimistic commit loop, retry/backoff, and concurrency
// error classification described in §4.4.
package txlog

import (
	"encoding/json"
	"fmt"
)

// Protocol is the reader/writer capability handshake action.
type Protocol struct {
	MinReaderVersion int      `json:"minReaderVersion"`
	MinWriterVersion int      `json:"minWriterVersion"`
	ReaderFeatures   []string `json:"readerFeatures,omitempty"`
	WriterFeatures   []string `json:"writerFeatures,omitempty"`
}

// Format describes the data-file encoding; always "parquet" for this
// table format.
type Format struct {
	Provider string `json:"provider"`
}

// Metadata is the latest-wins table schema/configuration action.
type Metadata struct {
	ID               string            `json:"id"`
	Name             string            `json:"name,omitempty"`
	Description      string            `json:"description,omitempty"`
	Format           Format            `json:"format"`
	SchemaString     string            `json:"schemaString"`
	PartitionColumns []string          `json:"partitionColumns,omitempty"`
	CreatedTime      int64             `json:"createdTime"`
	Configuration    map[string]string `json:"configuration,omitempty"`
}

// Add makes a data file live as of the commit it appears in.
type Add struct {
	Path             string            `json:"path"`
	PartitionValues  map[string]string `json:"partitionValues,omitempty"`
	Size             int64             `json:"size"`
	ModificationTime int64             `json:"modificationTime"`
	DataChange       bool              `json:"dataChange"`
	Stats            json.RawMessage   `json:"stats,omitempty"`
	Tags             map[string]string `json:"tags,omitempty"`
	DeletionVector   *DeletionVectorRef `json:"deletionVector,omitempty"`
}

// DeletionVectorRef points an Add action at its deletion-vector side
// file (if any rows of the referenced data file are logically deleted).
type DeletionVectorRef struct {
	PathSegment string `json:"pathSegment"`
	Cardinality int64  `json:"cardinality"`
}

// Remove tombstones a previously-added data file.
type Remove struct {
	Path                 string            `json:"path"`
	DeletionTimestamp    int64             `json:"deletionTimestamp"`
	DataChange           bool              `json:"dataChange"`
	ExtendedFileMetadata bool              `json:"extendedFileMetadata,omitempty"`
	PartitionValues      map[string]string `json:"partitionValues,omitempty"`
	Size                 int64             `json:"size,omitempty"`
}

// CommitInfo records provenance for a commit.
type CommitInfo struct {
	Timestamp           int64          `json:"timestamp"`
	Operation           string         `json:"operation"`
	OperationParameters map[string]any `json:"operationParameters,omitempty"`
	IsBlindAppend       *bool          `json:"isBlindAppend,omitempty"`
}

// Action is the sum type for one line of a version file: exactly one of
// the fields is non-nil, enforced by Validate in EncodeActions and
// DecodeActions.
type Action struct {
	Protocol   *Protocol   `json:"protocol,omitempty"`
	MetaData   *Metadata   `json:"metaData,omitempty"`
	Add        *Add        `json:"add,omitempty"`
	Remove     *Remove     `json:"remove,omitempty"`
	CommitInfo *CommitInfo `json:"commitInfo,omitempty"`
}

func (a Action) kindCount() int {
	n := 0
	for _, present := range []bool{a.Protocol != nil, a.MetaData != nil, a.Add != nil, a.Remove != nil, a.CommitInfo != nil} {
		if present {
			n++
		}
	}
	return n
}

// Validate reports an error if a does not carry exactly one action kind.
func (a Action) Validate() error {
	switch a.kindCount() {
	case 0:
		return fmt.Errorf("txlog: action has no recognized kind")
	case 1:
		return nil
	default:
		return fmt.Errorf("txlog: action carries more than one kind")
	}
}

// EncodeActions serializes actions as NDJSON, one line per action, per
// §4.4's encoding rule.
func EncodeActions(actions []Action) ([]byte, error) {
	var buf []byte
	for i, a := range actions {
		if err := a.Validate(); err != nil {
			return nil, err
		}
		line, err := json.Marshal(a)
		if err != nil {
			return nil, fmt.Errorf("txlog: encode action %d: %w", i, err)
		}
		buf = append(buf, line...)
		buf = append(buf, '\n')
	}
	return buf, nil
}

// recognizedActionKeys is used by DecodeActions to reject action lines
// carrying keys outside the five recognized action kinds.
var recognizedActionKeys = map[string]bool{
	"protocol":   true,
	"metaData":   true,
	"add":        true,
	"remove":     true,
	"commitInfo": true,
}

// DecodeActions parses an NDJSON version-file body into Actions,
// rejecting any line whose top-level object has a key outside the five
// recognized kinds or that doesn't carry exactly one kind.
func DecodeActions(data []byte) ([]Action, error) {
	var actions []Action
	start := 0
	for start < len(data) {
		end := start
		for end < len(data) && data[end] != '\n' {
			end++
		}
		line := data[start:end]
		start = end + 1
		if len(trimSpace(line)) == 0 {
			continue
		}
		var raw map[string]json.RawMessage
		if err := json.Unmarshal(line, &raw); err != nil {
			return nil, fmt.Errorf("txlog: parse action line: %w", err)
		}
		for k := range raw {
			if !recognizedActionKeys[k] {
				return nil, fmt.Errorf("txlog: unrecognized action key %q", k)
			}
		}
		var a Action
		if err := json.Unmarshal(line, &a); err != nil {
			return nil, fmt.Errorf("txlog: decode action: %w", err)
		}
		if err := a.Validate(); err != nil {
			return nil, err
		}
		actions = append(actions, a)
	}
	return actions, nil
}

func trimSpace(b []byte) []byte {
	i, j := 0, len(b)
	for i < j && isSpace(b[i]) {
		i++
	}
	for j > i && isSpace(b[j-1]) {
		j--
	}
	return b[i:j]
}

func isSpace(c byte) bool {
	return c == ' ' || c == '\t' || c == '\r' || c == '\n'
}
