package store

import (
	"regexp"
	"strings"
)

// State is the activation state of a RemoteObject, as reported by the store.
type State string

const (
	// StateUnspecified is reported by the store before a state is assigned.
	StateUnspecified State = "STATE_UNSPECIFIED"

	// StateProcessing means the object is not usable yet.
	StateProcessing State = "PROCESSING"

	// StateActive means the object can be referenced by generation requests.
	StateActive State = "ACTIVE"

	// StateFailed means the store gave up processing the object.
	StateFailed State = "FAILED"
)

// String returns the string representation of the state.
func (s State) String() string {
	return string(s)
}

// Terminal reports whether no further transitions are expected.
func (s State) Terminal() bool {
	return s == StateActive || s == StateFailed
}

// IDPrefix is the collection prefix of canonical object ids.
const IDPrefix = "files/"

var tokenPattern = regexp.MustCompile(`^[a-z0-9-]+$`)

// RemoteObject is the store's record for one uploaded asset.
//
// Field names follow the store's JSON representation so a RemoteObject can
// be printed back unchanged.
type RemoteObject struct {
	// ID is the canonical id ("files/<token>"). Unique and stable.
	ID string `json:"name" yaml:"name"`

	DisplayName string `json:"displayName,omitempty" yaml:"displayName,omitempty"`
	MIMEType    string `json:"mimeType,omitempty" yaml:"mimeType,omitempty"`

	// URI is the locator used to reference the object from generation requests.
	URI string `json:"uri,omitempty" yaml:"uri,omitempty"`

	State State `json:"state,omitempty" yaml:"state,omitempty"`

	SizeBytes      string `json:"sizeBytes,omitempty" yaml:"sizeBytes,omitempty"`
	CreateTime     string `json:"createTime,omitempty" yaml:"createTime,omitempty"`
	UpdateTime     string `json:"updateTime,omitempty" yaml:"updateTime,omitempty"`
	ExpirationTime string `json:"expirationTime,omitempty" yaml:"expirationTime,omitempty"`
	SHA256Hash     string `json:"sha256Hash,omitempty" yaml:"sha256Hash,omitempty"`

	// Error is set by the store when processing failed.
	Error *Status `json:"error,omitempty" yaml:"error,omitempty"`
}

// Status is the store's error payload.
type Status struct {
	Code    int    `json:"code,omitempty" yaml:"code,omitempty"`
	Message string `json:"message,omitempty" yaml:"message,omitempty"`
	Status  string `json:"status,omitempty" yaml:"status,omitempty"`
}

// NormalizeID converts a user supplied identifier into canonical form.
//
// Bare tokens made of lowercase letters, digits and dashes gain the
// "files/" prefix; already-canonical ids pass through. Anything else is
// rejected.
func NormalizeID(raw string) (string, bool) {
	raw = strings.TrimSpace(raw)
	token := strings.TrimPrefix(raw, IDPrefix)
	if !tokenPattern.MatchString(token) {
		return "", false
	}
	return IDPrefix + token, true
}
