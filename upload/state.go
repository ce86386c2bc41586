package upload

import (
	"fmt"
	"sort"
	"strings"
	"sync"
)

// Status is the lifecycle stage of an upload.
type Status int

const (
	// StatusCreated means the remote service does not know about the upload yet.
	StatusCreated Status = iota
	// StatusInitiated means an upload id was assigned and parts can be uploaded.
	StatusInitiated
	// StatusCompleted is terminal.
	StatusCompleted
)

var statusNames = map[Status]string{
	StatusCreated:   "CREATED",
	StatusInitiated: "INITIATED",
	StatusCompleted: "COMPLETED",
}

func (s Status) String() string {
	if name, ok := statusNames[s]; ok {
		return name
	}
	return fmt.Sprintf("Status(%d)", int(s))
}

// MarshalText implements encoding.TextMarshaler.
func (s Status) MarshalText() ([]byte, error) {
	name, ok := statusNames[s]
	if !ok {
		return nil, fmt.Errorf("unknown status: %d", int(s))
	}
	return []byte(name), nil
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (s *Status) UnmarshalText(text []byte) error {
	for status, name := range statusNames {
		if name == string(text) {
			*s = status
			return nil
		}
	}
	return fmt.Errorf("unknown status: %q", text)
}

// Field is one component of an upload identifier.
type Field struct {
	Key   string `json:"key"`
	Value string `json:"value"`
}

// ID is the ordered set of fields that address an upload on the remote service,
// for example bucket, key and upload id.
type ID []Field

// Get returns the value stored under key.
func (id ID) Get(key string) (string, bool) {
	for _, f := range id {
		if f.Key == key {
			return f.Value, true
		}
	}
	return "", false
}

// With returns a copy of id with key set to value. An existing key keeps its position.
func (id ID) With(key, value string) ID {
	out := id.clone()
	for i := range out {
		if out[i].Key == key {
			out[i].Value = value
			return out
		}
	}
	return append(out, Field{Key: key, Value: value})
}

func (id ID) without(key string) ID {
	out := make(ID, 0, len(id))
	for _, f := range id {
		if f.Key != key {
			out = append(out, f)
		}
	}
	return out
}

func (id ID) String() string {
	fields := make([]string, 0, len(id))
	for _, f := range id {
		fields = append(fields, f.Key+"="+f.Value)
	}
	return strings.Join(fields, ",")
}

func (id ID) clone() ID {
	if id == nil {
		return nil
	}
	out := make(ID, len(id))
	copy(out, id)
	return out
}

// PartMetadata is the provider data needed to complete an upload with a part, such as its ETag.
type PartMetadata map[string]string

func (m PartMetadata) clone() PartMetadata {
	if m == nil {
		return nil
	}
	out := make(PartMetadata, len(m))
	for k, v := range m {
		out[k] = v
	}
	return out
}

// UploadedPart is a part recorded as successfully uploaded.
type UploadedPart struct {
	Number   int          `json:"number"`
	Metadata PartMetadata `json:"metadata,omitempty"`
}

// State is the identity and progress record of one multipart upload.
// It is safe for concurrent use; an Upload call holds it exclusively while running.
type State struct {
	mu sync.Mutex

	id            ID
	uploadIDKey   string
	partSize      int64
	uploadedParts map[int]PartMetadata
	status        Status

	thresholds    []Progress
	totalSize     int64
	uploadedBytes int64

	busy bool
}

// NewState creates a state for a new upload. id must not contain the upload id yet;
// it is added under the client's upload id key on initiation.
func NewState(id ID, partSize int64) (*State, error) {
	if partSize <= 0 {
		return nil, &ConfigError{Field: "PartSize", Err: fmt.Errorf("must be positive, got %d", partSize)}
	}

	return &State{
		id:            id.clone(),
		partSize:      partSize,
		uploadedParts: map[int]PartMetadata{},
		status:        StatusCreated,
		totalSize:     -1,
	}, nil
}

// ResumeState reconstructs the state of an upload that was initiated earlier, for example by
// another process. id must contain uploadIDKey.
func ResumeState(id ID, uploadIDKey string, partSize int64, uploaded []UploadedPart) (*State, error) {
	if _, ok := id.Get(uploadIDKey); !ok || uploadIDKey == "" {
		return nil, fmt.Errorf("%w: id has no %q field", ErrInvalidState, uploadIDKey)
	}

	s, err := NewState(id, partSize)
	if err != nil {
		return nil, err
	}
	for _, p := range uploaded {
		if p.Number < 1 {
			return nil, fmt.Errorf("%w: invalid part number %d", ErrInvalidState, p.Number)
		}
		s.uploadedParts[p.Number] = p.Metadata.clone()
	}
	s.uploadIDKey = uploadIDKey
	s.status = StatusInitiated

	return s, nil
}

// ID returns a copy of the upload identifier.
func (s *State) ID() ID {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.id.clone()
}

// UploadID returns the provider assigned upload id, or "" before initiation.
func (s *State) UploadID() string {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.uploadIDKey == "" {
		return ""
	}
	v, _ := s.id.Get(s.uploadIDKey)
	return v
}

// PartSize returns the byte size parts are sliced with.
func (s *State) PartSize() int64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.partSize
}

// Status returns the lifecycle stage.
func (s *State) Status() Status {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.status
}

// IsInitiated reports whether the upload was initiated. Completed uploads count as initiated.
func (s *State) IsInitiated() bool {
	return s.Status() != StatusCreated
}

// IsCompleted reports whether the upload reached its terminal stage.
func (s *State) IsCompleted() bool {
	return s.Status() == StatusCompleted
}

// HasPartBeenUploaded reports whether part n is recorded as uploaded.
func (s *State) HasPartBeenUploaded(n int) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.uploadedParts[n]
	return ok
}

// UploadedParts returns the recorded parts sorted by part number.
func (s *State) UploadedParts() []UploadedPart {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.sortedParts()
}

func (s *State) sortedParts() []UploadedPart {
	out := make([]UploadedPart, 0, len(s.uploadedParts))
	for n, m := range s.uploadedParts {
		out = append(out, UploadedPart{Number: n, Metadata: m.clone()})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Number < out[j].Number })
	return out
}

// MarkPartAsUploaded records part n of an initiated upload. Recording the same part again
// overwrites its metadata.
func (s *State) MarkPartAsUploaded(n int, metadata PartMetadata) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	switch s.status {
	case StatusCompleted:
		return ErrAlreadyCompleted
	case StatusCreated:
		return fmt.Errorf("%w: part %d recorded before the upload was initiated", ErrInvalidState, n)
	}
	if n < 1 {
		return fmt.Errorf("invalid part number: %d", n)
	}
	s.uploadedParts[n] = metadata.clone()
	return nil
}

func (s *State) markInitiated(uploadIDKey, uploadID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.status != StatusCreated {
		return fmt.Errorf("%w: cannot initiate an upload in status %s", ErrInvalidState, s.status)
	}
	s.id = s.id.without(uploadIDKey).With(uploadIDKey, uploadID)
	s.uploadIDKey = uploadIDKey
	s.status = StatusInitiated
	return nil
}

func (s *State) markCompleted() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.status != StatusInitiated {
		return fmt.Errorf("%w: cannot complete an upload in status %s", ErrInvalidState, s.status)
	}
	s.status = StatusCompleted
	return nil
}

func (s *State) acquire() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.busy {
		return ErrStateInUse
	}
	s.busy = true
	return nil
}

func (s *State) release() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.busy = false
}
