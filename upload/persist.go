package upload

import (
	"encoding/json"
	"fmt"
)

type stateJSON struct {
	ID            ID             `json:"id"`
	UploadIDKey   string         `json:"upload_id_key,omitempty"`
	PartSize      int64          `json:"part_size"`
	UploadedParts []UploadedPart `json:"uploaded_parts"`
	Status        Status         `json:"status"`
}

// MarshalJSON persists the identity, part size, uploaded parts and status.
// Progress checkpoints are not persisted; they are recomputed by the next Upload call.
func (s *State) MarshalJSON() ([]byte, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	return json.Marshal(stateJSON{
		ID:            s.id,
		UploadIDKey:   s.uploadIDKey,
		PartSize:      s.partSize,
		UploadedParts: s.sortedParts(),
		Status:        s.status,
	})
}

// UnmarshalJSON restores a state written by MarshalJSON. It returns ErrInvalidState
// if the data violates the state invariants.
func (s *State) UnmarshalJSON(data []byte) error {
	var v stateJSON
	if err := json.Unmarshal(data, &v); err != nil {
		return fmt.Errorf("%w: %s", ErrInvalidState, err)
	}

	if v.PartSize <= 0 {
		return fmt.Errorf("%w: part size must be positive, got %d", ErrInvalidState, v.PartSize)
	}

	_, hasUploadID := v.ID.Get(v.UploadIDKey)
	hasUploadID = hasUploadID && v.UploadIDKey != ""
	switch {
	case v.Status == StatusCreated && hasUploadID:
		return fmt.Errorf("%w: upload id set on a state that was not initiated", ErrInvalidState)
	case v.Status != StatusCreated && !hasUploadID:
		return fmt.Errorf("%w: upload id missing from a %s state", ErrInvalidState, v.Status)
	case v.Status == StatusCreated && len(v.UploadedParts) > 0:
		return fmt.Errorf("%w: uploaded parts recorded on a state that was not initiated", ErrInvalidState)
	}

	uploaded := make(map[int]PartMetadata, len(v.UploadedParts))
	for _, p := range v.UploadedParts {
		if p.Number < 1 {
			return fmt.Errorf("%w: invalid part number %d", ErrInvalidState, p.Number)
		}
		uploaded[p.Number] = p.Metadata
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.busy {
		return ErrStateInUse
	}
	s.id = v.ID
	s.uploadIDKey = v.UploadIDKey
	s.partSize = v.PartSize
	s.uploadedParts = uploaded
	s.status = v.Status
	s.thresholds = nil
	s.totalSize = -1
	s.uploadedBytes = 0

	return nil
}
