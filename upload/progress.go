package upload

const progressSteps = 8

// Progress is a checkpoint crossed by the uploaded byte count.
type Progress struct {
	Bytes   int64
	Total   int64
	Percent float64
}

// SetProgressThresholds computes the checkpoints at 0%, 12.5%, ... 100% of totalSize.
// Any checkpoints left from an earlier call are replaced.
func (s *State) SetProgressThresholds(totalSize int64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.resetThresholds(totalSize)
}

// initProgressThresholds computes the checkpoints unless they already exist for totalSize,
// so checkpoints consumed by an earlier attempt on the same state stay consumed.
func (s *State) initProgressThresholds(totalSize int64) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.thresholds != nil && s.totalSize == totalSize {
		return
	}
	s.resetThresholds(totalSize)
}

func (s *State) resetThresholds(totalSize int64) {
	s.totalSize = totalSize
	s.thresholds = make([]Progress, 0, progressSteps+1)
	for i := 0; i <= progressSteps; i++ {
		s.thresholds = append(s.thresholds, Progress{
			Bytes:   totalSize * int64(i) / progressSteps,
			Total:   totalSize,
			Percent: float64(i) * 100 / progressSteps,
		})
	}
}

// DisplayProgress consumes and returns every checkpoint that cumulative has reached.
// A checkpoint is returned at most once, in ascending order.
func (s *State) DisplayProgress(cumulative int64) []Progress {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.consumeThresholds(cumulative)
}

func (s *State) consumeThresholds(cumulative int64) []Progress {
	var reached []Progress
	for len(s.thresholds) > 0 && s.thresholds[0].Bytes <= cumulative {
		reached = append(reached, s.thresholds[0])
		s.thresholds = s.thresholds[1:]
	}
	return reached
}

// UploadedBytes returns the bytes counted toward progress so far.
func (s *State) UploadedBytes() int64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.uploadedBytes
}

func (s *State) addUploadedBytes(n int64) []Progress {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.uploadedBytes += n
	return s.consumeThresholds(s.uploadedBytes)
}

func (s *State) setUploadedBytes(n int64) []Progress {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.uploadedBytes = n
	return s.consumeThresholds(s.uploadedBytes)
}
