package upload

import (
	"github.com/bitrise-io/go-multipart/upload/executor"
	"github.com/bitrise-io/go-utils/v2/log"
	"github.com/docker/go-units"
)

// resultHandler records part outcomes into the state. It runs on the collecting goroutine only.
type resultHandler struct {
	state      *State
	errs       map[int]error
	onProgress func(Progress)
	metrics    *Metrics
	logger     log.Logger
}

func newResultHandler(state *State, config Config, logger log.Logger) *resultHandler {
	h := &resultHandler{
		state:      state,
		errs:       map[int]error{},
		onProgress: config.OnProgress,
		metrics:    config.Metrics,
		logger:     logger,
	}
	if h.onProgress == nil {
		h.onProgress = h.logProgress
	}
	return h
}

func (h *resultHandler) handle(r executor.Result[*PartInput, PartMetadata]) {
	n := r.Item.Number()
	h.metrics.partFinished(r.Item.Size(), r.Duration, r.Err)

	if r.Err != nil {
		h.logger.Warnf("Part %d failed after %s: %s", n, r.Duration, r.Err)
		h.errs[n] = &CallError{Op: OpUploadPart, PartNumber: n, Err: r.Err}
		return
	}

	if err := h.state.MarkPartAsUploaded(n, r.Value); err != nil {
		h.errs[n] = &CallError{Op: OpUploadPart, PartNumber: n, Err: err}
		return
	}
	h.logger.Debugf("Part %d uploaded (%s) in %s", n, units.HumanSizeWithPrecision(float64(r.Item.Size()), 3), r.Duration)

	h.progress(h.state.addUploadedBytes(r.Item.Size()))
}

func (h *resultHandler) progress(reached []Progress) {
	for _, p := range reached {
		h.onProgress(p)
	}
}

func (h *resultHandler) logProgress(p Progress) {
	h.logger.Printf("Uploaded %s of %s (%.1f%%)",
		units.HumanSizeWithPrecision(float64(p.Bytes), 3),
		units.HumanSizeWithPrecision(float64(p.Total), 3),
		p.Percent)
}
