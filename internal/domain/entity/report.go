package entity

// FrameOutcome is the terminal result of dispatching one frame: either a
// non-negative detection count or a classified error, never both.
type FrameOutcome struct {
	Index        int         `json:"-"`
	Frame        string      `json:"frame"`
	GarbageCount int         `json:"garbage_count"`
	ErrorKind    FailureKind `json:"error_kind,omitempty"`
	ErrorMessage string      `json:"error,omitempty"`
}

func SuccessOutcome(frame Frame, count int) FrameOutcome {
	return FrameOutcome{Index: frame.Index, Frame: frame.Name, GarbageCount: count}
}

func FailureOutcome(frame Frame, kind FailureKind, msg string) FrameOutcome {
	return FrameOutcome{Index: frame.Index, Frame: frame.Name, ErrorKind: kind, ErrorMessage: msg}
}

func (o FrameOutcome) Failed() bool {
	return o.ErrorKind != ""
}

// Report is the aggregated summary of one pipeline run, ordered by frame
// index. Immutable after construction.
type Report struct {
	Video               string         `json:"video,omitempty"`
	StepSeconds         float64        `json:"step_seconds,omitempty"`
	VideoDuration       float64        `json:"video_duration_seconds,omitempty"`
	FramesProcessed     int            `json:"frames_processed"`
	TotalGarbageCount   int            `json:"total_garbage_count"`
	AverageGarbageCount float64        `json:"average_garbage_count"`
	FailedFrameCount    int            `json:"failed_frame_count"`
	Partial             bool           `json:"partial,omitempty"`
	FrameResults        []FrameOutcome `json:"frame_results"`
}

// Aggregate folds per-frame outcomes into a report. Outcomes must already be
// ordered by frame index; failed frames contribute 0 to the total but are
// counted in frames_processed. An empty input is always an error so that a
// run with nothing dispatched can never masquerade as a clean zero report.
func Aggregate(outcomes []FrameOutcome, partial bool) (*Report, error) {
	if len(outcomes) == 0 {
		return nil, ErrNoFramesProcessed
	}

	total := 0
	failed := 0
	for _, o := range outcomes {
		if o.Failed() {
			failed++
			continue
		}
		total += o.GarbageCount
	}

	return &Report{
		FramesProcessed:     len(outcomes),
		TotalGarbageCount:   total,
		AverageGarbageCount: float64(total) / float64(len(outcomes)),
		FailedFrameCount:    failed,
		Partial:             partial,
		FrameResults:        outcomes,
	}, nil
}
