package queue

import (
	"encoding/json"
	"fmt"

	"github.com/hshdacs/Hall-of-Fame/internal/domain"
)

// Job is one dequeued build request together with its attempt bookkeeping.
type Job struct {
	ID           string
	Build        domain.BuildJob
	AttemptsMade int
	MaxAttempts  int
}

// FinalAttempt reports whether a failure of the current attempt would be
// terminal. Terminal status writes belong to the final attempt only.
func (j Job) FinalAttempt() bool {
	return j.AttemptsMade+1 >= j.MaxAttempts
}

func marshalBuild(build domain.BuildJob) (string, error) {
	raw, err := json.Marshal(build)
	if err != nil {
		return "", fmt.Errorf("marshal build job: %w", err)
	}
	return string(raw), nil
}

func unmarshalBuild(raw string) (domain.BuildJob, error) {
	var build domain.BuildJob
	if err := json.Unmarshal([]byte(raw), &build); err != nil {
		return domain.BuildJob{}, fmt.Errorf("unmarshal build job: %w", err)
	}
	return build, nil
}
