package serve

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"

	tdev "github.com/tdevlabs/tdev"
)

func TestFailureMessageNamesFailingStage(t *testing.T) {
	run := &tdev.Run{ID: "r1"}

	err := &tdev.StageError{
		RunID:    "r1",
		Stage:    "generate",
		Attempts: 3,
		Err:      errors.New("rate limited"),
	}
	msg := failureMessage(run, err)
	assert.Contains(t, msg, "r1")
	assert.Contains(t, msg, "failed at generate")

	// Errors without stage information fall back to the plain form.
	msg = failureMessage(run, errors.New("context canceled"))
	assert.Contains(t, msg, "Run r1 failed:")
	assert.NotContains(t, msg, "failed at")
}
