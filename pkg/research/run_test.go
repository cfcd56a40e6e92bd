package research

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRunAdvanceIsMonotonic(t *testing.T) {
	run := newRun(Query{Text: "q", RunID: "r"}, 2)
	assert.Equal(t, StageInfoGathering, run.Stage())

	assert.ErrorIs(t, run.advance(StageDone), ErrStageRegression)
	require.NoError(t, run.advance(StageFinalWriting))
	assert.ErrorIs(t, run.advance(StageInfoGathering), ErrStageRegression)
	assert.ErrorIs(t, run.advance(StageFinalWriting), ErrStageRegression)
	require.NoError(t, run.advance(StageDone))
	assert.Equal(t, StageDone, run.Stage())
}

func TestRunRecordEnforcesBudget(t *testing.T) {
	run := newRun(Query{Text: "q"}, 2)
	require.NoError(t, run.record(IterationRecord{Index: 1}))
	require.NoError(t, run.record(IterationRecord{Index: 2}))
	assert.ErrorIs(t, run.record(IterationRecord{Index: 3}), ErrIterationBudget)
	assert.Equal(t, 2, run.IterationCount())
}

func TestRunNotesAreCopied(t *testing.T) {
	run := newRun(Query{Text: "q"}, 1)
	run.appendNotes(ResearchNote{SubQuestion: "a", Findings: "1234"})

	notes := run.Notes()
	notes[0].Findings = "mutated"
	assert.Equal(t, "1234", run.Notes()[0].Findings)
	assert.Equal(t, 5, run.notesSize())

	run.replaceNotes([]ResearchNote{{SubQuestion: "b", Findings: "x"}})
	assert.Equal(t, 2, run.notesSize())
}

func TestHashDraftChangesWithContent(t *testing.T) {
	assert.Equal(t, hashDraft("a"), hashDraft("a"))
	assert.NotEqual(t, hashDraft("a"), hashDraft("b"))
	assert.Len(t, hashDraft(""), 64)
}

func TestStageJSON(t *testing.T) {
	b, err := json.Marshal(Result{Stage: StageFinalWriting})
	require.NoError(t, err)
	assert.Contains(t, string(b), `"stage":"final_writing"`)

	var res Result
	require.NoError(t, json.Unmarshal(b, &res))
	assert.Equal(t, StageFinalWriting, res.Stage)

	var s Stage
	assert.Error(t, s.UnmarshalText([]byte("later")))
}
