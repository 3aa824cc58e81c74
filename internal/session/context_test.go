package session

import (
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestUpdateDoesNotMutateReceiver(t *testing.T) {
	base := NewContext()

	next := base.Update(TurnInfo{
		Utterance: "berätta om psv 2415-7",
		ProductID: "50025313",
		Property:  "vikt",
		Intent:    IntentSummary,
	})

	assert.Empty(t, base.History)
	assert.Empty(t, base.ActiveProduct)
	assert.Empty(t, base.PreviousIntent)

	require.Len(t, next.History, 1)
	assert.Equal(t, "50025313", next.ActiveProduct)
	assert.Equal(t, "vikt", next.LastProperty)
	assert.Equal(t, IntentSummary, next.PreviousIntent)
	assert.Equal(t, []string{"50025313"}, next.MentionedProducts)
	assert.Equal(t, base.SessionID, next.SessionID)
}

func TestUpdateEmptyFieldsKeepState(t *testing.T) {
	ctx := NewContext().Update(TurnInfo{
		Utterance: "vad väger psv 2415-7",
		ProductID: "50025313",
		Property:  "vikt",
		Intent:    IntentTechnical,
	})

	next := ctx.Update(TurnInfo{Utterance: "öh"})

	assert.Equal(t, "50025313", next.ActiveProduct)
	assert.Equal(t, "vikt", next.LastProperty)
	assert.Equal(t, IntentTechnical, next.PreviousIntent)
	assert.Len(t, next.History, 2)
}

func TestHistoryCap(t *testing.T) {
	ctx := NewContext()
	for i := 1; i <= HistoryLimit+2; i++ {
		ctx = ctx.Update(TurnInfo{Utterance: fmt.Sprintf("tur %d", i)})
	}

	require.Len(t, ctx.History, HistoryLimit)
	assert.Equal(t, "tur 3", ctx.History[0].Text, "oldest utterances are evicted first")
	assert.Equal(t, "tur 12", ctx.History[HistoryLimit-1].Text)
}

func TestMentionDeduplicates(t *testing.T) {
	ctx := NewContext().
		Mention("50025313", "50025399").
		Mention("50025313", "")

	assert.Equal(t, []string{"50025313", "50025399"}, ctx.MentionedProducts)
	assert.Empty(t, ctx.ActiveProduct, "mentions never move focus")
}

func TestStageProgression(t *testing.T) {
	ctx := NewContext()
	assert.Equal(t, StageInitial, ctx.Stage())

	ctx = ctx.Update(TurnInfo{
		Utterance: "berätta om psv 2415-7",
		ProductID: "50025313",
		Intent:    IntentSummary,
	})
	assert.Equal(t, StageProductExploration, ctx.Stage())

	ctx = ctx.Update(TurnInfo{
		Utterance: "vad är vikten?",
		Intent:    IntentTechnical,
	})
	assert.Equal(t, StageDetailedInquiry, ctx.Stage())
}

func TestLabelsAndPriority(t *testing.T) {
	labels := Labels()

	require.Len(t, labels, 5)
	for i, label := range labels {
		assert.Equal(t, i, Priority(label))
	}
	assert.Equal(t, len(labels), Priority(IntentClarification), "clarification is never ranked")
}
