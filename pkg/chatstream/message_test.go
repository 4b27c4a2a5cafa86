// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package chatstream

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTranscript_BeginRejectsSecondTurn(t *testing.T) {
	tr := NewTranscript()

	require.NoError(t, tr.Begin(Message{ID: "1"}))
	assert.ErrorIs(t, tr.Begin(Message{ID: "2"}), ErrTurnInFlight)
	assert.Equal(t, 1, tr.Len())
	assert.Equal(t, 1, tr.LoadingCount())
}

func TestTranscript_FinishClearsLoading(t *testing.T) {
	tr := NewTranscript()
	require.NoError(t, tr.Begin(Message{ID: "1"}))

	at := time.Date(2025, 1, 2, 3, 4, 5, 0, time.UTC)
	tr.Finish(at)

	assert.Nil(t, tr.Current())
	assert.Zero(t, tr.LoadingCount())
	msgs := tr.Messages()
	require.Len(t, msgs, 1)
	assert.Equal(t, at, msgs[0].FinishedAt)

	require.NoError(t, tr.Begin(Message{ID: "2"}))
	assert.Equal(t, "2", tr.Current().ID)
}

func TestTranscript_FinishWithoutTurnIsNoop(t *testing.T) {
	tr := NewTranscript()
	tr.Finish(time.Now())
	assert.Zero(t, tr.Len())
}

func TestTranscript_PreservesInsertionOrder(t *testing.T) {
	tr := NewTranscript()
	tr.AppendFinished(Message{ID: "a"}, Message{ID: "a"}, Message{ID: "b"})
	require.NoError(t, tr.Begin(Message{ID: "c"}))

	var ids []string
	for _, m := range tr.Messages() {
		ids = append(ids, m.ID)
	}
	assert.Equal(t, []string{"a", "a", "b", "c"}, ids, "no reordering or dedup")
}

func TestTranscript_AppendFinishedCopiesInput(t *testing.T) {
	in := []Message{{ID: "h", Loading: true, Metadata: []MetadataRecord{{Name: "ISO 42001"}}}}

	tr := NewTranscript()
	tr.AppendFinished(in...)
	in[0].Metadata[0].Name = "changed"

	msgs := tr.Messages()
	assert.False(t, msgs[0].Loading)
	assert.Equal(t, "ISO 42001", msgs[0].Metadata[0].Name)
}

func TestMessageClone_DeepCopiesMetadata(t *testing.T) {
	orig := Message{Metadata: []MetadataRecord{{KeyFeatures: []string{"x"}}}}

	clone := orig.Clone()
	clone.Metadata[0].KeyFeatures[0] = "y"

	assert.Equal(t, "x", orig.Metadata[0].KeyFeatures[0])
}

func TestTurnBuffer_Accumulates(t *testing.T) {
	var b turnBuffer
	start := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)
	b.begin(start)

	assert.True(t, b.empty())
	assert.Equal(t, "Hel", b.write("Hel", start.Add(time.Second)))
	assert.Equal(t, "Hello", b.write("lo", start.Add(2*time.Second)))
	assert.True(t, b.receivedData)
	assert.Equal(t, 2, b.tokens)
	assert.Equal(t, start.Add(time.Second), b.firstTokenAt)

	b.stash([]MetadataRecord{{Name: "NIST AI RMF"}})
	require.Len(t, b.metadata, 1)

	b.reset()
	assert.True(t, b.empty())
	assert.False(t, b.receivedData)
	assert.Nil(t, b.metadata)
}

func TestTurnPhaseString(t *testing.T) {
	assert.Equal(t, "idle", PhaseIdle.String())
	assert.Equal(t, "awaiting", PhaseAwaiting.String())
	assert.Equal(t, "streaming", PhaseStreaming.String())
	assert.Equal(t, "finalizing", PhaseFinalizing.String())
	assert.Equal(t, "unknown", TurnPhase(42).String())
}
