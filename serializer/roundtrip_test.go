package serializer_test

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	scxml "github.com/agentflare-ai/go-scxml"
	"github.com/agentflare-ai/go-scxml/reader"
	"github.com/agentflare-ai/go-scxml/serializer"
)

const richDoc = `<scxml name='machine' datamodel='expression' initial='A' binding='late'>
  <datamodel><data id='x' expr='1'/><data id='items' expr='[1,2,3]'/></datamodel>
  <script>counter ?= 0</script>
  <state id='A'>
    <onentry>
      <log label='trace' expr="'entering A'"/>
      <raise event='warmup'/>
      <if cond='x == 1'>
        <assign location='x' expr='2'/>
      <elseif cond='x == 2'/>
        <assign location='x' expr='3'/>
      <else/>
        <assign location='x' expr='0'/>
      </if>
      <foreach array='items' item='it' index='i'>
        <assign location='counter' expr='counter + it'/>
      </foreach>
      <send id='ping' event='ping' target='#_internal'/>
      <cancel sendid='ping'/>
    </onentry>
    <onexit><log expr="'leaving'"/></onexit>
    <transition event='go.deep done' cond='x &gt; 1' target='B P'/>
    <transition event='loop' type='internal' target='A1'/>
    <state id='A1'/>
    <history id='H' type='deep'><transition target='A1'/></history>
  </state>
  <parallel id='P'>
    <state id='Pa'/>
    <state id='Pb'/>
  </parallel>
  <state id='B'>
    <invoke type='scxml' src='child.scxml' id='kid' autoforward='true'>
      <param name='seed' expr='x'/>
      <finalize><assign location='x' expr='_event.data'/></finalize>
    </invoke>
  </state>
  <final id='F'>
    <donedata><param name='result' expr='x'/></donedata>
  </final>
</scxml>`

func parseRich(t *testing.T) *scxml.Fsm {
	t.Helper()
	fsm, err := reader.Parse([]byte(richDoc), nil)
	require.NoError(t, err)
	return fsm
}

func TestRoundTripIsLossless(t *testing.T) {
	original := parseRich(t)

	var first bytes.Buffer
	require.NoError(t, serializer.Write(original, &first))

	loaded, err := serializer.Read(bytes.NewReader(first.Bytes()))
	require.NoError(t, err)

	// Writing the loaded document again must reproduce the same bytes:
	// the binary form is canonical for everything the model holds.
	var second bytes.Buffer
	require.NoError(t, serializer.Write(loaded, &second))
	assert.Equal(t, first.Bytes(), second.Bytes())
}

func TestRoundTripPreservesStructure(t *testing.T) {
	original := parseRich(t)
	var buf bytes.Buffer
	require.NoError(t, serializer.Write(original, &buf))
	loaded, err := serializer.Read(&buf)
	require.NoError(t, err)

	assert.Equal(t, original.Name, loaded.Name)
	assert.Equal(t, original.DatamodelName, loaded.DatamodelName)
	assert.Equal(t, original.Binding, loaded.Binding)
	assert.Equal(t, original.Root, loaded.Root)
	assert.Equal(t, original.InitialTransition, loaded.InitialTransition)
	require.Len(t, loaded.States, len(original.States))
	require.Len(t, loaded.Transitions, len(original.Transitions))
	require.Len(t, loaded.Content, len(original.Content))

	for i := range original.States {
		o, l := &original.States[i], &loaded.States[i]
		assert.Equal(t, o.ID, l.ID)
		assert.Equal(t, o.Name, l.Name)
		assert.Equal(t, o.Parent, l.Parent)
		assert.Equal(t, o.Children, l.Children)
		assert.Equal(t, o.IsParallel, l.IsParallel)
		assert.Equal(t, o.IsFinal, l.IsFinal)
		assert.Equal(t, o.History, l.History)
		assert.Equal(t, o.HistoryStates, l.HistoryStates)
		assert.Equal(t, o.Transitions, l.Transitions)
		assert.Equal(t, len(o.Invokes), len(l.Invokes))
	}
	for i := range original.Transitions {
		o, l := &original.Transitions[i], &loaded.Transitions[i]
		assert.Equal(t, o.Source, l.Source)
		assert.Equal(t, o.Targets, l.Targets)
		assert.Equal(t, o.Events, l.Events)
		assert.Equal(t, o.Wildcard, l.Wildcard)
		assert.Equal(t, o.Cond.Code, l.Cond.Code)
		assert.Equal(t, o.TType, l.TType)
	}
	for i := range original.Content {
		require.Len(t, loaded.Content[i], len(original.Content[i]))
		for j := range original.Content[i] {
			assert.Equal(t, original.Content[i][j].Kind(), loaded.Content[i][j].Kind())
		}
	}

	// The name index is rebuilt on load.
	id, ok := loaded.StateByName("Pa")
	assert.True(t, ok)
	assert.Equal(t, loaded.State(id).Name, "Pa")
}

func TestVersionMismatchFailsLoad(t *testing.T) {
	original := parseRich(t)
	var buf bytes.Buffer
	require.NoError(t, serializer.Write(original, &buf))

	corrupted := buf.Bytes()
	corrupted[4] ^= 0xFF
	_, err := serializer.Read(bytes.NewReader(corrupted))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "version mismatch")
}

func TestTruncatedStreamFailsLoad(t *testing.T) {
	original := parseRich(t)
	var buf bytes.Buffer
	require.NoError(t, serializer.Write(original, &buf))
	_, err := serializer.Read(bytes.NewReader(buf.Bytes()[:buf.Len()/2]))
	assert.Error(t, err)
}
