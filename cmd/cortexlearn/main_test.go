package main

import (
	"bytes"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/normanking/cortexlearn/internal/lesson"
	"github.com/normanking/cortexlearn/internal/voice"
)

func TestParseScript(t *testing.T) {
	steps, err := parseScript("6s:confused, 3s:SIMPLIFY,,")
	require.NoError(t, err)
	require.Len(t, steps, 2)
	assert.Equal(t, scriptStep{at: 3 * time.Second, cmd: voice.CommandSimplify}, steps[0])
	assert.Equal(t, scriptStep{at: 6 * time.Second, cmd: voice.CommandConfused}, steps[1])

	steps, err = parseScript("")
	require.NoError(t, err)
	assert.Empty(t, steps)

	for _, bad := range []string{"SIMPLIFY", "soon:SKIP", "1s:DANCE"} {
		_, err := parseScript(bad)
		assert.Error(t, err, bad)
	}
}

func TestFinisher(t *testing.T) {
	ev, ok := finisher(lesson.StateChallenge)
	require.True(t, ok)
	assert.Equal(t, lesson.KindComplete, ev.Kind())

	ev, ok = finisher(lesson.StateProve)
	require.True(t, ok)
	assert.Equal(t, lesson.KindSubmitted, ev.Kind())

	ev, ok = finisher(lesson.StateFeedback)
	require.True(t, ok)
	assert.Equal(t, lesson.KindComplete, ev.Kind())

	_, ok = finisher(lesson.StateExplain)
	assert.False(t, ok)
}

func TestFormatData(t *testing.T) {
	assert.Equal(t, "a=1 b=x", formatData(map[string]any{"b": "x", "a": 1}))
	assert.Empty(t, formatData(nil))
}

func TestLessonCommands(t *testing.T) {
	var out bytes.Buffer
	cmd := lessonCmd()
	cmd.SetOut(&out)
	cmd.SetArgs([]string{"validate", "../../lessons/channels.yaml"})
	require.NoError(t, cmd.Execute())
	assert.Contains(t, out.String(), "ok   ../../lessons/channels.yaml")

	out.Reset()
	cmd = lessonCmd()
	cmd.SetOut(&out)
	cmd.SetArgs([]string{"show", "../../lessons/channels.yaml"})
	require.NoError(t, cmd.Execute())
	assert.Contains(t, out.String(), "Channels in Go (go-channels), 3 segments")
	assert.Contains(t, out.String(), "buffering")

	cmd = lessonCmd()
	cmd.SetOut(&out)
	cmd.SetErr(&out)
	cmd.SetArgs([]string{"validate", "missing.yaml"})
	assert.Error(t, cmd.Execute())
}
