package queue

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewSkillExecuteTask(t *testing.T) {
	t.Parallel()

	task, err := NewSkillExecuteTask(SkillExecutePayload{
		SkillID: "skill-1",
		OrgID:   "org-1",
		UserID:  "user-1",
		Input:   map[string]any{"diff": "..."},
	})
	require.NoError(t, err)

	assert.Equal(t, TypeSkillExecute, task.Type())

	var p SkillExecutePayload
	require.NoError(t, json.Unmarshal(task.Payload(), &p))
	assert.Equal(t, "skill-1", p.SkillID)
	assert.Equal(t, "org-1", p.OrgID)
	assert.Equal(t, "...", p.Input["diff"])
}

func TestNewReflexProcessTask(t *testing.T) {
	t.Parallel()

	task, err := NewReflexProcessTask(ReflexProcessPayload{
		ReflexID: "reflex-1",
		Event:    map[string]any{"repo": "kijko-api"},
	})
	require.NoError(t, err)

	assert.Equal(t, TypeReflexProcess, task.Type())

	var p ReflexProcessPayload
	require.NoError(t, json.Unmarshal(task.Payload(), &p))
	assert.Equal(t, "reflex-1", p.ReflexID)
}

func TestNewCleanupTask_DefaultsRetention(t *testing.T) {
	t.Parallel()

	task, err := NewCleanupTask(0)
	require.NoError(t, err)

	var p CleanupPayload
	require.NoError(t, json.Unmarshal(task.Payload(), &p))
	assert.Equal(t, DefaultRetentionDays, p.RetentionDays)
}

func TestNewCheckDueHabitsTask(t *testing.T) {
	t.Parallel()

	task := NewCheckDueHabitsTask()
	assert.Equal(t, TypeHabitsCheckDue, task.Type())
	assert.Empty(t, task.Payload())
}
