package startup

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestLifecycleClosesInReverse(t *testing.T) {
	l := NewLifecycle(nil)

	var order []string
	for _, name := range []string{"auth", "updates", "notifications"} {
		name := name
		l.Add(name, func() { order = append(order, name) })
	}
	l.Add("nil", nil)

	l.Close()
	l.Close()

	assert.Equal(t, []string{"notifications", "updates", "auth"}, order)
}

func TestLifecycleSurvivesPanic(t *testing.T) {
	l := NewLifecycle(nil)

	ran := false
	l.Add("first", func() { ran = true })
	l.Add("broken", func() { panic("boom") })

	assert.NotPanics(t, l.Close)
	assert.True(t, ran)
}

func TestLifecycleAddAfterClose(t *testing.T) {
	l := NewLifecycle(nil)
	l.Close()

	ran := false
	l.Add("late", func() { ran = true })
	assert.True(t, ran)
}
