package session_test

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Veraticus/ollamacord/internal/session"
)

const alice session.UserID = "111"

func TestManager_ModelDefaults(t *testing.T) {
	m := session.NewManager()

	assert.Equal(t, "dolphin24b", m.Model(alice, "dolphin24b"))

	m.SetModel(alice, "llama3")
	assert.Equal(t, "llama3", m.Model(alice, "dolphin24b"))

	// Other users are untouched
	assert.Equal(t, "dolphin24b", m.Model("222", "dolphin24b"))
}

func TestManager_ChangesClearContext(t *testing.T) {
	tests := []struct {
		name   string
		change func(m *session.Manager)
	}{
		{
			name:   "set model",
			change: func(m *session.Manager) { m.SetModel(alice, "mistral") },
		},
		{
			name:   "set same model",
			change: func(m *session.Manager) { m.SetModel(alice, "llama3") },
		},
		{
			name:   "set system prompt",
			change: func(m *session.Manager) { m.SetSystemPrompt(alice, "be brief") },
		},
		{
			name:   "clear system prompt",
			change: func(m *session.Manager) { m.ClearSystemPrompt(alice) },
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			m := session.NewManager()
			m.SetModel(alice, "llama3")
			m.SetContext(alice, []int{1, 2, 3})
			require.True(t, m.HasContext(alice))

			tt.change(m)

			assert.False(t, m.HasContext(alice))
			assert.Nil(t, m.Context(alice))
		})
	}
}

func TestManager_SystemPrompt(t *testing.T) {
	m := session.NewManager()

	_, ok := m.SystemPrompt(alice)
	assert.False(t, ok)
	assert.False(t, m.ClearSystemPrompt(alice), "nothing to clear yet")

	m.SetSystemPrompt(alice, "You are a pirate.")
	prompt, ok := m.SystemPrompt(alice)
	require.True(t, ok)
	assert.Equal(t, "You are a pirate.", prompt)

	assert.True(t, m.ClearSystemPrompt(alice))
	_, ok = m.SystemPrompt(alice)
	assert.False(t, ok)
}

func TestManager_ClearContext(t *testing.T) {
	m := session.NewManager()
	assert.False(t, m.ClearContext(alice), "unknown user has no context")

	m.SetModel(alice, "llama3")
	m.SetSystemPrompt(alice, "terse")
	m.SetContext(alice, []int{7})

	assert.True(t, m.ClearContext(alice))
	assert.False(t, m.ClearContext(alice), "second clear reports empty")

	// Only the context is removed
	assert.Equal(t, "llama3", m.Model(alice, "x"))
	prompt, ok := m.SystemPrompt(alice)
	assert.True(t, ok)
	assert.Equal(t, "terse", prompt)
}

func TestManager_ContextReplacedWholesale(t *testing.T) {
	m := session.NewManager()

	m.SetContext(alice, []int{1, 2, 3})
	m.SetContext(alice, []int{9})

	assert.Equal(t, []int{9}, m.Context(alice))
}

func TestManager_ContextIsCopied(t *testing.T) {
	m := session.NewManager()

	in := []int{1, 2, 3}
	m.SetContext(alice, in)
	in[0] = 42

	out := m.Context(alice)
	assert.Equal(t, []int{1, 2, 3}, out)

	out[1] = 42
	assert.Equal(t, []int{1, 2, 3}, m.Context(alice))
}

func TestManager_HasContextEmptySlice(t *testing.T) {
	m := session.NewManager()

	m.SetContext(alice, []int{})
	assert.False(t, m.HasContext(alice))
}

func TestManager_Snapshot(t *testing.T) {
	m := session.NewManager()

	snap := m.Snapshot(alice, "dolphin24b")
	assert.Equal(t, session.Session{Model: "dolphin24b"}, snap)

	m.SetModel(alice, "llama3")
	m.SetSystemPrompt(alice, "hi")
	m.SetContext(alice, []int{5, 6})

	snap = m.Snapshot(alice, "dolphin24b")
	assert.Equal(t, session.Session{
		Model:           "llama3",
		SystemPrompt:    "hi",
		HasSystemPrompt: true,
		Context:         []int{5, 6},
	}, snap)
}

func TestManager_CommitContext(t *testing.T) {
	tests := []struct {
		name   string
		change func(m *session.Manager)
		want   bool
	}{
		{
			name:   "unchanged session",
			change: func(*session.Manager) {},
			want:   true,
		},
		{
			name:   "model switched mid-turn",
			change: func(m *session.Manager) { m.SetModel(alice, "mistral") },
		},
		{
			name:   "prompt set mid-turn",
			change: func(m *session.Manager) { m.SetSystemPrompt(alice, "new") },
		},
		{
			name:   "context cleared mid-turn",
			change: func(m *session.Manager) { m.ClearContext(alice) },
			want:   true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			m := session.NewManager()
			m.SetContext(alice, []int{1})
			snap := m.Snapshot(alice, "dolphin24b")

			tt.change(m)
			ok := m.CommitContext(alice, snap, []int{2, 3})

			assert.Equal(t, tt.want, ok)
			if tt.want {
				assert.Equal(t, []int{2, 3}, m.Context(alice))
			} else {
				assert.NotEqual(t, []int{2, 3}, m.Context(alice))
			}
		})
	}
}

func TestManager_AcquireTurnSerializes(t *testing.T) {
	m := session.NewManager()

	release, err := m.AcquireTurn(context.Background(), alice)
	require.NoError(t, err)

	// A different user is not blocked
	other, err := m.AcquireTurn(context.Background(), "222")
	require.NoError(t, err)
	other()

	acquired := make(chan struct{})
	go func() {
		r, err := m.AcquireTurn(context.Background(), alice)
		if err == nil {
			close(acquired)
			r()
		}
	}()

	select {
	case <-acquired:
		t.Fatal("second turn acquired while first was running")
	case <-time.After(50 * time.Millisecond):
	}

	release()
	release() // idempotent

	select {
	case <-acquired:
	case <-time.After(time.Second):
		t.Fatal("second turn never acquired after release")
	}
}

func TestManager_AcquireTurnCanceled(t *testing.T) {
	m := session.NewManager()

	release, err := m.AcquireTurn(context.Background(), alice)
	require.NoError(t, err)
	defer release()

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	_, err = m.AcquireTurn(ctx, alice)
	require.Error(t, err)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestManager_Stats(t *testing.T) {
	m := session.NewManager()
	m.SetContext("a", []int{1})
	m.SetSystemPrompt("b", "p")
	m.Model("c", "x") // reads do not create sessions

	assert.Equal(t, map[string]int{
		"users":        2,
		"with_context": 1,
		"with_prompt":  1,
	}, m.Stats())
}

func TestManager_ConcurrentAccess(t *testing.T) {
	m := session.NewManager()

	var wg sync.WaitGroup
	for i := range 20 {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			user := session.UserID(fmt.Sprintf("user-%d", i%4))
			for j := range 100 {
				switch j % 5 {
				case 0:
					m.SetContext(user, []int{i, j})
				case 1:
					m.SetModel(user, "m")
				case 2:
					_ = m.Snapshot(user, "d")
				case 3:
					m.ClearContext(user)
				default:
					m.SetSystemPrompt(user, "p")
				}
			}
		}(i)
	}
	wg.Wait()

	assert.Equal(t, 4, m.Stats()["users"])
}
