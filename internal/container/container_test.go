package container

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRegistry(t *testing.T) {
	r := NewRegistry()

	a := NewPanel("a")
	b := NewPanel("b")
	r.Register(b)
	r.Register(a)

	got, ok := r.Get("a")
	require.True(t, ok)
	assert.Equal(t, a, got)

	_, ok = r.Get("missing")
	assert.False(t, ok)

	assert.Equal(t, []string{"a", "b"}, r.IDs())
	assert.Equal(t, 2, r.Len())

	r.Remove("a")
	_, ok = r.Get("a")
	assert.False(t, ok)
	assert.Equal(t, 1, r.Len())
}

func TestPanelDefaults(t *testing.T) {
	p := NewPanel("panel")

	assert.Equal(t, "panel", p.ID())
	assert.Equal(t, "dashboard-panel", p.Attributes()["class"])
	assert.Equal(t, 400, p.ViewportHeight())
	assert.Equal(t, 400, p.ScrollExtent())
	assert.True(t, p.Exists())
	assert.Zero(t, p.NodeCount())
}

func TestPanelOptions(t *testing.T) {
	p := NewPanel("panel",
		WithViewportHeight(300),
		WithClass("custom"),
		WithAttribute("data-role", "chart"),
	)

	assert.Equal(t, 300, p.ViewportHeight())
	assert.Equal(t, "custom", p.Attributes()["class"])
	assert.Equal(t, "chart", p.Attributes()["data-role"])
}

func TestSetContentDerivesExtent(t *testing.T) {
	p := NewPanel("panel", WithViewportHeight(100))

	// 10 items at 24px each outgrow the viewport.
	var markup string
	for i := 0; i < 10; i++ {
		markup += "<li>item</li>"
	}
	p.SetContent("<ul>" + markup + "</ul>")
	assert.Equal(t, 100, p.ScrollExtent()) // single top-level child

	p.SetContent(markup)
	assert.Equal(t, 240, p.ScrollExtent())

	// Short content clamps the extent back to the viewport and the offset
	// within bounds.
	p.SetScrollOffset(140)
	p.SetContent("<li>only</li>")
	assert.Equal(t, 100, p.ScrollExtent())
	assert.Equal(t, 0, p.ScrollOffset())
}

func TestPinScrollExtent(t *testing.T) {
	p := NewPanel("panel", WithViewportHeight(100))
	p.PinScrollExtent(50000)

	p.SetContent("<li>one</li>")
	assert.Equal(t, 50000, p.ScrollExtent())
}

func TestUserScrollTracked(t *testing.T) {
	p := NewPanel("panel")

	assert.True(t, p.LastUserScroll().IsZero())
	p.UserScroll(120)
	assert.Equal(t, 120, p.ScrollOffset())
	assert.False(t, p.LastUserScroll().IsZero())

	// Engine-driven repositioning does not refresh user activity.
	last := p.LastUserScroll()
	p.SetScrollOffset(0)
	assert.Equal(t, last, p.LastUserScroll())
}

func TestDetach(t *testing.T) {
	p := NewPanel("panel")
	p.Detach()
	assert.False(t, p.Exists())
}

func TestCountNodes(t *testing.T) {
	tests := []struct {
		name   string
		markup string
		want   int
	}{
		{"empty", "", 0},
		{"whitespace", "   \n\t", 0},
		{"single element", "<div></div>", 1},
		{"element with text", "<div>hello</div>", 2},
		{"nested", "<ul><li>a</li><li>b</li></ul>", 5},
		{"whitespace text ignored", "<div>  </div><span>x</span>", 3},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, CountNodes(tt.markup))
		})
	}
}

func TestCountDirectChildren(t *testing.T) {
	assert.Equal(t, 0, CountDirectChildren(""))
	assert.Equal(t, 1, CountDirectChildren("<ul><li>a</li><li>b</li></ul>"))
	assert.Equal(t, 3, CountDirectChildren("<li>a</li><li>b</li><li>c</li>"))
}

func TestScrollPreserverSaveRestore(t *testing.T) {
	s := NewScrollPreserver()
	p := NewPanel("panel", WithViewportHeight(100))
	p.PinScrollExtent(500)

	// Halfway down: max offset 400, position 200.
	p.SetScrollOffset(200)
	require.True(t, s.Save(p))

	// Content change doubles the extent; restore keeps the ratio.
	p.PinScrollExtent(900)
	require.True(t, s.Restore(p))
	assert.Equal(t, 400, p.ScrollOffset())

	// Restore is one-shot.
	assert.False(t, s.Restore(p))
}

func TestScrollPreserverUserActivityWins(t *testing.T) {
	s := NewScrollPreserver()
	p := NewPanel("panel", WithViewportHeight(100))
	p.PinScrollExtent(500)

	p.UserScroll(300)
	assert.True(t, s.UserActive(p))
	assert.False(t, s.Save(p))

	// A stale save must not fight the user either.
	p2 := NewPanel("panel2", WithViewportHeight(100))
	p2.PinScrollExtent(500)
	p2.SetScrollOffset(100)
	require.True(t, s.Save(p2))
	p2.UserScroll(400)
	assert.False(t, s.Restore(p2))
	assert.Equal(t, 400, p2.ScrollOffset())
}

func TestScrollPreserverClear(t *testing.T) {
	s := NewScrollPreserver()
	p := NewPanel("panel", WithViewportHeight(100))
	p.PinScrollExtent(500)
	p.SetScrollOffset(100)

	require.True(t, s.Save(p))
	s.Clear("panel")
	assert.False(t, s.Restore(p))
}
