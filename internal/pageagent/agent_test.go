package pageagent

import (
	"testing"
	"time"

	"nagbot/internal/protocol"
)

func testViewport() protocol.Viewport {
	return protocol.Viewport{Width: 1280, Height: 720}
}

func TestRenderArmsCooldown(t *testing.T) {
	t.Parallel()
	a := New(DefaultPolicy(), testViewport(), 1)
	now := time.Now()

	if _, ok := a.Render(now, "first"); !ok {
		t.Fatal("first render should pass")
	}
	if _, ok := a.Render(now.Add(time.Second), "second"); ok {
		t.Fatal("render within cooldown should be suppressed")
	}
	if _, ok := a.Render(now.Add(4*time.Second), "third"); !ok {
		t.Fatal("render after cooldown should pass")
	}
}

func TestRenderSuppressedWhileChatOpen(t *testing.T) {
	t.Parallel()
	a := New(DefaultPolicy(), testViewport(), 1)
	a.SetChatOpen(true)
	if _, ok := a.Render(time.Now(), "hi"); ok {
		t.Fatal("popup must not render over an open chat")
	}

	a.SetChatOpen(false)
	if _, ok := a.Render(time.Now(), "hi"); !ok {
		t.Fatal("popup should render after chat closes")
	}
}

func TestDisablePopupsIsPermanent(t *testing.T) {
	t.Parallel()
	a := New(DefaultPolicy(), testViewport(), 1)
	a.DisablePopups()

	if _, ok := a.Render(time.Now(), "hi"); ok {
		t.Fatal("opted-out tab must never render a popup")
	}
	if _, ok := a.Render(time.Now().Add(time.Hour), "hi"); ok {
		t.Fatal("opt-out must not expire")
	}
}

func TestRenderCarriesAutoDismiss(t *testing.T) {
	t.Parallel()
	pol := DefaultPolicy()
	pol.AutoDismiss = 2 * time.Minute
	a := New(pol, testViewport(), 1)

	frame, ok := a.Render(time.Now(), "hi")
	if !ok {
		t.Fatal("render should pass")
	}
	if frame.Message != "hi" {
		t.Fatalf("message = %q", frame.Message)
	}
	if frame.AutoDismissMS != (2 * time.Minute).Milliseconds() {
		t.Fatalf("autoDismissMs = %d, want %d", frame.AutoDismissMS, (2 * time.Minute).Milliseconds())
	}
}

func TestPlacementStaysOnScreen(t *testing.T) {
	t.Parallel()
	pol := DefaultPolicy()
	a := New(pol, testViewport(), 42)
	vp := testViewport()

	now := time.Now()
	for i := 0; i < 500; i++ {
		frame, ok := a.Render(now.Add(time.Duration(i)*10*time.Second), "hi")
		if !ok {
			t.Fatalf("render %d suppressed unexpectedly", i)
		}
		if frame.X < pol.Margin || frame.Y < pol.Margin {
			t.Fatalf("position (%d,%d) violates margin %d", frame.X, frame.Y, pol.Margin)
		}
		if frame.X+bubbleWidth > vp.Width || frame.Y+bubbleHeight > vp.Height {
			t.Fatalf("bubble at (%d,%d) clips off a %dx%d viewport", frame.X, frame.Y, vp.Width, vp.Height)
		}
	}
}

func TestPlacementTinyViewport(t *testing.T) {
	t.Parallel()
	// A viewport too small to honor the margins still yields a position
	// instead of panicking.
	a := New(DefaultPolicy(), protocol.Viewport{Width: 200, Height: 150}, 7)
	frame, ok := a.Render(time.Now(), "hi")
	if !ok {
		t.Fatal("render should pass")
	}
	if frame.X < 0 || frame.Y < 0 {
		t.Fatalf("negative position (%d,%d)", frame.X, frame.Y)
	}
}
