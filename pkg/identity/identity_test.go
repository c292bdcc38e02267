package identity

import "testing"

func TestStaticSignInOut(t *testing.T) {
	var p Provider = NewStatic("")
	if _, ok := p.CurrentUser(); ok {
		t.Fatal("Expected signed out")
	}

	s := p.(*Static)
	s.SignIn("u1")
	if id, ok := s.CurrentUser(); !ok || id != "u1" {
		t.Errorf("Expected u1 signed in, got %q %v", id, ok)
	}

	s.SignOut()
	if _, ok := s.CurrentUser(); ok {
		t.Error("Expected signed out after SignOut")
	}
}
