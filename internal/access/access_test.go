package access

import "testing"

func TestAuthorizedEmptyListsAllowEveryone(t *testing.T) {
	a := New(nil, nil)
	for _, c := range [][2]string{{"U1", "C1"}, {"", ""}, {"anyone", "anywhere"}} {
		if !a.Authorized(c[0], c[1]) {
			t.Fatalf("Authorized(%q, %q) = false with empty lists", c[0], c[1])
		}
	}
	if a.Restricted() {
		t.Fatal("empty lists should not be restricted")
	}
}

func TestAuthorizedBlankEntriesMeanUnrestricted(t *testing.T) {
	// Splitting an empty env var yields [""], which must not lock everyone out.
	a := New([]string{""}, []string{" "})
	if !a.Authorized("U1", "C1") {
		t.Fatal("blank entries must not restrict access")
	}
}

func TestAuthorizedUserList(t *testing.T) {
	a := New([]string{"U1", " U2 "}, nil)
	if !a.Authorized("U2", "C9") {
		t.Fatal("U2 should be allowed")
	}
	if a.Authorized("U3", "C9") {
		t.Fatal("U3 should be denied")
	}
}

func TestAuthorizedChannelList(t *testing.T) {
	a := New(nil, []string{"C1"})
	if !a.Authorized("U9", "C1") {
		t.Fatal("C1 should be allowed")
	}
	if a.Authorized("U9", "C2") {
		t.Fatal("C2 should be denied")
	}
}

func TestAuthorizedBothListsMustMatch(t *testing.T) {
	a := New([]string{"U1"}, []string{"C1"})
	cases := []struct {
		user, channel string
		want          bool
	}{
		{"U1", "C1", true},
		{"U1", "C2", false},
		{"U2", "C1", false},
		{"U2", "C2", false},
	}
	for _, c := range cases {
		if got := a.Authorized(c.user, c.channel); got != c.want {
			t.Errorf("Authorized(%q, %q) = %v, want %v", c.user, c.channel, got, c.want)
		}
	}
}

func TestNilAuthorizerAllows(t *testing.T) {
	var a *Authorizer
	if !a.Authorized("U1", "C1") {
		t.Fatal("nil authorizer should allow")
	}
}
